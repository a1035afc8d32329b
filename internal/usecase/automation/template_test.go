package automation

import (
	"testing"
	"time"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestSubstituteConfig_ResolvesGuestAndReservationPlaceholders(t *testing.T) {
	execCtx := domain.ExecutionContext{
		RuleID: "rule_1", RuleName: "Pre-arrival reminder",
		Guest:       &domain.Guest{FirstName: "Dana", LastName: "Lee"},
		Reservation: &domain.Reservation{RoomNumber: "412", ArrivalDate: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)},
	}
	data := buildTemplateData(nil, execCtx)
	config := map[string]any{
		"content": "Hi {{firstName}} {{lastName}}, your room {{roomNumber}} is ready on {{arrivalDate}}.",
		"count":   5,
	}
	resolved := substituteConfig(config, data)
	assert.Equal(t, "Hi Dana Lee, your room 412 is ready on 2026-08-01.", resolved["content"])
	assert.Equal(t, 5, resolved["count"])
}

func TestSubstituteConfig_MissingValueSubstitutesEmptyString(t *testing.T) {
	data := buildTemplateData(nil, domain.ExecutionContext{})
	resolved := substituteConfig(map[string]any{"content": "Hello {{firstName}}!"}, data)
	assert.Equal(t, "Hello !", resolved["content"])
}

func TestSubstituteConfig_ResolvesPriorActionOutput(t *testing.T) {
	results := map[string]domain.ActionResult{
		"a1": {ActionID: "a1", Status: domain.ActionResultSuccess, Output: map[string]any{"taskId": "task_42"}},
	}
	data := buildTemplateData(results, domain.ExecutionContext{})
	resolved := substituteConfig(map[string]any{"message": "created {{actions.a1.output.taskId}}"}, data)
	assert.Equal(t, "created task_42", resolved["message"])
}

func TestEvaluateExpression_StringEquality(t *testing.T) {
	results := map[string]domain.ActionResult{
		"a1": {ActionID: "a1", Status: domain.ActionResultFailed},
	}
	data := buildTemplateData(results, domain.ExecutionContext{})
	ok, evaluated := evaluateExpression(`actions.a1.status == "failed"`, data)
	assert.True(t, evaluated)
	assert.True(t, ok)

	ok2, _ := evaluateExpression(`actions.a1.status != "failed"`, data)
	assert.False(t, ok2)
}

func TestEvaluateExpression_IsNullAndBooleanOperators(t *testing.T) {
	data := buildTemplateData(nil, domain.ExecutionContext{Guest: &domain.Guest{FirstName: "Dana"}})

	ok, evaluated := evaluateExpression(`isNull(lastName) && !isNull(firstName)`, data)
	assert.True(t, evaluated)
	assert.True(t, ok)

	ok2, evaluated2 := evaluateExpression(`firstName == "Dana" || firstName == "Sam"`, data)
	assert.True(t, evaluated2)
	assert.True(t, ok2)
}

func TestEvaluateExpression_OutsideGrammarDefaultsTrueUnevaluated(t *testing.T) {
	data := buildTemplateData(nil, domain.ExecutionContext{})
	ok, evaluated := evaluateExpression(`firstName ~= "weird"`, data)
	assert.True(t, ok)
	assert.False(t, evaluated)
}
