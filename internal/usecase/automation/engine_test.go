package automation

import (
	"context"
	"testing"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	webhookErr error
	calls      []string
}

func (f *fakeDispatcher) SendMessage(ctx context.Context, config map[string]any, execCtx domain.ExecutionContext) (map[string]any, error) {
	f.calls = append(f.calls, "send_message")
	return map[string]any{"content": config["content"]}, nil
}
func (f *fakeDispatcher) CreateTask(ctx context.Context, config map[string]any, execCtx domain.ExecutionContext) (map[string]any, error) {
	f.calls = append(f.calls, "create_task")
	return map[string]any{"taskId": "task_1"}, nil
}
func (f *fakeDispatcher) NotifyStaff(ctx context.Context, config map[string]any, execCtx domain.ExecutionContext) (map[string]any, error) {
	f.calls = append(f.calls, "notify_staff")
	return map[string]any{}, nil
}
func (f *fakeDispatcher) Webhook(ctx context.Context, config map[string]any, execCtx domain.ExecutionContext) (map[string]any, error) {
	f.calls = append(f.calls, "webhook")
	if f.webhookErr != nil {
		return nil, f.webhookErr
	}
	return map[string]any{"statusCode": 200}, nil
}

func TestExecute_RunsInOrderAndSubstitutesPlaceholders(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	engine := NewEngine(dispatcher, nil)

	actions := []domain.Action{
		{ID: "a2", Type: domain.ActionCreateTask, Order: 2, Config: map[string]any{"title": "follow up with {{firstName}}"}},
		{ID: "a1", Type: domain.ActionSendMessage, Order: 1, Config: map[string]any{"content": "Welcome {{firstName}}!"}},
	}
	execCtx := domain.ExecutionContext{RuleID: "rule_1", RuleName: "Welcome", Guest: &domain.Guest{FirstName: "Dana"}}

	result := engine.Execute(context.Background(), actions, execCtx)

	require.Len(t, result.Results, 2)
	assert.Equal(t, domain.ExecutionCompleted, result.Overall)
	assert.Equal(t, []string{"send_message", "create_task"}, dispatcher.calls)
	assert.Equal(t, "Welcome Dana!", result.Results[0].Output["content"])
}

func TestExecute_StopsChainOnFailureWithoutContinueOnError(t *testing.T) {
	dispatcher := &fakeDispatcher{webhookErr: assertError("boom")}
	engine := NewEngine(dispatcher, nil)

	actions := []domain.Action{
		{ID: "a1", Type: domain.ActionWebhook, Order: 1, Config: map[string]any{}},
		{ID: "a2", Type: domain.ActionNotifyStaff, Order: 2, Config: map[string]any{"message": "hi"}},
	}
	result := engine.Execute(context.Background(), actions, domain.ExecutionContext{})

	require.Len(t, result.Results, 1)
	assert.Equal(t, domain.ActionResultFailed, result.Results[0].Status)
	assert.Equal(t, domain.ExecutionFailed, result.Overall)
	assert.Equal(t, []string{"webhook"}, dispatcher.calls)
}

func TestExecute_ContinuesPastFailureWhenFlagSet(t *testing.T) {
	dispatcher := &fakeDispatcher{webhookErr: assertError("boom")}
	engine := NewEngine(dispatcher, nil)

	actions := []domain.Action{
		{ID: "a1", Type: domain.ActionWebhook, Order: 1, Config: map[string]any{}, ContinueOnError: true},
		{ID: "a2", Type: domain.ActionNotifyStaff, Order: 2, Config: map[string]any{"message": "hi"}},
	}
	result := engine.Execute(context.Background(), actions, domain.ExecutionContext{})

	require.Len(t, result.Results, 2)
	assert.Equal(t, domain.ExecutionPartial, result.Overall)
}

type assertError string

func (e assertError) Error() string { return string(e) }

func TestExecute_PreviousFailedConditionSkipsOnSuccess(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	engine := NewEngine(dispatcher, nil)

	actions := []domain.Action{
		{ID: "a1", Type: domain.ActionSendMessage, Order: 1, Config: map[string]any{"content": "hi"}},
		{ID: "a2", Type: domain.ActionCreateTask, Order: 2, Condition: domain.ConditionPreviousFailed},
	}
	result := engine.Execute(context.Background(), actions, domain.ExecutionContext{})

	require.Len(t, result.Results, 2)
	assert.Equal(t, domain.ActionResultSkipped, result.Results[1].Status)
}

func TestExecute_ExpressionConditionReadsPriorActionOutput(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	engine := NewEngine(dispatcher, nil)

	actions := []domain.Action{
		{ID: "task1", Type: domain.ActionCreateTask, Order: 1},
		{
			ID: "a2", Type: domain.ActionNotifyStaff, Order: 2,
			Condition:  domain.ConditionExpression,
			Expression: `actions.task1.status == "success"`,
			Config:     map[string]any{"message": "task created"},
		},
	}
	result := engine.Execute(context.Background(), actions, domain.ExecutionContext{})

	require.Len(t, result.Results, 2)
	assert.Equal(t, domain.ActionResultSuccess, result.Results[1].Status)
}

func TestExecute_UnevaluableExpressionDefaultsToTrue(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	engine := NewEngine(dispatcher, nil)

	actions := []domain.Action{
		{ID: "a1", Type: domain.ActionNotifyStaff, Order: 1, Condition: domain.ConditionExpression,
			Expression: "nonexistent.deeply.nested ~= weird", Config: map[string]any{"message": "hi"}},
	}
	result := engine.Execute(context.Background(), actions, domain.ExecutionContext{})
	require.Len(t, result.Results, 1)
	assert.Equal(t, domain.ActionResultSuccess, result.Results[0].Status)
}
