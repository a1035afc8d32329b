// Package automation implements the Butler's automation engine (spec
// §4.3): a rule's ordered action chain, condition evaluation, template
// substitution, and per-type action dispatch. It follows the shape of
// internal/usecase/workflow/manager.go's step executor — resolve
// templates, dispatch, record a typed result, decide whether to continue —
// generalized from workflow steps to automation actions and from
// text/template step conditions to the spec's restricted always /
// previous_success / previous_failed / expression condition set.
package automation

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

// Dispatcher executes one resolved action. Implementations translate
// config into a side effect (send a message, create a task, notify staff,
// call a webhook) and report a JSON-shaped output for downstream templates.
// Kept separate from the engine so this package never imports the channel,
// gateway, or pipeline packages directly — the same import-cycle avoidance
// the teacher uses for CommandExecutor in internal/usecase/workflow/manager.go.
type Dispatcher interface {
	SendMessage(ctx context.Context, config map[string]any, execCtx domain.ExecutionContext) (map[string]any, error)
	CreateTask(ctx context.Context, config map[string]any, execCtx domain.ExecutionContext) (map[string]any, error)
	NotifyStaff(ctx context.Context, config map[string]any, execCtx domain.ExecutionContext) (map[string]any, error)
	Webhook(ctx context.Context, config map[string]any, execCtx domain.ExecutionContext) (map[string]any, error)
}

// Engine runs one rule's action chain to completion.
type Engine struct {
	Dispatcher Dispatcher
	Logger     *slog.Logger
}

// NewEngine constructs an Engine.
func NewEngine(dispatcher Dispatcher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Dispatcher: dispatcher, Logger: logger}
}

// Execute runs actions in order, substituting templates and evaluating
// conditions against the in-progress result set, and stops early on a
// failed action whose ContinueOnError is false (spec §4.3 action chain
// executor, steps 1-6).
func (e *Engine) Execute(ctx context.Context, actions []domain.Action, execCtx domain.ExecutionContext) domain.ChainExecutionResult {
	sorted := make([]domain.Action, len(actions))
	copy(sorted, actions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	results := make(map[string]domain.ActionResult, len(sorted))
	var ordered []domain.ActionResult
	var lastCompleted *domain.ActionResult

	for _, action := range sorted {
		if !e.conditionHolds(action, results, lastCompleted, execCtx) {
			r := domain.ActionResult{ActionID: action.ID, Status: domain.ActionResultSkipped, ExecutedAt: time.Now().UTC()}
			results[action.ID] = r
			ordered = append(ordered, r)
			continue
		}

		start := time.Now()
		data := buildTemplateData(results, execCtx)
		config := substituteConfig(action.Config, data)

		output, err := e.dispatch(ctx, action.Type, config, execCtx)
		r := domain.ActionResult{
			ActionID:   action.ID,
			Output:     output,
			ExecutedAt: start.UTC(),
			DurationMs: time.Since(start).Milliseconds(),
		}
		if err != nil {
			r.Status = domain.ActionResultFailed
			r.Error = err.Error()
			e.Logger.Warn("automation: action failed", "actionId", action.ID, "type", action.Type, "error", err)
		} else {
			r.Status = domain.ActionResultSuccess
		}
		results[action.ID] = r
		ordered = append(ordered, r)
		lastCompleted = &r

		if r.Status == domain.ActionResultFailed && !action.ContinueOnError {
			break
		}
	}

	return domain.ChainExecutionResult{Results: ordered, Overall: overallStatus(ordered)}
}

func (e *Engine) conditionHolds(action domain.Action, results map[string]domain.ActionResult, lastCompleted *domain.ActionResult, execCtx domain.ExecutionContext) bool {
	switch action.Condition {
	case "", domain.ConditionAlways:
		return true
	case domain.ConditionPreviousSuccess:
		return lastCompleted != nil && lastCompleted.Status == domain.ActionResultSuccess
	case domain.ConditionPreviousFailed:
		return lastCompleted != nil && lastCompleted.Status == domain.ActionResultFailed
	case domain.ConditionExpression:
		data := buildTemplateData(results, execCtx)
		ok, evaluated := evaluateExpression(action.Expression, data)
		if !evaluated {
			e.Logger.Warn("automation: unevaluable expression, defaulting to true",
				"actionId", action.ID, "expression", action.Expression)
		}
		return ok
	default:
		return true
	}
}

func (e *Engine) dispatch(ctx context.Context, actionType domain.ActionType, config map[string]any, execCtx domain.ExecutionContext) (map[string]any, error) {
	if e.Dispatcher == nil {
		return nil, domain.NewError("automation.Engine.dispatch", domain.KindFatal, "no dispatcher configured")
	}
	switch actionType {
	case domain.ActionSendMessage:
		return e.Dispatcher.SendMessage(ctx, config, execCtx)
	case domain.ActionCreateTask:
		return e.Dispatcher.CreateTask(ctx, config, execCtx)
	case domain.ActionNotifyStaff:
		return e.Dispatcher.NotifyStaff(ctx, config, execCtx)
	case domain.ActionWebhook:
		return e.Dispatcher.Webhook(ctx, config, execCtx)
	default:
		return nil, domain.NewError("automation.Engine.dispatch", domain.KindValidation, "unknown action type "+string(actionType))
	}
}

func overallStatus(results []domain.ActionResult) domain.ExecutionStatus {
	var successes, failures int
	for _, r := range results {
		switch r.Status {
		case domain.ActionResultSuccess:
			successes++
		case domain.ActionResultFailed:
			failures++
		}
	}
	switch {
	case failures == 0:
		return domain.ExecutionCompleted
	case successes == 0:
		return domain.ExecutionFailed
	default:
		return domain.ExecutionPartial
	}
}
