package domain

import (
	"context"
	"encoding/json"
	"time"
)

// TriggerType distinguishes time-based from event-based rule triggers.
type TriggerType string

const (
	TriggerBeforeArrival   TriggerType = "before_arrival"
	TriggerAfterArrival    TriggerType = "after_arrival"
	TriggerBeforeDeparture TriggerType = "before_departure"
	TriggerAfterDeparture  TriggerType = "after_departure"
	TriggerScheduled       TriggerType = "scheduled"
	TriggerEvent           TriggerType = "event"
)

// Trigger describes what fires a rule. For time-based triggers, OffsetDays
// and Time apply; for TriggerScheduled, Cron holds a standard cron
// expression; for TriggerEvent, EventType names the domain event.
type Trigger struct {
	Type       TriggerType `json:"type"`
	OffsetDays int         `json:"offsetDays,omitempty"`
	Time       string      `json:"time,omitempty"` // "HH:MM", local to the hotel
	Cron       string      `json:"cron,omitempty"`
	EventType  EventType   `json:"eventType,omitempty"`
}

// ActionType is one of the four action kinds the chain executor dispatches.
type ActionType string

const (
	ActionSendMessage  ActionType = "send_message"
	ActionCreateTask   ActionType = "create_task"
	ActionNotifyStaff  ActionType = "notify_staff"
	ActionWebhook      ActionType = "webhook"
)

// ActionCondition gates whether an action runs.
type ActionCondition string

const (
	ConditionAlways           ActionCondition = "always"
	ConditionPreviousSuccess  ActionCondition = "previous_success"
	ConditionPreviousFailed   ActionCondition = "previous_failed"
	ConditionExpression       ActionCondition = "expression"
)

// Action is one step of a rule's ordered chain.
type Action struct {
	ID              string          `json:"id"`
	Type            ActionType      `json:"type"`
	Config          map[string]any  `json:"config"`
	Order           int             `json:"order"`
	ContinueOnError bool            `json:"continueOnError"`
	Condition       ActionCondition `json:"condition,omitempty"`
	Expression      string          `json:"expression,omitempty"` // used when Condition == ConditionExpression
}

// BackoffType selects the retry delay growth function.
type BackoffType string

const (
	BackoffExponential BackoffType = "exponential"
	BackoffFixed       BackoffType = "fixed"
)

// RetryPolicy configures the retry handler for a rule.
type RetryPolicy struct {
	Enabled        bool        `json:"enabled"`
	InitialDelayMs int         `json:"initialDelayMs"`
	MaxDelayMs     int         `json:"maxDelayMs"`
	MaxAttempts    int         `json:"maxAttempts"`
	Backoff        BackoffType `json:"backoff"`
}

// MaxConsecutiveFailures is the ceiling at which a rule is auto-disabled
// (SPEC_FULL.md Open Question resolution).
const MaxConsecutiveFailures = 5

// AutomationRule is a stored automation: trigger + action chain + retry
// policy. Invariant: once ConsecutiveFailures reaches
// MaxConsecutiveFailures, Enabled is cleared and the rule is flagged.
type AutomationRule struct {
	ID                  string      `json:"id"`
	Name                string      `json:"name"`
	Description         string      `json:"description,omitempty"`
	Trigger             Trigger     `json:"trigger"`
	Actions             []Action    `json:"actions"`
	Enabled             bool        `json:"enabled"`
	RunCount            int         `json:"runCount"`
	ConsecutiveFailures int         `json:"consecutiveFailures"`
	LastRunAt           *time.Time  `json:"lastRunAt,omitempty"`
	LastError           string      `json:"lastError,omitempty"`
	Retry               RetryPolicy `json:"retry,omitempty"`
	CreatedAt           time.Time   `json:"createdAt"`
	UpdatedAt           time.Time   `json:"updatedAt"`
}

// ExecutionStatus is the lifecycle state of one rule firing attempt.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionPartial   ExecutionStatus = "partial"
)

// ActionResultStatus is the per-action outcome recorded in a chain result.
type ActionResultStatus string

const (
	ActionResultSuccess ActionResultStatus = "success"
	ActionResultFailed  ActionResultStatus = "failed"
	ActionResultSkipped ActionResultStatus = "skipped"
)

// ActionResult records the outcome of dispatching a single action.
type ActionResult struct {
	ActionID    string              `json:"actionId"`
	Status      ActionResultStatus  `json:"status"`
	Output      map[string]any      `json:"output,omitempty"`
	Error       string              `json:"error,omitempty"`
	ExecutedAt  time.Time           `json:"executedAt"`
	DurationMs  int64               `json:"durationMs"`
}

// ExecutionContext is what the chain executor and the triggering scheduler
// pass down into action dispatch and template substitution.
type ExecutionContext struct {
	RuleID      string
	RuleName    string
	Guest       *Guest
	Reservation *Reservation
	Event       *Event
}

// ChainExecutionResult is the aggregate outcome of running a rule's action
// chain once. Overall is "completed" with no failures, "failed" with no
// successes, "partial" otherwise.
type ChainExecutionResult struct {
	Results  []ActionResult     `json:"results"`
	Overall  ExecutionStatus    `json:"overall"`
}

// AutomationExecution is one attempt or retry-attempt of a rule. Invariant:
// exactly one terminal state is set; NextRetryAt is non-nil only while
// Status == ExecutionPending.
type AutomationExecution struct {
	ID            string          `json:"id"`
	RuleID        string          `json:"ruleId"`
	TriggerData   json.RawMessage `json:"triggerData"`
	Status        ExecutionStatus `json:"status"`
	AttemptNumber int             `json:"attemptNumber"`
	NextRetryAt   *time.Time      `json:"nextRetryAt,omitempty"`
	ActionResults []ActionResult  `json:"actionResults,omitempty"`
	DurationMs    int64           `json:"durationMs,omitempty"`
	Error         string          `json:"error,omitempty"`
	TriggeredAt   time.Time       `json:"triggeredAt"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
}

// RuleStore persists automation rules.
type RuleStore interface {
	Get(ctx context.Context, id string) (*AutomationRule, error)
	Create(ctx context.Context, r *AutomationRule) error
	Update(ctx context.Context, r *AutomationRule) error
	List(ctx context.Context) ([]AutomationRule, error)
	ListEnabled(ctx context.Context) ([]AutomationRule, error)
	ListEnabledByEventType(ctx context.Context, t EventType) ([]AutomationRule, error)
}

// ExecutionStore persists automation executions.
type ExecutionStore interface {
	Get(ctx context.Context, id string) (*AutomationExecution, error)
	Create(ctx context.Context, e *AutomationExecution) error
	Update(ctx context.Context, e *AutomationExecution) error
	// DueForRetry returns up to limit pending executions whose NextRetryAt
	// has passed, and atomically transitions them to ExecutionRunning so no
	// execution is picked up twice.
	DueForRetry(ctx context.Context, now time.Time, limit int) ([]AutomationExecution, error)
}
