package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
	"github.com/robfig/cron/v3"
)

// SchedulerConfig holds the two tick cadences and retry batch size spec
// §4.3's "Automation scheduler" calls out by default value.
type SchedulerConfig struct {
	TriggerInterval time.Duration // default 60s
	RetryInterval   time.Duration // default 10s
	RetryBatchSize  int           // default 10
}

// DefaultSchedulerConfig returns the spec's literal defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		TriggerInterval: 60 * time.Second,
		RetryInterval:   10 * time.Second,
		RetryBatchSize:  10,
	}
}

// triggerData is the canonical shape persisted on AutomationExecution.TriggerData
// and read back by the retry scheduler to rebuild an ExecutionContext (spec
// §4.3's retry scheduler step "rebuilds the execution context from the
// stored triggerData").
type triggerData struct {
	GuestID       string          `json:"guestId,omitempty"`
	ReservationID string          `json:"reservationId,omitempty"`
	EventType     domain.EventType `json:"eventType,omitempty"`
	EventPayload  json.RawMessage  `json:"eventPayload,omitempty"`
	// legacy single-action form, accepted and converted to a one-element
	// chain when a rule's own Actions are empty (spec §4.3 retry scheduler).
	ActionType   domain.ActionType `json:"actionType,omitempty"`
	ActionConfig map[string]any    `json:"actionConfig,omitempty"`
}

// Scheduler runs the two periodic loops spec §4.3 describes: a fixed-cadence
// tick evaluating time-based triggers against reservation dates, and a
// retry-queue tick claiming and re-running failed executions. It also
// fans event-based triggers out from the event bus. Grounded on
// internal/usecase/scheduling/scheduling.go's Start/Stop/context lifecycle,
// generalized from cron.Cron-scheduled tasks to two plain tickers since spec
// calls for fixed cadences rather than arbitrary cron expressions for the
// loops themselves (robfig/cron is still used to evaluate a rule's own
// TriggerScheduled.Cron expression against its LastRunAt).
type Scheduler struct {
	Rules        domain.RuleStore
	Executions   domain.ExecutionStore
	Reservations domain.ReservationStore
	Guests       domain.GuestStore
	Engine       *Engine
	Events       domain.EventBus
	Config       SchedulerConfig
	Logger       *slog.Logger

	mu      sync.Mutex
	fired   map[string]struct{}
	cancel  context.CancelFunc
	unsub   func()
	wg      sync.WaitGroup
}

// NewScheduler constructs a Scheduler with defaulted config.
func NewScheduler(rules domain.RuleStore, executions domain.ExecutionStore, reservations domain.ReservationStore,
	guests domain.GuestStore, engine *Engine, events domain.EventBus, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		Rules: rules, Executions: executions, Reservations: reservations, Guests: guests,
		Engine: engine, Events: events, Config: DefaultSchedulerConfig(), Logger: logger,
		fired: make(map[string]struct{}),
	}
}

// Start launches the trigger and retry loops and subscribes to the event
// bus for event-based rules. Safe to call once; call Stop before Start-ing
// again.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	if s.Events != nil {
		s.unsub = s.Events.SubscribeAll(s.handleEvent)
	}
	s.wg.Add(2)
	go s.loop(ctx, s.intervalOrDefault(s.Config.TriggerInterval, 60*time.Second), s.evaluateTimeTriggers)
	go s.loop(ctx, s.intervalOrDefault(s.Config.RetryInterval, 10*time.Second), s.processRetries)
}

// Stop cancels both loops and unsubscribes from the event bus, waiting for
// any in-flight tick to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.unsub != nil {
		s.unsub()
	}
	s.wg.Wait()
}

func (s *Scheduler) intervalOrDefault(configured, fallback time.Duration) time.Duration {
	if configured > 0 {
		return configured
	}
	return fallback
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// handleEvent fans an incoming domain event out to every enabled rule whose
// trigger matches its type (spec §4.3 "Event-based triggers are fanned out
// from the event bus").
func (s *Scheduler) handleEvent(ctx context.Context, event domain.Event) {
	rules, err := s.Rules.ListEnabledByEventType(ctx, event.Type)
	if err != nil {
		s.Logger.Warn("automation: list rules for event failed", "eventType", event.Type, "error", err)
		return
	}
	for _, rule := range rules {
		td := triggerData{EventType: event.Type, EventPayload: event.Payload}
		execCtx := domain.ExecutionContext{RuleID: rule.ID, RuleName: rule.Name, Event: &event}
		s.run(ctx, rule, td, execCtx)
	}
}

// evaluateTimeTriggers is the fixed-cadence tick: for every enabled
// time-based rule, check whether today matches its offset against any
// reservation's arrival/departure date, or whether its cron expression is
// due since LastRunAt (spec §4.3 "Trigger evaluation").
func (s *Scheduler) evaluateTimeTriggers(ctx context.Context) {
	rules, err := s.Rules.ListEnabled(ctx)
	if err != nil {
		s.Logger.Warn("automation: list enabled rules failed", "error", err)
		return
	}
	now := time.Now().UTC()

	for _, rule := range rules {
		switch rule.Trigger.Type {
		case domain.TriggerScheduled:
			s.evaluateScheduledRule(ctx, rule, now)
		case domain.TriggerBeforeArrival, domain.TriggerAfterArrival, domain.TriggerBeforeDeparture, domain.TriggerAfterDeparture:
			s.evaluateReservationRule(ctx, rule, now)
		}
	}
}

func (s *Scheduler) evaluateScheduledRule(ctx context.Context, rule domain.AutomationRule, now time.Time) {
	if rule.Trigger.Cron == "" {
		return
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(rule.Trigger.Cron)
	if err != nil {
		s.Logger.Warn("automation: invalid cron expression", "ruleId", rule.ID, "cron", rule.Trigger.Cron, "error", err)
		return
	}
	from := rule.CreatedAt
	if rule.LastRunAt != nil {
		from = *rule.LastRunAt
	}
	if schedule.Next(from).After(now) {
		return
	}
	td := triggerData{}
	execCtx := domain.ExecutionContext{RuleID: rule.ID, RuleName: rule.Name}
	s.run(ctx, rule, td, execCtx)
}

// evaluateReservationRule pages through reservations checking each against
// the rule's offset. Reservations are deduplicated per rule in an
// in-process set so the same reservation doesn't refire every tick within
// the same process lifetime; a restart may refire a same-day trigger once,
// an accepted tradeoff given spec §4.3 does not mandate persisted dedup
// state.
func (s *Scheduler) evaluateReservationRule(ctx context.Context, rule domain.AutomationRule, now time.Time) {
	const pageSize = 200
	for offset := 0; ; offset += pageSize {
		reservations, err := s.Reservations.List(ctx, pageSize, offset)
		if err != nil {
			s.Logger.Warn("automation: list reservations failed", "error", err)
			return
		}
		for _, reservation := range reservations {
			if !s.reservationMatchesTrigger(rule.Trigger, reservation, now) {
				continue
			}
			key := rule.ID + "|" + reservation.ID + "|" + now.Format("2006-01-02")
			s.mu.Lock()
			_, already := s.fired[key]
			if !already {
				s.fired[key] = struct{}{}
			}
			s.mu.Unlock()
			if already {
				continue
			}

			var guest *domain.Guest
			if s.Guests != nil {
				if g, err := s.Guests.Get(ctx, reservation.GuestID); err == nil {
					guest = g
				}
			}
			res := reservation
			td := triggerData{GuestID: reservation.GuestID, ReservationID: reservation.ID}
			execCtx := domain.ExecutionContext{RuleID: rule.ID, RuleName: rule.Name, Guest: guest, Reservation: &res}
			s.run(ctx, rule, td, execCtx)
		}
		if len(reservations) < pageSize {
			return
		}
	}
}

func (s *Scheduler) reservationMatchesTrigger(trigger domain.Trigger, reservation domain.Reservation, now time.Time) bool {
	var target time.Time
	switch trigger.Type {
	case domain.TriggerBeforeArrival:
		target = reservation.ArrivalDate.AddDate(0, 0, -trigger.OffsetDays)
	case domain.TriggerAfterArrival:
		target = reservation.ArrivalDate.AddDate(0, 0, trigger.OffsetDays)
	case domain.TriggerBeforeDeparture:
		target = reservation.DepartureDate.AddDate(0, 0, -trigger.OffsetDays)
	case domain.TriggerAfterDeparture:
		target = reservation.DepartureDate.AddDate(0, 0, trigger.OffsetDays)
	default:
		return false
	}
	return sameDate(target, now)
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// run executes the chain for one firing and records the outcome.
func (s *Scheduler) run(ctx context.Context, rule domain.AutomationRule, td triggerData, execCtx domain.ExecutionContext) {
	result := s.Engine.Execute(ctx, rule.Actions, execCtx)
	s.recordOutcome(ctx, rule, result, td, 1)
}

func (s *Scheduler) recordOutcome(ctx context.Context, rule domain.AutomationRule, result domain.ChainExecutionResult, td triggerData, attempt int) {
	now := time.Now().UTC()
	raw, _ := json.Marshal(td)

	var totalMs int64
	for _, r := range result.Results {
		totalMs += r.DurationMs
	}

	execution := &domain.AutomationExecution{
		ID:            domain.NewID(domain.PrefixExecution),
		RuleID:        rule.ID,
		TriggerData:   raw,
		Status:        result.Overall,
		AttemptNumber: attempt,
		ActionResults: result.Results,
		DurationMs:    totalMs,
		TriggeredAt:   now,
	}

	rule.RunCount++
	rule.LastRunAt = &now

	if result.Overall == domain.ExecutionFailed && ShouldRetry(rule.Retry, attempt) {
		next := now.Add(NextDelay(rule.Retry, attempt))
		execution.Status = domain.ExecutionPending
		execution.NextRetryAt = &next
	} else {
		execution.CompletedAt = &now
		if result.Overall == domain.ExecutionFailed {
			rule.ConsecutiveFailures++
			if err := firstError(result.Results); err != "" {
				rule.LastError = err
				execution.Error = err
			}
			if rule.ConsecutiveFailures >= domain.MaxConsecutiveFailures {
				rule.Enabled = false
				s.notifyDisabled(ctx, rule)
			}
		} else {
			rule.ConsecutiveFailures = 0
		}
	}

	if err := s.Executions.Create(ctx, execution); err != nil {
		s.Logger.Error("automation: persist execution failed", "ruleId", rule.ID, "error", err)
	}
	if err := s.Rules.Update(ctx, &rule); err != nil {
		s.Logger.Error("automation: update rule stats failed", "ruleId", rule.ID, "error", err)
	}
}

// notifyDisabled emits a staff.notification event when a rule crosses the
// consecutive-failure ceiling and gets auto-disabled, per spec §4.3.
func (s *Scheduler) notifyDisabled(ctx context.Context, rule domain.AutomationRule) {
	if s.Events == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"ruleId":             rule.ID,
		"ruleName":           rule.Name,
		"message":            fmt.Sprintf("automation rule %q disabled after %d consecutive failures", rule.Name, rule.ConsecutiveFailures),
		"consecutiveFailures": rule.ConsecutiveFailures,
	})
	if err != nil {
		s.Logger.Warn("automation: disable notification payload marshal failed", "ruleId", rule.ID, "error", err)
		return
	}
	s.Events.Publish(ctx, domain.Event{Type: domain.EventStaffNotification, Timestamp: time.Now().UTC(), Payload: payload})
}

func firstError(results []domain.ActionResult) string {
	for _, r := range results {
		if r.Status == domain.ActionResultFailed {
			return r.Error
		}
	}
	return ""
}

// processRetries is the retry-queue tick: claim due executions, rebuild
// their context from the stored triggerData, rehydrate the action chain
// (accepting the legacy single-action form), re-run, and write the outcome.
func (s *Scheduler) processRetries(ctx context.Context) {
	batchSize := s.Config.RetryBatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	due, err := s.Executions.DueForRetry(ctx, time.Now().UTC(), batchSize)
	if err != nil {
		s.Logger.Warn("automation: claim due retries failed", "error", err)
		return
	}

	for _, exec := range due {
		rule, err := s.Rules.Get(ctx, exec.RuleID)
		if err != nil {
			s.Logger.Warn("automation: rule for retry not found", "ruleId", exec.RuleID, "error", err)
			continue
		}

		var td triggerData
		_ = json.Unmarshal(exec.TriggerData, &td)

		execCtx := domain.ExecutionContext{RuleID: rule.ID, RuleName: rule.Name}
		if td.GuestID != "" && s.Guests != nil {
			if g, err := s.Guests.Get(ctx, td.GuestID); err == nil {
				execCtx.Guest = g
			}
		}
		if td.ReservationID != "" && s.Reservations != nil {
			if r, err := s.Reservations.Get(ctx, td.ReservationID); err == nil {
				execCtx.Reservation = r
			}
		}
		if td.EventType != "" {
			execCtx.Event = &domain.Event{Type: td.EventType, Payload: td.EventPayload}
		}

		actions := rule.Actions
		if len(actions) == 0 && td.ActionType != "" {
			actions = []domain.Action{{ID: "legacy", Type: td.ActionType, Config: td.ActionConfig, Order: 0}}
		}

		result := s.Engine.Execute(ctx, actions, execCtx)
		s.recordRetryOutcome(ctx, rule, &exec, result, td)
	}
}

func (s *Scheduler) recordRetryOutcome(ctx context.Context, rule *domain.AutomationRule, exec *domain.AutomationExecution, result domain.ChainExecutionResult, td triggerData) {
	now := time.Now().UTC()
	exec.ActionResults = result.Results
	exec.Status = result.Overall

	var totalMs int64
	for _, r := range result.Results {
		totalMs += r.DurationMs
	}
	exec.DurationMs = totalMs

	rule.RunCount++
	rule.LastRunAt = &now

	if result.Overall == domain.ExecutionFailed && ShouldRetry(rule.Retry, exec.AttemptNumber+1) {
		exec.AttemptNumber++
		next := now.Add(NextDelay(rule.Retry, exec.AttemptNumber))
		exec.Status = domain.ExecutionPending
		exec.NextRetryAt = &next
	} else {
		exec.CompletedAt = &now
		exec.NextRetryAt = nil
		if result.Overall == domain.ExecutionFailed {
			rule.ConsecutiveFailures++
			exec.Error = firstError(result.Results)
			rule.LastError = exec.Error
			if rule.ConsecutiveFailures >= domain.MaxConsecutiveFailures {
				rule.Enabled = false
				s.notifyDisabled(ctx, *rule)
			}
		} else {
			rule.ConsecutiveFailures = 0
		}
	}

	if err := s.Executions.Update(ctx, exec); err != nil {
		s.Logger.Error("automation: update retried execution failed", "executionId", exec.ID, "error", err)
	}
	if err := s.Rules.Update(ctx, rule); err != nil {
		s.Logger.Error("automation: update rule stats failed", "ruleId", rule.ID, "error", err)
	}
}
