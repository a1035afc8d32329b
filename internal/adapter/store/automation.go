package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

// RuleStore implements domain.RuleStore.
type RuleStore struct{ db *DB }

func NewRuleStore(db *DB) *RuleStore { return &RuleStore{db: db} }

const ruleColumns = `id, name, description, trigger, actions, enabled, run_count,
	consecutive_failures, last_run_at, last_error, retry, created_at, updated_at`

func scanRule(row interface{ Scan(...any) error }) (*domain.AutomationRule, error) {
	var r domain.AutomationRule
	var enabled int
	var triggerJSON, actionsJSON, retryJSON, createdAt, updatedAt string
	var lastRunAt sql.NullString
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &triggerJSON, &actionsJSON, &enabled,
		&r.RunCount, &r.ConsecutiveFailures, &lastRunAt, &r.LastError, &retryJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	r.Enabled = enabled != 0
	_ = json.Unmarshal([]byte(triggerJSON), &r.Trigger)
	_ = json.Unmarshal([]byte(actionsJSON), &r.Actions)
	_ = json.Unmarshal([]byte(retryJSON), &r.Retry)
	if lastRunAt.Valid {
		v, _ := time.Parse(time.RFC3339Nano, lastRunAt.String)
		r.LastRunAt = &v
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &r, nil
}

func (s *RuleStore) Get(ctx context.Context, id string) (*domain.AutomationRule, error) {
	row := s.db.conn.QueryRowContext(ctx, "SELECT "+ruleColumns+" FROM automation_rules WHERE id = ?", id)
	r, err := scanRule(row)
	if err != nil {
		return nil, noRowsToNotFound("RuleStore.Get", err)
	}
	return r, nil
}

func (s *RuleStore) Create(ctx context.Context, r *domain.AutomationRule) error {
	if r.ID == "" {
		r.ID = domain.NewID(domain.PrefixRule)
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	triggerJSON, _ := json.Marshal(r.Trigger)
	actionsJSON, _ := json.Marshal(r.Actions)
	retryJSON, _ := json.Marshal(r.Retry)
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO automation_rules (id, name, description, trigger, actions, enabled, run_count,
			consecutive_failures, last_run_at, last_error, retry, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Description, string(triggerJSON), string(actionsJSON), boolToInt(r.Enabled),
		r.RunCount, r.ConsecutiveFailures, nullableTime(r.LastRunAt), r.LastError, string(retryJSON),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.WrapError("RuleStore.Create", domain.KindConflict, err, "")
	}
	return nil
}

func (s *RuleStore) Update(ctx context.Context, r *domain.AutomationRule) error {
	r.UpdatedAt = time.Now().UTC()
	triggerJSON, _ := json.Marshal(r.Trigger)
	actionsJSON, _ := json.Marshal(r.Actions)
	retryJSON, _ := json.Marshal(r.Retry)
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE automation_rules SET name=?, description=?, trigger=?, actions=?, enabled=?, run_count=?,
			consecutive_failures=?, last_run_at=?, last_error=?, retry=?, updated_at=? WHERE id=?`,
		r.Name, r.Description, string(triggerJSON), string(actionsJSON), boolToInt(r.Enabled), r.RunCount,
		r.ConsecutiveFailures, nullableTime(r.LastRunAt), r.LastError, string(retryJSON),
		r.UpdatedAt.Format(time.RFC3339Nano), r.ID,
	)
	if err != nil {
		return domain.WrapError("RuleStore.Update", domain.KindTransient, err, "")
	}
	return rowsAffectedOrNotFound(res, "RuleStore.Update")
}

func (s *RuleStore) List(ctx context.Context) ([]domain.AutomationRule, error) {
	return s.query(ctx, "SELECT "+ruleColumns+" FROM automation_rules ORDER BY created_at DESC")
}

func (s *RuleStore) ListEnabled(ctx context.Context) ([]domain.AutomationRule, error) {
	return s.query(ctx, "SELECT "+ruleColumns+" FROM automation_rules WHERE enabled = 1 ORDER BY created_at DESC")
}

// ListEnabledByEventType filters enabled rules whose trigger is
// TriggerEvent with a matching eventType, via a JSON text match rather
// than SQLite's json1 extension so the query stays portable across
// modernc.org/sqlite builds.
func (s *RuleStore) ListEnabledByEventType(ctx context.Context, t domain.EventType) ([]domain.AutomationRule, error) {
	rules, err := s.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.AutomationRule
	for _, r := range rules {
		if r.Trigger.Type == domain.TriggerEvent && r.Trigger.EventType == t {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *RuleStore) query(ctx context.Context, query string, args ...any) ([]domain.AutomationRule, error) {
	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.WrapError("RuleStore.query", domain.KindTransient, err, "")
	}
	defer rows.Close()
	var out []domain.AutomationRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, domain.WrapError("RuleStore.query", domain.KindFatal, err, "scan")
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ExecutionStore implements domain.ExecutionStore.
type ExecutionStore struct{ db *DB }

func NewExecutionStore(db *DB) *ExecutionStore { return &ExecutionStore{db: db} }

const executionColumns = `id, rule_id, trigger_data, status, attempt_number, next_retry_at,
	action_results, duration_ms, error, triggered_at, completed_at`

func scanExecution(row interface{ Scan(...any) error }) (*domain.AutomationExecution, error) {
	var e domain.AutomationExecution
	var triggerData, actionResultsJSON, triggeredAt string
	var nextRetryAt, completedAt sql.NullString
	if err := row.Scan(&e.ID, &e.RuleID, &triggerData, &e.Status, &e.AttemptNumber, &nextRetryAt,
		&actionResultsJSON, &e.DurationMs, &e.Error, &triggeredAt, &completedAt); err != nil {
		return nil, err
	}
	e.TriggerData = json.RawMessage(triggerData)
	_ = json.Unmarshal([]byte(actionResultsJSON), &e.ActionResults)
	if nextRetryAt.Valid {
		v, _ := time.Parse(time.RFC3339Nano, nextRetryAt.String)
		e.NextRetryAt = &v
	}
	e.TriggeredAt, _ = time.Parse(time.RFC3339Nano, triggeredAt)
	if completedAt.Valid {
		v, _ := time.Parse(time.RFC3339Nano, completedAt.String)
		e.CompletedAt = &v
	}
	return &e, nil
}

func (s *ExecutionStore) Get(ctx context.Context, id string) (*domain.AutomationExecution, error) {
	row := s.db.conn.QueryRowContext(ctx, "SELECT "+executionColumns+" FROM automation_executions WHERE id = ?", id)
	e, err := scanExecution(row)
	if err != nil {
		return nil, noRowsToNotFound("ExecutionStore.Get", err)
	}
	return e, nil
}

func (s *ExecutionStore) Create(ctx context.Context, e *domain.AutomationExecution) error {
	if e.ID == "" {
		e.ID = domain.NewID(domain.PrefixExecution)
	}
	if e.TriggeredAt.IsZero() {
		e.TriggeredAt = time.Now().UTC()
	}
	if e.TriggerData == nil {
		e.TriggerData = json.RawMessage("{}")
	}
	actionResultsJSON, _ := json.Marshal(e.ActionResults)
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO automation_executions (id, rule_id, trigger_data, status, attempt_number,
			next_retry_at, action_results, duration_ms, error, triggered_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RuleID, string(e.TriggerData), e.Status, e.AttemptNumber, nullableTime(e.NextRetryAt),
		string(actionResultsJSON), e.DurationMs, e.Error, e.TriggeredAt.Format(time.RFC3339Nano),
		nullableTime(e.CompletedAt),
	)
	if err != nil {
		return domain.WrapError("ExecutionStore.Create", domain.KindConflict, err, "")
	}
	return nil
}

func (s *ExecutionStore) Update(ctx context.Context, e *domain.AutomationExecution) error {
	actionResultsJSON, _ := json.Marshal(e.ActionResults)
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE automation_executions SET status=?, attempt_number=?, next_retry_at=?, action_results=?,
			duration_ms=?, error=?, completed_at=? WHERE id=?`,
		e.Status, e.AttemptNumber, nullableTime(e.NextRetryAt), string(actionResultsJSON), e.DurationMs,
		e.Error, nullableTime(e.CompletedAt), e.ID,
	)
	if err != nil {
		return domain.WrapError("ExecutionStore.Update", domain.KindTransient, err, "")
	}
	return rowsAffectedOrNotFound(res, "ExecutionStore.Update")
}

// DueForRetry atomically claims up to limit pending executions whose
// NextRetryAt has passed by flipping them to ExecutionRunning in the same
// statement that selects them, via SQLite's RETURNING clause, so two
// scheduler ticks can never pick up the same execution.
func (s *ExecutionStore) DueForRetry(ctx context.Context, now time.Time, limit int) ([]domain.AutomationExecution, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`UPDATE automation_executions SET status = ?
		 WHERE id IN (
			SELECT id FROM automation_executions
			WHERE status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?
			ORDER BY next_retry_at ASC LIMIT ?
		 )
		 RETURNING `+executionColumns,
		domain.ExecutionRunning, domain.ExecutionPending, now.UTC().Format(time.RFC3339Nano), limit,
	)
	if err != nil {
		return nil, domain.WrapError("ExecutionStore.DueForRetry", domain.KindTransient, err, "")
	}
	defer rows.Close()
	var out []domain.AutomationExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, domain.WrapError("ExecutionStore.DueForRetry", domain.KindFatal, err, "scan")
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
