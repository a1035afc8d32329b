package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

// TaskStore implements domain.TaskStore.
type TaskStore struct{ db *DB }

func NewTaskStore(db *DB) *TaskStore { return &TaskStore{db: db} }

const taskColumns = `id, title, description, source, status, priority, conversation_id, guest_id,
	assignee_id, created_at, updated_at, started_at, completed_at`

func scanTask(row interface{ Scan(...any) error }) (*domain.Task, error) {
	var t domain.Task
	var createdAt, updatedAt string
	var startedAt, completedAt sql.NullString
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Source, &t.Status, &t.Priority,
		&t.ConversationID, &t.GuestID, &t.AssigneeID, &createdAt, &updatedAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if startedAt.Valid {
		v, _ := time.Parse(time.RFC3339Nano, startedAt.String)
		t.StartedAt = &v
	}
	if completedAt.Valid {
		v, _ := time.Parse(time.RFC3339Nano, completedAt.String)
		t.CompletedAt = &v
	}
	return &t, nil
}

func (s *TaskStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	row := s.db.conn.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if err != nil {
		return nil, noRowsToNotFound("TaskStore.Get", err)
	}
	return t, nil
}

func (s *TaskStore) Create(ctx context.Context, t *domain.Task) error {
	if t.ID == "" {
		t.ID = domain.NewID(domain.PrefixTask)
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO tasks (id, title, description, source, status, priority, conversation_id,
			guest_id, assignee_id, created_at, updated_at, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, t.Source, t.Status, t.Priority, t.ConversationID, t.GuestID,
		t.AssigneeID, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
		nullableTime(t.StartedAt), nullableTime(t.CompletedAt),
	)
	if err != nil {
		return domain.WrapError("TaskStore.Create", domain.KindConflict, err, "")
	}
	return nil
}

func (s *TaskStore) Update(ctx context.Context, t *domain.Task) error {
	t.UpdatedAt = time.Now().UTC()
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE tasks SET title=?, description=?, status=?, priority=?, assignee_id=?, updated_at=?,
			started_at=?, completed_at=? WHERE id=?`,
		t.Title, t.Description, t.Status, t.Priority, t.AssigneeID, t.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(t.StartedAt), nullableTime(t.CompletedAt), t.ID,
	)
	if err != nil {
		return domain.WrapError("TaskStore.Update", domain.KindTransient, err, "")
	}
	return rowsAffectedOrNotFound(res, "TaskStore.Update")
}

func (s *TaskStore) List(ctx context.Context, limit, offset int) ([]domain.Task, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		"SELECT "+taskColumns+" FROM tasks ORDER BY created_at DESC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, domain.WrapError("TaskStore.List", domain.KindTransient, err, "")
	}
	defer rows.Close()
	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, domain.WrapError("TaskStore.List", domain.KindFatal, err, "scan")
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *TaskStore) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	rows, err := s.db.conn.QueryContext(ctx, "SELECT status, COUNT(*) FROM tasks GROUP BY status")
	if err != nil {
		return nil, domain.WrapError("TaskStore.CountByStatus", domain.KindTransient, err, "")
	}
	defer rows.Close()
	out := make(map[domain.TaskStatus]int)
	for rows.Next() {
		var status domain.TaskStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, domain.WrapError("TaskStore.CountByStatus", domain.KindFatal, err, "scan")
		}
		out[status] = count
	}
	return out, rows.Err()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}
