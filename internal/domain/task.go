package domain

import (
	"context"
	"time"
)

// TaskSource identifies how a task came to exist.
type TaskSource string

const (
	TaskSourceManual     TaskSource = "manual"
	TaskSourceAuto       TaskSource = "auto"
	TaskSourceAutomation TaskSource = "automation"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Task is created manually, automatically from detected intent, or by an
// automation rule. Invariant: CompletedAt is set iff Status == TaskCompleted;
// StartedAt is set iff the task has passed through TaskInProgress.
type Task struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Source         TaskSource `json:"source"`
	Status         TaskStatus `json:"status"`
	Priority       Priority   `json:"priority"`
	ConversationID string     `json:"conversationId,omitempty"`
	GuestID        string     `json:"guestId,omitempty"`
	AssigneeID     string     `json:"assigneeId,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// TaskStore persists tasks.
type TaskStore interface {
	Get(ctx context.Context, id string) (*Task, error)
	Create(ctx context.Context, t *Task) error
	Update(ctx context.Context, t *Task) error
	List(ctx context.Context, limit, offset int) ([]Task, error)
	// CountByStatus powers the stats:tasks broadcast.
	CountByStatus(ctx context.Context) (map[TaskStatus]int, error)
}
