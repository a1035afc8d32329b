package eventbus

import "context"

// StatFunc answers one of the three counters snapshots the stats bridge
// broadcasts. cmd/butler wires each to the owning repository's concrete
// stats method (e.g. store.TaskStore.CountByStatus), wrapped in a closure
// that erases the repository's typed map return to `any` — Go requires
// exact method signatures for interface satisfaction, so a repository's
// own `CountByStatus(ctx) (map[domain.TaskStatus]int, error)` can never
// satisfy StatsComputer's `(any, error)` signature directly.
type StatFunc func(ctx context.Context) (any, error)

// AggregateStats composes StatsComputer from three independently supplied
// StatFuncs. There is no standalone Approval entity in the data model
// (spec §3) — "raising the exchange to a human" is modeled as a
// conversation transitioning to state `escalated` — so callers typically
// wire Approvals to the same conversation repository as Conversations,
// filtered down to the escalated count.
type AggregateStats struct {
	Tasks         StatFunc
	Approvals     StatFunc
	Conversations StatFunc
}

// NewAggregateStats constructs a StatsComputer from three StatFuncs.
func NewAggregateStats(tasks, approvals, conversations StatFunc) *AggregateStats {
	return &AggregateStats{Tasks: tasks, Approvals: approvals, Conversations: conversations}
}

func (a *AggregateStats) TaskStats(ctx context.Context) (any, error) { return a.Tasks(ctx) }

func (a *AggregateStats) ApprovalStats(ctx context.Context) (any, error) { return a.Approvals(ctx) }

func (a *AggregateStats) ConversationStats(ctx context.Context) (any, error) {
	return a.Conversations(ctx)
}
