package main

import (
	"context"
	"log/slog"

	"github.com/arashkay/JackTheButler-sub003/internal/adapter/gateway"
	"github.com/arashkay/JackTheButler-sub003/internal/adapter/store"
	"github.com/arashkay/JackTheButler-sub003/internal/domain"
	"github.com/arashkay/JackTheButler-sub003/internal/usecase/eventbus"
)

// approvalStats derives the approvals counters from conversation and task
// state: spec §9's Open Question resolution treats an escalated
// conversation as the "queued" half of the approval lifecycle and the task
// it spawns as the "decided"/"executed" half, so no separate approvals
// table exists to query.
func approvalStats(conversations *store.ConversationStore, tasks domain.TaskStore) eventbus.StatFunc {
	return func(ctx context.Context) (any, error) {
		convCounts, err := conversations.ConversationStats(ctx)
		if err != nil {
			return nil, err
		}
		taskCounts, err := tasks.CountByStatus(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]int{
			"queued":   convCounts[domain.ConversationEscalated],
			"decided":  taskCounts[domain.TaskAssigned] + taskCounts[domain.TaskInProgress],
			"executed": taskCounts[domain.TaskCompleted],
		}, nil
	}
}

// newAggregateStats builds the eventbus.StatsComputer the stats bridge
// debounces onto, wired to the real task and conversation repositories.
func newAggregateStats(tasks domain.TaskStore, conversations *store.ConversationStore) *eventbus.AggregateStats {
	taskStats := func(ctx context.Context) (any, error) { return tasks.CountByStatus(ctx) }
	convStats := func(ctx context.Context) (any, error) { return conversations.ConversationStats(ctx) }
	return eventbus.NewAggregateStats(taskStats, approvalStats(conversations, tasks), convStats)
}

// snapshotStatsProvider implements gateway.StatsProvider by answering the
// same counters the stats bridge would eventually debounce onto, so a
// freshly authenticated staff socket sees current numbers immediately
// (spec §4.6 step 2) instead of waiting for the next change event.
type snapshotStatsProvider struct {
	computer eventbus.StatsComputer
	logger   *slog.Logger
}

func newSnapshotStatsProvider(computer eventbus.StatsComputer, logger *slog.Logger) *snapshotStatsProvider {
	return &snapshotStatsProvider{computer: computer, logger: logger}
}

func (p *snapshotStatsProvider) Snapshot(ctx context.Context) gateway.StatsSnapshot {
	tasks, err := p.computer.TaskStats(ctx)
	if err != nil {
		p.logger.Warn("stats snapshot: task stats failed", "error", err)
	}
	approvals, err := p.computer.ApprovalStats(ctx)
	if err != nil {
		p.logger.Warn("stats snapshot: approval stats failed", "error", err)
	}
	conversations, err := p.computer.ConversationStats(ctx)
	if err != nil {
		p.logger.Warn("stats snapshot: conversation stats failed", "error", err)
	}
	return gateway.StatsSnapshot{Tasks: tasks, Approvals: approvals, Conversations: conversations}
}
