package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregateStats_DelegatesPerTopic(t *testing.T) {
	calls := map[string]int{}
	mk := func(topic string, val any) StatFunc {
		return func(ctx context.Context) (any, error) {
			calls[topic]++
			return val, nil
		}
	}

	agg := NewAggregateStats(
		mk("tasks", map[string]int{"pending": 3}),
		mk("approvals", map[string]int{"escalated": 1}),
		mk("conversations", map[string]int{"active": 2}),
	)

	ctx := context.Background()
	tasks, err := agg.TaskStats(ctx)
	assert.NoError(t, err)
	assert.Equal(t, map[string]int{"pending": 3}, tasks)

	approvals, err := agg.ApprovalStats(ctx)
	assert.NoError(t, err)
	assert.Equal(t, map[string]int{"escalated": 1}, approvals)

	conversations, err := agg.ConversationStats(ctx)
	assert.NoError(t, err)
	assert.Equal(t, map[string]int{"active": 2}, conversations)

	assert.Equal(t, 1, calls["tasks"])
	assert.Equal(t, 1, calls["approvals"])
	assert.Equal(t, 1, calls["conversations"])
}
