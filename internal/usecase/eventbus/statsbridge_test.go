package eventbus

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
	"github.com/stretchr/testify/assert"
)

type fakeStats struct {
	tasks, approvals, conversations atomic.Int32
}

func (f *fakeStats) TaskStats(ctx context.Context) (any, error) {
	return f.tasks.Add(1), nil
}
func (f *fakeStats) ApprovalStats(ctx context.Context) (any, error) {
	return f.approvals.Add(1), nil
}
func (f *fakeStats) ConversationStats(ctx context.Context) (any, error) {
	return f.conversations.Add(1), nil
}

type fakeBroadcaster struct {
	mu       chan struct{}
	received []string
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{mu: make(chan struct{}, 100)}
}

func (f *fakeBroadcaster) Broadcast(topic string, payload any) {
	f.received = append(f.received, topic)
	f.mu <- struct{}{}
}

func TestStatsBridge_DebouncesBurstsIntoOneBroadcast(t *testing.T) {
	bus := New(slog.Default())
	defer bus.Close()
	stats := &fakeStats{}
	bcast := newFakeBroadcaster()
	bridge := NewStatsBridge(bus, stats, bcast, slog.Default())
	defer bridge.Close()

	for i := 0; i < 5; i++ {
		bus.Publish(context.Background(), domain.Event{Type: domain.EventTaskCreated, Timestamp: time.Now()})
	}

	select {
	case <-bcast.mu:
	case <-time.After(time.Second):
		t.Fatal("expected a broadcast")
	}
	time.Sleep(150 * time.Millisecond)

	assert.Len(t, bcast.received, 1, "5 rapid events should coalesce into one broadcast")
	assert.Equal(t, TopicTasks, bcast.received[0])
}

func TestStatsBridge_RoutesTopicsIndependently(t *testing.T) {
	bus := New(slog.Default())
	defer bus.Close()
	stats := &fakeStats{}
	bcast := newFakeBroadcaster()
	bridge := NewStatsBridge(bus, stats, bcast, slog.Default())
	defer bridge.Close()

	bus.Publish(context.Background(), domain.Event{Type: domain.EventApprovalQueued, Timestamp: time.Now()})

	select {
	case <-bcast.mu:
	case <-time.After(time.Second):
		t.Fatal("expected a broadcast")
	}
	assert.Equal(t, TopicApprovals, bcast.received[0])
}
