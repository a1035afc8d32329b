package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

// debounceWindow is the trailing-edge coalescing window: rapid successive
// events for the same topic collapse into a single broadcast (spec §4.5/§5).
const debounceWindow = 100 * time.Millisecond

// StatsComputer answers the three counters snapshots the stats bridge
// broadcasts. AggregateStats (stats.go) implements it over closures that
// wrap the repositories, so the bridge never touches SQL itself.
type StatsComputer interface {
	TaskStats(ctx context.Context) (any, error)
	ApprovalStats(ctx context.Context) (any, error)
	ConversationStats(ctx context.Context) (any, error)
}

// Broadcaster pushes a named topic payload to every connected staff socket.
type Broadcaster interface {
	Broadcast(topic string, payload any)
}

const (
	TopicTasks         = "stats:tasks"
	TopicApprovals     = "stats:approvals"
	TopicConversations = "stats:conversations"
)

// coalescer is a single-slot, trailing-edge debouncer for one topic: any
// number of Trigger calls within debounceWindow of each other result in
// exactly one fire, debounceWindow after the last call.
type coalescer struct {
	mu    sync.Mutex
	timer *time.Timer
	fire  func()
}

func newCoalescer(fire func()) *coalescer {
	return &coalescer{fire: fire}
}

func (c *coalescer) trigger() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(debounceWindow, c.fire)
}

// StatsBridge subscribes to task, conversation, and approval events and, on
// each (debounced), recomputes a counters snapshot and broadcasts it to the
// socket gateway.
type StatsBridge struct {
	bus        domain.EventBus
	stats      StatsComputer
	broadcast  Broadcaster
	logger     *slog.Logger
	unsub      []func()
	coalescers map[string]*coalescer
}

// NewStatsBridge wires a StatsBridge to the given bus, starting its
// subscriptions immediately.
func NewStatsBridge(bus domain.EventBus, stats StatsComputer, broadcast Broadcaster, logger *slog.Logger) *StatsBridge {
	b := &StatsBridge{
		bus:        bus,
		stats:      stats,
		broadcast:  broadcast,
		logger:     logger,
		coalescers: make(map[string]*coalescer),
	}
	b.coalescers[TopicTasks] = newCoalescer(func() { b.publishTasks() })
	b.coalescers[TopicApprovals] = newCoalescer(func() { b.publishApprovals() })
	b.coalescers[TopicConversations] = newCoalescer(func() { b.publishConversations() })

	taskEvents := []domain.EventType{domain.EventTaskCreated, domain.EventTaskAssigned, domain.EventTaskCompleted}
	for _, et := range taskEvents {
		b.unsub = append(b.unsub, bus.Subscribe(et, func(ctx context.Context, _ domain.Event) {
			b.coalescers[TopicTasks].trigger()
		}))
	}

	// approval.queued/decided/executed are published by the external staff
	// console's task-status endpoints; this core itself emits
	// conversation.escalated and task.assigned/completed for the same
	// escalation-to-resolution handoff, so the coalescer keys off both sets.
	approvalEvents := []domain.EventType{
		domain.EventApprovalQueued, domain.EventApprovalDecided, domain.EventApprovalExecuted,
		domain.EventConversationEscalated, domain.EventTaskAssigned, domain.EventTaskCompleted,
	}
	for _, et := range approvalEvents {
		b.unsub = append(b.unsub, bus.Subscribe(et, func(ctx context.Context, _ domain.Event) {
			b.coalescers[TopicApprovals].trigger()
		}))
	}

	convEvents := []domain.EventType{
		domain.EventConversationCreated, domain.EventConversationUpdated,
		domain.EventConversationEscalated, domain.EventConversationResolved,
	}
	for _, et := range convEvents {
		b.unsub = append(b.unsub, bus.Subscribe(et, func(ctx context.Context, _ domain.Event) {
			b.coalescers[TopicConversations].trigger()
		}))
	}

	return b
}

func (b *StatsBridge) publishTasks() {
	snap, err := b.stats.TaskStats(context.Background())
	if err != nil {
		b.logger.Error("stats bridge: task stats failed", "error", err)
		return
	}
	b.broadcast.Broadcast(TopicTasks, snap)
}

func (b *StatsBridge) publishApprovals() {
	snap, err := b.stats.ApprovalStats(context.Background())
	if err != nil {
		b.logger.Error("stats bridge: approval stats failed", "error", err)
		return
	}
	b.broadcast.Broadcast(TopicApprovals, snap)
}

func (b *StatsBridge) publishConversations() {
	snap, err := b.stats.ConversationStats(context.Background())
	if err != nil {
		b.logger.Error("stats bridge: conversation stats failed", "error", err)
		return
	}
	b.broadcast.Broadcast(TopicConversations, snap)
}

// Close unsubscribes from all events.
func (b *StatsBridge) Close() {
	for _, fn := range b.unsub {
		fn()
	}
}
