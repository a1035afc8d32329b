// Package eventbus implements the Butler's in-process publish/subscribe
// broker (spec §4.5). Delivery is sequential per subscriber: each
// subscription owns a buffered channel drained by one dedicated worker
// goroutine, so a slow or crashing handler cannot reorder events for that
// subscriber, and cannot block unrelated subscribers either.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

// queueSize bounds how many not-yet-dispatched events a single subscription
// will buffer before Publish starts dropping for it (best-effort delivery
// to slow external consumers, e.g. a socket bridge, per spec §4.5).
const queueSize = 256

type subscription struct {
	id      uint64
	queue   chan domain.Event
	done    chan struct{}
	handler domain.EventHandler
	logger  *slog.Logger
	label   string
}

func newSubscription(id uint64, label string, handler domain.EventHandler, logger *slog.Logger) *subscription {
	s := &subscription{
		id:      id,
		queue:   make(chan domain.Event, queueSize),
		done:    make(chan struct{}),
		handler: handler,
		logger:  logger,
		label:   label,
	}
	go s.run()
	return s
}

func (s *subscription) run() {
	defer close(s.done)
	for event := range s.queue {
		s.deliver(event)
	}
}

func (s *subscription) deliver(event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event handler panicked",
				"subscriber", s.label, "event", string(event.Type), "panic", r)
		}
	}()
	s.handler(context.Background(), event)
}

// enqueue is non-blocking: a full queue drops the event for this subscriber
// with a warning, rather than stalling the publisher or other subscribers.
func (s *subscription) enqueue(event domain.Event) {
	select {
	case s.queue <- event:
	default:
		s.logger.Warn("event queue full, dropping event",
			"subscriber", s.label, "event", string(event.Type))
	}
}

func (s *subscription) stop() {
	close(s.queue)
	<-s.done
}

// Bus is an in-process, goroutine-safe event bus with per-subscriber
// ordering.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.EventType][]*subscription
	allSubs []*subscription
	nextID  atomic.Uint64
	logger  *slog.Logger
	closed  atomic.Bool
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		typed:  make(map[domain.EventType][]*subscription),
		logger: logger,
	}
}

// Publish enqueues an event for every matching subscriber without blocking.
func (b *Bus) Publish(_ context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	typed := append([]*subscription(nil), b.typed[event.Type]...)
	allSubs := append([]*subscription(nil), b.allSubs...)
	b.mu.RUnlock()

	for _, sub := range typed {
		sub.enqueue(event)
	}
	for _, sub := range allSubs {
		sub.enqueue(event)
	}
}

// Subscribe registers a handler for a specific event type. Returns an
// unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	id := b.nextID.Add(1)
	sub := newSubscription(id, string(eventType), handler, b.logger)

	b.mu.Lock()
	b.typed[eventType] = append(b.typed[eventType], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		subs := b.typed[eventType]
		for i, s := range subs {
			if s.id == id {
				b.typed[eventType] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		sub.stop()
	}
}

// SubscribeAll registers a handler that receives every event. Returns an
// unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	id := b.nextID.Add(1)
	sub := newSubscription(id, "*", handler, b.logger)

	b.mu.Lock()
	b.allSubs = append(b.allSubs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		for i, s := range b.allSubs {
			if s.id == id {
				b.allSubs = append(b.allSubs[:i:i], b.allSubs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		sub.stop()
	}
}

// Close prevents new publishes and waits for every subscriber's queue to
// drain. Close is idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.allSubs))
	subs = append(subs, b.allSubs...)
	for _, list := range b.typed {
		subs = append(subs, list...)
	}
	b.typed = make(map[domain.EventType][]*subscription)
	b.allSubs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}
