package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of domain event being published. The set is
// closed (spec §4.5): subscribers may safely switch exhaustively over it.
type EventType string

const (
	EventMessageReceived     EventType = "message.received"
	EventMessageSent         EventType = "message.sent"
	EventConversationCreated EventType = "conversation.created"
	EventConversationUpdated EventType = "conversation.updated"
	EventConversationEscalated EventType = "conversation.escalated"
	EventConversationResolved  EventType = "conversation.resolved"
	EventTaskCreated         EventType = "task.created"
	EventTaskAssigned        EventType = "task.assigned"
	EventTaskCompleted       EventType = "task.completed"
	EventGuestCreated        EventType = "guest.created"
	EventGuestUpdated        EventType = "guest.updated"
	EventApprovalQueued      EventType = "approval.queued"
	EventApprovalDecided     EventType = "approval.decided"
	EventApprovalExecuted    EventType = "approval.executed"
	EventModelDownloadProgress EventType = "model.download.progress"
	EventReservationCreated  EventType = "reservation.created"
	EventReservationUpdated  EventType = "reservation.updated"
	EventStaffNotification   EventType = "staff.notification"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received. Handlers for
// the same subscription are invoked sequentially, one event at a time, to
// preserve per-subscriber ordering.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish enqueues an event for every matching subscriber without
	// blocking the caller.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type. Returns an
	// unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event. Returns an
	// unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
