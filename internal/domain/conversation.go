package domain

import (
	"context"
	"time"
)

// ConversationState is the lifecycle state of a conversation. Transitions
// follow new -> active -> {escalated|resolved} -> closed; closed is terminal.
type ConversationState string

const (
	ConversationNew       ConversationState = "new"
	ConversationActive    ConversationState = "active"
	ConversationEscalated ConversationState = "escalated"
	ConversationResolved  ConversationState = "resolved"
	ConversationClosed    ConversationState = "closed"
)

// stateRank orders states so callers can check "only ever progress".
var stateRank = map[ConversationState]int{
	ConversationNew:       0,
	ConversationActive:    1,
	ConversationEscalated: 2,
	ConversationResolved:  2,
	ConversationClosed:    3,
}

// CanTransition reports whether moving from a conversation's current state
// to next is a forward (or same) transition per the invariant in spec §3.
func CanTransition(from, to ConversationState) bool {
	if from == ConversationClosed {
		return false
	}
	return stateRank[to] >= stateRank[from]
}

// Conversation is keyed by (channelType, channelId) and may reference one
// guest and one reservation.
type Conversation struct {
	ID            string            `json:"id"`
	ChannelType   string            `json:"channelType"` // "sms", "whatsapp", "email", "webchat"
	ChannelID     string            `json:"channelId"`   // phone, email, or session token
	State         ConversationState `json:"state"`
	GuestID       string            `json:"guestId,omitempty"`
	ReservationID string            `json:"reservationId,omitempty"`
	Priority      Priority          `json:"priority,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// Priority is the routing urgency for escalated conversations and tasks.
type Priority string

const (
	PriorityUrgent   Priority = "urgent"
	PriorityHigh     Priority = "high"
	PriorityStandard Priority = "standard"
	PriorityLow      Priority = "low"
)

// ConversationStore persists conversations.
type ConversationStore interface {
	Get(ctx context.Context, id string) (*Conversation, error)
	GetByChannel(ctx context.Context, channelType, channelID string) (*Conversation, error)
	Create(ctx context.Context, c *Conversation) error
	Update(ctx context.Context, c *Conversation) error
	List(ctx context.Context, limit, offset int) ([]Conversation, error)
}

// MessageDirection is the flow direction of a message relative to the hotel.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderGuest  SenderType = "guest"
	SenderAI     SenderType = "ai"
	SenderStaff  SenderType = "staff"
	SenderSystem SenderType = "system"
)

// DeliveryStatus tracks a message's transport state.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Message belongs to exactly one conversation. For inbound messages
// SenderType is always SenderGuest; for outbound messages with
// SenderType == SenderAI, Confidence is set.
type Message struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversationId"`
	Direction      MessageDirection `json:"direction"`
	SenderType     SenderType       `json:"senderType"`
	Content        string           `json:"content"`
	ContentType    string           `json:"contentType,omitempty"` // "text", "image", "audio", ...
	DeliveryStatus DeliveryStatus   `json:"deliveryStatus"`
	Confidence     *float64         `json:"confidence,omitempty"`
	Intent         string           `json:"intent,omitempty"`
	ChannelMessageID string         `json:"channelMessageId,omitempty"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// MessageHistory is the narrow read capability the escalation engine needs,
// broken out from the full MessageStore per spec §9's cyclic-reference
// guidance: constructor injection of a narrow capability, not the whole
// repository.
type MessageHistory interface {
	// Recent returns up to n most-recently-created messages for conversationID,
	// oldest first.
	Recent(ctx context.Context, conversationID string, n int) ([]Message, error)
}

// MessageStore persists messages belonging to conversations.
type MessageStore interface {
	MessageHistory
	Create(ctx context.Context, m *Message) error
	UpdateDeliveryStatus(ctx context.Context, id string, status DeliveryStatus) error
	// UpdateDeliveryStatusByChannelMessageID applies a channel provider's
	// status callback (spec §6) without the pipeline's own message id,
	// which the provider never sees.
	UpdateDeliveryStatusByChannelMessageID(ctx context.Context, channelMessageID string, status DeliveryStatus) error
	CountForConversation(ctx context.Context, conversationID string) (int, error)
}
