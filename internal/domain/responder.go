package domain

import "context"

// ResponderOutput is what a Responder produces for one inbound message.
type ResponderOutput struct {
	Content    string         `json:"content"`
	Confidence float64        `json:"confidence"` // in [0,1]
	Intent     string         `json:"intent,omitempty"`
	Entities   map[string]any `json:"entities,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Responder generates the outbound content for one inbound pipeline turn,
// given the conversation, the inbound message, and hydrated guest context
// (nil when none could be resolved).
type Responder interface {
	Generate(ctx context.Context, conv *Conversation, inbound Inbound, guestCtx *GuestContext) (*ResponderOutput, error)
}
