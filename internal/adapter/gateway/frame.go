// Package gateway implements the Butler's two socket surfaces (spec §4.6):
// an authenticated staff console socket and an anonymous guest chat socket.
// There is no teacher equivalent to adapt directly — its gateway is a
// generic RPC-over-WebSocket layer with no staff/guest distinction — so
// this package keeps the teacher's transport choice (nhooyr.io/websocket,
// one connection goroutine pair per client, a buffered outbound queue) and
// replaces the RPC dispatch with the two fixed frame protocols the spec
// defines.
package gateway

import "encoding/json"

// StaffFrame is the envelope exchanged on the staff socket: a type
// discriminator plus an arbitrary JSON payload.
type StaffFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func staffFrame(frameType string, payload any) StaffFrame {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = json.RawMessage(`null`)
	}
	return StaffFrame{Type: frameType, Payload: raw}
}

// connectedPayload is the staff socket's welcome frame payload. The guest
// chat socket sends its own GuestFrame with the same two fields instead.
type connectedPayload struct {
	Authenticated bool   `json:"authenticated"`
	Timestamp     string `json:"timestamp"`
}

// errorPayload is the body of a well-formed error frame.
type errorPayload struct {
	Message string `json:"message"`
}

// GuestFrame is the envelope exchanged on the guest chat socket. Only the
// fields relevant to a given Type are populated.
type GuestFrame struct {
	Type           string `json:"type"`
	Content        string `json:"content,omitempty"`
	ContentType    string `json:"contentType,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Typing         bool   `json:"typing,omitempty"`
	Authenticated  bool   `json:"authenticated,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
	Error          string `json:"error,omitempty"`
}
