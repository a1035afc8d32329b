package channel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

// Pusher delivers an outbound payload to a live guest chat session. The
// guest chat gateway socket is the only thing that can actually write to
// that session's open connection, so it registers itself via SetPusher at
// startup; until then Send reports the session unreachable.
type Pusher func(ctx context.Context, sessionID string, payload domain.OutboundPayload) (*domain.SendResult, error)

// WebChatChannel is the registry-facing domain.ChannelAdapter for the web
// chat surface. It owns no transport of its own — the gateway's
// GuestChatServer owns the actual socket — this is the thin adapter an
// automation rule's send_message action calls into (spec §4.4/§6).
type WebChatChannel struct {
	logger *slog.Logger

	mu     sync.RWMutex
	pusher Pusher
}

// NewWebChatChannel constructs the web chat adapter. SetPusher must be
// called once the guest chat gateway socket is running before Send will
// succeed.
func NewWebChatChannel(logger *slog.Logger) *WebChatChannel {
	return &WebChatChannel{logger: logger}
}

// SetPusher wires the live guest chat socket's delivery function.
func (w *WebChatChannel) SetPusher(p Pusher) {
	w.mu.Lock()
	w.pusher = p
	w.mu.Unlock()
}

// Name implements domain.ChannelAdapter.
func (w *WebChatChannel) Name() string { return "webchat" }

// Send implements domain.ChannelAdapter: to is the guest chat session id.
func (w *WebChatChannel) Send(ctx context.Context, to string, payload domain.OutboundPayload) (*domain.SendResult, error) {
	w.mu.RLock()
	pusher := w.pusher
	w.mu.RUnlock()

	if pusher == nil {
		return &domain.SendResult{Status: domain.SendStatusFailed, Error: "guest chat gateway not running"}, nil
	}
	return pusher(ctx, to, payload)
}

// TestConnection implements domain.ChannelAdapter. Web chat has no
// external service to probe; it is available whenever the process is.
func (w *WebChatChannel) TestConnection(ctx context.Context) error {
	return nil
}
