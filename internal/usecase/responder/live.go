package responder

import (
	"context"
	"log/slog"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

// ChatLookup and EmbedderLookup resolve whichever AI provider instance is
// currently active in the app registry's "ai:completion"/"ai:embedding"
// slots. Both return ok=false when no provider is configured.
type ChatLookup func() (domain.LanguageModelProvider, bool)
type EmbedderLookup func() (domain.LanguageModelProvider, bool)

// LiveResponder re-resolves the active chat and embedding providers on
// every call instead of capturing them once at construction time, so a
// staff-console swap of the active AI provider (registry.Apply) takes
// effect on the pipeline's very next message without restarting the
// process. The lookup functions themselves are still wired once, at
// pipeline construction — only the providers they return are dynamic —
// which keeps spec §9's "explicit registry lookup at construction time,
// no global mutation" guidance while still honoring the registry's
// hot-swap selection policy (spec §4.4).
type LiveResponder struct {
	Chat      ChatLookup
	Embedder  EmbedderLookup
	Knowledge domain.KnowledgeStore
	Model     string
	Logger    *slog.Logger
}

// NewLive constructs a LiveResponder bound to a registry's active-provider
// lookups.
func NewLive(chat ChatLookup, embedder EmbedderLookup, knowledge domain.KnowledgeStore, model string, logger *slog.Logger) *LiveResponder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveResponder{Chat: chat, Embedder: embedder, Knowledge: knowledge, Model: model, Logger: logger}
}

// Generate implements domain.Responder, delegating to an echo responder
// when no chat provider is currently active.
func (l *LiveResponder) Generate(ctx context.Context, conv *domain.Conversation, in domain.Inbound, guestCtx *domain.GuestContext) (*domain.ResponderOutput, error) {
	chat, ok := l.Chat()
	if !ok || chat == nil {
		return EchoResponder{}.Generate(ctx, conv, in, guestCtx)
	}
	var embedder domain.LanguageModelProvider
	if l.Embedder != nil {
		if e, ok := l.Embedder(); ok {
			embedder = e
		}
	}
	inner := New(chat, embedder, l.Knowledge, l.Model, l.Logger)
	return inner.Generate(ctx, conv, in, guestCtx)
}
