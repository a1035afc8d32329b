// Package responder implements domain.Responder (spec §6): turning one
// inbound guest message into generated reply content, a confidence score,
// and optional intent/entity metadata. There is no teacher precedent for a
// hotel-specific responder, so this package is grounded on two things the
// teacher does elsewhere in the codebase: its LLM adapters' ChatRequest
// shape (internal/adapter/llm) and spec §9's explicit redesign guidance —
// "replace [the agent singleton] with an explicit registry lookup at
// pipeline construction time; if no provider is configured, compose an
// echo responder deterministically."
package responder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

// defaultConfidence is what the LLM-backed responder reports when the
// provider gives no usable confidence signal of its own (chat completion
// APIs do not return one) — set below the escalation engine's default
// low-confidence threshold of 0.6 is deliberately avoided: a mid-range
// value lets the escalation engine's other signals (explicit request,
// sentiment, repetition) drive escalation instead of confidence alone.
const defaultConfidence = 0.75

// knowledgeTopK is how many knowledge entries are retrieved per turn.
const knowledgeTopK = 3

const systemPromptTemplate = `You are the Butler, a hotel's conversational concierge assistant. Respond to guest messages helpfully, warmly, and concisely. Never invent reservation details, prices, or policies you were not given. If you do not know something, say so plainly rather than guessing.`

// LLMResponder generates replies via a language-model provider, optionally
// grounding them with retrieved knowledge-base entries. Embedder may be nil
// (no retrieval); Knowledge may be nil for the same reason.
type LLMResponder struct {
	Chat      domain.LanguageModelProvider
	Embedder  domain.LanguageModelProvider
	Knowledge domain.KnowledgeStore
	Model     string
	Logger    *slog.Logger
}

// New constructs an LLMResponder. logger defaults to slog.Default() if nil.
func New(chat, embedder domain.LanguageModelProvider, knowledge domain.KnowledgeStore, model string, logger *slog.Logger) *LLMResponder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMResponder{Chat: chat, Embedder: embedder, Knowledge: knowledge, Model: model, Logger: logger}
}

// Generate implements domain.Responder.
func (r *LLMResponder) Generate(ctx context.Context, conv *domain.Conversation, in domain.Inbound, guestCtx *domain.GuestContext) (*domain.ResponderOutput, error) {
	messages := []domain.LLMMessage{
		{Role: domain.RoleSystem, Content: r.buildSystemPrompt(ctx, guestCtx, in)},
		{Role: domain.RoleUser, Content: in.Content},
	}

	resp, err := r.Chat.Complete(ctx, domain.ChatRequest{
		Model:       r.Model,
		Messages:    messages,
		MaxTokens:   600,
		Temperature: 0.4,
	})
	if err != nil {
		return nil, domain.WrapError("responder.Generate", domain.KindUpstream, err, "chat completion")
	}

	return &domain.ResponderOutput{
		Content:    strings.TrimSpace(resp.Content),
		Confidence: defaultConfidence,
		Metadata: map[string]any{
			"provider": r.Chat.Name(),
			"model":    r.Model,
		},
	}, nil
}

// buildSystemPrompt assembles the grounding context: guest/reservation
// facts plus the top knowledge-base matches for the inbound content, when a
// knowledge store and embedder are both configured.
func (r *LLMResponder) buildSystemPrompt(ctx context.Context, guestCtx *domain.GuestContext, in domain.Inbound) string {
	var b strings.Builder
	b.WriteString(systemPromptTemplate)

	if guestCtx != nil {
		if guestCtx.Guest != nil {
			fmt.Fprintf(&b, "\n\nGuest: %s %s.", guestCtx.Guest.FirstName, guestCtx.Guest.LastName)
			if guestCtx.Guest.IsVIP() {
				b.WriteString(" This guest is VIP — extend extra courtesy.")
			}
		}
		if guestCtx.Reservation != nil {
			res := guestCtx.Reservation
			fmt.Fprintf(&b, "\nReservation %s: status %s", res.ConfirmationNumber, res.Status)
			if res.RoomNumber != "" {
				fmt.Fprintf(&b, ", room %s", res.RoomNumber)
			}
			b.WriteString(".")
		}
	}

	if r.Knowledge != nil && r.Embedder != nil {
		if matches := r.retrieveKnowledge(ctx, in.Content); len(matches) > 0 {
			b.WriteString("\n\nRelevant information:")
			for _, m := range matches {
				fmt.Fprintf(&b, "\n- %s: %s", m.Entry.Title, m.Entry.Content)
			}
		}
	}

	return b.String()
}

func (r *LLMResponder) retrieveKnowledge(ctx context.Context, query string) []domain.KnowledgeMatch {
	vectors, err := r.Embedder.Embed(ctx, []string{query})
	if err != nil || len(vectors) == 0 {
		if err != nil {
			r.Logger.Warn("responder: embedding query failed, skipping retrieval", "error", err)
		}
		return nil
	}
	matches, err := r.Knowledge.Search(ctx, vectors[0], knowledgeTopK)
	if err != nil {
		r.Logger.Warn("responder: knowledge search failed, skipping retrieval", "error", err)
		return nil
	}
	return matches
}

// EchoResponder is the deterministic no-provider-configured fallback (spec
// §9): it never calls out, always succeeds, and reports zero confidence so
// the escalation engine's low-confidence signal reliably fires and a human
// picks up the conversation.
type EchoResponder struct{}

// Generate implements domain.Responder.
func (EchoResponder) Generate(ctx context.Context, conv *domain.Conversation, in domain.Inbound, guestCtx *domain.GuestContext) (*domain.ResponderOutput, error) {
	name := "there"
	if guestCtx != nil && guestCtx.Guest != nil && guestCtx.Guest.FirstName != "" {
		name = guestCtx.Guest.FirstName
	}
	content := fmt.Sprintf(
		"Hi %s, thanks for your message — a member of our team will follow up with you shortly.",
		name,
	)
	return &domain.ResponderOutput{
		Content:    content,
		Confidence: 0,
		Metadata:   map[string]any{"provider": "echo"},
	}, nil
}

// NewFromRegistryLookup composes the responder to use for one pipeline: an
// LLMResponder if chat is non-nil, otherwise the deterministic echo
// fallback. Called at pipeline construction time, never as a lazily
// initialized global (spec §9's redesign guidance).
func NewFromRegistryLookup(chat, embedder domain.LanguageModelProvider, knowledge domain.KnowledgeStore, model string, logger *slog.Logger) domain.Responder {
	if chat == nil {
		return EchoResponder{}
	}
	return New(chat, embedder, knowledge, model, logger)
}
