package responder

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

type stubChat struct {
	reply string
	err   error
	name  string
}

func (s *stubChat) Complete(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &domain.ChatResponse{Content: s.reply}, nil
}
func (s *stubChat) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return [][]float32{{0.1, 0.2}}, nil
}
func (s *stubChat) Dimensions() int                           { return 2 }
func (s *stubChat) Name() string                              { return s.name }
func (s *stubChat) TestConnection(ctx context.Context) error { return nil }

type stubKnowledge struct {
	matches []domain.KnowledgeMatch
}

func (k *stubKnowledge) Get(ctx context.Context, id string) (*domain.KnowledgeEntry, error) { return nil, nil }
func (k *stubKnowledge) Upsert(ctx context.Context, e *domain.KnowledgeEntry) error          { return nil }
func (k *stubKnowledge) Delete(ctx context.Context, id string) error                        { return nil }
func (k *stubKnowledge) Search(ctx context.Context, query []float32, topK int) ([]domain.KnowledgeMatch, error) {
	return k.matches, nil
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestLLMResponder_Generate(t *testing.T) {
	chat := &stubChat{reply: "  Checkout is at 11am.  ", name: "test-llm"}
	r := New(chat, nil, nil, "test-model", discardLogger())

	out, err := r.Generate(context.Background(), &domain.Conversation{}, domain.Inbound{Content: "when is checkout?"}, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out.Content != "Checkout is at 11am." {
		t.Errorf("expected trimmed content, got %q", out.Content)
	}
	if out.Confidence != defaultConfidence {
		t.Errorf("expected default confidence %v, got %v", defaultConfidence, out.Confidence)
	}
}

func TestLLMResponder_GenerateWithKnowledgeRetrieval(t *testing.T) {
	chat := &stubChat{reply: "answer", name: "test-llm"}
	kb := &stubKnowledge{matches: []domain.KnowledgeMatch{
		{Entry: domain.KnowledgeEntry{Title: "Pool hours", Content: "The pool is open 7am-9pm."}},
	}}
	r := New(chat, chat, kb, "test-model", discardLogger())

	prompt := r.buildSystemPrompt(context.Background(), nil, domain.Inbound{Content: "when is the pool open?"})
	if !strings.Contains(prompt, "Pool hours") {
		t.Errorf("expected retrieved knowledge in system prompt, got %q", prompt)
	}
}

func TestLLMResponder_GenerateUpstreamError(t *testing.T) {
	chat := &stubChat{err: context.DeadlineExceeded, name: "test-llm"}
	r := New(chat, nil, nil, "test-model", discardLogger())

	_, err := r.Generate(context.Background(), &domain.Conversation{}, domain.Inbound{Content: "hi"}, nil)
	if err == nil {
		t.Fatal("expected error from failing chat provider")
	}
	if domain.KindOf(err) != domain.KindUpstream {
		t.Errorf("expected KindUpstream, got %v", domain.KindOf(err))
	}
}

func TestEchoResponder_UsesGuestName(t *testing.T) {
	out, err := EchoResponder{}.Generate(context.Background(), &domain.Conversation{}, domain.Inbound{Content: "hi"},
		&domain.GuestContext{Guest: &domain.Guest{FirstName: "Jamie"}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(out.Content, "Jamie") {
		t.Errorf("expected guest name in echo content, got %q", out.Content)
	}
	if out.Confidence != 0 {
		t.Errorf("expected zero confidence from echo responder, got %v", out.Confidence)
	}
}

func TestNewFromRegistryLookup_NilChatReturnsEcho(t *testing.T) {
	r := NewFromRegistryLookup(nil, nil, nil, "", discardLogger())
	if _, ok := r.(EchoResponder); !ok {
		t.Fatalf("expected EchoResponder fallback, got %T", r)
	}
}
