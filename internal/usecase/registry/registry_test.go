package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

// fakeStore is an in-memory domain.ExtensionStore for tests.
type fakeStore struct {
	rows map[string]domain.ExtensionConfig
}

func newFakeStore() *fakeStore { return &fakeStore{rows: map[string]domain.ExtensionConfig{}} }

func (f *fakeStore) Get(ctx context.Context, id string) (*domain.ExtensionConfig, error) {
	c, ok := f.rows[id]
	if !ok {
		return nil, domain.NewError("fakeStore.Get", domain.KindNotFound, id)
	}
	return &c, nil
}

func (f *fakeStore) ListByCategory(ctx context.Context, category domain.AppCategory) ([]domain.ExtensionConfig, error) {
	var out []domain.ExtensionConfig
	for _, c := range f.rows {
		if c.Category == category {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) List(ctx context.Context) ([]domain.ExtensionConfig, error) {
	var out []domain.ExtensionConfig
	for _, c := range f.rows {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeStore) Upsert(ctx context.Context, c *domain.ExtensionConfig) error {
	f.rows[c.ID] = *c
	return nil
}

func (f *fakeStore) ActiveInCategory(ctx context.Context, category domain.AppCategory) (*domain.ExtensionConfig, error) {
	for _, c := range f.rows {
		if c.Category == category && c.Enabled && c.Status == domain.AppActive {
			return &c, nil
		}
	}
	return nil, domain.NewError("fakeStore.ActiveInCategory", domain.KindNotFound, "")
}

// fakeLLM satisfies domain.LanguageModelProvider minimally for registry tests.
type fakeLLM struct {
	name    string
	failTC  bool
	started bool
	stopped bool
}

func (f *fakeLLM) Complete(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return &domain.ChatResponse{Content: "ok"}, nil
}
func (f *fakeLLM) Embed(ctx context.Context, texts []string) ([][]float32, error) { return nil, nil }
func (f *fakeLLM) Dimensions() int                                               { return 0 }
func (f *fakeLLM) Name() string                                                  { return f.name }
func (f *fakeLLM) TestConnection(ctx context.Context) error {
	if f.failTC {
		return errors.New("boom")
	}
	return nil
}
func (f *fakeLLM) Start(ctx context.Context) error { f.started = true; return nil }
func (f *fakeLLM) Stop(ctx context.Context) error  { f.stopped = true; return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestApply_ActivatesAndEvictsSlot(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	r := New(store, nil, testLogger())

	first := &fakeLLM{name: "first"}
	second := &fakeLLM{name: "second"}

	r.Register(Manifest{
		ID:       "provider-a",
		Category: domain.CategoryAI,
		Capabilities: []Capability{CapCompletion, CapEmbedding},
		Factory: func(ctx context.Context, cfg domain.ExtensionConfig) (any, error) { return first, nil },
	})
	r.Register(Manifest{
		ID:       "provider-b",
		Category: domain.CategoryAI,
		Capabilities: []Capability{CapCompletion, CapEmbedding},
		Factory: func(ctx context.Context, cfg domain.ExtensionConfig) (any, error) { return second, nil },
	})

	if _, err := r.Apply(ctx, domain.ExtensionConfig{ID: "provider-a", Category: domain.CategoryAI, Enabled: true}); err != nil {
		t.Fatalf("apply a: %v", err)
	}
	active, ok := r.ActiveCompletionProvider()
	if !ok || active.Name() != "first" {
		t.Fatalf("expected provider-a active, got %v ok=%v", active, ok)
	}

	if _, err := r.Apply(ctx, domain.ExtensionConfig{ID: "provider-b", Category: domain.CategoryAI, Enabled: true}); err != nil {
		t.Fatalf("apply b: %v", err)
	}
	active, ok = r.ActiveCompletionProvider()
	if !ok || active.Name() != "second" {
		t.Fatalf("expected provider-b active after replace, got %v ok=%v", active, ok)
	}
	if !first.stopped {
		t.Error("expected evicted provider-a to be stopped")
	}
	if !second.started {
		t.Error("expected newly activated provider-b to be started")
	}

	cfg, err := store.Get(ctx, "provider-a")
	if err != nil {
		t.Fatalf("get provider-a config: %v", err)
	}
	if cfg.Enabled {
		t.Error("expected evicted provider-a config to be persisted disabled")
	}
}

func TestApply_FailedConnectionTestDoesNotActivate(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	r := New(store, nil, testLogger())

	bad := &fakeLLM{name: "bad", failTC: true}
	r.Register(Manifest{
		ID:           "provider-bad",
		Category:     domain.CategoryAI,
		Capabilities: []Capability{CapCompletion},
		Factory:      func(ctx context.Context, cfg domain.ExtensionConfig) (any, error) { return bad, nil },
	})

	result, err := r.Apply(ctx, domain.ExtensionConfig{ID: "provider-bad", Category: domain.CategoryAI, Enabled: true})
	if err != nil {
		t.Fatalf("apply should not error on failed test, got %v", err)
	}
	if result.Success {
		t.Fatal("expected unsuccessful connection test result")
	}
	if _, ok := r.ActiveCompletionProvider(); ok {
		t.Fatal("expected no active provider after failed connection test")
	}
}

func TestApply_DisablingClearsInstance(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	r := New(store, nil, testLogger())

	p := &fakeLLM{name: "p"}
	r.Register(Manifest{
		ID:           "provider-p",
		Category:     domain.CategoryAI,
		Capabilities: []Capability{CapCompletion},
		Factory:      func(ctx context.Context, cfg domain.ExtensionConfig) (any, error) { return p, nil },
	})
	if _, err := r.Apply(ctx, domain.ExtensionConfig{ID: "provider-p", Category: domain.CategoryAI, Enabled: true}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := r.Apply(ctx, domain.ExtensionConfig{ID: "provider-p", Category: domain.CategoryAI, Enabled: false}); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if !p.stopped {
		t.Error("expected disabled instance to be stopped")
	}
	if _, ok := r.ActiveCompletionProvider(); ok {
		t.Fatal("expected no active provider after disable")
	}
}

func TestApply_UnknownManifestErrors(t *testing.T) {
	r := New(newFakeStore(), nil, testLogger())
	_, err := r.Apply(context.Background(), domain.ExtensionConfig{ID: "nope"})
	if err == nil {
		t.Fatal("expected error for unregistered manifest id")
	}
}
