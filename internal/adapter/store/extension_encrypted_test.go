package store

import (
	"context"
	"testing"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
	"github.com/arashkay/JackTheButler-sub003/internal/security"
)

func TestEncryptedExtensionStoreRoundTrip(t *testing.T) {
	db := newTestDB(t)

	enc, err := security.NewAESContentEncryptor("test-passphrase")
	if err != nil {
		t.Fatalf("NewAESContentEncryptor: %v", err)
	}

	s := NewEncryptedExtensionStore(NewExtensionStore(db), enc)
	ctx := context.Background()

	cfg := &domain.ExtensionConfig{
		ID:       "anthropic",
		Category: domain.CategoryAI,
		Config:   map[string]any{"api_key": "sk-secret-value"},
		Enabled:  true,
		Status:   domain.AppActive,
	}
	if err := s.Upsert(ctx, cfg); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.Get(ctx, "anthropic")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Config["api_key"] != "sk-secret-value" {
		t.Fatalf("expected decrypted api_key, got %v", got.Config["api_key"])
	}

	raw, err := NewExtensionStore(db).Get(ctx, "anthropic")
	if err != nil {
		t.Fatalf("raw Get: %v", err)
	}
	if _, ok := raw.Config["sealed"]; !ok {
		t.Fatal("expected config to be stored sealed at rest")
	}
	if raw.Config["api_key"] != nil {
		t.Fatal("plaintext api_key must not be stored at rest")
	}
}

func TestEncryptedExtensionStorePassthroughWithoutEncryptor(t *testing.T) {
	db := newTestDB(t)

	s := NewEncryptedExtensionStore(NewExtensionStore(db), nil)
	ctx := context.Background()

	cfg := &domain.ExtensionConfig{ID: "openai", Category: domain.CategoryAI, Config: map[string]any{"api_key": "plain"}}
	if err := s.Upsert(ctx, cfg); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, err := s.Get(ctx, "openai")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Config["api_key"] != "plain" {
		t.Fatalf("expected passthrough, got %v", got.Config["api_key"])
	}
}
