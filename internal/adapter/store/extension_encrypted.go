package store

import (
	"context"
	"encoding/json"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

// ContentEncryptor is the narrow capability EncryptedExtensionStore needs.
// internal/security.AESContentEncryptor satisfies it.
type ContentEncryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// EncryptedExtensionStore wraps a domain.ExtensionStore so that
// ExtensionConfig.Config — which can carry API keys and webhook secrets —
// is encrypted at rest (spec §9's design-notes guidance on credential
// storage). The whole config blob is encrypted as one opaque string rather
// than field-by-field: the registry's ConfigSchema already tells the UI
// which fields are secret, but the store layer has no business knowing
// that distinction.
type EncryptedExtensionStore struct {
	inner domain.ExtensionStore
	enc   ContentEncryptor
}

// NewEncryptedExtensionStore wraps inner with enc. A nil enc makes this a
// transparent passthrough, useful when no encryption key is configured.
func NewEncryptedExtensionStore(inner domain.ExtensionStore, enc ContentEncryptor) *EncryptedExtensionStore {
	return &EncryptedExtensionStore{inner: inner, enc: enc}
}

func (s *EncryptedExtensionStore) Get(ctx context.Context, id string) (*domain.ExtensionConfig, error) {
	c, err := s.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return c, s.decryptInPlace(c)
}

func (s *EncryptedExtensionStore) ListByCategory(ctx context.Context, category domain.AppCategory) ([]domain.ExtensionConfig, error) {
	list, err := s.inner.ListByCategory(ctx, category)
	if err != nil {
		return nil, err
	}
	return s.decryptList(list)
}

func (s *EncryptedExtensionStore) List(ctx context.Context) ([]domain.ExtensionConfig, error) {
	list, err := s.inner.List(ctx)
	if err != nil {
		return nil, err
	}
	return s.decryptList(list)
}

func (s *EncryptedExtensionStore) ActiveInCategory(ctx context.Context, category domain.AppCategory) (*domain.ExtensionConfig, error) {
	c, err := s.inner.ActiveInCategory(ctx, category)
	if err != nil {
		return nil, err
	}
	return c, s.decryptInPlace(c)
}

func (s *EncryptedExtensionStore) Upsert(ctx context.Context, c *domain.ExtensionConfig) error {
	if s.enc == nil {
		return s.inner.Upsert(ctx, c)
	}

	plain := c.Config
	blob, err := json.Marshal(plain)
	if err != nil {
		return domain.WrapError("EncryptedExtensionStore.Upsert", domain.KindValidation, err, "marshal config")
	}
	sealed, err := s.enc.Encrypt(string(blob))
	if err != nil {
		return domain.WrapError("EncryptedExtensionStore.Upsert", domain.KindFatal, err, "encrypt config")
	}

	stored := *c
	stored.Config = map[string]any{"sealed": sealed}
	if err := s.inner.Upsert(ctx, &stored); err != nil {
		return err
	}
	c.CreatedAt, c.UpdatedAt = stored.CreatedAt, stored.UpdatedAt
	return nil
}

func (s *EncryptedExtensionStore) decryptList(list []domain.ExtensionConfig) ([]domain.ExtensionConfig, error) {
	for i := range list {
		if err := s.decryptInPlace(&list[i]); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (s *EncryptedExtensionStore) decryptInPlace(c *domain.ExtensionConfig) error {
	if s.enc == nil || c == nil {
		return nil
	}
	sealed, ok := c.Config["sealed"].(string)
	if !ok {
		return nil // written before encryption was enabled, or already plain
	}
	plain, err := s.enc.Decrypt(sealed)
	if err != nil {
		return domain.WrapError("EncryptedExtensionStore.decryptInPlace", domain.KindFatal, err, "decrypt config")
	}
	var cfg map[string]any
	if err := json.Unmarshal([]byte(plain), &cfg); err != nil {
		return domain.WrapError("EncryptedExtensionStore.decryptInPlace", domain.KindFatal, err, "unmarshal config")
	}
	c.Config = cfg
	return nil
}
