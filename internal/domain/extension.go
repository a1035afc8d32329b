package domain

import (
	"context"
	"time"
)

// AppCategory is one of the three adapter categories the registry manages.
type AppCategory string

const (
	CategoryAI      AppCategory = "ai"
	CategoryChannel AppCategory = "channel"
	CategoryPMS     AppCategory = "pms"
)

// FieldType is the input widget a config field renders as in the staff UI.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldPassword FieldType = "password"
	FieldNumber   FieldType = "number"
	FieldBoolean  FieldType = "boolean"
	FieldSelect   FieldType = "select"
)

// ConfigField is one declarative field of an adapter's config schema.
type ConfigField struct {
	Key         string    `json:"key"`
	Label       string    `json:"label"`
	Type        FieldType `json:"type"`
	Required    bool      `json:"required"`
	Options     []string  `json:"options,omitempty"`
	Default     string    `json:"default,omitempty"`
	Placeholder string    `json:"placeholder,omitempty"`
}

// AppStatus is the runtime state of one live adapter instance.
type AppStatus string

const (
	AppActive       AppStatus = "active"
	AppInactive     AppStatus = "inactive"
	AppError        AppStatus = "error"
	AppUnconfigured AppStatus = "unconfigured"
)

// ConnectionTestResult is what TestConnection returns for any adapter type.
type ConnectionTestResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Details   string `json:"details,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
}

// ExtensionConfig is the stored, hot-swappable configuration for one app
// instance. Config holds opaque JSON; it is encrypted at rest when the
// store is wrapped in store.EncryptedExtensionStore (see
// internal/security.AESContentEncryptor).
type ExtensionConfig struct {
	ID          string         `json:"id"` // e.g. "whatsapp-meta", "anthropic"
	Category    AppCategory    `json:"category"`
	Config      map[string]any `json:"config"`
	Enabled     bool           `json:"enabled"`
	Status      AppStatus      `json:"status"`
	LastTestAt  *time.Time     `json:"lastTestAt,omitempty"`
	LastTestOK  bool           `json:"lastTestOk"`
	LastError   string         `json:"lastError,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// ExtensionStore persists extension configurations.
type ExtensionStore interface {
	Get(ctx context.Context, id string) (*ExtensionConfig, error)
	ListByCategory(ctx context.Context, category AppCategory) ([]ExtensionConfig, error)
	List(ctx context.Context) ([]ExtensionConfig, error)
	Upsert(ctx context.Context, c *ExtensionConfig) error
	// ActiveInCategory returns the single enabled, active config in a
	// category, if any (spec §4.4's 0-or-1 selection policy).
	ActiveInCategory(ctx context.Context, category AppCategory) (*ExtensionConfig, error)
}
