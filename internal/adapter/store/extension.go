package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

// ExtensionStore implements domain.ExtensionStore.
type ExtensionStore struct{ db *DB }

func NewExtensionStore(db *DB) *ExtensionStore { return &ExtensionStore{db: db} }

const extensionColumns = `id, category, config, enabled, status, last_test_at, last_test_ok,
	last_error, created_at, updated_at`

func scanExtension(row interface{ Scan(...any) error }) (*domain.ExtensionConfig, error) {
	var c domain.ExtensionConfig
	var enabled, lastTestOK int
	var configJSON, createdAt, updatedAt string
	var lastTestAt sql.NullString
	if err := row.Scan(&c.ID, &c.Category, &configJSON, &enabled, &c.Status, &lastTestAt, &lastTestOK,
		&c.LastError, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.Enabled = enabled != 0
	c.LastTestOK = lastTestOK != 0
	_ = json.Unmarshal([]byte(configJSON), &c.Config)
	if lastTestAt.Valid {
		v, _ := time.Parse(time.RFC3339Nano, lastTestAt.String)
		c.LastTestAt = &v
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &c, nil
}

func (s *ExtensionStore) Get(ctx context.Context, id string) (*domain.ExtensionConfig, error) {
	row := s.db.conn.QueryRowContext(ctx, "SELECT "+extensionColumns+" FROM extension_configs WHERE id = ?", id)
	c, err := scanExtension(row)
	if err != nil {
		return nil, noRowsToNotFound("ExtensionStore.Get", err)
	}
	return c, nil
}

func (s *ExtensionStore) ListByCategory(ctx context.Context, category domain.AppCategory) ([]domain.ExtensionConfig, error) {
	return s.query(ctx, "SELECT "+extensionColumns+" FROM extension_configs WHERE category = ? ORDER BY id", category)
}

func (s *ExtensionStore) List(ctx context.Context) ([]domain.ExtensionConfig, error) {
	return s.query(ctx, "SELECT "+extensionColumns+" FROM extension_configs ORDER BY category, id")
}

// ActiveInCategory returns the single enabled, active config in a category.
// Configuration flows through Upsert, so at most one row can legitimately
// hold enabled=1 AND status='active' per category by convention of the
// registry that writes these rows; this just surfaces whichever exists.
func (s *ExtensionStore) ActiveInCategory(ctx context.Context, category domain.AppCategory) (*domain.ExtensionConfig, error) {
	row := s.db.conn.QueryRowContext(ctx,
		"SELECT "+extensionColumns+" FROM extension_configs WHERE category = ? AND enabled = 1 AND status = ? LIMIT 1",
		category, domain.AppActive)
	c, err := scanExtension(row)
	if err != nil {
		return nil, noRowsToNotFound("ExtensionStore.ActiveInCategory", err)
	}
	return c, nil
}

func (s *ExtensionStore) Upsert(ctx context.Context, c *domain.ExtensionConfig) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	configJSON, _ := json.Marshal(c.Config)
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO extension_configs (id, category, config, enabled, status, last_test_at,
			last_test_ok, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			category = excluded.category,
			config = excluded.config,
			enabled = excluded.enabled,
			status = excluded.status,
			last_test_at = excluded.last_test_at,
			last_test_ok = excluded.last_test_ok,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		c.ID, c.Category, string(configJSON), boolToInt(c.Enabled), c.Status, nullableTime(c.LastTestAt),
		boolToInt(c.LastTestOK), c.LastError, c.CreatedAt.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.WrapError("ExtensionStore.Upsert", domain.KindConflict, err, "")
	}
	return nil
}

func (s *ExtensionStore) query(ctx context.Context, query string, args ...any) ([]domain.ExtensionConfig, error) {
	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.WrapError("ExtensionStore.query", domain.KindTransient, err, "")
	}
	defer rows.Close()
	var out []domain.ExtensionConfig
	for rows.Next() {
		c, err := scanExtension(rows)
		if err != nil {
			return nil, domain.WrapError("ExtensionStore.query", domain.KindFatal, err, "scan")
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
