package store

import (
	"context"
	"time"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

// AuditStore implements domain.AuditStore.
type AuditStore struct{ db *DB }

func NewAuditStore(db *DB) *AuditStore { return &AuditStore{db: db} }

const auditColumns = `id, actor_type, actor_id, action, resource_type, resource_id, detail,
	client_ip, user_agent, timestamp`

func scanAudit(row interface{ Scan(...any) error }) (*domain.AuditEntry, error) {
	var a domain.AuditEntry
	var timestamp string
	if err := row.Scan(&a.ID, &a.ActorType, &a.ActorID, &a.Action, &a.ResourceType, &a.ResourceID,
		&a.Detail, &a.ClientIP, &a.UserAgent, &timestamp); err != nil {
		return nil, err
	}
	a.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
	return &a, nil
}

// Log appends an immutable audit entry; there is no update or delete path.
func (s *AuditStore) Log(ctx context.Context, entry domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = domain.NewID(domain.PrefixAudit)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO audit_entries (id, actor_type, actor_id, action, resource_type, resource_id,
			detail, client_ip, user_agent, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ActorType, entry.ActorID, entry.Action, entry.ResourceType, entry.ResourceID,
		entry.Detail, entry.ClientIP, entry.UserAgent, entry.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.WrapError("AuditStore.Log", domain.KindTransient, err, "")
	}
	return nil
}

func (s *AuditStore) List(ctx context.Context, limit, offset int) ([]domain.AuditEntry, error) {
	return s.query(ctx, "SELECT "+auditColumns+" FROM audit_entries ORDER BY timestamp DESC LIMIT ? OFFSET ?", limit, offset)
}

func (s *AuditStore) ListByResource(ctx context.Context, resourceType domain.ResourceType, resourceID string) ([]domain.AuditEntry, error) {
	return s.query(ctx,
		"SELECT "+auditColumns+" FROM audit_entries WHERE resource_type = ? AND resource_id = ? ORDER BY timestamp DESC",
		resourceType, resourceID)
}

func (s *AuditStore) query(ctx context.Context, query string, args ...any) ([]domain.AuditEntry, error) {
	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.WrapError("AuditStore.query", domain.KindTransient, err, "")
	}
	defer rows.Close()
	var out []domain.AuditEntry
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, domain.WrapError("AuditStore.query", domain.KindFatal, err, "scan")
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
