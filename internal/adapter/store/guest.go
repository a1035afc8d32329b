package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

// GuestStore implements domain.GuestStore.
type GuestStore struct{ db *DB }

func NewGuestStore(db *DB) *GuestStore { return &GuestStore{db: db} }

const guestColumns = "id, first_name, last_name, phone, email, vip_tier, loyalty_tier, external_ids, created_at, updated_at"

func scanGuest(row interface{ Scan(...any) error }) (*domain.Guest, error) {
	var g domain.Guest
	var phone, email sql.NullString
	var externalIDs, createdAt, updatedAt string
	if err := row.Scan(&g.ID, &g.FirstName, &g.LastName, &phone, &email, &g.VIPTier, &g.LoyaltyTier,
		&externalIDs, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	g.Phone = phone.String
	g.Email = email.String
	if externalIDs != "" {
		_ = json.Unmarshal([]byte(externalIDs), &g.ExternalIDs)
	}
	g.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	g.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &g, nil
}

func (s *GuestStore) Get(ctx context.Context, id string) (*domain.Guest, error) {
	row := s.db.conn.QueryRowContext(ctx, "SELECT "+guestColumns+" FROM guests WHERE id = ?", id)
	g, err := scanGuest(row)
	if err != nil {
		return nil, noRowsToNotFound("GuestStore.Get", err)
	}
	return g, nil
}

func (s *GuestStore) GetByPhone(ctx context.Context, phone string) (*domain.Guest, error) {
	row := s.db.conn.QueryRowContext(ctx, "SELECT "+guestColumns+" FROM guests WHERE phone = ?", phone)
	g, err := scanGuest(row)
	if err != nil {
		return nil, noRowsToNotFound("GuestStore.GetByPhone", err)
	}
	return g, nil
}

func (s *GuestStore) GetByEmail(ctx context.Context, email string) (*domain.Guest, error) {
	row := s.db.conn.QueryRowContext(ctx, "SELECT "+guestColumns+" FROM guests WHERE email = ?", email)
	g, err := scanGuest(row)
	if err != nil {
		return nil, noRowsToNotFound("GuestStore.GetByEmail", err)
	}
	return g, nil
}

// UpsertByPhone inserts-or-selects a guest keyed by canonical phone. The
// INSERT ... ON CONFLICT DO NOTHING followed by a SELECT makes two
// concurrent first-time inbounds from the same number converge on one row
// (spec §5's upsert concurrency requirement).
func (s *GuestStore) UpsertByPhone(ctx context.Context, phone, lastNamePlaceholder string) (*domain.Guest, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	id := domain.NewID(domain.PrefixGuest)
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO guests (id, first_name, last_name, phone, external_ids, created_at, updated_at)
		 VALUES (?, '', ?, ?, '{}', ?, ?)
		 ON CONFLICT(phone) DO NOTHING`,
		id, lastNamePlaceholder, phone, now, now,
	)
	if err != nil {
		return nil, domain.WrapError("GuestStore.UpsertByPhone", domain.KindTransient, err, "")
	}
	return s.GetByPhone(ctx, phone)
}

// UpsertByEmail inserts-or-selects a guest keyed by lowercased email.
func (s *GuestStore) UpsertByEmail(ctx context.Context, email string) (*domain.Guest, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	id := domain.NewID(domain.PrefixGuest)
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO guests (id, first_name, last_name, email, external_ids, created_at, updated_at)
		 VALUES (?, '', '', ?, '{}', ?, ?)
		 ON CONFLICT(email) DO NOTHING`,
		id, email, now, now,
	)
	if err != nil {
		return nil, domain.WrapError("GuestStore.UpsertByEmail", domain.KindTransient, err, "")
	}
	return s.GetByEmail(ctx, email)
}

func (s *GuestStore) Create(ctx context.Context, g *domain.Guest) error {
	if g.ID == "" {
		g.ID = domain.NewID(domain.PrefixGuest)
	}
	now := time.Now().UTC()
	g.CreatedAt, g.UpdatedAt = now, now
	extJSON, _ := json.Marshal(g.ExternalIDs)
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO guests (id, first_name, last_name, phone, email, vip_tier, loyalty_tier, external_ids, created_at, updated_at)
		 VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?, ?)`,
		g.ID, g.FirstName, g.LastName, g.Phone, g.Email, g.VIPTier, g.LoyaltyTier, string(extJSON),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.WrapError("GuestStore.Create", domain.KindConflict, err, "")
	}
	return nil
}

func (s *GuestStore) Update(ctx context.Context, g *domain.Guest) error {
	g.UpdatedAt = time.Now().UTC()
	extJSON, _ := json.Marshal(g.ExternalIDs)
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE guests SET first_name=?, last_name=?, phone=NULLIF(?, ''), email=NULLIF(?, ''),
		 vip_tier=?, loyalty_tier=?, external_ids=?, updated_at=? WHERE id=?`,
		g.FirstName, g.LastName, g.Phone, g.Email, g.VIPTier, g.LoyaltyTier, string(extJSON),
		g.UpdatedAt.Format(time.RFC3339Nano), g.ID,
	)
	if err != nil {
		return domain.WrapError("GuestStore.Update", domain.KindTransient, err, "")
	}
	return rowsAffectedOrNotFound(res, "GuestStore.Update")
}

func (s *GuestStore) List(ctx context.Context, limit, offset int) ([]domain.Guest, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		"SELECT "+guestColumns+" FROM guests ORDER BY created_at DESC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, domain.WrapError("GuestStore.List", domain.KindTransient, err, "")
	}
	defer rows.Close()

	var out []domain.Guest
	for rows.Next() {
		g, err := scanGuest(rows)
		if err != nil {
			return nil, domain.WrapError("GuestStore.List", domain.KindFatal, err, "scan")
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}
