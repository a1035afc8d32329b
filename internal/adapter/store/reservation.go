package store

import (
	"context"
	"time"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

// ReservationStore implements domain.ReservationStore.
type ReservationStore struct{ db *DB }

func NewReservationStore(db *DB) *ReservationStore { return &ReservationStore{db: db} }

const reservationColumns = `id, confirmation_number, guest_id, status, room_number, arrival_date,
	departure_date, external_source, external_id, created_at, updated_at`

func scanReservation(row interface{ Scan(...any) error }) (*domain.Reservation, error) {
	var r domain.Reservation
	var arrival, departure, createdAt, updatedAt string
	if err := row.Scan(&r.ID, &r.ConfirmationNumber, &r.GuestID, &r.Status, &r.RoomNumber,
		&arrival, &departure, &r.ExternalSource, &r.ExternalID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	r.ArrivalDate, _ = time.Parse(time.RFC3339Nano, arrival)
	r.DepartureDate, _ = time.Parse(time.RFC3339Nano, departure)
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &r, nil
}

func (s *ReservationStore) Get(ctx context.Context, id string) (*domain.Reservation, error) {
	row := s.db.conn.QueryRowContext(ctx, "SELECT "+reservationColumns+" FROM reservations WHERE id = ?", id)
	r, err := scanReservation(row)
	if err != nil {
		return nil, noRowsToNotFound("ReservationStore.Get", err)
	}
	return r, nil
}

func (s *ReservationStore) GetByConfirmation(ctx context.Context, confirmationNumber string) (*domain.Reservation, error) {
	row := s.db.conn.QueryRowContext(ctx,
		"SELECT "+reservationColumns+" FROM reservations WHERE confirmation_number = ?", confirmationNumber)
	r, err := scanReservation(row)
	if err != nil {
		return nil, noRowsToNotFound("ReservationStore.GetByConfirmation", err)
	}
	return r, nil
}

// ActiveOrUpcomingForGuest returns the in_house stay if any, else the
// soonest confirmed upcoming stay.
func (s *ReservationStore) ActiveOrUpcomingForGuest(ctx context.Context, guestID string) (*domain.Reservation, error) {
	row := s.db.conn.QueryRowContext(ctx,
		"SELECT "+reservationColumns+` FROM reservations WHERE guest_id = ? AND status = ? LIMIT 1`,
		guestID, domain.ReservationInHouse)
	if r, err := scanReservation(row); err == nil {
		return r, nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	row = s.db.conn.QueryRowContext(ctx,
		"SELECT "+reservationColumns+` FROM reservations
		 WHERE guest_id = ? AND status = ? AND arrival_date >= ?
		 ORDER BY arrival_date ASC LIMIT 1`,
		guestID, domain.ReservationConfirmed, now)
	r, err := scanReservation(row)
	if err != nil {
		return nil, noRowsToNotFound("ReservationStore.ActiveOrUpcomingForGuest", err)
	}
	return r, nil
}

// Upsert inserts a new reservation or updates an existing one keyed by
// confirmation number, used both for manual creation and PMS sync.
func (s *ReservationStore) Upsert(ctx context.Context, r *domain.Reservation) error {
	if r.ID == "" {
		r.ID = domain.NewID(domain.PrefixReservation)
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO reservations (id, confirmation_number, guest_id, status, room_number,
			arrival_date, departure_date, external_source, external_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(confirmation_number) DO UPDATE SET
			guest_id = excluded.guest_id,
			status = excluded.status,
			room_number = excluded.room_number,
			arrival_date = excluded.arrival_date,
			departure_date = excluded.departure_date,
			external_source = excluded.external_source,
			external_id = excluded.external_id,
			updated_at = excluded.updated_at`,
		r.ID, r.ConfirmationNumber, r.GuestID, r.Status, r.RoomNumber,
		r.ArrivalDate.Format(time.RFC3339Nano), r.DepartureDate.Format(time.RFC3339Nano),
		r.ExternalSource, r.ExternalID,
		r.CreatedAt.Format(time.RFC3339Nano), r.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.WrapError("ReservationStore.Upsert", domain.KindConflict, err, "")
	}
	return nil
}

func (s *ReservationStore) List(ctx context.Context, limit, offset int) ([]domain.Reservation, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		"SELECT "+reservationColumns+" FROM reservations ORDER BY arrival_date DESC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, domain.WrapError("ReservationStore.List", domain.KindTransient, err, "")
	}
	defer rows.Close()
	var out []domain.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, domain.WrapError("ReservationStore.List", domain.KindFatal, err, "scan")
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *ReservationStore) ListModifiedSince(ctx context.Context, since time.Time) ([]domain.Reservation, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		"SELECT "+reservationColumns+" FROM reservations WHERE updated_at >= ? ORDER BY updated_at ASC",
		since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, domain.WrapError("ReservationStore.ListModifiedSince", domain.KindTransient, err, "")
	}
	defer rows.Close()
	var out []domain.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, domain.WrapError("ReservationStore.ListModifiedSince", domain.KindFatal, err, "scan")
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
