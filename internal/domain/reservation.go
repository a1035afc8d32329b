package domain

import (
	"context"
	"time"
)

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationInHouse    ReservationStatus = "in_house"
	ReservationCheckedOut ReservationStatus = "checked_out"
	ReservationCancelled  ReservationStatus = "cancelled"
	ReservationNoShow     ReservationStatus = "no_show"
)

// Reservation is owned by exactly one guest. Invariant: DepartureDate is
// never before ArrivalDate.
type Reservation struct {
	ID                 string            `json:"id"`
	ConfirmationNumber string            `json:"confirmationNumber"`
	GuestID            string            `json:"guestId"`
	Status             ReservationStatus `json:"status"`
	RoomNumber         string            `json:"roomNumber,omitempty"`
	ArrivalDate        time.Time         `json:"arrivalDate"`
	DepartureDate      time.Time         `json:"departureDate"`
	ExternalSource      string            `json:"externalSource,omitempty"` // PMS source name
	ExternalID          string            `json:"externalId,omitempty"`     // PMS-side reservation key
	CreatedAt           time.Time         `json:"createdAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
}

// GuestContext is the tuple resolved by context hydration for one inbound
// message: the guest profile and their relevant reservation, if any.
type GuestContext struct {
	Guest       *Guest
	Reservation *Reservation
}

// ReservationStore persists reservations and answers the queries the
// pipeline and escalation engine need.
type ReservationStore interface {
	Get(ctx context.Context, id string) (*Reservation, error)
	GetByConfirmation(ctx context.Context, confirmationNumber string) (*Reservation, error)
	// ActiveOrUpcomingForGuest returns the reservation most relevant to the
	// guest right now: the in_house stay if any, else the soonest confirmed
	// upcoming stay.
	ActiveOrUpcomingForGuest(ctx context.Context, guestID string) (*Reservation, error)
	Upsert(ctx context.Context, r *Reservation) error
	List(ctx context.Context, limit, offset int) ([]Reservation, error)
	ListModifiedSince(ctx context.Context, since time.Time) ([]Reservation, error)
}

// NormalizedGuest is the guest shape a PMSAdapter returns alongside a
// NormalizedReservation, used for upsert by externalId/source.
type NormalizedGuest struct {
	FirstName string
	LastName  string
	Phone     string
	Email     string
	Source    string
	ExternalID string
}

// NormalizedReservation is what a PMSAdapter reports for a modified booking.
type NormalizedReservation struct {
	ConfirmationNumber string
	Status             ReservationStatus
	RoomNumber         string
	ArrivalDate        time.Time
	DepartureDate      time.Time
	Source             string
	ExternalID         string
	Guest              NormalizedGuest
}

// PMSAdapter is the contract a property-management system integration
// implements (spec §6).
type PMSAdapter interface {
	GetModifiedReservations(ctx context.Context, since time.Time) ([]NormalizedReservation, error)
	TestConnection(ctx context.Context) error
	Name() string
}
