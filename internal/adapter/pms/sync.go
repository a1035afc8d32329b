package pms

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

// defaultSyncInterval is how often Syncer polls the active PMS adapter for
// modified reservations, matching the automation scheduler's fixed-cadence
// tick pattern (internal/usecase/automation/scheduler.go).
const defaultSyncInterval = 5 * time.Minute

// Syncer periodically reconciles reservations and guests from whichever
// domain.PMSAdapter is currently active, via the supplied lookup (the app
// registry's ActivePMS, typically) — so a staff-console reconfiguration of
// the PMS integration takes effect on the adapter's next tick without a
// restart.
type Syncer struct {
	Lookup       func() (domain.PMSAdapter, bool)
	Guests       domain.GuestStore
	Reservations domain.ReservationStore
	Events       domain.EventBus
	Interval     time.Duration
	Logger       *slog.Logger

	mu       sync.Mutex
	lastSync map[string]time.Time // pms name -> last successful sync cursor
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewSyncer constructs a Syncer with the default interval.
func NewSyncer(lookup func() (domain.PMSAdapter, bool), guests domain.GuestStore, reservations domain.ReservationStore,
	events domain.EventBus, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		Lookup: lookup, Guests: guests, Reservations: reservations, Events: events,
		Interval: defaultSyncInterval, Logger: logger, lastSync: make(map[string]time.Time),
	}
}

// Start launches the polling loop. Safe to call once; call Stop before
// Start-ing again.
func (s *Syncer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	interval := s.Interval
	if interval <= 0 {
		interval = defaultSyncInterval
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop cancels the polling loop and waits for any in-flight tick to finish.
func (s *Syncer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Syncer) tick(ctx context.Context) {
	adapter, ok := s.Lookup()
	if !ok {
		return
	}

	s.mu.Lock()
	since, seen := s.lastSync[adapter.Name()]
	s.mu.Unlock()
	if !seen {
		since = time.Now().Add(-24 * time.Hour)
	}

	reservations, err := adapter.GetModifiedReservations(ctx, since)
	if err != nil {
		s.Logger.Warn("pms sync: fetch modified reservations failed", "pms", adapter.Name(), "error", err)
		return
	}

	start := time.Now().UTC()
	for _, nr := range reservations {
		s.reconcile(ctx, nr)
	}

	s.mu.Lock()
	s.lastSync[adapter.Name()] = start
	s.mu.Unlock()

	if len(reservations) > 0 {
		s.Logger.Info("pms sync: reconciled reservations", "pms", adapter.Name(), "count", len(reservations))
	}
}

func (s *Syncer) reconcile(ctx context.Context, nr domain.NormalizedReservation) {
	guest, err := s.upsertGuest(ctx, nr.Guest)
	if err != nil {
		s.Logger.Warn("pms sync: guest upsert failed", "externalId", nr.Guest.ExternalID, "error", err)
		return
	}

	existing, err := s.Reservations.GetByConfirmation(ctx, nr.ConfirmationNumber)
	isNew := err != nil

	res := domain.Reservation{
		ConfirmationNumber: nr.ConfirmationNumber,
		GuestID:            guest.ID,
		Status:             nr.Status,
		RoomNumber:         nr.RoomNumber,
		ArrivalDate:        nr.ArrivalDate,
		DepartureDate:      nr.DepartureDate,
		ExternalSource:     nr.Source,
		ExternalID:         nr.ExternalID,
	}
	if !isNew {
		res.ID = existing.ID
	}

	if err := s.Reservations.Upsert(ctx, &res); err != nil {
		s.Logger.Warn("pms sync: reservation upsert failed", "confirmation", nr.ConfirmationNumber, "error", err)
		return
	}

	eventType := domain.EventReservationUpdated
	if isNew {
		eventType = domain.EventReservationCreated
	}
	s.publish(ctx, eventType, map[string]any{"reservationId": res.ID, "guestId": guest.ID})
}

func (s *Syncer) upsertGuest(ctx context.Context, ng domain.NormalizedGuest) (*domain.Guest, error) {
	var guest *domain.Guest
	var err error
	switch {
	case ng.Phone != "":
		guest, err = s.Guests.UpsertByPhone(ctx, ng.Phone, ng.LastName)
	case ng.Email != "":
		guest, err = s.Guests.UpsertByEmail(ctx, ng.Email)
	default:
		guest = &domain.Guest{FirstName: ng.FirstName, LastName: ng.LastName}
		err = s.Guests.Create(ctx, guest)
	}
	if err != nil {
		return nil, err
	}
	if guest.FirstName == "" && ng.FirstName != "" {
		guest.FirstName = ng.FirstName
		guest.LastName = ng.LastName
		_ = s.Guests.Update(ctx, guest)
	}
	if guest.ExternalIDs == nil {
		guest.ExternalIDs = map[string]string{}
	}
	if ng.ExternalID != "" && guest.ExternalIDs[ng.Source] != ng.ExternalID {
		guest.ExternalIDs[ng.Source] = ng.ExternalID
		_ = s.Guests.Update(ctx, guest)
	}
	return guest, nil
}

func (s *Syncer) publish(ctx context.Context, eventType domain.EventType, payload map[string]any) {
	if s.Events == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.Events.Publish(ctx, domain.Event{Type: eventType, Timestamp: time.Now().UTC(), Payload: raw})
}
