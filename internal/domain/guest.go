package domain

import (
	"context"
	"time"
)

// Guest is a hotel guest identity, unified across channels by phone or email.
type Guest struct {
	ID          string            `json:"id"`
	FirstName   string            `json:"firstName"`
	LastName    string            `json:"lastName"`
	Phone       string            `json:"phone,omitempty"`       // canonical international form
	Email       string            `json:"email,omitempty"`       // lowercased
	VIPTier     string            `json:"vipTier,omitempty"`     // "", "silver", "gold", "platinum"
	LoyaltyTier string            `json:"loyaltyTier,omitempty"` // "", "member", "elite", "elite_plus"
	ExternalIDs map[string]string `json:"externalIds,omitempty"` // source name -> external key
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// IsVIP reports whether the guest qualifies as VIP for escalation purposes:
// an explicit VIP tier, or an elevated loyalty tier.
func (g *Guest) IsVIP() bool {
	if g == nil {
		return false
	}
	if g.VIPTier != "" {
		return true
	}
	switch g.LoyaltyTier {
	case "elite", "elite_plus":
		return true
	default:
		return false
	}
}

// GuestStore persists and resolves guest identities.
type GuestStore interface {
	Get(ctx context.Context, id string) (*Guest, error)
	GetByPhone(ctx context.Context, phone string) (*Guest, error)
	GetByEmail(ctx context.Context, email string) (*Guest, error)
	// UpsertByPhone inserts-or-selects a guest keyed by canonical phone,
	// using lastNamePlaceholder if a new row must be created.
	UpsertByPhone(ctx context.Context, phone, lastNamePlaceholder string) (*Guest, error)
	// UpsertByEmail inserts-or-selects a guest keyed by lowercased email.
	UpsertByEmail(ctx context.Context, email string) (*Guest, error)
	Create(ctx context.Context, g *Guest) error
	Update(ctx context.Context, g *Guest) error
	List(ctx context.Context, limit, offset int) ([]Guest, error)
}
