// Package sellers keeps the payout account registry. A seller must register
// a payout destination before the batcher can issue transfer instructions
// for their sales.
package sellers

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSellerNotFound = errors.New("seller not found")
	// ErrNoPayoutAccount means the seller has not registered a payout
	// destination yet.
	ErrNoPayoutAccount = errors.New("seller has no payout account")
)

// Seller is a payout registry entry.
type Seller struct {
	ID            string    `json:"id"`
	DisplayName   string    `json:"displayName,omitempty"`
	PayoutAccount string    `json:"payoutAccount"` // Opaque provider account reference
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Store persists seller payout registrations.
type Store interface {
	Upsert(ctx context.Context, s *Seller) error
	Get(ctx context.Context, id string) (*Seller, error)
}

// Service wraps the store with registry semantics.
type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Register creates or updates the seller's payout account.
func (s *Service) Register(ctx context.Context, id, displayName, payoutAccount string) (*Seller, error) {
	now := s.now()
	seller := &Seller{
		ID:            id,
		DisplayName:   displayName,
		PayoutAccount: payoutAccount,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Upsert(ctx, seller); err != nil {
		return nil, err
	}
	return seller, nil
}

// Get returns the seller's registration.
func (s *Service) Get(ctx context.Context, id string) (*Seller, error) {
	return s.store.Get(ctx, id)
}

// PayoutAccount returns the seller's payout destination, or
// ErrNoPayoutAccount when none is registered.
func (s *Service) PayoutAccount(ctx context.Context, id string) (string, error) {
	seller, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSellerNotFound) {
			return "", ErrNoPayoutAccount
		}
		return "", err
	}
	if seller.PayoutAccount == "" {
		return "", ErrNoPayoutAccount
	}
	return seller.PayoutAccount, nil
}
