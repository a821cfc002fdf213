// Package inventory manages ticket records and their lifecycle status.
//
// Status transitions are applied exclusively through guarded, single-row
// conditional updates at the store layer: a transition only succeeds if the
// ticket is still in the expected source state at write time. This is the
// platform's sole concurrency-safety mechanism and must never be replaced by
// read-then-check-then-write in application code.
package inventory

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrTicketConflict means the ticket was not in the expected status for
	// the attempted transition (e.g. a racing checkout already holds it).
	ErrTicketConflict = errors.New("ticket not in expected status")
)

// Status represents the lifecycle state of a ticket listing.
type Status string

const (
	StatusActive Status = "active" // Listed and purchasable ("available" accepted as input synonym)
	StatusHeld   Status = "held"   // Reserved by a pending order
	StatusSold   Status = "sold"   // Purchase completed
)

// Valid reports whether s is a known ticket status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusHeld, StatusSold:
		return true
	}
	return false
}

// Ticket represents a listed ticket for resale.
type Ticket struct {
	ID            string     `json:"id"`
	EventID       string     `json:"eventId"`
	SellerID      string     `json:"sellerId"`
	PriceCents    int64      `json:"priceCents"`
	Status        Status     `json:"status"`
	EventStartsAt *time.Time `json:"eventStartsAt,omitempty"`
	HoldExpiresAt *time.Time `json:"holdExpiresAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Store persists tickets. All status-changing methods are conditional:
// they return ErrTicketConflict when the ticket exists but is not in the
// required source status, and ErrTicketNotFound when it does not exist.
type Store interface {
	Create(ctx context.Context, t *Ticket) error
	Get(ctx context.Context, id string) (*Ticket, error)

	// Hold marks an active ticket held until expiresAt.
	// Guarded by WHERE status = 'active'.
	Hold(ctx context.Context, id string, expiresAt time.Time) error

	// MarkSold marks a held ticket sold and clears the hold expiry.
	// Guarded by WHERE status = 'held'.
	MarkSold(ctx context.Context, id string) error

	// Release returns a held ticket to active and clears the hold expiry.
	// Guarded by WHERE status = 'held' so it can never un-sell a ticket a
	// concurrent confirmation just marked sold.
	Release(ctx context.Context, id string) error

	ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Ticket, error)
}
