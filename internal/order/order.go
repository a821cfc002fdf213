// Package order holds purchase-attempt records and their lifecycle status.
//
// The status domain and its legal transitions are encoded in an explicit
// table (state × event → next state); anything outside the table is rejected
// with ErrIllegalTransition before a write is even attempted. The stores
// additionally guard every transition with a conditional single-row update,
// so concurrent races fail safely into a conflict instead of corrupting state.
package order

import (
	"context"
	"errors"
	"time"

	"github.com/seatswap/seatswap/internal/pagination"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderConflict means the order was not in the expected status at
	// write time; the caller should re-fetch the current state.
	ErrOrderConflict = errors.New("order not in expected status")
	// ErrIllegalTransition means the requested event is not defined for the
	// order's current status in the transition table.
	ErrIllegalTransition = errors.New("illegal order status transition")
)

// Status represents the lifecycle state of an order.
type Status string

const (
	StatusPending       Status = "pending"         // Created, awaiting provider outcome
	StatusHeld          Status = "held"            // Payment captured, funds in escrow
	StatusBuyerOK       Status = "buyer_ok"        // Buyer confirmed receipt
	StatusReadyToPayout Status = "ready_to_payout" // Release time elapsed, awaiting batch
	StatusPaidOut       Status = "paid_out"        // Included in a payout batch
	StatusPaymentFailed Status = "payment_failed"  // Provider rejected the payment
	StatusExpired       Status = "expired"         // Reclaimed after hold TTL
	StatusCanceled      Status = "canceled"        // Provider-reported cancel
	StatusDisputed      Status = "disputed"        // Buyer disputed, payout blocked
)

// Terminal reports whether s admits no further transitions.
// Disputed is deliberately not terminal: external resolution (out of band)
// may return the order to the payout path, but never while still disputed.
func (s Status) Terminal() bool {
	switch s {
	case StatusPaidOut, StatusPaymentFailed, StatusExpired, StatusCanceled:
		return true
	}
	return false
}

// Event identifies a cause of an order status transition.
type Event string

const (
	EventPaymentApproved Event = "payment_approved"
	EventPaymentRejected Event = "payment_rejected"
	EventPaymentCanceled Event = "payment_canceled"
	EventHoldExpired     Event = "hold_expired"
	EventBuyerApproved   Event = "buyer_approved"
	EventBuyerDisputed   Event = "buyer_disputed"
	EventReleaseElapsed  Event = "release_elapsed"
	EventBatched         Event = "batched"
)

// transitions is the legal-move table. Absence means reject.
var transitions = map[Status]map[Event]Status{
	StatusPending: {
		EventPaymentApproved: StatusHeld,
		EventPaymentRejected: StatusPaymentFailed,
		EventPaymentCanceled: StatusCanceled,
		EventHoldExpired:     StatusExpired,
	},
	StatusHeld: {
		EventBuyerApproved:  StatusBuyerOK,
		EventBuyerDisputed:  StatusDisputed,
		EventReleaseElapsed: StatusReadyToPayout,
	},
	StatusBuyerOK: {
		EventBuyerApproved:  StatusBuyerOK, // re-approval only extends the cooldown
		EventBuyerDisputed:  StatusDisputed,
		EventReleaseElapsed: StatusReadyToPayout,
	},
	StatusReadyToPayout: {
		EventBatched: StatusPaidOut,
	},
}

// Next returns the resulting status for applying event in state from,
// or ErrIllegalTransition if the table has no such move.
func Next(from Status, event Event) (Status, error) {
	if to, ok := transitions[from][event]; ok {
		return to, nil
	}
	return "", ErrIllegalTransition
}

// Order represents one purchase attempt against a ticket.
type Order struct {
	ID              string     `json:"id"`
	BuyerID         string     `json:"buyerId"`
	SellerID        string     `json:"sellerId"`
	TicketID        string     `json:"ticketId"`
	AmountCents     int64      `json:"amountCents"`     // Ticket price (seller-due)
	ServiceFeeCents int64      `json:"serviceFeeCents"` // Platform fee
	TotalCents      int64      `json:"totalCents"`      // Charged to the buyer
	Status          Status     `json:"status"`
	PaymentState    string     `json:"paymentState,omitempty"` // Raw provider state, never interpreted
	ProviderToken   string     `json:"providerToken,omitempty"`
	EventStartsAt   *time.Time `json:"eventStartsAt,omitempty"` // Snapshot from the ticket at checkout
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	PaidAt          *time.Time `json:"paidAt,omitempty"`
	BuyerOKAt       *time.Time `json:"buyerOkAt,omitempty"`
	ReleaseAt       *time.Time `json:"releaseAt,omitempty"`
	DisputeAt       *time.Time `json:"disputeAt,omitempty"`
	DisputeReason   string     `json:"disputeReason,omitempty"`
	PayoutBatchID   string     `json:"payoutBatchId,omitempty"`
}

// Store persists orders. Transition methods are guarded by the source status;
// they return ErrOrderConflict when the order exists but the guard does not
// match, and ErrOrderNotFound when it does not exist.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// ListByBuyer and ListBySeller return orders newest first, resuming
	// after the optional cursor.
	ListByBuyer(ctx context.Context, buyerID string, cursor *pagination.Cursor, limit int) ([]*Order, error)
	ListBySeller(ctx context.Context, sellerID string, cursor *pagination.Cursor, limit int) ([]*Order, error)

	// SetProviderToken stores the provider session token, only if none is
	// stored yet (session creation idempotency).
	SetProviderToken(ctx context.Context, id, token string) error

	// MarkPaid moves pending → held. Guarded by WHERE status = 'pending'.
	MarkPaid(ctx context.Context, id string, paidAt time.Time, paymentState string) error

	// FailPending moves pending → payment_failed | canceled | expired.
	// Guarded by WHERE status = 'pending'.
	FailPending(ctx context.Context, id string, to Status, paymentState string) error

	// Approve moves held|buyer_ok → buyer_ok, setting buyer_ok_at and
	// release_at = max(existing release_at, minRelease). The monotonic max
	// is computed inside the store write so the release date can never
	// regress, even under concurrent approvals.
	Approve(ctx context.Context, id string, buyerOKAt, minRelease time.Time) error

	// Dispute moves held|buyer_ok → disputed, recording the reason.
	Dispute(ctx context.Context, id, reason string, at time.Time) error

	// MarkReadyForPayout moves held|buyer_ok → ready_to_payout, persisting
	// the (possibly derived) release time. Guarded so a concurrent dispute
	// wins the race.
	MarkReadyForPayout(ctx context.Context, id string, releaseAt time.Time) error

	// AttachToBatch moves ready_to_payout → paid_out and assigns the batch.
	// Guarded by WHERE status = 'ready_to_payout' AND payout_batch_id IS NULL
	// so no order is ever counted into two batches.
	AttachToBatch(ctx context.Context, id, batchID string) error

	// ListStalePending returns pending orders created before the cutoff.
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]*Order, error)

	// ListPayoutCandidates returns held|buyer_ok orders not yet batched.
	ListPayoutCandidates(ctx context.Context, limit int) ([]*Order, error)

	// ListReadyUnbatched returns ready_to_payout orders with no batch assigned.
	ListReadyUnbatched(ctx context.Context, limit int) ([]*Order, error)

	// ListByBatch returns the orders attached to a payout batch.
	ListByBatch(ctx context.Context, batchID string) ([]*Order, error)
}
