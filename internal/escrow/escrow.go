// Package escrow drives the order lifecycle for ticket resales.
//
// Flow:
//  1. Buyer checks out → order created pending, ticket held, payment session opened
//  2. Provider approves → order held (funds in escrow), ticket sold
//  3. Buyer confirms receipt → order buyer_ok, release date extended
//  4. Release date elapses → order becomes eligible for seller payout
//  5. Buyer disputes → payout blocked until resolved out of band
//
// Every state transition is a guarded conditional write in the stores, so
// concurrent callers race safely: exactly one wins, the rest see a conflict.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seatswap/seatswap/internal/idgen"
	"github.com/seatswap/seatswap/internal/inventory"
	"github.com/seatswap/seatswap/internal/metrics"
	"github.com/seatswap/seatswap/internal/notify"
	"github.com/seatswap/seatswap/internal/order"
	"github.com/seatswap/seatswap/internal/pagination"
	"github.com/seatswap/seatswap/internal/payment"
	"github.com/seatswap/seatswap/internal/traces"
)

var (
	// ErrTicketUnavailable means the ticket is not open for purchase.
	ErrTicketUnavailable = errors.New("ticket not available for purchase")
	// ErrOwnTicket means a seller tried to buy their own listing.
	ErrOwnTicket = errors.New("cannot buy your own ticket")
	// ErrNotBuyer means the caller is not the order's buyer.
	ErrNotBuyer = errors.New("caller is not the buyer of this order")
	// ErrNotParticipant means the caller is neither buyer nor seller.
	ErrNotParticipant = errors.New("caller is not a participant in this order")
	// ErrNoSession means the order has no payment session to confirm.
	ErrNoSession = errors.New("order has no payment session")
)

// Config carries the lifecycle knobs.
type Config struct {
	// HoldTTL is how long a pending order may hold a ticket before the
	// reclaimer releases it.
	HoldTTL time.Duration
	// ServiceFeeBps is the platform fee in basis points of the ticket price.
	ServiceFeeBps int64
	// ApprovalCooldown is the minimum time between a buyer approval and the
	// earliest possible payout.
	ApprovalCooldown time.Duration
	// PublicBaseURL is where the provider redirects buyers after payment.
	PublicBaseURL string
	Currency      string
}

// Service implements the order lifecycle.
type Service struct {
	orders   order.Store
	tickets  inventory.Store
	provider payment.Provider
	emitter  notify.Emitter
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

// NewService creates a lifecycle service.
func NewService(orders order.Store, tickets inventory.Store, provider payment.Provider, emitter notify.Emitter, logger *slog.Logger, cfg Config) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &Service{
		orders:   orders,
		tickets:  tickets,
		provider: provider,
		emitter:  emitter,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithClock replaces the service clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CheckoutResult is what the buyer needs to complete payment.
type CheckoutResult struct {
	Order       *order.Order `json:"order"`
	RedirectURL string       `json:"redirectUrl"`
}

// Checkout creates a pending order for the ticket, places a hold on it, and
// opens a payment session. The conditional ticket hold is the concurrency
// gate: of any number of simultaneous checkouts for one ticket, exactly one
// obtains the hold.
func (s *Service) Checkout(ctx context.Context, buyerID, ticketID string) (*CheckoutResult, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Checkout", traces.TicketID(ticketID))
	defer span.End()

	t, err := s.tickets.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.SellerID == buyerID {
		return nil, ErrOwnTicket
	}
	if t.Status != inventory.StatusActive {
		return nil, ErrTicketUnavailable
	}

	now := s.now()
	fee := t.PriceCents * s.cfg.ServiceFeeBps / 10000
	o := &order.Order{
		ID:              idgen.WithPrefix("ord_"),
		BuyerID:         buyerID,
		SellerID:        t.SellerID,
		TicketID:        t.ID,
		AmountCents:     t.PriceCents,
		ServiceFeeCents: fee,
		TotalCents:      t.PriceCents + fee,
		Status:          order.StatusPending,
		EventStartsAt:   t.EventStartsAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	if err := s.tickets.Hold(ctx, t.ID, now.Add(s.cfg.HoldTTL)); err != nil {
		_ = s.orders.FailPending(ctx, o.ID, order.StatusCanceled, "ticket_unavailable")
		if errors.Is(err, inventory.ErrTicketConflict) {
			return nil, ErrTicketUnavailable
		}
		return nil, err
	}

	sess, err := s.provider.CreateSession(ctx, payment.SessionRequest{
		OrderID:     o.ID,
		AmountCents: o.TotalCents,
		Currency:    s.cfg.Currency,
		Description: fmt.Sprintf("Ticket %s", t.ID),
		SuccessURL:  s.cfg.PublicBaseURL + "/checkout/success?order=" + o.ID,
		CancelURL:   s.cfg.PublicBaseURL + "/checkout/cancel?order=" + o.ID,
	})
	if err != nil {
		// Session never opened, so nothing can settle: release the ticket
		// and fail the order before surfacing the error.
		if relErr := s.tickets.Release(ctx, t.ID); relErr != nil {
			s.logger.Error("ticket release after session failure", "ticketId", t.ID, "error", relErr)
		}
		_ = s.orders.FailPending(ctx, o.ID, order.StatusPaymentFailed, "session_create_failed")
		return nil, fmt.Errorf("create payment session: %w", err)
	}

	if err := s.orders.SetProviderToken(ctx, o.ID, sess.Token); err != nil {
		// A conflicting token means a concurrent retry already stored one;
		// the stored token wins.
		if !errors.Is(err, order.ErrOrderConflict) {
			return nil, err
		}
		if o, err = s.orders.Get(ctx, o.ID); err != nil {
			return nil, err
		}
	} else {
		o.ProviderToken = sess.Token
	}

	s.emitter.Emit(notify.Event{
		Type:     notify.EventOrderCreated,
		OrderID:  o.ID,
		TicketID: t.ID,
		BuyerID:  buyerID,
		SellerID: t.SellerID,
		Status:   string(order.StatusPending),
	})
	metrics.OrderTransitionsTotal.WithLabelValues(string(order.StatusPending)).Inc()

	return &CheckoutResult{Order: o, RedirectURL: sess.RedirectURL}, nil
}

// ConfirmPayment asks the provider for the session outcome and settles the
// order accordingly. Safe to call repeatedly: once the order has left
// pending, the call reports the current state without touching the provider.
func (s *Service) ConfirmPayment(ctx context.Context, orderID, callerID string) (*order.Order, payment.Outcome, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.ConfirmPayment", traces.OrderID(orderID))
	defer span.End()

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, "", err
	}
	if o.BuyerID != callerID {
		return nil, "", ErrNotBuyer
	}

	switch o.Status {
	case order.StatusPending:
		// Fall through to the provider.
	case order.StatusHeld, order.StatusBuyerOK, order.StatusReadyToPayout, order.StatusPaidOut:
		return o, payment.OutcomeApproved, nil
	default:
		return o, payment.OutcomeRejected, nil
	}

	if o.ProviderToken == "" {
		return nil, "", ErrNoSession
	}

	res, err := s.provider.Confirm(ctx, o.ProviderToken)
	if err != nil {
		return nil, "", fmt.Errorf("confirm payment session: %w", err)
	}

	switch res.Outcome {
	case payment.OutcomeApproved:
		if err := s.settleApproved(ctx, o, res.RawState); err != nil {
			return nil, "", err
		}
	case payment.OutcomeRejected:
		if err := s.settleRejected(ctx, o, res.RawState); err != nil {
			return nil, "", err
		}
	default:
		// Still pending at the provider. Nothing to persist.
		return o, payment.OutcomePending, nil
	}

	o, err = s.orders.Get(ctx, orderID)
	return o, res.Outcome, err
}

func (s *Service) settleApproved(ctx context.Context, o *order.Order, rawState string) error {
	if err := s.orders.MarkPaid(ctx, o.ID, s.now(), rawState); err != nil {
		// A concurrent confirm or the reclaimer got there first; the
		// stored state is authoritative.
		if errors.Is(err, order.ErrOrderConflict) {
			return nil
		}
		return err
	}
	if err := s.tickets.MarkSold(ctx, o.TicketID); err != nil {
		s.logger.Error("ticket not marked sold after capture", "orderId", o.ID, "ticketId", o.TicketID, "error", err)
	}
	s.emitter.Emit(notify.Event{
		Type:     notify.EventPaymentApproved,
		OrderID:  o.ID,
		TicketID: o.TicketID,
		BuyerID:  o.BuyerID,
		SellerID: o.SellerID,
		Status:   string(order.StatusHeld),
	})
	metrics.OrderTransitionsTotal.WithLabelValues(string(order.StatusHeld)).Inc()
	return nil
}

func (s *Service) settleRejected(ctx context.Context, o *order.Order, rawState string) error {
	if err := s.orders.FailPending(ctx, o.ID, order.StatusPaymentFailed, rawState); err != nil {
		if errors.Is(err, order.ErrOrderConflict) {
			return nil
		}
		return err
	}
	if err := s.tickets.Release(ctx, o.TicketID); err != nil && !errors.Is(err, inventory.ErrTicketConflict) {
		s.logger.Error("ticket release after rejection", "orderId", o.ID, "ticketId", o.TicketID, "error", err)
	}
	s.emitter.Emit(notify.Event{
		Type:     notify.EventPaymentRejected,
		OrderID:  o.ID,
		TicketID: o.TicketID,
		BuyerID:  o.BuyerID,
		SellerID: o.SellerID,
		Status:   string(order.StatusPaymentFailed),
	})
	metrics.OrderTransitionsTotal.WithLabelValues(string(order.StatusPaymentFailed)).Inc()
	return nil
}

// CancelPayment abandons a pending order and returns its ticket to the
// market. Only valid while the order is still pending.
func (s *Service) CancelPayment(ctx context.Context, orderID, callerID string) (*order.Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != callerID {
		return nil, ErrNotBuyer
	}

	if err := s.orders.FailPending(ctx, o.ID, order.StatusCanceled, "canceled"); err != nil {
		return nil, err
	}
	if err := s.tickets.Release(ctx, o.TicketID); err != nil && !errors.Is(err, inventory.ErrTicketConflict) {
		s.logger.Error("ticket release after cancel", "orderId", o.ID, "ticketId", o.TicketID, "error", err)
	}
	s.emitter.Emit(notify.Event{
		Type:     notify.EventPaymentCanceled,
		OrderID:  o.ID,
		TicketID: o.TicketID,
		BuyerID:  o.BuyerID,
		SellerID: o.SellerID,
		Status:   string(order.StatusCanceled),
	})
	metrics.OrderTransitionsTotal.WithLabelValues(string(order.StatusCanceled)).Inc()
	return s.orders.Get(ctx, orderID)
}

// Approve records the buyer's confirmation of receipt. The payout release
// date moves to at least now plus the approval cooldown; it never moves
// earlier, even across repeated approvals.
func (s *Service) Approve(ctx context.Context, orderID, callerID string) (*order.Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != callerID {
		return nil, ErrNotBuyer
	}
	if _, err := order.Next(o.Status, order.EventBuyerApproved); err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.orders.Approve(ctx, orderID, now, now.Add(s.cfg.ApprovalCooldown)); err != nil {
		return nil, err
	}
	s.emitter.Emit(notify.Event{
		Type:     notify.EventOrderApproved,
		OrderID:  o.ID,
		TicketID: o.TicketID,
		BuyerID:  o.BuyerID,
		SellerID: o.SellerID,
		Status:   string(order.StatusBuyerOK),
	})
	metrics.OrderTransitionsTotal.WithLabelValues(string(order.StatusBuyerOK)).Inc()
	return s.orders.Get(ctx, orderID)
}

// Dispute blocks the order's payout. Disputed orders are excluded from
// batching until resolved out of band.
func (s *Service) Dispute(ctx context.Context, orderID, callerID, reason string) (*order.Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != callerID {
		return nil, ErrNotBuyer
	}
	if _, err := order.Next(o.Status, order.EventBuyerDisputed); err != nil {
		return nil, err
	}

	if err := s.orders.Dispute(ctx, orderID, reason, s.now()); err != nil {
		return nil, err
	}
	s.emitter.Emit(notify.Event{
		Type:     notify.EventOrderDisputed,
		OrderID:  o.ID,
		TicketID: o.TicketID,
		BuyerID:  o.BuyerID,
		SellerID: o.SellerID,
		Status:   string(order.StatusDisputed),
		Reason:   reason,
	})
	metrics.OrderTransitionsTotal.WithLabelValues(string(order.StatusDisputed)).Inc()
	return s.orders.Get(ctx, orderID)
}

// Get returns the order, visible only to its buyer or seller.
func (s *Service) Get(ctx context.Context, orderID, callerID string) (*order.Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != callerID && o.SellerID != callerID {
		return nil, ErrNotParticipant
	}
	return o, nil
}

// ListPurchases returns the caller's orders as a buyer, newest first.
func (s *Service) ListPurchases(ctx context.Context, callerID string, cursor *pagination.Cursor, limit int) ([]*order.Order, error) {
	return s.orders.ListByBuyer(ctx, callerID, cursor, limit)
}

// ListSales returns the caller's orders as a seller, newest first.
func (s *Service) ListSales(ctx context.Context, callerID string, cursor *pagination.Cursor, limit int) ([]*order.Order, error) {
	return s.orders.ListBySeller(ctx, callerID, cursor, limit)
}
