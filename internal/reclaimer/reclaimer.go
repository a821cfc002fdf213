// Package reclaimer expires stale pending orders and returns their tickets
// to the market.
//
// An order is stale once it has sat pending for longer than the hold TTL.
// Each reclaim is two guarded writes: the order moves pending → expired, then
// the ticket moves held → active. Either write losing its guard means a
// concurrent settlement won, and the reclaimer simply moves on, so running
// it twice, or alongside payment confirmation, is harmless.
package reclaimer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/seatswap/seatswap/internal/inventory"
	"github.com/seatswap/seatswap/internal/metrics"
	"github.com/seatswap/seatswap/internal/notify"
	"github.com/seatswap/seatswap/internal/order"
	"github.com/seatswap/seatswap/internal/traces"
)

const (
	// DefaultHoldTTL is how long an order may sit pending.
	DefaultHoldTTL = 20 * time.Minute
	// DefaultBatchLimit bounds one sweep.
	DefaultBatchLimit = 500
)

// Service reclaims stale holds.
type Service struct {
	orders  order.Store
	tickets inventory.Store
	emitter notify.Emitter
	logger  *slog.Logger

	ttl   time.Duration
	limit int
	now   func() time.Time
}

func NewService(orders order.Store, tickets inventory.Store, emitter notify.Emitter, logger *slog.Logger, ttl time.Duration, limit int) *Service {
	if ttl <= 0 {
		ttl = DefaultHoldTTL
	}
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	return &Service{
		orders:  orders,
		tickets: tickets,
		emitter: emitter,
		logger:  logger,
		ttl:     ttl,
		limit:   limit,
		now:     time.Now,
	}
}

// WithClock replaces the service clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Run performs one sweep and returns the number of orders expired.
// A positive ttl overrides the configured hold TTL for this sweep only;
// zero or negative means use the configured value.
func (s *Service) Run(ctx context.Context, ttl time.Duration) (int, error) {
	ctx, span := traces.StartSpan(ctx, "reclaimer.Run")
	defer span.End()

	if ttl <= 0 {
		ttl = s.ttl
	}
	cutoff := s.now().Add(-ttl)
	stale, err := s.orders.ListStalePending(ctx, cutoff, s.limit)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, o := range stale {
		if err := s.orders.FailPending(ctx, o.ID, order.StatusExpired, "expired"); err != nil {
			// Conflict means a concurrent confirm or cancel settled the
			// order between the list and the write.
			if !errors.Is(err, order.ErrOrderConflict) {
				s.logger.Warn("expire order", "orderId", o.ID, "error", err)
			}
			continue
		}

		if err := s.tickets.Release(ctx, o.TicketID); err != nil && !errors.Is(err, inventory.ErrTicketConflict) {
			s.logger.Error("release ticket for expired order", "orderId", o.ID, "ticketId", o.TicketID, "error", err)
		}

		s.emitter.Emit(notify.Event{
			Type:     notify.EventOrderExpired,
			OrderID:  o.ID,
			TicketID: o.TicketID,
			BuyerID:  o.BuyerID,
			SellerID: o.SellerID,
			Status:   string(order.StatusExpired),
		})
		metrics.OrderTransitionsTotal.WithLabelValues(string(order.StatusExpired)).Inc()
		metrics.HoldsReclaimedTotal.Inc()
		reclaimed++
	}

	if reclaimed > 0 {
		s.logger.Info("reclaimed stale holds", "count", reclaimed, "cutoff", cutoff)
	}
	return reclaimed, nil
}
