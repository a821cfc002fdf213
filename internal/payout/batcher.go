package payout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/seatswap/seatswap/internal/idgen"
	"github.com/seatswap/seatswap/internal/metrics"
	"github.com/seatswap/seatswap/internal/notify"
	"github.com/seatswap/seatswap/internal/order"
	"github.com/seatswap/seatswap/internal/traces"
)

// DefaultEventReleaseDelay is how long after the event start an order with
// no explicit release date becomes payable.
const DefaultEventReleaseDelay = 48 * time.Hour

// AccountResolver looks up a seller's payout destination.
type AccountResolver interface {
	PayoutAccount(ctx context.Context, sellerID string) (string, error)
}

// Batcher runs payout rounds.
type Batcher struct {
	orders   order.Store
	store    Store
	accounts AccountResolver
	emitter  notify.Emitter
	logger   *slog.Logger

	eventReleaseDelay time.Duration
	collectLimit      int
	now               func() time.Time
}

func NewBatcher(orders order.Store, store Store, accounts AccountResolver, emitter notify.Emitter, logger *slog.Logger, eventReleaseDelay time.Duration) *Batcher {
	if eventReleaseDelay <= 0 {
		eventReleaseDelay = DefaultEventReleaseDelay
	}
	return &Batcher{
		orders:            orders,
		store:             store,
		accounts:          accounts,
		emitter:           emitter,
		logger:            logger,
		eventReleaseDelay: eventReleaseDelay,
		collectLimit:      1000,
		now:               time.Now,
	}
}

// WithClock replaces the batcher clock, for tests.
func (b *Batcher) WithClock(now func() time.Time) *Batcher {
	b.now = now
	return b
}

// Result summarizes one payout round.
type Result struct {
	BatchID          string      `json:"batchId,omitempty"`
	Promoted         int         `json:"promoted"`
	OrdersPaidOut    int         `json:"ordersPaidOut"`
	TotalAmountCents int64       `json:"totalAmountCents"`
	Transfers        []*Transfer `json:"transfers,omitempty"`
}

// Run executes one payout round: promote eligible orders, claim them into a
// new batch, reconcile membership, and write per-seller transfers. With no
// eligible orders no batch is created. runBy records who triggered the run
// on the batch row.
func (b *Batcher) Run(ctx context.Context, runBy string) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "payout.Run")
	defer span.End()

	res := &Result{}
	now := b.now()

	promoted, err := b.promote(ctx, now)
	if err != nil {
		return nil, err
	}
	res.Promoted = promoted

	ready, err := b.orders.ListReadyUnbatched(ctx, b.collectLimit)
	if err != nil {
		return nil, err
	}
	if len(ready) == 0 {
		return res, nil
	}

	batch := &Batch{
		ID:        idgen.WithPrefix("pb_"),
		Status:    BatchStatusCreated,
		RunBy:     runBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := b.store.CreateBatch(ctx, batch); err != nil {
		return nil, err
	}

	for _, o := range ready {
		if err := b.orders.AttachToBatch(ctx, o.ID, batch.ID); err != nil {
			// A lost guard means another round claimed the order, or a
			// dispute landed after the list. Reconciliation below makes
			// the outcome correct either way.
			if !errors.Is(err, order.ErrOrderConflict) {
				b.logger.Warn("attach order to batch", "orderId", o.ID, "batchId", batch.ID, "error", err)
			}
			continue
		}
	}

	// Re-read membership from the store: only attaches that actually won
	// count toward the transfers.
	members, err := b.orders.ListByBatch(ctx, batch.ID)
	if err != nil {
		return nil, err
	}

	perSeller := make(map[string]*Transfer)
	var total int64
	for _, o := range members {
		t, ok := perSeller[o.SellerID]
		if !ok {
			t = &Transfer{
				ID:        idgen.WithPrefix("trf_"),
				BatchID:   batch.ID,
				SellerID:  o.SellerID,
				Status:    TransferStatusPending,
				CreatedAt: now,
			}
			perSeller[o.SellerID] = t
		}
		t.AmountCents += o.AmountCents
		t.OrderCount++
		total += o.AmountCents

		b.emitter.Emit(notify.Event{
			Type:     notify.EventOrderPaidOut,
			OrderID:  o.ID,
			TicketID: o.TicketID,
			BuyerID:  o.BuyerID,
			SellerID: o.SellerID,
			BatchID:  batch.ID,
			Status:   string(order.StatusPaidOut),
		})
		metrics.OrderTransitionsTotal.WithLabelValues(string(order.StatusPaidOut)).Inc()
	}

	for _, t := range perSeller {
		account, err := b.accounts.PayoutAccount(ctx, t.SellerID)
		if err != nil || account == "" {
			t.Status = TransferStatusNoAccount
			b.logger.Warn("seller has no payout account, transfer blocked", "sellerId", t.SellerID, "batchId", batch.ID)
		} else {
			t.PayoutAccount = account
		}
		if err := b.store.CreateTransfer(ctx, t); err != nil {
			return nil, err
		}
		metrics.PayoutTransfersTotal.Inc()
		res.Transfers = append(res.Transfers, t)
	}

	if err := b.store.FinalizeBatch(ctx, batch.ID, len(members), total); err != nil {
		return nil, err
	}
	metrics.PayoutBatchesTotal.Inc()
	metrics.PayoutAmountCents.Observe(float64(total))

	b.emitter.Emit(notify.Event{
		Type:    notify.EventBatchCreated,
		BatchID: batch.ID,
	})
	b.logger.Info("payout batch created",
		"batchId", batch.ID, "runBy", runBy, "orders", len(members), "sellers", len(perSeller), "totalCents", total)

	res.BatchID = batch.ID
	res.OrdersPaidOut = len(members)
	res.TotalAmountCents = total
	return res, nil
}

// promote moves held and buyer_ok orders whose release time has elapsed into
// ready_to_payout. Orders with no release date fall back to the event start
// plus the release delay; with neither, the order is skipped until a buyer
// approval supplies a date.
func (b *Batcher) promote(ctx context.Context, now time.Time) (int, error) {
	candidates, err := b.orders.ListPayoutCandidates(ctx, b.collectLimit)
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, o := range candidates {
		release := o.ReleaseAt
		if release == nil {
			if o.EventStartsAt == nil {
				continue
			}
			derived := o.EventStartsAt.Add(b.eventReleaseDelay)
			release = &derived
		}
		if release.After(now) {
			continue
		}

		if err := b.orders.MarkReadyForPayout(ctx, o.ID, *release); err != nil {
			// The guard rejects orders disputed since the list.
			if !errors.Is(err, order.ErrOrderConflict) {
				b.logger.Warn("promote order", "orderId", o.ID, "error", err)
			}
			continue
		}
		b.emitter.Emit(notify.Event{
			Type:     notify.EventOrderReady,
			OrderID:  o.ID,
			TicketID: o.TicketID,
			BuyerID:  o.BuyerID,
			SellerID: o.SellerID,
			Status:   string(order.StatusReadyToPayout),
		})
		metrics.OrderTransitionsTotal.WithLabelValues(string(order.StatusReadyToPayout)).Inc()
		promoted++
	}
	return promoted, nil
}

// GetBatch returns the batch with its transfers.
func (b *Batcher) GetBatch(ctx context.Context, id string) (*Batch, []*Transfer, error) {
	batch, err := b.store.GetBatch(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	transfers, err := b.store.ListTransfers(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return batch, transfers, nil
}
