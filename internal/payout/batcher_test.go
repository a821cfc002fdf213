package payout

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/seatswap/seatswap/internal/notify"
	"github.com/seatswap/seatswap/internal/order"
	"github.com/seatswap/seatswap/internal/sellers"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	orders   *order.MemoryStore
	store    *MemoryStore
	accounts *sellers.Service
	batcher  *Batcher
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		orders:   order.NewMemoryStore(),
		store:    NewMemoryStore(),
		accounts: sellers.NewService(sellers.NewMemoryStore()),
	}
	e.batcher = NewBatcher(e.orders, e.store, e.accounts, notify.NopEmitter{}, slog.Default(), 48*time.Hour).
		WithClock(func() time.Time { return baseTime })
	return e
}

type seedOpt func(*order.Order)

func withRelease(at time.Time) seedOpt {
	return func(o *order.Order) { o.ReleaseAt = &at }
}

func withEventStart(at time.Time) seedOpt {
	return func(o *order.Order) { o.EventStartsAt = &at }
}

func withSeller(id string) seedOpt {
	return func(o *order.Order) { o.SellerID = id }
}

func withAmount(cents int64) seedOpt {
	return func(o *order.Order) { o.AmountCents = cents }
}

func (e *env) seedHeld(t *testing.T, id string, opts ...seedOpt) {
	t.Helper()
	o := &order.Order{
		ID:          id,
		BuyerID:     "buyer-1",
		SellerID:    "seller-1",
		TicketID:    "tkt_" + id,
		AmountCents: 10000,
		Status:      order.StatusPending,
		CreatedAt:   baseTime.Add(-72 * time.Hour),
		UpdatedAt:   baseTime.Add(-72 * time.Hour),
	}
	for _, opt := range opts {
		opt(o)
	}
	release := o.ReleaseAt
	o.ReleaseAt = nil
	if err := e.orders.Create(context.Background(), o); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if err := e.orders.MarkPaid(context.Background(), id, baseTime.Add(-71*time.Hour), "paid"); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if release != nil {
		// Buyer approval is how a release date gets onto an order.
		if err := e.orders.Approve(context.Background(), id, baseTime.Add(-70*time.Hour), *release); err != nil {
			t.Fatalf("approve: %v", err)
		}
	}
}

func TestRunPaysOutElapsedOrders(t *testing.T) {
	e := newEnv(t)
	_, _ = e.accounts.Register(context.Background(), "seller-1", "Alice", "acct_alice")

	e.seedHeld(t, "ord_due", withRelease(baseTime.Add(-time.Hour)))
	e.seedHeld(t, "ord_early", withRelease(baseTime.Add(time.Hour)))

	res, err := e.batcher.Run(context.Background(), "ops-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Promoted != 1 || res.OrdersPaidOut != 1 {
		t.Fatalf("promoted=%d paidOut=%d, want 1/1", res.Promoted, res.OrdersPaidOut)
	}
	if res.TotalAmountCents != 10000 {
		t.Errorf("total = %d", res.TotalAmountCents)
	}

	due, _ := e.orders.Get(context.Background(), "ord_due")
	if due.Status != order.StatusPaidOut || due.PayoutBatchID != res.BatchID {
		t.Errorf("due order: status=%s batch=%q", due.Status, due.PayoutBatchID)
	}
	early, _ := e.orders.Get(context.Background(), "ord_early")
	if early.Status != order.StatusBuyerOK {
		t.Errorf("early order status = %s, want untouched buyer_ok", early.Status)
	}

	transfers, _ := e.store.ListTransfers(context.Background(), res.BatchID)
	if len(transfers) != 1 || transfers[0].PayoutAccount != "acct_alice" || transfers[0].Status != TransferStatusPending {
		t.Errorf("transfers = %+v", transfers)
	}
}

func TestRunDerivesReleaseFromEventStart(t *testing.T) {
	e := newEnv(t)
	_, _ = e.accounts.Register(context.Background(), "seller-1", "Alice", "acct_alice")

	// Event ended three days ago: 48h delay has elapsed.
	e.seedHeld(t, "ord_past_event", withEventStart(baseTime.Add(-72*time.Hour)))
	// Event is tomorrow: not payable yet.
	e.seedHeld(t, "ord_future_event", withEventStart(baseTime.Add(24*time.Hour)))
	// Neither release date nor event start: skipped entirely.
	e.seedHeld(t, "ord_dateless")

	res, err := e.batcher.Run(context.Background(), "ops-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.OrdersPaidOut != 1 {
		t.Fatalf("paidOut = %d, want 1", res.OrdersPaidOut)
	}

	paid, _ := e.orders.Get(context.Background(), "ord_past_event")
	if paid.Status != order.StatusPaidOut {
		t.Errorf("past-event order status = %s", paid.Status)
	}
	wantRelease := baseTime.Add(-72 * time.Hour).Add(48 * time.Hour)
	if paid.ReleaseAt == nil || !paid.ReleaseAt.Equal(wantRelease) {
		t.Errorf("derived release = %v, want %v", paid.ReleaseAt, wantRelease)
	}

	for _, id := range []string{"ord_future_event", "ord_dateless"} {
		o, _ := e.orders.Get(context.Background(), id)
		if o.Status != order.StatusHeld {
			t.Errorf("%s status = %s, want held", id, o.Status)
		}
	}
}

func TestRunExcludesDisputedOrders(t *testing.T) {
	e := newEnv(t)
	_, _ = e.accounts.Register(context.Background(), "seller-1", "Alice", "acct_alice")

	e.seedHeld(t, "ord_disputed", withRelease(baseTime.Add(-time.Hour)))
	if err := e.orders.Dispute(context.Background(), "ord_disputed", "never arrived", baseTime); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	res, err := e.batcher.Run(context.Background(), "ops-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.BatchID != "" || res.OrdersPaidOut != 0 {
		t.Errorf("disputed order entered a batch: %+v", res)
	}

	o, _ := e.orders.Get(context.Background(), "ord_disputed")
	if o.Status != order.StatusDisputed || o.PayoutBatchID != "" {
		t.Errorf("disputed order mutated: status=%s batch=%q", o.Status, o.PayoutBatchID)
	}
}

func TestRunAggregatesPerSeller(t *testing.T) {
	e := newEnv(t)
	_, _ = e.accounts.Register(context.Background(), "seller-1", "Alice", "acct_alice")
	_, _ = e.accounts.Register(context.Background(), "seller-2", "Bob", "acct_bob")

	due := withRelease(baseTime.Add(-time.Hour))
	e.seedHeld(t, "ord_a1", due, withSeller("seller-1"), withAmount(10000))
	e.seedHeld(t, "ord_a2", due, withSeller("seller-1"), withAmount(2500))
	e.seedHeld(t, "ord_b1", due, withSeller("seller-2"), withAmount(7000))

	res, err := e.batcher.Run(context.Background(), "ops-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.OrdersPaidOut != 3 || res.TotalAmountCents != 19500 {
		t.Fatalf("paidOut=%d total=%d", res.OrdersPaidOut, res.TotalAmountCents)
	}

	transfers, _ := e.store.ListTransfers(context.Background(), res.BatchID)
	if len(transfers) != 2 {
		t.Fatalf("transfers = %d, want 2", len(transfers))
	}
	byCents := map[string]int64{}
	for _, tr := range transfers {
		byCents[tr.SellerID] = tr.AmountCents
	}
	if byCents["seller-1"] != 12500 || byCents["seller-2"] != 7000 {
		t.Errorf("aggregation wrong: %+v", byCents)
	}

	batch, _ := e.store.GetBatch(context.Background(), res.BatchID)
	if batch.OrderCount != 3 || batch.TotalAmountCents != 19500 {
		t.Errorf("batch totals: %+v", batch)
	}
}

func TestRunBlocksTransferWithoutPayoutAccount(t *testing.T) {
	e := newEnv(t)
	e.seedHeld(t, "ord_due", withRelease(baseTime.Add(-time.Hour)))

	res, err := e.batcher.Run(context.Background(), "ops-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Transfers) != 1 {
		t.Fatalf("transfers = %d", len(res.Transfers))
	}
	if res.Transfers[0].Status != TransferStatusNoAccount {
		t.Errorf("status = %s, want %s", res.Transfers[0].Status, TransferStatusNoAccount)
	}
	// The order is still paid out: the batch holds the balance until the
	// seller registers an account.
	o, _ := e.orders.Get(context.Background(), "ord_due")
	if o.Status != order.StatusPaidOut {
		t.Errorf("order status = %s", o.Status)
	}
}

func TestRunIsIdempotentAcrossRounds(t *testing.T) {
	e := newEnv(t)
	_, _ = e.accounts.Register(context.Background(), "seller-1", "Alice", "acct_alice")
	e.seedHeld(t, "ord_due", withRelease(baseTime.Add(-time.Hour)))

	first, err := e.batcher.Run(context.Background(), "ops-1")
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if first.OrdersPaidOut != 1 {
		t.Fatalf("first round paid out %d", first.OrdersPaidOut)
	}

	second, err := e.batcher.Run(context.Background(), "ops-1")
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.BatchID != "" || second.OrdersPaidOut != 0 {
		t.Errorf("second round re-batched orders: %+v", second)
	}

	o, _ := e.orders.Get(context.Background(), "ord_due")
	if o.PayoutBatchID != first.BatchID {
		t.Errorf("order batch = %q, want %q", o.PayoutBatchID, first.BatchID)
	}
}

// racingStore lets a rival batch claim an order between the ready list and
// the attach, the window the reconciliation step exists for.
type racingStore struct {
	order.Store
	steal   string
	rivalID string
	stolen  bool
}

func (r *racingStore) ListReadyUnbatched(ctx context.Context, limit int) ([]*order.Order, error) {
	ready, err := r.Store.ListReadyUnbatched(ctx, limit)
	if err != nil || r.stolen {
		return ready, err
	}
	for _, o := range ready {
		if o.ID == r.steal {
			r.stolen = true
			if err := r.Store.AttachToBatch(ctx, r.steal, r.rivalID); err != nil {
				return nil, err
			}
		}
	}
	return ready, nil
}

func TestRunReconciliationCountsOnlyWonAttaches(t *testing.T) {
	e := newEnv(t)
	_, _ = e.accounts.Register(context.Background(), "seller-1", "Alice", "acct_alice")

	due := withRelease(baseTime.Add(-time.Hour))
	e.seedHeld(t, "ord_keep", due, withAmount(10000))
	e.seedHeld(t, "ord_stolen", due, withAmount(9999))

	ctx := context.Background()
	racing := &racingStore{Store: e.orders, steal: "ord_stolen", rivalID: "pb_rival"}
	batcher := NewBatcher(racing, e.store, e.accounts, notify.NopEmitter{}, slog.Default(), 48*time.Hour).
		WithClock(func() time.Time { return baseTime })

	res, err := batcher.Run(ctx, "ops-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.OrdersPaidOut != 1 || res.TotalAmountCents != 10000 {
		t.Fatalf("reconciliation failed: paidOut=%d total=%d", res.OrdersPaidOut, res.TotalAmountCents)
	}

	stolen, _ := e.orders.Get(ctx, "ord_stolen")
	if stolen.PayoutBatchID != "pb_rival" {
		t.Errorf("contested order batch = %q, want pb_rival", stolen.PayoutBatchID)
	}
}

func TestGetBatchNotFound(t *testing.T) {
	e := newEnv(t)
	if _, _, err := e.batcher.GetBatch(context.Background(), "pb_missing"); !errors.Is(err, ErrBatchNotFound) {
		t.Errorf("want ErrBatchNotFound, got %v", err)
	}
}

func TestRunRecordsOperatorOnBatch(t *testing.T) {
	e := newEnv(t)
	_, _ = e.accounts.Register(context.Background(), "seller-1", "Alice", "acct_alice")
	e.seedHeld(t, "ord_due", withRelease(baseTime.Add(-time.Hour)))

	res, err := e.batcher.Run(context.Background(), "ops-carol")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.BatchID == "" {
		t.Fatal("no batch created")
	}

	b, err := e.store.GetBatch(context.Background(), res.BatchID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if b.RunBy != "ops-carol" {
		t.Errorf("batch runBy = %q, want ops-carol", b.RunBy)
	}
}
