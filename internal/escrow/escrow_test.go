package escrow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/seatswap/seatswap/internal/idgen"
	"github.com/seatswap/seatswap/internal/inventory"
	"github.com/seatswap/seatswap/internal/notify"
	"github.com/seatswap/seatswap/internal/order"
	"github.com/seatswap/seatswap/internal/payment"
)

const (
	buyerID  = "buyer-1"
	sellerID = "seller-1"
)

type fixture struct {
	orders   *order.MemoryStore
	tickets  *inventory.MemoryStore
	provider *payment.FakeProvider
	service  *Service
	clock    *fakeClock
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		orders:   order.NewMemoryStore(),
		tickets:  inventory.NewMemoryStore(),
		provider: payment.NewFakeProvider(),
		clock:    &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.service = NewService(f.orders, f.tickets, f.provider, notify.NopEmitter{}, slog.Default(), Config{
		HoldTTL:          20 * time.Minute,
		ServiceFeeBps:    800,
		ApprovalCooldown: 24 * time.Hour,
		PublicBaseURL:    "https://seatswap.example.com",
	}).WithClock(f.clock.Now)
	return f
}

func (f *fixture) listTicket(t *testing.T, priceCents int64) *inventory.Ticket {
	t.Helper()
	now := f.clock.Now()
	eventStart := now.Add(30 * 24 * time.Hour)
	tk := &inventory.Ticket{
		ID:            idgen.WithPrefix("tkt_"),
		EventID:       "evt_000000000000000000000001",
		SellerID:      sellerID,
		PriceCents:    priceCents,
		Status:        inventory.StatusActive,
		EventStartsAt: &eventStart,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := f.tickets.Create(context.Background(), tk); err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return tk
}

func (f *fixture) checkout(t *testing.T, tk *inventory.Ticket) *CheckoutResult {
	t.Helper()
	res, err := f.service.Checkout(context.Background(), buyerID, tk.ID)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	return res
}

func (f *fixture) checkoutPaid(t *testing.T, tk *inventory.Ticket) *order.Order {
	t.Helper()
	res := f.checkout(t, tk)
	f.provider.SetOutcome(res.Order.ProviderToken, payment.OutcomeApproved, "complete:paid")
	o, _, err := f.service.ConfirmPayment(context.Background(), res.Order.ID, buyerID)
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	return o
}

func TestCheckoutCreatesPendingOrderAndHoldsTicket(t *testing.T) {
	f := newFixture(t)
	tk := f.listTicket(t, 10000)

	res := f.checkout(t, tk)
	o := res.Order
	if o.Status != order.StatusPending {
		t.Errorf("status = %s, want pending", o.Status)
	}
	if o.AmountCents != 10000 || o.ServiceFeeCents != 800 || o.TotalCents != 10800 {
		t.Errorf("amounts = %d/%d/%d", o.AmountCents, o.ServiceFeeCents, o.TotalCents)
	}
	if o.ProviderToken == "" {
		t.Error("no provider token stored")
	}
	if res.RedirectURL == "" {
		t.Error("no redirect URL returned")
	}
	if o.EventStartsAt == nil || !o.EventStartsAt.Equal(*tk.EventStartsAt) {
		t.Error("event start not snapshotted onto the order")
	}

	got, _ := f.tickets.Get(context.Background(), tk.ID)
	if got.Status != inventory.StatusHeld {
		t.Errorf("ticket status = %s, want held", got.Status)
	}
	wantExpiry := f.clock.Now().Add(20 * time.Minute)
	if got.HoldExpiresAt == nil || !got.HoldExpiresAt.Equal(wantExpiry) {
		t.Errorf("hold expiry = %v, want %v", got.HoldExpiresAt, wantExpiry)
	}
}

func TestCheckoutOwnTicketRejected(t *testing.T) {
	f := newFixture(t)
	tk := f.listTicket(t, 10000)

	if _, err := f.service.Checkout(context.Background(), sellerID, tk.ID); !errors.Is(err, ErrOwnTicket) {
		t.Errorf("want ErrOwnTicket, got %v", err)
	}
}

func TestCheckoutHeldTicketUnavailable(t *testing.T) {
	f := newFixture(t)
	tk := f.listTicket(t, 10000)
	f.checkout(t, tk)

	if _, err := f.service.Checkout(context.Background(), "buyer-2", tk.ID); !errors.Is(err, ErrTicketUnavailable) {
		t.Errorf("want ErrTicketUnavailable, got %v", err)
	}
}

func TestConcurrentCheckoutExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	tk := f.listTicket(t, 10000)

	const buyers = 30
	var wg sync.WaitGroup
	var mu sync.Mutex
	var wins int
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := f.service.Checkout(context.Background(), idgen.WithPrefix("usr_"), tk.ID)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}
}

func TestCheckoutSessionFailureReleasesHold(t *testing.T) {
	f := newFixture(t)
	tk := f.listTicket(t, 10000)
	f.provider.CreateErr = payment.ErrProviderUnavailable

	_, err := f.service.Checkout(context.Background(), buyerID, tk.ID)
	if !errors.Is(err, payment.ErrProviderUnavailable) {
		t.Fatalf("want ErrProviderUnavailable, got %v", err)
	}

	got, _ := f.tickets.Get(context.Background(), tk.ID)
	if got.Status != inventory.StatusActive {
		t.Errorf("ticket status = %s, want active after rollback", got.Status)
	}

	// The only order in the store should be failed, not pending.
	orders, _ := f.orders.ListByBuyer(context.Background(), buyerID, nil, 10)
	if len(orders) != 1 || orders[0].Status != order.StatusPaymentFailed {
		t.Errorf("order not failed after session rollback: %+v", orders)
	}
}

func TestConfirmApprovedSellsTicket(t *testing.T) {
	f := newFixture(t)
	tk := f.listTicket(t, 10000)
	res := f.checkout(t, tk)

	f.provider.SetOutcome(res.Order.ProviderToken, payment.OutcomeApproved, "complete:paid")
	o, outcome, err := f.service.ConfirmPayment(context.Background(), res.Order.ID, buyerID)
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if outcome != payment.OutcomeApproved || o.Status != order.StatusHeld {
		t.Errorf("outcome=%s status=%s", outcome, o.Status)
	}
	if o.PaymentState != "complete:paid" {
		t.Errorf("payment state %q not persisted verbatim", o.PaymentState)
	}
	if o.PaidAt == nil {
		t.Error("paid_at not set")
	}

	got, _ := f.tickets.Get(context.Background(), tk.ID)
	if got.Status != inventory.StatusSold {
		t.Errorf("ticket status = %s, want sold", got.Status)
	}
}

func TestConfirmRejectedReleasesTicket(t *testing.T) {
	f := newFixture(t)
	tk := f.listTicket(t, 10000)
	res := f.checkout(t, tk)

	f.provider.SetOutcome(res.Order.ProviderToken, payment.OutcomeRejected, "expired:unpaid")
	o, outcome, err := f.service.ConfirmPayment(context.Background(), res.Order.ID, buyerID)
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if outcome != payment.OutcomeRejected || o.Status != order.StatusPaymentFailed {
		t.Errorf("outcome=%s status=%s", outcome, o.Status)
	}

	got, _ := f.tickets.Get(context.Background(), tk.ID)
	if got.Status != inventory.StatusActive {
		t.Errorf("ticket status = %s, want active", got.Status)
	}
}

func TestConfirmPendingLeavesOrderUntouched(t *testing.T) {
	f := newFixture(t)
	tk := f.listTicket(t, 10000)
	res := f.checkout(t, tk)

	// Fresh fake sessions report pending.
	o, outcome, err := f.service.ConfirmPayment(context.Background(), res.Order.ID, buyerID)
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if outcome != payment.OutcomePending || o.Status != order.StatusPending {
		t.Errorf("outcome=%s status=%s, want pending/pending", outcome, o.Status)
	}

	got, _ := f.tickets.Get(context.Background(), tk.ID)
	if got.Status != inventory.StatusHeld {
		t.Errorf("ticket status = %s, want still held", got.Status)
	}
}

func TestConfirmIdempotentAfterCapture(t *testing.T) {
	f := newFixture(t)
	tk := f.listTicket(t, 10000)
	o := f.checkoutPaid(t, tk)

	// Second confirm must not call the provider or change anything.
	f.provider.ConfirmErr = errors.New("provider must not be called")
	again, outcome, err := f.service.ConfirmPayment(context.Background(), o.ID, buyerID)
	if err != nil {
		t.Fatalf("repeat ConfirmPayment: %v", err)
	}
	if outcome != payment.OutcomeApproved || again.Status != order.StatusHeld {
		t.Errorf("outcome=%s status=%s", outcome, again.Status)
	}
}

func TestConfirmRequiresBuyer(t *testing.T) {
	f := newFixture(t)
	tk := f.listTicket(t, 10000)
	res := f.checkout(t, tk)

	if _, _, err := f.service.ConfirmPayment(context.Background(), res.Order.ID, "intruder"); !errors.Is(err, ErrNotBuyer) {
		t.Errorf("want ErrNotBuyer, got %v", err)
	}
}

func TestCancelReturnsTicketToMarket(t *testing.T) {
	f := newFixture(t)
	tk := f.listTicket(t, 10000)
	res := f.checkout(t, tk)

	o, err := f.service.CancelPayment(context.Background(), res.Order.ID, buyerID)
	if err != nil {
		t.Fatalf("CancelPayment: %v", err)
	}
	if o.Status != order.StatusCanceled {
		t.Errorf("status = %s, want canceled", o.Status)
	}
	got, _ := f.tickets.Get(context.Background(), tk.ID)
	if got.Status != inventory.StatusActive {
		t.Errorf("ticket status = %s, want active", got.Status)
	}

	// Cancel after capture is a conflict.
	tk2 := f.listTicket(t, 5000)
	paid := f.checkoutPaid(t, tk2)
	if _, err := f.service.CancelPayment(context.Background(), paid.ID, buyerID); !errors.Is(err, order.ErrOrderConflict) {
		t.Errorf("cancel after capture: want ErrOrderConflict, got %v", err)
	}
}

func TestApproveSetsCooldownRelease(t *testing.T) {
	f := newFixture(t)
	tk := f.listTicket(t, 10000)
	o := f.checkoutPaid(t, tk)

	approved, err := f.service.Approve(context.Background(), o.ID, buyerID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.Status != order.StatusBuyerOK {
		t.Errorf("status = %s, want buyer_ok", approved.Status)
	}
	want := f.clock.Now().Add(24 * time.Hour)
	if approved.ReleaseAt == nil || !approved.ReleaseAt.Equal(want) {
		t.Errorf("release_at = %v, want %v", approved.ReleaseAt, want)
	}
}

func TestRepeatedApprovalExtendsButNeverShortens(t *testing.T) {
	f := newFixture(t)
	tk := f.listTicket(t, 10000)
	o := f.checkoutPaid(t, tk)

	first, _ := f.service.Approve(context.Background(), o.ID, buyerID)
	firstRelease := *first.ReleaseAt

	// 25 hours later the buyer approves again: release moves forward.
	f.clock.Advance(25 * time.Hour)
	second, err := f.service.Approve(context.Background(), o.ID, buyerID)
	if err != nil {
		t.Fatalf("second Approve: %v", err)
	}
	wantSecond := f.clock.Now().Add(24 * time.Hour)
	if !second.ReleaseAt.Equal(wantSecond) {
		t.Errorf("release_at = %v, want %v", second.ReleaseAt, wantSecond)
	}
	if second.ReleaseAt.Before(firstRelease) {
		t.Error("release_at moved backwards")
	}
}

func TestApproveRequiresBuyerAndCapturedOrder(t *testing.T) {
	f := newFixture(t)
	tk := f.listTicket(t, 10000)
	res := f.checkout(t, tk)

	if _, err := f.service.Approve(context.Background(), res.Order.ID, sellerID); !errors.Is(err, ErrNotBuyer) {
		t.Errorf("seller approve: want ErrNotBuyer, got %v", err)
	}
	// Still pending: no approval yet.
	if _, err := f.service.Approve(context.Background(), res.Order.ID, buyerID); !errors.Is(err, order.ErrIllegalTransition) {
		t.Errorf("pending approve: want ErrIllegalTransition, got %v", err)
	}
}

func TestDisputeBlocksFurtherApproval(t *testing.T) {
	f := newFixture(t)
	tk := f.listTicket(t, 10000)
	o := f.checkoutPaid(t, tk)

	disputed, err := f.service.Dispute(context.Background(), o.ID, buyerID, "seats were already used")
	if err != nil {
		t.Fatalf("Dispute: %v", err)
	}
	if disputed.Status != order.StatusDisputed || disputed.DisputeAt == nil {
		t.Errorf("got status=%s disputeAt=%v", disputed.Status, disputed.DisputeAt)
	}

	if _, err := f.service.Approve(context.Background(), o.ID, buyerID); !errors.Is(err, order.ErrIllegalTransition) {
		t.Errorf("approve after dispute: want ErrIllegalTransition, got %v", err)
	}
	if _, err := f.service.Dispute(context.Background(), o.ID, buyerID, "again"); !errors.Is(err, order.ErrIllegalTransition) {
		t.Errorf("double dispute: want ErrIllegalTransition, got %v", err)
	}
}

func TestGetVisibleToParticipantsOnly(t *testing.T) {
	f := newFixture(t)
	tk := f.listTicket(t, 10000)
	res := f.checkout(t, tk)

	if _, err := f.service.Get(context.Background(), res.Order.ID, buyerID); err != nil {
		t.Errorf("buyer get: %v", err)
	}
	if _, err := f.service.Get(context.Background(), res.Order.ID, sellerID); err != nil {
		t.Errorf("seller get: %v", err)
	}
	if _, err := f.service.Get(context.Background(), res.Order.ID, "stranger"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("stranger get: want ErrNotParticipant, got %v", err)
	}
}
