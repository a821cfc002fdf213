package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/seatswap/seatswap/internal/pagination"
)

// MemoryStore is an in-memory Store for dev mode and tests. It mirrors the
// postgres store's guarded-update semantics: every transition checks the
// source status under the lock and returns ErrOrderConflict on mismatch.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*Order
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]*Order)}
}

func (s *MemoryStore) Create(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

// guarded applies mutate to the order iff its current status is one of from.
// This is the in-memory analogue of UPDATE ... WHERE status IN (...).
func (s *MemoryStore) guarded(id string, from []Status, mutate func(*Order)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	for _, f := range from {
		if o.Status == f {
			mutate(o)
			o.UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrOrderConflict
}

func (s *MemoryStore) SetProviderToken(ctx context.Context, id, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	if o.ProviderToken != "" && o.ProviderToken != token {
		return ErrOrderConflict
	}
	o.ProviderToken = token
	o.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) MarkPaid(ctx context.Context, id string, paidAt time.Time, paymentState string) error {
	return s.guarded(id, []Status{StatusPending}, func(o *Order) {
		o.Status = StatusHeld
		o.PaidAt = &paidAt
		o.PaymentState = paymentState
	})
}

func (s *MemoryStore) FailPending(ctx context.Context, id string, to Status, paymentState string) error {
	if to != StatusPaymentFailed && to != StatusCanceled && to != StatusExpired {
		return ErrIllegalTransition
	}
	return s.guarded(id, []Status{StatusPending}, func(o *Order) {
		o.Status = to
		if paymentState != "" {
			o.PaymentState = paymentState
		}
	})
}

func (s *MemoryStore) Approve(ctx context.Context, id string, buyerOKAt, minRelease time.Time) error {
	return s.guarded(id, []Status{StatusHeld, StatusBuyerOK}, func(o *Order) {
		o.Status = StatusBuyerOK
		o.BuyerOKAt = &buyerOKAt
		if o.ReleaseAt == nil || o.ReleaseAt.Before(minRelease) {
			rel := minRelease
			o.ReleaseAt = &rel
		}
	})
}

func (s *MemoryStore) Dispute(ctx context.Context, id, reason string, at time.Time) error {
	return s.guarded(id, []Status{StatusHeld, StatusBuyerOK}, func(o *Order) {
		o.Status = StatusDisputed
		o.DisputeAt = &at
		o.DisputeReason = reason
	})
}

func (s *MemoryStore) MarkReadyForPayout(ctx context.Context, id string, releaseAt time.Time) error {
	return s.guarded(id, []Status{StatusHeld, StatusBuyerOK}, func(o *Order) {
		o.Status = StatusReadyToPayout
		rel := releaseAt
		o.ReleaseAt = &rel
	})
}

func (s *MemoryStore) AttachToBatch(ctx context.Context, id, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status != StatusReadyToPayout || o.PayoutBatchID != "" {
		return ErrOrderConflict
	}
	o.Status = StatusPaidOut
	o.PayoutBatchID = batchID
	o.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*Order, error) {
	return s.list(limit, func(o *Order) bool {
		return o.Status == StatusPending && o.CreatedAt.Before(before)
	})
}

func (s *MemoryStore) ListPayoutCandidates(ctx context.Context, limit int) ([]*Order, error) {
	return s.list(limit, func(o *Order) bool {
		return (o.Status == StatusHeld || o.Status == StatusBuyerOK) && o.PayoutBatchID == ""
	})
}

func (s *MemoryStore) ListReadyUnbatched(ctx context.Context, limit int) ([]*Order, error) {
	return s.list(limit, func(o *Order) bool {
		return o.Status == StatusReadyToPayout && o.PayoutBatchID == ""
	})
}

func (s *MemoryStore) ListByBatch(ctx context.Context, batchID string) ([]*Order, error) {
	return s.list(0, func(o *Order) bool {
		return o.PayoutBatchID == batchID
	})
}

func (s *MemoryStore) ListByBuyer(ctx context.Context, buyerID string, cursor *pagination.Cursor, limit int) ([]*Order, error) {
	return s.listDesc(cursor, limit, func(o *Order) bool { return o.BuyerID == buyerID })
}

func (s *MemoryStore) ListBySeller(ctx context.Context, sellerID string, cursor *pagination.Cursor, limit int) ([]*Order, error) {
	return s.listDesc(cursor, limit, func(o *Order) bool { return o.SellerID == sellerID })
}

// listDesc returns matches newest first, resuming strictly after the cursor.
func (s *MemoryStore) listDesc(cursor *pagination.Cursor, limit int, match func(*Order) bool) ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Order
	for _, o := range s.orders {
		if !match(o) {
			continue
		}
		if cursor != nil && !beforeCursor(o, cursor) {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func beforeCursor(o *Order, c *pagination.Cursor) bool {
	if o.CreatedAt.Equal(c.CreatedAt) {
		return o.ID < c.ID
	}
	return o.CreatedAt.Before(c.CreatedAt)
}

func (s *MemoryStore) list(limit int, match func(*Order) bool) ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Order
	for _, o := range s.orders {
		if match(o) {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
