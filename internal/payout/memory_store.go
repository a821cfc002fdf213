package payout

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for dev mode and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	batches   map[string]*Batch
	transfers map[string][]*Transfer // keyed by batch id
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		batches:   make(map[string]*Batch),
		transfers: make(map[string][]*Transfer),
	}
}

func (m *MemoryStore) CreateBatch(ctx context.Context, b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.batches[b.ID] = &cp
	return nil
}

func (m *MemoryStore) GetBatch(ctx context.Context, id string) (*Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, ErrBatchNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) FinalizeBatch(ctx context.Context, id string, orderCount int, totalCents int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return ErrBatchNotFound
	}
	b.OrderCount = orderCount
	b.TotalAmountCents = totalCents
	b.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) CreateTransfer(ctx context.Context, t *Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.transfers[t.BatchID] = append(m.transfers[t.BatchID], &cp)
	return nil
}

func (m *MemoryStore) ListTransfers(ctx context.Context, batchID string) ([]*Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Transfer
	for _, t := range m.transfers[batchID] {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SellerID < out[j].SellerID })
	return out, nil
}
