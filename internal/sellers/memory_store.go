package sellers

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for dev mode and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	sellers map[string]*Seller
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sellers: make(map[string]*Seller)}
}

func (m *MemoryStore) Upsert(ctx context.Context, s *Seller) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sellers[s.ID]; ok {
		s.CreatedAt = existing.CreatedAt
	}
	cp := *s
	m.sellers[s.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Seller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sellers[id]
	if !ok {
		return nil, ErrSellerNotFound
	}
	cp := *s
	return &cp, nil
}
