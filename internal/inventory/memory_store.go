package inventory

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory ticket store for demo/development mode.
// Conditional-update semantics match the PostgreSQL store exactly.
type MemoryStore struct {
	tickets map[string]*Ticket
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory ticket store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets: make(map[string]*Ticket),
	}
}

func (m *MemoryStore) Create(ctx context.Context, t *Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *t
	m.tickets[t.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) Hold(ctx context.Context, id string, expiresAt time.Time) error {
	return m.conditional(id, StatusActive, func(t *Ticket) {
		t.Status = StatusHeld
		exp := expiresAt
		t.HoldExpiresAt = &exp
	})
}

func (m *MemoryStore) MarkSold(ctx context.Context, id string) error {
	return m.conditional(id, StatusHeld, func(t *Ticket) {
		t.Status = StatusSold
		t.HoldExpiresAt = nil
	})
}

func (m *MemoryStore) Release(ctx context.Context, id string) error {
	return m.conditional(id, StatusHeld, func(t *Ticket) {
		t.Status = StatusActive
		t.HoldExpiresAt = nil
	})
}

// conditional applies mutate only if the ticket is currently in the required
// status, mirroring UPDATE ... WHERE status = $from.
func (m *MemoryStore) conditional(id string, from Status, mutate func(*Ticket)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tickets[id]
	if !ok {
		return ErrTicketNotFound
	}
	if t.Status != from {
		return ErrTicketConflict
	}
	mutate(t)
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Ticket
	for _, t := range m.tickets {
		if t.SellerID == sellerID {
			cp := *t
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
