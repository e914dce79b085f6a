package orders

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for development and tests.
// It loses all state on restart; never use it in production.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*Order
}

// NewMemoryStore creates an empty in-memory order store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]*Order)}
}

// Insert creates the order.
func (s *MemoryStore) Insert(_ context.Context, order *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order.Clone()
	return nil
}

// UpdatePledge replaces the mutable fields.
func (s *MemoryStore) UpdatePledge(_ context.Context, orderID string, pledgeMap map[string]float64, totalPledge float64, totalUsers int, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	cp := make(map[string]float64, len(pledgeMap))
	for k, v := range pledgeMap {
		cp[k] = v
	}
	o.PledgeMap = cp
	o.TotalPledge = totalPledge
	o.TotalUsers = totalUsers
	o.Status = status
	return nil
}

// MarkExpired flips ACTIVE to EXPIRED exactly once.
func (s *MemoryStore) MarkExpired(_ context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok || o.Status != StatusActive {
		return false, nil
	}
	o.Status = StatusExpired
	return true, nil
}

// Get returns a copy of the order or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, orderID string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

// ListActive returns copies of every ACTIVE order.
func (s *MemoryStore) ListActive(_ context.Context) ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Order
	for _, o := range s.orders {
		if o.Status == StatusActive {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}

// Close is a no-op for the memory backend.
func (s *MemoryStore) Close() error {
	return nil
}
