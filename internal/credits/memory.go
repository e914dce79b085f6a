package credits

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu        sync.Mutex
	purchases map[string]*Purchase
}

// NewMemoryStore creates an empty in-memory purchase store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{purchases: make(map[string]*Purchase)}
}

func (s *MemoryStore) Create(_ context.Context, p *Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.purchases[p.OrderID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, orderID string) (*Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.purchases[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) MarkPaid(_ context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.purchases[orderID]
	if !ok || p.Status != StatusCreated {
		return false, nil
	}
	p.Status = StatusPaid
	p.PaidAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
