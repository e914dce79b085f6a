package users

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[string]*User
	byPhone map[string]string
}

// NewMemoryStore creates an empty in-memory user store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*User),
		byPhone: make(map[string]string),
	}
}

func (s *MemoryStore) GetOrCreateByPhone(_ context.Context, phone string, defaultCredits int) (*User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byPhone[phone]; ok {
		cp := *s.byID[id]
		return &cp, false, nil
	}

	u := &User{
		ID:          uuid.NewString(),
		PhoneNumber: phone,
		Credits:     defaultCredits,
		CreatedAt:   time.Now().UTC(),
	}
	s.byID[u.ID] = u
	s.byPhone[phone] = u.ID
	cp := *u
	return &cp, true, nil
}

func (s *MemoryStore) Get(_ context.Context, userID string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) SetPushToken(_ context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return ErrNotFound
	}
	u.PushToken = token
	return nil
}

func (s *MemoryStore) PhoneNumbers(_ context.Context, userIDs []string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(userIDs))
	for _, id := range userIDs {
		if u, ok := s.byID[id]; ok {
			out[id] = u.PhoneNumber
		}
	}
	return out, nil
}

func (s *MemoryStore) TryDebit(_ context.Context, userID string, n int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return false, ErrNotFound
	}
	if u.Credits < n {
		return false, nil
	}
	u.Credits -= n
	return true, nil
}

func (s *MemoryStore) Credit(_ context.Context, userID string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return ErrNotFound
	}
	u.Credits += n
	return nil
}

func (s *MemoryStore) Credits(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return 0, ErrNotFound
	}
	return u.Credits, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
