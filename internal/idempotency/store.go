// Package idempotency caches responses to replayed mutation requests.
// Clients retrying createOrder or pledgeToOrder over a flaky mobile
// connection send an Idempotency-Key header; the first response is cached
// and replayed instead of charging credits twice.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// Response is a cached HTTP response.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	CachedAt   time.Time
}

// Store manages cached responses keyed by idempotency key.
type Store interface {
	Get(ctx context.Context, key string) (*Response, bool)
	Set(ctx context.Context, key string, response *Response, ttl time.Duration) error
}

type entry struct {
	response *Response
	expires  time.Time
}

// MemoryStore is a bounded in-memory Store. When full, the sweep that runs
// on every write evicts expired entries; if the store is still full the
// write is accepted anyway, trading memory for correctness of replays.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	maxSize int
}

// NewMemoryStore creates a store bounded to roughly maxSize live entries.
func NewMemoryStore(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryStore{
		entries: make(map[string]entry),
		maxSize: maxSize,
	}
}

// Get returns the cached response for the key, if present and fresh.
func (s *MemoryStore) Get(_ context.Context, key string) (*Response, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.response, true
}

// Set caches the response for ttl.
func (s *MemoryStore) Set(_ context.Context, key string, response *Response, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) >= s.maxSize {
		now := time.Now()
		for k, e := range s.entries {
			if e.expires.Before(now) {
				delete(s.entries, k)
			}
		}
	}
	s.entries[key] = entry{response: response, expires: time.Now().Add(ttl)}
	return nil
}
