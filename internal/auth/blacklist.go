package auth

import (
	"sync"
	"time"
)

// Blacklist tracks revoked refresh token IDs until their natural expiry.
// Entries are pruned lazily on access; the set stays small because refresh
// tokens are revoked on rotation and expire on their own schedule.
type Blacklist struct {
	mu      sync.Mutex
	revoked map[string]time.Time // jti -> token expiry
}

// NewBlacklist creates an empty blacklist.
func NewBlacklist() *Blacklist {
	return &Blacklist{revoked: make(map[string]time.Time)}
}

// Revoke marks a token ID as unusable until expiresAt.
func (b *Blacklist) Revoke(jti string, expiresAt time.Time) {
	if jti == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune()
	b.revoked[jti] = expiresAt
}

// IsRevoked reports whether the token ID has been revoked.
func (b *Blacklist) IsRevoked(jti string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune()
	_, revoked := b.revoked[jti]
	return revoked
}

// prune drops entries whose tokens have expired anyway. Caller holds the lock.
func (b *Blacklist) prune() {
	now := time.Now()
	for jti, exp := range b.revoked {
		if exp.Before(now) {
			delete(b.revoked, jti)
		}
	}
}
