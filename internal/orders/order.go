// Package orders holds the order domain model and the durable order store.
//
// The durable store is the terminal authority for an order: while an order is
// ACTIVE the live cache (internal/livecache) owns the working copy, and the
// engine (internal/engine) writes results back here after every successful
// mutation. Readers that combine both stores must prefer the cache for live
// state.
package orders

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested order is missing from the store.
var ErrNotFound = errors.New("orders: not found")

// Status is the lifecycle state of an order.
// Transitions are monotonic: ACTIVE -> COMPLETED or ACTIVE -> EXPIRED.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusExpired   Status = "EXPIRED"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether s is immutable.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired
}

// Order is a pending collective purchase.
//
// Invariants maintained by the engine and the scripted pledge:
//   - TotalPledge equals the sum of PledgeMap values.
//   - TotalUsers equals the number of distinct PledgeMap keys.
//   - A user appears at most once in PledgeMap.
type Order struct {
	ID           string             `json:"id"`
	Status       Status             `json:"status"`
	CreatorID    string             `json:"creatorId"`
	AmountNeeded float64            `json:"amountNeeded"`
	PledgeMap    map[string]float64 `json:"pledgeMap"`
	TotalPledge  float64            `json:"totalPledge"`
	TotalUsers   int                `json:"totalUsers"`
	Platform     string             `json:"platform"`
	Latitude     float64            `json:"latitude"`
	Longitude    float64            `json:"longitude"`
	ExpiresAt    time.Time          `json:"expiresAt"`
	CreatedAt    time.Time          `json:"createdAt"`
}

// Clone returns a deep copy so callers can redact or mutate without aliasing.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	cp.PledgeMap = make(map[string]float64, len(o.PledgeMap))
	for k, v := range o.PledgeMap {
		cp.PledgeMap[k] = v
	}
	return &cp
}

// Participants returns the distinct user ids present in the pledge map.
func (o *Order) Participants() []string {
	ids := make([]string, 0, len(o.PledgeMap))
	for id := range o.PledgeMap {
		ids = append(ids, id)
	}
	return ids
}

// RedactFor strips every pledge map entry except the caller's.
// Used for ACTIVE orders so participants cannot see each other's amounts.
func (o *Order) RedactFor(userID string) *Order {
	cp := o.Clone()
	redacted := make(map[string]float64, 1)
	if v, ok := cp.PledgeMap[userID]; ok {
		redacted[userID] = v
	}
	cp.PledgeMap = redacted
	return cp
}
