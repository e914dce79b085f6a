// Package notify delivers best-effort push notifications for engine events.
//
// Events are fire-and-forget: a full queue drops the event, delivery failures
// are logged and never surface to the caller, and nothing here gates engine
// correctness.
package notify

import "github.com/bundl-app/server/internal/orders"

// EventType identifies an engine lifecycle event.
type EventType string

const (
	EventOrderCreated   EventType = "order_created"
	EventPledgeSuccess  EventType = "pledge_success"
	EventPledgeFailed   EventType = "pledge_failed"
	EventOrderCompleted EventType = "order_completed"
	EventOrderExpired   EventType = "order_expired"
)

// Event is a single engine occurrence to notify users about.
type Event struct {
	Type   EventType
	Order  *orders.Order
	UserID string // acting user, when the event has one
	Reason string // rejection reason for EventPledgeFailed
}
