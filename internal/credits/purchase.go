// Package credits sells credit top-ups through a Cashfree-style payment
// gateway. A purchase row is created when the client asks for a payment
// session and flipped to PAID exactly once by the gateway webhook; the flip
// is the idempotence gate for crediting the user.
package credits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bundl-app/server/internal/config"
)

// ErrNotFound is returned when the purchase does not exist.
var ErrNotFound = errors.New("purchase not found")

// Purchase statuses.
const (
	StatusCreated = "CREATED"
	StatusPaid    = "PAID"
)

// Purchase is one credit top-up attempt, keyed by the gateway order id.
type Purchase struct {
	OrderID   string    `json:"orderId"`
	UserID    string    `json:"-"`
	PackageID string    `json:"packageId"`
	Credits   int       `json:"credits"`
	Status    string    `json:"status"`
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
	PaidAt    time.Time `json:"paidAt,omitempty"`
}

// Store persists purchase rows.
type Store interface {
	// Create inserts the purchase in CREATED state.
	Create(ctx context.Context, p *Purchase) error

	// Get returns the purchase or ErrNotFound.
	Get(ctx context.Context, orderID string) (*Purchase, error)

	// MarkPaid flips CREATED to PAID. It returns true only for the call that
	// actually flipped the row, so webhook retries credit the user once.
	MarkPaid(ctx context.Context, orderID string) (bool, error)

	Close() error
}

// NewStore creates a Store based on the storage configuration.
func NewStore(cfg config.StorageConfig, sharedDB *sql.DB) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres":
		if sharedDB != nil {
			return NewPostgresStoreWithDB(sharedDB)
		}
		return NewPostgresStore(cfg.PostgresURL, cfg.PostgresPool)
	case "mongodb":
		return NewMongoStore(cfg.MongoDBURL, cfg.MongoDBDatabase)
	default:
		return nil, fmt.Errorf("credits: unknown storage backend %q", cfg.Backend)
	}
}
