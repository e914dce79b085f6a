package orders

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bundl-app/server/internal/config"
)

// Store captures the persistence requirements for orders.
//
// All writes happen on behalf of the engine; concurrent pledges against the
// same order are already serialized by the live cache's scripted step, so a
// last-writer-wins UpdatePledge is sufficient here.
type Store interface {
	// Insert creates the row in ACTIVE state with the initial (possibly empty) pledge map.
	Insert(ctx context.Context, order *Order) error

	// UpdatePledge replaces the mutable fields after a successful scripted pledge.
	UpdatePledge(ctx context.Context, orderID string, pledgeMap map[string]float64, totalPledge float64, totalUsers int, status Status) error

	// MarkExpired performs the conditional ACTIVE -> EXPIRED transition.
	// It returns true only for the invocation that actually flipped the row,
	// which is the idempotence gate for the expiry refund fan-out.
	MarkExpired(ctx context.Context, orderID string) (bool, error)

	// Get returns the order or ErrNotFound.
	Get(ctx context.Context, orderID string) (*Order, error)

	// ListActive returns every order still in ACTIVE state (boot reconciliation scan).
	ListActive(ctx context.Context) ([]*Order, error)

	Close() error
}

// NewStore creates a Store based on the storage configuration.
// A non-nil sharedDB is reused for the postgres backend so the order store and
// the user ledger share one connection pool.
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
		return nil, fmt.Errorf("orders: unknown storage backend %q", cfg.Backend)
	}
}
