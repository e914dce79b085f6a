package users

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bundl-app/server/internal/config"
)

// Store is the identity and credit ledger backend.
type Store interface {
	// GetOrCreateByPhone returns the user for the phone number, creating one
	// with the given starting balance if none exists. The second return value
	// reports whether a new user was created.
	GetOrCreateByPhone(ctx context.Context, phone string, defaultCredits int) (*User, bool, error)

	// Get returns the user or ErrNotFound.
	Get(ctx context.Context, userID string) (*User, error)

	// SetPushToken records the device push token for the user.
	SetPushToken(ctx context.Context, userID, token string) error

	// PhoneNumbers resolves user IDs to phone numbers. Unknown IDs are
	// silently omitted from the result.
	PhoneNumbers(ctx context.Context, userIDs []string) (map[string]string, error)

	// TryDebit atomically subtracts n credits if the balance allows it.
	// It returns false without error when the balance is insufficient.
	TryDebit(ctx context.Context, userID string, n int) (bool, error)

	// Credit adds n credits to the user's balance.
	Credit(ctx context.Context, userID string, n int) error

	// Credits returns the current balance.
	Credits(ctx context.Context, userID string) (int, error)

	Close() error
}

// NewStore creates a Store based on the storage configuration.
// A non-nil sharedDB is reused for the postgres backend so the user ledger and
// the order store share one connection pool.
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
		return nil, fmt.Errorf("users: unknown storage backend %q", cfg.Backend)
	}
}
