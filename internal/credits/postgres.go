package credits

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/bundl-app/server/internal/config"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	ownsDB bool
}

// NewPostgresStore creates a new PostgreSQL-backed purchase store.
func NewPostgresStore(connectionString string, poolConfig config.PostgresPoolConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	config.ApplyPostgresPoolSettings(db, poolConfig)

	store := &PostgresStore{db: db, ownsDB: true}
	if err := store.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB creates a purchase store using an existing pool.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{db: db, ownsDB: false}
	if err := store.createTables(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) createTables() error {
	schema := `
		CREATE TABLE IF NOT EXISTS credit_purchases (
			order_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			package_id TEXT NOT NULL,
			credits INTEGER NOT NULL,
			status TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			paid_at TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_credit_purchases_user ON credit_purchases(user_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create credit_purchases tables: %w", err)
	}
	return nil
}

// Create inserts the purchase row.
func (s *PostgresStore) Create(ctx context.Context, p *Purchase) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_purchases (order_id, user_id, package_id, credits, status, session_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.OrderID, p.UserID, p.PackageID, p.Credits, p.Status, p.SessionID, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}
	return nil
}

// Get returns the purchase or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, orderID string) (*Purchase, error) {
	var (
		p      Purchase
		paidAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT order_id, user_id, package_id, credits, status, session_id, created_at, paid_at
		FROM credit_purchases WHERE order_id = $1
	`, orderID).Scan(&p.OrderID, &p.UserID, &p.PackageID, &p.Credits, &p.Status, &p.SessionID, &p.CreatedAt, &paidAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get purchase: %w", err)
	}
	if paidAt.Valid {
		p.PaidAt = paidAt.Time
	}
	return &p, nil
}

// MarkPaid flips the row to PAID. The WHERE clause is the idempotence gate.
func (s *PostgresStore) MarkPaid(ctx context.Context, orderID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credit_purchases SET status = $2, paid_at = NOW()
		WHERE order_id = $1 AND status = $3
	`, orderID, StatusPaid, StatusCreated)
	if err != nil {
		return false, fmt.Errorf("mark purchase paid: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark purchase paid: rows affected: %w", err)
	}
	return n == 1, nil
}

// Close releases the pool only if this store owns it.
func (s *PostgresStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
