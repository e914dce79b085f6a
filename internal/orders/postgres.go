package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/bundl-app/server/internal/config"
	_ "github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	ownsDB bool // Track if we created the DB connection (for Close())
}

// NewPostgresStore creates a new PostgreSQL-backed order store.
func NewPostgresStore(connectionString string, poolConfig config.PostgresPoolConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		// Close() error during initialization cleanup is not actionable and
		// would only obscure the original connection failure.
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

// NewPostgresStoreWithDB creates an order store using an existing connection pool.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{db: db, ownsDB: false}
	if err := store.createTables(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) createTables() error {
	schema := `
		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			creator_id TEXT NOT NULL,
			amount_needed NUMERIC(12,2) NOT NULL,
			pledge_map JSONB NOT NULL DEFAULT '{}',
			total_pledge NUMERIC(12,2) NOT NULL DEFAULT 0,
			total_users INTEGER NOT NULL DEFAULT 0,
			platform TEXT NOT NULL DEFAULT '',
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
		CREATE INDEX IF NOT EXISTS idx_orders_creator ON orders(creator_id);
		CREATE INDEX IF NOT EXISTS idx_orders_status_expires ON orders(status, expires_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create orders tables: %w", err)
	}
	return nil
}

// Insert creates the order row.
func (s *PostgresStore) Insert(ctx context.Context, order *Order) error {
	pledgeJSON, err := json.Marshal(order.PledgeMap)
	if err != nil {
		return fmt.Errorf("marshal pledge map: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (
			id, status, creator_id, amount_needed, pledge_map,
			total_pledge, total_users, platform, latitude, longitude,
			expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
	`, order.ID, order.Status, order.CreatorID, order.AmountNeeded, pledgeJSON,
		order.TotalPledge, order.TotalUsers, order.Platform, order.Latitude, order.Longitude,
		order.ExpiresAt, order.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// UpdatePledge replaces the mutable fields after a successful pledge.
func (s *PostgresStore) UpdatePledge(ctx context.Context, orderID string, pledgeMap map[string]float64, totalPledge float64, totalUsers int, status Status) error {
	pledgeJSON, err := json.Marshal(pledgeMap)
	if err != nil {
		return fmt.Errorf("marshal pledge map: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET pledge_map = $2, total_pledge = $3, total_users = $4, status = $5, updated_at = NOW()
		WHERE id = $1
	`, orderID, pledgeJSON, totalPledge, totalUsers, status)
	if err != nil {
		return fmt.Errorf("update order pledge: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkExpired flips the row from ACTIVE to EXPIRED.
// The WHERE clause is the idempotence gate: only one caller observes true.
func (s *PostgresStore) MarkExpired(ctx context.Context, orderID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, orderID, StatusExpired, StatusActive)
	if err != nil {
		return false, fmt.Errorf("mark order expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark order expired: rows affected: %w", err)
	}
	return n == 1, nil
}

// Get returns the order or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, orderID string) (*Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, creator_id, amount_needed, pledge_map,
		       total_pledge, total_users, platform, latitude, longitude,
		       expires_at, created_at
		FROM orders WHERE id = $1
	`, orderID)
	return scanOrder(row)
}

// ListActive returns every ACTIVE order for the boot reconciliation scan.
func (s *PostgresStore) ListActive(ctx context.Context) ([]*Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, creator_id, amount_needed, pledge_map,
		       total_pledge, total_users, platform, latitude, longitude,
		       expires_at, created_at
		FROM orders WHERE status = $1
	`, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("list active orders: %w", err)
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Close releases the pool only if this store owns it.
func (s *PostgresStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var (
		o          Order
		pledgeJSON []byte
	)
	err := row.Scan(
		&o.ID, &o.Status, &o.CreatorID, &o.AmountNeeded, &pledgeJSON,
		&o.TotalPledge, &o.TotalUsers, &o.Platform, &o.Latitude, &o.Longitude,
		&o.ExpiresAt, &o.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	if err := json.Unmarshal(pledgeJSON, &o.PledgeMap); err != nil {
		return nil, fmt.Errorf("decode pledge map: %w", err)
	}
	if o.PledgeMap == nil {
		o.PledgeMap = map[string]float64{}
	}
	return &o, nil
}
