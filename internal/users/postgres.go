package users

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/bundl-app/server/internal/config"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	ownsDB bool // Track if we created the DB connection (for Close())
}

// NewPostgresStore creates a new PostgreSQL-backed user store.
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

// NewPostgresStoreWithDB creates a user store using an existing connection pool.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{db: db, ownsDB: false}
	if err := store.createTables(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) createTables() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			phone_number TEXT NOT NULL UNIQUE,
			push_token TEXT NOT NULL DEFAULT '',
			credits INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_users_phone ON users(phone_number);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create users tables: %w", err)
	}
	return nil
}

// GetOrCreateByPhone returns the user for the phone number, inserting a fresh
// row on first sight. The upsert races safely: ON CONFLICT DO NOTHING followed
// by a read handles two concurrent first logins for the same number.
func (s *PostgresStore) GetOrCreateByPhone(ctx context.Context, phone string, defaultCredits int) (*User, bool, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, phone_number, credits, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (phone_number) DO NOTHING
	`, id, phone, defaultCredits, now)
	if err != nil {
		return nil, false, fmt.Errorf("insert user: %w", err)
	}
	n, _ := res.RowsAffected()
	created := n == 1

	row := s.db.QueryRowContext(ctx, `
		SELECT id, phone_number, push_token, credits, created_at
		FROM users WHERE phone_number = $1
	`, phone)
	u, err := scanUser(row)
	if err != nil {
		return nil, false, err
	}
	return u, created, nil
}

// Get returns the user or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, userID string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, phone_number, push_token, credits, created_at
		FROM users WHERE id = $1
	`, userID)
	return scanUser(row)
}

// SetPushToken records the device push token.
func (s *PostgresStore) SetPushToken(ctx context.Context, userID, token string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET push_token = $2, updated_at = NOW() WHERE id = $1
	`, userID, token)
	if err != nil {
		return fmt.Errorf("set push token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PhoneNumbers resolves user IDs to phone numbers.
func (s *PostgresStore) PhoneNumbers(ctx context.Context, userIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, phone_number FROM users WHERE id = ANY($1)
	`, pq.Array(userIDs))
	if err != nil {
		return nil, fmt.Errorf("resolve phone numbers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, phone string
		if err := rows.Scan(&id, &phone); err != nil {
			return nil, fmt.Errorf("scan phone number: %w", err)
		}
		out[id] = phone
	}
	return out, rows.Err()
}

// TryDebit subtracts n credits only when the balance covers it.
// The WHERE clause makes the check-and-subtract a single atomic statement.
func (s *PostgresStore) TryDebit(ctx context.Context, userID string, n int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET credits = credits - $2, updated_at = NOW()
		WHERE id = $1 AND credits >= $2
	`, userID, n)
	if err != nil {
		return false, fmt.Errorf("debit credits: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("debit credits: rows affected: %w", err)
	}
	if affected == 1 {
		return true, nil
	}

	// Distinguish an insufficient balance from a missing user.
	var exists bool
	err = s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("debit credits: check user: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

// Credit adds n credits to the balance.
func (s *PostgresStore) Credit(ctx context.Context, userID string, n int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET credits = credits + $2, updated_at = NOW() WHERE id = $1
	`, userID, n)
	if err != nil {
		return fmt.Errorf("credit user: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Credits returns the current balance.
func (s *PostgresStore) Credits(ctx context.Context, userID string) (int, error) {
	var credits int
	err := s.db.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = $1`, userID).Scan(&credits)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get credits: %w", err)
	}
	return credits, nil
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

func scanUser(row rowScanner) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.PhoneNumber, &u.PushToken, &u.Credits, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}
