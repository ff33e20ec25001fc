package wallet

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

// PostgresStore backs wallets with a Postgres table. The debit is a
// single-row conditional UPDATE checked via affected-row count, which is
// what closes the check-then-debit race across pods.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against the given DSN.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing pool (used by tests with sqlmock
// style fakes and by callers that manage the pool themselves).
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close releases the connection pool.
func (ps *PostgresStore) Close() error { return ps.db.Close() }

func (ps *PostgresStore) Get(ctx context.Context, userID string) (*Balance, error) {
	var b Balance
	err := ps.db.QueryRowContext(ctx,
		`SELECT user_id, balance, status, last_updated FROM wallets WHERE user_id = $1`,
		userID,
	).Scan(&b.UserID, &b.Balance, &b.Status, &b.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select wallet: %w", err)
	}
	return &b, nil
}

func (ps *PostgresStore) Create(ctx context.Context, b *Balance) error {
	_, err := ps.db.ExecContext(ctx,
		`INSERT INTO wallets (user_id, balance, status, last_updated)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (user_id) DO NOTHING`,
		b.UserID, b.Balance, b.Status,
	)
	if err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

func (ps *PostgresStore) DebitIfSufficient(ctx context.Context, userID string, amount int) (int, bool, error) {
	var newBalance int
	err := ps.db.QueryRowContext(ctx,
		`UPDATE wallets
		 SET balance = balance - $2, last_updated = NOW()
		 WHERE user_id = $1 AND status = 'active' AND balance >= $2
		 RETURNING balance`,
		userID, amount,
	).Scan(&newBalance)
	if err == sql.ErrNoRows {
		// Condition not met: insufficient balance or suspended wallet.
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("conditional debit: %w", err)
	}
	return newBalance, true, nil
}

func (ps *PostgresStore) Credit(ctx context.Context, userID string, amount int) (int, error) {
	var newBalance int
	err := ps.db.QueryRowContext(ctx,
		`UPDATE wallets
		 SET balance = balance + $2, last_updated = NOW()
		 WHERE user_id = $1
		 RETURNING balance`,
		userID, amount,
	).Scan(&newBalance)
	if err != nil {
		return 0, fmt.Errorf("credit wallet: %w", err)
	}
	return newBalance, nil
}

func (ps *PostgresStore) SetStatus(ctx context.Context, userID string, status Status) error {
	_, err := ps.db.ExecContext(ctx,
		`UPDATE wallets SET status = $2, last_updated = NOW() WHERE user_id = $1`,
		userID, status,
	)
	if err != nil {
		return fmt.Errorf("set wallet status: %w", err)
	}
	return nil
}
