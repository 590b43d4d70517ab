package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/proto-clique/internal/ratelimit"
)

const rateLimitSchema = `
	CREATE TABLE IF NOT EXISTS rate_limits (
		identifier TEXT PRIMARY KEY,
		hits       BIGINT      NOT NULL,
		window_end TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)
`

// RateLimitPostgresStore is a PostgreSQL implementation of ratelimit.Store.
// Each update locks the identifier's row with SELECT ... FOR UPDATE.
type RateLimitPostgresStore struct {
	pool *pgxpool.Pool
}

// NewRateLimitPostgresStore creates a new PostgreSQL-backed rate limit store.
func NewRateLimitPostgresStore(pool *pgxpool.Pool) *RateLimitPostgresStore {
	return &RateLimitPostgresStore{pool: pool}
}

// EnsureSchema creates the rate_limits table if it does not exist.
func (p *RateLimitPostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, rateLimitSchema)

	return err
}

func (p *RateLimitPostgresStore) Get(ctx context.Context, key string) (*ratelimit.Record, error) {
	query := `SELECT hits, window_end FROM rate_limits WHERE identifier = $1`

	return scanRecord(p.pool.QueryRow(ctx, query, key))
}

func (p *RateLimitPostgresStore) Update(ctx context.Context, key string, fn ratelimit.UpdateFunc) error {
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		current, err := p.lockRecord(ctx, tx, key)
		if err != nil {
			return err
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		if next == nil {
			return nil
		}

		query := `
			UPDATE rate_limits
			SET hits = $2, window_end = $3, updated_at = $4
			WHERE identifier = $1
		`

		_, err = tx.Exec(ctx, query, key, next.Hits, next.WindowEnd, time.Now())

		return err
	})
}

// lockRecord returns the locked record for key, or nil if the caller is the
// first writer. A placeholder row is inserted for first writers so that a
// concurrent first writer blocks on the primary key instead of racing.
func (p *RateLimitPostgresStore) lockRecord(ctx context.Context, tx pgx.Tx, key string) (*ratelimit.Record, error) {
	selectQuery := `SELECT hits, window_end FROM rate_limits WHERE identifier = $1 FOR UPDATE`

	current, err := scanRecord(tx.QueryRow(ctx, selectQuery, key))
	if err != nil || current != nil {
		return current, err
	}

	insertQuery := `
		INSERT INTO rate_limits (identifier, hits, window_end, updated_at)
		VALUES ($1, 0, to_timestamp(0), now())
		ON CONFLICT (identifier) DO NOTHING
	`

	tag, err := tx.Exec(ctx, insertQuery, key)
	if err != nil {
		return nil, err
	}

	if tag.RowsAffected() == 1 {
		return nil, nil
	}

	// Another transaction created the row first; wait for its lock.
	return scanRecord(tx.QueryRow(ctx, selectQuery, key))
}

// Shutdown is a no-op for RateLimitPostgresStore (pool managed externally).
func (p *RateLimitPostgresStore) Shutdown() error {
	return nil
}

func scanRecord(row pgx.Row) (*ratelimit.Record, error) {
	var rec ratelimit.Record

	if err := row.Scan(&rec.Hits, &rec.WindowEnd); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}

		return nil, err
	}

	return &rec, nil
}

// Compile-time check.
var _ ratelimit.Store = (*RateLimitPostgresStore)(nil)
