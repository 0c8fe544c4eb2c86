// Package postgres provides a PostgreSQL implementation of counter.Store.
// It uses pgx/v5 for connection pooling. Each increment is a single
// upsert statement, so concurrent increments serialize on the row lock.
// PostgreSQL has no native key expiry: expired rows are reset on the next
// write and removed by Sweep.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/quotagate/pkg/counter"
)

// Store is a PostgreSQL-backed counter store.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements counter.Store and counter.Sweeper at compile time.
var (
	_ counter.Store   = (*Store)(nil)
	_ counter.Sweeper = (*Store)(nil)
)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

const upsertSQL = `
	INSERT INTO quota_counters AS c (key, value, expires_at)
	VALUES ($1, $2, now() + $3::float8 * interval '1 millisecond')
	ON CONFLICT (key) DO UPDATE SET
		value = CASE WHEN c.expires_at <= now()
			THEN EXCLUDED.value
			ELSE c.value + EXCLUDED.value END,
		expires_at = CASE WHEN c.expires_at <= now()
			THEN EXCLUDED.expires_at
			ELSE c.expires_at END
	RETURNING value`

const decrementSQL = `
	UPDATE quota_counters
	SET value = GREATEST(value + $2, 0)
	WHERE key = $1 AND expires_at > now()
	RETURNING value`

// IncrementAndGet adds amount to key in one statement. Positive amounts
// upsert and start a fresh window when the stored row has expired; zero or
// negative amounts only touch a live row and clamp at zero.
func (s *Store) IncrementAndGet(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	var value int64

	if amount <= 0 {
		err := s.pool.QueryRow(ctx, decrementSQL, key, amount).Scan(&value)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		if err != nil {
			return 0, counter.Unavailable("postgres decrement", err)
		}
		return value, nil
	}

	ttlMs := ttl.Milliseconds()
	if ttlMs <= 0 {
		ttlMs = 1
	}
	if err := s.pool.QueryRow(ctx, upsertSQL, key, amount, float64(ttlMs)).Scan(&value); err != nil {
		return 0, counter.Unavailable("postgres increment", err)
	}
	return value, nil
}

// Get returns the live value of key, or 0.
func (s *Store) Get(ctx context.Context, key string) (int64, error) {
	var value int64
	err := s.pool.QueryRow(ctx,
		"SELECT value FROM quota_counters WHERE key = $1 AND expires_at > now()",
		key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, counter.Unavailable("postgres get", err)
	}
	return value, nil
}

// Remove deletes key.
func (s *Store) Remove(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM quota_counters WHERE key = $1", key); err != nil {
		return counter.Unavailable("postgres remove", err)
	}
	return nil
}

// Sweep deletes expired rows and returns how many were removed.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM quota_counters WHERE expires_at <= now()")
	if err != nil {
		return 0, counter.Unavailable("postgres sweep", err)
	}
	return tag.RowsAffected(), nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return counter.Unavailable("postgres ping", s.pool.Ping(ctx))
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
