// Package store is the relational source of truth. Postgres is always
// written first; vector-index writes follow asynchronously through the work
// queue. Vector bindings (point id + indexed_at) recorded here are what the
// consistency subsystem audits against the index.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kestrelworks/guildsight/internal/config"
	"github.com/kestrelworks/guildsight/internal/logging"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate indicates an insert hit an existing primary key.
	ErrDuplicate = errors.New("store: duplicate id")
)

// Store wraps the read-write pool and an optional read-only pool. The
// read-only pool backs the analytics path so LLM-generated SQL can never
// touch the primary even if the guard were bypassed.
type Store struct {
	pool   *pgxpool.Pool
	roPool *pgxpool.Pool
	logger *logging.Logger
}

// New connects both pools and pings them.
func New(ctx context.Context, cfg config.StoreConfig, logger *logging.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse store url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create store pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	roPool := pool
	if cfg.ReadOnlyURL != "" && cfg.ReadOnlyURL != cfg.URL {
		roCfg, err := pgxpool.ParseConfig(cfg.ReadOnlyURL)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to parse readonly store url: %w", err)
		}
		roPool, err = pgxpool.NewWithConfig(ctx, roCfg)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create readonly pool: %w", err)
		}
		if err := roPool.Ping(ctx); err != nil {
			pool.Close()
			roPool.Close()
			return nil, fmt.Errorf("failed to ping readonly store: %w", err)
		}
	}

	return &Store{
		pool:   pool,
		roPool: roPool,
		logger: logger.Named("store"),
	}, nil
}

// Close releases both pools.
func (s *Store) Close() {
	if s.roPool != nil && s.roPool != s.pool {
		s.roPool.Close()
	}
	s.pool.Close()
}

// Ping verifies the primary connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
