// Package storage is the record store layer of the curator.
//
// It defines the RecordStore read interface and the stream model every
// backend shares, a parameterized query builder with Postgres and SQLite
// dialects, and the Postgres implementation built on pgxpool.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the subset of pgxpool.Pool used by DB. pgxmock pools satisfy it.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Options tunes the Postgres store.
type Options struct {
	MaxConns       int32
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// DB is the Postgres RecordStore. It wraps a pgxpool.Pool.
type DB struct {
	pool       *pgxpool.Pool
	q          querier
	logger     *slog.Logger
	maxRetries int
	retryDelay time.Duration
}

var _ Store = (*DB)(nil)

// New creates a DB with a connection pool and verifies connectivity.
func New(ctx context.Context, dsn string, opts Options, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	db := newWithQuerier(pool, opts, logger)
	db.pool = pool
	return db, nil
}

func newWithQuerier(q querier, opts Options, logger *slog.Logger) *DB {
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 25 * time.Millisecond
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &DB{
		q:          q,
		logger:     logger,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryBaseDelay,
	}
}

// Pool returns the underlying connection pool, or nil for a mocked DB.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Backend names the store implementation.
func (db *DB) Backend() string { return "postgres" }

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.q.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close(_ context.Context) {
	if db.pool != nil {
		db.pool.Close()
	}
}
