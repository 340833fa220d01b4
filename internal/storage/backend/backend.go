// Package backend opens the record store named by a DSN.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tensorzero/curator/internal/storage"
	"github.com/tensorzero/curator/internal/storage/memstore"
	"github.com/tensorzero/curator/internal/storage/sqlitestore"
	"github.com/tensorzero/curator/migrations"
)

// Open selects a backend by DSN scheme, applies migrations and returns the
// store instrumented with metrics:
//
//	postgres://... or postgresql://...   Postgres via pgxpool
//	sqlite:<path> or sqlite::memory:     SQLite via modernc.org/sqlite
//	memory:                              in-process store, for demos and tests
func Open(ctx context.Context, dsn string, opts storage.Options, logger *slog.Logger) (storage.Store, error) {
	var (
		s   storage.Store
		err error
	)
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		s, err = openPostgres(ctx, dsn, opts, logger)
	case strings.HasPrefix(dsn, "sqlite:"):
		s, err = sqlitestore.Open(ctx, strings.TrimPrefix(dsn, "sqlite:"), logger)
	case dsn == "memory:":
		s = memstore.New()
	default:
		return nil, fmt.Errorf("%w: %q", storage.ErrUnsupportedDSN, redact(dsn))
	}
	if err != nil {
		return nil, err
	}
	logger.Info("record store opened", "backend", s.Backend())
	return storage.Observe(s), nil
}

func openPostgres(ctx context.Context, dsn string, opts storage.Options, logger *slog.Logger) (storage.Store, error) {
	db, err := storage.New(ctx, dsn, opts, logger)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(ctx, migrations.Postgres()); err != nil {
		db.Close(ctx)
		return nil, err
	}
	return db, nil
}

// redact drops everything after the scheme so credentials never reach logs.
func redact(dsn string) string {
	if i := strings.Index(dsn, "://"); i >= 0 {
		return dsn[:i+3] + "..."
	}
	if len(dsn) > 16 {
		return dsn[:16] + "..."
	}
	return dsn
}
