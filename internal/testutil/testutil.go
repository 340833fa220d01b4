// Package testutil provides shared test infrastructure: a Postgres container
// for integration tests, deterministic id generation, and record fixtures.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    tc, err := testutil.StartPostgres(context.Background())
//	    if err == nil {
//	        defer tc.Terminate()
//	        testDB, _ = tc.NewTestDB(context.Background(), testutil.TestLogger())
//	    }
//	    os.Exit(m.Run())
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/tensorzero/curator/internal/storage"
	"github.com/tensorzero/curator/migrations"
)

// TestContainer wraps a Postgres container with a DSN for connecting.
type TestContainer struct {
	Container *tcpostgres.PostgresContainer
	DSN       string
}

// StartPostgres starts a Postgres container. It returns an error when Docker
// is unavailable so callers can skip instead of failing.
func StartPostgres(ctx context.Context) (*TestContainer, error) {
	return guardDocker(ctx, runPostgres)
}

// guardDocker runs start and turns a panic into an error. testcontainers
// panics when it cannot locate a Docker host.
func guardDocker(ctx context.Context, start func(context.Context) (*TestContainer, error)) (tc *TestContainer, err error) {
	defer func() {
		if r := recover(); r != nil {
			tc, err = nil, fmt.Errorf("testutil: docker unavailable: %v", r)
		}
	}()
	return start(ctx)
}

func runPostgres(ctx context.Context) (*TestContainer, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	container, err := tcpostgres.Run(ctx, "postgres:17-alpine",
		tcpostgres.WithDatabase("curator"),
		tcpostgres.WithUsername("curator"),
		tcpostgres.WithPassword("curator"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("testutil: start postgres: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		return nil, fmt.Errorf("testutil: connection string: %w", err)
	}
	return &TestContainer{Container: container, DSN: dsn}, nil
}

// NewTestDB creates a storage.DB connected to this container and runs all migrations.
func (tc *TestContainer) NewTestDB(ctx context.Context, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.New(ctx, tc.DSN, storage.Options{MaxRetries: 2}, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: create DB: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.Postgres()); err != nil {
		return nil, fmt.Errorf("testutil: run migrations: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container.
func (tc *TestContainer) Terminate() {
	_ = testcontainers.TerminateContainer(tc.Container)
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
