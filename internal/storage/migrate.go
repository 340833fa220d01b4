package storage

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
)

// Migrator is a database that tracks which migration files it has applied.
// Each backend supplies its own dialect for the tracking table.
type Migrator interface {
	// EnsureMigrationTable creates the tracking table if it is missing.
	EnsureMigrationTable(ctx context.Context) error
	// AppliedMigrations returns the file names already recorded.
	AppliedMigrations(ctx context.Context) (map[string]bool, error)
	// ApplyMigration runs one file and records it.
	ApplyMigration(ctx context.Context, name, sql string) error
}

// PendingMigrations lists the .sql files of migrationsFS that are not in
// applied, in name order.
func PendingMigrations(migrationsFS fs.FS, applied map[string]bool) ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return nil, fmt.Errorf("storage: read migrations dir: %w", err)
	}
	var pending []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") || applied[name] {
			continue
		}
		pending = append(pending, name)
	}
	slices.Sort(pending)
	return pending, nil
}

// Migrate applies every pending file of migrationsFS to m. Migrations are
// forward-only and each runs at most once.
func Migrate(ctx context.Context, m Migrator, migrationsFS fs.FS, backend string, logger *slog.Logger) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return fmt.Errorf("storage: create schema_migrations: %w", err)
	}
	applied, err := m.AppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("storage: load applied migrations: %w", err)
	}
	pending, err := PendingMigrations(migrationsFS, applied)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		logger.Debug("migrations up to date", "backend", backend, "applied", len(applied))
		return nil
	}
	for _, name := range pending {
		content, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return fmt.Errorf("storage: read migration %s: %w", name, err)
		}
		logger.Info("running migration", "file", name, "backend", backend)
		if err := m.ApplyMigration(ctx, name, string(content)); err != nil {
			return fmt.Errorf("storage: migration %s: %w", name, err)
		}
	}
	return nil
}

// RunMigrations applies the Postgres migrations in migrationsFS.
func (db *DB) RunMigrations(ctx context.Context, migrationsFS fs.FS) error {
	return Migrate(ctx, db, migrationsFS, db.Backend(), db.logger)
}

func (db *DB) EnsureMigrationTable(ctx context.Context) error {
	_, err := db.q.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return err
}

func (db *DB) AppliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := db.q.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (db *DB) ApplyMigration(ctx context.Context, name, sql string) error {
	if _, err := db.q.Exec(ctx, sql); err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	if _, err := db.q.Exec(ctx,
		`INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, name,
	); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	return nil
}
