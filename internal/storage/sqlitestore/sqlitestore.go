// Package sqlitestore is a single-file RecordStore backed by SQLite through
// the pure-Go modernc driver. It suits local development and small
// deployments; ids are stored as canonical UUID text, whose lexical order
// matches UUIDv7 numeric order.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tensorzero/curator/internal/model"
	"github.com/tensorzero/curator/internal/storage"
	"github.com/tensorzero/curator/migrations"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store is the SQLite RecordStore.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

var (
	_ storage.Store    = (*Store)(nil)
	_ storage.Migrator = (*Store)(nil)
)

// Open opens (creating if needed) the database at path, applies pragmas and
// runs the embedded migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlitestore: apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{db: db, path: path, logger: logger}
	if err := s.RunMigrations(ctx, migrations.SQLite()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Backend names the store implementation.
func (s *Store) Backend() string { return "sqlite" }

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database.
func (s *Store) Close(_ context.Context) {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("sqlitestore: close", "path", s.path, "error", err)
	}
}

// RunMigrations applies the SQLite migrations in migrationsFS.
func (s *Store) RunMigrations(ctx context.Context, migrationsFS fs.FS) error {
	return storage.Migrate(ctx, s, migrationsFS, s.Backend(), s.logger)
}

func (s *Store) EnsureMigrationTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)
	`)
	return err
}

func (s *Store) AppliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := map[string]bool{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (s *Store) ApplyMigration(ctx context.Context, name, sql string) error {
	if _, err := s.db.ExecContext(ctx, sql); err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
		name, time.Now().Unix()); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	return nil
}

// ScanInferences range-scans an inference stream.
func (s *Store) ScanInferences(ctx context.Context, req storage.ScanRequest) ([]model.Inference, error) {
	if !req.Stream.Table.IsInference() {
		return nil, fmt.Errorf("%w: %s", storage.ErrWrongTable, req.Stream.Table)
	}
	q, err := storage.BuildScan(storage.SQLite, req)
	if err != nil {
		return nil, err
	}
	var out []model.Inference
	err = s.query(ctx, q, func(rows *sql.Rows) error {
		out, err = storage.ScanInferenceRows(storage.SQLite, req.Stream.Table, rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: scan %s: %w", req.Stream.Table, err)
	}
	return out, nil
}

// ScanFeedback range-scans a feedback stream.
func (s *Store) ScanFeedback(ctx context.Context, req storage.ScanRequest) ([]model.Feedback, error) {
	if req.Stream.Table.IsInference() {
		return nil, fmt.Errorf("%w: %s", storage.ErrWrongTable, req.Stream.Table)
	}
	q, err := storage.BuildScan(storage.SQLite, req)
	if err != nil {
		return nil, err
	}
	out, err := s.queryFeedback(ctx, req.Stream.Table, q)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: scan %s: %w", req.Stream.Table, err)
	}
	return out, nil
}

// LatestFeedback returns the newest record per partition of the stream.
func (s *Store) LatestFeedback(ctx context.Context, st storage.Stream, partitionBy ...string) ([]model.Feedback, error) {
	if st.Table.IsInference() {
		return nil, fmt.Errorf("%w: %s", storage.ErrWrongTable, st.Table)
	}
	q, err := storage.BuildLatest(storage.SQLite, st, partitionBy)
	if err != nil {
		return nil, err
	}
	out, err := s.queryFeedback(ctx, st.Table, q)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: latest %s: %w", st.Table, err)
	}
	return out, nil
}

func (s *Store) queryFeedback(ctx context.Context, t storage.Table, q storage.Query) ([]model.Feedback, error) {
	var out []model.Feedback
	err := s.query(ctx, q, func(rows *sql.Rows) error {
		var err error
		out, err = storage.ScanFeedbackRows(storage.SQLite, t, rows)
		return err
	})
	return out, err
}

// Bounds returns the min and max id of the stream. Both are nil when empty.
func (s *Store) Bounds(ctx context.Context, st storage.Stream) (model.Bounds, error) {
	q, err := storage.BuildBounds(storage.SQLite, st)
	if err != nil {
		return model.Bounds{}, err
	}
	var first, last sql.NullString
	err = retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, q.SQL, q.Args...).Scan(&first, &last)
	})
	if err != nil {
		return model.Bounds{}, fmt.Errorf("sqlitestore: bounds %s: %w", st.Table, err)
	}
	var b model.Bounds
	if b.FirstID, err = parseNullID(first); err != nil {
		return model.Bounds{}, err
	}
	if b.LastID, err = parseNullID(last); err != nil {
		return model.Bounds{}, err
	}
	return b, nil
}

func parseNullID(s sql.NullString) (*uuid.UUID, error) {
	if !s.Valid {
		return nil, nil
	}
	u, err := uuid.Parse(s.String)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: bad id %q: %w", s.String, err)
	}
	return &u, nil
}

// Count returns the number of records in the stream.
func (s *Store) Count(ctx context.Context, st storage.Stream) (int64, error) {
	q, err := storage.BuildCount(storage.SQLite, st)
	if err != nil {
		return 0, err
	}
	var n int64
	err = retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, q.SQL, q.Args...).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: count %s: %w", st.Table, err)
	}
	return n, nil
}

// InsertInference writes one inference.
func (s *Store) InsertInference(ctx context.Context, inf model.Inference) error {
	q, err := storage.BuildInsertInference(storage.SQLite, inf)
	if err != nil {
		return err
	}
	if err := s.exec(ctx, q); err != nil {
		return fmt.Errorf("sqlitestore: insert inference %s: %w", inf.ID, err)
	}
	return nil
}

// InsertFeedback writes one feedback record.
func (s *Store) InsertFeedback(ctx context.Context, f model.Feedback) error {
	q, err := storage.BuildInsertFeedback(storage.SQLite, f)
	if err != nil {
		return err
	}
	if err := s.exec(ctx, q); err != nil {
		return fmt.Errorf("sqlitestore: insert %s feedback %s: %w", f.Kind(), f.FeedbackID(), err)
	}
	return nil
}

func (s *Store) exec(ctx context.Context, q storage.Query) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, q.SQL, q.Args...)
		return err
	})
}

func (s *Store) query(ctx context.Context, q storage.Query, scan func(*sql.Rows) error) error {
	return retryOnBusy(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, q.SQL, q.Args...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		return scan(rows)
	})
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
