package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tensorzero/curator/internal/model"
)

// ScanInferences range-scans an inference stream.
func (db *DB) ScanInferences(ctx context.Context, req ScanRequest) ([]model.Inference, error) {
	if !req.Stream.Table.IsInference() {
		return nil, fmt.Errorf("%w: %s", ErrWrongTable, req.Stream.Table)
	}
	q, err := BuildScan(Postgres, req)
	if err != nil {
		return nil, err
	}

	var out []model.Inference
	err = db.withRetry(ctx, func() error {
		rows, err := db.q.Query(ctx, q.SQL, q.Args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = ScanInferenceRows(Postgres, req.Stream.Table, rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan %s: %w", req.Stream.Table, err)
	}
	return out, nil
}

// ScanFeedback range-scans a feedback stream.
func (db *DB) ScanFeedback(ctx context.Context, req ScanRequest) ([]model.Feedback, error) {
	if req.Stream.Table.IsInference() {
		return nil, fmt.Errorf("%w: %s", ErrWrongTable, req.Stream.Table)
	}
	q, err := BuildScan(Postgres, req)
	if err != nil {
		return nil, err
	}
	out, err := db.queryFeedback(ctx, req.Stream.Table, q)
	if err != nil {
		return nil, fmt.Errorf("storage: scan %s: %w", req.Stream.Table, err)
	}
	return out, nil
}

// LatestFeedback returns the newest record per partition of the stream.
func (db *DB) LatestFeedback(ctx context.Context, s Stream, partitionBy ...string) ([]model.Feedback, error) {
	if s.Table.IsInference() {
		return nil, fmt.Errorf("%w: %s", ErrWrongTable, s.Table)
	}
	q, err := BuildLatest(Postgres, s, partitionBy)
	if err != nil {
		return nil, err
	}
	out, err := db.queryFeedback(ctx, s.Table, q)
	if err != nil {
		return nil, fmt.Errorf("storage: latest %s: %w", s.Table, err)
	}
	return out, nil
}

func (db *DB) queryFeedback(ctx context.Context, t Table, q Query) ([]model.Feedback, error) {
	var out []model.Feedback
	err := db.withRetry(ctx, func() error {
		rows, err := db.q.Query(ctx, q.SQL, q.Args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = ScanFeedbackRows(Postgres, t, rows)
		return err
	})
	return out, err
}

// Bounds returns the min and max id of the stream. Both are nil when empty.
func (db *DB) Bounds(ctx context.Context, s Stream) (model.Bounds, error) {
	q, err := BuildBounds(Postgres, s)
	if err != nil {
		return model.Bounds{}, err
	}
	var first, last *uuid.UUID
	err = db.withRetry(ctx, func() error {
		return db.q.QueryRow(ctx, q.SQL, q.Args...).Scan(&first, &last)
	})
	if err != nil {
		return model.Bounds{}, fmt.Errorf("storage: bounds %s: %w", s.Table, err)
	}
	return model.Bounds{FirstID: first, LastID: last}, nil
}

// Count returns the number of records in the stream.
func (db *DB) Count(ctx context.Context, s Stream) (int64, error) {
	q, err := BuildCount(Postgres, s)
	if err != nil {
		return 0, err
	}
	var n int64
	err = db.withRetry(ctx, func() error {
		return db.q.QueryRow(ctx, q.SQL, q.Args...).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("storage: count %s: %w", s.Table, err)
	}
	return n, nil
}

// InsertInference writes one inference.
func (db *DB) InsertInference(ctx context.Context, inf model.Inference) error {
	q, err := BuildInsertInference(Postgres, inf)
	if err != nil {
		return err
	}
	if _, err := db.q.Exec(ctx, q.SQL, q.Args...); err != nil {
		return fmt.Errorf("storage: insert inference %s: %w", inf.ID, err)
	}
	return nil
}

// InsertFeedback writes one feedback record.
func (db *DB) InsertFeedback(ctx context.Context, f model.Feedback) error {
	q, err := BuildInsertFeedback(Postgres, f)
	if err != nil {
		return err
	}
	if _, err := db.q.Exec(ctx, q.SQL, q.Args...); err != nil {
		return fmt.Errorf("storage: insert %s feedback %s: %w", f.Kind(), f.FeedbackID(), err)
	}
	return nil
}
