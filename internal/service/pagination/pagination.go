// Package pagination implements keyset pagination over a single record
// stream. Pages are always sorted by id descending, whichever cursor was used.
package pagination

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tensorzero/curator/internal/model"
	"github.com/tensorzero/curator/internal/storage"
	"github.com/tensorzero/curator/internal/telemetry"
)

// Request is one page fetch.
type Request struct {
	Stream   storage.Stream
	Cursor   model.Cursor
	PageSize int
}

// Validate rejects both cursors and non-positive page sizes.
func (r Request) Validate() error {
	if err := r.Cursor.Validate(); err != nil {
		return err
	}
	if r.PageSize <= 0 {
		return fmt.Errorf("%w: page_size must be positive, got %d", model.ErrInvalidArgument, r.PageSize)
	}
	return nil
}

// Paginator pages through streams of a RecordStore.
type Paginator struct {
	store  storage.RecordStore
	logger *slog.Logger

	pageSize metric.Int64Histogram
}

// New creates a Paginator over store.
func New(store storage.RecordStore, logger *slog.Logger) *Paginator {
	meter := telemetry.Meter("curator/pagination")
	pageSize, _ := meter.Int64Histogram("curator.page.records",
		metric.WithDescription("Records returned per page"),
	)
	return &Paginator{store: store, logger: logger, pageSize: pageSize}
}

// Store returns the underlying RecordStore.
func (p *Paginator) Store() storage.RecordStore { return p.store }

// Inferences returns one page of an inference stream.
func (p *Paginator) Inferences(ctx context.Context, req Request) ([]model.Inference, error) {
	rows, err := page(ctx, req, p.store.ScanInferences)
	if err != nil {
		return nil, err
	}
	p.record(ctx, req, len(rows))
	return rows, nil
}

// Feedback returns one page of a feedback stream.
func (p *Paginator) Feedback(ctx context.Context, req Request) ([]model.Feedback, error) {
	rows, err := page(ctx, req, p.store.ScanFeedback)
	if err != nil {
		return nil, err
	}
	p.record(ctx, req, len(rows))
	return rows, nil
}

// Bounds returns the min and max id of s. An empty stream yields nil ids.
func (p *Paginator) Bounds(ctx context.Context, s storage.Stream) (model.Bounds, error) {
	return p.store.Bounds(ctx, s)
}

// Count returns the number of records in s.
func (p *Paginator) Count(ctx context.Context, s storage.Stream) (int64, error) {
	return p.store.Count(ctx, s)
}

func (p *Paginator) record(ctx context.Context, req Request, n int) {
	p.pageSize.Record(ctx, int64(n), metric.WithAttributes(attribute.String("table", string(req.Stream.Table))))
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("curator.stream", req.Stream.String()),
		attribute.Int("curator.page.records", n),
	)
}

// page runs one keyset scan. With no cursor or a before cursor it scans
// descending. With an after cursor it scans ascending so the records closest
// to the cursor are kept, then reverses.
func page[T any](
	ctx context.Context,
	req Request,
	scan func(context.Context, storage.ScanRequest) ([]T, error),
) ([]T, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	sr := storage.ScanRequest{
		Stream: req.Stream,
		Limit:  req.PageSize,
		Order:  storage.Descending,
	}
	switch {
	case req.Cursor.Before != nil:
		sr.Before = req.Cursor.Before
	case req.Cursor.After != nil:
		sr.After = req.Cursor.After
		sr.Order = storage.Ascending
	}

	rows, err := scan(ctx, sr)
	if err != nil {
		return nil, err
	}
	if sr.Order == storage.Ascending {
		slices.Reverse(rows)
	}
	return rows, nil
}
