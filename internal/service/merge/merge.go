// Package merge combines the four feedback streams of one target into a
// single id-ordered view. Each operation fans out one read per feedback kind
// concurrently and merges only after every branch has returned; any branch
// error fails the whole call.
package merge

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tensorzero/curator/internal/id"
	"github.com/tensorzero/curator/internal/metrics"
	"github.com/tensorzero/curator/internal/model"
	"github.com/tensorzero/curator/internal/service/pagination"
	"github.com/tensorzero/curator/internal/storage"
)

// Engine merges per-kind feedback streams for a target.
type Engine struct {
	pager  *pagination.Paginator
	logger *slog.Logger
}

// New creates an Engine that reads through pager.
func New(pager *pagination.Paginator, logger *slog.Logger) *Engine {
	return &Engine{pager: pager, logger: logger}
}

// PageAll returns one page of every feedback kind for target, sorted by id
// descending. Each kind is paged independently with the same cursor and page
// size; the union is then sorted and cut to pageSize. With no cursor or a
// before cursor the greatest ids are kept, with an after cursor the ids
// closest above the cursor. Cursors are exclusive.
func (e *Engine) PageAll(ctx context.Context, target uuid.UUID, cursor model.Cursor, pageSize int) ([]model.Feedback, error) {
	probe := pagination.Request{Cursor: cursor, PageSize: pageSize}
	if err := probe.Validate(); err != nil {
		return nil, err
	}

	pages, err := fanOut(ctx, "page", func(ctx context.Context, k model.FeedbackKind) ([]model.Feedback, error) {
		return e.pager.Feedback(ctx, pagination.Request{
			Stream:   storage.FeedbackStream(k, target),
			Cursor:   cursor,
			PageSize: pageSize,
		})
	})
	if err != nil {
		return nil, err
	}

	merged := slices.Concat(pages...)
	slices.SortFunc(merged, func(a, b model.Feedback) int {
		return id.Compare(a.FeedbackID(), b.FeedbackID())
	})
	if len(merged) > pageSize {
		if cursor.After != nil {
			merged = merged[:pageSize]
		} else {
			merged = merged[len(merged)-pageSize:]
		}
	}
	slices.Reverse(merged)

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("curator.target_id", target.String()),
		attribute.Int("curator.page.records", len(merged)),
	)
	return merged, nil
}

// BoundsAll returns the smallest first id and the greatest last id across
// all kinds. Kinds with no feedback do not contribute; both ids are nil when
// the target has no feedback at all.
func (e *Engine) BoundsAll(ctx context.Context, target uuid.UUID) (model.Bounds, error) {
	all, err := fanOut(ctx, "bounds", func(ctx context.Context, k model.FeedbackKind) (model.Bounds, error) {
		return e.pager.Bounds(ctx, storage.FeedbackStream(k, target))
	})
	if err != nil {
		return model.Bounds{}, err
	}
	var out model.Bounds
	for _, b := range all {
		out.FirstID = id.MinPtr(out.FirstID, b.FirstID)
		out.LastID = id.MaxPtr(out.LastID, b.LastID)
	}
	return out, nil
}

// CountAll sums the per-kind counts for target.
func (e *Engine) CountAll(ctx context.Context, target uuid.UUID) (model.TargetFeedbackCount, error) {
	counts, err := fanOut(ctx, "count", func(ctx context.Context, k model.FeedbackKind) (int64, error) {
		return e.pager.Count(ctx, storage.FeedbackStream(k, target))
	})
	if err != nil {
		return model.TargetFeedbackCount{}, err
	}
	out := model.TargetFeedbackCount{ByKind: make(map[model.FeedbackKind]int64, len(counts))}
	for i, k := range model.FeedbackKinds {
		out.ByKind[k] = counts[i]
		out.Total += counts[i]
	}
	return out, nil
}

// metricKinds are the kinds that carry a named metric value.
var metricKinds = []model.FeedbackKind{model.FeedbackBoolean, model.FeedbackFloat}

// LatestByMetric returns the current value of every boolean and float metric
// recorded for target, sorted by metric name.
func (e *Engine) LatestByMetric(ctx context.Context, target uuid.UUID) ([]model.MetricValue, error) {
	store := e.pager.Store()
	results := make([][]model.Feedback, len(metricKinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, k := range metricKinds {
		g.Go(func() error {
			fb, err := store.LatestFeedback(gctx, storage.FeedbackStream(k, target), storage.ColMetricName)
			if err != nil {
				return fmt.Errorf("merge: latest %s: %w", k, err)
			}
			results[i] = fb
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []model.MetricValue
	for _, fb := range slices.Concat(results...) {
		switch v := fb.(type) {
		case model.BooleanMetricFeedback:
			out = append(out, model.MetricValue{MetricName: v.MetricName, Kind: v.Kind(), Value: v.Value, FeedbackID: v.ID, Timestamp: v.Timestamp})
		case model.FloatMetricFeedback:
			out = append(out, model.MetricValue{MetricName: v.MetricName, Kind: v.Kind(), Value: v.Value, FeedbackID: v.ID, Timestamp: v.Timestamp})
		}
	}
	slices.SortFunc(out, func(a, b model.MetricValue) int {
		if c := cmp.Compare(a.MetricName, b.MetricName); c != 0 {
			return c
		}
		return id.Compare(a.FeedbackID, b.FeedbackID)
	})
	return out, nil
}

// fanOut runs fn once per feedback kind concurrently and returns the results
// in model.FeedbackKinds order.
func fanOut[T any](ctx context.Context, op string, fn func(context.Context, model.FeedbackKind) (T, error)) ([]T, error) {
	start := time.Now()
	defer func() {
		metrics.MergeFanoutDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	results := make([]T, len(model.FeedbackKinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, k := range model.FeedbackKinds {
		g.Go(func() error {
			v, err := fn(gctx, k)
			if err != nil {
				metrics.MergeBranchErrorsTotal.WithLabelValues(string(k)).Inc()
				return fmt.Errorf("merge: %s %s: %w", op, k, err)
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
