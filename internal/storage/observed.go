package storage

import (
	"context"
	"time"

	"github.com/tensorzero/curator/internal/metrics"
	"github.com/tensorzero/curator/internal/model"
)

// observed wraps a Store with Prometheus timings per operation.
type observed struct {
	Store
}

// Observe returns s instrumented with store operation metrics.
func Observe(s Store) Store {
	return observed{Store: s}
}

func (o observed) track(op string, t Table, start time.Time, err error) {
	backend := o.Store.Backend()
	metrics.StoreOperationDuration.WithLabelValues(backend, op, string(t)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues(backend, op).Inc()
	}
}

func (o observed) ScanInferences(ctx context.Context, req ScanRequest) ([]model.Inference, error) {
	start := time.Now()
	out, err := o.Store.ScanInferences(ctx, req)
	o.track("scan", req.Stream.Table, start, err)
	return out, err
}

func (o observed) ScanFeedback(ctx context.Context, req ScanRequest) ([]model.Feedback, error) {
	start := time.Now()
	out, err := o.Store.ScanFeedback(ctx, req)
	o.track("scan", req.Stream.Table, start, err)
	return out, err
}

func (o observed) LatestFeedback(ctx context.Context, s Stream, partitionBy ...string) ([]model.Feedback, error) {
	start := time.Now()
	out, err := o.Store.LatestFeedback(ctx, s, partitionBy...)
	o.track("latest", s.Table, start, err)
	return out, err
}

func (o observed) Bounds(ctx context.Context, s Stream) (model.Bounds, error) {
	start := time.Now()
	out, err := o.Store.Bounds(ctx, s)
	o.track("bounds", s.Table, start, err)
	return out, err
}

func (o observed) Count(ctx context.Context, s Stream) (int64, error) {
	start := time.Now()
	n, err := o.Store.Count(ctx, s)
	o.track("count", s.Table, start, err)
	return n, err
}
