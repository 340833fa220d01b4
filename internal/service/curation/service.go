// Package curation selects training examples from an inference stream
// according to a metric policy.
//
// The HTTP API, the MCP tools and fine-tuning all call Service.Curate, so
// every surface applies the same join, dedup and threshold rules.
package curation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tensorzero/curator/internal/config"
	"github.com/tensorzero/curator/internal/model"
	"github.com/tensorzero/curator/internal/storage"
	"github.com/tensorzero/curator/internal/telemetry"
)

// Catalog resolves function and metric definitions.
type Catalog interface {
	Function(name string) (config.FunctionConfig, error)
	Metric(name string) (model.MetricPolicy, error)
}

// Service runs curation requests against a RecordStore.
type Service struct {
	store   storage.RecordStore
	catalog Catalog
	logger  *slog.Logger

	duration metric.Float64Histogram
	selected metric.Int64Counter
}

// New creates a curation Service.
func New(store storage.RecordStore, catalog Catalog, logger *slog.Logger) *Service {
	meter := telemetry.Meter("curator/curation")
	dur, _ := meter.Float64Histogram("curator.curation.duration",
		metric.WithDescription("Time to run a curation request (ms)"),
		metric.WithUnit("ms"),
	)
	selected, _ := meter.Int64Counter("curator.curation.selected",
		metric.WithDescription("Inferences selected by curation"),
	)
	return &Service{store: store, catalog: catalog, logger: logger, duration: dur, selected: selected}
}

// Result is a curated set together with the resolved function type.
type Result struct {
	FunctionType model.FunctionType
	Inferences   []model.Inference
}

// Curate resolves the function and metric, reads every inference of the
// function and the latest feedback for the metric concurrently, and applies
// Select. Without a metric every inference qualifies. An empty selection is
// not an error.
func (s *Service) Curate(ctx context.Context, req model.CurationRequest) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	fn, err := s.catalog.Function(req.FunctionName)
	if err != nil {
		return Result{}, err
	}

	var (
		policy    model.MetricPolicy
		hasMetric = req.MetricName != ""
	)
	if hasMetric {
		if policy, err = s.catalog.Metric(req.MetricName); err != nil {
			return Result{}, err
		}
		if err := CheckPolicy(policy, req.Threshold); err != nil {
			return Result{}, err
		}
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("curator.function", req.FunctionName),
		attribute.String("curator.metric", req.MetricName),
	)
	start := time.Now()
	defer func() {
		s.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("metric_type", string(policy.Kind))))
	}()

	var (
		inferences []model.Inference
		feedback   []model.Feedback
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		inferences, err = s.store.ScanInferences(gctx, storage.ScanRequest{
			Stream: storage.InferenceStream(fn.Type, req.FunctionName),
		})
		if err != nil {
			return fmt.Errorf("curation: read inferences: %w", err)
		}
		return nil
	})
	if hasMetric {
		g.Go(func() error {
			stream, partition := feedbackSource(req.MetricName, policy)
			var err error
			feedback, err = s.store.LatestFeedback(gctx, stream, partition)
			if err != nil {
				return fmt.Errorf("curation: read feedback: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var selected []model.Inference
	if hasMetric {
		selected, err = Select(inferences, feedback, policy, req.Threshold, req.MaxSamples)
		if err != nil {
			return Result{}, err
		}
	} else {
		selected = inferences
		if req.MaxSamples != nil && len(selected) > *req.MaxSamples {
			selected = selected[:*req.MaxSamples]
		}
	}

	s.selected.Add(ctx, int64(len(selected)))
	span.SetAttributes(
		attribute.Int("curator.curation.candidates", len(inferences)),
		attribute.Int("curator.curation.selected", len(selected)),
	)
	s.logger.Debug("curation complete",
		"function", req.FunctionName,
		"metric", req.MetricName,
		"candidates", len(inferences),
		"selected", len(selected),
	)
	return Result{FunctionType: fn.Type, Inferences: selected}, nil
}

// feedbackSource names the stream and partition column holding the latest
// value of a metric per target.
func feedbackSource(metricName string, policy model.MetricPolicy) (storage.Stream, string) {
	if policy.Kind == model.FeedbackDemonstration {
		return storage.Stream{Table: storage.TableDemonstrationFeedback}, storage.ColInferenceID
	}
	return storage.MetricStream(policy.Kind, metricName), storage.ColTargetID
}
