// Package metrics holds the Prometheus collectors served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curator_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "curator_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "curator_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	})

	StoreOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "curator_store_operation_duration_seconds",
		Help:    "Record store operation duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"backend", "operation", "table"})

	StoreErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curator_store_errors_total",
		Help: "Record store operations that returned an error",
	}, []string{"backend", "operation"})

	MergeFanoutDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "curator_merge_fanout_duration_seconds",
		Help:    "Wall time of a multi-stream fan-out, join barrier included",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"operation"})

	MergeBranchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curator_merge_branch_errors_total",
		Help: "Fan-out branches that failed, by feedback kind",
	}, []string{"kind"})

	FineTuneJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curator_finetune_jobs_total",
		Help: "Fine-tuning jobs launched, by provider and outcome",
	}, []string{"provider", "outcome"})
)
