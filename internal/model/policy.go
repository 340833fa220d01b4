package model

import "fmt"

// Optimize is the direction a metric should move.
type Optimize string

const (
	OptimizeMax Optimize = "max"
	OptimizeMin Optimize = "min"
)

// MetricLevel selects the join key between inferences and feedback.
type MetricLevel string

const (
	LevelInference MetricLevel = "inference"
	LevelEpisode   MetricLevel = "episode"
)

// DemonstrationMetric is the reserved metric name that selects
// demonstration-based curation.
const DemonstrationMetric = "demonstration"

// MetricPolicy describes how to interpret a named metric.
type MetricPolicy struct {
	Kind     FeedbackKind `json:"type" toml:"type"`
	Optimize Optimize     `json:"optimize,omitempty" toml:"optimize"`
	Level    MetricLevel  `json:"level,omitempty" toml:"level"`
}

// DemonstrationPolicy is the built-in policy behind DemonstrationMetric.
var DemonstrationPolicy = MetricPolicy{Kind: FeedbackDemonstration, Level: LevelInference}

// Validate checks the combination of kind, direction and level.
func (p MetricPolicy) Validate() error {
	switch p.Kind {
	case FeedbackBoolean, FeedbackFloat:
		if p.Optimize != OptimizeMax && p.Optimize != OptimizeMin {
			return fmt.Errorf("%w: %s metric needs optimize = max|min, got %q", ErrInvalidArgument, p.Kind, p.Optimize)
		}
		if p.Level != LevelInference && p.Level != LevelEpisode {
			return fmt.Errorf("%w: %s metric needs level = inference|episode, got %q", ErrInvalidArgument, p.Kind, p.Level)
		}
	case FeedbackDemonstration:
		if p.Level != "" && p.Level != LevelInference {
			return fmt.Errorf("%w: demonstration metrics are inference-level", ErrInvalidArgument)
		}
	case FeedbackComment:
	default:
		return fmt.Errorf("%w: unknown metric type %q", ErrInvalidArgument, p.Kind)
	}
	return nil
}

// CurationRequest asks for the good examples of a function.
type CurationRequest struct {
	FunctionName string   `json:"function_name"`
	MetricName   string   `json:"metric_name,omitempty"`
	Threshold    *float64 `json:"threshold,omitempty"`
	MaxSamples   *int     `json:"max_samples,omitempty"`
}

// Validate checks the request shape. Policy-dependent checks happen once the
// metric is resolved.
func (r CurationRequest) Validate() error {
	if r.FunctionName == "" {
		return fmt.Errorf("%w: function_name is required", ErrInvalidArgument)
	}
	if r.MaxSamples != nil && *r.MaxSamples < 0 {
		return fmt.Errorf("%w: max_samples must be >= 0", ErrInvalidArgument)
	}
	return nil
}
