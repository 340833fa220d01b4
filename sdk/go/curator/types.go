package curator

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Feedback kinds accepted by ListFeedback and friends.
const (
	KindBoolean       = "boolean"
	KindFloat         = "float"
	KindComment       = "comment"
	KindDemonstration = "demonstration"
)

// Inference is one recorded model call. Input and Output are left as raw
// JSON; their shape depends on the function type.
type Inference struct {
	ID           uuid.UUID       `json:"id"`
	FunctionName string          `json:"function_name"`
	FunctionType string          `json:"function_type"`
	VariantName  string          `json:"variant_name"`
	EpisodeID    uuid.UUID       `json:"episode_id"`
	Input        json.RawMessage `json:"input"`
	Output       json.RawMessage `json:"output"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Feedback is a flattened feedback record. Type says which fields are set:
// metrics carry TargetID and MetricName, comments carry TargetID and
// TargetType, demonstrations carry InferenceID.
type Feedback struct {
	Type        string          `json:"type"`
	ID          uuid.UUID       `json:"id"`
	TargetID    *uuid.UUID      `json:"target_id,omitempty"`
	InferenceID *uuid.UUID      `json:"inference_id,omitempty"`
	TargetType  string          `json:"target_type,omitempty"`
	MetricName  string          `json:"metric_name,omitempty"`
	Value       json.RawMessage `json:"value"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Target returns the id the feedback refers to.
func (f Feedback) Target() uuid.UUID {
	if f.InferenceID != nil {
		return *f.InferenceID
	}
	if f.TargetID != nil {
		return *f.TargetID
	}
	return uuid.Nil
}

// Bounds is the min and max id of a stream. Both are nil when it is empty.
type Bounds struct {
	FirstID *uuid.UUID `json:"first_id"`
	LastID  *uuid.UUID `json:"last_id"`
}

// PageInfo reports whether records exist beyond either edge of a page.
type PageInfo struct {
	HasOlder bool `json:"has_older"`
	HasNewer bool `json:"has_newer"`
}

// Page is one id-descending page of a list endpoint.
type Page[T any] struct {
	Data     []T      `json:"data"`
	PageSize int      `json:"page_size"`
	PageInfo PageInfo `json:"page_info"`
	Bounds   Bounds   `json:"bounds"`
}

// PageOptions positions a page. Set at most one of Before and After. A zero
// PageSize uses the server default.
type PageOptions struct {
	Before   *uuid.UUID
	After    *uuid.UUID
	PageSize int
}

// InferenceFilter narrows an inference stream.
type InferenceFilter struct {
	VariantName string
	EpisodeID   *uuid.UUID
}

// FeedbackFilter narrows a single-kind feedback stream. MetricName applies
// to boolean and float kinds only.
type FeedbackFilter struct {
	TargetID   *uuid.UUID
	MetricName string
}

// TargetFeedbackCount is the merged count for one target.
type TargetFeedbackCount struct {
	Total  int64            `json:"total"`
	ByKind map[string]int64 `json:"by_kind"`
}

// MetricValue is the newest value of a metric for a target.
type MetricValue struct {
	MetricName string          `json:"metric_name"`
	Type       string          `json:"type"`
	Value      json.RawMessage `json:"value"`
	FeedbackID uuid.UUID       `json:"feedback_id"`
	Timestamp  time.Time       `json:"timestamp"`
}

// CurationRequest selects the good examples of a function.
type CurationRequest struct {
	FunctionName string   `json:"function_name"`
	MetricName   string   `json:"metric_name,omitempty"`
	Threshold    *float64 `json:"threshold,omitempty"`
	MaxSamples   *int     `json:"max_samples,omitempty"`
}

// CurationResponse holds the selected inferences, newest first.
type CurationResponse struct {
	FunctionName string      `json:"function_name"`
	MetricName   string      `json:"metric_name,omitempty"`
	Count        int         `json:"count"`
	Inferences   []Inference `json:"inferences"`
}

// FineTuneRequest launches a fine-tuning job on a curated dataset.
type FineTuneRequest struct {
	Provider  string          `json:"provider"`
	BaseModel string          `json:"base_model"`
	Suffix    string          `json:"suffix,omitempty"`
	Curation  CurationRequest `json:"curation"`
}

// FineTuneJob is the server-side view of a fine-tuning job.
type FineTuneJob struct {
	ID             uuid.UUID `json:"id"`
	Provider       string    `json:"provider"`
	ProviderJobID  string    `json:"provider_job_id"`
	BaseModel      string    `json:"base_model"`
	Status         string    `json:"status"`
	FineTunedModel string    `json:"fine_tuned_model,omitempty"`
	Error          string    `json:"error,omitempty"`
	Examples       int       `json:"examples"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Terminal reports whether the job will not change state again.
func (j FineTuneJob) Terminal() bool {
	switch j.Status {
	case "succeeded", "deployed", "failed":
		return true
	}
	return false
}

// Health is the response of GET /health.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Store   string `json:"store"`
	Backend string `json:"backend"`
	Uptime  int64  `json:"uptime_seconds"`
}

type countResponse struct {
	Count int64 `json:"count"`
}
