package model

import (
	"time"

	"github.com/google/uuid"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for keyset-paginated list endpoints.
// Data is always sorted by id descending.
type ListResponse struct {
	Data     any          `json:"data"`
	PageSize int          `json:"page_size"`
	PageInfo PageInfo     `json:"page_info"`
	Bounds   Bounds       `json:"bounds"`
	Meta     ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeUnsupportedPolicy = "UNSUPPORTED_POLICY"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeUnavailable       = "UNAVAILABLE"
)

// CountResponse is the response for count endpoints.
type CountResponse struct {
	Count int64 `json:"count"`
}

// TargetFeedbackCount breaks a merged count down by kind.
type TargetFeedbackCount struct {
	Total  int64                  `json:"total"`
	ByKind map[FeedbackKind]int64 `json:"by_kind"`
}

// MetricValue is the current value of one metric for a target.
type MetricValue struct {
	MetricName string       `json:"metric_name"`
	Kind       FeedbackKind `json:"type"`
	Value      any          `json:"value"`
	FeedbackID uuid.UUID    `json:"feedback_id"`
	Timestamp  time.Time    `json:"timestamp"`
}

// CurationResponse is the response for POST /v1/curation.
type CurationResponse struct {
	FunctionName string      `json:"function_name"`
	MetricName   string      `json:"metric_name,omitempty"`
	Count        int         `json:"count"`
	Inferences   []Inference `json:"inferences"`
}

// FineTuneRequest is the request body for POST /v1/fine_tuning/jobs.
type FineTuneRequest struct {
	Provider  string          `json:"provider"`
	BaseModel string          `json:"base_model"`
	Suffix    string          `json:"suffix,omitempty"`
	Curation  CurationRequest `json:"curation"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Store   string `json:"store"`
	Backend string `json:"backend"`
	Uptime  int64  `json:"uptime_seconds"`
}

// FineTuneJob is the tracked state of a fine-tuning job.
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
