package curator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the curator server (e.g. "http://localhost:8080").
	BaseURL string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration

	// UserAgent is sent with every request when set.
	UserAgent string
}

// Client is an HTTP client for the curator API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// NewClient creates a Client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("curator: BaseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("curator: invalid BaseURL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		client:    httpClient,
	}, nil
}

// Health reports server and store status. An unhealthy server answers 503,
// which is returned as an *Error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var resp Health
	if err := c.get(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Inferences
// ---------------------------------------------------------------------------

// ListInferences returns one page of a function's inferences, newest first.
func (c *Client) ListInferences(ctx context.Context, function string, filter *InferenceFilter, opts *PageOptions) (*Page[Inference], error) {
	params := inferenceParams(filter)
	pageParams(params, opts)
	var page Page[Inference]
	if err := c.getPage(ctx, functionPath(function, "")+query(params), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// InferenceBounds returns the oldest and newest inference ids of a function.
func (c *Client) InferenceBounds(ctx context.Context, function string, filter *InferenceFilter) (*Bounds, error) {
	var b Bounds
	if err := c.get(ctx, functionPath(function, "/bounds")+query(inferenceParams(filter)), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// CountInferences counts a function's inferences.
func (c *Client) CountInferences(ctx context.Context, function string, filter *InferenceFilter) (int64, error) {
	var resp countResponse
	if err := c.get(ctx, functionPath(function, "/count")+query(inferenceParams(filter)), &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// WalkInferences visits every inference of a function from newest to
// oldest, fetching pages of pageSize. It stops early when fn returns an
// error and returns that error.
func (c *Client) WalkInferences(ctx context.Context, function string, filter *InferenceFilter, pageSize int, fn func(Inference) error) error {
	opts := &PageOptions{PageSize: pageSize}
	for {
		page, err := c.ListInferences(ctx, function, filter, opts)
		if err != nil {
			return err
		}
		for _, inf := range page.Data {
			if err := fn(inf); err != nil {
				return err
			}
		}
		if !page.PageInfo.HasOlder || len(page.Data) == 0 {
			return nil
		}
		last := page.Data[len(page.Data)-1].ID
		opts = &PageOptions{Before: &last, PageSize: pageSize}
	}
}

// ---------------------------------------------------------------------------
// Feedback
// ---------------------------------------------------------------------------

// ListFeedback returns one page of feedback of a single kind.
func (c *Client) ListFeedback(ctx context.Context, kind string, filter *FeedbackFilter, opts *PageOptions) (*Page[Feedback], error) {
	params := feedbackParams(filter)
	pageParams(params, opts)
	var page Page[Feedback]
	if err := c.getPage(ctx, feedbackPath(kind, "")+query(params), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// FeedbackBounds returns the id bounds of a single-kind feedback stream.
func (c *Client) FeedbackBounds(ctx context.Context, kind string, filter *FeedbackFilter) (*Bounds, error) {
	var b Bounds
	if err := c.get(ctx, feedbackPath(kind, "/bounds")+query(feedbackParams(filter)), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// CountFeedback counts a single-kind feedback stream.
func (c *Client) CountFeedback(ctx context.Context, kind string, filter *FeedbackFilter) (int64, error) {
	var resp countResponse
	if err := c.get(ctx, feedbackPath(kind, "/count")+query(feedbackParams(filter)), &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// TargetFeedback returns one page of all feedback kinds for a target,
// merged by id.
func (c *Client) TargetFeedback(ctx context.Context, target uuid.UUID, opts *PageOptions) (*Page[Feedback], error) {
	params := url.Values{}
	pageParams(params, opts)
	var page Page[Feedback]
	if err := c.getPage(ctx, targetPath(target, "")+query(params), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// TargetFeedbackBounds returns the id bounds across every kind for a target.
func (c *Client) TargetFeedbackBounds(ctx context.Context, target uuid.UUID) (*Bounds, error) {
	var b Bounds
	if err := c.get(ctx, targetPath(target, "/bounds"), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// CountTargetFeedback counts a target's feedback, in total and per kind.
func (c *Client) CountTargetFeedback(ctx context.Context, target uuid.UUID) (*TargetFeedbackCount, error) {
	var resp TargetFeedbackCount
	if err := c.get(ctx, targetPath(target, "/count"), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LatestMetrics returns the newest boolean and float value of each metric
// recorded for a target.
func (c *Client) LatestMetrics(ctx context.Context, target uuid.UUID) ([]MetricValue, error) {
	var resp []MetricValue
	if err := c.get(ctx, targetPath(target, "/latest"), &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ---------------------------------------------------------------------------
// Curation and fine-tuning
// ---------------------------------------------------------------------------

// Curate selects a function's good inferences under a metric.
func (c *Client) Curate(ctx context.Context, req CurationRequest) (*CurationResponse, error) {
	var resp CurationResponse
	if err := c.post(ctx, "/v1/curation", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExportCuration streams the curated dataset as chat JSONL into w and
// returns the number of examples the server reported.
func (c *Client) ExportCuration(ctx context.Context, req CurationRequest, w io.Writer) (int, error) {
	encoded, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("curator: marshal request body: %w", err)
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/v1/curation/export", bytes.NewReader(encoded))
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("curator: %s %s: %w", httpReq.Method, httpReq.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return 0, parseErrorResponse(resp.StatusCode, body)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return 0, fmt.Errorf("curator: copy export: %w", err)
	}
	n, _ := strconv.Atoi(resp.Header.Get("X-Example-Count"))
	return n, nil
}

// LaunchFineTune curates a dataset and starts a fine-tuning job with it.
func (c *Client) LaunchFineTune(ctx context.Context, req FineTuneRequest) (*FineTuneJob, error) {
	var resp FineTuneJob
	if err := c.post(ctx, "/v1/fine_tuning/jobs", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetFineTune polls a fine-tuning job.
func (c *Client) GetFineTune(ctx context.Context, jobID uuid.UUID) (*FineTuneJob, error) {
	var resp FineTuneJob
	if err := c.get(ctx, "/v1/fine_tuning/jobs/"+jobID.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WaitFineTune polls a job every interval until it reaches a terminal
// status or ctx is done.
func (c *Client) WaitFineTune(ctx context.Context, jobID uuid.UUID, interval time.Duration) (*FineTuneJob, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.GetFineTune(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ---------------------------------------------------------------------------
// Query building
// ---------------------------------------------------------------------------

func functionPath(function, suffix string) string {
	return "/v1/functions/" + url.PathEscape(function) + "/inferences" + suffix
}

func feedbackPath(kind, suffix string) string {
	return "/v1/feedback/" + url.PathEscape(kind) + suffix
}

func targetPath(target uuid.UUID, suffix string) string {
	return "/v1/targets/" + target.String() + "/feedback" + suffix
}

func query(params url.Values) string {
	if len(params) == 0 {
		return ""
	}
	return "?" + params.Encode()
}

func inferenceParams(f *InferenceFilter) url.Values {
	params := url.Values{}
	if f == nil {
		return params
	}
	if f.VariantName != "" {
		params.Set("variant_name", f.VariantName)
	}
	if f.EpisodeID != nil {
		params.Set("episode_id", f.EpisodeID.String())
	}
	return params
}

func feedbackParams(f *FeedbackFilter) url.Values {
	params := url.Values{}
	if f == nil {
		return params
	}
	if f.TargetID != nil {
		params.Set("target_id", f.TargetID.String())
	}
	if f.MetricName != "" {
		params.Set("metric_name", f.MetricName)
	}
	return params
}

func pageParams(params url.Values, opts *PageOptions) {
	if opts == nil {
		return
	}
	if opts.Before != nil {
		params.Set("before", opts.Before.String())
	}
	if opts.After != nil {
		params.Set("after", opts.After.String())
	}
	if opts.PageSize != 0 {
		params.Set("page_size", strconv.Itoa(opts.PageSize))
	}
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Meta struct {
		RequestID string `json:"request_id"`
	} `json:"meta"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("curator: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return req, nil
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("curator: marshal request body: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doRequest(req, dest, true)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.doRequest(req, dest, true)
}

// getPage decodes a list response, whose page fields sit beside "data".
func (c *Client) getPage(ctx context.Context, path string, dest any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.doRequest(req, dest, false)
}

func (c *Client) doRequest(req *http.Request, dest any, unwrap bool) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("curator: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest, unwrap)
}

func handleResponse(resp *http.Response, dest any, unwrap bool) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("curator: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}
	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}
	if !unwrap {
		if err := json.Unmarshal(bodyBytes, dest); err != nil {
			return fmt.Errorf("curator: decode response: %w", err)
		}
		return nil
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("curator: decode response envelope: %w", err)
	}
	if envelope.Data == nil {
		return json.Unmarshal(bodyBytes, dest)
	}
	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		return fmt.Errorf("curator: decode response data: %w", err)
	}
	return nil
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.RequestID = envelope.Meta.RequestID
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}
	return apiErr
}
