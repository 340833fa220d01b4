package finetune

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tensorzero/curator/internal/id"
)

// FireworksLauncher runs supervised fine-tuning on Fireworks and deploys the
// resulting model.
type FireworksLauncher struct {
	baseURL   string
	apiKey    string
	accountID string
	http      *http.Client
	retries   uint64
	policy    func() backoff.BackOff
}

// NewFireworksLauncher creates a launcher against the Fireworks REST API.
func NewFireworksLauncher(baseURL, apiKey, accountID string, httpClient *http.Client) *FireworksLauncher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &FireworksLauncher{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		accountID: accountID,
		http:      httpClient,
		retries:   3,
		policy:    func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

func (l *FireworksLauncher) Name() string { return "fireworks" }

// Launch creates a dataset, uploads the examples and starts a supervised
// fine-tuning job on it.
func (l *FireworksLauncher) Launch(ctx context.Context, dataset []byte, opts LaunchOptions) (Job, error) {
	datasetID := "curator-" + id.MustNew().String()
	account := "accounts/" + l.accountID

	err := l.do(ctx, http.MethodPost, "/v1/"+account+"/datasets", map[string]any{
		"datasetId": datasetID,
		"dataset": map[string]any{
			"userUploaded": map[string]any{},
			"exampleCount": strconv.Itoa(opts.Examples),
		},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("finetune: fireworks: create dataset: %w", err)
	}

	if err := l.upload(ctx, "/v1/"+account+"/datasets/"+datasetID+":upload", dataset); err != nil {
		return nil, fmt.Errorf("finetune: fireworks: upload dataset: %w", err)
	}

	body := map[string]any{
		"dataset":   account + "/datasets/" + datasetID,
		"baseModel": opts.BaseModel,
	}
	if opts.Suffix != "" {
		body["displayName"] = opts.Suffix
	}
	var created fireworksResource
	if err := l.do(ctx, http.MethodPost, "/v1/"+account+"/supervisedFineTuningJobs", body, &created); err != nil {
		return nil, fmt.Errorf("finetune: fireworks: create job: %w", err)
	}

	return &fireworksJob{
		launcher: l,
		state:    State{Status: StatusTraining, ProviderJobID: created.Name},
	}, nil
}

// fireworksResource is the subset of job and deployed-model resources read here.
type fireworksResource struct {
	Name        string `json:"name"`
	State       string `json:"state"`
	OutputModel string `json:"outputModel"`
	Status      struct {
		Message string `json:"message"`
	} `json:"status"`
}

type fireworksJob struct {
	launcher *FireworksLauncher

	mu         sync.Mutex
	state      State
	deployment string
}

func (j *fireworksJob) Provider() string { return "fireworks" }

func (j *fireworksJob) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Poll checks training while training and the deployment while deploying.
// A completed training job triggers the deployment on the same poll.
func (j *fireworksJob) Poll(ctx context.Context) (State, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch j.state.Status {
	case StatusTraining:
		var job fireworksResource
		if err := j.launcher.do(ctx, http.MethodGet, "/v1/"+j.state.ProviderJobID, nil, &job); err != nil {
			return j.state, fmt.Errorf("finetune: fireworks: get job: %w", err)
		}
		switch job.State {
		case "JOB_STATE_COMPLETED":
			j.state.FineTunedModel = job.OutputModel
			if err := j.deploy(ctx); err != nil {
				return j.state, err
			}
		case "JOB_STATE_FAILED", "JOB_STATE_CANCELLED", "JOB_STATE_EXPIRED":
			j.fail(job)
		}
	case StatusDeploying:
		var dep fireworksResource
		if err := j.launcher.do(ctx, http.MethodGet, "/v1/"+j.deployment, nil, &dep); err != nil {
			return j.state, fmt.Errorf("finetune: fireworks: get deployment: %w", err)
		}
		switch {
		case dep.State == "DEPLOYED":
			j.state.Status = StatusDeployed
		case strings.Contains(dep.State, "FAIL"):
			j.fail(dep)
		}
	}
	return j.state, nil
}

func (j *fireworksJob) deploy(ctx context.Context) error {
	var dep fireworksResource
	err := j.launcher.do(ctx, http.MethodPost, "/v1/accounts/"+j.launcher.accountID+"/deployedModels", map[string]any{
		"model":      j.state.FineTunedModel,
		"default":    true,
		"serverless": true,
	}, &dep)
	if err != nil {
		return fmt.Errorf("finetune: fireworks: deploy %s: %w", j.state.FineTunedModel, err)
	}
	j.deployment = dep.Name
	j.state.Status = StatusDeploying
	if dep.State == "DEPLOYED" {
		j.state.Status = StatusDeployed
	}
	return nil
}

func (j *fireworksJob) fail(r fireworksResource) {
	j.state.Status = StatusFailed
	j.state.Error = r.Status.Message
	if j.state.Error == "" {
		j.state.Error = r.State
	}
}

// httpError is a non-2xx response.
type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.body)
}

// do sends a JSON request and decodes the JSON response into out, retrying
// transport errors, 429 and 5xx with exponential backoff.
func (l *FireworksLauncher) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	return l.send(ctx, func() (*http.Request, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, l.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	}, out)
}

func (l *FireworksLauncher) upload(ctx context.Context, path string, dataset []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "dataset.jsonl")
	if err != nil {
		return err
	}
	if _, err := part.Write(dataset); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	form := buf.Bytes()
	return l.send(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, bytes.NewReader(form))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	}, nil)
}

func (l *FireworksLauncher) send(ctx context.Context, build func() (*http.Request, error), out any) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(l.policy(), l.retries), ctx)
	return backoff.Retry(func() error {
		req, err := build()
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+l.apiKey)
		resp, err := l.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode >= 300 {
			herr := &httpError{status: resp.StatusCode, body: strings.TrimSpace(string(data))}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return herr
			}
			return backoff.Permanent(herr)
		}
		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}, policy)
}
