package finetune

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAILauncher uploads the dataset with purpose fine-tune and creates a
// fine-tuning job from it.
type OpenAILauncher struct {
	client openai.Client
}

// NewOpenAILauncher creates a launcher. baseURL may be empty.
func NewOpenAILauncher(apiKey, baseURL string, opts ...option.RequestOption) *OpenAILauncher {
	all := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		all = append(all, option.WithBaseURL(baseURL))
	}
	all = append(all, opts...)
	return &OpenAILauncher{client: openai.NewClient(all...)}
}

func (l *OpenAILauncher) Name() string { return "openai" }

// Launch uploads dataset and creates the job.
func (l *OpenAILauncher) Launch(ctx context.Context, dataset []byte, opts LaunchOptions) (Job, error) {
	file, err := l.client.Files.New(ctx, openai.FileNewParams{
		File:    openai.File(bytes.NewReader(dataset), "dataset.jsonl", "application/jsonl"),
		Purpose: openai.FilePurposeFineTune,
	})
	if err != nil {
		return nil, fmt.Errorf("finetune: openai: upload dataset: %w", err)
	}

	params := openai.FineTuningJobNewParams{
		Model:        openai.FineTuningJobNewParamsModel(opts.BaseModel),
		TrainingFile: file.ID,
	}
	if opts.Suffix != "" {
		params.Suffix = openai.String(opts.Suffix)
	}
	created, err := l.client.FineTuning.Jobs.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("finetune: openai: create job: %w", err)
	}

	j := &openAIJob{client: l.client}
	j.apply(created)
	return j, nil
}

type openAIJob struct {
	client openai.Client

	mu    sync.Mutex
	state State
}

func (j *openAIJob) Provider() string { return "openai" }

func (j *openAIJob) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *openAIJob) Poll(ctx context.Context) (State, error) {
	current := j.State()
	if current.Status.Terminal() {
		return current, nil
	}
	remote, err := j.client.FineTuning.Jobs.Get(ctx, current.ProviderJobID)
	if err != nil {
		return current, fmt.Errorf("finetune: openai: get job %s: %w", current.ProviderJobID, err)
	}
	return j.apply(remote), nil
}

// apply maps the provider job onto the local state machine.
func (j *openAIJob) apply(remote *openai.FineTuningJob) State {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state.ProviderJobID = remote.ID
	j.state.Status = openAIStatus(string(remote.Status))
	j.state.FineTunedModel = remote.FineTunedModel
	if j.state.Status == StatusFailed {
		j.state.Error = remote.Error.Message
		if j.state.Error == "" {
			j.state.Error = "job " + string(remote.Status)
		}
	}
	return j.state
}

func openAIStatus(s string) Status {
	switch s {
	case "validating_files", "queued":
		return StatusCreated
	case "running":
		return StatusRunning
	case "succeeded":
		return StatusSucceeded
	case "failed", "cancelled":
		return StatusFailed
	}
	return StatusCreated
}
