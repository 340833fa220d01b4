// Package finetune launches and tracks fine-tuning jobs on external
// providers. Each provider implements Job with its own state machine:
//
//	openai:    created -> running -> succeeded | failed
//	fireworks: training -> deploying -> deployed | failed
package finetune

import (
	"context"
	"errors"
)

// Status is the provider-neutral state of a job.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusTraining  Status = "training"
	StatusDeploying Status = "deploying"
	StatusDeployed  Status = "deployed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusDeployed || s == StatusFailed
}

// ErrUnknownProvider is returned for a provider with no registered launcher.
var ErrUnknownProvider = errors.New("finetune: unknown provider")

// State is what a provider reports about a job.
type State struct {
	Status         Status
	ProviderJobID  string
	FineTunedModel string
	Error          string
}

// Job is a launched fine-tuning job. Poll queries the provider once and
// advances the state machine; it is a no-op once the state is terminal.
// Implementations are safe for concurrent use.
type Job interface {
	Provider() string
	State() State
	Poll(ctx context.Context) (State, error)
}

// LaunchOptions configure a job.
type LaunchOptions struct {
	BaseModel string
	Suffix    string
	// Examples is the number of lines in the dataset.
	Examples int
}

// Launcher starts jobs on one provider from a JSONL chat dataset.
type Launcher interface {
	Name() string
	Launch(ctx context.Context, dataset []byte, opts LaunchOptions) (Job, error)
}
