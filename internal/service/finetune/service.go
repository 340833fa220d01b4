package finetune

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tensorzero/curator/internal/id"
	"github.com/tensorzero/curator/internal/metrics"
	"github.com/tensorzero/curator/internal/model"
	"github.com/tensorzero/curator/internal/service/curation"
)

// Curator produces the examples a job trains on.
type Curator interface {
	Curate(ctx context.Context, req model.CurationRequest) (curation.Result, error)
}

// Service launches jobs from curation requests and keeps an in-process
// registry of them. Jobs do not survive a restart.
type Service struct {
	curator   Curator
	launchers map[string]Launcher
	logger    *slog.Logger

	mu   sync.RWMutex
	jobs map[uuid.UUID]*tracked
}

type tracked struct {
	job  Job
	info model.FineTuneJob
}

// NewService creates a Service with the given provider launchers.
func NewService(curator Curator, logger *slog.Logger, launchers ...Launcher) *Service {
	byName := make(map[string]Launcher, len(launchers))
	for _, l := range launchers {
		byName[l.Name()] = l
	}
	return &Service{
		curator:   curator,
		launchers: byName,
		logger:    logger,
		jobs:      make(map[uuid.UUID]*tracked),
	}
}

// Providers lists the configured provider names.
func (s *Service) Providers() []string {
	out := make([]string, 0, len(s.launchers))
	for name := range s.launchers {
		out = append(out, name)
	}
	return out
}

// Launch curates the dataset, renders it as chat JSONL and starts a job.
func (s *Service) Launch(ctx context.Context, req model.FineTuneRequest) (model.FineTuneJob, error) {
	if req.BaseModel == "" {
		return model.FineTuneJob{}, fmt.Errorf("%w: base_model is required", model.ErrInvalidArgument)
	}
	launcher, ok := s.launchers[req.Provider]
	if !ok {
		return model.FineTuneJob{}, fmt.Errorf("%w: %w %q", model.ErrInvalidArgument, ErrUnknownProvider, req.Provider)
	}

	res, err := s.curator.Curate(ctx, req.Curation)
	if err != nil {
		return model.FineTuneJob{}, err
	}
	if len(res.Inferences) == 0 {
		return model.FineTuneJob{}, fmt.Errorf("%w: curation selected no examples", model.ErrInvalidArgument)
	}

	var dataset bytes.Buffer
	n, err := curation.WriteJSONL(&dataset, res.Inferences)
	if err != nil {
		return model.FineTuneJob{}, err
	}

	job, err := launcher.Launch(ctx, dataset.Bytes(), LaunchOptions{
		BaseModel: req.BaseModel,
		Suffix:    req.Suffix,
		Examples:  n,
	})
	if err != nil {
		metrics.FineTuneJobsTotal.WithLabelValues(req.Provider, "error").Inc()
		return model.FineTuneJob{}, err
	}
	metrics.FineTuneJobsTotal.WithLabelValues(req.Provider, "launched").Inc()

	now := time.Now().UTC()
	t := &tracked{job: job, info: model.FineTuneJob{
		ID:        id.MustNew(),
		Provider:  job.Provider(),
		BaseModel: req.BaseModel,
		Examples:  n,
		CreatedAt: now,
	}}
	t.update(job.State(), now)

	s.mu.Lock()
	s.jobs[t.info.ID] = t
	info := t.info
	s.mu.Unlock()

	s.logger.Info("fine-tuning job launched",
		"job_id", info.ID,
		"provider", info.Provider,
		"provider_job_id", info.ProviderJobID,
		"examples", n,
	)
	return info, nil
}

// Get polls the provider once and returns the job's current state.
func (s *Service) Get(ctx context.Context, jobID uuid.UUID) (model.FineTuneJob, error) {
	s.mu.RLock()
	t, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return model.FineTuneJob{}, fmt.Errorf("%w: fine-tuning job %s", model.ErrNotFound, jobID)
	}

	state, err := t.job.Poll(ctx)
	if err != nil {
		return model.FineTuneJob{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := t.info.Status
	t.update(state, time.Now().UTC())
	if prev != t.info.Status {
		s.logger.Info("fine-tuning job advanced", "job_id", jobID, "from", prev, "to", t.info.Status)
		if Status(t.info.Status).Terminal() {
			metrics.FineTuneJobsTotal.WithLabelValues(t.info.Provider, t.info.Status).Inc()
		}
	}
	return t.info, nil
}

func (t *tracked) update(st State, now time.Time) {
	t.info.Status = string(st.Status)
	t.info.ProviderJobID = st.ProviderJobID
	t.info.FineTunedModel = st.FineTunedModel
	t.info.Error = st.Error
	t.info.UpdatedAt = now
}
