package server

import (
	"net/http"

	"github.com/tensorzero/curator/internal/model"
)

// HandleLaunchFineTune handles POST /v1/fine_tuning/jobs.
func (h *Handlers) HandleLaunchFineTune(w http.ResponseWriter, r *http.Request) {
	if h.finetune == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "no fine-tuning provider configured")
		return
	}
	var req model.FineTuneRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	job, err := h.finetune.Launch(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, job)
}

// HandleGetFineTune handles GET /v1/fine_tuning/jobs/{job_id}. Each call
// polls the provider and advances the job state.
func (h *Handlers) HandleGetFineTune(w http.ResponseWriter, r *http.Request) {
	if h.finetune == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "no fine-tuning provider configured")
		return
	}
	jobID, err := pathUUID(r, "job_id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	job, err := h.finetune.Get(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, job)
}
