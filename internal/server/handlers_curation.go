package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/tensorzero/curator/internal/model"
	"github.com/tensorzero/curator/internal/service/curation"
)

// HandleCurate handles POST /v1/curation.
func (h *Handlers) HandleCurate(w http.ResponseWriter, r *http.Request) {
	var req model.CurationRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	res, err := h.curator.Curate(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	infs := res.Inferences
	if infs == nil {
		infs = []model.Inference{}
	}
	writeJSON(w, r, http.StatusOK, model.CurationResponse{
		FunctionName: req.FunctionName,
		MetricName:   req.MetricName,
		Count:        len(infs),
		Inferences:   infs,
	})
}

// HandleExportCuration handles POST /v1/curation/export. It curates like
// HandleCurate and streams the selection as NDJSON chat examples, the same
// rendering fine-tuning jobs upload.
func (h *Handlers) HandleExportCuration(w http.ResponseWriter, r *http.Request) {
	var req model.CurationRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	res, err := h.curator.Curate(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	filename := fmt.Sprintf("%s-%s.jsonl", req.FunctionName, time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Example-Count", fmt.Sprint(len(res.Inferences)))
	w.WriteHeader(http.StatusOK)

	if _, err := curation.WriteJSONL(w, res.Inferences); err != nil {
		// Headers are gone; the client sees a truncated stream.
		h.logger.Warn("export interrupted", "error", err, "request_id", RequestIDFromContext(r.Context()))
	}
}
