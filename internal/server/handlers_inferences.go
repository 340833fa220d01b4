package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/tensorzero/curator/internal/model"
	"github.com/tensorzero/curator/internal/service/pagination"
	"github.com/tensorzero/curator/internal/storage"
)

// HandleListInferences handles GET /v1/functions/{function_name}/inferences.
func (h *Handlers) HandleListInferences(w http.ResponseWriter, r *http.Request) {
	stream, err := h.functionStream(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	cursor, size, err := h.pageParams(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	page, err := h.pager.Inferences(r.Context(), pagination.Request{Stream: stream, Cursor: cursor, PageSize: size})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	bounds, err := h.pager.Bounds(r.Context(), stream)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if page == nil {
		page = []model.Inference{}
	}
	writeList(w, r, page, inferenceIDs(page), size, bounds)
}

// HandleInferenceBounds handles GET /v1/functions/{function_name}/inferences/bounds.
func (h *Handlers) HandleInferenceBounds(w http.ResponseWriter, r *http.Request) {
	h.streamBounds(w, r, h.functionStream)
}

// HandleCountInferences handles GET /v1/functions/{function_name}/inferences/count.
func (h *Handlers) HandleCountInferences(w http.ResponseWriter, r *http.Request) {
	h.streamCount(w, r, h.functionStream)
}

func (h *Handlers) streamBounds(w http.ResponseWriter, r *http.Request, resolve func(*http.Request) (storage.Stream, error)) {
	stream, err := resolve(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	bounds, err := h.pager.Bounds(r.Context(), stream)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, bounds)
}

func (h *Handlers) streamCount(w http.ResponseWriter, r *http.Request, resolve func(*http.Request) (storage.Stream, error)) {
	stream, err := resolve(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	n, err := h.pager.Count(r.Context(), stream)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.CountResponse{Count: n})
}

func inferenceIDs(infs []model.Inference) []uuid.UUID {
	out := make([]uuid.UUID, len(infs))
	for i, inf := range infs {
		out[i] = inf.ID
	}
	return out
}
