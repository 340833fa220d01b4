package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/tensorzero/curator/internal/model"
	"github.com/tensorzero/curator/internal/service/pagination"
	"github.com/tensorzero/curator/internal/storage"
)

// HandleListFeedback handles GET /v1/feedback/{kind}. It pages one feedback
// table, optionally narrowed to a target and, for metrics, a metric name.
func (h *Handlers) HandleListFeedback(w http.ResponseWriter, r *http.Request) {
	stream, err := kindStream(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	cursor, size, err := h.pageParams(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	page, err := h.pager.Feedback(r.Context(), pagination.Request{Stream: stream, Cursor: cursor, PageSize: size})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	bounds, err := h.pager.Bounds(r.Context(), stream)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeList(w, r, feedbackData(page), feedbackIDs(page), size, bounds)
}

// HandleFeedbackBounds handles GET /v1/feedback/{kind}/bounds.
func (h *Handlers) HandleFeedbackBounds(w http.ResponseWriter, r *http.Request) {
	h.streamBounds(w, r, kindStream)
}

// HandleCountFeedback handles GET /v1/feedback/{kind}/count.
func (h *Handlers) HandleCountFeedback(w http.ResponseWriter, r *http.Request) {
	h.streamCount(w, r, kindStream)
}

// HandleTargetFeedback handles GET /v1/targets/{target_id}/feedback: one
// page merged across every feedback kind attached to the target.
func (h *Handlers) HandleTargetFeedback(w http.ResponseWriter, r *http.Request) {
	target, err := pathUUID(r, "target_id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	cursor, size, err := h.pageParams(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	page, err := h.merger.PageAll(r.Context(), target, cursor, size)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	bounds, err := h.merger.BoundsAll(r.Context(), target)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeList(w, r, feedbackData(page), feedbackIDs(page), size, bounds)
}

// HandleTargetFeedbackBounds handles GET /v1/targets/{target_id}/feedback/bounds.
func (h *Handlers) HandleTargetFeedbackBounds(w http.ResponseWriter, r *http.Request) {
	target, err := pathUUID(r, "target_id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	bounds, err := h.merger.BoundsAll(r.Context(), target)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, bounds)
}

// HandleTargetFeedbackCount handles GET /v1/targets/{target_id}/feedback/count.
func (h *Handlers) HandleTargetFeedbackCount(w http.ResponseWriter, r *http.Request) {
	target, err := pathUUID(r, "target_id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	count, err := h.merger.CountAll(r.Context(), target)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, count)
}

// HandleTargetLatest handles GET /v1/targets/{target_id}/feedback/latest.
func (h *Handlers) HandleTargetLatest(w http.ResponseWriter, r *http.Request) {
	target, err := pathUUID(r, "target_id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	values, err := h.merger.LatestByMetric(r.Context(), target)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if values == nil {
		values = []model.MetricValue{}
	}
	writeJSON(w, r, http.StatusOK, values)
}

// kindStream extends feedbackStream with the metric_name filter, which only
// boolean and float tables carry.
func kindStream(r *http.Request) (storage.Stream, error) {
	s, err := feedbackStream(r)
	if err != nil {
		return storage.Stream{}, err
	}
	name := r.URL.Query().Get("metric_name")
	if name == "" {
		return s, nil
	}
	switch s.Table.FeedbackKind() {
	case model.FeedbackBoolean, model.FeedbackFloat:
		return s.Where(storage.ColMetricName, name), nil
	}
	return storage.Stream{}, invalid("metric_name does not apply to %s feedback", s.Table.FeedbackKind())
}

// feedbackData keeps empty pages as [] rather than null on the wire.
func feedbackData(page []model.Feedback) []model.Feedback {
	if page == nil {
		return []model.Feedback{}
	}
	return page
}

func feedbackIDs(page []model.Feedback) []uuid.UUID {
	out := make([]uuid.UUID, len(page))
	for i, f := range page {
		out[i] = f.FeedbackID()
	}
	return out
}
