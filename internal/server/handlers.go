package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tensorzero/curator/api"
	"github.com/tensorzero/curator/internal/model"
	"github.com/tensorzero/curator/internal/service/curation"
	"github.com/tensorzero/curator/internal/service/finetune"
	"github.com/tensorzero/curator/internal/service/merge"
	"github.com/tensorzero/curator/internal/service/pagination"
	"github.com/tensorzero/curator/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	pager       *pagination.Paginator
	merger      *merge.Engine
	curator     *curation.Service
	finetune    *finetune.Service
	catalog     curation.Catalog
	backend     string
	logger      *slog.Logger
	startedAt   time.Time
	version     string
	openapiSpec []byte

	defaultPageSize     int
	maxPageSize         int
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// FineTune and OpenAPISpec are optional.
type HandlersDeps struct {
	Pager    *pagination.Paginator
	Merger   *merge.Engine
	Curator  *curation.Service
	FineTune *finetune.Service
	Catalog  curation.Catalog
	Backend  string
	Logger   *slog.Logger
	Version  string

	DefaultPageSize     int
	MaxPageSize         int
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		pager:               d.Pager,
		merger:              d.Merger,
		curator:             d.Curator,
		finetune:            d.FineTune,
		catalog:             d.Catalog,
		backend:             d.Backend,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		openapiSpec:         d.OpenAPISpec,
		defaultPageSize:     d.DefaultPageSize,
		maxPageSize:         d.MaxPageSize,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Store:   "connected",
		Backend: h.backend,
		Uptime:  int64(time.Since(h.startedAt).Seconds()),
	}
	status := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.pager.Store().Ping(ctx); err != nil {
		h.logger.Warn("health: store ping failed", "error", err)
		resp.Status = "unhealthy"
		resp.Store = "disconnected"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", api.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// writeServiceError maps service sentinels onto HTTP statuses. Anything
// unrecognized is logged and reported as a 500 without internal detail.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrUnsupportedPolicy):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeUnsupportedPolicy, err.Error())
	case errors.Is(err, model.ErrInvalidArgument):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
	case errors.Is(err, model.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "request timed out")
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads the body.
		h.logger.Debug("request canceled", "path", r.URL.Path, "request_id", RequestIDFromContext(r.Context()))
	default:
		h.writeInternalError(w, r, "internal error", err)
	}
}

func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg,
		"error", err,
		"path", r.URL.Path,
		"request_id", RequestIDFromContext(r.Context()),
	)
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}

// --- Shared helpers ---

// invalid wraps a parameter problem so writeServiceError reports a 400.
func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func parseUUID(name, v string) (uuid.UUID, error) {
	u, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, invalid("%s %q is not a valid UUID", name, v)
	}
	return u, nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	v := r.PathValue(name)
	if v == "" {
		return uuid.Nil, invalid("%s is required", name)
	}
	return parseUUID(name, v)
}

func queryUUID(r *http.Request, name string) (*uuid.UUID, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	u, err := parseUUID(name, v)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// queryCursor reads the before/after query parameters. Supplying both is
// left to the services to reject so every surface reports it the same way.
func queryCursor(r *http.Request) (model.Cursor, error) {
	before, err := queryUUID(r, "before")
	if err != nil {
		return model.Cursor{}, err
	}
	after, err := queryUUID(r, "after")
	if err != nil {
		return model.Cursor{}, err
	}
	return model.Cursor{Before: before, After: after}, nil
}

// queryPageSize reads page_size. Missing uses the configured default,
// non-positive is rejected, and anything above the maximum is clamped.
func (h *Handlers) queryPageSize(r *http.Request) (int, error) {
	v := r.URL.Query().Get("page_size")
	if v == "" {
		return h.defaultPageSize, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, invalid("page_size %q is not an integer", v)
	}
	if n <= 0 {
		return 0, invalid("page_size must be positive, got %d", n)
	}
	return min(n, h.maxPageSize), nil
}

// pageParams bundles the parameters every paginated endpoint accepts.
func (h *Handlers) pageParams(r *http.Request) (model.Cursor, int, error) {
	cursor, err := queryCursor(r)
	if err != nil {
		return model.Cursor{}, 0, err
	}
	size, err := h.queryPageSize(r)
	if err != nil {
		return model.Cursor{}, 0, err
	}
	return cursor, size, nil
}

// functionStream resolves a function name through the catalog into its
// inference stream, narrowed by the optional variant_name and episode_id
// query parameters.
func (h *Handlers) functionStream(r *http.Request) (storage.Stream, error) {
	name := r.PathValue("function_name")
	fn, err := h.catalog.Function(name)
	if err != nil {
		return storage.Stream{}, err
	}
	s := storage.InferenceStream(fn.Type, name)
	if v := r.URL.Query().Get("variant_name"); v != "" {
		s = s.Where(storage.ColVariantName, v)
	}
	episode, err := queryUUID(r, "episode_id")
	if err != nil {
		return storage.Stream{}, err
	}
	if episode != nil {
		s = s.Where(storage.ColEpisodeID, *episode)
	}
	return s, nil
}

// feedbackStream resolves the {kind} path value and the target_id query
// parameter. Without a target the stream covers every record of the kind.
func feedbackStream(r *http.Request) (storage.Stream, error) {
	kind, err := model.ParseFeedbackKind(r.PathValue("kind"))
	if err != nil {
		return storage.Stream{}, err
	}
	target, err := queryUUID(r, "target_id")
	if err != nil {
		return storage.Stream{}, err
	}
	if target == nil {
		return storage.Stream{Table: storage.FeedbackTable(kind)}, nil
	}
	return storage.FeedbackStream(kind, *target), nil
}
