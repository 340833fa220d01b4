package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tensorzero/curator/internal/ratelimit"
	"github.com/tensorzero/curator/internal/service/curation"
	"github.com/tensorzero/curator/internal/service/finetune"
	"github.com/tensorzero/curator/internal/service/merge"
	"github.com/tensorzero/curator/internal/service/pagination"
)

// Server is the curator HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): FineTune, Limiter, MCPServer, OpenAPISpec,
// ExtraRoutes, Middlewares.
type ServerConfig struct {
	// Required dependencies.
	Pager   *pagination.Paginator
	Merger  *merge.Engine
	Curator *curation.Service
	Catalog curation.Catalog
	Backend string
	Logger  *slog.Logger

	// Optional dependencies (nil = disabled).
	FineTune  *finetune.Service
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	DefaultPageSize     int
	MaxPageSize         int
	CORSOrigins         []string

	OpenAPISpec []byte

	// ExtraRoutes are registered after the built-in routes.
	ExtraRoutes []func(*http.ServeMux)
	// Middlewares wrap the whole chain; the first is outermost.
	Middlewares []func(http.Handler) http.Handler
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Pager:               cfg.Pager,
		Merger:              cfg.Merger,
		Curator:             cfg.Curator,
		FineTune:            cfg.FineTune,
		Catalog:             cfg.Catalog,
		Backend:             cfg.Backend,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		DefaultPageSize:     cfg.DefaultPageSize,
		MaxPageSize:         cfg.MaxPageSize,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	mux := http.NewServeMux()

	// Inference streams.
	mux.HandleFunc("GET /v1/functions/{function_name}/inferences", h.HandleListInferences)
	mux.HandleFunc("GET /v1/functions/{function_name}/inferences/bounds", h.HandleInferenceBounds)
	mux.HandleFunc("GET /v1/functions/{function_name}/inferences/count", h.HandleCountInferences)

	// Single-kind feedback streams.
	mux.HandleFunc("GET /v1/feedback/{kind}", h.HandleListFeedback)
	mux.HandleFunc("GET /v1/feedback/{kind}/bounds", h.HandleFeedbackBounds)
	mux.HandleFunc("GET /v1/feedback/{kind}/count", h.HandleCountFeedback)

	// Merged feedback for one target.
	mux.HandleFunc("GET /v1/targets/{target_id}/feedback", h.HandleTargetFeedback)
	mux.HandleFunc("GET /v1/targets/{target_id}/feedback/bounds", h.HandleTargetFeedbackBounds)
	mux.HandleFunc("GET /v1/targets/{target_id}/feedback/count", h.HandleTargetFeedbackCount)
	mux.HandleFunc("GET /v1/targets/{target_id}/feedback/latest", h.HandleTargetLatest)

	// Curation and fine-tuning.
	mux.HandleFunc("POST /v1/curation", h.HandleCurate)
	mux.HandleFunc("POST /v1/curation/export", h.HandleExportCuration)
	mux.HandleFunc("POST /v1/fine_tuning/jobs", h.HandleLaunchFineTune)
	mux.HandleFunc("GET /v1/fine_tuning/jobs/{job_id}", h.HandleGetFineTune)

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", h.HandleHealth)

	for _, register := range cfg.ExtraRoutes {
		register(mux)
	}

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → CORS → tracing → logging → rate limit → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = rateLimitMiddleware(limiter, cfg.Logger, false, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(muxRoute(mux), handler)
	handler = corsMiddleware(cfg.CORSOrigins, handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
