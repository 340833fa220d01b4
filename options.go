package curator

import (
	"log/slog"
	"net/http"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port           int
	databaseURL    string
	catalogPath    string
	catalogTOML    []byte
	logger         *slog.Logger
	version        string
	routeRegistrar []RouteRegistrar
	middlewares    []Middleware
}

// RouteRegistrar registers additional routes on the shared HTTP mux. Extra
// routes share the middleware chain with the built-in routes.
type RouteRegistrar func(mux *http.ServeMux)

// Middleware wraps the root HTTP handler. It sees every request, including
// /health.
type Middleware func(http.Handler) http.Handler

// WithPort overrides the TCP port from config (CURATOR_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the store DSN from config (DATABASE_URL env var).
// Accepts postgres://, sqlite:<path> and memory:.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithCatalogPath overrides the functions and metrics file
// (CURATOR_CONFIG_FILE env var).
func WithCatalogPath(path string) Option {
	return func(o *resolvedOptions) { o.catalogPath = path }
}

// WithCatalogTOML supplies the functions and metrics catalog inline. It takes
// precedence over any catalog path.
func WithCatalogTOML(data []byte) Option {
	return func(o *resolvedOptions) { o.catalogTOML = data }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithExtraRoutes registers additional routes on the shared HTTP mux.
// Registrars are called in registration order.
func WithExtraRoutes(fn RouteRegistrar) Option {
	return func(o *resolvedOptions) { o.routeRegistrar = append(o.routeRegistrar, fn) }
}

// WithMiddleware registers an outermost HTTP middleware. The first-registered
// middleware is called first by every request.
func WithMiddleware(mw Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}
