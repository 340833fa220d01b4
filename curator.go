// Package curator is the public API for embedding the curator server.
//
// Callers construct and extend the server without forking it:
//
//	app, err := curator.New(ctx,
//	    curator.WithVersion(version),
//	    curator.WithLogger(logger),
//	    curator.WithExtraRoutes(myRoutes),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The root package imports internal/*; internal/* never imports the root.
package curator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tensorzero/curator/api"
	"github.com/tensorzero/curator/internal/config"
	"github.com/tensorzero/curator/internal/mcp"
	"github.com/tensorzero/curator/internal/ratelimit"
	"github.com/tensorzero/curator/internal/seed"
	"github.com/tensorzero/curator/internal/server"
	"github.com/tensorzero/curator/internal/service/curation"
	"github.com/tensorzero/curator/internal/service/finetune"
	"github.com/tensorzero/curator/internal/service/merge"
	"github.com/tensorzero/curator/internal/service/pagination"
	"github.com/tensorzero/curator/internal/storage"
	"github.com/tensorzero/curator/internal/storage/backend"
	"github.com/tensorzero/curator/internal/telemetry"
)

// App is the curator server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	catalog      *config.Catalog
	store        storage.Store
	srv          *server.Server
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New loads configuration, opens the record store (applying migrations),
// wires every service and returns a ready-to-run App. It does not accept
// HTTP connections; call Run.
func New(ctx context.Context, opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.catalogPath != "" {
		cfg.CatalogPath = o.catalogPath
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	var catalog *config.Catalog
	if o.catalogTOML != nil {
		catalog, err = config.ParseCatalog(o.catalogTOML)
	} else {
		catalog, err = config.LoadCatalog(cfg.CatalogPath)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("curator starting",
		"version", version,
		"port", cfg.Port,
		"functions", len(catalog.Functions),
		"metrics", len(catalog.Metrics),
	)

	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,

		SampleRatio:    cfg.TraceSampleRatio,
		MetricInterval: cfg.MetricInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	store, err := backend.Open(ctx, cfg.DatabaseURL, storage.Options{
		MaxConns:       int32(cfg.DBMaxConns), //nolint:gosec // small positive value from config
		MaxRetries:     cfg.DBMaxRetries,
		RetryBaseDelay: cfg.DBRetryBackoff,
	}, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	pager := pagination.New(store, logger)
	merger := merge.New(pager, logger)
	curator := curation.New(store, catalog, logger)
	fineTune := finetune.NewService(curator, logger, launchers(cfg, logger)...)

	limiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst)
	if cfg.RateLimitRPS > 0 {
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		logger.Info("rate limiting: disabled")
	}

	mcpSrv := mcp.New(mcp.Deps{
		Pager:           pager,
		Merger:          merger,
		Curator:         curator,
		Catalog:         catalog,
		Logger:          logger,
		Version:         version,
		DefaultPageSize: cfg.DefaultPageSize,
		MaxPageSize:     cfg.MaxPageSize,
	})

	var extraRoutes []func(*http.ServeMux)
	for _, fn := range o.routeRegistrar {
		extraRoutes = append(extraRoutes, fn)
	}
	var middlewares []func(http.Handler) http.Handler
	for _, mw := range o.middlewares {
		middlewares = append(middlewares, mw)
	}

	srv := server.New(server.ServerConfig{
		Pager:               pager,
		Merger:              merger,
		Curator:             curator,
		Catalog:             catalog,
		Backend:             store.Backend(),
		Logger:              logger,
		FineTune:            fineTune,
		Limiter:             limiter,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		DefaultPageSize:     cfg.DefaultPageSize,
		MaxPageSize:         cfg.MaxPageSize,
		CORSOrigins:         cfg.CORSOrigins,
		OpenAPISpec:         api.OpenAPISpec,
		ExtraRoutes:         extraRoutes,
		Middlewares:         middlewares,
	})

	return &App{
		cfg:          cfg,
		catalog:      catalog,
		store:        store,
		srv:          srv,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// launchers registers a fine-tuning provider for each configured API key.
func launchers(cfg config.Config, logger *slog.Logger) []finetune.Launcher {
	var out []finetune.Launcher
	if cfg.OpenAIAPIKey != "" {
		out = append(out, finetune.NewOpenAILauncher(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL))
	}
	if cfg.FireworksAPIKey != "" {
		client := &http.Client{
			Timeout:   60 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
		out = append(out, finetune.NewFireworksLauncher(cfg.FireworksBaseURL, cfg.FireworksAPIKey, cfg.FireworksAccountID, client))
	}
	if len(out) == 0 {
		logger.Info("fine-tuning: no provider configured")
	}
	for _, l := range out {
		logger.Info("fine-tuning: provider enabled", "provider", l.Name())
	}
	return out
}

// Handler returns the root HTTP handler, for tests and custom listeners.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run starts the HTTP server and blocks until ctx is cancelled or the server
// fails. On return, Shutdown has already been called.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		_ = a.Shutdown(context.Background())
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown drains in-flight HTTP requests, then releases the rate limiter,
// the record store and the OTEL providers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("curator shutting down")

	httpCtx, httpCancel := context.WithTimeout(ctx, a.cfg.ShutdownTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	a.Close(ctx)
	a.logger.Info("curator stopped")
	return nil
}

// Close releases resources without touching the HTTP server. Use it when
// the App was built only to run Seed.
func (a *App) Close(ctx context.Context) {
	_ = a.limiter.Close()
	a.store.Close(ctx)
	if err := a.otelShutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown error", "error", err)
	}
}

// SeedOptions controls the demo dataset written by Seed.
type SeedOptions struct {
	// PerFunction is the number of inferences per catalog function (default 100).
	PerFunction int
	// EpisodeSize is how many consecutive inferences share an episode (default 3).
	EpisodeSize int
	// Seed drives metric values; equal seeds produce identical datasets.
	Seed uint64
}

// SeedStats counts the records Seed wrote.
type SeedStats struct {
	Inferences int
	Feedback   map[string]int
}

// Seed writes a deterministic demo dataset covering every catalog function
// and metric into the App's store.
func (a *App) Seed(ctx context.Context, opts SeedOptions) (SeedStats, error) {
	stats, err := seed.Run(ctx, a.store, a.catalog, seed.Options{
		PerFunction: opts.PerFunction,
		EpisodeSize: opts.EpisodeSize,
		Seed:        opts.Seed,
	}, a.logger)
	out := SeedStats{Inferences: stats.Inferences, Feedback: make(map[string]int, len(stats.Feedback))}
	for k, n := range stats.Feedback {
		out.Feedback[string(k)] = n
	}
	return out, err
}
