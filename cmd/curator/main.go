package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tensorzero/curator"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("CURATOR_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand(logger).ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Error("fatal error", "error", err)
		}
		return 1
	}
	return 0
}

type seedFlags struct {
	perFunction int
	episodeSize int
	seed        uint64
}

func (f *seedFlags) register(cmd *cobra.Command, prefix string) {
	cmd.Flags().IntVar(&f.perFunction, prefix+"per-function", 100, "Inferences written per catalog function")
	cmd.Flags().IntVar(&f.episodeSize, prefix+"episode-size", 3, "Consecutive inferences sharing an episode")
	cmd.Flags().Uint64Var(&f.seed, prefix+"seed", 1, "Random seed for metric values")
}

func (f *seedFlags) options() curator.SeedOptions {
	return curator.SeedOptions{PerFunction: f.perFunction, EpisodeSize: f.episodeSize, Seed: f.seed}
}

func newRootCommand(logger *slog.Logger) *cobra.Command {
	var configFile string

	appOptions := func() []curator.Option {
		opts := []curator.Option{curator.WithLogger(logger), curator.WithVersion(version)}
		if configFile != "" {
			opts = append(opts, curator.WithCatalogPath(configFile))
		}
		return opts
	}

	var demo bool
	var demoFlags seedFlags
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := curator.New(cmd.Context(), appOptions()...)
			if err != nil {
				return err
			}
			if demo {
				stats, err := app.Seed(cmd.Context(), demoFlags.options())
				if err != nil {
					app.Close(context.Background())
					return fmt.Errorf("seed: %w", err)
				}
				logger.Info("demo dataset written", "inferences", stats.Inferences, "feedback", stats.Feedback)
			}
			return app.Run(cmd.Context())
		},
	}
	serve.Flags().BoolVar(&demo, "demo", false, "Write the demo dataset before serving (useful with DATABASE_URL=memory:)")
	demoFlags.register(serve, "demo-")

	var flags seedFlags
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Write a deterministic demo dataset into the configured store and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := curator.New(cmd.Context(), appOptions()...)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			stats, err := app.Seed(cmd.Context(), flags.options())
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			logger.Info("seed complete", "inferences", stats.Inferences, "feedback", stats.Feedback)
			return nil
		},
	}
	flags.register(seedCmd, "")

	root := &cobra.Command{
		Use:           "curator",
		Short:         "Time-ordered browsing and curation of inference data",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Functions and metrics TOML file (overrides CURATOR_CONFIG_FILE)")
	root.AddCommand(serve, seedCmd)
	return root
}
