package main

import (
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	curator "github.com/tensorzero/curator/sdk/go/curator"
)

// commandContext carries persistent flags and lazily builds the API client.
type commandContext struct {
	serverURL string
	timeout   time.Duration
	jsonOut   bool

	clientOnce sync.Once
	client     *curator.Client
	clientErr  error
}

func (c *commandContext) apiClient() (*curator.Client, error) {
	c.clientOnce.Do(func() {
		c.client, c.clientErr = curator.NewClient(curator.Config{
			BaseURL:   c.serverURL,
			Timeout:   c.timeout,
			UserAgent: "curatorctl",
		})
	})
	return c.client, c.clientErr
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "curatorctl",
		Short:         "Browse and curate inference data on a curator server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	defaultURL := os.Getenv("CURATOR_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&ctx.serverURL, "server", defaultURL, "Curator server URL (env CURATOR_URL)")
	rootCmd.PersistentFlags().DurationVar(&ctx.timeout, "timeout", 30*time.Second, "Per-request timeout")
	rootCmd.PersistentFlags().BoolVar(&ctx.jsonOut, "json", false, "Print raw JSON instead of tables")

	rootCmd.AddCommand(newInferencesCommand(ctx))
	rootCmd.AddCommand(newFeedbackCommand(ctx))
	rootCmd.AddCommand(newCurateCommand(ctx))
	rootCmd.AddCommand(newFineTuneCommand(ctx))
	return rootCmd
}
