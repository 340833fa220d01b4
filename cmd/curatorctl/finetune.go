package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	curator "github.com/tensorzero/curator/sdk/go/curator"
)

func newFineTuneCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "finetune",
		Aliases: []string{"ft"},
		Short:   "Launch and track fine-tuning jobs on curated data",
	}
	cmd.AddCommand(newFineTuneLaunchCommand(ctx))
	cmd.AddCommand(newFineTuneStatusCommand(ctx))
	return cmd
}

type waitFlags struct {
	wait     bool
	interval time.Duration
}

func (f *waitFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&f.wait, "wait", "w", false, "Poll until the job reaches a terminal status")
	cmd.Flags().DurationVar(&f.interval, "interval", 15*time.Second, "Polling interval with --wait")
}

func (f *waitFlags) settle(cmd *cobra.Command, client *curator.Client, job *curator.FineTuneJob) (*curator.FineTuneJob, error) {
	if !f.wait || job.Terminal() {
		return job, nil
	}
	return client.WaitFineTune(cmd.Context(), job.ID, f.interval)
}

func newFineTuneLaunchCommand(ctx *commandContext) *cobra.Command {
	var cf curationFlags
	var wf waitFlags
	var provider, baseModel, suffix string
	cmd := &cobra.Command{
		Use:   "launch FUNCTION",
		Short: "Curate FUNCTION and start a fine-tuning job on the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if baseModel == "" {
				return errors.New("--base-model is required")
			}
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			job, err := client.LaunchFineTune(cmd.Context(), curator.FineTuneRequest{
				Provider:  provider,
				BaseModel: baseModel,
				Suffix:    suffix,
				Curation:  cf.request(cmd, args[0]),
			})
			if err != nil {
				return err
			}
			job, err = wf.settle(cmd, client, job)
			if err != nil {
				return err
			}
			return printJob(cmd, ctx, job)
		},
	}
	cf.register(cmd)
	wf.register(cmd)
	cmd.Flags().StringVarP(&provider, "provider", "p", "openai", "Fine-tuning provider (openai or fireworks)")
	cmd.Flags().StringVar(&baseModel, "base-model", "", "Model to fine-tune")
	cmd.Flags().StringVar(&suffix, "suffix", "", "Suffix for the fine-tuned model name")
	return cmd
}

func newFineTuneStatusCommand(ctx *commandContext) *cobra.Command {
	var wf waitFlags
	cmd := &cobra.Command{
		Use:   "status JOB_ID",
		Short: "Poll a fine-tuning job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := requireUUID("JOB_ID", args[0])
			if err != nil {
				return err
			}
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			job, err := client.GetFineTune(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			job, err = wf.settle(cmd, client, job)
			if err != nil {
				return err
			}
			return printJob(cmd, ctx, job)
		},
	}
	wf.register(cmd)
	return cmd
}

func printJob(cmd *cobra.Command, ctx *commandContext, job *curator.FineTuneJob) error {
	if ctx.jsonOut {
		return writeJSON(cmd, job)
	}
	rows := [][]string{
		{"Job ID", job.ID.String()},
		{"Provider", job.Provider},
		{"Provider job", job.ProviderJobID},
		{"Base model", job.BaseModel},
		{"Status", job.Status},
		{"Examples", fmt.Sprint(job.Examples)},
		{"Updated", formatTime(job.UpdatedAt)},
	}
	if job.FineTunedModel != "" {
		rows = append(rows, []string{"Fine-tuned model", job.FineTunedModel})
	}
	if job.Error != "" {
		rows = append(rows, []string{"Error", job.Error})
	}
	printTable(cmd, []string{"Field", "Value"}, rows, nil)
	return nil
}
