package main

import (
	"fmt"

	"github.com/spf13/cobra"

	curator "github.com/tensorzero/curator/sdk/go/curator"
)

type inferenceFilterFlags struct {
	variant string
	episode string
}

func (f *inferenceFilterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.variant, "variant", "", "Only inferences of this variant")
	cmd.Flags().StringVar(&f.episode, "episode", "", "Only inferences of this episode id")
}

func (f *inferenceFilterFlags) filter() (*curator.InferenceFilter, error) {
	episode, err := optionalUUID("episode", f.episode)
	if err != nil {
		return nil, err
	}
	return &curator.InferenceFilter{VariantName: f.variant, EpisodeID: episode}, nil
}

func newInferencesCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "inferences",
		Aliases: []string{"inf"},
		Short:   "Browse a function's inferences, newest first",
	}
	cmd.AddCommand(newInferencesListCommand(ctx))
	cmd.AddCommand(newInferencesBoundsCommand(ctx))
	cmd.AddCommand(newInferencesCountCommand(ctx))
	return cmd
}

func newInferencesListCommand(ctx *commandContext) *cobra.Command {
	var pf pageFlags
	var ff inferenceFilterFlags
	cmd := &cobra.Command{
		Use:   "list FUNCTION",
		Short: "Show one page of inferences",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			opts, err := pf.options()
			if err != nil {
				return err
			}
			filter, err := ff.filter()
			if err != nil {
				return err
			}
			page, err := client.ListInferences(cmd.Context(), args[0], filter, opts)
			if err != nil {
				return err
			}
			if ctx.jsonOut {
				return writeJSON(cmd, page)
			}
			printInferences(cmd, page)
			return nil
		},
	}
	pf.register(cmd)
	ff.register(cmd)
	return cmd
}

func newInferencesBoundsCommand(ctx *commandContext) *cobra.Command {
	var ff inferenceFilterFlags
	cmd := &cobra.Command{
		Use:   "bounds FUNCTION",
		Short: "Show the oldest and newest inference ids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			filter, err := ff.filter()
			if err != nil {
				return err
			}
			b, err := client.InferenceBounds(cmd.Context(), args[0], filter)
			if err != nil {
				return err
			}
			if ctx.jsonOut {
				return writeJSON(cmd, b)
			}
			printBounds(cmd, b)
			return nil
		},
	}
	ff.register(cmd)
	return cmd
}

func newInferencesCountCommand(ctx *commandContext) *cobra.Command {
	var ff inferenceFilterFlags
	cmd := &cobra.Command{
		Use:   "count FUNCTION",
		Short: "Count inferences",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			filter, err := ff.filter()
			if err != nil {
				return err
			}
			n, err := client.CountInferences(cmd.Context(), args[0], filter)
			if err != nil {
				return err
			}
			if ctx.jsonOut {
				return writeJSON(cmd, map[string]int64{"count": n})
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
	ff.register(cmd)
	return cmd
}
