package main

import (
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	curator "github.com/tensorzero/curator/sdk/go/curator"
)

// feedbackFlags select either one kind (positional KIND) or, with only
// --target, every kind for that target merged by id.
type feedbackFlags struct {
	target string
	metric string
}

func (f *feedbackFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.target, "target", "t", "", "Inference or episode id the feedback refers to")
	cmd.Flags().StringVarP(&f.metric, "metric", "m", "", "Metric name (boolean and float kinds only)")
}

// resolve returns the kind (empty for merged) and the filter.
func (f *feedbackFlags) resolve(args []string) (string, *curator.FeedbackFilter, error) {
	target, err := optionalUUID("target", f.target)
	if err != nil {
		return "", nil, err
	}
	if len(args) == 0 {
		if target == nil {
			return "", nil, errors.New("either KIND or --target is required")
		}
		if f.metric != "" {
			return "", nil, errors.New("--metric needs a KIND")
		}
		return "", &curator.FeedbackFilter{TargetID: target}, nil
	}
	return args[0], &curator.FeedbackFilter{TargetID: target, MetricName: f.metric}, nil
}

func newFeedbackCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "feedback",
		Aliases: []string{"fb"},
		Short:   "Browse feedback by kind or by target",
		Long: "KIND is one of boolean, float, comment, demonstration.\n" +
			"Omit KIND and pass --target to merge every kind for one target.",
	}
	cmd.AddCommand(newFeedbackListCommand(ctx))
	cmd.AddCommand(newFeedbackBoundsCommand(ctx))
	cmd.AddCommand(newFeedbackCountCommand(ctx))
	cmd.AddCommand(newFeedbackLatestCommand(ctx))
	return cmd
}

func newFeedbackListCommand(ctx *commandContext) *cobra.Command {
	var pf pageFlags
	var ff feedbackFlags
	cmd := &cobra.Command{
		Use:   "list [KIND]",
		Short: "Show one page of feedback",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			kind, filter, err := ff.resolve(args)
			if err != nil {
				return err
			}
			opts, err := pf.options()
			if err != nil {
				return err
			}
			var page *curator.Page[curator.Feedback]
			if kind == "" {
				page, err = client.TargetFeedback(cmd.Context(), *filter.TargetID, opts)
			} else {
				page, err = client.ListFeedback(cmd.Context(), kind, filter, opts)
			}
			if err != nil {
				return err
			}
			if ctx.jsonOut {
				return writeJSON(cmd, page)
			}
			printFeedback(cmd, page)
			return nil
		},
	}
	pf.register(cmd)
	ff.register(cmd)
	return cmd
}

func newFeedbackBoundsCommand(ctx *commandContext) *cobra.Command {
	var ff feedbackFlags
	cmd := &cobra.Command{
		Use:   "bounds [KIND]",
		Short: "Show the oldest and newest feedback ids",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			kind, filter, err := ff.resolve(args)
			if err != nil {
				return err
			}
			var b *curator.Bounds
			if kind == "" {
				b, err = client.TargetFeedbackBounds(cmd.Context(), *filter.TargetID)
			} else {
				b, err = client.FeedbackBounds(cmd.Context(), kind, filter)
			}
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

func newFeedbackCountCommand(ctx *commandContext) *cobra.Command {
	var ff feedbackFlags
	cmd := &cobra.Command{
		Use:   "count [KIND]",
		Short: "Count feedback",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			kind, filter, err := ff.resolve(args)
			if err != nil {
				return err
			}
			if kind != "" {
				n, err := client.CountFeedback(cmd.Context(), kind, filter)
				if err != nil {
					return err
				}
				if ctx.jsonOut {
					return writeJSON(cmd, map[string]int64{"count": n})
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			}

			counts, err := client.CountTargetFeedback(cmd.Context(), *filter.TargetID)
			if err != nil {
				return err
			}
			if ctx.jsonOut {
				return writeJSON(cmd, counts)
			}
			printTargetCounts(cmd, counts)
			return nil
		},
	}
	ff.register(cmd)
	return cmd
}

func printTargetCounts(cmd *cobra.Command, counts *curator.TargetFeedbackCount) {
	kinds := make([]string, 0, len(counts.ByKind))
	for k := range counts.ByKind {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	rows := make([][]string, 0, len(kinds)+1)
	for _, k := range kinds {
		rows = append(rows, []string{k, strconv.FormatInt(counts.ByKind[k], 10)})
	}
	rows = append(rows, []string{"total", strconv.FormatInt(counts.Total, 10)})
	printTable(cmd, []string{"Kind", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
}

func newFeedbackLatestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "latest TARGET",
		Short: "Show the newest value of each metric for a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			target, err := requireUUID("TARGET", args[0])
			if err != nil {
				return err
			}
			values, err := client.LatestMetrics(cmd.Context(), target)
			if err != nil {
				return err
			}
			if ctx.jsonOut {
				return writeJSON(cmd, values)
			}
			rows := make([][]string, 0, len(values))
			for _, v := range values {
				rows = append(rows, []string{v.MetricName, v.Type, string(v.Value), formatTime(v.Timestamp), v.FeedbackID.String()})
			}
			printTable(cmd, []string{"Metric", "Type", "Value", "Time", "Feedback ID"}, rows, nil)
			return nil
		},
	}
}
