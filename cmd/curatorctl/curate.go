package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newCurateCommand(ctx *commandContext) *cobra.Command {
	var cf curationFlags
	var export string
	cmd := &cobra.Command{
		Use:   "curate FUNCTION",
		Short: "Select a function's good inferences under a metric",
		Long: "Boolean metrics keep inferences whose latest value matches the optimize direction.\n" +
			"Float metrics need --threshold. The demonstration metric substitutes demonstrated outputs.\n" +
			"With --export, the chat fine-tuning JSONL is written to a file (\"-\" for stdout).",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			req := cf.request(cmd, args[0])

			if export != "" {
				var w io.Writer = cmd.OutOrStdout()
				if export != "-" {
					f, err := os.Create(export)
					if err != nil {
						return err
					}
					defer func() { _ = f.Close() }()
					w = f
				}
				n, err := client.ExportCuration(cmd.Context(), req, w)
				if err != nil {
					return err
				}
				if export != "-" {
					fmt.Fprintf(cmd.OutOrStdout(), "wrote %d examples to %s\n", n, export)
				}
				return nil
			}

			res, err := client.Curate(cmd.Context(), req)
			if err != nil {
				return err
			}
			if ctx.jsonOut {
				return writeJSON(cmd, res)
			}
			rows := make([][]string, 0, len(res.Inferences))
			for _, inf := range res.Inferences {
				rows = append(rows, []string{inf.ID.String(), formatTime(inf.Timestamp), inf.VariantName, truncate(outputText(inf.Output), 60)})
			}
			printTable(cmd, []string{"ID", "Time", "Variant", "Output"}, rows, nil)
			fmt.Fprintf(cmd.OutOrStdout(), "%d examples selected\n", res.Count)
			return nil
		},
	}
	cf.register(cmd)
	cmd.Flags().StringVarP(&export, "export", "o", "", "Write chat JSONL to this file instead of printing a table")
	return cmd
}
