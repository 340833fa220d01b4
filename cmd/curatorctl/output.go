package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	curator "github.com/tensorzero/curator/sdk/go/curator"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// renderTable draws rounded boxes on a terminal and plain aligned columns
// otherwise, so piped output stays grep-friendly.
func renderTable(w io.Writer, headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	if isTerminal(w) {
		tw.SetStyle(table.StyleRounded)
	} else {
		style := table.StyleLight
		style.Options = table.OptionsNoBordersAndSeparators
		tw.SetStyle(style)
	}

	header := make(table.Row, columns)
	for i := range columns {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

func printTable(cmd *cobra.Command, headers []string, rows [][]string, aligns []columnAlignment) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderTable(out, headers, rows, aligns))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatID(u *uuid.UUID) string {
	if u == nil {
		return "-"
	}
	return u.String()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

// outputText extracts readable text from a raw chat or json output.
func outputText(raw json.RawMessage) string {
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			switch {
			case b.Text != "":
				parts = append(parts, b.Text)
			case b.Name != "":
				parts = append(parts, "["+b.Type+" "+b.Name+"]")
			}
		}
		return strings.Join(parts, " ")
	}
	var structured struct {
		Raw string `json:"raw"`
	}
	if err := json.Unmarshal(raw, &structured); err == nil && structured.Raw != "" {
		return structured.Raw
	}
	return string(raw)
}

func printInferences(cmd *cobra.Command, page *curator.Page[curator.Inference]) {
	rows := make([][]string, 0, len(page.Data))
	for _, inf := range page.Data {
		rows = append(rows, []string{
			inf.ID.String(),
			formatTime(inf.Timestamp),
			inf.VariantName,
			inf.EpisodeID.String()[:8],
			truncate(outputText(inf.Output), 60),
		})
	}
	printTable(cmd, []string{"ID", "Time", "Variant", "Episode", "Output"}, rows, nil)
	printPageFooter(cmd, page.PageInfo, len(page.Data), func(i int) uuid.UUID { return page.Data[i].ID })
}

func printFeedback(cmd *cobra.Command, page *curator.Page[curator.Feedback]) {
	rows := make([][]string, 0, len(page.Data))
	for _, f := range page.Data {
		var value string
		if f.Type == curator.KindComment || f.Type == curator.KindDemonstration {
			var s string
			if err := json.Unmarshal(f.Value, &s); err == nil {
				value = truncate(s, 50)
			}
		} else {
			value = string(f.Value)
		}
		metric := f.MetricName
		if metric == "" {
			metric = "-"
		}
		rows = append(rows, []string{f.ID.String(), formatTime(f.Timestamp), f.Type, f.Target().String(), metric, value})
	}
	printTable(cmd, []string{"ID", "Time", "Type", "Target", "Metric", "Value"}, rows, nil)
	printPageFooter(cmd, page.PageInfo, len(page.Data), func(i int) uuid.UUID { return page.Data[i].ID })
}

// printPageFooter prints the cursors that fetch the neighbouring pages.
func printPageFooter(cmd *cobra.Command, info curator.PageInfo, n int, idAt func(int) uuid.UUID) {
	out := cmd.OutOrStdout()
	if n == 0 {
		fmt.Fprintln(out, "no records")
		return
	}
	if info.HasNewer {
		fmt.Fprintf(out, "newer: --after %s\n", idAt(0))
	}
	if info.HasOlder {
		fmt.Fprintf(out, "older: --before %s\n", idAt(n-1))
	}
}

func printBounds(cmd *cobra.Command, b *curator.Bounds) {
	printTable(cmd, []string{"First ID", "Last ID"}, [][]string{{formatID(b.FirstID), formatID(b.LastID)}}, nil)
}
