package mcp

import (
	"errors"
	"strings"

	"github.com/tensorzero/curator/internal/model"
)

const maxCompactText = 300

// compactInference returns a minimal representation of an inference for MCP
// responses. Content blocks collapse to text and long text is truncated so a
// page fits comfortably in an agent's context.
func compactInference(inf model.Inference) map[string]any {
	m := map[string]any{
		"id":           inf.ID,
		"variant_name": inf.VariantName,
		"episode_id":   inf.EpisodeID,
		"timestamp":    inf.Timestamp,
		"output":       truncate(inf.Output.Text(), maxCompactText),
	}
	if n := len(inf.Input.Messages); n > 0 {
		last := inf.Input.Messages[n-1]
		m["last_input"] = truncate(blocksText(last.Content), maxCompactText)
		m["input_turns"] = n
	}
	return m
}

// compactFeedback flattens a feedback record into a uniform shape.
func compactFeedback(f model.Feedback) map[string]any {
	m := map[string]any{
		"id":        f.FeedbackID(),
		"type":      f.Kind(),
		"target_id": f.Target(),
		"timestamp": f.FeedbackTimestamp(),
	}
	switch v := f.(type) {
	case model.BooleanMetricFeedback:
		m["metric_name"] = v.MetricName
		m["value"] = v.Value
	case model.FloatMetricFeedback:
		m["metric_name"] = v.MetricName
		m["value"] = v.Value
	case model.CommentFeedback:
		m["target_type"] = v.TargetType
		m["value"] = truncate(v.Value, maxCompactText)
	case model.DemonstrationFeedback:
		m["value"] = truncate(v.Value, maxCompactText)
	}
	return m
}

func blocksText(blocks []model.ContentBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case model.BlockText:
			parts = append(parts, b.Text)
		case model.BlockToolCall:
			parts = append(parts, "[tool_call "+b.Name+"]")
		case model.BlockToolResult:
			parts = append(parts, "[tool_result "+b.Name+"]")
		}
	}
	return strings.Join(parts, "\n")
}

// isCallerError reports whether err describes a bad request rather than a
// server fault.
func isCallerError(err error) bool {
	return errors.Is(err, model.ErrInvalidArgument) ||
		errors.Is(err, model.ErrUnsupportedPolicy) ||
		errors.Is(err, model.ErrNotFound)
}

// truncate shortens s to at most maxLen runes, marking the cut.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
