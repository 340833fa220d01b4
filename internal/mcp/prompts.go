package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// build-dataset — walks an agent through curating a fine-tuning dataset.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("build-dataset",
			mcplib.WithPromptDescription("Curate a fine-tuning dataset for a function"),
			mcplib.WithArgument("function_name",
				mcplib.ArgumentDescription("The function to build a dataset for"),
				mcplib.RequiredArgument(),
			),
			mcplib.WithArgument("metric_name",
				mcplib.ArgumentDescription("Metric that defines a good example; omit to decide after inspecting the catalog"),
			),
		),
		s.handleBuildDatasetPrompt,
	)
}

func (s *Server) handleBuildDatasetPrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	fn := request.Params.Arguments["function_name"]
	if fn == "" {
		return nil, fmt.Errorf("function_name argument is required")
	}
	metric := request.Params.Arguments["metric_name"]
	metricStep := fmt.Sprintf(`2. READ the %s resource and pick the metric that best captures
   "good output" for %s. Boolean metrics are simplest. Float metrics need a threshold.
   If human-written demonstrations exist, metric_name="demonstration" uses them directly.`, catalogURI, fn)
	if metric != "" {
		metricStep = fmt.Sprintf(`2. USE metric_name=%q. Read %s to see its type and direction.
   Float metrics need a threshold.`, metric, catalogURI)
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Build a fine-tuning dataset for %s", fn),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Build a fine-tuning dataset for the function %q:

1. CALL curator_page_inferences with function_name=%q to see recent outputs.
   Page older with "before" until you have a feel for quality.

%s

3. SPOT CHECK: for a few inferences, call curator_page_feedback with their id
   as target_id to confirm the metric agrees with your reading.

4. CALL curator_curate with the chosen metric (and threshold for float metrics).
   If the count is too small, relax the threshold. If it is large, set max_samples.

5. REPORT the count and the settings you chose so the dataset can be exported.`, fn, fn, metricStep),
				},
			},
		},
	}, nil
}
