package mcp

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/tensorzero/curator/internal/ctxutil"
	"github.com/tensorzero/curator/internal/model"
	"github.com/tensorzero/curator/internal/service/pagination"
	"github.com/tensorzero/curator/internal/storage"
)

func (s *Server) registerTools() {
	// curator_page_inferences — one keyset page of a function's inferences.
	s.mcpServer.AddTool(
		mcplib.NewTool("curator_page_inferences",
			mcplib.WithDescription(`Page through the inferences of one function, newest first.

WHEN TO USE: To look at what a function actually produced before deciding
how to curate it. Start without a cursor to see the newest page.

PAGING: Pass the id of the LAST (oldest) inference on a page as "before" to
get the next older page. Pass the id of the FIRST (newest) inference as
"after" to go back toward newer ones. Never pass both.

WHAT YOU GET BACK:
- inferences: compact records (input and output text are truncated)
- page_info: has_older / has_newer
- bounds: the oldest and newest ids in the stream`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("function_name",
				mcplib.Description("Function to page, as named in the catalog"),
				mcplib.Required(),
			),
			mcplib.WithString("before", mcplib.Description("Return inferences older than this id")),
			mcplib.WithString("after", mcplib.Description("Return inferences newer than this id")),
			mcplib.WithString("variant_name", mcplib.Description("Only inferences served by this variant")),
			mcplib.WithNumber("page_size",
				mcplib.Description("Inferences per page"),
				mcplib.Min(1),
				mcplib.DefaultNumber(10),
			),
		),
		s.handlePageInferences,
	)

	// curator_page_feedback — feedback attached to one target.
	s.mcpServer.AddTool(
		mcplib.NewTool("curator_page_feedback",
			mcplib.WithDescription(`Page through feedback attached to an inference or episode, newest first.

Without "kind", the page merges every feedback kind (boolean, float, comment,
demonstration) into one id-ordered stream. With "kind", only that table is read.
Cursors work as in curator_page_inferences.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("target_id",
				mcplib.Description("Inference or episode id the feedback refers to"),
				mcplib.Required(),
			),
			mcplib.WithString("kind",
				mcplib.Description("Restrict to one feedback kind"),
				mcplib.Enum(string(model.FeedbackBoolean), string(model.FeedbackFloat),
					string(model.FeedbackComment), string(model.FeedbackDemonstration)),
			),
			mcplib.WithString("before", mcplib.Description("Return feedback older than this id")),
			mcplib.WithString("after", mcplib.Description("Return feedback newer than this id")),
			mcplib.WithNumber("page_size",
				mcplib.Description("Records per page"),
				mcplib.Min(1),
				mcplib.DefaultNumber(10),
			),
		),
		s.handlePageFeedback,
	)

	// curator_feedback_bounds — id range and count of a target's feedback.
	s.mcpServer.AddTool(
		mcplib.NewTool("curator_feedback_bounds",
			mcplib.WithDescription("Report the oldest and newest feedback ids and the per-kind counts for a target."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("target_id",
				mcplib.Description("Inference or episode id the feedback refers to"),
				mcplib.Required(),
			),
		),
		s.handleFeedbackBounds,
	)

	// curator_curate — select the good examples of a function.
	s.mcpServer.AddTool(
		mcplib.NewTool("curator_curate",
			mcplib.WithDescription(`Select the inferences of a function that scored well on a metric.

RULES:
- boolean metrics keep inferences whose latest value matches the optimize direction
- float metrics keep values strictly beyond "threshold" (required for float)
- metric_name="demonstration" keeps inferences with a demonstration and
  replaces their output with it
- without metric_name every inference is returned

Returns a count and compact records. Use max_samples to cap the result.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("function_name",
				mcplib.Description("Function to curate"),
				mcplib.Required(),
			),
			mcplib.WithString("metric_name", mcplib.Description("Metric that decides which inferences qualify")),
			mcplib.WithNumber("threshold", mcplib.Description("Float metric cutoff, compared strictly")),
			mcplib.WithNumber("max_samples",
				mcplib.Description("Keep at most this many selected inferences"),
				mcplib.Min(0),
			),
		),
		s.handleCurate,
	)
}

func (s *Server) handlePageInferences(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name := request.GetString("function_name", "")
	if name == "" {
		return errorResult("function_name is required"), nil
	}
	fn, err := s.catalog.Function(name)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	stream := storage.InferenceStream(fn.Type, name)
	if v := request.GetString("variant_name", ""); v != "" {
		stream = stream.Where(storage.ColVariantName, v)
	}
	cursor, err := toolCursor(request)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	size := s.pageSize(request)

	page, err := s.pager.Inferences(ctx, pagination.Request{Stream: stream, Cursor: cursor, PageSize: size})
	if err != nil {
		return s.failed(ctx, "page inferences", err), nil
	}
	bounds, err := s.pager.Bounds(ctx, stream)
	if err != nil {
		return s.failed(ctx, "inference bounds", err), nil
	}

	ids := make([]uuid.UUID, len(page))
	out := make([]map[string]any, len(page))
	for i, inf := range page {
		ids[i] = inf.ID
		out[i] = compactInference(inf)
	}
	return jsonResult(map[string]any{
		"inferences": out,
		"page_info":  model.PageInfoFor(ids, bounds),
		"bounds":     bounds,
	})
}

func (s *Server) handlePageFeedback(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	target, err := toolUUID(request, "target_id")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if target == nil {
		return errorResult("target_id is required"), nil
	}
	cursor, err := toolCursor(request)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	size := s.pageSize(request)

	var (
		page   []model.Feedback
		bounds model.Bounds
	)
	if kindArg := request.GetString("kind", ""); kindArg != "" {
		kind, err := model.ParseFeedbackKind(kindArg)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		stream := storage.FeedbackStream(kind, *target)
		if page, err = s.pager.Feedback(ctx, pagination.Request{Stream: stream, Cursor: cursor, PageSize: size}); err != nil {
			return s.failed(ctx, "page feedback", err), nil
		}
		if bounds, err = s.pager.Bounds(ctx, stream); err != nil {
			return s.failed(ctx, "feedback bounds", err), nil
		}
	} else {
		if page, err = s.merger.PageAll(ctx, *target, cursor, size); err != nil {
			return s.failed(ctx, "page merged feedback", err), nil
		}
		if bounds, err = s.merger.BoundsAll(ctx, *target); err != nil {
			return s.failed(ctx, "merged feedback bounds", err), nil
		}
	}

	ids := make([]uuid.UUID, len(page))
	out := make([]map[string]any, len(page))
	for i, f := range page {
		ids[i] = f.FeedbackID()
		out[i] = compactFeedback(f)
	}
	return jsonResult(map[string]any{
		"feedback":  out,
		"page_info": model.PageInfoFor(ids, bounds),
		"bounds":    bounds,
	})
}

func (s *Server) handleFeedbackBounds(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	target, err := toolUUID(request, "target_id")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if target == nil {
		return errorResult("target_id is required"), nil
	}
	bounds, err := s.merger.BoundsAll(ctx, *target)
	if err != nil {
		return s.failed(ctx, "feedback bounds", err), nil
	}
	count, err := s.merger.CountAll(ctx, *target)
	if err != nil {
		return s.failed(ctx, "feedback count", err), nil
	}
	return jsonResult(map[string]any{
		"bounds": bounds,
		"count":  count,
	})
}

func (s *Server) handleCurate(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	req := model.CurationRequest{
		FunctionName: request.GetString("function_name", ""),
		MetricName:   request.GetString("metric_name", ""),
	}
	args := request.GetArguments()
	if _, ok := args["threshold"]; ok {
		t := request.GetFloat("threshold", 0)
		req.Threshold = &t
	}
	if _, ok := args["max_samples"]; ok {
		n := request.GetInt("max_samples", 0)
		req.MaxSamples = &n
	}

	res, err := s.curator.Curate(ctx, req)
	if err != nil {
		return s.failed(ctx, "curate", err), nil
	}
	out := make([]map[string]any, len(res.Inferences))
	for i, inf := range res.Inferences {
		out[i] = compactInference(inf)
	}
	return jsonResult(map[string]any{
		"function_name": req.FunctionName,
		"metric_name":   req.MetricName,
		"count":         len(out),
		"inferences":    out,
	})
}

// failed reports a service error to the caller. Argument problems are
// returned verbatim; anything else is logged and summarized.
func (s *Server) failed(ctx context.Context, op string, err error) *mcplib.CallToolResult {
	if isCallerError(err) {
		return errorResult(err.Error())
	}
	s.logger.Error("mcp tool failed", "op", op, "error", err,
		"request_id", ctxutil.RequestIDFromContext(ctx))
	return errorResult(fmt.Sprintf("%s failed", op))
}

func (s *Server) pageSize(request mcplib.CallToolRequest) int {
	n := request.GetInt("page_size", s.defaultPageSize)
	if n > s.maxPageSize {
		return s.maxPageSize
	}
	return n
}

func toolUUID(request mcplib.CallToolRequest, name string) (*uuid.UUID, error) {
	v := request.GetString(name, "")
	if v == "" {
		return nil, nil
	}
	u, err := uuid.Parse(v)
	if err != nil {
		return nil, fmt.Errorf("%s %q is not a valid UUID", name, v)
	}
	return &u, nil
}

func toolCursor(request mcplib.CallToolRequest) (model.Cursor, error) {
	before, err := toolUUID(request, "before")
	if err != nil {
		return model.Cursor{}, err
	}
	after, err := toolUUID(request, "after")
	if err != nil {
		return model.Cursor{}, err
	}
	return model.Cursor{Before: before, After: after}, nil
}
