package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/tensorzero/curator/internal/model"
	"github.com/tensorzero/curator/internal/storage"
)

const catalogURI = "curator://catalog"

func (s *Server) registerResources() {
	// curator://catalog — the functions and metrics tools accept.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			catalogURI,
			"Catalog",
			mcplib.WithResourceDescription("Functions and metrics known to this curator, with metric policies"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleCatalog,
	)

	// curator://functions/{name}/stats — size and id range of a function's inferences.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"curator://functions/{name}/stats",
			"Function Stats",
			mcplib.WithTemplateDescription("Inference count and id bounds for one function"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleFunctionStats,
	)
}

type catalogView struct {
	Functions map[string]functionView      `json:"functions"`
	Metrics   map[string]model.MetricPolicy `json:"metrics"`
}

type functionView struct {
	Type     model.FunctionType `json:"type"`
	Variants []string           `json:"variants,omitempty"`
}

func (s *Server) handleCatalog(_ context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	view := catalogView{
		Functions: make(map[string]functionView, len(s.catalog.Functions)),
		Metrics:   make(map[string]model.MetricPolicy, len(s.catalog.Metrics)+1),
	}
	for name, fn := range s.catalog.Functions {
		view.Functions[name] = functionView{Type: fn.Type, Variants: fn.Variants}
	}
	for name, p := range s.catalog.Metrics {
		view.Metrics[name] = p
	}
	view.Metrics[model.DemonstrationMetric] = model.DemonstrationPolicy
	return jsonContents(request.Params.URI, view)
}

func (s *Server) handleFunctionStats(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	name, err := functionFromURI(request.Params.URI)
	if err != nil {
		return nil, err
	}
	fn, err := s.catalog.Function(name)
	if err != nil {
		return nil, fmt.Errorf("mcp: function stats: %w", err)
	}
	stream := storage.InferenceStream(fn.Type, name)
	bounds, err := s.pager.Bounds(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("mcp: function stats: %w", err)
	}
	count, err := s.pager.Count(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("mcp: function stats: %w", err)
	}
	return jsonContents(request.Params.URI, map[string]any{
		"function_name": name,
		"type":          fn.Type,
		"count":         count,
		"bounds":        bounds,
	})
}

// functionFromURI extracts {name} from curator://functions/{name}/stats.
func functionFromURI(uri string) (string, error) {
	rest, ok := strings.CutPrefix(uri, "curator://functions/")
	if !ok {
		return "", fmt.Errorf("mcp: unexpected resource uri %q", uri)
	}
	name, ok := strings.CutSuffix(rest, "/stats")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("mcp: unexpected resource uri %q", uri)
	}
	return name, nil
}

func jsonContents(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
