// Package mcp implements the Model Context Protocol server for curator.
//
// The MCP server exposes the read side of the HTTP API as tools, so an
// agent can page through inferences and feedback and assemble a curated
// dataset without leaving its session.
package mcp

import (
	"encoding/json"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/tensorzero/curator/internal/config"
	"github.com/tensorzero/curator/internal/service/curation"
	"github.com/tensorzero/curator/internal/service/merge"
	"github.com/tensorzero/curator/internal/service/pagination"
)

// Server wraps the MCP server with curator's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	pager     *pagination.Paginator
	merger    *merge.Engine
	curator   *curation.Service
	catalog   *config.Catalog
	logger    *slog.Logger

	defaultPageSize int
	maxPageSize     int
}

// Deps holds the services the tools call.
type Deps struct {
	Pager           *pagination.Paginator
	Merger          *merge.Engine
	Curator         *curation.Service
	Catalog         *config.Catalog
	Logger          *slog.Logger
	Version         string
	DefaultPageSize int
	MaxPageSize     int
}

// New creates and configures a new MCP server with all resources, prompts
// and tools.
func New(d Deps) *Server {
	s := &Server{
		pager:           d.Pager,
		merger:          d.Merger,
		curator:         d.Curator,
		catalog:         d.Catalog,
		logger:          d.Logger,
		defaultPageSize: d.DefaultPageSize,
		maxPageSize:     d.MaxPageSize,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"curator",
		d.Version,
		mcpserver.WithResourceCapabilities(false, true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)

	s.registerResources()
	s.registerPrompts()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}
