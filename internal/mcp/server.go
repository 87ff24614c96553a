// Package mcp serves the tutoring tools over the Model Context Protocol so
// desktop MCP clients can use them outside the chat gateway.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tjfontaine/socratic-gateway/internal/tools"
)

// DefaultPrincipal owns insights saved through the MCP server.
const DefaultPrincipal = "mcp"

// Config holds MCP server configuration.
type Config struct {
	Version string
	// Principal is attached to tool calls that persist per-user data.
	Principal string
	Logger    *slog.Logger
}

// Server wraps the MCP SDK server around a tool registry.
type Server struct {
	mcpServer *mcpsdk.Server
	registry  *tools.Registry
	principal string
	logger    *slog.Logger
}

// New creates an MCP server exposing every tool in registry.
func New(registry *tools.Registry, cfg Config) (*Server, error) {
	if registry == nil {
		return nil, errors.New("mcp: nil tool registry")
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Principal == "" {
		cfg.Principal = DefaultPrincipal
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		registry:  registry,
		principal: cfg.Principal,
		logger:    cfg.Logger,
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "socratic",
			Version: cfg.Version,
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// Run serves on the stdio transport. Blocks until ctx is cancelled or the
// client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	for _, t := range s.registry.All() {
		s.mcpServer.AddTool(&mcpsdk.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Schema(),
		}, s.handler(t))
	}
}

func (s *Server) handler(t tools.Tool) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args json.RawMessage
		if req != nil && req.Params != nil {
			args = req.Params.Arguments
		}

		out, err := t.Execute(tools.WithPrincipal(ctx, s.principal), args)
		if err != nil {
			s.logger.Warn("mcp tool failed",
				slog.String("tool", t.Name()),
				slog.String("error", err.Error()),
			)
			return errorResult(err.Error()), nil
		}

		body, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("encode %s result: %w", t.Name(), err)
		}
		return &mcpsdk.CallToolResult{
			Content:           []mcpsdk.Content{&mcpsdk.TextContent{Text: string(body)}},
			StructuredContent: json.RawMessage(body),
		}, nil
	}
}

func errorResult(msg string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: msg}},
	}
}
