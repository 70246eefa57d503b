// Package mcptools implements the Model Context Protocol server for EcoVerify.
//
// The MCP server exposes the adapter layer (telemetry, regulatory lookup,
// maintenance tickets, and the settlement ledger) as tools, so MCP-compatible
// agents can drive the same subsystems the orchestration loop uses.
package mcptools

import (
	"encoding/json"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ecoverify-ai/ecoverify/internal/bms"
	"github.com/ecoverify-ai/ecoverify/internal/regulatory"
	"github.com/ecoverify-ai/ecoverify/internal/settlement"
	"github.com/ecoverify-ai/ecoverify/internal/tickets"
)

// Server wraps the MCP server with EcoVerify's adapter layer.
type Server struct {
	mcpServer   *mcpserver.MCPServer
	telemetry   *bms.Simulator
	registry    *regulatory.Registry
	tickets     *tickets.Tracker
	settlements *settlement.Engine
	logger      *slog.Logger
}

// New creates and configures a new MCP server with all tools registered.
func New(telemetry *bms.Simulator, registry *regulatory.Registry, tracker *tickets.Tracker, settlements *settlement.Engine, logger *slog.Logger, version string) *Server {
	s := &Server{
		telemetry:   telemetry,
		registry:    registry,
		tickets:     tracker,
		settlements: settlements,
		logger:      logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"ecoverify",
		version,
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, _ := json.MarshalIndent(v, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
