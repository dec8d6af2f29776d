// Package mcp implements the Model Context Protocol server for ctrlsys.
//
// The MCP server exposes the timer operations of the HTTP API as MCP tools
// and the active timer listing as a resource, so MCP-compatible assistants
// can set and check homelab timers.
package mcp

import (
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ctrlsys/ctrlsys/internal/controlplane"
	"github.com/ctrlsys/ctrlsys/internal/service/timers"
)

// Server wraps the MCP server with the ctrlsys service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	timers    *timers.Service
	reports   *controlplane.Server
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
// reports may be nil, in which case the job report tool is not registered.
func New(timerSvc *timers.Service, reports *controlplane.Server, logger *slog.Logger, version string) *Server {
	s := &Server{
		timers:  timerSvc,
		reports: reports,
		logger:  logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"ctrlsys",
		version,
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithToolCapabilities(false),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
