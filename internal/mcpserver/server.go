package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all humancheck tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("humancheck", "1.0.0")
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolGetLoginReport, h.HandleGetLoginReport)
	s.AddTool(ToolListRejectedAttempts, h.HandleListRejectedAttempts)
	s.AddTool(ToolCheckHealth, h.HandleCheckHealth)

	return s
}
