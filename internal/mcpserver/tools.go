package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the humancheck MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetLoginReport = mcp.NewTool("get_login_report",
	mcp.WithDescription(
		"Summarize recent login attempts judged by the humancheck bot detector. "+
			"Returns accepted/rejected counts over the whole audit log plus the most recent entries "+
			"with their risk scores and internal reason summaries."),
	mcp.WithString("decision",
		mcp.Description("Only include entries with this verdict"),
		mcp.Enum("ACCEPTED", "REJECTED")),
	mcp.WithNumber("limit",
		mcp.Description("Number of most recent entries to include (default 20, max 200)")),
)

var ToolListRejectedAttempts = mcp.NewTool("list_rejected_attempts",
	mcp.WithDescription(
		"List the most recent rejected login attempts with the signals that triggered them: "+
			"sub-scores, risk and challenge reasons, automation flags, and the client user agent. "+
			"Use this to investigate suspected bot traffic."),
	mcp.WithNumber("limit",
		mcp.Description("Number of most recent rejected attempts (default 20, max 200)")),
)

var ToolCheckHealth = mcp.NewTool("check_health",
	mcp.WithDescription(
		"Check whether the humancheck server is ready and whether its audit store is reachable."),
)
