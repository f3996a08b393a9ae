package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/humancheck/internal/auditlog"
)

// Entry limits for report tools.
const (
	defaultLimit = 20
	maxLimit     = 200
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleGetLoginReport returns verdict counts and recent entries.
func (h *Handlers) HandleGetLoginReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	decision := strings.ToUpper(strings.TrimSpace(req.GetString("decision", "")))
	if decision != "" && decision != "ACCEPTED" && decision != "REJECTED" {
		return mcp.NewToolResultError("decision must be ACCEPTED or REJECTED"), nil
	}
	limit := clampLimit(req.GetInt("limit", defaultLimit))

	report, err := h.client.GetReport(ctx, decision, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch login report: %v", err)), nil
	}

	return mcp.NewToolResultText(formatReport(report, decision)), nil
}

// HandleListRejectedAttempts lists recent rejections with their signals.
func (h *Handlers) HandleListRejectedAttempts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := clampLimit(req.GetInt("limit", defaultLimit))

	report, err := h.client.GetReport(ctx, "REJECTED", limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch rejected attempts: %v", err)), nil
	}

	return mcp.NewToolResultText(formatRejected(report.Entries)), nil
}

// HandleCheckHealth reports server readiness.
func (h *Handlers) HandleCheckHealth(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetReadiness(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Health check failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// --- Formatting helpers ---

func clampLimit(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

func formatReport(r auditlog.Report, decision string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Login attempts: %d accepted, %d rejected\n",
		r.Counts.Accepted, r.Counts.Rejected))

	if len(r.Entries) == 0 {
		sb.WriteString("\nNo entries found.")
		return sb.String()
	}

	kind := "entries"
	if decision != "" {
		kind = strings.ToLower(decision) + " entries"
	}
	sb.WriteString(fmt.Sprintf("\n%d most recent %s (oldest first):\n", len(r.Entries), kind))
	for i, e := range r.Entries {
		sb.WriteString(fmt.Sprintf("%d. %s  %s  %s  risk %s",
			i+1, orDash(e["timestamp"]), orDash(e["username"]), orDash(e["decision"]), orDash(e["riskScore"])))
		if s := e["reasonSummary"]; s != "" {
			sb.WriteString(fmt.Sprintf("  (%s)", oneLine(s)))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatRejected(entries []auditlog.Record) string {
	if len(entries) == 0 {
		return "No rejected attempts found."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d rejected attempt(s):\n\n", len(entries)))
	for i, e := range entries {
		sb.WriteString(fmt.Sprintf("%d. %s at %s (attempt %s)\n",
			i+1, orDash(e["username"]), orDash(e["timestamp"]), orDash(e["attemptId"])))
		sb.WriteString(fmt.Sprintf("   Scores: risk %s, automation %s, behavior %s, challenge %s\n",
			orDash(e["riskScore"]), orDash(e["automationScore"]), orDash(e["behaviorScore"]), orDash(e["challengeScore"])))
		writeIf(&sb, "Summary", e["reasonSummary"])
		writeIf(&sb, "Risk reasons", e["riskReasons"])
		writeIf(&sb, "Challenge reasons", e["challengeReasons"])
		writeIf(&sb, "Automation flags", e["automationFlags"])
		writeIf(&sb, "User agent", e["userAgent"])
		sb.WriteString("\n")
	}
	return sb.String()
}

func writeIf(sb *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	sb.WriteString(fmt.Sprintf("   %s: %s\n", label, oneLine(value)))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}
