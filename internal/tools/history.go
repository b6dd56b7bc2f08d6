package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/HendryAvila/trellis/internal/journal"
	"github.com/HendryAvila/trellis/internal/object"
	"github.com/mark3labs/mcp-go/mcp"
)

// HistoryTool handles the trellis_history MCP tool. It is only registered
// when the journal opened.
type HistoryTool struct {
	journal *journal.Store
	roots   Roots
}

// NewHistoryTool creates a HistoryTool.
func NewHistoryTool(j *journal.Store, roots Roots) *HistoryTool {
	return &HistoryTool{journal: j, roots: roots}
}

// Definition returns the MCP tool definition for registration.
func (t *HistoryTool) Definition() mcp.Tool {
	return mcp.NewTool("trellis_history",
		mcp.WithDescription(
			"Show committed writes for this project, newest first: creations, updates, "+
				"moves to tasks-done and deletions, with status changes.",
		),
		mcp.WithString("id",
			mcp.Description("Only entries for this object."),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum entries to return (default 20)."),
		),
		withProjectRoot(),
	)
}

// Handle processes the trellis_history tool call.
func (t *HistoryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root, err := t.roots.resolve(req)
	if err != nil {
		return errorResult(err)
	}

	q := journal.Query{Root: root, Limit: intArg(req, "limit", 0)}
	if id := req.GetString("id", ""); id != "" {
		q.ObjectID = object.NormalizeRef(id)
	}
	entries, err := t.journal.History(q)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read history: %v", err)), nil
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText("No history recorded yet."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## History (%d)\n\n", len(entries))
	sb.WriteString("| When | Object | Operation | Status |\n")
	sb.WriteString("|------|--------|-----------|--------|\n")
	for _, e := range entries {
		status := e.ToStatus
		if e.FromStatus != "" && e.FromStatus != e.ToStatus {
			status = e.FromStatus + " → " + e.ToStatus
		}
		fmt.Fprintf(&sb, "| %s | `%s` | %s | %s |\n",
			e.At.Format(time.RFC3339), e.ObjectID, e.Op, orDash(status))
	}
	return mcp.NewToolResultText(sb.String()), nil
}
