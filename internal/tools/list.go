package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/trellis/internal/object"
	"github.com/HendryAvila/trellis/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
)

// ListBacklogTool handles the trellis_list_backlog MCP tool.
type ListBacklogTool struct {
	store store.Store
	roots Roots
}

// NewListBacklogTool creates a ListBacklogTool.
func NewListBacklogTool(s store.Store, roots Roots) *ListBacklogTool {
	return &ListBacklogTool{store: s, roots: roots}
}

// Definition returns the MCP tool definition for registration.
func (t *ListBacklogTool) Definition() mcp.Tool {
	return mcp.NewTool("trellis_list_backlog",
		mcp.WithDescription(
			"List objects ordered by priority, then creation time. Done objects are "+
				"hidden unless `includeDone` is set or `status` is done.",
		),
		mcp.WithString("kind",
			mcp.Description("Only this kind."),
			mcp.Enum(kindValues()...),
		),
		mcp.WithString("status",
			mcp.Description("Only this status."),
			mcp.Enum(statusValues()[:4]...),
		),
		mcp.WithString("priority",
			mcp.Description("Only this priority."),
			mcp.Enum(priorityValues()...),
		),
		mcp.WithString("parent",
			mcp.Description("Only direct children of this parent."),
		),
		mcp.WithBoolean("includeDone",
			mcp.Description("Include done objects."),
		),
		withProjectRoot(),
	)
}

// Handle processes the trellis_list_backlog tool call.
func (t *ListBacklogTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root, err := t.roots.resolve(req)
	if err != nil {
		return errorResult(err)
	}

	filter := store.Filter{
		Kind:        object.Kind(req.GetString("kind", "")),
		Status:      object.Status(req.GetString("status", "")),
		Priority:    object.Priority(req.GetString("priority", "")),
		Parent:      req.GetString("parent", ""),
		IncludeDone: boolArg(req, "includeDone", false),
	}
	if filter.Kind != "" {
		if err := object.ValidateKind(filter.Kind); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	recs, err := t.store.List(ctx, root, filter)
	if err != nil {
		return errorResult(err)
	}
	if len(recs) == 0 {
		return mcp.NewToolResultText("No objects match."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Backlog (%d)\n\n", len(recs))
	sb.WriteString("| ID | Kind | Status | Priority | Title | Parent | Prerequisites |\n")
	sb.WriteString("|----|------|--------|----------|-------|--------|---------------|\n")
	for _, r := range recs {
		o := r.Object
		fmt.Fprintf(&sb, "| `%s` | %s | %s | %s | %s | %s | %s |\n",
			o.ID, o.Kind, o.Status, o.Priority, o.Title,
			orDash(o.ParentID()), orDash(strings.Join(o.Prerequisites, ", ")))
	}
	return mcp.NewToolResultText(sb.String()), nil
}
