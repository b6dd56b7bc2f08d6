package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/HendryAvila/trellis/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
)

// GetChildrenTool handles the trellis_get_children MCP tool.
type GetChildrenTool struct {
	store store.Store
	roots Roots
}

// NewGetChildrenTool creates a GetChildrenTool.
func NewGetChildrenTool(s store.Store, roots Roots) *GetChildrenTool {
	return &GetChildrenTool{store: s, roots: roots}
}

// Definition returns the MCP tool definition for registration.
func (t *GetChildrenTool) Definition() mcp.Tool {
	return mcp.NewTool("trellis_get_children",
		mcp.WithDescription(
			"List the immediate children of a project, epic or feature, oldest first. "+
				"Tasks have no children.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Parent identifier."),
		),
		withProjectRoot(),
	)
}

// Handle processes the trellis_get_children tool call.
func (t *GetChildrenTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}
	root, err := t.roots.resolve(req)
	if err != nil {
		return errorResult(err)
	}

	kids, err := t.store.Children(ctx, root, id)
	if err != nil {
		return errorResult(err)
	}
	if len(kids) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("`%s` has no children.", id)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Children of `%s` (%d)\n\n", id, len(kids))
	sb.WriteString("| ID | Kind | Status | Title | Created |\n")
	sb.WriteString("|----|------|--------|-------|---------|\n")
	for _, c := range kids {
		fmt.Fprintf(&sb, "| `%s` | %s | %s | %s | %s |\n",
			c.ID, c.Kind, c.Status, c.Title, c.Created.Format(time.RFC3339))
	}
	return mcp.NewToolResultText(sb.String()), nil
}
