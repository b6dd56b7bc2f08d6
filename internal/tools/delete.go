package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/trellis/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
)

// DeleteObjectTool handles the trellis_delete_object MCP tool.
type DeleteObjectTool struct {
	store store.Store
	roots Roots
}

// NewDeleteObjectTool creates a DeleteObjectTool.
func NewDeleteObjectTool(s store.Store, roots Roots) *DeleteObjectTool {
	return &DeleteObjectTool{store: s, roots: roots}
}

// Definition returns the MCP tool definition for registration.
func (t *DeleteObjectTool) Definition() mcp.Tool {
	return mcp.NewTool("trellis_delete_object",
		mcp.WithDescription(
			"Delete an object and everything beneath it. When objects outside that set "+
				"list any of them as a prerequisite, the call fails and nothing changes "+
				"unless `force` is set, in which case those references are removed first.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Object identifier."),
		),
		mcp.WithBoolean("force",
			mcp.Description("Delete even when other objects depend on the removed set."),
		),
		withProjectRoot(),
	)
}

// Handle processes the trellis_delete_object tool call.
func (t *DeleteObjectTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}
	root, err := t.roots.resolve(req)
	if err != nil {
		return errorResult(err)
	}

	res, err := t.store.Delete(ctx, root, id, boolArg(req, "force", false))
	if err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText(renderDeletion(res)), nil
}

func renderDeletion(res *store.DeleteResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Deleted `%s`\n\n", res.Target)
	fmt.Fprintf(&sb, "**Removed** (%d): %s\n", len(res.Removed), strings.Join(res.Removed, ", "))
	if len(res.Rewritten) > 0 {
		fmt.Fprintf(&sb, "**Prerequisites dropped from** (%d): %s\n", len(res.Rewritten), strings.Join(res.Rewritten, ", "))
	}
	return sb.String()
}
