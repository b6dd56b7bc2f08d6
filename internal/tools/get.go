package tools

import (
	"context"

	"github.com/HendryAvila/trellis/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
)

// GetObjectTool handles the trellis_get_object MCP tool.
type GetObjectTool struct {
	store store.Store
	roots Roots
}

// NewGetObjectTool creates a GetObjectTool.
func NewGetObjectTool(s store.Store, roots Roots) *GetObjectTool {
	return &GetObjectTool{store: s, roots: roots}
}

// Definition returns the MCP tool definition for registration.
func (t *GetObjectTool) Definition() mcp.Tool {
	return mcp.NewTool("trellis_get_object",
		mcp.WithDescription(
			"Read one object by id. The kind is inferred from the id prefix; "+
				"a bare id is matched against tasks, then features, epics and projects.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Object identifier, e.g. `T-login`, `F-auth` or `login`."),
		),
		withProjectRoot(),
	)
}

// Handle processes the trellis_get_object tool call.
func (t *GetObjectTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}
	root, err := t.roots.resolve(req)
	if err != nil {
		return errorResult(err)
	}

	rec, err := t.store.Get(ctx, root, id)
	if err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText(renderRecord(string(rec.Object.Kind), rec)), nil
}
