package tools

import (
	"context"

	"github.com/HendryAvila/trellis/internal/object"
	"github.com/HendryAvila/trellis/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
)

// UpdateObjectTool handles the trellis_update_object MCP tool.
type UpdateObjectTool struct {
	store store.Store
	roots Roots
}

// NewUpdateObjectTool creates an UpdateObjectTool.
func NewUpdateObjectTool(s store.Store, roots Roots) *UpdateObjectTool {
	return &UpdateObjectTool{store: s, roots: roots}
}

// Definition returns the MCP tool definition for registration.
func (t *UpdateObjectTool) Definition() mcp.Tool {
	return mcp.NewTool("trellis_update_object",
		mcp.WithDescription(
			"Patch an object. Only the fields you send change; `body` replaces the whole body "+
				"and an empty `prerequisites` list clears it. Status changes must follow the "+
				"lifecycle (open → in-progress → review → done). A task set to done moves to "+
				"tasks-done. Status `deleted` removes the object and its descendants, and "+
				"requires `force` when other objects depend on them.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Object identifier."),
		),
		mcp.WithString("title",
			mcp.Description("New title."),
		),
		mcp.WithString("status",
			mcp.Description("New status."),
			mcp.Enum(statusValues()...),
		),
		mcp.WithString("priority",
			mcp.Description("New priority."),
			mcp.Enum(priorityValues()...),
		),
		mcp.WithArray("prerequisites",
			mcp.Description("Replacement prerequisite list."),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithString("worktree",
			mcp.Description("New worktree path. Send an empty string to clear it."),
		),
		mcp.WithString("body",
			mcp.Description("Replacement Markdown body."),
		),
		mcp.WithBoolean("force",
			mcp.Description("With status `deleted`, remove the object even when others depend on it; their references are dropped."),
		),
		withProjectRoot(),
	)
}

// Handle processes the trellis_update_object tool call.
func (t *UpdateObjectTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}
	root, err := t.roots.resolve(req)
	if err != nil {
		return errorResult(err)
	}
	force := boolArg(req, "force", false)

	patch, empty := patchFromRequest(req)
	if patch.Status != nil && *patch.Status == object.StatusDeleted {
		// Routed here rather than through Update so the caller sees
		// what the cascade removed.
		res, err := t.store.Delete(ctx, root, id, force)
		if err != nil {
			return errorResult(err)
		}
		return mcp.NewToolResultText(renderDeletion(res)), nil
	}
	if empty {
		return mcp.NewToolResultError("nothing to update: send at least one of title, status, priority, prerequisites, worktree, body"), nil
	}

	rec, err := t.store.Update(ctx, root, id, patch, force)
	if err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText(renderRecord("Updated", rec)), nil
}

// patchFromRequest builds a merge patch from the supplied arguments only.
// The second result is true when no patchable field was sent.
func patchFromRequest(req mcp.CallToolRequest) (store.Patch, bool) {
	var p store.Patch
	empty := true
	if v, ok := stringArg(req, "title"); ok {
		p.Title = &v
		empty = false
	}
	if v, ok := stringArg(req, "status"); ok {
		s := object.Status(v)
		p.Status = &s
		empty = false
	}
	if v, ok := stringArg(req, "priority"); ok {
		pr := object.Priority(v)
		p.Priority = &pr
		empty = false
	}
	if v, ok := listArg(req, "prerequisites"); ok {
		p.Prerequisites = &v
		empty = false
	}
	if v, ok := stringArg(req, "worktree"); ok {
		p.Worktree = &v
		empty = false
	}
	if v, ok := stringArg(req, "body"); ok {
		p.Body = &v
		empty = false
	}
	return p, empty
}
