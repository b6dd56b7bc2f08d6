package tools

import (
	"context"
	"fmt"

	"github.com/HendryAvila/trellis/internal/object"
	"github.com/HendryAvila/trellis/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
)

// CreateObjectTool handles the trellis_create_object MCP tool.
type CreateObjectTool struct {
	store store.Store
	roots Roots
}

// NewCreateObjectTool creates a CreateObjectTool.
func NewCreateObjectTool(s store.Store, roots Roots) *CreateObjectTool {
	return &CreateObjectTool{store: s, roots: roots}
}

// Definition returns the MCP tool definition for registration.
func (t *CreateObjectTool) Definition() mcp.Tool {
	return mcp.NewTool("trellis_create_object",
		mcp.WithDescription(
			"Create a project, epic, feature or task. Epics need a project parent, "+
				"features an epic parent; a task without a parent is standalone. "+
				"The id is generated from the title when omitted. The write is rejected "+
				"as a whole if the parent or any prerequisite is missing, or if it would "+
				"close a dependency cycle.",
		),
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Description("Object kind."),
			mcp.Enum(kindValues()...),
		),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Short human title."),
		),
		mcp.WithString("id",
			mcp.Description("Identifier, with or without its kind prefix (e.g. `T-login` or `login`)."),
		),
		mcp.WithString("parent",
			mcp.Description("Parent identifier. Required for epics and features, optional for tasks."),
		),
		mcp.WithString("status",
			mcp.Description("Initial status. Defaults to open."),
			mcp.Enum(statusValues()[:4]...),
		),
		mcp.WithString("priority",
			mcp.Description("Priority. Defaults to normal."),
			mcp.Enum(priorityValues()...),
		),
		mcp.WithArray("prerequisites",
			mcp.Description("Identifiers this object depends on."),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithString("worktree",
			mcp.Description("Optional worktree path associated with the object."),
		),
		mcp.WithString("body",
			mcp.Description("Markdown body stored after the front matter."),
		),
		withProjectRoot(),
	)
}

// Handle processes the trellis_create_object tool call.
func (t *CreateObjectTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind := object.Kind(req.GetString("kind", ""))
	if err := object.ValidateKind(kind); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title := req.GetString("title", "")
	if title == "" {
		return mcp.NewToolResultError("'title' is required"), nil
	}

	root, err := t.roots.resolve(req)
	if err != nil {
		return errorResult(err)
	}

	prereqs, _ := listArg(req, "prerequisites")
	in := store.CreateInput{
		Kind:          kind,
		ID:            req.GetString("id", ""),
		Parent:        req.GetString("parent", ""),
		Title:         title,
		Status:        object.Status(req.GetString("status", "")),
		Priority:      object.Priority(req.GetString("priority", "")),
		Prerequisites: prereqs,
		Worktree:      req.GetString("worktree", ""),
		Body:          req.GetString("body", ""),
	}

	rec, err := t.store.Create(ctx, root, in)
	if err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText(renderRecord(fmt.Sprintf("Created %s", rec.Object.Kind), rec)), nil
}
