package tools

import (
	"context"
	"fmt"

	"github.com/HendryAvila/trellis/internal/inference"
	"github.com/mark3labs/mcp-go/mcp"
)

// InferKindTool handles the trellis_infer_kind MCP tool.
type InferKindTool struct {
	engine *inference.Engine
	roots  Roots
}

// NewInferKindTool creates an InferKindTool.
func NewInferKindTool(engine *inference.Engine, roots Roots) *InferKindTool {
	return &InferKindTool{engine: engine, roots: roots}
}

// Definition returns the MCP tool definition for registration.
func (t *InferKindTool) Definition() mcp.Tool {
	return mcp.NewTool("trellis_infer_kind",
		mcp.WithDescription(
			"Resolve a prefixed id (P-, E-, F-, T-) to its kind and file, confirming that "+
				"the file's own kind agrees with the prefix.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Prefixed identifier, e.g. `F-auth`."),
		),
		mcp.WithBoolean("fresh",
			mcp.Description("Bypass the inference cache."),
		),
		withProjectRoot(),
	)
}

// Handle processes the trellis_infer_kind tool call.
func (t *InferKindTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}
	root, err := t.roots.resolve(req)
	if err != nil {
		return errorResult(err)
	}

	infer := t.engine.Infer
	if boolArg(req, "fresh", false) {
		infer = t.engine.Recompute
	}
	res, err := infer(root, id)
	if err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"**ID:** `%s`\n**Kind:** %s\n**File:** `%s`\n", res.ID, res.Kind, res.Path,
	)), nil
}
