package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/HendryAvila/trellis/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
)

// ValidateProjectTool handles the trellis_validate_project MCP tool.
// It audits the whole tree instead of a single write.
type ValidateProjectTool struct {
	store store.Store
	roots Roots
}

// NewValidateProjectTool creates a ValidateProjectTool.
func NewValidateProjectTool(s store.Store, roots Roots) *ValidateProjectTool {
	return &ValidateProjectTool{store: s, roots: roots}
}

// Definition returns the MCP tool definition for registration.
func (t *ValidateProjectTool) Definition() mcp.Tool {
	return mcp.NewTool("trellis_validate_project",
		mcp.WithDescription(
			"Audit every object under the project: unreadable files, ids present in both "+
				"the standalone and hierarchical layouts, schema violations, missing parents "+
				"or prerequisites, and dependency cycles. Read-only.",
		),
		withProjectRoot(),
	)
}

// Handle processes the trellis_validate_project tool call.
func (t *ValidateProjectTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root, err := t.roots.resolve(req)
	if err != nil {
		return errorResult(err)
	}

	rep, err := t.store.Check(ctx, root)
	if err != nil {
		return errorResult(err)
	}

	var sb strings.Builder
	sb.WriteString("# Project Validation\n\n")
	fmt.Fprintf(&sb, "**Root:** `%s`\n", rep.Root)
	fmt.Fprintf(&sb, "**Objects:** %d\n", rep.Objects)
	if rep.OK() {
		sb.WriteString("\n✅ No problems found.\n")
		return mcp.NewToolResultText(sb.String()), nil
	}

	fmt.Fprintf(&sb, "\n❌ %d problem(s):\n\n", len(rep.Issues))
	sb.WriteString("| Code | Object | File | Problem |\n")
	sb.WriteString("|------|--------|------|---------|\n")
	for _, is := range rep.Issues {
		file := is.Path
		if rel, err := filepath.Rel(rep.Root, is.Path); err == nil && is.Path != "" {
			file = rel
		}
		fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n",
			is.Code, orDash(is.ObjectID), orDash(file), strings.ReplaceAll(is.Message, "|", "\\|"))
	}
	return mcp.NewToolResultText(sb.String()), nil
}
