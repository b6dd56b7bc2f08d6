// Package tools implements the MCP tool handlers over the object store.
//
// Each tool is a struct that receives its dependencies through its
// constructor, exposes Definition() for registration and Handle() for
// calls. Typed store failures become tool error results prefixed with
// their code; only unexpected failures are returned as Go errors.
package tools

import (
	"fmt"
	"strings"
	"time"

	"github.com/HendryAvila/trellis/internal/errs"
	"github.com/HendryAvila/trellis/internal/object"
	"github.com/HendryAvila/trellis/internal/paths"
	"github.com/HendryAvila/trellis/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
)

// Roots resolves the optional projectRoot argument shared by every tool.
type Roots struct {
	// Default is used when a call does not name a project root.
	Default string
	// EnsurePlanningSubdir creates <root>/planning when it is missing.
	EnsurePlanningSubdir bool
}

// resolve returns the resolution root (the planning directory) for req.
func (r Roots) resolve(req mcp.CallToolRequest) (string, error) {
	root := req.GetString("projectRoot", "")
	if root == "" {
		root = r.Default
	}
	_, resolution, err := paths.ResolveProjectRoots(root, r.EnsurePlanningSubdir)
	if err != nil {
		return "", err
	}
	return resolution, nil
}

// withProjectRoot declares the projectRoot argument.
func withProjectRoot() mcp.ToolOption {
	return mcp.WithString("projectRoot",
		mcp.Description("Project directory or its planning/ directory. Defaults to the server's configured root."),
	)
}

// --- Argument helpers ---

// intArg extracts an integer argument from a tool request, returning
// defaultVal if the key is missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// boolArg extracts a boolean argument from a tool request.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// stringArg returns a string argument and whether it was supplied at all.
// An explicit empty string counts as supplied.
func stringArg(req mcp.CallToolRequest, key string) (string, bool) {
	v, ok := req.GetArguments()[key].(string)
	return v, ok
}

// listArg reads a list argument sent either as a JSON array or as a
// comma-separated string. The second result reports whether the key was
// present, so an explicit empty list can clear a field.
func listArg(req mcp.CallToolRequest, key string) ([]string, bool) {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return nil, false
	}
	out := []string{}
	switch v := raw.(type) {
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case []string:
		for _, s := range v {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	default:
		return nil, false
	}
	return out, true
}

// --- Results ---

// errorResult reports a typed failure as a tool error. Every member of an
// aggregate is listed on its own line. Errors without a code are returned
// as Go errors so the server treats them as internal failures.
func errorResult(err error) (*mcp.CallToolResult, error) {
	code := errs.CodeOf(err)
	if code == errs.CodeInternal {
		return nil, err
	}

	var sb strings.Builder
	leaves := errs.Flatten(err)
	if len(leaves) == 1 {
		fmt.Fprintf(&sb, "[%s] %v", code, err)
		return mcp.NewToolResultError(sb.String()), nil
	}
	fmt.Fprintf(&sb, "[%s] %d problems:\n", code, len(leaves))
	for _, e := range leaves {
		fmt.Fprintf(&sb, "- [%s] %v\n", errs.CodeOf(e), e)
	}
	return mcp.NewToolResultError(sb.String()), nil
}

// renderRecord formats an object and its file as Markdown.
func renderRecord(heading string, rec *store.Record) string {
	obj := rec.Object
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s `%s`\n\n", heading, obj.ID)
	fmt.Fprintf(&sb, "**Title:** %s\n", obj.Title)
	fmt.Fprintf(&sb, "**Kind:** %s\n", obj.Kind)
	fmt.Fprintf(&sb, "**Status:** %s\n", obj.Status)
	fmt.Fprintf(&sb, "**Priority:** %s\n", obj.Priority)
	fmt.Fprintf(&sb, "**Parent:** %s\n", orDash(obj.ParentID()))
	fmt.Fprintf(&sb, "**Prerequisites:** %s\n", orDash(strings.Join(obj.Prerequisites, ", ")))
	if obj.Worktree != nil && *obj.Worktree != "" {
		fmt.Fprintf(&sb, "**Worktree:** %s\n", *obj.Worktree)
	}
	fmt.Fprintf(&sb, "**Created:** %s\n", obj.Created.Format(time.RFC3339))
	fmt.Fprintf(&sb, "**Updated:** %s\n", obj.Updated.Format(time.RFC3339))
	fmt.Fprintf(&sb, "**File:** `%s`\n", rec.Path)
	if body := strings.TrimSpace(obj.Body); body != "" {
		fmt.Fprintf(&sb, "\n---\n\n%s\n", body)
	}
	return sb.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// kindValues, statusValues and priorityValues feed mcp.Enum.
func kindValues() []string {
	out := make([]string, len(object.Kinds))
	for i, k := range object.Kinds {
		out[i] = string(k)
	}
	return out
}

func statusValues() []string {
	return []string{
		string(object.StatusOpen),
		string(object.StatusInProgress),
		string(object.StatusReview),
		string(object.StatusDone),
		string(object.StatusDeleted),
	}
}

func priorityValues() []string {
	return []string{string(object.PriorityHigh), string(object.PriorityNormal), string(object.PriorityLow)}
}
