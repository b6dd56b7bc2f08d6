// Package prompts implements MCP prompt handlers for the planning tree.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// PlanPrompt handles the trellis-plan MCP prompt.
// It guides the AI to break a goal down into a project hierarchy.
type PlanPrompt struct{}

// NewPlanPrompt creates a PlanPrompt.
func NewPlanPrompt() *PlanPrompt {
	return &PlanPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *PlanPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("trellis-plan",
		mcp.WithPromptDescription(
			"Break a goal down into a project, epics, features and tasks, "+
				"with prerequisites between tasks.",
		),
		mcp.WithArgument("goal",
			mcp.ArgumentDescription("What you want to build"),
		),
		mcp.WithArgument("depth",
			mcp.ArgumentDescription(
				"'full' for project → epics → features → tasks, or 'tasks' for standalone tasks only. Default: full",
			),
		),
	)
}

// Handle processes the trellis-plan prompt request.
func (p *PlanPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	goal := "the goal I will describe"
	depth := "full"
	if args := req.Params.Arguments; args != nil {
		if g, ok := args["goal"]; ok && g != "" {
			goal = g
		}
		if d, ok := args["depth"]; ok && d != "" {
			depth = d
		}
	}

	var steps string
	if depth == "tasks" {
		steps = "1. Split it into standalone tasks small enough for one sitting\n" +
			"2. Create each with `trellis_create_object` (kind='task', no parent)\n" +
			"3. Add prerequisites where one task needs another finished first\n"
	} else {
		steps = "1. Create one project with `trellis_create_object` (kind='project')\n" +
			"2. Propose epics under it and create them once I agree\n" +
			"3. For each epic, create its features\n" +
			"4. For each feature, create tasks small enough for one sitting, with prerequisites between them\n"
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Plan: %s", goal),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I want to plan %s.\n\n"+
						"Please:\n"+
						"%s"+
						"\nCreate parents before children and prerequisites before the tasks that need them. "+
						"If a call is rejected, read the error code and fix the input instead of retrying as-is. "+
						"Finish with `trellis_validate_project` and show me the result of `trellis_list_backlog`.",
					goal, steps,
				)),
			},
		},
	}, nil
}
