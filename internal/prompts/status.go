package prompts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the trellis-status MCP prompt.
// It instructs the AI to walk the user through the current backlog.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("trellis-status",
		mcp.WithPromptDescription(
			"Review the planning tree: what is in progress, what is ready to start, "+
				"what is blocked, and whether the tree has integrity problems.",
		),
	)
}

// Handle processes the trellis-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Trellis Backlog Status",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Please read the `trellis://project/status` resource and run `trellis_list_backlog`.\n\n" +
						"Then:\n" +
						"1. Summarize progress per project and epic (counts by status)\n" +
						"2. List the tasks in progress or in review\n" +
						"3. List the tasks ready to start, highest priority first, and the ones blocked by unfinished prerequisites\n" +
						"4. Run `trellis_validate_project` and report any problems it finds\n" +
						"5. Suggest the single task I should pick up next",
				),
			},
		},
	}, nil
}
