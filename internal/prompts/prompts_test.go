package prompts

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func promptText(t *testing.T, res *mcp.GetPromptResult) string {
	t.Helper()
	if len(res.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(res.Messages))
	}
	tc, ok := res.Messages[0].Content.(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", res.Messages[0].Content)
	}
	return tc.Text
}

func TestStatusPrompt(t *testing.T) {
	p := NewStatusPrompt()
	if p.Definition().Name != "trellis-status" {
		t.Errorf("name = %q", p.Definition().Name)
	}
	res, err := p.Handle(context.Background(), mcp.GetPromptRequest{})
	if err != nil {
		t.Fatal(err)
	}
	text := promptText(t, res)
	for _, want := range []string{"trellis://project/status", "trellis_list_backlog", "trellis_validate_project"} {
		if !strings.Contains(text, want) {
			t.Errorf("prompt should mention %s", want)
		}
	}
}

func TestPlanPrompt(t *testing.T) {
	p := NewPlanPrompt()
	if p.Definition().Name != "trellis-plan" {
		t.Errorf("name = %q", p.Definition().Name)
	}

	req := mcp.GetPromptRequest{}
	req.Params.Arguments = map[string]string{"goal": "a billing service"}
	res, err := p.Handle(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	text := promptText(t, res)
	if !strings.Contains(text, "a billing service") || !strings.Contains(text, "kind='project'") {
		t.Errorf("unexpected full plan prompt:\n%s", text)
	}

	req.Params.Arguments["depth"] = "tasks"
	res, err = p.Handle(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if text := promptText(t, res); strings.Contains(text, "kind='project'") || !strings.Contains(text, "no parent") {
		t.Errorf("tasks-only prompt should not create a project:\n%s", text)
	}
}
