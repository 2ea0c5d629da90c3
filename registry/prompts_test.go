package registry

import (
	"context"
	"testing"

	"github.com/hostbridge/mcp-host-go/mcp"
)

func TestPromptRenderNormalization(t *testing.T) {
	ctx := context.Background()
	reg := NewPrompts()
	reg.Register("greet", func(ctx context.Context, args map[string]string) (any, error) {
		return "hello " + args["name"], nil
	}, WithPromptDescription("Greets someone"))
	reg.Register("dialog", func(ctx context.Context, args map[string]string) (any, error) {
		return []mcp.PromptMessage{
			{Role: mcp.RoleUser, Content: []mcp.ContentBlock{{Type: "text", Text: "hi"}}},
			{Role: mcp.RoleAssistant, Content: []mcp.ContentBlock{{Type: "text", Text: "hello"}}},
		}, nil
	})

	res, err := reg.Render(ctx, "greet", map[string]string{"name": "ada"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if res.Description != "Greets someone" {
		t.Errorf("description = %q", res.Description)
	}
	if len(res.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(res.Messages))
	}
	msg := res.Messages[0]
	if msg.Role != mcp.RoleUser || msg.Content[0].Text != "hello ada" {
		t.Errorf("string result not normalized to user text message: %+v", msg)
	}

	res, err = reg.Render(ctx, "dialog", nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(res.Messages) != 2 || res.Messages[1].Role != mcp.RoleAssistant {
		t.Errorf("message slice passthrough broken: %+v", res.Messages)
	}

	if _, err := reg.Render(ctx, "missing", nil); err == nil {
		t.Error("Render of unknown prompt succeeded")
	}
}
