package tokens

import (
	"encoding/json"
	"testing"

	"github.com/tiktoken-go/tokenizer"

	"github.com/tjfontaine/socratic-gateway/internal/domain"
)

func TestEncodingFor(t *testing.T) {
	tests := []struct {
		model string
		want  tokenizer.Encoding
	}{
		{"gpt-4o", tokenizer.O200kBase},
		{"gpt-4o-mini", tokenizer.O200kBase},
		{"GPT-4o", tokenizer.O200kBase},
		{"claude-sonnet-4-5-20250929", tokenizer.Cl100kBase},
		{"", tokenizer.Cl100kBase},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := encodingFor(tt.model); got != tt.want {
				t.Errorf("encodingFor(%q) = %v, want %v", tt.model, got, tt.want)
			}
		})
	}
}

func TestCounter_CountText(t *testing.T) {
	c := NewCounter()

	n, err := c.CountText("gpt-4o", "Hello, world!")
	if err != nil {
		t.Fatalf("CountText() error = %v", err)
	}
	if n < 2 || n > 6 {
		t.Errorf("CountText() = %d, want 2..6", n)
	}

	empty, _ := c.CountText("gpt-4o", "")
	if empty != 0 {
		t.Errorf("CountText(empty) = %d, want 0", empty)
	}
}

func TestCounter_CountRequest(t *testing.T) {
	c := NewCounter()

	base := &domain.CompletionRequest{
		Model: "claude-sonnet-4-5-20250929",
		Messages: []domain.ModelMessage{
			{Role: domain.RoleUser, Content: []domain.ContentBlock{{Type: domain.ContentText, Text: "What is justice?"}}},
		},
	}
	baseCount, err := c.CountRequest(base)
	if err != nil {
		t.Fatalf("CountRequest() error = %v", err)
	}
	if baseCount <= tokensPerMessage+tokensPerRole+assistantPrime {
		t.Errorf("CountRequest() = %d, want more than overhead", baseCount)
	}

	withSystem := *base
	withSystem.System = "You are Socrates."
	sysCount, _ := c.CountRequest(&withSystem)
	if sysCount <= baseCount {
		t.Errorf("system prompt did not increase count: %d <= %d", sysCount, baseCount)
	}

	withTools := withSystem
	withTools.Tools = []domain.ToolDefinition{{
		Name:        "webSearch",
		Description: "Search the web",
		Parameters:  map[string]any{"type": "object"},
	}}
	withTools.Messages = append([]domain.ModelMessage{}, withSystem.Messages...)
	withTools.Messages = append(withTools.Messages,
		domain.ModelMessage{Role: domain.RoleAssistant, Content: []domain.ContentBlock{{
			Type: domain.ContentToolCall, ToolCallID: "c1", ToolName: "webSearch", Input: json.RawMessage(`{"query":"justice"}`),
		}}},
		domain.ModelMessage{Role: domain.RoleTool, Content: []domain.ContentBlock{{
			Type: domain.ContentToolResult, ToolCallID: "c1", ToolName: "webSearch", Output: json.RawMessage(`{"results":[]}`),
		}}},
	)
	toolCount, _ := c.CountRequest(&withTools)
	if toolCount <= sysCount {
		t.Errorf("tools did not increase count: %d <= %d", toolCount, sysCount)
	}
}
