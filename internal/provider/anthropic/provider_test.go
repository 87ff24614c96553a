package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	anthropicapi "github.com/tjfontaine/socratic-gateway/internal/api/anthropic"
	"github.com/tjfontaine/socratic-gateway/internal/domain"
)

func sse(events ...[2]string) string {
	var b strings.Builder
	for _, ev := range events {
		fmt.Fprintf(&b, "event: %s\ndata: %s\n\n", ev[0], ev[1])
	}
	return b.String()
}

func collect(t *testing.T, ch <-chan domain.StreamEvent) []domain.StreamEvent {
	t.Helper()
	var events []domain.StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestStream_Text(t *testing.T) {
	var got anthropicapi.MessagesRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("anthropic-version header not set")
		}
		json.NewDecoder(r.Body).Decode(&got)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sse(
			[2]string{"message_start", `{"type":"message_start","message":{"id":"msg_1","model":"claude","usage":{"input_tokens":12,"output_tokens":1}}}`},
			[2]string{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
			[2]string{"ping", `{"type":"ping"}`},
			[2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"What do you "}}`},
			[2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"mean by justice?"}}`},
			[2]string{"content_block_stop", `{"type":"content_block_stop","index":0}`},
			[2]string{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":7}}`},
			[2]string{"message_stop", `{"type":"message_stop"}`},
		))
	}))
	defer ts.Close()

	p := New("test-key", WithBaseURL(ts.URL))
	ch, err := p.Stream(context.Background(), &domain.CompletionRequest{
		Model:  "claude-sonnet-4-5-20250929",
		System: "You are Socrates.",
		Messages: []domain.ModelMessage{
			{Role: domain.RoleUser, Content: []domain.ContentBlock{{Type: domain.ContentText, Text: "Is it just to lie?"}}},
		},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	events := collect(t, ch)

	if !got.Stream || got.System != "You are Socrates." || got.MaxTokens != defaultMaxTokens {
		t.Errorf("request = %+v", got)
	}

	var text string
	for _, ev := range events[:len(events)-1] {
		if ev.Type != domain.EventTextDelta {
			t.Fatalf("unexpected event %+v", ev)
		}
		text += ev.TextDelta
	}
	if text != "What do you mean by justice?" {
		t.Errorf("text = %q", text)
	}

	last := events[len(events)-1]
	if last.Type != domain.EventFinish || last.FinishReason != domain.FinishStop {
		t.Errorf("last event = %+v", last)
	}
	if last.Usage == nil || last.Usage.InputTokens != 12 || last.Usage.OutputTokens != 7 {
		t.Errorf("usage = %+v", last.Usage)
	}
}

func TestStream_ToolUse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sse(
			[2]string{"message_start", `{"type":"message_start","message":{"usage":{"input_tokens":3}}}`},
			[2]string{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"webSearch"}}`},
			[2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"query\":"}}`},
			[2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"hemlock\"}"}}`},
			[2]string{"content_block_stop", `{"type":"content_block_stop","index":0}`},
			[2]string{"content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_2","name":"drawDiagram"}}`},
			[2]string{"content_block_stop", `{"type":"content_block_stop","index":1}`},
			[2]string{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":20}}`},
			[2]string{"message_stop", `{"type":"message_stop"}`},
		))
	}))
	defer ts.Close()

	ch, err := New("k", WithBaseURL(ts.URL)).Stream(context.Background(), &domain.CompletionRequest{Model: "m"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	events := collect(t, ch)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(events), events)
	}

	first := events[0].ToolCall
	if first == nil || first.ID != "toolu_1" || first.Name != "webSearch" || string(first.Input) != `{"query":"hemlock"}` {
		t.Errorf("first tool call = %+v", first)
	}
	if string(events[1].ToolCall.Input) != `{}` {
		t.Errorf("empty input = %s, want {}", events[1].ToolCall.Input)
	}
	if events[2].FinishReason != domain.FinishToolCalls {
		t.Errorf("finish = %q", events[2].FinishReason)
	}
}

func TestStream_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		// wantStart is true when the error surfaces from Stream itself.
		wantStart bool
	}{
		{
			name: "http error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprint(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
			},
			wantStart: true,
		},
		{
			name: "in-stream error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, sse([2]string{"error", `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`}))
			},
		},
		{
			name: "truncated stream",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, sse([2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hm"}}`}))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(tt.handler)
			defer ts.Close()

			ch, err := New("k", WithBaseURL(ts.URL)).Stream(context.Background(), &domain.CompletionRequest{Model: "m"})
			if tt.wantStart {
				var apiErr *anthropicapi.APIError
				if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests {
					t.Fatalf("Stream() error = %v, want APIError 429", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Stream() error = %v", err)
			}
			events := collect(t, ch)
			last := events[len(events)-1]
			if last.Type != domain.EventError || last.Err == nil {
				t.Errorf("last event = %+v, want error", last)
			}
		})
	}
}

func TestToAPIRequest(t *testing.T) {
	req := &domain.CompletionRequest{
		Model:     "m",
		MaxTokens: 512,
		Messages: []domain.ModelMessage{
			{Role: domain.RoleUser, Content: []domain.ContentBlock{
				{Type: domain.ContentText, Text: "look"},
				{Type: domain.ContentImage, MediaType: "image/png", Data: "iVBORw0KGgo="},
				{Type: domain.ContentImage, URL: "https://example.com/cave.png"},
			}},
			{Role: domain.RoleAssistant, Content: []domain.ContentBlock{
				{Type: domain.ContentToolCall, ToolCallID: "t1", ToolName: "webSearch", Input: json.RawMessage(`{"query":"q"}`)},
			}},
			{Role: domain.RoleTool, Content: []domain.ContentBlock{
				{Type: domain.ContentToolResult, ToolCallID: "t1", Output: json.RawMessage(`{"results":[]}`)},
			}},
			{Role: domain.RoleUser, Content: []domain.ContentBlock{{Type: domain.ContentText}}},
		},
		Tools: []domain.ToolDefinition{{Name: "webSearch", Description: "d", Parameters: map[string]any{"type": "object"}}},
	}

	got := toAPIRequest(req)

	if got.MaxTokens != 512 {
		t.Errorf("MaxTokens = %d", got.MaxTokens)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("messages = %d, want 3 (empty message dropped)", len(got.Messages))
	}

	user := got.Messages[0].Content
	if user[1].Source.Type != "base64" || user[1].Source.MediaType != "image/png" {
		t.Errorf("inline image = %+v", user[1].Source)
	}
	if user[2].Source.Type != "url" || user[2].Source.URL != "https://example.com/cave.png" {
		t.Errorf("url image = %+v", user[2].Source)
	}

	if got.Messages[1].Content[0].Type != anthropicapi.PartToolUse || got.Messages[1].Content[0].ID != "t1" {
		t.Errorf("tool_use = %+v", got.Messages[1].Content[0])
	}

	result := got.Messages[2]
	if result.Role != domain.RoleUser || result.Content[0].Type != anthropicapi.PartToolResult || result.Content[0].Content != `{"results":[]}` {
		t.Errorf("tool_result message = %+v", result)
	}

	if len(got.Tools) != 1 || got.Tools[0].Name != "webSearch" {
		t.Errorf("tools = %+v", got.Tools)
	}
}
