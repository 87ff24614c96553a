package domain

import "encoding/json"

// ContentType discriminates model-facing content blocks.
type ContentType string

const (
	ContentText       ContentType = "text"
	ContentImage      ContentType = "image"
	ContentToolCall   ContentType = "tool_call"
	ContentToolResult ContentType = "tool_result"
)

// Model-facing roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ModelMessage is a provider-neutral message sent to a model.
type ModelMessage struct {
	Role    string
	Content []ContentBlock
}

// ContentBlock is one block of a ModelMessage.
type ContentBlock struct {
	Type ContentType

	Text string

	// image
	MediaType string
	Data      string // base64, no data: prefix
	URL       string // remote image

	// tool call / tool result
	ToolCallID string
	ToolName   string
	Input      json.RawMessage
	Output     json.RawMessage
	IsError    bool
}

// ToolDefinition describes a callable tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  any // JSON Schema object
}

// CompletionRequest is a single streaming model call.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []ModelMessage
	Tools     []ToolDefinition
	MaxTokens int
}

// StreamEventType identifies a provider stream event.
type StreamEventType string

const (
	EventTextDelta StreamEventType = "text_delta"
	EventToolCall  StreamEventType = "tool_call"
	EventFinish    StreamEventType = "finish"
	EventError     StreamEventType = "error"
)

// Finish reasons.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool-calls"
	FinishLength    = "length"
	FinishOther     = "other"
)

// StreamEvent is one event from a provider stream. Providers close the
// channel after a finish or error event.
type StreamEvent struct {
	Type         StreamEventType
	TextDelta    string
	ToolCall     *ToolCall
	FinishReason string
	Usage        *Usage
	Err          error
}

// ToolCall is a complete tool call emitted by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Usage represents token usage.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}
