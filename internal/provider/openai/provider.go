// Package openai adapts the OpenAI chat completions API to
// provider.Provider using go-openai.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tjfontaine/socratic-gateway/internal/domain"
	"github.com/tjfontaine/socratic-gateway/internal/provider"
)

// Name identifies this provider in the model catalog.
const Name = "openai"

// ProviderOption configures the provider.
type ProviderOption func(*openai.ClientConfig)

// WithBaseURL sets a custom base URL for the API, including the /v1 suffix.
func WithBaseURL(baseURL string) ProviderOption {
	return func(c *openai.ClientConfig) {
		c.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ProviderOption {
	return func(c *openai.ClientConfig) {
		c.HTTPClient = httpClient
	}
}

// Provider streams completions from OpenAI.
type Provider struct {
	client *openai.Client
}

var _ provider.Provider = (*Provider)(nil)

// New creates a new OpenAI provider.
func New(apiKey string, opts ...ProviderOption) *Provider {
	cfg := openai.DefaultConfig(apiKey)
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Provider{client: openai.NewClientWithConfig(cfg)}
}

func (p *Provider) Name() string {
	return Name
}

func (p *Provider) Stream(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.StreamEvent, error) {
	apiReq, err := toAPIRequest(req)
	if err != nil {
		return nil, err
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, apiReq)
	if err != nil {
		return nil, err
	}

	out := make(chan domain.StreamEvent)
	go func() {
		defer close(out)
		defer stream.Close()

		acc := newToolAccumulator()
		var (
			finish string
			usage  *domain.Usage
		)

		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				provider.Send(ctx, out, domain.StreamEvent{Type: domain.EventError, Err: err})
				return
			}

			if chunk.Usage != nil {
				usage = &domain.Usage{
					InputTokens:  chunk.Usage.PromptTokens,
					OutputTokens: chunk.Usage.CompletionTokens,
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			choice := chunk.Choices[0]
			if choice.Delta.Content != "" {
				if !provider.Send(ctx, out, domain.StreamEvent{Type: domain.EventTextDelta, TextDelta: choice.Delta.Content}) {
					return
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				acc.add(tc)
			}
			if choice.FinishReason != "" {
				finish = mapFinishReason(choice.FinishReason)
			}
		}

		calls, err := acc.calls()
		if err != nil {
			provider.Send(ctx, out, domain.StreamEvent{Type: domain.EventError, Err: err})
			return
		}
		for _, call := range calls {
			if !provider.Send(ctx, out, domain.StreamEvent{Type: domain.EventToolCall, ToolCall: call}) {
				return
			}
		}

		if finish == "" {
			finish = domain.FinishOther
			if len(calls) > 0 {
				finish = domain.FinishToolCalls
			}
		}
		provider.Send(ctx, out, domain.StreamEvent{Type: domain.EventFinish, FinishReason: finish, Usage: usage})
	}()

	return out, nil
}

func mapFinishReason(r openai.FinishReason) string {
	switch r {
	case openai.FinishReasonStop:
		return domain.FinishStop
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return domain.FinishToolCalls
	case openai.FinishReasonLength:
		return domain.FinishLength
	}
	return domain.FinishOther
}

// toolAccumulator joins streamed tool call fragments. The first fragment of a
// call carries its id and name; later fragments with the same index append
// to the arguments.
type toolAccumulator struct {
	byIndex map[int]*pendingCall
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

func newToolAccumulator() *toolAccumulator {
	return &toolAccumulator{byIndex: make(map[int]*pendingCall)}
}

func (a *toolAccumulator) add(tc openai.ToolCall) {
	idx := len(a.byIndex)
	if tc.Index != nil {
		idx = *tc.Index
	}
	pc, ok := a.byIndex[idx]
	if !ok {
		pc = &pendingCall{}
		a.byIndex[idx] = pc
	}
	if tc.ID != "" {
		pc.id = tc.ID
	}
	if tc.Function.Name != "" {
		pc.name = tc.Function.Name
	}
	pc.args.WriteString(tc.Function.Arguments)
}

func (a *toolAccumulator) calls() ([]*domain.ToolCall, error) {
	indexes := make([]int, 0, len(a.byIndex))
	for idx := range a.byIndex {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	out := make([]*domain.ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		pc := a.byIndex[idx]
		input := json.RawMessage(pc.args.String())
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		if !json.Valid(input) {
			return nil, fmt.Errorf("openai: tool call %s arguments are not valid JSON", pc.id)
		}
		out = append(out, &domain.ToolCall{ID: pc.id, Name: pc.name, Input: input})
	}
	return out, nil
}

// toAPIRequest converts a completion request to a go-openai request.
func toAPIRequest(req *domain.CompletionRequest) (openai.ChatCompletionRequest, error) {
	apiReq := openai.ChatCompletionRequest{
		Model:         req.Model,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if req.MaxTokens > 0 {
		apiReq.MaxCompletionTokens = req.MaxTokens
	}

	if req.System != "" {
		apiReq.Messages = append(apiReq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	for _, m := range req.Messages {
		msgs, err := toMessages(m)
		if err != nil {
			return apiReq, err
		}
		apiReq.Messages = append(apiReq.Messages, msgs...)
	}

	for _, t := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	return apiReq, nil
}

func toMessages(m domain.ModelMessage) ([]openai.ChatCompletionMessage, error) {
	switch m.Role {
	case domain.RoleUser:
		return []openai.ChatCompletionMessage{userMessage(m.Content)}, nil

	case domain.RoleAssistant:
		msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
		var text strings.Builder
		for _, b := range m.Content {
			switch b.Type {
			case domain.ContentText:
				text.WriteString(b.Text)
			case domain.ContentToolCall:
				args := string(b.Input)
				if args == "" {
					args = "{}"
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:       b.ToolCallID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: b.ToolName, Arguments: args},
				})
			}
		}
		msg.Content = text.String()
		return []openai.ChatCompletionMessage{msg}, nil

	case domain.RoleTool:
		// one tool message per result
		var msgs []openai.ChatCompletionMessage
		for _, b := range m.Content {
			if b.Type != domain.ContentToolResult {
				continue
			}
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: b.ToolCallID,
				Content:    string(b.Output),
			})
		}
		return msgs, nil
	}
	return nil, fmt.Errorf("openai: unsupported role %q", m.Role)
}

func userMessage(blocks []domain.ContentBlock) openai.ChatCompletionMessage {
	hasImage := false
	for _, b := range blocks {
		if b.Type == domain.ContentImage {
			hasImage = true
			break
		}
	}

	if !hasImage {
		var text strings.Builder
		for _, b := range blocks {
			if b.Type == domain.ContentText {
				text.WriteString(b.Text)
			}
		}
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text.String()}
	}

	msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	for _, b := range blocks {
		switch b.Type {
		case domain.ContentText:
			if b.Text != "" {
				msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: b.Text,
				})
			}
		case domain.ContentImage:
			url := b.URL
			if b.Data != "" {
				url = "data:" + b.MediaType + ";base64," + b.Data
			}
			msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: url},
			})
		}
	}
	return msg
}
