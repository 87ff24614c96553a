// Package anthropic adapts the Anthropic Messages API to provider.Provider.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	anthropicapi "github.com/tjfontaine/socratic-gateway/internal/api/anthropic"
	"github.com/tjfontaine/socratic-gateway/internal/domain"
	"github.com/tjfontaine/socratic-gateway/internal/provider"
)

// Name identifies this provider in the model catalog.
const Name = "anthropic"

const defaultMaxTokens = 4096

// ProviderOption configures the provider.
type ProviderOption func(*Provider)

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = httpClient
	}
}

// Provider streams completions from Anthropic.
type Provider struct {
	client     *anthropicapi.Client
	baseURL    string
	httpClient *http.Client
}

var _ provider.Provider = (*Provider)(nil)

// New creates a new Anthropic provider.
func New(apiKey string, opts ...ProviderOption) *Provider {
	p := &Provider{}
	for _, opt := range opts {
		opt(p)
	}

	var clientOpts []anthropicapi.ClientOption
	if p.baseURL != "" {
		clientOpts = append(clientOpts, anthropicapi.WithBaseURL(p.baseURL))
	}
	if p.httpClient != nil {
		clientOpts = append(clientOpts, anthropicapi.WithHTTPClient(p.httpClient))
	}

	p.client = anthropicapi.NewClient(apiKey, clientOpts...)
	return p
}

func (p *Provider) Name() string {
	return Name
}

func (p *Provider) Stream(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.StreamEvent, error) {
	stream, err := p.client.StreamMessage(ctx, toAPIRequest(req))
	if err != nil {
		return nil, err
	}

	out := make(chan domain.StreamEvent)
	go func() {
		defer close(out)
		s := &streamState{toolBlocks: make(map[int]*toolBlock)}
		for result := range stream {
			if result.Err != nil {
				provider.Send(ctx, out, domain.StreamEvent{Type: domain.EventError, Err: result.Err})
				return
			}
			ev, done, err := s.handle(&result)
			if err != nil {
				provider.Send(ctx, out, domain.StreamEvent{Type: domain.EventError, Err: err})
				return
			}
			if ev != nil && !provider.Send(ctx, out, *ev) {
				return
			}
			if done {
				return
			}
		}
	}()

	return out, nil
}

type toolBlock struct {
	id    string
	name  string
	input strings.Builder
}

type streamState struct {
	toolBlocks   map[int]*toolBlock
	usage        domain.Usage
	stopReason   string
	sawToolCalls bool
}

// handle converts one wire event. It returns at most one domain event and
// reports whether the stream is finished.
func (s *streamState) handle(r *anthropicapi.StreamEventResult) (*domain.StreamEvent, bool, error) {
	switch r.EventType {
	case anthropicapi.EventMessageStart:
		var ev anthropicapi.MessageStartEvent
		if err := r.Decode(&ev); err != nil {
			return nil, false, err
		}
		s.usage.InputTokens = ev.Message.Usage.InputTokens

	case anthropicapi.EventContentBlockStart:
		var ev anthropicapi.ContentBlockStartEvent
		if err := r.Decode(&ev); err != nil {
			return nil, false, err
		}
		if ev.ContentBlock.Type == anthropicapi.PartToolUse {
			s.toolBlocks[ev.Index] = &toolBlock{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
		}

	case anthropicapi.EventContentBlockDelta:
		var ev anthropicapi.ContentBlockDeltaEvent
		if err := r.Decode(&ev); err != nil {
			return nil, false, err
		}
		switch ev.Delta.Type {
		case anthropicapi.DeltaText:
			if ev.Delta.Text != "" {
				return &domain.StreamEvent{Type: domain.EventTextDelta, TextDelta: ev.Delta.Text}, false, nil
			}
		case anthropicapi.DeltaInputJSON:
			if tb, ok := s.toolBlocks[ev.Index]; ok {
				tb.input.WriteString(ev.Delta.PartialJSON)
			}
		}

	case anthropicapi.EventContentBlockStop:
		var ev anthropicapi.ContentBlockStopEvent
		if err := r.Decode(&ev); err != nil {
			return nil, false, err
		}
		tb, ok := s.toolBlocks[ev.Index]
		if !ok {
			return nil, false, nil
		}
		delete(s.toolBlocks, ev.Index)
		input := json.RawMessage(tb.input.String())
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		if !json.Valid(input) {
			return nil, false, errors.New("anthropic: tool_use input is not valid JSON")
		}
		s.sawToolCalls = true
		return &domain.StreamEvent{
			Type:     domain.EventToolCall,
			ToolCall: &domain.ToolCall{ID: tb.id, Name: tb.name, Input: input},
		}, false, nil

	case anthropicapi.EventMessageDelta:
		var ev anthropicapi.MessageDeltaEvent
		if err := r.Decode(&ev); err != nil {
			return nil, false, err
		}
		if ev.Delta.StopReason != "" {
			s.stopReason = ev.Delta.StopReason
		}
		if ev.Usage != nil {
			s.usage.OutputTokens = ev.Usage.OutputTokens
		}

	case anthropicapi.EventMessageStop:
		usage := s.usage
		return &domain.StreamEvent{
			Type:         domain.EventFinish,
			FinishReason: s.finishReason(),
			Usage:        &usage,
		}, true, nil

	case anthropicapi.EventError:
		apiErr, err := anthropicapi.ParseErrorResponse(r.Data)
		if err != nil || apiErr == nil {
			return nil, false, errors.New("anthropic: malformed stream error event")
		}
		return nil, false, apiErr
	}

	return nil, false, nil
}

func (s *streamState) finishReason() string {
	switch s.stopReason {
	case anthropicapi.StopToolUse:
		return domain.FinishToolCalls
	case anthropicapi.StopMaxTokens:
		return domain.FinishLength
	case anthropicapi.StopEndTurn, anthropicapi.StopSequence:
		return domain.FinishStop
	}
	if s.sawToolCalls {
		return domain.FinishToolCalls
	}
	return domain.FinishOther
}

// toAPIRequest converts a completion request to an Anthropic API request.
func toAPIRequest(req *domain.CompletionRequest) *anthropicapi.MessagesRequest {
	apiReq := &anthropicapi.MessagesRequest{
		Model:     req.Model,
		System:    req.System,
		MaxTokens: req.MaxTokens,
	}
	if apiReq.MaxTokens <= 0 {
		apiReq.MaxTokens = defaultMaxTokens
	}

	for _, m := range req.Messages {
		role := m.Role
		if role == domain.RoleTool {
			// tool results travel on a user turn
			role = domain.RoleUser
		}
		parts := toContentParts(m.Content)
		if len(parts) == 0 {
			continue
		}
		apiReq.Messages = append(apiReq.Messages, anthropicapi.Message{Role: role, Content: parts})
	}

	if len(req.Tools) > 0 {
		apiReq.Tools = make([]anthropicapi.Tool, len(req.Tools))
		for i, t := range req.Tools {
			apiReq.Tools[i] = anthropicapi.Tool{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: t.Parameters,
			}
		}
	}

	return apiReq
}

func toContentParts(blocks []domain.ContentBlock) []anthropicapi.ContentPart {
	parts := make([]anthropicapi.ContentPart, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case domain.ContentText:
			if b.Text == "" {
				continue
			}
			parts = append(parts, anthropicapi.ContentPart{Type: anthropicapi.PartText, Text: b.Text})

		case domain.ContentImage:
			src := &anthropicapi.ImageSource{Type: "base64", MediaType: b.MediaType, Data: b.Data}
			if b.Data == "" {
				src = &anthropicapi.ImageSource{Type: "url", URL: b.URL}
			}
			parts = append(parts, anthropicapi.ContentPart{Type: anthropicapi.PartImage, Source: src})

		case domain.ContentToolCall:
			input := b.Input
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			parts = append(parts, anthropicapi.ContentPart{
				Type:  anthropicapi.PartToolUse,
				ID:    b.ToolCallID,
				Name:  b.ToolName,
				Input: input,
			})

		case domain.ContentToolResult:
			parts = append(parts, anthropicapi.ContentPart{
				Type:      anthropicapi.PartToolResult,
				ToolUseID: b.ToolCallID,
				Content:   string(b.Output),
				IsError:   b.IsError,
			})
		}
	}
	return parts
}
