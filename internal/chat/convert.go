package chat

import (
	"encoding/json"
	"strings"

	"github.com/tjfontaine/socratic-gateway/internal/domain"
)

// toModelMessages converts validated client messages to provider-neutral
// model messages.
//
// Only user and assistant messages are forwarded; the system prompt is owned
// by the server. A tool invocation that already has an outcome becomes a tool
// call on the assistant turn followed by a tool message carrying its result.
// Invocations still waiting for output are dropped, since providers reject a
// call without a result.
func toModelMessages(messages []domain.Message) []domain.ModelMessage {
	out := make([]domain.ModelMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case domain.RoleUser:
			if msg, ok := userMessage(m.Parts); ok {
				out = append(out, msg)
			}
		case domain.RoleAssistant:
			out = append(out, assistantMessages(m.Parts)...)
		}
	}
	return out
}

func userMessage(parts []domain.Part) (domain.ModelMessage, bool) {
	msg := domain.ModelMessage{Role: domain.RoleUser}
	for _, p := range parts {
		switch p.Kind {
		case domain.PartText:
			if p.Text.Text != "" {
				msg.Content = append(msg.Content, domain.ContentBlock{Type: domain.ContentText, Text: p.Text.Text})
			}
		case domain.PartFile:
			if block, ok := imageBlock(p.File); ok {
				msg.Content = append(msg.Content, block)
			}
		case domain.PartToolInvocation, domain.PartUnknown:
		}
	}
	return msg, len(msg.Content) > 0
}

// imageBlock builds an image block from inline data, a data: URL, or a remote
// URL, in that order of preference.
func imageBlock(f *domain.FilePart) (domain.ContentBlock, bool) {
	block := domain.ContentBlock{Type: domain.ContentImage, MediaType: f.MediaType}

	switch {
	case f.Data != "":
		mediaType, data, ok := parseDataURL(f.Data)
		if !ok {
			data = f.Data
		} else if block.MediaType == "" {
			block.MediaType = mediaType
		}
		block.Data = data
	case strings.HasPrefix(f.URL, "data:"):
		mediaType, data, ok := parseDataURL(f.URL)
		if !ok {
			return block, false
		}
		if block.MediaType == "" {
			block.MediaType = mediaType
		}
		block.Data = data
	case strings.HasPrefix(f.URL, "https://"), strings.HasPrefix(f.URL, "http://"):
		block.URL = f.URL
	default:
		return block, false
	}
	return block, true
}

// parseDataURL splits "data:<media type>;base64,<payload>".
func parseDataURL(s string) (mediaType, data string, ok bool) {
	rest, found := strings.CutPrefix(s, "data:")
	if !found {
		return "", "", false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mediaType, encoding, _ := strings.Cut(meta, ";")
	if encoding != "base64" {
		return "", "", false
	}
	return mediaType, payload, true
}

func assistantMessages(parts []domain.Part) []domain.ModelMessage {
	var (
		out       []domain.ModelMessage
		assistant = domain.ModelMessage{Role: domain.RoleAssistant}
		results   = domain.ModelMessage{Role: domain.RoleTool}
	)

	flush := func() {
		if len(assistant.Content) > 0 {
			out = append(out, assistant)
		}
		if len(results.Content) > 0 {
			out = append(out, results)
		}
		assistant = domain.ModelMessage{Role: domain.RoleAssistant}
		results = domain.ModelMessage{Role: domain.RoleTool}
	}

	for _, p := range parts {
		switch p.Kind {
		case domain.PartText:
			if p.Text.Text == "" {
				continue
			}
			// text after tool results starts the next step
			if len(results.Content) > 0 {
				flush()
			}
			assistant.Content = append(assistant.Content, domain.ContentBlock{Type: domain.ContentText, Text: p.Text.Text})

		case domain.PartToolInvocation:
			call, result, ok := toolExchange(p.Tool)
			if !ok {
				continue
			}
			assistant.Content = append(assistant.Content, call)
			results.Content = append(results.Content, result)

		case domain.PartFile, domain.PartUnknown:
		}
	}
	flush()
	return out
}

func toolExchange(inv *domain.ToolInvocationPart) (call, result domain.ContentBlock, ok bool) {
	if inv.ToolCallID == "" || inv.ToolName == "" {
		return call, result, false
	}

	input := inv.Input
	if len(input) == 0 || !json.Valid(input) {
		input = json.RawMessage(`{}`)
	}
	call = domain.ContentBlock{
		Type:       domain.ContentToolCall,
		ToolCallID: inv.ToolCallID,
		ToolName:   inv.ToolName,
		Input:      input,
	}
	result = domain.ContentBlock{
		Type:       domain.ContentToolResult,
		ToolCallID: inv.ToolCallID,
		ToolName:   inv.ToolName,
	}

	switch inv.State {
	case domain.ToolStateOutputAvailable:
		if len(inv.Output) == 0 || !json.Valid(inv.Output) {
			result.Output = json.RawMessage(`null`)
		} else {
			result.Output = inv.Output
		}
	case domain.ToolStateOutputError:
		text, _ := json.Marshal(inv.ErrorText)
		result.Output = text
		result.IsError = true
	default:
		return call, result, false
	}
	return call, result, true
}
