package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

// PartKind discriminates the variants of a message part.
type PartKind int

const (
	// PartUnknown is any part type this build does not understand. Such parts
	// are carried through untouched and otherwise ignored.
	PartUnknown PartKind = iota
	PartText
	PartFile
	PartToolInvocation
)

// Tool invocation states as sent by the browser client.
const (
	ToolStateInputAvailable  = "input-available"
	ToolStateOutputAvailable = "output-available"
	ToolStateOutputError     = "output-error"
)

// Message is a role-tagged, ordered sequence of parts.
type Message struct {
	ID    string `json:"id,omitempty"`
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// UnmarshalJSON decodes leniently: a non-object message or a non-array parts
// field yields a message with no parts rather than a decode error.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire map[string]json.RawMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		*m = Message{}
		return nil
	}

	msg := Message{
		ID:   rawString(wire["id"]),
		Role: rawString(wire["role"]),
	}

	var parts []json.RawMessage
	if raw, ok := wire["parts"]; ok && json.Unmarshal(raw, &parts) == nil {
		msg.Parts = make([]Part, 0, len(parts))
		for _, raw := range parts {
			var p Part
			if err := p.UnmarshalJSON(raw); err != nil {
				return err
			}
			msg.Parts = append(msg.Parts, p)
		}
	}

	*m = msg
	return nil
}

// Part is a tagged variant over text, file and tool-invocation parts.
// Exactly one of Text, File, Tool is set unless Kind is PartUnknown.
type Part struct {
	Kind PartKind
	Type string

	Text *TextPart
	File *FilePart
	Tool *ToolInvocationPart

	raw json.RawMessage
}

// TextPart holds plain text.
type TextPart struct {
	Text string
}

// FilePart holds an attachment. Data is inline base64 content; URL may be a
// data: URL carrying the same.
type FilePart struct {
	MediaType string
	Filename  string
	Data      string
	URL       string
}

// InlinePayload returns the inline content the client uploaded, if any.
func (f *FilePart) InlinePayload() string {
	if f.Data != "" {
		return f.Data
	}
	if strings.HasPrefix(f.URL, "data:") {
		return f.URL
	}
	return ""
}

// ToolInvocationPart records a tool call made by the model in an earlier turn.
type ToolInvocationPart struct {
	ToolCallID string
	ToolName   string
	State      string
	Input      json.RawMessage
	Output     json.RawMessage
	ErrorText  string
}

// NewTextPart builds a text part.
func NewTextPart(text string) Part {
	return Part{Kind: PartText, Type: "text", Text: &TextPart{Text: text}}
}

// NewToolPart builds a tool part in the client's "tool-<name>" form.
func NewToolPart(inv ToolInvocationPart) Part {
	return Part{Kind: PartToolInvocation, Type: "tool-" + inv.ToolName, Tool: &inv}
}

// UnmarshalJSON decodes a part by its "type" discriminator. Fields with an
// unexpected JSON type are treated as absent.
func (p *Part) UnmarshalJSON(data []byte) error {
	raw := append(json.RawMessage(nil), data...)
	var wire map[string]json.RawMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		*p = Part{Kind: PartUnknown, raw: raw}
		return nil
	}

	typ := rawString(wire["type"])
	part := Part{Type: typ, raw: raw}

	switch {
	case typ == "text":
		part.Kind = PartText
		part.Text = &TextPart{Text: rawString(wire["text"])}
	case typ == "file":
		part.Kind = PartFile
		part.File = &FilePart{
			MediaType: rawString(wire["mediaType"]),
			Filename:  rawString(wire["filename"]),
			Data:      rawString(wire["data"]),
			URL:       rawString(wire["url"]),
		}
	case typ == "tool-invocation":
		part.Kind = PartToolInvocation
		inner := wire
		if nested, ok := wire["toolInvocation"]; ok {
			var m map[string]json.RawMessage
			if json.Unmarshal(nested, &m) == nil {
				inner = m
			}
		}
		part.Tool = decodeToolInvocation(inner, rawString(inner["toolName"]))
	case strings.HasPrefix(typ, "tool-"):
		part.Kind = PartToolInvocation
		part.Tool = decodeToolInvocation(wire, strings.TrimPrefix(typ, "tool-"))
	default:
		part.Kind = PartUnknown
	}

	*p = part
	return nil
}

func decodeToolInvocation(wire map[string]json.RawMessage, name string) *ToolInvocationPart {
	inv := &ToolInvocationPart{
		ToolCallID: rawString(wire["toolCallId"]),
		ToolName:   name,
		State:      rawString(wire["state"]),
		ErrorText:  rawString(wire["errorText"]),
	}
	if v, ok := wire["input"]; ok {
		inv.Input = v
	} else if v, ok := wire["args"]; ok {
		inv.Input = v
	}
	if v, ok := wire["output"]; ok {
		inv.Output = v
	} else if v, ok := wire["result"]; ok {
		inv.Output = v
	}
	// legacy clients mark completed calls as "result"
	if inv.State == "result" {
		inv.State = ToolStateOutputAvailable
	}
	return inv
}

// MarshalJSON re-emits decoded parts verbatim and encodes constructed ones
// in the client's wire shape.
func (p Part) MarshalJSON() ([]byte, error) {
	if len(p.raw) > 0 {
		return p.raw, nil
	}

	switch p.Kind {
	case PartText:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{"text", p.Text.Text})
	case PartFile:
		return json.Marshal(struct {
			Type      string `json:"type"`
			MediaType string `json:"mediaType"`
			Filename  string `json:"filename,omitempty"`
			Data      string `json:"data,omitempty"`
			URL       string `json:"url,omitempty"`
		}{"file", p.File.MediaType, p.File.Filename, p.File.Data, p.File.URL})
	case PartToolInvocation:
		return json.Marshal(struct {
			Type       string          `json:"type"`
			ToolCallID string          `json:"toolCallId"`
			State      string          `json:"state"`
			Input      json.RawMessage `json:"input,omitempty"`
			Output     json.RawMessage `json:"output,omitempty"`
			ErrorText  string          `json:"errorText,omitempty"`
		}{"tool-" + p.Tool.ToolName, p.Tool.ToolCallID, p.Tool.State, p.Tool.Input, p.Tool.Output, p.Tool.ErrorText})
	default:
		return []byte("null"), nil
	}
}

// FirstText returns the first non-empty text part of a message.
func (m Message) FirstText() string {
	for _, p := range m.Parts {
		if p.Kind == PartText && p.Text.Text != "" {
			return p.Text.Text
		}
	}
	return ""
}

func rawString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
