// Package tokens estimates prompt sizes with tiktoken. The estimates feed
// metrics and request logs only; they are never used for admission.
package tokens

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/tjfontaine/socratic-gateway/internal/domain"
)

// Per-item overheads for chat-formatted prompts.
const (
	tokensPerMessage = 3
	tokensPerRole    = 1
	tokensPerTool    = 7
	tokensPerCall    = 3
	assistantPrime   = 3
)

// Counter counts prompt tokens. It is safe for concurrent use.
type Counter struct {
	mu     sync.RWMutex
	codecs map[tokenizer.Encoding]tokenizer.Codec
}

// NewCounter creates a counter with an empty codec cache.
func NewCounter() *Counter {
	return &Counter{codecs: make(map[tokenizer.Encoding]tokenizer.Codec)}
}

// encodingFor picks the encoding for a concrete model id. Non-OpenAI models
// have no public tokenizer, so cl100k_base serves as an approximation.
func encodingFor(model string) tokenizer.Encoding {
	model = strings.ToLower(model)
	switch {
	case strings.HasPrefix(model, "gpt-4o"), strings.HasPrefix(model, "gpt-4.1"),
		strings.HasPrefix(model, "gpt-5"), strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase
	default:
		return tokenizer.Cl100kBase
	}
}

func (c *Counter) codec(model string) (tokenizer.Codec, error) {
	enc := encodingFor(model)

	c.mu.RLock()
	codec, ok := c.codecs[enc]
	c.mu.RUnlock()
	if ok {
		return codec, nil
	}

	codec, err := tokenizer.Get(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}

	c.mu.Lock()
	c.codecs[enc] = codec
	c.mu.Unlock()
	return codec, nil
}

// CountText counts tokens in a plain string.
func (c *Counter) CountText(model, text string) (int, error) {
	codec, err := c.codec(model)
	if err != nil {
		return 0, err
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// CountRequest estimates the prompt tokens of a completion request,
// including the system prompt and tool definitions. Images are not counted.
func (c *Counter) CountRequest(req *domain.CompletionRequest) (int, error) {
	codec, err := c.codec(req.Model)
	if err != nil {
		return 0, err
	}

	encode := func(s string) int {
		if s == "" {
			return 0
		}
		ids, _, _ := codec.Encode(s)
		return len(ids)
	}

	total := 0
	if req.System != "" {
		total += tokensPerMessage + tokensPerRole + encode(req.System)
	}

	for _, msg := range req.Messages {
		total += tokensPerMessage + tokensPerRole
		for _, block := range msg.Content {
			switch block.Type {
			case domain.ContentText:
				total += encode(block.Text)
			case domain.ContentToolCall:
				total += encode(block.ToolName) + encode(string(block.Input)) + tokensPerCall
			case domain.ContentToolResult:
				total += encode(string(block.Output)) + 2
			}
		}
	}

	for _, tool := range req.Tools {
		total += encode(tool.Name) + encode(tool.Description) + tokensPerTool
		if tool.Parameters != nil {
			if b, err := json.Marshal(tool.Parameters); err == nil {
				total += encode(string(b))
			}
		}
	}

	return total + assistantPrime, nil
}
