package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	defaultVersion = "2023-06-01"
	userAgent      = "socratic-gateway/1.0"
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithVersion sets the API version.
func WithVersion(version string) ClientOption {
	return func(c *Client) {
		c.version = version
	}
}

// Client is a minimal HTTP client for the Anthropic Messages API.
type Client struct {
	apiKey     string
	baseURL    string
	version    string
	httpClient *http.Client
}

// NewClient creates a new Anthropic API client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		version:    defaultVersion,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StreamEventResult wraps a streaming event or error.
type StreamEventResult struct {
	EventType string
	Data      json.RawMessage
	Err       error
}

// Decode unmarshals the event payload into v.
func (r *StreamEventResult) Decode(v any) error {
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("parse %s: %w", r.EventType, err)
	}
	return nil
}

// StreamMessage sends a streaming messages request and returns a channel of
// raw SSE events. The channel is closed after message_stop, a read error, or
// ctx cancellation.
func (c *Client) StreamMessage(ctx context.Context, req *MessagesRequest) (<-chan StreamEventResult, error) {
	req.Stream = true

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if apiErr, err := ParseErrorResponse(respBody); err == nil && apiErr != nil {
			apiErr.StatusCode = resp.StatusCode
			return nil, apiErr
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Type: "http_error", Message: http.StatusText(resp.StatusCode)}
	}

	out := make(chan StreamEventResult)
	go c.streamReader(ctx, resp.Body, out)
	return out, nil
}

func (c *Client) streamReader(ctx context.Context, body io.ReadCloser, out chan<- StreamEventResult) {
	defer close(out)
	defer body.Close()

	send := func(ev StreamEventResult) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	var currentEvent string

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "event:") {
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}

		if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if !send(StreamEventResult{EventType: currentEvent, Data: json.RawMessage(data)}) {
				return
			}
			if currentEvent == EventMessageStop {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		send(StreamEventResult{Err: fmt.Errorf("stream read error: %w", err)})
		return
	}
	if ctx.Err() == nil {
		send(StreamEventResult{Err: io.ErrUnexpectedEOF})
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", c.version)
	req.Header.Set("User-Agent", userAgent)
}
