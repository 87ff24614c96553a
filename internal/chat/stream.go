package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// UI message stream chunk types.
const (
	chunkStart               = "start"
	chunkStartStep           = "start-step"
	chunkTextStart           = "text-start"
	chunkTextDelta           = "text-delta"
	chunkTextEnd             = "text-end"
	chunkToolInputAvailable  = "tool-input-available"
	chunkToolOutputAvailable = "tool-output-available"
	chunkToolOutputError     = "tool-output-error"
	chunkFinishStep          = "finish-step"
	chunkFinish              = "finish"
	chunkError               = "error"
)

// StreamHeader marks a response as a UI message stream.
const StreamHeader = "x-vercel-ai-ui-message-stream"

// MsgStreamError is the only error text a client ever sees once a stream has
// started.
const MsgStreamError = "An error occurred."

type chunk struct {
	Type       string          `json:"type"`
	MessageID  string          `json:"messageId,omitempty"`
	ID         string          `json:"id,omitempty"`
	Delta      string          `json:"delta,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	ErrorText  string          `json:"errorText,omitempty"`
}

// streamWriter writes UI message stream chunks as server-sent events.
type streamWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

func newStreamWriter(w http.ResponseWriter) *streamWriter {
	return &streamWriter{w: w, rc: http.NewResponseController(w)}
}

// begin commits the status line and stream headers. Anything already set on
// the response (CORS, rate limit) goes out with them.
func (s *streamWriter) begin() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set(StreamHeader, "v1")
	s.w.WriteHeader(http.StatusOK)
	s.started = true
}

func (s *streamWriter) send(c chunk) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	return s.flush()
}

func (s *streamWriter) done() error {
	if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	return s.flush()
}

func (s *streamWriter) flush() error {
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
