package domain

import (
	"errors"
	"net/http"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		expected string
	}{
		{
			name:     "error with type and message",
			err:      &APIError{Type: ErrorTypeInvalidRequest, Message: "bad request"},
			expected: "invalid_request: bad request",
		},
		{
			name:     "error with cause",
			err:      ErrServer(errors.New("upstream 529")),
			expected: "server: Internal server error: upstream 529",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAPIError_HTTPStatusCode(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		expected int
	}{
		{"invalid request", ErrInvalidRequest(MsgInvalidJSON), http.StatusBadRequest},
		{"authentication error", ErrAuthentication(), http.StatusUnauthorized},
		{"permission error", ErrPermission(), http.StatusForbidden},
		{"not found error", ErrNotFound(), http.StatusNotFound},
		{"rate limit error", ErrRateLimit(3), http.StatusTooManyRequests},
		{"server error", ErrServer(nil), http.StatusInternalServerError},
		{"explicit status wins", ErrInvalidRequest("x").WithStatusCode(http.StatusTeapot), http.StatusTeapot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.HTTPStatusCode(); got != tt.expected {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestAPIError_UnwrapKeepsCause(t *testing.T) {
	cause := errors.New("boom")
	err := ErrServer(cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the cause")
	}
	if err.Message != MsgInternal {
		t.Errorf("Message = %q, want %q", err.Message, MsgInternal)
	}
}
