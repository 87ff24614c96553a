// Package domain provides canonical types and error values for the gateway.
package domain

import (
	"fmt"
	"net/http"
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a malformed or invalid request.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeAuthentication indicates an authentication failure.
	ErrorTypeAuthentication ErrorType = "authentication"

	// ErrorTypePermission indicates an origin or CSRF rejection.
	ErrorTypePermission ErrorType = "permission"

	// ErrorTypeNotFound indicates a resource was not found.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeRateLimit indicates rate limiting was triggered.
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeServer indicates an internal server error.
	ErrorTypeServer ErrorType = "server"
)

// Client-facing messages. These are the only strings that ever reach an
// error body; anything more specific stays in the server logs.
const (
	MsgOriginNotAllowed   = "Forbidden — origin not allowed"
	MsgTooManyRequests    = "Too many requests. Please try again later."
	MsgUnauthorized       = "Unauthorized"
	MsgBodyTooLarge       = "Request body too large"
	MsgInvalidJSON        = "Invalid JSON"
	MsgMessagesRequired   = "messages is required"
	MsgInternal           = "Internal server error"
	MsgNotFound           = "Conversation not found"
	MsgInvalidRole        = "Invalid role"
	MsgInvalidRequestBody = "Invalid request body"
)

// APIError is a terminal response produced by a pipeline stage.
type APIError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Message is the fixed, client-safe message
	Message string `json:"error"`

	// StatusCode is the suggested HTTP status code
	StatusCode int `json:"-"`

	// RetryAfter is set for rate limit errors, in whole seconds
	RetryAfter int `json:"-"`

	// Cause is the underlying error, logged but never serialized
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the cause to errors.Is / errors.As.
func (e *APIError) Unwrap() error {
	return e.Cause
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypePermission:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithStatusCode sets a specific HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// WithCause records the underlying error for server-side logging.
func (e *APIError) WithCause(err error) *APIError {
	e.Cause = err
	return e
}

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message)
}

// ErrAuthentication creates an authentication error. The message is always
// the generic one; the reason is only logged.
func ErrAuthentication() *APIError {
	return NewAPIError(ErrorTypeAuthentication, MsgUnauthorized)
}

// ErrPermission creates an origin rejection.
func ErrPermission() *APIError {
	return NewAPIError(ErrorTypePermission, MsgOriginNotAllowed)
}

// ErrNotFound creates a not found error.
func ErrNotFound() *APIError {
	return NewAPIError(ErrorTypeNotFound, MsgNotFound)
}

// ErrRateLimit creates a rate limit error carrying a retry hint.
func ErrRateLimit(retryAfterSeconds int) *APIError {
	e := NewAPIError(ErrorTypeRateLimit, MsgTooManyRequests)
	e.RetryAfter = retryAfterSeconds
	return e
}

// ErrServer creates a generic internal error wrapping cause.
func ErrServer(cause error) *APIError {
	return NewAPIError(ErrorTypeServer, MsgInternal).WithCause(cause)
}
