package client

import (
	"errors"
	"fmt"
	"net/http"
)

// CodeTransport is reserved for transport-level failures that produced no
// HTTP status (DNS failure, refused connection, timeout).
const CodeTransport = 0

// Error is the structured failure surfaced to callers. Code is stable across
// transports; Message is human-readable.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`

	canceled bool
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request failed with code %d", e.Code)
}

// Canceled reports whether the failure was caller-initiated cancellation.
// Canceled errors are never retried, refreshed, or notified.
func (e *Error) Canceled() bool {
	return e.canceled
}

// NewError builds a structured error with the given code and message.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

func newCanceledError() *Error {
	return &Error{Code: CodeTransport, Message: "request canceled", canceled: true}
}

// AsError extracts the structured error from err, wrapping foreign errors
// into a transport-level one so callers always observe the same shape.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &Error{Code: CodeTransport, Message: err.Error()}
}

// statusMessages is the fallback table for statuses whose body carries no
// usable envelope.
var statusMessages = map[int]string{
	http.StatusBadRequest:          "invalid request",
	http.StatusUnauthorized:        "expired session",
	http.StatusForbidden:           "insufficient rights",
	http.StatusNotFound:            "not found",
	http.StatusConflict:            "conflict",
	http.StatusRequestTimeout:      "request timed out",
	http.StatusTooManyRequests:     "rate-limited",
	http.StatusInternalServerError: "server-side unavailability",
	http.StatusBadGateway:          "server-side unavailability",
	http.StatusServiceUnavailable:  "server-side unavailability",
	http.StatusGatewayTimeout:      "server-side unavailability",
}

func statusMessage(status int) string {
	if msg, ok := statusMessages[status]; ok {
		return msg
	}
	return fmt.Sprintf("request failed with status %d", status)
}
