// Package apierr provides structured error classification for host API
// interactions. Every transport failure leaving pkg/host is wrapped in an
// *Error carrying its classified type, HTTP status, and the host-provided
// request-tracing identifier when one was present.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType categorizes host API errors for retry and soft-fail decisions.
type ErrorType int8

const (
	// ErrorTypeTransient represents errors worth retrying: 5xx, 429, and
	// 409 (mergeability recalculation can resolve a conflict state), plus
	// network/timeout-shaped failures.
	ErrorTypeTransient ErrorType = iota
	// ErrorTypeAuthorization represents 403/404 responses. On optional
	// enrichment calls these are soft-failed by the caller.
	ErrorTypeAuthorization
	// ErrorTypeValidation represents caller mistakes (bad PR number,
	// missing repository configuration). Never retried.
	ErrorTypeValidation
	// ErrorTypeUnknown is the default for unclassified errors. Not retried.
	ErrorTypeUnknown
)

// String returns the string representation of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeAuthorization:
		return "authorization"
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Error is a classified host API error.
//
//nolint:govet // Logical grouping preferred over memory optimization
type Error struct {
	Err        error     // Wrapped underlying error
	Message    string    // Human-readable error message
	Type       ErrorType // Classified error type
	StatusCode int       // HTTP status code, 0 if not applicable
	RequestID  string    // Host-provided request-tracing identifier
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.StatusCode != 0 && e.RequestID != "":
		return fmt.Sprintf("host API error (%s, status %d, request %s): %s", e.Type, e.StatusCode, e.RequestID, msg)
	case e.StatusCode != 0:
		return fmt.Sprintf("host API error (%s, status %d): %s", e.Type, e.StatusCode, msg)
	default:
		return fmt.Sprintf("host API error (%s): %s", e.Type, msg)
	}
}

// Unwrap returns the underlying error for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the error should be retried.
func (e *Error) IsRetryable() bool {
	return e.Type == ErrorTypeTransient
}

// Is checks whether err carries the given classified type.
func Is(err error, errorType ErrorType) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Type == errorType
	}
	return false
}

// TypeOf returns the classified type of err, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Type
	}
	return ErrorTypeUnknown
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// New creates a classified error with a message.
func New(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// NewWithStatus creates a classified error from an HTTP response.
func NewWithStatus(errorType ErrorType, statusCode int, requestID, message string) *Error {
	return &Error{Type: errorType, StatusCode: statusCode, RequestID: requestID, Message: message}
}

// NewWithCause creates a classified error wrapping another error.
func NewWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{Type: errorType, Err: cause, Message: message}
}

// FromStatus classifies an HTTP response status.
func FromStatus(statusCode int, requestID, message string) *Error {
	return NewWithStatus(classifyStatus(statusCode), statusCode, requestID, message)
}

func classifyStatus(statusCode int) ErrorType {
	switch {
	case statusCode >= 500:
		return ErrorTypeTransient
	case statusCode == http.StatusTooManyRequests:
		return ErrorTypeTransient
	case statusCode == http.StatusConflict:
		// Mergeability recalculation can clear a 409 on its own.
		return ErrorTypeTransient
	case statusCode == http.StatusForbidden, statusCode == http.StatusNotFound:
		return ErrorTypeAuthorization
	case statusCode >= 400:
		return ErrorTypeValidation
	default:
		return ErrorTypeUnknown
	}
}

// FromTransport classifies a transport-level error (no HTTP response).
// Timeout, network, and socket-shaped failures are transient.
func FromTransport(err error) *Error {
	if isNetworkShaped(err) {
		return NewWithCause(ErrorTypeTransient, err, "network failure")
	}
	return NewWithCause(ErrorTypeUnknown, err, "request failed")
}

func isNetworkShaped(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"timeout", "timed out", "network", "socket", "connection refused", "connection reset", "eof", "temporary"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Exhausted wraps the final error after all retry attempts failed, keeping
// the original status code and request ID visible to the caller.
func Exhausted(last *Error, attempts int) *Error {
	return &Error{
		Err:        last,
		Message:    fmt.Sprintf("exhausted %d attempts: %s", attempts, last.Message),
		Type:       last.Type,
		StatusCode: last.StatusCode,
		RequestID:  last.RequestID,
	}
}
