// Package apperr defines the error taxonomy shared by the tracer, the bundle
// scorer and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind string

const (
	KindValidation Kind = "VALIDATION"
	KindNotFound   Kind = "NOT_FOUND"
	KindRateLimit  Kind = "RATE_LIMIT"
	KindUpstream   Kind = "UPSTREAM"
	KindInternal   Kind = "INTERNAL"
)

// Error is a structured application error.
type Error struct {
	Kind       Kind          `json:"kind"`
	Message    string        `json:"message"`
	Details    string        `json:"details,omitempty"`
	Suggestion string        `json:"suggestion,omitempty"`
	Status     int           `json:"status,omitempty"`      // upstream HTTP status, 0 for transport errors
	StatusText string        `json:"status_text,omitempty"` // upstream HTTP status text
	RetryAfter time.Duration `json:"-"`
	Cause      error         `json:"-"`
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error kind to the status the API responds with.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Validation builds a malformed-input error.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// NotFound builds an error for an entity that could not be located.
func NotFound(msg, suggestion string) *Error {
	return &Error{Kind: KindNotFound, Message: msg, Suggestion: suggestion}
}

// RateLimited builds a caller-throttled error.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimit,
		Message:    "Too many requests, please try again later",
		RetryAfter: retryAfter,
	}
}

// Upstream builds an error for a data-source failure that survived retries.
// status is 0 when no HTTP response was received.
func Upstream(status int, statusText string, cause error) *Error {
	msg := "blockfrost API error"
	if status > 0 {
		msg = fmt.Sprintf("blockfrost API error: %d %s", status, statusText)
	} else if cause != nil {
		msg = fmt.Sprintf("blockfrost API error: %v", cause)
	}
	return &Error{
		Kind:       KindUpstream,
		Message:    msg,
		Status:     status,
		StatusText: statusText,
		Cause:      cause,
	}
}

// Internal wraps an unexpected failure.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: cause.Error(), Cause: cause}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err is a not-found error or an upstream 404.
func IsNotFound(err error) bool {
	e, ok := As(err)
	if !ok {
		return false
	}
	return e.Kind == KindNotFound || (e.Kind == KindUpstream && e.Status == http.StatusNotFound)
}
