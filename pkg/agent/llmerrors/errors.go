// Package llmerrors classifies model-provider failures so middleware can decide
// whether to retry, trip the circuit, or give up and let callers fall back.
package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType buckets a provider failure by what the caller should do next.
type ErrorType int8

const (
	ErrorTypeRateLimit     ErrorType = iota // 429 or quota; retry after backoff
	ErrorTypeTransient                      // 5xx, resets, timeouts; retry
	ErrorTypeEmptyResponse                  // 200 with nothing usable; retry
	ErrorTypeAuth                           // bad or missing credentials
	ErrorTypeBadPrompt                      // request rejected as malformed or too long
	ErrorTypeUnknown
	ErrorTypeServiceUnavailable // retries exhausted or circuit open
)

var typeNames = [...]string{
	ErrorTypeRateLimit:          "rate_limit",
	ErrorTypeTransient:          "transient",
	ErrorTypeEmptyResponse:      "empty_response",
	ErrorTypeAuth:               "auth",
	ErrorTypeBadPrompt:          "bad_prompt",
	ErrorTypeUnknown:            "unknown",
	ErrorTypeServiceUnavailable: "service_unavailable",
}

func (et ErrorType) String() string {
	if et < 0 || int(et) >= len(typeNames) {
		return "invalid"
	}
	return typeNames[et]
}

// Error is a classified provider failure. Metrics label it by Type.
type Error struct {
	Err        error
	Message    string
	Type       ErrorType
	StatusCode int
}

func (e *Error) Error() string {
	detail := e.Message
	switch {
	case detail == "" && e.Err != nil:
		detail = e.Err.Error()
	case detail == "":
		detail = fmt.Sprintf("status %d", e.StatusCode)
	}
	return "llm " + e.Type.String() + ": " + detail
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable is false only for failures a second attempt cannot fix.
func (e *Error) IsRetryable() bool {
	return e.Type != ErrorTypeAuth && e.Type != ErrorTypeBadPrompt && e.Type != ErrorTypeServiceUnavailable
}

// Is checks if an error is of a specific type.
func Is(err error, errorType ErrorType) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == errorType
	}
	return false
}

// TypeOf returns the error type of an error, or ErrorTypeUnknown if not classified.
func TypeOf(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}

// IsRetryable reports whether err should be retried. Context cancellation never is.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.IsRetryable()
	}
	return true
}

func NewError(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

func NewErrorWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{Type: errorType, Err: cause, Message: message}
}

// NewServiceUnavailableError wraps the last error after retries are exhausted.
func NewServiceUnavailableError(cause error, attempts int) *Error {
	return &Error{
		Type:    ErrorTypeServiceUnavailable,
		Err:     cause,
		Message: fmt.Sprintf("service unavailable after %d attempts", attempts),
	}
}

// IsServiceUnavailable checks if the error indicates persistent unavailability.
func IsServiceUnavailable(err error) bool {
	return Is(err, ErrorTypeServiceUnavailable)
}

// TypeForStatus maps an HTTP status code to an ErrorType.
func TypeForStatus(status int) ErrorType {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorTypeAuth
	case status == http.StatusBadRequest || status == http.StatusRequestEntityTooLarge || status == http.StatusUnprocessableEntity:
		return ErrorTypeBadPrompt
	case status >= 500:
		return ErrorTypeTransient
	}
	return ErrorTypeUnknown
}

// Classify wraps a raw provider error using message heuristics. Already
// classified errors are returned unchanged.
func Classify(err error, provider string) error {
	if err == nil {
		return nil
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewErrorWithCause(ErrorTypeTransient, err, provider+" request timed out")
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota"):
		return NewErrorWithCause(ErrorTypeRateLimit, err, provider+" rate limited")
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "api key") || strings.Contains(msg, "unauthorized"):
		return NewErrorWithCause(ErrorTypeAuth, err, provider+" authentication failed")
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid_request") || strings.Contains(msg, "too long"):
		return NewErrorWithCause(ErrorTypeBadPrompt, err, provider+" rejected request")
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503") ||
		strings.Contains(msg, "529") || strings.Contains(msg, "overloaded") || strings.Contains(msg, "eof") ||
		strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") || strings.Contains(msg, "timeout"):
		return NewErrorWithCause(ErrorTypeTransient, err, provider+" transient failure")
	}
	return NewErrorWithCause(ErrorTypeUnknown, err, provider+" request failed")
}
