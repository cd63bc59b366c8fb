package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType categorizes model-call failures for logging and metrics.
// The turn engine never retries; every model error ends the run.
type ErrorType int8

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeRateLimit
	ErrorTypeTransient
	ErrorTypeEmptyResponse
	ErrorTypeAuth
	ErrorTypeBadPrompt
)

func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	default:
		return "unknown"
	}
}

// Error is a classified model-call error.
type Error struct {
	Err        error
	Message    string
	Type       ErrorType
	StatusCode int
}

func (e *Error) Error() string {
	if e.Message != "" && e.Err != nil {
		return fmt.Sprintf("LLM error (%s): %s: %v", e.Type, e.Message, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("LLM error (%s): %s", e.Type, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("LLM error (%s): %v", e.Type, e.Err)
	}
	return fmt.Sprintf("LLM error (%s): status %d", e.Type, e.StatusCode)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified error with no underlying cause.
func NewError(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// TypeOf returns the classification of err, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}

// Classify wraps a provider error, inferring its type from the HTTP status
// code embedded in the error text or from common failure phrases.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}

	msg := provider + " request failed"
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Type: ErrorTypeTransient, Err: err, Message: msg}
	}

	status := extractStatusCode(err.Error())
	out := &Error{Err: err, Message: msg, StatusCode: status}
	switch status {
	case 401, 403:
		out.Type = ErrorTypeAuth
		return out
	case 429:
		out.Type = ErrorTypeRateLimit
		return out
	case 400, 404, 413, 422:
		out.Type = ErrorTypeBadPrompt
		return out
	case 500, 502, 503, 504, 529:
		out.Type = ErrorTypeTransient
		return out
	}

	lower := strings.ToLower(err.Error())
	switch {
	case containsAny(lower, "timeout", "connection", "network", "temporary", "eof", "reset"):
		out.Type = ErrorTypeTransient
	case containsAny(lower, "rate", "quota"):
		out.Type = ErrorTypeRateLimit
	case containsAny(lower, "unauthorized", "api key", "authentication"):
		out.Type = ErrorTypeAuth
	case containsAny(lower, "invalid", "malformed", "too large"):
		out.Type = ErrorTypeBadPrompt
	default:
		out.Type = ErrorTypeUnknown
	}
	return out
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// extractStatusCode finds a three-digit HTTP status after a common prefix.
func extractStatusCode(errStr string) int {
	lower := strings.ToLower(errStr)
	for _, pattern := range []string{"status code: ", "status: ", "http ", "code "} {
		idx := strings.Index(lower, pattern)
		if idx == -1 {
			continue
		}
		start := idx + len(pattern)
		if start+3 > len(lower) {
			continue
		}
		code := 0
		valid := true
		for _, r := range lower[start : start+3] {
			if r < '0' || r > '9' {
				valid = false
				break
			}
			code = code*10 + int(r-'0')
		}
		if valid && code >= 100 {
			return code
		}
	}
	return 0
}
