// Package provider defines the completion collaborator the summarization
// pipeline depends on, plus the OpenAI-backed implementation.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Request is one completion call. When Schema is non-nil the provider must
// enforce strict JSON output matching it; otherwise the response is prose.
type Request struct {
	Model        string
	Instructions string
	Input        string

	SchemaName string
	Schema     map[string]interface{}

	MaxOutputTokens int
}

// Completer is the black-box LLM text generation service: text in, text out.
// Retry policy belongs to the caller; a Completer attempts each request once.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ErrorKind classifies a completion failure for retry decisions.
type ErrorKind string

const (
	RateLimited     ErrorKind = "rate_limited"
	Timeout         ErrorKind = "timeout"
	ServerError     ErrorKind = "server_error"
	InvalidResponse ErrorKind = "invalid_response"
	AuthFailure     ErrorKind = "auth_failure"
)

// CompletionError wraps a failed completion call with its classification.
type CompletionError struct {
	Kind ErrorKind
	Err  error
}

func (e *CompletionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("completion failed (%s)", e.Kind)
	}
	return fmt.Sprintf("completion failed (%s): %v", e.Kind, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a completion failure worth retrying.
// Rate limits, timeouts, and server-side errors are transient; malformed
// responses and auth failures are not.
func IsTransient(err error) bool {
	var ce *CompletionError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Kind {
	case RateLimited, Timeout, ServerError:
		return true
	default:
		return false
	}
}
