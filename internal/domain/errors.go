package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind is the canonical classification of a provider failure.
type ErrorKind string

const (
	ErrKindAuth        ErrorKind = "auth"
	ErrKindRateLimited ErrorKind = "rate_limited"
	ErrKindUpstream5xx ErrorKind = "upstream_5xx"
	ErrKindTimeout     ErrorKind = "timeout"
	ErrKindBadRequest  ErrorKind = "bad_request"
	ErrKindUnknown     ErrorKind = "unknown"
)

// Retryable reports whether a failure of this kind may be retried against
// a different provider. Auth and request-shape problems survive provider
// switches, so failing over cannot fix them.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrKindAuth, ErrKindBadRequest:
		return false
	default:
		return true
	}
}

// KindFromStatus maps an upstream HTTP status code to a canonical kind.
func KindFromStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrKindAuth
	case status == http.StatusTooManyRequests:
		return ErrKindRateLimited
	case status >= 500:
		return ErrKindUpstream5xx
	case status >= 400:
		return ErrKindBadRequest
	default:
		return ErrKindUnknown
	}
}

// ProviderError is the canonical error returned by a provider adapter.
type ProviderError struct {
	Kind       ErrorKind `json:"kind"`
	StatusCode int       `json:"status_code,omitempty"`
	ProviderID string    `json:"provider_id"`
	RequestID  string    `json:"request_id"`
	Message    string    `json:"message"`
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: %s (status %d): %s", e.ProviderID, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s: %s: %s", e.ProviderID, e.Kind, e.Message)
}

// AsProviderError unwraps err to a *ProviderError if possible.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ClassifyTransportError converts a transport-level failure into a
// ProviderError. Context deadline expiry becomes a timeout; everything
// else is unknown.
func ClassifyTransportError(err error) *ProviderError {
	kind := ErrKindUnknown
	if errors.Is(err, context.DeadlineExceeded) {
		kind = ErrKindTimeout
	}
	return &ProviderError{Kind: kind, Message: err.Error()}
}

// RoutingErrorKind classifies a terminal routing failure.
type RoutingErrorKind string

const (
	RoutingAllProvidersFailed RoutingErrorKind = "all_providers_failed"
	RoutingBudgetExceeded     RoutingErrorKind = "budget_exceeded"
	RoutingInvalidRequest     RoutingErrorKind = "invalid_request"
)

// AttemptError is one (provider, kind) pair from a failed routing pass.
type AttemptError struct {
	ProviderID string    `json:"provider_id"`
	Kind       ErrorKind `json:"kind"`
}

// RoutingError is the only failure shape the router exposes to callers.
// Raw vendor errors never escape the engine.
type RoutingError struct {
	Kind     RoutingErrorKind `json:"kind"`
	Attempts []AttemptError   `json:"attempts,omitempty"`
	Message  string           `json:"message"`
}

func (e *RoutingError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("routing: %s: %s", e.Kind, e.Message)
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s=%s", a.ProviderID, a.Kind)
	}
	return fmt.Sprintf("routing: %s: %s [%s]", e.Kind, e.Message, strings.Join(parts, ", "))
}

// AsRoutingError unwraps err to a *RoutingError if possible.
func AsRoutingError(err error) (*RoutingError, bool) {
	var re *RoutingError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// StreamError reports a broken stream. Terminal means content had already
// been delivered downstream (or no candidates remained), so failover was
// not possible and the caller must treat the stream as failed.
type StreamError struct {
	Terminal   bool
	ProviderID string
	Err        error
}

func (e *StreamError) Error() string {
	state := "partial"
	if e.Terminal {
		state = "terminal"
	}
	if e.ProviderID != "" {
		return fmt.Sprintf("stream %s (provider %s): %v", state, e.ProviderID, e.Err)
	}
	return fmt.Sprintf("stream %s: %v", state, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }
