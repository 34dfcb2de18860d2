// Package domain provides the canonical, provider-agnostic request and
// response shapes used throughout the engine, together with the error
// taxonomy shared by adapters and the router.
package domain

import "time"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CanonicalRequest is the provider-agnostic inference request. It is
// immutable once constructed; the router copies it before rewriting the
// model name for a specific upstream.
type CanonicalRequest struct {
	ID          string    `json:"id,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	Messages    []Message `json:"messages"`
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float32  `json:"temperature,omitempty"`
	TopP        *float32  `json:"top_p,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// Usage represents token usage. TotalTokens is always the sum of prompt
// and completion tokens.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FinishReason enumerates why generation terminated.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
)

// Cost is the computed charge for one response, derived from the
// configured price table. A nil *Cost on a response means no pricing
// entry existed for the provider/model pair.
type Cost struct {
	PromptCost     float64 `json:"prompt_cost"`
	CompletionCost float64 `json:"completion_cost"`
	TotalCost      float64 `json:"total_cost"`
	Currency       string  `json:"currency"`
}

// ResponseMetadata carries routing provenance for a response.
type ResponseMetadata struct {
	RequestID          string    `json:"request_id"`
	Timestamp          time.Time `json:"timestamp"`
	Streaming          bool      `json:"streaming"`
	FallbackUsed       bool      `json:"fallback_used"`
	AttemptedProviders []string  `json:"attempted_providers"`
	UsageEstimated     bool      `json:"usage_estimated,omitempty"`
}

// CanonicalResponse represents a complete non-streaming response.
type CanonicalResponse struct {
	ID             string           `json:"id"`
	Provider       string           `json:"provider"`
	Model          string           `json:"model"`
	Content        string           `json:"content"`
	Usage          Usage            `json:"usage"`
	FinishReason   FinishReason     `json:"finish_reason"`
	ResponseTimeMs int64            `json:"response_time_ms"`
	Cost           *Cost            `json:"cost,omitempty"`
	Metadata       ResponseMetadata `json:"metadata"`
}

// HealthStatus is the advisory availability signal for a provider.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// ProviderHealth is a point-in-time snapshot of one provider's health.
// Mutated only by the health monitor; read by the router.
type ProviderHealth struct {
	ProviderID         string       `json:"provider_id"`
	Status             HealthStatus `json:"status"`
	LastCheckedAt      time.Time    `json:"last_checked_at"`
	LastResponseTimeMs int64        `json:"last_response_time_ms"`
	Detail             string       `json:"detail,omitempty"`
}

// AttemptOutcome classifies a single routing attempt.
type AttemptOutcome string

const (
	AttemptOutcomeSuccess AttemptOutcome = "success"
	AttemptOutcomeTimeout AttemptOutcome = "timeout"
	AttemptOutcomeError   AttemptOutcome = "error"
)

// RoutingAttempt records one dispatch against one provider. It exists only
// for the duration of a single request's routing decision.
type RoutingAttempt struct {
	ProviderID string
	StartedAt  time.Time
	Outcome    AttemptOutcome
	ErrorKind  ErrorKind
}
