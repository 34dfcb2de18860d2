package domain

import "context"

// Provider is the capability interface implemented by every upstream
// adapter. Implementations own their HTTP client and credentials and are
// safe for concurrent use.
type Provider interface {
	// Name returns the configured provider identifier.
	Name() string

	// Process dispatches a non-streaming request. It fails with a
	// *ProviderError on any non-recoverable condition.
	Process(ctx context.Context, req *CanonicalRequest) (*CanonicalResponse, error)

	// ProcessStream dispatches a streaming request and returns a live
	// stream once the upstream has accepted it.
	ProcessStream(ctx context.Context, req *CanonicalRequest) (Stream, error)

	// HealthCheck probes the provider. It never fails; degraded or
	// unhealthy states are reported in the returned snapshot.
	HealthCheck(ctx context.Context) ProviderHealth
}

// Chunk is one canonical text delta from a streaming response.
type Chunk struct {
	Text string `json:"text"`
}

// StreamSummary is the terminal record of a consumed stream.
type StreamSummary struct {
	Model              string       `json:"model"`
	Provider           string       `json:"provider"`
	RequestID          string       `json:"request_id"`
	Usage              Usage        `json:"usage"`
	FinishReason       FinishReason `json:"finish_reason"`
	FallbackUsed       bool         `json:"fallback_used"`
	AttemptedProviders []string     `json:"attempted_providers,omitempty"`
	UsageEstimated     bool         `json:"usage_estimated,omitempty"`
}

// Stream is a lazy, finite, non-restartable sequence of text deltas.
// Recv returns io.EOF when the stream is exhausted, after which Summary
// holds the final usage and finish reason. A mid-flight failure surfaces
// as a *StreamError from Recv. Close releases the underlying connection
// and is safe to call at any point.
type Stream interface {
	Recv() (Chunk, error)
	Summary() StreamSummary
	Close() error
}
