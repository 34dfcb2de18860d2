// Package anthropic adapts Claude-style messages APIs to the canonical
// provider contract.
package anthropic

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	anthropicapi "github.com/switchyard-ai/switchyard/internal/api/anthropic"
	"github.com/switchyard-ai/switchyard/internal/domain"
	"github.com/switchyard-ai/switchyard/internal/stream"
)

const defaultMaxTokens = 1024

// Option configures the provider.
type Option func(*Provider)

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) { p.baseURL = baseURL }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(p *Provider) { p.httpClient = httpClient }
}

// WithAPIVersion sets the API version header.
func WithAPIVersion(version string) Option {
	return func(p *Provider) { p.version = version }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// WithHealthTimeout sets the health probe timeout.
func WithHealthTimeout(d time.Duration) Option {
	return func(p *Provider) { p.healthTimeout = d }
}

// Provider implements domain.Provider for Claude-style APIs.
type Provider struct {
	id            string
	client        *anthropicapi.Client
	timeout       time.Duration
	healthTimeout time.Duration

	baseURL    string
	version    string
	httpClient *http.Client
}

// New creates a new adapter.
func New(id, apiKey string, opts ...Option) *Provider {
	p := &Provider{
		id:            id,
		timeout:       30 * time.Second,
		healthTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}

	var clientOpts []anthropicapi.ClientOption
	if p.baseURL != "" {
		clientOpts = append(clientOpts, anthropicapi.WithBaseURL(p.baseURL))
	}
	if p.version != "" {
		clientOpts = append(clientOpts, anthropicapi.WithVersion(p.version))
	}
	if p.httpClient != nil {
		clientOpts = append(clientOpts, anthropicapi.WithHTTPClient(p.httpClient))
	}
	p.client = anthropicapi.NewClient(apiKey, clientOpts...)
	return p
}

func (p *Provider) Name() string { return p.id }

// Process dispatches a non-streaming request under the per-call timeout.
func (p *Provider) Process(ctx context.Context, req *domain.CanonicalRequest) (*domain.CanonicalResponse, error) {
	requestID := uuid.NewString()
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.client.CreateMessage(ctx, toAPIRequest(req))
	if err != nil {
		return nil, p.stamp(err, requestID)
	}
	return toCanonicalResponse(resp, p.id, requestID, time.Since(start)), nil
}

// ProcessStream dispatches a streaming request. The per-call timeout
// bounds stream establishment only; an accepted stream lives until the
// caller cancels or it is consumed.
func (p *Provider) ProcessStream(ctx context.Context, req *domain.CanonicalRequest) (domain.Stream, error) {
	requestID := uuid.NewString()
	streamCtx, cancel := context.WithCancel(ctx)

	var timedOut atomic.Bool
	timer := time.AfterFunc(p.timeout, func() {
		timedOut.Store(true)
		cancel()
	})

	meta := stream.Meta{Model: req.Model, Provider: p.id, RequestID: requestID}
	s, err := p.client.StreamMessage(streamCtx, toAPIRequest(req), meta)
	timer.Stop()
	if err != nil {
		cancel()
		perr := p.stamp(err, requestID)
		if timedOut.Load() {
			if pe, ok := domain.AsProviderError(perr); ok {
				pe.Kind = domain.ErrKindTimeout
			}
		}
		return nil, perr
	}
	s.OnClose(cancel)
	return s, nil
}

// HealthCheck probes the models endpoint. It reports rather than fails.
func (p *Provider) HealthCheck(ctx context.Context) domain.ProviderHealth {
	ctx, cancel := context.WithTimeout(ctx, p.healthTimeout)
	defer cancel()

	start := time.Now()
	err := p.client.Ping(ctx)

	h := domain.ProviderHealth{
		ProviderID:         p.id,
		Status:             domain.StatusHealthy,
		LastCheckedAt:      time.Now(),
		LastResponseTimeMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		h.Status = domain.StatusUnhealthy
		h.Detail = err.Error()
	}
	return h
}

// stamp attaches provider identity and the per-call request id to an
// error, coercing non-canonical failures to unknown.
func (p *Provider) stamp(err error, requestID string) error {
	if pe, ok := domain.AsProviderError(err); ok {
		pe.ProviderID = p.id
		pe.RequestID = requestID
		return pe
	}
	return &domain.ProviderError{
		Kind:       domain.ErrKindUnknown,
		ProviderID: p.id,
		RequestID:  requestID,
		Message:    err.Error(),
	}
}

// toAPIRequest converts a canonical request to the vendor schema. The
// leading system message is hoisted into the dedicated system field; any
// additional system messages are folded into it in order.
func toAPIRequest(req *domain.CanonicalRequest) *anthropicapi.MessagesRequest {
	var system []string
	messages := make([]anthropicapi.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		messages = append(messages, anthropicapi.Message{Role: m.Role, Content: m.Content})
	}

	apiReq := &anthropicapi.MessagesRequest{
		Model:         req.Model,
		Messages:      messages,
		System:        strings.Join(system, "\n\n"),
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.Stop,
	}
	if apiReq.MaxTokens <= 0 {
		// Required by the vendor.
		apiReq.MaxTokens = defaultMaxTokens
	}
	return apiReq
}

// toCanonicalResponse converts a vendor response to canonical form.
func toCanonicalResponse(resp *anthropicapi.MessagesResponse, providerID, requestID string, elapsed time.Duration) *domain.CanonicalResponse {
	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &domain.CanonicalResponse{
		ID:       resp.ID,
		Provider: providerID,
		Model:    resp.Model,
		Content:  content.String(),
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		FinishReason:   anthropicapi.CanonicalStopReason(resp.StopReason),
		ResponseTimeMs: elapsed.Milliseconds(),
		Metadata: domain.ResponseMetadata{
			RequestID: requestID,
			Timestamp: time.Now().UTC(),
		},
	}
}

var _ domain.Provider = (*Provider)(nil)
