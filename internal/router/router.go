// Package router resolves logical model names to provider candidates and
// dispatches requests with health-aware ordering and sequential failover.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/switchyard-ai/switchyard/internal/config"
	"github.com/switchyard-ai/switchyard/internal/domain"
	"github.com/switchyard-ai/switchyard/internal/events"
	"github.com/switchyard-ai/switchyard/internal/health"
	"github.com/switchyard-ai/switchyard/internal/pricing"
	"github.com/switchyard-ai/switchyard/internal/provider"
	"github.com/switchyard-ai/switchyard/internal/tokens"
)

// BudgetFunc vetoes a request before dispatch, e.g. against a spend cap.
// A non-nil return rejects the request without touching any provider.
type BudgetFunc func(ctx context.Context, req *domain.CanonicalRequest) error

// candidate is one (provider, upstream model) dispatch target.
type candidate struct {
	providerID string
	model      string
}

// Router dispatches canonical requests across the provider fleet.
type Router struct {
	registry  *provider.Registry
	health    *health.Monitor
	routes    map[string][]candidate
	pricing   *pricing.Table
	estimator *tokens.Estimator
	sink      events.Sink
	logger    *slog.Logger
	tracer    trace.Tracer
	budget    BudgetFunc

	attemptTimeout  time.Duration
	overallDeadline time.Duration
}

// Option configures the router.
type Option func(*Router)

// WithPricing attaches a price table for cost attribution.
func WithPricing(t *pricing.Table) Option {
	return func(r *Router) { r.pricing = t }
}

// WithEstimator attaches a token estimator used when a provider omits
// usage counts.
func WithEstimator(e *tokens.Estimator) Option {
	return func(r *Router) { r.estimator = e }
}

// WithSink attaches an event sink.
func WithSink(s events.Sink) Option {
	return func(r *Router) { r.sink = s }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// WithAttemptTimeout bounds each individual provider attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(r *Router) { r.attemptTimeout = d }
}

// WithOverallDeadline bounds the whole routing pass across all attempts.
func WithOverallDeadline(d time.Duration) Option {
	return func(r *Router) { r.overallDeadline = d }
}

// WithBudget attaches a pre-dispatch budget check.
func WithBudget(fn BudgetFunc) Option {
	return func(r *Router) { r.budget = fn }
}

// New creates a router over the given registry, health monitor and model
// routes.
func New(registry *provider.Registry, monitor *health.Monitor, routes []config.ModelRoute, opts ...Option) *Router {
	r := &Router{
		registry:        registry,
		health:          monitor,
		routes:          make(map[string][]candidate, len(routes)),
		logger:          slog.Default(),
		tracer:          otel.Tracer("switchyard/router"),
		attemptTimeout:  config.DefaultAttemptTimeout,
		overallDeadline: config.DefaultDeadlineMultiplier * config.DefaultAttemptTimeout,
	}
	for _, route := range routes {
		cands := make([]candidate, len(route.Targets))
		for i, t := range route.Targets {
			cands[i] = candidate{providerID: t.Provider, model: t.Model}
		}
		r.routes[route.Alias] = cands
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// resolve maps a request's model name to an ordered candidate list. A
// slash-qualified name ("provider/model") pins a single provider; a bare
// name is looked up as a configured alias.
func (r *Router) resolve(model string) ([]candidate, error) {
	if providerID, upstream, ok := strings.Cut(model, "/"); ok {
		if _, exists := r.registry.Get(providerID); !exists {
			return nil, &domain.RoutingError{
				Kind:    domain.RoutingInvalidRequest,
				Message: fmt.Sprintf("unknown provider: %s", providerID),
			}
		}
		return []candidate{{providerID: providerID, model: upstream}}, nil
	}

	cands, ok := r.routes[model]
	if !ok {
		return nil, &domain.RoutingError{
			Kind:    domain.RoutingInvalidRequest,
			Message: fmt.Sprintf("unknown model: %s", model),
		}
	}
	return cands, nil
}

// orderByHealth moves unhealthy candidates to the end, preserving the
// configured order within each group. Unhealthy providers are demoted,
// never removed: if everything else fails they are still tried.
func (r *Router) orderByHealth(cands []candidate) []candidate {
	ordered := make([]candidate, 0, len(cands))
	var demoted []candidate
	for _, c := range cands {
		if r.health.Current(c.providerID).Status == domain.StatusUnhealthy {
			demoted = append(demoted, c)
			continue
		}
		ordered = append(ordered, c)
	}
	return append(ordered, demoted...)
}

// Route dispatches a non-streaming request, failing over across the
// candidate list until one provider succeeds or all are exhausted.
func (r *Router) Route(ctx context.Context, req *domain.CanonicalRequest) (*domain.CanonicalResponse, error) {
	ctx, span := r.tracer.Start(ctx, "router.Route",
		trace.WithAttributes(attribute.String("model", req.Model)))
	defer span.End()

	req = withRequestID(req)
	if err := r.checkBudget(ctx, req); err != nil {
		span.SetStatus(codes.Error, "budget exceeded")
		return nil, err
	}

	cands, err := r.resolve(req.Model)
	if err != nil {
		span.SetStatus(codes.Error, "unresolvable model")
		return nil, err
	}
	cands = r.orderByHealth(cands)

	start := time.Now()
	r.publish(ctx, events.Event{
		Type:      events.TypeRequestStart,
		RequestID: req.ID,
		Model:     req.Model,
		Timestamp: start,
	})

	ctx, cancel := context.WithTimeout(ctx, r.overallDeadline)
	defer cancel()

	var attemptErrs []domain.AttemptError
	var attempted []string

	for _, c := range cands {
		if ctx.Err() != nil {
			break
		}
		attempted = append(attempted, c.providerID)
		attemptStart := time.Now()

		resp, err := r.attempt(ctx, c, req)
		if err == nil {
			r.noteSuccess(ctx, c, req, attemptStart)
			resp.Metadata.FallbackUsed = len(attempted) > 1
			resp.Metadata.AttemptedProviders = attempted
			resp.Metadata.Streaming = false
			r.finalizeUsage(resp, req)
			r.attachCost(resp)
			r.publish(ctx, events.Event{
				Type:           events.TypeRequestEnd,
				RequestID:      req.ID,
				Model:          req.Model,
				Provider:       resp.Provider,
				FallbackUsed:   resp.Metadata.FallbackUsed,
				Usage:          resp.Usage,
				UsageEstimated: resp.Metadata.UsageEstimated,
				Cost:           resp.Cost,
				DurationMs:     time.Since(start).Milliseconds(),
				Timestamp:      time.Now().UTC(),
			})
			span.SetAttributes(
				attribute.String("provider", resp.Provider),
				attribute.Bool("fallback_used", resp.Metadata.FallbackUsed))
			return resp, nil
		}

		kind := r.noteFailure(ctx, c, req, attemptStart, err)
		if !kind.Retryable() {
			span.SetStatus(codes.Error, string(kind))
			return nil, &domain.RoutingError{
				Kind:     domain.RoutingInvalidRequest,
				Attempts: append(attemptErrs, domain.AttemptError{ProviderID: c.providerID, Kind: kind}),
				Message:  err.Error(),
			}
		}
		attemptErrs = append(attemptErrs, domain.AttemptError{ProviderID: c.providerID, Kind: kind})
	}

	rerr := r.exhausted(ctx, req, attemptErrs)
	span.SetStatus(codes.Error, string(rerr.Kind))
	return nil, rerr
}

// attempt dispatches one candidate under the per-attempt timeout. The
// model name is rewritten to the candidate's upstream model.
func (r *Router) attempt(ctx context.Context, c candidate, req *domain.CanonicalRequest) (*domain.CanonicalResponse, error) {
	p, ok := r.registry.Get(c.providerID)
	if !ok {
		return nil, &domain.ProviderError{
			Kind:       domain.ErrKindUnknown,
			ProviderID: c.providerID,
			Message:    "provider not registered",
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
	defer cancel()

	upstream := *req
	upstream.Model = c.model
	return p.Process(attemptCtx, &upstream)
}

// withRequestID returns req with a generated id, copying first so the
// caller's request stays untouched.
func withRequestID(req *domain.CanonicalRequest) *domain.CanonicalRequest {
	if req.ID != "" {
		return req
	}
	withID := *req
	withID.ID = uuid.NewString()
	return &withID
}

// outcomeFor classifies a failed attempt's terminal outcome.
func outcomeFor(kind domain.ErrorKind) domain.AttemptOutcome {
	if kind == domain.ErrKindTimeout {
		return domain.AttemptOutcomeTimeout
	}
	return domain.AttemptOutcomeError
}

func (r *Router) noteSuccess(ctx context.Context, c candidate, req *domain.CanonicalRequest, startedAt time.Time) {
	ra := domain.RoutingAttempt{
		ProviderID: c.providerID,
		StartedAt:  startedAt,
		Outcome:    domain.AttemptOutcomeSuccess,
	}
	r.logger.DebugContext(ctx, "provider attempt succeeded",
		slog.String("request_id", req.ID),
		slog.String("provider", ra.ProviderID),
		slog.String("outcome", string(ra.Outcome)),
		slog.Duration("attempt_duration", time.Since(ra.StartedAt)))
}

// noteFailure classifies a failed attempt, reports it to the health
// monitor and publishes the attempt event. It returns the error kind.
func (r *Router) noteFailure(ctx context.Context, c candidate, req *domain.CanonicalRequest, startedAt time.Time, err error) domain.ErrorKind {
	kind := domain.ErrKindUnknown
	if pe, ok := domain.AsProviderError(err); ok {
		kind = pe.Kind
	}
	ra := domain.RoutingAttempt{
		ProviderID: c.providerID,
		StartedAt:  startedAt,
		Outcome:    outcomeFor(kind),
		ErrorKind:  kind,
	}
	r.health.ReportFailure(c.providerID, kind)
	r.logger.WarnContext(ctx, "provider attempt failed",
		slog.String("request_id", req.ID),
		slog.String("provider", ra.ProviderID),
		slog.String("outcome", string(ra.Outcome)),
		slog.String("kind", string(kind)),
		slog.Duration("attempt_duration", time.Since(ra.StartedAt)),
		slog.String("error", err.Error()))
	r.publish(ctx, events.Event{
		Type:      events.TypeAttemptFailed,
		RequestID: req.ID,
		Model:     req.Model,
		Provider:  c.providerID,
		ErrorKind: string(kind),
		Timestamp: time.Now().UTC(),
	})
	return kind
}

func (r *Router) exhausted(ctx context.Context, req *domain.CanonicalRequest, attemptErrs []domain.AttemptError) *domain.RoutingError {
	msg := "all providers failed"
	if ctx.Err() != nil {
		msg = "routing deadline exceeded"
	}
	rerr := &domain.RoutingError{
		Kind:     domain.RoutingAllProvidersFailed,
		Attempts: attemptErrs,
		Message:  msg,
	}
	r.publish(ctx, events.Event{
		Type:      events.TypeRequestFailed,
		RequestID: req.ID,
		Model:     req.Model,
		ErrorKind: string(rerr.Kind),
		Attempts:  attemptErrs,
		Timestamp: time.Now().UTC(),
	})
	return rerr
}

func (r *Router) checkBudget(ctx context.Context, req *domain.CanonicalRequest) error {
	if r.budget == nil {
		return nil
	}
	if err := r.budget(ctx, req); err != nil {
		return &domain.RoutingError{
			Kind:    domain.RoutingBudgetExceeded,
			Message: err.Error(),
		}
	}
	return nil
}

// finalizeUsage fills in estimated token counts when the provider did not
// report any.
func (r *Router) finalizeUsage(resp *domain.CanonicalResponse, req *domain.CanonicalRequest) {
	if resp.Usage.TotalTokens > 0 || r.estimator == nil {
		return
	}
	resp.Usage = r.estimator.Estimate(req, resp.Content, resp.Model)
	resp.Metadata.UsageEstimated = true
}

// attachCost attributes cost from the price table. An unpriced pair
// leaves Cost nil.
func (r *Router) attachCost(resp *domain.CanonicalResponse) {
	if r.pricing == nil {
		return
	}
	cost, err := r.pricing.Cost(resp.Usage, resp.Provider, resp.Model)
	if err != nil {
		return
	}
	resp.Cost = &cost
}

func (r *Router) publish(ctx context.Context, ev events.Event) {
	if r.sink == nil {
		return
	}
	r.sink.Publish(ctx, ev)
}
