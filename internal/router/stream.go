package router

import (
	"context"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/switchyard-ai/switchyard/internal/domain"
	"github.com/switchyard-ai/switchyard/internal/events"
)

// RouteStream dispatches a streaming request. Establishment failures fail
// over exactly like non-streaming requests; once a stream is established,
// failover remains possible only until the first chunk has been delivered
// to the caller.
func (r *Router) RouteStream(ctx context.Context, req *domain.CanonicalRequest) (domain.Stream, error) {
	ctx, span := r.tracer.Start(ctx, "router.RouteStream",
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
		Streaming: true,
		Timestamp: start,
	})

	rs := &routedStream{
		r:         r,
		ctx:       ctx,
		req:       req,
		remaining: cands,
		start:     start,
	}
	if err := rs.establish(); err != nil {
		span.SetStatus(codes.Error, "establishment failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("provider", rs.current.providerID))
	return rs, nil
}

// routedStream wraps a provider stream with failover bookkeeping. Not
// safe for concurrent use, matching the domain.Stream contract.
type routedStream struct {
	r   *Router
	ctx context.Context
	req *domain.CanonicalRequest

	inner     domain.Stream
	current   candidate
	remaining []candidate

	attempted   []string
	attemptErrs []domain.AttemptError
	delivered   bool
	content     strings.Builder
	start       time.Time

	finished bool
	summary  domain.StreamSummary
}

// establish walks the remaining candidates until one accepts the stream.
// The adapter bounds establishment time; the stream itself lives under
// the caller's context.
func (s *routedStream) establish() error {
	for len(s.remaining) > 0 {
		if s.ctx.Err() != nil {
			break
		}
		c := s.remaining[0]
		s.remaining = s.remaining[1:]
		s.attempted = append(s.attempted, c.providerID)
		attemptStart := time.Now()

		p, ok := s.r.registry.Get(c.providerID)
		if !ok {
			s.attemptErrs = append(s.attemptErrs, domain.AttemptError{ProviderID: c.providerID, Kind: domain.ErrKindUnknown})
			continue
		}

		upstream := *s.req
		upstream.Model = c.model
		stream, err := p.ProcessStream(s.ctx, &upstream)
		if err == nil {
			s.r.noteSuccess(s.ctx, c, s.req, attemptStart)
			s.inner = stream
			s.current = c
			return nil
		}

		kind := s.r.noteFailure(s.ctx, c, s.req, attemptStart, err)
		if !kind.Retryable() {
			return &domain.RoutingError{
				Kind:     domain.RoutingInvalidRequest,
				Attempts: append(s.attemptErrs, domain.AttemptError{ProviderID: c.providerID, Kind: kind}),
				Message:  err.Error(),
			}
		}
		s.attemptErrs = append(s.attemptErrs, domain.AttemptError{ProviderID: c.providerID, Kind: kind})
	}
	return s.r.exhausted(s.ctx, s.req, s.attemptErrs)
}

// Recv returns the next chunk, transparently failing over to the next
// candidate if the stream breaks before anything was delivered.
func (s *routedStream) Recv() (domain.Chunk, error) {
	for {
		chunk, err := s.inner.Recv()
		if err == nil {
			s.delivered = true
			s.content.WriteString(chunk.Text)
			return chunk, nil
		}
		if err == io.EOF {
			s.finish()
			return domain.Chunk{}, io.EOF
		}

		// A broken stream counts against the provider like an upstream
		// failure unless the error carries its own classification.
		kind := domain.ErrKindUpstream5xx
		if pe, ok := domain.AsProviderError(err); ok {
			kind = pe.Kind
		}
		s.r.health.ReportFailure(s.current.providerID, kind)
		s.r.publish(s.ctx, events.Event{
			Type:      events.TypeAttemptFailed,
			RequestID: s.req.ID,
			Model:     s.req.Model,
			Provider:  s.current.providerID,
			Streaming: true,
			ErrorKind: string(kind),
			Timestamp: time.Now().UTC(),
		})

		if s.delivered || len(s.remaining) == 0 {
			s.r.publish(s.ctx, events.Event{
				Type:      events.TypeRequestFailed,
				RequestID: s.req.ID,
				Model:     s.req.Model,
				Provider:  s.current.providerID,
				Streaming: true,
				ErrorKind: string(kind),
				Timestamp: time.Now().UTC(),
			})
			return domain.Chunk{}, &domain.StreamError{
				Terminal:   true,
				ProviderID: s.current.providerID,
				Err:        err,
			}
		}

		// Nothing reached the caller yet; switch provider silently.
		s.attemptErrs = append(s.attemptErrs, domain.AttemptError{ProviderID: s.current.providerID, Kind: kind})
		s.inner.Close()
		if err := s.establish(); err != nil {
			return domain.Chunk{}, err
		}
	}
}

// finish enriches the terminal summary with routing provenance, estimated
// usage if needed, and publishes the accounting event.
func (s *routedStream) finish() {
	if s.finished {
		return
	}
	s.finished = true

	sum := s.inner.Summary()
	sum.FallbackUsed = len(s.attempted) > 1
	sum.AttemptedProviders = s.attempted
	if sum.Usage.TotalTokens == 0 && s.r.estimator != nil {
		sum.Usage = s.r.estimator.Estimate(s.req, s.content.String(), sum.Model)
		sum.UsageEstimated = true
	}
	s.summary = sum

	var cost *domain.Cost
	if s.r.pricing != nil {
		if c, err := s.r.pricing.Cost(sum.Usage, sum.Provider, sum.Model); err == nil {
			cost = &c
		}
	}
	s.r.publish(s.ctx, events.Event{
		Type:           events.TypeRequestEnd,
		RequestID:      s.req.ID,
		Model:          s.req.Model,
		Provider:       sum.Provider,
		Streaming:      true,
		FallbackUsed:   sum.FallbackUsed,
		Usage:          sum.Usage,
		UsageEstimated: sum.UsageEstimated,
		Cost:           cost,
		DurationMs:     time.Since(s.start).Milliseconds(),
		Timestamp:      time.Now().UTC(),
	})
}

// Summary returns the enriched terminal record once the stream has ended.
func (s *routedStream) Summary() domain.StreamSummary {
	if s.finished {
		return s.summary
	}
	sum := s.inner.Summary()
	sum.FallbackUsed = len(s.attempted) > 1
	sum.AttemptedProviders = s.attempted
	return sum
}

// Close releases the underlying stream.
func (s *routedStream) Close() error {
	if s.inner == nil {
		return nil
	}
	return s.inner.Close()
}

var _ domain.Stream = (*routedStream)(nil)
