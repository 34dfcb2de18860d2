// Package events publishes routing lifecycle events to pluggable sinks.
// Publishing is fire-and-forget from the router's perspective; a slow or
// failing sink must never block a request.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/switchyard-ai/switchyard/internal/domain"
)

// Event types.
const (
	TypeRequestStart  = "request_start"
	TypeAttemptFailed = "attempt_failed"
	TypeRequestEnd    = "request_end"
	TypeRequestFailed = "request_failed"
)

// Event is one routing lifecycle record.
type Event struct {
	Type           string                `json:"type"`
	RequestID      string                `json:"request_id"`
	Model          string                `json:"model"`
	Provider       string                `json:"provider,omitempty"`
	Streaming      bool                  `json:"streaming,omitempty"`
	FallbackUsed   bool                  `json:"fallback_used,omitempty"`
	Usage          domain.Usage          `json:"usage,omitempty"`
	UsageEstimated bool                  `json:"usage_estimated,omitempty"`
	Cost           *domain.Cost          `json:"cost,omitempty"`
	ErrorKind      string                `json:"error_kind,omitempty"`
	Attempts       []domain.AttemptError `json:"attempts,omitempty"`
	DurationMs     int64                 `json:"duration_ms,omitempty"`
	Timestamp      time.Time             `json:"timestamp"`
}

// Sink receives routing events. Implementations must be safe for
// concurrent use and should swallow their own errors.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

// LogSink writes events to structured logs.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink over the given logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(ctx context.Context, ev Event) {
	attrs := []any{
		slog.String("event", ev.Type),
		slog.String("request_id", ev.RequestID),
		slog.String("model", ev.Model),
	}
	if ev.Provider != "" {
		attrs = append(attrs, slog.String("provider", ev.Provider))
	}
	if ev.ErrorKind != "" {
		attrs = append(attrs, slog.String("error_kind", ev.ErrorKind))
	}
	if ev.Type == TypeRequestEnd {
		attrs = append(attrs,
			slog.Bool("fallback_used", ev.FallbackUsed),
			slog.Int("total_tokens", ev.Usage.TotalTokens),
			slog.Int64("duration_ms", ev.DurationMs))
		if ev.Cost != nil {
			attrs = append(attrs, slog.Float64("cost_usd", ev.Cost.TotalCost))
		}
	}
	s.logger.InfoContext(ctx, "routing event", attrs...)
}

// Fanout publishes to every sink in order.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, ev Event) {
	for _, s := range f {
		s.Publish(ctx, ev)
	}
}
