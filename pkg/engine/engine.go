// Package engine assembles the routing engine from configuration and
// exposes it as an embeddable library surface.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/switchyard-ai/switchyard/internal/config"
	"github.com/switchyard-ai/switchyard/internal/domain"
	"github.com/switchyard-ai/switchyard/internal/events"
	"github.com/switchyard-ai/switchyard/internal/events/ledger"
	"github.com/switchyard-ai/switchyard/internal/health"
	"github.com/switchyard-ai/switchyard/internal/pricing"
	"github.com/switchyard-ai/switchyard/internal/provider"
	"github.com/switchyard-ai/switchyard/internal/router"
	"github.com/switchyard-ai/switchyard/internal/tokens"
)

// Option configures the engine.
type Option func(*options)

type options struct {
	logger *slog.Logger
	sinks  []events.Sink
	budget router.BudgetFunc
}

// WithLogger sets the logger used throughout the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSink adds an extra event sink alongside the built-in ones.
func WithSink(s events.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s) }
}

// WithBudget attaches a pre-dispatch budget check; a non-nil return
// rejects the request before any provider is contacted.
func WithBudget(fn router.BudgetFunc) Option {
	return func(o *options) { o.budget = fn }
}

// Engine is the assembled routing engine.
type Engine struct {
	registry *provider.Registry
	monitor  *health.Monitor
	router   *router.Router
	ledger   *ledger.Ledger
	logger   *slog.Logger

	cancelMonitor context.CancelFunc
}

// New builds an engine from configuration.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	registry, err := provider.Build(cfg.Providers, cfg.Engine.Health.ProbeTimeoutValue())
	if err != nil {
		return nil, fmt.Errorf("failed to build providers: %w", err)
	}
	if registry.Len() == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	providers := make([]domain.Provider, 0, registry.Len())
	for _, id := range registry.IDs() {
		p, _ := registry.Get(id)
		providers = append(providers, p)
	}

	monitor := health.NewMonitor(providers,
		health.WithInterval(cfg.Engine.Health.IntervalValue()),
		health.WithThreshold(cfg.Engine.Health.ThresholdValue()),
		health.WithLogger(o.logger))

	e := &Engine{
		registry: registry,
		monitor:  monitor,
		logger:   o.logger,
	}

	sinks := events.Fanout{events.NewLogSink(o.logger)}
	if cfg.Ledger.Enabled {
		l, err := ledger.Open(cfg.Ledger.Path, o.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open usage ledger: %w", err)
		}
		e.ledger = l
		sinks = append(sinks, l)
	}
	sinks = append(sinks, o.sinks...)

	routerOpts := []router.Option{
		router.WithPricing(pricing.NewTable(cfg.Pricing)),
		router.WithEstimator(tokens.NewEstimator()),
		router.WithSink(sinks),
		router.WithLogger(o.logger),
		router.WithAttemptTimeout(cfg.Engine.AttemptTimeoutValue()),
		router.WithOverallDeadline(cfg.Engine.OverallDeadlineValue()),
	}
	if o.budget != nil {
		routerOpts = append(routerOpts, router.WithBudget(o.budget))
	}
	e.router = router.New(registry, monitor, cfg.Models, routerOpts...)

	return e, nil
}

// Start launches the background health monitor. It returns immediately;
// the monitor runs until Close.
func (e *Engine) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancelMonitor = cancel
	go e.monitor.Start(ctx)
}

// Route dispatches a non-streaming request.
func (e *Engine) Route(ctx context.Context, req *domain.CanonicalRequest) (*domain.CanonicalResponse, error) {
	return e.router.Route(ctx, req)
}

// RouteStream dispatches a streaming request.
func (e *Engine) RouteStream(ctx context.Context, req *domain.CanonicalRequest) (domain.Stream, error) {
	return e.router.RouteStream(ctx, req)
}

// Snapshot returns the current provider health table.
func (e *Engine) Snapshot() []domain.ProviderHealth {
	return e.monitor.Snapshot()
}

// Close stops the health monitor and releases resources.
func (e *Engine) Close() error {
	if e.cancelMonitor != nil {
		e.cancelMonitor()
	}
	if e.ledger != nil {
		return e.ledger.Close()
	}
	return nil
}
