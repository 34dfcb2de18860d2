// Package health tracks per-provider availability with background probes
// and consecutive-failure counting. Health is advisory: the router uses
// it to reorder candidates, never to remove them.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/switchyard-ai/switchyard/internal/domain"
)

// Monitor maintains the health table for a set of providers. Safe for
// concurrent use; probe results and failure reports serialize on a single
// lock.
type Monitor struct {
	interval  time.Duration
	threshold int
	logger    *slog.Logger

	mu        sync.RWMutex
	providers map[string]domain.Provider
	entries   map[string]*entry
}

type entry struct {
	health       domain.ProviderHealth
	consecutive  int
	lastProbeErr string
	probing      bool
}

// Option configures the monitor.
type Option func(*Monitor)

// WithInterval sets the background probing interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithThreshold sets the consecutive-failure count at which a provider
// becomes unhealthy. Counts below it mark the provider degraded.
func WithThreshold(n int) Option {
	return func(m *Monitor) { m.threshold = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// NewMonitor creates a monitor over the given providers. Every provider
// starts healthy; unknown is not a state.
func NewMonitor(providers []domain.Provider, opts ...Option) *Monitor {
	m := &Monitor{
		interval:  30 * time.Second,
		threshold: 3,
		logger:    slog.Default(),
		providers: make(map[string]domain.Provider, len(providers)),
		entries:   make(map[string]*entry, len(providers)),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, p := range providers {
		m.providers[p.Name()] = p
		m.entries[p.Name()] = &entry{
			health: domain.ProviderHealth{
				ProviderID:    p.Name(),
				Status:        domain.StatusHealthy,
				LastCheckedAt: time.Now(),
			},
		}
	}
	return m
}

// Start runs the probe loop until ctx is cancelled. It probes once
// immediately so the table reflects reality before the first tick.
func (m *Monitor) Start(ctx context.Context) {
	m.probeAll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeAll(ctx)
		}
	}
}

func (m *Monitor) probeAll(ctx context.Context) {
	m.mu.RLock()
	providers := make([]domain.Provider, 0, len(m.providers))
	for _, p := range m.providers {
		providers = append(providers, p)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, p := range providers {
		wg.Add(1)
		go func(p domain.Provider) {
			defer wg.Done()
			m.Probe(ctx, p.Name())
		}(p)
	}
	wg.Wait()
}

// Probe runs one health check against the named provider and records the
// result.
func (m *Monitor) Probe(ctx context.Context, providerID string) {
	m.mu.RLock()
	p, ok := m.providers[providerID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	h := p.HealthCheck(ctx)
	m.record(providerID, h)
}

func (m *Monitor) record(providerID string, h domain.ProviderHealth) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[providerID]
	if !ok {
		return
	}

	prev := e.health.Status
	if h.Status == domain.StatusHealthy {
		e.consecutive = 0
		e.lastProbeErr = ""
	} else {
		e.consecutive++
		e.lastProbeErr = h.Detail
		if e.consecutive >= m.threshold {
			h.Status = domain.StatusUnhealthy
		} else {
			h.Status = domain.StatusDegraded
		}
	}
	e.health = h

	if h.Status != prev {
		m.logger.Info("provider health transition",
			slog.String("provider", providerID),
			slog.String("from", string(prev)),
			slog.String("to", string(h.Status)),
			slog.Int("consecutive_failures", e.consecutive),
			slog.String("detail", e.lastProbeErr))
	}
}

// ReportFailure notes a routing-time failure against a provider and
// triggers an out-of-band probe so the table converges faster than the
// next tick. Auth and request-shape errors say nothing about provider
// availability and are ignored. At most one out-of-band probe per
// provider is in flight; further reports coalesce into it.
func (m *Monitor) ReportFailure(providerID string, kind domain.ErrorKind) {
	if !kind.Retryable() {
		return
	}

	m.mu.Lock()
	e, ok := m.entries[providerID]
	if !ok || e.probing {
		m.mu.Unlock()
		return
	}
	e.probing = true
	m.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		m.Probe(ctx, providerID)

		m.mu.Lock()
		e.probing = false
		m.mu.Unlock()
	}()
}

// Current returns the health snapshot for one provider. An unregistered
// id reports healthy so routing never stalls on missing bookkeeping.
func (m *Monitor) Current(providerID string) domain.ProviderHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.entries[providerID]; ok {
		return e.health
	}
	return domain.ProviderHealth{ProviderID: providerID, Status: domain.StatusHealthy}
}

// Snapshot returns the health of every registered provider.
func (m *Monitor) Snapshot() []domain.ProviderHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ProviderHealth, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.health)
	}
	return out
}
