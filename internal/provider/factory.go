package provider

import (
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/switchyard-ai/switchyard/internal/config"
	"github.com/switchyard-ai/switchyard/internal/domain"
	"github.com/switchyard-ai/switchyard/internal/provider/anthropic"
	"github.com/switchyard-ai/switchyard/internal/provider/openai"
)

const defaultMaxConns = 32

// Build constructs a registry from configuration. probeTimeout bounds
// each adapter's health check call.
func Build(configs []config.ProviderConfig, probeTimeout time.Duration) (*Registry, error) {
	reg := NewRegistry()
	for _, cfg := range configs {
		p, err := New(cfg, probeTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create provider %s: %w", cfg.ID, err)
		}
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// New creates a single adapter from its configuration.
func New(cfg config.ProviderConfig, probeTimeout time.Duration) (domain.Provider, error) {
	httpClient := newHTTPClient(cfg)

	switch cfg.Type {
	case "anthropic":
		opts := []anthropic.Option{
			anthropic.WithHTTPClient(httpClient),
			anthropic.WithTimeout(cfg.TimeoutValue()),
			anthropic.WithHealthTimeout(probeTimeout),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		if cfg.APIVersion != "" {
			opts = append(opts, anthropic.WithAPIVersion(cfg.APIVersion))
		}
		return anthropic.New(cfg.ID, cfg.APIKey, opts...), nil

	case "openai":
		opts := []openai.Option{
			openai.WithHTTPClient(httpClient),
			openai.WithTimeout(cfg.TimeoutValue()),
			openai.WithHealthTimeout(probeTimeout),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(cfg.ID, cfg.APIKey, opts...), nil

	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
}

// newHTTPClient builds the adapter-owned HTTP client. Outbound
// concurrency is bounded per provider so a degraded upstream is not
// flooded with connections; timeouts are enforced via context
// cancellation, not a client-level deadline.
func newHTTPClient(cfg config.ProviderConfig) *http.Client {
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	transport := &http.Transport{
		MaxConnsPerHost:     maxConns,
		MaxIdleConnsPerHost: maxConns,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{Transport: otelhttp.NewTransport(transport)}
}
