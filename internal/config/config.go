// Package config loads the engine configuration from a YAML file with
// environment variable overrides. Configuration is read once at startup;
// there is no hot reload.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Defaults applied when the configuration leaves a value unset.
const (
	DefaultAttemptTimeout     = 30 * time.Second
	DefaultProbeTimeout       = 5 * time.Second
	DefaultHealthInterval     = 30 * time.Second
	DefaultUnhealthyThreshold = 3
	DefaultServerTimeout      = 120 * time.Second

	// The overall routing deadline defaults to this multiple of the
	// per-attempt timeout.
	DefaultDeadlineMultiplier = 3
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig     `koanf:"server"`
	Engine    EngineConfig     `koanf:"engine"`
	Providers []ProviderConfig `koanf:"providers"`
	Models    []ModelRoute     `koanf:"models"`
	Pricing   []PricingEntry   `koanf:"pricing"`
	Ledger    LedgerConfig     `koanf:"ledger"`
}

// ServerConfig configures the optional HTTP host.
type ServerConfig struct {
	Port           int    `koanf:"port"`
	RequestTimeout string `koanf:"request_timeout"`
}

// EngineConfig configures routing timeouts and health probing.
type EngineConfig struct {
	AttemptTimeout  string       `koanf:"attempt_timeout"`
	OverallDeadline string       `koanf:"overall_deadline"`
	Health          HealthConfig `koanf:"health"`
}

// HealthConfig configures the background health monitor.
type HealthConfig struct {
	Interval           string `koanf:"interval"`
	ProbeTimeout       string `koanf:"probe_timeout"`
	UnhealthyThreshold int    `koanf:"unhealthy_threshold"`
}

// ProviderConfig describes one upstream provider adapter.
type ProviderConfig struct {
	ID             string `koanf:"id"`
	Type           string `koanf:"type"` // anthropic, openai
	BaseURL        string `koanf:"base_url"`
	APIKey         string `koanf:"api_key"`
	APIVersion     string `koanf:"api_version"`
	Timeout        string `koanf:"timeout"`
	MaxConnections int    `koanf:"max_connections"`
}

// RouteTarget is one (provider, upstream model) pair in a preference list.
type RouteTarget struct {
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
}

// ModelRoute maps a logical model alias to an ordered preference list:
// primary first, then fallbacks.
type ModelRoute struct {
	Alias   string        `koanf:"alias"`
	Targets []RouteTarget `koanf:"targets"`
}

// PricingEntry holds per-provider, per-model prices in USD per million
// tokens.
type PricingEntry struct {
	Provider        string  `koanf:"provider"`
	Model           string  `koanf:"model"`
	PromptPer1M     float64 `koanf:"prompt_per_1m"`
	CompletionPer1M float64 `koanf:"completion_per_1m"`
}

// LedgerConfig configures the optional SQLite usage ledger sink.
type LedgerConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads configuration from the given YAML file (missing file is
// fine) and applies SWYD_-prefixed environment overrides, e.g.
// SWYD_SERVER__PORT=9090.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("SWYD_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "SWYD_")), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	if !k.Exists("server.port") {
		k.Set("server.port", 8080)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Substitute ${VAR} references in credentials so keys never live in
	// the config file itself.
	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = substituteEnvVars(cfg.Providers[i].APIKey)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider with empty id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider id: %s", p.ID)
		}
		seen[p.ID] = true
	}
	for _, route := range c.Models {
		if len(route.Targets) == 0 {
			return fmt.Errorf("model alias %s has no targets", route.Alias)
		}
		for _, t := range route.Targets {
			if !seen[t.Provider] {
				return fmt.Errorf("unknown provider %s in route for model %s", t.Provider, route.Alias)
			}
		}
	}
	for _, e := range c.Pricing {
		if !seen[e.Provider] {
			return fmt.Errorf("unknown provider %s in pricing entry for model %s", e.Provider, e.Model)
		}
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// AttemptTimeout returns the per-attempt timeout for provider calls.
func (c EngineConfig) AttemptTimeoutValue() time.Duration {
	return parseDuration(c.AttemptTimeout, DefaultAttemptTimeout)
}

// OverallDeadlineValue returns the total routing deadline across all
// attempts.
func (c EngineConfig) OverallDeadlineValue() time.Duration {
	return parseDuration(c.OverallDeadline, DefaultDeadlineMultiplier*c.AttemptTimeoutValue())
}

// IntervalValue returns the background probing interval.
func (c HealthConfig) IntervalValue() time.Duration {
	return parseDuration(c.Interval, DefaultHealthInterval)
}

// ProbeTimeoutValue returns the per-probe timeout.
func (c HealthConfig) ProbeTimeoutValue() time.Duration {
	return parseDuration(c.ProbeTimeout, DefaultProbeTimeout)
}

// ThresholdValue returns the consecutive-failure count at which a
// provider is marked unhealthy.
func (c HealthConfig) ThresholdValue() int {
	if c.UnhealthyThreshold <= 0 {
		return DefaultUnhealthyThreshold
	}
	return c.UnhealthyThreshold
}

// TimeoutValue returns the provider's per-call timeout.
func (c ProviderConfig) TimeoutValue() time.Duration {
	return parseDuration(c.Timeout, DefaultAttemptTimeout)
}

// RequestTimeoutValue returns the HTTP server request timeout.
func (c ServerConfig) RequestTimeoutValue() time.Duration {
	return parseDuration(c.RequestTimeout, DefaultServerTimeout)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
