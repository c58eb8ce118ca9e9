// Package config provides YAML-based configuration for insightkb.
// Configuration is resolved with a layered precedence: defaults → YAML file
// → env vars. Environment variables always win, so container deployments
// can override any file setting.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. INSIGHT_CONFIG environment variable
//  3. ~/.insightkb/config.yaml
//  4. ./insightkb.yaml
//
// If no file is found the system runs entirely from env vars and defaults.
//
// Unlike ambient-global configuration, the resolved Config is an immutable
// snapshot handed to each component constructor; nothing in the pipeline
// re-reads the environment after startup.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure for the enrichment
// pipeline and its HTTP surface.
type Config struct {
	// Enrichment configures the pipeline-wide behaviour.
	Enrichment EnrichmentConfig `yaml:"enrichment"`

	// Provider configures the external retrieval provider.
	Provider ProviderConfig `yaml:"provider"`

	// Scoring configures the relevance scorer.
	Scoring ScoringConfig `yaml:"scoring"`

	// Tokens configures the token optimizer budget.
	Tokens TokenConfig `yaml:"tokens"`

	// Resilience configures timeout, retry, and circuit-breaker behaviour.
	Resilience ResilienceConfig `yaml:"resilience"`

	// Cache configures the SQLite enrichment cache.
	Cache CacheConfig `yaml:"cache"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
}

// EnrichmentConfig holds pipeline-wide settings.
type EnrichmentConfig struct {
	// Enabled toggles the whole pipeline. When false, Enrich always
	// returns no context.
	Enabled bool `yaml:"enabled"`
	// FormatStyle selects the context template: standard, detailed, compact.
	FormatStyle string `yaml:"format_style"`
	// Deadline is the end-to-end wall-clock budget per query.
	Deadline Duration `yaml:"deadline"`
	// Metrics toggles Prometheus metric collection.
	Metrics bool `yaml:"metrics"`
	// Audit toggles the sanitised startup audit log.
	Audit bool `yaml:"audit"`
}

// ProviderConfig holds retrieval provider connection settings.
type ProviderConfig struct {
	// URL is the provider base URL.
	URL string `yaml:"url"`
	// Org is the provider organisation identifier.
	Org string `yaml:"org"`
	// Pipeline is the provider-side pipeline identifier scoped into the
	// retrieval endpoint path.
	Pipeline string `yaml:"pipeline"`
	// APIKey is the bearer token. Prefer env var INSIGHT_PROVIDER_API_KEY.
	APIKey string `yaml:"api_key"`
	// NumResults is the number of candidate passages requested per query.
	NumResults int `yaml:"num_results"`
	// Rerank asks the provider to apply its own reranking before returning.
	Rerank bool `yaml:"rerank"`
}

// ScoringConfig holds relevance scorer settings.
type ScoringConfig struct {
	// MinRelevance is the enhanced-score threshold below which documents
	// are discarded.
	MinRelevance float64 `yaml:"min_relevance"`
	// MaxPerSource caps documents per distinct source before backfill.
	MaxPerSource int `yaml:"max_per_source"`
}

// TokenConfig holds token budget settings.
type TokenConfig struct {
	// MaxTokens is the hard budget for the final context block.
	MaxTokens int `yaml:"max_tokens"`
	// BufferTokens is reserved headroom subtracted from MaxTokens.
	BufferTokens int `yaml:"buffer_tokens"`
	// OverflowPolicy decides what happens when a single irreducible unit
	// exceeds the budget: "truncate" (hard character cut) or "drop".
	OverflowPolicy string `yaml:"overflow_policy"`
}

// ResilienceConfig holds timeout, retry, and circuit-breaker settings.
type ResilienceConfig struct {
	// Timeout is the per-attempt deadline for the retrieval call.
	Timeout Duration `yaml:"timeout"`
	// MaxAttempts bounds the retry loop (first try included).
	MaxAttempts int `yaml:"max_attempts"`
	// BaseDelay is the initial backoff delay.
	BaseDelay Duration `yaml:"base_delay"`
	// MaxDelay caps the computed backoff delay.
	MaxDelay Duration `yaml:"max_delay"`
	// BackoffMultiplier is the exponential backoff factor.
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	// JitterMax is the maximum random jitter as a fraction of the delay.
	JitterMax float64 `yaml:"jitter_max"`
	// FailureThreshold is the absolute failure count that opens the breaker.
	FailureThreshold int `yaml:"failure_threshold"`
	// MinimumRequests is the sample size required before the breaker may open.
	MinimumRequests int `yaml:"minimum_requests"`
	// MonitoringWindow is the sliding window over which outcomes are counted.
	MonitoringWindow Duration `yaml:"monitoring_window"`
	// ResetTimeout is how long an open breaker waits before going half-open.
	ResetTimeout Duration `yaml:"reset_timeout"`
}

// CacheConfig holds enrichment cache settings.
type CacheConfig struct {
	// Enabled toggles the SQLite cache used for fallback and repeat queries.
	Enabled bool `yaml:"enabled"`
	// DBPath is the SQLite database path. Empty means the default
	// (~/.insightkb/cache.db).
	DBPath string `yaml:"db_path"`
	// TTL is how long a cached enrichment stays valid.
	TTL Duration `yaml:"ttl"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var
	// INSIGHT_API_KEY.
	APIKey string `yaml:"api_key"`
	// RateLimit is requests/second allowed per client IP.
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the per-IP burst allowance.
	RateBurst int `yaml:"rate_burst"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}


// Duration wraps [time.Duration] so YAML values can be written either as Go
// duration strings ("5s", "500ms") or as integer milliseconds.
type Duration time.Duration

// Std returns the wrapped [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML accepts "5s"-style strings and integer milliseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("config: invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var ms int64
	if err := value.Decode(&ms); err != nil {
		return fmt.Errorf("config: invalid duration value on line %d", value.Line)
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

// Default returns the built-in configuration used when neither the YAML
// file nor the environment overrides a value.
func Default() *Config {
	return &Config{
		Enrichment: EnrichmentConfig{
			Enabled:     true,
			FormatStyle: "standard",
			Deadline:    Duration(5 * time.Second),
			Metrics:     true,
			Audit:       true,
		},
		Provider: ProviderConfig{
			NumResults: 10,
			Rerank:     true,
		},
		Scoring: ScoringConfig{
			MinRelevance: 0.7,
			MaxPerSource: 2,
		},
		Tokens: TokenConfig{
			MaxTokens:      4000,
			BufferTokens:   200,
			OverflowPolicy: "truncate",
		},
		Resilience: ResilienceConfig{
			Timeout:           Duration(5 * time.Second),
			MaxAttempts:       3,
			BaseDelay:         Duration(500 * time.Millisecond),
			MaxDelay:          Duration(10 * time.Second),
			BackoffMultiplier: 2.0,
			JitterMax:         0.2,
			FailureThreshold:  5,
			MinimumRequests:   10,
			MonitoringWindow:  Duration(time.Minute),
			ResetTimeout:      Duration(30 * time.Second),
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     Duration(15 * time.Minute),
		},
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      8080,
			RateLimit: 10,
			RateBurst: 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load resolves the configuration: defaults, then the first YAML file found
// (explicitPath wins over INSIGHT_CONFIG over the well-known locations),
// then environment variable overrides. The returned Config is a snapshot —
// callers must treat it as immutable.
func Load(explicitPath string, log *slog.Logger) (*Config, error) {
	cfg := Default()

	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars and defaults")
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
		log.Info("config: loaded YAML config", slog.String("path", path))
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolvedPath reports which config file Load would read for the given
// explicit path, or "" when none exists. Used for audit logging.
func ResolvedPath(explicit string) string {
	return resolveConfigPath(explicit)
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Tokens.BufferTokens >= c.Tokens.MaxTokens {
		return fmt.Errorf("config: buffer_tokens (%d) must be smaller than max_tokens (%d)",
			c.Tokens.BufferTokens, c.Tokens.MaxTokens)
	}
	if c.Scoring.MinRelevance < 0 || c.Scoring.MinRelevance > 1 {
		return fmt.Errorf("config: min_relevance must be in [0,1], got %g", c.Scoring.MinRelevance)
	}
	if c.Resilience.MaxAttempts < 1 {
		return fmt.Errorf("config: max_attempts must be at least 1, got %d", c.Resilience.MaxAttempts)
	}
	switch c.Tokens.OverflowPolicy {
	case "truncate", "drop":
	default:
		return fmt.Errorf("config: overflow_policy must be truncate or drop, got %q", c.Tokens.OverflowPolicy)
	}
	switch c.Enrichment.FormatStyle {
	case "standard", "detailed", "compact":
	default:
		return fmt.Errorf("config: format_style must be standard, detailed, or compact, got %q", c.Enrichment.FormatStyle)
	}
	if c.Enrichment.Enabled && c.Provider.URL == "" {
		return fmt.Errorf("config: provider url is required when enrichment is enabled")
	}
	return nil
}

// applyEnv overlays environment variables onto cfg. Env always wins over
// YAML and defaults; unset or unparsable values leave the field untouched.
func applyEnv(cfg *Config) {
	setString(&cfg.Provider.URL, "INSIGHT_PROVIDER_URL")
	setString(&cfg.Provider.Org, "INSIGHT_PROVIDER_ORG")
	setString(&cfg.Provider.Pipeline, "INSIGHT_PROVIDER_PIPELINE")
	setString(&cfg.Provider.APIKey, "INSIGHT_PROVIDER_API_KEY")
	setInt(&cfg.Provider.NumResults, "INSIGHT_NUM_RESULTS")
	setBool(&cfg.Provider.Rerank, "INSIGHT_RERANK")

	setBool(&cfg.Enrichment.Enabled, "INSIGHT_ENABLED")
	setString(&cfg.Enrichment.FormatStyle, "INSIGHT_FORMAT_STYLE")
	setDuration(&cfg.Enrichment.Deadline, "INSIGHT_DEADLINE")
	setBool(&cfg.Enrichment.Metrics, "INSIGHT_METRICS")
	setBool(&cfg.Enrichment.Audit, "INSIGHT_AUDIT")

	setFloat(&cfg.Scoring.MinRelevance, "INSIGHT_MIN_RELEVANCE")
	setInt(&cfg.Scoring.MaxPerSource, "INSIGHT_MAX_PER_SOURCE")

	setInt(&cfg.Tokens.MaxTokens, "INSIGHT_MAX_TOKENS")
	setInt(&cfg.Tokens.BufferTokens, "INSIGHT_BUFFER_TOKENS")
	setString(&cfg.Tokens.OverflowPolicy, "INSIGHT_OVERFLOW_POLICY")

	setDuration(&cfg.Resilience.Timeout, "INSIGHT_TIMEOUT")
	setInt(&cfg.Resilience.MaxAttempts, "INSIGHT_MAX_ATTEMPTS")
	setDuration(&cfg.Resilience.BaseDelay, "INSIGHT_BASE_DELAY")
	setDuration(&cfg.Resilience.MaxDelay, "INSIGHT_MAX_DELAY")
	setFloat(&cfg.Resilience.BackoffMultiplier, "INSIGHT_BACKOFF_MULTIPLIER")
	setFloat(&cfg.Resilience.JitterMax, "INSIGHT_JITTER_MAX")
	setInt(&cfg.Resilience.FailureThreshold, "INSIGHT_FAILURE_THRESHOLD")
	setInt(&cfg.Resilience.MinimumRequests, "INSIGHT_MINIMUM_REQUESTS")
	setDuration(&cfg.Resilience.MonitoringWindow, "INSIGHT_MONITORING_WINDOW")
	setDuration(&cfg.Resilience.ResetTimeout, "INSIGHT_RESET_TIMEOUT")

	setBool(&cfg.Cache.Enabled, "INSIGHT_CACHE_ENABLED")
	setString(&cfg.Cache.DBPath, "INSIGHT_CACHE_DB")
	setDuration(&cfg.Cache.TTL, "INSIGHT_CACHE_TTL")

	setString(&cfg.Server.Host, "INSIGHT_HOST")
	setInt(&cfg.Server.Port, "INSIGHT_PORT")
	setString(&cfg.Server.APIKey, "INSIGHT_API_KEY")
	setFloat(&cfg.Server.RateLimit, "INSIGHT_RATE_LIMIT")
	setInt(&cfg.Server.RateBurst, "INSIGHT_RATE_BURST")

	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("INSIGHT_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".insightkb", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("insightkb.yaml"); err == nil {
		return "insightkb.yaml"
	}

	return ""
}

// setString overwrites dst with the env value when set and non-empty.
func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setInt overwrites dst when the env value parses as an integer.
func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// setFloat overwrites dst when the env value parses as a float.
func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// setBool overwrites dst when the env value parses as a boolean.
func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.ToLower(v)); err == nil {
			*dst = b
		}
	}
}

// setDuration overwrites dst when the env value parses as a duration
// ("5s", "500ms") or as an integer number of milliseconds.
func setDuration(dst *Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = Duration(d)
		return
	}
	if ms, err := strconv.Atoi(v); err == nil {
		*dst = Duration(time.Duration(ms) * time.Millisecond)
	}
}
