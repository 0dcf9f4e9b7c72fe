package graphgateway

import (
	"time"

	"github.com/arbor-labs/graph-gateway/internal/querycache"
	"github.com/arbor-labs/graph-gateway/ratelimit"
)

// Config holds the configuration for the graph gateway. Zero values mean
// "use the default"; the accessor methods below apply defaults so callers
// never read raw fields when wiring the gateway.
type Config struct {
	// Backend describes the upstream graph API.
	Backend BackendConfig `json:"backend" yaml:"backend"`
	// QueryCache bounds the named-query result cache.
	QueryCache QueryCacheConfig `json:"query_cache" yaml:"query_cache"`
	// ToolCache bounds the tool invocation cache.
	ToolCache ToolCacheConfig `json:"tool_cache" yaml:"tool_cache"`
	// RateLimit configures the fixed-window limiter.
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	// Auth configures session-token verification (optional).
	Auth AuthConfig `json:"auth" yaml:"auth"`
	// Admin configures the admin API and its persistence (optional).
	Admin AdminConfig `json:"admin" yaml:"admin"`
}

// BackendConfig describes the upstream graph API endpoint.
type BackendConfig struct {
	// URL is the base URL of the graph API, e.g. "https://graph.internal:8443".
	URL string `json:"url" yaml:"url"`
	// Token is an optional bearer token presented to the backend.
	Token string `json:"token,omitempty" yaml:"token,omitempty"`
	// TimeoutSeconds bounds a single backend request. 0 means 30s.
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds"`
	// Breaker configures the circuit breaker guarding the backend.
	Breaker BreakerConfig `json:"breaker" yaml:"breaker"`
}

// BreakerConfig configures the backend circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker. 0 means 5.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	// SuccessThreshold is the half-open success count that closes it. 0 means 1.
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold"`
	// OpenSeconds is how long the breaker stays open before probing. 0 means 30s.
	OpenSeconds int `json:"open_seconds" yaml:"open_seconds"`
}

// RequestTimeout returns the backend request timeout.
func (b BackendConfig) RequestTimeout() time.Duration {
	if b.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// OpenTimeout returns how long the breaker stays open before probing.
func (b BreakerConfig) OpenTimeout() time.Duration {
	if b.OpenSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(b.OpenSeconds) * time.Second
}

// QueryCacheConfig bounds the named-query result cache. Sizes are megabytes
// of estimated serialized payload, not precise heap accounting.
type QueryCacheConfig struct {
	// MaxEntries caps the number of cached query results. 0 means 1000.
	MaxEntries int `json:"max_entries" yaml:"max_entries"`
	// MaxTotalSizeMB caps the estimated total cache size. 0 means 50.
	MaxTotalSizeMB int `json:"max_total_size_mb" yaml:"max_total_size_mb"`
	// MaxEntrySizeMB caps a single entry; larger results are not cached.
	// 0 means 5.
	MaxEntrySizeMB int `json:"max_entry_size_mb" yaml:"max_entry_size_mb"`
	// SweepSeconds is the periodic expired-entry sweep interval. 0 means 300.
	SweepSeconds int `json:"sweep_seconds" yaml:"sweep_seconds"`
}

// CacheConfig converts the file representation into querycache bounds.
func (c QueryCacheConfig) CacheConfig() querycache.Config {
	return querycache.Config{
		MaxEntries:    c.MaxEntries,
		MaxTotalBytes: int64(c.MaxTotalSizeMB) << 20,
		MaxEntryBytes: int64(c.MaxEntrySizeMB) << 20,
	}
}

// SweepInterval returns the periodic sweep cadence.
func (c QueryCacheConfig) SweepInterval() time.Duration {
	if c.SweepSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.SweepSeconds) * time.Second
}

// ToolCacheConfig bounds the tool invocation cache.
type ToolCacheConfig struct {
	// MaxEntries caps the number of cached tool results. 0 means 500.
	MaxEntries int `json:"max_entries" yaml:"max_entries"`
	// DefaultTTLSeconds applies to tools without a catalog TTL or override.
	// 0 means 1800 (30 minutes).
	DefaultTTLSeconds int `json:"default_ttl_seconds" yaml:"default_ttl_seconds"`
	// TTLOverrides sets per-tool TTLs in seconds, overriding the catalog.
	// An explicit 0 disables caching for that tool.
	TTLOverrides map[string]int `json:"ttl_overrides,omitempty" yaml:"ttl_overrides,omitempty"`
	// SweepSeconds is the periodic expired-entry sweep interval. 0 means 300.
	SweepSeconds int `json:"sweep_seconds" yaml:"sweep_seconds"`
}

// DefaultTTL returns the fallback TTL for tools without an explicit policy.
func (c ToolCacheConfig) DefaultTTL() time.Duration {
	if c.DefaultTTLSeconds <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

// SweepInterval returns the periodic sweep cadence.
func (c ToolCacheConfig) SweepInterval() time.Duration {
	if c.SweepSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.SweepSeconds) * time.Second
}

// RateLimitConfig configures the fixed-window limiter.
type RateLimitConfig struct {
	// WindowSeconds is the counting window. 0 means 3600 (one hour).
	WindowSeconds int `json:"window_seconds" yaml:"window_seconds"`
	// Limits holds per-tier request ceilings. Zero fields keep the
	// production defaults (100 / 1000 / 5000).
	Limits ratelimit.Limits `json:"limits" yaml:"limits"`
	// GCSeconds is the expired-window cleanup interval. 0 means 300.
	GCSeconds int `json:"gc_seconds" yaml:"gc_seconds"`
}

// Window returns the counting window.
func (c RateLimitConfig) Window() time.Duration {
	if c.WindowSeconds <= 0 {
		return ratelimit.DefaultWindow
	}
	return time.Duration(c.WindowSeconds) * time.Second
}

// TierLimits returns the configured ceilings with defaults filled in per tier.
func (c RateLimitConfig) TierLimits() ratelimit.Limits {
	limits := ratelimit.DefaultLimits()
	if c.Limits.Anonymous > 0 {
		limits.Anonymous = c.Limits.Anonymous
	}
	if c.Limits.Authenticated > 0 {
		limits.Authenticated = c.Limits.Authenticated
	}
	if c.Limits.Admin > 0 {
		limits.Admin = c.Limits.Admin
	}
	return limits
}

// GCInterval returns the expired-window cleanup cadence.
func (c RateLimitConfig) GCInterval() time.Duration {
	if c.GCSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.GCSeconds) * time.Second
}

// AuthConfig configures session-token verification. When SessionSecret is
// empty, bearer tokens that look like JWTs are rejected and only API keys
// authenticate callers.
type AuthConfig struct {
	SessionSecret string `json:"session_secret,omitempty" yaml:"session_secret,omitempty"`
	SessionIssuer string `json:"session_issuer,omitempty" yaml:"session_issuer,omitempty"`
}

// AdminConfig configures the admin API and its backing stores.
type AdminConfig struct {
	// Enabled mounts the /admin API when true.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Driver selects the store backend: "sqlite" (default) or "postgres".
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"`
	// KeysDSN is the API-key store location (file path for sqlite,
	// connection string for postgres). Empty uses the sqlite default.
	KeysDSN string `json:"keys_dsn,omitempty" yaml:"keys_dsn,omitempty"`
	// RequestLogDSN enables the request audit log when set.
	RequestLogDSN string `json:"request_log_dsn,omitempty" yaml:"request_log_dsn,omitempty"`
	// ConfigDSN enables runtime-config persistence when set.
	ConfigDSN string `json:"config_dsn,omitempty" yaml:"config_dsn,omitempty"`
}

// StoreDriver returns the selected store driver, defaulting to sqlite.
func (a AdminConfig) StoreDriver() string {
	if a.Driver == "" {
		return "sqlite"
	}
	return a.Driver
}

// DefaultConfig returns the production defaults: a one-hour rate-limit window
// with 100/1000/5000 tier ceilings, a 1000-entry 50 MB query cache, and a
// 500-entry tool cache. The backend URL is left empty and must be supplied
// by config or environment before the gateway can start.
func DefaultConfig() Config {
	return Config{
		Backend: BackendConfig{
			TimeoutSeconds: 30,
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 1,
				OpenSeconds:      30,
			},
		},
		QueryCache: QueryCacheConfig{
			MaxEntries:     1000,
			MaxTotalSizeMB: 50,
			MaxEntrySizeMB: 5,
			SweepSeconds:   300,
		},
		ToolCache: ToolCacheConfig{
			MaxEntries:        500,
			DefaultTTLSeconds: 1800,
			SweepSeconds:      300,
		},
		RateLimit: RateLimitConfig{
			WindowSeconds: 3600,
			Limits:        ratelimit.DefaultLimits(),
			GCSeconds:     300,
		},
	}
}
