// Package graphgateway provides a caching and access-control gateway in
// front of a GraphQL backend.
//
// The Gateway type is the main entry point: create one with [New], then serve
// requests through CallTool (catalog tools, backed by an LRU tool cache) or
// RunQuery (named documents, backed by a size-bounded query cache). Every
// request passes the same pipeline: rate-limit check, cache lookup, backend
// execution, cache store. Cache trouble never fails a request; the gateway
// recomputes and moves on.
//
// Cache bounds, TTL policy, rate-limit ceilings, and the backend endpoint are
// configured via [Config], loadable from a YAML or JSON file with
// [LoadConfig].
package graphgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/arbor-labs/graph-gateway/auth"
	"github.com/arbor-labs/graph-gateway/internal/cachekey"
	"github.com/arbor-labs/graph-gateway/internal/catalog"
	"github.com/arbor-labs/graph-gateway/internal/logging"
	"github.com/arbor-labs/graph-gateway/internal/metrics"
	"github.com/arbor-labs/graph-gateway/internal/querycache"
	"github.com/arbor-labs/graph-gateway/internal/toolcache"
	"github.com/arbor-labs/graph-gateway/ratelimit"
)

// ── Events ──────────────────────────────────────────────────────────────────

// EventHookFunc is called asynchronously for gateway lifecycle events.
// Hooks must not block for long periods; each invocation runs in its own
// goroutine with cancellation detached from the originating request.
type EventHookFunc func(ctx context.Context, subject string, data map[string]interface{})

// Event subjects passed to registered hooks.
const (
	SubjectRequestCompleted = "gateway.request.completed"
	SubjectRequestDenied    = "gateway.request.denied"
	SubjectRequestFailed    = "gateway.request.failed"
)

// ── Errors ──────────────────────────────────────────────────────────────────

var (
	// ErrUnknownTool is returned for tool names absent from the catalog.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrForbidden is returned when the caller's tier is below the
	// minimum tier a tool declares.
	ErrForbidden = errors.New("operation requires a higher tier")
	// ErrInvalidParams wraps tool parameter validation failures.
	ErrInvalidParams = errors.New("invalid parameters")
)

// Backend executes GraphQL documents against the upstream service.
// *graph.Client satisfies it.
type Backend interface {
	Execute(ctx context.Context, operationName, query string, variables map[string]any) (json.RawMessage, error)
}

// Result is the outcome of a served tool call or named query.
type Result struct {
	Data     json.RawMessage
	CacheHit bool
}

// ── Gateway ─────────────────────────────────────────────────────────────────

// Gateway routes tool calls and named queries through rate limiting and the
// response caches to a GraphQL backend. All methods are safe for concurrent
// use.
type Gateway struct {
	mu         sync.RWMutex
	config     Config
	queryCache *querycache.Cache[json.RawMessage]
	toolCache  *toolcache.Cache[json.RawMessage]
	limiter    *ratelimit.Store
	hooks      []EventHookFunc

	// catalog is immutable after New; config reloads rebuild the caches
	// and limiter but never touch it.
	catalog catalog.Catalog
	backend Backend
	flight  singleflight.Group
}

// New creates a Gateway from cfg, loading the tool catalog and building the
// caches and rate limiter. The backend client is owned by the caller.
func New(cfg Config, backend Backend) (*Gateway, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cat, err := catalog.Load()
	if err != nil {
		return nil, fmt.Errorf("loading tool catalog: %w", err)
	}
	g := &Gateway{config: cfg, backend: backend, catalog: cat}
	g.buildStoresLocked()
	return g, nil
}

// buildStoresLocked (re)creates the caches and the limiter from g.config.
// Callers must hold g.mu for writing.
func (g *Gateway) buildStoresLocked() {
	g.queryCache = querycache.New[json.RawMessage](g.config.QueryCache.CacheConfig())
	g.toolCache = toolcache.New[json.RawMessage](toolcache.Config{
		Capacity: g.config.ToolCache.MaxEntries,
		Policy:   g.ttlPolicyLocked(),
	})
	g.limiter = ratelimit.NewStore(g.config.RateLimit.Window(), g.config.RateLimit.TierLimits())
}

// ttlPolicyLocked composes the TTL table: catalog ttl_seconds first, then
// config overrides on top. An override of 0 disables caching for that tool.
func (g *Gateway) ttlPolicyLocked() toolcache.Policy {
	policy := g.catalog.TTLPolicy(g.config.ToolCache.DefaultTTL())
	for name, secs := range g.config.ToolCache.TTLOverrides {
		policy.TTLs[name] = time.Duration(secs) * time.Second
	}
	return policy
}

func (g *Gateway) queries() *querycache.Cache[json.RawMessage] {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.queryCache
}

func (g *Gateway) tools() *toolcache.Cache[json.RawMessage] {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.toolCache
}

func (g *Gateway) rateLimiter() *ratelimit.Store {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.limiter
}

// Catalog returns a copy of the loaded tool catalog.
func (g *Gateway) Catalog() catalog.Catalog {
	cp := make(catalog.Catalog, len(g.catalog))
	maps.Copy(cp, g.catalog)
	return cp
}

// Tools returns the catalog tools sorted by name, for the discovery endpoint.
func (g *Gateway) Tools() []catalog.Tool {
	names := g.catalog.Names()
	out := make([]catalog.Tool, 0, len(names))
	for _, name := range names {
		tool, _ := g.catalog.Get(name)
		out = append(out, tool)
	}
	return out
}

// ── Request pipeline ────────────────────────────────────────────────────────

// CheckRateLimit counts one request against the caller's fixed window and
// returns the verdict. Callers that receive Allowed=false should surface
// Result.ResetTime as a retry hint.
func (g *Gateway) CheckRateLimit(caller auth.Context) ratelimit.Result {
	res := g.rateLimiter().Check(caller.LimiterKey(), caller.Tier)
	if !res.Allowed {
		metrics.RateLimitRejections.WithLabelValues(limiterKeyType(caller)).Inc()
	}
	return res
}

func limiterKeyType(caller auth.Context) string {
	if caller.Authenticated {
		return "api_key"
	}
	return "ip"
}

// CallTool serves one invocation of a catalog tool. The pipeline is: rate
// limit, tier check, parameter validation, tool cache lookup, backend
// execution with identical in-flight calls collapsed, cache store.
//
// A *ratelimit.Error is returned when the caller is over its window limit.
// ErrUnknownTool, ErrForbidden, and ErrInvalidParams report the other local
// rejections; anything else comes from the backend.
func (g *Gateway) CallTool(ctx context.Context, caller auth.Context, toolName string, params map[string]any) (Result, error) {
	start := time.Now()

	if res := g.CheckRateLimit(caller); !res.Allowed {
		return Result{}, g.denyRateLimited(ctx, "tool", toolName, caller, res, start)
	}

	tool, ok := g.catalog.Get(toolName)
	if !ok {
		metrics.RequestsTotal.WithLabelValues("tool", toolName, "rejected").Inc()
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownTool, toolName)
	}
	if caller.Tier < tool.Tier() {
		metrics.RequestsTotal.WithLabelValues("tool", toolName, "rejected").Inc()
		logging.FromContext(ctx).Warn("tool call denied",
			"tool", toolName, "caller_tier", caller.Tier.String(), "required_tier", tool.MinTier)
		data := eventData(ctx, "tool", toolName, caller, time.Since(start))
		data["outcome"] = "denied"
		g.publishEvent(ctx, SubjectRequestDenied, data)
		return Result{}, fmt.Errorf("%w: %s requires tier %s", ErrForbidden, toolName, tool.MinTier)
	}
	if err := tool.ValidateParams(params); err != nil {
		metrics.RequestsTotal.WithLabelValues("tool", toolName, "rejected").Inc()
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	cacheable := g.tools().Policy().Cacheable(toolName)
	if cacheable {
		if data, ok := g.tools().Get(toolName, params); ok {
			g.finish(ctx, "tool", toolName, caller, start, true)
			return Result{Data: data, CacheHit: true}, nil
		}
	}

	flightKey := ""
	if key, err := cachekey.ToolKey(toolName, params); err == nil {
		flightKey = "tool:" + key
	}
	data, err := g.execute(ctx, flightKey, toolName, tool.Query, params)
	if err != nil {
		g.fail(ctx, "tool", toolName, caller, start, err)
		return Result{}, err
	}
	if cacheable {
		g.tools().Set(toolName, params, data)
	}
	g.finish(ctx, "tool", toolName, caller, start, false)
	return Result{Data: data}, nil
}

// RunQuery executes a named GraphQL document with response caching keyed by
// the operation name and its variables. The TTL comes from the same policy
// table tools use, so operation names listed there (or in the config
// overrides) follow their configured lifetime and everything else gets the
// default. The operation name is the cache identity: callers must use
// distinct names for distinct documents.
func (g *Gateway) RunQuery(ctx context.Context, caller auth.Context, operationName, query string, variables map[string]any) (Result, error) {
	start := time.Now()

	if operationName == "" || strings.TrimSpace(query) == "" {
		return Result{}, fmt.Errorf("%w: operation name and query document are required", ErrInvalidParams)
	}
	if res := g.CheckRateLimit(caller); !res.Allowed {
		return Result{}, g.denyRateLimited(ctx, "query", operationName, caller, res, start)
	}

	ttl := g.tools().Policy().TTL(operationName)
	key, keyErr := cachekey.QueryKey(operationName, variables)
	if keyErr != nil {
		logging.FromContext(ctx).Warn("query cache key build failed, bypassing cache",
			"operation", operationName, "error", keyErr.Error())
	}

	cacheable := keyErr == nil && ttl > 0
	if cacheable {
		if data, ok := g.queries().Get(key); ok {
			g.finish(ctx, "query", operationName, caller, start, true)
			return Result{Data: data, CacheHit: true}, nil
		}
	}

	flightKey := ""
	if keyErr == nil {
		flightKey = "query:" + key
	}
	data, err := g.execute(ctx, flightKey, operationName, query, variables)
	if err != nil {
		g.fail(ctx, "query", operationName, caller, start, err)
		return Result{}, err
	}
	if cacheable {
		g.queries().Set(key, data, ttl)
	}
	g.finish(ctx, "query", operationName, caller, start, false)
	return Result{Data: data}, nil
}

// execute runs one backend call. A non-empty flightKey collapses concurrent
// identical requests into a single flight; the first caller's context governs
// the shared call. An empty flightKey bypasses coalescing.
func (g *Gateway) execute(ctx context.Context, flightKey, operationName, query string, variables map[string]any) (json.RawMessage, error) {
	if flightKey == "" {
		return g.backend.Execute(ctx, operationName, query, variables)
	}
	v, err, _ := g.flight.Do(flightKey, func() (interface{}, error) {
		return g.backend.Execute(ctx, operationName, query, variables)
	})
	if err != nil {
		return nil, err
	}
	data, _ := v.(json.RawMessage)
	return data, nil
}

// ── Invalidation ────────────────────────────────────────────────────────────

// InvalidateTool drops every cached response for one tool and returns the
// number of entries removed.
func (g *Gateway) InvalidateTool(toolName string) int {
	return g.tools().InvalidateTool(toolName)
}

// InvalidateQuery drops the cached result for one operation name and
// variable set.
func (g *Gateway) InvalidateQuery(operationName string, variables map[string]any) error {
	key, err := cachekey.QueryKey(operationName, variables)
	if err != nil {
		return fmt.Errorf("building query key: %w", err)
	}
	g.queries().Delete(key)
	return nil
}

// ClearCaches empties both response caches. Rate-limit windows are not
// affected.
func (g *Gateway) ClearCaches() {
	g.queries().Clear()
	g.tools().Clear()
}

// ── Introspection ───────────────────────────────────────────────────────────

// QueryCacheStats reports current query cache occupancy.
func (g *Gateway) QueryCacheStats() querycache.Stats { return g.queries().Stats() }

// ToolCacheStats reports tool cache hit-rate counters and occupancy.
func (g *Gateway) ToolCacheStats() toolcache.Stats { return g.tools().Stats() }

// RateLimitSnapshot reports the limiter's window, tier limits, and tracked
// key count.
func (g *Gateway) RateLimitSnapshot() ratelimit.Snapshot { return g.rateLimiter().Snapshot() }

// RateLimitPeek reports the state of one limiter key without counting a
// request against it.
func (g *Gateway) RateLimitPeek(key string, tier ratelimit.Tier) ratelimit.Result {
	return g.rateLimiter().Peek(key, tier)
}

// ResetRateLimits drops every tracked rate-limit window. Callers start a
// fresh window on their next request.
func (g *Gateway) ResetRateLimits() { g.rateLimiter().Reset() }

// ── Configuration ───────────────────────────────────────────────────────────

// GetConfig returns a copy of the current configuration.
func (g *Gateway) GetConfig() Config {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.config
}

// ReloadConfig validates cfg and swaps it in. The caches and the limiter are
// rebuilt against the new bounds, so cached entries and window counters
// reset.
func (g *Gateway) ReloadConfig(cfg Config) error {
	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.config = cfg
	g.buildStoresLocked()
	return nil
}

// ConfigJSON snapshots the current configuration as JSON for the admin API.
func (g *Gateway) ConfigJSON() (json.RawMessage, error) {
	cfg := g.GetConfig()
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return data, nil
}

// ReloadConfigJSON applies a raw configuration document arriving over the
// admin API. The document replaces the whole config; it is schema-checked
// before anything is swapped.
func (g *Gateway) ReloadConfigJSON(data json.RawMessage) error {
	if err := ValidateConfigJSON(data); err != nil {
		return err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parsing config document: %w", err)
	}
	return g.ReloadConfig(cfg)
}

// ── Maintenance ─────────────────────────────────────────────────────────────

// Start launches the background maintenance loop: periodic expired-entry
// sweeps for both caches and limiter window GC. It returns immediately; the
// loop runs until ctx is cancelled. Sweeps are an optimization only, expiry
// is enforced lazily on every read regardless.
func (g *Gateway) Start(ctx context.Context) {
	go g.maintain(ctx)
}

func (g *Gateway) maintain(ctx context.Context) {
	cfg := g.GetConfig()
	querySweep := time.NewTicker(cfg.QueryCache.SweepInterval())
	toolSweep := time.NewTicker(cfg.ToolCache.SweepInterval())
	limiterGC := time.NewTicker(cfg.RateLimit.GCInterval())
	defer querySweep.Stop()
	defer toolSweep.Stop()
	defer limiterGC.Stop()

	log := logging.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-querySweep.C:
			if n := g.queries().CleanExpired(); n > 0 {
				log.Debug("query cache sweep", "removed", n)
			}
		case <-toolSweep.C:
			if n := g.tools().CleanExpired(); n > 0 {
				log.Debug("tool cache sweep", "removed", n)
			}
		case <-limiterGC.C:
			if n := g.rateLimiter().GC(); n > 0 {
				log.Debug("rate limiter gc", "removed", n)
			}
		}
	}
}

// Close releases gateway resources. The backend client and any admin stores
// are owned by the caller and closed separately.
func (g *Gateway) Close() error { return nil }

// ── Hooks ───────────────────────────────────────────────────────────────────

// AddHook registers fn to be called for every completed, denied, or failed
// request. Hooks run asynchronously and never block request handling.
func (g *Gateway) AddHook(fn EventHookFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hooks = append(g.hooks, fn)
}

// publishEvent invokes all registered hooks in their own goroutines.
// Cancellation is detached so hooks can outlive the request; context values
// such as the trace ID are preserved.
func (g *Gateway) publishEvent(ctx context.Context, subject string, data map[string]interface{}) {
	g.mu.RLock()
	hooks := make([]EventHookFunc, len(g.hooks))
	copy(hooks, g.hooks)
	g.mu.RUnlock()

	ctx = context.WithoutCancel(ctx)
	for _, fn := range hooks {
		go fn(ctx, subject, data)
	}
}

// ── Accounting helpers ──────────────────────────────────────────────────────

func eventData(ctx context.Context, kind, operation string, caller auth.Context, latency time.Duration) map[string]interface{} {
	return map[string]interface{}{
		"trace_id":   logging.TraceIDFromContext(ctx),
		"kind":       kind,
		"operation":  operation,
		"caller":     caller.LimiterKey(),
		"tier":       caller.Tier.String(),
		"latency_ms": latency.Milliseconds(),
		"timestamp":  time.Now().UTC(),
	}
}

func (g *Gateway) denyRateLimited(ctx context.Context, kind, operation string, caller auth.Context, res ratelimit.Result, start time.Time) error {
	metrics.RequestsTotal.WithLabelValues(kind, operation, "rejected").Inc()
	logging.FromContext(ctx).Warn("rate limit exceeded",
		"kind", kind, "operation", operation, "caller", caller.LimiterKey(),
		"tier", caller.Tier.String(), "retry_after", ratelimit.FormatRetryAfter(res.ResetTime))
	data := eventData(ctx, kind, operation, caller, time.Since(start))
	data["outcome"] = "rate_limited"
	data["limit"] = res.Limit
	g.publishEvent(ctx, SubjectRequestDenied, data)
	return &ratelimit.Error{Result: res}
}

func (g *Gateway) finish(ctx context.Context, kind, operation string, caller auth.Context, start time.Time, cacheHit bool) {
	latency := time.Since(start)
	metrics.RequestsTotal.WithLabelValues(kind, operation, "success").Inc()
	metrics.RequestDuration.WithLabelValues(kind, operation).Observe(latency.Seconds())
	logging.FromContext(ctx).Info("request completed",
		"kind", kind, "operation", operation,
		"cache_hit", cacheHit, "latency_ms", latency.Milliseconds())
	data := eventData(ctx, kind, operation, caller, latency)
	data["outcome"] = "ok"
	data["cache_hit"] = cacheHit
	g.publishEvent(ctx, SubjectRequestCompleted, data)
}

func (g *Gateway) fail(ctx context.Context, kind, operation string, caller auth.Context, start time.Time, err error) {
	latency := time.Since(start)
	metrics.RequestsTotal.WithLabelValues(kind, operation, "error").Inc()
	metrics.RequestDuration.WithLabelValues(kind, operation).Observe(latency.Seconds())
	logging.FromContext(ctx).Error("request failed",
		"kind", kind, "operation", operation,
		"latency_ms", latency.Milliseconds(), "error", err.Error())
	data := eventData(ctx, kind, operation, caller, latency)
	data["outcome"] = "error"
	data["error"] = err.Error()
	g.publishEvent(ctx, SubjectRequestFailed, data)
}
