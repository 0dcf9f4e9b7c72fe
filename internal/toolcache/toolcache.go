// Package toolcache implements the LRU cache for named tool invocations.
// Lookup keys are SHA-256 digests of the tool name plus its canonicalised
// parameters; a secondary name-to-keys index makes selective invalidation
// possible despite the one-way keys. TTLs come from a per-tool Policy table.
package toolcache

import (
	"container/list"
	"math"
	"sync"
	"time"

	"github.com/arbor-labs/graph-gateway/internal/cachekey"
	"github.com/arbor-labs/graph-gateway/internal/logging"
	"github.com/arbor-labs/graph-gateway/internal/metrics"
)

const metricLabel = "tool"

// sweepEvery is the lookup cadence for opportunistic expired-entry sweeps.
const sweepEvery = 100

// DefaultCapacity caps the cache at 500 entries unless configured otherwise.
const DefaultCapacity = 500

// Config sizes a Cache and supplies its TTL policy.
type Config struct {
	Capacity int
	Policy   Policy
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.Policy.TTLs == nil && c.Policy.DefaultTTL == 0 {
		c.Policy = DefaultPolicy()
	}
	return c
}

type entry[T any] struct {
	key       string
	toolName  string
	value     T
	createdAt time.Time
	expiresAt time.Time
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
	Evictions  uint64  `json:"evictions"`
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	HitRate    float64 `json:"hit_rate"`
}

// Cache is a thread-safe LRU cache bounded by entry count. Both Get hits and
// Set refresh recency. The zero value is not usable; construct with New.
type Cache[T any] struct {
	mu      sync.Mutex
	cfg     Config
	items   map[string]*list.Element
	order   *list.List // front = most recently used
	byTool  map[string]map[string]struct{}
	hits    uint64
	misses  uint64
	evicts  uint64
	lookups uint64
}

// New creates a tool cache with the given capacity and policy.
func New[T any](cfg Config) *Cache[T] {
	return &Cache[T]{
		cfg:    cfg.withDefaults(),
		items:  make(map[string]*list.Element),
		order:  list.New(),
		byTool: make(map[string]map[string]struct{}),
	}
}

// Policy returns the TTL policy the cache was configured with.
func (c *Cache[T]) Policy() Policy {
	return c.cfg.Policy
}

// Get returns the cached result of a tool call, or false on miss. A hit
// marks the entry most recently used. Expired entries are deleted and
// reported as misses. Every 100th lookup triggers a full expired-entry
// sweep while the lock is already held.
func (c *Cache[T]) Get(toolName string, params map[string]any) (T, bool) {
	var zero T
	key, err := cachekey.ToolKey(toolName, params)
	if err != nil {
		logging.Logger.Warn("tool cache: key generation failed, treating as miss",
			"tool", toolName, "error", err)
		return zero, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lookups++
	if c.lookups%sweepEvery == 0 {
		c.sweepExpiredLocked()
	}

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		metrics.CacheMisses.WithLabelValues(metricLabel).Inc()
		return zero, false
	}

	ent := elem.Value.(*entry[T])
	if !time.Now().Before(ent.expiresAt) {
		c.removeElement(elem)
		metrics.CacheEvictions.WithLabelValues(metricLabel, "expired").Inc()
		c.misses++
		metrics.CacheMisses.WithLabelValues(metricLabel).Inc()
		return zero, false
	}

	c.order.MoveToFront(elem)
	c.hits++
	metrics.CacheHits.WithLabelValues(metricLabel).Inc()
	return ent.value, true
}

// Set stores the result of a tool call using the tool's policy TTL. Tools
// with a zero TTL are never stored. Inserting a new key at capacity evicts
// the least recently used entry first.
func (c *Cache[T]) Set(toolName string, params map[string]any, value T) {
	ttl := c.cfg.Policy.TTL(toolName)
	if ttl <= 0 {
		return
	}
	key, err := cachekey.ToolKey(toolName, params)
	if err != nil {
		logging.Logger.Warn("tool cache: key generation failed, skipping store",
			"tool", toolName, "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		ent := elem.Value.(*entry[T])
		ent.value = value
		ent.createdAt = now
		ent.expiresAt = now.Add(ttl)
		return
	}

	if c.order.Len() >= c.cfg.Capacity {
		c.removeLRU()
	}

	ent := &entry[T]{
		key:       key,
		toolName:  toolName,
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	c.items[key] = c.order.PushFront(ent)
	c.indexAdd(toolName, key)
	metrics.CacheEntries.WithLabelValues(metricLabel).Set(float64(c.order.Len()))
}

// InvalidateTool removes every cached entry belonging to toolName and
// reports how many were dropped. The name-to-keys index makes this a
// targeted operation rather than a full-cache clear.
func (c *Cache[T]) InvalidateTool(toolName string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, ok := c.byTool[toolName]
	if !ok {
		return 0
	}
	removed := 0
	for key := range keys {
		if elem, ok := c.items[key]; ok {
			c.removeElement(elem)
			metrics.CacheEvictions.WithLabelValues(metricLabel, "invalidated").Inc()
			removed++
		}
	}
	delete(c.byTool, toolName)
	return removed
}

// Clear empties the cache and resets all counters to zero. Calling it twice
// in a row is a no-op the second time.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.byTool = make(map[string]map[string]struct{})
	c.hits, c.misses, c.evicts, c.lookups = 0, 0, 0, 0
	metrics.CacheEntries.WithLabelValues(metricLabel).Set(0)
}

// Len returns the number of entries currently stored, expired included.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// CleanExpired removes every expired entry and reports how many were removed.
func (c *Cache[T]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepExpiredLocked()
}

// Stats returns hit/miss/eviction counters and the hit rate as a percentage
// rounded to two decimals. The rate is zero before the first lookup.
func (c *Cache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var rate float64
	if total := c.hits + c.misses; total > 0 {
		rate = math.Round(float64(c.hits)/float64(total)*100*100) / 100
	}
	return Stats{
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evicts,
		Entries:    c.order.Len(),
		MaxEntries: c.cfg.Capacity,
		HitRate:    rate,
	}
}

func (c *Cache[T]) sweepExpiredLocked() int {
	now := time.Now()
	removed := 0
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if !now.Before(elem.Value.(*entry[T]).expiresAt) {
			c.removeElement(elem)
			metrics.CacheEvictions.WithLabelValues(metricLabel, "expired").Inc()
			removed++
		}
		elem = next
	}
	return removed
}

func (c *Cache[T]) removeLRU() {
	if elem := c.order.Back(); elem != nil {
		c.removeElement(elem)
		c.evicts++
		metrics.CacheEvictions.WithLabelValues(metricLabel, "capacity").Inc()
	}
}

func (c *Cache[T]) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	ent := elem.Value.(*entry[T])
	delete(c.items, ent.key)
	c.indexRemove(ent.toolName, ent.key)
	metrics.CacheEntries.WithLabelValues(metricLabel).Set(float64(c.order.Len()))
}

func (c *Cache[T]) indexAdd(toolName, key string) {
	keys, ok := c.byTool[toolName]
	if !ok {
		keys = make(map[string]struct{})
		c.byTool[toolName] = keys
	}
	keys[key] = struct{}{}
}

func (c *Cache[T]) indexRemove(toolName, key string) {
	if keys, ok := c.byTool[toolName]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.byTool, toolName)
		}
	}
}
