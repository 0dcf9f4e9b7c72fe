// Package querycache implements the size-bounded TTL cache used for expensive
// graph query results. Entries are evicted oldest-inserted-first when either
// the entry-count or the aggregate-size ceiling would be exceeded; recency of
// access does not affect eviction order. Expiry is lazy on Get; periodic
// CleanExpired calls reclaim entries that are never read again.
package querycache

import (
	"container/list"
	"sync"
	"time"

	"github.com/arbor-labs/graph-gateway/internal/cachekey"
	"github.com/arbor-labs/graph-gateway/internal/logging"
	"github.com/arbor-labs/graph-gateway/internal/metrics"
)

const metricLabel = "query"

// Config bounds a Cache. Zero fields fall back to the package defaults.
type Config struct {
	// MaxEntries caps the number of stored entries.
	MaxEntries int
	// MaxTotalBytes caps the aggregate estimated size of all entries.
	MaxTotalBytes int64
	// MaxEntryBytes caps a single entry; larger payloads are rejected.
	MaxEntryBytes int64
}

// Defaults mirror the production configuration: 1000 entries, 50 MiB total,
// 5 MiB per entry.
const (
	DefaultMaxEntries    = 1000
	DefaultMaxTotalBytes = 50 << 20
	DefaultMaxEntryBytes = 5 << 20
)

func (c Config) withDefaults() Config {
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.MaxTotalBytes <= 0 {
		c.MaxTotalBytes = DefaultMaxTotalBytes
	}
	if c.MaxEntryBytes <= 0 {
		c.MaxEntryBytes = DefaultMaxEntryBytes
	}
	return c
}

type entry[T any] struct {
	key       string
	data      T
	expiresAt time.Time
	size      int64
}

// Stats is a point-in-time snapshot for observability endpoints.
type Stats struct {
	TotalEntries   int   `json:"total_entries"`
	ActiveEntries  int   `json:"active_entries"`
	ExpiredEntries int   `json:"expired_entries"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
	MaxSizeBytes   int64 `json:"max_size_bytes"`
	MaxEntries     int   `json:"max_entries"`
}

// Cache is a thread-safe TTL cache bounded by entry count and estimated
// total size. The zero value is not usable; construct with New.
type Cache[T any] struct {
	mu         sync.Mutex
	cfg        Config
	items      map[string]*list.Element
	order      *list.List // front = oldest inserted
	totalBytes int64
}

// New creates a query cache with the given bounds.
func New[T any](cfg Config) *Cache[T] {
	return &Cache[T]{
		cfg:   cfg.withDefaults(),
		items: make(map[string]*list.Element),
		order: list.New(),
	}
}

// Get returns the cached value for key, or false if missing or expired.
// Expired entries are deleted as a side effect.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	elem, ok := c.items[key]
	if !ok {
		metrics.CacheMisses.WithLabelValues(metricLabel).Inc()
		return zero, false
	}

	ent := elem.Value.(*entry[T])
	if !time.Now().Before(ent.expiresAt) {
		c.removeElement(elem)
		metrics.CacheEvictions.WithLabelValues(metricLabel, "expired").Inc()
		metrics.CacheMisses.WithLabelValues(metricLabel).Inc()
		return zero, false
	}

	metrics.CacheHits.WithLabelValues(metricLabel).Inc()
	return ent.data, true
}

// Set stores data under key with the given TTL. The payload's serialized size
// is estimated first; payloads above MaxEntryBytes are rejected with a
// warning log and the cache is left unchanged. Replacing an existing key
// releases its old size before the new entry is accounted. Oldest-inserted
// entries are evicted until both the size and count ceilings hold.
func (c *Cache[T]) Set(key string, data T, ttl time.Duration) {
	size, err := cachekey.EstimateSize(data)
	if err != nil {
		logging.Logger.Warn("query cache: size estimate failed, skipping store",
			"key", key, "error", err)
		return
	}
	if int64(size) > c.cfg.MaxEntryBytes {
		logging.Logger.Warn("query cache: entry exceeds size limit, skipping store",
			"key", key, "size_bytes", size, "max_entry_bytes", c.cfg.MaxEntryBytes)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}

	for c.order.Len() > 0 &&
		(c.order.Len() >= c.cfg.MaxEntries || c.totalBytes+int64(size) > c.cfg.MaxTotalBytes) {
		c.removeOldest()
	}

	ent := &entry[T]{
		key:       key,
		data:      data,
		expiresAt: time.Now().Add(ttl),
		size:      int64(size),
	}
	c.items[key] = c.order.PushBack(ent)
	c.totalBytes += ent.size
	metrics.CacheEntries.WithLabelValues(metricLabel).Set(float64(c.order.Len()))
}

// Delete removes an entry and releases its accounted size.
func (c *Cache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
		metrics.CacheEvictions.WithLabelValues(metricLabel, "invalidated").Inc()
	}
}

// Clear removes all entries. Calling it on an empty cache is a no-op.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.totalBytes = 0
	metrics.CacheEntries.WithLabelValues(metricLabel).Set(0)
}

// Len returns the number of entries currently stored, expired included.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// CleanExpired removes every entry whose TTL has elapsed and reports how many
// were removed. Get already treats expired entries as absent, so this only
// reclaims memory from keys that are never read again.
func (c *Cache[T]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

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

// Stats returns a snapshot of entry counts and size accounting.
func (c *Cache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	expired := 0
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		if !now.Before(elem.Value.(*entry[T]).expiresAt) {
			expired++
		}
	}
	total := c.order.Len()
	return Stats{
		TotalEntries:   total,
		ActiveEntries:  total - expired,
		ExpiredEntries: expired,
		TotalSizeBytes: c.totalBytes,
		MaxSizeBytes:   c.cfg.MaxTotalBytes,
		MaxEntries:     c.cfg.MaxEntries,
	}
}

func (c *Cache[T]) removeOldest() {
	if elem := c.order.Front(); elem != nil {
		c.removeElement(elem)
		metrics.CacheEvictions.WithLabelValues(metricLabel, "capacity").Inc()
	}
}

func (c *Cache[T]) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	ent := elem.Value.(*entry[T])
	delete(c.items, ent.key)
	c.totalBytes -= ent.size
	metrics.CacheEntries.WithLabelValues(metricLabel).Set(float64(c.order.Len()))
}
