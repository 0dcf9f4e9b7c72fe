package toolcache

import "time"

// Policy maps tool names to result TTLs. Tools absent from the table use
// DefaultTTL. A zero TTL means the tool's results are never cached; Set
// becomes a no-op for it. The table reflects each underlying query's
// staleness tolerance and is configuration, not logic.
type Policy struct {
	TTLs       map[string]time.Duration
	DefaultTTL time.Duration
}

// DefaultPolicy returns the production TTL table:
//
//   - schema and label listings change rarely: 24h
//   - graph-wide aggregates drift slowly: 1h
//   - node reads and search results: 30m
//   - pure navigation (paths, traversals): never cached
//
// Unlisted tools default to 30 minutes.
func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL: 30 * time.Minute,
		TTLs: map[string]time.Duration{
			"listLabels": 24 * time.Hour,
			"getSchema":  24 * time.Hour,

			"graphStats":         time.Hour,
			"topEntities":        time.Hour,
			"degreeDistribution": time.Hour,

			"getNode":       30 * time.Minute,
			"searchNodes":   30 * time.Minute,
			"nodeNeighbors": 30 * time.Minute,

			"shortestPath": 0,
			"traverse":     0,
		},
	}
}

// TTL returns the caching TTL for toolName. Zero means do not cache.
func (p Policy) TTL(toolName string) time.Duration {
	if ttl, ok := p.TTLs[toolName]; ok {
		return ttl
	}
	return p.DefaultTTL
}

// Cacheable reports whether results for toolName should be stored at all.
func (p Policy) Cacheable(toolName string) bool {
	return p.TTL(toolName) > 0
}
