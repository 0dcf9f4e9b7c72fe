package toolcache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func testPolicy() Policy {
	return Policy{
		DefaultTTL: time.Minute,
		TTLs: map[string]time.Duration{
			"fast":  10 * time.Millisecond,
			"never": 0,
		},
	}
}

func TestCache_SetAndGet(t *testing.T) {
	c := New[string](Config{Capacity: 10, Policy: testPolicy()})
	params := map[string]any{"id": "n-1"}

	c.Set("getNode", params, "node payload")
	got, ok := c.Get("getNode", params)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got != "node payload" {
		t.Errorf("got %q, want %q", got, "node payload")
	}
}

func TestCache_ParamOrderIndependent(t *testing.T) {
	c := New[string](Config{Capacity: 10, Policy: testPolicy()})
	c.Set("searchNodes", map[string]any{"q": "go", "limit": 5}, "results")

	if _, ok := c.Get("searchNodes", map[string]any{"limit": 5, "q": "go"}); !ok {
		t.Error("expected hit for same params in different order")
	}
}

func TestCache_Miss(t *testing.T) {
	c := New[string](Config{Capacity: 10, Policy: testPolicy()})
	if _, ok := c.Get("getNode", map[string]any{"id": "absent"}); ok {
		t.Error("expected cache miss")
	}
}

func TestCache_TTLExpiration(t *testing.T) {
	c := New[string](Config{Capacity: 10, Policy: testPolicy()})
	params := map[string]any{"id": "n-1"}
	c.Set("fast", params, "v")

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("fast", params); ok {
		t.Error("expected miss after TTL")
	}
	if c.Len() != 0 {
		t.Errorf("expected expired entry deleted on Get, len %d", c.Len())
	}
}

func TestCache_NeverCacheTool(t *testing.T) {
	c := New[string](Config{Capacity: 10, Policy: testPolicy()})
	c.Set("never", map[string]any{"from": "a", "to": "b"}, "path")

	if c.Len() != 0 {
		t.Errorf("zero-TTL tool stored an entry, len %d", c.Len())
	}
}

func TestCache_LRUEviction(t *testing.T) {
	c := New[string](Config{Capacity: 2, Policy: testPolicy()})
	c.Set("getNode", map[string]any{"id": "a"}, "a")
	c.Set("getNode", map[string]any{"id": "b"}, "b")
	c.Set("getNode", map[string]any{"id": "c"}, "c") // evicts "a"

	if _, ok := c.Get("getNode", map[string]any{"id": "a"}); ok {
		t.Error("expected 'a' to be evicted")
	}
	if _, ok := c.Get("getNode", map[string]any{"id": "b"}); !ok {
		t.Error("expected 'b' to be present")
	}
	if _, ok := c.Get("getNode", map[string]any{"id": "c"}); !ok {
		t.Error("expected 'c' to be present")
	}
}

func TestCache_LRUAccessOrder(t *testing.T) {
	c := New[string](Config{Capacity: 2, Policy: testPolicy()})
	a := map[string]any{"id": "a"}
	b := map[string]any{"id": "b"}

	c.Set("getNode", a, "a")
	c.Set("getNode", b, "b")

	c.Get("getNode", a) // access "a" so "b" becomes LRU

	c.Set("getNode", map[string]any{"id": "c"}, "c") // should evict "b"

	if _, ok := c.Get("getNode", a); !ok {
		t.Error("expected 'a' to be present (recently accessed)")
	}
	if _, ok := c.Get("getNode", b); ok {
		t.Error("expected 'b' to be evicted (LRU)")
	}
}

func TestCache_SetRefreshesRecency(t *testing.T) {
	c := New[string](Config{Capacity: 2, Policy: testPolicy()})
	a := map[string]any{"id": "a"}
	b := map[string]any{"id": "b"}

	c.Set("getNode", a, "a1")
	c.Set("getNode", b, "b1")
	c.Set("getNode", a, "a2") // re-set marks "a" most recent

	c.Set("getNode", map[string]any{"id": "c"}, "c") // should evict "b"

	got, ok := c.Get("getNode", a)
	if !ok {
		t.Fatal("expected 'a' to survive")
	}
	if got != "a2" {
		t.Errorf("got %q, want %q", got, "a2")
	}
	if _, ok := c.Get("getNode", b); ok {
		t.Error("expected 'b' to be evicted")
	}
}

func TestCache_HitRate(t *testing.T) {
	c := New[string](Config{Capacity: 10, Policy: testPolicy()})
	params := map[string]any{"id": "n-1"}
	c.Set("getNode", params, "v")

	c.Get("getNode", params)
	c.Get("getNode", params)
	c.Get("getNode", params)
	c.Get("getNode", map[string]any{"id": "absent"})

	st := c.Stats()
	if st.Hits != 3 || st.Misses != 1 {
		t.Fatalf("expected 3 hits / 1 miss, got %d / %d", st.Hits, st.Misses)
	}
	if st.HitRate != 75.00 {
		t.Errorf("expected hit rate 75.00, got %v", st.HitRate)
	}
}

func TestCache_HitRateZeroWithoutRequests(t *testing.T) {
	c := New[string](Config{Capacity: 10, Policy: testPolicy()})
	if rate := c.Stats().HitRate; rate != 0 {
		t.Errorf("expected hit rate 0 with no requests, got %v", rate)
	}
}

func TestCache_EvictionCounted(t *testing.T) {
	c := New[string](Config{Capacity: 1, Policy: testPolicy()})
	c.Set("getNode", map[string]any{"id": "a"}, "a")
	c.Set("getNode", map[string]any{"id": "b"}, "b")

	if st := c.Stats(); st.Evictions != 1 {
		t.Errorf("expected 1 eviction, got %d", st.Evictions)
	}
}

func TestCache_InvalidateTool(t *testing.T) {
	c := New[string](Config{Capacity: 10, Policy: testPolicy()})
	c.Set("getNode", map[string]any{"id": "a"}, "a")
	c.Set("getNode", map[string]any{"id": "b"}, "b")
	c.Set("searchNodes", map[string]any{"q": "go"}, "results")

	if n := c.InvalidateTool("getNode"); n != 2 {
		t.Errorf("expected 2 invalidated, got %d", n)
	}
	if _, ok := c.Get("getNode", map[string]any{"id": "a"}); ok {
		t.Error("expected getNode entries gone")
	}
	if _, ok := c.Get("searchNodes", map[string]any{"q": "go"}); !ok {
		t.Error("expected other tools untouched")
	}
}

func TestCache_InvalidateUnknownTool(t *testing.T) {
	c := New[string](Config{Capacity: 10, Policy: testPolicy()})
	if n := c.InvalidateTool("unknown"); n != 0 {
		t.Errorf("expected 0 invalidated, got %d", n)
	}
}

func TestCache_ClearResetsStats(t *testing.T) {
	c := New[string](Config{Capacity: 10, Policy: testPolicy()})
	params := map[string]any{"id": "n-1"}
	c.Set("getNode", params, "v")
	c.Get("getNode", params)
	c.Get("getNode", map[string]any{"id": "absent"})

	c.Clear()
	c.Clear()

	st := c.Stats()
	if st.Entries != 0 {
		t.Errorf("expected 0 entries after clear, got %d", st.Entries)
	}
	if st.Hits != 0 || st.Misses != 0 || st.Evictions != 0 {
		t.Errorf("expected zeroed counters, got %+v", st)
	}
	if st.HitRate != 0 {
		t.Errorf("expected hit rate 0 after clear, got %v", st.HitRate)
	}
}

func TestCache_OpportunisticSweep(t *testing.T) {
	c := New[string](Config{Capacity: 50, Policy: testPolicy()})
	c.Set("fast", map[string]any{"id": "a"}, "a")
	c.Set("fast", map[string]any{"id": "b"}, "b")

	time.Sleep(20 * time.Millisecond)

	// The expired entries are never read directly; the 100th lookup's sweep
	// must still reclaim them.
	for i := 0; i < 100; i++ {
		c.Get("getNode", map[string]any{"i": i})
	}
	if c.Len() != 0 {
		t.Errorf("expected sweep to remove expired entries, len %d", c.Len())
	}
}

func TestCache_CleanExpired(t *testing.T) {
	c := New[string](Config{Capacity: 10, Policy: testPolicy()})
	c.Set("fast", map[string]any{"id": "a"}, "a")
	c.Set("getNode", map[string]any{"id": "b"}, "b")

	time.Sleep(20 * time.Millisecond)

	if n := c.CleanExpired(); n != 1 {
		t.Errorf("expected 1 removed, got %d", n)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry left, got %d", c.Len())
	}
}

func TestPolicy_TTLLookup(t *testing.T) {
	p := DefaultPolicy()

	if ttl := p.TTL("listLabels"); ttl != 24*time.Hour {
		t.Errorf("listLabels: got %v, want 24h", ttl)
	}
	if ttl := p.TTL("graphStats"); ttl != time.Hour {
		t.Errorf("graphStats: got %v, want 1h", ttl)
	}
	if ttl := p.TTL("searchNodes"); ttl != 30*time.Minute {
		t.Errorf("searchNodes: got %v, want 30m", ttl)
	}
	if ttl := p.TTL("someNewTool"); ttl != 30*time.Minute {
		t.Errorf("unlisted tool: got %v, want default 30m", ttl)
	}
	if p.Cacheable("shortestPath") {
		t.Error("shortestPath must not be cacheable")
	}
	if !p.Cacheable("getNode") {
		t.Error("getNode must be cacheable")
	}
}

func TestCache_Concurrent(_ *testing.T) {
	c := New[int](Config{Capacity: 100, Policy: testPolicy()})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			params := map[string]any{"id": fmt.Sprintf("n-%d", i%10)}
			c.Set("getNode", params, i)
			c.Get("getNode", params)
			c.Stats()
		}(i)
	}
	wg.Wait()
}
