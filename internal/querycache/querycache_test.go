package querycache

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{MaxEntries: 100, MaxTotalBytes: 1 << 20, MaxEntryBytes: 1 << 18}
}

func TestCache_SetAndGet(t *testing.T) {
	c := New[string](testConfig())
	c.Set("graphStats:", "42 nodes", time.Minute)

	got, ok := c.Get("graphStats:")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got != "42 nodes" {
		t.Errorf("got %q, want %q", got, "42 nodes")
	}
}

func TestCache_Miss(t *testing.T) {
	c := New[string](testConfig())
	if _, ok := c.Get("missing"); ok {
		t.Error("expected cache miss")
	}
}

func TestCache_TTLExpiration(t *testing.T) {
	c := New[string](testConfig())
	c.Set("key1", "v", 10*time.Millisecond)

	if _, ok := c.Get("key1"); !ok {
		t.Fatal("expected hit before TTL")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("key1"); ok {
		t.Error("expected miss after TTL")
	}
	if c.Len() != 0 {
		t.Errorf("expected expired entry deleted on Get, len %d", c.Len())
	}
}

func TestCache_OversizedEntryRejected(t *testing.T) {
	c := New[string](Config{MaxEntries: 10, MaxTotalBytes: 1 << 20, MaxEntryBytes: 16})
	c.Set("small", "ok", time.Minute)
	before := c.Stats()

	c.Set("big", strings.Repeat("x", 64), time.Minute)

	after := c.Stats()
	if after.TotalEntries != before.TotalEntries {
		t.Errorf("oversized set changed entry count: %d -> %d",
			before.TotalEntries, after.TotalEntries)
	}
	if after.TotalSizeBytes != before.TotalSizeBytes {
		t.Errorf("oversized set changed size total: %d -> %d",
			before.TotalSizeBytes, after.TotalSizeBytes)
	}
	if _, ok := c.Get("big"); ok {
		t.Error("oversized entry must not be stored")
	}
}

func TestCache_EvictsOldestOnEntryCount(t *testing.T) {
	c := New[string](Config{MaxEntries: 2, MaxTotalBytes: 1 << 20, MaxEntryBytes: 1 << 18})
	c.Set("a", "1", time.Minute)
	c.Set("b", "2", time.Minute)

	c.Get("a") // access does not protect against insertion-order eviction

	c.Set("c", "3", time.Minute)

	if _, ok := c.Get("a"); ok {
		t.Error("expected oldest-inserted 'a' to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected 'b' to survive")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected 'c' to be present")
	}
}

func TestCache_EvictsUntilSizeFits(t *testing.T) {
	// Each payload serializes to 102 bytes; the 300-byte ceiling holds two.
	payload := strings.Repeat("y", 100)
	c := New[string](Config{MaxEntries: 100, MaxTotalBytes: 300, MaxEntryBytes: 200})

	c.Set("a", payload, time.Minute)
	c.Set("b", payload, time.Minute)
	c.Set("c", payload, time.Minute)

	st := c.Stats()
	if st.TotalSizeBytes > 300 {
		t.Errorf("size total %d exceeds ceiling", st.TotalSizeBytes)
	}
	if _, ok := c.Get("a"); ok {
		t.Error("expected 'a' evicted to make room")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected newest entry present")
	}
}

func TestCache_ReplaceReleasesOldSize(t *testing.T) {
	c := New[string](testConfig())
	c.Set("key", strings.Repeat("a", 100), time.Minute)
	first := c.Stats().TotalSizeBytes

	c.Set("key", strings.Repeat("b", 100), time.Minute)

	st := c.Stats()
	if st.TotalEntries != 1 {
		t.Errorf("expected 1 entry after replace, got %d", st.TotalEntries)
	}
	if st.TotalSizeBytes != first {
		t.Errorf("replace accumulated size: %d, want %d", st.TotalSizeBytes, first)
	}
}

func TestCache_Delete(t *testing.T) {
	c := New[string](testConfig())
	c.Set("key1", "v", time.Minute)
	c.Delete("key1")

	if _, ok := c.Get("key1"); ok {
		t.Error("expected miss after delete")
	}
	if st := c.Stats(); st.TotalSizeBytes != 0 {
		t.Errorf("expected size 0 after delete, got %d", st.TotalSizeBytes)
	}
}

func TestCache_ClearIdempotent(t *testing.T) {
	c := New[string](testConfig())
	c.Set("a", "1", time.Minute)
	c.Set("b", "2", time.Minute)

	c.Clear()
	c.Clear()

	st := c.Stats()
	if st.TotalEntries != 0 || st.TotalSizeBytes != 0 {
		t.Errorf("expected empty cache after clear, got %+v", st)
	}
}

func TestCache_CleanExpired(t *testing.T) {
	c := New[string](testConfig())
	c.Set("stale1", "v", 5*time.Millisecond)
	c.Set("stale2", "v", 5*time.Millisecond)
	c.Set("fresh", "v", time.Minute)

	time.Sleep(10 * time.Millisecond)

	if n := c.CleanExpired(); n != 2 {
		t.Errorf("expected 2 removed, got %d", n)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry left, got %d", c.Len())
	}
	if n := c.CleanExpired(); n != 0 {
		t.Errorf("second sweep removed %d entries", n)
	}
}

func TestCache_StatsCountsExpired(t *testing.T) {
	c := New[string](testConfig())
	c.Set("stale", "v", 5*time.Millisecond)
	c.Set("fresh", "v", time.Minute)

	time.Sleep(10 * time.Millisecond)

	st := c.Stats()
	if st.TotalEntries != 2 {
		t.Errorf("expected 2 total, got %d", st.TotalEntries)
	}
	if st.ActiveEntries != 1 {
		t.Errorf("expected 1 active, got %d", st.ActiveEntries)
	}
	if st.ExpiredEntries != 1 {
		t.Errorf("expected 1 expired, got %d", st.ExpiredEntries)
	}
	if st.MaxEntries != 100 {
		t.Errorf("expected max entries 100, got %d", st.MaxEntries)
	}
}

func TestCache_Concurrent(_ *testing.T) {
	c := New[int](testConfig())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i%26))
			c.Set(key, i, time.Minute)
			c.Get(key)
			c.Stats()
		}(i)
	}
	wg.Wait()
}
