package catalog

import (
	"testing"
	"time"

	"github.com/arbor-labs/graph-gateway/ratelimit"
)

// TestBundledCatalogParseable verifies the embedded tools.json is valid JSON
// that unmarshals into a non-empty Catalog. This is the gate checked before
// every release tag.
func TestBundledCatalogParseable(t *testing.T) {
	c, err := parse(bundledCatalog)
	if err != nil {
		t.Fatalf("tools.json failed to parse: %v", err)
	}
	if len(c) == 0 {
		t.Fatal("tools.json parsed to an empty catalog")
	}
	t.Logf("tools.json OK, %d tools", len(c))
}

// TestBundledCatalogRequiredFields checks that every bundled tool declares
// the fields the gateway depends on.
func TestBundledCatalogRequiredFields(t *testing.T) {
	c, err := parse(bundledCatalog)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	for name, tool := range c {
		if tool.Name != name {
			t.Errorf("%s: name field %q does not match map key", name, tool.Name)
		}
		if tool.Query == "" {
			t.Errorf("%s: missing query", name)
		}
		if tool.MinTier == "" {
			t.Errorf("%s: missing min_tier", name)
		}
		for _, p := range tool.Params {
			if p.Name == "" || p.Type == "" {
				t.Errorf("%s: incomplete param declaration %+v", name, p)
			}
		}
	}
}

func TestCatalogGet(t *testing.T) {
	c := Catalog{
		"getNode": {Name: "getNode", Query: "query getNode { node }"},
	}
	if _, ok := c.Get("getNode"); !ok {
		t.Error("expected getNode to be found")
	}
	if _, ok := c.Get("nonexistent"); ok {
		t.Error("expected unknown tool to return false")
	}
}

func TestCatalogNamesSorted(t *testing.T) {
	c := Catalog{
		"traverse": {Query: "q"},
		"getNode":  {Query: "q"},
		"search":   {Query: "q"},
	}
	names := c.Names()
	want := []string{"getNode", "search", "traverse"}
	if len(names) != len(want) {
		t.Fatalf("got %d names, want %d", len(names), len(want))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestCatalogTTLPolicy(t *testing.T) {
	c, err := parse(bundledCatalog)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p := c.TTLPolicy(30 * time.Minute)

	if ttl := p.TTL("listLabels"); ttl != 24*time.Hour {
		t.Errorf("listLabels TTL %v, want 24h", ttl)
	}
	if ttl := p.TTL("graphStats"); ttl != time.Hour {
		t.Errorf("graphStats TTL %v, want 1h", ttl)
	}
	if p.Cacheable("shortestPath") {
		t.Error("shortestPath must not be cacheable")
	}
	if ttl := p.TTL("unlistedTool"); ttl != 30*time.Minute {
		t.Errorf("unlisted tool TTL %v, want default 30m", ttl)
	}
}

func TestToolTier(t *testing.T) {
	if tier := (Tool{MinTier: "admin"}).Tier(); tier != ratelimit.TierAdmin {
		t.Errorf("got %v, want admin", tier)
	}
	if tier := (Tool{MinTier: "bogus"}).Tier(); tier != ratelimit.TierAnonymous {
		t.Errorf("unknown tier must parse as anonymous, got %v", tier)
	}
}

func TestValidateParams(t *testing.T) {
	tool := Tool{
		Name: "searchNodes",
		Params: []Param{
			{Name: "query", Type: "string", Required: true},
			{Name: "limit", Type: "int", Required: false},
			{Name: "exact", Type: "bool", Required: false},
		},
	}

	if err := tool.ValidateParams(map[string]any{"query": "go", "limit": 5}); err != nil {
		t.Errorf("valid params rejected: %v", err)
	}
	// JSON decoding produces float64 for numbers.
	if err := tool.ValidateParams(map[string]any{"query": "go", "limit": float64(5)}); err != nil {
		t.Errorf("integral float rejected: %v", err)
	}
	if err := tool.ValidateParams(map[string]any{"limit": 5}); err == nil {
		t.Error("expected error for missing required param")
	}
	if err := tool.ValidateParams(map[string]any{"query": "go", "limit": 2.5}); err == nil {
		t.Error("expected error for fractional int param")
	}
	if err := tool.ValidateParams(map[string]any{"query": "go", "exact": "yes"}); err == nil {
		t.Error("expected error for non-bool param")
	}
	if err := tool.ValidateParams(map[string]any{"query": "go", "typo": 1}); err == nil {
		t.Error("expected error for unknown param")
	}
}

func TestParseRejectsMissingQuery(t *testing.T) {
	if _, err := parse([]byte(`{"broken": {"name": "broken"}}`)); err == nil {
		t.Error("expected parse error for tool without query")
	}
}
