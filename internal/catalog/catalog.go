// Package catalog provides the tool catalog: the structured map of every
// named read operation the gateway exposes, each backed by a GraphQL
// document with declared parameters, a caching TTL, and a minimum caller
// tier.
//
// The catalog is loaded once at gateway startup from a remote URL with an
// embedded backup as fallback, so deployments can ship tool changes without
// a rebuild while the binary always has a working copy.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/arbor-labs/graph-gateway/internal/toolcache"
	"github.com/arbor-labs/graph-gateway/ratelimit"
)

//go:embed tools.json
var bundledCatalog []byte

// CatalogURLEnv is the env var operators set to override the catalog source.
// Useful for air-gapped deployments or per-environment tool sets.
const CatalogURLEnv = "GRAPHGW_TOOL_CATALOG_URL"

// Param declares one tool parameter.
type Param struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // string | int | float | bool
	Required bool   `json:"required"`
}

// Tool describes one named read operation backed by a GraphQL document.
type Tool struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Query       string  `json:"query"`
	Params      []Param `json:"params"`
	TTLSeconds  int     `json:"ttl_seconds"` // 0 = results are never cached
	MinTier     string  `json:"min_tier"`    // anonymous | authenticated | admin
}

// Catalog is a flat map of tool name → Tool.
type Catalog map[string]Tool

// Load fetches the tool catalog from a remote URL (1s timeout) when
// CatalogURLEnv is set. On any failure it falls back to the embedded
// tools.json. The gateway never fails to start due to catalog
// unavailability.
func Load() (Catalog, error) {
	if url := os.Getenv(CatalogURLEnv); url != "" {
		if data, err := fetchRemote(url); err == nil {
			if c, err := parse(data); err == nil {
				return c, nil
			}
			// Remote payload fetched but invalid; fall through.
		}
	}
	return parse(bundledCatalog)
}

func fetchRemote(url string) ([]byte, error) {
	client := &http.Client{Timeout: time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog fetch: HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func parse(data []byte) (Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("catalog parse: %w", err)
	}
	for name, tool := range c {
		if tool.Query == "" {
			return nil, fmt.Errorf("catalog parse: tool %q has no query", name)
		}
		if tool.Name == "" {
			tool.Name = name
			c[name] = tool
		}
	}
	return c, nil
}

// Get looks up a tool by name.
func (c Catalog) Get(name string) (Tool, bool) {
	t, ok := c[name]
	return t, ok
}

// Names returns all tool names in sorted order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TTLPolicy builds the tool cache's TTL table from the catalog's per-tool
// ttl_seconds. Tools missing from the catalog fall back to defaultTTL.
func (c Catalog) TTLPolicy(defaultTTL time.Duration) toolcache.Policy {
	ttls := make(map[string]time.Duration, len(c))
	for name, t := range c {
		ttls[name] = time.Duration(t.TTLSeconds) * time.Second
	}
	return toolcache.Policy{TTLs: ttls, DefaultTTL: defaultTTL}
}

// Tier returns the minimum caller tier required to invoke the tool.
func (t Tool) Tier() ratelimit.Tier {
	return ratelimit.ParseTier(t.MinTier)
}

// ValidateParams checks the supplied parameters against the tool's
// declaration: required parameters must be present and typed parameters must
// match. Unknown parameters are rejected so typos fail loudly instead of
// fragmenting the cache keyspace.
func (t Tool) ValidateParams(params map[string]any) error {
	declared := make(map[string]Param, len(t.Params))
	for _, p := range t.Params {
		declared[p.Name] = p
		if p.Required {
			if _, ok := params[p.Name]; !ok {
				return fmt.Errorf("missing required parameter %q", p.Name)
			}
		}
	}
	for name, value := range params {
		p, ok := declared[name]
		if !ok {
			return fmt.Errorf("unknown parameter %q", name)
		}
		if err := checkType(p, value); err != nil {
			return err
		}
	}
	return nil
}

func checkType(p Param, value any) error {
	if value == nil {
		return nil
	}
	switch p.Type {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("parameter %q must be a string", p.Name)
		}
	case "int":
		// JSON numbers decode as float64; accept integral floats.
		switch v := value.(type) {
		case int:
		case int64:
		case float64:
			if v != float64(int64(v)) {
				return fmt.Errorf("parameter %q must be an integer", p.Name)
			}
		default:
			return fmt.Errorf("parameter %q must be an integer", p.Name)
		}
	case "float":
		switch value.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("parameter %q must be a number", p.Name)
		}
	case "bool":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("parameter %q must be a boolean", p.Name)
		}
	}
	return nil
}
