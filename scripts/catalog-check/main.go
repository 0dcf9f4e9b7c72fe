// catalog-check lints a tool catalog file before it ships. It verifies that
// every entry is internally consistent: names match their map keys, GraphQL
// documents are present and declare exactly the variables the params list
// promises, TTLs are sane, and tiers are spelled correctly. The process exits
// with code 1 if any problems are found so CI can fail the build.
//
// Usage:
//
// go run ./scripts/catalog-check                     # lints internal/catalog/tools.json
// go run ./scripts/catalog-check -catalog custom.json
// go run ./scripts/catalog-check -url https://config.internal/tools.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
)

type param struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

type tool struct {
	Name       string  `json:"name"`
	Query      string  `json:"query"`
	Params     []param `json:"params"`
	TTLSeconds int     `json:"ttl_seconds"`
	MinTier    string  `json:"min_tier"`
}

var varPattern = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

var validTiers = map[string]bool{"": true, "anonymous": true, "authenticated": true, "admin": true}

var validTypes = map[string]bool{"string": true, "int": true, "float": true, "bool": true}

func main() {
	catalogPath := flag.String("catalog", "", "path to tools.json (default: internal/catalog/tools.json in cwd)")
	catalogURL := flag.String("url", "", "fetch the catalog from a URL instead of a file")
	flag.Parse()

	var data []byte
	var err error
	switch {
	case *catalogURL != "":
		data, err = fetch(*catalogURL)
	default:
		if *catalogPath == "" {
			cwd, _ := os.Getwd()
			*catalogPath = cwd + "/internal/catalog/tools.json"
		}
		data, err = os.ReadFile(*catalogPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot read catalog: %v\n", err)
		os.Exit(2)
	}

	var catalog map[string]tool
	if err := json.Unmarshal(data, &catalog); err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot parse catalog: %v\n", err)
		os.Exit(2)
	}

	fmt.Fprintf(os.Stderr, "Checking %d tools...\n", len(catalog))

	var failures []string
	fail := func(name, format string, args ...any) {
		failures = append(failures, fmt.Sprintf("  %-20s %s", name, fmt.Sprintf(format, args...)))
	}

	for key, t := range catalog {
		if t.Name != key {
			fail(key, "name %q does not match its map key", t.Name)
		}
		if strings.TrimSpace(t.Query) == "" {
			fail(key, "query document is empty")
		} else if !strings.HasPrefix(strings.TrimSpace(t.Query), "query") {
			// The gateway only fronts reads. Mutations do not belong here.
			fail(key, "query document is not a read operation")
		}
		if t.TTLSeconds < 0 {
			fail(key, "ttl_seconds %d is negative", t.TTLSeconds)
		}
		if !validTiers[t.MinTier] {
			fail(key, "unknown min_tier %q", t.MinTier)
		}

		declared := map[string]bool{}
		for _, p := range t.Params {
			if p.Name == "" {
				fail(key, "param with empty name")
				continue
			}
			if declared[p.Name] {
				fail(key, "duplicate param %q", p.Name)
			}
			declared[p.Name] = true
			if !validTypes[p.Type] {
				fail(key, "param %q has unknown type %q", p.Name, p.Type)
			}
		}

		// Params and document variables must agree in both directions.
		used := map[string]bool{}
		for _, m := range varPattern.FindAllStringSubmatch(t.Query, -1) {
			used[m[1]] = true
		}
		for name := range declared {
			if !used[name] {
				fail(key, "param %q is never used in the query document", name)
			}
		}
		for name := range used {
			if !declared[name] {
				fail(key, "query variable $%s has no declared param", name)
			}
		}
	}

	sort.Strings(failures)
	fmt.Fprintf(os.Stderr, "%d OK, %d failed\n\n", len(catalog)-distinctFailed(failures), len(failures))

	if len(failures) > 0 {
		fmt.Fprintln(os.Stderr, "Problems:")
		for _, f := range failures {
			fmt.Fprintln(os.Stderr, f)
		}
		os.Exit(1)
	}
}

func distinctFailed(failures []string) int {
	seen := map[string]bool{}
	for _, f := range failures {
		name := strings.Fields(f)[0]
		seen[name] = true
	}
	return len(seen)
}

func fetch(url string) ([]byte, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
