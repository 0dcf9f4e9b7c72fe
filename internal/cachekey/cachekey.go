// Package cachekey builds the deterministic cache keys shared by the query
// and tool caches. Both key builders canonicalise parameters the same way
// (recursive key-sorted JSON) so that logically identical calls always map to
// the same cache slot, regardless of map iteration order at the call site.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Canonical returns a deterministic JSON encoding of v. Object keys are
// sorted recursively; everything else round-trips through encoding/json.
func Canonical(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	switch val := v.(type) {
	case map[string]any:
		return canonicalMap(val)
	case []any:
		return canonicalSlice(val)
	default:
		return json.Marshal(v)
	}
}

func canonicalMap(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte("{")
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		vb, err := Canonical(m[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, vb...)
	}
	return append(buf, '}'), nil
}

func canonicalSlice(s []any) ([]byte, error) {
	buf := []byte("[")
	for i, v := range s {
		if i > 0 {
			buf = append(buf, ',')
		}
		vb, err := Canonical(v)
		if err != nil {
			return nil, err
		}
		buf = append(buf, vb...)
	}
	return append(buf, ']'), nil
}

// QueryKey builds the query-cache key for a named query and its arguments:
// the query name, a colon, then "key:value|key:value" pairs sorted by key.
// Values are canonical JSON, so QueryKey("q", {a:1, b:2}) and
// QueryKey("q", {b:2, a:1}) produce the same key.
func QueryKey(queryName string, args map[string]any) (string, error) {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		vb, err := Canonical(args[k])
		if err != nil {
			return "", fmt.Errorf("cachekey: serialize arg %q: %w", k, err)
		}
		parts = append(parts, k+":"+string(vb))
	}
	return queryName + ":" + strings.Join(parts, "|"), nil
}

// ToolKey builds the tool-cache key: the hex SHA-256 digest of the tool name
// plus the canonical JSON of its parameters. Hashing keeps arbitrarily large
// parameter sets down to a fixed-width map key.
func ToolKey(toolName string, params map[string]any) (string, error) {
	pb, err := Canonical(params)
	if err != nil {
		return "", fmt.Errorf("cachekey: serialize params for %q: %w", toolName, err)
	}
	sum := sha256.Sum256(append([]byte(toolName), pb...))
	return hex.EncodeToString(sum[:]), nil
}

// EstimateSize reports the canonical serialized byte size of v. The caches
// use it as a memory estimate, not an exact accounting.
func EstimateSize(v any) (int, error) {
	b, err := Canonical(v)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}
