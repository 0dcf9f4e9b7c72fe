package graphgateway

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed config_schema.json
var configSchemaJSON string

// configSchema validates the structural shape of a config document: field
// names, value types, and non-negative numeric bounds. Semantic rules
// (tier ordering, size relationships) live in ValidateConfig.
var configSchema = jsonschema.MustCompileString("config_schema.json", configSchemaJSON)

// LoadConfig reads and parses a config file from the given path.
// Supported formats: JSON (.json), YAML (.yaml, .yml).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q: use .json, .yaml, or .yml", ext)
	}

	return &cfg, nil
}

// ValidateConfigJSON checks a raw JSON config document against the embedded
// schema. Unknown fields, wrong types, and negative bounds are rejected.
// Used for runtime config updates arriving over the admin API.
func ValidateConfigJSON(data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing config document: %w", err)
	}
	if err := configSchema.Validate(doc); err != nil {
		return fmt.Errorf("config does not match schema: %w", err)
	}
	return nil
}

// ValidateConfig validates a Config for correctness: schema conformance plus
// the semantic rules the schema cannot express.
func ValidateConfig(cfg Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("serializing config: %w", err)
	}
	if err := ValidateConfigJSON(data); err != nil {
		return err
	}

	if strings.TrimSpace(cfg.Backend.URL) == "" {
		return fmt.Errorf("backend url is required")
	}

	switch cfg.Admin.StoreDriver() {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown admin store driver: %q", cfg.Admin.Driver)
	}

	// Tier ceilings must not invert once defaults are filled in; a lower
	// tier outranking a higher one is always a misconfiguration.
	limits := cfg.RateLimit.TierLimits()
	if limits.Authenticated < limits.Anonymous {
		return fmt.Errorf("authenticated rate limit %d is below the anonymous limit %d", limits.Authenticated, limits.Anonymous)
	}
	if limits.Admin < limits.Authenticated {
		return fmt.Errorf("admin rate limit %d is below the authenticated limit %d", limits.Admin, limits.Authenticated)
	}

	entryMB := cfg.QueryCache.MaxEntrySizeMB
	if entryMB == 0 {
		entryMB = 5
	}
	totalMB := cfg.QueryCache.MaxTotalSizeMB
	if totalMB == 0 {
		totalMB = 50
	}
	if entryMB > totalMB {
		return fmt.Errorf("query cache max_entry_size_mb %d exceeds max_total_size_mb %d", entryMB, totalMB)
	}

	for name := range cfg.ToolCache.TTLOverrides {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("tool_cache ttl override has an empty tool name")
		}
	}

	return nil
}
