package graphgateway

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_Valid(t *testing.T) {
	data := `{
		"backend": {"url": "http://localhost:4000", "token": "secret"},
		"query_cache": {"max_entries": 100, "max_total_size_mb": 10, "max_entry_size_mb": 2},
		"rate_limit": {"window_seconds": 60}
	}`
	path := writeTempFile(t, "config.json", data)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backend.URL != "http://localhost:4000" {
		t.Errorf("expected backend url, got %q", cfg.Backend.URL)
	}
	if cfg.QueryCache.MaxEntries != 100 {
		t.Errorf("expected 100 max entries, got %d", cfg.QueryCache.MaxEntries)
	}
	if cfg.RateLimit.Window() != time.Minute {
		t.Errorf("expected 1m window, got %s", cfg.RateLimit.Window())
	}
}

func TestLoadConfig_NonExistentFile(t *testing.T) {
	_, err := LoadConfig("/tmp/does-not-exist-config-12345.json")
	if err == nil {
		t.Fatal("expected error for non-existent file")
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := writeTempFile(t, "bad.json", `{invalid`)

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	data := `
backend:
  url: http://graph.internal:8443
  timeout_seconds: 10
rate_limit:
  window_seconds: 60
  limits:
    anonymous: 5
    authenticated: 50
    admin: 500
tool_cache:
  ttl_overrides:
    traverse: 0
    getNode: 900
`
	path := writeTempFile(t, "config.yaml", data)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backend.URL != "http://graph.internal:8443" {
		t.Errorf("unexpected backend url: %q", cfg.Backend.URL)
	}
	if cfg.RateLimit.Limits.Authenticated != 50 {
		t.Errorf("expected authenticated limit 50, got %d", cfg.RateLimit.Limits.Authenticated)
	}
	ttl, ok := cfg.ToolCache.TTLOverrides["traverse"]
	if !ok || ttl != 0 {
		t.Errorf("expected explicit 0 ttl override for traverse, got %d (present=%v)", ttl, ok)
	}
}

func TestLoadConfig_YML(t *testing.T) {
	data := `
backend:
  url: http://localhost:4000
`
	path := writeTempFile(t, "config.yml", data)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backend.URL != "http://localhost:4000" {
		t.Errorf("unexpected backend url: %q", cfg.Backend.URL)
	}
}

func TestLoadConfig_UnsupportedExtension(t *testing.T) {
	path := writeTempFile(t, "config.toml", "key = value")
	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestValidateConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend.URL = "http://localhost:4000"
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateConfig_MissingBackendURL(t *testing.T) {
	cfg := DefaultConfig()
	if err := ValidateConfig(cfg); err == nil {
		t.Fatal("expected error for missing backend url")
	}
}

func TestValidateConfig_UnknownDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend.URL = "http://localhost:4000"
	cfg.Admin.Driver = "oracle"
	if err := ValidateConfig(cfg); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestValidateConfig_TierInversion(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name: "authenticated below anonymous default",
			mutate: func(cfg *Config) {
				cfg.RateLimit.Limits.Authenticated = 50
			},
		},
		{
			name: "admin below authenticated",
			mutate: func(cfg *Config) {
				cfg.RateLimit.Limits.Admin = 200
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Backend.URL = "http://localhost:4000"
			tt.mutate(&cfg)
			if err := ValidateConfig(cfg); err == nil {
				t.Fatal("expected error for tier inversion")
			}
		})
	}
}

func TestValidateConfig_EntryExceedsTotal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend.URL = "http://localhost:4000"
	cfg.QueryCache.MaxEntrySizeMB = 100
	if err := ValidateConfig(cfg); err == nil {
		t.Fatal("expected error when a single entry may exceed the total cap")
	}

	// The default per-entry cap also counts against an explicit tiny total.
	small := Config{
		Backend:    BackendConfig{URL: "http://localhost:4000"},
		QueryCache: QueryCacheConfig{MaxTotalSizeMB: 2},
	}
	if err := ValidateConfig(small); err == nil {
		t.Fatal("expected error when the default entry cap exceeds the total cap")
	}
}

func TestValidateConfig_NegativeBound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend.URL = "http://localhost:4000"
	cfg.QueryCache.MaxEntries = -1
	if err := ValidateConfig(cfg); err == nil {
		t.Fatal("expected schema error for negative bound")
	}
}

func TestValidateConfigJSON_UnknownField(t *testing.T) {
	err := ValidateConfigJSON([]byte(`{"backendz": {"url": "http://x"}}`))
	if err == nil {
		t.Fatal("expected schema error for unknown field")
	}
}

func TestValidateConfigJSON_WrongType(t *testing.T) {
	err := ValidateConfigJSON([]byte(`{"rate_limit": {"window_seconds": "1h"}}`))
	if err == nil {
		t.Fatal("expected schema error for wrong type")
	}
}

func TestValidateConfigJSON_ValidDocument(t *testing.T) {
	doc := `{"backend": {"url": "http://localhost:4000"}, "admin": {"enabled": true, "driver": "sqlite"}}`
	if err := ValidateConfigJSON([]byte(doc)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestZeroConfigAccessorDefaults(t *testing.T) {
	var cfg Config
	if got := cfg.Backend.RequestTimeout(); got != 30*time.Second {
		t.Errorf("expected 30s backend timeout, got %s", got)
	}
	if got := cfg.RateLimit.Window(); got != time.Hour {
		t.Errorf("expected 1h window, got %s", got)
	}
	if got := cfg.RateLimit.TierLimits(); got.Authenticated != 1000 {
		t.Errorf("expected default authenticated limit 1000, got %d", got.Authenticated)
	}
	if got := cfg.ToolCache.DefaultTTL(); got != 30*time.Minute {
		t.Errorf("expected 30m default ttl, got %s", got)
	}
	if got := cfg.QueryCache.SweepInterval(); got != 5*time.Minute {
		t.Errorf("expected 5m sweep interval, got %s", got)
	}
	if got := cfg.Admin.StoreDriver(); got != "sqlite" {
		t.Errorf("expected sqlite driver, got %q", got)
	}
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}
