package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	cfg.ObjectStore.LocalDir = t.TempDir()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatal("expected missing config file")
	}
	if resolved != path {
		t.Fatalf("resolved path = %q, want %q", resolved, path)
	}
	if cfg.Pipeline.GlobalLLMConcurrency != 16 {
		t.Fatalf("unexpected default concurrency %d", cfg.Pipeline.GlobalLLMConcurrency)
	}
	if cfg.Queue.VisibilityTimeoutSec != 300 {
		t.Fatalf("unexpected default visibility timeout %d", cfg.Queue.VisibilityTimeoutSec)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + dir + `"

[pipeline]
per_report_concurrency = 3
dag_version = 2

[budget]
free_usd = 1.5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, _, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if cfg.Pipeline.PerReportConcurrency != 3 {
		t.Fatalf("per_report_concurrency = %d", cfg.Pipeline.PerReportConcurrency)
	}
	if cfg.Pipeline.DAGVersion != 2 {
		t.Fatalf("dag_version = %d", cfg.Pipeline.DAGVersion)
	}
	if cfg.Budget.FreeUSD != 1.5 {
		t.Fatalf("free_usd = %v", cfg.Budget.FreeUSD)
	}
}

func TestValidateRejectsBadBackend(t *testing.T) {
	cfg := Default()
	cfg.ObjectStore.Backend = "ftp"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unsupported backend")
	}
}

func TestTierLimit(t *testing.T) {
	cfg := Default()
	if got := cfg.TierLimitUSD("pro"); got != 50 {
		t.Fatalf("pro limit = %v", got)
	}
	if got := cfg.TierLimitUSD("enterprise"); got != 500 {
		t.Fatalf("enterprise limit = %v", got)
	}
	if got := cfg.TierLimitUSD("unknown"); got != 5 {
		t.Fatalf("fallback limit = %v", got)
	}
}
