// Package testsupport provides helpers shared across package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"quill/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.ObjectStore.Backend = config.BackendLocal
	cfg.ObjectStore.LocalDir = filepath.Join(base, "objects")
	cfg.LLM.APIKey = "test"

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithWorkers sets the pipeline worker count on the test config.
func WithWorkers(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.Workers = n
	}
}

// WithAPIToken sets the API bearer token on the test config.
func WithAPIToken(token string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Paths.APIToken = token
	}
}
