package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// ObjectStore selects and configures the artifact storage backend.
type ObjectStore struct {
	Backend  string `toml:"backend"` // "local" or "s3"
	LocalDir string `toml:"local_dir"`
	S3Region string `toml:"s3_region"`
	S3Bucket string `toml:"s3_bucket"`
	S3Prefix string `toml:"s3_prefix"`
}

// LLM contains connection and pricing settings for the completion provider.
type LLM struct {
	APIKey         string  `toml:"api_key"`
	BaseURL        string  `toml:"base_url"`
	Model          string  `toml:"model"`
	Referer        string  `toml:"referer"`
	Title          string  `toml:"title"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	RateInPerMTok  float64 `toml:"rate_in_per_mtok"`
	RateOutPerMTok float64 `toml:"rate_out_per_mtok"`
}

// Pipeline contains orchestrator tuning knobs.
type Pipeline struct {
	Workers              int `toml:"workers"`
	GlobalLLMConcurrency int `toml:"global_llm_concurrency"`
	PerReportConcurrency int `toml:"per_report_concurrency"`
	StageTimeoutSec      int `toml:"stage_timeout_sec"`
	MaxAttempts          int `toml:"max_attempts"`
	RetryBaseSec         int `toml:"retry_base_sec"`
	RetryCapSec          int `toml:"retry_cap_sec"`
	StatusTTLSec         int `toml:"status_ttl_sec"`
	DAGVersion           int `toml:"dag_version"`
}

// Queue contains envelope delivery settings.
type Queue struct {
	VisibilityTimeoutSec  int `toml:"visibility_timeout_sec"`
	MaxDeliveries         int `toml:"max_deliveries"`
	PollIntervalSec       int `toml:"poll_interval_sec"`
	ErrorRetryIntervalSec int `toml:"error_retry_interval_sec"`
	HeartbeatIntervalSec  int `toml:"heartbeat_interval_sec"`
	ReclaimIntervalSec    int `toml:"reclaim_interval_sec"`
}

// Budget contains monthly spend limits per user tier and globally.
type Budget struct {
	FreeUSD         float64 `toml:"free_usd"`
	ProUSD          float64 `toml:"pro_usd"`
	EnterpriseUSD   float64 `toml:"enterprise_usd"`
	GlobalUSD       float64 `toml:"global_usd"`
	AlertThresholds []int   `toml:"alert_thresholds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Quill.
//
// Configuration sections by subsystem:
//   - Paths: directories and API bind address
//   - ObjectStore: artifact blob storage backend
//   - LLM: completion provider connection and per-token pricing
//   - Pipeline: orchestrator concurrency, retry, and timeout settings
//   - Queue: envelope lease and delivery settings
//   - Budget: monthly spend limits by user tier
//   - Logging: log format and level
type Config struct {
	Paths       Paths       `toml:"paths"`
	ObjectStore ObjectStore `toml:"object_store"`
	LLM         LLM         `toml:"llm"`
	Pipeline    Pipeline    `toml:"pipeline"`
	Queue       Queue       `toml:"queue"`
	Budget      Budget      `toml:"budget"`
	Logging     Logging     `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/quill/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. Secrets may be supplied
// via environment (QUILL_LLM_API_KEY, QUILL_API_TOKEN) and take precedence
// over file values.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("QUILL_LLM_API_KEY")); v != "" {
		c.LLM.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("QUILL_API_TOKEN")); v != "" {
		c.Paths.APIToken = v
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("quill.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if c.ObjectStore.LocalDir == "" {
		c.ObjectStore.LocalDir = filepath.Join(c.Paths.DataDir, "objects")
	}
	if c.ObjectStore.LocalDir, err = expandPath(c.ObjectStore.LocalDir); err != nil {
		return err
	}
	c.ObjectStore.Backend = strings.ToLower(strings.TrimSpace(c.ObjectStore.Backend))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir}
	if c.ObjectStore.Backend == BackendLocal {
		dirs = append(dirs, c.ObjectStore.LocalDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath returns the SQLite path backing the envelope queue.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// LedgerDBPath returns the SQLite path backing the cost ledger.
func (c *Config) LedgerDBPath() string {
	return filepath.Join(c.Paths.DataDir, "ledger.db")
}

// TierLimitUSD maps a user tier name to its monthly budget limit.
func (c *Config) TierLimitUSD(tier string) float64 {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case "pro":
		return c.Budget.ProUSD
	case "enterprise":
		return c.Budget.EnterpriseUSD
	default:
		return c.Budget.FreeUSD
	}
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
