package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateObjectStore(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateBudget(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateObjectStore() error {
	switch c.ObjectStore.Backend {
	case BackendLocal:
		if strings.TrimSpace(c.ObjectStore.LocalDir) == "" {
			return errors.New("object_store.local_dir must be set for the local backend")
		}
	case BackendS3:
		if strings.TrimSpace(c.ObjectStore.S3Bucket) == "" {
			return errors.New("object_store.s3_bucket must be set for the s3 backend")
		}
	default:
		return fmt.Errorf("object_store.backend: unsupported value %q", c.ObjectStore.Backend)
	}
	return nil
}

func (c *Config) validateLLM() error {
	if strings.TrimSpace(c.LLM.Model) == "" {
		return errors.New("llm.model must be set")
	}
	if c.LLM.RateInPerMTok < 0 || c.LLM.RateOutPerMTok < 0 {
		return errors.New("llm token rates must not be negative")
	}
	if c.LLM.TimeoutSeconds < 0 {
		return errors.New("llm.timeout_seconds must not be negative")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.Workers < 1 {
		return errors.New("pipeline.workers must be at least 1")
	}
	if c.Pipeline.GlobalLLMConcurrency < 1 {
		return errors.New("pipeline.global_llm_concurrency must be at least 1")
	}
	if c.Pipeline.PerReportConcurrency < 1 {
		return errors.New("pipeline.per_report_concurrency must be at least 1")
	}
	if c.Pipeline.MaxAttempts < 1 {
		return errors.New("pipeline.max_attempts must be at least 1")
	}
	if c.Pipeline.RetryBaseSec < 0 || c.Pipeline.RetryCapSec < c.Pipeline.RetryBaseSec {
		return errors.New("pipeline retry backoff bounds are inconsistent")
	}
	if c.Pipeline.DAGVersion < 1 {
		return errors.New("pipeline.dag_version must be at least 1")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.VisibilityTimeoutSec < 1 {
		return errors.New("queue.visibility_timeout_sec must be at least 1")
	}
	if c.Queue.MaxDeliveries < 1 {
		return errors.New("queue.max_deliveries must be at least 1")
	}
	return nil
}

func (c *Config) validateBudget() error {
	for _, limit := range []float64{c.Budget.FreeUSD, c.Budget.ProUSD, c.Budget.EnterpriseUSD, c.Budget.GlobalUSD} {
		if limit < 0 {
			return errors.New("budget limits must not be negative")
		}
	}
	for _, threshold := range c.Budget.AlertThresholds {
		if threshold <= 0 || threshold > 100 {
			return fmt.Errorf("budget.alert_thresholds: %d is out of range (1-100)", threshold)
		}
	}
	return nil
}
