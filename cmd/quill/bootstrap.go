package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"quill/internal/analyzer"
	"quill/internal/config"
	"quill/internal/daemon"
	"quill/internal/dag"
	"quill/internal/ledger"
	"quill/internal/llm"
	"quill/internal/objectstore"
	"quill/internal/objectstore/local"
	"quill/internal/objectstore/s3"
	"quill/internal/queue"
)

// buildObjectStore selects the configured object store backend.
func buildObjectStore(ctx context.Context, cfg *config.Config) (objectstore.Store, error) {
	switch cfg.ObjectStore.Backend {
	case config.BackendS3:
		store, err := s3.New(ctx, cfg.ObjectStore.S3Region, cfg.ObjectStore.S3Bucket, cfg.ObjectStore.S3Prefix)
		if err != nil {
			return nil, fmt.Errorf("open s3 object store: %w", err)
		}
		return store, nil
	default:
		store, err := local.New(cfg.ObjectStore.LocalDir)
		if err != nil {
			return nil, fmt.Errorf("open local object store: %w", err)
		}
		return store, nil
	}
}

// buildDaemon wires the full processing stack from configuration.
func buildDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*daemon.Daemon, error) {
	store, err := buildObjectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	q, err := queue.Open(cfg.QueueDBPath(), queue.Options{
		VisibilityTimeout: time.Duration(cfg.Queue.VisibilityTimeoutSec) * time.Second,
		MaxDeliveries:     cfg.Queue.MaxDeliveries,
	})
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}

	costs, err := ledger.Open(cfg.LedgerDBPath(), ledgerLimits(cfg))
	if err != nil {
		q.Close()
		return nil, fmt.Errorf("open cost ledger: %w", err)
	}

	client := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		Referer:        cfg.LLM.Referer,
		Title:          cfg.LLM.Title,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	})

	graph, err := dag.ForVersion(cfg.Pipeline.DAGVersion)
	if err != nil {
		q.Close()
		costs.Close()
		return nil, fmt.Errorf("select dag: %w", err)
	}
	runner := analyzer.New(store, client, costs, ledger.Pricing{
		LLMRateInPerMTok:  cfg.LLM.RateInPerMTok,
		LLMRateOutPerMTok: cfg.LLM.RateOutPerMTok,
	}, graph, logger)

	d, err := daemon.New(cfg, store, q, costs, graph, runner, client, logger)
	if err != nil {
		q.Close()
		costs.Close()
		return nil, fmt.Errorf("create daemon: %w", err)
	}
	return d, nil
}

func ledgerLimits(cfg *config.Config) ledger.Limits {
	return ledger.Limits{
		DefaultUserUSD:  cfg.Budget.FreeUSD,
		GlobalUSD:       cfg.Budget.GlobalUSD,
		AlertThresholds: cfg.Budget.AlertThresholds,
	}
}
