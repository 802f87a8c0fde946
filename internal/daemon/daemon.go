package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/semaphore"

	"quill/internal/config"
	"quill/internal/dag"
	"quill/internal/ledger"
	"quill/internal/logging"
	"quill/internal/objectstore"
	"quill/internal/pipeline"
	"quill/internal/queue"
)

// Daemon coordinates the background workers and enforces single-instance
// execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   objectstore.Store
	queue   *queue.Store
	costs   *ledger.Store
	service *pipeline.Service
	worker  *pipeline.Worker
	health  HealthChecker

	api *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// HealthChecker verifies connectivity to the completion provider.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Workers      int
	Queue        queue.HealthSummary
	QueueDBPath  string
	LedgerDBPath string
	LockFilePath string
}

// New constructs a daemon with initialized dependencies. health may be nil
// when no provider check is wanted (tests).
func New(cfg *config.Config, store objectstore.Store, q *queue.Store, costs *ledger.Store, graph *dag.Graph, runner pipeline.Runner, health HealthChecker, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || q == nil || costs == nil || graph == nil || runner == nil {
		return nil, errors.New("daemon requires config, stores, graph, and runner")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	service := pipeline.NewService(store, q, costs, graph, func(tier string) (float64, bool) {
		limit := cfg.TierLimitUSD(tier)
		return limit, limit > 0
	}, logger)

	worker := pipeline.NewWorker(store, q, runner, graph,
		semaphore.NewWeighted(int64(cfg.Pipeline.GlobalLLMConcurrency)),
		pipeline.WorkerOptions{
			PerReportConcurrency: cfg.Pipeline.PerReportConcurrency,
			MaxAttempts:          cfg.Pipeline.MaxAttempts,
			StageTimeout:         time.Duration(cfg.Pipeline.StageTimeoutSec) * time.Second,
			RetryBase:            time.Duration(cfg.Pipeline.RetryBaseSec) * time.Second,
			RetryCap:             time.Duration(cfg.Pipeline.RetryCapSec) * time.Second,
			HeartbeatInterval:    time.Duration(cfg.Queue.HeartbeatIntervalSec) * time.Second,
		}, logger)

	lockPath := filepath.Join(cfg.Paths.LogDir, "quilld.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		queue:    q,
		costs:    costs,
		service:  service,
		worker:   worker,
		health:   health,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Service exposes the pipeline operations to the API layer.
func (d *Daemon) Service() *pipeline.Service {
	return d.service
}

// Start acquires the daemon lock and launches workers, sweepers, and the API
// server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another quill daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	workers := d.cfg.Pipeline.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.workerLoop(runCtx, i)
	}
	d.wg.Add(1)
	go d.sweepLoop(runCtx)

	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			cancel()
			d.wg.Wait()
			_ = d.lock.Unlock()
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("quill daemon started", logging.Args(
		logging.String("lock", d.lockPath),
		logging.Int("workers", workers),
	)...)
	return nil
}

// Stop halts background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	if d.api != nil {
		d.api.stop()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Args(logging.Error(err))...)
	}
	d.running.Store(false)
	d.logger.Info("quill daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.queue != nil {
		errs = append(errs, d.queue.Close())
	}
	if d.costs != nil {
		errs = append(errs, d.costs.Close())
	}
	return errors.Join(errs...)
}

// Status summarizes daemon runtime state.
func (d *Daemon) Status(ctx context.Context) Status {
	health, err := d.queue.Health(ctx)
	if err != nil {
		d.logger.Warn("queue health unavailable", logging.Args(logging.Error(err))...)
	}
	workers := d.cfg.Pipeline.Workers
	if workers <= 0 {
		workers = 1
	}
	return Status{
		Running:      d.running.Load(),
		Workers:      workers,
		Queue:        health,
		QueueDBPath:  d.cfg.QueueDBPath(),
		LedgerDBPath: d.cfg.LedgerDBPath(),
		LockFilePath: d.lockPath,
	}
}

// Healthy verifies the daemon's dependencies. Used by the /api/health
// endpoint.
func (d *Daemon) Healthy(ctx context.Context) error {
	if _, err := d.queue.Health(ctx); err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	if _, err := d.costs.CheckGlobal(ctx); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	if d.health != nil {
		if err := d.health.HealthCheck(ctx); err != nil {
			return fmt.Errorf("llm provider: %w", err)
		}
	}
	return nil
}
