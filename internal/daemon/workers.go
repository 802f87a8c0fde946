package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"quill/internal/logging"
	"quill/internal/queue"
)

// workerLoop polls the queue and drives leased reports until shutdown.
// Expired leases from crashed workers come back through Dequeue, so no
// separate reclaim pass is needed.
func (d *Daemon) workerLoop(ctx context.Context, index int) {
	defer d.wg.Done()

	owner := fmt.Sprintf("%s-%d-%d", hostname(), os.Getpid(), index)
	logger := d.logger.With(logging.String("worker", owner))
	poll := secondsOr(d.cfg.Queue.PollIntervalSec, 5)
	errorRetry := secondsOr(d.cfg.Queue.ErrorRetryIntervalSec, 10)

	for {
		if ctx.Err() != nil {
			return
		}

		env, err := d.queue.Dequeue(ctx, owner)
		switch {
		case errors.Is(err, queue.ErrAlreadyLeased):
			// Other workers hold every deliverable report.
			if !sleepInterval(ctx, poll) {
				return
			}
			continue
		case err != nil:
			logger.Error("dequeue failed", logging.Args(logging.Error(err))...)
			if !sleepInterval(ctx, errorRetry) {
				return
			}
			continue
		case env == nil:
			if !sleepInterval(ctx, poll) {
				return
			}
			continue
		}

		logger.Info("envelope leased", logging.Args(
			logging.String(logging.FieldReportID, env.ReportID),
			logging.Int("delivery_count", env.DeliveryCount),
		)...)
		if err := d.worker.Process(ctx, env, owner); err != nil {
			// The lease expires on its own; the report is redelivered to the
			// next worker.
			logger.Error("report processing failed", logging.Args(
				logging.String(logging.FieldReportID, env.ReportID),
				logging.Error(err),
			)...)
			if !sleepInterval(ctx, errorRetry) {
				return
			}
		}
	}
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "quill"
	}
	return name
}

func secondsOr(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}

// sleepInterval waits for d or until ctx is done. Returns false on shutdown.
func sleepInterval(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
