package daemon

import (
	"context"
	"time"

	"quill/internal/logging"
	"quill/internal/objectstore"
)

// sweepLoop periodically expires old status records and logs queue depth.
// Status records carry a TTL (default seven days); runs and results are kept
// until the report is deleted.
func (d *Daemon) sweepLoop(ctx context.Context) {
	defer d.wg.Done()

	interval := secondsOr(d.cfg.Queue.ReclaimIntervalSec, 300)
	ttl := secondsOr(d.cfg.Pipeline.StatusTTLSec, 604800)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweepOnce(ctx, ttl)
		}
	}
}

func (d *Daemon) sweepOnce(ctx context.Context, ttl time.Duration) {
	if sweeper, ok := d.store.(objectstore.Sweeper); ok {
		removed, err := sweeper.SweepExpired(ctx, objectstore.StatusPrefix(), ttl)
		if err != nil {
			d.logger.Warn("status sweep failed", logging.Args(logging.Error(err))...)
		} else if removed > 0 {
			d.logger.Info("expired status records removed", logging.Args(
				logging.Int("removed", removed),
			)...)
		}
	}

	health, err := d.queue.Health(ctx)
	if err != nil {
		d.logger.Warn("queue health unavailable", logging.Args(logging.Error(err))...)
		return
	}
	if health.DeadLetters > 0 {
		d.logger.Warn("dead letters awaiting review", logging.Args(
			logging.Int("dead_letters", health.DeadLetters),
		)...)
	}
}
