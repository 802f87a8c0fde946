package daemon

import (
	"context"
	"testing"

	"quill/internal/analyzer"
	"quill/internal/config"
	"quill/internal/dag"
	"quill/internal/ledger"
	"quill/internal/objectstore"
	"quill/internal/objectstore/local"
	"quill/internal/queue"
	"quill/internal/testsupport"
)

type stubRunner struct{}

func (stubRunner) Run(_ context.Context, job analyzer.Job) (analyzer.Result, error) {
	return analyzer.Result{StageID: job.StageID, ResultKey: objectstore.ResultKey(job.ReportID, job.StageID)}, nil
}

func newTestDaemon(t *testing.T, bind string, opts ...testsupport.ConfigOption) *Daemon {
	t.Helper()
	base := []testsupport.ConfigOption{
		testsupport.WithWorkers(1),
		func(c *config.Config) {
			c.Paths.APIBind = bind
			c.Queue.PollIntervalSec = 1
		},
	}
	cfg := testsupport.NewConfig(t, append(base, opts...)...)

	store, err := local.New(cfg.ObjectStore.LocalDir)
	if err != nil {
		t.Fatalf("object store: %v", err)
	}
	q, err := queue.Open(cfg.QueueDBPath(), queue.Options{})
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	costs, err := ledger.Open(cfg.LedgerDBPath(), ledger.Limits{DefaultUserUSD: 5, GlobalUSD: 5000})
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}

	d, err := New(cfg, store, q, costs, dag.V1(), stubRunner{}, nil, nil)
	if err != nil {
		t.Fatalf("daemon: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDaemonStartStop(t *testing.T) {
	d := newTestDaemon(t, "")
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !d.Status(ctx).Running {
		t.Fatal("expected daemon to report running")
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to report stopped")
	}
}

func TestDaemonSingleInstanceLock(t *testing.T) {
	d := newTestDaemon(t, "")
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	// A second daemon sharing the lock path must refuse to start.
	other, err := New(d.cfg, d.store, d.queue, d.costs, dag.V1(), stubRunner{}, nil, nil)
	if err != nil {
		t.Fatalf("second daemon: %v", err)
	}
	if err := other.Start(ctx); err == nil {
		other.Stop()
		t.Fatal("expected lock contention to fail second start")
	}
}

func TestDaemonHealthy(t *testing.T) {
	d := newTestDaemon(t, "")
	if err := d.Healthy(context.Background()); err != nil {
		t.Fatalf("healthy: %v", err)
	}
}
