package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/semaphore"

	"quill/internal/analyzer"
	"quill/internal/dag"
	"quill/internal/errkind"
	"quill/internal/logging"
	"quill/internal/objectstore"
	"quill/internal/queue"
)

// Runner executes one stage attempt. Satisfied by *analyzer.Analyzer and by
// test fakes.
type Runner interface {
	Run(ctx context.Context, job analyzer.Job) (analyzer.Result, error)
}

// WorkerOptions tunes the orchestration loop.
type WorkerOptions struct {
	PerReportConcurrency int
	// MaxAttempts overrides every stage's attempt limit when positive.
	MaxAttempts          int
	StageTimeout         time.Duration
	RetryBase            time.Duration
	RetryCap             time.Duration
	HeartbeatInterval    time.Duration
}

func (o *WorkerOptions) normalize() {
	if o.PerReportConcurrency <= 0 {
		o.PerReportConcurrency = 5
	}
	if o.StageTimeout <= 0 {
		o.StageTimeout = 10 * time.Minute
	}
	if o.RetryBase <= 0 {
		o.RetryBase = time.Second
	}
	if o.RetryCap <= 0 {
		o.RetryCap = 30 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = time.Minute
	}
}

// Worker advances leased reports through the stage graph. A worker holds at
// most one report's lease per Process call; the queue guarantees no other
// worker advances the same report concurrently.
type Worker struct {
	store  objectstore.Store
	queue  *queue.Store
	runner Runner
	graph  *dag.Graph
	// llmSlots caps simultaneous model calls across all reports in this
	// process.
	llmSlots *semaphore.Weighted
	opts     WorkerOptions
	logger   *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWorker constructs a worker. llmSlots is shared across workers in the
// same process to enforce the global model-call cap.
func NewWorker(store objectstore.Store, q *queue.Store, runner Runner, graph *dag.Graph, llmSlots *semaphore.Weighted, opts WorkerOptions, logger *slog.Logger) *Worker {
	opts.normalize()
	if logger == nil {
		logger = logging.NewNop()
	}
	if llmSlots == nil {
		llmSlots = semaphore.NewWeighted(16)
	}
	return &Worker{
		store:    store,
		queue:    q,
		runner:   runner,
		graph:    graph,
		llmSlots: llmSlots,
		opts:     opts,
		logger:   logging.NewComponentLogger(logger, "worker"),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// stageOutcome is the serialized result of one stage execution.
type stageOutcome struct {
	stageID   string
	status    StageStatus
	errorKind string
	resultKey string
	attempts  int
}

// Process drives one leased envelope until the report suspends or reaches a
// terminal state. The caller owns the lease identified by owner.
func (w *Worker) Process(ctx context.Context, env *queue.Envelope, owner string) error {
	run, err := LoadRun(ctx, w.store, env.ReportID)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			// No run was seeded for this envelope; nothing will ever make it
			// deliverable.
			return w.queue.DeadLetter(ctx, env.EnvelopeID, "pipeline run missing")
		}
		return fmt.Errorf("load run %s: %w", env.ReportID, err)
	}

	if run.State.Terminal() {
		return w.queue.Ack(ctx, env.EnvelopeID, owner)
	}

	if env.DAGVersion != w.graph.Version || run.DAGVersion != w.graph.Version {
		return w.failDAGMismatch(ctx, env, owner, run)
	}

	// A stage left in running state belongs to a crashed worker whose lease
	// expired. Its attempt never completed; rerun it from pending. Result
	// writes are idempotent, so a duplicated attempt is harmless.
	for _, state := range run.Stages {
		if state.Status == StageRunning {
			state.Status = StagePending
		}
	}

	if run.State == StateQueued {
		run.State = StateRunning
		run.UpdatedAt = w.now().UTC()
		if err := w.commit(ctx, run, ""); err != nil {
			return err
		}
	}

	for {
		cancelled, err := w.checkCancel(ctx, env, owner, run)
		if err != nil || cancelled {
			return err
		}

		w.propagateSkips(run)

		ready := w.readyStages(run)
		if len(ready) == 0 {
			return w.finish(ctx, env, owner, run)
		}

		if len(ready) > w.opts.PerReportConcurrency {
			ready = ready[:w.opts.PerReportConcurrency]
		}
		if err := w.runWave(ctx, env, owner, run, ready); err != nil {
			return err
		}
	}
}

// readyStages returns pending stages whose parents all succeeded, in graph
// order.
func (w *Worker) readyStages(run *Run) []dag.Stage {
	var ready []dag.Stage
	for _, stage := range w.graph.Stages() {
		state := run.Stages[stage.ID]
		if state == nil || state.Status != StagePending {
			continue
		}
		ok := true
		for _, parentID := range stage.DependsOn {
			parent := run.Stages[parentID]
			if parent == nil || parent.Status != StageSucceeded {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, stage)
		}
	}
	return ready
}

// propagateSkips marks pending stages whose parents can never succeed.
// Graph order is topological, so one pass reaches the fixpoint.
func (w *Worker) propagateSkips(run *Run) {
	now := w.now().UTC()
	for _, stage := range w.graph.Stages() {
		state := run.Stages[stage.ID]
		if state == nil || state.Status != StagePending {
			continue
		}
		for _, parentID := range stage.DependsOn {
			parent := run.Stages[parentID]
			if parent != nil && parent.Status.Resolved() && parent.Status != StageSucceeded {
				state.Status = StageSkipped
				state.UpdatedAt = now
				break
			}
		}
	}
}

// runWave dispatches a batch of ready stages and applies their outcomes
// serially as they arrive. The envelope is heartbeated while the wave runs.
func (w *Worker) runWave(ctx context.Context, env *queue.Envelope, owner string, run *Run, wave []dag.Stage) error {
	now := w.now().UTC()
	for _, stage := range wave {
		state := run.Stages[stage.ID]
		state.Status = StageRunning
		state.UpdatedAt = now
	}
	if err := w.commit(ctx, run, wave[0].ID); err != nil {
		return err
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.heartbeatLoop(heartbeatCtx, env, owner)

	outcomes := make(chan stageOutcome, len(wave))
	for _, stage := range wave {
		go func(stage dag.Stage) {
			outcomes <- w.executeStage(ctx, run, stage)
		}(stage)
	}

	for range wave {
		outcome := <-outcomes
		state := run.Stages[outcome.stageID]
		state.Status = outcome.status
		state.ErrorKind = outcome.errorKind
		state.ResultKey = outcome.resultKey
		state.Attempts = outcome.attempts
		state.UpdatedAt = w.now().UTC()
		run.RecomputeProgress(w.graph)
		if err := w.commit(ctx, run, outcome.stageID); err != nil {
			return err
		}
		if err := w.queue.Heartbeat(ctx, env.EnvelopeID, owner); err != nil {
			return fmt.Errorf("heartbeat %s: %w", env.ReportID, err)
		}
	}
	return nil
}

// executeStage runs one stage to a final per-stage status, applying the
// retry policy: transient errors retry with full-jitter backoff up to the
// stage's attempt limit, a validation error earns exactly one repair
// re-prompt, and every other kind fails immediately.
func (w *Worker) executeStage(ctx context.Context, run *Run, stage dag.Stage) stageOutcome {
	attempts := run.Stages[stage.ID].Attempts
	maxAttempts := stage.MaxAttempts
	if w.opts.MaxAttempts > 0 {
		maxAttempts = w.opts.MaxAttempts
	}
	repairUsed := false
	repairHints := ""

	for {
		attempts++
		job := analyzer.Job{
			ReportID:      run.ReportID,
			UserID:        run.UserID,
			ManuscriptKey: run.ManuscriptKey,
			StageID:       stage.ID,
			Attempt:       attempts,
			Repair:        repairUsed && repairHints != "",
			RepairHints:   repairHints,
		}

		result, err := w.attempt(ctx, job)
		if err == nil {
			return stageOutcome{stageID: stage.ID, status: StageSucceeded, resultKey: result.ResultKey, attempts: attempts}
		}

		kind := errkind.Kind(err)
		w.logger.WarnContext(ctx, "stage attempt failed", logging.Args(
			logging.String(logging.FieldReportID, run.ReportID),
			logging.String(logging.FieldStage, stage.ID),
			logging.Int(logging.FieldAttempt, attempts),
			logging.String(logging.FieldErrorKind, kind),
			logging.Error(err),
		)...)

		switch {
		case kind == errkind.KindCancelled:
			return stageOutcome{stageID: stage.ID, status: StageCancelled, errorKind: kind, attempts: attempts}
		case kind == errkind.KindBudget && stage.Criticality == dag.Optional:
			// Budget exhaustion only fails the report when a required stage
			// is affected; optional stages are dropped instead.
			return stageOutcome{stageID: stage.ID, status: StageSkipped, errorKind: kind, attempts: attempts}
		case kind == errkind.KindValidation && !repairUsed:
			repairUsed = true
			repairHints = err.Error()
			continue
		case errkind.Retryable(err) && attempts < maxAttempts:
			if sleepErr := w.sleep(ctx, w.backoff(attempts)); sleepErr != nil {
				return stageOutcome{stageID: stage.ID, status: StageCancelled, errorKind: errkind.KindCancelled, attempts: attempts}
			}
			continue
		default:
			return stageOutcome{stageID: stage.ID, status: StageFailed, errorKind: kind, attempts: attempts}
		}
	}
}

// attempt makes a single model-backed run of the stage under the global call
// cap and the per-stage wall clock.
func (w *Worker) attempt(ctx context.Context, job analyzer.Job) (analyzer.Result, error) {
	if err := w.llmSlots.Acquire(ctx, 1); err != nil {
		return analyzer.Result{}, errkind.Wrap(errkind.ErrCancelled, job.StageID, "dispatch", "worker shutting down", err)
	}
	defer w.llmSlots.Release(1)

	stageCtx, cancel := context.WithTimeout(ctx, w.opts.StageTimeout)
	defer cancel()
	return w.runner.Run(stageCtx, job)
}

// backoff computes full-jitter exponential backoff for the given attempt.
func (w *Worker) backoff(attempt int) time.Duration {
	ceiling := float64(w.opts.RetryBase) * math.Pow(2, float64(attempt-1))
	if capped := float64(w.opts.RetryCap); ceiling > capped {
		ceiling = capped
	}
	return time.Duration(rand.Float64() * ceiling)
}

// checkCancel observes the report's cancel marker. When set, in-flight work
// has already drained (waves are awaited), so the run moves to cancelled.
func (w *Worker) checkCancel(ctx context.Context, env *queue.Envelope, owner string, run *Run) (bool, error) {
	set, err := w.store.Exists(ctx, objectstore.CancelKey(run.ReportID))
	if err != nil {
		return false, fmt.Errorf("check cancel marker: %w", err)
	}
	if !set {
		return false, nil
	}

	now := w.now().UTC()
	for _, state := range run.Stages {
		if state.Status == StageRunning {
			state.Status = StageCancelled
			state.ErrorKind = errkind.KindCancelled
			state.UpdatedAt = now
		}
	}
	run.Finish(StateCancelled, "cancelled by user", now)
	if err := w.commit(ctx, run, ""); err != nil {
		return false, err
	}
	w.logger.InfoContext(ctx, "report cancelled", logging.Args(
		logging.String(logging.FieldReportID, run.ReportID),
	)...)
	return true, w.queue.Ack(ctx, env.EnvelopeID, owner)
}

// finish decides the terminal state once no stage is runnable.
func (w *Worker) finish(ctx context.Context, env *queue.Envelope, owner string, run *Run) error {
	now := w.now().UTC()
	failedRequired := ""
	for _, stage := range w.graph.Stages() {
		state := run.Stages[stage.ID]
		if stage.Criticality == dag.Required && state != nil && state.Status != StageSucceeded {
			failedRequired = stage.ID
			break
		}
	}

	run.RecomputeProgress(w.graph)
	if failedRequired != "" {
		run.Finish(StateFailed, "required stage "+failedRequired+" failed", now)
	} else {
		run.Progress = 100
		run.Finish(StateComplete, "analysis complete", now)
	}
	if err := w.commit(ctx, run, ""); err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "report finished", logging.Args(
		logging.String(logging.FieldReportID, run.ReportID),
		logging.String("state", string(run.State)),
		logging.Float64("progress", run.Progress),
	)...)
	return w.queue.Ack(ctx, env.EnvelopeID, owner)
}

func (w *Worker) failDAGMismatch(ctx context.Context, env *queue.Envelope, owner string, run *Run) error {
	now := w.now().UTC()
	run.Finish(StateFailed, fmt.Sprintf("dag version mismatch: run has v%d, worker has v%d", run.DAGVersion, w.graph.Version), now)
	if err := w.commit(ctx, run, ""); err != nil {
		return err
	}
	w.logger.ErrorContext(ctx, "dag version mismatch", logging.Args(
		logging.String(logging.FieldReportID, run.ReportID),
		logging.String(logging.FieldErrorKind, errkind.KindDAGMismatch),
		logging.Int("run_dag_version", run.DAGVersion),
		logging.Int("worker_dag_version", w.graph.Version),
	)...)
	return w.queue.Ack(ctx, env.EnvelopeID, owner)
}

// commit persists the run and then projects its status record. The status
// write always happens strictly after the run (and any result) writes so a
// poller can trust what it reads.
func (w *Worker) commit(ctx context.Context, run *Run, currentStep string) error {
	run.UpdatedAt = w.now().UTC()
	if err := SaveRun(ctx, w.store, run); err != nil {
		return fmt.Errorf("save run %s: %w", run.ReportID, err)
	}
	if err := WriteStatus(ctx, w.store, run.ReportID, StatusFromRun(run, currentStep, run.UpdatedAt)); err != nil {
		return fmt.Errorf("write status %s: %w", run.ReportID, err)
	}
	return nil
}

func (w *Worker) heartbeatLoop(ctx context.Context, env *queue.Envelope, owner string) {
	ticker := time.NewTicker(w.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.queue.Heartbeat(ctx, env.EnvelopeID, owner); err != nil {
				w.logger.WarnContext(ctx, "heartbeat failed", logging.Args(
					logging.String(logging.FieldReportID, env.ReportID),
					logging.Error(err),
				)...)
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
