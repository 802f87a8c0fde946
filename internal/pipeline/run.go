package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"quill/internal/dag"
	"quill/internal/objectstore"
)

// ReportState is the report-level state machine. Terminal states are never
// left once entered.
type ReportState string

const (
	StateQueued    ReportState = "queued"
	StateRunning   ReportState = "running"
	StateComplete  ReportState = "complete"
	StateFailed    ReportState = "failed"
	StateCancelled ReportState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s ReportState) Terminal() bool {
	return s == StateComplete || s == StateFailed || s == StateCancelled
}

// StageStatus is the per-stage state machine.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
	StageCancelled StageStatus = "cancelled"
)

// Resolved reports whether the stage needs no further work.
func (s StageStatus) Resolved() bool {
	switch s {
	case StageSucceeded, StageFailed, StageSkipped, StageCancelled:
		return true
	}
	return false
}

// StageState records one stage's progress within a run.
type StageState struct {
	Status    StageStatus `json:"status"`
	Attempts  int         `json:"attempts"`
	ErrorKind string      `json:"errorKind,omitempty"`
	ResultKey string      `json:"resultKey,omitempty"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Run is the aggregate root for one report: the durable record the leasing
// worker loads, advances, and persists at runs/{reportId}.
type Run struct {
	ReportID      string                 `json:"reportId"`
	UserID        string                 `json:"userId"`
	ManuscriptID  string                 `json:"manuscriptId"`
	ManuscriptKey string                 `json:"manuscriptKey"`
	DAGVersion    int                    `json:"dagVersion"`
	State         ReportState            `json:"state"`
	Progress      float64                `json:"progress"`
	Message       string                 `json:"message,omitempty"`
	Stages        map[string]*StageState `json:"stages"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
	FinishedAt    *time.Time             `json:"finishedAt,omitempty"`
}

// NewRun seeds a run with every stage pending.
func NewRun(reportID, userID, manuscriptID, manuscriptKey string, graph *dag.Graph, now time.Time) *Run {
	stages := make(map[string]*StageState, len(graph.Stages()))
	for _, stage := range graph.Stages() {
		stages[stage.ID] = &StageState{Status: StagePending, UpdatedAt: now}
	}
	return &Run{
		ReportID:      reportID,
		UserID:        userID,
		ManuscriptID:  manuscriptID,
		ManuscriptKey: manuscriptKey,
		DAGVersion:    graph.Version,
		State:         StateQueued,
		Stages:        stages,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// RecomputeProgress recalculates weighted progress from resolved stages.
// Progress is weakly monotonic: it never moves backwards, even if stage
// bookkeeping would suggest a lower value.
func (r *Run) RecomputeProgress(graph *dag.Graph) {
	total := graph.TotalWeight()
	if total <= 0 {
		return
	}
	var resolved float64
	for _, stage := range graph.Stages() {
		state, ok := r.Stages[stage.ID]
		if ok && state.Status.Resolved() {
			resolved += stage.Weight
		}
	}
	pct := 100 * resolved / total
	if pct > r.Progress {
		r.Progress = pct
	}
}

// Results maps every succeeded stage to its result key.
func (r *Run) Results() map[string]string {
	results := make(map[string]string)
	for id, state := range r.Stages {
		if state.Status == StageSucceeded && state.ResultKey != "" {
			results[id] = state.ResultKey
		}
	}
	return results
}

// Errors maps every stage that ended with an error kind to that kind,
// including optional stages skipped on budget exhaustion.
func (r *Run) Errors() map[string]string {
	errs := make(map[string]string)
	for id, state := range r.Stages {
		if state.ErrorKind != "" {
			errs[id] = state.ErrorKind
		}
	}
	return errs
}

// Finish moves the run into a terminal state.
func (r *Run) Finish(state ReportState, message string, now time.Time) {
	r.State = state
	r.Message = message
	r.UpdatedAt = now
	r.FinishedAt = &now
}

// LoadRun reads and decodes a run from the object store.
func LoadRun(ctx context.Context, store objectstore.Store, reportID string) (*Run, error) {
	raw, err := store.Get(ctx, objectstore.RunKey(reportID))
	if err != nil {
		return nil, err
	}
	var run Run
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", reportID, err)
	}
	return &run, nil
}

// SaveRun persists a run. Callers must hold the report's queue lease.
func SaveRun(ctx context.Context, store objectstore.Store, run *Run) error {
	raw, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.ReportID, err)
	}
	return store.Put(ctx, objectstore.RunKey(run.ReportID), raw)
}
