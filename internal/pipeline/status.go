package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"quill/internal/objectstore"
)

// StatusRecord is the wire-stable projection pollers read. Field names and
// shapes must not change without a contract review.
type StatusRecord struct {
	State       ReportState       `json:"state"`
	Progress    float64           `json:"progress"`
	CurrentStep string            `json:"currentStep,omitempty"`
	Message     string            `json:"message,omitempty"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	Results     map[string]string `json:"results,omitempty"`
	Errors      map[string]string `json:"errors,omitempty"`
}

// StatusFromRun projects a run into its wire record. Results are inlined
// only once the run is terminal; the status write happens strictly after the
// result writes, so a poller observing terminal state can trust every key.
func StatusFromRun(run *Run, currentStep string, now time.Time) StatusRecord {
	record := StatusRecord{
		State:       run.State,
		Progress:    run.Progress,
		CurrentStep: currentStep,
		Message:     run.Message,
		UpdatedAt:   now,
	}
	if run.State.Terminal() {
		if results := run.Results(); len(results) > 0 {
			record.Results = results
		}
	}
	if errs := run.Errors(); len(errs) > 0 {
		record.Errors = errs
	}
	return record
}

// WriteStatus persists a status record. This is the only place a status
// record is written; it runs immediately after the owning run commit.
func WriteStatus(ctx context.Context, store objectstore.Store, reportID string, record StatusRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode status %s: %w", reportID, err)
	}
	return store.Put(ctx, objectstore.StatusKey(reportID), raw)
}

// ReadStatus fetches the current status record for a report.
func ReadStatus(ctx context.Context, store objectstore.Store, reportID string) (StatusRecord, error) {
	raw, err := store.Get(ctx, objectstore.StatusKey(reportID))
	if err != nil {
		return StatusRecord{}, err
	}
	var record StatusRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return StatusRecord{}, fmt.Errorf("decode status %s: %w", reportID, err)
	}
	return record, nil
}
