// Package pipeline drives a report through the analysis stage graph: submit,
// cancel, status, and the leased worker loop that executes stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"quill/internal/dag"
	"quill/internal/errkind"
	"quill/internal/ledger"
	"quill/internal/logging"
	"quill/internal/objectstore"
	"quill/internal/queue"
)

// Submission errors surfaced to the API layer.
var (
	ErrDuplicateReport   = errors.New("report already exists")
	ErrManuscriptMissing = errors.New("manuscript not found")
	ErrBudgetExceeded    = errkind.ErrBudget
)

// SubmitRequest asks for a new report over an uploaded manuscript.
type SubmitRequest struct {
	// ReportID is optional; one is generated when empty.
	ReportID     string
	UserID       string
	ManuscriptID string
	// Tier overrides the user's monthly budget limit when set
	// (free, pro, enterprise).
	Tier string
}

// Service exposes the pipeline's public operations. All state lives in the
// object store, the queue, and the ledger; the service itself is stateless.
type Service struct {
	store     objectstore.Store
	queue     *queue.Store
	costs     *ledger.Store
	graph     *dag.Graph
	tierLimit func(tier string) (float64, bool)
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the pipeline service. tierLimit resolves a tier name
// to its monthly USD limit; it may be nil when tiers are not used.
func NewService(store objectstore.Store, q *queue.Store, costs *ledger.Store, graph *dag.Graph, tierLimit func(string) (float64, bool), logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		store:     store,
		queue:     q,
		costs:     costs,
		graph:     graph,
		tierLimit: tierLimit,
		logger:    logging.NewComponentLogger(logger, "pipeline"),
		now:       time.Now,
	}
}

// Submit validates preconditions, seeds the run and its queued status
// record, and enqueues one envelope. It returns the new report ID.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	reportID := req.ReportID
	if reportID == "" {
		reportID = uuid.NewString()
	}

	exists, err := s.store.Exists(ctx, objectstore.RunKey(reportID))
	if err != nil {
		return "", fmt.Errorf("check existing run: %w", err)
	}
	if exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateReport, reportID)
	}

	manuscriptKey := objectstore.ManuscriptKey(req.UserID, req.ManuscriptID)
	exists, err = s.store.Exists(ctx, manuscriptKey)
	if err != nil {
		return "", fmt.Errorf("check manuscript: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrManuscriptMissing, manuscriptKey)
	}

	if req.Tier != "" && s.tierLimit != nil {
		if limit, ok := s.tierLimit(req.Tier); ok {
			if err := s.costs.SetLimit(ctx, req.UserID, limit); err != nil {
				return "", fmt.Errorf("apply tier limit: %w", err)
			}
		}
	}
	budget, err := s.costs.CheckUser(ctx, req.UserID)
	if err != nil {
		return "", fmt.Errorf("check budget: %w", err)
	}
	if budget.Exceeded {
		return "", fmt.Errorf("%w: user %s spent %.2f of %.2f USD this period",
			ErrBudgetExceeded, req.UserID, budget.SpentUSD, budget.LimitUSD)
	}

	now := s.now().UTC()
	run := NewRun(reportID, req.UserID, req.ManuscriptID, manuscriptKey, s.graph, now)
	if err := SaveRun(ctx, s.store, run); err != nil {
		return "", fmt.Errorf("seed run: %w", err)
	}
	if err := WriteStatus(ctx, s.store, reportID, StatusFromRun(run, "", now)); err != nil {
		return "", fmt.Errorf("seed status: %w", err)
	}
	if _, err := s.queue.Enqueue(ctx, reportID, s.graph.Version); err != nil {
		return "", fmt.Errorf("enqueue report: %w", err)
	}

	s.logger.InfoContext(ctx, "report submitted", logging.Args(
		logging.String(logging.FieldReportID, reportID),
		logging.String("user_id", req.UserID),
		logging.String("manuscript_id", req.ManuscriptID),
	)...)
	return reportID, nil
}

// Cancel writes the report's cancel marker. The leasing worker observes it
// at its next suspension point; Cancel itself returns immediately and is
// idempotent.
func (s *Service) Cancel(ctx context.Context, reportID string) error {
	exists, err := s.store.Exists(ctx, objectstore.RunKey(reportID))
	if err != nil {
		return fmt.Errorf("check run: %w", err)
	}
	if !exists {
		return objectstore.ErrNotFound
	}
	marker := fmt.Appendf(nil, "cancelled at %s", s.now().UTC().Format(time.RFC3339))
	if err := s.store.Put(ctx, objectstore.CancelKey(reportID), marker); err != nil {
		return fmt.Errorf("write cancel marker: %w", err)
	}
	s.logger.InfoContext(ctx, "cancel requested", logging.Args(
		logging.String(logging.FieldReportID, reportID),
	)...)
	return nil
}

// Status reads the report's status record. No locks are taken.
func (s *Service) Status(ctx context.Context, reportID string) (StatusRecord, error) {
	return ReadStatus(ctx, s.store, reportID)
}

// Result returns one stage's result payload as an opaque pass-through.
func (s *Service) Result(ctx context.Context, reportID, stageID string) ([]byte, error) {
	return s.store.Get(ctx, objectstore.ResultKey(reportID, stageID))
}
