// Package analyzer executes a single pipeline stage: it loads the manuscript
// and parent artifacts, checks budget headroom, calls the model, validates
// the structured output, records cost, and persists the result.
package analyzer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"quill/internal/dag"
	"quill/internal/errkind"
	"quill/internal/ledger"
	"quill/internal/llm"
	"quill/internal/logging"
	"quill/internal/objectstore"
	"quill/internal/prompts"
	"quill/internal/schemas"
)

const (
	// tokensPerWord approximates the tokenizer's expansion of English prose.
	tokensPerWord = 1.3
	// budgetHeadroom inflates the cost estimate before the preflight check so
	// a stage that would land exactly on the limit is refused.
	budgetHeadroom = 1.25

	// recordAttempts bounds the cost-event write retries after a billed call.
	recordAttempts   = 3
	recordRetryDelay = 50 * time.Millisecond
)

// Job identifies one stage execution.
type Job struct {
	ReportID      string
	UserID        string
	ManuscriptKey string
	StageID       string
	Attempt       int
	// Repair re-prompts with the previous attempt's validation failures
	// after a validation_error.
	Repair      bool
	RepairHints string
}

// Result summarizes a completed stage execution.
type Result struct {
	StageID      string
	ResultKey    string
	USD          float64
	InputTokens  int
	OutputTokens int
}

// Analyzer is a stateless stage worker. All state lives in the object store
// and the cost ledger; the same job can be re-run safely.
type Analyzer struct {
	store     objectstore.Store
	completer llm.Completer
	costs     *ledger.Store
	pricing   ledger.Pricing
	graph     *dag.Graph
	logger    *slog.Logger
}

// New constructs an analyzer.
func New(store objectstore.Store, completer llm.Completer, costs *ledger.Store, pricing ledger.Pricing, graph *dag.Graph, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Analyzer{
		store:     store,
		completer: completer,
		costs:     costs,
		pricing:   pricing,
		graph:     graph,
		logger:    logging.NewComponentLogger(logger, "analyzer"),
	}
}

// Run executes one stage attempt. The result key is written only after
// validation and cost accounting succeed; on error nothing is persisted
// under the result key. A cost event is recorded whenever the provider
// billed for the call, even when a later step fails.
func (a *Analyzer) Run(ctx context.Context, job Job) (Result, error) {
	stage, ok := a.graph.Stage(job.StageID)
	if !ok {
		return Result{}, errkind.Wrap(errkind.ErrInvariant, job.StageID, "run", "unknown stage", nil)
	}

	manuscript, artifacts, err := a.loadInputs(ctx, job, stage)
	if err != nil {
		return Result{}, err
	}

	if err := a.preflightBudget(ctx, job, stage, manuscript, artifacts); err != nil {
		return Result{}, err
	}

	systemPrompt, err := prompts.ForStage(stage.ID)
	if err != nil {
		return Result{}, errkind.Wrap(errkind.ErrInvariant, stage.ID, "prompt", "load system prompt", err)
	}
	if job.Repair {
		systemPrompt = prompts.Repair(systemPrompt, job.RepairHints)
	}

	completion, err := a.completer.Complete(ctx, llm.Request{
		SystemPrompt:   systemPrompt,
		UserPrompt:     buildUserPrompt(manuscript, stage, artifacts),
		MaxTokens:      stage.MaxOutputTokens,
		Temperature:    stage.Temperature,
		IdempotencyKey: RequestID(job.ReportID, stage.ID, job.Attempt),
	})
	if err != nil {
		return Result{}, err
	}

	// The provider billed for this call, so the cost event is recorded even
	// if validation or the result write fails afterwards. A completion whose
	// cost cannot be recorded never produces a result.
	usd := a.pricing.LLMCost(int64(completion.InputTokens), int64(completion.OutputTokens))
	if err := a.recordCost(ctx, job, stage, completion, usd); err != nil {
		return Result{}, errkind.Wrap(errkind.ErrTransient, stage.ID, "ledger", "record cost event", err)
	}

	if err := schemas.Validate(stage.ID, []byte(completion.Text)); err != nil {
		var ve *schemas.ValidationError
		if errors.As(err, &ve) {
			return Result{}, errkind.Wrap(errkind.ErrValidation, stage.ID, "validate", ve.Hints(), nil)
		}
		return Result{}, errkind.Wrap(errkind.ErrInvariant, stage.ID, "validate", "schema unavailable", err)
	}

	resultKey := objectstore.ResultKey(job.ReportID, stage.ID)
	if err := a.store.Put(ctx, resultKey, []byte(completion.Text)); err != nil {
		return Result{}, errkind.Wrap(errkind.ErrTransient, stage.ID, "persist", "write result", err)
	}

	a.logger.InfoContext(ctx, "stage complete", logging.Args(
		logging.String(logging.FieldReportID, job.ReportID),
		logging.String(logging.FieldStage, stage.ID),
		logging.Int(logging.FieldAttempt, job.Attempt),
		logging.Float64("usd", usd),
		logging.Int("input_tokens", completion.InputTokens),
		logging.Int("output_tokens", completion.OutputTokens),
	)...)

	return Result{
		StageID:      stage.ID,
		ResultKey:    resultKey,
		USD:          usd,
		InputTokens:  completion.InputTokens,
		OutputTokens: completion.OutputTokens,
	}, nil
}

// RequestID derives the deterministic idempotency key for one stage attempt.
func RequestID(reportID, stageID string, attempt int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d", reportID, stageID, attempt))
	return hex.EncodeToString(sum[:])
}

func (a *Analyzer) loadInputs(ctx context.Context, job Job, stage dag.Stage) (string, map[string]string, error) {
	manuscript, err := a.store.Get(ctx, job.ManuscriptKey)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return "", nil, errkind.Wrap(errkind.ErrInvariant, stage.ID, "inputs", "manuscript missing at "+job.ManuscriptKey, nil)
		}
		return "", nil, errkind.Wrap(errkind.ErrTransient, stage.ID, "inputs", "read manuscript", err)
	}

	artifacts := make(map[string]string, len(stage.DependsOn))
	for _, parentID := range stage.DependsOn {
		raw, err := a.store.Get(ctx, objectstore.ResultKey(job.ReportID, parentID))
		if err != nil {
			if errors.Is(err, objectstore.ErrNotFound) {
				return "", nil, errkind.Wrap(errkind.ErrInvariant, stage.ID, "inputs", "predecessor artifact missing: "+parentID, nil)
			}
			return "", nil, errkind.Wrap(errkind.ErrTransient, stage.ID, "inputs", "read artifact "+parentID, err)
		}
		artifacts[parentID] = string(raw)
	}
	return string(manuscript), artifacts, nil
}

func (a *Analyzer) preflightBudget(ctx context.Context, job Job, stage dag.Stage, manuscript string, artifacts map[string]string) error {
	words := len(strings.Fields(manuscript))
	for _, artifact := range artifacts {
		words += len(strings.Fields(artifact))
	}
	estimatedIn := int64(float64(words) * tokensPerWord)
	estimate := a.pricing.LLMCost(estimatedIn, int64(stage.MaxOutputTokens)) * budgetHeadroom

	user, err := a.costs.CheckUser(ctx, job.UserID)
	if err != nil {
		return errkind.Wrap(errkind.ErrTransient, stage.ID, "budget", "check user budget", err)
	}
	if user.Exceeded || user.LimitUSD-user.SpentUSD < estimate {
		return errkind.Wrap(errkind.ErrBudget, stage.ID, "budget",
			fmt.Sprintf("user %s: spent %.2f of %.2f USD, estimate %.2f", job.UserID, user.SpentUSD, user.LimitUSD, estimate), nil)
	}

	global, err := a.costs.CheckGlobal(ctx)
	if err != nil {
		return errkind.Wrap(errkind.ErrTransient, stage.ID, "budget", "check global budget", err)
	}
	if global.Exceeded || global.LimitUSD-global.SpentUSD < estimate {
		return errkind.Wrap(errkind.ErrBudget, stage.ID, "budget",
			fmt.Sprintf("global: spent %.2f of %.2f USD, estimate %.2f", global.SpentUSD, global.LimitUSD, estimate), nil)
	}
	return nil
}

// recordCost appends the billed event. Billing already happened at the
// provider, so a write failure is retried before it fails the stage: a lost
// event would break the CostEvent/rollup equivalence.
func (a *Analyzer) recordCost(ctx context.Context, job Job, stage dag.Stage, completion llm.Completion, usd float64) error {
	event := ledger.CostEvent{
		EventID:      uuid.NewString(),
		ReportID:     job.ReportID,
		UserID:       job.UserID,
		CostCenter:   stage.CostCenter,
		FeatureName:  stage.ID,
		Operation:    "llm.complete",
		USD:          usd,
		InputTokens:  int64(completion.InputTokens),
		OutputTokens: int64(completion.OutputTokens),
	}

	var alerts []ledger.Alert
	var err error
	for attempt := 1; attempt <= recordAttempts; attempt++ {
		alerts, err = a.costs.Record(ctx, event)
		if err == nil {
			break
		}
		a.logger.WarnContext(ctx, "cost event write failed", logging.Args(
			logging.String(logging.FieldReportID, job.ReportID),
			logging.String(logging.FieldStage, stage.ID),
			logging.Int(logging.FieldAttempt, attempt),
			logging.Error(err),
		)...)
		if attempt < recordAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(recordRetryDelay):
			}
		}
	}
	if err != nil {
		return err
	}
	for _, alert := range alerts {
		a.logger.WarnContext(ctx, "budget threshold crossed", logging.Args(
			logging.String("scope", alert.Scope),
			logging.String("period", alert.Period),
			logging.Int("threshold_pct", alert.Threshold),
			logging.Float64("spent_usd", alert.SpentUSD),
			logging.Float64("limit_usd", alert.LimitUSD),
		)...)
	}
	return nil
}

func buildUserPrompt(manuscript string, stage dag.Stage, artifacts map[string]string) string {
	var sb strings.Builder
	if len(artifacts) > 0 {
		sb.WriteString("Artifacts from earlier stages:\n")
		for _, parentID := range stage.DependsOn {
			artifact, ok := artifacts[parentID]
			if !ok {
				continue
			}
			fmt.Fprintf(&sb, "--- %s ---\n%s\n", parentID, artifact)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Manuscript:\n")
	sb.WriteString(manuscript)
	return sb.String()
}
