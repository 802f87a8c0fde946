package analyzer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quill/internal/dag"
	"quill/internal/errkind"
	"quill/internal/ledger"
	"quill/internal/llm"
	"quill/internal/objectstore"
	"quill/internal/objectstore/local"
)

type fakeCompleter struct {
	responses map[string]string
	err       error
	calls     []llm.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (llm.Completion, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return llm.Completion{}, f.err
	}
	text, ok := f.responses[req.IdempotencyKey]
	if !ok {
		text = f.responses[""]
	}
	return llm.Completion{Text: text, InputTokens: 1200, OutputTokens: 300}, nil
}

const validKeywords = `{"keywords": ["epic fantasy", "dragons", "found family", "slow burn", "coming of age", "sword and sorcery", "first in series"]}`

func newHarness(t *testing.T, limits ledger.Limits) (*Analyzer, objectstore.Store, *fakeCompleter, *ledger.Store) {
	t.Helper()
	store, err := local.New(t.TempDir())
	require.NoError(t, err)
	costs, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"), limits)
	require.NoError(t, err)
	t.Cleanup(func() { _ = costs.Close() })

	completer := &fakeCompleter{responses: map[string]string{}}
	pricing := ledger.Pricing{LLMRateInPerMTok: 3, LLMRateOutPerMTok: 15}
	an := New(store, completer, costs, pricing, dag.V1(), nil)
	return an, store, completer, costs
}

func seedManuscript(t *testing.T, store objectstore.Store) string {
	t.Helper()
	key := objectstore.ManuscriptKey("user-1", "ms-1")
	require.NoError(t, store.Put(context.Background(), key, []byte("Chapter one. The dragon woke early and regretted it.")))
	return key
}

func TestRunWritesResultAndCost(t *testing.T) {
	an, store, completer, costs := newHarness(t, ledger.Limits{DefaultUserUSD: 50, GlobalUSD: 5000})
	ctx := context.Background()
	msKey := seedManuscript(t, store)

	// developmental has no dependencies, so any stage output shape check is
	// exercised with the keywords stage below. Use keywords with its parent
	// seeded.
	require.NoError(t, store.Put(ctx, objectstore.ResultKey("rep-1", dag.StageDevelopmental), []byte(`{"summary":"ok"}`)))
	completer.responses[""] = validKeywords

	res, err := an.Run(ctx, Job{
		ReportID:      "rep-1",
		UserID:        "user-1",
		ManuscriptKey: msKey,
		StageID:       dag.StageKeywords,
		Attempt:       1,
	})
	require.NoError(t, err)
	assert.Equal(t, dag.StageKeywords, res.StageID)
	assert.Equal(t, objectstore.ResultKey("rep-1", dag.StageKeywords), res.ResultKey)
	assert.InDelta(t, 3.0/1e6*1200+15.0/1e6*300, res.USD, 1e-9)

	written, err := store.Get(ctx, res.ResultKey)
	require.NoError(t, err)
	assert.JSONEq(t, validKeywords, string(written))

	events, err := costs.EventsForReport(ctx, "rep-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, dag.StageKeywords, events[0].FeatureName)
	assert.Equal(t, "marketing", events[0].CostCenter)
	assert.Equal(t, int64(1200), events[0].InputTokens)
}

func TestRunMissingManuscript(t *testing.T) {
	an, _, _, _ := newHarness(t, ledger.Limits{DefaultUserUSD: 50, GlobalUSD: 5000})

	_, err := an.Run(context.Background(), Job{
		ReportID:      "rep-1",
		UserID:        "user-1",
		ManuscriptKey: objectstore.ManuscriptKey("user-1", "missing"),
		StageID:       dag.StageDevelopmental,
		Attempt:       1,
	})
	require.Error(t, err)
	assert.Equal(t, errkind.KindInvariant, errkind.Kind(err))
}

func TestRunMissingPredecessor(t *testing.T) {
	an, store, completer, _ := newHarness(t, ledger.Limits{DefaultUserUSD: 50, GlobalUSD: 5000})
	msKey := seedManuscript(t, store)
	completer.responses[""] = validKeywords

	_, err := an.Run(context.Background(), Job{
		ReportID:      "rep-1",
		UserID:        "user-1",
		ManuscriptKey: msKey,
		StageID:       dag.StageKeywords,
		Attempt:       1,
	})
	require.Error(t, err)
	assert.Equal(t, errkind.KindInvariant, errkind.Kind(err))
	assert.Empty(t, completer.calls, "no model call when inputs are incomplete")
}

func TestRunBudgetPreflight(t *testing.T) {
	an, store, completer, _ := newHarness(t, ledger.Limits{DefaultUserUSD: 0.000001, GlobalUSD: 5000})
	msKey := seedManuscript(t, store)

	_, err := an.Run(context.Background(), Job{
		ReportID:      "rep-1",
		UserID:        "user-1",
		ManuscriptKey: msKey,
		StageID:       dag.StageDevelopmental,
		Attempt:       1,
	})
	require.Error(t, err)
	assert.Equal(t, errkind.KindBudget, errkind.Kind(err))
	assert.Empty(t, completer.calls, "no model call without budget headroom")
}

func TestRunValidationFailureStillRecordsCost(t *testing.T) {
	an, store, completer, costs := newHarness(t, ledger.Limits{DefaultUserUSD: 50, GlobalUSD: 5000})
	ctx := context.Background()
	msKey := seedManuscript(t, store)
	completer.responses[""] = `{"keywords": ["just one"]}`
	require.NoError(t, store.Put(ctx, objectstore.ResultKey("rep-1", dag.StageDevelopmental), []byte(`{"summary":"ok"}`)))

	_, err := an.Run(ctx, Job{
		ReportID:      "rep-1",
		UserID:        "user-1",
		ManuscriptKey: msKey,
		StageID:       dag.StageKeywords,
		Attempt:       1,
	})
	require.Error(t, err)
	assert.Equal(t, errkind.KindValidation, errkind.Kind(err))

	// The provider billed, so the event exists even though the stage failed.
	events, err := costs.EventsForReport(ctx, "rep-1")
	require.NoError(t, err)
	assert.Len(t, events, 1)

	// Nothing was written under the result key.
	exists, err := store.Exists(ctx, objectstore.ResultKey("rep-1", dag.StageKeywords))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRunRepairPrompt(t *testing.T) {
	an, store, completer, _ := newHarness(t, ledger.Limits{DefaultUserUSD: 50, GlobalUSD: 5000})
	ctx := context.Background()
	msKey := seedManuscript(t, store)
	completer.responses[""] = validKeywords
	require.NoError(t, store.Put(ctx, objectstore.ResultKey("rep-1", dag.StageDevelopmental), []byte(`{"summary":"ok"}`)))

	_, err := an.Run(ctx, Job{
		ReportID:      "rep-1",
		UserID:        "user-1",
		ManuscriptKey: msKey,
		StageID:       dag.StageKeywords,
		Attempt:       2,
		Repair:        true,
		RepairHints:   "keywords: array must have exactly 7 items",
	})
	require.NoError(t, err)
	require.Len(t, completer.calls, 1)
	assert.Contains(t, completer.calls[0].SystemPrompt, "did not satisfy the required schema")
	assert.Contains(t, completer.calls[0].SystemPrompt, "exactly 7 items")
}

func TestRunPropagatesCompleterError(t *testing.T) {
	an, store, completer, costs := newHarness(t, ledger.Limits{DefaultUserUSD: 50, GlobalUSD: 5000})
	ctx := context.Background()
	msKey := seedManuscript(t, store)
	completer.err = errkind.Wrap(errkind.ErrAuth, dag.StageDevelopmental, "complete", "api key rejected", nil)

	_, err := an.Run(ctx, Job{
		ReportID:      "rep-1",
		UserID:        "user-1",
		ManuscriptKey: msKey,
		StageID:       dag.StageDevelopmental,
		Attempt:       1,
	})
	require.Error(t, err)
	assert.Equal(t, errkind.KindAuth, errkind.Kind(err))

	// Nothing billed, nothing recorded.
	events, err := costs.EventsForReport(ctx, "rep-1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRecordCostFailureIsReturned(t *testing.T) {
	an, _, _, costs := newHarness(t, ledger.Limits{DefaultUserUSD: 50, GlobalUSD: 5000})
	ctx := context.Background()

	stage, ok := dag.V1().Stage(dag.StageKeywords)
	require.True(t, ok)

	// A billed completion whose event cannot be written must surface the
	// failure instead of dropping the event.
	require.NoError(t, costs.Close())
	err := an.recordCost(ctx, Job{ReportID: "rep-1", UserID: "user-1", Attempt: 1}, stage,
		llm.Completion{Text: validKeywords, InputTokens: 1200, OutputTokens: 300}, 0.01)
	require.Error(t, err)
}

func TestRequestIDDeterministic(t *testing.T) {
	first := RequestID("rep-1", dag.StageKeywords, 1)
	assert.Equal(t, first, RequestID("rep-1", dag.StageKeywords, 1))
	assert.NotEqual(t, first, RequestID("rep-1", dag.StageKeywords, 2))
	assert.Len(t, first, 64)
}
