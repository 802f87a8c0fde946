package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, limits Limits) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "ledger.db"), limits)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func defaultLimits() Limits {
	return Limits{
		DefaultUserUSD:  5,
		GlobalUSD:       5000,
		AlertThresholds: []int{50, 75, 90, 100},
	}
}

func TestRecordUpdatesRollupAtomically(t *testing.T) {
	store := openStore(t, defaultLimits())
	ctx := context.Background()

	_, err := store.Record(ctx, CostEvent{
		ReportID:     "r-1",
		UserID:       "u-1",
		CostCenter:   "analysis",
		FeatureName:  "developmental",
		Operation:    "llm_complete",
		USD:          1.25,
		InputTokens:  100000,
		OutputTokens: 5000,
	})
	require.NoError(t, err)

	user, err := store.CheckUser(ctx, "u-1")
	require.NoError(t, err)
	assert.InDelta(t, 1.25, user.SpentUSD, 1e-9)
	assert.Equal(t, 5.0, user.LimitUSD)
	assert.False(t, user.Exceeded)

	global, err := store.CheckGlobal(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1.25, global.SpentUSD, 1e-9)
}

func TestExceededAtLimit(t *testing.T) {
	store := openStore(t, defaultLimits())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.Record(ctx, CostEvent{
			UserID:     "u-1",
			CostCenter: "analysis",
			Operation:  "llm_complete",
			USD:        1,
		})
		require.NoError(t, err)
	}

	user, err := store.CheckUser(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, user.Exceeded)
}

func TestAlertsFireOncePerThreshold(t *testing.T) {
	store := openStore(t, defaultLimits())
	ctx := context.Background()

	alerts, err := store.Record(ctx, CostEvent{UserID: "u-1", CostCenter: "analysis", Operation: "llm_complete", USD: 3})
	require.NoError(t, err)
	thresholds := alertThresholds(alerts, "u-1")
	assert.Equal(t, []int{50}, thresholds)

	// A second event in the same band must not re-alert.
	alerts, err = store.Record(ctx, CostEvent{UserID: "u-1", CostCenter: "analysis", Operation: "llm_complete", USD: 0.1})
	require.NoError(t, err)
	assert.Empty(t, alertThresholds(alerts, "u-1"))

	alerts, err = store.Record(ctx, CostEvent{UserID: "u-1", CostCenter: "analysis", Operation: "llm_complete", USD: 2})
	require.NoError(t, err)
	assert.Equal(t, []int{75, 90, 100}, alertThresholds(alerts, "u-1"))
}

func alertThresholds(alerts []Alert, scope string) []int {
	var out []int
	for _, alert := range alerts {
		if alert.Scope == scope {
			out = append(out, alert.Threshold)
		}
	}
	return out
}

func TestSetLimitOverridesTierDefault(t *testing.T) {
	store := openStore(t, defaultLimits())
	ctx := context.Background()

	require.NoError(t, store.SetLimit(ctx, "u-vip", 500))
	status, err := store.CheckUser(ctx, "u-vip")
	require.NoError(t, err)
	assert.Equal(t, 500.0, status.LimitUSD)
}

func TestPeriodIsolation(t *testing.T) {
	store := openStore(t, defaultLimits())
	ctx := context.Background()

	lastMonth := time.Now().UTC().AddDate(0, -1, 0)
	_, err := store.Record(ctx, CostEvent{
		UserID:     "u-1",
		CostCenter: "analysis",
		Operation:  "llm_complete",
		USD:        4.9,
		CreatedAt:  lastMonth,
	})
	require.NoError(t, err)

	// Current-period spend is untouched by last month's events.
	status, err := store.CheckUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Zero(t, status.SpentUSD)
	assert.False(t, status.Exceeded)
}

func TestEventsForReport(t *testing.T) {
	store := openStore(t, defaultLimits())
	ctx := context.Background()

	for _, stage := range []string{"developmental", "lineEditing"} {
		_, err := store.Record(ctx, CostEvent{
			ReportID:    "r-9",
			UserID:      "u-1",
			CostCenter:  "analysis",
			FeatureName: stage,
			Operation:   "llm_complete",
			USD:         0.5,
		})
		require.NoError(t, err)
	}

	events, err := store.EventsForReport(ctx, "r-9")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "developmental", events[0].FeatureName)
}

func TestMonthlyReportGroupsByCostCenter(t *testing.T) {
	store := openStore(t, defaultLimits())
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := store.Record(ctx, CostEvent{UserID: "u-1", CostCenter: "analysis", Operation: "llm_complete", USD: 1})
	require.NoError(t, err)
	_, err = store.Record(ctx, CostEvent{UserID: "u-1", CostCenter: "marketing", Operation: "llm_complete", USD: 0.25})
	require.NoError(t, err)

	totals, err := store.MonthlyReport(ctx, "u-1", PeriodOf(now))
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, "analysis", totals[0].CostCenter)
	assert.InDelta(t, 1.0, totals[0].USD, 1e-9)
}

func TestPricing(t *testing.T) {
	pricing := Pricing{LLMRateInPerMTok: 3, LLMRateOutPerMTok: 15}
	assert.InDelta(t, 0.375, pricing.LLMCost(100000, 5000), 1e-9)
	assert.InDelta(t, 0.59, StripeFee(10), 1e-9)
	assert.Equal(t, 0.0005, EmailCost())
	assert.Zero(t, InfraCost("unknown_op"))
}

func TestPeriodOf(t *testing.T) {
	at := time.Date(2026, time.September, 1, 0, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-09", PeriodOf(at))
}

func TestRecordConcurrentWritersLoseNothing(t *testing.T) {
	store := openStore(t, Limits{DefaultUserUSD: 500, GlobalUSD: 5000})
	ctx := context.Background()

	const writers = 8
	const perWriter = 5

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := store.Record(ctx, CostEvent{
					ReportID:     "r-1",
					UserID:       "u-1",
					CostCenter:   "analysis",
					FeatureName:  "developmental",
					Operation:    "llm_complete",
					USD:          0.1,
					InputTokens:  1000,
					OutputTokens: 100,
				})
				if err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent record: %v", err)
	}

	events, err := store.EventsForReport(ctx, "r-1")
	require.NoError(t, err)
	require.Len(t, events, writers*perWriter)

	status, err := store.CheckUser(ctx, "u-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.1*writers*perWriter, status.SpentUSD, 1e-9)
}
