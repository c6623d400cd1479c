package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/budwatch/internal/detect"
	"github.com/theirongolddev/budwatch/internal/model"
	"github.com/theirongolddev/budwatch/internal/store"
)

const budgetID = "b-1"

type fakeRemote struct {
	mu      sync.Mutex
	batches map[model.Cursor]*model.Batch
	budgets []model.Budget
}

func (f *fakeRemote) FetchBudget(_ context.Context, _ string, since model.Cursor) (*model.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.batches[since]; ok {
		return b, nil
	}
	return &model.Batch{BudgetID: budgetID, Cursor: since}, nil
}

func (f *fakeRemote) Budgets(context.Context) ([]model.Budget, error) {
	return f.budgets, nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func detectConfig() detect.Config {
	return detect.Config{
		Unusual: detect.UnusualConfig{Warning: 2.5, Critical: 3.5, MinHistory: 5, LookbackMonths: 6, RecentDays: 30, GroupBy: detect.GroupByCategory},
		Overspend: detect.OverspendConfig{Approaching: 0.9},
		Recurring: detect.RecurringConfig{
			DaysWarning: 3, DaysCritical: 7,
			AmountTolerancePercent: 5, AmountToleranceAbsolute: 100,
			MatchBandPercent: 50, MatchWindowDays: 5, LookbackDays: 60,
		},
	}
}

func grocery(id string, date time.Time, amount int64) model.Transaction {
	return model.Transaction{ID: id, AccountID: "acc-1", CategoryID: "cat-groceries", PayeeName: "Corner Grocer", Date: date, Amount: amount, Cleared: model.Cleared}
}

func bootstrap() *model.Batch {
	march := day(2024, 3, 1)
	return &model.Batch{
		BudgetID: budgetID,
		Accounts: []model.Account{{ID: "acc-1", Name: "Checking", Type: model.AccountChecking, OnBudget: true}},
		Categories: []model.Category{
			{ID: "cat-groceries", Month: march, GroupName: "Everyday", Name: "Groceries", Budgeted: 400_000, Activity: -60_000},
			{ID: "cat-dining", Month: march, GroupName: "Everyday", Name: "Dining", Budgeted: 10_000, Activity: -9_200},
		},
		ScheduledTransactions: []model.ScheduledTransaction{
			{ID: "sched-1", AccountID: "acc-1", PayeeName: "Streamflix", Amount: -15_990,
				DateFirst: day(2023, 1, 26), DateNext: day(2024, 3, 26), Frequency: model.FrequencyMonthly},
		},
		Transactions: []model.Transaction{
			grocery("h-1", day(2024, 1, 5), -10_000),
			grocery("h-2", day(2024, 1, 12), -11_000),
			grocery("h-3", day(2024, 1, 19), -9_000),
			grocery("h-4", day(2024, 2, 2), -10_500),
			grocery("h-5", day(2024, 2, 9), -9_500),
			grocery("h-6", day(2024, 2, 16), -10_000),
			grocery("t-big", day(2024, 3, 20), -50_000),
		},
		Cursor: 10,
	}
}

func newTestApp(t *testing.T) (*App, *fakeRemote, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "budwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	rc := &fakeRemote{
		batches: map[model.Cursor]*model.Batch{0: bootstrap()},
		budgets: []model.Budget{{ID: budgetID, Name: "Household", CurrencyISO: "USD"}},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(st, rc, detectConfig(), log), rc, st
}

func kinds(alerts []model.Alert) map[model.AlertKind]model.Severity {
	out := make(map[model.AlertKind]model.Severity, len(alerts))
	for _, a := range alerts {
		out[a.Kind] = a.Severity
	}
	return out
}

func TestSyncThenDetect(t *testing.T) {
	t.Parallel()

	a, _, _ := newTestApp(t)
	ctx := context.Background()
	asOf := day(2024, 3, 31)

	res, err := a.Sync(ctx, budgetID)
	require.NoError(t, err)
	require.True(t, res.OK())

	first, err := a.Detect(ctx, budgetID, asOf)
	require.NoError(t, err)
	assert.Empty(t, first.Failures)
	assert.Equal(t, 3, first.Inserted)
	assert.Equal(t, map[model.AlertKind]model.Severity{
		model.KindUnusualSpending:  model.SeverityCritical,
		model.KindBudgetOverspend:  model.SeverityWarning,
		model.KindRecurringMissing: model.SeverityWarning,
	}, kinds(first.Alerts))
	for _, alert := range first.Alerts {
		assert.False(t, alert.CreatedAt.IsZero())
	}

	second, err := a.Detect(ctx, budgetID, asOf)
	require.NoError(t, err)
	assert.Empty(t, second.Alerts, "a repeated run over unchanged data must not raise new alerts")
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 3, second.Existing)

	stored, err := a.ListAlerts(ctx, store.AlertFilter{BudgetID: budgetID})
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestDetectUpgradesAndRespectsAcknowledgement(t *testing.T) {
	t.Parallel()

	a, rc, _ := newTestApp(t)
	ctx := context.Background()

	_, err := a.Sync(ctx, budgetID)
	require.NoError(t, err)
	first, err := a.Detect(ctx, budgetID, day(2024, 3, 31))
	require.NoError(t, err)

	var missingID string
	for _, alert := range first.Alerts {
		if alert.Kind == model.KindRecurringMissing {
			missingID = alert.ID
		}
	}
	require.NotEmpty(t, missingID)
	require.NoError(t, a.Acknowledge(ctx, missingID))
	require.NoError(t, a.Acknowledge(ctx, missingID), "acknowledging twice is a no-op")

	// Dining goes over budget and the big grocery run is deleted remotely.
	rc.mu.Lock()
	rc.batches[10] = &model.Batch{
		BudgetID: budgetID,
		Categories: []model.Category{
			{ID: "cat-dining", Month: day(2024, 3, 1), GroupName: "Everyday", Name: "Dining", Budgeted: 10_000, Activity: -12_000},
		},
		Transactions: []model.Transaction{{ID: "t-big", AccountID: "acc-1", Date: day(2024, 3, 20), Amount: -50_000, Deleted: true}},
		Cursor:       20,
	}
	rc.mu.Unlock()

	res, err := a.Sync(ctx, budgetID)
	require.NoError(t, err)
	assert.Equal(t, model.Cursor(20), res.CursorAfter)

	// The schedule is now eight days late, but its alert was acknowledged.
	next, err := a.Detect(ctx, budgetID, day(2024, 4, 3))
	require.NoError(t, err)
	assert.Equal(t, 0, next.Inserted)
	assert.Empty(t, next.Alerts, "April has no category rows, so overspend stays quiet")

	again, err := a.Detect(ctx, budgetID, day(2024, 3, 31))
	require.NoError(t, err)
	require.Len(t, again.Alerts, 1)
	assert.Equal(t, 1, again.Upgraded)
	assert.Equal(t, model.KindBudgetOverspend, again.Alerts[0].Kind)
	assert.Equal(t, model.SeverityCritical, again.Alerts[0].Severity)

	missing, err := a.ListAlerts(ctx, store.AlertFilter{BudgetID: budgetID, Kinds: []model.AlertKind{model.KindRecurringMissing}})
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.True(t, missing[0].Acknowledged())
	assert.Equal(t, model.SeverityWarning, missing[0].Severity)
}

func TestDismissHidesAlertFromStatusAndRuns(t *testing.T) {
	t.Parallel()

	a, _, _ := newTestApp(t)
	ctx := context.Background()

	_, err := a.Sync(ctx, budgetID)
	require.NoError(t, err)
	first, err := a.Detect(ctx, budgetID, day(2024, 3, 31))
	require.NoError(t, err)
	require.NotEmpty(t, first.Alerts)

	before, err := a.Status(ctx, budgetID)
	require.NoError(t, err)
	require.NoError(t, a.Dismiss(ctx, first.Alerts[0].ID))

	after, err := a.Status(ctx, budgetID)
	require.NoError(t, err)
	assert.Equal(t, before.OpenAlerts-1, after.OpenAlerts)

	again, err := a.Detect(ctx, budgetID, day(2024, 3, 31))
	require.NoError(t, err)
	assert.Equal(t, 0, again.Inserted)
	assert.Empty(t, again.Alerts)

	require.ErrorIs(t, a.Dismiss(ctx, "no-such-alert"), store.ErrNotFound)
}

func TestAcknowledgeUnknownAlert(t *testing.T) {
	t.Parallel()

	a, _, _ := newTestApp(t)
	err := a.Acknowledge(context.Background(), "no-such-alert")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestBudgetsRefreshAndCache(t *testing.T) {
	t.Parallel()

	a, rc, _ := newTestApp(t)
	ctx := context.Background()

	budgets, err := a.Budgets(ctx, false)
	require.NoError(t, err)
	require.Len(t, budgets, 1)
	assert.Equal(t, "Household", budgets[0].Name)

	rc.budgets = nil
	cached, err := a.Budgets(ctx, false)
	require.NoError(t, err)
	assert.Len(t, cached, 1, "cached budgets are served without a remote call")
}

func TestStatus(t *testing.T) {
	t.Parallel()

	a, _, _ := newTestApp(t)
	ctx := context.Background()

	st, err := a.Status(ctx, budgetID)
	require.NoError(t, err)
	assert.Nil(t, st.LastRun)
	assert.Equal(t, model.Cursor(0), st.Cursor)

	_, err = a.Sync(ctx, budgetID)
	require.NoError(t, err)
	_, err = a.Detect(ctx, budgetID, day(2024, 3, 31))
	require.NoError(t, err)

	st, err = a.Status(ctx, budgetID)
	require.NoError(t, err)
	assert.Equal(t, model.Cursor(10), st.Cursor)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, "ok", st.LastRun.Status)
	assert.Equal(t, 3, st.OpenAlerts)
}

func TestOfflineApp(t *testing.T) {
	t.Parallel()

	st, err := store.Open(filepath.Join(t.TempDir(), "budwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	a := New(st, nil, detectConfig(), nil)
	_, err = a.Sync(context.Background(), budgetID)
	require.ErrorIs(t, err, ErrOffline)

	res, err := a.Detect(context.Background(), budgetID, day(2024, 3, 31))
	require.NoError(t, err)
	assert.Empty(t, res.Alerts)
}
