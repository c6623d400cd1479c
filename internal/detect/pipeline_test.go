package detect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/budwatch/internal/model"
)

type funcDetector struct {
	name string
	fn   func(*model.Snapshot, Config) ([]model.Alert, error)
}

func (d funcDetector) Name() string { return d.name }

func (d funcDetector) Detect(snap *model.Snapshot, cfg Config) ([]model.Alert, error) {
	return d.fn(snap, cfg)
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func overspendSnapshot() *model.Snapshot {
	return &model.Snapshot{
		BudgetID:   "b-1",
		AsOf:       day(2024, 3, 15),
		Categories: []model.Category{{ID: "cat-1", Name: "Dining", Month: day(2024, 3, 1), Activity: -5000}},
	}
}

func TestPipelineIsolatesFailures(t *testing.T) {
	t.Parallel()

	panicky := funcDetector{name: "panicky", fn: func(*model.Snapshot, Config) ([]model.Alert, error) {
		var m map[string]int
		m["boom"]++
		return nil, nil
	}}
	failing := funcDetector{name: "failing", fn: func(*model.Snapshot, Config) ([]model.Alert, error) {
		return nil, errors.New("no data source")
	}}

	p := NewPipeline(quietLogger(), panicky, BudgetOverspend{}, failing)
	report, err := p.Run(context.Background(), overspendSnapshot(), testConfig())
	require.NoError(t, err)

	require.Len(t, report.Alerts, 1)
	assert.Equal(t, model.KindBudgetOverspend, report.Alerts[0].Kind)

	require.Len(t, report.Failures, 2)
	assert.Equal(t, "panicky", report.Failures[0].Detector)
	assert.Contains(t, report.Failures[0].Err.Error(), "panicked")
	assert.Equal(t, "failing", report.Failures[1].Detector)
}

func TestPipelineKeepsHighestSeverity(t *testing.T) {
	t.Parallel()

	emit := func(sev model.Severity) Detector {
		return funcDetector{name: string(sev), fn: func(snap *model.Snapshot, _ Config) ([]model.Alert, error) {
			return []model.Alert{model.NewAlert(snap.BudgetID, model.KindUnusualSpending, sev, "cat-1", "t-1")}, nil
		}}
	}

	p := NewPipeline(quietLogger(), emit(model.SeverityWarning), emit(model.SeverityCritical), emit(model.SeverityInfo))
	report, err := p.Run(context.Background(), overspendSnapshot(), testConfig())
	require.NoError(t, err)
	require.Len(t, report.Alerts, 1)
	assert.Equal(t, model.SeverityCritical, report.Alerts[0].Severity)
}

func TestPipelineRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Overspend.Approaching = 0
	_, err := NewPipeline(quietLogger()).Run(context.Background(), overspendSnapshot(), cfg)
	require.Error(t, err)
}

func TestPipelineHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPipeline(quietLogger()).Run(ctx, overspendSnapshot(), testConfig())
	require.ErrorIs(t, err, context.Canceled)
}

func TestPipelineDefaultDetectors(t *testing.T) {
	t.Parallel()

	snap := unusualSnapshot(groceries("t-new", day(2024, 3, 20), -50000))
	snap.Categories[0].Budgeted = 40000
	snap.Categories[0].Activity = -50000
	snap.ScheduledTransactions = []model.ScheduledTransaction{streamflix(day(2024, 3, 10))}

	report, err := NewPipeline(quietLogger()).Run(context.Background(), snap, testConfig())
	require.NoError(t, err)
	assert.Empty(t, report.Failures)

	kinds := map[model.AlertKind]int{}
	for _, a := range report.Alerts {
		kinds[a.Kind]++
	}
	assert.Equal(t, map[model.AlertKind]int{
		model.KindUnusualSpending:  1,
		model.KindBudgetOverspend:  1,
		model.KindRecurringMissing: 1,
	}, kinds)
}

func BenchmarkUnusualSpending(b *testing.B) {
	snap := &model.Snapshot{BudgetID: "b-1", AsOf: day(2024, 6, 30)}
	start := day(2024, 1, 1)
	for i := range 5000 {
		cat := fmt.Sprintf("cat-%02d", i%20)
		snap.Transactions = append(snap.Transactions, model.Transaction{
			ID:         fmt.Sprintf("t-%05d", i),
			AccountID:  "acc-1",
			CategoryID: cat,
			Date:       start.AddDate(0, 0, i/28),
			Amount:     -int64(5000 + (i*7919)%20000),
		})
	}
	cfg := testConfig()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := (UnusualSpending{}).Detect(snap, cfg); err != nil {
			b.Fatal(err)
		}
	}
}
