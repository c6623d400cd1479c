package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/budwatch/internal/model"
)

func overspendAlert(sev model.Severity) model.Alert {
	a := model.NewAlert(testBudget, model.KindBudgetOverspend, sev, "cat-groceries", "2024-03")
	a.CategoryID = "cat-groceries"
	a.Title = "Groceries over budget"
	a.Message = "Groceries is at 92% of its budget"
	a.Details["ratio"] = 0.92
	return a
}

func TestEmitAlertDeduplicates(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	out, err := s.EmitAlert(ctx, overspendAlert(model.SeverityWarning))
	require.NoError(t, err)
	require.Equal(t, Inserted, out)

	out, err = s.EmitAlert(ctx, overspendAlert(model.SeverityWarning))
	require.NoError(t, err)
	require.Equal(t, Unchanged, out)

	alerts, err := s.ListAlerts(ctx, AlertFilter{BudgetID: testBudget})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.InDelta(t, 0.92, alerts[0].Details["ratio"], 1e-9)
}

func TestEmitAlertUpgradesSeverityInPlace(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.EmitAlert(ctx, overspendAlert(model.SeverityWarning))
	require.NoError(t, err)

	critical := overspendAlert(model.SeverityCritical)
	critical.Message = "Groceries is over budget"
	out, err := s.EmitAlert(ctx, critical)
	require.NoError(t, err)
	require.Equal(t, Upgraded, out)

	// A lower severity never downgrades.
	out, err = s.EmitAlert(ctx, overspendAlert(model.SeverityWarning))
	require.NoError(t, err)
	require.Equal(t, Unchanged, out)

	got, err := s.GetAlert(ctx, critical.ID)
	require.NoError(t, err)
	require.Equal(t, model.SeverityCritical, got.Severity)
	require.Equal(t, "Groceries is over budget", got.Message)
}

func TestAcknowledgeIsTerminal(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	a := overspendAlert(model.SeverityWarning)
	_, err := s.EmitAlert(ctx, a)
	require.NoError(t, err)
	require.NoError(t, s.AcknowledgeAlert(ctx, a.ID))

	first, err := s.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, first.Acknowledged())

	require.NoError(t, s.AcknowledgeAlert(ctx, a.ID))

	out, err := s.EmitAlert(ctx, overspendAlert(model.SeverityCritical))
	require.NoError(t, err)
	require.Equal(t, Unchanged, out)

	got, err := s.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, model.SeverityWarning, got.Severity)
	require.Equal(t, *first.AcknowledgedAt, *got.AcknowledgedAt)

	require.ErrorIs(t, s.AcknowledgeAlert(ctx, "no-such-alert"), ErrNotFound)
}

func TestListAlertsFilters(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	warn := overspendAlert(model.SeverityWarning)
	crit := model.NewAlert(testBudget, model.KindRecurringMissing, model.SeverityCritical, "sched-1", "2024-03-05")
	crit.Title = "Rent missing"
	info := model.NewAlert("other-budget", model.KindUnusualSpending, model.SeverityInfo, "txn-9", "txn-9")
	for _, a := range []model.Alert{warn, crit, info} {
		_, err := s.EmitAlert(ctx, a)
		require.NoError(t, err)
	}
	require.NoError(t, s.AcknowledgeAlert(ctx, warn.ID))

	open := false
	tests := []struct {
		name   string
		filter AlertFilter
		want   []string
	}{
		{"budget", AlertFilter{BudgetID: testBudget}, []string{warn.ID, crit.ID}},
		{"kind", AlertFilter{Kinds: []model.AlertKind{model.KindRecurringMissing}}, []string{crit.ID}},
		{"min severity", AlertFilter{MinSeverity: model.SeverityWarning}, []string{warn.ID, crit.ID}},
		{"open only", AlertFilter{BudgetID: testBudget, Acknowledged: &open}, []string{crit.ID}},
		{"limit", AlertFilter{Limit: 1}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListAlerts(ctx, tt.filter)
			require.NoError(t, err)
			if tt.filter.Limit > 0 {
				require.Len(t, got, tt.filter.Limit)
				return
			}
			ids := make([]string, 0, len(got))
			for _, a := range got {
				ids = append(ids, a.ID)
			}
			require.ElementsMatch(t, tt.want, ids)
		})
	}
}

func TestDismissHidesAndFreezesAlert(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	a := overspendAlert(model.SeverityWarning)
	_, err := s.EmitAlert(ctx, a)
	require.NoError(t, err)
	require.NoError(t, s.DismissAlert(ctx, a.ID))
	require.NoError(t, s.DismissAlert(ctx, a.ID))

	hidden, err := s.ListAlerts(ctx, AlertFilter{BudgetID: testBudget})
	require.NoError(t, err)
	require.Empty(t, hidden)

	all, err := s.ListAlerts(ctx, AlertFilter{BudgetID: testBudget, IncludeDismissed: true})
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.True(t, all[0].Dismissed())
	require.False(t, all[0].Acknowledged())

	out, err := s.EmitAlert(ctx, overspendAlert(model.SeverityCritical))
	require.NoError(t, err)
	require.Equal(t, Unchanged, out)

	got, err := s.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, model.SeverityWarning, got.Severity)

	require.ErrorIs(t, s.DismissAlert(ctx, "no-such-alert"), ErrNotFound)
}
