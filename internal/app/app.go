// Package app exposes the sync-and-detect engine to its callers (the CLI
// and the daemon) as a handful of explicit, budget-scoped operations.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/theirongolddev/budwatch/internal/detect"
	"github.com/theirongolddev/budwatch/internal/model"
	"github.com/theirongolddev/budwatch/internal/store"
	"github.com/theirongolddev/budwatch/internal/syncer"
)

// ErrOffline is returned by operations that need the remote service when
// the app was built without a client.
var ErrOffline = errors.New("app: no remote client configured")

// Remote is the subset of the budgeting service the app uses.
type Remote interface {
	syncer.Source
	Budgets(ctx context.Context) ([]model.Budget, error)
}

// App wires the store, the sync engine and the detector pipeline.
type App struct {
	store    *store.Store
	remote   Remote
	engine   *syncer.Engine
	pipeline *detect.Pipeline
	cfg      detect.Config
	log      *slog.Logger
}

// New creates an app. rc may be nil for read-only use; Sync and
// Budgets(refresh) then fail with ErrOffline.
func New(st *store.Store, rc Remote, cfg detect.Config, log *slog.Logger) *App {
	if log == nil {
		log = slog.Default()
	}
	a := &App{
		store:    st,
		remote:   rc,
		pipeline: detect.NewPipeline(log),
		cfg:      cfg,
		log:      log,
	}
	if rc != nil {
		a.engine = syncer.New(rc, st, log)
	}
	return a
}

// Sync pulls remote changes for one budget.
func (a *App) Sync(ctx context.Context, budgetID string) (*syncer.Result, error) {
	if a.engine == nil {
		return nil, ErrOffline
	}
	return a.engine.Sync(ctx, budgetID)
}

// DetectResult is the outcome of one detection pass.
type DetectResult struct {
	BudgetID string           `json:"budget_id"`
	AsOf     time.Time        `json:"as_of"`
	Alerts   []model.Alert    `json:"alerts"` // inserted or upgraded this run
	Inserted int              `json:"inserted"`
	Upgraded int              `json:"upgraded"`
	Existing int              `json:"existing"`
	Failures []detect.Failure `json:"-"`
}

// FailedDetectors lists detectors that produced no result this run.
func (r *DetectResult) FailedDetectors() []string {
	names := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		names = append(names, f.Detector)
	}
	return names
}

// Detect runs every detector over the committed state of a budget as of
// asOf and stores the findings. Only alerts that are new or were raised to
// a higher severity are returned, so repeating a run over unchanged data
// returns nothing.
func (a *App) Detect(ctx context.Context, budgetID string, asOf time.Time) (*DetectResult, error) {
	asOf = model.Day(asOf)
	snap, err := a.store.LoadSnapshot(ctx, budgetID, a.cfg.HistoryStart(asOf), asOf)
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}

	report, err := a.pipeline.Run(ctx, snap, a.cfg)
	if err != nil {
		return nil, err
	}

	res := &DetectResult{BudgetID: budgetID, AsOf: asOf, Failures: report.Failures}
	for _, alert := range report.Alerts {
		outcome, err := a.store.EmitAlert(ctx, alert)
		if err != nil {
			return nil, err
		}
		switch outcome {
		case store.Inserted:
			res.Inserted++
		case store.Upgraded:
			res.Upgraded++
		default:
			res.Existing++
			continue
		}
		stored, err := a.store.GetAlert(ctx, alert.ID)
		if err != nil {
			return nil, err
		}
		a.log.Info("alert", "budget", budgetID, "kind", stored.Kind, "alert", stored.ID,
			"severity", stored.Severity, "outcome", outcome.String())
		res.Alerts = append(res.Alerts, stored)
	}
	a.log.Debug("detect complete", "budget", budgetID, "as_of", asOf.Format("2006-01-02"),
		"inserted", res.Inserted, "upgraded", res.Upgraded, "existing", res.Existing,
		"failed", len(res.Failures), "duration", report.Duration)
	return res, nil
}

// ListAlerts returns stored alerts, newest first.
func (a *App) ListAlerts(ctx context.Context, f store.AlertFilter) ([]model.Alert, error) {
	return a.store.ListAlerts(ctx, f)
}

// Acknowledge closes an alert for good.
func (a *App) Acknowledge(ctx context.Context, alertID string) error {
	return a.store.AcknowledgeAlert(ctx, alertID)
}

// Dismiss hides an alert from default listings for good.
func (a *App) Dismiss(ctx context.Context, alertID string) error {
	return a.store.DismissAlert(ctx, alertID)
}

// Budgets returns the known budgets, refreshing the list from the remote
// service first when refresh is set or nothing is cached.
func (a *App) Budgets(ctx context.Context, refresh bool) ([]model.Budget, error) {
	if !refresh {
		cached, err := a.store.Budgets(ctx)
		if err != nil || len(cached) > 0 {
			return cached, err
		}
	}
	if a.remote == nil {
		return nil, ErrOffline
	}
	budgets, err := a.remote.Budgets(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.store.UpsertBudgets(ctx, budgets); err != nil {
		return nil, err
	}
	return a.store.Budgets(ctx)
}

// Status summarizes what is known locally about a budget.
type Status struct {
	BudgetID      string              `json:"budget_id"`
	Sync          syncer.BudgetStatus `json:"sync"`
	Cursor        model.Cursor        `json:"cursor"`
	CursorUpdated time.Time           `json:"cursor_updated,omitempty"`
	LastRun       *model.SyncRun      `json:"last_run,omitempty"`
	OpenAlerts    int                 `json:"open_alerts"`
}

// Status reports the sync state, cursor, last run and open alert count.
func (a *App) Status(ctx context.Context, budgetID string) (*Status, error) {
	st := &Status{BudgetID: budgetID, Sync: syncer.BudgetStatus{BudgetID: budgetID, State: syncer.StateIdle}}
	if a.engine != nil {
		st.Sync = a.engine.Status(budgetID)
	}

	var err error
	if st.Cursor, st.CursorUpdated, err = a.store.Cursor(ctx, budgetID); err != nil {
		return nil, err
	}
	run, err := a.store.LastSyncRun(ctx, budgetID)
	switch {
	case err == nil:
		st.LastRun = &run
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	open := false
	alerts, err := a.store.ListAlerts(ctx, store.AlertFilter{BudgetID: budgetID, Acknowledged: &open})
	if err != nil {
		return nil, err
	}
	st.OpenAlerts = len(alerts)
	return st, nil
}

// SpendingByCategory returns outflow per category in [from, to].
func (a *App) SpendingByCategory(ctx context.Context, budgetID string, from, to time.Time) ([]model.CategorySpend, error) {
	return a.store.SpendingByCategory(ctx, budgetID, from, to)
}

// MonthlySpending returns outflow per month for the months ending at asOf.
func (a *App) MonthlySpending(ctx context.Context, budgetID string, months int, asOf time.Time) ([]model.MonthSpend, error) {
	return a.store.MonthlySpending(ctx, budgetID, months, asOf)
}
