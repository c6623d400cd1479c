// Package syncer keeps the local store consistent with the remote budget by
// applying delta batches, one budget at a time.
//
// A batch is reconciled inside a single store transaction in dependency
// order (accounts, categories, scheduled transactions, transactions). The
// cursor that covers the batch is persisted only after that transaction has
// committed, so a crash or failure at any point leaves the old cursor in
// place and the next run refetches an overlapping, idempotent batch.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/theirongolddev/budwatch/internal/model"
	"github.com/theirongolddev/budwatch/internal/remote"
	"github.com/theirongolddev/budwatch/internal/store"
)

// ErrSyncInProgress is returned when a sync for the same budget is already
// running. Concurrent syncs fail fast rather than queue.
var ErrSyncInProgress = errors.New("syncer: sync already in progress for budget")

// Source fetches delta batches. *remote.Client implements it.
type Source interface {
	FetchBudget(ctx context.Context, budgetID string, since model.Cursor) (*model.Batch, error)
}

// State is where a budget's sync state machine currently is.
type State string

const (
	StateIdle        State = "idle"
	StateFetching    State = "fetching"
	StateReconciling State = "reconciling"
	StateFailed      State = "failed"
)

// Run outcomes.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Result describes one sync call.
type Result struct {
	RunID         string           `json:"run_id"`
	BudgetID      string           `json:"budget_id"`
	Status        string           `json:"status"`
	Kind          string           `json:"kind,omitempty"` // failure class, empty on success
	Reason        string           `json:"reason,omitempty"`
	RetryAfter    time.Duration    `json:"retry_after,omitempty"`
	Counts        model.SyncCounts `json:"counts"`
	CursorBefore  model.Cursor     `json:"cursor_before"`
	CursorAfter   model.Cursor     `json:"cursor_after"`
	FullBootstrap bool             `json:"full_bootstrap"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
}

// OK reports whether the run committed.
func (r *Result) OK() bool { return r.Status == StatusOK }

// BudgetStatus is a point-in-time view of one budget's sync state.
type BudgetStatus struct {
	BudgetID   string  `json:"budget_id"`
	State      State   `json:"state"`
	LastResult *Result `json:"last_result,omitempty"`
}

type budgetState struct {
	run sync.Mutex // held for the whole sync call

	mu    sync.Mutex
	state State
	last  *Result
}

// Engine runs syncs. It is safe for concurrent use; syncs of different
// budgets proceed in parallel.
type Engine struct {
	src   Source
	store *store.Store
	log   *slog.Logger
	now   func() time.Time

	// onStage runs at every reconciliation boundary before the stage is
	// applied. Tests use it to inject failures and cancellations.
	onStage func(stage string) error

	mu      sync.Mutex
	budgets map[string]*budgetState
}

// New creates a sync engine.
func New(src Source, st *store.Store, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		src:     src,
		store:   st,
		log:     log,
		now:     time.Now,
		budgets: make(map[string]*budgetState),
	}
}

func (e *Engine) budget(id string) *budgetState {
	e.mu.Lock()
	defer e.mu.Unlock()
	bs, ok := e.budgets[id]
	if !ok {
		bs = &budgetState{state: StateIdle}
		e.budgets[id] = bs
	}
	return bs
}

// Status returns the current state and last result for a budget.
func (e *Engine) Status(budgetID string) BudgetStatus {
	bs := e.budget(budgetID)
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return BudgetStatus{BudgetID: budgetID, State: bs.state, LastResult: bs.last}
}

func (e *Engine) transition(bs *budgetState, budgetID string, to State) {
	bs.mu.Lock()
	from := bs.state
	bs.state = to
	bs.mu.Unlock()
	e.log.Debug("sync state", "budget", budgetID, "from", from, "state", to)
}

// Sync pulls every change since the budget's cursor and reconciles it into
// the store. The returned Result is non-nil for every attempt that ran; the
// error carries the classified failure. Previously synced data is never
// cleared by a failed run.
func (e *Engine) Sync(ctx context.Context, budgetID string) (*Result, error) {
	bs := e.budget(budgetID)
	if !bs.run.TryLock() {
		return nil, fmt.Errorf("%w: %s", ErrSyncInProgress, budgetID)
	}
	defer bs.run.Unlock()

	res := &Result{RunID: uuid.NewString(), BudgetID: budgetID, StartedAt: e.now()}
	err := e.run(ctx, bs, res)
	res.FinishedAt = e.now()

	if err != nil {
		e.transition(bs, budgetID, StateFailed)
		res.Status = StatusFailed
		res.Kind = classify(err)
		res.Reason = err.Error()
		res.RetryAfter, _ = remote.RetryAfter(err)
		switch res.Kind {
		case "fatal":
			e.log.Error("sync failed", "budget", budgetID, "kind", res.Kind, "cursor", res.CursorBefore, "err", err)
		default:
			e.log.Warn("sync failed", "budget", budgetID, "kind", res.Kind, "cursor", res.CursorBefore, "err", err)
		}
	} else {
		res.Status = StatusOK
		e.log.Info("sync complete", "budget", budgetID,
			"cursor", res.CursorAfter, "records", res.Counts.Total(), "tombstoned", res.Counts.Tombstoned,
			"full_bootstrap", res.FullBootstrap, "duration", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	}

	e.record(ctx, res)

	bs.mu.Lock()
	bs.state = StateIdle
	bs.last = res
	bs.mu.Unlock()
	return res, err
}

func (e *Engine) run(ctx context.Context, bs *budgetState, res *Result) error {
	budgetID := res.BudgetID

	cursor, _, err := e.store.Cursor(ctx, budgetID)
	if err != nil {
		return err
	}
	res.CursorBefore, res.CursorAfter = cursor, cursor
	if err := ctx.Err(); err != nil {
		return err
	}

	e.transition(bs, budgetID, StateFetching)
	batch, err := e.src.FetchBudget(ctx, budgetID, cursor)
	expired := errors.Is(err, remote.ErrCursorExpired) && !cursor.IsZero()
	if expired {
		e.log.Info("sync cursor expired, falling back to full bootstrap", "budget", budgetID, "cursor", cursor)
		res.FullBootstrap = true
		batch, err = e.src.FetchBudget(ctx, budgetID, 0)
	}
	if err != nil {
		return fmt.Errorf("fetching budget %s: %w", budgetID, err)
	}
	if cursor.IsZero() {
		res.FullBootstrap = true
	}

	e.transition(bs, budgetID, StateReconciling)
	counts, err := e.reconcile(ctx, budgetID, batch)
	if err != nil {
		return err
	}
	res.Counts = counts

	if expired {
		// The server rejected the old cursor, so the bootstrap's knowledge
		// replaces it even when lower.
		if err := e.store.ResetCursor(ctx, budgetID, batch.Cursor); err != nil {
			return err
		}
		res.CursorAfter = batch.Cursor
		return nil
	}
	if batch.Cursor < cursor {
		// A delta answering with less knowledge than was asked for is
		// applied, but the stored cursor never moves backwards.
		e.log.Warn("remote knowledge behind stored cursor", "budget", budgetID, "cursor", cursor, "remote", batch.Cursor)
		return nil
	}
	if err := e.store.SaveCursor(ctx, budgetID, batch.Cursor); err != nil {
		return err
	}
	res.CursorAfter = batch.Cursor
	return nil
}

// reconcile applies the batch atomically. Any error, including a cancelled
// context at a stage boundary, rolls the whole batch back.
func (e *Engine) reconcile(ctx context.Context, budgetID string, batch *model.Batch) (model.SyncCounts, error) {
	rec, err := e.store.BeginReconcile(ctx, budgetID)
	if err != nil {
		return model.SyncCounts{}, err
	}
	defer func() { _ = rec.Rollback() }()

	stages := []struct {
		name  string
		apply func(context.Context) error
	}{
		{"accounts", func(ctx context.Context) error { return rec.Accounts(ctx, batch.Accounts) }},
		{"categories", func(ctx context.Context) error { return rec.Categories(ctx, batch.Categories) }},
		{"scheduled_transactions", func(ctx context.Context) error { return rec.ScheduledTransactions(ctx, batch.ScheduledTransactions) }},
		{"transactions", func(ctx context.Context) error { return rec.Transactions(ctx, batch.Transactions) }},
	}
	for _, st := range stages {
		if e.onStage != nil {
			if err := e.onStage(st.name); err != nil {
				return model.SyncCounts{}, fmt.Errorf("reconciling %s: %w", st.name, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return model.SyncCounts{}, err
		}
		if err := st.apply(ctx); err != nil {
			return model.SyncCounts{}, fmt.Errorf("reconciling %s: %w", st.name, err)
		}
	}

	if err := rec.Commit(); err != nil {
		return model.SyncCounts{}, fmt.Errorf("committing batch: %w", err)
	}
	return rec.Counts(), nil
}

// record persists the attempt. It runs after the outcome is decided and
// never changes it.
func (e *Engine) record(ctx context.Context, res *Result) {
	run := model.SyncRun{
		ID:            res.RunID,
		BudgetID:      res.BudgetID,
		StartedAt:     res.StartedAt,
		FinishedAt:    res.FinishedAt,
		Status:        res.Status,
		FullBootstrap: res.FullBootstrap,
		CursorBefore:  res.CursorBefore,
		CursorAfter:   res.CursorAfter,
		Counts:        res.Counts,
		Error:         res.Reason,
	}
	if err := e.store.RecordSyncRun(context.WithoutCancel(ctx), run); err != nil {
		e.log.Warn("recording sync run", "budget", res.BudgetID, "err", err)
	}
}

// classify names the failure class reported to callers.
func classify(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, store.ErrIntegrity):
		return "fatal"
	}
	if k := remote.KindOf(err); k != 0 {
		if k == remote.KindCursorExpired {
			return remote.KindFatal.String()
		}
		return k.String()
	}
	return "fatal"
}
