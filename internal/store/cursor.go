package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/theirongolddev/budwatch/internal/model"
)

// Cursor returns the persisted cursor for a budget and when it was stored.
// A budget that never synced returns the zero cursor.
func (s *Store) Cursor(ctx context.Context, budgetID string) (model.Cursor, time.Time, error) {
	var (
		knowledge int64
		updated   string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT knowledge, updated_at FROM sync_cursors WHERE budget_id = ?", budgetID,
	).Scan(&knowledge, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("reading cursor: %w", err)
	}
	return model.Cursor(knowledge), parseTime(updated), nil
}

// SaveCursor persists the cursor for a budget. The stored value never
// decreases; a lower cursor leaves the row unchanged.
func (s *Store) SaveCursor(ctx context.Context, budgetID string, c model.Cursor) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sync_cursors (budget_id, knowledge, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(budget_id) DO UPDATE SET
			knowledge = excluded.knowledge,
			updated_at = excluded.updated_at
		WHERE excluded.knowledge >= sync_cursors.knowledge`,
		budgetID, int64(c), formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("saving cursor: %w", err)
	}
	return nil
}

// ResetCursor stores c unconditionally. It is for a bootstrap that replaced
// a cursor the server rejected; that knowledge may restart lower.
func (s *Store) ResetCursor(ctx context.Context, budgetID string, c model.Cursor) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sync_cursors (budget_id, knowledge, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(budget_id) DO UPDATE SET
			knowledge = excluded.knowledge,
			updated_at = excluded.updated_at`,
		budgetID, int64(c), formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("resetting cursor: %w", err)
	}
	return nil
}

// RecordSyncRun appends a sync attempt to the history.
func (s *Store) RecordSyncRun(ctx context.Context, run model.SyncRun) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sync_runs
		(id, budget_id, started_at, finished_at, status, full_bootstrap, cursor_before, cursor_after,
		 accounts, categories, scheduled, transactions, tombstoned, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.BudgetID, formatTime(run.StartedAt), formatTime(run.FinishedAt), run.Status,
		boolInt(run.FullBootstrap), int64(run.CursorBefore), int64(run.CursorAfter),
		run.Counts.Accounts, run.Counts.Categories, run.Counts.ScheduledTransactions,
		run.Counts.Transactions, run.Counts.Tombstoned, run.Error,
	)
	if err != nil {
		return fmt.Errorf("recording sync run: %w", err)
	}
	return nil
}

// SyncRuns returns the most recent sync attempts for a budget, newest first.
func (s *Store) SyncRuns(ctx context.Context, budgetID string, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, budget_id, started_at, finished_at, status, full_bootstrap, cursor_before, cursor_after,
		accounts, categories, scheduled, transactions, tombstoned, error
		FROM sync_runs WHERE budget_id = ?
		ORDER BY started_at DESC LIMIT ?`, budgetID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []model.SyncRun
	for rows.Next() {
		var (
			r                 model.SyncRun
			started, finished string
			full              int
			before, after     int64
		)
		if err := rows.Scan(&r.ID, &r.BudgetID, &started, &finished, &r.Status, &full, &before, &after,
			&r.Counts.Accounts, &r.Counts.Categories, &r.Counts.ScheduledTransactions,
			&r.Counts.Transactions, &r.Counts.Tombstoned, &r.Error); err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		r.FullBootstrap = full == 1
		r.CursorBefore = model.Cursor(before)
		r.CursorAfter = model.Cursor(after)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LastSyncRun returns the newest sync attempt for a budget, or ErrNotFound.
func (s *Store) LastSyncRun(ctx context.Context, budgetID string) (model.SyncRun, error) {
	runs, err := s.SyncRuns(ctx, budgetID, 1)
	if err != nil {
		return model.SyncRun{}, err
	}
	if len(runs) == 0 {
		return model.SyncRun{}, ErrNotFound
	}
	return runs[0], nil
}

// UpsertBudgets stores the remote budget list.
func (s *Store) UpsertBudgets(ctx context.Context, budgets []model.Budget) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, b := range budgets {
			_, err := tx.ExecContext(ctx, `INSERT INTO budgets
				(id, name, currency_iso, first_month, last_month, last_modified_on)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					name = excluded.name,
					currency_iso = excluded.currency_iso,
					first_month = excluded.first_month,
					last_month = excluded.last_month,
					last_modified_on = excluded.last_modified_on`,
				b.ID, b.Name, b.CurrencyISO, formatDate(b.FirstMonth), formatDate(b.LastMonth),
				formatLastModified(b.LastModifiedOn),
			)
			if err != nil {
				return fmt.Errorf("upsert budget %s: %w", b.ID, err)
			}
		}
		return nil
	})
}

// Budgets returns the stored budget list ordered by name.
func (s *Store) Budgets(ctx context.Context) ([]model.Budget, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, currency_iso, first_month, last_month, last_modified_on
		FROM budgets ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Budget
	for rows.Next() {
		var (
			b                 model.Budget
			first, last, lmod string
		)
		if err := rows.Scan(&b.ID, &b.Name, &b.CurrencyISO, &first, &last, &lmod); err != nil {
			return nil, err
		}
		b.FirstMonth = parseDate(first)
		b.LastMonth = parseDate(last)
		if lmod != "" {
			b.LastModifiedOn = parseTime(lmod)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func formatLastModified(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return formatTime(t)
}
