package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/theirongolddev/budwatch/internal/model"
)

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const transactionColumns = `id, budget_id, account_id, category_id, payee_id, payee_name, transfer_account_id,
	date, amount, memo, cleared, approved, deleted`

// GetTransaction returns a transaction by id, including tombstoned rows.
func (s *Store) GetTransaction(ctx context.Context, id string) (model.Transaction, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Transaction{}, ErrNotFound
	}
	return t, err
}

// Transactions returns live transactions dated within [from, to].
func (s *Store) Transactions(ctx context.Context, budgetID string, from, to time.Time) ([]model.Transaction, error) {
	return queryTransactions(ctx, s.db, budgetID, from, to)
}

// Accounts returns live accounts for a budget.
func (s *Store) Accounts(ctx context.Context, budgetID string) ([]model.Account, error) {
	return queryAccounts(ctx, s.db, budgetID)
}

// Categories returns live category rows for one month.
func (s *Store) Categories(ctx context.Context, budgetID string, month time.Time) ([]model.Category, error) {
	return queryCategories(ctx, s.db, budgetID, month)
}

// ScheduledTransactions returns live scheduled transactions.
func (s *Store) ScheduledTransactions(ctx context.Context, budgetID string) ([]model.ScheduledTransaction, error) {
	return queryScheduled(ctx, s.db, budgetID)
}

// LoadSnapshot reads every entity a detector run needs from one read
// transaction, so the view reflects a single committed state.
func (s *Store) LoadSnapshot(ctx context.Context, budgetID string, from, asOf time.Time) (*model.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	snap := &model.Snapshot{BudgetID: budgetID, AsOf: asOf, From: from}
	if snap.Accounts, err = queryAccounts(ctx, tx, budgetID); err != nil {
		return nil, fmt.Errorf("snapshot accounts: %w", err)
	}
	if snap.Categories, err = queryCategories(ctx, tx, budgetID, model.MonthStart(asOf)); err != nil {
		return nil, fmt.Errorf("snapshot categories: %w", err)
	}
	if snap.Transactions, err = queryTransactions(ctx, tx, budgetID, from, asOf); err != nil {
		return nil, fmt.Errorf("snapshot transactions: %w", err)
	}
	if snap.ScheduledTransactions, err = queryScheduled(ctx, tx, budgetID); err != nil {
		return nil, fmt.Errorf("snapshot scheduled transactions: %w", err)
	}
	return snap, nil
}

func queryAccounts(ctx context.Context, q querier, budgetID string) ([]model.Account, error) {
	rows, err := q.QueryContext(ctx, `SELECT
		id, budget_id, name, type, on_budget, closed, deleted, balance, cleared_balance, uncleared_balance
		FROM accounts WHERE budget_id = ? AND deleted = 0 ORDER BY name`, budgetID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Account
	for rows.Next() {
		var (
			a                         model.Account
			typ                       string
			onBudget, closed, deleted int
		)
		if err := rows.Scan(&a.ID, &a.BudgetID, &a.Name, &typ, &onBudget, &closed, &deleted,
			&a.Balance, &a.ClearedBalance, &a.UnclearedBalance); err != nil {
			return nil, err
		}
		a.Type = model.AccountType(typ)
		a.OnBudget = onBudget == 1
		a.Closed = closed == 1
		a.Deleted = deleted == 1
		out = append(out, a)
	}
	return out, rows.Err()
}

func queryCategories(ctx context.Context, q querier, budgetID string, month time.Time) ([]model.Category, error) {
	rows, err := q.QueryContext(ctx, `SELECT
		id, month, budget_id, group_id, group_name, name, hidden, internal, deleted, budgeted, activity, balance
		FROM categories WHERE budget_id = ? AND month = ? AND deleted = 0
		ORDER BY group_name, name`, budgetID, formatDate(month))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Category
	for rows.Next() {
		var (
			c                         model.Category
			monthStr                  string
			hidden, internal, deleted int
		)
		if err := rows.Scan(&c.ID, &monthStr, &c.BudgetID, &c.GroupID, &c.GroupName, &c.Name,
			&hidden, &internal, &deleted, &c.Budgeted, &c.Activity, &c.Balance); err != nil {
			return nil, err
		}
		c.Month = parseDate(monthStr)
		c.Hidden = hidden == 1
		c.Internal = internal == 1
		c.Deleted = deleted == 1
		out = append(out, c)
	}
	return out, rows.Err()
}

func queryTransactions(ctx context.Context, q querier, budgetID string, from, to time.Time) ([]model.Transaction, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+transactionColumns+` FROM transactions
		WHERE budget_id = ? AND deleted = 0 AND date >= ? AND date <= ?
		ORDER BY date, id`, budgetID, formatDate(from), formatDate(to))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(sc scanner) (model.Transaction, error) {
	var (
		t                           model.Transaction
		categoryID, payeeID, xferID sql.NullString
		date, cleared               string
		approved, deleted           int
	)
	if err := sc.Scan(&t.ID, &t.BudgetID, &t.AccountID, &categoryID, &payeeID, &t.PayeeName, &xferID,
		&date, &t.Amount, &t.Memo, &cleared, &approved, &deleted); err != nil {
		return t, err
	}
	t.CategoryID = categoryID.String
	t.PayeeID = payeeID.String
	t.TransferAccountID = xferID.String
	t.Date = parseDate(date)
	t.Cleared = model.ClearedStatus(cleared)
	t.Approved = approved == 1
	t.Deleted = deleted == 1
	return t, nil
}

func queryScheduled(ctx context.Context, q querier, budgetID string) ([]model.ScheduledTransaction, error) {
	rows, err := q.QueryContext(ctx, `SELECT
		id, budget_id, account_id, category_id, payee_id, payee_name, amount, date_first, date_next, frequency, memo, deleted
		FROM scheduled_transactions WHERE budget_id = ? AND deleted = 0
		ORDER BY date_next, id`, budgetID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.ScheduledTransaction
	for rows.Next() {
		var (
			st                  model.ScheduledTransaction
			categoryID, payeeID sql.NullString
			first, next, freq   string
			deleted             int
		)
		if err := rows.Scan(&st.ID, &st.BudgetID, &st.AccountID, &categoryID, &payeeID, &st.PayeeName,
			&st.Amount, &first, &next, &freq, &st.Memo, &deleted); err != nil {
			return nil, err
		}
		st.CategoryID = categoryID.String
		st.PayeeID = payeeID.String
		st.DateFirst = parseDate(first)
		st.DateNext = parseDate(next)
		st.Frequency = model.Frequency(freq)
		st.Deleted = deleted == 1
		out = append(out, st)
	}
	return out, rows.Err()
}
