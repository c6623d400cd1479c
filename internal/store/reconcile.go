package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/theirongolddev/budwatch/internal/model"
)

// ErrIntegrity is returned when a batch references an account or category
// that is not present locally.
var ErrIntegrity = errors.New("store: dangling reference")

// Reconciler applies one delta batch inside a single database transaction.
// Nothing it writes is visible to readers until Commit.
type Reconciler struct {
	tx       *sql.Tx
	budgetID string
	counts   model.SyncCounts
}

// BeginReconcile starts the reconciliation transaction for a budget.
func (s *Store) BeginReconcile(ctx context.Context, budgetID string) (*Reconciler, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reconcile: %w", err)
	}
	return &Reconciler{tx: tx, budgetID: budgetID}, nil
}

// Counts returns what has been applied so far.
func (r *Reconciler) Counts() model.SyncCounts { return r.counts }

// Commit makes the batch visible.
func (r *Reconciler) Commit() error { return r.tx.Commit() }

// Rollback discards the batch. Safe to call after Commit.
func (r *Reconciler) Rollback() error {
	err := r.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// Accounts upserts accounts by id. Deleted accounts are kept as tombstones.
func (r *Reconciler) Accounts(ctx context.Context, accounts []model.Account) error {
	for _, a := range accounts {
		_, err := r.tx.ExecContext(ctx, `INSERT INTO accounts
			(id, budget_id, name, type, on_budget, closed, deleted, balance, cleared_balance, uncleared_balance)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				budget_id = excluded.budget_id,
				name = excluded.name,
				type = excluded.type,
				on_budget = excluded.on_budget,
				closed = excluded.closed,
				deleted = excluded.deleted,
				balance = excluded.balance,
				cleared_balance = excluded.cleared_balance,
				uncleared_balance = excluded.uncleared_balance`,
			a.ID, r.budgetID, a.Name, string(a.Type), boolInt(a.OnBudget), boolInt(a.Closed), boolInt(a.Deleted),
			a.Balance, a.ClearedBalance, a.UnclearedBalance,
		)
		if err != nil {
			return fmt.Errorf("upsert account %s: %w", a.ID, err)
		}
		r.counts.Accounts++
		if a.Deleted {
			r.counts.Tombstoned++
		}
	}
	return nil
}

// Categories upserts month category rows by (id, month).
func (r *Reconciler) Categories(ctx context.Context, categories []model.Category) error {
	for _, c := range categories {
		_, err := r.tx.ExecContext(ctx, `INSERT INTO categories
			(id, month, budget_id, group_id, group_name, name, hidden, internal, deleted, budgeted, activity, balance)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id, month) DO UPDATE SET
				budget_id = excluded.budget_id,
				group_id = excluded.group_id,
				group_name = excluded.group_name,
				name = excluded.name,
				hidden = excluded.hidden,
				internal = excluded.internal,
				deleted = excluded.deleted,
				budgeted = excluded.budgeted,
				activity = excluded.activity,
				balance = excluded.balance`,
			c.ID, formatDate(model.MonthStart(c.Month)), r.budgetID, c.GroupID, c.GroupName, c.Name,
			boolInt(c.Hidden), boolInt(c.Internal), boolInt(c.Deleted), c.Budgeted, c.Activity, c.Balance,
		)
		if err != nil {
			return fmt.Errorf("upsert category %s: %w", c.ID, err)
		}
		r.counts.Categories++
		if c.Deleted {
			r.counts.Tombstoned++
		}
	}
	return nil
}

// ScheduledTransactions upserts scheduled transactions by id.
func (r *Reconciler) ScheduledTransactions(ctx context.Context, scheduled []model.ScheduledTransaction) error {
	for _, st := range scheduled {
		ok, err := r.accountKnown(ctx, st.AccountID)
		if err != nil {
			return err
		}
		if !ok {
			if st.Deleted {
				continue
			}
			return fmt.Errorf("%w: scheduled transaction %s references account %s", ErrIntegrity, st.ID, st.AccountID)
		}

		_, err = r.tx.ExecContext(ctx, `INSERT INTO scheduled_transactions
			(id, budget_id, account_id, category_id, payee_id, payee_name, amount, date_first, date_next, frequency, memo, deleted)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				budget_id = excluded.budget_id,
				account_id = excluded.account_id,
				category_id = excluded.category_id,
				payee_id = excluded.payee_id,
				payee_name = CASE WHEN excluded.payee_name = '' THEN scheduled_transactions.payee_name ELSE excluded.payee_name END,
				amount = excluded.amount,
				date_first = excluded.date_first,
				date_next = excluded.date_next,
				frequency = excluded.frequency,
				memo = excluded.memo,
				deleted = excluded.deleted`,
			st.ID, r.budgetID, st.AccountID, nullable(st.CategoryID), nullable(st.PayeeID), st.PayeeName,
			st.Amount, formatDate(st.DateFirst), formatDate(st.DateNext), string(st.Frequency), st.Memo, boolInt(st.Deleted),
		)
		if err != nil {
			return fmt.Errorf("upsert scheduled transaction %s: %w", st.ID, err)
		}
		r.counts.ScheduledTransactions++
		if st.Deleted {
			r.counts.Tombstoned++
		}
	}
	return nil
}

// Transactions upserts transactions by id. A row already stored as
// reconciled only accepts a change to its deleted flag. An empty payee name
// keeps the stored one, since deltas only carry payees that changed.
func (r *Reconciler) Transactions(ctx context.Context, txns []model.Transaction) error {
	for _, t := range txns {
		ok, err := r.accountKnown(ctx, t.AccountID)
		if err != nil {
			return err
		}
		if !ok {
			if t.Deleted {
				continue
			}
			return fmt.Errorf("%w: transaction %s references account %s", ErrIntegrity, t.ID, t.AccountID)
		}
		if t.CategoryID != "" && !t.Deleted {
			ok, err := r.categoryKnown(ctx, t.CategoryID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: transaction %s references category %s", ErrIntegrity, t.ID, t.CategoryID)
			}
		}

		var stored sql.NullString
		err = r.tx.QueryRowContext(ctx, "SELECT cleared FROM transactions WHERE id = ?", t.ID).Scan(&stored)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lookup transaction %s: %w", t.ID, err)
		}

		if stored.Valid && model.ClearedStatus(stored.String) == model.Reconciled {
			_, err = r.tx.ExecContext(ctx, "UPDATE transactions SET deleted = ? WHERE id = ?", boolInt(t.Deleted), t.ID)
		} else {
			_, err = r.tx.ExecContext(ctx, `INSERT INTO transactions
				(id, budget_id, account_id, category_id, payee_id, payee_name, transfer_account_id,
				 date, amount, memo, cleared, approved, deleted)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					budget_id = excluded.budget_id,
					account_id = excluded.account_id,
					category_id = excluded.category_id,
					payee_id = excluded.payee_id,
					payee_name = CASE WHEN excluded.payee_name = '' THEN transactions.payee_name ELSE excluded.payee_name END,
					transfer_account_id = excluded.transfer_account_id,
					date = excluded.date,
					amount = excluded.amount,
					memo = excluded.memo,
					cleared = excluded.cleared,
					approved = excluded.approved,
					deleted = excluded.deleted`,
				t.ID, r.budgetID, t.AccountID, nullable(t.CategoryID), nullable(t.PayeeID), t.PayeeName,
				nullable(t.TransferAccountID), formatDate(t.Date), t.Amount, t.Memo, string(t.Cleared),
				boolInt(t.Approved), boolInt(t.Deleted),
			)
		}
		if err != nil {
			return fmt.Errorf("upsert transaction %s: %w", t.ID, err)
		}
		r.counts.Transactions++
		if t.Deleted {
			r.counts.Tombstoned++
		}
	}
	return nil
}

func (r *Reconciler) accountKnown(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.tx.QueryRowContext(ctx, "SELECT 1 FROM accounts WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup account %s: %w", id, err)
	}
	return true, nil
}

func (r *Reconciler) categoryKnown(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.tx.QueryRowContext(ctx, "SELECT 1 FROM categories WHERE id = ? LIMIT 1", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup category %s: %w", id, err)
	}
	return true, nil
}
