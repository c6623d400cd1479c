package model

import "time"

// Budget is a remote ledger. Every other entity belongs to exactly one budget.
type Budget struct {
	ID             string
	Name           string
	CurrencyISO    string
	FirstMonth     time.Time
	LastMonth      time.Time
	LastModifiedOn time.Time
}

// Cursor is the server-issued knowledge watermark for a budget. The zero
// Cursor requests a full bootstrap.
type Cursor int64

// IsZero reports whether c requests a full bootstrap.
func (c Cursor) IsZero() bool { return c == 0 }

// Batch is one delta payload: every record that changed since the cursor the
// fetch was issued with, plus the cursor that covers them.
type Batch struct {
	BudgetID              string
	Accounts              []Account
	Categories            []Category
	ScheduledTransactions []ScheduledTransaction
	Transactions          []Transaction
	Cursor                Cursor
}

// Len returns the number of records in the batch.
func (b *Batch) Len() int {
	return len(b.Accounts) + len(b.Categories) + len(b.ScheduledTransactions) + len(b.Transactions)
}

// Snapshot is a committed, read-only view of one budget. Tombstoned rows
// are never part of a snapshot.
type Snapshot struct {
	BudgetID              string
	AsOf                  time.Time
	From                  time.Time
	Accounts              []Account
	Categories            []Category // rows for the month of AsOf
	Transactions          []Transaction
	ScheduledTransactions []ScheduledTransaction
}
