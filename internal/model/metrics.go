package model

import "time"

// CategorySpend is outflow totals for one category over a date range.
type CategorySpend struct {
	CategoryID   string
	CategoryName string
	GroupName    string
	Spent        int64 // positive milliunits
	Transactions int
}

// MonthSpend is total outflow for one calendar month.
type MonthSpend struct {
	Month        time.Time
	Spent        int64
	Transactions int
}

// SyncCounts tallies records applied per entity type during one sync.
type SyncCounts struct {
	Accounts              int `json:"accounts"`
	Categories            int `json:"categories"`
	ScheduledTransactions int `json:"scheduled_transactions"`
	Transactions          int `json:"transactions"`
	Tombstoned            int `json:"tombstoned"`
}

// Total returns the number of records applied.
func (c SyncCounts) Total() int {
	return c.Accounts + c.Categories + c.ScheduledTransactions + c.Transactions
}

// SyncRun is the persisted record of one sync attempt.
type SyncRun struct {
	ID            string     `json:"id"`
	BudgetID      string     `json:"budget_id"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    time.Time  `json:"finished_at"`
	Status        string     `json:"status"`
	FullBootstrap bool       `json:"full_bootstrap"`
	CursorBefore  Cursor     `json:"cursor_before"`
	CursorAfter   Cursor     `json:"cursor_after"`
	Counts        SyncCounts `json:"counts"`
	Error         string     `json:"error,omitempty"`
}
