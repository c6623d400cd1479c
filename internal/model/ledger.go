// Package model defines the ledger entities, sync payloads and alerts shared
// by the remote client, the local store, and the detectors.
//
// All money values are integer milliunits (1000 = one unit of currency).
package model

import "time"

// AccountType is the collapsed account classification.
type AccountType string

const (
	AccountChecking AccountType = "checking"
	AccountSavings  AccountType = "savings"
	AccountCredit   AccountType = "credit"
	AccountCash     AccountType = "cash"
	AccountOther    AccountType = "other"
)

// Account is a ledger account. Accounts are never removed locally; a remote
// delete only sets Deleted.
type Account struct {
	ID               string
	BudgetID         string
	Name             string
	Type             AccountType
	OnBudget         bool
	Closed           bool
	Deleted          bool
	Balance          int64 // working balance
	ClearedBalance   int64
	UnclearedBalance int64
}

// Category is one budget line for one month, keyed by (ID, Month).
type Category struct {
	ID        string
	BudgetID  string
	Month     time.Time // first day of the month, UTC
	GroupID   string
	GroupName string
	Name      string
	Hidden    bool
	Internal  bool // belongs to the remote's internal master group
	Deleted   bool
	Budgeted  int64
	Activity  int64
	Balance   int64
}

// ClearedStatus mirrors the remote cleared state of a transaction.
type ClearedStatus string

const (
	Uncleared  ClearedStatus = "uncleared"
	Cleared    ClearedStatus = "cleared"
	Reconciled ClearedStatus = "reconciled"
)

// Transaction is a realized ledger entry. Negative amounts are outflows.
type Transaction struct {
	ID                string
	BudgetID          string
	AccountID         string
	CategoryID        string // empty when uncategorized
	PayeeID           string
	PayeeName         string
	TransferAccountID string
	Date              time.Time
	Amount            int64
	Memo              string
	Cleared           ClearedStatus
	Approved          bool
	Deleted           bool
}

// IsOutflow reports whether the transaction spends money.
func (t Transaction) IsOutflow() bool { return t.Amount < 0 }

// IsTransfer reports whether the transaction moves money between accounts.
func (t Transaction) IsTransfer() bool { return t.TransferAccountID != "" }

// Frequency is the cadence of a scheduled transaction.
type Frequency string

const (
	FrequencyNever           Frequency = "never"
	FrequencyDaily           Frequency = "daily"
	FrequencyWeekly          Frequency = "weekly"
	FrequencyEveryOtherWeek  Frequency = "everyOtherWeek"
	FrequencyTwiceAMonth     Frequency = "twiceAMonth"
	FrequencyEvery4Weeks     Frequency = "every4Weeks"
	FrequencyMonthly         Frequency = "monthly"
	FrequencyEveryOtherMonth Frequency = "everyOtherMonth"
	FrequencyEvery3Months    Frequency = "every3Months"
	FrequencyEvery4Months    Frequency = "every4Months"
	FrequencyTwiceAYear      Frequency = "twiceAYear"
	FrequencyYearly          Frequency = "yearly"
	FrequencyEveryOtherYear  Frequency = "everyOtherYear"
)

// ScheduledTransaction is a recurring forecast, distinct from realized
// transactions.
type ScheduledTransaction struct {
	ID         string
	BudgetID   string
	AccountID  string
	CategoryID string
	PayeeID    string
	PayeeName  string
	Amount     int64
	DateFirst  time.Time
	DateNext   time.Time
	Frequency  Frequency
	Memo       string
	Deleted    bool
}

// MonthStart truncates t to the first day of its month in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
