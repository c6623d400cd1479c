package model

import (
	"time"

	"github.com/google/uuid"
)

// AlertKind identifies the detector condition that produced an alert.
type AlertKind string

const (
	KindUnusualSpending       AlertKind = "unusual_spending"
	KindBudgetOverspend       AlertKind = "budget_overspend"
	KindRecurringAmountChange AlertKind = "recurring_amount_change"
	KindRecurringMissing      AlertKind = "recurring_missing"
)

// Severity orders alerts by urgency.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank returns a comparable weight; unknown severities rank below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	}
	return 0
}

// ParseSeverity accepts the lowercase severity names.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(s)
	return sev, sev.Rank() > 0
}

// alertNamespace scopes alert ids so they cannot collide with other
// name-based UUIDs.
var alertNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/theirongolddev/budwatch/alerts"))

// AlertID derives the stable id of an alert from its kind, subject entity,
// and time bucket. Equal inputs always give the same id.
func AlertID(kind AlertKind, subject, bucket string) string {
	return uuid.NewSHA1(alertNamespace, []byte(string(kind)+"|"+subject+"|"+bucket)).String()
}

// Alert is a detector finding. ID is derived, never random.
type Alert struct {
	ID                     string         `json:"id"`
	BudgetID               string         `json:"budget_id"`
	Kind                   AlertKind      `json:"kind"`
	Severity               Severity       `json:"severity"`
	Subject                string         `json:"subject"` // entity id the alert is about
	Bucket                 string         `json:"bucket"`  // time bucket the condition belongs to
	CategoryID             string         `json:"category_id,omitempty"`
	TransactionID          string         `json:"transaction_id,omitempty"`
	ScheduledTransactionID string         `json:"scheduled_transaction_id,omitempty"`
	Title                  string         `json:"title"`
	Message                string         `json:"message"`
	Details                map[string]any `json:"details,omitempty"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
	AcknowledgedAt         *time.Time     `json:"acknowledged_at,omitempty"`
	DismissedAt            *time.Time     `json:"dismissed_at,omitempty"`
}

// Acknowledged reports whether the alert reached its terminal state.
func (a Alert) Acknowledged() bool { return a.AcknowledgedAt != nil }

// Dismissed reports whether the alert was hidden from default listings.
// Dismissal is terminal too.
func (a Alert) Dismissed() bool { return a.DismissedAt != nil }

// NewAlert builds an alert with its deterministic id filled in.
func NewAlert(budgetID string, kind AlertKind, sev Severity, subject, bucket string) Alert {
	return Alert{
		ID:       AlertID(kind, subject, bucket),
		BudgetID: budgetID,
		Kind:     kind,
		Severity: sev,
		Subject:  subject,
		Bucket:   bucket,
		Details:  map[string]any{},
	}
}
