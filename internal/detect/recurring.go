package detect

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/theirongolddev/budwatch/internal/model"
)

// payeeDistanceRatio is the largest edit distance, relative to the longer
// name, at which two payee names are treated as the same payee.
const payeeDistanceRatio = 0.2

// RecurringDrift checks every scheduled transaction against the real
// transactions that should realize it: a changed amount, or an occurrence
// that never arrived.
type RecurringDrift struct{}

func (RecurringDrift) Name() string { return "recurring_drift" }

func (RecurringDrift) Detect(snap *model.Snapshot, cfg Config) ([]model.Alert, error) {
	r := cfg.Recurring
	asOf := model.Day(snap.AsOf)

	var alerts []model.Alert
	for _, st := range snap.ScheduledTransactions {
		if st.Deleted || st.Amount == 0 {
			continue
		}

		if m, ok := latestMatch(st, snap.Transactions, asOf.AddDate(0, 0, -r.LookbackDays), asOf, r.MatchBandPercent); ok {
			if a, ok := amountChange(snap.BudgetID, st, m, r); ok {
				alerts = append(alerts, a)
			}
		}

		if st.DateNext.IsZero() {
			continue
		}
		overdue := int(asOf.Sub(model.Day(st.DateNext)).Hours() / 24)
		if overdue <= r.DaysWarning {
			continue
		}
		if _, ok := latestMatch(st, snap.Transactions, st.DateNext.AddDate(0, 0, -r.MatchWindowDays), asOf, r.MatchBandPercent); ok {
			continue
		}
		sev := model.SeverityWarning
		if overdue > r.DaysCritical {
			sev = model.SeverityCritical
		}
		due := st.DateNext.Format("2006-01-02")
		a := model.NewAlert(snap.BudgetID, model.KindRecurringMissing, sev, st.ID, due)
		a.ScheduledTransactionID = st.ID
		a.CategoryID = st.CategoryID
		a.Title = scheduledLabel(st) + " has not arrived"
		a.Message = fmt.Sprintf("%s was due on %s and is %d days overdue", scheduledLabel(st), due, overdue)
		a.Details["due"] = due
		a.Details["days_overdue"] = overdue
		a.Details["expected_amount"] = st.Amount
		alerts = append(alerts, a)
	}
	return alerts, nil
}

func amountChange(budgetID string, st model.ScheduledTransaction, m model.Transaction, r RecurringConfig) (model.Alert, bool) {
	diff := m.Amount - st.Amount
	if diff < 0 {
		diff = -diff
	}
	pct := float64(diff) / math.Abs(float64(st.Amount)) * 100
	if diff <= r.AmountToleranceAbsolute || pct <= r.AmountTolerancePercent {
		return model.Alert{}, false
	}

	a := model.NewAlert(budgetID, model.KindRecurringAmountChange, model.SeverityWarning, st.ID, m.ID)
	a.ScheduledTransactionID = st.ID
	a.TransactionID = m.ID
	a.CategoryID = st.CategoryID
	a.Title = scheduledLabel(st) + " changed amount"
	a.Message = fmt.Sprintf("%s on %s differs from the scheduled amount by %.1f%%",
		scheduledLabel(st), m.Date.Format("2006-01-02"), pct)
	a.Details["scheduled_amount"] = st.Amount
	a.Details["actual_amount"] = m.Amount
	a.Details["difference"] = diff
	a.Details["percent"] = math.Round(pct*10) / 10
	return a, true
}

// latestMatch returns the most recent transaction dated in [from, to] that
// realizes st.
func latestMatch(st model.ScheduledTransaction, txns []model.Transaction, from, to time.Time, bandPercent float64) (model.Transaction, bool) {
	var (
		best  model.Transaction
		found bool
	)
	for _, t := range txns {
		if t.Date.Before(from) || t.Date.After(to) {
			continue
		}
		if !realizes(st, t, bandPercent) {
			continue
		}
		if !found || !t.Date.Before(best.Date) {
			best, found = t, true
		}
	}
	return best, found
}

// realizes reports whether t could be an occurrence of st: same account,
// same direction, an amount inside the band, and the same payee.
func realizes(st model.ScheduledTransaction, t model.Transaction, bandPercent float64) bool {
	if t.Deleted || t.AccountID != st.AccountID {
		return false
	}
	if (t.Amount < 0) != (st.Amount < 0) || t.Amount == 0 {
		return false
	}
	band := math.Abs(float64(st.Amount)) * bandPercent / 100
	if math.Abs(float64(t.Amount-st.Amount)) > band {
		return false
	}
	return samePayee(st.PayeeID, st.PayeeName, t.PayeeID, t.PayeeName)
}

func samePayee(idA, nameA, idB, nameB string) bool {
	if idA != "" && idB != "" {
		return idA == idB
	}
	a, b := normalizePayee(nameA), normalizePayee(nameB)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	return float64(levenshtein.ComputeDistance(a, b))/float64(longest) < payeeDistanceRatio
}

// normalizePayee lowercases a payee name and drops punctuation so that
// "NETFLIX.COM" and "Netflix com" compare equal.
func normalizePayee(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r), unicode.IsPunct(r):
			return ' '
		}
		return -1
	}, name)
	return strings.Join(strings.Fields(clean), " ")
}

func scheduledLabel(st model.ScheduledTransaction) string {
	if st.PayeeName != "" {
		return st.PayeeName
	}
	return "Scheduled transaction " + st.ID
}
