package detect

import (
	"fmt"
	"math"
	"time"

	"github.com/theirongolddev/budwatch/internal/model"
)

// UnusualSpending flags recent outflows whose size is an outlier against
// the prior outflows of the same category or payee.
type UnusualSpending struct{}

func (UnusualSpending) Name() string { return string(model.KindUnusualSpending) }

type spendGroup struct {
	key   string
	label string
	txns  []model.Transaction // date order
}

func (UnusualSpending) Detect(snap *model.Snapshot, cfg Config) ([]model.Alert, error) {
	c := cfg.Unusual
	asOf := model.Day(snap.AsOf)
	recentFrom := asOf.AddDate(0, 0, -c.RecentDays)

	categoryNames := make(map[string]string, len(snap.Categories))
	for _, cat := range snap.Categories {
		categoryNames[cat.ID] = cat.Name
	}

	groups := groupOutflows(snap.Transactions, c.GroupBy, categoryNames)

	var alerts []model.Alert
	for _, g := range groups {
		for i, t := range g.txns {
			if t.Date.Before(recentFrom) || t.Date.After(asOf) {
				continue
			}
			history := priorAmounts(g.txns[:i], t.Date, t.Date.AddDate(0, -c.LookbackMonths, 0))
			if len(history) < c.MinHistory {
				continue
			}
			x := float64(-t.Amount)
			score, ok := ModifiedZScore(x, history)
			if !ok {
				continue
			}

			var sev model.Severity
			switch abs := math.Abs(score); {
			case abs > c.Critical:
				sev = model.SeverityCritical
			case abs > c.Warning:
				sev = model.SeverityWarning
			default:
				continue
			}

			a := model.NewAlert(snap.BudgetID, model.KindUnusualSpending, sev, g.key, t.ID)
			a.CategoryID = t.CategoryID
			a.TransactionID = t.ID
			direction := "above"
			if score < 0 {
				direction = "below"
			}
			a.Title = "Unusual spending in " + g.label
			a.Message = fmt.Sprintf("%s on %s is far %s the usual amount for %s (score %s over %d prior transactions)",
				payeeLabel(t), t.Date.Format("2006-01-02"), direction, g.label, formatScore(score), len(history))
			a.Details["amount"] = t.Amount
			a.Details["median"] = int64(math.Round(Median(history)))
			a.Details["score"] = scoreDetail(score)
			a.Details["history"] = len(history)
			a.Details["group_by"] = string(c.GroupBy)
			alerts = append(alerts, a)
		}
	}
	return alerts, nil
}

// groupOutflows splits spending into history groups. Transfers never count
// as spending; uncategorized rows cannot be grouped by category.
func groupOutflows(txns []model.Transaction, by GroupBy, categoryNames map[string]string) []*spendGroup {
	index := make(map[string]*spendGroup)
	var order []*spendGroup
	for _, t := range txns {
		if !t.IsOutflow() || t.IsTransfer() {
			continue
		}
		var key, label string
		switch by {
		case GroupByPayee:
			key = payeeKey(t.PayeeID, t.PayeeName)
			if key == "" {
				continue
			}
			key = "payee:" + key
			label = payeeLabel(t)
		default:
			if t.CategoryID == "" {
				continue
			}
			key = t.CategoryID
			label = categoryNames[t.CategoryID]
			if label == "" {
				label = t.CategoryID
			}
		}
		g := index[key]
		if g == nil {
			g = &spendGroup{key: key, label: label}
			index[key] = g
			order = append(order, g)
		}
		g.txns = append(g.txns, t)
	}
	return order
}

// priorAmounts returns outflow magnitudes dated in [from, before).
func priorAmounts(txns []model.Transaction, before, from time.Time) []float64 {
	var out []float64
	for _, t := range txns {
		if t.Date.Before(before) && !t.Date.Before(from) {
			out = append(out, float64(-t.Amount))
		}
	}
	return out
}

func payeeKey(id, name string) string {
	if id != "" {
		return id
	}
	return normalizePayee(name)
}

func payeeLabel(t model.Transaction) string {
	if t.PayeeName != "" {
		return t.PayeeName
	}
	return "Transaction " + t.ID
}

func formatScore(score float64) string {
	if math.IsInf(score, 0) {
		return "unbounded"
	}
	return fmt.Sprintf("%.1f", score)
}

// scoreDetail keeps infinite scores JSON-encodable.
func scoreDetail(score float64) any {
	if math.IsInf(score, 1) {
		return "+Inf"
	}
	if math.IsInf(score, -1) {
		return "-Inf"
	}
	return math.Round(score*100) / 100
}
