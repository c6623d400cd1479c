package detect

import (
	"fmt"

	"github.com/theirongolddev/budwatch/internal/model"
)

// BudgetOverspend compares each category's activity with its budgeted
// amount for the month of the snapshot.
type BudgetOverspend struct{}

func (BudgetOverspend) Name() string { return string(model.KindBudgetOverspend) }

func (BudgetOverspend) Detect(snap *model.Snapshot, cfg Config) ([]model.Alert, error) {
	month := model.MonthStart(snap.AsOf)
	bucket := month.Format("2006-01")

	var alerts []model.Alert
	for _, cat := range snap.Categories {
		// Net inflows (refunds) are not spending.
		if cat.Hidden || cat.Internal || cat.Deleted || cat.Activity >= 0 {
			continue
		}
		if !cat.Month.IsZero() && !cat.Month.Equal(month) {
			continue
		}
		spent := -cat.Activity

		var (
			sev   model.Severity
			ratio float64
		)
		if cat.Budgeted <= 0 {
			sev = model.SeverityCritical
		} else {
			ratio = float64(spent) / float64(cat.Budgeted)
			switch {
			case ratio >= 1:
				sev = model.SeverityCritical
			case ratio >= cfg.Overspend.Approaching:
				sev = model.SeverityWarning
			default:
				continue
			}
		}

		a := model.NewAlert(snap.BudgetID, model.KindBudgetOverspend, sev, cat.ID, bucket)
		a.CategoryID = cat.ID
		switch {
		case cat.Budgeted <= 0:
			a.Title = cat.Name + " has spending but no budget"
			a.Message = fmt.Sprintf("%s has activity in %s with nothing budgeted", cat.Name, bucket)
		case sev == model.SeverityCritical:
			a.Title = cat.Name + " is over budget"
			a.Message = fmt.Sprintf("%s has used %.0f%% of its %s budget", cat.Name, ratio*100, bucket)
		default:
			a.Title = cat.Name + " is approaching its budget"
			a.Message = fmt.Sprintf("%s has used %.0f%% of its %s budget", cat.Name, ratio*100, bucket)
		}
		a.Details["month"] = bucket
		a.Details["budgeted"] = cat.Budgeted
		a.Details["spent"] = spent
		if cat.Budgeted > 0 {
			a.Details["ratio"] = ratio
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}
