package detect

import (
	"errors"
	"fmt"
	"time"
)

// GroupBy selects how unusual spending builds its history distributions.
type GroupBy string

const (
	GroupByCategory GroupBy = "category"
	GroupByPayee    GroupBy = "payee"
)

// UnusualConfig tunes the unusual-spending detector.
type UnusualConfig struct {
	Warning        float64 // |modified z-score| above this is a warning
	Critical       float64 // |modified z-score| above this is critical
	MinHistory     int     // prior transactions required before scoring
	LookbackMonths int     // history window before each scored transaction
	RecentDays     int     // only transactions this recent are scored
	GroupBy        GroupBy
}

// OverspendConfig tunes the budget-overspend detector.
type OverspendConfig struct {
	Approaching float64 // spent/budgeted ratio that starts a warning, in (0,1)
}

// RecurringConfig tunes the recurring-drift detector.
type RecurringConfig struct {
	DaysWarning             int
	DaysCritical            int
	AmountTolerancePercent  float64
	AmountToleranceAbsolute int64 // milliunits
	MatchBandPercent        float64
	MatchWindowDays         int
	LookbackDays            int
}

// Config carries every detector threshold. Detectors read thresholds only
// from here; fallback values belong to the configuration layer.
type Config struct {
	Unusual   UnusualConfig
	Overspend OverspendConfig
	Recurring RecurringConfig
}

// Validate reports every inconsistent threshold at once.
func (c Config) Validate() error {
	var errs []error
	u := c.Unusual
	if u.Warning <= 0 || u.Critical <= 0 {
		errs = append(errs, fmt.Errorf("unusual spending thresholds must be positive (warning %g, critical %g)", u.Warning, u.Critical))
	} else if u.Warning >= u.Critical {
		errs = append(errs, fmt.Errorf("unusual spending warning %g must be below critical %g", u.Warning, u.Critical))
	}
	if u.MinHistory < 1 {
		errs = append(errs, fmt.Errorf("unusual spending min history %d must be at least 1", u.MinHistory))
	}
	if u.LookbackMonths < 1 {
		errs = append(errs, fmt.Errorf("unusual spending lookback %d months must be at least 1", u.LookbackMonths))
	}
	if u.RecentDays < 1 {
		errs = append(errs, fmt.Errorf("unusual spending recent window %d days must be at least 1", u.RecentDays))
	}
	if u.GroupBy != GroupByCategory && u.GroupBy != GroupByPayee {
		errs = append(errs, fmt.Errorf("unusual spending group_by %q must be %q or %q", u.GroupBy, GroupByCategory, GroupByPayee))
	}

	if a := c.Overspend.Approaching; a <= 0 || a >= 1 {
		errs = append(errs, fmt.Errorf("budget approaching ratio %g must be between 0 and 1", a))
	}

	r := c.Recurring
	if r.DaysWarning < 0 || r.DaysCritical < 0 {
		errs = append(errs, errors.New("recurring day thresholds must not be negative"))
	} else if r.DaysWarning >= r.DaysCritical {
		errs = append(errs, fmt.Errorf("recurring days warning %d must be below critical %d", r.DaysWarning, r.DaysCritical))
	}
	if r.AmountTolerancePercent < 0 || r.AmountToleranceAbsolute < 0 {
		errs = append(errs, errors.New("recurring amount tolerances must not be negative"))
	}
	if r.MatchBandPercent <= 0 {
		errs = append(errs, fmt.Errorf("recurring match band %g%% must be positive", r.MatchBandPercent))
	}
	if r.MatchWindowDays < 0 {
		errs = append(errs, fmt.Errorf("recurring match window %d days must not be negative", r.MatchWindowDays))
	}
	if r.LookbackDays < 1 {
		errs = append(errs, fmt.Errorf("recurring lookback %d days must be at least 1", r.LookbackDays))
	}
	return errors.Join(errs...)
}

// HistoryStart returns the earliest transaction date any detector reads
// for a run as of asOf. Snapshots loaded from this date cover every
// window except missing-occurrence searches for schedules overdue by more
// than the recurring lookback.
func (c Config) HistoryStart(asOf time.Time) time.Time {
	from := asOf.AddDate(0, -c.Unusual.LookbackMonths, -c.Unusual.RecentDays)
	if r := asOf.AddDate(0, 0, -c.Recurring.LookbackDays); r.Before(from) {
		from = r
	}
	return from
}
