// Package detect runs the anomaly detectors over a committed snapshot of a
// budget. Detectors are pure: they read the snapshot and the thresholds in
// Config and return candidate alerts, never touching storage.
package detect

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/theirongolddev/budwatch/internal/model"
)

// Detector inspects a snapshot. Returning no alerts means the detector
// found nothing or abstained for lack of data; neither is an error.
type Detector interface {
	Name() string
	Detect(snap *model.Snapshot, cfg Config) ([]model.Alert, error)
}

// Default returns the built-in detectors.
func Default() []Detector {
	return []Detector{UnusualSpending{}, BudgetOverspend{}, RecurringDrift{}}
}

// Failure records a detector that could not finish this run.
type Failure struct {
	Detector string
	Err      error
}

// Report is the outcome of one pipeline run.
type Report struct {
	Alerts   []model.Alert
	Failures []Failure
	Duration time.Duration
}

// Pipeline runs detectors concurrently, isolating each one so a failure
// or panic only costs that detector's alerts.
type Pipeline struct {
	detectors []Detector
	log       *slog.Logger
}

// NewPipeline creates a pipeline over detectors, or Default() when none are
// given.
func NewPipeline(log *slog.Logger, detectors ...Detector) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if len(detectors) == 0 {
		detectors = Default()
	}
	return &Pipeline{detectors: detectors, log: log}
}

// Run executes every detector over snap. Only an invalid configuration or a
// cancelled context fail the run as a whole.
func (p *Pipeline) Run(ctx context.Context, snap *model.Snapshot, cfg Config) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("detector config: %w", err)
	}
	start := time.Now()

	results := make([][]model.Alert, len(p.detectors))
	errs := make([]error, len(p.detectors))

	var g errgroup.Group
	for i, d := range p.detectors {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			results[i], errs[i] = runIsolated(d, snap, cfg)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &Report{}
	byID := make(map[string]int)
	for i, d := range p.detectors {
		if errs[i] != nil {
			p.log.Warn("detector failed", "detector", d.Name(), "budget", snap.BudgetID, "err", errs[i])
			report.Failures = append(report.Failures, Failure{Detector: d.Name(), Err: errs[i]})
			continue
		}
		for _, a := range results[i] {
			// Only the highest severity survives for one alert id.
			if j, ok := byID[a.ID]; ok {
				if a.Severity.Rank() > report.Alerts[j].Severity.Rank() {
					report.Alerts[j] = a
				}
				continue
			}
			byID[a.ID] = len(report.Alerts)
			report.Alerts = append(report.Alerts, a)
		}
		p.log.Debug("detector finished", "detector", d.Name(), "budget", snap.BudgetID, "alerts", len(results[i]))
	}
	report.Duration = time.Since(start)
	return report, nil
}

func runIsolated(d Detector, snap *model.Snapshot, cfg Config) (alerts []model.Alert, err error) {
	defer func() {
		if r := recover(); r != nil {
			alerts = nil
			err = fmt.Errorf("detector %s panicked: %v\n%s", d.Name(), r, debug.Stack())
		}
	}()
	return d.Detect(snap, cfg)
}
