package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/budwatch/internal/cli"
	"github.com/theirongolddev/budwatch/internal/model"
)

var flagAsOf string

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Run the detectors over the local mirror",
	RunE:  runDetect,
}

func init() {
	detectCmd.Flags().StringVar(&flagAsOf, "as-of", "", "Evaluate as of this date (YYYY-MM-DD, default today)")
	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, _ []string) error {
	asOf, err := parseAsOf(flagAsOf)
	if err != nil {
		return err
	}

	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	budgetID, err := s.budgetID()
	if err != nil {
		return err
	}
	return detectAndPrint(cmd, s, budgetID, asOf)
}

func detectAndPrint(cmd *cobra.Command, s *session, budgetID string, asOf time.Time) error {
	res, err := s.app.Detect(cmd.Context(), budgetID, asOf)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(res)
	}

	if failed := res.FailedDetectors(); len(failed) > 0 {
		fmt.Printf("  Detectors failed: %s\n", strings.Join(failed, ", "))
	}
	if len(res.Alerts) == 0 {
		fmt.Printf("\n  No new alerts (%d already open).\n", res.Existing)
		return nil
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("ALERTS  as of %s", asOf.Format("2006-01-02"))))
	fmt.Println()
	fmt.Print(renderAlerts(res.Alerts))
	fmt.Printf("\n  %d new, %d upgraded, %d unchanged\n", res.Inserted, res.Upgraded, res.Existing)
	return nil
}

func renderAlerts(alerts []model.Alert) string {
	rows := make([][]string, 0, len(alerts))
	for _, a := range alerts {
		state := "open"
		switch {
		case a.Dismissed():
			state = cli.RenderMuted("dismissed")
		case a.Acknowledged():
			state = cli.RenderMuted("acked")
		}
		rows = append(rows, []string{
			a.ID[:8],
			cli.RenderSeverity(a.Severity),
			string(a.Kind),
			a.Title,
			state,
			cli.FormatAgo(a.UpdatedAt, time.Now()),
		})
	}
	return cli.RenderTable(cli.Table{
		Headers:     []string{"ID", "Severity", "Kind", "Alert", "State", "Updated"},
		Rows:        rows,
		LeftAligned: []int{1, 2, 3, 4},
	})
}

// parseAsOf reads a YYYY-MM-DD date; empty means today.
func parseAsOf(v string) (time.Time, error) {
	if v == "" {
		now := time.Now()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", v)
	}
	return t, nil
}

// currency returns the budget's ISO currency from the local budget cache.
func (s *session) currency(ctx context.Context, budgetID string) string {
	budgets, err := s.store.Budgets(ctx)
	if err != nil {
		return ""
	}
	for _, b := range budgets {
		if b.ID == budgetID {
			return b.CurrencyISO
		}
	}
	return ""
}
