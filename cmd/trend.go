package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/budwatch/internal/cli"
)

var flagTrendMonths int

var trendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Monthly spending trend",
	RunE:  runTrend,
}

func init() {
	trendCmd.Flags().IntVarP(&flagTrendMonths, "months", "n", 12, "Number of months to show")
	rootCmd.AddCommand(trendCmd)
}

func runTrend(cmd *cobra.Command, _ []string) error {
	if flagTrendMonths < 1 {
		return errors.New("--months must be at least 1")
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

	ctx := cmd.Context()
	months, err := s.app.MonthlySpending(ctx, budgetID, flagTrendMonths, time.Now())
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(months)
	}
	if len(months) == 0 {
		fmt.Println("\n  No spending recorded.")
		return nil
	}

	currency := s.currency(ctx, budgetID)
	values := make([]float64, len(months))
	var peak float64
	for i, m := range months {
		values[i] = cli.MilliunitsToFloat(m.Spent)
		peak = max(peak, values[i])
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("MONTHLY SPENDING  Last %d months", len(months))))
	fmt.Println()
	fmt.Printf("  %s\n\n", cli.RenderSparkline(values))

	for i, m := range months {
		label := fmt.Sprintf("%-8s %12s", cli.FormatMonth(m.Month), cli.FormatMilliunits(m.Spent, currency))
		fmt.Println(cli.RenderHorizontalBar(label, values[i], peak, 30))
	}
	return nil
}
