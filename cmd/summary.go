package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/budwatch/internal/cli"
)

var flagSummaryMonth string

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Spending by category for a month",
	RunE:  runSummary,
}

func init() {
	summaryCmd.Flags().StringVarP(&flagSummaryMonth, "month", "m", "", "Month to summarize (YYYY-MM, default current)")
	rootCmd.AddCommand(summaryCmd)
}

func runSummary(cmd *cobra.Command, _ []string) error {
	from, err := parseMonth(flagSummaryMonth)
	if err != nil {
		return err
	}
	to := from.AddDate(0, 1, -1)

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
	spend, err := s.app.SpendingByCategory(ctx, budgetID, from, to)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(spend)
	}
	if len(spend) == 0 {
		fmt.Println("\n  No spending recorded for the selected month.")
		return nil
	}

	currency := s.currency(ctx, budgetID)
	var total int64
	var count int
	rows := make([][]string, 0, len(spend)+2)
	for _, c := range spend {
		total += c.Spent
		count += c.Transactions
		name := c.CategoryName
		if name == "" {
			name = cli.RenderMuted("uncategorized")
		}
		rows = append(rows, []string{
			name,
			c.GroupName,
			cli.FormatNumber(int64(c.Transactions)),
			cli.FormatMilliunits(c.Spent, currency),
		})
	}
	rows = append(rows, []string{"---"}, []string{
		"Total", "", cli.FormatNumber(int64(count)), cli.FormatMilliunits(total, currency),
	})

	fmt.Println()
	fmt.Println(cli.RenderTitle("SPENDING  " + cli.FormatMonth(from)))
	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Headers:     []string{"Category", "Group", "Txns", "Spent"},
		Rows:        rows,
		LeftAligned: []int{1},
	}))
	return nil
}

// parseMonth reads YYYY-MM; empty means the current month.
func parseMonth(v string) (time.Time, error) {
	if v == "" {
		now := time.Now()
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse("2006-01", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month %q: want YYYY-MM", v)
	}
	return t, nil
}
