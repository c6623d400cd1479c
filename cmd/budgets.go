package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/budwatch/internal/cli"
)

var flagBudgetsRefresh bool

var budgetsCmd = &cobra.Command{
	Use:   "budgets",
	Short: "List budgets available to the access token",
	RunE:  runBudgets,
}

func init() {
	budgetsCmd.Flags().BoolVarP(&flagBudgetsRefresh, "refresh", "r", false, "Fetch the list from the service instead of the local cache")
	rootCmd.AddCommand(budgetsCmd)
}

func runBudgets(cmd *cobra.Command, _ []string) error {
	s, err := openSession(flagBudgetsRefresh)
	if err != nil {
		return err
	}
	defer s.Close()

	budgets, err := s.app.Budgets(cmd.Context(), flagBudgetsRefresh)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(budgets)
	}
	if len(budgets) == 0 {
		fmt.Println("\n  No budgets found.")
		return nil
	}

	rows := make([][]string, 0, len(budgets))
	for _, b := range budgets {
		name := b.Name
		if b.ID == s.cfg.Sync.DefaultBudget {
			name += " *"
		}
		modified := ""
		if !b.LastModifiedOn.IsZero() {
			modified = b.LastModifiedOn.Local().Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{name, b.ID, b.CurrencyISO, modified})
	}

	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Headers:     []string{"Budget", "ID", "Currency", "Modified"},
		Rows:        rows,
		LeftAligned: []int{1, 2},
	}))
	return nil
}
