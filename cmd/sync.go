package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/budwatch/internal/cli"
	"github.com/theirongolddev/budwatch/internal/syncer"
)

var flagSyncDetect bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull changes from the budgeting service",
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&flagSyncDetect, "detect", false, "Run detectors after a successful sync")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	s, err := openSession(true)
	if err != nil {
		return err
	}
	defer s.Close()

	budgetID, err := s.budgetID()
	if err != nil {
		return err
	}

	res, err := s.app.Sync(cmd.Context(), budgetID)
	if res != nil && flagJSON {
		_ = printJSON(res)
	} else if res != nil {
		printSyncResult(res)
	}
	if err != nil {
		return err
	}

	if flagSyncDetect {
		return detectAndPrint(cmd, s, budgetID, time.Now())
	}
	return nil
}

func printSyncResult(res *syncer.Result) {
	if !res.OK() {
		fmt.Printf("  Sync %s: %s (%s)\n", res.Status, res.Reason, res.Kind)
		if res.RetryAfter > 0 {
			fmt.Printf("  Retry in %s\n", cli.FormatDuration(res.RetryAfter))
		}
		return
	}

	mode := "delta"
	if res.FullBootstrap {
		mode = "full"
	}
	c := res.Counts
	fmt.Printf("  Synced %s (%s): %s records, cursor %d -> %d\n",
		res.BudgetID, mode, cli.FormatNumber(int64(c.Total())), res.CursorBefore, res.CursorAfter)
	fmt.Printf("  accounts %d  categories %d  scheduled %d  transactions %d  deleted %d\n",
		c.Accounts, c.Categories, c.ScheduledTransactions, c.Transactions, c.Tombstoned)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
