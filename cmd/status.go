package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/budwatch/internal/cli"
)

var flagStatusCheck bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync state and open alerts for the budget",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&flagStatusCheck, "check", false, "Verify the access token against the service")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	budgetID, err := s.budgetID()
	if err != nil {
		return err
	}

	st, err := s.app.Status(cmd.Context(), budgetID)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(st)
	}

	now := time.Now()
	fmt.Println()
	fmt.Println(cli.RenderTitle("BUDWATCH STATUS"))
	fmt.Println()
	fmt.Printf("  Budget:       %s\n", budgetID)
	if st.Cursor.IsZero() {
		fmt.Printf("  Cursor:       %s\n", cli.RenderMuted("never synced"))
	} else {
		fmt.Printf("  Cursor:       %d (%s)\n", st.Cursor, cli.FormatAgo(st.CursorUpdated, now))
	}

	if run := st.LastRun; run != nil {
		outcome := cli.RenderOK(run.Status)
		if run.Error != "" {
			outcome = fmt.Sprintf("%s: %s", run.Status, run.Error)
		}
		fmt.Printf("  Last sync:    %s, %s, %s records\n",
			cli.FormatAgo(run.FinishedAt, now), outcome, cli.FormatNumber(int64(run.Counts.Total())))
	}

	if s.client != nil {
		lim := s.client.Limiter()
		fmt.Printf("  API quota:    %d of %d left this %s\n", lim.Remaining(), lim.Quota(), cli.FormatDuration(lim.Window()))
		if flagStatusCheck {
			if err := s.client.Ping(cmd.Context()); err != nil {
				fmt.Printf("  Token:        %v\n", err)
			} else {
				fmt.Printf("  Token:        %s\n", cli.RenderOK("valid"))
			}
		}
	} else {
		fmt.Printf("  API quota:    %s\n", cli.RenderMuted("no access token"))
	}

	fmt.Printf("  Open alerts:  %d\n", st.OpenAlerts)
	fmt.Println()
	return nil
}
