package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/budwatch/internal/app"
	"github.com/theirongolddev/budwatch/internal/model"
	"github.com/theirongolddev/budwatch/internal/store"
)

var (
	flagAlertsAll       bool
	flagAlertsDismissed bool
	flagAlertsKind      []string
	flagAlertsSeverity  string
	flagAlertsLimit     int
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List stored alerts",
	RunE:  runAlerts,
}

var alertsAckCmd = &cobra.Command{
	Use:   "ack <id>",
	Short: "Acknowledge an alert",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertsAck,
}

var alertsDismissCmd = &cobra.Command{
	Use:   "dismiss <id>",
	Short: "Hide an alert from default listings",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertsDismiss,
}

func init() {
	alertsCmd.Flags().BoolVarP(&flagAlertsAll, "all", "a", false, "Include acknowledged and dismissed alerts")
	alertsCmd.Flags().BoolVar(&flagAlertsDismissed, "dismissed", false, "Include dismissed alerts")
	alertsCmd.Flags().StringSliceVarP(&flagAlertsKind, "kind", "k", nil, "Filter by kind (repeatable)")
	alertsCmd.Flags().StringVarP(&flagAlertsSeverity, "severity", "s", "", "Minimum severity (info, warning, critical)")
	alertsCmd.Flags().IntVarP(&flagAlertsLimit, "limit", "l", 50, "Maximum alerts to show")

	alertsCmd.AddCommand(alertsAckCmd)
	alertsCmd.AddCommand(alertsDismissCmd)
	rootCmd.AddCommand(alertsCmd)
}

func runAlerts(cmd *cobra.Command, _ []string) error {
	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	budgetID, err := s.budgetID()
	if err != nil {
		return err
	}

	f := store.AlertFilter{
		BudgetID:         budgetID,
		Limit:            flagAlertsLimit,
		IncludeDismissed: flagAlertsAll || flagAlertsDismissed,
	}
	for _, k := range flagAlertsKind {
		f.Kinds = append(f.Kinds, model.AlertKind(k))
	}
	if flagAlertsSeverity != "" {
		sev, ok := model.ParseSeverity(strings.ToLower(flagAlertsSeverity))
		if !ok {
			return fmt.Errorf("unknown severity %q", flagAlertsSeverity)
		}
		f.MinSeverity = sev
	}
	if !flagAlertsAll {
		open := false
		f.Acknowledged = &open
	}

	alerts, err := s.app.ListAlerts(cmd.Context(), f)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(alerts)
	}
	if len(alerts) == 0 {
		fmt.Println("\n  No alerts.")
		return nil
	}

	fmt.Println()
	fmt.Print(renderAlerts(alerts))
	for _, a := range alerts {
		if a.Message != "" {
			fmt.Printf("  %s  %s\n", a.ID[:8], a.Message)
		}
	}
	return nil
}

func runAlertsAck(cmd *cobra.Command, args []string) error {
	return alertAction(cmd, args[0], "Acknowledged", (*app.App).Acknowledge)
}

func runAlertsDismiss(cmd *cobra.Command, args []string) error {
	return alertAction(cmd, args[0], "Dismissed", (*app.App).Dismiss)
}

// alertAction resolves an alert id or prefix and applies a state change.
func alertAction(cmd *cobra.Command, arg, done string, apply func(*app.App, context.Context, string) error) error {
	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	id, err := resolveAlertID(cmd, s, arg)
	if err != nil {
		return err
	}
	if err := apply(s.app, cmd.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no alert %s", arg)
		}
		return err
	}
	fmt.Printf("  %s %s\n", done, id)
	return nil
}

// resolveAlertID expands the short id prefix shown in listings.
func resolveAlertID(cmd *cobra.Command, s *session, prefix string) (string, error) {
	if len(prefix) == 36 {
		return prefix, nil
	}
	alerts, err := s.app.ListAlerts(cmd.Context(), store.AlertFilter{IncludeDismissed: true})
	if err != nil {
		return "", err
	}
	var match string
	for _, a := range alerts {
		if strings.HasPrefix(a.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("alert id %q is ambiguous", prefix)
			}
			match = a.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no alert %s", prefix)
	}
	return match, nil
}
