// Package cmd implements the budwatch CLI commands.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/budwatch/internal/config"
	"github.com/theirongolddev/budwatch/internal/store"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fmt.Printf("  Config file: %s\n", config.ConfigPath())
	if config.Exists() {
		fmt.Println("  Status: loaded")
	} else {
		fmt.Println("  Status: using defaults (no config file)")
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Printf("  Problems:\n    %v\n", err)
	}
	fmt.Println()

	fmt.Println("  [Remote]")
	if token := config.GetToken(cfg); token != "" {
		fmt.Printf("    Token:             %s\n", maskToken(token))
	} else {
		fmt.Println("    Token:             not configured")
	}
	fmt.Printf("    Base URL:          %s\n", cfg.Remote.BaseURL)
	fmt.Printf("    Requests per hour: %d\n", cfg.Remote.RequestsPerHour)
	fmt.Printf("    Timeout:           %s\n", cfg.Timeout())
	fmt.Printf("    Max retries:       %d\n", cfg.Remote.MaxRetries)
	fmt.Println()

	fmt.Println("  [Sync]")
	budget := cfg.Sync.DefaultBudget
	if budget == "" {
		budget = "not set"
	}
	db := cfg.Sync.Database
	if db == "" {
		db = store.DefaultPath()
	}
	fmt.Printf("    Default budget:    %s\n", budget)
	fmt.Printf("    Database:          %s\n", db)
	fmt.Printf("    Auto-sync every:   %s\n", cfg.SyncInterval())
	fmt.Println()

	d := cfg.Detect
	fmt.Println("  [Detect]")
	fmt.Printf("    Unusual spending:  warn > %g, critical > %g, by %s, %d months history (min %d)\n",
		d.Unusual.Warning, d.Unusual.Critical, d.Unusual.GroupBy, d.Unusual.LookbackMonths, d.Unusual.MinHistory)
	fmt.Printf("    Budget:            approaching at %.0f%%\n", d.Budget.Approaching*100)
	fmt.Printf("    Recurring:         warn after %dd, critical after %dd, tolerance %g%% / %d\n",
		d.Recurring.DaysWarning, d.Recurring.DaysCritical,
		d.Recurring.AmountTolerancePercent, d.Recurring.AmountToleranceAbsolute)
	fmt.Println()

	fmt.Println("  Run `budwatch setup` to reconfigure.")
	return nil
}

func maskToken(token string) string {
	if len(token) > 16 {
		return token[:6] + "..." + token[len(token)-4:]
	}
	if len(token) > 4 {
		return token[:4] + "..."
	}
	return "****"
}
