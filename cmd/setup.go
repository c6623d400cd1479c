package cmd

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/budwatch/internal/config"
	"github.com/theirongolddev/budwatch/internal/remote"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "First-time setup wizard",
	RunE:  runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, _ []string) error {
	// Load existing config or defaults
	cfg, err := config.Load()
	if err != nil {
		cfg = config.DefaultConfig()
	}

	fmt.Println()
	fmt.Println("  Welcome to budwatch!")
	fmt.Println()

	token := config.GetToken(cfg)
	tokenForm := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("YNAB personal access token").
			Description("Create one under Account Settings > Developer Settings.").
			EchoMode(huh.EchoModePassword).
			Value(&token).
			Validate(remote.ValidateToken),
	))
	if err := tokenForm.Run(); err != nil {
		return setupAborted(err)
	}

	client, err := remote.NewClient(remote.Options{
		Token:      token,
		BaseURL:    cfg.Remote.BaseURL,
		Timeout:    cfg.Timeout(),
		MaxRetries: cfg.Remote.MaxRetries,
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("checking token: %w", err)
	}
	budgets, err := client.Budgets(ctx)
	if err != nil {
		return fmt.Errorf("listing budgets: %w", err)
	}
	if len(budgets) == 0 {
		return errors.New("the token has no budgets")
	}

	options := make([]huh.Option[string], 0, len(budgets))
	for _, b := range budgets {
		options = append(options, huh.NewOption(fmt.Sprintf("%s (%s)", b.Name, b.CurrencyISO), b.ID))
	}
	budgetID := cfg.Sync.DefaultBudget
	if budgetID == "" {
		budgetID = budgets[0].ID
	}

	groupBy := cfg.Detect.Unusual.GroupBy
	prefsForm := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Default budget").
			Options(options...).
			Value(&budgetID),
		huh.NewSelect[string]().
			Title("Compare unusual spending by").
			Options(
				huh.NewOption("Category", "category"),
				huh.NewOption("Payee", "payee"),
			).
			Value(&groupBy),
	))
	if err := prefsForm.Run(); err != nil {
		return setupAborted(err)
	}

	cfg.Remote.Token = token
	cfg.Sync.DefaultBudget = budgetID
	cfg.Detect.Unusual.GroupBy = groupBy

	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Println()
	fmt.Printf("  Saved to %s\n", config.ConfigPath())
	fmt.Println("  Run `budwatch sync` to pull the budget.")
	fmt.Println()
	return nil
}

func setupAborted(err error) error {
	if errors.Is(err, huh.ErrUserAborted) {
		fmt.Println("  Setup cancelled; nothing saved.")
		return nil
	}
	return err
}
