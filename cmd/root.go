package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/budwatch/internal/app"
	"github.com/theirongolddev/budwatch/internal/config"
	"github.com/theirongolddev/budwatch/internal/remote"
	"github.com/theirongolddev/budwatch/internal/store"
)

var (
	flagBudget  string
	flagDB      string
	flagQuiet   bool
	flagVerbose bool
	flagJSON    bool
)

var rootCmd = &cobra.Command{
	Use:   "budwatch",
	Short: "Budget sync and spending alerts",
	Long:  "Mirror a YNAB budget locally and raise alerts when spending looks wrong.",
	RunE:  runStatus,
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceUsage = true
	rootCmd.PersistentPreRun = func(_ *cobra.Command, _ []string) {
		slog.SetDefault(newLogger(os.Stderr))
	}

	rootCmd.PersistentFlags().StringVarP(&flagBudget, "budget", "b", "", "Budget id (defaults to sync.default_budget)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "Database path (defaults to sync.database or the data directory)")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Only log errors")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log debug detail")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Print machine-readable JSON")
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case flagVerbose:
		level = slog.LevelDebug
	case flagQuiet:
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// session bundles everything a command needs. Close releases the store.
type session struct {
	cfg    config.Config
	store  *store.Store
	client *remote.Client // nil when no token is configured
	app    *app.App
}

func (s *session) Close() {
	_ = s.store.Close()
}

// budgetID resolves the --budget flag against the configured default.
func (s *session) budgetID() (string, error) {
	if flagBudget != "" {
		return flagBudget, nil
	}
	if s.cfg.Sync.DefaultBudget != "" {
		return s.cfg.Sync.DefaultBudget, nil
	}
	return "", errors.New("no budget selected: pass --budget or run `budwatch setup`")
}

// openSession loads config, opens the store and, when needOnline is set,
// requires an access token for the remote client.
func openSession(needOnline bool) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", config.ConfigPath(), err)
	}

	dbPath := flagDB
	if dbPath == "" {
		dbPath = cfg.Sync.Database
	}
	if dbPath == "" {
		dbPath = store.DefaultPath()
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, store: st}
	log := slog.Default()

	if token := config.GetToken(cfg); token != "" {
		s.client, err = remote.NewClient(remote.Options{
			Token:        token,
			BaseURL:      cfg.Remote.BaseURL,
			Limiter:      remote.NewLimiter(cfg.Remote.RequestsPerHour, time.Hour),
			Timeout:      cfg.Timeout(),
			MaxRetries:   cfg.Remote.MaxRetries,
			MaxRetryWait: cfg.MaxRetryWait(),
			Logger:       log,
		})
		if err != nil {
			_ = st.Close()
			return nil, err
		}
	} else if needOnline {
		_ = st.Close()
		return nil, errors.New("no access token: set YNAB_ACCESS_TOKEN or run `budwatch setup`")
	}

	var rc app.Remote
	if s.client != nil {
		rc = s.client
	}
	s.app = app.New(st, rc, cfg.Detector(), log)
	return s, nil
}
