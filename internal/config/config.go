// Package config loads budwatch settings from the config file and the
// environment. Every fallback default lives here; the detectors and the sync
// engine only ever see fully populated values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/theirongolddev/budwatch/internal/detect"
	"github.com/theirongolddev/budwatch/internal/remote"
)

// Config holds all budwatch configuration.
type Config struct {
	Remote RemoteConfig `toml:"remote" mapstructure:"remote"`
	Sync   SyncConfig   `toml:"sync" mapstructure:"sync"`
	Detect DetectConfig `toml:"detect" mapstructure:"detect"`
	Daemon DaemonConfig `toml:"daemon" mapstructure:"daemon"`
}

// RemoteConfig holds budgeting service access settings.
type RemoteConfig struct {
	Token               string `toml:"token,omitempty" mapstructure:"token"`
	BaseURL             string `toml:"base_url" mapstructure:"base_url"`
	RequestsPerHour     int    `toml:"requests_per_hour" mapstructure:"requests_per_hour"`
	TimeoutSeconds      int    `toml:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxRetries          int    `toml:"max_retries" mapstructure:"max_retries"`
	MaxRetryWaitSeconds int    `toml:"max_retry_wait_seconds" mapstructure:"max_retry_wait_seconds"`
}

// SyncConfig holds local cache settings.
type SyncConfig struct {
	DefaultBudget           string `toml:"default_budget" mapstructure:"default_budget"`
	Database                string `toml:"database,omitempty" mapstructure:"database"`
	AutoSyncIntervalMinutes int    `toml:"auto_sync_interval_minutes" mapstructure:"auto_sync_interval_minutes"`
}

// DetectConfig holds detector thresholds.
type DetectConfig struct {
	Unusual   UnusualConfig   `toml:"unusual_spending" mapstructure:"unusual_spending"`
	Budget    BudgetConfig    `toml:"budget" mapstructure:"budget"`
	Recurring RecurringConfig `toml:"recurring" mapstructure:"recurring"`
}

// UnusualConfig holds modified z-score thresholds.
type UnusualConfig struct {
	Warning        float64 `toml:"warning" mapstructure:"warning"`
	Critical       float64 `toml:"critical" mapstructure:"critical"`
	MinHistory     int     `toml:"min_history" mapstructure:"min_history"`
	LookbackMonths int     `toml:"lookback_months" mapstructure:"lookback_months"`
	RecentDays     int     `toml:"recent_days" mapstructure:"recent_days"`
	GroupBy        string  `toml:"group_by" mapstructure:"group_by"`
}

// BudgetConfig holds the overspend threshold.
type BudgetConfig struct {
	Approaching float64 `toml:"approaching" mapstructure:"approaching"`
}

// RecurringConfig holds scheduled transaction drift thresholds.
type RecurringConfig struct {
	DaysWarning             int     `toml:"days_warning" mapstructure:"days_warning"`
	DaysCritical            int     `toml:"days_critical" mapstructure:"days_critical"`
	AmountTolerancePercent  float64 `toml:"amount_tolerance_percent" mapstructure:"amount_tolerance_percent"`
	AmountToleranceAbsolute int64   `toml:"amount_tolerance_absolute" mapstructure:"amount_tolerance_absolute"`
	MatchBandPercent        float64 `toml:"match_band_percent" mapstructure:"match_band_percent"`
	MatchWindowDays         int     `toml:"match_window_days" mapstructure:"match_window_days"`
	LookbackDays            int     `toml:"lookback_days" mapstructure:"lookback_days"`
}

// DaemonConfig holds background service settings.
type DaemonConfig struct {
	Addr         string `toml:"addr" mapstructure:"addr"`
	EventsBuffer int    `toml:"events_buffer" mapstructure:"events_buffer"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Remote: RemoteConfig{
			BaseURL:             remote.DefaultBaseURL,
			RequestsPerHour:     200,
			TimeoutSeconds:      30,
			MaxRetries:          3,
			MaxRetryWaitSeconds: 60,
		},
		Sync: SyncConfig{
			AutoSyncIntervalMinutes: 30,
		},
		Detect: DetectConfig{
			Unusual: UnusualConfig{
				Warning:        2.5,
				Critical:       3.5,
				MinHistory:     5,
				LookbackMonths: 6,
				RecentDays:     30,
				GroupBy:        string(detect.GroupByCategory),
			},
			Budget: BudgetConfig{Approaching: 0.90},
			Recurring: RecurringConfig{
				DaysWarning:             3,
				DaysCritical:            7,
				AmountTolerancePercent:  5,
				AmountToleranceAbsolute: 100,
				MatchBandPercent:        50,
				MatchWindowDays:         5,
				LookbackDays:            60,
			},
		},
		Daemon: DaemonConfig{
			Addr:         "127.0.0.1:8787",
			EventsBuffer: 200,
		},
	}
}

// ConfigDir returns the XDG-compliant config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "budwatch")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "budwatch")
}

// ConfigPath returns the full path to the config file. BUDWATCH_CONFIG
// overrides it.
func ConfigPath() string {
	if p := os.Getenv("BUDWATCH_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), "config.toml")
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.base_url", d.Remote.BaseURL)
	v.SetDefault("remote.requests_per_hour", d.Remote.RequestsPerHour)
	v.SetDefault("remote.timeout_seconds", d.Remote.TimeoutSeconds)
	v.SetDefault("remote.max_retries", d.Remote.MaxRetries)
	v.SetDefault("remote.max_retry_wait_seconds", d.Remote.MaxRetryWaitSeconds)

	v.SetDefault("sync.default_budget", "")
	v.SetDefault("sync.database", "")
	v.SetDefault("sync.auto_sync_interval_minutes", d.Sync.AutoSyncIntervalMinutes)

	u := d.Detect.Unusual
	v.SetDefault("detect.unusual_spending.warning", u.Warning)
	v.SetDefault("detect.unusual_spending.critical", u.Critical)
	v.SetDefault("detect.unusual_spending.min_history", u.MinHistory)
	v.SetDefault("detect.unusual_spending.lookback_months", u.LookbackMonths)
	v.SetDefault("detect.unusual_spending.recent_days", u.RecentDays)
	v.SetDefault("detect.unusual_spending.group_by", u.GroupBy)
	v.SetDefault("detect.budget.approaching", d.Detect.Budget.Approaching)

	r := d.Detect.Recurring
	v.SetDefault("detect.recurring.days_warning", r.DaysWarning)
	v.SetDefault("detect.recurring.days_critical", r.DaysCritical)
	v.SetDefault("detect.recurring.amount_tolerance_percent", r.AmountTolerancePercent)
	v.SetDefault("detect.recurring.amount_tolerance_absolute", r.AmountToleranceAbsolute)
	v.SetDefault("detect.recurring.match_band_percent", r.MatchBandPercent)
	v.SetDefault("detect.recurring.match_window_days", r.MatchWindowDays)
	v.SetDefault("detect.recurring.lookback_days", r.LookbackDays)

	v.SetDefault("daemon.addr", d.Daemon.Addr)
	v.SetDefault("daemon.events_buffer", d.Daemon.EventsBuffer)
}

// Load reads the config file, returning defaults if it doesn't exist.
// Environment variables prefixed BUDWATCH_ override file values, e.g.
// BUDWATCH_DETECT_BUDGET_APPROACHING.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")
	v.SetConfigFile(ConfigPath())

	v.SetEnvPrefix("BUDWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return DefaultConfig(), fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Save writes the config to disk with owner-only permissions.
func Save(cfg Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	return enc.Encode(cfg)
}

// Exists returns true if a config file exists on disk.
func Exists() bool {
	_, err := os.Stat(ConfigPath())
	return err == nil
}

// GetToken returns the access token from env var or config, in that order.
func GetToken(cfg Config) string {
	if tok := os.Getenv("YNAB_ACCESS_TOKEN"); tok != "" {
		return tok
	}
	return cfg.Remote.Token
}

// Validate reports every invalid setting at once.
func Validate(cfg Config) error {
	var errs []error
	if tok := GetToken(cfg); tok != "" {
		if err := remote.ValidateToken(tok); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Remote.RequestsPerHour <= 0 {
		errs = append(errs, fmt.Errorf("remote.requests_per_hour %d must be positive", cfg.Remote.RequestsPerHour))
	}
	if cfg.Remote.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("remote.timeout_seconds %d must be positive", cfg.Remote.TimeoutSeconds))
	}
	if cfg.Remote.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("remote.max_retries %d must not be negative", cfg.Remote.MaxRetries))
	}
	if cfg.Sync.AutoSyncIntervalMinutes < 1 {
		errs = append(errs, fmt.Errorf("sync.auto_sync_interval_minutes %d must be at least 1", cfg.Sync.AutoSyncIntervalMinutes))
	}
	if cfg.Daemon.EventsBuffer < 1 {
		errs = append(errs, fmt.Errorf("daemon.events_buffer %d must be at least 1", cfg.Daemon.EventsBuffer))
	}
	if err := cfg.Detector().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Detector converts the detector thresholds for the pipeline.
func (c Config) Detector() detect.Config {
	u, r := c.Detect.Unusual, c.Detect.Recurring
	return detect.Config{
		Unusual: detect.UnusualConfig{
			Warning:        u.Warning,
			Critical:       u.Critical,
			MinHistory:     u.MinHistory,
			LookbackMonths: u.LookbackMonths,
			RecentDays:     u.RecentDays,
			GroupBy:        detect.GroupBy(u.GroupBy),
		},
		Overspend: detect.OverspendConfig{Approaching: c.Detect.Budget.Approaching},
		Recurring: detect.RecurringConfig{
			DaysWarning:             r.DaysWarning,
			DaysCritical:            r.DaysCritical,
			AmountTolerancePercent:  r.AmountTolerancePercent,
			AmountToleranceAbsolute: r.AmountToleranceAbsolute,
			MatchBandPercent:        r.MatchBandPercent,
			MatchWindowDays:         r.MatchWindowDays,
			LookbackDays:            r.LookbackDays,
		},
	}
}

// Timeout returns the per-request timeout.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.Remote.TimeoutSeconds) * time.Second
}

// MaxRetryWait returns the longest server retry hint worth waiting for.
func (c Config) MaxRetryWait() time.Duration {
	return time.Duration(c.Remote.MaxRetryWaitSeconds) * time.Second
}

// SyncInterval returns the daemon's poll interval.
func (c Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.AutoSyncIntervalMinutes) * time.Minute
}
