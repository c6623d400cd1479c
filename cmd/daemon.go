package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/budwatch/internal/cli"
	"github.com/theirongolddev/budwatch/internal/config"
	"github.com/theirongolddev/budwatch/internal/daemon"
	"github.com/theirongolddev/budwatch/internal/store"
)

type daemonRuntimeState struct {
	PID       int       `json:"pid"`
	Addr      string    `json:"addr"`
	StartedAt time.Time `json:"started_at"`
	BudgetID  string    `json:"budget_id"`
}

var (
	flagDaemonAddr         string
	flagDaemonInterval     time.Duration
	flagDaemonDetach       bool
	flagDaemonPIDFile      string
	flagDaemonLogFile      string
	flagDaemonEventsBuffer int
	flagDaemonChild        bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Sync and detect on a schedule, serving alerts over HTTP/SSE",
	RunE:  runDaemon,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon process and API status",
	RunE:  runDaemonStatus,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE:  runDaemonStop,
}

func init() {
	defaultPID := filepath.Join(store.DataDir(), "budwatchd.pid")
	defaultLog := filepath.Join(store.DataDir(), "budwatchd.log")

	daemonCmd.PersistentFlags().StringVar(&flagDaemonAddr, "addr", "", "HTTP listen address (defaults to daemon.addr)")
	daemonCmd.PersistentFlags().DurationVar(&flagDaemonInterval, "interval", 0, "Sync interval (defaults to sync.auto_sync_interval_minutes)")
	daemonCmd.PersistentFlags().StringVar(&flagDaemonPIDFile, "pid-file", defaultPID, "PID file path")
	daemonCmd.PersistentFlags().StringVar(&flagDaemonLogFile, "log-file", defaultLog, "Log file path for detached mode")
	daemonCmd.PersistentFlags().IntVar(&flagDaemonEventsBuffer, "events-buffer", 0, "Max in-memory events retained (defaults to daemon.events_buffer)")

	daemonCmd.Flags().BoolVar(&flagDaemonDetach, "detach", false, "Run daemon as a background process")
	daemonCmd.Flags().BoolVar(&flagDaemonChild, "child", false, "Internal: mark detached child process")
	_ = daemonCmd.Flags().MarkHidden("child")

	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(_ *cobra.Command, _ []string) error {
	if flagDaemonDetach && flagDaemonChild {
		return errors.New("invalid daemon launch mode")
	}

	if flagDaemonDetach {
		return startDaemonDetached()
	}

	return runDaemonForeground()
}

func startDaemonDetached() error {
	if err := ensureDaemonNotRunning(flagDaemonPIDFile); err != nil {
		return err
	}

	// Resolve settings here so a misconfigured daemon fails in the
	// foreground instead of in the log file.
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	budgetID := flagBudget
	if budgetID == "" {
		budgetID = cfg.Sync.DefaultBudget
	}
	if budgetID == "" {
		return errors.New("no budget selected: pass --budget or run `budwatch setup`")
	}
	if config.GetToken(cfg) == "" {
		return errors.New("no access token: set YNAB_ACCESS_TOKEN or run `budwatch setup`")
	}
	addr := flagDaemonAddr
	if addr == "" {
		addr = cfg.Daemon.Addr
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	args := filterDetachArg(os.Args[1:])
	args = append(args, "--child")

	if err := os.MkdirAll(filepath.Dir(flagDaemonPIDFile), 0o750); err != nil {
		return fmt.Errorf("create daemon directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(flagDaemonLogFile), 0o750); err != nil {
		return fmt.Errorf("create daemon log directory: %w", err)
	}

	//nolint:gosec // daemon log path is configured by the local user
	logf, err := os.OpenFile(flagDaemonLogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open daemon log file: %w", err)
	}
	defer func() { _ = logf.Close() }()

	cmd := exec.Command(exe, args...) //nolint:gosec // exe/args come from current process invocation
	cmd.Stdout = logf
	cmd.Stderr = logf
	cmd.Stdin = nil
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start detached daemon: %w", err)
	}

	fmt.Printf("  Started daemon (pid %d) watching budget %s\n", cmd.Process.Pid, budgetID)
	fmt.Printf("  Alerts: http://%s/v1/alerts\n", addr)
	fmt.Printf("  PID file: %s\n", flagDaemonPIDFile)
	fmt.Printf("  Log: %s\n", flagDaemonLogFile)
	return nil
}

func runDaemonForeground() error {
	if err := ensureDaemonNotRunning(flagDaemonPIDFile); err != nil {
		return err
	}

	sess, err := openSession(true)
	if err != nil {
		return err
	}
	defer sess.Close()

	budgetID, err := sess.budgetID()
	if err != nil {
		return err
	}

	cfg := daemon.Config{
		BudgetID:     budgetID,
		Interval:     flagDaemonInterval,
		Addr:         flagDaemonAddr,
		EventsBuffer: flagDaemonEventsBuffer,
	}
	if cfg.Interval <= 0 {
		cfg.Interval = sess.cfg.SyncInterval()
	}
	if cfg.Addr == "" {
		cfg.Addr = sess.cfg.Daemon.Addr
	}
	if cfg.EventsBuffer <= 0 {
		cfg.EventsBuffer = sess.cfg.Daemon.EventsBuffer
	}

	if err := os.MkdirAll(filepath.Dir(flagDaemonPIDFile), 0o750); err != nil {
		return fmt.Errorf("create daemon directory: %w", err)
	}

	pid := os.Getpid()
	if err := writePID(flagDaemonPIDFile, pid); err != nil {
		return err
	}
	defer func() { _ = os.Remove(flagDaemonPIDFile) }()

	state := daemonRuntimeState{
		PID:       pid,
		Addr:      cfg.Addr,
		StartedAt: time.Now(),
		BudgetID:  budgetID,
	}
	_ = writeState(statePath(flagDaemonPIDFile), state)
	defer func() { _ = os.Remove(statePath(flagDaemonPIDFile)) }()

	svc := daemon.New(cfg, sess.app)

	fmt.Printf("  budwatch daemon listening on http://%s\n", cfg.Addr)
	fmt.Printf("  Syncing %s every %s\n", budgetID, cfg.Interval)
	fmt.Printf("  Stop with: budwatch daemon stop --pid-file %s\n", flagDaemonPIDFile)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runDaemonStatus(cmd *cobra.Command, _ []string) error {
	pid, err := readPID(flagDaemonPIDFile)
	if err != nil {
		fmt.Printf("  Daemon: not running (pid file not found)\n")
		return nil
	}
	if !processAlive(pid) {
		fmt.Printf("  Daemon: stale pid file (pid %d not alive)\n", pid)
		return nil
	}

	now := time.Now()
	addr := flagDaemonAddr
	if addr == "" {
		addr = config.DefaultConfig().Daemon.Addr
	}
	fmt.Printf("  Daemon PID: %d\n", pid)
	if rt, err := readState(statePath(flagDaemonPIDFile)); err == nil {
		if rt.Addr != "" {
			addr = rt.Addr
		}
		fmt.Printf("  Budget:     %s\n", rt.BudgetID)
		fmt.Printf("  Started:    %s\n", cli.FormatAgo(rt.StartedAt, now))
	}
	fmt.Printf("  Address:    http://%s\n", addr)

	st, err := fetchDaemonStatus(cmd.Context(), addr)
	if err != nil {
		fmt.Printf("  API status: %v\n", err)
		return nil
	}

	fmt.Println()
	if st.LastPollAt.IsZero() {
		fmt.Printf("  Last poll:  pending\n")
	} else {
		fmt.Printf("  Last poll:  %s (%d polls, every %s)\n", cli.FormatAgo(st.LastPollAt, now),
			st.PollCount, cli.FormatDuration(time.Duration(st.PollIntervalSec)*time.Second))
	}
	if res := st.LastSync; res != nil {
		if res.OK() {
			fmt.Printf("  Last sync:  %s, %s records, cursor %d\n",
				cli.RenderOK(res.Status), cli.FormatNumber(int64(res.Counts.Total())), res.CursorAfter)
		} else {
			fmt.Printf("  Last sync:  %s (%s): %s\n", res.Status, res.Kind, res.Reason)
		}
		if res.RetryAfter > 0 {
			fmt.Printf("  Retry in:   %s\n", cli.FormatDuration(res.RetryAfter))
		}
	}
	if st.Budget != nil {
		fmt.Printf("  Open alerts: %d (%d raised since start)\n", st.Budget.OpenAlerts, st.AlertsRaised)
	}
	if st.LastError != "" {
		fmt.Printf("  Last error: %s\n", st.LastError)
	}
	return nil
}

// fetchDaemonStatus asks a running daemon for its status snapshot.
func fetchDaemonStatus(ctx context.Context, addr string) (*daemon.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/v1/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unreachable (%w)", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	var st daemon.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("malformed response (%w)", err)
	}
	return &st, nil
}

func runDaemonStop(cmd *cobra.Command, _ []string) error {
	pid, err := readPID(flagDaemonPIDFile)
	if err != nil {
		return errors.New("daemon is not running")
	}
	rt, _ := readState(statePath(flagDaemonPIDFile))

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find daemon process: %w", err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon process: %w", err)
	}

	// An in-flight sync finishes or rolls back before the daemon exits,
	// which can take up to one request timeout.
	grace := 8 * time.Second
	if cfg, err := config.Load(); err == nil {
		grace += cfg.Timeout()
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), grace)
	defer cancel()

	tick := time.NewTicker(150 * time.Millisecond)
	defer tick.Stop()
	for {
		if !processAlive(pid) {
			_ = os.Remove(flagDaemonPIDFile)
			_ = os.Remove(statePath(flagDaemonPIDFile))
			if rt.BudgetID != "" {
				fmt.Printf("  Stopped daemon (pid %d) for budget %s after %s\n",
					pid, rt.BudgetID, cli.FormatDuration(time.Since(rt.StartedAt)))
			} else {
				fmt.Printf("  Stopped daemon (pid %d)\n", pid)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("daemon (pid %d) did not exit within %s", pid, grace)
		case <-tick.C:
		}
	}
}

func filterDetachArg(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a == "--detach" || strings.HasPrefix(a, "--detach=") {
			continue
		}
		out = append(out, a)
	}
	return out
}

func ensureDaemonNotRunning(pidFile string) error {
	pid, err := readPID(pidFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if processAlive(pid) {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}
	_ = os.Remove(pidFile)
	_ = os.Remove(statePath(pidFile))
	return nil
}

func writePID(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o600)
}

func readPID(path string) (int, error) {
	//nolint:gosec // daemon pid path is configured by the local user
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid in %s", path)
	}
	return pid, nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

func statePath(pidFile string) string {
	return pidFile + ".json"
}

func writeState(path string, st daemonRuntimeState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

func readState(path string) (daemonRuntimeState, error) {
	var st daemonRuntimeState
	//nolint:gosec // daemon state path is configured by the local user
	data, err := os.ReadFile(path)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, err
	}
	return st, nil
}
