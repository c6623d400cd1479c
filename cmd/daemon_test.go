package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/theirongolddev/budwatch/internal/daemon"
	"github.com/theirongolddev/budwatch/internal/syncer"
)

func TestFilterDetachArg(t *testing.T) {
	got := filterDetachArg([]string{"daemon", "--detach", "--budget", "b-1", "--detach=true"})
	if strings.Join(got, " ") != "daemon --budget b-1" {
		t.Fatalf("filterDetachArg = %v, want [daemon --budget b-1]", got)
	}
}

func TestDaemonStateFiles(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "budwatchd.pid")

	if err := writePID(pidFile, os.Getpid()); err != nil {
		t.Fatalf("writePID: %v", err)
	}
	pid, err := readPID(pidFile)
	if err != nil || pid != os.Getpid() {
		t.Fatalf("readPID = %d, %v, want %d", pid, err, os.Getpid())
	}
	if err := ensureDaemonNotRunning(pidFile); err == nil {
		t.Fatal("ensureDaemonNotRunning accepted a live pid")
	}

	want := daemonRuntimeState{PID: pid, Addr: "127.0.0.1:9999", StartedAt: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), BudgetID: "b-1"}
	if err := writeState(statePath(pidFile), want); err != nil {
		t.Fatalf("writeState: %v", err)
	}
	got, err := readState(statePath(pidFile))
	if err != nil || got != want {
		t.Fatalf("readState = %+v, %v, want %+v", got, err, want)
	}
}

func TestEnsureDaemonNotRunningClearsStalePID(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "budwatchd.pid")
	if err := os.WriteFile(pidFile, []byte("not-a-pid\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := ensureDaemonNotRunning(pidFile); err == nil {
		t.Fatal("ensureDaemonNotRunning accepted a malformed pid file")
	}

	if err := ensureDaemonNotRunning(filepath.Join(t.TempDir(), "missing.pid")); err != nil {
		t.Fatalf("ensureDaemonNotRunning(missing) = %v, want nil", err)
	}
}

func TestFetchDaemonStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/status" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(daemon.Status{
			BudgetID: "b-1",
			LastSync: &syncer.Result{Status: syncer.StatusFailed, Kind: "rate_limited", RetryAfter: 10 * time.Minute},
		})
	}))
	defer srv.Close()

	st, err := fetchDaemonStatus(context.Background(), strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatalf("fetchDaemonStatus: %v", err)
	}
	if st.BudgetID != "b-1" || st.LastSync == nil || st.LastSync.RetryAfter != 10*time.Minute {
		t.Fatalf("fetchDaemonStatus = %+v, want budget b-1 with a 10m retry", st)
	}

	srv.Close()
	if _, err := fetchDaemonStatus(context.Background(), strings.TrimPrefix(srv.URL, "http://")); err == nil {
		t.Fatal("fetchDaemonStatus succeeded against a closed server")
	}
}
