package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/theirongolddev/budwatch/internal/app"
	"github.com/theirongolddev/budwatch/internal/model"
	"github.com/theirongolddev/budwatch/internal/store"
	"github.com/theirongolddev/budwatch/internal/syncer"
)

type fakeEngine struct {
	mu       sync.Mutex
	syncErr  error
	alerts   []model.Alert
	acked    []string
	hidden   []string
	filters  []store.AlertFilter
	detected int
}

func (f *fakeEngine) Sync(_ context.Context, budgetID string) (*syncer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if errors.Is(f.syncErr, syncer.ErrSyncInProgress) {
		return nil, f.syncErr
	}
	res := &syncer.Result{BudgetID: budgetID, Status: syncer.StatusOK, CursorAfter: 42}
	if f.syncErr != nil {
		res.Status = syncer.StatusFailed
		res.Reason = f.syncErr.Error()
	}
	return res, f.syncErr
}

func (f *fakeEngine) Detect(_ context.Context, budgetID string, asOf time.Time) (*app.DetectResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detected++
	return &app.DetectResult{BudgetID: budgetID, AsOf: asOf, Alerts: f.alerts, Inserted: len(f.alerts)}, nil
}

func (f *fakeEngine) ListAlerts(_ context.Context, filter store.AlertFilter) ([]model.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)
	return f.alerts, nil
}

func (f *fakeEngine) Acknowledge(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.alerts {
		if a.ID == id {
			f.acked = append(f.acked, id)
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeEngine) Dismiss(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.alerts {
		if a.ID == id {
			f.hidden = append(f.hidden, id)
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeEngine) Status(_ context.Context, budgetID string) (*app.Status, error) {
	return &app.Status{BudgetID: budgetID, Cursor: 42}, nil
}

func newTestService(engine Engine, buffer int) *Service {
	return New(Config{
		BudgetID:     "b-1",
		Interval:     10 * time.Second,
		EventsBuffer: buffer,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, engine)
}

func TestPublishEventRingBuffer(t *testing.T) {
	s := newTestService(&fakeEngine{}, 2)

	s.publishEvent(Event{Type: EventSync})
	s.publishEvent(Event{Type: EventSync})
	s.publishEvent(Event{Type: EventSync})

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.events) != 2 {
		t.Fatalf("events len = %d, want 2", len(s.events))
	}
	if s.events[0].ID != 2 || s.events[1].ID != 3 {
		t.Fatalf("events ring contains IDs [%d, %d], want [2, 3]", s.events[0].ID, s.events[1].ID)
	}
}

func TestPollOncePublishesSyncAndAlerts(t *testing.T) {
	engine := &fakeEngine{alerts: []model.Alert{
		model.NewAlert("b-1", model.KindBudgetOverspend, model.SeverityWarning, "cat-1", "2024-03"),
	}}
	s := newTestService(engine, 10)

	res, err := s.pollOnce(context.Background())
	if err != nil {
		t.Fatalf("pollOnce() error = %v", err)
	}
	if res.CursorAfter != 42 {
		t.Fatalf("CursorAfter = %d, want 42", res.CursorAfter)
	}

	st := s.snapshotStatus()
	if st.PollCount != 1 || st.AlertsRaised != 1 || st.LastError != "" {
		t.Fatalf("status = %+v, want one poll, one alert, no error", st)
	}
	if len(s.events) != 2 || s.events[0].Type != EventSync || s.events[1].Type != EventAlert {
		t.Fatalf("events = %+v, want sync then alert", s.events)
	}
	if s.events[1].Alert.Kind != model.KindBudgetOverspend {
		t.Fatalf("alert event kind = %s", s.events[1].Alert.Kind)
	}
}

func TestPollOnceDetectsAfterFailedSync(t *testing.T) {
	engine := &fakeEngine{syncErr: errors.New("remote: fetch budget: transient (status 503)")}
	s := newTestService(engine, 10)

	if _, err := s.pollOnce(context.Background()); err == nil {
		t.Fatal("pollOnce() error = nil, want sync failure")
	}
	if engine.detected != 1 {
		t.Fatalf("detect ran %d times, want 1", engine.detected)
	}
	if s.events[0].Type != EventSyncFailed {
		t.Fatalf("event type = %s, want %s", s.events[0].Type, EventSyncFailed)
	}
	if st := s.snapshotStatus(); st.LastError == "" {
		t.Fatal("LastError not recorded")
	}
}

func TestHandlers(t *testing.T) {
	engine := &fakeEngine{alerts: []model.Alert{
		model.NewAlert("b-1", model.KindRecurringMissing, model.SeverityCritical, "sched-1", "2024-03-26"),
	}}
	srv := httptest.NewServer(newTestService(engine, 10).Handler())
	defer srv.Close()
	alertID := engine.alerts[0].ID

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"health", http.MethodGet, "/healthz", http.StatusOK},
		{"status", http.MethodGet, "/v1/status", http.StatusOK},
		{"alerts", http.MethodGet, "/v1/alerts?severity=warning&kind=recurring_missing", http.StatusOK},
		{"alerts bad severity", http.MethodGet, "/v1/alerts?severity=loud", http.StatusBadRequest},
		{"ack", http.MethodPost, "/v1/alerts/" + alertID + "/ack", http.StatusNoContent},
		{"ack unknown", http.MethodPost, "/v1/alerts/nope/ack", http.StatusNotFound},
		{"ack wrong method", http.MethodGet, "/v1/alerts/" + alertID + "/ack", http.StatusMethodNotAllowed},
		{"dismiss", http.MethodPost, "/v1/alerts/" + alertID + "/dismiss", http.StatusNoContent},
		{"dismiss unknown", http.MethodPost, "/v1/alerts/nope/dismiss", http.StatusNotFound},
		{"sync", http.MethodPost, "/v1/sync", http.StatusOK},
		{"events", http.MethodGet, "/v1/events", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, nil)
			if err != nil {
				t.Fatal(err)
			}
			resp, err := srv.Client().Do(req)
			if err != nil {
				t.Fatal(err)
			}
			_ = resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("%s %s = %d, want %d", tt.method, tt.path, resp.StatusCode, tt.want)
			}
		})
	}

	if len(engine.acked) != 1 || engine.acked[0] != alertID {
		t.Fatalf("acked = %v, want [%s]", engine.acked, alertID)
	}
	if len(engine.hidden) != 1 || engine.hidden[0] != alertID {
		t.Fatalf("dismissed = %v, want [%s]", engine.hidden, alertID)
	}
	f := engine.filters[0]
	if f.Acknowledged == nil || *f.Acknowledged || f.IncludeDismissed || f.MinSeverity != model.SeverityWarning || len(f.Kinds) != 1 {
		t.Fatalf("alert filter = %+v, want open warning+ recurring_missing", f)
	}
}

func TestAlertsEndpointBody(t *testing.T) {
	engine := &fakeEngine{alerts: []model.Alert{
		model.NewAlert("b-1", model.KindUnusualSpending, model.SeverityWarning, "cat-1", "t-1"),
	}}
	srv := httptest.NewServer(newTestService(engine, 10).Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/v1/alerts?all=1")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	var got []model.Alert
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != engine.alerts[0].ID {
		t.Fatalf("alerts = %+v", got)
	}
	if f := engine.filters[0]; f.Acknowledged != nil || !f.IncludeDismissed {
		t.Fatalf("all=1 filter = %+v, want acknowledged and dismissed alerts included", f)
	}
}

func TestSyncEndpointConflict(t *testing.T) {
	engine := &fakeEngine{syncErr: syncer.ErrSyncInProgress}
	srv := httptest.NewServer(newTestService(engine, 10).Handler())
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL+"/v1/sync", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	if engine.detected != 0 {
		t.Fatal("detect must not run when the sync was refused")
	}
}
