// Package daemon provides the long-running background sync-and-detect
// service and its local HTTP API.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/theirongolddev/budwatch/internal/app"
	"github.com/theirongolddev/budwatch/internal/model"
	"github.com/theirongolddev/budwatch/internal/store"
	"github.com/theirongolddev/budwatch/internal/syncer"
)

// Engine is the part of the app the daemon drives. *app.App implements it.
type Engine interface {
	Sync(ctx context.Context, budgetID string) (*syncer.Result, error)
	Detect(ctx context.Context, budgetID string, asOf time.Time) (*app.DetectResult, error)
	ListAlerts(ctx context.Context, f store.AlertFilter) ([]model.Alert, error)
	Acknowledge(ctx context.Context, alertID string) error
	Dismiss(ctx context.Context, alertID string) error
	Status(ctx context.Context, budgetID string) (*app.Status, error)
}

// Config controls the daemon runtime behavior.
type Config struct {
	BudgetID     string
	Interval     time.Duration
	Addr         string
	EventsBuffer int
	Logger       *slog.Logger
}

// Event types.
const (
	EventSync       = "sync"
	EventSyncFailed = "sync_failed"
	EventAlert      = "alert"
)

// Event is emitted after every sync attempt and for every new or upgraded
// alert.
type Event struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	BudgetID  string         `json:"budget_id"`
	Sync      *syncer.Result `json:"sync,omitempty"`
	Alert     *model.Alert   `json:"alert,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Status is served at /v1/status.
type Status struct {
	StartedAt       time.Time      `json:"started_at"`
	LastPollAt      time.Time      `json:"last_poll_at"`
	PollIntervalSec int            `json:"poll_interval_sec"`
	PollCount       int64          `json:"poll_count"`
	BudgetID        string         `json:"budget_id"`
	LastSync        *syncer.Result `json:"last_sync,omitempty"`
	Budget          *app.Status    `json:"budget,omitempty"`
	AlertsRaised    int64          `json:"alerts_raised"`
	LastError       string         `json:"last_error,omitempty"`
	EventCount      int            `json:"event_count"`
	SubscriberCount int            `json:"subscriber_count"`
}

// Service provides the daemon runtime and HTTP API.
type Service struct {
	cfg    Config
	engine Engine
	log    *slog.Logger
	now    func() time.Time

	mu           sync.RWMutex
	startedAt    time.Time
	lastPollAt   time.Time
	pollCount    int64
	lastError    string
	lastSync     *syncer.Result
	alertsRaised int64
	nextEventID  int64
	events       []Event

	nextSubID int
	subs      map[int]chan Event
}

// New returns a new daemon service with the provided config.
func New(cfg Config, engine Engine) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Minute
	}
	if cfg.EventsBuffer < 1 {
		cfg.EventsBuffer = 200
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8787"
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		cfg:       cfg,
		engine:    engine,
		log:       log,
		now:       time.Now,
		startedAt: time.Now(),
		subs:      make(map[int]chan Event),
	}
}

// Handler returns the HTTP API.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/alerts", s.handleAlerts)
	mux.HandleFunc("POST /v1/alerts/{id}/ack", s.alertAction(s.engine.Acknowledge))
	mux.HandleFunc("POST /v1/alerts/{id}/dismiss", s.alertAction(s.engine.Dismiss))
	mux.HandleFunc("POST /v1/sync", s.handleSync)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	return mux
}

// Run starts HTTP endpoints and polling until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.log.Info("daemon started", "budget", s.cfg.BudgetID, "addr", s.cfg.Addr, "interval", s.cfg.Interval)

	// Seed an initial run so status is useful immediately.
	_, _ = s.pollOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		case <-ticker.C:
			_, _ = s.pollOnce(ctx)
		case err := <-errCh:
			return fmt.Errorf("daemon http server: %w", err)
		}
	}
}

// pollOnce syncs then detects. A failed sync still runs detection over the
// last committed data.
func (s *Service) pollOnce(ctx context.Context) (*syncer.Result, error) {
	budgetID := s.cfg.BudgetID

	res, syncErr := s.engine.Sync(ctx, budgetID)
	if errors.Is(syncErr, syncer.ErrSyncInProgress) {
		return nil, syncErr
	}

	now := s.now()
	s.mu.Lock()
	s.lastPollAt = now
	s.pollCount++
	s.lastSync = res
	s.lastError = ""
	if syncErr != nil {
		s.lastError = syncErr.Error()
	}
	s.mu.Unlock()

	ev := Event{Type: EventSync, Timestamp: now, BudgetID: budgetID, Sync: res}
	if syncErr != nil {
		ev.Type = EventSyncFailed
		ev.Error = syncErr.Error()
	}
	s.publishEvent(ev)

	found, err := s.engine.Detect(ctx, budgetID, now)
	if err != nil {
		s.log.Error("daemon detect failed", "budget", budgetID, "err", err)
		s.mu.Lock()
		s.lastError = err.Error()
		s.mu.Unlock()
		return res, syncErr
	}
	for i := range found.Alerts {
		s.publishEvent(Event{Type: EventAlert, Timestamp: s.now(), BudgetID: budgetID, Alert: &found.Alerts[i]})
	}
	s.mu.Lock()
	s.alertsRaised += int64(len(found.Alerts))
	s.mu.Unlock()
	return res, syncErr
}

func (s *Service) publishEvent(ev Event) {
	s.mu.Lock()
	s.nextEventID++
	ev.ID = s.nextEventID
	s.events = append(s.events, ev)
	if len(s.events) > s.cfg.EventsBuffer {
		s.events = s.events[len(s.events)-s.cfg.EventsBuffer:]
	}

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *Service) snapshotStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Status{
		StartedAt:       s.startedAt,
		LastPollAt:      s.lastPollAt,
		PollIntervalSec: int(s.cfg.Interval.Seconds()),
		PollCount:       s.pollCount,
		BudgetID:        s.cfg.BudgetID,
		LastSync:        s.lastSync,
		AlertsRaised:    s.alertsRaised,
		LastError:       s.lastError,
		EventCount:      len(s.events),
		SubscriberCount: len(s.subs),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.snapshotStatus()
	if b, err := s.engine.Status(r.Context(), s.cfg.BudgetID); err == nil {
		st.Budget = b
	}
	writeJSON(w, http.StatusOK, st)
}

// handleAlerts lists open alerts; ?all=1 includes acknowledged and
// dismissed ones, ?dismissed=1 only adds dismissed ones. ?kind=,
// ?severity= and ?limit= narrow the list.
func (s *Service) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.AlertFilter{BudgetID: s.cfg.BudgetID}
	all, _ := strconv.ParseBool(q.Get("all"))
	if !all {
		open := false
		f.Acknowledged = &open
	}
	dismissed, _ := strconv.ParseBool(q.Get("dismissed"))
	f.IncludeDismissed = all || dismissed
	for _, k := range q["kind"] {
		f.Kinds = append(f.Kinds, model.AlertKind(k))
	}
	if sev := q.Get("severity"); sev != "" {
		parsed, ok := model.ParseSeverity(sev)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown severity %q", sev))
			return
		}
		f.MinSeverity = parsed
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", l))
			return
		}
		f.Limit = n
	}

	alerts, err := s.engine.ListAlerts(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// alertAction serves a terminal state change on the alert named in the path.
func (s *Service) alertAction(apply func(ctx context.Context, alertID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := apply(r.Context(), r.PathValue("id"))
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, err)
		case err != nil:
			writeError(w, http.StatusInternalServerError, err)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

func (s *Service) handleSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.pollOnce(r.Context())
	switch {
	case errors.Is(err, syncer.ErrSyncInProgress):
		writeError(w, http.StatusConflict, err)
	case res == nil && err != nil:
		writeError(w, http.StatusBadGateway, err)
	default:
		// Failed syncs still report their result; the status field says so.
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Service) handleEvents(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	events := make([]Event, len(s.events))
	copy(events, s.events)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, events)
}

func (s *Service) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan Event, 16)
	id := s.addSubscriber(ch)
	defer s.removeSubscriber(id)

	// Send the latest sync outcome immediately.
	st := s.snapshotStatus()
	writeSSE(w, Event{Type: EventSync, Timestamp: s.now(), BudgetID: st.BudgetID, Sync: st.LastSync})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", ev.Type)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}

func (s *Service) addSubscriber(ch chan Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subs[id] = ch
	return id
}

func (s *Service) removeSubscriber(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}
