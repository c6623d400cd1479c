package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/theirongolddev/budwatch/internal/model"
)

// EmitOutcome reports what Emit did with an alert.
type EmitOutcome int

const (
	// Unchanged means an alert with the same id already existed and the
	// new one did not raise its severity, or it was acknowledged or
	// dismissed.
	Unchanged EmitOutcome = iota
	// Inserted means the alert is new.
	Inserted
	// Upgraded means an open alert was raised to a higher severity in place.
	Upgraded
)

func (o EmitOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Upgraded:
		return "upgraded"
	default:
		return "unchanged"
	}
}

// severityRankSQL ranks a severity column the same way model.Severity.Rank does.
const severityRankSQL = `CASE %s WHEN 'info' THEN 1 WHEN 'warning' THEN 2 WHEN 'critical' THEN 3 ELSE 0 END`

const alertColumns = `id, budget_id, kind, severity, subject, bucket, category_id, transaction_id,
	scheduled_transaction_id, title, message, details, created_at, updated_at, acknowledged_at, dismissed_at`

// EmitAlert stores an alert keyed by its deterministic id. Re-emitting an
// existing condition is a no-op unless the severity rises and the alert is
// still neither acknowledged nor dismissed.
func (s *Store) EmitAlert(ctx context.Context, a model.Alert) (EmitOutcome, error) {
	if a.ID == "" {
		a.ID = model.AlertID(a.Kind, a.Subject, a.Bucket)
	}
	details, err := json.Marshal(a.Details)
	if err != nil {
		return Unchanged, fmt.Errorf("encoding alert details: %w", err)
	}
	now := formatTime(s.now())

	res, err := s.db.ExecContext(ctx, `INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)
		ON CONFLICT(id) DO NOTHING`,
		a.ID, a.BudgetID, string(a.Kind), string(a.Severity), a.Subject, a.Bucket,
		nullable(a.CategoryID), nullable(a.TransactionID), nullable(a.ScheduledTransactionID),
		a.Title, a.Message, string(details), now, now,
	)
	if err != nil {
		return Unchanged, fmt.Errorf("inserting alert %s: %w", a.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return Inserted, nil
	}

	res, err = s.db.ExecContext(ctx, `UPDATE alerts
		SET severity = ?, title = ?, message = ?, details = ?, updated_at = ?
		WHERE id = ? AND acknowledged_at IS NULL AND dismissed_at IS NULL AND `+fmt.Sprintf(severityRankSQL, "severity")+` < ?`,
		string(a.Severity), a.Title, a.Message, string(details), now,
		a.ID, a.Severity.Rank(),
	)
	if err != nil {
		return Unchanged, fmt.Errorf("upgrading alert %s: %w", a.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return Upgraded, nil
	}
	return Unchanged, nil
}

// GetAlert returns an alert by id.
func (s *Store) GetAlert(ctx context.Context, id string) (model.Alert, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+alertColumns+" FROM alerts WHERE id = ?", id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Alert{}, ErrNotFound
	}
	return a, err
}

// AcknowledgeAlert marks an alert acknowledged. Acknowledgement is terminal;
// acknowledging twice keeps the first timestamp.
func (s *Store) AcknowledgeAlert(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE alerts SET acknowledged_at = ?, updated_at = ? WHERE id = ? AND acknowledged_at IS NULL",
		formatTime(s.now()), formatTime(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("acknowledging alert %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.GetAlert(ctx, id); err != nil {
		return err
	}
	return nil
}

// DismissAlert hides an alert from default listings. A dismissed alert is
// never upgraded; dismissing twice keeps the first timestamp.
func (s *Store) DismissAlert(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE alerts SET dismissed_at = ?, updated_at = ? WHERE id = ? AND dismissed_at IS NULL",
		formatTime(s.now()), formatTime(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("dismissing alert %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.GetAlert(ctx, id); err != nil {
		return err
	}
	return nil
}

// AlertFilter narrows ListAlerts. Zero values match everything.
type AlertFilter struct {
	BudgetID    string
	Kinds       []model.AlertKind
	MinSeverity model.Severity
	// Acknowledged selects acknowledged (true) or open (false) alerts; nil
	// returns both.
	Acknowledged *bool
	// IncludeDismissed also returns dismissed alerts, which are hidden
	// otherwise.
	IncludeDismissed bool
	Since            time.Time
	Limit            int
}

// ListAlerts returns alerts matching f, newest first.
func (s *Store) ListAlerts(ctx context.Context, f AlertFilter) ([]model.Alert, error) {
	var (
		where []string
		args  []any
	)
	if f.BudgetID != "" {
		where = append(where, "budget_id = ?")
		args = append(args, f.BudgetID)
	}
	if len(f.Kinds) > 0 {
		marks := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			marks[i] = "?"
			args = append(args, string(k))
		}
		where = append(where, "kind IN ("+strings.Join(marks, ", ")+")")
	}
	if rank := f.MinSeverity.Rank(); rank > 0 {
		where = append(where, fmt.Sprintf(severityRankSQL, "severity")+" >= ?")
		args = append(args, rank)
	}
	if f.Acknowledged != nil {
		if *f.Acknowledged {
			where = append(where, "acknowledged_at IS NOT NULL")
		} else {
			where = append(where, "acknowledged_at IS NULL")
		}
	}
	if !f.IncludeDismissed {
		where = append(where, "dismissed_at IS NULL")
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(f.Since))
	}

	query := "SELECT " + alertColumns + " FROM alerts"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAlert(sc scanner) (model.Alert, error) {
	var (
		a                         model.Alert
		kind, severity            string
		categoryID, txnID, schdID sql.NullString
		details                   string
		created, updated          string
		acked, dismissed          sql.NullString
	)
	if err := sc.Scan(&a.ID, &a.BudgetID, &kind, &severity, &a.Subject, &a.Bucket,
		&categoryID, &txnID, &schdID, &a.Title, &a.Message, &details, &created, &updated, &acked, &dismissed); err != nil {
		return a, err
	}
	a.Kind = model.AlertKind(kind)
	a.Severity = model.Severity(severity)
	a.CategoryID = categoryID.String
	a.TransactionID = txnID.String
	a.ScheduledTransactionID = schdID.String
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	if acked.Valid {
		t := parseTime(acked.String)
		a.AcknowledgedAt = &t
	}
	if dismissed.Valid {
		t := parseTime(dismissed.String)
		a.DismissedAt = &t
	}
	if details != "" {
		if err := json.Unmarshal([]byte(details), &a.Details); err != nil {
			return a, fmt.Errorf("decoding alert %s details: %w", a.ID, err)
		}
	}
	return a, nil
}
