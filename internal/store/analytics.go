package store

import (
	"context"
	"time"

	"github.com/theirongolddev/budwatch/internal/model"
)

// SpendingByCategory totals outflows per category in [from, to]. Transfers,
// inflows and tombstones are excluded; uncategorized spend is grouped under
// an empty category id.
func (s *Store) SpendingByCategory(ctx context.Context, budgetID string, from, to time.Time) ([]model.CategorySpend, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
			COALESCE(t.category_id, ''),
			COALESCE((SELECT c.name FROM categories c WHERE c.id = t.category_id ORDER BY c.month DESC LIMIT 1), ''),
			COALESCE((SELECT c.group_name FROM categories c WHERE c.id = t.category_id ORDER BY c.month DESC LIMIT 1), ''),
			-SUM(t.amount),
			COUNT(*)
		FROM transactions t
		WHERE t.budget_id = ? AND t.deleted = 0 AND t.amount < 0
			AND t.transfer_account_id IS NULL
			AND t.date >= ? AND t.date <= ?
		GROUP BY COALESCE(t.category_id, '')
		ORDER BY 4 DESC`, budgetID, formatDate(from), formatDate(to))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.CategorySpend
	for rows.Next() {
		var cs model.CategorySpend
		if err := rows.Scan(&cs.CategoryID, &cs.CategoryName, &cs.GroupName, &cs.Spent, &cs.Transactions); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// MonthlySpending totals outflows for each of the last n months ending with
// the month of asOf, oldest first. Months without spending are included
// with zero totals.
func (s *Store) MonthlySpending(ctx context.Context, budgetID string, months int, asOf time.Time) ([]model.MonthSpend, error) {
	if months < 1 {
		months = 1
	}
	end := model.MonthStart(asOf)
	start := end.AddDate(0, -(months - 1), 0)

	rows, err := s.db.QueryContext(ctx, `SELECT
			substr(date, 1, 7) || '-01' AS month,
			-SUM(amount),
			COUNT(*)
		FROM transactions
		WHERE budget_id = ? AND deleted = 0 AND amount < 0
			AND transfer_account_id IS NULL
			AND date >= ? AND date < ?
		GROUP BY month`, budgetID, formatDate(start), formatDate(end.AddDate(0, 1, 0)))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	byMonth := make(map[string]model.MonthSpend)
	for rows.Next() {
		var (
			month string
			ms    model.MonthSpend
		)
		if err := rows.Scan(&month, &ms.Spent, &ms.Transactions); err != nil {
			return nil, err
		}
		byMonth[month] = ms
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]model.MonthSpend, 0, months)
	for m := start; !m.After(end); m = m.AddDate(0, 1, 0) {
		ms := byMonth[formatDate(m)]
		ms.Month = m
		out = append(out, ms)
	}
	return out, nil
}
