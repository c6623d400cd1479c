package remote

import (
	"time"

	"github.com/theirongolddev/budwatch/internal/model"
)

const (
	wireDate = "2006-01-02"
	// internalGroup holds system categories such as the ready-to-assign inflow.
	internalGroup = "Internal Master Category"
)

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func parseWireDate(s string) time.Time {
	t, err := time.Parse(wireDate, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func accountType(t string) model.AccountType {
	switch t {
	case "checking":
		return model.AccountChecking
	case "savings":
		return model.AccountSavings
	case "cash":
		return model.AccountCash
	case "creditCard", "lineOfCredit":
		return model.AccountCredit
	default:
		return model.AccountOther
	}
}

func clearedStatus(s string) model.ClearedStatus {
	switch s {
	case "cleared":
		return model.Cleared
	case "reconciled":
		return model.Reconciled
	default:
		return model.Uncleared
	}
}

func toBudget(b budgetSummary) model.Budget {
	out := model.Budget{
		ID:         b.ID,
		Name:       b.Name,
		FirstMonth: parseWireDate(b.FirstMonth),
		LastMonth:  parseWireDate(b.LastMonth),
	}
	if b.CurrencyFormat != nil {
		out.CurrencyISO = b.CurrencyFormat.ISOCode
	}
	if t, err := time.Parse(time.RFC3339, b.LastModifiedOn); err == nil {
		out.LastModifiedOn = t
	}
	return out
}

// toBatch maps a budget detail response onto a delta batch. now decides the
// month stamped on categories that changed outside any month entry.
func toBatch(budgetID string, d budgetDetail, knowledge int64, now time.Time) *model.Batch {
	b := &model.Batch{BudgetID: budgetID, Cursor: model.Cursor(knowledge)}

	payees := make(map[string]string, len(d.Payees))
	for _, p := range d.Payees {
		payees[p.ID] = p.Name
	}
	groups := make(map[string]string, len(d.CategoryGroups))
	for _, g := range d.CategoryGroups {
		groups[g.ID] = g.Name
	}

	for _, a := range d.Accounts {
		b.Accounts = append(b.Accounts, model.Account{
			ID:               a.ID,
			BudgetID:         budgetID,
			Name:             a.Name,
			Type:             accountType(a.Type),
			OnBudget:         a.OnBudget,
			Closed:           a.Closed,
			Deleted:          a.Deleted,
			Balance:          a.Balance,
			ClearedBalance:   a.ClearedBalance,
			UnclearedBalance: a.UnclearedBalance,
		})
	}

	toCategory := func(c wireCategory, month time.Time) model.Category {
		group := c.CategoryGroupName
		if group == "" {
			group = groups[c.CategoryGroupID]
		}
		return model.Category{
			ID:        c.ID,
			BudgetID:  budgetID,
			Month:     month,
			GroupID:   c.CategoryGroupID,
			GroupName: group,
			Name:      c.Name,
			Hidden:    c.Hidden,
			Internal:  group == internalGroup,
			Deleted:   c.Deleted,
			Budgeted:  c.Budgeted,
			Activity:  c.Activity,
			Balance:   c.Balance,
		}
	}

	inMonths := make(map[string]bool)
	for _, m := range d.Months {
		month := parseWireDate(m.Month)
		if month.IsZero() {
			continue
		}
		for _, c := range m.Categories {
			b.Categories = append(b.Categories, toCategory(c, month))
			inMonths[c.ID] = true
		}
	}
	current := model.MonthStart(now)
	for _, c := range d.Categories {
		if !inMonths[c.ID] {
			b.Categories = append(b.Categories, toCategory(c, current))
		}
	}

	for _, st := range d.ScheduledTransactions {
		payeeName := str(st.PayeeName)
		if payeeName == "" {
			payeeName = payees[str(st.PayeeID)]
		}
		b.ScheduledTransactions = append(b.ScheduledTransactions, model.ScheduledTransaction{
			ID:         st.ID,
			BudgetID:   budgetID,
			AccountID:  st.AccountID,
			CategoryID: str(st.CategoryID),
			PayeeID:    str(st.PayeeID),
			PayeeName:  payeeName,
			Amount:     st.Amount,
			DateFirst:  parseWireDate(st.DateFirst),
			DateNext:   parseWireDate(st.DateNext),
			Frequency:  model.Frequency(st.Frequency),
			Memo:       str(st.Memo),
			Deleted:    st.Deleted,
		})
	}

	for _, t := range d.Transactions {
		payeeName := str(t.PayeeName)
		if payeeName == "" {
			payeeName = payees[str(t.PayeeID)]
		}
		b.Transactions = append(b.Transactions, model.Transaction{
			ID:                t.ID,
			BudgetID:          budgetID,
			AccountID:         t.AccountID,
			CategoryID:        str(t.CategoryID),
			PayeeID:           str(t.PayeeID),
			PayeeName:         payeeName,
			TransferAccountID: str(t.TransferAccountID),
			Date:              parseWireDate(t.Date),
			Amount:            t.Amount,
			Memo:              str(t.Memo),
			Cleared:           clearedStatus(t.Cleared),
			Approved:          t.Approved,
			Deleted:           t.Deleted,
		})
	}

	return b
}
