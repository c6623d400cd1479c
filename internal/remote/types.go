package remote

// Wire shapes of the budgeting service's JSON API. They never leave this
// package; translate.go maps them onto internal/model.

type errorResponse struct {
	Error struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Detail string `json:"detail"`
	} `json:"error"`
}

type userResponse struct {
	Data struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	} `json:"data"`
}

type budgetsResponse struct {
	Data struct {
		Budgets []budgetSummary `json:"budgets"`
	} `json:"data"`
}

type budgetSummary struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	LastModifiedOn string          `json:"last_modified_on"`
	FirstMonth     string          `json:"first_month"`
	LastMonth      string          `json:"last_month"`
	CurrencyFormat *currencyFormat `json:"currency_format"`
}

type currencyFormat struct {
	ISOCode string `json:"iso_code"`
}

type budgetDetailResponse struct {
	Data struct {
		Budget          budgetDetail `json:"budget"`
		ServerKnowledge int64        `json:"server_knowledge"`
	} `json:"data"`
}

type budgetDetail struct {
	budgetSummary
	Accounts              []wireAccount     `json:"accounts"`
	Payees                []wirePayee       `json:"payees"`
	CategoryGroups        []wireGroup       `json:"category_groups"`
	Categories            []wireCategory    `json:"categories"`
	Months                []wireMonth       `json:"months"`
	Transactions          []wireTransaction `json:"transactions"`
	ScheduledTransactions []wireScheduled   `json:"scheduled_transactions"`
}

type wireAccount struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Type             string `json:"type"`
	OnBudget         bool   `json:"on_budget"`
	Closed           bool   `json:"closed"`
	Balance          int64  `json:"balance"`
	ClearedBalance   int64  `json:"cleared_balance"`
	UnclearedBalance int64  `json:"uncleared_balance"`
	Deleted          bool   `json:"deleted"`
}

type wirePayee struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Deleted bool   `json:"deleted"`
}

type wireGroup struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Hidden  bool   `json:"hidden"`
	Deleted bool   `json:"deleted"`
}

type wireCategory struct {
	ID                string `json:"id"`
	CategoryGroupID   string `json:"category_group_id"`
	CategoryGroupName string `json:"category_group_name"`
	Name              string `json:"name"`
	Hidden            bool   `json:"hidden"`
	Budgeted          int64  `json:"budgeted"`
	Activity          int64  `json:"activity"`
	Balance           int64  `json:"balance"`
	Deleted           bool   `json:"deleted"`
}

type wireMonth struct {
	Month      string         `json:"month"`
	Categories []wireCategory `json:"categories"`
	Deleted    bool           `json:"deleted"`
}

type wireTransaction struct {
	ID                string  `json:"id"`
	Date              string  `json:"date"`
	Amount            int64   `json:"amount"`
	Memo              *string `json:"memo"`
	Cleared           string  `json:"cleared"`
	Approved          bool    `json:"approved"`
	AccountID         string  `json:"account_id"`
	PayeeID           *string `json:"payee_id"`
	PayeeName         *string `json:"payee_name"`
	CategoryID        *string `json:"category_id"`
	TransferAccountID *string `json:"transfer_account_id"`
	Deleted           bool    `json:"deleted"`
}

type wireScheduled struct {
	ID                string  `json:"id"`
	DateFirst         string  `json:"date_first"`
	DateNext          string  `json:"date_next"`
	Frequency         string  `json:"frequency"`
	Amount            int64   `json:"amount"`
	Memo              *string `json:"memo"`
	AccountID         string  `json:"account_id"`
	PayeeID           *string `json:"payee_id"`
	PayeeName         *string `json:"payee_name"`
	CategoryID        *string `json:"category_id"`
	TransferAccountID *string `json:"transfer_account_id"`
	Deleted           bool    `json:"deleted"`
}
