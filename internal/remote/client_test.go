package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/budwatch/internal/model"
)

const testToken = "test-token-0123456789abcdef"

func newTestClient(t *testing.T, srv *httptest.Server, mutate func(*Options)) *Client {
	t.Helper()
	opts := Options{
		Token:          testToken,
		BaseURL:        srv.URL,
		HTTPClient:     srv.Client(),
		Limiter:        NewLimiter(100, time.Hour),
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := NewClient(opts)
	require.NoError(t, err)
	return c
}

const budgetDetailJSON = `{
  "data": {
    "server_knowledge": 42,
    "budget": {
      "id": "b-1",
      "name": "Household",
      "accounts": [
        {"id": "acc-1", "name": "Checking", "type": "checking", "on_budget": true, "balance": 125000},
        {"id": "acc-2", "name": "Visa", "type": "creditCard", "on_budget": true, "balance": -5000}
      ],
      "payees": [{"id": "p-1", "name": "Corner Grocer"}],
      "category_groups": [
        {"id": "g-1", "name": "Everyday"},
        {"id": "g-int", "name": "Internal Master Category"}
      ],
      "categories": [
        {"id": "cat-1", "category_group_id": "g-1", "name": "Groceries", "budgeted": 400000, "activity": -120000},
        {"id": "cat-rta", "category_group_id": "g-int", "name": "Inflow: Ready to Assign"}
      ],
      "months": [
        {"month": "2024-02-01", "categories": [
          {"id": "cat-1", "category_group_id": "g-1", "name": "Groceries", "budgeted": 350000, "activity": -360000}
        ]}
      ],
      "transactions": [
        {"id": "t-1", "date": "2024-03-04", "amount": -42000, "cleared": "reconciled", "approved": true,
         "account_id": "acc-1", "payee_id": "p-1", "category_id": "cat-1", "memo": null},
        {"id": "t-2", "date": "2024-03-05", "amount": -10000, "cleared": "cleared",
         "account_id": "acc-1", "transfer_account_id": "acc-2", "deleted": true}
      ],
      "scheduled_transactions": [
        {"id": "s-1", "date_first": "2023-01-15", "date_next": "2024-04-15", "frequency": "monthly",
         "amount": -15990, "account_id": "acc-2", "payee_name": "Streamflix"}
      ]
    }
  }
}`

func TestFetchBudgetTranslatesDetail(t *testing.T) {
	t.Parallel()

	var gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/budgets/b-1", r.URL.Path)
		_, _ = fmt.Fprint(w, budgetDetailJSON)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	c.now = func() time.Time { return time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC) }

	batch, err := c.FetchBudget(context.Background(), "b-1", 17)
	require.NoError(t, err)

	assert.Equal(t, "last_knowledge_of_server=17", gotQuery)
	assert.Equal(t, "Bearer "+testToken, gotAuth)
	assert.Equal(t, model.Cursor(42), batch.Cursor)

	require.Len(t, batch.Accounts, 2)
	assert.Equal(t, model.AccountCredit, batch.Accounts[1].Type)

	require.Len(t, batch.Categories, 3)
	feb := batch.Categories[0]
	assert.Equal(t, "cat-1", feb.ID)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), feb.Month)
	assert.Equal(t, int64(350000), feb.Budgeted)
	assert.Equal(t, "Everyday", feb.GroupName)
	// Categories outside any month entry land in the current month.
	rta := batch.Categories[2]
	assert.Equal(t, "cat-rta", rta.ID)
	assert.True(t, rta.Internal)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), rta.Month)

	require.Len(t, batch.Transactions, 2)
	t1 := batch.Transactions[0]
	assert.Equal(t, "Corner Grocer", t1.PayeeName)
	assert.Equal(t, model.Reconciled, t1.Cleared)
	assert.True(t, t1.IsOutflow())
	assert.True(t, batch.Transactions[1].Deleted)
	assert.True(t, batch.Transactions[1].IsTransfer())

	require.Len(t, batch.ScheduledTransactions, 1)
	s1 := batch.ScheduledTransactions[0]
	assert.Equal(t, "Streamflix", s1.PayeeName)
	assert.Equal(t, time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC), s1.DateNext)
}

func TestFetchBudgetBootstrapOmitsCursor(t *testing.T) {
	t.Parallel()

	var gotQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.RawQuery)
		_, _ = fmt.Fprint(w, `{"data":{"server_knowledge":5,"budget":{"id":"b-1"}}}`)
	}))
	defer srv.Close()

	batch, err := newTestClient(t, srv, nil).FetchBudget(context.Background(), "b-1", 0)
	require.NoError(t, err)
	assert.Equal(t, "", gotQuery.Load())
	assert.Equal(t, 0, batch.Len())
}

func TestTransientFailuresAreRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = fmt.Fprint(w, `{"data":{"budgets":[{"id":"b-1","name":"Household","currency_format":{"iso_code":"USD"}}]}}`)
	}))
	defer srv.Close()

	budgets, err := newTestClient(t, srv, nil).Budgets(context.Background())
	require.NoError(t, err)
	require.Len(t, budgets, 1)
	assert.Equal(t, "USD", budgets[0].CurrencyISO)
	assert.Equal(t, int32(3), calls.Load())
}

func TestTransientFailuresExhaustRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, func(o *Options) { o.MaxRetries = 2 }).Budgets(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, int32(3), calls.Load())
}

func TestZeroMaxRetriesDisablesRetrying(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, func(o *Options) { o.MaxRetries = 0 }).Budgets(context.Background())
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStatusClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ErrFatal},
		{"conflict", http.StatusConflict, ErrCursorExpired},
		{"not found", http.StatusNotFound, ErrFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = fmt.Fprint(w, `{"error":{"id":"x","name":"x","detail":"nope"}}`)
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv, nil).FetchBudget(context.Background(), "b-1", 9)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, int32(1), calls.Load(), "non-retryable failures must not be retried")
		})
	}
}

func TestMalformedBodyIsFatal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"data":`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, nil).Budgets(context.Background())
	assert.ErrorIs(t, err, ErrFatal)
}

func TestRateLimitHonoursRetryAfter(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = fmt.Fprint(w, `{"data":{"user":{"id":"u-1"}}}`)
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(t, srv, nil).Ping(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestRateLimitBeyondMaxWaitSurfaces(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "3600")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := newTestClient(t, srv, func(o *Options) { o.MaxRetryWait = time.Second }).Ping(context.Background())
	require.ErrorIs(t, err, ErrRateLimited)
	wait, ok := RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, time.Hour, wait)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRateLimitWithoutHeaderCarriesRetryAfter(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := newTestClient(t, srv, func(o *Options) { o.MaxRetries = 2 }).Ping(context.Background())
	require.ErrorIs(t, err, ErrRateLimited)
	wait, ok := RetryAfter(err)
	require.True(t, ok)
	assert.Positive(t, wait)
	assert.Equal(t, int32(3), calls.Load())
}

func TestLocalQuotaExhaustion(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = fmt.Fprint(w, `{"data":{"user":{"id":"u-1"}}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, func(o *Options) { o.Limiter = NewLimiter(1, time.Hour) })
	require.NoError(t, c.Ping(context.Background()))

	err := c.Ping(context.Background())
	require.ErrorIs(t, err, ErrRateLimited)
	assert.ErrorIs(t, err, ErrQuotaExhausted)
	wait, ok := RetryAfter(err)
	require.True(t, ok)
	assert.Greater(t, wait, time.Duration(0))
	assert.Equal(t, int32(1), calls.Load(), "exhausted quota must not reach the server")
}

func TestCancelledContextStopsRetries(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newTestClient(t, srv, nil).Ping(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || errors.Is(err, ErrTransient))
}

func TestValidateToken(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateToken(testToken))
	assert.ErrorIs(t, ValidateToken("short"), ErrInvalidToken)
	assert.ErrorIs(t, ValidateToken("contains a space somewhere inside"), ErrInvalidToken)

	_, err := NewClient(Options{Token: ""})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 30*time.Second, parseRetryAfter("30", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon", now))
	assert.Equal(t, 90*time.Second, parseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
}
