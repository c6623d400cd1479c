// Package remote provides the authenticated, rate-limited client for the
// budgeting service's delta API.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/cenkalti/backoff/v4"

	"github.com/theirongolddev/budwatch/internal/model"
)

const (
	// DefaultBaseURL is the budgeting service's API root.
	DefaultBaseURL = "https://api.ynab.com/v1"

	defaultTimeout      = 30 * time.Second
	defaultMaxRetryWait = time.Minute
	maxBodySize         = 32 << 20 // full budget bootstraps are large
	minTokenLength      = 20
)

// Options configures a Client.
type Options struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
	// Limiter is shared by every client in the process; a nil Limiter gets
	// a private 200 requests/hour quota.
	Limiter *Limiter
	// Timeout bounds each HTTP attempt.
	Timeout time.Duration
	// MaxRetries bounds retries of transient and rate-limited attempts; 0
	// disables retrying.
	MaxRetries int
	// InitialBackoff and MaxBackoff shape the exponential retry delays.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxRetryWait is the longest server retry-after hint worth waiting
	// for; longer hints surface as rate-limited errors.
	MaxRetryWait time.Duration
	Logger       *slog.Logger
}

// Client performs read-only requests against the budgeting service.
type Client struct {
	token          string
	baseURL        string
	http           *http.Client
	limiter        *Limiter
	timeout        time.Duration
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxRetryWait   time.Duration
	log            *slog.Logger
	now            func() time.Time
}

// ValidateToken rejects tokens that cannot be valid credentials.
func ValidateToken(token string) error {
	if len(token) < minTokenLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrInvalidToken, minTokenLength)
	}
	if strings.IndexFunc(token, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: must not contain whitespace", ErrInvalidToken)
	}
	return nil
}

// NewClient creates a client. The token is validated but not checked
// against the service; use Ping for that.
func NewClient(opts Options) (*Client, error) {
	token := strings.TrimSpace(opts.Token)
	if err := ValidateToken(token); err != nil {
		return nil, err
	}

	c := &Client{
		token:          token,
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		http:           opts.HTTPClient,
		limiter:        opts.Limiter,
		timeout:        opts.Timeout,
		maxRetries:     opts.MaxRetries,
		initialBackoff: opts.InitialBackoff,
		maxBackoff:     opts.MaxBackoff,
		maxRetryWait:   opts.MaxRetryWait,
		log:            opts.Logger,
		now:            time.Now,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.limiter == nil {
		c.limiter = NewLimiter(200, time.Hour)
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.initialBackoff <= 0 {
		c.initialBackoff = 500 * time.Millisecond
	}
	if c.maxBackoff <= 0 {
		c.maxBackoff = 30 * time.Second
	}
	if c.maxRetryWait <= 0 {
		c.maxRetryWait = defaultMaxRetryWait
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c, nil
}

// Limiter returns the quota shared by this client.
func (c *Client) Limiter() *Limiter { return c.limiter }

// Ping verifies the token against the service.
func (c *Client) Ping(ctx context.Context) error {
	var resp userResponse
	return c.get(ctx, "ping", "/user", nil, &resp)
}

// Budgets lists the budgets visible to the token.
func (c *Client) Budgets(ctx context.Context) ([]model.Budget, error) {
	var resp budgetsResponse
	if err := c.get(ctx, "list budgets", "/budgets", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]model.Budget, 0, len(resp.Data.Budgets))
	for _, b := range resp.Data.Budgets {
		out = append(out, toBudget(b))
	}
	return out, nil
}

// FetchBudget returns every record changed since the cursor, together with
// the cursor that covers them. The zero cursor requests a full bootstrap.
// A cursor the server no longer accepts fails with ErrCursorExpired.
func (c *Client) FetchBudget(ctx context.Context, budgetID string, since model.Cursor) (*model.Batch, error) {
	var q url.Values
	if !since.IsZero() {
		q = url.Values{"last_knowledge_of_server": {strconv.FormatInt(int64(since), 10)}}
	}

	var resp budgetDetailResponse
	if err := c.get(ctx, "fetch budget", "/budgets/"+url.PathEscape(budgetID), q, &resp); err != nil {
		return nil, err
	}
	if resp.Data.ServerKnowledge < int64(since) {
		return nil, &Error{Kind: KindFatal, Op: "fetch budget",
			Err: fmt.Errorf("server knowledge %d behind cursor %d", resp.Data.ServerKnowledge, since)}
	}
	return toBatch(budgetID, resp.Data.Budget, resp.Data.ServerKnowledge, c.now()), nil
}

// hintedBackOff stretches the next delay to a server retry-after hint.
type hintedBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (h *hintedBackOff) NextBackOff() time.Duration {
	next := h.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if h.hint > next {
		next = h.hint
	}
	h.hint = 0
	return next
}

// get performs an authenticated GET with quota accounting and bounded
// retries, decoding the JSON body into out.
func (c *Client) get(ctx context.Context, op, path string, query url.Values, out any) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.initialBackoff
	exp.MaxInterval = c.maxBackoff
	exp.MaxElapsedTime = 0

	hinted := &hintedBackOff{BackOff: backoff.WithMaxRetries(exp, uint64(c.maxRetries))}
	policy := backoff.WithContext(hinted, ctx)

	var (
		body    []byte
		attempt int
	)
	err := backoff.Retry(func() error {
		attempt++
		if wait, ok := c.limiter.Take(); !ok {
			return backoff.Permanent(&Error{Kind: KindRateLimited, Op: op, RetryAfter: wait, Err: ErrQuotaExhausted})
		}

		var err error
		body, err = c.do(ctx, op, path, query)
		if err == nil {
			return nil
		}

		var rerr *Error
		if !errors.As(err, &rerr) {
			return backoff.Permanent(err)
		}
		switch rerr.Kind {
		case KindTransient:
			c.log.Debug("remote request failed, retrying", "op", op, "attempt", attempt, "status", rerr.Status, "err", rerr.Err)
			return err
		case KindRateLimited:
			if rerr.RetryAfter > c.maxRetryWait {
				return backoff.Permanent(err)
			}
			hinted.hint = rerr.RetryAfter
			c.log.Debug("remote rate limited, retrying", "op", op, "attempt", attempt, "retry_after", rerr.RetryAfter)
			return err
		default:
			return backoff.Permanent(err)
		}
	}, policy)
	if err != nil {
		// A 429 without a usable Retry-After still tells the caller when to
		// come back: the next interval of the retry schedule.
		var rerr *Error
		if errors.As(err, &rerr) && rerr.Kind == KindRateLimited && rerr.RetryAfter <= 0 {
			rerr.RetryAfter = exp.NextBackOff()
			if rerr.RetryAfter == backoff.Stop || rerr.RetryAfter <= 0 {
				rerr.RetryAfter = c.maxBackoff
			}
		}
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Kind: KindFatal, Op: op, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return nil
}

// do performs a single attempt and classifies its failure.
func (c *Client) do(ctx context.Context, op, path string, query url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &Error{Kind: KindFatal, Op: op, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "github.com/theirongolddev/budwatch/1.0")

	resp, err := c.http.Do(req) //nolint:gosec // URL is built from the configured base URL
	if err != nil {
		return nil, &Error{Kind: KindTransient, Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if readErr != nil {
			return nil, &Error{Kind: KindTransient, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("reading response: %w", readErr)}
		}
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, &Error{Kind: KindFatal, Op: op, Status: resp.StatusCode, Err: ErrUnauthorized}
	case resp.StatusCode == http.StatusConflict, resp.StatusCode == http.StatusGone:
		return nil, &Error{Kind: KindCursorExpired, Op: op, Status: resp.StatusCode, Err: serverDetail(body)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Kind: KindRateLimited, Op: op, Status: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.now()), Err: serverDetail(body)}
	case resp.StatusCode >= 500:
		return nil, &Error{Kind: KindTransient, Op: op, Status: resp.StatusCode, Err: serverDetail(body)}
	default:
		return nil, &Error{Kind: KindFatal, Op: op, Status: resp.StatusCode, Err: serverDetail(body)}
	}
}

// serverDetail extracts the service's error description, if any.
func serverDetail(body []byte) error {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error.Detail != "" {
		return errors.New(er.Error.Detail)
	}
	return nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
