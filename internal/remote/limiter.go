package remote

import (
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces the service's request quota across every client and
// budget in the process. It is safe for concurrent use.
type Limiter struct {
	lim    *rate.Limiter
	quota  int
	window time.Duration
	now    func() time.Time
}

// NewLimiter allows requests per window, refilling evenly across the window.
func NewLimiter(requests int, window time.Duration) *Limiter {
	if requests < 1 {
		requests = 1
	}
	if window <= 0 {
		window = time.Hour
	}
	return &Limiter{
		lim:    rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests),
		quota:  requests,
		window: window,
		now:    time.Now,
	}
}

// Take consumes one request. When the quota is exhausted nothing is
// consumed and Take reports how long until a request becomes available.
func (l *Limiter) Take() (time.Duration, bool) {
	now := l.now()
	r := l.lim.ReserveN(now, 1)
	if !r.OK() {
		return l.window, false
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return d, false
	}
	return 0, true
}

// Remaining returns the whole requests available right now.
func (l *Limiter) Remaining() int {
	n := int(l.lim.TokensAt(l.now()))
	if n < 0 {
		return 0
	}
	return n
}

// Quota returns the configured requests per window.
func (l *Limiter) Quota() int { return l.quota }

// Window returns the quota window.
func (l *Limiter) Window() time.Duration { return l.window }
