package remote

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a remote failure by how the caller should react.
type Kind int

const (
	// KindTransient failures (timeouts, 5xx, connection errors) are retried
	// with backoff and surfaced once retries run out.
	KindTransient Kind = iota + 1
	// KindRateLimited failures carry a retry-after hint.
	KindRateLimited
	// KindFatal failures (auth, malformed responses) are never retried.
	KindFatal
	// KindCursorExpired means the server no longer knows the delta cursor.
	KindCursorExpired
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindFatal:
		return "fatal"
	case KindCursorExpired:
		return "cursor_expired"
	}
	return "unknown"
}

var (
	// ErrTransient matches any transient *Error.
	ErrTransient = errors.New("remote: transient failure")
	// ErrRateLimited matches any rate-limited *Error.
	ErrRateLimited = errors.New("remote: rate limited")
	// ErrFatal matches any fatal *Error.
	ErrFatal = errors.New("remote: fatal error")
	// ErrCursorExpired matches a delta request whose cursor was rejected.
	ErrCursorExpired = errors.New("remote: cursor expired")

	// ErrUnauthorized indicates the access token is expired or invalid.
	ErrUnauthorized = errors.New("remote: unauthorized (token expired or invalid)")
	// ErrQuotaExhausted indicates the local request quota has no room left.
	ErrQuotaExhausted = errors.New("remote: request quota exhausted")
	// ErrInvalidToken indicates a token that cannot be a valid credential.
	ErrInvalidToken = errors.New("remote: invalid access token")
)

// Error is a classified remote failure.
type Error struct {
	Kind       Kind
	Op         string
	Status     int           // HTTP status, 0 when no response arrived
	RetryAfter time.Duration // set for KindRateLimited
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("remote: %s: %s", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(", retry after %s", e.RetryAfter.Round(time.Second))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match an *Error against its kind sentinel.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrFatal:
		return e.Kind == KindFatal
	case ErrCursorExpired:
		return e.Kind == KindCursorExpired
	}
	return false
}

// KindOf returns the classification of err, or 0 when err is not a remote error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// RetryAfter extracts the retry-after hint from a rate-limited error.
func RetryAfter(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindRateLimited {
		return e.RetryAfter, true
	}
	return 0, false
}
