package ratelimit

import (
	"context"
	"errors"
	"time"
)

const (
	// DefaultLimit is the number of accepted requests allowed per window.
	DefaultLimit int64 = 5
	// DefaultWindow is the length of a window.
	DefaultWindow = 10 * time.Minute
)

var (
	// ErrRateLimitExceeded is returned when the identifier already used its window.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrIdentifierUnavailable is returned when no client identifier could be
	// determined, including an empty identifier reaching the limiter.
	ErrIdentifierUnavailable = errors.New("client identifier unavailable")
)

// Limiter defines the interface for rate limiting.
type Limiter interface {
	// CheckAndRecord counts a request for identifier. On success it returns the
	// committed record. When the limit is exceeded it returns ErrRateLimitExceeded
	// together with the record as it was before the rejected attempt.
	CheckAndRecord(ctx context.Context, identifier string) (Record, error)

	// Limit returns the maximum number of accepted requests per window.
	Limit() int64

	// Now returns the limiter's current time, the reference for WindowEnd.
	Now() time.Time
}

// Option configures a FixedWindowLimiter.
type Option func(*FixedWindowLimiter)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *FixedWindowLimiter) {
		l.now = now
	}
}

// FixedWindowLimiter implements rate limiting using a fixed window counter.
// Each identifier's window starts at its first request after the previous
// window expired.
type FixedWindowLimiter struct {
	store  Store
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewFixedWindowLimiter creates a new fixed window rate limiter.
// Non-positive limit or window fall back to the defaults.
func NewFixedWindowLimiter(store Store, limit int64, window time.Duration, opts ...Option) *FixedWindowLimiter {
	if limit <= 0 {
		limit = DefaultLimit
	}

	if window <= 0 {
		window = DefaultWindow
	}

	l := &FixedWindowLimiter{
		store:  store,
		limit:  limit,
		window: window,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

func (l *FixedWindowLimiter) Limit() int64 {
	return l.limit
}

func (l *FixedWindowLimiter) Now() time.Time {
	return l.now()
}

// Window returns the window length.
func (l *FixedWindowLimiter) Window() time.Duration {
	return l.window
}

func (l *FixedWindowLimiter) CheckAndRecord(ctx context.Context, identifier string) (Record, error) {
	if identifier == "" {
		return Record{}, ErrIdentifierUnavailable
	}

	var result Record

	err := l.store.Update(ctx, identifier, func(current *Record) (*Record, error) {
		now := l.now()

		next := Record{Hits: 0, WindowEnd: now.Add(l.window)}
		if current != nil && !current.Expired(now) {
			next = *current
		}

		next.Hits++

		if next.Hits > l.limit {
			// Report the committed state; the increment is discarded.
			result = next
			result.Hits--

			return nil, ErrRateLimitExceeded
		}

		result = next

		return &next, nil
	})
	if err != nil {
		if errors.Is(err, ErrRateLimitExceeded) {
			return result, ErrRateLimitExceeded
		}

		return Record{}, err
	}

	return result, nil
}
