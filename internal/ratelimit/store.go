package ratelimit

import (
	"context"
	"time"
)

// Record is the fixed-window state kept per client identifier.
type Record struct {
	Hits      int64
	WindowEnd time.Time
}

// Expired reports whether the window closed before now.
// A record whose window ends exactly at now is still live.
func (r Record) Expired(now time.Time) bool {
	return r.WindowEnd.Before(now)
}

// UpdateFunc computes the next record from the current one.
// current is nil when no record exists for the key. Returning an error aborts
// the transaction and nothing is written.
type UpdateFunc func(current *Record) (*Record, error)

// Store defines the interface for rate limit record storage.
type Store interface {
	// Get returns the stored record for key, or nil if none exists.
	Get(ctx context.Context, key string) (*Record, error)

	// Update runs fn as a transactional read-modify-write on the record for key.
	// Concurrent updates of the same key must never both commit from the same
	// starting state. Implementations may invoke fn more than once when they
	// retry after a conflict, so fn must not have side effects.
	Update(ctx context.Context, key string, fn UpdateFunc) error
}
