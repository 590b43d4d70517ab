package store

import (
	"context"
	"sync"

	"github.com/serroba/proto-clique/internal/ratelimit"
)

// RateLimitMemoryStore is an in-memory implementation of ratelimit.Store.
// Updates of one key are serialized by a per-key lock; different keys only
// share the short critical section guarding the maps.
type RateLimitMemoryStore struct {
	mu      sync.Mutex
	records map[string]ratelimit.Record
	locks   map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewRateLimitMemoryStore creates a new in-memory rate limit store.
func NewRateLimitMemoryStore() *RateLimitMemoryStore {
	return &RateLimitMemoryStore{
		records: make(map[string]ratelimit.Record),
		locks:   make(map[string]*keyLock),
	}
}

func (s *RateLimitMemoryStore) Get(_ context.Context, key string) (*ratelimit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}

	return &rec, nil
}

func (s *RateLimitMemoryStore) Update(ctx context.Context, key string, fn ratelimit.UpdateFunc) error {
	unlock := s.lock(key)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	current, err := s.Get(ctx, key)
	if err != nil {
		return err
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	// An aborted request must not leave a partial increment behind.
	if err := ctx.Err(); err != nil {
		return err
	}

	if next == nil {
		return nil
	}

	s.mu.Lock()
	s.records[key] = *next
	s.mu.Unlock()

	return nil
}

// Len returns the number of stored records.
func (s *RateLimitMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.records)
}

func (s *RateLimitMemoryStore) lock(key string) func() {
	s.mu.Lock()

	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}

	l.refs++
	s.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		defer s.mu.Unlock()

		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
	}
}

// Compile-time check.
var _ ratelimit.Store = (*RateLimitMemoryStore)(nil)
