// Package memory provides a process-local counter store.
//
// Counters held here are not shared between processes, so limits are
// enforced per replica only. Use it for tests and single-process
// development; horizontally scaled deployments need the redis or postgres
// backend.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/rhuss/quotagate/pkg/counter"
)

type entry struct {
	value     int64
	expiresAt time.Time
}

// Store is a mutex-guarded counter map with lazy expiry.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

var _ counter.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithNow overrides the time source.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) IncrementAndGet(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e := s.live(key, now)
	if e == nil {
		if amount <= 0 {
			return 0, nil
		}
		s.entries[key] = &entry{value: amount, expiresAt: now.Add(ttl)}
		return amount, nil
	}

	e.value += amount
	if e.value < 0 {
		e.value = 0
	}
	return e.value, nil
}

func (s *Store) Get(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.live(key, s.now()); e != nil {
		return e.value, nil
	}
	return 0, nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int64
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, including expired ones not yet
// swept.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close() error {
	return nil
}

// live returns the entry for key if it has not expired. Expired entries are
// deleted. Callers must hold mu.
func (s *Store) live(key string, now time.Time) *entry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !now.Before(e.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return e
}
