// Package account implements the throttle family's per-key bookkeeping
// store (spec.md §4.11, §5 "Shared resources"): a map from an account key
// (a plain value, a string, or an object identity) to its token bucket
// state, periodically swept of expired entries.
//
// Grounded on the teacher's cache.BasicCache — same map-plus-scheduled-sweep
// shape, here a plain map guarded by a mutex — generalized from a generic TTL cache to the throttle
// engine's specific need: an Account that is looked up, mutated in place
// under its own lock, and reaped only after a period of inactivity rather
// than a fixed expiry.
package account

import (
	"context"
	"sync"
	"time"

	"github.com/relaymesh/pipecore/timer"
)

// Store holds one Account per key K, sweeping entries that have been idle
// longer than idleTTL off of a periodic timer.
type Store[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*Account
	idleTTL time.Duration
	clock   timer.Clock
	tok     *timer.Token
}

// NewStore creates a Store and immediately arms its background sweep against
// ctx; cancelling ctx stops the sweep (the caller owns the Store's lifetime
// via the context, matching how the teacher's BasicCache ties its cleanup
// goroutine to the constructor's ctx).
func NewStore[K comparable](ctx context.Context, clock timer.Clock, opts ...Option) *Store[K] {
	cfg := defaultConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if clock == nil {
		clock = timer.SystemClock{}
	}

	s := &Store[K]{
		entries: make(map[K]*Account),
		idleTTL: cfg.sweepInterval * 3,
		clock:   clock,
	}

	s.tok = timer.Every(ctx, cfg.sweepInterval, clock).Do(func(context.Context) {
		s.sweep()
	})

	return s
}

// Close stops the background sweep.
func (s *Store[K]) Close() {
	s.tok.Cancel()
}

// Get returns the account for key, creating one from newBucket if it does
// not exist yet (the mux/demux "spawn on miss" pattern from spec.md §4.3,
// generalized to any account-keyed resource).
func (s *Store[K]) Get(key K, newBucket func() Bucket) *Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.entries[key]
	if !ok {
		acc = &Account{bucket: newBucket(), touchedAt: s.clock.Now()}
		s.entries[key] = acc
	}

	return acc
}

// Delete removes key's account immediately, without waiting for the idle
// sweep.
func (s *Store[K]) Delete(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
}

// Len reports the number of live accounts, for tests and diagnostics.
func (s *Store[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

func (s *Store[K]) sweep() {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, acc := range s.entries {
		if acc.IdleSince(now) >= s.idleTTL {
			delete(s.entries, key)
		}
	}
}
