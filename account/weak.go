package account

import (
	"context"
	"weak"

	"github.com/relaymesh/pipecore/timer"
)

// StoreByObject keys accounts by object identity instead of a comparable
// value, matching spec.md §5's "Throttle accounts keyed by WeakRef<Object>".
// It is a thin wrapper over Store[weak.Pointer[T]]: accounts are reaped only
// by the normal idle sweep. Garbage collection of the underlying object does
// not remove its account by itself; the account stays until it has been
// idle for the sweep's TTL.
type StoreByObject[T any] struct {
	inner *Store[weak.Pointer[T]]
}

// NewStoreByObject creates a StoreByObject with the same sweep semantics as
// NewStore.
func NewStoreByObject[T any](ctx context.Context, clock timer.Clock, opts ...Option) *StoreByObject[T] {
	return &StoreByObject[T]{inner: NewStore[weak.Pointer[T]](ctx, clock, opts...)}
}

// Get returns the account keyed by the identity of obj.
func (s *StoreByObject[T]) Get(obj *T, newBucket func() Bucket) *Account {
	return s.inner.Get(weak.Make(obj), newBucket)
}

// Close stops the background sweep.
func (s *StoreByObject[T]) Close() {
	s.inner.Close()
}

// Len reports the number of live accounts, including ones whose object has
// since been collected but whose account has not yet idled out.
func (s *StoreByObject[T]) Len() int {
	return s.inner.Len()
}
