package account

import (
	"sync"
	"time"

	"github.com/relaymesh/pipecore/quota"
)

// Bucket is the token-bucket state shared by throttleMessageRate,
// throttleDataRate, and throttleConcurrency (spec.md §4.11): a capacity, a
// refill-per-tick rate, and the tokens currently available.
type Bucket struct {
	Capacity quota.Amount
	Refill   quota.Amount // added every tick
	avail    quota.Amount
}

// NewBucket returns a full Bucket of the given capacity and per-tick refill.
func NewBucket(capacity, refillPerTick quota.Amount) Bucket {
	return Bucket{Capacity: capacity, Refill: refillPerTick, avail: capacity}
}

// Account is one key's bookkeeping unit (Glossary: "throttle bookkeeping
// unit keyed by value, string, or weak object ref"). It wraps a Bucket with
// the mutex and idle-tracking a Store needs to reap it safely.
type Account struct {
	mu        sync.Mutex
	bucket    Bucket
	touchedAt time.Time
}

// Spend attempts to deduct n tokens, all-or-nothing. Touches the account's
// activity clock regardless of outcome, matching the cache sweep's
// "recently touched accounts survive" intent.
func (a *Account) Spend(n quota.Amount, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.touchedAt = now

	return a.bucket.avail.Spend(n)
}

// SpendPartial deducts up to n tokens, splitting at the bucket boundary
// (spec.md §4.11: "throttleDataRate consumes len(data) tokens per Data
// chunk, splitting chunks at bucket boundaries").
func (a *Account) SpendPartial(n quota.Amount, now time.Time) quota.Amount {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.touchedAt = now

	return a.bucket.avail.SpendPartial(n)
}

// Return gives back n tokens without exceeding capacity — used by
// throttleConcurrency when a stream ends and its slot is released.
func (a *Account) Return(n quota.Amount, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.touchedAt = now
	a.bucket.avail.Refill(n, a.bucket.Capacity)
}

// Refill adds the bucket's configured per-tick refill amount, returning the
// tokens available after the refill. Called by the owning filter's timer on
// every tick (spec.md §4.11: "a timer refills at quota/interval").
func (a *Account) Refill(now time.Time) quota.Amount {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.bucket.avail.Refill(a.bucket.Refill, a.bucket.Capacity)

	return a.bucket.avail
}

// Available returns the current token count without mutating anything.
func (a *Account) Available() quota.Amount {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.bucket.avail
}

// IdleSince reports how long it has been since the account was last
// touched, as of now.
func (a *Account) IdleSince(now time.Time) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()

	return now.Sub(a.touchedAt)
}
