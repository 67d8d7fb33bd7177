// Package throttle implements the throttle filter family (spec section
// 4.11): throttleMessageRate, throttleDataRate, and throttleConcurrency,
// three token-bucket gates sharing one queue/tap/refill core and differing
// only in what they spend a token on.
//
// Grounded on account.Store/account.Account for the bucket itself (teacher's
// cache.BasicCache shape, generalized from a TTL cache to a throttle
// bookkeeping unit — see account/store.go) and on mux's backlog+gate.Tap
// backpressure idiom for "queue while empty, reopen on refill, drain FIFO".
package throttle

import (
	"context"
	"sync"
	"time"

	"github.com/relaymesh/pipecore/account"
	"github.com/relaymesh/pipecore/event"
	"github.com/relaymesh/pipecore/gate"
	"github.com/relaymesh/pipecore/quota"
	"github.com/relaymesh/pipecore/timer"
)

// AccountFunc resolves the *account.Account a filter instance spends
// against, called once per stream on its first event. Closing over an
// account.Store[string] keyed by a constant gives "global"; keyed by a
// value read off ev gives "per-key"; closing over an
// account.StoreByObject[T] gives "per-weak-object" (spec.md §4.11: "global,
// per-key, or per-weak-object"). The throttle filters only ever see the
// resulting *account.Account, so that distinction never needs to appear in
// this package.
type AccountFunc func(ev event.Event) *account.Account

// Config is the bucket shape shared by all three throttle filters. The
// filters do not read Capacity or Refill: every Interval the refill tick
// calls acct.Refill, which adds the refill amount of the account's own
// Bucket, capped at that Bucket's capacity.
type Config struct {
	Capacity quota.Amount
	Refill   quota.Amount
	Interval time.Duration
	Clock    timer.Clock
	Account  AccountFunc
}

// spendFn attempts to take ev's cost from acct. ok reports whether any
// part of ev could be forwarded now; emit is what to forward (nil if
// nothing could); rest is a non-nil remainder to re-queue ahead of
// everything else still waiting (throttleDataRate's chunk split).
type spendFn func(acct *account.Account, now time.Time, ev event.Event) (emit event.Event, rest event.Event, ok bool)

// core is the queue/tap/refill machinery every throttle filter embeds.
// Not exported: each concrete filter wraps one and supplies spend.
type core struct {
	cfg     Config
	lifeCtx context.Context
	spend   spendFn
	forward func(ctx *gate.Context, ev event.Event)

	mu       sync.Mutex
	acct     *account.Account
	tap      *gate.Tap
	queue    []event.Event
	ctx      *gate.Context
	refillTk *timer.Token
}

func newCore(ctx context.Context, cfg Config, spend spendFn, forward func(ctx *gate.Context, ev event.Event)) *core {
	if cfg.Clock == nil {
		cfg.Clock = timer.SystemClock{}
	}

	return &core{cfg: cfg, lifeCtx: ctx, spend: spend, forward: forward, tap: gate.NewTap()}
}

// process is the common Process body: resolve the account and ticker on
// first use, remember ctx for any later refill-triggered drain, and either
// forward ev immediately (queue empty, bucket has room) or queue it behind
// whatever is already waiting.
func (c *core) process(ctx *gate.Context, ev event.Event) {
	c.mu.Lock()
	c.ctx = ctx
	if c.acct == nil {
		c.acct = c.cfg.Account(ev)
		c.armRefillLocked()
	}
	blocked := len(c.queue) > 0
	c.mu.Unlock()

	if blocked {
		c.mu.Lock()
		c.queue = append(c.queue, ev)
		c.mu.Unlock()

		return
	}

	emit, rest, ok := c.spend(c.acct, c.cfg.Clock.Now(), ev)
	if ok && rest == nil {
		if emit != nil {
			c.forward(ctx, emit)
		}

		return
	}

	// Either nothing could be spent (ok==false, emit==nil, ev itself is
	// the remainder) or a partial chunk was split (rest holds the part
	// that didn't fit): either way the bucket is now empty and whatever
	// is left over must wait. Order matters, so it goes to the queue
	// front, not the input event straight through.
	if emit != nil {
		c.forward(ctx, emit)
	}

	queued := ev
	if rest != nil {
		queued = rest
	}

	c.mu.Lock()
	c.queue = append(c.queue, queued)
	c.tap.Close()
	c.mu.Unlock()
}

func (c *core) armRefillLocked() {
	if c.cfg.Interval <= 0 {
		return
	}

	c.refillTk = timer.Every(c.lifeCtx, c.cfg.Interval, c.cfg.Clock).Do(func(context.Context) {
		c.acct.Refill(c.cfg.Clock.Now())
		c.drain()
	})
}

// drain replays the queue against the now-refilled bucket, stopping (and
// leaving the tap closed) the moment the bucket can't make further
// progress, or reopening the tap once the queue empties.
func (c *core) drain() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.tap.Open()
			c.mu.Unlock()

			return
		}

		head := c.queue[0]
		ctx := c.ctx
		c.mu.Unlock()

		emit, rest, ok := c.spend(c.acct, c.cfg.Clock.Now(), head)
		if !ok {
			return
		}

		c.mu.Lock()
		c.queue = c.queue[1:]
		if rest != nil {
			c.queue = append([]event.Event{rest}, c.queue...)
		}
		c.mu.Unlock()

		if emit != nil {
			c.forward(ctx, emit)
		}

		if rest != nil {
			return
		}
	}
}

func (c *core) reset() {
	c.mu.Lock()
	if c.refillTk != nil {
		c.refillTk.Cancel()
	}
	c.acct = nil
	c.queue = nil
	c.refillTk = nil
	c.ctx = nil
	c.mu.Unlock()
}
