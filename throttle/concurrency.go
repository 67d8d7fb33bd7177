package throttle

import (
	"context"
	"sync"
	"time"

	"github.com/relaymesh/pipecore/account"
	"github.com/relaymesh/pipecore/event"
	"github.com/relaymesh/pipecore/filter"
	"github.com/relaymesh/pipecore/gate"
	"github.com/relaymesh/pipecore/quota"
)

// Concurrency is the throttleConcurrency joint filter: spends one
// quota.Slots token on the first event of its stream and returns it when
// the stream's StreamEnd passes through. Unlike MessageRate/DataRate, a
// slot is freed by Return (another instance's stream ending), not by the
// passage of time — with an account Bucket whose refill is quota.Slots(0),
// the shared core's periodic ticker only re-polls a blocked first event
// rather than manufacturing capacity; Config.Interval governs how promptly a
// blocked stream notices a slot freed up elsewhere.
type Concurrency struct {
	filter.Base

	Config  Config
	lifeCtx context.Context

	core *core

	mu      sync.Mutex
	spentOK bool
}

// NewConcurrency returns a throttleConcurrency filter.
func NewConcurrency(ctx context.Context, cfg Config) *Concurrency {
	f := &Concurrency{Config: cfg, lifeCtx: ctx}
	f.core = newCore(ctx, cfg, f.spend, f.onForward)

	return f
}

func (f *Concurrency) Clone() filter.Filter { return NewConcurrency(f.lifeCtx, f.Config) }

func (f *Concurrency) Process(ctx *gate.Context, ev event.Event) { f.core.process(ctx, ev) }

func (f *Concurrency) spend(acct *account.Account, now time.Time, ev event.Event) (event.Event, event.Event, bool) {
	f.mu.Lock()
	already := f.spentOK
	f.mu.Unlock()

	if already {
		return ev, nil, true
	}

	if !acct.Spend(quota.Slots(1), now) {
		return nil, nil, false
	}

	f.mu.Lock()
	f.spentOK = true
	f.mu.Unlock()

	return ev, nil, true
}

// onForward delivers ev downstream, then — on the stream's StreamEnd —
// returns the spent slot to the account so a blocked stream elsewhere can
// take it on the next poll.
func (f *Concurrency) onForward(ctx *gate.Context, ev event.Event) {
	f.Output(ctx, ev)

	if _, ok := ev.(*event.StreamEnd); !ok {
		return
	}

	f.mu.Lock()
	hadSlot := f.spentOK
	f.spentOK = false
	f.mu.Unlock()

	if !hadSlot {
		return
	}

	f.core.mu.Lock()
	acct := f.core.acct
	now := f.core.cfg.Clock.Now()
	f.core.mu.Unlock()

	if acct != nil {
		acct.Return(quota.Slots(1), now)
	}
}

func (f *Concurrency) Reset() {
	f.core.reset()

	f.mu.Lock()
	f.spentOK = false
	f.mu.Unlock()
}

var _ filter.Filter = (*Concurrency)(nil)
