package throttle

import (
	"context"
	"time"

	"github.com/relaymesh/pipecore/account"
	"github.com/relaymesh/pipecore/event"
	"github.com/relaymesh/pipecore/filter"
	"github.com/relaymesh/pipecore/gate"
	"github.com/relaymesh/pipecore/quota"
)

// MessageRate is the throttleMessageRate joint filter: spends one
// quota.Messages token per MessageStart, queuing every event (of any
// type) behind a blocked MessageStart until the bucket refills.
type MessageRate struct {
	filter.Base

	Config  Config
	lifeCtx context.Context

	core *core
}

// NewMessageRate returns a throttleMessageRate filter. ctx bounds the
// lifetime of the refill ticker.
func NewMessageRate(ctx context.Context, cfg Config) *MessageRate {
	f := &MessageRate{Config: cfg, lifeCtx: ctx}
	f.core = newCore(ctx, cfg, f.spend, func(ctx *gate.Context, ev event.Event) { f.Output(ctx, ev) })

	return f
}

func (f *MessageRate) Clone() filter.Filter { return NewMessageRate(f.lifeCtx, f.Config) }

func (f *MessageRate) Process(ctx *gate.Context, ev event.Event) { f.core.process(ctx, ev) }

func (f *MessageRate) spend(acct *account.Account, now time.Time, ev event.Event) (event.Event, event.Event, bool) {
	if _, ok := ev.(*event.MessageStart); !ok {
		return ev, nil, true
	}

	if acct.Spend(quota.Messages(1), now) {
		return ev, nil, true
	}

	return nil, nil, false
}

func (f *MessageRate) Reset() { f.core.reset() }

var _ filter.Filter = (*MessageRate)(nil)
