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

// DataRate is the throttleDataRate joint filter: spends len(data) tokens
// per Data chunk, splitting a chunk at the bucket boundary (spec.md
// §4.11) rather than queuing it whole when only part of it fits.
type DataRate struct {
	filter.Base

	Config  Config
	lifeCtx context.Context

	core *core
}

// NewDataRate returns a throttleDataRate filter. ctx bounds the lifetime
// of the refill ticker.
func NewDataRate(ctx context.Context, cfg Config) *DataRate {
	f := &DataRate{Config: cfg, lifeCtx: ctx}
	f.core = newCore(ctx, cfg, f.spend, func(ctx *gate.Context, ev event.Event) { f.Output(ctx, ev) })

	return f
}

func (f *DataRate) Clone() filter.Filter { return NewDataRate(f.lifeCtx, f.Config) }

func (f *DataRate) Process(ctx *gate.Context, ev event.Event) { f.core.process(ctx, ev) }

func (f *DataRate) spend(acct *account.Account, now time.Time, ev event.Event) (event.Event, event.Event, bool) {
	d, ok := ev.(*event.Data)
	if !ok {
		return ev, nil, true
	}

	n := d.Size()
	spent := acct.SpendPartial(quota.Bytes(int64(n)), now)

	switch {
	case spent.Value() == 0:
		return nil, nil, false
	case int(spent.Value()) == n:
		return ev, nil, true
	default:
		head := d.Slice(int(spent.Value()))

		return head, d, true
	}
}

func (f *DataRate) Reset() { f.core.reset() }

var _ filter.Filter = (*DataRate)(nil)
