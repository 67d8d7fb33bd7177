package account

import "time"

var defaultConfig = options{
	sweepInterval: 10 * time.Second,
}

type options struct {
	sweepInterval time.Duration
}

// Option configures a Store.
type Option func(*options)

// WithSweepInterval sets how often expired entries are reaped.
func WithSweepInterval(interval time.Duration) Option {
	return func(cfg *options) {
		cfg.sweepInterval = interval
	}
}
