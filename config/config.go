// Package config assembles the engine-level tunables a worker needs at
// startup from environment variables, the way the teacher's env package is
// meant to be used by a real service rather than read one key at a time
// wherever a value is needed.
package config

import (
	"strconv"
	"time"

	"github.com/relaymesh/pipecore/env"
)

// Engine holds the per-process defaults a worker falls back to when a
// pipeline layout does not override them explicitly.
type Engine struct {
	// WorkerCount is the number of single-threaded cooperative workers to
	// start. Each owns its own arena, hub registry, throttle accounts and
	// mux session pools; there is no cross-worker sharing (spec.md §5).
	WorkerCount int

	// DefaultBufferSize is a default EventBuffer/MessageBuffer capacity.
	// The buffer constructors take no size, and no filter reads this field.
	DefaultBufferSize int

	// ThrottleRefillTick is a default throttle refill tick (spec.md §4.11).
	// The throttle filters refill on their own Config.Interval and do not
	// read this field.
	ThrottleRefillTick time.Duration

	// MuxIdleSweep is passed by cmd/pipecore as the listener's IdleTimeout.
	// mux evicts idle sessions with its own per-session MaxIdle timer and
	// does not read it.
	MuxIdleSweep time.Duration

	// AccountSweepInterval is a default sweep interval for the throttle
	// account stores (spec.md §5 "Shared resources"). account.NewStore takes
	// its interval from account.WithSweepInterval; nothing passes this
	// field to it.
	AccountSweepInterval time.Duration
}

// Default returns the engine defaults used when no environment variables are
// set; every field here has a matching EZX_PIPECORE_* variable below.
func Default() Engine {
	return Engine{
		WorkerCount:          1,
		DefaultBufferSize:    16,
		ThrottleRefillTick:   100 * time.Millisecond,
		MuxIdleSweep:         10 * time.Second,
		AccountSweepInterval: 10 * time.Second,
	}
}

// FromEnv loads Engine config from the environment, falling back to Default
// for any variable that is unset. envFiles, if given, are loaded with
// godotenv via env.LoadEnvsFromFile before the variables are read.
func FromEnv(envFiles ...string) (Engine, error) {
	if len(envFiles) > 0 {
		if err := env.LoadEnvsFromFile(envFiles...); err != nil {
			return Engine{}, err
		}
	}

	def := Default()

	return Engine{
		WorkerCount: env.GetEnv[int]("EZX_PIPECORE_WORKER_COUNT",
			env.WithDefault(strconv.Itoa(def.WorkerCount))),
		DefaultBufferSize: env.GetEnv[int]("EZX_PIPECORE_DEFAULT_BUFFER_SIZE",
			env.WithDefault(strconv.Itoa(def.DefaultBufferSize))),
		ThrottleRefillTick: env.GetEnv[time.Duration]("EZX_PIPECORE_THROTTLE_REFILL_TICK",
			env.WithDefault(def.ThrottleRefillTick.String())),
		MuxIdleSweep: env.GetEnv[time.Duration]("EZX_PIPECORE_MUX_IDLE_SWEEP",
			env.WithDefault(def.MuxIdleSweep.String())),
		AccountSweepInterval: env.GetEnv[time.Duration]("EZX_PIPECORE_ACCOUNT_SWEEP_INTERVAL",
			env.WithDefault(def.AccountSweepInterval.String())),
	}, nil
}
