package timer

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
)

// Job is one unit of periodic work a Scheduler runs on every tick.
// worker.Worker creates a Scheduler but neither adds jobs to it nor starts
// it; throttle refill, mux idle eviction and account reaping each arm
// their own timer.
type Job interface {
	Run(ctx context.Context) error
}

// JobFunc adapts a plain function to Job.
type JobFunc func(ctx context.Context) error

func (f JobFunc) Run(ctx context.Context) error { return f(ctx) }

// Scheduler runs a fixed set of Jobs concurrently on every tick of an
// interval, grounded on the teacher's scheduler.Scheduler (errgroup-based
// fan-out, onSuccess callback fired only if every job in the tick
// succeeded).
type Scheduler struct {
	ctx   context.Context
	clock Clock
	jobs  []Job
	name  string
}

// NewScheduler creates a Scheduler named name, for diagnostics.
func NewScheduler(ctx context.Context, name string, clock Clock) *Scheduler {
	if clock == nil {
		clock = SystemClock{}
	}

	return &Scheduler{ctx: ctx, clock: clock, name: name, jobs: make([]Job, 0)}
}

// AddJob registers a job to run on every tick.
func (s *Scheduler) AddJob(job Job) {
	s.jobs = append(s.jobs, job)
}

// Start arms a repeating timer at interval; onSuccess, if non-nil, fires
// after a tick in which every job returned nil.
func (s *Scheduler) Start(interval time.Duration, onSuccess func()) *Token {
	return Every(s.ctx, interval, s.clock).Do(func(ctx context.Context) {
		s.runJobs(ctx, onSuccess)
	})
}

func (s *Scheduler) runJobs(ctx context.Context, onSuccess func()) {
	group, ctx := errgroup.WithContext(ctx)

	for _, j := range s.jobs {
		job := j
		group.Go(func() error {
			if err := job.Run(ctx); err != nil {
				log.Printf("timer: job failed in scheduler %q: %v", s.name, err)

				return err
			}

			return nil
		})
	}

	if err := group.Wait(); err == nil && onSuccess != nil {
		onSuccess()
	}
}
