package timer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/relaymesh/pipecore/timer"
)

func TestSchedulerRunsAllJobsAndFiresOnSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	t.Cleanup(cancel)

	var ran1, ran2 bool
	sched := timer.NewScheduler(ctx, "test", nil)
	sched.AddJob(timer.JobFunc(func(context.Context) error {
		ran1 = true

		return nil
	}))
	sched.AddJob(timer.JobFunc(func(context.Context) error {
		ran2 = true

		return nil
	}))

	success := make(chan struct{})
	sched.Start(2*time.Millisecond, func() { close(success) })

	select {
	case <-success:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("onSuccess never fired")
	}

	assert.True(t, ran1)
	assert.True(t, ran2)
}

func TestSchedulerSkipsOnSuccessWhenAJobFails(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	t.Cleanup(cancel)

	sched := timer.NewScheduler(ctx, "test", nil)
	sched.AddJob(timer.JobFunc(func(context.Context) error {
		return errors.New("boom")
	}))

	success := make(chan struct{})
	sched.Start(2*time.Millisecond, func() { close(success) })

	select {
	case <-success:
		t.Fatal("onSuccess should not fire when a job fails")
	case <-time.After(40 * time.Millisecond):
	}
}
