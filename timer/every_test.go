package timer_test

import (
	"bytes"
	"context"
	"log"
	"testing"
	"time"

	"github.com/relaymesh/pipecore/timer"
)

func TestEveryRunsRepeatedly(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	t.Cleanup(cancel)

	done := make(chan struct{})
	count := 0
	timer.Every(ctx, 2*time.Millisecond, nil).Do(func(_ context.Context) {
		count++
		if count == 3 {
			close(done)
		}
	})

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for Every to run")
	}

	if count != 3 {
		t.Fatalf("expected 3 executions by close time, got %d", count)
	}
}

func TestEveryTokenCancelStopsFurtherRuns(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	t.Cleanup(cancel)

	var count int
	tok := timer.Every(ctx, 2*time.Millisecond, nil).Do(func(_ context.Context) {
		count++
	})

	time.Sleep(10 * time.Millisecond)
	tok.Cancel()
	seenAtCancel := count

	time.Sleep(20 * time.Millisecond)
	if count > seenAtCancel+1 {
		t.Fatalf("expected no further runs after cancel, went from %d to %d", seenAtCancel, count)
	}
}

func TestEveryRecoversFromPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	t.Cleanup(cancel)

	origOutput := log.Writer()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(origOutput) })

	done := make(chan struct{})
	count := 0
	timer.Every(ctx, 2*time.Millisecond, nil).Do(func(_ context.Context) {
		count++
		if count == 1 {
			panic("boom")
		}
		if count >= 2 {
			close(done)
		}
	})

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timed out waiting for Every to continue after panic")
	}

	if count < 2 {
		t.Fatalf("expected at least 2 executions despite panic, got %d", count)
	}
	if !bytes.Contains(buf.Bytes(), []byte("panic in job")) {
		t.Fatal("expected panic to be logged")
	}
}
