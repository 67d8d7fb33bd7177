package retry_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/relaymesh/pipecore/retry"
)

func TestExecuteSyncSucceedsEventually(t *testing.T) {
	attempts := 0
	err := retry.ExecuteSync(func() error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}

		return nil
	}, retry.WithMaxAttempts(5), retry.WithBackoff(retry.NoBackoff()))

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestExecuteSyncReturnsLastErrorAfterExhaustion(t *testing.T) {
	attempts := 0
	err := retry.ExecuteSync(func() error {
		attempts++

		return errors.New("boom")
	}, retry.WithMaxAttempts(3), retry.WithBackoff(retry.NoBackoff()))

	assert.EqualError(t, err, "boom")
	assert.Equal(t, 3, attempts)
}

func TestExecuteAsyncCallsOnSuccessOnce(t *testing.T) {
	done := make(chan struct{})
	retry.ExecuteAsync(func() error {
		return nil
	}, func() {
		close(done)
	}, func(error) {
		t.Fatal("onFailure should not be called")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onSuccess never called")
	}
}

func TestFixedBackoffIsConstant(t *testing.T) {
	strategy := retry.FixedBackoff(50 * time.Millisecond)
	assert.Equal(t, 50*time.Millisecond, strategy(1))
	assert.Equal(t, 50*time.Millisecond, strategy(5))
	assert.Equal(t, time.Duration(0), strategy(0))
}

func TestExponentialBackoffGrowsAndCaps(t *testing.T) {
	strategy := retry.ExponentialBackoff(10*time.Millisecond, 2, 100*time.Millisecond)
	for attempt := 1; attempt <= 10; attempt++ {
		d := strategy(attempt)
		assert.LessOrEqual(t, d, 100*time.Millisecond)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}
