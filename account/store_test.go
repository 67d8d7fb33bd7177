package account_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/relaymesh/pipecore/account"
	"github.com/relaymesh/pipecore/quota"
)

func TestStoreGetCreatesOnMiss(t *testing.T) {
	store := account.NewStore[string](t.Context(), nil, account.WithSweepInterval(time.Hour))
	defer store.Close()

	acc := store.Get("tenant-a", func() account.Bucket {
		return account.NewBucket(quota.Bytes(100), quota.Bytes(10))
	})
	assert.Equal(t, int64(100), acc.Available().Value())
	assert.Equal(t, 1, store.Len())

	same := store.Get("tenant-a", func() account.Bucket {
		t.Fatal("newBucket should not be called again on a hit")

		return account.Bucket{}
	})
	assert.Same(t, acc, same)
}

func TestAccountSpendAndRefill(t *testing.T) {
	store := account.NewStore[string](t.Context(), nil, account.WithSweepInterval(time.Hour))
	defer store.Close()

	a := store.Get("k", func() account.Bucket {
		return account.NewBucket(quota.Bytes(10), quota.Bytes(4))
	})

	now := time.Now()
	assert.True(t, a.Spend(quota.Bytes(10), now))
	assert.False(t, a.Spend(quota.Bytes(1), now))

	refilled := a.Refill(now)
	assert.Equal(t, int64(4), refilled.Value())
}

func TestAccountSpendPartialSplitsAtBoundary(t *testing.T) {
	store := account.NewStore[string](t.Context(), nil, account.WithSweepInterval(time.Hour))
	defer store.Close()

	a := store.Get("k", func() account.Bucket {
		return account.NewBucket(quota.Bytes(5), quota.Bytes(0))
	})

	spent := a.SpendPartial(quota.Bytes(20), time.Now())
	assert.Equal(t, int64(5), spent.Value())
	assert.True(t, a.Available().IsZero())
}

func TestAccountReturnGivesBackConcurrencySlot(t *testing.T) {
	store := account.NewStore[string](t.Context(), nil, account.WithSweepInterval(time.Hour))
	defer store.Close()

	a := store.Get("k", func() account.Bucket {
		return account.NewBucket(quota.Slots(2), quota.Slots(0))
	})

	now := time.Now()
	assert.True(t, a.Spend(quota.Slots(1), now))
	a.Return(quota.Slots(1), now)
	assert.Equal(t, int64(2), a.Available().Value())
}

func TestStoreSweepReapsIdleAccounts(t *testing.T) {
	clock := newFakeClock()
	store := account.NewStore[string](t.Context(), clock, account.WithSweepInterval(5*time.Millisecond))
	defer store.Close()

	store.Get("stale", func() account.Bucket {
		return account.NewBucket(quota.Bytes(1), quota.Bytes(0))
	})
	assert.Equal(t, 1, store.Len())

	clock.Advance(time.Hour)

	assert.Eventually(t, func() bool {
		return store.Len() == 0
	}, time.Second, 5*time.Millisecond)
}
