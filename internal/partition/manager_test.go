package partition

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCreator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingCreator) EnsureWeatherPartition(context.Context, int, time.Month) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.calls++
	return nil
}

func (c *countingCreator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestDateKey_Roundtrip(t *testing.T) {
	key := DateKey(time.Date(2025, 3, 7, 15, 30, 0, 0, time.UTC))
	assert.Equal(t, 20250307, key)

	year, month, err := MonthOf(key)
	require.NoError(t, err)
	assert.Equal(t, 2025, year)
	assert.Equal(t, time.March, month)
}

func TestMonthOf_Invalid(t *testing.T) {
	for _, key := range []int{0, 20251301, 20250032, 101, -20250101} {
		_, _, err := MonthOf(key)
		assert.Error(t, err, "key %d", key)
	}
}

func TestEnsureForDateKey_CachesPerMonth(t *testing.T) {
	creator := &countingCreator{}
	mgr := NewManager(creator, 1, nil)
	ctx := context.Background()

	require.NoError(t, mgr.EnsureForDateKey(ctx, 20250301))
	require.NoError(t, mgr.EnsureForDateKey(ctx, 20250315))
	require.NoError(t, mgr.EnsureForDateKey(ctx, 20250331))
	assert.Equal(t, 1, creator.count(), "one DDL per month")

	require.NoError(t, mgr.EnsureForDateKey(ctx, 20250401))
	assert.Equal(t, 2, creator.count())
}

func TestEnsureForDateKey_ErrorNotCached(t *testing.T) {
	creator := &countingCreator{err: errors.New("connection refused")}
	mgr := NewManager(creator, 1, nil)
	ctx := context.Background()

	assert.Error(t, mgr.EnsureForDateKey(ctx, 20250301))

	// After the outage clears the same month must be retried, not served
	// from the cache.
	creator.err = nil
	require.NoError(t, mgr.EnsureForDateKey(ctx, 20250301))
	assert.Equal(t, 1, creator.count())
}

func TestEnsureHorizon_CoversCurrentAndFutureYears(t *testing.T) {
	creator := &countingCreator{}
	mgr := NewManager(creator, 1, nil)

	now := time.Date(2025, 8, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, mgr.EnsureHorizon(context.Background(), now))

	// Full 2025 plus full 2026.
	assert.Equal(t, 24, creator.count())

	// Loads inside the horizon are already covered.
	require.NoError(t, mgr.EnsureForDateKey(context.Background(), 20261115))
	assert.Equal(t, 24, creator.count())
}

func TestEnsureForDateKey_Concurrent(t *testing.T) {
	creator := &countingCreator{}
	mgr := NewManager(creator, 1, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = mgr.EnsureForDateKey(context.Background(), 20250601)
		}()
	}
	wg.Wait()

	// The database-side advisory lock makes duplicate DDL harmless, so the
	// cache only needs to converge, not to dedupe perfectly.
	assert.GreaterOrEqual(t, creator.count(), 1)
}
