package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenA = common.HexToAddress("0x0000000000000000000000000000000000000001")
	tokenB = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

func TestGetSetRoundTrip(t *testing.T) {
	c := NewDecimalsCache(time.Hour, 10)

	_, ok := c.Get(tokenA)
	assert.False(t, ok)

	c.Set(tokenA, 6)
	decimals, ok := c.Get(tokenA)
	require.True(t, ok)
	assert.Equal(t, uint8(6), decimals)
	assert.Equal(t, 1, c.Len())
}

func TestGetExpiredEntry(t *testing.T) {
	c := NewDecimalsCache(time.Millisecond, 10)

	c.Set(tokenA, 18)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get(tokenA)
	assert.False(t, ok, "expired entries miss")
}

func TestGetOrFetchPopulates(t *testing.T) {
	c := NewDecimalsCache(time.Hour, 10)
	ctx := context.Background()

	calls := 0
	fetch := func(_ context.Context, _ common.Address) (uint8, error) {
		calls++
		return 6, nil
	}

	decimals, err := c.GetOrFetch(ctx, tokenA, fetch)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), decimals)

	// Second lookup serves from cache
	decimals, err = c.GetOrFetch(ctx, tokenA, fetch)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), decimals)
	assert.Equal(t, 1, calls)
}

func TestGetOrFetchDoesNotCacheFailures(t *testing.T) {
	c := NewDecimalsCache(time.Hour, 10)
	ctx := context.Background()

	_, err := c.GetOrFetch(ctx, tokenA, func(context.Context, common.Address) (uint8, error) {
		return 0, assert.AnError
	})
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())

	decimals, err := c.GetOrFetch(ctx, tokenA, func(context.Context, common.Address) (uint8, error) {
		return 18, nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint8(18), decimals)
}

func TestSetEvictsAtCapacity(t *testing.T) {
	c := NewDecimalsCache(time.Hour, 3)

	for i := 1; i <= 3; i++ {
		c.Set(common.HexToAddress(fmt.Sprintf("0x%040x", i)), uint8(i))
	}
	assert.Equal(t, 3, c.Len())

	c.Set(common.HexToAddress(fmt.Sprintf("0x%040x", 4)), 4)
	assert.Equal(t, 3, c.Len(), "capacity holds by evicting an entry")
}

func TestClear(t *testing.T) {
	c := NewDecimalsCache(time.Hour, 10)
	c.Set(tokenA, 6)
	c.Set(tokenB, 18)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}
