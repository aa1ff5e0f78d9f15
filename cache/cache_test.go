package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/deposit-engine/cache"
)

func TestMemory_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()

	_, ok, err := c.Get(ctx, "product:rd-12")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "product:rd-12", `{"id":"rd-12"}`, 0))
	v, ok, err := c.Get(ctx, "product:rd-12")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"id":"rd-12"}`, v)

	require.NoError(t, c.Delete(ctx, "product:rd-12"))
	_, ok, _ = c.Get(ctx, "product:rd-12")
	assert.False(t, ok)
}

func TestMemory_Expiry(t *testing.T) {
	// GIVEN: An entry cached for one minute
	// WHEN: The clock passes the TTL
	// THEN: The entry is a miss

	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := cache.NewMemory().WithClock(func() time.Time { return now })

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	_, ok, _ := c.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)
}
