package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterCountsWithinWindow(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := rl.Allow(ctx, "orders", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should fit the budget", i+1)
	}

	allowed, err := rl.Allow(ctx, "orders", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed, "fourth request must be rejected")
}

func TestRateLimiterRejectionsNotCounted(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()

	allowed, err := rl.Allow(ctx, "orders", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, allowed)

	// Hammering a full window must not extend the lockout.
	for i := 0; i < 5; i++ {
		allowed, err := rl.Allow(ctx, "orders", 1, time.Minute)
		require.NoError(t, err)
		assert.False(t, allowed)
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()

	allowed, err := rl.Allow(ctx, "orders", 1, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = rl.Allow(ctx, "orders", 1, 50*time.Millisecond)
	require.NoError(t, err)
	require.False(t, allowed)

	time.Sleep(60 * time.Millisecond)

	allowed, err = rl.Allow(ctx, "orders", 1, 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, allowed, "window should have slid past the first request")
}

func TestRateLimiterKeysIsolated(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()

	allowed, err := rl.Allow(ctx, "orders", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = rl.Allow(ctx, "orders", 1, time.Minute)
	require.NoError(t, err)
	require.False(t, allowed)

	allowed, err = rl.Allow(ctx, "prices", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed, "a full orders window must not throttle prices")
}
