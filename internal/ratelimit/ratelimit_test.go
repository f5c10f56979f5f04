package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleRateLimiterSpacesActions(t *testing.T) {
	limiter := NewSimpleRateLimiter(20*time.Millisecond, 20*time.Millisecond)

	require.NoError(t, limiter.Wait(context.Background()))

	start := time.Now()
	require.NoError(t, limiter.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestSimpleRateLimiterCancellation(t *testing.T) {
	limiter := NewSimpleRateLimiter(time.Minute, time.Minute)
	require.NoError(t, limiter.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimpleRateLimiterSwapsInvertedBounds(t *testing.T) {
	limiter := NewSimpleRateLimiter(10*time.Millisecond, time.Millisecond)
	assert.Equal(t, limiter.minDelay, limiter.maxDelay)
}

func TestNoop(t *testing.T) {
	start := time.Now()
	assert.NoError(t, Noop{}.Wait(context.Background()))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}
