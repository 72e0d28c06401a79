package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIPRateLimiter_BlocksOverLimit(t *testing.T) {
	ctx := context.Background()
	limiter := NewIPRateLimiter(3)

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, allowed)

	// Other IPs have their own window
	allowed, err = limiter.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestIPRateLimiter_Reset(t *testing.T) {
	ctx := context.Background()
	limiter := NewIPRateLimiter(1)

	allowed, _ := limiter.Allow(ctx, "10.0.0.1")
	require.True(t, allowed)
	allowed, _ = limiter.Allow(ctx, "10.0.0.1")
	require.False(t, allowed)

	limiter.Reset("10.0.0.1")

	allowed, _ = limiter.Allow(ctx, "10.0.0.1")
	assert.True(t, allowed)
}

func TestIPRateLimiter_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewIPRateLimiter(1).Allow(ctx, "10.0.0.1")
	assert.Error(t, err)
}
