package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenBucket_Validation(t *testing.T) {
	_, err := NewTokenBucket(0, 5)
	require.Error(t, err)

	_, err = NewTokenBucket(10, 0)
	require.Error(t, err)
}

func TestTokenBucket_AcquireWithinBurst(t *testing.T) {
	b, err := NewTokenBucket(10, 1)
	require.NoError(t, err)

	assert.True(t, b.Acquire(1))
	assert.False(t, b.Acquire(1), "burst=1 exhausted after first acquire")
}

func TestTokenBucket_RefillOverTime(t *testing.T) {
	b, err := NewTokenBucket(10, 1)
	require.NoError(t, err)

	fake := time.Now()
	b.now = func() time.Time { return fake }
	b.lastRefill = fake

	require.True(t, b.Acquire(1))
	require.False(t, b.Acquire(1))

	fake = fake.Add(200 * time.Millisecond)
	assert.True(t, b.Acquire(1), "should have refilled to the burst of 1 token after 200ms at rate 10/s")
}

func TestTokenBucket_AvailableTokens(t *testing.T) {
	b, err := NewTokenBucket(10, 5)
	require.NoError(t, err)
	assert.Equal(t, float64(5), b.AvailableTokens())
}

func TestTokenBucket_Reset(t *testing.T) {
	b, err := NewTokenBucket(10, 5)
	require.NoError(t, err)
	b.Acquire(5)
	assert.Less(t, b.AvailableTokens(), float64(1))
	b.Reset()
	assert.Equal(t, float64(5), b.AvailableTokens())
}

func TestTokenBucket_WaitAndAcquire_Deadline(t *testing.T) {
	b, err := NewTokenBucket(1, 1)
	require.NoError(t, err)
	require.True(t, b.Acquire(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, b.WaitAndAcquire(ctx, 1), "rate=1/s cannot refill within 20ms")
}

func TestTokenBucket_WaitAndAcquire_Succeeds(t *testing.T) {
	b, err := NewTokenBucket(1000, 1)
	require.NoError(t, err)
	require.True(t, b.Acquire(1))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.True(t, b.WaitAndAcquire(ctx, 1))
}
