package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDisabledReturnsNoop(t *testing.T) {
	l, err := Build(nil, "k", 0)
	require.NoError(t, err)
	assert.IsType(t, Noop{}, l)

	l, err = Build(nil, "k", -1)
	require.NoError(t, err)
	assert.IsType(t, Noop{}, l)
}

func TestBuildEnabledReturnsTokenBucket(t *testing.T) {
	l, err := Build(nil, "k", 2.5)
	require.NoError(t, err)
	assert.IsType(t, &TokenBucket{}, l)
}

func TestNewTokenBucketRejectsZeroRate(t *testing.T) {
	_, err := NewTokenBucket(nil, "k", 0)
	assert.Error(t, err)
}

func TestNoopAcquire(t *testing.T) {
	assert.NoError(t, Noop{}.Acquire(context.Background()))
}

func TestParseWaitSeconds(t *testing.T) {
	assert.Equal(t, 0.25, parseWaitSeconds("0.25"))
	assert.Equal(t, float64(3), parseWaitSeconds(int64(3)))
	assert.Equal(t, float64(0), parseWaitSeconds(nil))
	assert.Equal(t, float64(0), parseWaitSeconds("nonsense"))
}

func TestSleepCtxHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Minute), context.Canceled)
}
