package limiter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrencyLimiter_AcquireRelease(t *testing.T) {
	cl := NewConcurrencyLimiter(2)
	require.True(t, cl.Acquire(1))
	require.True(t, cl.Acquire(1))
	assert.False(t, cl.Acquire(1))
	assert.Equal(t, 2, cl.CurrentUsage())

	cl.Release(1)
	assert.Equal(t, 1, cl.CurrentUsage())
	assert.True(t, cl.Acquire(1))
}

func TestConcurrencyLimiter_PartialAcquireRollsBack(t *testing.T) {
	cl := NewConcurrencyLimiter(3)
	require.True(t, cl.Acquire(2))
	// only 1 slot remains; requesting 2 more should fail and release the
	// slot it speculatively took.
	assert.False(t, cl.Acquire(2))
	assert.Equal(t, 2, cl.CurrentUsage())
	assert.Equal(t, 1, cl.AvailableCapacity())
}
