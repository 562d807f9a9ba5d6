package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Memory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	require.NoError(t, c.AcquireMemory(50))
	assert.Equal(t, int64(50), c.MemoryUsage())

	require.NoError(t, c.AcquireMemory(40))
	assert.Equal(t, int64(90), c.MemoryUsage())

	// Acquire 20 (should fail - limit exceeded)
	err := c.AcquireMemory(20)
	assert.ErrorIs(t, err, ErrMemoryLimitExceeded)
	assert.Equal(t, int64(90), c.MemoryUsage())

	c.ReleaseMemory(50)
	assert.Equal(t, int64(40), c.MemoryUsage())

	require.NoError(t, c.AcquireMemory(20))
	assert.Equal(t, int64(60), c.MemoryUsage())
	assert.Equal(t, int64(100), c.MemoryLimit())
}

func TestController_UnlimitedMemory(t *testing.T) {
	c := NewController(Config{})

	require.NoError(t, c.AcquireMemory(1000))
	assert.Equal(t, int64(1000), c.MemoryUsage())

	c.ReleaseMemory(500)
	assert.Equal(t, int64(500), c.MemoryUsage())

	// Non-positive sizes are ignored.
	require.NoError(t, c.AcquireMemory(-3))
	c.ReleaseMemory(0)
	assert.Equal(t, int64(500), c.MemoryUsage())
}

func TestController_Sessions(t *testing.T) {
	c := NewController(Config{MaxSessions: 2})

	require.NoError(t, c.AcquireSession(t.Context()))
	require.NoError(t, c.AcquireSession(t.Context()))
	assert.Equal(t, int64(2), c.OpenSessions())

	assert.False(t, c.TryAcquireSession())

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.AcquireSession(ctx), context.DeadlineExceeded)

	c.ReleaseSession()
	assert.True(t, c.TryAcquireSession())
	assert.Equal(t, int64(2), c.OpenSessions())
}

func TestController_UnlimitedSessions(t *testing.T) {
	c := NewController(Config{})
	for range 100 {
		require.True(t, c.TryAcquireSession())
	}
	assert.Equal(t, int64(100), c.OpenSessions())
}

func TestController_Query(t *testing.T) {
	c := NewController(Config{QueriesPerSec: 10, QueryBurst: 2})

	assert.True(t, c.TryAcquireQuery(1))
	assert.True(t, c.TryAcquireQuery(1))
	assert.False(t, c.TryAcquireQuery(1))

	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()
	require.NoError(t, c.AcquireQuery(ctx, 1))
}

func TestController_QueryContextCanceled(t *testing.T) {
	c := NewController(Config{QueriesPerSec: 1, QueryBurst: 1})
	require.True(t, c.TryAcquireQuery(1))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	assert.Error(t, c.AcquireQuery(ctx, 1))
}

func TestController_DefaultBurst(t *testing.T) {
	c := NewController(Config{QueriesPerSec: 0.5})
	assert.True(t, c.TryAcquireQuery(1))
	assert.False(t, c.TryAcquireQuery(1))
}

func TestController_NilSafe(t *testing.T) {
	var c *Controller

	require.NoError(t, c.AcquireMemory(10))
	c.ReleaseMemory(10)
	assert.Zero(t, c.MemoryUsage())
	assert.Zero(t, c.MemoryLimit())

	require.NoError(t, c.AcquireSession(context.Background()))
	assert.True(t, c.TryAcquireSession())
	c.ReleaseSession()
	assert.Zero(t, c.OpenSessions())

	require.NoError(t, c.AcquireQuery(context.Background(), 5))
	assert.True(t, c.TryAcquireQuery(5))
}
