package resource

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when memory limit would be exceeded.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes is the hard limit for snapshot memory.
	// If 0, no hard limit is enforced (only tracking).
	MemoryLimitBytes int64

	// MaxSessions is the maximum number of concurrently open store sessions.
	// If 0, unlimited.
	MaxSessions int64

	// QueriesPerSec is the maximum rate of store round-trips.
	// If 0, unlimited.
	QueriesPerSec float64

	// QueryBurst is the token bucket size. Defaults to max(1, QueriesPerSec).
	QueryBurst int
}

// Controller manages shared resources (memory, sessions, query rate).
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	sessSem  *semaphore.Weighted // nil if unlimited
	sessOpen atomic.Int64

	queryLimiter *rate.Limiter // nil if unlimited
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	c := &Controller{cfg: cfg}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}

	if cfg.MaxSessions > 0 {
		c.sessSem = semaphore.NewWeighted(cfg.MaxSessions)
	}

	if cfg.QueriesPerSec > 0 {
		burst := cfg.QueryBurst
		if burst <= 0 {
			burst = max(1, int(cfg.QueriesPerSec))
		}
		c.cfg.QueryBurst = burst
		c.queryLimiter = rate.NewLimiter(rate.Limit(cfg.QueriesPerSec), burst)
	}

	return c
}

// AcquireMemory attempts to reserve memory.
// Returns ErrMemoryLimitExceeded if limit would be exceeded.
func (c *Controller) AcquireMemory(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}

	if c.memSem != nil {
		if !c.memSem.TryAcquire(bytes) {
			return ErrMemoryLimitExceeded
		}
	}

	c.memUsed.Add(bytes)
	return nil
}

// ReleaseMemory releases reserved memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}

	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the current memory usage in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// MemoryLimit returns the configured memory limit in bytes (0 if unlimited).
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MemoryLimitBytes
}

// AcquireSession reserves a session slot. Blocks if all slots are busy.
func (c *Controller) AcquireSession(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.sessSem != nil {
		if err := c.sessSem.Acquire(ctx, 1); err != nil {
			return err
		}
	}
	c.sessOpen.Add(1)
	return nil
}

// TryAcquireSession reserves a session slot without blocking.
func (c *Controller) TryAcquireSession() bool {
	if c == nil {
		return true
	}
	if c.sessSem != nil && !c.sessSem.TryAcquire(1) {
		return false
	}
	c.sessOpen.Add(1)
	return true
}

// ReleaseSession releases a session slot.
func (c *Controller) ReleaseSession() {
	if c == nil {
		return
	}
	if c.sessSem != nil {
		c.sessSem.Release(1)
	}
	c.sessOpen.Add(-1)
}

// OpenSessions returns the number of reserved session slots.
func (c *Controller) OpenSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessOpen.Load()
}

// AcquireQuery waits until the rate limit allows n store round-trips.
func (c *Controller) AcquireQuery(ctx context.Context, n int) error {
	if c == nil || c.queryLimiter == nil {
		return nil
	}
	return c.queryLimiter.WaitN(ctx, n)
}

// TryAcquireQuery attempts to acquire n query tokens without blocking.
func (c *Controller) TryAcquireQuery(n int) bool {
	if c == nil || c.queryLimiter == nil {
		return true
	}
	return c.queryLimiter.AllowN(time.Now(), n)
}
