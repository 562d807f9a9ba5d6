// Package resource implements the Controller that governs what rebuilds
// may consume.
//
// The Controller manages three resource types:
//
//   - Memory: charge snapshot buffers against a hard limit (non-blocking, fail-fast)
//   - Sessions: bound the number of concurrently open store sessions
//   - Queries: rate-limit store round-trips issued by record workers
//
// # Memory
//
// AcquireMemory is non-blocking and returns ErrMemoryLimitExceeded
// immediately when the limit would be exceeded:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 1 << 30,
//	})
//
//	if err := rc.AcquireMemory(n); err != nil {
//	    // ErrMemoryLimitExceeded
//	}
//	defer rc.ReleaseMemory(n)
//
// # Sessions
//
// A Controller shared by several views keeps the total number of open
// store sessions below MaxSessions:
//
//	if err := rc.AcquireSession(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseSession()
//
// # Queries
//
// Token bucket limiter, one token per store round-trip:
//
//	if err := rc.AcquireQuery(ctx, 1); err != nil {
//	    return err
//	}
//
// # Nil Safety
//
// All methods handle a nil Controller; they become no-ops. This allows
// optional resource limiting without nil checks everywhere.
package resource
