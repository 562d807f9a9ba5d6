// Package pool provides the fixed goroutine pool that runs record workers.
package pool

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Submit and RunAll after Close.
var ErrClosed = errors.New("worker pool closed")

// WorkerPool manages a fixed pool of goroutines that is reused across
// rebuilds.
type WorkerPool struct {
	numWorkers int
	workCh     chan func()
	stopCh     chan struct{}
	wg         sync.WaitGroup
	closed     atomic.Bool
	submitMu   sync.RWMutex
}

// DefaultSize returns GOMAXPROCS + 2. Record workers block on store
// round-trips, so the pool is slightly larger than the CPU count.
func DefaultSize() int {
	return runtime.GOMAXPROCS(0) + 2
}

// New creates a worker pool with numWorkers goroutines.
// A non-positive numWorkers selects DefaultSize.
func New(numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = DefaultSize()
	}

	wp := &WorkerPool{
		numWorkers: numWorkers,
		workCh:     make(chan func(), numWorkers*2),
		stopCh:     make(chan struct{}),
	}

	wp.wg.Add(numWorkers)
	for range numWorkers {
		go wp.worker()
	}

	return wp
}

// Size returns the number of worker goroutines.
func (wp *WorkerPool) Size() int {
	return wp.numWorkers
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.stopCh:
			// Queued tasks still run; RunAll callers wait on them.
			for {
				select {
				case task, ok := <-wp.workCh:
					if !ok {
						return
					}
					task()
				default:
					return
				}
			}
		case task, ok := <-wp.workCh:
			if !ok {
				return
			}
			task()
		}
	}
}

// Submit enqueues a task and returns without waiting for it.
//
// Error conditions:
//   - Returns ErrClosed if the pool is closed
//   - Returns the context error if ctx is done before enqueueing
func (wp *WorkerPool) Submit(ctx context.Context, task func()) error {
	wp.submitMu.RLock()
	defer wp.submitMu.RUnlock()

	if wp.closed.Load() {
		return ErrClosed
	}

	select {
	case wp.workCh <- task:
		return nil
	case <-wp.stopCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunAll submits every task and blocks until all submitted tasks have
// returned. If a submission fails, the tasks already submitted are still
// awaited and the submission error is returned.
func (wp *WorkerPool) RunAll(ctx context.Context, tasks []func()) error {
	var wg sync.WaitGroup
	var submitErr error

	for _, task := range tasks {
		wg.Add(1)
		err := wp.Submit(ctx, func() {
			defer wg.Done()
			task()
		})
		if err != nil {
			wg.Done()
			submitErr = err
			break
		}
	}

	wg.Wait()
	return submitErr
}

// Close shuts down the pool. Queued tasks still run. Close is idempotent.
func (wp *WorkerPool) Close() {
	if !wp.closed.CompareAndSwap(false, true) {
		return
	}

	wp.submitMu.Lock()
	close(wp.stopCh)
	close(wp.workCh)
	wp.submitMu.Unlock()

	wp.wg.Wait()
}
