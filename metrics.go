package featview

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the
// metrics/prometheus package provides a Prometheus implementation.
type MetricsCollector interface {
	// RecordRebuild is called after each rebuild. records is the snapshot
	// size, failed the number of degraded workers, err is nil unless the
	// rebuild failed hard.
	RecordRebuild(records, workers, failed int, duration time.Duration, err error)

	// RecordWorker is called once per record worker.
	RecordWorker(records int, duration time.Duration, err error)

	// RecordInvalidate is called on each invalidation.
	RecordInvalidate()
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordRebuild(int, int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordWorker(int, time.Duration, error)            {}
func (NoopMetricsCollector) RecordInvalidate()                                 {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and tests without external dependencies.
type BasicMetricsCollector struct {
	RebuildCount      atomic.Int64
	RebuildErrors     atomic.Int64
	RebuildTotalNanos atomic.Int64
	RecordsBuilt      atomic.Int64
	WorkerCount       atomic.Int64
	WorkerFailures    atomic.Int64
	InvalidateCount   atomic.Int64
}

// RecordRebuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRebuild(records, _, _ int, duration time.Duration, err error) {
	b.RebuildCount.Add(1)
	b.RebuildTotalNanos.Add(duration.Nanoseconds())
	b.RecordsBuilt.Add(int64(records))
	if err != nil {
		b.RebuildErrors.Add(1)
	}
}

// RecordWorker implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWorker(_ int, _ time.Duration, err error) {
	b.WorkerCount.Add(1)
	if err != nil {
		b.WorkerFailures.Add(1)
	}
}

// RecordInvalidate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInvalidate() {
	b.InvalidateCount.Add(1)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		RebuildCount:    b.RebuildCount.Load(),
		RebuildErrors:   b.RebuildErrors.Load(),
		RebuildAvgNanos: b.getAvgRebuildNanos(),
		RecordsBuilt:    b.RecordsBuilt.Load(),
		WorkerCount:     b.WorkerCount.Load(),
		WorkerFailures:  b.WorkerFailures.Load(),
		InvalidateCount: b.InvalidateCount.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgRebuildNanos() int64 {
	count := b.RebuildCount.Load()
	if count == 0 {
		return 0
	}
	return b.RebuildTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	RebuildCount    int64
	RebuildErrors   int64
	RebuildAvgNanos int64
	RecordsBuilt    int64
	WorkerCount     int64
	WorkerFailures  int64
	InvalidateCount int64
}
