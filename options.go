package featview

import (
	"log/slog"
	"runtime"

	"github.com/hupe1980/featview/resource"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type options struct {
	metricsCollector MetricsCollector
	logger           *Logger
	parallelism      int
	resources        *resource.Controller
	resourceConfig   resource.Config
	tracerProvider   trace.TracerProvider
}

// Option configures a View.
type Option func(*options)

// WithMetricsCollector configures a metrics collector for rebuilds.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &featview.BasicMetricsCollector{}
//	v, _ := featview.New(st, features, groups, strategy, featview.WithMetricsCollector(metrics))
//	// ... use v ...
//	stats := metrics.GetStats()
//	fmt.Printf("Rebuilds: %d, degraded workers: %d\n", stats.RebuildCount, stats.WorkerFailures)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithParallelism sets the available parallelism. A rebuild uses up to
// parallelism+2 record workers, and the pool owns as many goroutines.
// Defaults to GOMAXPROCS.
func WithParallelism(n int) Option {
	return func(o *options) {
		o.parallelism = n
	}
}

// WithMemoryLimit caps the estimated size of the cached snapshot.
// A rebuild that would exceed it fails with ErrMemoryLimitExceeded.
// Ignored when WithResourceController is used.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.resourceConfig.MemoryLimitBytes = bytes
	}
}

// WithQueryRateLimit limits store round-trips issued by record workers.
// Ignored when WithResourceController is used.
func WithQueryRateLimit(perSec float64, burst int) Option {
	return func(o *options) {
		o.resourceConfig.QueriesPerSec = perSec
		o.resourceConfig.QueryBurst = burst
	}
}

// WithMaxSessions limits the number of concurrently open store sessions.
// Ignored when WithResourceController is used.
func WithMaxSessions(n int64) Option {
	return func(o *options) {
		o.resourceConfig.MaxSessions = n
	}
}

// WithResourceController shares a resource controller between views, so
// their limits apply to the sum of their usage.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// WithTracerProvider configures OpenTelemetry tracing of rebuilds.
// Defaults to a no-op provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		parallelism:      runtime.GOMAXPROCS(0),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}

	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.parallelism <= 0 {
		o.parallelism = runtime.GOMAXPROCS(0)
	}
	if o.resources == nil {
		o.resources = resource.NewController(o.resourceConfig)
	}
	if o.tracerProvider == nil {
		o.tracerProvider = noop.NewTracerProvider()
	}
	return o
}
