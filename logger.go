package featview

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with featview-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000),
	}))
}

// WithGeneration adds the cache generation to the logger.
func (l *Logger) WithGeneration(gen uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("generation", gen),
	}
}

// LogRebuild logs the outcome of a snapshot rebuild.
func (l *Logger) LogRebuild(ctx context.Context, mode string, records, workers, failed int, duration time.Duration, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "rebuild failed",
			"mode", mode,
			"duration", duration,
			"error", err,
		)
	case failed > 0:
		l.WarnContext(ctx, "rebuild completed with degraded chunks",
			"mode", mode,
			"records", records,
			"workers", workers,
			"failed_workers", failed,
			"duration", duration,
		)
	default:
		l.InfoContext(ctx, "rebuild completed",
			"mode", mode,
			"records", records,
			"workers", workers,
			"duration", duration,
		)
	}
}

// LogWorkerFailure logs a record worker whose chunk was filled with
// missing values.
func (l *Logger) LogWorkerFailure(ctx context.Context, chunk, start, end int, err error) {
	l.WarnContext(ctx, "record worker failed, chunk filled with missing values",
		"chunk", chunk,
		"start", start,
		"end", end,
		"error", err,
	)
}

// LogInvalidate logs a cache invalidation.
func (l *Logger) LogInvalidate(ctx context.Context, gen uint64) {
	l.DebugContext(ctx, "snapshot invalidated",
		"generation", gen,
	)
}
