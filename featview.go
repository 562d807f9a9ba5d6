package featview

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/featview/constraint"
	"github.com/hupe1980/featview/internal/filter"
	"github.com/hupe1980/featview/internal/materialize"
	"github.com/hupe1980/featview/internal/partition"
	"github.com/hupe1980/featview/internal/pool"
	"github.com/hupe1980/featview/model"
	"github.com/hupe1980/featview/resource"
	"github.com/hupe1980/featview/scoring"
	"github.com/hupe1980/featview/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/hupe1980/featview"

// FeatureProvider supplies the active features, in display order. The
// list may include the score feature; it is always added to records.
type FeatureProvider interface {
	ActiveFeatures() []*model.Feature
}

// GroupProvider supplies the active groups.
type GroupProvider interface {
	ActiveGroups() []constraint.Group
}

// ScoringProvider supplies the active scoring strategy.
type ScoringProvider interface {
	ActiveStrategy() scoring.Strategy
}

// Snapshot is one published rebuild result. Snapshots are immutable.
type Snapshot struct {
	records []*model.Record

	// Generation is the invalidation count the snapshot was built for.
	Generation uint64
	// Filtered reports whether records were read by point lookup.
	Filtered bool
	// Workers is the number of record workers that ran.
	Workers int
	// FailedWorkers is the number of workers whose chunk holds missing values.
	FailedWorkers int
	// BuiltAt is the publication time.
	BuiltAt time.Time
	// Duration is the rebuild time.
	Duration time.Duration

	err    error
	charge int64
}

// Records returns a copy of the materialized record slice. The records
// themselves are shared with the snapshot and must not be modified.
func (s *Snapshot) Records() []*model.Record { return slices.Clone(s.records) }

// Len returns the number of records.
func (s *Snapshot) Len() int { return len(s.records) }

// Err returns the hard failure that produced an empty snapshot, or nil.
func (s *Snapshot) Err() error { return s.err }

// View is the single-slot snapshot cache.
type View struct {
	store    store.Store
	features FeatureProvider
	groups   GroupProvider
	scoring  ScoringProvider

	opts    options
	logger  *Logger
	metrics MetricsCollector
	rc      *resource.Controller
	tracer  trace.Tracer
	pool    *pool.WorkerPool
	worker  *materialize.Worker

	mu         sync.Mutex // serializes rebuild-and-publish
	current    atomic.Pointer[Snapshot]
	generation atomic.Uint64
	closed     atomic.Bool
}

// New creates a View. The pool is started immediately; call Close to
// release it.
func New(s store.Store, features FeatureProvider, groups GroupProvider, scoringProvider ScoringProvider, optFns ...Option) (*View, error) {
	switch {
	case s == nil:
		return nil, fmt.Errorf("%w: store is nil", ErrInvalidArgument)
	case features == nil:
		return nil, fmt.Errorf("%w: feature provider is nil", ErrInvalidArgument)
	case groups == nil:
		return nil, fmt.Errorf("%w: group provider is nil", ErrInvalidArgument)
	case scoringProvider == nil:
		return nil, fmt.Errorf("%w: scoring provider is nil", ErrInvalidArgument)
	}

	o := applyOptions(optFns)

	return &View{
		store:    s,
		features: features,
		groups:   groups,
		scoring:  scoringProvider,
		opts:     o,
		logger:   o.logger,
		metrics:  o.metricsCollector,
		rc:       o.resources,
		tracer:   o.tracerProvider.Tracer(tracerName),
		pool:     pool.New(o.parallelism + 2),
		worker:   materialize.NewWorker(s, o.resources),
	}, nil
}

// Records returns the records of the current snapshot, rebuilding first
// if the cache slot is empty.
func (v *View) Records(ctx context.Context) ([]*model.Record, error) {
	snap, err := v.Snapshot(ctx)
	if snap == nil {
		return nil, err
	}
	return snap.Records(), err
}

// Snapshot returns the current snapshot, rebuilding first if the cache
// slot is empty. Two calls without an intervening Invalidate return the
// same *Snapshot.
//
// A hard failure returns the published empty snapshot together with the
// error. Later calls return that snapshot without error until the next
// Invalidate.
func (v *View) Snapshot(ctx context.Context) (*Snapshot, error) {
	if v.closed.Load() {
		return nil, ErrClosed
	}
	if snap := v.valid(); snap != nil {
		return snap, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed.Load() {
		return nil, ErrClosed
	}
	if snap := v.valid(); snap != nil {
		return snap, nil
	}
	return v.rebuild(ctx)
}

// valid returns the cached snapshot unless it was invalidated.
func (v *View) valid() *Snapshot {
	snap := v.current.Load()
	if snap == nil || snap.Generation != v.generation.Load() {
		return nil
	}
	return snap
}

// Invalidate marks the cache slot empty. It does not rebuild. An
// invalidation during a rebuild makes the next call rebuild again.
func (v *View) Invalidate() {
	gen := v.generation.Add(1)
	v.metrics.RecordInvalidate()
	v.logger.LogInvalidate(context.Background(), gen)
}

// Close shuts down the worker pool after any running rebuild. Later
// calls return ErrClosed. Close is idempotent.
func (v *View) Close() error {
	if !v.closed.CompareAndSwap(false, true) {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.pool.Close()
	if old := v.current.Swap(nil); old != nil {
		v.rc.ReleaseMemory(old.charge)
	}
	return nil
}

// rebuild runs one full rebuild and publishes its result. The caller
// holds mu. The rebuild is detached from ctx cancellation so a snapshot
// is never partially built.
func (v *View) rebuild(ctx context.Context) (*Snapshot, error) {
	ctx = context.WithoutCancel(ctx)
	gen := v.generation.Load()
	start := time.Now()

	ctx, span := v.tracer.Start(ctx, "featview.View.rebuild",
		trace.WithAttributes(attribute.Int64("generation", int64(gen))),
	)
	defer span.End()

	if old := v.current.Swap(nil); old != nil {
		v.rc.ReleaseMemory(old.charge)
	}

	fail := func(mode string, err error) (*Snapshot, error) {
		snap := &Snapshot{
			records:    []*model.Record{},
			Generation: gen,
			BuiltAt:    time.Now(),
			Duration:   time.Since(start),
			err:        err,
		}
		v.current.Store(snap)

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		v.metrics.RecordRebuild(0, 0, 0, snap.Duration, err)
		v.logger.WithGeneration(gen).LogRebuild(ctx, mode, 0, 0, 0, snap.Duration, err)
		return snap, err
	}

	features := v.features.ActiveFeatures()
	groups := v.groups.ActiveGroups()
	strategy := v.scoring.ActiveStrategy()
	if strategy == nil {
		return fail("", fmt.Errorf("%w: no active scoring strategy", ErrInvalidArgument))
	}

	ws, err := filter.Evaluate(ctx, v.store, groups)
	if err != nil {
		return fail("", err)
	}
	mode := ws.Mode().String()

	plan, err := materialize.NewPlan(ws, features, strategy)
	if err != nil {
		return fail(mode, err)
	}

	charge := plan.EstimatedBytes()
	if err := v.rc.AcquireMemory(charge); err != nil {
		return fail(mode, fmt.Errorf("%w: snapshot of %d records needs %d bytes, limit %d",
			err, ws.Size(), charge, v.rc.MemoryLimit()))
	}

	chunks := partition.Split(ws.Size(), partition.WorkerCount(ws.Size(), v.opts.parallelism))
	span.SetAttributes(
		attribute.String("mode", mode),
		attribute.Int("size", ws.Size()),
		attribute.Int("workers", len(chunks)),
	)

	reports := make([]materialize.Report, len(chunks))
	tasks := make([]func(), len(chunks))
	for i, c := range chunks {
		tasks[i] = func() {
			reports[i] = v.worker.Run(ctx, materialize.Job{Plan: plan, Chunk: c})
		}
	}

	if err := v.pool.RunAll(ctx, tasks); err != nil {
		v.rc.ReleaseMemory(charge)
		return fail(mode, fmt.Errorf("%w: %w", ErrClosed, err))
	}

	failed := 0
	for _, rep := range reports {
		v.metrics.RecordWorker(rep.Records, rep.Duration, rep.Err)
		if rep.Failed {
			failed++
			v.logger.LogWorkerFailure(ctx, rep.Chunk.Index, rep.Chunk.Start, rep.Chunk.End, rep.Err)
		}
	}

	snap := &Snapshot{
		records:       plan.Out,
		Generation:    gen,
		Filtered:      ws.Mode() == filter.ModeFiltered,
		Workers:       len(chunks),
		FailedWorkers: failed,
		BuiltAt:       time.Now(),
		Duration:      time.Since(start),
		charge:        charge,
	}
	v.current.Store(snap)

	span.SetAttributes(attribute.Int("failed_workers", failed))
	span.SetStatus(codes.Ok, "")
	v.metrics.RecordRebuild(snap.Len(), snap.Workers, failed, snap.Duration, nil)
	v.logger.WithGeneration(gen).LogRebuild(ctx, mode, snap.Len(), snap.Workers, failed, snap.Duration, nil)
	return snap, nil
}
