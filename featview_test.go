package featview

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/hupe1980/featview/constraint"
	"github.com/hupe1980/featview/model"
	"github.com/hupe1980/featview/resource"
	"github.com/hupe1980/featview/scoring"
	"github.com/hupe1980/featview/store"
	"github.com/hupe1980/featview/store/faulty"
	"github.com/hupe1980/featview/store/memstore"
	"github.com/hupe1980/featview/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newTable holds n records where feature 1 = id and feature 2 = 100 - id.
func newTable(n int) *memstore.Store {
	s := memstore.New(1, 2)
	for i := 1; i <= n; i++ {
		s.Append(map[model.FeatureID]float64{1: float64(i), 2: float64(100 - i)})
	}
	return s
}

func newView(t *testing.T, s store.Store, p *testutil.Providers, opts ...Option) *View {
	t.Helper()
	v, err := New(s, p, p, p, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func staticGroup(t *testing.T, gid model.GroupID, ids ...model.RecordID) constraint.Group {
	t.Helper()
	c, err := constraint.NewStatic(constraint.ID(gid), ids)
	require.NoError(t, err)
	g, err := constraint.NewGroup(gid, "", true, c)
	require.NoError(t, err)
	return g
}

func dynamicGroup(t *testing.T, gid model.GroupID, ps ...constraint.Predicate) constraint.Group {
	t.Helper()
	var cs []constraint.Constraint
	for i, p := range ps {
		c, err := constraint.NewDynamic(constraint.ID(i+1), p)
		require.NoError(t, err)
		cs = append(cs, c)
	}
	g, err := constraint.NewGroup(gid, "", true, cs...)
	require.NoError(t, err)
	return g
}

func ids(recs []*model.Record) []model.RecordID {
	out := make([]model.RecordID, len(recs))
	for i, r := range recs {
		out[i] = r.ID()
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	p := testutil.NewProviders(testutil.Features(1), scoring.NewMean())
	s := newTable(1)

	for name, fn := range map[string]func() (*View, error){
		"store":    func() (*View, error) { return New(nil, p, p, p) },
		"features": func() (*View, error) { return New(s, nil, p, p) },
		"groups":   func() (*View, error) { return New(s, p, nil, p) },
		"scoring":  func() (*View, error) { return New(s, p, p, nil) },
	} {
		t.Run(name, func(t *testing.T) {
			v, err := fn()
			assert.Nil(t, v)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestView_NoGroupsSelectsAll(t *testing.T) {
	p := testutil.NewProviders(testutil.Features(2), scoring.NewMean())
	v := newView(t, newTable(12), p)

	recs, err := v.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 12)
	for i, r := range recs {
		assert.Equal(t, model.RecordID(i+1), r.ID())
		assert.Equal(t, float64(i+1), r.Value(1))
		assert.InDelta(t, 0.5, r.Score(), 1e-9)
		assert.Empty(t, r.Groups())
	}
}

func TestView_SelectAllShortcut(t *testing.T) {
	p := testutil.NewProviders(testutil.Features(2), scoring.NewMean())
	all, err := constraint.NewGroup(9, "all", true)
	require.NoError(t, err)
	p.SetGroups(staticGroup(t, 1, 3), all)

	v := newView(t, newTable(10), p)
	snap, err := v.Snapshot(context.Background())
	require.NoError(t, err)

	assert.False(t, snap.Filtered)
	require.Equal(t, 10, snap.Len())
	for _, r := range snap.Records() {
		assert.True(t, r.InGroup(9))
		assert.Equal(t, r.ID() == 3, r.InGroup(1))
	}
}

func TestView_Filtered(t *testing.T) {
	p := testutil.NewProviders(testutil.Features(2), scoring.NewMean())
	p.SetGroups(
		staticGroup(t, 1, 8, 2),
		dynamicGroup(t, 2, constraint.Gt(1, 5), constraint.Lt(1, 10)),
	)

	v := newView(t, newTable(20), p, WithParallelism(1))
	snap, err := v.Snapshot(context.Background())
	require.NoError(t, err)

	assert.True(t, snap.Filtered)
	assert.Equal(t, []model.RecordID{2, 6, 7, 8, 9}, ids(snap.Records()))
	assert.Equal(t, 3, snap.Workers)

	byID := map[model.RecordID]*model.Record{}
	for _, r := range snap.Records() {
		byID[r.ID()] = r
		assert.Equal(t, []model.FeatureID{model.ScoreFeatureID, 1, 2}, r.FeatureIDs())
	}
	assert.Equal(t, []model.GroupID{1}, byID[2].Groups())
	assert.Equal(t, []model.GroupID{1, 2}, byID[8].Groups())
	assert.Equal(t, []model.GroupID{2}, byID[9].Groups())
}

func TestView_AllGroupsInvisible(t *testing.T) {
	p := testutil.NewProviders(testutil.Features(1), scoring.NewMean())
	p.SetGroups(staticGroup(t, 1, 1).WithVisible(false))

	v := newView(t, newTable(5), p)
	recs, err := v.Records(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestView_FailureIsolation(t *testing.T) {
	mem := newTable(9)
	s := faulty.New(mem)
	// With parallelism 1 there are three workers; the second owns ids 4..6.
	s.AddRule(faulty.Fault{Op: faulty.OpRangeScan, FromID: 5, ToID: 5})

	metrics := &BasicMetricsCollector{}
	p := testutil.NewProviders(testutil.Features(2), scoring.NewMean())
	v := newView(t, s, p, WithParallelism(1), WithMetricsCollector(metrics))

	snap, err := v.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, 9, snap.Len())
	assert.Equal(t, 3, snap.Workers)
	assert.Equal(t, 1, snap.FailedWorkers)

	for i, r := range snap.Records() {
		assert.Equal(t, model.RecordID(i+1), r.ID())
		if i >= 3 && i < 6 {
			assert.True(t, math.IsNaN(r.Value(1)), "record %d", r.ID())
			assert.True(t, math.IsNaN(r.Value(2)), "record %d", r.ID())
		} else {
			assert.False(t, r.IsMissing(), "record %d", r.ID())
		}
	}

	stats := metrics.GetStats()
	assert.Equal(t, int64(3), stats.WorkerCount)
	assert.Equal(t, int64(1), stats.WorkerFailures)
	assert.Equal(t, int64(0), stats.RebuildErrors)
	assert.Zero(t, mem.OpenSessions())
}

func TestView_StaticIDPastEnd(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	p := testutil.NewProviders(testutil.Features(2), scoring.NewMean())
	p.SetGroups(staticGroup(t, 1, 1, 2, 3, 4, 5, 6, 7, 8, 9, 999))
	v := newView(t, newTable(20), p, WithParallelism(1), WithMetricsCollector(metrics))

	snap, err := v.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, 10, snap.Len())
	assert.Equal(t, 3, snap.Workers)
	assert.Zero(t, snap.FailedWorkers)

	recs := snap.Records()
	for _, r := range recs[:9] {
		assert.False(t, r.IsMissing(), "record %d", r.ID())
		assert.Equal(t, float64(r.ID()), r.Value(1))
	}
	assert.Equal(t, model.RecordID(999), recs[9].ID())
	assert.True(t, recs[9].IsMissing())
	assert.Zero(t, metrics.GetStats().WorkerFailures)
}

func TestSnapshot_RecordsReturnsCopy(t *testing.T) {
	p := testutil.NewProviders(testutil.Features(1), scoring.NewMean())
	v := newView(t, newTable(3), p)

	snap, err := v.Snapshot(context.Background())
	require.NoError(t, err)

	recs := snap.Records()
	recs[0] = nil
	recs = append(recs[:1], recs[2:]...)
	assert.Len(t, recs, 2)

	assert.Equal(t, []model.RecordID{1, 2, 3}, ids(snap.Records()))

	again, err := v.Records(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.RecordID{1, 2, 3}, ids(again))
}

func TestView_IdempotentCache(t *testing.T) {
	s := faulty.New(newTable(4))
	p := testutil.NewProviders(testutil.Features(1), scoring.NewMean())
	v := newView(t, s, p)

	ctx := context.Background()
	a, err := v.Snapshot(ctx)
	require.NoError(t, err)
	b, err := v.Snapshot(ctx)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 1, s.Calls(faulty.OpCount))

	r1, err := v.Records(ctx)
	require.NoError(t, err)
	r2, err := v.Records(ctx)
	require.NoError(t, err)
	assert.Same(t, &r1[0], &r2[0])
}

func TestView_InvalidateTriggersRebuild(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	p := testutil.NewProviders(testutil.Features(2), scoring.NewMean())
	p.SetGroups(staticGroup(t, 1, 1, 2))
	v := newView(t, newTable(10), p, WithMetricsCollector(metrics))

	ctx := context.Background()
	before, err := v.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.RecordID{1, 2}, ids(before.Records()))

	p.SetGroups(dynamicGroup(t, 1, constraint.Gte(1, 9)))

	// Nothing changes until the view is told.
	same, err := v.Snapshot(ctx)
	require.NoError(t, err)
	assert.Same(t, before, same)

	v.Invalidate()
	after, err := v.Snapshot(ctx)
	require.NoError(t, err)
	assert.NotSame(t, before, after)
	assert.Equal(t, []model.RecordID{9, 10}, ids(after.Records()))
	assert.Greater(t, after.Generation, before.Generation)

	// The old snapshot is untouched.
	assert.Equal(t, []model.RecordID{1, 2}, ids(before.Records()))

	stats := metrics.GetStats()
	assert.Equal(t, int64(2), stats.RebuildCount)
	assert.Equal(t, int64(1), stats.InvalidateCount)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) PredicateScan(ctx context.Context, p constraint.Predicate) ([]model.RecordID, error) {
	args := m.Called(ctx, p)
	ids, _ := args.Get(0).([]model.RecordID)
	return ids, args.Error(1)
}

func (m *mockStore) Session(ctx context.Context) (store.Session, error) {
	args := m.Called(ctx)
	sess, _ := args.Get(0).(store.Session)
	return sess, args.Error(1)
}

func TestView_HardFailure(t *testing.T) {
	ms := new(mockStore)
	boom := errors.New("database is locked")
	ms.On("PredicateScan", mock.Anything, constraint.Gt(1, 5)).Return(nil, boom).Once()

	metrics := &BasicMetricsCollector{}
	p := testutil.NewProviders(testutil.Features(1), scoring.NewMean())
	p.SetGroups(dynamicGroup(t, 1, constraint.Gt(1, 5)))
	v := newView(t, ms, p, WithMetricsCollector(metrics))

	ctx := context.Background()
	snap, err := v.Snapshot(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAccess)
	assert.ErrorIs(t, err, boom)

	var ae *store.AccessError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "predicate_scan", ae.Op)

	require.NotNil(t, snap)
	assert.Zero(t, snap.Len())
	assert.ErrorIs(t, snap.Err(), boom)

	// The empty snapshot is served until the next invalidation.
	recs, err := v.Records(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, int64(1), metrics.GetStats().RebuildErrors)

	ms.On("PredicateScan", mock.Anything, constraint.Gt(1, 5)).Return([]model.RecordID{}, nil).Once()
	v.Invalidate()
	snap, err = v.Snapshot(ctx)
	require.NoError(t, err)
	assert.NoError(t, snap.Err())
	assert.Zero(t, snap.Len())

	ms.AssertExpectations(t)
}

func TestView_CountFailureIsHard(t *testing.T) {
	s := faulty.New(newTable(3))
	s.AddRule(faulty.Fault{Op: faulty.OpCount, Times: 1})

	p := testutil.NewProviders(testutil.Features(1), scoring.NewMean())
	v := newView(t, s, p)

	recs, err := v.Records(context.Background())
	assert.ErrorIs(t, err, ErrAccess)
	assert.Empty(t, recs)

	v.Invalidate()
	recs, err = v.Records(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

// hookStore runs onCount inside Count, while the rebuild holds the lock.
type hookStore struct {
	store.Store
	onCount func()
}

func (h *hookStore) Count(ctx context.Context) (int, error) {
	if h.onCount != nil {
		h.onCount()
	}
	return h.Store.Count(ctx)
}

func TestView_InvalidateDuringRebuild(t *testing.T) {
	hs := &hookStore{Store: newTable(3)}
	p := testutil.NewProviders(testutil.Features(1), scoring.NewMean())
	v := newView(t, hs, p)

	calls := 0
	hs.onCount = func() {
		calls++
		if calls == 1 {
			v.Invalidate()
		}
	}

	ctx := context.Background()
	first, err := v.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Len())

	second, err := v.Snapshot(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, calls)

	third, err := v.Snapshot(ctx)
	require.NoError(t, err)
	assert.Same(t, second, third)
}

func TestView_ConcurrentCallersShareRebuild(t *testing.T) {
	s := faulty.New(newTable(500))
	p := testutil.NewProviders(testutil.Features(2), scoring.NewMean())
	v := newView(t, s, p, WithParallelism(4))

	const callers = 16
	snaps := make([]*Snapshot, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := v.Snapshot(context.Background())
			assert.NoError(t, err)
			snaps[i] = snap
		}()
	}
	wg.Wait()

	for _, snap := range snaps[1:] {
		assert.Same(t, snaps[0], snap)
	}
	assert.Equal(t, 1, s.Calls(faulty.OpCount))
	assert.Equal(t, 500, snaps[0].Len())
}

func TestView_CanceledContextStillPublishes(t *testing.T) {
	p := testutil.NewProviders(testutil.Features(1), scoring.NewMean())
	v := newView(t, newTable(6), p, WithQueryRateLimit(1000, 10))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap, err := v.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, snap.Len())
	assert.Zero(t, snap.FailedWorkers)
}

func TestView_MemoryLimit(t *testing.T) {
	p := testutil.NewProviders(testutil.Features(2), scoring.NewMean())
	v := newView(t, newTable(100), p, WithMemoryLimit(1024))

	snap, err := v.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrMemoryLimitExceeded)
	assert.Zero(t, snap.Len())
}

func TestView_MemoryIsReleasedOnReplace(t *testing.T) {
	p := testutil.NewProviders(testutil.Features(2), scoring.NewMean())
	v := newView(t, newTable(10), p, WithMemoryLimit(1<<20))

	ctx := context.Background()
	_, err := v.Snapshot(ctx)
	require.NoError(t, err)
	used := v.rc.MemoryUsage()
	assert.Positive(t, used)

	for range 5 {
		v.Invalidate()
		_, err := v.Snapshot(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, used, v.rc.MemoryUsage())

	require.NoError(t, v.Close())
	assert.Zero(t, v.rc.MemoryUsage())
}

func TestView_MissingStrategy(t *testing.T) {
	p := testutil.NewProviders(testutil.Features(1), nil)
	v := newView(t, newTable(2), p)

	_, err := v.Records(context.Background())
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestView_Close(t *testing.T) {
	p := testutil.NewProviders(testutil.Features(1), scoring.NewMean())
	v, err := New(newTable(2), p, p, p)
	require.NoError(t, err)

	_, err = v.Records(context.Background())
	require.NoError(t, err)

	require.NoError(t, v.Close())
	require.NoError(t, v.Close())

	_, err = v.Records(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	_, err = v.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestView_Tracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	p := testutil.NewProviders(testutil.Features(1), scoring.NewMean())
	v := newView(t, newTable(4), p, WithTracerProvider(tp))

	_, err := v.Records(context.Background())
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "featview.View.rebuild", spans[0].Name())

	attrs := map[string]any{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "unfiltered", attrs["mode"])
	assert.Equal(t, int64(4), attrs["size"])
}

func TestView_SharedResourceController(t *testing.T) {
	rc := resourceController(t, 1)
	p := testutil.NewProviders(testutil.Features(1), scoring.NewMean())

	a := newView(t, newTable(50), p, WithResourceController(rc), WithParallelism(4))
	b := newView(t, newTable(50), p, WithResourceController(rc), WithParallelism(4))

	var wg sync.WaitGroup
	for _, v := range []*View{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recs, err := v.Records(context.Background())
			assert.NoError(t, err)
			assert.Len(t, recs, 50)
		}()
	}
	wg.Wait()
	assert.Zero(t, rc.OpenSessions())
}

func resourceController(t *testing.T, sessions int64) *resource.Controller {
	t.Helper()
	return resource.NewController(resource.Config{MaxSessions: sessions})
}
