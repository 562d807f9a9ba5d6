package materialize

import (
	"context"
	"math"
	"testing"

	"github.com/hupe1980/featview/constraint"
	"github.com/hupe1980/featview/internal/filter"
	"github.com/hupe1980/featview/internal/partition"
	"github.com/hupe1980/featview/resource"
	"github.com/hupe1980/featview/model"
	"github.com/hupe1980/featview/scoring"
	"github.com/hupe1980/featview/store"
	"github.com/hupe1980/featview/store/faulty"
	"github.com/hupe1980/featview/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture holds n records where feature 1 = id and feature 2 = 10*id.
func fixture(n int) *memstore.Store {
	s := memstore.New(1, 2)
	for i := 1; i <= n; i++ {
		s.Append(map[model.FeatureID]float64{1: float64(i), 2: float64(10 * i)})
	}
	return s
}

func activeFeatures(t *testing.T) []*model.Feature {
	t.Helper()
	a, err := model.NewFeature(1, "a", 0, 100)
	require.NoError(t, err)
	b, err := model.NewFeature(2, "b", 0, 1000)
	require.NoError(t, err)
	return []*model.Feature{a, b}
}

func constant(t *testing.T, v float64) scoring.Strategy {
	t.Helper()
	s, err := scoring.NewFunc("const", v, v, func([]*model.Feature, []float64) float64 { return v })
	require.NoError(t, err)
	return s
}

func evaluate(t *testing.T, s store.Store, groups ...constraint.Group) *filter.WorkingSet {
	t.Helper()
	ws, err := filter.Evaluate(context.Background(), s, groups)
	require.NoError(t, err)
	return ws
}

func runAll(t *testing.T, w *Worker, p *Plan, workers int) []Report {
	t.Helper()
	var reports []Report
	for _, c := range partition.Split(len(p.Out), workers) {
		reports = append(reports, w.Run(context.Background(), Job{Plan: p, Chunk: c}))
	}
	return reports
}

func TestWorker_Unfiltered(t *testing.T) {
	s := fixture(9)
	all, err := constraint.NewGroup(1, "all", true)
	require.NoError(t, err)
	c, err := constraint.NewStatic(1, []model.RecordID{4})
	require.NoError(t, err)
	four, err := constraint.NewGroup(2, "four", true, c)
	require.NoError(t, err)

	ws := evaluate(t, s, all, four)
	require.Equal(t, filter.ModeUnfiltered, ws.Mode())

	p, err := NewPlan(ws, activeFeatures(t), scoring.NewMean())
	require.NoError(t, err)

	for _, rep := range runAll(t, NewWorker(s, nil), p, 3) {
		assert.False(t, rep.Failed)
		assert.NoError(t, rep.Err)
		assert.Equal(t, 3, rep.Records)
	}

	require.Len(t, p.Out, 9)
	for i, rec := range p.Out {
		require.NotNil(t, rec)
		id := model.RecordID(i + 1)
		assert.Equal(t, id, rec.ID())
		assert.Equal(t, float64(id), rec.Value(1))
		assert.Equal(t, float64(10*id), rec.Value(2))
		assert.InDelta(t, float64(id)/100, rec.Score(), 1e-9)
		assert.Equal(t, []model.FeatureID{model.ScoreFeatureID, 1, 2}, rec.FeatureIDs())
		assert.True(t, rec.InGroup(1))
		assert.Equal(t, id == 4, rec.InGroup(2))
	}
	assert.Zero(t, s.OpenSessions())
}

func TestWorker_Filtered(t *testing.T) {
	s := fixture(20)
	c, err := constraint.NewDynamic(1, constraint.Gte(1, 15))
	require.NoError(t, err)
	g, err := constraint.NewGroup(3, "tail", true, c)
	require.NoError(t, err)

	ws := evaluate(t, s, g)
	p, err := NewPlan(ws, activeFeatures(t)[:1], constant(t, 7))
	require.NoError(t, err)

	reports := runAll(t, NewWorker(s, nil), p, 4)
	assert.Len(t, reports, 3)

	var ids []model.RecordID
	for _, rec := range p.Out {
		ids = append(ids, rec.ID())
		assert.Equal(t, float64(rec.ID()), rec.Value(1))
		assert.False(t, rec.Has(2))
		assert.Equal(t, 7.0, rec.Score())
		assert.Equal(t, []model.GroupID{3}, rec.Groups())
	}
	assert.Equal(t, []model.RecordID{15, 16, 17, 18, 19, 20}, ids)
	assert.Zero(t, s.OpenSessions())
}

func TestWorker_FailureFillsWholeChunk(t *testing.T) {
	mem := fixture(9)
	s := faulty.New(mem)
	// Chunk 2 of 3 covers ids 4..6 and fails after reading id 4.
	s.AddRule(faulty.Fault{Op: faulty.OpRangeScan, FromID: 5, ToID: 5})

	ws := evaluate(t, s)
	p, err := NewPlan(ws, activeFeatures(t), constant(t, 1))
	require.NoError(t, err)

	reports := runAll(t, NewWorker(s, nil), p, 3)
	require.Len(t, reports, 3)
	assert.False(t, reports[0].Failed)
	assert.True(t, reports[1].Failed)
	assert.ErrorIs(t, reports[1].Err, store.ErrAccess)
	assert.False(t, reports[2].Failed)

	for i, rec := range p.Out {
		require.NotNil(t, rec)
		assert.Equal(t, model.RecordID(i+1), rec.ID())
		if i >= 3 && i < 6 {
			assert.True(t, rec.IsMissing(), "record %d", rec.ID())
		} else {
			assert.False(t, rec.IsMissing(), "record %d", rec.ID())
		}
		assert.Equal(t, 1.0, rec.Score(), "score is computed for missing records too")
	}
	assert.Zero(t, mem.OpenSessions())
}

func TestWorker_SessionFailure(t *testing.T) {
	s := faulty.New(fixture(4))
	s.AddRule(faulty.Fault{Op: faulty.OpSession, Times: 1})

	c, err := constraint.NewStatic(1, []model.RecordID{2, 3})
	require.NoError(t, err)
	g, err := constraint.NewGroup(5, "g", true, c)
	require.NoError(t, err)

	ws := evaluate(t, s, g)
	p, err := NewPlan(ws, activeFeatures(t), scoring.NewMean())
	require.NoError(t, err)

	rep := NewWorker(s, nil).Run(context.Background(), Job{Plan: p, Chunk: partition.Chunk{Start: 0, End: 2}})
	assert.True(t, rep.Failed)

	for _, rec := range p.Out {
		assert.True(t, rec.IsMissing())
		assert.True(t, math.IsNaN(rec.Score()))
		assert.Equal(t, []model.GroupID{5}, rec.Groups())
	}
}

func TestWorker_PointLookupFailure(t *testing.T) {
	s := faulty.New(fixture(10))
	s.AddRule(faulty.Fault{Op: faulty.OpPointLookup, FromID: 8, ToID: 8})

	c, err := constraint.NewDynamic(1, constraint.Gt(1, 0))
	require.NoError(t, err)
	g, err := constraint.NewGroup(1, "g", true, c)
	require.NoError(t, err)

	ws := evaluate(t, s, g)
	p, err := NewPlan(ws, activeFeatures(t), scoring.NewMean())
	require.NoError(t, err)

	reports := runAll(t, NewWorker(s, nil), p, 2)
	assert.False(t, reports[0].Failed)
	assert.True(t, reports[1].Failed)

	for _, rec := range p.Out[:5] {
		assert.False(t, rec.IsMissing())
	}
	for _, rec := range p.Out[5:] {
		assert.True(t, rec.IsMissing())
	}
}

func TestWorker_StaticIDPastEnd(t *testing.T) {
	s := fixture(20)
	c, err := constraint.NewStatic(1, []model.RecordID{1, 2, 3, 4, 5, 6, 7, 8, 9, 999})
	require.NoError(t, err)
	g, err := constraint.NewGroup(1, "g", true, c)
	require.NoError(t, err)

	ws := evaluate(t, s, g)
	p, err := NewPlan(ws, activeFeatures(t), scoring.NewMean())
	require.NoError(t, err)

	reports := runAll(t, NewWorker(s, nil), p, 3)
	require.Len(t, reports, 3)
	for _, rep := range reports {
		assert.False(t, rep.Failed)
		assert.NoError(t, rep.Err)
	}

	require.Len(t, p.Out, 10)
	for _, rec := range p.Out[:9] {
		assert.False(t, rec.IsMissing(), "record %d", rec.ID())
		assert.Equal(t, float64(rec.ID()), rec.Value(1))
	}
	last := p.Out[9]
	assert.Equal(t, model.RecordID(999), last.ID())
	assert.True(t, last.IsMissing())
	assert.Equal(t, []model.GroupID{1}, last.Groups())
	assert.Zero(t, s.OpenSessions())
}

func TestWorker_QueryRateLimitHonored(t *testing.T) {
	s := fixture(3)
	rc := resource.NewController(resource.Config{QueriesPerSec: 1000, MaxSessions: 1})

	ws := evaluate(t, s)
	p, err := NewPlan(ws, activeFeatures(t), scoring.NewMean())
	require.NoError(t, err)

	for _, rep := range runAll(t, NewWorker(s, rc), p, 3) {
		assert.False(t, rep.Failed)
	}
	assert.Zero(t, rc.OpenSessions())
}

func TestWorker_CanceledContextDegrades(t *testing.T) {
	s := fixture(3)
	rc := resource.NewController(resource.Config{QueriesPerSec: 0.001, QueryBurst: 1})
	require.True(t, rc.TryAcquireQuery(1))

	ws := evaluate(t, s)
	p, err := NewPlan(ws, activeFeatures(t), scoring.NewMean())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep := NewWorker(s, rc).Run(ctx, Job{Plan: p, Chunk: partition.Chunk{Start: 0, End: 3}})
	assert.True(t, rep.Failed)
	for _, rec := range p.Out {
		assert.True(t, rec.IsMissing())
	}
}

func TestNewPlan(t *testing.T) {
	ws := evaluate(t, fixture(2))
	fs := activeFeatures(t)

	v, err := model.NewVirtualFeature(9, "derived", 0, 1)
	require.NoError(t, err)
	score, err := model.NewScoreFeature("score", scoring.NewMean())
	require.NoError(t, err)

	p, err := NewPlan(ws, []*model.Feature{fs[0], v, score, fs[1]}, scoring.NewMean())
	require.NoError(t, err)
	assert.Equal(t, []model.FeatureID{1, 2}, p.StoredFeatures())
	assert.Len(t, p.Out, 2)

	rec, err := p.record(1, []float64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []model.FeatureID{model.ScoreFeatureID, 1, 2, 9}, rec.FeatureIDs())
	assert.True(t, math.IsNaN(rec.Value(9)))

	_, err = NewPlan(ws, []*model.Feature{fs[0], fs[0]}, scoring.NewMean())
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
	_, err = NewPlan(ws, []*model.Feature{nil}, scoring.NewMean())
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
	_, err = NewPlan(nil, fs, scoring.NewMean())
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestPlanEstimatedBytes(t *testing.T) {
	ws := evaluate(t, fixture(10))
	p, err := NewPlan(ws, activeFeatures(t), scoring.NewMean())
	require.NoError(t, err)

	// Three values per record: two stored features and the score.
	assert.Equal(t, int64(10*(8+88+3*12)), p.EstimatedBytes())

	empty, err := NewPlan(evaluate(t, memstore.New(1)), activeFeatures(t), scoring.NewMean())
	require.NoError(t, err)
	assert.Zero(t, empty.EstimatedBytes())
}
