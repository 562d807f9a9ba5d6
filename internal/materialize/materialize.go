// Package materialize builds records for one chunk of a working set.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/featview/internal/filter"
	"github.com/hupe1980/featview/internal/partition"
	"github.com/hupe1980/featview/model"
	"github.com/hupe1980/featview/resource"
	"github.com/hupe1980/featview/scoring"
	"github.com/hupe1980/featview/store"
)

// Plan is the per-rebuild input shared by every job. It is read-only
// while jobs run, except for Out where each job owns a disjoint range.
type Plan struct {
	WorkingSet *filter.WorkingSet
	Strategy   scoring.Strategy
	Out        []*model.Record

	stored    []*model.Feature
	storedIDs []model.FeatureID
	virtual   int
	recordIDs []model.FeatureID
}

// NewPlan prepares a rebuild of ws.Size() records with the given active
// features. Virtual features are not read from the store; the score
// feature is appended when features does not list it.
func NewPlan(ws *filter.WorkingSet, features []*model.Feature, strategy scoring.Strategy) (*Plan, error) {
	if ws == nil || strategy == nil {
		return nil, fmt.Errorf("%w: plan requires a working set and a strategy", model.ErrInvalidArgument)
	}

	p := &Plan{
		WorkingSet: ws,
		Strategy:   strategy,
		Out:        make([]*model.Record, ws.Size()),
	}

	var virtual []model.FeatureID
	seen := make(map[model.FeatureID]struct{}, len(features))
	for _, f := range features {
		if f == nil {
			return nil, fmt.Errorf("%w: nil feature", model.ErrInvalidArgument)
		}
		if _, dup := seen[f.ID()]; dup {
			return nil, fmt.Errorf("%w: feature %d listed twice", model.ErrInvalidArgument, f.ID())
		}
		seen[f.ID()] = struct{}{}

		switch {
		case f.IsScore():
		case f.IsVirtual():
			virtual = append(virtual, f.ID())
		default:
			p.stored = append(p.stored, f)
			p.storedIDs = append(p.storedIDs, f.ID())
		}
	}

	p.virtual = len(virtual)
	p.recordIDs = make([]model.FeatureID, 0, len(p.storedIDs)+len(virtual)+1)
	p.recordIDs = append(p.recordIDs, p.storedIDs...)
	p.recordIDs = append(p.recordIDs, virtual...)
	p.recordIDs = append(p.recordIDs, model.ScoreFeatureID)
	return p, nil
}

// EstimatedBytes approximates the memory held by the finished records.
func (p *Plan) EstimatedBytes() int64 {
	const (
		slotBytes   = 8  // *model.Record in Out
		headerBytes = 88 // model.Record with three slice headers
		valueBytes  = 12 // feature id + float64
		groupBytes  = 4
	)
	perRecord := slotBytes + headerBytes + valueBytes*len(p.recordIDs) + groupBytes*len(p.WorkingSet.SelectAll())
	return int64(len(p.Out)) * int64(perRecord)
}

// StoredFeatures returns the ids read from the store, in order.
func (p *Plan) StoredFeatures() []model.FeatureID { return p.storedIDs }

// record builds the record of id from the stored values.
func (p *Plan) record(id model.RecordID, values []float64) (*model.Record, error) {
	all := make([]float64, 0, len(p.recordIDs))
	all = append(all, values...)
	for range p.virtual {
		all = append(all, model.Missing())
	}
	all = append(all, p.Strategy.Score(p.stored, values))

	return model.NewRecord(id, p.recordIDs, all, p.WorkingSet.Membership(id))
}

// recordID returns the id materialized at output index i.
func (p *Plan) recordID(i int) model.RecordID {
	if p.WorkingSet.Mode() == filter.ModeUnfiltered {
		return model.RecordID(i + 1)
	}
	return p.WorkingSet.IDs()[i]
}

// Job is one worker's share of a plan.
type Job struct {
	Plan  *Plan
	Chunk partition.Chunk
}

// Report describes how a job ended.
type Report struct {
	Chunk    partition.Chunk
	Records  int
	Failed   bool
	Err      error
	Duration time.Duration
}

// Worker reads rows for jobs. A Worker is stateless and may run several
// jobs concurrently; each run opens its own store session.
type Worker struct {
	store     store.Store
	resources *resource.Controller
}

// NewWorker creates a Worker. rc may be nil.
func NewWorker(s store.Store, rc *resource.Controller) *Worker {
	return &Worker{store: s, resources: rc}
}

// Run fills job.Plan.Out[job.Chunk.Start:job.Chunk.End].
//
// Run never fails the rebuild. When the store cannot be read the whole
// range is filled with records whose stored values are missing; group
// membership and score are still computed. The returned report carries
// the cause.
func (w *Worker) Run(ctx context.Context, job Job) Report {
	start := time.Now()
	rep := Report{Chunk: job.Chunk, Records: job.Chunk.Len()}

	if err := w.read(ctx, job); err != nil {
		rep.Failed = true
		rep.Err = errors.Join(err, fillMissing(job))
	}

	rep.Duration = time.Since(start)
	return rep
}

func (w *Worker) read(ctx context.Context, job Job) (err error) {
	if err := w.resources.AcquireSession(ctx); err != nil {
		return err
	}
	defer w.resources.ReleaseSession()

	sess, err := w.store.Session(ctx)
	if err != nil {
		return store.NewAccessError("session", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil && err == nil {
			err = store.NewAccessError("session_close", cerr)
		}
	}()

	if job.Plan.WorkingSet.Mode() == filter.ModeUnfiltered {
		return w.scan(ctx, sess, job)
	}
	return w.lookup(ctx, sess, job)
}

// scan reads the chunk with one range scan over ids Start+1..End.
func (w *Worker) scan(ctx context.Context, sess store.Session, job Job) error {
	p, c := job.Plan, job.Chunk

	if err := w.resources.AcquireQuery(ctx, 1); err != nil {
		return err
	}

	next := c.Start
	for row, err := range sess.RangeScan(ctx, p.storedIDs, model.RecordID(c.Start+1), model.RecordID(c.End)) {
		if err != nil {
			return store.NewAccessError("range_scan", err)
		}
		if next >= c.End || row.ID != p.recordID(next) {
			return store.NewAccessError("range_scan", fmt.Errorf("unexpected record %d at index %d", row.ID, next))
		}

		rec, err := p.record(row.ID, row.Values)
		if err != nil {
			return err
		}
		p.Out[next] = rec
		next++
	}

	if next != c.End {
		return store.NewAccessError("range_scan", fmt.Errorf("scan ended after %d of %d records", next-c.Start, c.Len()))
	}
	return nil
}

// lookup reads the chunk with one point lookup per working-set id.
func (w *Worker) lookup(ctx context.Context, sess store.Session, job Job) error {
	p, c := job.Plan, job.Chunk

	for i := c.Start; i < c.End; i++ {
		if err := w.resources.AcquireQuery(ctx, 1); err != nil {
			return err
		}

		id := p.recordID(i)
		row, err := sess.PointLookup(ctx, p.storedIDs, id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// A static id past the stored range reads as a missing row.
			row = store.Missing(id, len(p.storedIDs))
		case err != nil:
			return store.NewAccessError("point_lookup", err)
		}

		rec, err := p.record(id, row.Values)
		if err != nil {
			return err
		}
		p.Out[i] = rec
	}
	return nil
}

// fillMissing overwrites the whole chunk with missing-value records.
func fillMissing(job Job) error {
	p, c := job.Plan, job.Chunk
	n := len(p.storedIDs)

	for i := c.Start; i < c.End; i++ {
		id := p.recordID(i)
		rec, err := p.record(id, store.Missing(id, n).Values)
		if err != nil {
			return err
		}
		p.Out[i] = rec
	}
	return nil
}
