// Package memstore provides an in-memory store.Store.
package memstore

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/featview/constraint"
	"github.com/hupe1980/featview/model"
	"github.com/hupe1980/featview/store"
)

// Store is an in-memory, column-oriented table.
// It is safe for concurrent reads and writes.
type Store struct {
	mu      sync.RWMutex
	columns map[model.FeatureID][]float64
	rows    int

	sessions atomic.Int64
	closed   atomic.Bool
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Writer = (*Store)(nil)
)

// New creates an empty store holding the given feature columns.
func New(features ...model.FeatureID) *Store {
	s := &Store{
		columns: make(map[model.FeatureID][]float64, len(features)),
	}
	for _, fid := range features {
		s.columns[fid] = nil
	}
	return s
}

// Append stores a new record and returns its id.
func (s *Store) Append(values map[model.FeatureID]float64) model.RecordID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.growLocked(s.rows + 1)
	id := model.RecordID(s.rows)
	s.setLocked(id, values)
	return id
}

// Put stores the values of record id, growing the table with null rows
// when id is past the end.
func (s *Store) Put(_ context.Context, id model.RecordID, values map[model.FeatureID]float64) error {
	if id == 0 {
		return fmt.Errorf("%w: record id must be positive", model.ErrInvalidArgument)
	}
	if s.closed.Load() {
		return store.ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if int(id) > s.rows {
		s.growLocked(int(id))
	}
	s.setLocked(id, values)
	return nil
}

func (s *Store) growLocked(n int) {
	for fid, col := range s.columns {
		for len(col) < n {
			col = append(col, model.Missing())
		}
		s.columns[fid] = col
	}
	s.rows = n
}

func (s *Store) setLocked(id model.RecordID, values map[model.FeatureID]float64) {
	for fid, col := range s.columns {
		v, ok := values[fid]
		if !ok {
			v = model.Missing()
		}
		col[id-1] = v
	}
}

// Count returns the number of stored records.
func (s *Store) Count(_ context.Context) (int, error) {
	if s.closed.Load() {
		return 0, store.NewAccessError("count", store.ErrClosed)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rows, nil
}

// PredicateScan returns the ids matching p in ascending order.
func (s *Store) PredicateScan(_ context.Context, p constraint.Predicate) ([]model.RecordID, error) {
	if s.closed.Load() {
		return nil, store.NewAccessError("predicate_scan", store.ErrClosed)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.columns[p.Feature]
	if !ok {
		return nil, store.NewAccessError("predicate_scan", fmt.Errorf("unknown feature %d", p.Feature))
	}

	var ids []model.RecordID
	for i, v := range col {
		if p.Matches(v) {
			ids = append(ids, model.RecordID(i+1))
		}
	}
	return ids, nil
}

// Session opens a read session.
func (s *Store) Session(_ context.Context) (store.Session, error) {
	if s.closed.Load() {
		return nil, store.NewAccessError("session", store.ErrClosed)
	}
	s.sessions.Add(1)
	return &session{store: s}, nil
}

// OpenSessions returns the number of sessions not yet closed.
func (s *Store) OpenSessions() int {
	return int(s.sessions.Load())
}

// Close makes every later call fail.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

// readLocked copies the values of one row. The caller holds mu.
func (s *Store) readLocked(features []model.FeatureID, id model.RecordID) (store.Row, error) {
	if id == 0 || int(id) > s.rows {
		return store.Row{}, store.ErrNotFound
	}
	row := store.Row{ID: id, Values: make([]float64, len(features))}
	for i, fid := range features {
		col, ok := s.columns[fid]
		if !ok {
			return store.Row{}, fmt.Errorf("unknown feature %d", fid)
		}
		row.Values[i] = col[id-1]
	}
	return row, nil
}

type session struct {
	store  *Store
	closed bool
}

func (ss *session) RangeScan(_ context.Context, features []model.FeatureID, start, end model.RecordID) iter.Seq2[store.Row, error] {
	features = slices.Clone(features)
	return func(yield func(store.Row, error) bool) {
		if ss.closed || ss.store.closed.Load() {
			yield(store.Row{}, store.NewAccessError("range_scan", store.ErrClosed))
			return
		}
		for id := start; id <= end && id != 0; id++ {
			ss.store.mu.RLock()
			row, err := ss.store.readLocked(features, id)
			ss.store.mu.RUnlock()
			if err != nil {
				yield(store.Row{}, store.NewAccessError("range_scan", err))
				return
			}
			if !yield(row, nil) {
				return
			}
			if id == end {
				return
			}
		}
	}
}

func (ss *session) PointLookup(_ context.Context, features []model.FeatureID, id model.RecordID) (store.Row, error) {
	if ss.closed || ss.store.closed.Load() {
		return store.Row{}, store.NewAccessError("point_lookup", store.ErrClosed)
	}
	ss.store.mu.RLock()
	defer ss.store.mu.RUnlock()

	row, err := ss.store.readLocked(features, id)
	if err != nil {
		return store.Row{}, store.NewAccessError("point_lookup", err)
	}
	return row, nil
}

func (ss *session) Close() error {
	if ss.closed {
		return nil
	}
	ss.closed = true
	ss.store.sessions.Add(-1)
	return nil
}
