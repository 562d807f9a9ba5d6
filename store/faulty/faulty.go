// Package faulty wraps a store.Store and injects failures.
package faulty

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/hupe1980/featview/constraint"
	"github.com/hupe1980/featview/model"
	"github.com/hupe1980/featview/store"
)

// ErrInjected is the default error returned by a triggered fault.
var ErrInjected = errors.New("injected fault error")

// Op names a store operation.
type Op string

const (
	OpCount         Op = "count"
	OpPredicateScan Op = "predicate_scan"
	OpSession       Op = "session"
	OpRangeScan     Op = "range_scan"
	OpPointLookup   Op = "point_lookup"
)

// Fault defines specific failure behavior.
type Fault struct {
	Op Op // Operation to fail. Empty matches every operation.

	// FromID and ToID restrict the fault to ids in [FromID, ToID]. A range
	// scan fails when it reaches the first matching id. Zero disables.
	FromID model.RecordID
	ToID   model.RecordID

	Times int   // Trigger at most this many times. 0 means always.
	Err   error // Defaults to ErrInjected.
}

func (f *Fault) matches(op Op, id model.RecordID) bool {
	if f.Op != "" && f.Op != op {
		return false
	}
	if f.FromID == 0 && f.ToID == 0 {
		return true
	}
	return id != 0 && id >= f.FromID && (f.ToID == 0 || id <= f.ToID)
}

// Store is a store.Store wrapper that can inject errors.
type Store struct {
	store.Store

	mu    sync.Mutex
	rules []*rule
	calls map[Op]int
}

type rule struct {
	fault Fault
	fired int
}

// New creates a new Store wrapping s.
func New(s store.Store) *Store {
	return &Store{
		Store: s,
		calls: make(map[Op]int),
	}
}

// AddRule adds a fault injection rule. The first matching rule wins.
func (s *Store) AddRule(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, &rule{fault: f})
}

// Reset removes every rule and clears the call counters.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = nil
	s.calls = make(map[Op]int)
}

// Calls returns how often op was invoked.
func (s *Store) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// check records a call and returns the injected error, if any.
func (s *Store) check(op Op, id model.RecordID, count bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if count {
		s.calls[op]++
	}
	for _, r := range s.rules {
		if !r.fault.matches(op, id) {
			continue
		}
		if r.fault.Times > 0 && r.fired >= r.fault.Times {
			continue
		}
		r.fired++
		if r.fault.Err != nil {
			return store.NewAccessError(string(op), r.fault.Err)
		}
		return store.NewAccessError(string(op), ErrInjected)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	if err := s.check(OpCount, 0, true); err != nil {
		return 0, err
	}
	return s.Store.Count(ctx)
}

func (s *Store) PredicateScan(ctx context.Context, p constraint.Predicate) ([]model.RecordID, error) {
	if err := s.check(OpPredicateScan, 0, true); err != nil {
		return nil, err
	}
	return s.Store.PredicateScan(ctx, p)
}

func (s *Store) Session(ctx context.Context) (store.Session, error) {
	if err := s.check(OpSession, 0, true); err != nil {
		return nil, err
	}
	sess, err := s.Store.Session(ctx)
	if err != nil {
		return nil, err
	}
	return &session{Session: sess, store: s}, nil
}

type session struct {
	store.Session
	store *Store
}

func (ss *session) RangeScan(ctx context.Context, features []model.FeatureID, start, end model.RecordID) iter.Seq2[store.Row, error] {
	return func(yield func(store.Row, error) bool) {
		if err := ss.store.check(OpRangeScan, 0, true); err != nil {
			yield(store.Row{}, err)
			return
		}
		for row, err := range ss.Session.RangeScan(ctx, features, start, end) {
			if err == nil {
				err = ss.store.check(OpRangeScan, row.ID, false)
			}
			if err != nil {
				yield(store.Row{}, err)
				return
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

func (ss *session) PointLookup(ctx context.Context, features []model.FeatureID, id model.RecordID) (store.Row, error) {
	if err := ss.store.check(OpPointLookup, id, true); err != nil {
		return store.Row{}, err
	}
	return ss.Session.PointLookup(ctx, features, id)
}
