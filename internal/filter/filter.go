// Package filter turns group constraints into the set of record ids a
// rebuild must materialize.
//
// Each visible group with active constraints is reduced to one id set:
// the union of its static id lists, intersected in order with the result
// of each dynamic predicate scan. While the running set is empty a dynamic
// result seeds it instead of being intersected. A group whose constraints
// are meant to select nothing can therefore widen to the next predicate's
// matches; callers rely on this behavior and it is kept as is.
package filter

import (
	"context"
	"slices"

	"github.com/hupe1980/featview/constraint"
	"github.com/hupe1980/featview/internal/bitmap"
	"github.com/hupe1980/featview/model"
	"github.com/hupe1980/featview/store"
)

// Mode selects how records are read.
type Mode uint8

const (
	// ModeFiltered materializes the working-set ids by point lookup.
	ModeFiltered Mode = iota
	// ModeUnfiltered materializes every stored id by range scan.
	ModeUnfiltered
)

func (m Mode) String() string {
	if m == ModeUnfiltered {
		return "unfiltered"
	}
	return "filtered"
}

// GroupSet is the frozen id set of one group.
type GroupSet struct {
	ID  model.GroupID
	Set *bitmap.Frozen
}

// WorkingSet is the read-only result of Evaluate. It is shared by all
// record workers of one rebuild.
type WorkingSet struct {
	mode      Mode
	size      int
	ids       []model.RecordID
	groupSets []GroupSet
	selectAll []model.GroupID
}

// Mode returns the materialization mode.
func (ws *WorkingSet) Mode() Mode { return ws.mode }

// Size returns the number of records to materialize.
func (ws *WorkingSet) Size() int { return ws.size }

// IDs returns the filtered ids in ascending order. It is nil in
// unfiltered mode, where index i maps to record id i+1.
func (ws *WorkingSet) IDs() []model.RecordID { return ws.ids }

// GroupSets returns the evaluated groups in input order.
func (ws *WorkingSet) GroupSets() []GroupSet { return ws.groupSets }

// SelectAll returns the visible groups without active constraints.
func (ws *WorkingSet) SelectAll() []model.GroupID { return ws.selectAll }

// Membership returns the groups record id belongs to. The select-all
// groups are only reported in unfiltered mode.
func (ws *WorkingSet) Membership(id model.RecordID) []model.GroupID {
	var out []model.GroupID
	if ws.mode == ModeUnfiltered {
		out = append(out, ws.selectAll...)
	}
	for _, gs := range ws.groupSets {
		if gs.Set.Contains(id) {
			out = append(out, gs.ID)
		}
	}
	return out
}

// GroupSet returns the set of group gid.
func (ws *WorkingSet) GroupSet(gid model.GroupID) (*bitmap.Frozen, bool) {
	i := slices.IndexFunc(ws.groupSets, func(gs GroupSet) bool { return gs.ID == gid })
	if i < 0 {
		return nil, false
	}
	return ws.groupSets[i].Set, true
}

// Evaluate builds the working set for groups.
//
// With no groups at all, or with any visible unconstrained group, every
// stored id is selected and the store is asked for its count. Group sets
// are evaluated in either mode since record membership depends on them.
// A failed predicate scan or count aborts evaluation with a
// *store.AccessError.
func Evaluate(ctx context.Context, s store.Store, groups []constraint.Group) (*WorkingSet, error) {
	ws := &WorkingSet{mode: ModeFiltered}
	if len(groups) == 0 {
		ws.mode = ModeUnfiltered
	}

	union := bitmap.New()
	for _, g := range groups {
		if !g.Visible() {
			continue
		}
		if g.Unconstrained() {
			ws.mode = ModeUnfiltered
			ws.selectAll = append(ws.selectAll, g.ID())
			continue
		}

		set, err := EvaluateGroup(ctx, s, g)
		if err != nil {
			return nil, err
		}
		union.Or(set)
		ws.groupSets = append(ws.groupSets, GroupSet{ID: g.ID(), Set: set.Freeze()})
	}

	if ws.mode == ModeUnfiltered {
		n, err := s.Count(ctx)
		if err != nil {
			return nil, store.NewAccessError("count", err)
		}
		ws.size = n
		return ws, nil
	}

	ws.ids = union.ToSlice()
	ws.size = len(ws.ids)
	return ws, nil
}

// EvaluateGroup reduces the active constraints of g to one id set.
func EvaluateGroup(ctx context.Context, s store.Store, g constraint.Group) (*bitmap.IDSet, error) {
	static, dynamic := g.Split()

	running := bitmap.New()
	for _, c := range static {
		running.AddMany(c.IDs())
	}

	for _, c := range dynamic {
		p, _ := c.Predicate()
		ids, err := s.PredicateScan(ctx, p)
		if err != nil {
			return nil, store.NewAccessError("predicate_scan", err)
		}

		matched := bitmap.Of(ids...)
		if running.IsEmpty() {
			running = matched
			continue
		}
		running.And(matched)
	}
	return running, nil
}
