package constraint

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/hupe1980/featview/model"
)

// Group is a named, ordered list of constraints. Groups are values; the
// With* methods return modified copies.
type Group struct {
	id          model.GroupID
	name        string
	visible     bool
	constraints []Constraint
	scoreColor  model.FeatureID // 0 = none
}

// NewGroup creates a group. The constraint order is preserved.
func NewGroup(id model.GroupID, name string, visible bool, constraints ...Constraint) (Group, error) {
	if id == 0 {
		return Group{}, fmt.Errorf("%w: group id must be positive", model.ErrInvalidArgument)
	}
	seen := make(map[ID]struct{}, len(constraints))
	for _, c := range constraints {
		if c.kind == KindInvalid {
			return Group{}, fmt.Errorf("%w: group %d holds an invalid constraint", model.ErrInvalidArgument, id)
		}
		if _, dup := seen[c.id]; dup {
			return Group{}, fmt.Errorf("%w: group %d holds constraint %d twice", model.ErrInvalidArgument, id, c.id)
		}
		seen[c.id] = struct{}{}
	}
	return Group{
		id:          id,
		name:        name,
		visible:     visible,
		constraints: slices.Clone(constraints),
	}, nil
}

// ID returns the group id.
func (g Group) ID() model.GroupID { return g.id }

// Name returns the display name.
func (g Group) Name() string { return g.name }

// Visible reports whether the group takes part in filtering.
func (g Group) Visible() bool { return g.visible }

// Constraints returns the ordered constraint list.
func (g Group) Constraints() []Constraint { return slices.Clone(g.constraints) }

// ScoreColor returns the feature used to color the group, if any.
func (g Group) ScoreColor() (model.FeatureID, bool) {
	return g.scoreColor, g.scoreColor != 0
}

// Unconstrained reports whether the group has no active constraint.
// An unconstrained visible group selects every stored record.
func (g Group) Unconstrained() bool {
	for _, c := range g.constraints {
		if c.active {
			return false
		}
	}
	return true
}

// Split partitions the active constraints into static and dynamic lists,
// preserving encounter order. Inactive constraints are dropped.
func (g Group) Split() (static, dynamic []Constraint) {
	for _, c := range g.constraints {
		if !c.active {
			continue
		}
		switch c.kind {
		case KindStatic:
			static = append(static, c)
		case KindDynamic:
			dynamic = append(dynamic, c)
		}
	}
	return static, dynamic
}

// WithVisible returns a copy with the given visibility.
func (g Group) WithVisible(visible bool) Group {
	g.visible = visible
	return g
}

// WithScoreColor returns a copy colored by feature fid (0 clears it).
func (g Group) WithScoreColor(fid model.FeatureID) Group {
	g.scoreColor = fid
	return g
}

// WithConstraint returns a copy with c appended.
func (g Group) WithConstraint(c Constraint) (Group, error) {
	return NewGroupFrom(g, append(slices.Clone(g.constraints), c))
}

// WithoutConstraint returns a copy without constraint id.
// ok is false if the group does not hold it.
func (g Group) WithoutConstraint(id ID) (out Group, ok bool) {
	i := slices.IndexFunc(g.constraints, func(c Constraint) bool { return c.id == id })
	if i < 0 {
		return g, false
	}
	g.constraints = slices.Delete(slices.Clone(g.constraints), i, i+1)
	return g, true
}

// WithConstraintActive returns a copy where constraint id has the given state.
func (g Group) WithConstraintActive(id ID, active bool) (out Group, ok bool) {
	i := slices.IndexFunc(g.constraints, func(c Constraint) bool { return c.id == id })
	if i < 0 {
		return g, false
	}
	g.constraints = slices.Clone(g.constraints)
	g.constraints[i] = g.constraints[i].WithActive(active)
	return g, true
}

// NewGroupFrom creates a group with the attributes of g and a new constraint list.
func NewGroupFrom(g Group, constraints []Constraint) (Group, error) {
	out, err := NewGroup(g.id, g.name, g.visible, constraints...)
	if err != nil {
		return Group{}, err
	}
	out.scoreColor = g.scoreColor
	return out, nil
}

// IDAllocator issues constraint ids. It is safe for concurrent use.
type IDAllocator struct {
	next atomic.Uint64
}

// NewIDAllocator creates an allocator whose first id is 1.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{}
}

// Next returns a fresh id.
func (a *IDAllocator) Next() ID {
	return ID(a.next.Add(1))
}

// Observe makes sure later ids are greater than id.
// Used when constraints with known ids are loaded.
func (a *IDAllocator) Observe(id ID) {
	for {
		cur := a.next.Load()
		if uint64(id) <= cur || a.next.CompareAndSwap(cur, uint64(id)) {
			return
		}
	}
}
