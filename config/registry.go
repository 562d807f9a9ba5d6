package config

import (
	"fmt"
	"slices"
	"sync"

	"github.com/hupe1980/featview/constraint"
	"github.com/hupe1980/featview/model"
	"github.com/hupe1980/featview/scoring"
)

// Invalidator is notified after every registry change.
// *featview.View implements it.
type Invalidator interface {
	Invalidate()
}

type subscriber struct {
	id  uint64
	inv Invalidator
}

// Registry is the mutable source of features, groups and the scoring
// strategy. It implements the View provider interfaces. Every successful
// mutation notifies the subscribers in subscription order, after the
// registry lock is released.
type Registry struct {
	mu       sync.RWMutex
	features []*model.Feature
	inactive map[model.FeatureID]bool
	score    *model.Feature
	groups   []constraint.Group
	strategy scoring.Strategy
	alloc    *constraint.IDAllocator

	subMu   sync.Mutex
	subs    []subscriber
	nextSub uint64
}

// NewRegistry creates a registry. The score feature named scoreName takes
// its bounds from whichever strategy is current.
func NewRegistry(scoreName string, strategy scoring.Strategy) (*Registry, error) {
	if strategy == nil {
		return nil, fmt.Errorf("%w: scoring strategy is nil", model.ErrInvalidArgument)
	}
	r := &Registry{
		inactive: make(map[model.FeatureID]bool),
		strategy: strategy,
		alloc:    constraint.NewIDAllocator(),
	}
	score, err := model.NewScoreFeature(scoreName, r)
	if err != nil {
		return nil, err
	}
	r.score = score
	return r, nil
}

// FromConfig builds a registry from a validated configuration.
func FromConfig(cfg *Config) (*Registry, error) {
	strategy, err := cfg.Scoring.Build()
	if err != nil {
		return nil, err
	}
	name := cfg.Scoring.Name
	if name == "" {
		name = "score"
	}
	r, err := NewRegistry(name, strategy)
	if err != nil {
		return nil, err
	}

	for _, fc := range cfg.Features {
		var f *model.Feature
		if fc.Virtual {
			f, err = model.NewVirtualFeature(model.FeatureID(fc.ID), fc.Name, fc.Min, fc.Max)
		} else {
			f, err = model.NewFeature(model.FeatureID(fc.ID), fc.Name, fc.Min, fc.Max)
		}
		if err != nil {
			return nil, err
		}
		r.features = append(r.features, f)
		if fc.Inactive {
			r.inactive[f.ID()] = true
		}
	}

	for _, gc := range cfg.Groups {
		for _, cc := range gc.Constraints {
			r.alloc.Observe(constraint.ID(cc.ID))
		}
	}
	for _, gc := range cfg.Groups {
		constraints := make([]constraint.Constraint, 0, len(gc.Constraints))
		for _, cc := range gc.Constraints {
			c, err := cc.build(r.alloc)
			if err != nil {
				return nil, fmt.Errorf("group %d: %w", gc.ID, err)
			}
			constraints = append(constraints, c)
		}
		g, err := constraint.NewGroup(model.GroupID(gc.ID), gc.Name, !gc.Hidden, constraints...)
		if err != nil {
			return nil, err
		}
		r.groups = append(r.groups, g.WithScoreColor(model.FeatureID(gc.ScoreColor)))
	}
	return r, nil
}

// MinValue returns the lower score bound of the current strategy.
func (r *Registry) MinValue() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.strategy.MinValue()
}

// MaxValue returns the upper score bound of the current strategy.
func (r *Registry) MaxValue() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.strategy.MaxValue()
}

// ActiveFeatures returns the active features in definition order, followed
// by the score feature.
func (r *Registry) ActiveFeatures() []*model.Feature {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Feature, 0, len(r.features)+1)
	for _, f := range r.features {
		if !r.inactive[f.ID()] {
			out = append(out, f)
		}
	}
	return append(out, r.score)
}

// ActiveGroups returns every group, visible or not.
func (r *Registry) ActiveGroups() []constraint.Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.groups)
}

// ActiveStrategy returns the current scoring strategy.
func (r *Registry) ActiveStrategy() scoring.Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.strategy
}

// Feature returns feature fid. The score feature is found by
// model.ScoreFeatureID.
func (r *Registry) Feature(fid model.FeatureID) (*model.Feature, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if fid == model.ScoreFeatureID {
		return r.score, true
	}
	i := slices.IndexFunc(r.features, func(f *model.Feature) bool { return f.ID() == fid })
	if i < 0 {
		return nil, false
	}
	return r.features[i], true
}

// Group returns group gid.
func (r *Registry) Group(gid model.GroupID) (constraint.Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.groupIndex(gid)
	if i < 0 {
		return constraint.Group{}, false
	}
	return r.groups[i], true
}

// Subscribe registers inv for change notifications and returns a function
// that removes it again.
func (r *Registry) Subscribe(inv Invalidator) (unsubscribe func()) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	r.nextSub++
	id := r.nextSub
	r.subs = append(r.subs, subscriber{id: id, inv: inv})

	return func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		r.subs = slices.DeleteFunc(r.subs, func(s subscriber) bool { return s.id == id })
	}
}

func (r *Registry) notify() {
	r.subMu.Lock()
	subs := slices.Clone(r.subs)
	r.subMu.Unlock()

	for _, s := range subs {
		s.inv.Invalidate()
	}
}

// update runs fn under the write lock and notifies on success.
func (r *Registry) update(fn func() error) error {
	r.mu.Lock()
	err := fn()
	r.mu.Unlock()

	if err != nil {
		return err
	}
	r.notify()
	return nil
}

func (r *Registry) groupIndex(gid model.GroupID) int {
	return slices.IndexFunc(r.groups, func(g constraint.Group) bool { return g.ID() == gid })
}

func (r *Registry) withGroup(gid model.GroupID, fn func(constraint.Group) (constraint.Group, error)) error {
	return r.update(func() error {
		i := r.groupIndex(gid)
		if i < 0 {
			return fmt.Errorf("%w: unknown group %d", model.ErrInvalidArgument, gid)
		}
		g, err := fn(r.groups[i])
		if err != nil {
			return err
		}
		r.groups = slices.Clone(r.groups)
		r.groups[i] = g
		return nil
	})
}

// AddFeature appends a feature.
func (r *Registry) AddFeature(f *model.Feature) error {
	return r.update(func() error {
		if f == nil || f.IsScore() {
			return fmt.Errorf("%w: feature must be a stored or virtual feature", model.ErrInvalidArgument)
		}
		if slices.ContainsFunc(r.features, func(o *model.Feature) bool { return o.ID() == f.ID() }) {
			return fmt.Errorf("%w: feature %d already registered", model.ErrInvalidArgument, f.ID())
		}
		r.features = append(slices.Clone(r.features), f)
		return nil
	})
}

// SetFeatureActive activates or deactivates feature fid.
func (r *Registry) SetFeatureActive(fid model.FeatureID, active bool) error {
	return r.update(func() error {
		if !slices.ContainsFunc(r.features, func(f *model.Feature) bool { return f.ID() == fid }) {
			return fmt.Errorf("%w: unknown feature %d", model.ErrInvalidArgument, fid)
		}
		if active {
			delete(r.inactive, fid)
		} else {
			r.inactive[fid] = true
		}
		return nil
	})
}

// SetStrategy replaces the scoring strategy. The score feature bounds
// follow it.
func (r *Registry) SetStrategy(s scoring.Strategy) error {
	return r.update(func() error {
		if s == nil {
			return fmt.Errorf("%w: scoring strategy is nil", model.ErrInvalidArgument)
		}
		r.strategy = s
		return nil
	})
}

// AddGroup appends group g.
func (r *Registry) AddGroup(g constraint.Group) error {
	return r.update(func() error {
		if g.ID() == 0 {
			return fmt.Errorf("%w: group id must be positive", model.ErrInvalidArgument)
		}
		if r.groupIndex(g.ID()) >= 0 {
			return fmt.Errorf("%w: group %d already registered", model.ErrInvalidArgument, g.ID())
		}
		for _, c := range g.Constraints() {
			r.alloc.Observe(c.ID())
		}
		r.groups = append(slices.Clone(r.groups), g)
		return nil
	})
}

// RemoveGroup removes group gid.
func (r *Registry) RemoveGroup(gid model.GroupID) error {
	return r.update(func() error {
		i := r.groupIndex(gid)
		if i < 0 {
			return fmt.Errorf("%w: unknown group %d", model.ErrInvalidArgument, gid)
		}
		r.groups = slices.Delete(slices.Clone(r.groups), i, i+1)
		return nil
	})
}

// SetGroupVisible shows or hides group gid.
func (r *Registry) SetGroupVisible(gid model.GroupID, visible bool) error {
	return r.withGroup(gid, func(g constraint.Group) (constraint.Group, error) {
		return g.WithVisible(visible), nil
	})
}

// AddStatic appends a static constraint on ids to group gid.
func (r *Registry) AddStatic(gid model.GroupID, ids []model.RecordID) (constraint.ID, error) {
	id := r.alloc.Next()
	err := r.withGroup(gid, func(g constraint.Group) (constraint.Group, error) {
		c, err := constraint.NewStatic(id, ids)
		if err != nil {
			return g, err
		}
		return g.WithConstraint(c)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AddDynamic appends a dynamic constraint on p to group gid.
func (r *Registry) AddDynamic(gid model.GroupID, p constraint.Predicate) (constraint.ID, error) {
	id := r.alloc.Next()
	err := r.withGroup(gid, func(g constraint.Group) (constraint.Group, error) {
		c, err := constraint.NewDynamic(id, p)
		if err != nil {
			return g, err
		}
		return g.WithConstraint(c)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// RemoveConstraint removes constraint cid from group gid.
func (r *Registry) RemoveConstraint(gid model.GroupID, cid constraint.ID) error {
	return r.withGroup(gid, func(g constraint.Group) (constraint.Group, error) {
		out, ok := g.WithoutConstraint(cid)
		if !ok {
			return g, fmt.Errorf("%w: group %d has no constraint %d", model.ErrInvalidArgument, gid, cid)
		}
		return out, nil
	})
}

// SetConstraintActive activates or deactivates constraint cid of group gid.
func (r *Registry) SetConstraintActive(gid model.GroupID, cid constraint.ID, active bool) error {
	return r.withGroup(gid, func(g constraint.Group) (constraint.Group, error) {
		out, ok := g.WithConstraintActive(cid, active)
		if !ok {
			return g, fmt.Errorf("%w: group %d has no constraint %d", model.ErrInvalidArgument, gid, cid)
		}
		return out, nil
	})
}
