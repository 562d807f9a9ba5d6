package constraint

import (
	"fmt"
	"math"
	"slices"

	"github.com/hupe1980/featview/model"
)

// ID identifies a constraint.
type ID uint64

// Kind identifies the variant stored in a Constraint.
type Kind uint8

const (
	// KindInvalid represents the zero Constraint.
	KindInvalid Kind = iota
	// KindStatic selects an explicit list of record ids.
	KindStatic
	// KindDynamic selects the records matching a predicate.
	KindDynamic
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindDynamic:
		return "dynamic"
	default:
		return "invalid"
	}
}

// Predicate is the payload of a dynamic constraint: Feature Op Threshold.
type Predicate struct {
	Feature   model.FeatureID
	Op        Operator
	Threshold float64
}

// Eq returns the predicate "feature = threshold".
func Eq(feature model.FeatureID, threshold float64) Predicate {
	return Predicate{Feature: feature, Op: OpEqual, Threshold: threshold}
}

// Neq returns the predicate "feature ≠ threshold".
func Neq(feature model.FeatureID, threshold float64) Predicate {
	return Predicate{Feature: feature, Op: OpNotEqual, Threshold: threshold}
}

// Gt returns the predicate "feature > threshold".
func Gt(feature model.FeatureID, threshold float64) Predicate {
	return Predicate{Feature: feature, Op: OpGreaterThan, Threshold: threshold}
}

// Gte returns the predicate "feature ≥ threshold".
func Gte(feature model.FeatureID, threshold float64) Predicate {
	return Predicate{Feature: feature, Op: OpGreaterEqual, Threshold: threshold}
}

// Lt returns the predicate "feature < threshold".
func Lt(feature model.FeatureID, threshold float64) Predicate {
	return Predicate{Feature: feature, Op: OpLessThan, Threshold: threshold}
}

// Lte returns the predicate "feature ≤ threshold".
func Lte(feature model.FeatureID, threshold float64) Predicate {
	return Predicate{Feature: feature, Op: OpLessEqual, Threshold: threshold}
}

// Matches reports whether value satisfies the predicate.
func (p Predicate) Matches(value float64) bool {
	return p.Op.Compare(value, p.Threshold)
}

// Validate checks the predicate shape.
func (p Predicate) Validate() error {
	if p.Feature <= 0 {
		return fmt.Errorf("%w: predicate on non-stored feature %d", model.ErrInvalidArgument, p.Feature)
	}
	if !p.Op.Valid() {
		return fmt.Errorf("%w: unknown operator %q", model.ErrInvalidArgument, p.Op)
	}
	if math.IsNaN(p.Threshold) || math.IsInf(p.Threshold, 0) {
		return fmt.Errorf("%w: threshold must be finite", model.ErrInvalidArgument)
	}
	return nil
}

// String returns a string representation of the Predicate.
func (p Predicate) String() string {
	return fmt.Sprintf("f%d %s %g", p.Feature, p.Op.Symbol(), p.Threshold)
}

// Constraint is an immutable tagged union of a static id list and a
// dynamic predicate. Use Kind to select the payload accessor.
type Constraint struct {
	id     ID
	active bool
	kind   Kind

	ids       []model.RecordID // KindStatic
	predicate Predicate        // KindDynamic
}

// NewStatic creates an active static constraint. ids must be non-empty
// and positive; duplicates are allowed and removed on evaluation.
func NewStatic(id ID, ids []model.RecordID) (Constraint, error) {
	if len(ids) == 0 {
		return Constraint{}, fmt.Errorf("%w: static constraint %d has no ids", model.ErrInvalidArgument, id)
	}
	if slices.Contains(ids, 0) {
		return Constraint{}, fmt.Errorf("%w: static constraint %d contains record id 0", model.ErrInvalidArgument, id)
	}
	return Constraint{
		id:     id,
		active: true,
		kind:   KindStatic,
		ids:    slices.Clone(ids),
	}, nil
}

// NewDynamic creates an active dynamic constraint.
func NewDynamic(id ID, p Predicate) (Constraint, error) {
	if err := p.Validate(); err != nil {
		return Constraint{}, fmt.Errorf("dynamic constraint %d: %w", id, err)
	}
	return Constraint{
		id:        id,
		active:    true,
		kind:      KindDynamic,
		predicate: p,
	}, nil
}

// ID returns the constraint id.
func (c Constraint) ID() ID { return c.id }

// Kind returns the variant tag.
func (c Constraint) Kind() Kind { return c.kind }

// Active reports whether the constraint takes part in evaluation.
func (c Constraint) Active() bool { return c.active }

// WithActive returns a copy with the given activation state.
func (c Constraint) WithActive(active bool) Constraint {
	c.active = active
	return c
}

// IDs returns the explicit id list of a static constraint, nil otherwise.
func (c Constraint) IDs() []model.RecordID {
	if c.kind != KindStatic {
		return nil
	}
	return slices.Clone(c.ids)
}

// Predicate returns the predicate of a dynamic constraint.
// ok is false for other kinds.
func (c Constraint) Predicate() (p Predicate, ok bool) {
	if c.kind != KindDynamic {
		return Predicate{}, false
	}
	return c.predicate, true
}

// String returns a string representation of the Constraint.
func (c Constraint) String() string {
	state := "active"
	if !c.active {
		state = "inactive"
	}
	switch c.kind {
	case KindStatic:
		return fmt.Sprintf("Constraint(%d static %d ids %s)", c.id, len(c.ids), state)
	case KindDynamic:
		return fmt.Sprintf("Constraint(%d %s %s)", c.id, c.predicate, state)
	default:
		return fmt.Sprintf("Constraint(%d invalid)", c.id)
	}
}
