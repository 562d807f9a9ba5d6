package model

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
)

// ErrInvalidArgument is returned by constructors when an argument is invalid.
var ErrInvalidArgument = errors.New("invalid argument")

// FeatureID identifies a feature. Stored features use positive ids.
type FeatureID int32

// ScoreFeatureID is the reserved id of the derived aggregate score feature.
const ScoreFeatureID FeatureID = -1

// RecordID is the stable, 1-based identifier of a stored record.
type RecordID uint32

// GroupID identifies a logical group of records.
type GroupID uint32

// Missing returns the sentinel used for missing or unavailable values.
func Missing() float64 { return math.NaN() }

// IsMissing reports whether v is the missing-value sentinel.
func IsMissing(v float64) bool { return math.IsNaN(v) }

// Bounds provides the value range of a derived feature.
// Implemented by scoring strategies.
type Bounds interface {
	MinValue() float64
	MaxValue() float64
}

// Feature describes a numeric column. All fields except the name are immutable.
type Feature struct {
	id          FeatureID
	scoreOutput bool
	virtual     bool
	min, max    float64
	bounds      Bounds // non-nil only for the score feature

	mu   sync.RWMutex
	name string
}

// NewFeature creates a stored feature.
func NewFeature(id FeatureID, name string, minVal, maxVal float64) (*Feature, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: feature id must be positive, got %d", ErrInvalidArgument, id)
	}
	if math.IsNaN(minVal) || math.IsNaN(maxVal) || minVal > maxVal {
		return nil, fmt.Errorf("%w: feature %d has invalid bounds [%v, %v]", ErrInvalidArgument, id, minVal, maxVal)
	}
	return &Feature{
		id:   id,
		name: name,
		min:  minVal,
		max:  maxVal,
	}, nil
}

// NewVirtualFeature creates a computed feature that is not read from the store.
func NewVirtualFeature(id FeatureID, name string, minVal, maxVal float64) (*Feature, error) {
	f, err := NewFeature(id, name, minVal, maxVal)
	if err != nil {
		return nil, err
	}
	f.virtual = true
	return f, nil
}

// NewScoreFeature creates the derived score feature. Its bounds are
// delegated to b, usually the active scoring strategy.
func NewScoreFeature(name string, b Bounds) (*Feature, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: score feature requires bounds", ErrInvalidArgument)
	}
	return &Feature{
		id:          ScoreFeatureID,
		name:        name,
		scoreOutput: true,
		virtual:     true,
		bounds:      b,
	}, nil
}

// ID returns the feature id.
func (f *Feature) ID() FeatureID { return f.id }

// Name returns the display name.
func (f *Feature) Name() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.name
}

// Rename changes the display name.
func (f *Feature) Rename(name string) {
	f.mu.Lock()
	f.name = name
	f.mu.Unlock()
}

// IsScoreOutput reports whether the feature holds the aggregate score.
func (f *Feature) IsScoreOutput() bool { return f.scoreOutput }

// IsVirtual reports whether the feature is computed rather than stored.
func (f *Feature) IsVirtual() bool { return f.virtual }

// IsScore reports whether f is the derived score feature.
func (f *Feature) IsScore() bool { return f.id == ScoreFeatureID }

// Min returns the lower bound.
func (f *Feature) Min() float64 {
	if f.bounds != nil {
		return f.bounds.MinValue()
	}
	return f.min
}

// Max returns the upper bound.
func (f *Feature) Max() float64 {
	if f.bounds != nil {
		return f.bounds.MaxValue()
	}
	return f.max
}

// Normalize maps v into [0, 1] using the feature bounds.
// A degenerate range maps every non-missing value to 0.
func (f *Feature) Normalize(v float64) float64 {
	if IsMissing(v) {
		return v
	}
	lo, hi := f.Min(), f.Max()
	if hi <= lo {
		return 0
	}
	n := (v - lo) / (hi - lo)
	return math.Max(0, math.Min(1, n))
}

// String returns a string representation of the Feature.
func (f *Feature) String() string {
	return fmt.Sprintf("Feature(%d:%s)", f.id, f.Name())
}

// Record is the materialized view of one stored row.
// Records are immutable once constructed.
type Record struct {
	id       RecordID
	features []FeatureID // sorted ascending
	values   []float64   // aligned with features
	groups   []GroupID   // sorted ascending, unique
}

// NewRecord creates a record. values must be aligned with featureIDs.
// Both slices and groups are copied.
func NewRecord(id RecordID, featureIDs []FeatureID, values []float64, groups []GroupID) (*Record, error) {
	if id == 0 {
		return nil, fmt.Errorf("%w: record id must be positive", ErrInvalidArgument)
	}
	if len(featureIDs) != len(values) {
		return nil, fmt.Errorf("%w: record %d has %d feature ids but %d values", ErrInvalidArgument, id, len(featureIDs), len(values))
	}

	idx := make([]int, len(featureIDs))
	for i := range idx {
		idx[i] = i
	}
	slices.SortFunc(idx, func(a, b int) int { return cmp.Compare(featureIDs[a], featureIDs[b]) })

	r := &Record{
		id:       id,
		features: make([]FeatureID, len(featureIDs)),
		values:   make([]float64, len(values)),
	}
	for i, j := range idx {
		if i > 0 && featureIDs[j] == r.features[i-1] {
			return nil, fmt.Errorf("%w: record %d has duplicate feature %d", ErrInvalidArgument, id, featureIDs[j])
		}
		r.features[i] = featureIDs[j]
		r.values[i] = values[j]
	}

	if len(groups) > 0 {
		r.groups = slices.Clone(groups)
		slices.Sort(r.groups)
		r.groups = slices.Compact(r.groups)
	}
	return r, nil
}

// ID returns the record id.
func (r *Record) ID() RecordID { return r.id }

// Value returns the value of feature fid, or NaN if the record has no such feature.
func (r *Record) Value(fid FeatureID) float64 {
	if i, ok := slices.BinarySearch(r.features, fid); ok {
		return r.values[i]
	}
	return Missing()
}

// Has reports whether the record carries feature fid.
func (r *Record) Has(fid FeatureID) bool {
	_, ok := slices.BinarySearch(r.features, fid)
	return ok
}

// Score returns the derived aggregate score.
func (r *Record) Score() float64 { return r.Value(ScoreFeatureID) }

// FeatureIDs returns the feature ids carried by the record, ascending.
func (r *Record) FeatureIDs() []FeatureID { return slices.Clone(r.features) }

// Values returns a copy of the feature-id to value mapping.
func (r *Record) Values() map[FeatureID]float64 {
	m := make(map[FeatureID]float64, len(r.features))
	for i, fid := range r.features {
		m[fid] = r.values[i]
	}
	return m
}

// Groups returns the groups the record belongs to, ascending.
func (r *Record) Groups() []GroupID { return slices.Clone(r.groups) }

// InGroup reports whether the record belongs to group gid.
func (r *Record) InGroup(gid GroupID) bool {
	_, ok := slices.BinarySearch(r.groups, gid)
	return ok
}

// IsMissing reports whether every stored (non-score) value is missing.
func (r *Record) IsMissing() bool {
	for i, fid := range r.features {
		if fid == ScoreFeatureID {
			continue
		}
		if !IsMissing(r.values[i]) {
			return false
		}
	}
	return true
}

// String returns a string representation of the Record.
func (r *Record) String() string {
	return fmt.Sprintf("Record(%d)", r.id)
}
