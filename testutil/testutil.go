package testutil

import (
	"context"
	"math/rand"
	"slices"
	"sync"

	"github.com/hupe1980/featview/constraint"
	"github.com/hupe1980/featview/model"
	"github.com/hupe1980/featview/scoring"
	"github.com/hupe1980/featview/store"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// FillRange fills dst with random values in [minVal, maxVal).
// Locks only once per call.
func (r *RNG) FillRange(dst []float64, minVal, maxVal float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	span := maxVal - minVal
	for i := range dst {
		dst[i] = minVal + r.rand.Float64()*span
	}
}

// RowOptions controls generated rows.
type RowOptions struct {
	Min, Max float64
	NullRate float64 // probability of a missing value
}

// RowOption configures FillTable.
type RowOption func(*RowOptions)

// Nulls sets the probability of a missing value.
func Nulls(rate float64) RowOption {
	return func(o *RowOptions) { o.NullRate = rate }
}

// Bounds sets the value range.
func Bounds(minVal, maxVal float64) RowOption {
	return func(o *RowOptions) { o.Min, o.Max = minVal, maxVal }
}

// Row generates the values of one record. Missing features are omitted.
func (r *RNG) Row(features []model.FeatureID, optFns ...RowOption) map[model.FeatureID]float64 {
	o := RowOptions{Min: 0, Max: 100}
	for _, fn := range optFns {
		fn(&o)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	row := make(map[model.FeatureID]float64, len(features))
	for _, fid := range features {
		if o.NullRate > 0 && r.rand.Float64() < o.NullRate {
			continue
		}
		row[fid] = o.Min + r.rand.Float64()*(o.Max-o.Min)
	}
	return row
}

// FillTable writes n generated records with ids 1..n.
func FillTable(ctx context.Context, w store.Writer, n int, features []model.FeatureID, rng *RNG, optFns ...RowOption) error {
	for i := 1; i <= n; i++ {
		if err := w.Put(ctx, model.RecordID(i), rng.Row(features, optFns...)); err != nil {
			return err
		}
	}
	return nil
}

// Features creates stored features 1..n bounded by [0, 100].
func Features(n int) []*model.Feature {
	out := make([]*model.Feature, n)
	for i := range out {
		f, err := model.NewFeature(model.FeatureID(i+1), "", 0, 100)
		if err != nil {
			panic(err)
		}
		out[i] = f
	}
	return out
}

// Providers is a mutable feature, group and scoring provider.
// It is safe for concurrent use.
type Providers struct {
	mu       sync.RWMutex
	features []*model.Feature
	groups   []constraint.Group
	strategy scoring.Strategy
}

// NewProviders creates providers without groups.
func NewProviders(features []*model.Feature, strategy scoring.Strategy) *Providers {
	return &Providers{
		features: slices.Clone(features),
		strategy: strategy,
	}
}

func (p *Providers) ActiveFeatures() []*model.Feature {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.features)
}

func (p *Providers) ActiveGroups() []constraint.Group {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.groups)
}

func (p *Providers) ActiveStrategy() scoring.Strategy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.strategy
}

// SetFeatures replaces the active features.
func (p *Providers) SetFeatures(features ...*model.Feature) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.features = features
}

// SetGroups replaces the active groups.
func (p *Providers) SetGroups(groups ...constraint.Group) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.groups = groups
}

// SetStrategy replaces the active strategy.
func (p *Providers) SetStrategy(s scoring.Strategy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strategy = s
}
