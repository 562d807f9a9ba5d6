// Package scoring provides aggregate score strategies.
//
// A Strategy is a pure function over the active stored features of one
// record. Missing values are skipped; a record without any value scores
// NaN.
package scoring

import (
	"fmt"
	"math"

	"github.com/hupe1980/featview/model"
)

// Strategy computes the derived score feature.
type Strategy interface {
	// Name identifies the strategy in configuration and logs.
	Name() string

	// Score aggregates values, which are aligned with features.
	Score(features []*model.Feature, values []float64) float64

	// MinValue and MaxValue bound every score the strategy produces.
	MinValue() float64
	MaxValue() float64
}

// Mean scores the mean of the normalized values. Scores lie in [0, 1].
type Mean struct{}

// NewMean creates a Mean strategy.
func NewMean() *Mean { return &Mean{} }

func (*Mean) Name() string { return "mean" }

func (*Mean) Score(features []*model.Feature, values []float64) float64 {
	var sum float64
	var n int
	for i, f := range features {
		v := f.Normalize(values[i])
		if model.IsMissing(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return model.Missing()
	}
	return sum / float64(n)
}

func (*Mean) MinValue() float64 { return 0 }
func (*Mean) MaxValue() float64 { return 1 }

// WeightedSum scores the weighted sum of the normalized values.
// Features without a weight contribute nothing.
type WeightedSum struct {
	weights map[model.FeatureID]float64
	total   float64
}

// NewWeightedSum creates a WeightedSum. Weights must be finite and
// non-negative.
func NewWeightedSum(weights map[model.FeatureID]float64) (*WeightedSum, error) {
	ws := &WeightedSum{weights: make(map[model.FeatureID]float64, len(weights))}
	for fid, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("%w: weight of feature %d must be finite and non-negative, got %v", model.ErrInvalidArgument, fid, w)
		}
		ws.weights[fid] = w
		ws.total += w
	}
	return ws, nil
}

func (*WeightedSum) Name() string { return "weighted_sum" }

func (ws *WeightedSum) Score(features []*model.Feature, values []float64) float64 {
	var sum float64
	var seen bool
	for i, f := range features {
		v := f.Normalize(values[i])
		if model.IsMissing(v) {
			continue
		}
		seen = true
		sum += ws.weights[f.ID()] * v
	}
	if !seen {
		return model.Missing()
	}
	return sum
}

func (*WeightedSum) MinValue() float64    { return 0 }
func (ws *WeightedSum) MaxValue() float64 { return ws.total }

// Weight returns the weight of feature fid.
func (ws *WeightedSum) Weight(fid model.FeatureID) float64 { return ws.weights[fid] }

// Func adapts a plain function to the Strategy interface.
type Func struct {
	name   string
	fn     func(features []*model.Feature, values []float64) float64
	lo, hi float64
}

// NewFunc creates a Func strategy bounded by [lo, hi].
func NewFunc(name string, lo, hi float64, fn func(features []*model.Feature, values []float64) float64) (*Func, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: scoring function is nil", model.ErrInvalidArgument)
	}
	if lo > hi {
		return nil, fmt.Errorf("%w: scoring bounds [%v, %v]", model.ErrInvalidArgument, lo, hi)
	}
	return &Func{name: name, fn: fn, lo: lo, hi: hi}, nil
}

func (f *Func) Name() string { return f.name }

func (f *Func) Score(features []*model.Feature, values []float64) float64 {
	return f.fn(features, values)
}

func (f *Func) MinValue() float64 { return f.lo }
func (f *Func) MaxValue() float64 { return f.hi }

// ByName builds a built-in strategy. Weights are only used by "weighted_sum".
func ByName(name string, weights map[model.FeatureID]float64) (Strategy, error) {
	switch name {
	case "", "mean":
		return NewMean(), nil
	case "weighted_sum":
		return NewWeightedSum(weights)
	default:
		return nil, fmt.Errorf("%w: unknown scoring strategy %q", model.ErrInvalidArgument, name)
	}
}
