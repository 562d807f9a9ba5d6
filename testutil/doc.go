// Package testutil provides testing utilities for featview.
//
// This package is intended for use in tests, examples and the seed
// command only.
//
// # Deterministic Data
//
//	rng := testutil.NewRNG(seed)
//	err := testutil.FillTable(ctx, st, 1000, []model.FeatureID{1, 2}, rng, testutil.Nulls(0.05))
//
// # Providers
//
// Providers is a mutable in-memory implementation of the feature, group
// and scoring providers:
//
//	p := testutil.NewProviders(features, scoring.NewMean())
//	p.SetGroups(g1, g2)
package testutil
