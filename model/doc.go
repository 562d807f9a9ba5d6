// Package model defines the core types shared by the featview packages.
//
// # Identity Types
//
//   - FeatureID: identifier of a numeric feature (int32, negative ids are reserved)
//   - RecordID: stable, 1-based identifier of a stored record (uint32)
//   - GroupID: identifier of a logical group of records (uint32)
//
// # Data Types
//
//   - Feature: a named numeric column with bounds
//   - Record: the materialized feature values of one stored row, plus its groups
//
// Missing values are represented by NaN and are never an error:
//
//	v := rec.Value(featureID)
//	if model.IsMissing(v) {
//	    // render as "no data"
//	}
package model
