// Package constraint defines the filter model evaluated by featview.
//
// A Group selects records through an ordered list of Constraints. A
// Constraint is a tagged union with two variants:
//
//   - Static: an explicit list of record ids
//   - Dynamic: a predicate "feature <op> threshold" evaluated by the store
//
// Example:
//
//	alloc := constraint.NewIDAllocator()
//	picked, _ := constraint.NewStatic(alloc.Next(), []model.RecordID{1, 2, 3})
//	potent, _ := constraint.NewDynamic(alloc.Next(), constraint.Gt(featPIC50, 6.5))
//	g, _ := constraint.NewGroup(1, "hits", true, picked, potent)
//
// Constraints and groups are immutable values. Changing activation returns
// a copy, so a group handed to a rebuild is never modified underneath it.
package constraint
