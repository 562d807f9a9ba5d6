// Package bitmap provides the record id sets used during filter evaluation.
//
// IDSet is a mutable set backed by a 32-bit Roaring Bitmap. It is used while
// a group's selection is being computed (union of static lists, intersection
// with predicate results).
//
// Frozen is the read-only form handed to record workers. It exposes no
// mutators, so a frozen set can be shared by any number of goroutines:
//
//	set := bitmap.New()
//	set.AddMany(ids)
//	set.And(other)
//	frozen := set.Freeze() // set must not be used afterwards
//
//	if frozen.Contains(id) { ... }
//
// Iteration is always in ascending id order.
package bitmap
