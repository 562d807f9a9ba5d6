package bitmap

import (
	"iter"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/featview/model"
)

// IDSet is a mutable set of record ids.
// It wraps the official roaring implementation.
type IDSet struct {
	rb *roaring.Bitmap
}

// New creates a new empty set.
func New() *IDSet {
	return &IDSet{
		rb: roaring.New(),
	}
}

// Of creates a set holding ids. Duplicates collapse.
func Of(ids ...model.RecordID) *IDSet {
	s := New()
	s.AddMany(ids)
	return s
}

// Range creates a set holding every id in [start, end].
func Range(start, end model.RecordID) *IDSet {
	s := New()
	if start <= end {
		s.rb.AddRange(uint64(start), uint64(end)+1)
	}
	return s
}

// Add adds an id to the set.
func (s *IDSet) Add(id model.RecordID) {
	s.rb.Add(uint32(id))
}

// AddMany adds all ids to the set.
func (s *IDSet) AddMany(ids []model.RecordID) {
	for _, id := range ids {
		s.rb.Add(uint32(id))
	}
}

// Remove removes an id from the set.
func (s *IDSet) Remove(id model.RecordID) {
	s.rb.Remove(uint32(id))
}

// Contains checks if an id is in the set.
func (s *IDSet) Contains(id model.RecordID) bool {
	return s.rb.Contains(uint32(id))
}

// IsEmpty returns true if the set is empty.
func (s *IDSet) IsEmpty() bool {
	return s.rb.IsEmpty()
}

// Cardinality returns the number of ids in the set.
func (s *IDSet) Cardinality() int {
	return int(s.rb.GetCardinality())
}

// Clone returns a deep copy of the set.
func (s *IDSet) Clone() *IDSet {
	return &IDSet{
		rb: s.rb.Clone(),
	}
}

// And computes the intersection of two sets in place.
func (s *IDSet) And(other *IDSet) {
	s.rb.And(other.rb)
}

// Or computes the union of two sets in place.
func (s *IDSet) Or(other *IDSet) {
	s.rb.Or(other.rb)
}

// Clear removes all ids from the set.
func (s *IDSet) Clear() {
	s.rb.Clear()
}

// Iterator returns an iterator over the set in ascending order.
func (s *IDSet) Iterator() iter.Seq[model.RecordID] {
	return iterate(s.rb)
}

// ToSlice returns the ids in ascending order.
func (s *IDSet) ToSlice() []model.RecordID {
	return toSlice(s.rb)
}

// Freeze converts the set into its read-only form. The IDSet must not be
// used after freezing.
func (s *IDSet) Freeze() *Frozen {
	s.rb.RunOptimize()
	f := &Frozen{rb: s.rb}
	s.rb = nil
	return f
}

// Frozen is an immutable set of record ids, safe for concurrent reads.
type Frozen struct {
	rb *roaring.Bitmap
}

// Empty returns a frozen empty set.
func Empty() *Frozen {
	return &Frozen{rb: roaring.New()}
}

// Contains checks if an id is in the set.
func (f *Frozen) Contains(id model.RecordID) bool {
	return f.rb.Contains(uint32(id))
}

// IsEmpty returns true if the set is empty.
func (f *Frozen) IsEmpty() bool {
	return f.rb.IsEmpty()
}

// Cardinality returns the number of ids in the set.
func (f *Frozen) Cardinality() int {
	return int(f.rb.GetCardinality())
}

// Iterator returns an iterator over the set in ascending order.
func (f *Frozen) Iterator() iter.Seq[model.RecordID] {
	return iterate(f.rb)
}

// ToSlice returns the ids in ascending order.
func (f *Frozen) ToSlice() []model.RecordID {
	return toSlice(f.rb)
}

// Thaw returns a mutable copy of the set.
func (f *Frozen) Thaw() *IDSet {
	return &IDSet{rb: f.rb.Clone()}
}

// GetSizeInBytes returns the size of the set in bytes.
func (f *Frozen) GetSizeInBytes() uint64 {
	return f.rb.GetSizeInBytes()
}

func iterate(rb *roaring.Bitmap) iter.Seq[model.RecordID] {
	return func(yield func(model.RecordID) bool) {
		it := rb.Iterator()
		for it.HasNext() {
			if !yield(model.RecordID(it.Next())) {
				return
			}
		}
	}
}

func toSlice(rb *roaring.Bitmap) []model.RecordID {
	out := make([]model.RecordID, 0, rb.GetCardinality())
	it := rb.Iterator()
	for it.HasNext() {
		out = append(out, model.RecordID(it.Next()))
	}
	return out
}
