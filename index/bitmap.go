package index

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// RoaringSet is a compact set of row indices (u32), the set-index
// entity of §4.4. The SQL executor does not use it; its IN predicates
// are evaluated against map-based value sets.
//
// The spec describes a hand-rolled array/bitmap-container structure
// with a 4096-entry conversion threshold; RoaringBitmap/roaring/v2 (a
// direct dependency of the teacher repo) implements exactly that
// container model internally, so this type is a thin, idiomatic
// wrapper rather than a reimplementation.
type RoaringSet struct {
	bm *roaring.Bitmap
}

// NewRoaringSet builds an empty set.
func NewRoaringSet() *RoaringSet { return &RoaringSet{bm: roaring.New()} }

// FromSlice builds a set containing exactly the given row indices.
func FromSlice(rows []uint32) *RoaringSet {
	return &RoaringSet{bm: roaring.BitmapOf(rows...)}
}

// Add inserts x into the set.
func (s *RoaringSet) Add(x uint32) { s.bm.Add(x) }

// Remove deletes x from the set, if present.
func (s *RoaringSet) Remove(x uint32) { s.bm.Remove(x) }

// Contains reports whether x has been added and not removed.
func (s *RoaringSet) Contains(x uint32) bool { return s.bm.Contains(x) }

// Len returns the set's cardinality.
func (s *RoaringSet) Len() int { return int(s.bm.GetCardinality()) }

// ToSlice materializes the set in ascending order.
func (s *RoaringSet) ToSlice() []uint32 { return s.bm.ToArray() }

// Or returns the union of s and o.
func (s *RoaringSet) Or(o *RoaringSet) *RoaringSet {
	return &RoaringSet{bm: roaring.Or(s.bm, o.bm)}
}

// And returns the intersection of s and o.
func (s *RoaringSet) And(o *RoaringSet) *RoaringSet {
	return &RoaringSet{bm: roaring.And(s.bm, o.bm)}
}

// AndNot returns the set difference s - o.
func (s *RoaringSet) AndNot(o *RoaringSet) *RoaringSet {
	return &RoaringSet{bm: roaring.AndNot(s.bm, o.bm)}
}

// Iterator yields set members in ascending order.
func (s *RoaringSet) Iterator() roaring.IntPeekable {
	return s.bm.Iterator()
}
