package index

import (
	"github.com/google/btree"
)

// entry is one (value, row) pair stored in the ordered index's tree.
// The row is part of the ordering key so that duplicate values remain
// distinct tree items — the spec requires "duplicates permitted".
type entry struct {
	val Value
	row uint32
}

func lessEntry(a, b entry) bool {
	if c := Compare(a.val, b.val); c != 0 {
		return c < 0
	}
	return a.row < b.row
}

// OrderedIndex is a single-column range index: insert(key, row) and
// query by exact/less-than/greater-than/[lo,hi], backed by
// google/btree for O(log n) insert and native ascending range scans.
type OrderedIndex struct {
	column string
	tree   *btree.BTreeG[entry]
	byRow  map[uint32]entry
}

// NewOrderedIndex builds an empty ordered index over the named column.
func NewOrderedIndex(columnName string) *OrderedIndex {
	return &OrderedIndex{
		column: columnName,
		tree:   btree.NewG[entry](32, lessEntry),
		byRow:  make(map[uint32]entry),
	}
}

// Column returns the indexed column's name.
func (oi *OrderedIndex) Column() string { return oi.column }

// Insert adds (key, row), preserving duplicates.
func (oi *OrderedIndex) Insert(key Value, row uint32) {
	e := entry{val: key, row: row}
	oi.tree.ReplaceOrInsert(e)
	oi.byRow[row] = e
}

// RemoveByRow removes the entry for a given row, used only when a
// rewrite (compact/deleteWhere/updateWhere) renumbers rows and the
// index must be rebuilt incrementally rather than wholesale.
func (oi *OrderedIndex) RemoveByRow(row uint32) {
	e, ok := oi.byRow[row]
	if !ok {
		return
	}
	oi.tree.Delete(e)
	delete(oi.byRow, row)
}

// Len returns the number of indexed entries.
func (oi *OrderedIndex) Len() int { return oi.tree.Len() }

// QueryEQ returns every row whose value equals key.
func (oi *OrderedIndex) QueryEQ(key Value) []uint32 {
	return oi.QueryRange(Predicate{Eq: &key})
}

// QueryRange returns every row matching p, walking the tree's
// ascending order within the derived [lo, hi] bound so runtime is
// proportional to the result size, not the full index.
func (oi *OrderedIndex) QueryRange(p Predicate) []uint32 {
	var out []uint32
	lo, hi, ok := boundsFor(p)
	if !ok {
		return nil
	}
	iter := func(e entry) bool {
		if hi != nil && Compare(e.val, *hi) > 0 {
			return false
		}
		if p.Matches(e.val) {
			out = append(out, e.row)
		}
		return true
	}
	if lo != nil {
		oi.tree.AscendGreaterOrEqual(entry{val: *lo}, iter)
	} else {
		oi.tree.Ascend(iter)
	}
	return out
}

// boundsFor derives an inclusive lower bound and an upper bound
// (inclusive-or-above, filtered precisely by Predicate.Matches) used
// to limit the tree walk. Equality collapses to lo==hi==key.
func boundsFor(p Predicate) (lo, hi *Value, ok bool) {
	if p.Eq != nil {
		return p.Eq, p.Eq, true
	}
	if p.Gte != nil {
		lo = p.Gte
	} else if p.Gt != nil {
		lo = p.Gt
	}
	if p.Lte != nil {
		hi = p.Lte
	} else if p.Lt != nil {
		hi = p.Lt
	}
	return lo, hi, true
}

// Cardinality returns the exact result size of p, computed as the
// length of QueryRange's result.
func (oi *OrderedIndex) Cardinality(p Predicate) int {
	return len(oi.QueryRange(p))
}
