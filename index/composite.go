package index

import "sort"

// compositeEntry is one row's tuple of values across the composite
// index's column list.
type compositeEntry struct {
	values []Value
	row    uint32
}

func lessComposite(a, b compositeEntry) bool {
	for i := range a.values {
		if c := Compare(a.values[i], b.values[i]); c != 0 {
			return c < 0
		}
	}
	return a.row < b.row
}

// CompositeIndex is an ordered index over a fixed list of columns,
// queryable by a leading prefix of equality predicates optionally
// followed by one range predicate on the next column. It is kept as a
// sorted slice maintained by binary-search insertion (entries are
// never removed): the
// spec describes it as "ordered by lexicographic key", which a sorted
// slice satisfies directly without the added complexity of encoding
// -Inf/+Inf sentinels into a generic btree comparator.
type CompositeIndex struct {
	columns []string
	entries []compositeEntry
}

// NewCompositeIndex builds an empty composite index over columns, in
// the given order (the order is the prefix-matching order).
func NewCompositeIndex(columns []string) *CompositeIndex {
	return &CompositeIndex{columns: append([]string(nil), columns...)}
}

// Columns returns the indexed column list, in order.
func (ci *CompositeIndex) Columns() []string { return ci.columns }

// Insert adds one row's tuple of values (len(values) == len(Columns())).
func (ci *CompositeIndex) Insert(values []Value, row uint32) {
	e := compositeEntry{values: values, row: row}
	i := sort.Search(len(ci.entries), func(i int) bool { return !lessComposite(ci.entries[i], e) })
	ci.entries = append(ci.entries, compositeEntry{})
	copy(ci.entries[i+1:], ci.entries[i:])
	ci.entries[i] = e
}

// Len returns the number of indexed rows.
func (ci *CompositeIndex) Len() int { return len(ci.entries) }

// MatchResult describes which prefix of predicates the planner used.
type MatchResult struct {
	Covered []string // columns covered directly by the index scan
	Rows    []uint32
}

// Query decomposes predicates against the indexed column prefix. It
// is usable iff every leading column up to some point has an equality
// predicate, optionally followed by exactly one range predicate on
// the next column; anything beyond that is a post-filter the caller
// must still apply. ok is false when not even the first column has a
// usable predicate (IndexMismatch, handled by the executor falling
// back to a full scan rather than surfacing an error).
func (ci *CompositeIndex) Query(predicates map[string]Predicate) (MatchResult, bool) {
	var eqPrefix []Value
	var covered []string
	var rangeCol string
	var rangePred Predicate
	hasRange := false

	for _, col := range ci.columns {
		p, ok := predicates[col]
		if !ok {
			break
		}
		if p.IsEquality() {
			eqPrefix = append(eqPrefix, *p.Eq)
			covered = append(covered, col)
			continue
		}
		if p.IsRange() {
			rangeCol = col
			rangePred = p
			hasRange = true
			covered = append(covered, col)
		}
		break
	}
	if len(covered) == 0 {
		return MatchResult{}, false
	}

	lo := make([]Value, len(eqPrefix), len(eqPrefix)+1)
	copy(lo, eqPrefix)
	hi := make([]Value, len(eqPrefix), len(eqPrefix)+1)
	copy(hi, eqPrefix)

	var loBound, hiBound *Value
	if hasRange {
		b, ok := boundsForRange(rangePred)
		if ok {
			loBound, hiBound = b.lo, b.hi
		}
	}

	lo = appendBound(lo, loBound, false)
	hi = appendBound(hi, hiBound, true)

	loIdx := sort.Search(len(ci.entries), func(i int) bool {
		return comparePrefix(ci.entries[i].values, lo) >= 0
	})
	hiIdx := sort.Search(len(ci.entries), func(i int) bool {
		return comparePrefix(ci.entries[i].values, hi) > 0
	})

	var rows []uint32
	for i := loIdx; i < hiIdx && i < len(ci.entries); i++ {
		e := ci.entries[i]
		if len(eqPrefix) > 0 && !matchesEqPrefix(e.values, eqPrefix) {
			continue
		}
		if hasRange && !rangePred.Matches(e.values[len(eqPrefix)]) {
			continue
		}
		rows = append(rows, e.row)
	}
	return MatchResult{Covered: covered, Rows: rows}, true
}

// Explanation describes the access path Query would choose for
// predicates, without running the scan — the minimal surface EXPLAIN
// SELECT needs to report that a composite index was selected.
type Explanation struct {
	Usable  bool
	Covered []string
}

// Explain reports which leading prefix of predicates this index would
// use, surfaced by EXPLAIN SELECT instead of running the query.
func (ci *CompositeIndex) Explain(predicates map[string]Predicate) Explanation {
	res, ok := ci.Query(predicates)
	if !ok {
		return Explanation{Usable: false}
	}
	return Explanation{Usable: true, Covered: res.Covered}
}

type rangeBounds struct{ lo, hi *Value }

func boundsForRange(p Predicate) (rangeBounds, bool) {
	lo, hi, ok := boundsFor(p)
	return rangeBounds{lo: lo, hi: hi}, ok
}

// appendBound appends the explicit bound to prefix, or returns prefix
// unchanged when there is no bound; isHigh does not affect the
// result. Because Query only uses these bounds to pick a contiguous
// slice index range (refined afterwards by exact predicate matching),
// a shorter lo/hi vector is safe: comparePrefix treats it as "no
// further constraint" on the remaining columns.
func appendBound(prefix []Value, bound *Value, isHigh bool) []Value {
	if bound == nil {
		return prefix
	}
	return append(prefix, *bound)
}

// comparePrefix compares entry values against a (possibly shorter)
// probe prefix; columns beyond len(probe) never affect the result.
func comparePrefix(values, probe []Value) int {
	n := len(probe)
	if n > len(values) {
		n = len(values)
	}
	for i := 0; i < n; i++ {
		if c := Compare(values[i], probe[i]); c != 0 {
			return c
		}
	}
	return 0
}

func matchesEqPrefix(values, eq []Value) bool {
	for i, v := range eq {
		if Compare(values[i], v) != 0 {
			return false
		}
	}
	return true
}
