// Package index implements the ordered single-column index, the
// ordered composite index, and the roaring-bitmap set index described
// by the storage engine's index layer.
package index

import (
	"github.com/mgttt/ndtsdb/column"
)

// Value is a column value normalized for index comparison: numeric
// values compare by Num, string values (including dictionary-coded
// columns, pre-resolved by the caller) compare by Str.
type Value struct {
	Num      float64
	Str      string
	IsString bool
}

// NumValue builds a numeric Value.
func NumValue(v float64) Value { return Value{Num: v} }

// StrValue builds a string Value.
func StrValue(s string) Value { return Value{Str: s, IsString: true} }

// FromAny converts a boxed column cell (as returned by column.Buffer.Any)
// into a Value.
func FromAny(v interface{}) Value {
	switch x := v.(type) {
	case int32:
		return NumValue(float64(x))
	case int64:
		return NumValue(float64(x))
	case float32:
		return NumValue(float64(x))
	case float64:
		return NumValue(x)
	case string:
		return StrValue(x)
	default:
		return Value{}
	}
}

// Compare returns -1, 0, 1 comparing a to b. Both must be the same
// "shape" (both numeric or both string) — the index layer guarantees
// this since a single column has one Kind, and the string comparator
// resolves dictionary codes back to their strings before comparing,
// which is why dictionary code order coincides with string order
// (codes are first-seen, the index never relies on code magnitude).
func Compare(a, b Value) int {
	if a.IsString || b.IsString {
		switch {
		case a.Str < b.Str:
			return -1
		case a.Str > b.Str:
			return 1
		default:
			return 0
		}
	}
	switch {
	case a.Num < b.Num:
		return -1
	case a.Num > b.Num:
		return 1
	default:
		return 0
	}
}

// ValueAt resolves the value at row i of a buffer into a comparable Value.
func ValueAt(b *column.Buffer, row int) Value {
	switch b.Kind {
	case column.Int32:
		return NumValue(float64(b.Int32At(row)))
	case column.Int64:
		return NumValue(float64(b.Int64At(row)))
	case column.Float32:
		return NumValue(float64(b.Float32At(row)))
	case column.Float64:
		return NumValue(b.Float64At(row))
	case column.String:
		return StrValue(b.StringAt(row))
	}
	return Value{}
}

// Predicate is a single-column condition: either an equality or a
// combination of gt/gte/lt/lte bounds (SQL-style `BETWEEN` maps to
// Gte+Lte on the same Predicate).
type Predicate struct {
	Eq       *Value
	Gt, Gte  *Value
	Lt, Lte  *Value
}

// IsEquality reports whether p is a pure equality predicate.
func (p Predicate) IsEquality() bool { return p.Eq != nil }

// IsRange reports whether p carries any bound.
func (p Predicate) IsRange() bool {
	return p.Gt != nil || p.Gte != nil || p.Lt != nil || p.Lte != nil
}

// Matches reports whether v satisfies p.
func (p Predicate) Matches(v Value) bool {
	if p.Eq != nil {
		return Compare(v, *p.Eq) == 0
	}
	if p.Gt != nil && Compare(v, *p.Gt) <= 0 {
		return false
	}
	if p.Gte != nil && Compare(v, *p.Gte) < 0 {
		return false
	}
	if p.Lt != nil && Compare(v, *p.Lt) >= 0 {
		return false
	}
	if p.Lte != nil && Compare(v, *p.Lte) > 0 {
		return false
	}
	return true
}
