// Package column implements the typed, growable column buffers and
// schema/dictionary machinery that back ColumnarTable (see package
// table) and the on-disk chunk format (see package ndts).
package column

import (
	"fmt"
	"math"

	"github.com/mgttt/ndtsdb/ndtserr"
)

// Kind identifies a column's primitive storage kind.
type Kind uint8

const (
	Int32 Kind = iota
	Int64
	Float32
	Float64
	String
)

func (k Kind) String() string {
	switch k {
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case String:
		return "string"
	default:
		return "unknown"
	}
}

// ParseKind maps the wire/header name back to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "int32":
		return Int32, true
	case "int64":
		return Int64, true
	case "float32":
		return Float32, true
	case "float64":
		return Float64, true
	case "string":
		return String, true
	default:
		return 0, false
	}
}

// Field is one (name, type) entry of a Schema.
type Field struct {
	Name string `json:"name"`
	Kind Kind   `json:"-"`
	// KindName mirrors Kind as a string for JSON (de)serialization in
	// the file header; kept alongside Kind to avoid a custom
	// MarshalJSON on the hot-path Kind type.
	KindName string `json:"type"`
}

// NewField builds a Field, keeping KindName in sync with Kind.
func NewField(name string, kind Kind) Field {
	return Field{Name: name, Kind: kind, KindName: kind.String()}
}

// Schema is the ordered, name-unique list of columns a table carries.
// Column order is significant: it drives on-disk layout.
type Schema struct {
	Fields []Field
	index  map[string]int
}

// NewSchema validates field names are unique and builds the schema.
func NewSchema(fields ...Field) (*Schema, error) {
	idx := make(map[string]int, len(fields))
	out := make([]Field, len(fields))
	for i, f := range fields {
		if _, dup := idx[f.Name]; dup {
			return nil, ndtserr.New(ndtserr.SchemaMismatch, "duplicate column name %q", f.Name)
		}
		if f.KindName == "" {
			f.KindName = f.Kind.String()
		}
		idx[f.Name] = i
		out[i] = f
	}
	return &Schema{Fields: out, index: idx}, nil
}

// IndexOf returns the position of name within the schema.
func (s *Schema) IndexOf(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Equal reports whether two schemas have the same column names, types
// and order — the compatibility check AppendWriter.open performs on
// reopen.
func (s *Schema) Equal(o *Schema) bool {
	if s == nil || o == nil {
		return s == o
	}
	if len(s.Fields) != len(o.Fields) {
		return false
	}
	for i := range s.Fields {
		if s.Fields[i].Name != o.Fields[i].Name || s.Fields[i].Kind != o.Fields[i].Kind {
			return false
		}
	}
	return true
}

func (s *Schema) rebuildIndex() {
	s.index = make(map[string]int, len(s.Fields))
	for i, f := range s.Fields {
		s.index[f.Name] = i
	}
}

// Clone returns a deep-enough copy of the schema safe to mutate.
func (s *Schema) Clone() *Schema {
	fields := make([]Field, len(s.Fields))
	copy(fields, s.Fields)
	out := &Schema{Fields: fields}
	out.rebuildIndex()
	return out
}

// Dictionary is an append-only, first-seen-order set of unique
// strings backing a dictionary-encoded string column. Codes are
// stable once assigned and are never reordered or removed.
type Dictionary struct {
	values []string
	codes  map[string]uint32
}

// NewDictionary builds an empty dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{codes: make(map[string]uint32)}
}

// CodeFor returns the stable code for s, assigning a new one
// (len(values)) the first time s is seen.
func (d *Dictionary) CodeFor(s string) uint32 {
	if c, ok := d.codes[s]; ok {
		return c
	}
	c := uint32(len(d.values))
	d.values = append(d.values, s)
	d.codes[s] = c
	return c
}

// String resolves a code back to its string. Panics on an out-of-range
// code, which would indicate a broken invariant upstream.
func (d *Dictionary) String(code uint32) string {
	return d.values[code]
}

// Lookup returns the code for s without assigning a new one.
func (d *Dictionary) Lookup(s string) (uint32, bool) {
	c, ok := d.codes[s]
	return c, ok
}

// Len returns the number of distinct strings in the dictionary.
func (d *Dictionary) Len() int { return len(d.values) }

// Values returns the dictionary's strings in code order (index i is
// the string for code i). Callers must not mutate the result.
func (d *Dictionary) Values() []string { return d.values }

// LoadValues rebuilds a dictionary from a code-ordered string slice,
// used when reopening a file whose header carries a persisted
// dictionary.
func LoadValues(values []string) *Dictionary {
	d := &Dictionary{values: append([]string(nil), values...), codes: make(map[string]uint32, len(values))}
	for i, v := range values {
		d.codes[v] = uint32(i)
	}
	return d
}

// Buffer is one column's typed, growable storage. Capacity grows by
// doubling; Len is always <= Cap.
type Buffer struct {
	Kind Kind
	i32  []int32
	i64  []int64
	f32  []float32
	f64  []float64
	code []uint32 // String columns: dictionary codes.
	Dict *Dictionary
}

// NewBuffer allocates a Buffer of the given kind with initialCap
// (minimum 1) pre-allocated capacity.
func NewBuffer(kind Kind, initialCap int) *Buffer {
	if initialCap < 1 {
		initialCap = 1
	}
	b := &Buffer{Kind: kind}
	switch kind {
	case Int32:
		b.i32 = make([]int32, 0, initialCap)
	case Int64:
		b.i64 = make([]int64, 0, initialCap)
	case Float32:
		b.f32 = make([]float32, 0, initialCap)
	case Float64:
		b.f64 = make([]float64, 0, initialCap)
	case String:
		b.code = make([]uint32, 0, initialCap)
		b.Dict = NewDictionary()
	}
	return b
}

// Len returns the number of live elements.
func (b *Buffer) Len() int {
	switch b.Kind {
	case Int32:
		return len(b.i32)
	case Int64:
		return len(b.i64)
	case Float32:
		return len(b.f32)
	case Float64:
		return len(b.f64)
	case String:
		return len(b.code)
	}
	return 0
}

// Cap returns the current backing capacity.
func (b *Buffer) Cap() int {
	switch b.Kind {
	case Int32:
		return cap(b.i32)
	case Int64:
		return cap(b.i64)
	case Float32:
		return cap(b.f32)
	case Float64:
		return cap(b.f64)
	case String:
		return cap(b.code)
	}
	return 0
}

// Reserve grows the buffer (doubling) until Cap() >= n.
func (b *Buffer) Reserve(n int) {
	if b.Cap() >= n {
		return
	}
	newCap := b.Cap()
	if newCap < 1 {
		newCap = 1
	}
	for newCap < n {
		newCap *= 2
	}
	switch b.Kind {
	case Int32:
		grown := make([]int32, len(b.i32), newCap)
		copy(grown, b.i32)
		b.i32 = grown
	case Int64:
		grown := make([]int64, len(b.i64), newCap)
		copy(grown, b.i64)
		b.i64 = grown
	case Float32:
		grown := make([]float32, len(b.f32), newCap)
		copy(grown, b.f32)
		b.f32 = grown
	case Float64:
		grown := make([]float64, len(b.f64), newCap)
		copy(grown, b.f64)
		b.f64 = grown
	case String:
		grown := make([]uint32, len(b.code), newCap)
		copy(grown, b.code)
		b.code = grown
	}
}

// AppendValue coerces value into the buffer's kind and appends it.
func (b *Buffer) AppendValue(colName string, value interface{}) error {
	b.Reserve(b.Len() + 1)
	switch b.Kind {
	case Int32:
		v, err := coerceInt64(colName, value)
		if err != nil {
			return err
		}
		b.i32 = append(b.i32, truncateToInt32(v))
	case Int64:
		v, err := coerceInt64(colName, value)
		if err != nil {
			return err
		}
		b.i64 = append(b.i64, v)
	case Float32:
		v, err := coerceFloat64(colName, value)
		if err != nil {
			return err
		}
		b.f32 = append(b.f32, float32(v))
	case Float64:
		v, err := coerceFloat64(colName, value)
		if err != nil {
			return err
		}
		b.f64 = append(b.f64, v)
	case String:
		s, ok := value.(string)
		if !ok {
			return ndtserr.New(ndtserr.TypeError, "column %q: value %#v is not a string", colName, value)
		}
		b.code = append(b.code, b.Dict.CodeFor(s))
	}
	return nil
}

// Int32At, Int64At, Float32At, Float64At, StringAt provide indexed
// read access, used by executor projection and index comparators.
func (b *Buffer) Int32At(i int) int32     { return b.i32[i] }
func (b *Buffer) Int64At(i int) int64     { return b.i64[i] }
func (b *Buffer) Float32At(i int) float32 { return b.f32[i] }
func (b *Buffer) Float64At(i int) float64 { return b.f64[i] }
func (b *Buffer) CodeAt(i int) uint32     { return b.code[i] }
func (b *Buffer) StringAt(i int) string   { return b.Dict.String(b.code[i]) }

// Int32Slice/Int64Slice/... expose the live portion for bulk paths
// (serialization, mmap view construction, compression codecs).
func (b *Buffer) Int32Slice() []int32     { return b.i32 }
func (b *Buffer) Int64Slice() []int64     { return b.i64 }
func (b *Buffer) Float32Slice() []float32 { return b.f32 }
func (b *Buffer) Float64Slice() []float64 { return b.f64 }
func (b *Buffer) CodeSlice() []uint32     { return b.code }

// Any returns the i'th value boxed as interface{}, in the type
// matching the column kind (int32/int64/float32/float64/string).
func (b *Buffer) Any(i int) interface{} {
	switch b.Kind {
	case Int32:
		return b.i32[i]
	case Int64:
		return b.i64[i]
	case Float32:
		return b.f32[i]
	case Float64:
		return b.f64[i]
	case String:
		return b.StringAt(i)
	}
	return nil
}

// AppendInt32Raw, AppendInt64Raw, AppendFloat32Raw, AppendFloat64Raw
// and AppendCodesRaw append already-typed values without the
// interface{} coercion AppendValue performs — the fast path used when
// decoding a chunk payload back into a live table.
func (b *Buffer) AppendInt32Raw(v []int32) {
	b.Reserve(b.Len() + len(v))
	b.i32 = append(b.i32, v...)
}

func (b *Buffer) AppendInt64Raw(v []int64) {
	b.Reserve(b.Len() + len(v))
	b.i64 = append(b.i64, v...)
}

func (b *Buffer) AppendFloat32Raw(v []float32) {
	b.Reserve(b.Len() + len(v))
	b.f32 = append(b.f32, v...)
}

func (b *Buffer) AppendFloat64Raw(v []float64) {
	b.Reserve(b.Len() + len(v))
	b.f64 = append(b.f64, v...)
}

// AppendCodesRaw appends already-resolved global dictionary codes,
// used when replaying a chunk whose codes were computed against the
// same cumulative dictionary being rebuilt here.
func (b *Buffer) AppendCodesRaw(v []uint32) {
	b.Reserve(b.Len() + len(v))
	b.code = append(b.code, v...)
}

// Truncate drops the buffer down to n live elements (n <= Len()),
// used by rewrite paths that rebuild a column in place.
func (b *Buffer) Truncate(n int) {
	switch b.Kind {
	case Int32:
		b.i32 = b.i32[:n]
	case Int64:
		b.i64 = b.i64[:n]
	case Float32:
		b.f32 = b.f32[:n]
	case Float64:
		b.f64 = b.f64[:n]
	case String:
		b.code = b.code[:n]
	}
}

func coerceInt64(colName string, value interface{}) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float32:
		return int64(math.Trunc(float64(v))), nil
	case float64:
		return int64(math.Trunc(v)), nil
	default:
		return 0, ndtserr.New(ndtserr.TypeError, "column %q: value %#v cannot coerce to integer", colName, value)
	}
}

func coerceFloat64(colName string, value interface{}) (float64, error) {
	switch v := value.(type) {
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, ndtserr.New(ndtserr.TypeError, "column %q: value %#v cannot coerce to float", colName, value)
	}
}

// Record is one row of heterogeneous input values keyed by column
// name, the dynamic-typed boundary the spec's append/appendBatch take.
type Record map[string]interface{}

// RequireAll validates that record has an entry for every schema
// field, returning MissingField otherwise.
func RequireAll(schema *Schema, record Record) error {
	for _, f := range schema.Fields {
		if _, ok := record[f.Name]; !ok {
			return ndtserr.New(ndtserr.MissingField, "record missing field %q", f.Name)
		}
	}
	return nil
}

// String implements fmt.Stringer for debugging.
func (f Field) String() string { return fmt.Sprintf("%s %s", f.Name, f.Kind) }
