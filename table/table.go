// Package table implements ColumnarTable, the in-memory columnar
// table with typed column buffers, amortized batch growth, and
// auto-updating ordered/composite indexes.
package table

import (
	"os"

	"github.com/mgttt/ndtsdb/column"
	"github.com/mgttt/ndtsdb/index"
	"github.com/mgttt/ndtsdb/ndts"
	"github.com/mgttt/ndtsdb/ndtserr"
)

// ColumnarTable is the in-memory core the SQL executor and query
// primitives operate over: typed column buffers plus whatever
// ordered/composite indexes have been created on top of it.
type ColumnarTable struct {
	Schema *column.Schema
	cols   []*column.Buffer

	orderedIdx   map[string]*index.OrderedIndex
	compositeIdx map[string]*index.CompositeIndex
}

// New allocates a table of the given schema with buffers pre-sized to
// max(initialCapacity, 1).
func New(schema *column.Schema, initialCapacity int) *ColumnarTable {
	cols := make([]*column.Buffer, len(schema.Fields))
	for i, f := range schema.Fields {
		cols[i] = column.NewBuffer(f.Kind, initialCapacity)
	}
	return &ColumnarTable{
		Schema:       schema,
		cols:         cols,
		orderedIdx:   map[string]*index.OrderedIndex{},
		compositeIdx: map[string]*index.CompositeIndex{},
	}
}

// RowCount returns the number of live rows.
func (t *ColumnarTable) RowCount() int {
	if len(t.cols) == 0 {
		return 0
	}
	return t.cols[0].Len()
}

// GetColumn returns the named column's buffer, or ColumnMissing.
func (t *ColumnarTable) GetColumn(name string) (*column.Buffer, error) {
	i, ok := t.Schema.IndexOf(name)
	if !ok {
		return nil, ndtserr.New(ndtserr.ColumnMissing, "no such column %q", name)
	}
	return t.cols[i], nil
}

// Append adds one row, updating every live index with the new row's
// position.
func (t *ColumnarTable) Append(record column.Record) error {
	if err := column.RequireAll(t.Schema, record); err != nil {
		return err
	}
	row := uint32(t.RowCount())
	for i, f := range t.Schema.Fields {
		if err := t.cols[i].AppendValue(f.Name, record[f.Name]); err != nil {
			return err
		}
	}
	t.updateIndexesForRow(row)
	return nil
}

// AppendBatch appends many rows, growing buffers by doubling once up
// front rather than per row.
func (t *ColumnarTable) AppendBatch(records []column.Record) error {
	want := t.RowCount() + len(records)
	for _, c := range t.cols {
		c.Reserve(want)
	}
	for _, rec := range records {
		if err := t.Append(rec); err != nil {
			return err
		}
	}
	return nil
}

// CreateIndex builds an ordered index over column name from the
// table's current contents; subsequent appends keep it up to date.
func (t *ColumnarTable) CreateIndex(name string) error {
	col, err := t.GetColumn(name)
	if err != nil {
		return err
	}
	idx := index.NewOrderedIndex(name)
	for i := 0; i < col.Len(); i++ {
		idx.Insert(index.ValueAt(col, i), uint32(i))
	}
	t.orderedIdx[name] = idx
	return nil
}

// HasIndex reports whether an ordered index exists over name.
func (t *ColumnarTable) HasIndex(name string) bool {
	_, ok := t.orderedIdx[name]
	return ok
}

// QueryIndex evaluates p against the ordered index over name, which
// must exist (HasIndex).
func (t *ColumnarTable) QueryIndex(name string, p index.Predicate) ([]uint32, error) {
	idx, ok := t.orderedIdx[name]
	if !ok {
		return nil, ndtserr.New(ndtserr.IndexMismatch, "no ordered index over %q", name)
	}
	return idx.QueryRange(p), nil
}

// CreateCompositeIndex builds a composite index over columns, in
// order, from the table's current contents.
func (t *ColumnarTable) CreateCompositeIndex(columns []string) error {
	bufs := make([]*column.Buffer, len(columns))
	for i, c := range columns {
		b, err := t.GetColumn(c)
		if err != nil {
			return err
		}
		bufs[i] = b
	}
	idx := index.NewCompositeIndex(columns)
	for row := 0; row < t.RowCount(); row++ {
		vals := make([]index.Value, len(columns))
		for i, b := range bufs {
			vals[i] = index.ValueAt(b, row)
		}
		idx.Insert(vals, uint32(row))
	}
	t.compositeIdx[compositeKey(columns)] = idx
	return nil
}

// HasCompositeIndex reports whether a composite index over exactly
// columns (in order) exists.
func (t *ColumnarTable) HasCompositeIndex(columns []string) bool {
	_, ok := t.compositeIdx[compositeKey(columns)]
	return ok
}

// QueryCompositeIndex evaluates predicates against the composite index
// over columns.
func (t *ColumnarTable) QueryCompositeIndex(columns []string, predicates map[string]index.Predicate) (index.MatchResult, error) {
	idx, ok := t.compositeIdx[compositeKey(columns)]
	if !ok {
		return index.MatchResult{}, ndtserr.New(ndtserr.IndexMismatch, "no composite index over %v", columns)
	}
	res, ok := idx.Query(predicates)
	if !ok {
		return index.MatchResult{}, ndtserr.New(ndtserr.IndexMismatch, "predicates do not form a usable prefix of %v", columns)
	}
	return res, nil
}

// CompositeIndexes exposes the raw composite index registry, used by
// the SQL planner to try every eligible index and by EXPLAIN.
func (t *ColumnarTable) CompositeIndexes() map[string]*index.CompositeIndex {
	return t.compositeIdx
}

// OrderedIndexes exposes the raw ordered index registry.
func (t *ColumnarTable) OrderedIndexes() map[string]*index.OrderedIndex {
	return t.orderedIdx
}

func (t *ColumnarTable) updateIndexesForRow(row uint32) {
	for name, idx := range t.orderedIdx {
		col, _ := t.GetColumn(name)
		idx.Insert(index.ValueAt(col, int(row)), row)
	}
	for key, idx := range t.compositeIdx {
		_ = key
		vals := make([]index.Value, len(idx.Columns()))
		for i, c := range idx.Columns() {
			col, _ := t.GetColumn(c)
			vals[i] = index.ValueAt(col, int(row))
		}
		idx.Insert(vals, row)
	}
}

func compositeKey(columns []string) string {
	s := ""
	for i, c := range columns {
		if i > 0 {
			s += "\x00"
		}
		s += c
	}
	return s
}

// SaveToFile serializes the whole table as a single-chunk .ndts file.
func (t *ColumnarTable) SaveToFile(path string) error {
	h := &ndts.Header{
		Version: ndts.CurrentVersion,
		Schema:  t.Schema,
		Dicts:   map[string][]string{},
	}
	hb, err := ndts.EncodeHeader(h)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return ndtserr.Wrap(ndtserr.IOError, err, "creating %s", path)
	}
	defer f.Close()
	if _, err := f.Write(hb); err != nil {
		return ndtserr.Wrap(ndtserr.IOError, err, "writing header to %s", path)
	}
	n := t.RowCount()
	if n > 0 {
		priorDictLen := make([]int, len(t.Schema.Fields))
		chunk := ndts.EncodeChunk(t.Schema, t.cols, 0, n, priorDictLen, ndts.ColdNone)
		if _, err := f.Write(chunk); err != nil {
			return ndtserr.Wrap(ndtserr.IOError, err, "writing chunk to %s", path)
		}
	}
	return nil
}

// LoadFromFile rebuilds a table (buffers, dictionaries; no indexes —
// callers recreate those explicitly) from an .ndts file.
func LoadFromFile(path string) (*ColumnarTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ndtserr.Wrap(ndtserr.IOError, err, "opening %s", path)
	}
	defer f.Close()
	h, bufs, err := ndts.ReadAllRaw(f)
	if err != nil {
		return nil, err
	}
	return &ColumnarTable{
		Schema:       h.Schema,
		cols:         bufs,
		orderedIdx:   map[string]*index.OrderedIndex{},
		compositeIdx: map[string]*index.CompositeIndex{},
	}, nil
}
