package exec

import (
	"context"

	"github.com/mgttt/ndtsdb/column"
	"github.com/mgttt/ndtsdb/ndtserr"
	"github.com/mgttt/ndtsdb/sql/ast"
)

// fieldRef names one column of a bound source by its table/subquery
// alias (or base table name, if unaliased) and column name.
type fieldRef struct {
	Alias string
	Name  string
}

// scanner is a materialized row source: every bound table or subquery
// in a query's FROM/JOIN list is scanned down to this shape before
// WHERE/JOIN/GROUP BY evaluation, which keeps row evaluation uniform
// regardless of where the rows came from.
type scanner struct {
	fields []fieldRef
	rows   [][]interface{}
}

func (s *scanner) indexFor(qualifier, name string) (int, error) {
	if qualifier != "" {
		for i, f := range s.fields {
			if f.Alias == qualifier && f.Name == name {
				return i, nil
			}
		}
		return -1, ndtserr.New(ndtserr.ColumnMissing, "no such column %q.%q", qualifier, name)
	}
	found := -1
	for i, f := range s.fields {
		if f.Name == name {
			if found != -1 {
				return -1, ndtserr.New(ndtserr.SQLPlanError, "ambiguous column reference %q", name)
			}
			found = i
		}
	}
	if found == -1 {
		return -1, ndtserr.New(ndtserr.ColumnMissing, "no such column %q", name)
	}
	return found, nil
}

// bindFrom scans one FROM item (a base table or a derived subquery)
// into a scanner, applying rowFilter (candidate rows from index
// planning) when given and the source is a plain base table.
func (e *Engine) bindFrom(ctx context.Context, cat *Catalog, fc *ast.FromClause, rowFilter []uint32) (*scanner, error) {
	alias := fc.Alias
	if fc.Subquery != nil {
		res, err := e.executeSelect(ctx, cat, fc.Subquery)
		if err != nil {
			return nil, err
		}
		fields := make([]fieldRef, len(res.Columns))
		for i, c := range res.Columns {
			fields[i] = fieldRef{Alias: alias, Name: c}
		}
		rows := make([][]interface{}, len(res.Rows))
		for i, r := range res.Rows {
			row := make([]interface{}, len(res.Columns))
			for j, c := range res.Columns {
				row[j] = r[c]
			}
			rows[i] = row
		}
		return &scanner{fields: fields, rows: rows}, nil
	}

	tbl, err := cat.Lookup(fc.Table)
	if err != nil {
		return nil, err
	}
	if alias == "" {
		alias = fc.Table
	}
	fields := make([]fieldRef, len(tbl.Schema.Fields))
	cols := make([]*column.Buffer, len(tbl.Schema.Fields))
	for i, f := range tbl.Schema.Fields {
		fields[i] = fieldRef{Alias: alias, Name: f.Name}
		cols[i], err = tbl.GetColumn(f.Name)
		if err != nil {
			return nil, err
		}
	}
	indices := rowFilter
	if indices == nil {
		n := tbl.RowCount()
		indices = make([]uint32, n)
		for i := range indices {
			indices[i] = uint32(i)
		}
	}
	rows := make([][]interface{}, len(indices))
	for r, rowIdx := range indices {
		row := make([]interface{}, len(cols))
		for c, buf := range cols {
			row[c] = buf.Any(int(rowIdx))
		}
		rows[r] = row
	}
	return &scanner{fields: fields, rows: rows}, nil
}

// bindSources scans the FROM item and applies every JOIN clause in
// order, producing one flat scanner over the combined column space.
func (e *Engine) bindSources(ctx context.Context, cat *Catalog, sel *ast.SelectStmt, rowFilter []uint32) (*scanner, error) {
	if sel.From == nil {
		return &scanner{}, nil
	}
	left, err := e.bindFrom(ctx, cat, sel.From, rowFilter)
	if err != nil {
		return nil, err
	}
	for _, jc := range sel.Joins {
		right, err := e.bindFrom(ctx, cat, jc.From, nil)
		if err != nil {
			return nil, err
		}
		left, err = joinScanners(left, right, jc)
		if err != nil {
			return nil, err
		}
	}
	return left, nil
}

// joinScanners evaluates one JOIN clause, dispatching to a hash join
// when ON is a single equi-predicate between the two sides and
// falling back to nested-loop otherwise.
func joinScanners(left, right *scanner, jc *ast.JoinClause) (*scanner, error) {
	fields := append(append([]fieldRef(nil), left.fields...), right.fields...)
	combined := &scanner{fields: fields}

	leftKey, rightKey, isEqui := equiJoinKeys(jc.On, left, right)
	var rows [][]interface{}
	if isEqui {
		rightIdx := map[interface{}][]int{}
		for i, r := range right.rows {
			k := r[rightKey]
			rightIdx[keyOf(k)] = append(rightIdx[keyOf(k)], i)
		}
		for _, lr := range left.rows {
			matches := rightIdx[keyOf(lr[leftKey])]
			if len(matches) == 0 {
				if jc.Kind == ast.LeftJoin {
					rows = append(rows, joinRow(lr, nil, len(right.fields)))
				}
				continue
			}
			for _, ri := range matches {
				rows = append(rows, joinRow(lr, right.rows[ri], len(right.fields)))
			}
		}
	} else {
		for _, lr := range left.rows {
			matched := false
			for _, rr := range right.rows {
				row := joinRow(lr, rr, len(right.fields))
				env := &Env{scanner: combined, row: row}
				ok, err := evalExprBool(jc.On, env)
				if err != nil {
					return nil, err
				}
				if ok {
					matched = true
					rows = append(rows, row)
				}
			}
			if !matched && jc.Kind == ast.LeftJoin {
				rows = append(rows, joinRow(lr, nil, len(right.fields)))
			}
		}
	}
	combined.rows = rows
	return combined, nil
}

func joinRow(left, right []interface{}, rightWidth int) []interface{} {
	row := make([]interface{}, 0, len(left)+rightWidth)
	row = append(row, left...)
	if right == nil {
		for i := 0; i < rightWidth; i++ {
			row = append(row, nil)
		}
	} else {
		row = append(row, right...)
	}
	return row
}

func keyOf(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	if f, ok := toFloat64(v); ok {
		if _, isStr := v.(string); !isStr {
			return f
		}
	}
	return toDisplayString(v)
}

// equiJoinKeys reports whether on is exactly `a = b` where a resolves
// to a column of left and b to a column of right (or vice versa).
func equiJoinKeys(on ast.Expr, left, right *scanner) (leftIdx, rightIdx int, ok bool) {
	be, isBinary := on.(*ast.BinaryExpr)
	if !isBinary {
		return 0, 0, false
	}
	if be.Op.String() != "=" {
		return 0, 0, false
	}
	la, laOK := be.Left.(*ast.Ident)
	ra, raOK := be.Right.(*ast.Ident)
	if !laOK || !raOK {
		return 0, 0, false
	}
	if li, err := left.indexFor(la.Qualifier, la.Name); err == nil {
		if ri, err := right.indexFor(ra.Qualifier, ra.Name); err == nil {
			return li, ri, true
		}
	}
	if li, err := left.indexFor(ra.Qualifier, ra.Name); err == nil {
		if ri, err := right.indexFor(la.Qualifier, la.Name); err == nil {
			return li, ri, true
		}
	}
	return 0, 0, false
}
