package exec

import (
	"github.com/mgttt/ndtsdb/index"
	"github.com/mgttt/ndtsdb/sql/ast"
	"github.com/mgttt/ndtsdb/sql/token"
	"github.com/mgttt/ndtsdb/table"
)

// flattenAnd decomposes a WHERE tree into its top-level AND factors,
// the first step of index planning (§4.7 step 2): `a AND b AND c`
// yields [a, b, c]; anything joined by OR is left as a single
// opaque factor, which the planner simply cannot use for pruning.
func flattenAnd(e ast.Expr) []ast.Expr {
	if be, ok := e.(*ast.BinaryExpr); ok && be.Op == token.AND {
		return append(flattenAnd(be.Left), flattenAnd(be.Right)...)
	}
	return []ast.Expr{e}
}

// predicateMap converts comparison factors referencing columns of the
// single table named alias into an index.Predicate map, merging
// multiple bounds on the same column (e.g. `x > 1 AND x < 10`).
func predicateMap(factors []ast.Expr, alias string) map[string]index.Predicate {
	out := map[string]index.Predicate{}
	for _, f := range factors {
		be, ok := f.(*ast.BinaryExpr)
		if !ok {
			continue
		}
		ident, ok := be.Left.(*ast.Ident)
		var lit ast.Expr = be.Right
		if !ok {
			ident, ok = be.Right.(*ast.Ident)
			lit = be.Left
			if !ok {
				continue
			}
		}
		if ident.Qualifier != "" && ident.Qualifier != alias {
			continue
		}
		val, ok := literalValue(lit)
		if !ok {
			continue
		}
		p := out[ident.Name]
		switch be.Op {
		case token.EQ:
			p.Eq = &val
		case token.GT:
			p.Gt = &val
		case token.GTE:
			p.Gte = &val
		case token.LT:
			p.Lt = &val
		case token.LTE:
			p.Lte = &val
		default:
			continue
		}
		out[ident.Name] = p
	}
	return out
}

func literalValue(e ast.Expr) (index.Value, bool) {
	switch x := e.(type) {
	case *ast.IntLit:
		return index.NumValue(float64(x.Value)), true
	case *ast.FloatLit:
		return index.NumValue(x.Value), true
	case *ast.StringLit:
		return index.StrValue(x.Value), true
	}
	return index.Value{}, false
}

// tryUseIndex implements §4.7 step 2 for a single, unjoined base
// table: decompose WHERE, try every composite index by prefix
// coverage, then single-column ordered indexes, choosing the
// candidate covering the most predicates (ties broken by the smaller
// resulting row count). Returns nil when no index applies, meaning a
// full scan.
func tryUseIndex(tbl *table.ColumnarTable, where ast.Expr, alias string) []uint32 {
	if where == nil {
		return nil
	}
	preds := predicateMap(flattenAnd(where), alias)
	if len(preds) == 0 {
		return nil
	}

	var best []uint32
	bestCovered := 0
	consider := func(rows []uint32, covered int) {
		if covered == 0 {
			return
		}
		if covered > bestCovered || (covered == bestCovered && (best == nil || len(rows) < len(best))) {
			best = rows
			bestCovered = covered
		}
	}

	for _, idx := range tbl.CompositeIndexes() {
		res, ok := idx.Query(preds)
		if ok {
			consider(res.Rows, len(res.Covered))
		}
	}
	for name, idx := range tbl.OrderedIndexes() {
		p, ok := preds[name]
		if !ok {
			continue
		}
		consider(idx.QueryRange(p), 1)
	}
	return best
}
