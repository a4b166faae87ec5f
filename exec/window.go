package exec

import (
	"sort"

	"github.com/mgttt/ndtsdb/ndtserr"
	"github.com/mgttt/ndtsdb/sql/ast"
)

// computeWindowValues implements §4.7 step 6's general path: for each
// WindowCall, partition rows by PARTITION BY, order each partition by
// ORDER BY, and evaluate the function per row over its frame. Returns
// one map per row index from window signature to that row's value.
func computeWindowValues(rows [][]interface{}, fields []fieldRef, wcs []*ast.WindowCall) ([]map[string]interface{}, error) {
	out := make([]map[string]interface{}, len(rows))
	for i := range out {
		out[i] = map[string]interface{}{}
	}
	for _, wc := range wcs {
		if err := computeOneWindow(rows, fields, wc, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func computeOneWindow(rows [][]interface{}, fields []fieldRef, wc *ast.WindowCall, out []map[string]interface{}) error {
	sig := windowSignature(wc)
	partitions, err := partitionRows(rows, fields, wc.PartitionBy)
	if err != nil {
		return err
	}
	for _, members := range partitions {
		ordered := append([]int(nil), members...)
		if len(wc.OrderBy) > 0 {
			var sortErr error
			sort.SliceStable(ordered, func(a, b int) bool {
				less, err := lessByOrderBy(ordered[a], ordered[b], rows, fields, wc.OrderBy)
				if err != nil {
					sortErr = err
				}
				return less
			})
			if sortErr != nil {
				return sortErr
			}
		}

		name := upperName(wc.Func.Name)
		if name == "ROW_NUMBER" {
			for pos, rowIdx := range ordered {
				out[rowIdx][sig] = int64(pos + 1)
			}
			continue
		}

		for pos, rowIdx := range ordered {
			lo := 0
			if wc.Frame.HasFrame && !wc.Frame.Unbounded {
				lo = pos - int(wc.Frame.PrecedingN)
				if lo < 0 {
					lo = 0
				}
			}
			hi := pos
			if !wc.Frame.HasFrame {
				hi = len(ordered) - 1
			}
			st := newAggState(wc.Func)
			env := &Env{scanner: &scanner{fields: fields}}
			for k := lo; k <= hi; k++ {
				env.row = rows[ordered[k]]
				var v interface{}
				if !wc.Func.Star && len(wc.Func.Args) > 0 {
					v, err = evalExpr(wc.Func.Args[0], env)
					if err != nil {
						return err
					}
				}
				st.add(v)
			}
			out[rowIdx][sig] = st.value()
		}
	}
	return nil
}

func partitionRows(rows [][]interface{}, fields []fieldRef, partitionBy []ast.Expr) (map[string][]int, error) {
	out := map[string][]int{}
	env := &Env{scanner: &scanner{fields: fields}}
	for i, row := range rows {
		env.row = row
		vals := make([]interface{}, len(partitionBy))
		for j, ex := range partitionBy {
			v, err := evalExpr(ex, env)
			if err != nil {
				return nil, err
			}
			vals[j] = v
		}
		key := encodeTuple(vals)
		out[key] = append(out[key], i)
	}
	return out, nil
}

// lessByOrderBy reports whether the row at aIdx sorts before the row
// at bIdx under items. When every key ties, the tiebreak favors the
// later original row index (aIdx > bIdx sorts first), matching
// LatestOn's "ties broken by later index" semantics so that
// ROW_NUMBER() ... ORDER BY ... assigns rn=1 to the same row LatestOn
// would pick.
func lessByOrderBy(aIdx, bIdx int, rows [][]interface{}, fields []fieldRef, items []ast.OrderItem) (bool, error) {
	envA := &Env{scanner: &scanner{fields: fields}, row: rows[aIdx]}
	envB := &Env{scanner: &scanner{fields: fields}, row: rows[bIdx]}
	for _, it := range items {
		va, err := evalExpr(it.Expr, envA)
		if err != nil {
			return false, err
		}
		vb, err := evalExpr(it.Expr, envB)
		if err != nil {
			return false, err
		}
		c := compareValues(va, vb)
		if c == 0 {
			continue
		}
		if it.Desc {
			return c > 0, nil
		}
		return c < 0, nil
	}
	return aIdx > bIdx, nil
}

// fastLastRowPerPartition implements the mandatory fast path of §4.7
// step 6: when a consumer only needs the last row per partition of a
// ROW_NUMBER() ... ORDER BY window (the common
// `... WHERE rn = 1` over a `ROW_NUMBER() OVER (PARTITION BY p ORDER
// BY o DESC)` subquery), it is cheaper to track one running best row
// per partition than to sort every partition and number every row.
// Every ORDER BY key is chained as a tiebreaker, same as the general
// path's lessByOrderBy; when all keys tie, the later-scanned row wins,
// matching LatestOn's "ties broken by later index" semantics.
func fastLastRowPerPartition(rows [][]interface{}, fields []fieldRef, wc *ast.WindowCall) (map[string][]interface{}, error) {
	if len(wc.OrderBy) == 0 {
		return nil, ndtserr.New(ndtserr.SQLPlanError, "fast path requires an ORDER BY")
	}
	best := map[string][]interface{}{}
	bestVals := map[string][]interface{}{}
	env := &Env{scanner: &scanner{fields: fields}}
	for _, row := range rows {
		env.row = row
		pvals := make([]interface{}, len(wc.PartitionBy))
		for j, ex := range wc.PartitionBy {
			v, err := evalExpr(ex, env)
			if err != nil {
				return nil, err
			}
			pvals[j] = v
		}
		key := encodeTuple(pvals)

		curVals := make([]interface{}, len(wc.OrderBy))
		for i, ob := range wc.OrderBy {
			v, err := evalExpr(ob.Expr, env)
			if err != nil {
				return nil, err
			}
			curVals[i] = v
		}

		bv, ok := bestVals[key]
		if !ok || rowOutranks(curVals, bv, wc.OrderBy) {
			bestVals[key] = curVals
			best[key] = row
		}
	}
	return best, nil
}

// rowOutranks reports whether curVals should replace bestVals as the
// partition's chosen row, chaining through items in order and, on a
// full tie across every key, favoring cur (the later-scanned row).
func rowOutranks(curVals, bestVals []interface{}, items []ast.OrderItem) bool {
	for i, it := range items {
		c := compareValues(curVals[i], bestVals[i])
		if c == 0 {
			continue
		}
		if it.Desc {
			return c > 0
		}
		return c < 0
	}
	return true
}
