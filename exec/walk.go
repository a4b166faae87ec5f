package exec

import "github.com/mgttt/ndtsdb/sql/ast"

// walkExpr calls visit on e and recurses into every child expression,
// used to collect aggregate/window calls out of projections, HAVING
// and ORDER BY without hand-rolling the traversal at each call site.
func walkExpr(e ast.Expr, visit func(ast.Expr)) {
	if e == nil {
		return
	}
	visit(e)
	switch x := e.(type) {
	case *ast.BinaryExpr:
		walkExpr(x.Left, visit)
		walkExpr(x.Right, visit)
	case *ast.UnaryExpr:
		walkExpr(x.Operand, visit)
	case *ast.InExpr:
		for _, ex := range x.Exprs {
			walkExpr(ex, visit)
		}
		for _, row := range x.Values {
			for _, ex := range row {
				walkExpr(ex, visit)
			}
		}
	case *ast.LikeExpr:
		walkExpr(x.Expr, visit)
		walkExpr(x.Pattern, visit)
	case *ast.IsNullExpr:
		walkExpr(x.Expr, visit)
	case *ast.BetweenExpr:
		walkExpr(x.Expr, visit)
		walkExpr(x.Lo, visit)
		walkExpr(x.Hi, visit)
	case *ast.FuncCall:
		for _, a := range x.Args {
			walkExpr(a, visit)
		}
	case *ast.WindowCall:
		walkExpr(x.Func, visit)
		for _, p := range x.PartitionBy {
			walkExpr(p, visit)
		}
		for _, o := range x.OrderBy {
			walkExpr(o.Expr, visit)
		}
	case *ast.CaseExpr:
		for _, w := range x.Whens {
			walkExpr(w.Cond, visit)
			walkExpr(w.Result, visit)
		}
		walkExpr(x.Else, visit)
	}
}

// collectAggregateCalls finds every aggregate FuncCall reachable from
// exprs, deduplicated by signature.
func collectAggregateCalls(exprs ...ast.Expr) []*ast.FuncCall {
	seen := map[string]bool{}
	var out []*ast.FuncCall
	for _, e := range exprs {
		walkExpr(e, func(node ast.Expr) {
			fc, ok := node.(*ast.FuncCall)
			if !ok || !isAggregateName(upperName(fc.Name)) {
				return
			}
			sig := funcSignature(fc)
			if !seen[sig] {
				seen[sig] = true
				out = append(out, fc)
			}
		})
	}
	return out
}

// collectWindowCalls finds every WindowCall reachable from exprs,
// deduplicated by signature.
func collectWindowCalls(exprs ...ast.Expr) []*ast.WindowCall {
	seen := map[string]bool{}
	var out []*ast.WindowCall
	for _, e := range exprs {
		walkExpr(e, func(node ast.Expr) {
			wc, ok := node.(*ast.WindowCall)
			if !ok {
				return
			}
			sig := windowSignature(wc)
			if !seen[sig] {
				seen[sig] = true
				out = append(out, wc)
			}
		})
	}
	return out
}

func upperName(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}
