package exec

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/mgttt/ndtsdb/ndtserr"
	"github.com/mgttt/ndtsdb/sql/ast"
	"github.com/mgttt/ndtsdb/sql/token"
)

// Env is the evaluation context for one output row: a plain scanner
// row, plus (when applicable) the precomputed aggregate and window
// values that FuncCall/WindowCall nodes resolve to instead of being
// evaluated from scratch.
type Env struct {
	scanner      *scanner
	row          []interface{}
	aggValues    map[string]interface{}
	windowValues map[string]interface{}
	subqueries   *subqueryCache
}

func (e *Env) resolveIdent(qualifier, name string) (interface{}, error) {
	if e.scanner == nil {
		return nil, ndtserr.New(ndtserr.ColumnMissing, "no such column %q", name)
	}
	i, err := e.scanner.indexFor(qualifier, name)
	if err != nil {
		return nil, err
	}
	return e.row[i], nil
}

// subqueryCache executes every distinct subquery expression in a
// statement exactly once, keyed by AST node identity, regardless of
// how many rows evaluate it.
type subqueryCache struct {
	mu      sync.Mutex
	engine  *Engine
	cat     *Catalog
	ctx     context.Context
	inSets  map[*ast.InExpr]*inSet
	scalars map[*ast.SubqueryExpr]interface{}
}

func newSubqueryCache(ctx context.Context, eng *Engine, cat *Catalog) *subqueryCache {
	return &subqueryCache{
		ctx: ctx, engine: eng, cat: cat,
		inSets:  map[*ast.InExpr]*inSet{},
		scalars: map[*ast.SubqueryExpr]interface{}{},
	}
}

type inSet struct {
	single map[string]struct{}
	tuples map[string]struct{}
}

func (c *subqueryCache) inSetFor(ie *ast.InExpr) (*inSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.inSets[ie]; ok {
		return s, nil
	}
	res, err := c.engine.executeSelect(c.ctx, c.cat, ie.Subquery)
	if err != nil {
		return nil, err
	}
	s := &inSet{single: map[string]struct{}{}}
	if len(res.Columns) == 0 {
		c.inSets[ie] = s
		return s, nil
	}
	col := res.Columns[0]
	for _, r := range res.Rows {
		s.single[encodeValue(r[col])] = struct{}{}
	}
	c.inSets[ie] = s
	return s, nil
}

func (c *subqueryCache) scalarFor(se *ast.SubqueryExpr) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.scalars[se]; ok {
		return v, nil
	}
	res, err := c.engine.executeSelect(c.ctx, c.cat, se.Query)
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 || len(res.Columns) == 0 {
		c.scalars[se] = nil
		return nil, nil
	}
	v := res.Rows[0][res.Columns[0]]
	c.scalars[se] = v
	return v, nil
}

func encodeValue(v interface{}) string {
	if v == nil {
		return "\x00null"
	}
	return toDisplayString(v)
}

func encodeTuple(vs []interface{}) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = encodeValue(v)
	}
	return strings.Join(parts, "\x1f")
}

func evalExprBool(expr ast.Expr, env *Env) (bool, error) {
	v, err := evalExpr(expr, env)
	if err != nil {
		return false, err
	}
	return toBool(v), nil
}

// evalExpr evaluates one sql/ast expression node against env.
func evalExpr(expr ast.Expr, env *Env) (interface{}, error) {
	switch e := expr.(type) {
	case *ast.Ident:
		return env.resolveIdent(e.Qualifier, e.Name)
	case *ast.IntLit:
		return e.Value, nil
	case *ast.FloatLit:
		return e.Value, nil
	case *ast.StringLit:
		return e.Value, nil
	case *ast.BoolLit:
		return e.Value, nil
	case *ast.NullLit:
		return nil, nil
	case *ast.BinaryExpr:
		return evalBinary(e, env)
	case *ast.UnaryExpr:
		return evalUnary(e, env)
	case *ast.InExpr:
		return evalIn(e, env)
	case *ast.LikeExpr:
		return evalLike(e, env)
	case *ast.IsNullExpr:
		v, err := evalExpr(e.Expr, env)
		if err != nil {
			return nil, err
		}
		return (v == nil) != e.Not, nil
	case *ast.BetweenExpr:
		return evalBetween(e, env)
	case *ast.CaseExpr:
		return evalCase(e, env)
	case *ast.FuncCall:
		return evalFuncCall(e, env)
	case *ast.WindowCall:
		sig := windowSignature(e)
		if env.windowValues != nil {
			if v, ok := env.windowValues[sig]; ok {
				return v, nil
			}
		}
		return nil, ndtserr.New(ndtserr.SQLPlanError, "window function %s used outside a computed window context", sig)
	case *ast.SubqueryExpr:
		if env.subqueries == nil {
			return nil, ndtserr.New(ndtserr.SQLPlanError, "scalar subquery used without subquery context")
		}
		return env.subqueries.scalarFor(e)
	}
	return nil, ndtserr.New(ndtserr.SQLPlanError, "unsupported expression node %T", expr)
}

func evalBinary(e *ast.BinaryExpr, env *Env) (interface{}, error) {
	switch e.Op {
	case token.AND:
		l, err := evalExprBool(e.Left, env)
		if err != nil || !l {
			return false, err
		}
		return evalExprBool(e.Right, env)
	case token.OR:
		l, err := evalExprBool(e.Left, env)
		if err != nil {
			return false, err
		}
		if l {
			return true, nil
		}
		return evalExprBool(e.Right, env)
	}

	l, err := evalExpr(e.Left, env)
	if err != nil {
		return nil, err
	}
	r, err := evalExpr(e.Right, env)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case token.EQ:
		return valuesEqual(l, r), nil
	case token.NEQ:
		return !valuesEqual(l, r), nil
	case token.LT:
		return compareValues(l, r) < 0, nil
	case token.LTE:
		return compareValues(l, r) <= 0, nil
	case token.GT:
		return compareValues(l, r) > 0, nil
	case token.GTE:
		return compareValues(l, r) >= 0, nil
	case token.CONCAT:
		return toDisplayString(l) + toDisplayString(r), nil
	case token.PLUS, token.MINUS, token.ASTERISK, token.SLASH:
		lf, _ := toFloat64(l)
		rf, _ := toFloat64(r)
		switch e.Op {
		case token.PLUS:
			return lf + rf, nil
		case token.MINUS:
			return lf - rf, nil
		case token.ASTERISK:
			return lf * rf, nil
		case token.SLASH:
			if rf == 0 {
				return nil, ndtserr.New(ndtserr.SQLTypeError, "division by zero")
			}
			return lf / rf, nil
		}
	case token.PERCENT:
		li, _ := toInt64(l)
		ri, _ := toInt64(r)
		if ri == 0 {
			return nil, ndtserr.New(ndtserr.SQLTypeError, "modulo by zero")
		}
		return li % ri, nil
	}
	return nil, ndtserr.New(ndtserr.SQLPlanError, "unsupported binary operator %s", e.Op)
}

func evalUnary(e *ast.UnaryExpr, env *Env) (interface{}, error) {
	v, err := evalExpr(e.Operand, env)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case token.NOT:
		return !toBool(v), nil
	case token.PLUS:
		return v, nil
	case token.MINUS:
		if iv, ok := v.(int64); ok {
			return -iv, nil
		}
		f, _ := toFloat64(v)
		return -f, nil
	}
	return nil, ndtserr.New(ndtserr.SQLPlanError, "unsupported unary operator %s", e.Op)
}

func evalIn(e *ast.InExpr, env *Env) (interface{}, error) {
	if e.Subquery != nil {
		if env.subqueries == nil {
			return nil, ndtserr.New(ndtserr.SQLPlanError, "IN (SELECT ...) used without subquery context")
		}
		set, err := env.subqueries.inSetFor(e)
		if err != nil {
			return nil, err
		}
		if len(e.Exprs) != 1 {
			return nil, ndtserr.New(ndtserr.SQLPlanError, "IN (SELECT ...) does not support multi-column tuples")
		}
		v, err := evalExpr(e.Exprs[0], env)
		if err != nil {
			return nil, err
		}
		_, found := set.single[encodeValue(v)]
		return found != e.Not, nil
	}

	lhs := make([]interface{}, len(e.Exprs))
	for i, ex := range e.Exprs {
		v, err := evalExpr(ex, env)
		if err != nil {
			return nil, err
		}
		lhs[i] = v
	}
	for _, row := range e.Values {
		if len(row) != len(lhs) {
			continue
		}
		allEq := true
		for i, rv := range row {
			v, err := evalExpr(rv, env)
			if err != nil {
				return nil, err
			}
			if !valuesEqual(lhs[i], v) {
				allEq = false
				break
			}
		}
		if allEq {
			return !e.Not, nil
		}
	}
	return e.Not, nil
}

func evalLike(e *ast.LikeExpr, env *Env) (interface{}, error) {
	v, err := evalExpr(e.Expr, env)
	if err != nil {
		return nil, err
	}
	p, err := evalExpr(e.Pattern, env)
	if err != nil {
		return nil, err
	}
	re, err := likeToRegexp(toDisplayString(p))
	if err != nil {
		return nil, err
	}
	matched := re.MatchString(toDisplayString(v))
	return matched != e.Not, nil
}

func likeToRegexp(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, ndtserr.Wrap(ndtserr.SQLTypeError, err, "invalid LIKE pattern %q", pattern)
	}
	return re, nil
}

func evalBetween(e *ast.BetweenExpr, env *Env) (interface{}, error) {
	v, err := evalExpr(e.Expr, env)
	if err != nil {
		return nil, err
	}
	lo, err := evalExpr(e.Lo, env)
	if err != nil {
		return nil, err
	}
	hi, err := evalExpr(e.Hi, env)
	if err != nil {
		return nil, err
	}
	in := compareValues(v, lo) >= 0 && compareValues(v, hi) <= 0
	return in != e.Not, nil
}

func evalCase(e *ast.CaseExpr, env *Env) (interface{}, error) {
	for _, w := range e.Whens {
		ok, err := evalExprBool(w.Cond, env)
		if err != nil {
			return nil, err
		}
		if ok {
			return evalExpr(w.Result, env)
		}
	}
	if e.Else != nil {
		return evalExpr(e.Else, env)
	}
	return nil, nil
}

func evalFuncCall(fc *ast.FuncCall, env *Env) (interface{}, error) {
	sig := funcSignature(fc)
	if env.aggValues != nil {
		if v, ok := env.aggValues[sig]; ok {
			return v, nil
		}
	}
	name := strings.ToUpper(fc.Name)
	if isAggregateName(name) {
		return nil, ndtserr.New(ndtserr.SQLPlanError, "aggregate %s used outside a grouped context", fc.Name)
	}

	args := make([]interface{}, len(fc.Args))
	for i, a := range fc.Args {
		v, err := evalExpr(a, env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	switch name {
	case "ROUND":
		f, _ := toFloat64(args[0])
		places := 0
		if len(args) > 1 {
			p, _ := toInt64(args[1])
			places = int(p)
		}
		scale := math.Pow(10, float64(places))
		return math.Round(f*scale) / scale, nil
	case "SQRT":
		f, _ := toFloat64(args[0])
		if f < 0 {
			return nil, ndtserr.New(ndtserr.SQLTypeError, "SQRT of negative number")
		}
		return math.Sqrt(f), nil
	case "ABS":
		f, _ := toFloat64(args[0])
		return math.Abs(f), nil
	case "COALESCE":
		for _, a := range args {
			if a != nil {
				return a, nil
			}
		}
		return nil, nil
	case "LOWER":
		return strings.ToLower(toDisplayString(args[0])), nil
	case "UPPER":
		return strings.ToUpper(toDisplayString(args[0])), nil
	}
	return nil, ndtserr.New(ndtserr.SQLPlanError, "unknown function %s", fc.Name)
}

// funcSignature and windowSignature build a stable textual key for a
// FuncCall/WindowCall node, used to look its precomputed aggregate or
// window value up in an Env built for a grouped or windowed row.
func funcSignature(fc *ast.FuncCall) string {
	if fc.Star {
		return strings.ToUpper(fc.Name) + "(*)"
	}
	var sb strings.Builder
	sb.WriteString(strings.ToUpper(fc.Name))
	sb.WriteString("(")
	for i, a := range fc.Args {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(exprText(a))
	}
	sb.WriteString(")")
	return sb.String()
}

func windowSignature(wc *ast.WindowCall) string {
	var sb strings.Builder
	sb.WriteString(funcSignature(wc.Func))
	sb.WriteString(" OVER (")
	for _, p := range wc.PartitionBy {
		sb.WriteString("P:")
		sb.WriteString(exprText(p))
	}
	for _, o := range wc.OrderBy {
		sb.WriteString("O:")
		sb.WriteString(exprText(o.Expr))
		if o.Desc {
			sb.WriteString(" DESC")
		}
	}
	sb.WriteString(")")
	return sb.String()
}

// exprText renders an expression as a normalized textual key, good
// enough to disambiguate the handful of expression shapes aggregate
// args and GROUP BY keys take (identifiers and literals) without
// needing a full pretty-printer.
func exprText(e ast.Expr) string {
	switch x := e.(type) {
	case *ast.Ident:
		if x.Qualifier != "" {
			return x.Qualifier + "." + x.Name
		}
		return x.Name
	case *ast.IntLit:
		return strconv.FormatInt(x.Value, 10)
	case *ast.FloatLit:
		return strconv.FormatFloat(x.Value, 'g', -1, 64)
	case *ast.StringLit:
		return "'" + x.Value + "'"
	case *ast.BoolLit:
		return strconv.FormatBool(x.Value)
	case *ast.NullLit:
		return "NULL"
	case *ast.FuncCall:
		return funcSignature(x)
	case *ast.BinaryExpr:
		return exprText(x.Left) + x.Op.String() + exprText(x.Right)
	case *ast.UnaryExpr:
		return x.Op.String() + exprText(x.Operand)
	default:
		return "?"
	}
}

func isAggregateName(upperName string) bool {
	switch upperName {
	case "COUNT", "SUM", "AVG", "MIN", "MAX", "STDDEV":
		return true
	}
	return false
}
