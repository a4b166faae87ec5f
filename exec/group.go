package exec

import (
	"math"

	"github.com/mgttt/ndtsdb/sql/ast"
)

// aggState is a streaming reducer: one value flows in via add per row
// in the group, and value() yields the finished aggregate. stddev
// uses Welford's online algorithm so it never needs the full sample
// materialized.
type aggState interface {
	add(v interface{})
	value() interface{}
}

type countState struct {
	star bool
	n    int64
}

func (s *countState) add(v interface{}) {
	if s.star || v != nil {
		s.n++
	}
}
func (s *countState) value() interface{} { return s.n }

type sumState struct {
	n   int64
	sum float64
}

func (s *sumState) add(v interface{}) {
	if f, ok := toFloat64(v); ok {
		s.sum += f
		s.n++
	}
}
func (s *sumState) value() interface{} {
	if s.n == 0 {
		return nil
	}
	return s.sum
}

type avgState struct {
	n   int64
	sum float64
}

func (s *avgState) add(v interface{}) {
	if f, ok := toFloat64(v); ok {
		s.sum += f
		s.n++
	}
}
func (s *avgState) value() interface{} {
	if s.n == 0 {
		return nil
	}
	return s.sum / float64(s.n)
}

type minState struct {
	set bool
	v   float64
}

func (s *minState) add(v interface{}) {
	f, ok := toFloat64(v)
	if !ok {
		return
	}
	if !s.set || f < s.v {
		s.v, s.set = f, true
	}
}
func (s *minState) value() interface{} {
	if !s.set {
		return nil
	}
	return s.v
}

type maxState struct {
	set bool
	v   float64
}

func (s *maxState) add(v interface{}) {
	f, ok := toFloat64(v)
	if !ok {
		return
	}
	if !s.set || f > s.v {
		s.v, s.set = f, true
	}
}
func (s *maxState) value() interface{} {
	if !s.set {
		return nil
	}
	return s.v
}

// stddevState computes population standard deviation online via
// Welford's algorithm, matching the engine's batch rollingStdDev.
type stddevState struct {
	n    int64
	mean float64
	m2   float64
}

func (s *stddevState) add(v interface{}) {
	f, ok := toFloat64(v)
	if !ok {
		return
	}
	s.n++
	delta := f - s.mean
	s.mean += delta / float64(s.n)
	s.m2 += delta * (f - s.mean)
}
func (s *stddevState) value() interface{} {
	if s.n == 0 {
		return nil
	}
	return math.Sqrt(s.m2 / float64(s.n))
}

func newAggState(fc *ast.FuncCall) aggState {
	switch upperName(fc.Name) {
	case "COUNT":
		return &countState{star: fc.Star}
	case "SUM":
		return &sumState{}
	case "AVG":
		return &avgState{}
	case "MIN":
		return &minState{}
	case "MAX":
		return &maxState{}
	case "STDDEV":
		return &stddevState{}
	}
	return &countState{}
}

// groupResult is one output group: its GROUP BY key values, a
// representative input row (used to resolve plain column references
// that are not themselves aggregated), and the finished aggregate
// values keyed by signature.
type groupResult struct {
	key       []interface{}
	repRow    []interface{}
	aggValues map[string]interface{}
}

// groupAndAggregate implements §4.7 step 5: hash-group rows by
// groupBy, feed every aggregate call its argument per row, and emit
// one groupResult per distinct key in first-seen order. With no
// GROUP BY clause, every row belongs to one implicit group; if that
// group is also empty, a single identity-valued group is still
// produced so `SELECT COUNT(*) FROM empty` returns one row.
func groupAndAggregate(rows [][]interface{}, fields []fieldRef, groupBy []ast.Expr, aggCalls []*ast.FuncCall) ([]*groupResult, error) {
	type bucket struct {
		result *groupResult
		states map[string]aggState
	}
	buckets := map[string]*bucket{}
	var order []string

	newBucket := func(key []interface{}, rep []interface{}) *bucket {
		states := make(map[string]aggState, len(aggCalls))
		for _, fc := range aggCalls {
			states[funcSignature(fc)] = newAggState(fc)
		}
		return &bucket{result: &groupResult{key: key, repRow: rep}, states: states}
	}

	for _, row := range rows {
		env := &Env{scanner: &scanner{fields: fields}, row: row}
		keyVals := make([]interface{}, len(groupBy))
		for i, ex := range groupBy {
			v, err := evalExpr(ex, env)
			if err != nil {
				return nil, err
			}
			keyVals[i] = v
		}
		keyStr := encodeTuple(keyVals)
		b, ok := buckets[keyStr]
		if !ok {
			b = newBucket(keyVals, row)
			buckets[keyStr] = b
			order = append(order, keyStr)
		}
		for _, fc := range aggCalls {
			var v interface{}
			if !fc.Star && len(fc.Args) > 0 {
				var err error
				v, err = evalExpr(fc.Args[0], env)
				if err != nil {
					return nil, err
				}
			}
			b.states[funcSignature(fc)].add(v)
		}
	}

	if len(order) == 0 && len(groupBy) == 0 && len(aggCalls) > 0 {
		b := newBucket(nil, nil)
		buckets[""] = b
		order = append(order, "")
	}

	out := make([]*groupResult, 0, len(order))
	for _, k := range order {
		b := buckets[k]
		b.result.aggValues = make(map[string]interface{}, len(b.states))
		for sig, st := range b.states {
			b.result.aggValues[sig] = st.value()
		}
		out = append(out, b.result)
	}
	return out, nil
}
