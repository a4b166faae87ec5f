package parser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgttt/ndtsdb/ndtserr"
	"github.com/mgttt/ndtsdb/sql/ast"
	"github.com/mgttt/ndtsdb/sql/parser"
	"github.com/mgttt/ndtsdb/sql/token"
)

func TestParseSimpleSelect(t *testing.T) {
	stmt, err := parser.ParseStatement("SELECT symbol, price FROM trades WHERE price > 100 AND symbol = 'BTC'")
	require.NoError(t, err)
	require.NotNil(t, stmt.Select)
	require.Len(t, stmt.Select.Projections, 2)
	assert.Equal(t, "symbol", stmt.Select.Projections[0].Expr.(*ast.Ident).Name)
	assert.Equal(t, "trades", stmt.Select.From.Table)
	require.NotNil(t, stmt.Select.Where)
	and, ok := stmt.Select.Where.(*ast.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, token.AND, and.Op)
}

func TestParseExplainSetsFlag(t *testing.T) {
	stmt, err := parser.ParseStatement("EXPLAIN SELECT * FROM trades")
	require.NoError(t, err)
	assert.True(t, stmt.Explain)
	require.Len(t, stmt.Select.Projections, 1)
	assert.True(t, stmt.Select.Projections[0].Star)
}

func TestParseGroupByHavingOrderByLimitOffset(t *testing.T) {
	stmt, err := parser.ParseStatement(
		"SELECT symbol, COUNT(*) FROM trades GROUP BY symbol HAVING COUNT(*) > 1 ORDER BY symbol DESC LIMIT 10 OFFSET 5")
	require.NoError(t, err)
	sel := stmt.Select
	require.Len(t, sel.GroupBy, 1)
	require.NotNil(t, sel.Having)
	require.Len(t, sel.OrderBy, 1)
	assert.True(t, sel.OrderBy[0].Desc)
	require.NotNil(t, sel.Limit)
	require.NotNil(t, sel.Offset)
}

func TestHavingWithoutGroupByIsError(t *testing.T) {
	_, err := parser.ParseStatement("SELECT symbol FROM trades HAVING symbol = 'BTC'")
	require.Error(t, err)
	e, ok := ndtserr.As(err)
	require.True(t, ok)
	assert.Equal(t, ndtserr.SQLParseError, e.Kind)
	assert.NotNil(t, e.Pos)
}

func TestParseJoinInnerAndLeft(t *testing.T) {
	stmt, err := parser.ParseStatement(
		"SELECT a.symbol FROM trades a INNER JOIN quotes b ON a.symbol = b.symbol LEFT JOIN meta m ON a.symbol = m.symbol")
	require.NoError(t, err)
	require.Len(t, stmt.Select.Joins, 2)
	assert.Equal(t, ast.InnerJoin, stmt.Select.Joins[0].Kind)
	assert.Equal(t, ast.LeftJoin, stmt.Select.Joins[1].Kind)
}

func TestParseInListAndNotIn(t *testing.T) {
	stmt, err := parser.ParseStatement("SELECT * FROM trades WHERE symbol IN ('BTC', 'ETH') AND price NOT IN (1, 2)")
	require.NoError(t, err)
	and := stmt.Select.Where.(*ast.BinaryExpr)
	left := and.Left.(*ast.InExpr)
	assert.False(t, left.Not)
	assert.Len(t, left.Values, 2)
	right := and.Right.(*ast.InExpr)
	assert.True(t, right.Not)
}

func TestParseTupleIn(t *testing.T) {
	stmt, err := parser.ParseStatement("SELECT * FROM trades WHERE (symbol, price) IN (('BTC', 1), ('ETH', 2))")
	require.NoError(t, err)
	in := stmt.Select.Where.(*ast.InExpr)
	require.Len(t, in.Exprs, 2)
	require.Len(t, in.Values, 2)
	require.Len(t, in.Values[0], 2)
}

func TestParseInSubquery(t *testing.T) {
	stmt, err := parser.ParseStatement("SELECT * FROM trades WHERE symbol IN (SELECT symbol FROM watchlist)")
	require.NoError(t, err)
	in := stmt.Select.Where.(*ast.InExpr)
	require.NotNil(t, in.Subquery)
	assert.Equal(t, "watchlist", in.Subquery.From.Table)
}

func TestParseBetweenLikeIsNull(t *testing.T) {
	stmt, err := parser.ParseStatement(
		"SELECT * FROM trades WHERE price BETWEEN 1 AND 100 AND symbol LIKE 'BT%' AND note IS NOT NULL")
	require.NoError(t, err)
	top := stmt.Select.Where.(*ast.BinaryExpr) // outermost AND
	assert.Equal(t, token.AND, top.Op)
	mid := top.Left.(*ast.BinaryExpr)
	between := mid.Left.(*ast.BetweenExpr)
	assert.False(t, between.Not)
	like := mid.Right.(*ast.LikeExpr)
	assert.False(t, like.Not)
	isNull := top.Right.(*ast.IsNullExpr)
	assert.True(t, isNull.Not)
}

func TestParseCaseExpr(t *testing.T) {
	stmt, err := parser.ParseStatement(
		"SELECT CASE WHEN price > 100 THEN 'high' WHEN price > 10 THEN 'mid' ELSE 'low' END FROM trades")
	require.NoError(t, err)
	ce := stmt.Select.Projections[0].Expr.(*ast.CaseExpr)
	require.Len(t, ce.Whens, 2)
	require.NotNil(t, ce.Else)
}

func TestParseWindowCallWithFrame(t *testing.T) {
	stmt, err := parser.ParseStatement(
		"SELECT AVG(price) OVER (PARTITION BY symbol ORDER BY ts ROWS BETWEEN 5 PRECEDING AND CURRENT ROW) FROM trades")
	require.NoError(t, err)
	wc := stmt.Select.Projections[0].Expr.(*ast.WindowCall)
	assert.Equal(t, "AVG", wc.Func.Name)
	require.Len(t, wc.PartitionBy, 1)
	require.Len(t, wc.OrderBy, 1)
	require.True(t, wc.Frame.HasFrame)
	assert.Equal(t, int64(5), wc.Frame.PrecedingN)
}

func TestParseWindowCallUnboundedFrame(t *testing.T) {
	stmt, err := parser.ParseStatement(
		"SELECT ROW_NUMBER() OVER (PARTITION BY symbol ORDER BY ts ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW) FROM trades")
	require.NoError(t, err)
	wc := stmt.Select.Projections[0].Expr.(*ast.WindowCall)
	assert.True(t, wc.Frame.Unbounded)
}

func TestParseArithmeticPrecedence(t *testing.T) {
	stmt, err := parser.ParseStatement("SELECT 1 + 2 * 3 FROM trades")
	require.NoError(t, err)
	add := stmt.Select.Projections[0].Expr.(*ast.BinaryExpr)
	assert.Equal(t, token.PLUS, add.Op)
	_, ok := add.Left.(*ast.IntLit)
	require.True(t, ok)
	mul, ok := add.Right.(*ast.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, token.ASTERISK, mul.Op)
}

func TestParseUnaryMinusAndConcat(t *testing.T) {
	stmt, err := parser.ParseStatement("SELECT -price, symbol || '-suffix' FROM trades")
	require.NoError(t, err)
	neg := stmt.Select.Projections[0].Expr.(*ast.UnaryExpr)
	assert.Equal(t, token.MINUS, neg.Op)
	concat := stmt.Select.Projections[1].Expr.(*ast.BinaryExpr)
	assert.Equal(t, token.CONCAT, concat.Op)
}

func TestParseSubqueryInFrom(t *testing.T) {
	stmt, err := parser.ParseStatement("SELECT x.symbol FROM (SELECT symbol FROM trades) AS x")
	require.NoError(t, err)
	require.NotNil(t, stmt.Select.From.Subquery)
	assert.Equal(t, "x", stmt.Select.From.Alias)
}

func TestParseWithClause(t *testing.T) {
	stmt, err := parser.ParseStatement(
		"WITH recent AS (SELECT symbol FROM trades) SELECT symbol FROM recent")
	require.NoError(t, err)
	require.Len(t, stmt.With, 1)
	assert.Equal(t, "recent", stmt.With[0].Name)
	assert.Equal(t, "recent", stmt.Select.From.Table)
}

func TestParseInsert(t *testing.T) {
	stmt, err := parser.ParseStatement(
		"INSERT INTO trades (ts, symbol, price) VALUES (1, 'BTC', 100.5), (2, 'ETH', 50)")
	require.NoError(t, err)
	require.NotNil(t, stmt.Insert)
	assert.Equal(t, "trades", stmt.Insert.Table)
	assert.Equal(t, []string{"ts", "symbol", "price"}, stmt.Insert.Columns)
	require.Len(t, stmt.Insert.Rows, 2)
	require.Len(t, stmt.Insert.Rows[0], 3)
}

func TestParseErrorCarriesPosition(t *testing.T) {
	_, err := parser.ParseStatement("SELECT FROM trades")
	require.Error(t, err)
	e, ok := ndtserr.As(err)
	require.True(t, ok)
	assert.Equal(t, ndtserr.SQLParseError, e.Kind)
	require.NotNil(t, e.Pos)
}

func TestParseCommentsAreSkipped(t *testing.T) {
	stmt, err := parser.ParseStatement("SELECT symbol -- trailing comment\nFROM trades")
	require.NoError(t, err)
	assert.Equal(t, "trades", stmt.Select.From.Table)
}
