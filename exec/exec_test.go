package exec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgttt/ndtsdb/column"
	"github.com/mgttt/ndtsdb/sql/parser"
	"github.com/mgttt/ndtsdb/table"
)

func tradesSchema(t *testing.T) *column.Schema {
	s, err := column.NewSchema(
		column.NewField("ts", column.Int64),
		column.NewField("symbol", column.String),
		column.NewField("price", column.Float64),
		column.NewField("qty", column.Int64),
	)
	require.NoError(t, err)
	return s
}

func newTradesTable(t *testing.T) *table.ColumnarTable {
	tbl := table.New(tradesSchema(t), 16)
	rows := []column.Record{
		{"ts": int64(1000), "symbol": "BTC", "price": 100.0, "qty": int64(1)},
		{"ts": int64(2000), "symbol": "BTC", "price": 110.0, "qty": int64(2)},
		{"ts": int64(3000), "symbol": "BTC", "price": 105.0, "qty": int64(3)},
		{"ts": int64(1000), "symbol": "ETH", "price": 10.0, "qty": int64(5)},
		{"ts": int64(2000), "symbol": "ETH", "price": 12.0, "qty": int64(4)},
	}
	for _, r := range rows {
		require.NoError(t, tbl.Append(r))
	}
	return tbl
}

func run(t *testing.T, cat *Catalog, sqlText string) *Result {
	t.Helper()
	stmt, err := parser.ParseStatement(sqlText)
	require.NoError(t, err)
	res, err := NewEngine().Execute(context.Background(), cat, stmt)
	require.NoError(t, err)
	return res
}

func TestSelectWithWhereAndOrderBy(t *testing.T) {
	cat := NewCatalog()
	cat.Register("trades", newTradesTable(t))
	res := run(t, cat, "SELECT symbol, price FROM trades WHERE symbol = 'BTC' ORDER BY price DESC")
	require.Len(t, res.Rows, 3)
	assert.InDelta(t, 110.0, res.Rows[0]["price"], 0.0001)
	assert.InDelta(t, 100.0, res.Rows[2]["price"], 0.0001)
}

func TestSelectUsesOrderedIndex(t *testing.T) {
	cat := NewCatalog()
	tbl := newTradesTable(t)
	require.NoError(t, tbl.CreateIndex("ts"))
	cat.Register("trades", tbl)
	res := run(t, cat, "SELECT symbol FROM trades WHERE ts = 2000 ORDER BY symbol")
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "BTC", res.Rows[0]["symbol"])
	assert.Equal(t, "ETH", res.Rows[1]["symbol"])
}

func TestGroupByHavingCountAndAvg(t *testing.T) {
	cat := NewCatalog()
	cat.Register("trades", newTradesTable(t))
	res := run(t, cat, `
		SELECT symbol, COUNT(*) AS n, AVG(price) AS avg_price
		FROM trades
		GROUP BY symbol
		HAVING COUNT(*) > 2
		ORDER BY symbol`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "BTC", res.Rows[0]["symbol"])
	assert.EqualValues(t, 3, res.Rows[0]["n"])
	assert.InDelta(t, 105.0, res.Rows[0]["avg_price"], 0.0001)
}

func TestWindowRowNumberOverPartition(t *testing.T) {
	cat := NewCatalog()
	cat.Register("trades", newTradesTable(t))
	res := run(t, cat, `
		SELECT symbol, ts, ROW_NUMBER() OVER (PARTITION BY symbol ORDER BY ts DESC) AS rn
		FROM trades
		ORDER BY symbol, rn`)
	require.Len(t, res.Rows, 5)
	first := res.Rows[0]
	assert.Equal(t, "BTC", first["symbol"])
	assert.EqualValues(t, 3000, first["ts"])
	assert.EqualValues(t, 1, first["rn"])
}

func TestFastPathLastRowPerPartition(t *testing.T) {
	cat := NewCatalog()
	cat.Register("trades", newTradesTable(t))
	res := run(t, cat, `
		SELECT symbol, ts, price FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY symbol ORDER BY ts DESC) AS rn
			FROM trades
		) latest
		WHERE rn = 1
		ORDER BY symbol`)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "BTC", res.Rows[0]["symbol"])
	assert.EqualValues(t, 3000, res.Rows[0]["ts"])
	assert.Equal(t, "ETH", res.Rows[1]["symbol"])
	assert.EqualValues(t, 2000, res.Rows[1]["ts"])
}

func newTiedTable(t *testing.T) *table.ColumnarTable {
	tbl := table.New(tradesSchema(t), 8)
	rows := []column.Record{
		{"ts": int64(100), "symbol": "A", "price": 10.0, "qty": int64(1)},
		{"ts": int64(100), "symbol": "A", "price": 20.0, "qty": int64(2)},
		{"ts": int64(50), "symbol": "B", "price": 30.0, "qty": int64(3)},
	}
	for _, r := range rows {
		require.NoError(t, tbl.Append(r))
	}
	return tbl
}

func TestWindowRowNumberBreaksTiesByLaterIndex(t *testing.T) {
	cat := NewCatalog()
	cat.Register("trades", newTiedTable(t))
	res := run(t, cat, `
		SELECT symbol, qty, ROW_NUMBER() OVER (PARTITION BY symbol ORDER BY ts DESC) AS rn
		FROM trades
		ORDER BY symbol, rn`)
	require.Len(t, res.Rows, 3)
	// A's two rows tie on ts=100; the later original row (qty=2) must win rn=1,
	// matching tsq.LatestOn's "ties broken by later index" semantics.
	assert.Equal(t, "A", res.Rows[0]["symbol"])
	assert.EqualValues(t, 2, res.Rows[0]["qty"])
	assert.EqualValues(t, 1, res.Rows[0]["rn"])
	assert.Equal(t, "A", res.Rows[1]["symbol"])
	assert.EqualValues(t, 1, res.Rows[1]["qty"])
	assert.EqualValues(t, 2, res.Rows[1]["rn"])
}

func TestFastPathLastRowPerPartitionBreaksTiesByLaterIndex(t *testing.T) {
	cat := NewCatalog()
	cat.Register("trades", newTiedTable(t))
	res := run(t, cat, `
		SELECT symbol, qty FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY symbol ORDER BY ts DESC) AS rn
			FROM trades
		) latest
		WHERE rn = 1
		ORDER BY symbol`)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "A", res.Rows[0]["symbol"])
	assert.EqualValues(t, 2, res.Rows[0]["qty"])
	assert.Equal(t, "B", res.Rows[1]["symbol"])
	assert.EqualValues(t, 3, res.Rows[1]["qty"])
}

func newMultiKeyTiedTable(t *testing.T) *table.ColumnarTable {
	tbl := table.New(tradesSchema(t), 8)
	rows := []column.Record{
		{"ts": int64(1000), "symbol": "X", "price": 50.0, "qty": int64(1)},
		{"ts": int64(1000), "symbol": "X", "price": 10.0, "qty": int64(2)},
		{"ts": int64(500), "symbol": "X", "price": 999.0, "qty": int64(3)},
	}
	for _, r := range rows {
		require.NoError(t, tbl.Append(r))
	}
	return tbl
}

func TestFastPathHonorsSecondaryOrderByKey(t *testing.T) {
	cat := NewCatalog()
	cat.Register("trades", newMultiKeyTiedTable(t))

	general := run(t, cat, `
		SELECT qty, ROW_NUMBER() OVER (PARTITION BY symbol ORDER BY ts DESC, price ASC) AS rn
		FROM trades
		ORDER BY rn`)
	require.Len(t, general.Rows, 3)
	assert.EqualValues(t, 2, general.Rows[0]["qty"])

	fast := run(t, cat, `
		SELECT qty FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY symbol ORDER BY ts DESC, price ASC) AS rn
			FROM trades
		) latest
		WHERE rn = 1`)
	require.Len(t, fast.Rows, 1)
	assert.Equal(t, general.Rows[0]["qty"], fast.Rows[0]["qty"])
}

func TestInSubquery(t *testing.T) {
	cat := NewCatalog()
	cat.Register("trades", newTradesTable(t))
	res := run(t, cat, `
		SELECT symbol FROM trades
		WHERE symbol IN (SELECT symbol FROM trades WHERE qty > 3)
		ORDER BY symbol`)
	for _, r := range res.Rows {
		assert.Contains(t, []interface{}{"BTC", "ETH"}, r["symbol"])
	}
	assert.NotEmpty(t, res.Rows)
}

func TestJoinOnEquiKey(t *testing.T) {
	cat := NewCatalog()
	cat.Register("trades", newTradesTable(t))

	symSchema, err := column.NewSchema(column.NewField("symbol", column.String), column.NewField("name", column.String))
	require.NoError(t, err)
	symbols := table.New(symSchema, 2)
	require.NoError(t, symbols.Append(column.Record{"symbol": "BTC", "name": "Bitcoin"}))
	require.NoError(t, symbols.Append(column.Record{"symbol": "ETH", "name": "Ethereum"}))
	cat.Register("symbols", symbols)

	res := run(t, cat, `
		SELECT t.symbol, s.name, t.price
		FROM trades t JOIN symbols s ON t.symbol = s.symbol
		WHERE t.ts = 1000
		ORDER BY t.symbol`)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "Bitcoin", res.Rows[0]["name"])
	assert.Equal(t, "Ethereum", res.Rows[1]["name"])
}

func TestOrderByLimitOffset(t *testing.T) {
	cat := NewCatalog()
	cat.Register("trades", newTradesTable(t))
	res := run(t, cat, "SELECT ts FROM trades ORDER BY ts DESC LIMIT 2 OFFSET 1")
	require.Len(t, res.Rows, 2)
	assert.EqualValues(t, 2000, res.Rows[0]["ts"])
	assert.EqualValues(t, 2000, res.Rows[1]["ts"])
}

func TestInsertAppendsRows(t *testing.T) {
	cat := NewCatalog()
	cat.Register("trades", newTradesTable(t))
	res := run(t, cat, "INSERT INTO trades (ts, symbol, price, qty) VALUES (4000, 'BTC', 120.0, 1)")
	assert.Equal(t, 1, res.RowCount)

	out := run(t, cat, "SELECT COUNT(*) AS n FROM trades")
	assert.EqualValues(t, 6, out.Rows[0]["n"])
}

func TestWithClauseCTE(t *testing.T) {
	cat := NewCatalog()
	cat.Register("trades", newTradesTable(t))
	res := run(t, cat, `
		WITH btc AS (SELECT ts, price FROM trades WHERE symbol = 'BTC')
		SELECT COUNT(*) AS n FROM btc WHERE price > 100`)
	assert.EqualValues(t, 2, res.Rows[0]["n"])
}

func TestExplainReportsIndexUsage(t *testing.T) {
	cat := NewCatalog()
	tbl := newTradesTable(t)
	require.NoError(t, tbl.CreateIndex("ts"))
	cat.Register("trades", tbl)
	stmt, err := parser.ParseStatement("EXPLAIN SELECT * FROM trades WHERE ts = 1000")
	require.NoError(t, err)
	res, err := NewEngine().Execute(context.Background(), cat, stmt)
	require.NoError(t, err)
	assert.Contains(t, res.Rows[0]["plan"], "index scan")
}
