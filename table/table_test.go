package table

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgttt/ndtsdb/column"
	"github.com/mgttt/ndtsdb/index"
)

func newTestSchema(t *testing.T) *column.Schema {
	s, err := column.NewSchema(
		column.NewField("ts", column.Int64),
		column.NewField("price", column.Float64),
		column.NewField("symbol", column.String),
	)
	require.NoError(t, err)
	return s
}

func TestAppendAndRowCount(t *testing.T) {
	tbl := New(newTestSchema(t), 4)
	for i := 0; i < 5; i++ {
		err := tbl.Append(column.Record{"ts": int64(1000 + i), "price": float64(i), "symbol": "BTC"})
		require.NoError(t, err)
	}
	assert.Equal(t, 5, tbl.RowCount())
}

func TestAppendMissingFieldFails(t *testing.T) {
	tbl := New(newTestSchema(t), 4)
	err := tbl.Append(column.Record{"ts": int64(1)})
	assert.Error(t, err)
}

func TestSaveLoadRoundtrip(t *testing.T) {
	tbl := New(newTestSchema(t), 4)
	require.NoError(t, tbl.Append(column.Record{"ts": int64(1700000000000), "price": 100.5, "symbol": "BTC"}))
	require.NoError(t, tbl.Append(column.Record{"ts": int64(1700000001000), "price": 101.0, "symbol": "ETH"}))

	path := filepath.Join(t.TempDir(), "t.ndts")
	require.NoError(t, tbl.SaveToFile(path))
	defer os.Remove(path)

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.RowCount())
	ts, err := loaded.GetColumn("ts")
	require.NoError(t, err)
	assert.EqualValues(t, 1700000000000, ts.Int64At(0))
	sym, err := loaded.GetColumn("symbol")
	require.NoError(t, err)
	assert.Equal(t, "BTC", sym.StringAt(0))
	assert.Equal(t, "ETH", sym.StringAt(1))
}

func TestOrderedIndexAutoUpdatesOnAppend(t *testing.T) {
	tbl := New(newTestSchema(t), 4)
	require.NoError(t, tbl.CreateIndex("ts"))
	for i := 0; i < 10; i++ {
		require.NoError(t, tbl.Append(column.Record{"ts": int64(i * 1000), "price": float64(i), "symbol": "BTC"}))
	}
	lo := index.NumValue(3000)
	hi := index.NumValue(6000)
	rows, err := tbl.QueryIndex("ts", index.Predicate{Gte: &lo, Lte: &hi})
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestCompositeIndexPrefixQuery(t *testing.T) {
	schema, err := column.NewSchema(
		column.NewField("region", column.String),
		column.NewField("city", column.String),
		column.NewField("ts", column.Int64),
	)
	require.NoError(t, err)
	tbl := New(schema, 4)
	require.NoError(t, tbl.CreateCompositeIndex([]string{"region", "city", "ts"}))

	rows := []column.Record{
		{"region": "US", "city": "NYC", "ts": int64(1000)},
		{"region": "US", "city": "NYC", "ts": int64(3000)},
		{"region": "US", "city": "LA", "ts": int64(2000)},
		{"region": "EU", "city": "NYC", "ts": int64(1500)},
	}
	require.NoError(t, tbl.AppendBatch(rows))

	eq1 := index.StrValue("US")
	eq2 := index.StrValue("NYC")
	gte := index.NumValue(2000)
	res, err := tbl.QueryCompositeIndex([]string{"region", "city", "ts"}, map[string]index.Predicate{
		"region": {Eq: &eq1},
		"city":   {Eq: &eq2},
		"ts":     {Gte: &gte},
	})
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, res.Rows)
}
