package partition

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgttt/ndtsdb/column"
	"github.com/mgttt/ndtsdb/index"
)

func testSchema(t *testing.T) *column.Schema {
	s, err := column.NewSchema(
		column.NewField("ts", column.Int64),
		column.NewField("symbol", column.String),
		column.NewField("price", column.Float64),
	)
	require.NoError(t, err)
	return s
}

func TestAppendRoutesToTimeBuckets(t *testing.T) {
	fs := afero.NewMemMapFs()
	pt, err := Open("/data/ts", testSchema(t), "ts", Time,
		WithFilesystem(fs), WithInterval(time.Hour))
	require.NoError(t, err)
	defer pt.CloseAll()

	hour := int64(time.Hour)
	require.NoError(t, pt.Append([]column.Record{
		{"ts": int64(0), "symbol": "BTC", "price": 1.0},
		{"ts": hour/2, "symbol": "BTC", "price": 2.0},
		{"ts": hour, "symbol": "BTC", "price": 3.0},
	}))

	infos, err := pt.GetPartitions(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)
	total := 0
	for _, i := range infos {
		total += i.RowCount
	}
	assert.Equal(t, 3, total)
}

func TestAppendRoutesToHashBuckets(t *testing.T) {
	fs := afero.NewMemMapFs()
	pt, err := Open("/data/hb", testSchema(t), "symbol", Hash,
		WithFilesystem(fs), WithBuckets(4))
	require.NoError(t, err)
	defer pt.CloseAll()

	records := make([]column.Record, 20)
	for i := range records {
		records[i] = column.Record{"ts": int64(i), "symbol": "SYM", "price": float64(i)}
	}
	require.NoError(t, pt.Append(records))

	infos, err := pt.GetPartitions(context.Background())
	require.NoError(t, err)
	total := 0
	for _, i := range infos {
		total += i.RowCount
	}
	assert.Equal(t, 20, total)
	// same symbol always hashes to the same bucket.
	assert.Len(t, infos, 1)
}

func TestQueryPrunesByTimeRangeAndAppliesPredicate(t *testing.T) {
	fs := afero.NewMemMapFs()
	interval := int64(time.Hour)
	pt, err := Open("/data/q", testSchema(t), "ts", Time,
		WithFilesystem(fs), WithInterval(time.Duration(interval)))
	require.NoError(t, err)
	defer pt.CloseAll()

	require.NoError(t, pt.Append([]column.Record{
		{"ts": int64(0), "symbol": "BTC", "price": 1.0},
		{"ts": interval, "symbol": "ETH", "price": 2.0},
		{"ts": interval * 5, "symbol": "BTC", "price": 3.0},
	}))

	tr := &TimeRange{HasLo: true, Lo: 0, HasHi: true, Hi: interval * 2}
	tbl, err := pt.Query(context.Background(), func(r column.Record) bool {
		return r["symbol"].(string) == "BTC"
	}, tr)
	require.NoError(t, err)
	assert.Equal(t, 1, tbl.RowCount())
}

func TestVacuumCompactsOnlyOldPartitions(t *testing.T) {
	fs := afero.NewMemMapFs()
	interval := int64(time.Minute)
	pt, err := Open("/data/v", testSchema(t), "ts", Time,
		WithFilesystem(fs), WithInterval(time.Duration(interval)))
	require.NoError(t, err)
	defer pt.CloseAll()

	require.NoError(t, pt.Append([]column.Record{
		{"ts": int64(1), "symbol": "BTC", "price": 1.0},
	}))

	n, err := pt.Vacuum(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestExtractTimeRange(t *testing.T) {
	lo := index.NumValue(100)
	hi := index.NumValue(200)
	tr := ExtractTimeRange(map[string]index.Predicate{
		"ts": {Gte: &lo, Lt: &hi},
	}, "ts")
	require.NotNil(t, tr)
	assert.Equal(t, int64(100), tr.Lo)
	assert.Equal(t, int64(200), tr.Hi)

	assert.Nil(t, ExtractTimeRange(map[string]index.Predicate{}, "ts"))
}
