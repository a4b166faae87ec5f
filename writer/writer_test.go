package writer

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgttt/ndtsdb/column"
)

func schemaForTest(t *testing.T, fields ...column.Field) *column.Schema {
	s, err := column.NewSchema(fields...)
	require.NoError(t, err)
	return s
}

func TestReopenAppendChunkCounts(t *testing.T) {
	fs := afero.NewMemMapFs()
	schema := schemaForTest(t, column.NewField("v", column.Int32))
	path := "/data/t.ndts"

	w, err := Open(path, schema, WithFilesystem(fs))
	require.NoError(t, err)
	require.NoError(t, w.Append([]column.Record{{"v": int32(1)}}))
	require.NoError(t, w.Close())

	w2, err := Open(path, schema, WithFilesystem(fs))
	require.NoError(t, err)
	require.NoError(t, w2.Append([]column.Record{{"v": int32(2)}}))
	require.NoError(t, w2.Append([]column.Record{{"v": int32(3)}}))

	stat, err := w2.Stat()
	require.NoError(t, err)
	assert.EqualValues(t, 3, stat.TotalRows)
	assert.EqualValues(t, 3, stat.ChunkCount)
	require.NoError(t, w2.Close())

	h, bufs, err := ReadAllFromPath(fs, path)
	require.NoError(t, err)
	assert.EqualValues(t, 3, h.TotalRows)
	assert.EqualValues(t, 3, h.ChunkCount)
	assert.Equal(t, []int32{1, 2, 3}, bufs[0].Int32Slice())
}

func TestDeleteWithTombstoneThenCompact(t *testing.T) {
	fs := afero.NewMemMapFs()
	schema := schemaForTest(t, column.NewField("id", column.Int32))
	path := "/data/t.ndts"

	w, err := Open(path, schema, WithFilesystem(fs))
	require.NoError(t, err)
	recs := make([]column.Record, 10)
	for i := range recs {
		recs[i] = column.Record{"id": int32(i + 1)}
	}
	require.NoError(t, w.Append(recs))

	deleted, err := w.DeleteWhereWithTombstone(func(r column.Record) bool {
		return r["id"].(int32)%2 == 0
	})
	require.NoError(t, err)
	assert.Equal(t, 5, deleted)

	filtered := w.ReadAllFiltered()
	assert.Equal(t, []int32{1, 3, 5, 7, 9}, filtered[0].Int32Slice())

	exists, _ := afero.Exists(fs, path+".tomb")
	assert.True(t, exists)

	before, after, err := w.Compact()
	require.NoError(t, err)
	assert.Equal(t, 10, before)
	assert.Equal(t, 5, after)

	exists, _ = afero.Exists(fs, path+".tomb")
	assert.False(t, exists)

	require.NoError(t, w.Close())
	_, bufs, err := ReadAllFromPath(fs, path)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 3, 5, 7, 9}, bufs[0].Int32Slice())
}

func TestSaveRoundtripSchema(t *testing.T) {
	fs := afero.NewMemMapFs()
	schema := schemaForTest(t, column.NewField("ts", column.Int64), column.NewField("price", column.Float64))
	path := "/data/r.ndts"

	w, err := Open(path, schema, WithFilesystem(fs))
	require.NoError(t, err)
	require.NoError(t, w.Append([]column.Record{
		{"ts": int64(1700000000000), "price": 100.5},
		{"ts": int64(1700000001000), "price": 101.0},
	}))
	require.NoError(t, w.Close())

	_, bufs, err := ReadAllFromPath(fs, path)
	require.NoError(t, err)
	assert.Equal(t, 2, bufs[0].Len())
	assert.EqualValues(t, 1700000000000, bufs[0].Int64At(0))
}

func TestVerifyOnWriterFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	schema := schemaForTest(t, column.NewField("v", column.Int32))
	path := "/data/v.ndts"

	w, err := Open(path, schema, WithFilesystem(fs))
	require.NoError(t, err)
	require.NoError(t, w.Append([]column.Record{{"v": int32(1)}, {"v": int32(2)}}))
	require.NoError(t, w.Close())

	res, err := VerifyPath(fs, path)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 2, res.RowCount)
}

func TestUpdateWhereTransformsMatchingRows(t *testing.T) {
	fs := afero.NewMemMapFs()
	schema := schemaForTest(t, column.NewField("id", column.Int32), column.NewField("flag", column.Int32))
	path := "/data/u.ndts"

	w, err := Open(path, schema, WithFilesystem(fs))
	require.NoError(t, err)
	require.NoError(t, w.Append([]column.Record{
		{"id": int32(1), "flag": int32(0)},
		{"id": int32(2), "flag": int32(0)},
		{"id": int32(3), "flag": int32(0)},
	}))

	updated, err := w.UpdateWhere(
		func(r column.Record) bool { return r["id"].(int32) == 2 },
		func(r column.Record) column.Record { r["flag"] = int32(1); return r },
	)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	bufs := w.ReadAll()
	assert.Equal(t, []int32{0, 1, 0}, bufs[1].Int32Slice())
}
