package ndts

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgttt/ndtsdb/column"
)

func buildFile(t *testing.T, schema *column.Schema, chunks [][]string) []byte {
	h := &Header{Version: CurrentVersion, Schema: schema, Dicts: map[string][]string{}}
	hb, err := EncodeHeader(h)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	out.Write(hb)

	dictLen := 0
	bufs := make([]*column.Buffer, len(schema.Fields))
	for i, f := range schema.Fields {
		bufs[i] = column.NewBuffer(f.Kind, 8)
	}
	for _, syms := range chunks {
		start := bufs[3].Len()
		for i, sym := range syms {
			require.NoError(t, bufs[0].AppendValue("ts", int64(1700000000000+(start+i)*1000)))
			require.NoError(t, bufs[1].AppendValue("price", float64(100+start+i)))
			require.NoError(t, bufs[2].AppendValue("qty", int32((start+i)%3)))
			require.NoError(t, bufs[3].AppendValue("symbol", sym))
		}
		prior := []int{0, 0, 0, dictLen}
		chunk := EncodeChunk(schema, bufs, start, len(syms), prior, ColdNone)
		out.Write(chunk)
		dictLen = bufs[3].Dict.Len()
	}
	return out.Bytes()
}

func TestReadAllRawReplaysAllChunks(t *testing.T) {
	schema := testSchema(t)
	data := buildFile(t, schema, [][]string{{"BTC", "ETH"}, {"ETH", "SOL", "BTC"}})

	h, bufs, err := ReadAllRaw(bytes.NewReader(data))
	require.NoError(t, err)
	assert.EqualValues(t, 5, h.TotalRows)
	assert.EqualValues(t, 2, h.ChunkCount)
	assert.Equal(t, 5, bufs[3].Len())
	assert.Equal(t, "BTC", bufs[3].StringAt(0))
	assert.Equal(t, "SOL", bufs[3].StringAt(3))
}

func TestVerifyCleanFileReportsOK(t *testing.T) {
	schema := testSchema(t)
	data := buildFile(t, schema, [][]string{{"BTC"}, {"ETH", "SOL"}})

	res, err := Verify(bytes.NewReader(data))
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 3, res.RowCount)
	assert.Equal(t, 2, res.ChunkCount)
	assert.Empty(t, res.ChunkErrors)
}

func TestVerifyReportsCorruptChunkAndContinues(t *testing.T) {
	schema := testSchema(t)
	data := buildFile(t, schema, [][]string{{"BTC", "ETH"}, {"SOL"}})

	h, err := DecodeHeader(bytes.NewReader(data))
	require.NoError(t, err)
	headerLen, err := HeaderLen(h)
	require.NoError(t, err)

	corrupt := append([]byte{}, data...)
	corrupt[headerLen+6] ^= 0xFF // flip a byte inside the first chunk's codec-flag block

	res, err := Verify(bytes.NewReader(corrupt))
	require.NoError(t, err)
	assert.False(t, res.OK)
	require.Contains(t, res.ChunkErrors, 0)
	assert.Equal(t, 1, res.ChunkCount, "second chunk still verifies after skipping the corrupt first one")
}

func TestVerifyReportsHeaderErrorSeparately(t *testing.T) {
	res, err := Verify(bytes.NewReader([]byte("not an ndts file")))
	require.NoError(t, err)
	assert.False(t, res.OK)
	require.Error(t, res.HeaderError)
}
