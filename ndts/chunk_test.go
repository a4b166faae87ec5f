package ndts

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgttt/ndtsdb/column"
)

func testSchema(t *testing.T) *column.Schema {
	s, err := column.NewSchema(
		column.NewField("ts", column.Int64),
		column.NewField("price", column.Float64),
		column.NewField("qty", column.Int32),
		column.NewField("symbol", column.String),
	)
	require.NoError(t, err)
	return s
}

func fillBuffers(t *testing.T, schema *column.Schema, symbols []string) []*column.Buffer {
	bufs := make([]*column.Buffer, len(schema.Fields))
	for i, f := range schema.Fields {
		bufs[i] = column.NewBuffer(f.Kind, 16)
	}
	for i, sym := range symbols {
		require.NoError(t, bufs[0].AppendValue("ts", int64(1700000000000+i*1000)))
		require.NoError(t, bufs[1].AppendValue("price", float64(100+i)))
		require.NoError(t, bufs[2].AppendValue("qty", int32(i%3)))
		require.NoError(t, bufs[3].AppendValue("symbol", sym))
	}
	return bufs
}

func TestEncodeDecodeChunkRoundtrip(t *testing.T) {
	schema := testSchema(t)
	symbols := []string{"BTC", "ETH", "BTC", "BTC", "SOL", "ETH"}
	bufs := fillBuffers(t, schema, symbols)

	priorDictLen := make([]int, len(schema.Fields))
	chunk := EncodeChunk(schema, bufs, 0, len(symbols), priorDictLen, ColdNone)

	dest := make([]*column.Buffer, len(schema.Fields))
	for i, f := range schema.Fields {
		dest[i] = column.NewBuffer(f.Kind, 4)
	}
	n, err := DecodeChunkInto(bytes.NewReader(chunk), schema, dest)
	require.NoError(t, err)
	assert.Equal(t, len(symbols), n)

	for i := range symbols {
		assert.Equal(t, bufs[0].Int64At(i), dest[0].Int64At(i))
		assert.Equal(t, bufs[1].Float64At(i), dest[1].Float64At(i))
		assert.Equal(t, bufs[2].Int32At(i), dest[2].Int32At(i))
		assert.Equal(t, bufs[3].StringAt(i), dest[3].StringAt(i))
	}
}

func TestEncodeDecodeChunkMultiChunkDictionaryContinuity(t *testing.T) {
	schema := testSchema(t)
	first := []string{"BTC", "ETH"}
	second := []string{"ETH", "SOL", "BTC"}

	bufs := fillBuffers(t, schema, append(append([]string{}, first...), second...))

	chunk1 := EncodeChunk(schema, bufs, 0, len(first), []int{0, 0, 0, 0}, ColdNone)
	chunk2 := EncodeChunk(schema, bufs, len(first), len(second), []int{0, 0, 0, len(first)}, ColdNone)

	dest := make([]*column.Buffer, len(schema.Fields))
	for i, f := range schema.Fields {
		dest[i] = column.NewBuffer(f.Kind, 4)
	}
	_, err := DecodeChunkInto(bytes.NewReader(chunk1), schema, dest)
	require.NoError(t, err)
	_, err = DecodeChunkInto(bytes.NewReader(chunk2), schema, dest)
	require.NoError(t, err)

	all := append(append([]string{}, first...), second...)
	for i, want := range all {
		assert.Equal(t, want, dest[3].StringAt(i))
	}
	assert.Equal(t, 3, dest[3].Dict.Len())
}

func TestDecodeChunkDetectsCorruption(t *testing.T) {
	schema := testSchema(t)
	symbols := []string{"BTC", "ETH", "BTC"}
	bufs := fillBuffers(t, schema, symbols)
	chunk := EncodeChunk(schema, bufs, 0, len(symbols), []int{0, 0, 0, 0}, ColdNone)

	corrupt := append([]byte{}, chunk...)
	corrupt[len(corrupt)/2] ^= 0xFF

	dest := make([]*column.Buffer, len(schema.Fields))
	for i, f := range schema.Fields {
		dest[i] = column.NewBuffer(f.Kind, 4)
	}
	_, err := DecodeChunkInto(bytes.NewReader(corrupt), schema, dest)
	require.Error(t, err)
}

func TestEncodeChunkColdCompressionRoundtrip(t *testing.T) {
	schema := testSchema(t)
	symbols := []string{"BTC", "BTC", "BTC", "ETH", "ETH"}
	bufs := fillBuffers(t, schema, symbols)
	chunk := EncodeChunk(schema, bufs, 0, len(symbols), []int{0, 0, 0, 0}, ColdZstd)

	dest := make([]*column.Buffer, len(schema.Fields))
	for i, f := range schema.Fields {
		dest[i] = column.NewBuffer(f.Kind, 4)
	}
	n, err := DecodeChunkInto(bytes.NewReader(chunk), schema, dest)
	require.NoError(t, err)
	assert.Equal(t, len(symbols), n)
	for i, sym := range symbols {
		assert.Equal(t, sym, dest[3].StringAt(i))
	}
}
