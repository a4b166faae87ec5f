package column

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaDuplicateName(t *testing.T) {
	_, err := NewSchema(NewField("a", Int32), NewField("a", Int64))
	require.Error(t, err)
}

func TestBufferGrowthDoubling(t *testing.T) {
	b := NewBuffer(Int64, 1)
	for i := 0; i < 9; i++ {
		require.NoError(t, b.AppendValue("v", int64(i)))
	}
	assert.Equal(t, 9, b.Len())
	assert.GreaterOrEqual(t, b.Cap(), 9)
	// Capacity growth is power-of-two doubling from 1.
	assert.True(t, b.Cap()&(b.Cap()-1) == 0, "capacity %d should be a power of two", b.Cap())
}

func TestIntegerTruncation(t *testing.T) {
	b := NewBuffer(Int32, 1)
	require.NoError(t, b.AppendValue("v", int64(1)<<33+5)) // overflow int32
	assert.Equal(t, truncateToInt32(int64(1)<<33+5), b.Int32At(0))
}

func TestFloatAcceptsFractional(t *testing.T) {
	b := NewBuffer(Float64, 1)
	require.NoError(t, b.AppendValue("v", 3.5))
	assert.Equal(t, 3.5, b.Float64At(0))
}

func TestStringDictionaryStableCodes(t *testing.T) {
	b := NewBuffer(String, 1)
	require.NoError(t, b.AppendValue("s", "BTC"))
	require.NoError(t, b.AppendValue("s", "ETH"))
	require.NoError(t, b.AppendValue("s", "BTC"))
	assert.Equal(t, uint32(0), b.CodeAt(0))
	assert.Equal(t, uint32(1), b.CodeAt(1))
	assert.Equal(t, uint32(0), b.CodeAt(2))
	assert.Equal(t, "BTC", b.StringAt(2))
}

func TestMissingFieldOnAppend(t *testing.T) {
	schema, err := NewSchema(NewField("a", Int32), NewField("b", String))
	require.NoError(t, err)
	err = RequireAll(schema, Record{"a": int32(1)})
	require.Error(t, err)
}
