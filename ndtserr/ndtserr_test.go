package ndtserr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgttt/ndtsdb/ndtserr"
)

func TestNewFormatsMessage(t *testing.T) {
	err := ndtserr.New(ndtserr.MissingField, "column %q not found", "price")
	assert.Equal(t, `MissingField: column "price" not found`, err.Error())
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := ndtserr.Wrap(ndtserr.IOError, cause, "writing chunk")
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, errors.Is(err, cause))
	assert.ErrorIs(t, err.Unwrap(), cause)
}

func TestWithPosIncludesPositionInMessage(t *testing.T) {
	err := ndtserr.New(ndtserr.SQLParseError, "unexpected token").
		WithPos(ndtserr.Position{Line: 2, Column: 5})
	assert.Equal(t, "SQLParseError at 2:5: unexpected token", err.Error())
}

func TestIsComparesByKindNotMessage(t *testing.T) {
	err := ndtserr.New(ndtserr.CorruptChunk, "crc mismatch at chunk 3")
	assert.True(t, errors.Is(err, ndtserr.KindSentinel(ndtserr.CorruptChunk)))
	assert.False(t, errors.Is(err, ndtserr.KindSentinel(ndtserr.CorruptHeader)))
}

func TestAsExtractsKindFromWrappedChain(t *testing.T) {
	inner := ndtserr.New(ndtserr.SchemaMismatch, "field count differs")
	wrapped := ndtserr.Wrap(ndtserr.SQLPlanError, inner, "binding source")

	extracted, ok := ndtserr.As(wrapped)
	require.True(t, ok)
	assert.Equal(t, ndtserr.SQLPlanError, extracted.Kind)
}
