package lexer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgttt/ndtsdb/sql/lexer"
	"github.com/mgttt/ndtsdb/sql/token"
)

func collect(t *testing.T, input string) []token.Token {
	t.Helper()
	l := lexer.New(input)
	var toks []token.Token
	for {
		tok := l.NextToken()
		toks = append(toks, tok)
		if tok.Type == token.EOF {
			break
		}
	}
	return toks
}

func TestNextTokenCoversKeywordsAndOperators(t *testing.T) {
	toks := collect(t, "SELECT price FROM trades WHERE price >= 100 AND symbol = 'BTC'")

	want := []token.Type{
		token.SELECT, token.IDENT, token.FROM, token.IDENT, token.WHERE,
		token.IDENT, token.GTE, token.INT, token.AND, token.IDENT, token.EQ,
		token.STRING, token.EOF,
	}
	require.Len(t, toks, len(want))
	for i, w := range want {
		assert.Equalf(t, w, toks[i].Type, "token %d (%q)", i, toks[i].Literal)
	}
	assert.Equal(t, "BTC", toks[len(toks)-2].Literal)
}

func TestNextTokenSkipsLineComments(t *testing.T) {
	toks := collect(t, "SELECT 1 -- trailing comment\nFROM trades")
	var kinds []token.Type
	for _, tk := range toks {
		kinds = append(kinds, tk.Type)
	}
	assert.Equal(t, []token.Type{token.SELECT, token.INT, token.FROM, token.IDENT, token.EOF}, kinds)
}

func TestNextTokenDistinguishesConcatFromIllegalPipe(t *testing.T) {
	toks := collect(t, "'a' || 'b'")
	require.Len(t, toks, 4)
	assert.Equal(t, token.CONCAT, toks[1].Type)
}

func TestNextTokenTracksLineAndColumn(t *testing.T) {
	toks := collect(t, "SELECT\n  price")
	require.Len(t, toks, 3)
	assert.Equal(t, 1, toks[0].Pos.Line)
	assert.Equal(t, 2, toks[1].Pos.Line)
}

func TestNextTokenScansFloatLiterals(t *testing.T) {
	toks := collect(t, "price > 10.5")
	require.Len(t, toks, 4)
	assert.Equal(t, token.FLOAT, toks[2].Type)
	assert.Equal(t, "10.5", toks[2].Literal)
}
