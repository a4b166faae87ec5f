// Package token defines the lexical tokens of the engine's SQL
// surface, following the teacher corpus's token.Type/token.Token
// shape (see ha1tch-tsqlparser/token) scaled down to the grammar this
// engine actually parses.
package token

import "fmt"

// Type identifies a token's lexical category.
type Type int

const (
	ILLEGAL Type = iota
	EOF

	IDENT
	INT
	FLOAT
	STRING

	PLUS
	MINUS
	ASTERISK
	SLASH
	PERCENT
	CONCAT // ||
	EQ
	NEQ
	LT
	LTE
	GT
	GTE

	COMMA
	SEMICOLON
	LPAREN
	RPAREN
	DOT

	keywordBeg
	SELECT
	FROM
	WHERE
	GROUP
	BY
	HAVING
	ORDER
	LIMIT
	OFFSET
	AS
	AND
	OR
	NOT
	IN
	LIKE
	IS
	NULL
	TRUE
	FALSE
	JOIN
	INNER
	LEFT
	ON
	WITH
	INSERT
	INTO
	VALUES
	CASE
	WHEN
	THEN
	ELSE
	END
	OVER
	PARTITION
	ASC
	DESC
	ROWS
	BETWEEN
	PRECEDING
	CURRENT
	ROW
	UNBOUNDED
	EXPLAIN
	keywordEnd
)

var keywords = map[string]Type{
	"SELECT": SELECT, "FROM": FROM, "WHERE": WHERE, "GROUP": GROUP, "BY": BY,
	"HAVING": HAVING, "ORDER": ORDER, "LIMIT": LIMIT, "OFFSET": OFFSET,
	"AS": AS, "AND": AND, "OR": OR, "NOT": NOT, "IN": IN, "LIKE": LIKE,
	"IS": IS, "NULL": NULL, "TRUE": TRUE, "FALSE": FALSE, "JOIN": JOIN,
	"INNER": INNER, "LEFT": LEFT, "ON": ON, "WITH": WITH, "INSERT": INSERT,
	"INTO": INTO, "VALUES": VALUES, "CASE": CASE, "WHEN": WHEN, "THEN": THEN,
	"ELSE": ELSE, "END": END, "OVER": OVER, "PARTITION": PARTITION,
	"ASC": ASC, "DESC": DESC, "ROWS": ROWS, "BETWEEN": BETWEEN,
	"PRECEDING": PRECEDING, "CURRENT": CURRENT, "ROW": ROW,
	"UNBOUNDED": UNBOUNDED, "EXPLAIN": EXPLAIN,
}

// LookupIdent classifies ident as a keyword Type or plain IDENT.
func LookupIdent(ident string) Type {
	if t, ok := keywords[upper(ident)]; ok {
		return t
	}
	return IDENT
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}

func (t Type) IsKeyword() bool { return t > keywordBeg && t < keywordEnd }

var typeNames = map[Type]string{
	ILLEGAL: "ILLEGAL", EOF: "EOF", IDENT: "IDENT", INT: "INT", FLOAT: "FLOAT", STRING: "STRING",
	PLUS: "+", MINUS: "-", ASTERISK: "*", SLASH: "/", PERCENT: "%", CONCAT: "||",
	EQ: "=", NEQ: "!=", LT: "<", LTE: "<=", GT: ">", GTE: ">=",
	COMMA: ",", SEMICOLON: ";", LPAREN: "(", RPAREN: ")", DOT: ".",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	for kw, kt := range keywords {
		if kt == t {
			return kw
		}
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// Position is a 1-based line/column source location, reused directly
// as ndtserr.Position's shape by the parser when it builds a
// SQLParseError.
type Position struct {
	Line   int
	Column int
	Offset int
}

// Token is one lexed unit: its type, literal text, and source position.
type Token struct {
	Type    Type
	Literal string
	Pos     Position
}
