// Package parser implements a hand-written recursive-descent parser
// over sql/lexer's token stream, producing an sql/ast tree, following
// the teacher corpus's cur/peek-token parser shape (see
// ha1tch-tsqlparser/parser) scaled down to this engine's grammar.
package parser

import (
	"strconv"

	"github.com/mgttt/ndtsdb/ndtserr"
	"github.com/mgttt/ndtsdb/sql/ast"
	"github.com/mgttt/ndtsdb/sql/lexer"
	"github.com/mgttt/ndtsdb/sql/token"
)

// Parser consumes a token stream and builds an ast.Statement.
type Parser struct {
	l    *lexer.Lexer
	cur  token.Token
	peek token.Token
}

// New builds a Parser over input, primed with the first two tokens.
func New(input string) *Parser {
	p := &Parser{l: lexer.New(input)}
	p.next()
	p.next()
	return p
}

func (p *Parser) next() {
	p.cur = p.peek
	p.peek = p.l.NextToken()
}

func (p *Parser) errorf(pos token.Position, format string, args ...interface{}) error {
	return ndtserr.New(ndtserr.SQLParseError, format, args...).WithPos(ndtserr.Position{
		Line: pos.Line, Column: pos.Column, Offset: pos.Offset,
	})
}

func (p *Parser) expect(t token.Type) (token.Token, error) {
	if p.cur.Type != t {
		return token.Token{}, p.errorf(p.cur.Pos, "expected %s, got %s (%q)", t, p.cur.Type, p.cur.Literal)
	}
	tok := p.cur
	p.next()
	return tok, nil
}

func (p *Parser) curIs(t token.Type) bool  { return p.cur.Type == t }
func (p *Parser) peekIs(t token.Type) bool { return p.peek.Type == t }

// ParseStatement parses one WithClause? (Select | Insert), optionally
// preceded by EXPLAIN.
func ParseStatement(input string) (*ast.Statement, error) {
	p := New(input)
	return p.parseStatement()
}

func (p *Parser) parseStatement() (*ast.Statement, error) {
	stmt := &ast.Statement{}
	if p.curIs(token.EXPLAIN) {
		stmt.Explain = true
		p.next()
	}
	if p.curIs(token.WITH) {
		ctes, err := p.parseWithClause()
		if err != nil {
			return nil, err
		}
		stmt.With = ctes
	}
	switch p.cur.Type {
	case token.SELECT:
		sel, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		stmt.Select = sel
	case token.INSERT:
		ins, err := p.parseInsert()
		if err != nil {
			return nil, err
		}
		stmt.Insert = ins
	default:
		return nil, p.errorf(p.cur.Pos, "expected SELECT or INSERT, got %s", p.cur.Type)
	}
	return stmt, nil
}

func (p *Parser) parseWithClause() ([]*ast.CTE, error) {
	p.next() // consume WITH
	var ctes []*ast.CTE
	for {
		name, err := p.expect(token.IDENT)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.AS); err != nil {
			return nil, err
		}
		if _, err := p.expect(token.LPAREN); err != nil {
			return nil, err
		}
		sel, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RPAREN); err != nil {
			return nil, err
		}
		ctes = append(ctes, &ast.CTE{Name: name.Literal, Query: sel})
		if p.curIs(token.COMMA) {
			p.next()
			continue
		}
		break
	}
	return ctes, nil
}

func (p *Parser) parseSelect() (*ast.SelectStmt, error) {
	if _, err := p.expect(token.SELECT); err != nil {
		return nil, err
	}
	sel := &ast.SelectStmt{}

	projs, err := p.parseProjList()
	if err != nil {
		return nil, err
	}
	sel.Projections = projs

	if p.curIs(token.FROM) {
		p.next()
		from, err := p.parseFromItem()
		if err != nil {
			return nil, err
		}
		sel.From = from
	}

	for p.curIs(token.JOIN) || p.curIs(token.INNER) || p.curIs(token.LEFT) {
		jc, err := p.parseJoinClause()
		if err != nil {
			return nil, err
		}
		sel.Joins = append(sel.Joins, jc)
	}

	if p.curIs(token.WHERE) {
		p.next()
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		sel.Where = w
	}

	if p.curIs(token.GROUP) {
		p.next()
		if _, err := p.expect(token.BY); err != nil {
			return nil, err
		}
		list, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		sel.GroupBy = list
	}

	if p.curIs(token.HAVING) {
		havingPos := p.cur.Pos
		p.next()
		h, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if sel.GroupBy == nil {
			return nil, p.errorf(havingPos, "HAVING requires GROUP BY")
		}
		sel.Having = h
	}

	if p.curIs(token.ORDER) {
		p.next()
		if _, err := p.expect(token.BY); err != nil {
			return nil, err
		}
		items, err := p.parseOrderList()
		if err != nil {
			return nil, err
		}
		sel.OrderBy = items
	}

	if p.curIs(token.LIMIT) {
		p.next()
		lim, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		sel.Limit = lim
		if p.curIs(token.OFFSET) {
			p.next()
			off, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			sel.Offset = off
		}
	}

	return sel, nil
}

func (p *Parser) parseProjList() ([]ast.Projection, error) {
	var projs []ast.Projection
	for {
		if p.curIs(token.ASTERISK) {
			p.next()
			projs = append(projs, ast.Projection{Star: true})
		} else {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			alias := ""
			if p.curIs(token.AS) {
				p.next()
				id, err := p.expect(token.IDENT)
				if err != nil {
					return nil, err
				}
				alias = id.Literal
			} else if p.curIs(token.IDENT) {
				alias = p.cur.Literal
				p.next()
			}
			projs = append(projs, ast.Projection{Expr: e, Alias: alias})
		}
		if p.curIs(token.COMMA) {
			p.next()
			continue
		}
		break
	}
	return projs, nil
}

func (p *Parser) parseFromItem() (*ast.FromClause, error) {
	fc := &ast.FromClause{}
	if p.curIs(token.LPAREN) {
		p.next()
		sub, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RPAREN); err != nil {
			return nil, err
		}
		fc.Subquery = sub
	} else {
		id, err := p.expect(token.IDENT)
		if err != nil {
			return nil, err
		}
		fc.Table = id.Literal
	}
	if p.curIs(token.AS) {
		p.next()
		id, err := p.expect(token.IDENT)
		if err != nil {
			return nil, err
		}
		fc.Alias = id.Literal
	} else if p.curIs(token.IDENT) {
		fc.Alias = p.cur.Literal
		p.next()
	}
	return fc, nil
}

func (p *Parser) parseJoinClause() (*ast.JoinClause, error) {
	kind := ast.InnerJoin
	if p.curIs(token.INNER) {
		p.next()
	} else if p.curIs(token.LEFT) {
		kind = ast.LeftJoin
		p.next()
	}
	if _, err := p.expect(token.JOIN); err != nil {
		return nil, err
	}
	from, err := p.parseFromItem()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.ON); err != nil {
		return nil, err
	}
	on, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &ast.JoinClause{Kind: kind, From: from, On: on}, nil
}

func (p *Parser) parseOrderList() ([]ast.OrderItem, error) {
	var items []ast.OrderItem
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		desc := false
		if p.curIs(token.ASC) {
			p.next()
		} else if p.curIs(token.DESC) {
			desc = true
			p.next()
		}
		items = append(items, ast.OrderItem{Expr: e, Desc: desc})
		if p.curIs(token.COMMA) {
			p.next()
			continue
		}
		break
	}
	return items, nil
}

func (p *Parser) parseExprList() ([]ast.Expr, error) {
	var list []ast.Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		list = append(list, e)
		if p.curIs(token.COMMA) {
			p.next()
			continue
		}
		break
	}
	return list, nil
}

func (p *Parser) parseInsert() (*ast.InsertStmt, error) {
	p.next() // INSERT
	if _, err := p.expect(token.INTO); err != nil {
		return nil, err
	}
	tbl, err := p.expect(token.IDENT)
	if err != nil {
		return nil, err
	}
	ins := &ast.InsertStmt{Table: tbl.Literal}

	if p.curIs(token.LPAREN) {
		p.next()
		for {
			id, err := p.expect(token.IDENT)
			if err != nil {
				return nil, err
			}
			ins.Columns = append(ins.Columns, id.Literal)
			if p.curIs(token.COMMA) {
				p.next()
				continue
			}
			break
		}
		if _, err := p.expect(token.RPAREN); err != nil {
			return nil, err
		}
	}

	if _, err := p.expect(token.VALUES); err != nil {
		return nil, err
	}
	for {
		if _, err := p.expect(token.LPAREN); err != nil {
			return nil, err
		}
		row, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RPAREN); err != nil {
			return nil, err
		}
		ins.Rows = append(ins.Rows, row)
		if p.curIs(token.COMMA) {
			p.next()
			continue
		}
		break
	}
	return ins, nil
}

// --- Expression grammar, precedence climbing low to high:
// OR < AND < NOT < comparison(incl. IN/LIKE/IS/BETWEEN) < concat(||)
// < additive < multiplicative < unary < primary.

func (p *Parser) parseExpr() (ast.Expr, error) { return p.parseOr() }

func (p *Parser) parseOr() (ast.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.curIs(token.OR) {
		pos := p.cur.Pos
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Op: token.OR, Left: left, Right: right, Pos: pos}
	}
	return left, nil
}

func (p *Parser) parseAnd() (ast.Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.curIs(token.AND) {
		pos := p.cur.Pos
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Op: token.AND, Left: left, Right: right, Pos: pos}
	}
	return left, nil
}

func (p *Parser) parseNot() (ast.Expr, error) {
	if p.curIs(token.NOT) {
		p.next()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Op: token.NOT, Operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() (ast.Expr, error) {
	left, err := p.parseConcat()
	if err != nil {
		return nil, err
	}

	not := false
	if p.curIs(token.NOT) {
		not = true
		p.next()
	}

	switch p.cur.Type {
	case token.EQ, token.NEQ, token.LT, token.LTE, token.GT, token.GTE:
		if not {
			return nil, p.errorf(p.cur.Pos, "unexpected NOT before comparison operator")
		}
		op := p.cur.Type
		pos := p.cur.Pos
		p.next()
		right, err := p.parseConcat()
		if err != nil {
			return nil, err
		}
		return &ast.BinaryExpr{Op: op, Left: left, Right: right, Pos: pos}, nil
	case token.IN:
		return p.parseIn([]ast.Expr{left}, not)
	case token.LIKE:
		p.next()
		pattern, err := p.parseConcat()
		if err != nil {
			return nil, err
		}
		return &ast.LikeExpr{Expr: left, Pattern: pattern, Not: not}, nil
	case token.BETWEEN:
		p.next()
		lo, err := p.parseConcat()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.AND); err != nil {
			return nil, err
		}
		hi, err := p.parseConcat()
		if err != nil {
			return nil, err
		}
		return &ast.BetweenExpr{Expr: left, Lo: lo, Hi: hi, Not: not}, nil
	case token.IS:
		if not {
			return nil, p.errorf(p.cur.Pos, "unexpected NOT before IS")
		}
		p.next()
		isNot := false
		if p.curIs(token.NOT) {
			isNot = true
			p.next()
		}
		if _, err := p.expect(token.NULL); err != nil {
			return nil, err
		}
		return &ast.IsNullExpr{Expr: left, Not: isNot}, nil
	}
	if not {
		return nil, p.errorf(p.cur.Pos, "expected IN, LIKE or BETWEEN after NOT")
	}
	return left, nil
}

// parseIn parses the right side of `left [, left2...] [NOT] IN (...)`,
// left having already been consumed, cur positioned at IN.
func (p *Parser) parseIn(exprs []ast.Expr, not bool) (ast.Expr, error) {
	p.next() // IN
	if _, err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}
	if p.curIs(token.SELECT) {
		sub, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RPAREN); err != nil {
			return nil, err
		}
		return &ast.InExpr{Exprs: exprs, Not: not, Subquery: sub}, nil
	}
	var values [][]ast.Expr
	for {
		var row []ast.Expr
		if p.curIs(token.LPAREN) {
			p.next()
			r, err := p.parseExprList()
			if err != nil {
				return nil, err
			}
			row = r
			if _, err := p.expect(token.RPAREN); err != nil {
				return nil, err
			}
		} else {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			row = []ast.Expr{e}
		}
		values = append(values, row)
		if p.curIs(token.COMMA) {
			p.next()
			continue
		}
		break
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	return &ast.InExpr{Exprs: exprs, Not: not, Values: values}, nil
}

func (p *Parser) parseConcat() (ast.Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.curIs(token.CONCAT) {
		pos := p.cur.Pos
		p.next()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Op: token.CONCAT, Left: left, Right: right, Pos: pos}
	}
	return left, nil
}

func (p *Parser) parseAdditive() (ast.Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.curIs(token.PLUS) || p.curIs(token.MINUS) {
		op := p.cur.Type
		pos := p.cur.Pos
		p.next()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Op: op, Left: left, Right: right, Pos: pos}
	}
	return left, nil
}

func (p *Parser) parseMultiplicative() (ast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.curIs(token.ASTERISK) || p.curIs(token.SLASH) || p.curIs(token.PERCENT) {
		op := p.cur.Type
		pos := p.cur.Pos
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Op: op, Left: left, Right: right, Pos: pos}
	}
	return left, nil
}

func (p *Parser) parseUnary() (ast.Expr, error) {
	if p.curIs(token.PLUS) || p.curIs(token.MINUS) {
		op := p.cur.Type
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Op: op, Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (ast.Expr, error) {
	switch p.cur.Type {
	case token.INT:
		v, err := strconv.ParseInt(p.cur.Literal, 10, 64)
		if err != nil {
			return nil, p.errorf(p.cur.Pos, "invalid integer literal %q", p.cur.Literal)
		}
		p.next()
		return &ast.IntLit{Value: v}, nil
	case token.FLOAT:
		v, err := strconv.ParseFloat(p.cur.Literal, 64)
		if err != nil {
			return nil, p.errorf(p.cur.Pos, "invalid float literal %q", p.cur.Literal)
		}
		p.next()
		return &ast.FloatLit{Value: v}, nil
	case token.STRING:
		v := p.cur.Literal
		p.next()
		return &ast.StringLit{Value: v}, nil
	case token.TRUE:
		p.next()
		return &ast.BoolLit{Value: true}, nil
	case token.FALSE:
		p.next()
		return &ast.BoolLit{Value: false}, nil
	case token.NULL:
		p.next()
		return &ast.NullLit{}, nil
	case token.CASE:
		return p.parseCase()
	case token.LPAREN:
		return p.parseParenOrTupleOrSubquery()
	case token.IDENT:
		return p.parseIdentOrCallOrWindow()
	}
	return nil, p.errorf(p.cur.Pos, "unexpected token %s (%q) in expression", p.cur.Type, p.cur.Literal)
}

func (p *Parser) parseParenOrTupleOrSubquery() (ast.Expr, error) {
	p.next() // (
	if p.curIs(token.SELECT) {
		sub, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RPAREN); err != nil {
			return nil, err
		}
		return &ast.SubqueryExpr{Query: sub}, nil
	}
	list, err := p.parseExprList()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	if len(list) == 1 {
		return list[0], nil
	}
	// Multi-column tuple form, valid only as the left side of IN.
	if p.curIs(token.IN) {
		return p.parseIn(list, false)
	}
	if p.curIs(token.NOT) && p.peekIs(token.IN) {
		p.next()
		return p.parseIn(list, true)
	}
	return nil, p.errorf(p.cur.Pos, "tuple expression is only valid on the left side of IN")
}

func (p *Parser) parseCase() (ast.Expr, error) {
	p.next() // CASE
	ce := &ast.CaseExpr{}
	for p.curIs(token.WHEN) {
		p.next()
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.THEN); err != nil {
			return nil, err
		}
		result, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		ce.Whens = append(ce.Whens, ast.CaseWhen{Cond: cond, Result: result})
	}
	if len(ce.Whens) == 0 {
		return nil, p.errorf(p.cur.Pos, "CASE requires at least one WHEN clause")
	}
	if p.curIs(token.ELSE) {
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		ce.Else = e
	}
	if _, err := p.expect(token.END); err != nil {
		return nil, err
	}
	return ce, nil
}

func (p *Parser) parseIdentOrCallOrWindow() (ast.Expr, error) {
	first := p.cur
	p.next()

	if p.curIs(token.DOT) {
		p.next()
		name, err := p.expect(token.IDENT)
		if err != nil {
			return nil, err
		}
		return &ast.Ident{Qualifier: first.Literal, Name: name.Literal, Pos: first.Pos}, nil
	}

	if !p.curIs(token.LPAREN) {
		return &ast.Ident{Name: first.Literal, Pos: first.Pos}, nil
	}

	call, err := p.parseCallArgs(first.Literal, first.Pos)
	if err != nil {
		return nil, err
	}

	if !p.curIs(token.OVER) {
		return call, nil
	}
	return p.parseWindowCall(call)
}

func (p *Parser) parseCallArgs(name string, pos token.Position) (*ast.FuncCall, error) {
	p.next() // (
	fc := &ast.FuncCall{Name: name, Pos: pos}
	if p.curIs(token.ASTERISK) {
		p.next()
		fc.Star = true
	} else if !p.curIs(token.RPAREN) {
		args, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		fc.Args = args
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	return fc, nil
}

func (p *Parser) parseWindowCall(fc *ast.FuncCall) (ast.Expr, error) {
	p.next() // OVER
	if _, err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}
	wc := &ast.WindowCall{Func: fc}
	if p.curIs(token.PARTITION) {
		p.next()
		if _, err := p.expect(token.BY); err != nil {
			return nil, err
		}
		list, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		wc.PartitionBy = list
	}
	if p.curIs(token.ORDER) {
		p.next()
		if _, err := p.expect(token.BY); err != nil {
			return nil, err
		}
		items, err := p.parseOrderList()
		if err != nil {
			return nil, err
		}
		wc.OrderBy = items
	}
	if p.curIs(token.ROWS) {
		frame, err := p.parseFrame()
		if err != nil {
			return nil, err
		}
		wc.Frame = frame
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	return wc, nil
}

func (p *Parser) parseFrame() (ast.Frame, error) {
	p.next() // ROWS
	if _, err := p.expect(token.BETWEEN); err != nil {
		return ast.Frame{}, err
	}
	f := ast.Frame{HasFrame: true}
	if p.curIs(token.UNBOUNDED) {
		p.next()
		f.Unbounded = true
	} else {
		n, err := p.expect(token.INT)
		if err != nil {
			return ast.Frame{}, err
		}
		v, _ := strconv.ParseInt(n.Literal, 10, 64)
		f.PrecedingN = v
	}
	if _, err := p.expect(token.PRECEDING); err != nil {
		return ast.Frame{}, err
	}
	if _, err := p.expect(token.AND); err != nil {
		return ast.Frame{}, err
	}
	if _, err := p.expect(token.CURRENT); err != nil {
		return ast.Frame{}, err
	}
	if _, err := p.expect(token.ROW); err != nil {
		return ast.Frame{}, err
	}
	return f, nil
}
