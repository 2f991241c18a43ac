package parser

import (
	"github.com/kahflane/naml/lang/ast"
	"github.com/kahflane/naml/lang/token"
)

// parseTypeExpr parses a type annotation.
func (p *parser) parseTypeExpr() ast.TypeExpr {
	switch p.tok {
	case token.IDENT:
		return p.parseNamedType()

	case token.LBRACK:
		at := ast.Alloc[ast.ArrayType](p.arena)
		at.Size = -1
		at.Lbrack = p.expect(token.LBRACK)
		at.Elem = p.parseTypeExpr()
		if p.got(token.SEMI) {
			if p.tok != token.INT {
				p.errorExpected(p.val.Pos, "array size")
				panic(errPanicMode)
			}
			at.Size = p.val.Int
			p.advance()
		}
		at.Rbrack = p.expect(token.RBRACK)
		return at

	case token.FN:
		ft := ast.Alloc[ast.FnType](p.arena)
		ft.FnPos = p.expect(token.FN)
		p.expect(token.LPAREN)
		for p.tok != token.RPAREN && p.tok != token.EOF {
			ft.Params = append(ft.Params, p.parseTypeExpr())
			if !p.got(token.COMMA) {
				break
			}
		}
		ft.End = p.expect(token.RPAREN) + 1
		if p.got(token.ARROW) {
			ft.Ret = p.parseTypeExpr()
			ft.End = ft.Ret.Span().End
		}
		return ft

	case token.LPAREN:
		ut := ast.Alloc[ast.UnitType](p.arena)
		ut.Lparen = p.expect(token.LPAREN)
		ut.Rparen = p.expect(token.RPAREN)
		return ut

	default:
		p.errorExpected(p.val.Pos, "type")
		panic(errPanicMode)
	}
}

func (p *parser) parseNamedType() *ast.NamedType {
	nt := ast.Alloc[ast.NamedType](p.arena)
	nt.Segments = append(nt.Segments, p.ident())
	for p.got(token.COLONCOLON) {
		nt.Segments = append(nt.Segments, p.ident())
	}
	if p.tok == token.LT {
		p.expect(token.LT)
		for {
			nt.Args = append(nt.Args, p.parseTypeExpr())
			if !p.got(token.COMMA) {
				break
			}
		}
		nt.End = p.expectGT() + 1
	}
	return nt
}

// expectGT consumes a closing '>' of a type-argument list. A '>>' token is
// split: the first half closes the current list and the pendingGT latch
// holds the second half for the enclosing list.
func (p *parser) expectGT() token.Pos {
	pos := p.val.Pos
	if p.pendingGT {
		p.pendingGT = false
		return pos
	}
	switch p.tok {
	case token.GT:
		p.advance()
		return pos
	case token.GTGT:
		p.pendingGT = true
		p.advance()
		return pos
	}
	p.errorExpected(pos, "'>'")
	panic(errPanicMode)
}

// tryTypeArgs speculatively parses a type-argument list <T1, T2> at the
// current '<'. On success the cursor is left after the closing '>' which
// must be followed by '('; on failure the cursor is restored and nil, false
// is returned so the '<' can be parsed as a comparison.
func (p *parser) tryTypeArgs() (args []ast.TypeExpr, ok bool) {
	save := p.snapshot()
	defer func() {
		if e := recover(); e != nil {
			if e != errPanicMode {
				panic(e)
			}
			p.restore(save)
			args, ok = nil, false
		}
	}()

	p.expect(token.LT)
	for {
		args = append(args, p.parseTypeExpr())
		if !p.got(token.COMMA) {
			break
		}
	}
	p.expectGT()

	if p.tok != token.LPAREN {
		// not a legal follow token for a call's type arguments
		p.restore(save)
		return nil, false
	}
	return args, true
}
