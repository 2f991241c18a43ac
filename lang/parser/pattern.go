package parser

import (
	"github.com/kahflane/naml/lang/ast"
	"github.com/kahflane/naml/lang/token"
)

// parsePattern parses a switch case pattern: a literal, an identifier
// binding, a possibly-qualified variant with a binding list, or the
// wildcard '_'.
func (p *parser) parsePattern() ast.Pattern {
	switch p.tok {
	case token.INT, token.FLOAT, token.STRING, token.TRUE, token.FALSE, token.NONE, token.MINUS:
		return p.parseLiteralPat()

	case token.IDENT:
		if p.val.Str == "_" {
			wp := ast.Alloc[ast.WildcardPat](p.arena)
			wp.Pos = p.expect(token.IDENT)
			return wp
		}

		first := p.ident()
		if p.tok != token.COLONCOLON && p.tok != token.LPAREN {
			// plain identifier: binds the switched value
			bp := ast.Alloc[ast.BindPat](p.arena)
			bp.Name = first
			return bp
		}

		vp := ast.Alloc[ast.VariantPat](p.arena)
		vp.Segments = append(vp.Segments, first)
		for p.got(token.COLONCOLON) {
			vp.Segments = append(vp.Segments, p.ident())
		}
		if p.got(token.LPAREN) {
			for p.tok != token.RPAREN && p.tok != token.EOF {
				vp.Binds = append(vp.Binds, p.ident())
				if !p.got(token.COMMA) {
					break
				}
			}
			vp.Rparen = p.expect(token.RPAREN)
		}
		return vp

	default:
		p.errorExpected(p.val.Pos, "pattern")
		panic(errPanicMode)
	}
}

func (p *parser) parseLiteralPat() *ast.LiteralPat {
	lp := ast.Alloc[ast.LiteralPat](p.arena)
	lit := ast.Alloc[ast.LiteralExpr](p.arena)

	neg := false
	start := p.val.Pos
	if p.tok == token.MINUS {
		neg = true
		p.expect(token.MINUS)
	}

	switch p.tok {
	case token.INT:
		lit.Kind = ast.LitInt
		lit.Raw = p.val.Raw
		lit.Int = p.val.Int
		if neg {
			lit.Raw = "-" + lit.Raw
			lit.Int = -lit.Int
		}
	case token.FLOAT:
		lit.Kind = ast.LitFloat
		lit.Raw = p.val.Raw
		lit.Float = p.val.Float
		if neg {
			lit.Raw = "-" + lit.Raw
			lit.Float = -lit.Float
		}
	case token.STRING:
		lit.Kind = ast.LitString
		lit.Raw = p.val.Raw
		lit.Str = p.val.Str
	case token.TRUE, token.FALSE:
		lit.Kind = ast.LitBool
		lit.Raw = p.tok.String()
		lit.Bool = p.tok == token.TRUE
	case token.NONE:
		lit.Kind = ast.LitNone
		lit.Raw = "none"
	default:
		p.errorExpected(p.val.Pos, "literal pattern")
		panic(errPanicMode)
	}
	lit.Sp = token.MakeSpan(start, p.val.Pos+token.Pos(len(p.val.Raw)))
	p.advance()

	lp.Lit = lit
	return lp
}
