package parser

import (
	"github.com/kahflane/naml/lang/ast"
	"github.com/kahflane/naml/lang/token"
)

func (p *parser) parseExpr() ast.Expr {
	return p.parseSubExpr(0)
}

// parseCondExpr parses the condition of an if/while/switch, where a struct
// literal would be ambiguous with the opening brace of the body.
func (p *parser) parseCondExpr() ast.Expr {
	save := p.noStructLit
	p.noStructLit = true
	e := p.parseSubExpr(0)
	p.noStructLit = save
	return e
}

var binopPriority = [...]struct{ left, right int }{
	token.OROR:   {1, 1},
	token.ANDAND: {2, 2},
	token.DOTDOT: {3, 3}, token.DOTDOTEQ: {3, 3},
	token.EQEQ: {4, 4}, token.NEQ: {4, 4},
	token.LT: {5, 5}, token.GT: {5, 5}, token.LE: {5, 5}, token.GE: {5, 5},
	token.PIPE:      {6, 6},
	token.CARET:     {7, 7},
	token.AMPERSAND: {8, 8},
	token.LTLT:      {9, 9}, token.GTGT: {9, 9},
	token.PLUS: {10, 10}, token.MINUS: {10, 10},
	token.STAR: {11, 11}, token.SLASH: {11, 11}, token.PERCENT: {11, 11},
}

const (
	castPriority = 12
	unopPriority = 13
)

func isBinop(tok token.Token) bool {
	return int(tok) < len(binopPriority) && binopPriority[tok].left > 0
}

// parseSubExpr parses an expression whose binary operators have a priority
// higher than the provided priority (precedence climbing).
func (p *parser) parseSubExpr(priority int) ast.Expr {
	var left ast.Expr

	switch p.tok {
	case token.MINUS, token.BANG, token.TILDE:
		un := ast.Alloc[ast.UnaryExpr](p.arena)
		un.Op = p.tok
		un.OpPos = p.expect(p.tok)
		un.Right = p.parseSubExpr(unopPriority)
		left = un
	default:
		left = p.parsePostfixExpr()
	}

	// cast binds tighter than any binary operator
	for p.tok == token.AS && castPriority > priority {
		cast := ast.Alloc[ast.CastExpr](p.arena)
		cast.Value = left
		cast.AsPos = p.expect(token.AS)
		cast.Type = p.parseTypeExpr()
		left = cast
	}

	for isBinop(p.tok) && binopPriority[p.tok].left > priority {
		op := p.tok
		if op == token.DOTDOT || op == token.DOTDOTEQ {
			rng := ast.Alloc[ast.RangeExpr](p.arena)
			rng.Low = left
			rng.Op = op
			rng.OpPos = p.expect(op)
			rng.Inclusive = op == token.DOTDOTEQ
			rng.High = p.parseSubExpr(binopPriority[op].right)
			left = rng
			continue
		}

		bin := ast.Alloc[ast.BinaryExpr](p.arena)
		bin.Left = left
		bin.Op = op
		bin.OpPos = p.expect(op)
		bin.Right = p.parseSubExpr(binopPriority[op].right)
		left = bin
	}

	return left
}

// parsePostfixExpr parses a primary expression followed by any chain of
// postfix operators: calls, method calls, indexing, field access, await,
// and the '?' operator.
func (p *parser) parsePostfixExpr() ast.Expr {
	e := p.parsePrimaryExpr()

	for {
		switch p.tok {
		case token.LPAREN:
			e = p.parseCallExpr(e, nil)

		case token.LT:
			// speculative: f<T1, T2>(args)
			args, ok := p.tryTypeArgs()
			if !ok {
				return e
			}
			e = p.parseCallExpr(e, args)

		case token.DOT:
			p.expect(token.DOT)
			if p.tok == token.AWAIT {
				aw := ast.Alloc[ast.AwaitExpr](p.arena)
				aw.Value = e
				aw.End = p.expect(token.AWAIT)
				e = aw
				continue
			}
			name := p.ident()
			if p.tok == token.LPAREN || p.tok == token.LT {
				var typeArgs []ast.TypeExpr
				if p.tok == token.LT {
					args, ok := p.tryTypeArgs()
					if !ok {
						// a.name < x: field access then comparison
						fe := ast.Alloc[ast.FieldExpr](p.arena)
						fe.Recv = e
						fe.Name = name
						e = fe
						continue
					}
					typeArgs = args
				}
				mc := ast.Alloc[ast.MethodCallExpr](p.arena)
				mc.Recv = e
				mc.Name = name
				mc.TypeArgs = typeArgs
				mc.Args, mc.Rparen = p.parseArgs()
				e = mc
				continue
			}
			fe := ast.Alloc[ast.FieldExpr](p.arena)
			fe.Recv = e
			fe.Name = name
			e = fe

		case token.LBRACK:
			ix := ast.Alloc[ast.IndexExpr](p.arena)
			ix.Recv = e
			p.expect(token.LBRACK)
			save := p.noStructLit
			p.noStructLit = false
			ix.Index = p.parseExpr()
			p.noStructLit = save
			ix.Rbrack = p.expect(token.RBRACK)
			if p.tok == token.BANG {
				ix.Bang = p.expect(token.BANG)
			}
			e = ix

		case token.QUESTION:
			tr := ast.Alloc[ast.TryExpr](p.arena)
			tr.Value = e
			tr.End = p.expect(token.QUESTION)
			e = tr

		default:
			return e
		}
	}
}

func (p *parser) parseCallExpr(fn ast.Expr, typeArgs []ast.TypeExpr) *ast.CallExpr {
	call := ast.Alloc[ast.CallExpr](p.arena)
	call.Fn = fn
	call.TypeArgs = typeArgs
	call.Args, call.Rparen = p.parseArgs()
	return call
}

func (p *parser) parseArgs() ([]ast.Expr, token.Pos) {
	p.expect(token.LPAREN)
	save := p.noStructLit
	p.noStructLit = false

	var args []ast.Expr
	for p.tok != token.RPAREN && p.tok != token.EOF {
		args = append(args, p.parseExpr())
		if !p.got(token.COMMA) {
			break
		}
	}
	p.noStructLit = save
	return args, p.expect(token.RPAREN)
}

func (p *parser) parsePrimaryExpr() ast.Expr {
	switch p.tok {
	case token.INT:
		lit := ast.Alloc[ast.LiteralExpr](p.arena)
		lit.Kind = ast.LitInt
		lit.Raw = p.val.Raw
		lit.Int = p.val.Int
		lit.Sp = p.litSpan()
		p.advance()
		return lit

	case token.FLOAT:
		lit := ast.Alloc[ast.LiteralExpr](p.arena)
		lit.Kind = ast.LitFloat
		lit.Raw = p.val.Raw
		lit.Float = p.val.Float
		lit.Sp = p.litSpan()
		p.advance()
		return lit

	case token.STRING:
		lit := ast.Alloc[ast.LiteralExpr](p.arena)
		lit.Kind = ast.LitString
		lit.Raw = p.val.Raw
		lit.Str = p.val.Str
		lit.Sp = p.litSpan()
		p.advance()
		return lit

	case token.TRUE, token.FALSE:
		lit := ast.Alloc[ast.LiteralExpr](p.arena)
		lit.Kind = ast.LitBool
		lit.Raw = p.tok.String()
		lit.Bool = p.tok == token.TRUE
		lit.Sp = p.litSpan()
		p.advance()
		return lit

	case token.NONE:
		lit := ast.Alloc[ast.LiteralExpr](p.arena)
		lit.Kind = ast.LitNone
		lit.Raw = "none"
		lit.Sp = p.litSpan()
		p.advance()
		return lit

	case token.SOME:
		se := ast.Alloc[ast.SomeExpr](p.arena)
		se.SomePos = p.expect(token.SOME)
		p.expect(token.LPAREN)
		save := p.noStructLit
		p.noStructLit = false
		se.Value = p.parseExpr()
		p.noStructLit = save
		se.Rparen = p.expect(token.RPAREN)
		return se

	case token.IDENT:
		return p.parseIdentLedExpr()

	case token.LPAREN:
		ge := ast.Alloc[ast.GroupExpr](p.arena)
		ge.Lparen = p.expect(token.LPAREN)
		save := p.noStructLit
		p.noStructLit = false
		ge.Inner = p.parseExpr()
		p.noStructLit = save
		ge.Rparen = p.expect(token.RPAREN)
		return ge

	case token.LBRACK:
		ae := ast.Alloc[ast.ArrayExpr](p.arena)
		ae.Lbrack = p.expect(token.LBRACK)
		save := p.noStructLit
		p.noStructLit = false
		for p.tok != token.RBRACK && p.tok != token.EOF {
			ae.Items = append(ae.Items, p.parseExpr())
			if !p.got(token.COMMA) {
				break
			}
		}
		p.noStructLit = save
		ae.Rbrack = p.expect(token.RBRACK)
		return ae

	case token.LBRACE:
		return p.parseMapExpr()

	case token.FN:
		return p.parseLambdaExpr()

	case token.IF:
		return p.parseIfExpr()

	case token.SPAWN:
		se := ast.Alloc[ast.SpawnExpr](p.arena)
		se.SpawnPos = p.expect(token.SPAWN)
		if p.tok == token.LBRACE {
			se.Block = p.parseBlockExpr()
		} else {
			se.Call = p.parsePostfixExpr()
		}
		return se

	case token.TRY:
		return p.parseTryCatchExpr()

	default:
		p.errorExpected(p.val.Pos, "expression")
		panic(errPanicMode)
	}
}

func (p *parser) litSpan() token.Span {
	return token.MakeSpan(p.val.Pos, p.val.Pos+token.Pos(len(p.val.Raw)))
}

// parseIdentLedExpr parses expressions starting with an identifier: a plain
// identifier, a qualified path, or a struct literal.
func (p *parser) parseIdentLedExpr() ast.Expr {
	id := p.ident()

	if p.tok == token.COLONCOLON {
		pe := ast.Alloc[ast.PathExpr](p.arena)
		pe.Segments = append(pe.Segments, id)
		for p.got(token.COLONCOLON) {
			pe.Segments = append(pe.Segments, p.ident())
		}
		first := pe.Segments[0].Span()
		last := pe.Segments[len(pe.Segments)-1].Span()
		pe.Sp = first.Merge(last)
		return pe
	}

	if p.tok == token.LBRACE && !p.noStructLit {
		return p.parseStructLiteral(id, nil)
	}
	return id
}

func (p *parser) parseStructLiteral(name *ast.IdentExpr, typeArgs []ast.TypeExpr) *ast.StructLiteralExpr {
	sl := ast.Alloc[ast.StructLiteralExpr](p.arena)
	sl.Name = name
	sl.TypeArgs = typeArgs
	p.expect(token.LBRACE)
	save := p.noStructLit
	p.noStructLit = false

	for p.tok != token.RBRACE && p.tok != token.EOF {
		fi := ast.Alloc[ast.FieldInit](p.arena)
		fi.Name = p.ident()
		if p.got(token.COLON) {
			fi.Value = p.parseExpr()
		}
		sl.Fields = append(sl.Fields, fi)
		if !p.got(token.COMMA) {
			break
		}
	}
	p.noStructLit = save
	sl.Rbrace = p.expect(token.RBRACE)
	return sl
}

func (p *parser) parseMapExpr() *ast.MapExpr {
	me := ast.Alloc[ast.MapExpr](p.arena)
	me.Lbrace = p.expect(token.LBRACE)
	save := p.noStructLit
	p.noStructLit = false

	for p.tok != token.RBRACE && p.tok != token.EOF {
		kv := ast.Alloc[ast.KeyVal](p.arena)
		kv.Key = p.parseExpr()
		kv.Colon = p.expect(token.COLON)
		kv.Value = p.parseExpr()
		me.Items = append(me.Items, kv)
		if !p.got(token.COMMA) {
			break
		}
	}
	p.noStructLit = save
	me.Rbrace = p.expect(token.RBRACE)
	return me
}

func (p *parser) parseLambdaExpr() *ast.LambdaExpr {
	le := ast.Alloc[ast.LambdaExpr](p.arena)
	le.FnPos = p.expect(token.FN)
	p.expect(token.LPAREN)
	for p.tok != token.RPAREN && p.tok != token.EOF {
		lp := ast.Alloc[ast.LambdaParam](p.arena)
		lp.Name = p.ident()
		if p.got(token.COLON) {
			lp.Type = p.parseTypeExpr()
		}
		le.Params = append(le.Params, lp)
		if !p.got(token.COMMA) {
			break
		}
	}
	p.expect(token.RPAREN)

	if p.got(token.FATARROW) {
		le.Arrow = p.parseExpr()
		return le
	}
	if p.got(token.ARROW) {
		le.Ret = p.parseTypeExpr()
	}
	le.Body = p.parseBlockExpr()
	return le
}

func (p *parser) parseIfExpr() *ast.IfExpr {
	ie := ast.Alloc[ast.IfExpr](p.arena)
	ie.IfPos = p.expect(token.IF)
	ie.Cond = p.parseCondExpr()
	ie.Then = p.parseBlockExpr()

	for p.tok == token.ELSE {
		p.expect(token.ELSE)
		if p.tok != token.IF {
			ie.Else = p.parseBlockExpr()
			break
		}
		ei := ast.Alloc[ast.ElseIf](p.arena)
		ei.Pos = p.expect(token.IF)
		ei.Cond = p.parseCondExpr()
		ei.Then = p.parseBlockExpr()
		ie.ElseIfs = append(ie.ElseIfs, ei)
	}
	return ie
}

func (p *parser) parseTryCatchExpr() ast.Expr {
	tryPos := p.expect(token.TRY)

	if p.tok != token.LBRACE {
		// try on a plain expression is accepted and yields the inner value
		tr := ast.Alloc[ast.TryExpr](p.arena)
		tr.Value = p.parseExpr()
		tr.End = tr.Value.Span().End
		return tr
	}

	tc := ast.Alloc[ast.TryCatchExpr](p.arena)
	tc.TryPos = tryPos
	tc.Body = p.parseBlockExpr()
	for p.tok == token.CATCH {
		c := ast.Alloc[ast.CatchClause](p.arena)
		c.CatchPos = p.expect(token.CATCH)
		c.Name = p.ident()
		if p.got(token.LPAREN) {
			c.Binding = p.ident()
			p.expect(token.RPAREN)
		}
		c.Body = p.parseBlockExpr()
		tc.Catches = append(tc.Catches, c)
	}
	if len(tc.Catches) == 0 {
		p.error(tryPos, "try block requires at least one catch clause")
	}
	return tc
}
