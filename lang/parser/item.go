package parser

import (
	"github.com/kahflane/naml/lang/ast"
	"github.com/kahflane/naml/lang/token"
)

// parseItem parses one top-level item, recovering from parse failures by
// resynchronizing at the next item boundary.
func (p *parser) parseItem() (it ast.Item) {
	start := p.val.Pos
	defer func() {
		if e := recover(); e != nil {
			if e != errPanicMode {
				panic(e)
			}
			p.syncItem()
			bad := ast.Alloc[ast.BadItem](p.arena)
			bad.Sp = token.MakeSpan(start, p.val.Pos)
			it = bad
		}
	}()

	pub := p.got(token.PUB)

	switch p.tok {
	case token.FN, token.ASYNC:
		return p.parseFnItem(pub)
	case token.STRUCT:
		return p.parseStructItem(pub)
	case token.ENUM:
		return p.parseEnumItem(pub)
	case token.INTERFACE:
		return p.parseInterfaceItem(pub)
	case token.EXCEPTION:
		return p.parseExceptionItem(pub)
	case token.EXTERN:
		return p.parseExternFnItem(pub)
	case token.VAR, token.CONST:
		gv := ast.Alloc[ast.GlobalVarItem](p.arena)
		gv.Decl = p.parseVarStmt()
		return gv
	case token.USE:
		return p.parseUseItem()
	default:
		p.errorExpected(p.val.Pos, "item")
		panic(errPanicMode)
	}
}

func (p *parser) parseFnItem(pub bool) *ast.FnItem {
	fn := ast.Alloc[ast.FnItem](p.arena)
	fn.Pub = pub
	fn.Async = p.got(token.ASYNC)
	fn.FnPos = p.expect(token.FN)

	// a '(' before the function name is a method receiver clause
	if p.tok == token.LPAREN {
		p.expect(token.LPAREN)
		recv := ast.Alloc[ast.Receiver](p.arena)
		recv.Name = p.ident()
		p.expect(token.COLON)
		recv.Type = p.parseTypeExpr()
		p.expect(token.RPAREN)
		fn.Recv = recv
	}

	fn.Name = p.ident()
	fn.TypeParams = p.parseTypeParams()
	fn.Params = p.parseParams()

	if p.got(token.ARROW) {
		fn.Ret = p.parseTypeExpr()
	}
	if p.got(token.THROWS) {
		fn.Throws = append(fn.Throws, p.parseTypeExpr())
		for p.got(token.COMMA) {
			fn.Throws = append(fn.Throws, p.parseTypeExpr())
		}
	}
	fn.Body = p.parseBlockExpr()
	return fn
}

// parseTypeParams parses an optional generic parameter list
// <T, U: Bound1 + Bound2>.
func (p *parser) parseTypeParams() []*ast.TypeParam {
	if p.tok != token.LT {
		return nil
	}
	p.expect(token.LT)

	var params []*ast.TypeParam
	for {
		tp := ast.Alloc[ast.TypeParam](p.arena)
		tp.Name = p.ident()
		if p.got(token.COLON) {
			tp.Bounds = append(tp.Bounds, p.ident())
			for p.got(token.PLUS) {
				tp.Bounds = append(tp.Bounds, p.ident())
			}
		}
		params = append(params, tp)
		if !p.got(token.COMMA) {
			break
		}
	}
	p.expectGT()
	return params
}

func (p *parser) parseParams() []*ast.Param {
	p.expect(token.LPAREN)
	var params []*ast.Param
	for p.tok != token.RPAREN && p.tok != token.EOF {
		prm := ast.Alloc[ast.Param](p.arena)
		prm.Name = p.ident()
		p.expect(token.COLON)
		prm.Type = p.parseTypeExpr()
		if p.got(token.DOTDOT) {
			// trailing '..' marks a variadic final parameter
			prm.Variadic = true
		}
		params = append(params, prm)
		if !p.got(token.COMMA) {
			break
		}
	}
	p.expect(token.RPAREN)
	return params
}

func (p *parser) parseStructItem(pub bool) *ast.StructItem {
	st := ast.Alloc[ast.StructItem](p.arena)
	st.Pub = pub
	st.StructPos = p.expect(token.STRUCT)
	st.Name = p.ident()
	st.TypeParams = p.parseTypeParams()

	if p.got(token.IMPLEMENTS) {
		st.Implements = append(st.Implements, p.ident())
		for p.got(token.COMMA) {
			st.Implements = append(st.Implements, p.ident())
		}
	}

	p.expect(token.LBRACE)
	for p.tok != token.RBRACE && p.tok != token.EOF {
		f := ast.Alloc[ast.StructField](p.arena)
		f.Pub = p.got(token.PUB)
		f.Name = p.ident()
		p.expect(token.COLON)
		f.Type = p.parseTypeExpr()
		st.Fields = append(st.Fields, f)
		if !p.got(token.COMMA) {
			break
		}
	}
	st.Rbrace = p.expect(token.RBRACE)
	return st
}

func (p *parser) parseEnumItem(pub bool) *ast.EnumItem {
	en := ast.Alloc[ast.EnumItem](p.arena)
	en.Pub = pub
	en.EnumPos = p.expect(token.ENUM)
	en.Name = p.ident()
	en.TypeParams = p.parseTypeParams()

	p.expect(token.LBRACE)
	for p.tok != token.RBRACE && p.tok != token.EOF {
		v := ast.Alloc[ast.EnumVariant](p.arena)
		v.Name = p.ident()
		if p.got(token.LPAREN) {
			v.Payload = append(v.Payload, p.parseTypeExpr())
			for p.got(token.COMMA) {
				v.Payload = append(v.Payload, p.parseTypeExpr())
			}
			p.expect(token.RPAREN)
		}
		en.Variants = append(en.Variants, v)
		if !p.got(token.COMMA) {
			break
		}
	}
	en.Rbrace = p.expect(token.RBRACE)
	return en
}

func (p *parser) parseInterfaceItem(pub bool) *ast.InterfaceItem {
	in := ast.Alloc[ast.InterfaceItem](p.arena)
	in.Pub = pub
	in.InterfacePos = p.expect(token.INTERFACE)
	in.Name = p.ident()
	in.TypeParams = p.parseTypeParams()

	p.expect(token.LBRACE)
	for p.tok != token.RBRACE && p.tok != token.EOF {
		m := ast.Alloc[ast.InterfaceMethod](p.arena)
		p.expect(token.FN)
		m.Name = p.ident()
		m.Params = p.parseParams()
		if p.got(token.ARROW) {
			m.Ret = p.parseTypeExpr()
		}
		if p.got(token.THROWS) {
			m.Throws = append(m.Throws, p.parseTypeExpr())
			for p.got(token.COMMA) {
				m.Throws = append(m.Throws, p.parseTypeExpr())
			}
		}
		m.Semi = p.expect(token.SEMI)
		in.Methods = append(in.Methods, m)
	}
	in.Rbrace = p.expect(token.RBRACE)
	return in
}

func (p *parser) parseExceptionItem(pub bool) *ast.ExceptionItem {
	ex := ast.Alloc[ast.ExceptionItem](p.arena)
	ex.Pub = pub
	ex.ExceptionPos = p.expect(token.EXCEPTION)
	ex.Name = p.ident()

	p.expect(token.LBRACE)
	for p.tok != token.RBRACE && p.tok != token.EOF {
		f := ast.Alloc[ast.StructField](p.arena)
		f.Pub = p.got(token.PUB)
		f.Name = p.ident()
		p.expect(token.COLON)
		f.Type = p.parseTypeExpr()
		ex.Fields = append(ex.Fields, f)
		if !p.got(token.COMMA) {
			break
		}
	}
	ex.Rbrace = p.expect(token.RBRACE)
	return ex
}

func (p *parser) parseExternFnItem(pub bool) *ast.ExternFnItem {
	ex := ast.Alloc[ast.ExternFnItem](p.arena)
	ex.Pub = pub
	ex.ExternPos = p.expect(token.EXTERN)
	p.expect(token.FN)
	ex.Name = p.ident()
	ex.Params = p.parseParams()
	if p.got(token.ARROW) {
		ex.Ret = p.parseTypeExpr()
	}
	if p.got(token.EQ) {
		if p.tok == token.STRING {
			ex.LinkName = p.val.Str
			p.advance()
		} else {
			p.errorExpected(p.val.Pos, "linker name string")
			panic(errPanicMode)
		}
	} else {
		// default link name is the declared name
		ex.LinkName = ex.Name.Lit
	}
	ex.Semi = p.expect(token.SEMI)
	return ex
}

func (p *parser) parseUseItem() *ast.UseItem {
	use := ast.Alloc[ast.UseItem](p.arena)
	use.UsePos = p.expect(token.USE)
	use.Segments = append(use.Segments, p.ident())
	for p.got(token.COLONCOLON) {
		use.Segments = append(use.Segments, p.ident())
	}
	use.Semi = p.expect(token.SEMI)
	return use
}
