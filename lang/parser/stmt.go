package parser

import (
	"github.com/kahflane/naml/lang/ast"
	"github.com/kahflane/naml/lang/token"
)

func (p *parser) parseBlockExpr() *ast.BlockExpr {
	blk := ast.Alloc[ast.BlockExpr](p.arena)
	blk.Lbrace = p.expect(token.LBRACE)

	for p.tok != token.RBRACE && p.tok != token.EOF {
		stmt, tail := p.parseStmtOrTail()
		if tail != nil {
			blk.Tail = tail
			break
		}
		blk.Stmts = append(blk.Stmts, stmt)
	}
	blk.Rbrace = p.expect(token.RBRACE)
	return blk
}

// parseStmtOrTail parses one statement. When an expression at the end of a
// block has no trailing semicolon, it is the block's tail expression and is
// returned as tail instead.
func (p *parser) parseStmtOrTail() (stmt ast.Stmt, tail ast.Expr) {
	switch p.tok {
	case token.VAR, token.CONST:
		return p.parseVarStmt(), nil

	case token.RETURN:
		rs := ast.Alloc[ast.ReturnStmt](p.arena)
		rs.ReturnPos = p.expect(token.RETURN)
		if p.tok != token.SEMI {
			rs.Value = p.parseExpr()
		}
		rs.Semi = p.expect(token.SEMI)
		return rs, nil

	case token.THROW:
		ts := ast.Alloc[ast.ThrowStmt](p.arena)
		ts.ThrowPos = p.expect(token.THROW)
		ts.Value = p.parseExpr()
		ts.Semi = p.expect(token.SEMI)
		return ts, nil

	case token.BREAK:
		bs := ast.Alloc[ast.BreakStmt](p.arena)
		bs.BreakPos = p.expect(token.BREAK)
		bs.Semi = p.expect(token.SEMI)
		return bs, nil

	case token.CONTINUE:
		cs := ast.Alloc[ast.ContinueStmt](p.arena)
		cs.ContinuePos = p.expect(token.CONTINUE)
		cs.Semi = p.expect(token.SEMI)
		return cs, nil

	case token.WHILE:
		ws := ast.Alloc[ast.WhileStmt](p.arena)
		ws.WhilePos = p.expect(token.WHILE)
		ws.Cond = p.parseCondExpr()
		ws.Body = p.parseBlockExpr()
		return ws, nil

	case token.FOR:
		fs := ast.Alloc[ast.ForStmt](p.arena)
		fs.ForPos = p.expect(token.FOR)
		fs.Bind = p.ident()
		fs.InPos = p.expect(token.IN)
		fs.Range = p.parseCondExpr()
		fs.Body = p.parseBlockExpr()
		return fs, nil

	case token.LOOP:
		ls := ast.Alloc[ast.LoopStmt](p.arena)
		ls.LoopPos = p.expect(token.LOOP)
		ls.Body = p.parseBlockExpr()
		return ls, nil

	case token.SWITCH:
		return p.parseSwitchStmt(), nil

	case token.IF:
		is := ast.Alloc[ast.IfStmt](p.arena)
		is.If = p.parseIfExpr()
		return is, nil

	case token.LBRACE:
		bs := ast.Alloc[ast.BlockStmt](p.arena)
		bs.Block = p.parseBlockExpr()
		return bs, nil

	case token.TRY:
		// a try/catch in statement position needs no semicolon
		e := p.parseTryCatchExpr()
		if _, ok := e.(*ast.TryCatchExpr); ok {
			es := ast.Alloc[ast.ExprStmt](p.arena)
			es.Value = e
			p.got(token.SEMI)
			return es, nil
		}
		return p.finishSimpleStmt(e)

	case token.SPAWN:
		// a spawn block in statement position needs no semicolon
		se := ast.Alloc[ast.SpawnExpr](p.arena)
		se.SpawnPos = p.expect(token.SPAWN)
		if p.tok == token.LBRACE {
			se.Block = p.parseBlockExpr()
			es := ast.Alloc[ast.ExprStmt](p.arena)
			es.Value = se
			p.got(token.SEMI)
			return es, nil
		}
		se.Call = p.parsePostfixExpr()
		return p.finishSimpleStmt(se)

	default:
		return p.parseSimpleStmt()
	}
}

// parseSimpleStmt parses an expression statement, an assignment, or a block
// tail expression.
func (p *parser) parseSimpleStmt() (ast.Stmt, ast.Expr) {
	return p.finishSimpleStmt(p.parseExpr())
}

func (p *parser) finishSimpleStmt(e ast.Expr) (ast.Stmt, ast.Expr) {
	if p.tok == token.EQ || p.tok.IsCompoundAssign() {
		if !ast.IsAssignable(e) {
			p.error(p.val.Pos, "left-hand side of assignment is not assignable")
		}
		as := ast.Alloc[ast.AssignStmt](p.arena)
		as.Target = e
		as.Op = p.tok
		as.OpPos = p.expect(p.tok)
		as.Value = p.parseExpr()
		as.Semi = p.expect(token.SEMI)
		return as, nil
	}

	if p.tok == token.RBRACE {
		// no semicolon before the closing brace: tail expression
		return nil, e
	}

	es := ast.Alloc[ast.ExprStmt](p.arena)
	es.Value = e
	es.Semi = p.expect(token.SEMI)
	return es, nil
}

func (p *parser) parseVarStmt() *ast.VarStmt {
	vs := ast.Alloc[ast.VarStmt](p.arena)
	vs.DeclPos = p.val.Pos
	if p.got(token.CONST) {
		vs.Const = true
	} else {
		p.expect(token.VAR)
		vs.Mut = p.got(token.MUT)
	}
	vs.Name = p.ident()
	if p.got(token.COLON) {
		vs.Type = p.parseTypeExpr()
	}
	p.expect(token.EQ)
	vs.Value = p.parseExpr()
	vs.Semi = p.expect(token.SEMI)
	return vs
}

func (p *parser) parseSwitchStmt() *ast.SwitchStmt {
	sw := ast.Alloc[ast.SwitchStmt](p.arena)
	sw.SwitchPos = p.expect(token.SWITCH)
	sw.Value = p.parseCondExpr()
	p.expect(token.LBRACE)

	for p.tok != token.RBRACE && p.tok != token.EOF {
		c := ast.Alloc[ast.SwitchCase](p.arena)
		if p.tok == token.DEFAULT {
			c.CasePos = p.expect(token.DEFAULT)
			c.Default = true
		} else {
			c.CasePos = p.expect(token.CASE)
			c.Pattern = p.parsePattern()
		}
		p.expect(token.COLON)
		c.Body = p.parseBlockExpr()
		sw.Cases = append(sw.Cases, c)
	}
	sw.Rbrace = p.expect(token.RBRACE)
	return sw
}
