// Package parser implements the parser that transforms source code into an
// abstract syntax tree (AST).
//
// Expressions are parsed by precedence climbing; items and statements by
// recursive descent. The parser reads from a token cursor with single-token
// peek; a cursor snapshot supports the speculative parse needed to
// disambiguate '<' between comparison and a type-argument list.
package parser

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/kahflane/naml/lang/ast"
	"github.com/kahflane/naml/lang/intern"
	"github.com/kahflane/naml/lang/scanner"
	"github.com/kahflane/naml/lang/token"
)

// Result is the outcome of parsing one compilation: the fileset, the AST
// roots and the arena holding their nodes. The ASTs are read-only after
// parsing and valid for the arena's lifetime.
type Result struct {
	FileSet  *token.FileSet
	Files    []*ast.SourceFile
	Arena    *ast.Arena
	Interner *intern.Interner
}

// ParseFiles is a helper function that parses the source files and returns
// the parse result and any error encountered. The error, if non-nil, is
// guaranteed to be a scanner.ErrorList. A non-nil Result is returned even
// when there are errors; downstream phases must not proceed in that case.
func ParseFiles(ctx context.Context, files ...string) (*Result, error) {
	res := &Result{
		FileSet:  token.NewFileSet(),
		Arena:    ast.NewArena(),
		Interner: intern.New(),
	}
	var p parser
	p.arena = res.Arena
	p.interner = res.Interner

	for _, file := range files {
		b, err := os.ReadFile(file)
		if err != nil {
			p.errors.Add(token.Position{Filename: file}, err.Error())
			continue
		}
		f := res.FileSet.AddFile(file, -1, len(b))
		sf := p.parseFile(f, b)
		sf.Name = file
		res.Files = append(res.Files, sf)
	}
	p.errors.Sort()
	return res, p.errors.Err()
}

// ParseSource parses a single source buffer under the provided name, adding
// it to the result's fileset. It is used by tests and by module loading.
func ParseSource(ctx context.Context, res *Result, name string, src []byte) (*ast.SourceFile, error) {
	var p parser
	p.arena = res.Arena
	p.interner = res.Interner

	f := res.FileSet.AddFile(name, -1, len(src))
	sf := p.parseFile(f, src)
	sf.Name = name
	res.Files = append(res.Files, sf)
	p.errors.Sort()
	return sf, p.errors.Err()
}

// NewResult returns an empty parse result ready for ParseSource calls.
func NewResult() *Result {
	return &Result{
		FileSet:  token.NewFileSet(),
		Arena:    ast.NewArena(),
		Interner: intern.New(),
	}
}

// parser parses source files and generates an AST.
type parser struct {
	arena    *ast.Arena
	interner *intern.Interner
	errors   scanner.ErrorList
	file     *token.File

	toks []scanner.TokenAndValue
	idx  int

	// current token
	tok token.Token
	val token.Value

	// pendingGT is set when a '>>' token has been half-consumed as the
	// closing '>' of a nested type-argument list; the next closing '>'
	// consumes the latch instead of a token.
	pendingGT bool

	// noStructLit is set while parsing a condition, where the '{' of a
	// struct literal would be ambiguous with the opening brace of the body.
	noStructLit bool
}

var errPanicMode = errors.New("panic")

func (p *parser) parseFile(f *token.File, src []byte) *ast.SourceFile {
	p.file = f
	p.toks = p.toks[:0]
	p.idx = 0
	p.pendingGT = false

	var s scanner.Scanner
	s.Init(f, src, p.errors.Add)
	var tokVal token.Value
	for {
		tok := s.Scan(&tokVal)
		if tok == token.COMMENT {
			continue // comments are not part of the grammar
		}
		p.toks = append(p.toks, scanner.TokenAndValue{Token: tok, Value: tokVal})
		if tok == token.EOF {
			break
		}
	}
	p.tok = p.toks[0].Token
	p.val = p.toks[0].Value

	sf := ast.Alloc[ast.SourceFile](p.arena)
	for p.tok != token.EOF {
		sf.Items = append(sf.Items, p.parseItem())
	}
	sf.EOF = p.val.Pos
	return sf
}

func (p *parser) advance() {
	if p.idx+1 < len(p.toks) {
		p.idx++
	}
	p.tok = p.toks[p.idx].Token
	p.val = p.toks[p.idx].Value
}

// peek returns the token after the current one without consuming anything.
func (p *parser) peek() token.Token {
	if p.idx+1 < len(p.toks) {
		return p.toks[p.idx+1].Token
	}
	return token.EOF
}

// snapshot and restore implement the speculative parse used for generic
// argument lists.
type snapshot struct {
	idx       int
	pendingGT bool
	errCount  int
}

func (p *parser) snapshot() snapshot {
	return snapshot{idx: p.idx, pendingGT: p.pendingGT, errCount: p.errors.Len()}
}

func (p *parser) restore(s snapshot) {
	p.idx = s.idx
	p.tok = p.toks[p.idx].Token
	p.val = p.toks[p.idx].Value
	p.pendingGT = s.pendingGT
	p.errors = p.errors[:s.errCount]
}

// expect returns the position of the current token and consumes it if it is
// one of the expected tokens, otherwise it reports an error and panics with
// errPanicMode which gets recovered at the item level, resulting in a
// BadItem.
func (p *parser) expect(toks ...token.Token) token.Pos {
	pos := p.val.Pos

	var ok bool
	for _, tok := range toks {
		if p.tok == tok {
			ok = true
			break
		}
	}
	if !ok {
		var buf strings.Builder
		for i, tok := range toks {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(tok.GoString())
		}
		lbl := buf.String()
		if len(toks) > 1 {
			lbl = "one of " + lbl
		}
		p.errorExpected(pos, lbl)
		panic(errPanicMode)
	}

	p.advance()
	return pos
}

// got consumes the current token and returns true if it matches tok.
func (p *parser) got(tok token.Token) bool {
	if p.tok == tok {
		p.advance()
		return true
	}
	return false
}

func (p *parser) error(pos token.Pos, msg string) {
	p.errors.Add(p.file.Position(pos), msg)
}

func (p *parser) errorExpected(pos token.Pos, msg string) {
	msg = "expected " + msg
	if pos == p.val.Pos {
		// the error happened at the current position; make the error message
		// more specific
		msg += ", found " + p.tok.Literal(p.val)
	}
	p.error(pos, msg)
}

// syncItem advances to the next plausible item start after a parse failure,
// so that one broken item does not cascade into errors for the rest of the
// file. It always makes progress.
func (p *parser) syncItem() {
	p.advance()
	for p.tok != token.EOF {
		switch p.tok {
		case token.FN, token.STRUCT, token.ENUM, token.INTERFACE,
			token.EXCEPTION, token.EXTERN, token.VAR, token.CONST,
			token.USE, token.PUB, token.ASYNC:
			return
		}
		p.advance()
	}
}

func (p *parser) ident() *ast.IdentExpr {
	pos := p.val.Pos
	lit := p.val.Str
	if lit == "" {
		lit = p.val.Raw
	}
	p.expect(token.IDENT)
	id := ast.Alloc[ast.IdentExpr](p.arena)
	id.Lit = lit
	id.Name = p.interner.Intern(lit)
	id.Sp = token.MakeSpan(pos, pos+token.Pos(len(lit)))
	return id
}
