// Some of the scanner package is adapted from the Go source code:
// https://cs.opensource.google/go/go/+/refs/tags/go1.22.1:src/go/scanner/scanner.go
//
// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scanner

import (
	"context"
	"fmt"
	"go/scanner"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kahflane/naml/lang/token"
)

type (
	Error     = scanner.Error
	ErrorList = scanner.ErrorList
)

var PrintError = scanner.PrintError

// TokenAndValue combines the token type with the token value type in the same
// struct.
type TokenAndValue struct {
	Token token.Token
	Value token.Value
}

// ScanFiles is a helper function that tokenizes the source files and returns
// the list of tokens, grouped by the file at the same index, and produces any
// error encountered. The error, if non-nil, is guaranteed to be a
// scanner.ErrorList.
func ScanFiles(ctx context.Context, files ...string) (*token.FileSet, [][]TokenAndValue, error) {
	if len(files) == 0 {
		return nil, nil, nil
	}

	var (
		s      Scanner
		tokVal token.Value
		el     ErrorList
	)

	fs := token.NewFileSet()
	tokensByFile := make([][]TokenAndValue, len(files))
	for i, file := range files {
		b, err := os.ReadFile(file)
		if err != nil {
			el.Add(token.Position{Filename: file}, err.Error())
			continue
		}

		fsf := fs.AddFile(file, -1, len(b))
		s.Init(fsf, b, el.Add)
		for {
			tok := s.Scan(&tokVal)
			tokensByFile[i] = append(tokensByFile[i], TokenAndValue{
				Token: tok,
				Value: tokVal,
			})
			if tok == token.EOF {
				break
			}
		}
	}
	el.Sort()
	return fs, tokensByFile, el.Err()
}

// Scanner tokenizes source files for the parser to consume.
type Scanner struct {
	// immutable state after Init
	file *token.File // source file handle
	src  []byte
	err  func(pos token.Position, msg string)

	// mutable scanning state
	sb          strings.Builder // writes to Builder never fail, so errors are ignored
	invalidByte byte            // when cur==RuneError due to failed utf8 decode, this is the invalid byte
	cur         rune            // current character
	off         int             // character offset in bytes of cur
	roff        int             // reading offset in bytes (position after current character)
}

// Init initializes the scanner to tokenize a new file. It panics if the file
// size is not the same as the length of the src slice.
func (s *Scanner) Init(file *token.File, src []byte, errHandler func(token.Position, string)) {
	if file.Size() != len(src) {
		panic(fmt.Sprintf("file size (%d) does not match src len (%d)", file.Size(), len(src)))
	}

	s.file = file
	s.src = src
	s.err = errHandler

	s.sb.Reset()
	s.invalidByte = 0
	s.cur = ' '
	s.off = 0
	s.roff = 0

	s.advance()
}

// peek returns the byte following the most recently read character without
// advancing the scanner. If the scanner is at EOF, peek returns 0.
func (s *Scanner) peek() byte {
	if s.roff < len(s.src) {
		return s.src[s.roff]
	}
	return 0
}

// read the next Unicode char into s.cur; s.cur < 0 means end-of-file.
func (s *Scanner) advance() {
	if s.roff >= len(s.src) {
		s.off = len(s.src)
		if s.cur == '\n' {
			s.file.AddLine(s.off)
		}
		s.cur = -1
		return
	}

	s.off = s.roff
	if s.cur == '\n' {
		s.file.AddLine(s.off)
	}

	rn, w := rune(s.src[s.roff]), 1
	if rn >= utf8.RuneSelf {
		rn, w = utf8.DecodeRune(s.src[s.roff:])
		if rn == utf8.RuneError && w == 1 {
			s.invalidByte = s.src[s.roff]
			s.error(s.off, "illegal UTF-8 encoding")
		}
	}
	s.roff += w
	s.cur = rn
}

func (s *Scanner) error(off int, msg string) {
	if s.err != nil {
		s.err(s.file.Position(s.file.Pos(off)), msg)
	}
}

func (s *Scanner) errorf(off int, format string, args ...any) {
	s.error(off, fmt.Sprintf(format, args...))
}

// advanceIf consumes the current character and returns true if it matches
// one of the provided bytes.
func (s *Scanner) advanceIf(matches ...byte) bool {
	for _, b := range matches {
		if s.cur == rune(b) {
			s.advance()
			return true
		}
	}
	return false
}

// Scan reads the next token from the source, filling tokVal with its decoded
// value. Whitespace is skipped, comments are returned as COMMENT tokens for
// the parser to discard (or collect). At the end of the source, Scan returns
// EOF forever.
func (s *Scanner) Scan(tokVal *token.Value) (tok token.Token) {
	s.skipWhitespace()

	// current token start
	pos := s.file.Pos(s.off)
	start := s.off

	switch cur := s.cur; {
	case cur == 'r' && (s.peek() == '"'):
		// raw string literal
		s.advance() // 'r'
		s.advance() // '"'
		tok = token.STRING
		lit, val := s.rawString(start)
		*tokVal = token.Value{Raw: lit, Pos: pos, Str: val}

	case isLetter(cur):
		// keywords and identifiers
		lit := s.ident()
		tok = token.IDENT
		if len(lit) > 1 {
			// keywords are longer than one letter - avoid lookup otherwise
			tok = token.LookupKw(lit)
		}
		*tokVal = token.Value{Raw: lit, Pos: pos, Str: lit}

	case isDecimal(cur) || cur == '.' && isDecimal(rune(s.peek())):
		// integer and float
		tok = s.number(tokVal)
		tokVal.Pos = pos

	default:
		s.advance() // always make progress
		switch cur {
		case '"':
			tok = token.STRING
			lit, val := s.shortString(start)
			*tokVal = token.Value{Raw: lit, Pos: pos, Str: val}

		case '(', ')', '[', ']', '{', '}', ',', ';', '~':
			// unambiguous single-char punctuation
			tok = punct1[cur]
			*tokVal = token.Value{Raw: tok.String(), Pos: pos}

		case '+', '*', '%', '^':
			// single-char operators that can be followed by '=' and nothing else
			tok = punct1[cur]
			if s.advanceIf('=') {
				tok = compoundFor(tok)
			}
			*tokVal = token.Value{Raw: tok.String(), Pos: pos}

		case '-':
			// minus, minus-eq or arrow
			tok = token.MINUS
			if s.advanceIf('=') {
				tok = token.MINUSEQ
			} else if s.advanceIf('>') {
				tok = token.ARROW
			}
			*tokVal = token.Value{Raw: tok.String(), Pos: pos}

		case '/':
			// slash, slash-eq or a comment
			tok = token.SLASH
			if s.advanceIf('=') {
				tok = token.SLASHEQ
			} else if s.cur == '/' || s.cur == '*' {
				tok = token.COMMENT
				lit, val := s.comment(start)
				*tokVal = token.Value{Raw: lit, Pos: pos, Str: val}
				break
			}
			*tokVal = token.Value{Raw: tok.String(), Pos: pos}

		case '&':
			tok = token.AMPERSAND
			if s.advanceIf('=') {
				tok = token.AMPEQ
			} else if s.advanceIf('&') {
				tok = token.ANDAND
			}
			*tokVal = token.Value{Raw: tok.String(), Pos: pos}

		case '|':
			tok = token.PIPE
			if s.advanceIf('=') {
				tok = token.PIPEEQ
			} else if s.advanceIf('|') {
				tok = token.OROR
			}
			*tokVal = token.Value{Raw: tok.String(), Pos: pos}

		case '<':
			// <, <=, <<, <<=
			tok = token.LT
			if s.advanceIf('=') {
				tok = token.LE
			} else if s.advanceIf('<') {
				tok = token.LTLT
				if s.advanceIf('=') {
					tok = token.LTLTEQ
				}
			}
			*tokVal = token.Value{Raw: tok.String(), Pos: pos}

		case '>':
			// >, >=, >>, >>=
			tok = token.GT
			if s.advanceIf('=') {
				tok = token.GE
			} else if s.advanceIf('>') {
				tok = token.GTGT
				if s.advanceIf('=') {
					tok = token.GTGTEQ
				}
			}
			*tokVal = token.Value{Raw: tok.String(), Pos: pos}

		case '=':
			tok = token.EQ
			if s.advanceIf('=') {
				tok = token.EQEQ
			} else if s.advanceIf('>') {
				tok = token.FATARROW
			}
			*tokVal = token.Value{Raw: tok.String(), Pos: pos}

		case '!':
			tok = token.BANG
			if s.advanceIf('=') {
				tok = token.NEQ
			}
			*tokVal = token.Value{Raw: tok.String(), Pos: pos}

		case '?':
			tok = token.QUESTION
			*tokVal = token.Value{Raw: tok.String(), Pos: pos}

		case ':':
			tok = token.COLON
			if s.advanceIf(':') {
				tok = token.COLONCOLON
			}
			*tokVal = token.Value{Raw: tok.String(), Pos: pos}

		case '.':
			// dot, dotdot or dotdoteq
			tok = token.DOT
			if s.advanceIf('.') {
				tok = token.DOTDOT
				if s.advanceIf('=') {
					tok = token.DOTDOTEQ
				}
			}
			*tokVal = token.Value{Raw: tok.String(), Pos: pos}

		case -1:
			tok = token.EOF
			*tokVal = token.Value{Raw: "", Pos: pos}

		default:
			if cur == utf8.RuneError && s.invalidByte > 0 {
				cur = rune(s.invalidByte)
				s.invalidByte = 0
			}
			s.errorf(start, "illegal character %#U", cur)
			tok = token.ILLEGAL
			*tokVal = token.Value{Raw: string(cur), Pos: pos}
		}
	}
	return tok
}

var punct1 = map[rune]token.Token{
	'(': token.LPAREN, ')': token.RPAREN,
	'[': token.LBRACK, ']': token.RBRACK,
	'{': token.LBRACE, '}': token.RBRACE,
	',': token.COMMA, ';': token.SEMI, '~': token.TILDE,
	'+': token.PLUS, '-': token.MINUS, '*': token.STAR,
	'/': token.SLASH, '%': token.PERCENT, '^': token.CARET,
	'&': token.AMPERSAND, '|': token.PIPE,
}

func compoundFor(tok token.Token) token.Token {
	switch tok {
	case token.PLUS:
		return token.PLUSEQ
	case token.MINUS:
		return token.MINUSEQ
	case token.STAR:
		return token.STAREQ
	case token.SLASH:
		return token.SLASHEQ
	case token.PERCENT:
		return token.PERCENTEQ
	case token.CARET:
		return token.CARETEQ
	case token.AMPERSAND:
		return token.AMPEQ
	case token.PIPE:
		return token.PIPEEQ
	}
	return token.ILLEGAL
}

func (s *Scanner) ident() string {
	start := s.off
	for isLetter(s.cur) || isDigit(s.cur) {
		s.advance()
	}
	return string(s.src[start:s.off])
}

func (s *Scanner) skipWhitespace() {
	for s.cur == ' ' || s.cur == '\t' || s.cur == '\n' || s.cur == '\r' {
		s.advance()
	}
}

func isLetter(rn rune) bool {
	return 'a' <= lower(rn) && lower(rn) <= 'z' || rn == '_' ||
		rn >= utf8.RuneSelf && unicode.IsLetter(rn)
}

func isDigit(rn rune) bool {
	return isDecimal(rn) || rn >= utf8.RuneSelf && unicode.IsDigit(rn)
}
