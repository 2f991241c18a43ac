// Package ast defines the types to represent the abstract syntax tree (AST)
// of the naml language. The AST is a tree of items, statements and
// expressions; every node carries the span of the source text it covers.
//
// Nodes are allocated in a per-compile Arena so that the whole tree shares
// one lifetime and is released together. The tree is read-only after
// parsing; the type checker annotates it through a side table keyed by span,
// never by mutating nodes.
package ast

import (
	"github.com/kahflane/naml/lang/token"
)

// Node represents any node in the AST.
type Node interface {
	// Span reports the source span covered by the node.
	Span() token.Span

	// Walk enters each node inside itself to implement the Visitor pattern.
	Walk(v Visitor)
}

// Expr represents an expression in the AST.
type Expr interface {
	Node
	expr()
}

// Stmt represents a statement in the AST.
type Stmt interface {
	Node

	// BlockEnding returns true if the statement should only appear as the
	// last statement in a block (return, throw, break and continue).
	BlockEnding() bool
}

// Item represents a top-level item in the AST.
type Item interface {
	Node
	item()
}

// Pattern represents a switch case pattern.
type Pattern interface {
	Node
	pattern()
}

// TypeExpr represents a type annotation in the source.
type TypeExpr interface {
	Node
	typeExpr()
}

// SourceFile is the root node produced by parsing one file.
type SourceFile struct {
	// Name is the filename, which may be empty if the source did not come
	// from a file.
	Name  string
	Items []Item
	EOF   token.Pos // position of the EOF marker, for empty files
}

func (f *SourceFile) Span() token.Span {
	if len(f.Items) == 0 {
		return token.MakeSpan(f.EOF, f.EOF)
	}
	return f.Items[0].Span().Merge(f.Items[len(f.Items)-1].Span())
}

func (f *SourceFile) Walk(v Visitor) {
	for _, it := range f.Items {
		Walk(v, it)
	}
}

// Unwrap the expression inside the parens. It unwraps multiple GroupExpr
// recursively until it reaches a non-GroupExpr.
func Unwrap(e Expr) Expr {
	if ge, ok := e.(*GroupExpr); ok {
		return Unwrap(ge.Inner)
	}
	return e
}

// IsAssignable returns true if e can be assigned to. For an expression to be
// assignable, it must be an IdentExpr, a FieldExpr or an IndexExpr, and the
// left-hand side of those expressions must also be assignable.
func IsAssignable(e Expr) bool {
	switch e := Unwrap(e).(type) {
	case *IdentExpr:
		return true
	case *FieldExpr:
		return IsAssignable(e.Recv)
	case *IndexExpr:
		return IsAssignable(e.Recv)
	default:
		return false
	}
}
