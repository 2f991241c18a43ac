package checker

import (
	"github.com/kahflane/naml/lang/ast"
	"github.com/kahflane/naml/lang/types"
)

// blockTerminates reports whether every path through the block ends in a
// return or throw (or is provably unreachable). It is the return-path
// analysis backing the MissingReturn check.
func (c *Checker) blockTerminates(b *ast.BlockExpr) bool {
	if b.Tail != nil {
		// a tail expression produces the block's value
		return true
	}
	for _, s := range b.Stmts {
		if c.stmtTerminates(s) {
			return true
		}
	}
	return false
}

func (c *Checker) stmtTerminates(s ast.Stmt) bool {
	switch s := s.(type) {
	case *ast.ReturnStmt, *ast.ThrowStmt:
		return true

	case *ast.IfStmt:
		return c.ifTerminates(s.If)

	case *ast.BlockStmt:
		return c.blockTerminates(s.Block)

	case *ast.SwitchStmt:
		// a switch terminates when every case terminates and a default (or
		// wildcard) case makes it exhaustive
		exhaustive := false
		for _, cs := range s.Cases {
			if !c.blockTerminates(cs.Body) {
				return false
			}
			if cs.Default {
				exhaustive = true
			}
			if _, wild := cs.Pattern.(*ast.WildcardPat); wild {
				exhaustive = true
			}
		}
		return exhaustive && len(s.Cases) > 0

	case *ast.LoopStmt:
		// an infinite loop without a break never falls through
		return !containsBreak(s.Body)

	case *ast.ExprStmt:
		// a call typed never (e.g. panic) terminates
		if t, ok := c.ann.TypeOf(s.Value.Span()); ok {
			return t == types.NeverType
		}
	}
	return false
}

func (c *Checker) ifTerminates(e *ast.IfExpr) bool {
	if e.Else == nil {
		return false
	}
	if !c.blockTerminates(e.Then) {
		return false
	}
	for _, ei := range e.ElseIfs {
		if !c.blockTerminates(ei.Then) {
			return false
		}
	}
	return c.blockTerminates(e.Else)
}

// containsBreak reports whether the block contains a break that applies to
// the enclosing loop (nested loops are skipped).
func containsBreak(b *ast.BlockExpr) bool {
	for _, s := range b.Stmts {
		switch s := s.(type) {
		case *ast.BreakStmt:
			return true
		case *ast.IfStmt:
			if ifContainsBreak(s.If) {
				return true
			}
		case *ast.BlockStmt:
			if containsBreak(s.Block) {
				return true
			}
		case *ast.SwitchStmt:
			for _, cs := range s.Cases {
				if containsBreak(cs.Body) {
					return true
				}
			}
		}
	}
	return false
}

func ifContainsBreak(e *ast.IfExpr) bool {
	if containsBreak(e.Then) {
		return true
	}
	for _, ei := range e.ElseIfs {
		if containsBreak(ei.Then) {
			return true
		}
	}
	return e.Else != nil && containsBreak(e.Else)
}
