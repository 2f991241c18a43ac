package codegen

import (
	"github.com/kahflane/naml/lang/ast"
)

// RcPlan is the per-function reference-counting emission plan. A simple
// pre-pass collects the set of reassigned variables, and CanElideBorrow
// answers from it whether a borrow's incref/decref pair may be skipped.
// The emitter stores the plan but does not read it: no incref/decref pair
// is skipped on the plan's answer.
type RcPlan struct {
	// Reassigned holds the names assigned to after their binding.
	Reassigned map[string]bool
}

// CanElideBorrow reports whether an incref/decref pair around a borrow of
// name consumed by a call or return may be skipped.
func (p *RcPlan) CanElideBorrow(name string) bool {
	return !p.Reassigned[name]
}

// buildRcPlan runs the reassignment pre-pass over a function body.
func buildRcPlan(fn *ast.FnItem) *RcPlan {
	plan := &RcPlan{Reassigned: make(map[string]bool)}
	if fn == nil || fn.Body == nil {
		return plan
	}
	var v ast.VisitorFunc
	v = func(n ast.Node, dir ast.VisitDirection) ast.Visitor {
		if dir != ast.VisitEnter {
			return nil
		}
		if as, ok := n.(*ast.AssignStmt); ok {
			if id, ok := ast.Unwrap(as.Target).(*ast.IdentExpr); ok {
				plan.Reassigned[id.Lit] = true
			}
		}
		return v
	}
	ast.Walk(v, fn.Body)
	return plan
}
