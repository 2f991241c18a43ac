// Package codegen lowers the typed AST into executable form. The analysis
// side is shared by both output modes: struct layouts with per-field heap
// kinds (driving the generated decref walks), monomorphization instances,
// the per-function refcount plan, and inline candidates. AOT emission
// lowers through the SSA IR of llir/llvm into an object-ready .ll module
// linked against the runtime library; in-process execution hands the
// compiled Program to lang/machine.
package codegen

import (
	"context"
	"fmt"

	"github.com/kahflane/naml/lang/ast"
	"github.com/kahflane/naml/lang/checker"
	"github.com/kahflane/naml/lang/parser"
	"github.com/kahflane/naml/lang/types"
)

// Options configures a compilation.
type Options struct {
	// Release elides shadow-stack instrumentation.
	Release bool
}

// Program is the compiled form handed to the execution engine or the AOT
// emitter.
type Program struct {
	Res    *parser.Result
	Ann    *checker.Annotations
	Symtab *checker.SymbolTable
	Opts   Options

	// Layouts maps struct/exception names to their layout.
	Layouts map[string]*StructLayout

	// Funcs maps function names (mangled for generic instances) to their
	// compiled declarations.
	Funcs map[string]*FnInstance

	// Globals lists top-level vars in declaration order; main's preamble
	// initializes them.
	Globals []*ast.GlobalVarItem

	// Plans maps function names to their refcount emission plan.
	Plans map[string]*RcPlan
}

// FnInstance is one emittable function: a plain function, a method, or one
// monomorphized instance of a generic function.
type FnInstance struct {
	Name    string // mangled for generic instances
	Decl    *ast.FnItem
	Sub     map[string]types.Type // type-parameter bindings, nil when not generic
	Method  bool
	Inline  bool
	Extern  string // link name for extern functions, empty otherwise
	Sig     *types.Func
}

// Compile runs the shared analysis over a checked parse result.
func Compile(ctx context.Context, res *parser.Result, ann *checker.Annotations,
	symtab *checker.SymbolTable, opts Options) (*Program, error) {

	p := &Program{
		Res:     res,
		Ann:     ann,
		Symtab:  symtab,
		Opts:    opts,
		Layouts: make(map[string]*StructLayout),
		Funcs:   make(map[string]*FnInstance),
		Plans:   make(map[string]*RcPlan),
	}

	p.buildLayouts()

	for name, sig := range symtab.Funcs() {
		if sig.Extern {
			p.Funcs[name] = &FnInstance{Name: name, Extern: sig.LinkName, Sig: sig.Type}
			continue
		}
		if sig.IsGeneric() {
			continue // emitted per monomorphization record below
		}
		inst := &FnInstance{Name: name, Decl: sig.Decl, Sig: sig.Type}
		inst.Inline = isInlineCandidate(sig.Decl)
		p.Funcs[name] = inst
		p.Plans[name] = buildRcPlan(sig.Decl)
	}

	// methods, keyed TypeName_methodName with the receiver as first arg
	for tname := range symtab.AllTypes() {
		for _, m := range symtab.Methods(tname) {
			name := methodSymbol(tname, m.Name)
			p.Funcs[name] = &FnInstance{Name: name, Decl: m.Decl, Method: true, Sig: m.Type}
			p.Plans[name] = buildRcPlan(m.Decl)
		}
	}

	// monomorphization instances; records are already deduplicated by
	// mangled name so identical fingerprints from distinct module loads
	// cannot collide in the linker
	for _, rec := range ann.Monos {
		sig := symtab.Func(rec.FnName)
		if sig == nil || sig.Decl == nil {
			return nil, fmt.Errorf("monomorphization of unknown function %s", rec.FnName)
		}
		sub := make(map[string]types.Type, len(sig.TypeParams))
		for i, tp := range sig.TypeParams {
			sub[tp.Name] = rec.Args[i]
		}
		p.Funcs[rec.Mangled] = &FnInstance{
			Name: rec.Mangled,
			Decl: sig.Decl,
			Sub:  sub,
			Sig:  sig.Type,
		}
		p.Plans[rec.Mangled] = buildRcPlan(sig.Decl)
	}

	for _, f := range res.Files {
		for _, it := range f.Items {
			if gv, ok := it.(*ast.GlobalVarItem); ok {
				p.Globals = append(p.Globals, gv)
			}
		}
	}

	if p.Funcs["main"] == nil {
		return nil, fmt.Errorf("no main function")
	}
	return p, nil
}

// methodSymbol is the dispatch name of a method: TypeName_methodName.
func methodSymbol(typeName, method string) string {
	return typeName + "_" + method
}

// MethodSymbol exposes the method naming scheme to the execution engine.
func MethodSymbol(typeName, method string) string { return methodSymbol(typeName, method) }

// isInlineCandidate reports whether calls to the function may be inlined by
// re-emitting its body with parameter substitution: small, non-generic,
// non-throwing and not main.
func isInlineCandidate(fn *ast.FnItem) bool {
	if fn == nil || fn.Name.Lit == "main" || len(fn.TypeParams) > 0 || len(fn.Throws) > 0 {
		return false
	}
	if fn.Body == nil {
		return false
	}
	n := len(fn.Body.Stmts)
	if fn.Body.Tail != nil {
		n++
	}
	return n <= 5
}

// maxInlineDepth bounds nested inline expansion in the emitter context.
const maxInlineDepth = 4
