package checker

import (
	"github.com/kahflane/naml/lang/ast"
	"github.com/kahflane/naml/lang/types"
)

// Binding is one name bound in a scope.
type Binding struct {
	Type        types.Type
	Mutable     bool
	Initialized bool
}

// scope is one level of the lexical scope stack.
type scope map[string]*Binding

// FuncSig is the signature of a top-level function as recorded during the
// collection pass. Generic functions retain their AST for monomorphization
// and are only checked at their use sites.
type FuncSig struct {
	Name       string
	Type       *types.Func
	TypeParams []types.TypeParam
	Async      bool
	Pub        bool
	Extern     bool
	LinkName   string // for extern functions
	Decl       *ast.FnItem
}

// IsGeneric reports whether the function has type parameters.
func (s *FuncSig) IsGeneric() bool { return len(s.TypeParams) > 0 }

// MethodSig is the signature of a method, indexed under its receiver type
// name.
type MethodSig struct {
	RecvName string
	RecvType types.Type
	Name     string
	Type     *types.Func
	Pub      bool
	Decl     *ast.FnItem
}

// SymbolTable maps interned names to type definitions, function signatures
// and method lists indexed by receiver type name.
type SymbolTable struct {
	types   map[string]types.Type // *Struct, *Enum, *Interface or *Exception
	funcs   map[string]*FuncSig
	methods map[string][]*MethodSig
	globals map[string]*Binding
}

// NewSymbolTable returns an empty symbol table with the well-known
// exception types predeclared.
func NewSymbolTable() *SymbolTable {
	st := &SymbolTable{
		types:   make(map[string]types.Type, 64),
		funcs:   make(map[string]*FuncSig, 64),
		methods: make(map[string][]*MethodSig, 16),
		globals: make(map[string]*Binding, 8),
	}
	st.declareWellKnownExceptions()
	return st
}

// declareWellKnownExceptions predeclares the typed exceptions raised by the
// runtime and standard library, each with a fixed field layout so that
// catch handlers can read attributes.
func (st *SymbolTable) declareWellKnownExceptions() {
	msg := types.Field{Name: "message", Type: types.StringType, Pub: true}
	code := types.Field{Name: "code", Type: types.IntType, Pub: true}
	path := types.Field{Name: "path", Type: types.StringType, Pub: true}
	host := types.Field{Name: "host", Type: types.StringType, Pub: true}

	for _, ex := range []*types.Exception{
		{Name: "IOError", Fields: []types.Field{msg, path, code}},
		{Name: "ProcessError", Fields: []types.Field{msg, code}},
		{Name: "EnvError", Fields: []types.Field{msg}},
		{Name: "OSError", Fields: []types.Field{msg, code}},
		{Name: "NetworkError", Fields: []types.Field{msg, host}},
		{Name: "TimeoutError", Fields: []types.Field{msg}},
		{Name: "ConnectionRefused", Fields: []types.Field{msg, host}},
		{Name: "DnsError", Fields: []types.Field{msg, host}},
		{Name: "TlsError", Fields: []types.Field{msg, host}},
		{Name: "ScheduleError", Fields: []types.Field{msg}},
	} {
		st.types[ex.Name] = ex
	}
}

// Type returns the type definition for name, or nil.
func (st *SymbolTable) Type(name string) types.Type { return st.types[name] }

// AllTypes returns all recorded type definitions.
func (st *SymbolTable) AllTypes() map[string]types.Type { return st.types }

// DefineType records a type definition under name.
func (st *SymbolTable) DefineType(name string, t types.Type) { st.types[name] = t }

// Func returns the function signature for name, or nil.
func (st *SymbolTable) Func(name string) *FuncSig { return st.funcs[name] }

// DefineFunc records a function signature.
func (st *SymbolTable) DefineFunc(sig *FuncSig) { st.funcs[sig.Name] = sig }

// Funcs returns all recorded function signatures.
func (st *SymbolTable) Funcs() map[string]*FuncSig { return st.funcs }

// Method returns the named method of the named receiver type, or nil.
func (st *SymbolTable) Method(recvName, name string) *MethodSig {
	for _, m := range st.methods[recvName] {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Methods returns all methods of the named receiver type.
func (st *SymbolTable) Methods(recvName string) []*MethodSig {
	return st.methods[recvName]
}

// DefineMethod records a method under its receiver type name.
func (st *SymbolTable) DefineMethod(m *MethodSig) {
	st.methods[m.RecvName] = append(st.methods[m.RecvName], m)
}

// Global returns the binding of a global var, or nil.
func (st *SymbolTable) Global(name string) *Binding { return st.globals[name] }

// DefineGlobal records a global var binding.
func (st *SymbolTable) DefineGlobal(name string, b *Binding) { st.globals[name] = b }

// Globals returns all global bindings.
func (st *SymbolTable) Globals() map[string]*Binding { return st.globals }

// typeParamBinding tracks one in-scope type parameter of the current
// function: its interface bounds and the concrete type it is bound to, if
// any.
type typeParamBinding struct {
	bounds   []*types.Interface
	concrete types.Type
}

// funcFrame is the per-function checking context.
type funcFrame struct {
	ret        types.Type
	throws     []types.Type
	async      bool
	typeParams map[string]*typeParamBinding
}
