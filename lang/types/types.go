// Package types defines the internal type representation used during type
// checking. Unlike the AST type annotations, this representation supports
// type variables for inference, resolved named types with full definitions,
// and substitution during unification.
//
// The checker converts AST annotations to these types, performs inference,
// and renders them back into error messages.
package types

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Type is the interface implemented by all checker-internal types. Types
// are structurally compared modulo type-variable resolution.
type Type interface {
	// Resolve follows type-variable bindings until it reaches a non-bound
	// type. Types without bindings return themselves.
	Resolve() Type

	// ContainsVar reports whether the type mentions the type variable with
	// the provided id (the occurs check).
	ContainsVar(id uint32) bool

	fmt.Stringer
}

// PrimKind enumerates the primitive types.
type PrimKind int8

// List of primitive kinds.
const (
	Int PrimKind = iota
	Uint
	Float
	Bool
	String
	Bytes
	Unit
)

var primNames = [...]string{
	Int: "int", Uint: "uint", Float: "float", Bool: "bool",
	String: "string", Bytes: "bytes", Unit: "()",
}

// Prim is a primitive type. The zero value is Int; use the package-level
// singletons.
type Prim struct{ Kind PrimKind }

// Singleton primitive types, also special types Error and Never.
var (
	IntType    Type = &Prim{Int}
	UintType   Type = &Prim{Uint}
	FloatType  Type = &Prim{Float}
	BoolType   Type = &Prim{Bool}
	StringType Type = &Prim{String}
	BytesType  Type = &Prim{Bytes}
	UnitType   Type = &Prim{Unit}

	// ErrorType unifies with anything; it is produced for expressions that
	// already failed so one mistake does not cascade.
	ErrorType Type = &special{"<error>"}
	// NeverType is the type of expressions that do not produce a value
	// (throw, return); it unifies with anything.
	NeverType Type = &special{"never"}
)

func (p *Prim) Resolve() Type            { return p }
func (p *Prim) ContainsVar(uint32) bool  { return false }
func (p *Prim) String() string           { return primNames[p.Kind] }

type special struct{ name string }

func (s *special) Resolve() Type           { return s }
func (s *special) ContainsVar(uint32) bool { return false }
func (s *special) String() string          { return s.name }

// Array is a growable array type.
type Array struct{ Elem Type }

func (t *Array) Resolve() Type             { return t }
func (t *Array) ContainsVar(id uint32) bool { return t.Elem.ContainsVar(id) }
func (t *Array) String() string            { return "[" + t.Elem.String() + "]" }

// FixedArray is an array with a static size.
type FixedArray struct {
	Elem Type
	Size int64
}

func (t *FixedArray) Resolve() Type             { return t }
func (t *FixedArray) ContainsVar(id uint32) bool { return t.Elem.ContainsVar(id) }
func (t *FixedArray) String() string {
	return fmt.Sprintf("[%s; %d]", t.Elem, t.Size)
}

// Option is a maybe-absent value type.
type Option struct{ Inner Type }

func (t *Option) Resolve() Type             { return t }
func (t *Option) ContainsVar(id uint32) bool { return t.Inner.ContainsVar(id) }
func (t *Option) String() string            { return "option<" + t.Inner.String() + ">" }

// Map is a key/value map type.
type Map struct{ Key, Value Type }

func (t *Map) Resolve() Type { return t }
func (t *Map) ContainsVar(id uint32) bool {
	return t.Key.ContainsVar(id) || t.Value.ContainsVar(id)
}
func (t *Map) String() string {
	return "map<" + t.Key.String() + ", " + t.Value.String() + ">"
}

// Channel is a typed channel.
type Channel struct{ Elem Type }

func (t *Channel) Resolve() Type             { return t }
func (t *Channel) ContainsVar(id uint32) bool { return t.Elem.ContainsVar(id) }
func (t *Channel) String() string            { return "channel<" + t.Elem.String() + ">" }

// Mutex is a value guarded by a mutual-exclusion lock.
type Mutex struct{ Inner Type }

func (t *Mutex) Resolve() Type             { return t }
func (t *Mutex) ContainsVar(id uint32) bool { return t.Inner.ContainsVar(id) }
func (t *Mutex) String() string            { return "mutex<" + t.Inner.String() + ">" }

// Rwlock is a value guarded by a readers-writer lock.
type Rwlock struct{ Inner Type }

func (t *Rwlock) Resolve() Type             { return t }
func (t *Rwlock) ContainsVar(id uint32) bool { return t.Inner.ContainsVar(id) }
func (t *Rwlock) String() string            { return "rwlock<" + t.Inner.String() + ">" }

// Atomic is a lock-free primitive cell; Inner must be int, uint or bool.
type Atomic struct{ Inner Type }

func (t *Atomic) Resolve() Type             { return t }
func (t *Atomic) ContainsVar(id uint32) bool { return t.Inner.ContainsVar(id) }
func (t *Atomic) String() string            { return "atomic<" + t.Inner.String() + ">" }

// Task is the completion handle of a spawned task; awaiting it yields the
// inner type.
type Task struct{ Inner Type }

func (t *Task) Resolve() Type             { return t }
func (t *Task) ContainsVar(id uint32) bool { return t.Inner.ContainsVar(id) }
func (t *Task) String() string            { return "task<" + t.Inner.String() + ">" }

// Range is the type of a range expression; it is only consumed by for-in
// loops and range-taking builtins.
type Range struct{}

var RangeType Type = &Range{}

func (t *Range) Resolve() Type            { return t }
func (t *Range) ContainsVar(uint32) bool  { return false }
func (t *Range) String() string           { return "range" }

// Field is one field of a struct or exception type.
type Field struct {
	Name string
	Type Type
	Pub  bool
}

// TypeParam is one generic parameter of a definition, with its interface
// bounds.
type TypeParam struct {
	Name   string
	Bounds []*Interface
}

// Struct is a user-defined struct type.
type Struct struct {
	Name       string
	Fields     []Field
	TypeParams []TypeParam
	TypeArgs   []Type
	Implements []string
}

func (t *Struct) Resolve() Type { return t }
func (t *Struct) ContainsVar(id uint32) bool {
	// field types are built from the type arguments, and walking the fields
	// of a self-referential struct would not terminate
	for _, a := range t.TypeArgs {
		if a.ContainsVar(id) {
			return true
		}
	}
	return false
}
func (t *Struct) String() string { return nameWithArgs(t.Name, t.TypeArgs) }

// FieldIndex returns the declaration index of the named field, or -1.
func (t *Struct) FieldIndex(name string) int {
	for i, f := range t.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Variant is one variant of an enum type; Payload is nil for plain
// variants.
type Variant struct {
	Name    string
	Payload []Type
}

// Enum is a user-defined enum type.
type Enum struct {
	Name       string
	Variants   []Variant
	TypeParams []TypeParam
	TypeArgs   []Type
}

func (t *Enum) Resolve() Type { return t }
func (t *Enum) ContainsVar(id uint32) bool {
	for _, v := range t.Variants {
		for _, p := range v.Payload {
			if p.ContainsVar(id) {
				return true
			}
		}
	}
	return false
}
func (t *Enum) String() string { return nameWithArgs(t.Name, t.TypeArgs) }

// VariantIndex returns the declaration index of the named variant, or -1.
func (t *Enum) VariantIndex(name string) int {
	for i, v := range t.Variants {
		if v.Name == name {
			return i
		}
	}
	return -1
}

// Method is one method signature of an interface.
type Method struct {
	Name   string
	Params []Type
	Ret    Type
	Throws []Type
}

// Interface is a user-defined interface type.
type Interface struct {
	Name       string
	Methods    []Method
	TypeParams []TypeParam
}

func (t *Interface) Resolve() Type            { return t }
func (t *Interface) ContainsVar(uint32) bool  { return false }
func (t *Interface) String() string           { return t.Name }

// Method returns the method with the provided name, or nil.
func (t *Interface) Method(name string) *Method {
	for i := range t.Methods {
		if t.Methods[i].Name == name {
			return &t.Methods[i]
		}
	}
	return nil
}

// Exception is a user-defined exception type. Exceptions have struct layout
// at run time.
type Exception struct {
	Name   string
	Fields []Field
}

func (t *Exception) Resolve() Type            { return t }
func (t *Exception) ContainsVar(uint32) bool  { return false }
func (t *Exception) String() string           { return t.Name }

// FieldIndex returns the declaration index of the named field, or -1.
func (t *Exception) FieldIndex(name string) int {
	for i, f := range t.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Func is a function type.
type Func struct {
	Params   []Type
	Ret      Type
	Throws   []Type
	Variadic bool
}

func (t *Func) Resolve() Type { return t }
func (t *Func) ContainsVar(id uint32) bool {
	for _, p := range t.Params {
		if p.ContainsVar(id) {
			return true
		}
	}
	return t.Ret.ContainsVar(id)
}
func (t *Func) String() string {
	var sb strings.Builder
	sb.WriteString("fn(")
	for i, p := range t.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.String())
	}
	sb.WriteString(")")
	if t.Ret != nil && t.Ret.Resolve() != UnitType {
		sb.WriteString(" -> ")
		sb.WriteString(t.Ret.String())
	}
	return sb.String()
}

// Generic is a reference to a named generic head with its argument list,
// before resolution against the symbol table, e.g. Pair<int, K>. An empty
// argument list matching a user type resolves to that type during
// unification.
type Generic struct {
	Name string
	Args []Type
}

func (t *Generic) Resolve() Type { return t }
func (t *Generic) ContainsVar(id uint32) bool {
	for _, a := range t.Args {
		if a.ContainsVar(id) {
			return true
		}
	}
	return false
}
func (t *Generic) String() string { return nameWithArgs(t.Name, t.Args) }

// Var is a unification variable: a shared mutable cell initialized as
// unbound. Bind sets it once; further unification dereferences through
// Resolve.
type Var struct {
	ID    uint32
	bound Type
}

var nextVarID atomic.Uint32

// NewVar returns a fresh, unbound type variable.
func NewVar() *Var {
	return &Var{ID: nextVarID.Add(1)}
}

// Bind binds the variable to t. It panics if the variable is already bound;
// unification always resolves before binding.
func (t *Var) Bind(ty Type) {
	if t.bound != nil {
		panic(fmt.Sprintf("type variable ?%d bound twice", t.ID))
	}
	t.bound = ty
}

// Bound returns the type the variable is bound to, or nil.
func (t *Var) Bound() Type { return t.bound }

func (t *Var) Resolve() Type {
	if t.bound != nil {
		return t.bound.Resolve()
	}
	return t
}

func (t *Var) ContainsVar(id uint32) bool {
	if t.bound != nil {
		return t.bound.ContainsVar(id)
	}
	return t.ID == id
}

func (t *Var) String() string {
	if t.bound != nil {
		return t.bound.String()
	}
	return fmt.Sprintf("?%d", t.ID)
}

func nameWithArgs(name string, args []Type) string {
	if len(args) == 0 {
		return name
	}
	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteByte('<')
	for i, a := range args {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(a.String())
	}
	sb.WriteByte('>')
	return sb.String()
}

// IsUnit reports whether t resolves to the unit type.
func IsUnit(t Type) bool { return t.Resolve() == UnitType }

// IsNumeric reports whether t resolves to int, uint or float.
func IsNumeric(t Type) bool {
	if p, ok := t.Resolve().(*Prim); ok {
		return p.Kind == Int || p.Kind == Uint || p.Kind == Float
	}
	return false
}

// IsInteger reports whether t resolves to int or uint.
func IsInteger(t Type) bool {
	if p, ok := t.Resolve().(*Prim); ok {
		return p.Kind == Int || p.Kind == Uint
	}
	return false
}
