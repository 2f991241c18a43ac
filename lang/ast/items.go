package ast

import (
	"github.com/kahflane/naml/lang/token"
)

type (
	// TypeParam is one generic type parameter with optional interface
	// bounds, e.g. T: Comparable.
	TypeParam struct {
		Name   *IdentExpr
		Bounds []*IdentExpr
	}

	// Param is one function parameter.
	Param struct {
		Name     *IdentExpr
		Type     TypeExpr
		Variadic bool
	}

	// Receiver is a method receiver clause, e.g. fn (p: Point) len() ...
	Receiver struct {
		Name *IdentExpr
		Type TypeExpr
	}

	// FnItem represents a function or method definition.
	FnItem struct {
		FnPos      token.Pos
		Pub        bool
		Async      bool
		Recv       *Receiver // nil for plain functions
		Name       *IdentExpr
		TypeParams []*TypeParam
		Params     []*Param
		Ret        TypeExpr // nil means unit
		Throws     []TypeExpr
		Body       *BlockExpr
	}

	// StructField is one field of a struct or exception definition.
	StructField struct {
		Pub  bool
		Name *IdentExpr
		Type TypeExpr
	}

	// StructItem represents a struct definition.
	StructItem struct {
		StructPos  token.Pos
		Pub        bool
		Name       *IdentExpr
		TypeParams []*TypeParam
		Implements []*IdentExpr
		Fields     []*StructField
		Rbrace     token.Pos
	}

	// EnumVariant is one variant of an enum, with optional payload types.
	EnumVariant struct {
		Name    *IdentExpr
		Payload []TypeExpr
	}

	// EnumItem represents an enum definition.
	EnumItem struct {
		EnumPos    token.Pos
		Pub        bool
		Name       *IdentExpr
		TypeParams []*TypeParam
		Variants   []*EnumVariant
		Rbrace     token.Pos
	}

	// InterfaceMethod is one method signature of an interface.
	InterfaceMethod struct {
		Name   *IdentExpr
		Params []*Param
		Ret    TypeExpr // nil means unit
		Throws []TypeExpr
		Semi   token.Pos
	}

	// InterfaceItem represents an interface definition.
	InterfaceItem struct {
		InterfacePos token.Pos
		Pub          bool
		Name         *IdentExpr
		TypeParams   []*TypeParam
		Methods      []*InterfaceMethod
		Rbrace       token.Pos
	}

	// ExceptionItem represents an exception definition. Exceptions have the
	// layout of structs at run time.
	ExceptionItem struct {
		ExceptionPos token.Pos
		Pub          bool
		Name         *IdentExpr
		Fields       []*StructField
		Rbrace       token.Pos
	}

	// ExternFnItem represents an extern function declaration with a linker
	// name, e.g. extern fn now() -> int = "naml_time_now";
	ExternFnItem struct {
		ExternPos token.Pos
		Pub       bool
		Name      *IdentExpr
		Params    []*Param
		Ret       TypeExpr // nil means unit
		LinkName  string
		Semi      token.Pos
	}

	// GlobalVarItem represents a top-level var binding (a global).
	GlobalVarItem struct {
		Decl *VarStmt
	}

	// UseItem represents a use import, e.g. use strings::trim;
	UseItem struct {
		UsePos   token.Pos
		Segments []*IdentExpr
		Semi     token.Pos
	}

	// BadItem represents an item that failed to parse.
	BadItem struct {
		Sp token.Span
	}
)

func (*FnItem) item()        {}
func (*StructItem) item()    {}
func (*EnumItem) item()      {}
func (*InterfaceItem) item() {}
func (*ExceptionItem) item() {}
func (*ExternFnItem) item()  {}
func (*GlobalVarItem) item() {}
func (*UseItem) item()       {}
func (*BadItem) item()       {}

func (i *FnItem) Span() token.Span {
	return token.MakeSpan(i.FnPos, i.FnPos).Merge(i.Body.Span())
}
func (i *StructItem) Span() token.Span {
	return token.MakeSpan(i.StructPos, i.Rbrace+1)
}
func (i *EnumItem) Span() token.Span { return token.MakeSpan(i.EnumPos, i.Rbrace+1) }
func (i *InterfaceItem) Span() token.Span {
	return token.MakeSpan(i.InterfacePos, i.Rbrace+1)
}
func (i *ExceptionItem) Span() token.Span {
	return token.MakeSpan(i.ExceptionPos, i.Rbrace+1)
}
func (i *ExternFnItem) Span() token.Span {
	return token.MakeSpan(i.ExternPos, i.Semi+1)
}
func (i *GlobalVarItem) Span() token.Span { return i.Decl.Span() }
func (i *UseItem) Span() token.Span       { return token.MakeSpan(i.UsePos, i.Semi+1) }
func (i *BadItem) Span() token.Span       { return i.Sp }

func (i *FnItem) Walk(v Visitor) {
	if i.Recv != nil {
		Walk(v, i.Recv.Name)
		Walk(v, i.Recv.Type)
	}
	Walk(v, i.Name)
	for _, tp := range i.TypeParams {
		Walk(v, tp.Name)
		for _, b := range tp.Bounds {
			Walk(v, b)
		}
	}
	for _, p := range i.Params {
		Walk(v, p.Name)
		Walk(v, p.Type)
	}
	if i.Ret != nil {
		Walk(v, i.Ret)
	}
	for _, t := range i.Throws {
		Walk(v, t)
	}
	if i.Body != nil {
		Walk(v, i.Body)
	}
}
func (i *StructItem) Walk(v Visitor) {
	Walk(v, i.Name)
	for _, f := range i.Fields {
		Walk(v, f.Name)
		Walk(v, f.Type)
	}
}
func (i *EnumItem) Walk(v Visitor) {
	Walk(v, i.Name)
	for _, vr := range i.Variants {
		Walk(v, vr.Name)
		for _, t := range vr.Payload {
			Walk(v, t)
		}
	}
}
func (i *InterfaceItem) Walk(v Visitor) {
	Walk(v, i.Name)
	for _, m := range i.Methods {
		Walk(v, m.Name)
		for _, p := range m.Params {
			Walk(v, p.Name)
			Walk(v, p.Type)
		}
		if m.Ret != nil {
			Walk(v, m.Ret)
		}
	}
}
func (i *ExceptionItem) Walk(v Visitor) {
	Walk(v, i.Name)
	for _, f := range i.Fields {
		Walk(v, f.Name)
		Walk(v, f.Type)
	}
}
func (i *ExternFnItem) Walk(v Visitor) {
	Walk(v, i.Name)
	for _, p := range i.Params {
		Walk(v, p.Name)
		Walk(v, p.Type)
	}
	if i.Ret != nil {
		Walk(v, i.Ret)
	}
}
func (i *GlobalVarItem) Walk(v Visitor) { Walk(v, i.Decl) }
func (i *UseItem) Walk(v Visitor) {
	for _, s := range i.Segments {
		Walk(v, s)
	}
}
func (i *BadItem) Walk(v Visitor) {}
