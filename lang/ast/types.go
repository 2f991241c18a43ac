package ast

import (
	"github.com/kahflane/naml/lang/token"
)

type (
	// NamedType is a possibly-generic named type annotation, e.g. int,
	// map<string, int> or Pair<K, V>. Builtin container types (array, map,
	// option, channel, mutex, rwlock, atomic) use the same form; the
	// checker resolves the head name.
	NamedType struct {
		Segments []*IdentExpr // usually 1, more for qualified names
		Args     []TypeExpr
		End      token.Pos
	}

	// ArrayType is the bracketed array annotation [T] or fixed [T; n].
	ArrayType struct {
		Lbrack token.Pos
		Elem   TypeExpr
		Size   int64 // -1 when not fixed
		Rbrack token.Pos
	}

	// FnType is a function type annotation,
	// e.g. fn(int, int) -> int.
	FnType struct {
		FnPos  token.Pos
		Params []TypeExpr
		Ret    TypeExpr // nil means unit
		End    token.Pos
	}

	// UnitType is the explicit unit annotation ().
	UnitType struct {
		Lparen token.Pos
		Rparen token.Pos
	}
)

func (*NamedType) typeExpr() {}
func (*ArrayType) typeExpr() {}
func (*FnType) typeExpr()    {}
func (*UnitType) typeExpr()  {}

func (t *NamedType) Span() token.Span {
	sp := t.Segments[0].Span()
	if t.End.IsValid() {
		return sp.Merge(token.MakeSpan(t.End, t.End))
	}
	return sp.Merge(t.Segments[len(t.Segments)-1].Span())
}
func (t *ArrayType) Span() token.Span { return token.MakeSpan(t.Lbrack, t.Rbrack+1) }
func (t *FnType) Span() token.Span {
	return token.MakeSpan(t.FnPos, t.End)
}
func (t *UnitType) Span() token.Span { return token.MakeSpan(t.Lparen, t.Rparen+1) }

func (t *NamedType) Walk(v Visitor) {
	for _, s := range t.Segments {
		Walk(v, s)
	}
	for _, a := range t.Args {
		Walk(v, a)
	}
}
func (t *ArrayType) Walk(v Visitor) { Walk(v, t.Elem) }
func (t *FnType) Walk(v Visitor) {
	for _, p := range t.Params {
		Walk(v, p)
	}
	if t.Ret != nil {
		Walk(v, t.Ret)
	}
}
func (t *UnitType) Walk(v Visitor) {}

type (
	// LiteralPat matches a literal value in a switch case.
	LiteralPat struct {
		Lit *LiteralExpr
	}

	// BindPat binds the switched value to a name.
	BindPat struct {
		Name *IdentExpr
	}

	// VariantPat matches an enum variant, optionally qualified and with a
	// binding list, e.g. Shape::Circle(r).
	VariantPat struct {
		Segments []*IdentExpr // Module::Variant or Variant
		Binds    []*IdentExpr
		Rparen   token.Pos // 0 when there is no binding list
	}

	// WildcardPat matches anything: _.
	WildcardPat struct {
		Pos token.Pos
	}
)

func (*LiteralPat) pattern()  {}
func (*BindPat) pattern()     {}
func (*VariantPat) pattern()  {}
func (*WildcardPat) pattern() {}

func (p *LiteralPat) Span() token.Span { return p.Lit.Span() }
func (p *BindPat) Span() token.Span    { return p.Name.Span() }
func (p *VariantPat) Span() token.Span {
	sp := p.Segments[0].Span().Merge(p.Segments[len(p.Segments)-1].Span())
	if p.Rparen.IsValid() {
		sp = sp.Merge(token.MakeSpan(p.Rparen, p.Rparen+1))
	}
	return sp
}
func (p *WildcardPat) Span() token.Span { return token.MakeSpan(p.Pos, p.Pos+1) }

func (p *LiteralPat) Walk(v Visitor) { Walk(v, p.Lit) }
func (p *BindPat) Walk(v Visitor)    { Walk(v, p.Name) }
func (p *VariantPat) Walk(v Visitor) {
	for _, s := range p.Segments {
		Walk(v, s)
	}
	for _, b := range p.Binds {
		Walk(v, b)
	}
}
func (p *WildcardPat) Walk(v Visitor) {}
