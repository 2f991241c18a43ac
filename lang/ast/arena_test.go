package ast

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kahflane/naml/lang/token"
)

func TestArenaAllocZeroed(t *testing.T) {
	a := NewArena()
	e := Alloc[IdentExpr](a)
	require.NotNil(t, e)
	require.Empty(t, e.Lit)

	e.Lit = "x"
	e2 := Alloc[IdentExpr](a)
	require.Empty(t, e2.Lit, "allocations must not alias")
	require.NotSame(t, e, e2)
}

func TestArenaSlabsPerType(t *testing.T) {
	a := NewArena()
	// consecutive nodes of a type come from the same slab
	first := Alloc[LiteralExpr](a)
	second := Alloc[LiteralExpr](a)
	require.NotSame(t, first, second)

	// more allocations than one slab holds still work
	for i := 0; i < slabLen*2; i++ {
		n := Alloc[BinaryExpr](a)
		require.NotNil(t, n)
	}
}

func TestNewCopiesValue(t *testing.T) {
	a := NewArena()
	id := New(a, IdentExpr{Lit: "foo"})
	require.Equal(t, "foo", id.Lit)
}

func TestUnwrap(t *testing.T) {
	inner := &IdentExpr{Lit: "x"}
	wrapped := &GroupExpr{Inner: &GroupExpr{Inner: inner}}
	require.Same(t, Expr(inner), Unwrap(wrapped))
	require.Same(t, Expr(inner), Unwrap(inner))
}

func TestIsAssignable(t *testing.T) {
	id := &IdentExpr{Lit: "x"}
	require.True(t, IsAssignable(id))
	require.True(t, IsAssignable(&FieldExpr{Recv: id, Name: id}))
	require.True(t, IsAssignable(&IndexExpr{Recv: id, Index: id}))
	require.False(t, IsAssignable(&LiteralExpr{Kind: LitInt}))
	require.False(t, IsAssignable(&CallExpr{Fn: id}))
	require.False(t, IsAssignable(&FieldExpr{Recv: &CallExpr{Fn: id}, Name: id}))
}

func TestWalkEnterExit(t *testing.T) {
	bin := &BinaryExpr{
		Left:  &IdentExpr{Lit: "a", Sp: token.MakeSpan(1, 2)},
		Right: &IdentExpr{Lit: "b", Sp: token.MakeSpan(5, 6)},
	}

	var enters, exits int
	var v VisitorFunc
	v = func(n Node, dir VisitDirection) Visitor {
		if dir == VisitEnter {
			enters++
			return v
		}
		exits++
		return nil
	}
	Walk(v, bin)
	require.Equal(t, 3, enters)
	require.Equal(t, 3, exits)
}
