package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnifyPrimitives(t *testing.T) {
	require.NoError(t, Unify(IntType, IntType))
	require.NoError(t, Unify(StringType, StringType))
	require.Error(t, Unify(IntType, BoolType))
	require.Error(t, Unify(FloatType, StringType))
}

func TestUnifyBindsVariable(t *testing.T) {
	v := NewVar()
	require.NoError(t, Unify(v, IntType))
	require.Equal(t, IntType, v.Resolve())

	// further unification dereferences through the binding
	require.NoError(t, Unify(v, IntType))
	require.Error(t, Unify(v, BoolType))
}

func TestUnifySymmetric(t *testing.T) {
	// unify(A, B) succeeds iff unify(B, A) succeeds, modulo which variable
	// gets bound
	pairs := []struct {
		a, b Type
		ok   bool
	}{
		{IntType, IntType, true},
		{IntType, BoolType, false},
		{&Array{Elem: IntType}, &Array{Elem: IntType}, true},
		{&Array{Elem: IntType}, &Array{Elem: BoolType}, false},
		{&Map{Key: StringType, Value: IntType}, &Map{Key: StringType, Value: IntType}, true},
	}
	for _, p := range pairs {
		require.Equal(t, p.ok, Unify(p.a, p.b) == nil)
		require.Equal(t, p.ok, Unify(p.b, p.a) == nil)
	}

	av, bv := NewVar(), NewVar()
	require.NoError(t, Unify(av, bv))
	require.NoError(t, Unify(NewVar(), IntType))
	require.NoError(t, Unify(IntType, NewVar()))
}

func TestOccursCheck(t *testing.T) {
	v := NewVar()
	err := Unify(v, &Array{Elem: v})
	require.Error(t, err)
	require.Contains(t, err.Error(), "infinite type")
	require.Nil(t, v.Bound())
}

func TestErrorAndNeverUnifyWithAnything(t *testing.T) {
	for _, other := range []Type{IntType, StringType, &Array{Elem: BoolType}, NewVar()} {
		require.NoError(t, Unify(ErrorType, other))
		require.NoError(t, Unify(other, ErrorType))
		require.NoError(t, Unify(NeverType, other))
		require.NoError(t, Unify(other, NeverType))
	}
}

func TestUnifyContainers(t *testing.T) {
	v := NewVar()
	require.NoError(t, Unify(&Array{Elem: v}, &Array{Elem: StringType}))
	require.Equal(t, StringType, v.Resolve())

	require.NoError(t, Unify(&Option{Inner: IntType}, &Option{Inner: IntType}))
	require.Error(t, Unify(&Option{Inner: IntType}, &Array{Elem: IntType}))

	require.Error(t, Unify(
		&FixedArray{Elem: IntType, Size: 3},
		&FixedArray{Elem: IntType, Size: 4}))
}

func TestUnifyFunctions(t *testing.T) {
	f1 := &Func{Params: []Type{IntType}, Ret: BoolType}
	f2 := &Func{Params: []Type{IntType}, Ret: BoolType}
	require.NoError(t, Unify(f1, f2))

	require.Error(t, Unify(f1, &Func{Params: []Type{IntType, IntType}, Ret: BoolType}))

	// throws compatibility is by presence
	throwing := &Func{Params: []Type{IntType}, Ret: BoolType,
		Throws: []Type{&Exception{Name: "IOError"}}}
	require.Error(t, Unify(f1, throwing))
}

func TestGenericHeadUnifiesWithResolvedUserType(t *testing.T) {
	st := &Struct{Name: "Point"}
	g := &Generic{Name: "Point"}
	require.NoError(t, Unify(g, st))
	require.NoError(t, Unify(st, g))

	other := &Generic{Name: "Other"}
	require.Error(t, Unify(other, st))
}

func TestVarBindTwicePanics(t *testing.T) {
	v := NewVar()
	v.Bind(IntType)
	require.Panics(t, func() { v.Bind(BoolType) })
}
