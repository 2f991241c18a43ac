package heap

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kahflane/naml/runtime/value"
)

func TestIncrefDecrefBalance(t *testing.T) {
	r := NewRegistry()
	cases := map[string]value.Word{
		"string":  r.StringFromGo("abc"),
		"array":   r.NewArray(4),
		"map":     r.NewMap(),
		"struct":  r.NewStruct(1, 2),
		"mutex":   r.NewMutex(7),
		"channel": r.NewChannel(1),
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			before := r.Refcount(h)
			r.Incref(h)
			r.Decref(h)
			require.Equal(t, before, r.Refcount(h))
		})
	}
}

func TestDecrefToZeroFrees(t *testing.T) {
	r := NewRegistry()
	h := r.StringFromGo("gone")
	const k = 5
	for i := 0; i < k; i++ {
		r.Incref(h)
	}
	for i := 0; i < k+1; i++ {
		r.Decref(h)
	}
	require.EqualValues(t, 0, r.Refcount(h))
	require.Equal(t, 0, r.Live())
}

func TestNullHandleNoops(t *testing.T) {
	r := NewRegistry()
	r.Incref(value.Null)
	r.Decref(value.Null)
	require.Equal(t, 0, r.Live())
}

func TestArrayPushPop(t *testing.T) {
	r := NewRegistry()
	a := r.NewArray(0)
	r.ArrayPush(a, 42)
	n := r.ArrayLen(a)
	got := r.ArrayPop(a)
	require.True(t, got.IsSome())
	require.EqualValues(t, 42, got.Value.Int())
	require.Equal(t, n-1, r.ArrayLen(a))
}

func TestArrayPushGrowsDoubling(t *testing.T) {
	r := NewRegistry()
	a := r.NewArray(0)
	require.EqualValues(t, 4, r.ArrayCap(a)) // minimum capacity
	for i := int64(0); i < 5; i++ {
		r.ArrayPush(a, value.FromInt(i))
	}
	require.EqualValues(t, 8, r.ArrayCap(a))
	require.EqualValues(t, 5, r.ArrayLen(a))
}

func TestArrayGetOutOfRangeYieldsZero(t *testing.T) {
	r := NewRegistry()
	a := r.NewArray(0)
	r.ArrayPush(a, 9)
	require.EqualValues(t, 0, r.ArrayGet(a, 10))
	require.EqualValues(t, 0, r.ArrayGet(a, -1))
	_, ok := r.ArrayGetChecked(a, 10)
	require.False(t, ok)
}

func TestArrayPopDoesNotShrink(t *testing.T) {
	r := NewRegistry()
	a := r.NewArray(0)
	for i := int64(0); i < 8; i++ {
		r.ArrayPush(a, value.FromInt(i))
	}
	capBefore := r.ArrayCap(a)
	for i := 0; i < 8; i++ {
		r.ArrayPop(a)
	}
	require.Equal(t, capBefore, r.ArrayCap(a))
	require.False(t, r.ArrayPop(a).IsSome())
}

func TestArrayHigherOrder(t *testing.T) {
	r := NewRegistry()
	a := r.ArrayFrom([]value.Word{1, 2, 3, 4})

	double := func(_ value.Word, args ...value.Word) value.Word {
		return value.FromInt(args[0].Int() * 2)
	}
	even := func(_ value.Word, args ...value.Word) value.Word {
		return value.FromBool(args[0].Int()%2 == 0)
	}
	sum := func(_ value.Word, args ...value.Word) value.Word {
		return value.FromInt(args[0].Int() + args[1].Int())
	}

	mapped := r.ArrayMap(a, double, value.Null)
	require.EqualValues(t, 8, r.ArrayGet(mapped, 3).Int())

	filtered := r.ArrayFilter(a, even, value.Null)
	require.EqualValues(t, 2, r.ArrayLen(filtered))

	require.True(t, r.ArrayAny(a, even, value.Null))
	require.False(t, r.ArrayAll(a, even, value.Null))
	require.EqualValues(t, 2, r.ArrayCount(a, even, value.Null))

	total := r.ArrayFold(a, 0, sum, value.Null)
	require.EqualValues(t, 10, total.Int())

	scanned := r.ArrayScan(a, 0, sum, value.Null)
	require.EqualValues(t, 10, r.ArrayGet(scanned, 3).Int())

	found := r.ArrayFind(a, even, value.Null)
	require.True(t, found.IsSome())
	require.EqualValues(t, 2, found.Value.Int())

	idx := r.ArrayFindIndex(a, even, value.Null)
	require.True(t, idx.IsSome())
	require.EqualValues(t, 1, idx.Value.Int())
}

func TestArraySortAndSortBy(t *testing.T) {
	r := NewRegistry()
	a := r.ArrayFrom([]value.Word{value.FromInt(3), value.FromInt(1), value.FromInt(2)})
	r.ArraySort(a)
	require.EqualValues(t, 1, r.ArrayGet(a, 0).Int())
	require.EqualValues(t, 3, r.ArrayGet(a, 2).Int())

	desc := func(_ value.Word, args ...value.Word) value.Word {
		return value.FromInt(args[1].Int() - args[0].Int())
	}
	r.ArraySortBy(a, desc, value.Null)
	require.EqualValues(t, 3, r.ArrayGet(a, 0).Int())
}

func TestStringOps(t *testing.T) {
	r := NewRegistry()
	a := r.StringFromGo("foo")
	b := r.StringFromGo("bar")

	c := r.StringConcat(a, b)
	require.Equal(t, r.StringLen(a)+r.StringLen(b), r.StringLen(c))
	require.Equal(t, "foobar", r.StringGo(c))

	require.True(t, r.StringEq(a, a))
	require.False(t, r.StringEq(a, b))

	trimmed := r.StringTrim(r.StringFromGo("  x \n"))
	require.Equal(t, "x", r.StringGo(trimmed))

	n := r.StringToInt(r.StringFromGo("42"))
	require.True(t, n.IsSome())
	require.EqualValues(t, 42, n.Value.Int())
	require.False(t, r.StringToInt(r.StringFromGo("nope")).IsSome())

	ch := r.StringCharAt(r.StringFromGo("héllo"), 1)
	require.True(t, ch.IsSome())
	require.Equal(t, "é", r.StringGo(ch.Value))
	require.EqualValues(t, 5, r.StringCharLen(r.StringFromGo("héllo")))
}

func TestMapSetGetContains(t *testing.T) {
	r := NewRegistry()
	m := r.NewMap()
	k := r.StringFromGo("k")

	r.MapSet(m, k, 7)
	got := r.MapGet(m, k)
	require.True(t, got.IsSome())
	require.EqualValues(t, 7, got.Value.Int())
	require.True(t, r.MapContains(m, k))
	require.EqualValues(t, 1, r.MapLen(m))

	// lookups go by content, not handle identity
	k2 := r.StringFromGo("k")
	require.True(t, r.MapContains(m, k2))
}

func TestMapInsertIncrefsKeyOnceUpdatesDoNot(t *testing.T) {
	r := NewRegistry()
	m := r.NewMap()
	k := r.StringFromGo("key")
	require.EqualValues(t, 1, r.Refcount(k))

	r.MapSet(m, k, 1)
	require.EqualValues(t, 2, r.Refcount(k))

	r.MapSet(m, k, 2)
	require.EqualValues(t, 2, r.Refcount(k)) // update does not incref

	got := r.MapGet(m, k)
	require.EqualValues(t, 2, got.Value.Int())
}

func TestMapRehashMovesEntriesWithoutTouchingRefcounts(t *testing.T) {
	r := NewRegistry()
	m := r.NewMap()

	keys := make([]value.Word, 0, 32)
	for i := 0; i < 32; i++ {
		k := r.StringFromGo(string(rune('a'+i%26)) + string(rune('0'+i/26)))
		keys = append(keys, k)
		r.MapSet(m, k, value.FromInt(int64(i)))
	}
	require.Greater(t, r.MapCap(m), int64(mapMinCap)) // grew at least once

	// each key is held exactly twice: the test and the map
	for i, k := range keys {
		require.EqualValues(t, 2, r.Refcount(k))
		got := r.MapGet(m, k)
		require.True(t, got.IsSome())
		require.EqualValues(t, i, got.Value.Int())
	}
}

func TestMapRemoveRepairsProbeChain(t *testing.T) {
	r := NewRegistry()
	m := r.NewMap()
	var keys []value.Word
	for i := 0; i < 16; i++ {
		k := r.StringFromGo(string(rune('a' + i)))
		keys = append(keys, k)
		r.MapSet(m, k, value.FromInt(int64(i)))
	}
	removed := r.MapRemove(m, keys[3])
	require.True(t, removed.IsSome())
	require.EqualValues(t, 3, removed.Value.Int())
	require.False(t, r.MapContains(m, keys[3]))
	for i, k := range keys {
		if i == 3 {
			continue
		}
		require.True(t, r.MapContains(m, k), "key %d lost after remove", i)
	}
}

func TestStructDecrefWalkReleasesFields(t *testing.T) {
	r := NewRegistry()
	// struct with (string, primitive, array-of-strings) fields
	r.RegisterStructType(7, []FieldKind{
		{Heap: true, Elem: ElemNone},   // string field
		{Heap: false},                  // int field
		{Heap: true, Elem: ElemString}, // array of strings
	})

	s := r.StringFromGo("owned")
	arr := r.NewArray(1)
	r.ArrayPush(arr, r.StringFromGo("elem"))

	obj := r.NewStruct(7, 3)
	r.StructSetField(obj, 0, s)
	r.StructSetField(obj, 1, 42)
	r.StructSetField(obj, 2, arr)

	r.DecrefElem(obj, ElemNone)
	require.Equal(t, 0, r.Live())
}

func TestClosurePair(t *testing.T) {
	r := NewRegistry()
	data := r.NewStruct(0, 1)
	r.StructSetField(data, 0, 10)

	cl := r.NewClosure(func(d value.Word, args ...value.Word) value.Word {
		base := r.StructGetField(d, 0)
		return value.FromInt(base.Int() + args[0].Int())
	}, data)

	require.EqualValues(t, 15, r.ClosureCall(cl, 5).Int())
	r.DecrefElem(cl, ElemNone)
	require.Equal(t, 0, r.Live())
}

func TestPrintHelpers(t *testing.T) {
	r := NewRegistry()
	var buf bytes.Buffer

	PrintInt(&buf, 7)
	PrintBool(&buf, true)
	PrintFloat(&buf, 1.5)
	r.PrintStr(&buf, r.StringFromGo("hi"))
	PrintOptionInt(&buf, value.Some(3))
	PrintOptionInt(&buf, value.None())

	require.Equal(t, "7\ntrue\n1.5\nhi\nsome(3)\nnone\n", buf.String())
}
