package codegen_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kahflane/naml/lang/checker"
	"github.com/kahflane/naml/lang/codegen"
	"github.com/kahflane/naml/lang/parser"
	"github.com/kahflane/naml/lang/types"
	"github.com/kahflane/naml/runtime/heap"
)

func compile(t *testing.T, src string, opts codegen.Options) *codegen.Program {
	t.Helper()
	ctx := context.Background()
	res := parser.NewResult()
	_, err := parser.ParseSource(ctx, res, "test.naml", []byte(src))
	require.NoError(t, err)
	ann, symtab, err := checker.Check(ctx, res)
	require.NoError(t, err)
	prog, err := codegen.Compile(ctx, res, ann, symtab, opts)
	require.NoError(t, err)
	return prog
}

func TestStructLayoutsStableIDs(t *testing.T) {
	src := `
struct B { s: string }
struct A { n: int }
fn main() { }
`
	p1 := compile(t, src, codegen.Options{})
	p2 := compile(t, src, codegen.Options{})

	// ids are assigned in name order, so they are reproducible
	require.Equal(t, p1.Layouts["A"].TypeID, p2.Layouts["A"].TypeID)
	require.Equal(t, p1.Layouts["B"].TypeID, p2.Layouts["B"].TypeID)
	require.NotEqual(t, p1.Layouts["A"].TypeID, p1.Layouts["B"].TypeID)
}

func TestLayoutFieldKinds(t *testing.T) {
	p := compile(t, `
struct Rec {
	name: string,
	n: int,
	tags: [string],
	nested: [Rec],
	meta: map<string, string>,
}
fn main() { }
`, codegen.Options{})

	l := p.Layouts["Rec"]
	require.NotNil(t, l)
	require.True(t, l.HasHeapFields())

	want := []struct {
		class, elem heap.ElemKind
	}{
		{heap.ElemString, heap.ElemNone},
		{heap.ElemNone, heap.ElemNone},
		{heap.ElemArray, heap.ElemString},
		{heap.ElemArray, heap.ElemStruct},
		{heap.ElemMap, heap.ElemString},
	}
	require.Len(t, l.Fields, len(want))
	for i, w := range want {
		assert.Equal(t, w.class, l.Fields[i].Class, "field %s class", l.Fields[i].Name)
		assert.Equal(t, w.elem, l.Fields[i].Elem, "field %s elem", l.Fields[i].Name)
	}
}

func TestHeapKindClassification(t *testing.T) {
	assert.Equal(t, heap.ElemNone, codegen.HeapKindOf(types.IntType))
	assert.Equal(t, heap.ElemString, codegen.HeapKindOf(types.StringType))
	assert.Equal(t, heap.ElemArray, codegen.HeapKindOf(&types.Array{Elem: types.IntType}))
	assert.Equal(t, heap.ElemMap, codegen.HeapKindOf(&types.Map{Key: types.StringType, Value: types.IntType}))
	assert.Equal(t, heap.ElemStruct, codegen.HeapKindOf(&types.Struct{Name: "S"}))

	assert.Equal(t, heap.ElemString, codegen.ElemKindOf(&types.Array{Elem: types.StringType}))
	assert.Equal(t, heap.ElemNone, codegen.ElemKindOf(&types.Array{Elem: types.IntType}))
	assert.Equal(t, heap.ElemStruct, codegen.ElemKindOf(&types.Map{Key: types.StringType, Value: &types.Struct{Name: "S"}}))
}

func TestMonoInstancesEmitted(t *testing.T) {
	p := compile(t, `
fn id<T>(x: T) -> T { return x; }
fn main() {
	print(id(1));
	print(id("s"));
}
`, codegen.Options{})

	require.NotNil(t, p.Funcs["id_int"])
	require.NotNil(t, p.Funcs["id_string"])
	require.Nil(t, p.Funcs["id"]) // the generic itself is never emitted
}

func TestMangledNames(t *testing.T) {
	require.Equal(t, "f_int", checker.MangleName("f", []types.Type{types.IntType}))
	require.Equal(t, "f_int_string", checker.MangleName("f", []types.Type{types.IntType, types.StringType}))
	require.Equal(t, "f_arr_int", checker.MangleName("f", []types.Type{&types.Array{Elem: types.IntType}}))
	require.Equal(t, "f_Point", checker.MangleName("f", []types.Type{&types.Struct{Name: "Point"}}))
}

func TestInlineCandidates(t *testing.T) {
	p := compile(t, `
fn tiny(a: int) -> int { return a + 1; }
fn big(a: int) -> int {
	var b = a + 1;
	var c = b + 1;
	var d = c + 1;
	var e = d + 1;
	var f = e + 1;
	return f;
}
fn thrower() -> int throws IOError { throw IOError{message: "x", path: "p", code: 1}; }
fn main() { print(tiny(1)); print(big(1)); }
`, codegen.Options{})

	assert.True(t, p.Funcs["tiny"].Inline)
	assert.False(t, p.Funcs["big"].Inline)     // more than 5 statements
	assert.False(t, p.Funcs["main"].Inline)    // main is never inlined
	assert.False(t, p.Funcs["thrower"].Inline) // throwing functions are not inlined
}

func TestRcPlanReassignedSet(t *testing.T) {
	p := compile(t, `
fn f() {
	var mut a = "x";
	var b = "y";
	a = b;
}
fn main() { f(); }
`, codegen.Options{})

	plan := p.Plans["f"]
	require.NotNil(t, plan)
	assert.True(t, plan.Reassigned["a"])
	assert.False(t, plan.Reassigned["b"])
	assert.False(t, plan.CanElideBorrow("a"))
	assert.True(t, plan.CanElideBorrow("b"))
}

func TestGlobalsCollected(t *testing.T) {
	p := compile(t, `
var one = 1;
var two = 2;
fn main() { print(one + two); }
`, codegen.Options{})
	require.Len(t, p.Globals, 2)
}

func TestCompileRequiresMain(t *testing.T) {
	ctx := context.Background()
	res := parser.NewResult()
	_, err := parser.ParseSource(ctx, res, "test.naml", []byte(`fn helper() { }`))
	require.NoError(t, err)
	ann, symtab, err := checker.Check(ctx, res)
	require.NoError(t, err)
	_, err = codegen.Compile(ctx, res, ann, symtab, codegen.Options{})
	require.Error(t, err)
}

func TestEmitModule(t *testing.T) {
	p := compile(t, `
struct Holder { name: string }
fn fib(n: int) -> int {
	if n < 2 { return n; }
	return fib(n - 1) + fib(n - 2);
}
fn main() {
	var h = Holder{name: "x"};
	print(fib(10));
	print(h.name);
}
`, codegen.Options{})

	mod, err := codegen.Emit(p)
	require.NoError(t, err)
	ll := mod.String()

	// the C-ABI main wrapper and the renamed program main
	assert.Contains(t, ll, "define i32 @main()")
	assert.Contains(t, ll, "@naml_main")
	// runtime externs referenced by the program
	assert.Contains(t, ll, "declare i64 @string_from_cstr")
	assert.Contains(t, ll, "declare void @print_int")
	// the shadow stack data object: 8 + 1024*24 bytes
	assert.Contains(t, ll, "@NAML_SHADOW_STACK")
	assert.Contains(t, ll, "[24584 x i8]")
	// the per-struct generated decref for the heap-bearing struct
	assert.Contains(t, ll, "@struct_decref_Holder")
}

func TestEmitReleaseElidesShadowStack(t *testing.T) {
	src := `
fn f(n: int) -> int { if n > 0 { return n; } return 0 - n; }
fn main() { print(f(3)); }
`
	debug, err := codegen.Emit(compile(t, src, codegen.Options{}))
	require.NoError(t, err)
	release, err := codegen.Emit(compile(t, src, codegen.Options{Release: true}))
	require.NoError(t, err)

	assert.Contains(t, debug.String(), "call void @stack_push")
	assert.NotContains(t, strings.ReplaceAll(release.String(), "declare void @stack_push", ""), "stack_push")
}
