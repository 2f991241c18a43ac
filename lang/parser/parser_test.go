package parser_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kahflane/naml/lang/ast"
	"github.com/kahflane/naml/lang/parser"
	"github.com/kahflane/naml/lang/scanner"
)

func parseOne(t *testing.T, src string) *ast.SourceFile {
	t.Helper()
	res := parser.NewResult()
	sf, err := parser.ParseSource(context.Background(), res, "test.naml", []byte(src))
	require.NoError(t, err)
	return sf
}

func parseErr(t *testing.T, src string) (*ast.SourceFile, scanner.ErrorList) {
	t.Helper()
	res := parser.NewResult()
	sf, err := parser.ParseSource(context.Background(), res, "test.naml", []byte(src))
	require.Error(t, err)
	el, ok := err.(scanner.ErrorList)
	require.True(t, ok, "error is %T, not an ErrorList", err)
	return sf, el
}

func mainBody(t *testing.T, src string) *ast.BlockExpr {
	t.Helper()
	sf := parseOne(t, src)
	require.NotEmpty(t, sf.Items)
	fn, ok := sf.Items[0].(*ast.FnItem)
	require.True(t, ok)
	return fn.Body
}

func TestParseFnItem(t *testing.T) {
	sf := parseOne(t, `
pub async fn fetch(url: string, tries: int) -> string throws IOError {
	return url;
}`)
	fn := sf.Items[0].(*ast.FnItem)
	assert.True(t, fn.Pub)
	assert.True(t, fn.Async)
	assert.Equal(t, "fetch", fn.Name.Lit)
	require.Len(t, fn.Params, 2)
	assert.Equal(t, "url", fn.Params[0].Name.Lit)
	assert.NotNil(t, fn.Ret)
	require.Len(t, fn.Throws, 1)
}

func TestParseMethodReceiver(t *testing.T) {
	sf := parseOne(t, `fn (p: Point) norm() -> int { return 0; }`)
	fn := sf.Items[0].(*ast.FnItem)
	require.NotNil(t, fn.Recv)
	assert.Equal(t, "p", fn.Recv.Name.Lit)
	assert.Equal(t, "norm", fn.Name.Lit)
}

func TestParseStructEnumInterfaceException(t *testing.T) {
	sf := parseOne(t, `
struct Point implements Printable { x: int, y: int }
enum Shape { Circle(float), Rect(float, float), Empty }
interface Printable { fn print_to(out: string); }
exception ParseFailure { message: string, offset: int }
extern fn now() -> int = "naml_time_now";
var counter = 0;
use strings;
`)
	require.Len(t, sf.Items, 7)

	st := sf.Items[0].(*ast.StructItem)
	assert.Len(t, st.Fields, 2)
	require.Len(t, st.Implements, 1)
	assert.Equal(t, "Printable", st.Implements[0].Lit)

	en := sf.Items[1].(*ast.EnumItem)
	require.Len(t, en.Variants, 3)
	assert.Len(t, en.Variants[1].Payload, 2)
	assert.Empty(t, en.Variants[2].Payload)

	in := sf.Items[2].(*ast.InterfaceItem)
	require.Len(t, in.Methods, 1)

	ex := sf.Items[3].(*ast.ExceptionItem)
	assert.Len(t, ex.Fields, 2)

	xf := sf.Items[4].(*ast.ExternFnItem)
	assert.Equal(t, "naml_time_now", xf.LinkName)

	_, isVar := sf.Items[5].(*ast.GlobalVarItem)
	assert.True(t, isVar)
	use := sf.Items[6].(*ast.UseItem)
	assert.Equal(t, "strings", use.Segments[0].Lit)
}

func TestPrecedenceClimbing(t *testing.T) {
	body := mainBody(t, `fn main() { var x = 1 + 2 * 3; }`)
	vs := body.Stmts[0].(*ast.VarStmt)
	add := vs.Value.(*ast.BinaryExpr)
	require.Equal(t, "+", add.Op.String())
	mul, ok := add.Right.(*ast.BinaryExpr)
	require.True(t, ok)
	require.Equal(t, "*", mul.Op.String())
}

func TestComparisonBindsLooserThanShift(t *testing.T) {
	body := mainBody(t, `fn main() { var x = 1 << 2 < 3 & 4; }`)
	vs := body.Stmts[0].(*ast.VarStmt)
	cmp := vs.Value.(*ast.BinaryExpr)
	require.Equal(t, "<", cmp.Op.String())
	_, lsh := cmp.Left.(*ast.BinaryExpr)
	require.True(t, lsh)
}

func TestRangeBelowEquality(t *testing.T) {
	body := mainBody(t, `fn main() { for i in 0..n+1 { } }`)
	fs := body.Stmts[0].(*ast.ForStmt)
	rng, ok := fs.Range.(*ast.RangeExpr)
	require.True(t, ok)
	_, isAdd := rng.High.(*ast.BinaryExpr)
	require.True(t, isAdd)
	require.False(t, rng.Inclusive)

	body = mainBody(t, `fn main() { for i in 0..=9 { } }`)
	fs = body.Stmts[0].(*ast.ForStmt)
	require.True(t, fs.Range.(*ast.RangeExpr).Inclusive)
}

func TestGenericCallDisambiguation(t *testing.T) {
	// f<int>(x) is a call with type arguments
	body := mainBody(t, `fn main() { var a = id<int>(5); }`)
	call := body.Stmts[0].(*ast.VarStmt).Value.(*ast.CallExpr)
	require.Len(t, call.TypeArgs, 1)

	// a < b with no closing > is a comparison
	body = mainBody(t, `fn main() { var x = a < b; }`)
	cmp := body.Stmts[0].(*ast.VarStmt).Value.(*ast.BinaryExpr)
	require.Equal(t, "<", cmp.Op.String())
}

func TestNestedGenericArgsPendingGT(t *testing.T) {
	// the >> closing two nested lists splits into two closes
	body := mainBody(t, `fn main() { var m = first<map<string, int>>(x); }`)
	call := body.Stmts[0].(*ast.VarStmt).Value.(*ast.CallExpr)
	require.Len(t, call.TypeArgs, 1)
	nt := call.TypeArgs[0].(*ast.NamedType)
	require.Equal(t, "map", nt.Segments[0].Lit)
	require.Len(t, nt.Args, 2)
}

func TestPostfixChain(t *testing.T) {
	body := mainBody(t, `fn main() { var x = a.items[0].name.len(); }`)
	mc := body.Stmts[0].(*ast.VarStmt).Value.(*ast.MethodCallExpr)
	require.Equal(t, "len", mc.Name.Lit)
	fe := mc.Recv.(*ast.FieldExpr)
	require.Equal(t, "name", fe.Name.Lit)
	ix := fe.Recv.(*ast.IndexExpr)
	_, isField := ix.Recv.(*ast.FieldExpr)
	require.True(t, isField)
}

func TestIndexBangAndTry(t *testing.T) {
	body := mainBody(t, `fn main() { var x = a[0]!; var y = f()?; }`)
	ix := body.Stmts[0].(*ast.VarStmt).Value.(*ast.IndexExpr)
	require.True(t, ix.Bang.IsValid())
	_, isTry := body.Stmts[1].(*ast.VarStmt).Value.(*ast.TryExpr)
	require.True(t, isTry)
}

func TestSpawnAndAwait(t *testing.T) {
	body := mainBody(t, `fn main() { var h = spawn work(); var r = h.await; }`)
	sp := body.Stmts[0].(*ast.VarStmt).Value.(*ast.SpawnExpr)
	require.NotNil(t, sp.Call)
	require.Nil(t, sp.Block)
	_, isAwait := body.Stmts[1].(*ast.VarStmt).Value.(*ast.AwaitExpr)
	require.True(t, isAwait)

	body = mainBody(t, `fn main() { spawn { print("A"); } }`)
	sp = body.Stmts[0].(*ast.ExprStmt).Value.(*ast.SpawnExpr)
	require.NotNil(t, sp.Block)
}

func TestTryCatch(t *testing.T) {
	body := mainBody(t, `
fn main() {
	try {
		risky();
	} catch IOError(e) {
		print(e.message);
	} catch TimeoutError {
		print("timeout");
	}
}`)
	tc := body.Stmts[0].(*ast.ExprStmt).Value.(*ast.TryCatchExpr)
	require.Len(t, tc.Catches, 2)
	require.Equal(t, "IOError", tc.Catches[0].Name.Lit)
	require.NotNil(t, tc.Catches[0].Binding)
	require.Nil(t, tc.Catches[1].Binding)
}

func TestSwitchPatterns(t *testing.T) {
	body := mainBody(t, `
fn main() {
	switch v {
	case 1: { print("one"); }
	case Shape::Circle(r): { print(r); }
	case other: { print(other); }
	case _: { }
	default: { }
	}
}`)
	sw := body.Stmts[0].(*ast.SwitchStmt)
	require.Len(t, sw.Cases, 5)
	_, lit := sw.Cases[0].Pattern.(*ast.LiteralPat)
	require.True(t, lit)
	vp, isVariant := sw.Cases[1].Pattern.(*ast.VariantPat)
	require.True(t, isVariant)
	require.Len(t, vp.Binds, 1)
	_, bind := sw.Cases[2].Pattern.(*ast.BindPat)
	require.True(t, bind)
	_, wild := sw.Cases[3].Pattern.(*ast.WildcardPat)
	require.True(t, wild)
	require.True(t, sw.Cases[4].Default)
}

func TestStructLiteralVsBlock(t *testing.T) {
	// no struct literal in if condition position
	body := mainBody(t, `fn main() { if ready { go(); } }`)
	is := body.Stmts[0].(*ast.IfStmt)
	_, isIdent := is.If.Cond.(*ast.IdentExpr)
	require.True(t, isIdent)

	body = mainBody(t, `fn main() { var p = Point{x: 1, y: 2}; }`)
	sl := body.Stmts[0].(*ast.VarStmt).Value.(*ast.StructLiteralExpr)
	require.Len(t, sl.Fields, 2)
}

func TestBlockTailExpression(t *testing.T) {
	body := mainBody(t, `fn main() { var x = if c { 1 } else { 2 }; }`)
	ie := body.Stmts[0].(*ast.VarStmt).Value.(*ast.IfExpr)
	require.NotNil(t, ie.Then.Tail)
	require.NotNil(t, ie.Else.Tail)
}

func TestLambdas(t *testing.T) {
	body := mainBody(t, `fn main() { var f = fn(x) => x + 1; var g = fn(x: int) -> int { return x; }; }`)
	f := body.Stmts[0].(*ast.VarStmt).Value.(*ast.LambdaExpr)
	require.NotNil(t, f.Arrow)
	g := body.Stmts[1].(*ast.VarStmt).Value.(*ast.LambdaExpr)
	require.NotNil(t, g.Body)
	require.NotNil(t, g.Ret)
}

func TestParseErrorRecoveryAtItemBoundary(t *testing.T) {
	sf, el := parseErr(t, `
fn broken( { }
fn ok() { return; }
`)
	require.NotEmpty(t, el)
	// the parser resynchronized and still produced the second item
	var okFn *ast.FnItem
	for _, it := range sf.Items {
		if fn, ok := it.(*ast.FnItem); ok && fn.Name.Lit == "ok" {
			okFn = fn
		}
	}
	require.NotNil(t, okFn)
}

func TestParseErrorPointsAtOffendingToken(t *testing.T) {
	_, el := parseErr(t, "fn main( { }")
	require.NotEmpty(t, el)
	// the error span points at the '{' (offset 9, column 10)
	require.Equal(t, 10, el[0].Pos.Column)
}

func TestSpanCoversWholeSource(t *testing.T) {
	srcs := []string{
		"fn main() { print(1); }",
		"struct P { x: int }",
		"var g = 42;",
	}
	for i, src := range srcs {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			res := parser.NewResult()
			sf, err := parser.ParseSource(context.Background(), res, "t.naml", []byte(src))
			require.NoError(t, err)
			f := res.FileSet.File(sf.Span().Start)
			sp := sf.Span()
			require.Equal(t, 0, f.Offset(sp.Start))
			require.Equal(t, len(src), f.Offset(sp.End))
		})
	}
}

func TestEveryNodeSpanOrdered(t *testing.T) {
	sf := parseOne(t, `
fn main() {
	var xs = [1, 2, 3];
	for x in 0..10 {
		if x % 2 == 0 { print(x); } else { print(0 - x); }
	}
}`)
	var v ast.VisitorFunc
	v = func(n ast.Node, dir ast.VisitDirection) ast.Visitor {
		if dir != ast.VisitEnter {
			return nil
		}
		sp := n.Span()
		assert.LessOrEqual(t, sp.Start, sp.End, "node %T", n)
		return v
	}
	ast.Walk(v, sf)
}
