package checker_test

import (
	"os"
	"path/filepath"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kahflane/naml/lang/checker"
	"github.com/kahflane/naml/lang/parser"
)

func check(t *testing.T, src string) (*checker.Annotations, *checker.SymbolTable, error) {
	t.Helper()
	res := parser.NewResult()
	_, err := parser.ParseSource(context.Background(), res, "test.naml", []byte(src))
	require.NoError(t, err, "parse errors abort type-checking")
	return checker.Check(context.Background(), res)
}

func checkOK(t *testing.T, src string) (*checker.Annotations, *checker.SymbolTable) {
	t.Helper()
	ann, symtab, err := check(t, src)
	require.NoError(t, err)
	return ann, symtab
}

// firstError requires that checking fails and returns the first error.
func firstError(t *testing.T, src string) *checker.Error {
	t.Helper()
	_, _, err := check(t, src)
	require.Error(t, err)
	errs, ok := err.(checker.Errors)
	require.True(t, ok, "error is %T", err)
	require.NotEmpty(t, errs)
	return errs[0]
}

func TestSimpleProgram(t *testing.T) {
	checkOK(t, `
fn add(a: int, b: int) -> int { return a + b; }
fn main() { print(add(1, 2)); }
`)
}

func TestTypeMismatch(t *testing.T) {
	e := firstError(t, `fn main() { var x: int = true; }`)
	assert.Equal(t, checker.TypeMismatch, e.Kind)
	assert.Equal(t, "expected int, found bool", e.Msg)
}

func TestUndefinedVariable(t *testing.T) {
	e := firstError(t, `fn main() { print(missing); }`)
	assert.Equal(t, checker.UndefinedVariable, e.Kind)
}

func TestImmutableAssignment(t *testing.T) {
	e := firstError(t, `fn main() { var x = 1; x = 2; }`)
	assert.Equal(t, checker.ImmutableAssignment, e.Kind)

	checkOK(t, `fn main() { var mut x = 1; x = 2; }`)
}

func TestBreakOutsideLoop(t *testing.T) {
	e := firstError(t, `fn main() { break; }`)
	assert.Equal(t, checker.BreakOutsideLoop, e.Kind)

	e = firstError(t, `fn main() { continue; }`)
	assert.Equal(t, checker.ContinueOutsideLoop, e.Kind)

	checkOK(t, `fn main() { while true { break; } }`)
}

func TestMissingReturn(t *testing.T) {
	e := firstError(t, `fn f(c: bool) -> int { if c { return 1; } }`)
	assert.Equal(t, checker.MissingReturn, e.Kind)

	checkOK(t, `fn f(c: bool) -> int { if c { return 1; } else { return 2; } }
fn main() { print(f(true)); }`)
	checkOK(t, `fn f() -> int { loop { return 1; } }
fn main() { print(f()); }`)
}

func TestUnreachableCode(t *testing.T) {
	e := firstError(t, `fn main() { return; print(1); }`)
	assert.Equal(t, checker.UnreachableCode, e.Kind)
}

func TestWrongArgCount(t *testing.T) {
	e := firstError(t, `
fn two(a: int, b: int) -> int { return a; }
fn main() { print(two(1)); }
`)
	assert.Equal(t, checker.WrongArgCount, e.Kind)
}

func TestDuplicateDefinition(t *testing.T) {
	e := firstError(t, `
fn f() { }
fn f() { }
fn main() { }
`)
	assert.Equal(t, checker.DuplicateDefinition, e.Kind)
}

func TestStructFieldChecks(t *testing.T) {
	checkOK(t, `
struct Point { x: int, y: int }
fn main() { var p = Point{x: 1, y: 2}; print(p.x); }
`)

	e := firstError(t, `
struct Point { x: int, y: int }
fn main() { var p = Point{x: 1, y: 2}; print(p.z); }
`)
	assert.Equal(t, checker.UndefinedField, e.Kind)

	e = firstError(t, `
struct Point { x: int, y: int }
fn main() { var p = Point{x: 1}; }
`)
	assert.Equal(t, checker.UndefinedField, e.Kind)
}

func TestMethodResolution(t *testing.T) {
	checkOK(t, `
struct Point { x: int, y: int }
fn (p: Point) sum() -> int { return p.x + p.y; }
fn main() { var p = Point{x: 1, y: 2}; print(p.sum()); }
`)

	e := firstError(t, `
struct Point { x: int }
fn main() { var p = Point{x: 1}; p.missing(); }
`)
	assert.Equal(t, checker.UndefinedMethod, e.Kind)
}

func TestEnumVariantsAndSwitch(t *testing.T) {
	checkOK(t, `
enum Shape { Circle(int), Empty }
fn main() {
	var s = Shape::Circle(3);
	switch s {
	case Shape::Circle(r): { print(r); }
	case Empty: { print(0); }
	default: { }
	}
}
`)

	e := firstError(t, `
enum Shape { Empty }
fn main() { var s = Shape::Missing; }
`)
	assert.Equal(t, checker.UndefinedField, e.Kind)
}

func TestThrowsDiscipline(t *testing.T) {
	checkOK(t, `
fn risky() -> int throws IOError {
	throw IOError{message: "boom", path: "f", code: 1};
}
fn caller() -> int throws IOError { return risky()?; }
fn main() {
	try { print(caller()); } catch IOError(e) { print(e.message); }
}
`)

	// '?' requires the enclosing function to declare throws
	e := firstError(t, `
fn risky() -> int throws IOError { throw IOError{message: "m", path: "p", code: 1}; }
fn naked() -> int { return risky()?; }
fn main() { print(naked()); }
`)
	assert.Equal(t, checker.InvalidOperation, e.Kind)
}

func TestGenericsInferenceAndMono(t *testing.T) {
	ann, _ := checkOK(t, `
fn id<T>(x: T) -> T { return x; }
fn main() {
	print(id(41));
	var s = id("hi");
	print(s);
	print(id(1));
}
`)
	// one record per distinct concrete-argument tuple
	require.Len(t, ann.Monos, 2)
	names := map[string]bool{}
	for _, m := range ann.Monos {
		names[m.Mangled] = true
	}
	assert.True(t, names["id_int"])
	assert.True(t, names["id_string"])
}

func TestExplicitTypeArguments(t *testing.T) {
	ann, _ := checkOK(t, `
fn id<T>(x: T) -> T { return x; }
fn main() { print(id<int>(5)); }
`)
	require.Len(t, ann.Monos, 1)
	assert.Equal(t, "id_int", ann.Monos[0].Mangled)
}

func TestBoundNotSatisfied(t *testing.T) {
	e := firstError(t, `
interface Shape { fn area() -> int; }
fn measure<T: Shape>(x: T) -> int { return x.area(); }
fn main() { print(measure(5)); }
`)
	assert.Equal(t, checker.BoundNotSatisfied, e.Kind)
}

func TestBoundSatisfiedByImplements(t *testing.T) {
	ann, _ := checkOK(t, `
interface Shape { fn area() -> int; }
struct Square implements Shape { s: int }
fn (sq: Square) area() -> int { return sq.s * sq.s; }
fn measure<T: Shape>(x: T) -> int { return x.area(); }
fn main() { print(measure(Square{s: 3})); }
`)
	require.Len(t, ann.Monos, 1)
	assert.Equal(t, "measure_Square", ann.Monos[0].Mangled)
}

func TestMissingInterfaceMethod(t *testing.T) {
	e := firstError(t, `
interface Shape { fn area() -> int; }
struct Square implements Shape { s: int }
fn main() { }
`)
	assert.Equal(t, checker.MissingInterfaceMethod, e.Kind)
}

func TestSpanTypeTable(t *testing.T) {
	ann, _ := checkOK(t, `
fn main() {
	var x = 1 + 2;
	var s = "hi";
	var b = x < 3;
}
`)
	// every checked expression has an entry: the body holds seven
	// (1, 2, 1 + 2, "hi", x, 3, x < 3)
	require.Greater(t, ann.Len(), 5)
}

func TestWellKnownExceptionsPredeclared(t *testing.T) {
	_, symtab := checkOK(t, `fn main() { }`)
	for _, name := range []string{
		"IOError", "TimeoutError", "ScheduleError", "NetworkError",
		"TlsError", "DnsError", "ConnectionRefused", "ProcessError",
		"EnvError", "OSError",
	} {
		require.NotNil(t, symtab.Type(name), name)
	}
}

func TestFlowSwitchExhaustive(t *testing.T) {
	checkOK(t, `
fn f(v: int) -> int {
	switch v {
	case 1: { return 1; }
	default: { return 0; }
	}
}
fn main() { print(f(1)); }
`)
}

func TestContainerMethods(t *testing.T) {
	checkOK(t, `
fn main() {
	var a = [1, 2, 3];
	a.push(4);
	print(a.len());
	var doubled = a.map(fn(x) => x * 2);
	print(doubled.len());
	var evens = a.filter(fn(x) => x % 2 == 0);
	var total = a.fold(0, fn(acc, x) => acc + x);
	print(total);

	var m: map<string, int> = {};
	m["k"] = 7;
	print(m["k"]);
	var got = m.get("k");
	print(got.unwrap_or(0));

	var s = "  hello  ";
	print(s.trim());
	print(s.len());
}
`)
}

func TestModuleLoading(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mathx.naml"), []byte(`
pub fn triple(x: int) -> int { return x * 3; }
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.naml"), []byte(`
use mathx;
fn main() { print(triple(2)); }
`), 0o600))

	res, err := parser.ParseFiles(context.Background(), filepath.Join(dir, "main.naml"))
	require.NoError(t, err)
	_, _, err = checker.Check(context.Background(), res)
	require.NoError(t, err)
}

func TestModuleCycleBroken(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.naml"), []byte(`
use b;
pub fn fa() -> int { return 1; }
fn main() { print(fa() + fb()); }
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.naml"), []byte(`
use a;
pub fn fb() -> int { return 2; }
`), 0o600))

	res, err := parser.ParseFiles(context.Background(), filepath.Join(dir, "a.naml"))
	require.NoError(t, err)
	// the currently-loading set breaks the a -> b -> a cycle
	_, _, err = checker.Check(context.Background(), res)
	require.NoError(t, err)
}

func TestUnknownModule(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.naml"), []byte(`
use nosuchmodule;
fn main() { }
`), 0o600))

	res, err := parser.ParseFiles(context.Background(), filepath.Join(dir, "main.naml"))
	require.NoError(t, err)
	_, _, err = checker.Check(context.Background(), res)
	require.Error(t, err)
	errs := err.(checker.Errors)
	assert.Equal(t, checker.ModuleFileError, errs[0].Kind)
}
