package machine_test

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kahflane/naml/lang/checker"
	"github.com/kahflane/naml/lang/codegen"
	"github.com/kahflane/naml/lang/machine"
	"github.com/kahflane/naml/lang/parser"
	"github.com/kahflane/naml/runtime/heap"
)

// lockedBuffer serializes writes from concurrently executing tasks.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func compile(t *testing.T, src string) *codegen.Program {
	t.Helper()
	ctx := context.Background()
	res := parser.NewResult()
	_, err := parser.ParseSource(ctx, res, "test.naml", []byte(src))
	require.NoError(t, err)
	ann, symtab, err := checker.Check(ctx, res)
	require.NoError(t, err)
	prog, err := codegen.Compile(ctx, res, ann, symtab, codegen.Options{})
	require.NoError(t, err)
	return prog
}

// run compiles and executes src, returning stdout and the heap registry
// for leak inspection.
func run(t *testing.T, src string) (string, *heap.Registry) {
	t.Helper()
	prog := compile(t, src)

	var out, errOut lockedBuffer
	reg := heap.NewRegistry()
	th := &machine.Thread{
		Stdout:   &out,
		Stderr:   &errOut,
		Registry: reg,
	}
	code, err := th.RunProgram(context.Background(), prog)
	require.NoError(t, err, "stderr: %s", errOut.String())
	require.Zero(t, code, "stderr: %s", errOut.String())
	return out.String(), reg
}

func TestHelloWorld(t *testing.T) {
	out, _ := run(t, `fn main() { print("Hello, World!"); }`)
	assert.Contains(t, out, "Hello, World!")
}

func TestFib(t *testing.T) {
	out, _ := run(t, `
fn fib(n: int) -> int {
	if n < 2 { return n; }
	return fib(n - 1) + fib(n - 2);
}
fn main() { print(fib(10)); }
`)
	assert.Contains(t, out, "55")
}

func TestArrayPushLen(t *testing.T) {
	out, reg := run(t, `
fn main() {
	var a = [1, 2, 3];
	a.push(4);
	print(a.len());
}
`)
	assert.Contains(t, out, "4")
	assert.Zero(t, reg.Live(), "leaked heap objects")
}

func TestMapSetGet(t *testing.T) {
	out, _ := run(t, `
fn main() {
	var m: map<string, int> = {};
	m["k"] = 7;
	print(m["k"]);
}
`)
	assert.Contains(t, out, "7")
}

func TestSpawnBoth(t *testing.T) {
	out, _ := run(t, `
fn main() {
	spawn { print("A"); }
	spawn { print("B"); }
	wait_all();
}
`)
	assert.Contains(t, out, "A")
	assert.Contains(t, out, "B")
}

func TestRefcountedTreeDropsCleanly(t *testing.T) {
	// a binary tree of 127 nodes built from refcounted structs; dropping
	// the root must leave zero live heap objects
	out, reg := run(t, `
struct Node { value: int, kids: [Node] }

fn build(depth: int) -> Node {
	if depth == 0 {
		return Node{value: depth, kids: []};
	}
	return Node{value: depth, kids: [build(depth - 1), build(depth - 1)]};
}

fn count(n: Node) -> int {
	var mut total = 1;
	for i in 0..n.kids.len() {
		total = total + count(n.kids[i]);
	}
	return total;
}

fn main() {
	var root = build(6);
	print(count(root));
}
`)
	assert.Contains(t, out, "127")
	assert.Zero(t, reg.Live(), "leak detector reports live heap objects")
}

func TestArithmeticAndControlFlow(t *testing.T) {
	out, _ := run(t, `
fn main() {
	var mut sum = 0;
	for i in 1..=10 { sum += i; }
	print(sum);

	var mut n = 0;
	while n < 3 { n = n + 1; }
	print(n);

	var big = if sum > 50 { 1 } else { 0 };
	print(big);
}
`)
	assert.Contains(t, out, "55")
	assert.Contains(t, out, "3")
	assert.Contains(t, out, "1")
}

func TestStructsAndMethods(t *testing.T) {
	out, reg := run(t, `
struct Point { x: int, y: int }
fn (p: Point) manhattan() -> int { return p.x + p.y; }
fn main() {
	var p = Point{x: 3, y: 4};
	print(p.manhattan());
}
`)
	assert.Contains(t, out, "7")
	assert.Zero(t, reg.Live())
}

func TestEnumsAndSwitch(t *testing.T) {
	out, _ := run(t, `
enum Shape { Circle(int), Rect(int, int), Empty }
fn area(s: Shape) -> int {
	switch s {
	case Shape::Circle(r): { return 3 * r * r; }
	case Shape::Rect(w, h): { return w * h; }
	case Empty: { return 0; }
	default: { return 0 - 1; }
	}
}
fn main() {
	print(area(Shape::Circle(2)));
	print(area(Shape::Rect(3, 4)));
	print(area(Shape::Empty));
}
`)
	assert.Contains(t, out, "12")
	assert.Contains(t, out, "0\n")
}

func TestExceptionsCatch(t *testing.T) {
	out, _ := run(t, `
fn risky(fail: bool) -> int throws IOError {
	if fail {
		throw IOError{message: "boom", path: "f.txt", code: 5};
	}
	return 1;
}
fn main() {
	try {
		print(risky(true));
	} catch IOError(e) {
		print(e.message);
		print(e.code);
	}
	try {
		print(risky(false));
	} catch IOError(e) {
		print(e.message);
	}
}
`)
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "5")
	assert.Contains(t, out, "1")
}

func TestGenericsRun(t *testing.T) {
	out, _ := run(t, `
fn id<T>(x: T) -> T { return x; }
fn main() {
	print(id(41));
	print(id("generic"));
}
`)
	assert.Contains(t, out, "41")
	assert.Contains(t, out, "generic")
}

func TestLambdasAndHigherOrder(t *testing.T) {
	out, _ := run(t, `
fn main() {
	var a = [1, 2, 3, 4];
	var doubled = a.map(fn(x) => x * 2);
	print(doubled[3]);
	var total = a.fold(0, fn(acc, x) => acc + x);
	print(total);
	var evens = a.filter(fn(x) => x % 2 == 0);
	print(evens.len());
}
`)
	assert.Contains(t, out, "8")
	assert.Contains(t, out, "10")
	assert.Contains(t, out, "2")
}

func TestSpawnAwaitResult(t *testing.T) {
	out, _ := run(t, `
fn work() -> int { return 21; }
fn main() {
	var h = spawn work();
	var r = h.await;
	print(r * 2);
}
`)
	assert.Contains(t, out, "42")
}

func TestStringsRuntime(t *testing.T) {
	out, _ := run(t, `
fn main() {
	var a = "foo";
	var b = "bar";
	var c = a + b;
	print(c);
	print(c.len());
	print(a == a);
	print(a == b);
}
`)
	assert.Contains(t, out, "foobar")
	assert.Contains(t, out, "6")
	assert.Contains(t, out, "true")
	assert.Contains(t, out, "false")
}

func TestOutOfBoundsIndexYieldsZero(t *testing.T) {
	out, _ := run(t, `
fn main() {
	var a = [5];
	print(a[10]);
}
`)
	assert.Contains(t, out, "0")
}

func TestGlobalVars(t *testing.T) {
	out, _ := run(t, `
var base = 40;
fn main() { print(base + 2); }
`)
	assert.Contains(t, out, "42")
}

func TestUnhandledExceptionExitsNonZero(t *testing.T) {
	prog := compile(t, `
fn risky() throws IOError {
	throw IOError{message: "unhandled boom", path: "p", code: 2};
}
fn main() { risky(); }
`)
	var out, errOut lockedBuffer
	th := &machine.Thread{Stdout: &out, Stderr: &errOut, Registry: heap.NewRegistry()}
	code, err := th.RunProgram(context.Background(), prog)
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "unhandled boom")
}

func TestChannelsAndAtomics(t *testing.T) {
	out, _ := run(t, `
fn main() {
	var c = channel<int>(1);
	var a = atomic<int>(0);
	spawn {
		a.add(1);
		c.send(5);
	}
	print(c.recv());
	wait_all();
	print(a.load());
}
`)
	assert.Contains(t, out, "5")
	assert.Contains(t, out, "1")
}

func TestMutexCell(t *testing.T) {
	out, _ := run(t, `
fn main() {
	var m = mutex<int>(10);
	m.store(32);
	print(m.lock() + 10);
}
`)
	assert.Contains(t, out, "42")
}

func TestOptionsEndToEnd(t *testing.T) {
	out, _ := run(t, `
fn main() {
	var a = [1, 2, 3];
	var got = a.get(1);
	print(got.unwrap_or(0));
	var missing = a.get(9);
	print(missing.is_none());
	print(missing.unwrap_or(99));
	var s = some(7);
	print(s.is_some());
}
`)
	assert.Contains(t, out, "2")
	assert.Contains(t, out, "true")
	assert.Contains(t, out, "99")
}

func TestStringMethodsEndToEnd(t *testing.T) {
	out, _ := run(t, `
fn main() {
	var s = "hello world";
	print(s.contains("world"));
	print(s.starts_with("hello"));
	var parts = s.split(" ");
	print(parts.len());
	var n = "42".to_int();
	print(n.unwrap_or(0));
}
`)
	assert.Contains(t, out, "true")
	assert.Contains(t, out, "2")
	assert.Contains(t, out, "42")
}
