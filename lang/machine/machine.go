// Package machine implements in-process execution of a compiled program:
// the checked AST runs directly against the runtime packages (heap,
// scheduler, exceptions), honoring the same refcount, option-slot and
// sentinel-exception semantics the AOT output gets from emitted code.
package machine

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/kahflane/naml/lang/ast"
	"github.com/kahflane/naml/lang/codegen"
	"github.com/kahflane/naml/lang/types"
	"github.com/kahflane/naml/runtime/exc"
	"github.com/kahflane/naml/runtime/heap"
	"github.com/kahflane/naml/runtime/sched"
	"github.com/kahflane/naml/runtime/value"
)

// Thread executes one program. Fields configure the execution before
// RunProgram is called.
type Thread struct {
	// Name is an optional name that describes the thread, mostly for
	// debugging.
	Name string

	// Stdout, Stderr and Stdin are the standard I/O abstractions for the
	// thread. If nil, os.Stdout, os.Stderr and os.Stdin are used,
	// respectively.
	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader

	// MaxCallStackDepth limits the number of nested function calls. If the
	// limit is reached, execution fails. A value <= 0 means the configured
	// default.
	MaxCallStackDepth int

	// Registry is the heap registry to allocate into. If nil, a fresh
	// registry is used (which keeps the leak detector per-run).
	Registry *heap.Registry

	prog    *codegen.Program
	sched   *sched.Scheduler
	timers  *sched.Timers
	cron    *sched.Cron
	globals map[string]*cell
	depth   int

	stdout io.Writer
	stderr io.Writer
}

// cell is one variable binding holding a live word. hp marks bindings that
// own a heap reference; kind is the element-kind argument of their decref
// (meaningful for containers, ignored by the rest).
type cell struct {
	val     value.Word
	typ     types.Type
	hp      bool
	kind    heap.ElemKind
	mutable bool
}

// task carries the per-task execution state: the exception slot and the
// frame stack of the running task.
type task struct {
	th   *Thread
	slot exc.Slot
	env  []map[string]*cell
}

// RunProgram executes the program's main function, returning the process
// exit code. Globals are initialized first, then main runs; at exit the
// scheduler drains and the leak count is available from the registry.
func (th *Thread) RunProgram(ctx context.Context, prog *codegen.Program) (int, error) {
	th.prog = prog
	th.stdout = th.Stdout
	if th.stdout == nil {
		th.stdout = os.Stdout
	}
	th.stderr = th.Stderr
	if th.stderr == nil {
		th.stderr = os.Stderr
	}
	if th.Registry == nil {
		th.Registry = heap.NewRegistry()
	}
	if th.MaxCallStackDepth <= 0 {
		th.MaxCallStackDepth = sched.ConfigFromEnv().MaxStackDepth
	}
	prog.RegisterRuntimeTypes(th.Registry)

	cfg := sched.ConfigFromEnv()
	th.sched = sched.New(cfg.Workers)
	th.timers = sched.NewTimers(th.sched, nil)
	th.cron = sched.NewCron(th.sched, nil)
	defer func() {
		th.timers.Shutdown()
		th.cron.Shutdown()
		th.sched.Shutdown()
	}()

	tk := &task{th: th, env: []map[string]*cell{{}}}

	// main preamble: initialize every global var from its initializer
	th.globals = make(map[string]*cell, len(prog.Globals))
	for _, gv := range prog.Globals {
		v, err := tk.eval(gv.Decl.Value)
		if err != nil {
			return 1, err
		}
		t := tk.typeOf(gv.Decl.Value)
		th.globals[gv.Decl.Name.Lit] = &cell{
			val: v, typ: t, hp: tk.heapKind(t) != heap.ElemNone,
			kind: tk.elemKind(t), mutable: gv.Decl.Mut,
		}
	}

	mainInst := prog.Funcs["main"]
	if _, err := tk.invoke(mainInst, nil); err != nil {
		return 1, err
	}

	if tk.slot.IsSet() {
		// unhandled exception at task top level: print the message, walk
		// the captured shadow stack, exit non-zero
		th.reportUnhandled(&tk.slot)
		return 1, nil
	}

	// release globals so the leak detector sees only true leaks
	for _, c := range th.globals {
		if c.hp {
			th.Registry.DecrefElem(c.val, c.kind)
		}
	}
	th.sched.WaitAll()
	return 0, nil
}

func (th *Thread) reportUnhandled(slot *exc.Slot) {
	obj := slot.Object()
	msg := "exception"
	if obj != value.Null {
		// field 0 of the well-known exceptions is the message
		if th.Registry.Refcount(obj) > 0 && th.Registry.StructFieldCount(obj) > 0 {
			h := th.Registry.StructGetField(obj, 0)
			if th.Registry.Refcount(h) > 0 {
				msg = th.Registry.StringGo(h)
			}
		}
	}
	fmt.Fprintf(th.stderr, "unhandled exception: %s\n", msg)
	exc.RenderTrace(th.stderr, exc.NamlShadowStack.Capture())
}

// typeOf returns the checked type of an expression.
func (tk *task) typeOf(e ast.Expr) types.Type {
	if t, ok := tk.th.prog.Ann.TypeOf(e.Span()); ok {
		return t
	}
	return types.IntType
}

// heapKind classifies a value of a type by its own heap object class;
// options and task handles are boxed, so they count as struct references.
// ElemNone means not a heap reference at all.
func (tk *task) heapKind(t types.Type) heap.ElemKind {
	if t == nil {
		return heap.ElemNone
	}
	if _, ok := t.Resolve().(*types.Option); ok {
		return heap.ElemStruct
	}
	if _, ok := t.Resolve().(*types.Task); ok {
		return heap.ElemStruct
	}
	if !codegen.IsHeapType(t) {
		return heap.ElemNone
	}
	return codegen.HeapKindOf(t)
}

// elemKind is the element-kind argument used when releasing a value of the
// type: the heap class of the children a container of this type owns.
func (tk *task) elemKind(t types.Type) heap.ElemKind {
	if t == nil {
		return heap.ElemNone
	}
	switch rt := t.Resolve().(type) {
	case *types.Array:
		return tk.heapKind(rt.Elem)
	case *types.FixedArray:
		return tk.heapKind(rt.Elem)
	case *types.Map:
		return tk.heapKind(rt.Value)
	case *types.Mutex:
		return tk.heapKind(rt.Inner)
	case *types.Rwlock:
		return tk.heapKind(rt.Inner)
	case *types.Channel:
		return tk.heapKind(rt.Elem)
	case *types.Task:
		return heap.ElemNone
	}
	return heap.ElemNone
}

// pushScope enters a block scope.
func (tk *task) pushScope() { tk.env = append(tk.env, map[string]*cell{}) }

// popScope leaves a block scope, releasing the heap references its locals
// hold.
func (tk *task) popScope(skip *cell) {
	sc := tk.env[len(tk.env)-1]
	for _, c := range sc {
		if c.hp && c != skip {
			tk.th.Registry.DecrefElem(c.val, c.kind)
		}
	}
	tk.env = tk.env[:len(tk.env)-1]
}

func (tk *task) define(name string, c *cell) {
	tk.env[len(tk.env)-1][name] = c
}

func (tk *task) lookup(name string) *cell {
	for i := len(tk.env) - 1; i >= 0; i-- {
		if c, ok := tk.env[i][name]; ok {
			return c
		}
	}
	return tk.th.globals[name]
}

// invoke runs a function instance with the provided argument words,
// implementing the sentinel protocol: a set slot after return means the
// callee threw.
func (tk *task) invoke(inst *codegen.FnInstance, args []value.Word) (value.Word, error) {
	if inst == nil || inst.Decl == nil {
		return 0, fmt.Errorf("call of undefined function")
	}
	if tk.th.depth++; tk.th.depth > tk.th.MaxCallStackDepth {
		tk.th.depth--
		return 0, fmt.Errorf("call stack depth exceeded (%d)", tk.th.MaxCallStackDepth)
	}
	defer func() { tk.th.depth-- }()

	exc.NamlShadowStack.Push(inst.Name, "", 0)
	defer exc.NamlShadowStack.Pop()

	savedEnv := tk.env
	tk.env = []map[string]*cell{{}}
	defer func() { tk.env = savedEnv }()

	decl := inst.Decl
	off := 0
	if inst.Method {
		t := tk.resolveTypeExpr(decl.Recv.Type)
		tk.define(decl.Recv.Name.Lit, &cell{val: args[0], typ: t, kind: heap.ElemNone})
		off = 1
	}
	for i, prm := range decl.Params {
		if i+off >= len(args) {
			break
		}
		t := tk.resolveTypeExpr(prm.Type)
		// parameters are borrows owned by the caller
		tk.define(prm.Name.Lit, &cell{val: args[i+off], typ: t, kind: heap.ElemNone, mutable: true})
	}

	ctl, ret, err := tk.execBlock(decl.Body, true)
	if err != nil {
		return 0, err
	}
	if ctl == ctrlThrow {
		return exc.Sentinel, nil
	}
	return ret, nil
}

// resolveTypeExpr maps a simple annotation to a checker type for kind
// decisions; it mirrors the emitter's annotation handling.
func (tk *task) resolveTypeExpr(t ast.TypeExpr) types.Type {
	switch t := t.(type) {
	case *ast.NamedType:
		name := t.Segments[len(t.Segments)-1].Lit
		args := make([]types.Type, len(t.Args))
		for i, a := range t.Args {
			args[i] = tk.resolveTypeExpr(a)
		}
		switch name {
		case "int":
			return types.IntType
		case "uint":
			return types.UintType
		case "float":
			return types.FloatType
		case "bool":
			return types.BoolType
		case "string":
			return types.StringType
		case "bytes":
			return types.BytesType
		case "array":
			if len(args) == 1 {
				return &types.Array{Elem: args[0]}
			}
		case "option":
			if len(args) == 1 {
				return &types.Option{Inner: args[0]}
			}
		case "map":
			if len(args) == 2 {
				return &types.Map{Key: args[0], Value: args[1]}
			}
			return &types.Map{Key: types.StringType, Value: types.IntType}
		case "channel":
			if len(args) == 1 {
				return &types.Channel{Elem: args[0]}
			}
		case "mutex":
			if len(args) == 1 {
				return &types.Mutex{Inner: args[0]}
			}
		case "rwlock":
			if len(args) == 1 {
				return &types.Rwlock{Inner: args[0]}
			}
		case "atomic":
			if len(args) == 1 {
				return &types.Atomic{Inner: args[0]}
			}
		case "task":
			if len(args) == 1 {
				return &types.Task{Inner: args[0]}
			}
		}
		if def := tk.th.prog.Symtab.Type(name); def != nil {
			return def
		}
		return types.IntType
	case *ast.ArrayType:
		return &types.Array{Elem: tk.resolveTypeExpr(t.Elem)}
	case *ast.FnType:
		return &types.Func{Ret: types.UnitType}
	case *ast.UnitType:
		return types.UnitType
	}
	return types.IntType
}
