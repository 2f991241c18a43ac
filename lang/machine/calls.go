package machine

import (
	"fmt"
	"math/rand"

	"github.com/kahflane/naml/lang/ast"
	"github.com/kahflane/naml/lang/checker"
	"github.com/kahflane/naml/lang/codegen"
	"github.com/kahflane/naml/lang/types"
	"github.com/kahflane/naml/runtime/exc"
	"github.com/kahflane/naml/runtime/heap"
	"github.com/kahflane/naml/runtime/sched"
	"github.com/kahflane/naml/runtime/value"
)

// temp tracks a fresh heap argument released after its call returns.
type temp struct {
	val  value.Word
	kind heap.ElemKind
}

// evalArgs evaluates call arguments, recording fresh heap temporaries the
// caller must release after the call.
func (tk *task) evalArgs(args []ast.Expr) ([]value.Word, []temp, error) {
	words := make([]value.Word, len(args))
	var temps []temp
	for i, a := range args {
		v, err := tk.eval(a)
		if err != nil {
			return nil, temps, err
		}
		words[i] = v
		if t := tk.typeOf(a); tk.heapKind(t) != heap.ElemNone && !tk.isBorrow(a) {
			temps = append(temps, temp{val: v, kind: tk.elemKind(t)})
		}
	}
	return words, temps, nil
}

func (tk *task) releaseTemps(temps []temp) {
	for _, t := range temps {
		tk.th.Registry.DecrefElem(t.val, t.kind)
	}
}

func (tk *task) evalCall(e *ast.CallExpr) (value.Word, error) {
	// enum variant construction through a qualified path
	if pe, ok := ast.Unwrap(e.Fn).(*ast.PathExpr); ok {
		if _, isEnum := tk.th.prog.Symtab.Type(pe.Segments[0].Lit).(*types.Enum); isEnum {
			args, temps, err := tk.evalArgs(e.Args)
			defer tk.releaseTemps(temps)
			if err != nil {
				return 0, err
			}
			return tk.variantValue(pe, args)
		}
	}

	if id, ok := ast.Unwrap(e.Fn).(*ast.IdentExpr); ok && tk.lookup(id.Lit) == nil {
		if v, handled, err := tk.builtinCall(id.Lit, e); handled {
			return v, err
		}
		sig := tk.th.prog.Symtab.Func(id.Lit)
		if sig == nil {
			return 0, fmt.Errorf("undefined function %s", id.Lit)
		}
		args, temps, err := tk.evalArgs(e.Args)
		if err != nil {
			tk.releaseTemps(temps)
			return 0, err
		}
		v, err := tk.invokeNamed(id.Lit, sig, args)
		tk.releaseTemps(temps)
		if err != nil {
			return 0, err
		}
		// every call site of a throws function checks the slot and
		// propagates
		if tk.slot.IsSet() {
			return 0, errThrown
		}
		return v, nil
	}

	// closure call
	cl, err := tk.eval(e.Fn)
	if err != nil {
		return 0, err
	}
	args, temps, err := tk.evalArgs(e.Args)
	defer tk.releaseTemps(temps)
	if err != nil {
		return 0, err
	}
	v := tk.th.Registry.ClosureCall(cl, args...)
	if tk.slot.IsSet() {
		return 0, errThrown
	}
	if !tk.isBorrow(e.Fn) {
		tk.th.Registry.DecrefElem(cl, heap.ElemStruct)
	}
	return v, nil
}

// invokeNamed resolves the function instance for a named call. Generic
// functions run their retained declaration; the annotation table already
// holds the concrete types of this call's expressions.
func (tk *task) invokeNamed(name string, sig *checker.FuncSig, args []value.Word) (value.Word, error) {
	inst := tk.th.prog.Funcs[name]
	if inst == nil && sig.IsGeneric() {
		inst = &codegen.FnInstance{Name: name, Decl: sig.Decl, Sig: sig.Type}
	}
	if inst == nil || (inst.Decl == nil && inst.Extern == "") {
		return 0, fmt.Errorf("undefined function %s", name)
	}
	if inst.Extern != "" {
		return 0, fmt.Errorf("extern function %s is not linked in in-process mode", name)
	}
	return tk.invoke(inst, args)
}

func (tk *task) variantValue(pe *ast.PathExpr, args []value.Word) (value.Word, error) {
	head := pe.Segments[0].Lit
	last := pe.Segments[len(pe.Segments)-1].Lit
	en, ok := tk.th.prog.Symtab.Type(head).(*types.Enum)
	if !ok {
		return 0, fmt.Errorf("unknown enum %s", head)
	}
	idx := en.VariantIndex(last)
	if idx < 0 {
		return 0, fmt.Errorf("enum %s has no variant %s", head, last)
	}
	obj := tk.th.Registry.NewStruct(0, len(args)+1)
	tk.th.Registry.StructSetField(obj, 0, value.FromInt(int64(idx)))
	for i, a := range args {
		tk.th.Registry.StructSetField(obj, i+1, a)
	}
	return obj, nil
}

// builtinCall executes the predeclared runtime functions.
func (tk *task) builtinCall(name string, e *ast.CallExpr) (value.Word, bool, error) {
	switch name {
	case "print":
		if len(e.Args) != 1 {
			return 0, true, fmt.Errorf("print takes 1 argument")
		}
		arg := e.Args[0]
		v, err := tk.eval(arg)
		if err != nil {
			return 0, true, err
		}
		tk.printValue(v, tk.typeOf(arg))
		if t := tk.typeOf(arg); tk.heapKind(t) != heap.ElemNone && !tk.isBorrow(arg) {
			tk.th.Registry.DecrefElem(v, tk.elemKind(t))
		}
		return 0, true, nil

	case "channel", "mutex", "rwlock", "atomic":
		v, err := tk.eval(e.Args[0])
		if err != nil {
			return 0, true, err
		}
		switch name {
		case "channel":
			return tk.th.Registry.NewChannel(v.Int()), true, nil
		case "mutex":
			if t := tk.typeOf(e.Args[0]); tk.heapKind(t) != heap.ElemNone && tk.isBorrow(e.Args[0]) {
				tk.th.Registry.Incref(v)
			}
			return tk.th.Registry.NewMutex(v), true, nil
		case "rwlock":
			if t := tk.typeOf(e.Args[0]); tk.heapKind(t) != heap.ElemNone && tk.isBorrow(e.Args[0]) {
				tk.th.Registry.Incref(v)
			}
			return tk.th.Registry.NewRwlock(v), true, nil
		default:
			return tk.th.Registry.NewAtomic(heap.TagAtomicInt, v), true, nil
		}

	case "wait_all":
		tk.th.sched.WaitAll()
		return 0, true, nil

	case "sleep":
		v, err := tk.eval(e.Args[0])
		if err != nil {
			return 0, true, err
		}
		sched.Sleep(v.Int())
		return 0, true, nil

	case "worker_count":
		return value.FromInt(int64(tk.th.sched.Workers())), true, nil

	case "active_tasks":
		return value.FromInt(tk.th.sched.Active()), true, nil

	case "panic":
		v, err := tk.eval(e.Args[0])
		if err != nil {
			return 0, true, err
		}
		msg := tk.th.Registry.StringGo(v)
		fmt.Fprintf(tk.th.stderr, "panic: %s\n", msg)
		exc.RenderTrace(tk.th.stderr, exc.NamlShadowStack.Capture())
		return 0, true, fmt.Errorf("panic: %s", msg)

	case "set_timeout", "set_interval":
		cl, err := tk.eval(e.Args[0])
		if err != nil {
			return 0, true, err
		}
		ms, err := tk.eval(e.Args[1])
		if err != nil {
			return 0, true, err
		}
		tk.th.Registry.Incref(cl)
		fn := func(data value.Word) { tk.th.Registry.ClosureCall(cl) }
		free := func(data value.Word) { tk.th.Registry.DecrefElem(cl, heap.ElemStruct) }
		var id int64
		if name == "set_timeout" {
			id = tk.th.timers.SetTimeout(fn, value.Null, ms.Int(), free)
		} else {
			id = tk.th.timers.SetInterval(fn, value.Null, ms.Int(), free)
		}
		return value.FromInt(id), true, nil

	case "cancel_timeout", "cancel_interval":
		v, err := tk.eval(e.Args[0])
		if err != nil {
			return 0, true, err
		}
		tk.th.timers.Cancel(v.Int())
		return 0, true, nil

	case "schedule":
		expr, err := tk.eval(e.Args[0])
		if err != nil {
			return 0, true, err
		}
		cl, err := tk.eval(e.Args[1])
		if err != nil {
			return 0, true, err
		}
		tk.th.Registry.Incref(cl)
		id, serr := tk.th.cron.Schedule(tk.th.Registry.StringGo(expr),
			func(value.Word) { tk.th.Registry.ClosureCall(cl) }, value.Null)
		if !tk.isBorrow(e.Args[0]) {
			tk.th.Registry.DecrefElem(expr, heap.ElemString)
		}
		if serr != nil {
			// a bad expression raises ScheduleError at schedule time
			tk.throwWellKnown("ScheduleError", serr.Error())
			return 0, true, errThrown
		}
		return value.FromInt(id), true, nil

	case "cancel_schedule":
		v, err := tk.eval(e.Args[0])
		if err != nil {
			return 0, true, err
		}
		tk.th.cron.Cancel(v.Int())
		return 0, true, nil

	case "next_run":
		v, err := tk.eval(e.Args[0])
		if err != nil {
			return 0, true, err
		}
		if ms, ok := tk.th.cron.NextRun(v.Int()); ok {
			return tk.makeOption(value.FromInt(ms), true), true, nil
		}
		return tk.makeOption(0, false), true, nil
	}
	return 0, false, nil
}

// throwWellKnown sets the slot with a freshly allocated well-known
// exception whose first field is the message.
func (tk *task) throwWellKnown(name, msg string) {
	l := tk.th.prog.Layouts[name]
	var tag uint32
	n := 1
	if l != nil {
		tag = l.TypeID
		n = len(l.Fields)
	}
	obj := tk.th.Registry.NewStruct(tag, n)
	tk.th.Registry.StructSetField(obj, 0, tk.th.Registry.StringFromGo(msg))
	tk.slot.Set(obj, tag)
}

func (tk *task) printValue(v value.Word, t types.Type) {
	w := tk.th.stdout
	switch t := t.Resolve().(type) {
	case *types.Prim:
		switch t.Kind {
		case types.Float:
			heap.PrintFloat(w, v.Float())
		case types.Bool:
			heap.PrintBool(w, v.Bool())
		case types.String:
			tk.th.Registry.PrintStr(w, v)
		default:
			heap.PrintInt(w, v.Int())
		}
	case *types.Array:
		if t.Elem.Resolve() == types.StringType.Resolve() {
			tk.th.Registry.PrintArrayStrings(w, v)
		} else {
			tk.th.Registry.PrintArray(w, v)
		}
	case *types.Option:
		val, some := tk.optionParts(v)
		opt := value.None()
		if some {
			opt = value.Some(val)
		}
		if t.Inner.Resolve() == types.StringType.Resolve() {
			tk.th.Registry.PrintOptionStr(w, opt)
		} else {
			heap.PrintOptionInt(w, opt)
		}
	default:
		heap.PrintInt(w, v.Int())
	}
}

// makeLambda builds a heap closure: captured variables are copied at
// creation, heap captures increfed, and invocation runs the body in a
// fresh task context sharing the thread.
func (tk *task) makeLambda(e *ast.LambdaExpr) value.Word {
	captured := tk.captureCells(e)
	th := tk.th

	fn := func(data value.Word, args ...value.Word) value.Word {
		sub := &task{th: th, env: []map[string]*cell{{}}}
		for name, c := range captured {
			sub.define(name, &cell{val: c.val, typ: c.typ, kind: heap.ElemNone})
		}
		for i, p := range e.Params {
			if i < len(args) {
				sub.define(p.Name.Lit, &cell{val: args[i], typ: types.IntType, kind: heap.ElemNone})
			}
		}
		var ret value.Word
		if e.Arrow != nil {
			v, err := sub.eval(e.Arrow)
			if err != nil {
				return 0
			}
			ret = v
		} else {
			ctl, v, err := sub.execBlock(e.Body, true)
			if err != nil {
				return 0
			}
			if ctl == ctrlReturn || ctl == ctrlNone {
				ret = v
			}
		}
		// an exception escaping a closure surfaces in the caller's slot
		if sub.slot.IsSet() {
			tk.slot.Set(sub.slot.Object(), sub.slot.Tag())
		}
		return ret
	}

	// the closure owns one reference per heap capture, released by its
	// teardown walk through the capture block
	capBlock := value.Null
	if n := tk.heapCaptureCount(captured); n > 0 {
		capBlock = tk.th.Registry.NewStruct(0, n)
		i := 0
		for _, c := range captured {
			if c.hp {
				tk.th.Registry.Incref(c.val)
				tk.th.Registry.StructSetField(capBlock, i, c.val)
				i++
			}
		}
	}
	return tk.th.Registry.NewClosure(fn, capBlock)
}

func (tk *task) heapCaptureCount(captured map[string]*cell) int {
	n := 0
	for _, c := range captured {
		if c.hp {
			n++
		}
	}
	return n
}

// captureCells snapshots the enclosing bindings a lambda body references.
func (tk *task) captureCells(e *ast.LambdaExpr) map[string]*cell {
	bound := map[string]bool{}
	for _, p := range e.Params {
		bound[p.Name.Lit] = true
	}
	captured := map[string]*cell{}

	var v ast.VisitorFunc
	v = func(n ast.Node, dir ast.VisitDirection) ast.Visitor {
		if dir != ast.VisitEnter {
			return nil
		}
		switch n := n.(type) {
		case *ast.VarStmt:
			bound[n.Name.Lit] = true
		case *ast.IdentExpr:
			if !bound[n.Lit] && captured[n.Lit] == nil {
				if c := tk.lookup(n.Lit); c != nil {
					captured[n.Lit] = &cell{val: c.val, typ: c.typ, hp: c.hp, kind: c.kind}
				}
			}
		}
		return v
	}
	if e.Body != nil {
		ast.Walk(v, e.Body)
	} else if e.Arrow != nil {
		ast.Walk(v, e.Arrow)
	}
	return captured
}

// evalSpawn dispatches a task into the scheduler and returns its
// completion handle (a channel the task sends its result on).
func (tk *task) evalSpawn(e *ast.SpawnExpr) (value.Word, error) {
	handle := tk.th.Registry.NewChannel(1)
	th := tk.th

	var body ast.Expr = e.Call
	var block *ast.BlockExpr = e.Block

	// snapshot the captures the task body reads
	lam := &ast.LambdaExpr{}
	if block != nil {
		lam.Body = block
	} else {
		lam.Arrow = body
	}
	captured := tk.captureCells(lam)
	for _, c := range captured {
		if c.hp {
			th.Registry.Incref(c.val)
		}
	}
	th.Registry.Incref(handle) // the task holds the handle until it sends

	th.sched.Spawn(func(value.Word) {
		sub := &task{th: th, env: []map[string]*cell{{}}}
		for name, c := range captured {
			sub.define(name, &cell{val: c.val, typ: c.typ, hp: c.hp, kind: c.kind})
		}
		var result value.Word
		if block != nil {
			ctl, v, err := sub.execBlock(block, true)
			if err == nil && (ctl == ctrlReturn || ctl == ctrlNone) {
				result = v
			}
		} else {
			v, err := sub.eval(body)
			if err == nil {
				result = v
			}
		}
		if sub.slot.IsSet() {
			th.reportUnhandled(&sub.slot)
		}
		// captures release when the task's root scope pops
		sub.popScope(nil)
		th.Registry.ChannelSend(handle, result)
		th.Registry.DecrefElem(handle, heap.ElemNone)
	}, value.Null)

	return handle, nil
}

// sampleIndex is the pseudo-random picker backing array.sample.
func sampleIndex(n int64) int64 { return rand.Int63n(n) }
