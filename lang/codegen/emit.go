package codegen

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	lltypes "github.com/llir/llvm/ir/types"
	llvalue "github.com/llir/llvm/ir/value"

	"github.com/kahflane/naml/lang/types"
	"github.com/kahflane/naml/runtime/heap"
)

// emitter lowers a Program into an LLVM module. Every naml value is an i64
// word except floats, which stay double until they cross into a 64-bit
// slot (bitcast preserves the pattern). Runtime entry points are declared
// as externs with the interop ABI and resolved by the linker against the
// runtime library.
type emitter struct {
	p   *Program
	m   *ir.Module
	rt  map[string]*ir.Func // runtime externs by symbol name
	fns map[string]*ir.Func // program functions by (mangled) name

	globals map[string]*ir.Global
	strings map[string]*ir.Global
	nstr    int
}

// Emit lowers the program to an LLVM module ready to be written as a .ll
// file and assembled into the object linked against the runtime library.
func Emit(p *Program) (*ir.Module, error) {
	e := &emitter{
		p:       p,
		m:       ir.NewModule(),
		rt:      make(map[string]*ir.Func),
		fns:     make(map[string]*ir.Func),
		globals: make(map[string]*ir.Global),
		strings: make(map[string]*ir.Global),
	}

	e.declareRuntime()
	e.emitShadowStackGlobal()
	e.emitGlobals()
	e.declareFunctions()
	e.emitStructDecrefs()

	for _, inst := range e.p.Funcs {
		if inst.Extern != "" || inst.Decl == nil {
			continue
		}
		if err := e.emitFn(inst); err != nil {
			return nil, err
		}
	}
	return e.m, nil
}

var (
	i1     = lltypes.I1
	i8     = lltypes.I8
	i32    = lltypes.I32
	i64    = lltypes.I64
	f64    = lltypes.Double
	i8ptr  = lltypes.NewPointer(lltypes.I8)
	i64ptr = lltypes.NewPointer(lltypes.I64)
	void   = lltypes.Void
)

// optSlot is the 16-byte option stack slot: {tag: u32, pad: u32,
// value: i64}.
var optSlot = lltypes.NewStruct(i32, i32, i64)

// declareRuntime declares the C-ABI runtime entry points used by emitted
// code. Option-returning operations take a pointer to a 16-byte stack slot
// the callee fills.
func (e *emitter) declareRuntime() {
	decl := func(name string, ret lltypes.Type, params ...lltypes.Type) {
		ps := make([]*ir.Param, len(params))
		for i, pt := range params {
			ps[i] = ir.NewParam(fmt.Sprintf("a%d", i), pt)
		}
		e.rt[name] = e.m.NewFunc(name, ret, ps...)
	}

	// strings
	decl("string_new", i64, i8ptr, i64)
	decl("string_from_cstr", i64, i8ptr)
	decl("string_len", i64, i64)
	decl("string_concat", i64, i64, i64)
	decl("string_eq", i64, i64, i64)
	decl("string_incref", void, i64)
	decl("string_decref", void, i64)
	decl("string_char_len", i64, i64)
	decl("string_is_empty", i64, i64)
	decl("string_trim", i64, i64)
	decl("string_to_int", void, i64, lltypes.NewPointer(optSlot))
	decl("string_to_float", void, i64, lltypes.NewPointer(optSlot))
	decl("string_char_at", void, i64, i64, lltypes.NewPointer(optSlot))

	// arrays
	decl("array_new", i64, i64)
	decl("array_len", i64, i64)
	decl("array_get", i64, i64, i64)
	decl("array_set", void, i64, i64, i64)
	decl("array_push", void, i64, i64)
	decl("array_pop", void, i64, lltypes.NewPointer(optSlot))
	decl("array_contains", i64, i64, i64)
	decl("array_clone", i64, i64)
	decl("array_incref", void, i64)
	for _, k := range []heap.ElemKind{heap.ElemNone, heap.ElemString, heap.ElemArray, heap.ElemMap, heap.ElemStruct} {
		decl(heap.ArrayDecrefSymbol(k), void, i64)
		decl(heap.MapDecrefSymbol(k), void, i64)
	}
	decl("array_print", void, i64)
	decl("array_print_strings", void, i64)
	decl("array_map", i64, i64, i64, i64)
	decl("array_filter", i64, i64, i64, i64)
	decl("array_any", i64, i64, i64, i64)
	decl("array_all", i64, i64, i64, i64)
	decl("array_count", i64, i64, i64, i64)
	decl("array_fold", i64, i64, i64, i64, i64)
	decl("array_scan", i64, i64, i64, i64, i64)
	decl("array_find", void, i64, i64, i64, lltypes.NewPointer(optSlot))
	decl("array_find_index", void, i64, i64, i64, lltypes.NewPointer(optSlot))
	decl("array_sort", void, i64)
	decl("array_sort_by", void, i64, i64, i64)
	decl("array_sample", void, i64, lltypes.NewPointer(optSlot))

	// maps
	decl("map_new", i64)
	decl("map_set", void, i64, i64, i64)
	decl("map_get", void, i64, i64, lltypes.NewPointer(optSlot))
	decl("map_get_or_zero", i64, i64, i64)
	decl("map_contains", i64, i64, i64)
	decl("map_len", i64, i64)
	decl("map_remove", void, i64, i64, lltypes.NewPointer(optSlot))
	decl("map_incref", void, i64)

	// structs and closures
	decl("struct_new", i64, i32, i32)
	decl("struct_get_field", i64, i64, i32)
	decl("struct_set_field", void, i64, i32, i64)
	decl("struct_incref", void, i64)
	decl("struct_decref", void, i64)
	decl("struct_free", void, i64)
	decl("closure_new", i64, i8ptr, i64)
	closureCall := e.m.NewFunc("closure_call", i64, ir.NewParam("cl", i64))
	closureCall.Sig.Variadic = true
	e.rt["closure_call"] = closureCall

	// scheduler and timers
	decl("spawn", void, i8ptr)
	decl("spawn_closure", void, i8ptr, i64, i64)
	decl("wait_all", void)
	decl("active_tasks", i64)
	decl("worker_count", i64)
	decl("sleep", void, i64)
	decl("alloc_closure_data", i64, i64)
	decl("timers_set_timeout", i64, i8ptr, i64, i64)
	decl("timers_cancel_timeout", void, i64)
	decl("timers_set_interval", i64, i8ptr, i64, i64)
	decl("timers_cancel_interval", void, i64)
	decl("timers_schedule", i64, i64, i8ptr, i64)
	decl("timers_cancel_schedule", void, i64)
	decl("timers_next_run", void, i64, lltypes.NewPointer(optSlot))

	// task handles
	decl("task_spawn", i64, i8ptr, i64)
	decl("task_await", i64, i64)

	// exceptions and the shadow stack
	decl("exception_set", void, i64)
	decl("exception_set_typed", void, i64, i32)
	decl("exception_check", i64)
	decl("exception_tag", i64)
	decl("exception_clear", i64)
	decl("stack_capture", i64)
	decl("stack_push", void, i8ptr, i8ptr, i32)
	decl("stack_pop", void)

	// prints and panics
	decl("print_int", void, i64)
	decl("print_float", void, f64)
	decl("print_bool", void, i64)
	decl("print_str", void, i64)
	decl("print_newline", void)
	decl("option_print_int", void, lltypes.NewPointer(optSlot))
	decl("option_print_str", void, lltypes.NewPointer(optSlot))
	decl("naml_panic", void, i64)
}

// emitShadowStackGlobal emits the NAML_SHADOW_STACK data object:
// 8 bytes of depth plus 1024 frames of 24 bytes.
func (e *emitter) emitShadowStackGlobal() {
	size := 8 + 1024*24
	arr := lltypes.NewArray(uint64(size), i8)
	g := e.m.NewGlobalDef("NAML_SHADOW_STACK", constant.NewZeroInitializer(arr))
	e.globals["NAML_SHADOW_STACK"] = g
}

// emitGlobals reserves an 8-byte zero-initialized data slot per top-level
// var; main's preamble stores their initializer values.
func (e *emitter) emitGlobals() {
	for _, gv := range e.p.Globals {
		name := "naml_global_" + gv.Decl.Name.Lit
		g := e.m.NewGlobalDef(name, constant.NewInt(i64, 0))
		e.globals[gv.Decl.Name.Lit] = g
	}
}

// declareFunctions declares every program function so calls can reference
// forward definitions. The function named main becomes naml_main; the
// C-ABI main wrapper calls it and returns i32.
func (e *emitter) declareFunctions() {
	for name, inst := range e.p.Funcs {
		if inst.Extern != "" {
			sig := inst.Sig
			ps := make([]*ir.Param, len(sig.Params))
			for i := range sig.Params {
				ps[i] = ir.NewParam(fmt.Sprintf("a%d", i), llType(sig.Params[i]))
			}
			e.fns[name] = e.m.NewFunc(inst.Extern, llRetType(sig.Ret), ps...)
			continue
		}
		if inst.Decl == nil {
			continue
		}
		emitName := name
		if name == "main" {
			emitName = "naml_main"
		}
		var ps []*ir.Param
		if inst.Method {
			ps = append(ps, ir.NewParam("self", i64))
		}
		for _, prm := range inst.Decl.Params {
			ps = append(ps, ir.NewParam(prm.Name.Lit, i64))
		}
		e.fns[name] = e.m.NewFunc(emitName, llRetType(e.instRet(inst)), ps...)
	}

	// C-ABI main: initialize globals, run naml main, return i32 exit code
	cmain := e.m.NewFunc("main", i32)
	b := cmain.NewBlock("entry")
	for _, gv := range e.p.Globals {
		fx := newFnEmitter(e, cmain, nil, nil)
		fx.b = b
		v := fx.expr(gv.Decl.Value)
		b = fx.b
		b.NewStore(fx.toWord(v, gv.Decl.Value), e.globals[gv.Decl.Name.Lit])
	}
	b.NewCall(e.fns["main"])
	b.NewRet(constant.NewInt(i32, 0))
}

// emitStructDecrefs generates struct_decref_<Name> for every heap-bearing
// struct: decref each heap field with the variant of its recorded kind,
// then free the object.
func (e *emitter) emitStructDecrefs() {
	for _, l := range e.p.Layouts {
		if !l.HasHeapFields() {
			continue
		}
		f := e.m.NewFunc(heap.StructDecrefSymbol(l.Name), void, ir.NewParam("obj", i64))
		b := f.NewBlock("entry")
		obj := f.Params[0]
		for i, fl := range l.Fields {
			if fl.Class == heap.ElemNone {
				continue
			}
			fv := b.NewCall(e.rt["struct_get_field"], obj, constant.NewInt(i32, int64(i)))
			b.NewCall(e.rt[fieldDecrefSymbol(fl)], fv)
		}
		b.NewCall(e.rt["struct_free"], obj)
		b.NewRet(nil)
		e.fns[heap.StructDecrefSymbol(l.Name)] = f
	}
}

// fieldDecrefSymbol picks the decref entry point for one struct field
// from its heap class and, for container fields, its element kind.
func fieldDecrefSymbol(f FieldLayout) string {
	switch f.Class {
	case heap.ElemString:
		return "string_decref"
	case heap.ElemArray:
		return heap.ArrayDecrefSymbol(f.Elem)
	case heap.ElemMap:
		return heap.MapDecrefSymbol(f.Elem)
	default:
		return "struct_decref"
	}
}

// llType maps a naml type to its LLVM register type.
func llType(t types.Type) lltypes.Type {
	if t.Resolve() == types.FloatType.Resolve() {
		return f64
	}
	return i64
}

// llRetType maps a naml return type; unit becomes void.
func llRetType(t types.Type) lltypes.Type {
	if t == nil || types.IsUnit(t) {
		return void
	}
	return llType(t)
}

func (e *emitter) instRet(inst *FnInstance) types.Type {
	if inst.Sig == nil {
		return types.UnitType
	}
	if inst.Sub != nil {
		return substType(inst.Sig.Ret, inst.Sub)
	}
	return inst.Sig.Ret
}

// substType applies a monomorphization substitution to a type.
func substType(t types.Type, sub map[string]types.Type) types.Type {
	if sub == nil {
		return t
	}
	if g, ok := t.Resolve().(*types.Generic); ok && len(g.Args) == 0 {
		if r, ok := sub[g.Name]; ok {
			return r
		}
	}
	return t
}

// cstr interns a null-terminated constant string and returns its i8*.
func (e *emitter) cstr(s string) llvalue.Value {
	if g, ok := e.strings[s]; ok {
		return gepFirst(g)
	}
	e.nstr++
	g := e.m.NewGlobalDef(fmt.Sprintf(".str.%d", e.nstr), constant.NewCharArrayFromString(s+"\x00"))
	g.Immutable = true
	e.strings[s] = g
	return gepFirst(g)
}

func gepFirst(g *ir.Global) llvalue.Value {
	zero := constant.NewInt(i32, 0)
	return constant.NewGetElementPtr(g.ContentType, g, zero, zero)
}
