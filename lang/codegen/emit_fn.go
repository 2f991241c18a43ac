package codegen

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	llvalue "github.com/llir/llvm/ir/value"

	"github.com/kahflane/naml/lang/ast"
	"github.com/kahflane/naml/lang/token"
	"github.com/kahflane/naml/lang/types"
	"github.com/kahflane/naml/runtime/heap"
)

// local is one stack slot of the function being emitted.
type local struct {
	slot *ir.InstAlloca
	typ  types.Type
	kind heap.ElemKind
}

// loopBlocks carries the branch targets of the innermost loop.
type loopBlocks struct {
	cond *ir.Block // continue target
	done *ir.Block // break target
	// scopeDepth is the scope-stack depth at loop entry; break/continue
	// decref the heap locals of scopes deeper than it
	scopeDepth int
}

// fnEmitter lowers one function body.
type fnEmitter struct {
	e    *emitter
	f    *ir.Func
	b    *ir.Block
	plan *RcPlan
	sub  map[string]types.Type

	vars   []map[string]*local
	loops  []loopBlocks
	throws bool // the function declares throws: returns propagate a sentinel

	inlineDepth int
	nblock      int
}

func newFnEmitter(e *emitter, f *ir.Func, plan *RcPlan, sub map[string]types.Type) *fnEmitter {
	if plan == nil {
		plan = &RcPlan{Reassigned: map[string]bool{}}
	}
	return &fnEmitter{e: e, f: f, plan: plan, sub: sub, vars: []map[string]*local{{}}}
}

func (fx *fnEmitter) newBlock(label string) *ir.Block {
	fx.nblock++
	return fx.f.NewBlock(fmt.Sprintf("%s.%d", label, fx.nblock))
}

// emitFn lowers one function instance.
func (e *emitter) emitFn(inst *FnInstance) error {
	f := e.fns[inst.Name]
	fx := newFnEmitter(e, f, e.p.Plans[inst.Name], inst.Sub)
	fx.throws = len(inst.Sig.Throws) > 0
	fx.b = f.NewBlock("entry")

	// shadow-stack instrumentation, elided in release builds
	if !e.p.Opts.Release {
		pos := e.p.Res.FileSet.Position(inst.Decl.Span().Start)
		fx.b.NewCall(e.rt["stack_push"],
			e.cstr(inst.Name), e.cstr(pos.Filename), constant.NewInt(i32, int64(pos.Line)))
	}

	decl := inst.Decl
	argOff := 0
	if inst.Method {
		recv := decl.Recv
		l := fx.defineLocal(recv.Name.Lit, fx.typeOfAnn(recv.Type), false)
		fx.b.NewStore(f.Params[0], l.slot)
		argOff = 1
	}
	for i, prm := range decl.Params {
		pt := substType(fx.exprTypeOfTypeExpr(prm.Type), fx.sub)
		l := fx.defineLocal(prm.Name.Lit, pt, false)
		fx.b.NewStore(f.Params[i+argOff], l.slot)
	}

	// main initializes global vars before anything else in AOT mode; the
	// wrapper already did it, so nothing extra here

	fx.block(decl.Body, nil)

	if fx.b.Term == nil {
		fx.scopeExitAll(nil)
		if !e.p.Opts.Release {
			fx.b.NewCall(e.rt["stack_pop"])
		}
		if f.Sig.RetType.Equal(void) {
			fx.b.NewRet(nil)
		} else {
			fx.b.NewRet(constant.NewInt(i64, 0))
		}
	}
	return nil
}

// defineLocal allocates a stack slot for a local and tracks its heap kind
// for scope-exit decrefs.
func (fx *fnEmitter) defineLocal(name string, t types.Type, _ bool) *local {
	slot := fx.b.NewAlloca(i64)
	l := &local{slot: slot, typ: t, kind: heapKindIfHeap(t)}
	fx.vars[len(fx.vars)-1][name] = l
	return l
}

func heapKindIfHeap(t types.Type) heap.ElemKind {
	if t == nil || !IsHeapType(t) {
		return heap.ElemNone
	}
	return HeapKindOf(t)
}

func (fx *fnEmitter) lookup(name string) *local {
	for i := len(fx.vars) - 1; i >= 0; i-- {
		if l, ok := fx.vars[i][name]; ok {
			return l
		}
	}
	return nil
}

func (fx *fnEmitter) pushScope() { fx.vars = append(fx.vars, map[string]*local{}) }

// popScope emits decrefs for the heap locals of the innermost scope, then
// drops it. skip names a variable whose reference is being returned.
func (fx *fnEmitter) popScope(skip *local) {
	fx.decrefScope(fx.vars[len(fx.vars)-1], skip)
	fx.vars = fx.vars[:len(fx.vars)-1]
}

func (fx *fnEmitter) decrefScope(sc map[string]*local, skip *local) {
	for _, l := range sc {
		if l.kind == heap.ElemNone || l == skip {
			continue
		}
		v := fx.b.NewLoad(i64, l.slot)
		fx.emitDecref(v, l.typ)
	}
}

// scopeExitAll decrefs every live heap local, for return paths.
func (fx *fnEmitter) scopeExitAll(skip *local) {
	for i := len(fx.vars) - 1; i >= 0; i-- {
		fx.decrefScope(fx.vars[i], skip)
	}
}

// emitDecref emits the decref variant matching the value's type.
func (fx *fnEmitter) emitDecref(v llvalue.Value, t types.Type) {
	switch rt := t.Resolve().(type) {
	case *types.Prim:
		if rt.Kind == types.String || rt.Kind == types.Bytes {
			fx.call("string_decref", v)
		}
	case *types.Array, *types.FixedArray:
		var elem types.Type
		if a, ok := rt.(*types.Array); ok {
			elem = a.Elem
		} else {
			elem = rt.(*types.FixedArray).Elem
		}
		fx.call(heap.ArrayDecrefSymbol(heapKindIfHeap(elem)), v)
	case *types.Map:
		fx.call(heap.MapDecrefSymbol(heapKindIfHeap(rt.Value)), v)
	case *types.Struct:
		if l := fx.e.p.Layouts[rt.Name]; l != nil && l.HasHeapFields() {
			fx.b.NewCall(fx.e.fns[heap.StructDecrefSymbol(rt.Name)], v)
			return
		}
		fx.call("struct_decref", v)
	case *types.Exception, *types.Enum, *types.Func, *types.Mutex,
		*types.Rwlock, *types.Atomic, *types.Channel:
		fx.call("struct_decref", v)
	case *types.Option:
		fx.emitDecref(v, rt.Inner)
	}
}

// emitIncref emits the incref matching the value's type.
func (fx *fnEmitter) emitIncref(v llvalue.Value, t types.Type) {
	switch rt := t.Resolve().(type) {
	case *types.Prim:
		if rt.Kind == types.String || rt.Kind == types.Bytes {
			fx.call("string_incref", v)
		}
	case *types.Array, *types.FixedArray:
		fx.call("array_incref", v)
	case *types.Map:
		fx.call("map_incref", v)
	case *types.Option:
		fx.emitIncref(v, rt.Inner)
	default:
		if IsHeapType(t) {
			fx.call("struct_incref", v)
		}
	}
}

func (fx *fnEmitter) call(sym string, args ...llvalue.Value) llvalue.Value {
	return fx.b.NewCall(fx.e.rt[sym], args...)
}

// typeOf returns the checked type of an expression, with the current
// monomorphization substitution applied.
func (fx *fnEmitter) typeOf(e ast.Expr) types.Type {
	if t, ok := fx.e.p.Ann.TypeOf(e.Span()); ok {
		return substType(t, fx.sub)
	}
	return types.IntType
}

func (fx *fnEmitter) typeOfAnn(t ast.TypeExpr) types.Type {
	return fx.exprTypeOfTypeExpr(t)
}

// exprTypeOfTypeExpr resolves a simple annotation without the checker; the
// annotation table covers expressions, not annotations, so parameter slots
// derive their heap kind here.
func (fx *fnEmitter) exprTypeOfTypeExpr(t ast.TypeExpr) types.Type {
	switch t := t.(type) {
	case *ast.NamedType:
		name := t.Segments[len(t.Segments)-1].Lit
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
		}
		if def := fx.e.p.Symtab.Type(name); def != nil {
			return def
		}
		if fx.sub != nil {
			if r, ok := fx.sub[name]; ok {
				return r
			}
		}
		return &types.Generic{Name: name}
	case *ast.ArrayType:
		return &types.Array{Elem: fx.exprTypeOfTypeExpr(t.Elem)}
	case *ast.FnType:
		return &types.Func{Ret: types.UnitType}
	case *ast.UnitType:
		return types.UnitType
	}
	return types.IntType
}

// toWord converts a register value to the 64-bit word: doubles bitcast,
// i1 zero-extends, i64 passes through.
func (fx *fnEmitter) toWord(v llvalue.Value, e ast.Expr) llvalue.Value {
	switch {
	case v.Type().Equal(f64):
		return fx.b.NewBitCast(v, i64)
	case v.Type().Equal(i1):
		return fx.b.NewZExt(v, i64)
	}
	return v
}

// fromWord converts a word back to the register type of the naml type.
func (fx *fnEmitter) fromWord(v llvalue.Value, t types.Type) llvalue.Value {
	if t.Resolve() == types.FloatType.Resolve() && v.Type().Equal(i64) {
		return fx.b.NewBitCast(v, f64)
	}
	return v
}

// condBit converts a word or i1 to an i1 for a conditional branch.
func (fx *fnEmitter) condBit(v llvalue.Value) llvalue.Value {
	if v.Type().Equal(i1) {
		return v
	}
	return fx.b.NewICmp(enum.IPredNE, v, constant.NewInt(i64, 0))
}

// block lowers a block expression; the tail value (if any) is returned as
// a word, or nil.
func (fx *fnEmitter) block(b *ast.BlockExpr, _ *local) llvalue.Value {
	fx.pushScope()
	for _, s := range b.Stmts {
		fx.stmt(s)
		if fx.b.Term != nil {
			// terminated by return/break/continue: the rest is unreachable
			fx.vars = fx.vars[:len(fx.vars)-1]
			return nil
		}
	}
	var tail llvalue.Value
	if b.Tail != nil {
		tail = fx.expr(b.Tail)
	}
	fx.popScope(nil)
	return tail
}

func (fx *fnEmitter) stmt(s ast.Stmt) {
	switch s := s.(type) {
	case *ast.VarStmt:
		t := fx.typeOf(s.Value)
		if s.Type != nil {
			t = substType(fx.exprTypeOfTypeExpr(s.Type), fx.sub)
		}
		v := fx.expr(s.Value)
		l := fx.defineLocal(s.Name.Lit, t, s.Mut)
		// assignment from a borrow increfs; fresh values transfer their
		// reference
		if l.kind != heap.ElemNone && fx.isBorrow(s.Value) {
			fx.emitIncref(fx.toWord(v, s.Value), t)
		}
		fx.b.NewStore(fx.toWord(v, s.Value), l.slot)

	case *ast.AssignStmt:
		fx.assign(s)

	case *ast.ReturnStmt:
		fx.ret(s.Value)

	case *ast.ThrowStmt:
		v := fx.expr(s.Value)
		tag := fx.throwTag(s.Value)
		fx.call("exception_set_typed", fx.toWord(v, s.Value), constant.NewInt(i32, int64(tag)))
		fx.call("stack_capture")
		fx.retSentinel()

	case *ast.BreakStmt:
		if len(fx.loops) > 0 {
			lp := fx.loops[len(fx.loops)-1]
			fx.decrefToDepth(lp.scopeDepth)
			fx.b.NewBr(lp.done)
		}

	case *ast.ContinueStmt:
		if len(fx.loops) > 0 {
			lp := fx.loops[len(fx.loops)-1]
			fx.decrefToDepth(lp.scopeDepth)
			fx.b.NewBr(lp.cond)
		}

	case *ast.WhileStmt:
		fx.whileLoop(s)

	case *ast.ForStmt:
		fx.forLoop(s)

	case *ast.LoopStmt:
		body := fx.newBlock("loop.body")
		done := fx.newBlock("loop.done")
		fx.b.NewBr(body)
		fx.b = body
		fx.loops = append(fx.loops, loopBlocks{cond: body, done: done, scopeDepth: len(fx.vars)})
		fx.block(s.Body, nil)
		if fx.b.Term == nil {
			fx.b.NewBr(body)
		}
		fx.loops = fx.loops[:len(fx.loops)-1]
		fx.b = done

	case *ast.SwitchStmt:
		fx.switchStmt(s)

	case *ast.IfStmt:
		fx.ifExpr(s.If, false)

	case *ast.BlockStmt:
		fx.block(s.Block, nil)

	case *ast.ExprStmt:
		v := fx.expr(s.Value)
		t := fx.typeOf(s.Value)
		// a discarded fresh heap value releases its reference
		if IsHeapType(t) && !fx.isBorrow(s.Value) && v != nil {
			fx.emitDecref(fx.toWord(v, s.Value), t)
		}
	}
}

// isBorrow reports whether the expression reads an existing reference
// rather than producing a fresh (refcount 1) value.
func (fx *fnEmitter) isBorrow(e ast.Expr) bool {
	switch e := ast.Unwrap(e).(type) {
	case *ast.IdentExpr:
		return true
	case *ast.FieldExpr, *ast.IndexExpr:
		return true
	case *ast.AwaitExpr:
		return fx.isBorrow(e.Value)
	}
	return false
}

func (fx *fnEmitter) assign(s *ast.AssignStmt) {
	value := fx.expr(s.Value)
	vt := fx.typeOf(s.Value)

	if s.Op != token.EQ {
		// compound assignment desugars to target = target op value
		cur := fx.expr(s.Target)
		value = fx.binop(s.Op.BinopFor(), cur, value, fx.typeOf(s.Target))
	}

	switch target := ast.Unwrap(s.Target).(type) {
	case *ast.IdentExpr:
		if l := fx.lookup(target.Lit); l != nil {
			if l.kind != heap.ElemNone && s.Op == token.EQ {
				// incref the new value before overwriting, decref the
				// previous value after
				if fx.isBorrow(s.Value) {
					fx.emitIncref(fx.toWord(value, s.Value), l.typ)
				}
				old := fx.b.NewLoad(i64, l.slot)
				fx.b.NewStore(fx.toWord(value, s.Value), l.slot)
				fx.emitDecref(old, l.typ)
				return
			}
			fx.b.NewStore(fx.toWord(value, s.Value), l.slot)
			return
		}
		if g, ok := fx.e.globals[target.Lit]; ok {
			fx.b.NewStore(fx.toWord(value, s.Value), g)
		}

	case *ast.IndexExpr:
		recv := fx.expr(target.Recv)
		idx := fx.expr(target.Index)
		switch fx.typeOf(target.Recv).Resolve().(type) {
		case *types.Map:
			if IsHeapType(vt) && fx.isBorrow(s.Value) {
				fx.emitIncref(fx.toWord(value, s.Value), vt)
			}
			fx.call("map_set", recv, idx, fx.toWord(value, s.Value))
		default:
			if IsHeapType(vt) && fx.isBorrow(s.Value) {
				fx.emitIncref(fx.toWord(value, s.Value), vt)
			}
			fx.call("array_set", recv, idx, fx.toWord(value, s.Value))
		}

	case *ast.FieldExpr:
		recv := fx.expr(target.Recv)
		if st, ok := fx.typeOf(target.Recv).Resolve().(*types.Struct); ok {
			if l := fx.e.p.Layouts[st.Name]; l != nil {
				i := l.FieldIndex(target.Name.Lit)
				if IsHeapType(vt) && fx.isBorrow(s.Value) {
					fx.emitIncref(fx.toWord(value, s.Value), vt)
				}
				fx.call("struct_set_field", recv, constant.NewInt(i32, int64(i)), fx.toWord(value, s.Value))
			}
		}
	}
}

// ret lowers a return statement: scope-exit decrefs (skipping a returned
// local borrow), shadow-stack pop, then ret.
func (fx *fnEmitter) ret(e ast.Expr) {
	var skip *local
	var v llvalue.Value
	if e != nil {
		v = fx.expr(e)
		if id, ok := ast.Unwrap(e).(*ast.IdentExpr); ok {
			if l := fx.lookup(id.Lit); l != nil && l.kind != heap.ElemNone {
				// the returned reference transfers to the caller
				skip = l
			}
		}
	}
	fx.scopeExitAll(skip)
	if !fx.e.p.Opts.Release {
		fx.call("stack_pop")
	}
	if fx.f.Sig.RetType.Equal(void) || v == nil {
		fx.b.NewRet(nil)
		return
	}
	if fx.f.Sig.RetType.Equal(f64) {
		fx.b.NewRet(fx.fromWord(v, types.FloatType))
		return
	}
	fx.b.NewRet(fx.toWord(v, e))
}

// retSentinel returns the sentinel after setting the exception slot.
func (fx *fnEmitter) retSentinel() {
	fx.scopeExitAll(nil)
	if !fx.e.p.Opts.Release {
		fx.call("stack_pop")
	}
	switch {
	case fx.f.Sig.RetType.Equal(void):
		fx.b.NewRet(nil)
	case fx.f.Sig.RetType.Equal(f64):
		fx.b.NewRet(constant.NewFloat(f64, 0))
	default:
		fx.b.NewRet(constant.NewInt(i64, -1))
	}
}

func (fx *fnEmitter) decrefToDepth(depth int) {
	for i := len(fx.vars) - 1; i >= depth; i-- {
		fx.decrefScope(fx.vars[i], nil)
	}
}

// throwTag returns the exception type tag of a thrown value.
func (fx *fnEmitter) throwTag(e ast.Expr) uint32 {
	if ex, ok := fx.typeOf(e).Resolve().(*types.Exception); ok {
		if l := fx.e.p.Layouts[ex.Name]; l != nil {
			return l.TypeID
		}
	}
	return 0
}

func (fx *fnEmitter) whileLoop(s *ast.WhileStmt) {
	cond := fx.newBlock("while.cond")
	body := fx.newBlock("while.body")
	done := fx.newBlock("while.done")

	fx.b.NewBr(cond)
	fx.b = cond
	cv := fx.expr(s.Cond)
	fx.b.NewCondBr(fx.condBit(cv), body, done)

	fx.b = body
	fx.loops = append(fx.loops, loopBlocks{cond: cond, done: done, scopeDepth: len(fx.vars)})
	fx.block(s.Body, nil)
	if fx.b.Term == nil {
		fx.b.NewBr(cond)
	}
	fx.loops = fx.loops[:len(fx.loops)-1]
	fx.b = done
}

// forLoop lowers for-in over a range or an array through an index
// variable.
func (fx *fnEmitter) forLoop(s *ast.ForStmt) {
	idx := fx.b.NewAlloca(i64)

	var limit llvalue.Value
	var arr llvalue.Value
	elemT := types.Type(types.IntType)

	switch rt := fx.typeOf(s.Range).Resolve().(type) {
	case *types.Range:
		rng := ast.Unwrap(s.Range).(*ast.RangeExpr)
		low := fx.expr(rng.Low)
		fx.b.NewStore(fx.toWord(low, rng.Low), idx)
		limit = fx.toWord(fx.expr(rng.High), rng.High)
		if rng.Inclusive {
			limit = fx.b.NewAdd(limit, constant.NewInt(i64, 1))
		}
	case *types.Array:
		elemT = rt.Elem
		arr = fx.expr(s.Range)
		fx.b.NewStore(constant.NewInt(i64, 0), idx)
		limit = fx.call("array_len", arr)
	default:
		// other iterables lower through their array view
		arr = fx.expr(s.Range)
		fx.b.NewStore(constant.NewInt(i64, 0), idx)
		limit = fx.call("array_len", arr)
	}

	cond := fx.newBlock("for.cond")
	body := fx.newBlock("for.body")
	step := fx.newBlock("for.step")
	done := fx.newBlock("for.done")

	fx.b.NewBr(cond)
	fx.b = cond
	i := fx.b.NewLoad(i64, idx)
	fx.b.NewCondBr(fx.b.NewICmp(enum.IPredSLT, i, limit), body, done)

	fx.b = body
	fx.pushScope()
	l := fx.defineLocal(s.Bind.Lit, elemT, false)
	cur := fx.b.NewLoad(i64, idx)
	if arr != nil {
		fx.b.NewStore(fx.call("array_get", arr, cur), l.slot)
	} else {
		fx.b.NewStore(cur, l.slot)
	}
	fx.loops = append(fx.loops, loopBlocks{cond: step, done: done, scopeDepth: len(fx.vars)})
	for _, st := range s.Body.Stmts {
		fx.stmt(st)
		if fx.b.Term != nil {
			break
		}
	}
	fx.loops = fx.loops[:len(fx.loops)-1]
	if fx.b.Term == nil {
		fx.b.NewBr(step)
	}
	fx.vars = fx.vars[:len(fx.vars)-1]

	fx.b = step
	fx.b.NewStore(fx.b.NewAdd(fx.b.NewLoad(i64, idx), constant.NewInt(i64, 1)), idx)
	fx.b.NewBr(cond)

	fx.b = done
}

// switchStmt lowers a pattern switch to a chain of compare-and-branch
// blocks; binding patterns store the value into a fresh local.
func (fx *fnEmitter) switchStmt(s *ast.SwitchStmt) {
	val := fx.toWord(fx.expr(s.Value), s.Value)
	vt := fx.typeOf(s.Value)
	done := fx.newBlock("switch.done")

	next := fx.b
	for _, cs := range s.Cases {
		fx.b = next
		body := fx.newBlock("case.body")
		next = fx.newBlock("case.next")

		switch pat := cs.Pattern.(type) {
		case nil: // default
			fx.b.NewBr(body)
		case *ast.WildcardPat:
			fx.b.NewBr(body)
		case *ast.LiteralPat:
			lit := fx.literal(pat.Lit)
			var cmp llvalue.Value
			if vt.Resolve() == types.StringType.Resolve() {
				cmp = fx.condBit(fx.call("string_eq", val, fx.toWord(lit, pat.Lit)))
			} else {
				cmp = fx.b.NewICmp(enum.IPredEQ, val, fx.toWord(lit, pat.Lit))
			}
			fx.b.NewCondBr(cmp, body, next)
		case *ast.BindPat:
			// a bare identifier naming a variant matches by tag
			if en, ok := vt.Resolve().(*types.Enum); ok && en.VariantIndex(pat.Name.Lit) >= 0 {
				tag := fx.call("struct_get_field", val, constant.NewInt(i32, 0))
				cmp := fx.b.NewICmp(enum.IPredEQ, tag,
					constant.NewInt(i64, int64(en.VariantIndex(pat.Name.Lit))))
				fx.b.NewCondBr(cmp, body, next)
				break
			}
			fx.b.NewBr(body)
		case *ast.VariantPat:
			// enum values share struct layout; field 0 is the variant index
			vidx := fx.variantIndex(vt, pat)
			tag := fx.call("struct_get_field", val, constant.NewInt(i32, 0))
			cmp := fx.b.NewICmp(enum.IPredEQ, tag, constant.NewInt(i64, int64(vidx)))
			fx.b.NewCondBr(cmp, body, next)
		}

		fx.b = body
		fx.pushScope()
		switch pat := cs.Pattern.(type) {
		case *ast.BindPat:
			if en, ok := vt.Resolve().(*types.Enum); ok && en.VariantIndex(pat.Name.Lit) >= 0 {
				break // matched by tag, nothing to bind
			}
			l := fx.defineLocal(pat.Name.Lit, vt, false)
			fx.b.NewStore(val, l.slot)
		case *ast.VariantPat:
			for bi, bind := range pat.Binds {
				l := fx.defineLocal(bind.Lit, types.IntType, false)
				fv := fx.call("struct_get_field", val, constant.NewInt(i32, int64(bi+1)))
				fx.b.NewStore(fv, l.slot)
			}
		}
		for _, st := range cs.Body.Stmts {
			fx.stmt(st)
			if fx.b.Term != nil {
				break
			}
		}
		fx.vars = fx.vars[:len(fx.vars)-1]
		if fx.b.Term == nil {
			fx.b.NewBr(done)
		}
	}
	fx.b = next
	fx.b.NewBr(done)
	fx.b = done
}

func (fx *fnEmitter) variantIndex(t types.Type, pat *ast.VariantPat) int {
	if en, ok := t.Resolve().(*types.Enum); ok {
		return en.VariantIndex(pat.Segments[len(pat.Segments)-1].Lit)
	}
	return 0
}
