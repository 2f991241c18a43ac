package codegen

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	lltypes "github.com/llir/llvm/ir/types"
	llvalue "github.com/llir/llvm/ir/value"

	"github.com/kahflane/naml/lang/ast"
	"github.com/kahflane/naml/lang/checker"
	"github.com/kahflane/naml/lang/token"
	"github.com/kahflane/naml/lang/types"
	"github.com/kahflane/naml/runtime/heap"
)

// expr lowers an expression to a register value: i64 word, double for
// floats, or i1 for comparison results not yet widened.
func (fx *fnEmitter) expr(e ast.Expr) llvalue.Value {
	switch e := e.(type) {
	case *ast.LiteralExpr:
		return fx.literal(e)

	case *ast.IdentExpr:
		if l := fx.lookup(e.Lit); l != nil {
			return fx.fromWord(fx.b.NewLoad(i64, l.slot), l.typ)
		}
		if g, ok := fx.e.globals[e.Lit]; ok {
			return fx.b.NewLoad(i64, g)
		}
		// a plain function reference becomes a captureless closure
		if f, ok := fx.e.fns[e.Lit]; ok {
			fp := fx.b.NewBitCast(f, i8ptr)
			return fx.call("closure_new", fp, constant.NewInt(i64, 0))
		}
		return constant.NewInt(i64, 0)

	case *ast.PathExpr:
		return fx.pathValue(e, nil)

	case *ast.BinaryExpr:
		l := fx.expr(e.Left)
		r := fx.expr(e.Right)
		return fx.binopTyped(e.Op, l, r, fx.typeOf(e.Left), e)

	case *ast.UnaryExpr:
		return fx.unop(e)

	case *ast.CastExpr:
		return fx.cast(e)

	case *ast.CallExpr:
		return fx.callExpr(e)

	case *ast.MethodCallExpr:
		return fx.methodCall(e)

	case *ast.IndexExpr:
		return fx.indexExpr(e)

	case *ast.FieldExpr:
		recv := fx.expr(e.Recv)
		if st, ok := fx.typeOf(e.Recv).Resolve().(*types.Struct); ok {
			if l := fx.e.p.Layouts[st.Name]; l != nil {
				i := l.FieldIndex(e.Name.Lit)
				v := fx.call("struct_get_field", fx.toWord(recv, e.Recv), constant.NewInt(i32, int64(i)))
				return fx.fromWord(v, fx.typeOf(e))
			}
		}
		if ex, ok := fx.typeOf(e.Recv).Resolve().(*types.Exception); ok {
			if l := fx.e.p.Layouts[ex.Name]; l != nil {
				i := l.FieldIndex(e.Name.Lit)
				return fx.call("struct_get_field", fx.toWord(recv, e.Recv), constant.NewInt(i32, int64(i)))
			}
		}
		return constant.NewInt(i64, 0)

	case *ast.ArrayExpr:
		arr := fx.call("array_new", constant.NewInt(i64, int64(len(e.Items))))
		for _, it := range e.Items {
			v := fx.expr(it)
			if IsHeapType(fx.typeOf(it)) && fx.isBorrow(it) {
				fx.emitIncref(fx.toWord(v, it), fx.typeOf(it))
			}
			fx.call("array_push", arr, fx.toWord(v, it))
		}
		return arr

	case *ast.MapExpr:
		m := fx.call("map_new")
		for _, kv := range e.Items {
			k := fx.expr(kv.Key)
			v := fx.expr(kv.Value)
			if IsHeapType(fx.typeOf(kv.Value)) && fx.isBorrow(kv.Value) {
				fx.emitIncref(fx.toWord(v, kv.Value), fx.typeOf(kv.Value))
			}
			fx.call("map_set", m, fx.toWord(k, kv.Key), fx.toWord(v, kv.Value))
		}
		return m

	case *ast.StructLiteralExpr:
		return fx.structLiteral(e)

	case *ast.IfExpr:
		return fx.ifExpr(e, true)

	case *ast.BlockExpr:
		return fx.block(e, nil)

	case *ast.LambdaExpr:
		return fx.lambda(e)

	case *ast.SpawnExpr:
		return fx.spawn(e)

	case *ast.AwaitExpr:
		h := fx.expr(e.Value)
		return fx.call("task_await", fx.toWord(h, e.Value))

	case *ast.TryExpr:
		v := fx.expr(e.Value)
		// propagate a pending exception with the sentinel protocol
		pending := fx.call("exception_check")
		cont := fx.newBlock("try.cont")
		prop := fx.newBlock("try.prop")
		fx.b.NewCondBr(fx.condBit(pending), prop, cont)
		fx.b = prop
		fx.retSentinel()
		fx.b = cont
		return v

	case *ast.TryCatchExpr:
		return fx.tryCatch(e)

	case *ast.RangeExpr:
		// ranges only reach codegen inside for-in; a bare range lowers to
		// its low bound
		return fx.expr(e.Low)

	case *ast.GroupExpr:
		return fx.expr(e.Inner)

	case *ast.SomeExpr:
		slot := fx.b.NewAlloca(optSlot)
		v := fx.expr(e.Value)
		fx.storeOption(slot, fx.toWord(v, e.Value), true)
		return fx.b.NewPtrToInt(slot, i64)
	}
	return constant.NewInt(i64, 0)
}

func (fx *fnEmitter) literal(e *ast.LiteralExpr) llvalue.Value {
	switch e.Kind {
	case ast.LitInt:
		return constant.NewInt(i64, e.Int)
	case ast.LitFloat:
		return constant.NewFloat(f64, e.Float)
	case ast.LitBool:
		if e.Bool {
			return constant.NewInt(i64, 1)
		}
		return constant.NewInt(i64, 0)
	case ast.LitString:
		// a static C-string pointer wrapped into a heap string on use
		return fx.call("string_from_cstr", fx.e.cstr(e.Str))
	case ast.LitNone:
		slot := fx.b.NewAlloca(optSlot)
		fx.storeOption(slot, constant.NewInt(i64, 0), false)
		return fx.b.NewPtrToInt(slot, i64)
	}
	return constant.NewInt(i64, 0)
}

// storeOption writes a 16-byte option slot: tag then value.
func (fx *fnEmitter) storeOption(slot *ir.InstAlloca, v llvalue.Value, some bool) {
	tag := int64(0)
	if some {
		tag = 1
	}
	tagPtr := fx.b.NewGetElementPtr(optSlot, slot, constant.NewInt(i32, 0), constant.NewInt(i32, 0))
	fx.b.NewStore(constant.NewInt(i32, tag), tagPtr)
	valPtr := fx.b.NewGetElementPtr(optSlot, slot, constant.NewInt(i32, 0), constant.NewInt(i32, 2))
	fx.b.NewStore(v, valPtr)
}

func (fx *fnEmitter) binopTyped(op token.Token, l, r llvalue.Value, t types.Type, e *ast.BinaryExpr) llvalue.Value {
	if t.Resolve() == types.StringType.Resolve() {
		switch op {
		case token.PLUS:
			return fx.call("string_concat", fx.toWord(l, e.Left), fx.toWord(r, e.Right))
		case token.EQEQ:
			return fx.call("string_eq", fx.toWord(l, e.Left), fx.toWord(r, e.Right))
		case token.NEQ:
			eq := fx.call("string_eq", fx.toWord(l, e.Left), fx.toWord(r, e.Right))
			return fx.b.NewZExt(fx.b.NewICmp(enum.IPredEQ, eq, constant.NewInt(i64, 0)), i64)
		}
	}
	return fx.binop(op, l, r, t)
}

// binop lowers an arithmetic, comparison, logical or bitwise operator to
// the matching IR instruction.
func (fx *fnEmitter) binop(op token.Token, l, r llvalue.Value, t types.Type) llvalue.Value {
	isFloat := t.Resolve() == types.FloatType.Resolve()
	isUint := t.Resolve() == types.UintType.Resolve()

	if isFloat {
		switch op {
		case token.PLUS:
			return fx.b.NewFAdd(l, r)
		case token.MINUS:
			return fx.b.NewFSub(l, r)
		case token.STAR:
			return fx.b.NewFMul(l, r)
		case token.SLASH:
			return fx.b.NewFDiv(l, r)
		case token.PERCENT:
			return fx.b.NewFRem(l, r)
		case token.EQEQ:
			return fx.b.NewZExt(fx.b.NewFCmp(enum.FPredOEQ, l, r), i64)
		case token.NEQ:
			return fx.b.NewZExt(fx.b.NewFCmp(enum.FPredONE, l, r), i64)
		case token.LT:
			return fx.b.NewZExt(fx.b.NewFCmp(enum.FPredOLT, l, r), i64)
		case token.LE:
			return fx.b.NewZExt(fx.b.NewFCmp(enum.FPredOLE, l, r), i64)
		case token.GT:
			return fx.b.NewZExt(fx.b.NewFCmp(enum.FPredOGT, l, r), i64)
		case token.GE:
			return fx.b.NewZExt(fx.b.NewFCmp(enum.FPredOGE, l, r), i64)
		}
	}

	switch op {
	case token.PLUS:
		return fx.b.NewAdd(l, r)
	case token.MINUS:
		return fx.b.NewSub(l, r)
	case token.STAR:
		return fx.b.NewMul(l, r)
	case token.SLASH:
		if isUint {
			return fx.b.NewUDiv(l, r)
		}
		return fx.b.NewSDiv(l, r)
	case token.PERCENT:
		if isUint {
			return fx.b.NewURem(l, r)
		}
		return fx.b.NewSRem(l, r)
	case token.AMPERSAND, token.ANDAND:
		return fx.b.NewAnd(l, r)
	case token.PIPE, token.OROR:
		return fx.b.NewOr(l, r)
	case token.CARET:
		return fx.b.NewXor(l, r)
	case token.LTLT:
		return fx.b.NewShl(l, r)
	case token.GTGT:
		if isUint {
			return fx.b.NewLShr(l, r)
		}
		return fx.b.NewAShr(l, r)
	case token.EQEQ:
		return fx.b.NewZExt(fx.b.NewICmp(enum.IPredEQ, l, r), i64)
	case token.NEQ:
		return fx.b.NewZExt(fx.b.NewICmp(enum.IPredNE, l, r), i64)
	case token.LT:
		return fx.b.NewZExt(fx.b.NewICmp(pick(isUint, enum.IPredULT, enum.IPredSLT), l, r), i64)
	case token.LE:
		return fx.b.NewZExt(fx.b.NewICmp(pick(isUint, enum.IPredULE, enum.IPredSLE), l, r), i64)
	case token.GT:
		return fx.b.NewZExt(fx.b.NewICmp(pick(isUint, enum.IPredUGT, enum.IPredSGT), l, r), i64)
	case token.GE:
		return fx.b.NewZExt(fx.b.NewICmp(pick(isUint, enum.IPredUGE, enum.IPredSGE), l, r), i64)
	}
	return l
}

func pick(cond bool, a, b enum.IPred) enum.IPred {
	if cond {
		return a
	}
	return b
}

func (fx *fnEmitter) unop(e *ast.UnaryExpr) llvalue.Value {
	v := fx.expr(e.Right)
	switch e.Op {
	case token.MINUS:
		if fx.typeOf(e.Right).Resolve() == types.FloatType.Resolve() {
			return fx.b.NewFNeg(v)
		}
		return fx.b.NewSub(constant.NewInt(i64, 0), v)
	case token.BANG:
		return fx.b.NewZExt(fx.b.NewICmp(enum.IPredEQ, fx.toWord(v, e.Right), constant.NewInt(i64, 0)), i64)
	case token.TILDE:
		return fx.b.NewXor(v, constant.NewInt(i64, -1))
	}
	return v
}

func (fx *fnEmitter) cast(e *ast.CastExpr) llvalue.Value {
	v := fx.expr(e.Value)
	from := fx.typeOf(e.Value).Resolve()
	to := fx.exprTypeOfTypeExpr(e.Type).Resolve()

	switch {
	case from == types.FloatType.Resolve() && types.IsInteger(to):
		return fx.b.NewFPToSI(v, i64)
	case types.IsInteger(from) && to == types.FloatType.Resolve():
		return fx.b.NewSIToFP(v, f64)
	}
	return v
}

func (fx *fnEmitter) indexExpr(e *ast.IndexExpr) llvalue.Value {
	recv := fx.expr(e.Recv)
	idx := fx.expr(e.Index)
	rw := fx.toWord(recv, e.Recv)
	iw := fx.toWord(idx, e.Index)

	switch fx.typeOf(e.Recv).Resolve().(type) {
	case *types.Map:
		return fx.call("map_get_or_zero", rw, iw)
	}

	if e.Bang.IsValid() {
		// bounds-checked load with an inlined panic call on out-of-range
		n := fx.call("array_len", rw)
		ok := fx.newBlock("idx.ok")
		bad := fx.newBlock("idx.oob")
		inRange := fx.b.NewAnd(
			fx.b.NewZExt(fx.b.NewICmp(enum.IPredSGE, iw, constant.NewInt(i64, 0)), i64),
			fx.b.NewZExt(fx.b.NewICmp(enum.IPredSLT, iw, n), i64))
		fx.b.NewCondBr(fx.condBit(inRange), ok, bad)
		fx.b = bad
		fx.call("naml_panic", fx.call("string_from_cstr", fx.e.cstr("index out of bounds")))
		fx.b.NewUnreachable()
		fx.b = ok
	}
	// out-of-bounds yields 0
	return fx.fromWord(fx.call("array_get", rw, iw), fx.typeOf(e))
}

func (fx *fnEmitter) structLiteral(e *ast.StructLiteralExpr) llvalue.Value {
	l := fx.e.p.Layouts[e.Name.Lit]
	if l == nil {
		return constant.NewInt(i64, 0)
	}
	obj := fx.call("struct_new",
		constant.NewInt(i32, int64(l.TypeID)), constant.NewInt(i32, int64(len(l.Fields))))
	for _, fi := range e.Fields {
		i := l.FieldIndex(fi.Name.Lit)
		if i < 0 {
			continue
		}
		value := ast.Expr(fi.Name)
		if fi.Value != nil {
			value = fi.Value
		}
		v := fx.expr(value)
		if l.Fields[i].Class != heap.ElemNone && fx.isBorrow(value) {
			fx.emitIncref(fx.toWord(v, value), fx.typeOf(value))
		}
		fx.call("struct_set_field", obj, constant.NewInt(i32, int64(i)), fx.toWord(v, value))
	}
	return obj
}

// ifExpr lowers an if chain. When the if is used as a value, the arms
// store into a result slot joined after the chain.
func (fx *fnEmitter) ifExpr(e *ast.IfExpr, valued bool) llvalue.Value {
	var result *ir.InstAlloca
	if valued {
		result = fx.b.NewAlloca(i64)
	}
	done := fx.newBlock("if.done")

	emitArm := func(cond ast.Expr, body *ast.BlockExpr, next *ir.Block) {
		cv := fx.expr(cond)
		thenB := fx.newBlock("if.then")
		fx.b.NewCondBr(fx.condBit(cv), thenB, next)
		fx.b = thenB
		v := fx.block(body, nil)
		if fx.b.Term == nil {
			if valued && v != nil {
				fx.b.NewStore(fx.toWord(v, body), result)
			}
			fx.b.NewBr(done)
		}
	}

	next := fx.newBlock("if.else")
	emitArm(e.Cond, e.Then, next)
	for _, ei := range e.ElseIfs {
		fx.b = next
		next = fx.newBlock("if.else")
		emitArm(ei.Cond, ei.Then, next)
	}
	fx.b = next
	if e.Else != nil {
		v := fx.block(e.Else, nil)
		if fx.b.Term == nil {
			if valued && v != nil {
				fx.b.NewStore(fx.toWord(v, e.Else), result)
			}
			fx.b.NewBr(done)
		}
	} else if fx.b.Term == nil {
		fx.b.NewBr(done)
	}

	fx.b = done
	if valued {
		return fx.b.NewLoad(i64, result)
	}
	return nil
}

// tryCatch lowers try { ... } catch E(b) { ... }: run the block, then
// dispatch on the pending exception tag.
func (fx *fnEmitter) tryCatch(e *ast.TryCatchExpr) llvalue.Value {
	fx.block(e.Body, nil)
	if fx.b.Term != nil {
		// the try block returned on every path; the dispatch is dead
		fx.b = fx.newBlock("catch.dead")
	}

	done := fx.newBlock("catch.done")
	pending := fx.call("exception_check")
	dispatch := fx.newBlock("catch.dispatch")
	fx.b.NewCondBr(fx.condBit(pending), dispatch, done)

	next := dispatch
	for _, cl := range e.Catches {
		fx.b = next
		body := fx.newBlock("catch.body")
		next = fx.newBlock("catch.next")

		tag := fx.call("exception_tag")
		var want int64
		if l := fx.e.p.Layouts[cl.Name.Lit]; l != nil {
			want = int64(l.TypeID)
		}
		fx.b.NewCondBr(fx.b.NewICmp(enum.IPredEQ, tag, constant.NewInt(i64, want)), body, next)

		fx.b = body
		fx.pushScope()
		obj := fx.call("exception_clear")
		if cl.Binding != nil {
			l := fx.defineLocal(cl.Binding.Lit, fx.exceptionType(cl.Name.Lit), false)
			fx.b.NewStore(obj, l.slot)
		}
		for _, st := range cl.Body.Stmts {
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
	// unmatched tag keeps propagating
	fx.b = next
	fx.retSentinel()

	fx.b = done
	return nil
}

func (fx *fnEmitter) exceptionType(name string) types.Type {
	if t := fx.e.p.Symtab.Type(name); t != nil {
		return t
	}
	return types.IntType
}

// pathValue lowers Enum::Variant references: plain variants allocate the
// tagged struct immediately.
func (fx *fnEmitter) pathValue(e *ast.PathExpr, args []llvalue.Value) llvalue.Value {
	head := e.Segments[0].Lit
	last := e.Segments[len(e.Segments)-1].Lit
	if en, ok := fx.e.p.Symtab.Type(head).(*types.Enum); ok {
		idx := en.VariantIndex(last)
		if idx < 0 {
			return constant.NewInt(i64, 0)
		}
		n := len(en.Variants[idx].Payload)
		obj := fx.call("struct_new", constant.NewInt(i32, 0), constant.NewInt(i32, int64(n+1)))
		fx.call("struct_set_field", obj, constant.NewInt(i32, 0), constant.NewInt(i64, int64(idx)))
		for i, a := range args {
			fx.call("struct_set_field", obj, constant.NewInt(i32, int64(i+1)), a)
		}
		return obj
	}
	if f, ok := fx.e.fns[last]; ok {
		fp := fx.b.NewBitCast(f, i8ptr)
		return fx.call("closure_new", fp, constant.NewInt(i64, 0))
	}
	return constant.NewInt(i64, 0)
}

func (fx *fnEmitter) callExpr(e *ast.CallExpr) llvalue.Value {
	// enum variant construction
	if pe, ok := ast.Unwrap(e.Fn).(*ast.PathExpr); ok {
		if _, isEnum := fx.e.p.Symtab.Type(pe.Segments[0].Lit).(*types.Enum); isEnum {
			args := make([]llvalue.Value, len(e.Args))
			for i, a := range e.Args {
				args[i] = fx.toWord(fx.expr(a), a)
			}
			return fx.pathValue(pe, args)
		}
	}

	if id, ok := ast.Unwrap(e.Fn).(*ast.IdentExpr); ok && fx.lookup(id.Lit) == nil {
		if v, handled := fx.builtinCall(id.Lit, e); handled {
			return v
		}
		return fx.directCall(id.Lit, e)
	}

	// closure call: (func_ptr, data_ptr) pair invoked through the runtime
	cl := fx.expr(e.Fn)
	args := []llvalue.Value{fx.toWord(cl, e.Fn)}
	for _, a := range e.Args {
		args = append(args, fx.toWord(fx.expr(a), a))
	}
	return fx.call("closure_call", args...)
}

// builtinCall lowers the predeclared runtime functions.
func (fx *fnEmitter) builtinCall(name string, e *ast.CallExpr) (llvalue.Value, bool) {
	switch name {
	case "print":
		arg := e.Args[0]
		v := fx.expr(arg)
		switch t := fx.typeOf(arg).Resolve().(type) {
		case *types.Prim:
			switch t.Kind {
			case types.Float:
				fx.call("print_float", fx.fromWord(v, types.FloatType))
			case types.Bool:
				fx.call("print_bool", fx.toWord(v, arg))
			case types.String:
				fx.call("print_str", fx.toWord(v, arg))
			default:
				fx.call("print_int", fx.toWord(v, arg))
			}
		case *types.Array:
			if t.Elem.Resolve() == types.StringType.Resolve() {
				fx.call("array_print_strings", fx.toWord(v, arg))
			} else {
				fx.call("array_print", fx.toWord(v, arg))
			}
		case *types.Option:
			ptr := fx.b.NewIntToPtr(fx.toWord(v, arg), lltypes.NewPointer(optSlot))
			if t.Inner.Resolve() == types.StringType.Resolve() {
				fx.call("option_print_str", ptr)
			} else {
				fx.call("option_print_int", ptr)
			}
		default:
			fx.call("print_int", fx.toWord(v, arg))
		}
		return nil, true

	case "wait_all":
		fx.call("wait_all")
		return nil, true
	case "sleep":
		fx.call("sleep", fx.toWord(fx.expr(e.Args[0]), e.Args[0]))
		return nil, true
	case "worker_count":
		return fx.call("worker_count"), true
	case "active_tasks":
		return fx.call("active_tasks"), true
	case "panic":
		v := fx.expr(e.Args[0])
		fx.call("naml_panic", fx.toWord(v, e.Args[0]))
		fx.b.NewUnreachable()
		fx.b = fx.newBlock("unreachable")
		return constant.NewInt(i64, 0), true
	}
	return nil, false
}

// directCall lowers a call to a named program function, rewriting generic
// calls to their mangled specialization and inlining small candidates.
func (fx *fnEmitter) directCall(name string, e *ast.CallExpr) llvalue.Value {
	target := name
	if sig := fx.e.p.Symtab.Func(name); sig != nil && sig.IsGeneric() {
		target = fx.mangledTarget(sig, e)
	}

	inst := fx.e.p.Funcs[target]
	if inst != nil && inst.Inline && fx.inlineDepth < maxInlineDepth {
		if v, ok := fx.tryInline(inst, e); ok {
			return v
		}
	}

	f := fx.e.fns[target]
	if f == nil {
		return constant.NewInt(i64, 0)
	}
	args := make([]llvalue.Value, len(e.Args))
	for i, a := range e.Args {
		args[i] = fx.toWord(fx.expr(a), a)
		if i < len(f.Params) && f.Params[i].Type().Equal(f64) {
			args[i] = fx.fromWord(args[i], types.FloatType)
		}
	}
	ret := fx.b.NewCall(f, args...)

	// propagate a pending exception from a throws callee
	if inst != nil && inst.Sig != nil && len(inst.Sig.Throws) > 0 {
		pending := fx.call("exception_check")
		cont := fx.newBlock("call.cont")
		prop := fx.newBlock("call.prop")
		fx.b.NewCondBr(fx.condBit(pending), prop, cont)
		fx.b = prop
		fx.retSentinel()
		fx.b = cont
	}
	if f.Sig.RetType.Equal(void) {
		return nil
	}
	return ret
}

// mangledTarget resolves the mangled name of a generic call from the
// checker's annotations of its arguments.
func (fx *fnEmitter) mangledTarget(sig *checker.FuncSig, e *ast.CallExpr) string {
	// bind type parameters by unifying parameter types against the
	// checked argument types
	sub := make(map[string]types.Type, len(sig.TypeParams))
	for i, a := range e.Args {
		if i >= len(sig.Type.Params) {
			break
		}
		bindGenerics(sig.Type.Params[i], fx.typeOf(a), sub)
	}
	args := make([]types.Type, len(sig.TypeParams))
	for i, tp := range sig.TypeParams {
		if t, ok := sub[tp.Name]; ok {
			args[i] = t
		} else {
			args[i] = types.IntType
		}
	}
	return checker.MangleName(sig.Name, args)
}

// bindGenerics fills sub by matching a parameter type shape against a
// concrete argument type.
func bindGenerics(param, arg types.Type, sub map[string]types.Type) {
	switch p := param.Resolve().(type) {
	case *types.Generic:
		if len(p.Args) == 0 {
			if _, ok := sub[p.Name]; !ok {
				sub[p.Name] = arg.Resolve()
			}
		}
	case *types.Array:
		if a, ok := arg.Resolve().(*types.Array); ok {
			bindGenerics(p.Elem, a.Elem, sub)
		}
	case *types.Option:
		if a, ok := arg.Resolve().(*types.Option); ok {
			bindGenerics(p.Inner, a.Inner, sub)
		}
	case *types.Map:
		if a, ok := arg.Resolve().(*types.Map); ok {
			bindGenerics(p.Key, a.Key, sub)
			bindGenerics(p.Value, a.Value, sub)
		}
	}
}

// tryInline re-emits a small callee's body with parameters bound to the
// evaluated arguments, bounded by the context depth counter.
func (fx *fnEmitter) tryInline(inst *FnInstance, e *ast.CallExpr) (llvalue.Value, bool) {
	decl := inst.Decl
	if decl.Body == nil {
		return nil, false
	}
	// only bodies reducible to a single returned expression inline cleanly
	if len(decl.Body.Stmts) == 1 {
		if rs, ok := decl.Body.Stmts[0].(*ast.ReturnStmt); ok && rs.Value != nil {
			fx.inlineDepth++
			defer func() { fx.inlineDepth-- }()

			fx.pushScope()
			for i, prm := range decl.Params {
				if i >= len(e.Args) {
					break
				}
				v := fx.expr(e.Args[i])
				l := fx.defineLocal(prm.Name.Lit, fx.typeOf(e.Args[i]), false)
				fx.b.NewStore(fx.toWord(v, e.Args[i]), l.slot)
			}
			v := fx.expr(rs.Value)
			fx.vars = fx.vars[:len(fx.vars)-1]
			return v, true
		}
	}
	return nil, false
}

// methodCall lowers method calls: builtin container methods to runtime
// entry points, user methods to TypeName_methodName with the receiver as
// the first argument.
func (fx *fnEmitter) methodCall(e *ast.MethodCallExpr) llvalue.Value {
	recvT := fx.typeOf(e.Recv)
	recv := fx.toWord(fx.expr(e.Recv), e.Recv)

	if v, handled := fx.builtinMethod(e, recvT, recv); handled {
		return v
	}

	tname := typeHead(recvT)
	target := methodSymbol(tname, e.Name.Lit)
	f := fx.e.fns[target]
	if f == nil {
		return constant.NewInt(i64, 0)
	}
	args := []llvalue.Value{recv}
	for _, a := range e.Args {
		args = append(args, fx.toWord(fx.expr(a), a))
	}
	ret := fx.b.NewCall(f, args...)
	if f.Sig.RetType.Equal(void) {
		return nil
	}
	return ret
}

func typeHead(t types.Type) string {
	switch t := t.Resolve().(type) {
	case *types.Struct:
		return t.Name
	case *types.Enum:
		return t.Name
	case *types.Exception:
		return t.Name
	}
	return ""
}

// builtinMethod lowers methods on arrays, strings, maps and options.
// Option-returning operations fill a 16-byte stack slot passed by
// pointer.
func (fx *fnEmitter) builtinMethod(e *ast.MethodCallExpr, recvT types.Type, recv llvalue.Value) (llvalue.Value, bool) {
	arg := func(i int) llvalue.Value { return fx.toWord(fx.expr(e.Args[i]), e.Args[i]) }
	optCall := func(sym string, args ...llvalue.Value) llvalue.Value {
		slot := fx.b.NewAlloca(optSlot)
		fx.call(sym, append(args, slot)...)
		return fx.b.NewPtrToInt(slot, i64)
	}
	closureArgs := func(i int) (llvalue.Value, llvalue.Value) {
		cl := arg(i)
		// closures flow as (func_ptr, data_ptr); the runtime splits them
		return cl, constant.NewInt(i64, 0)
	}

	switch t := recvT.Resolve().(type) {
	case *types.Array:
		switch e.Name.Lit {
		case "len":
			return fx.call("array_len", recv), true
		case "push":
			v := arg(0)
			if IsHeapType(t.Elem) && fx.isBorrow(e.Args[0]) {
				fx.emitIncref(v, t.Elem)
			}
			fx.call("array_push", recv, v)
			return nil, true
		case "pop":
			return optCall("array_pop", recv), true
		case "get":
			n := fx.call("array_len", recv)
			i := arg(0)
			slot := fx.b.NewAlloca(optSlot)
			ok := fx.newBlock("get.some")
			no := fx.newBlock("get.none")
			done := fx.newBlock("get.done")
			in := fx.b.NewAnd(
				fx.b.NewZExt(fx.b.NewICmp(enum.IPredSGE, i, constant.NewInt(i64, 0)), i64),
				fx.b.NewZExt(fx.b.NewICmp(enum.IPredSLT, i, n), i64))
			fx.b.NewCondBr(fx.condBit(in), ok, no)
			fx.b = ok
			fx.storeOption(slot, fx.call("array_get", recv, i), true)
			fx.b.NewBr(done)
			fx.b = no
			fx.storeOption(slot, constant.NewInt(i64, 0), false)
			fx.b.NewBr(done)
			fx.b = done
			return fx.b.NewPtrToInt(slot, i64), true
		case "set":
			fx.call("array_set", recv, arg(0), arg(1))
			return nil, true
		case "contains":
			return fx.call("array_contains", recv, arg(0)), true
		case "clone":
			return fx.call("array_clone", recv), true
		case "map":
			fp, data := closureArgs(0)
			return fx.call("array_map", recv, fp, data), true
		case "filter":
			fp, data := closureArgs(0)
			return fx.call("array_filter", recv, fp, data), true
		case "any":
			fp, data := closureArgs(0)
			return fx.call("array_any", recv, fp, data), true
		case "all":
			fp, data := closureArgs(0)
			return fx.call("array_all", recv, fp, data), true
		case "count":
			fp, data := closureArgs(0)
			return fx.call("array_count", recv, fp, data), true
		case "fold":
			init := arg(0)
			fp, data := closureArgs(1)
			return fx.call("array_fold", recv, init, fp, data), true
		case "scan":
			init := arg(0)
			fp, data := closureArgs(1)
			return fx.call("array_scan", recv, init, fp, data), true
		case "find":
			fp, data := closureArgs(0)
			return optCall("array_find", recv, fp, data), true
		case "find_index":
			fp, data := closureArgs(0)
			return optCall("array_find_index", recv, fp, data), true
		case "sort":
			fx.call("array_sort", recv)
			return nil, true
		case "sort_by":
			fp, data := closureArgs(0)
			fx.call("array_sort_by", recv, fp, data)
			return nil, true
		case "sample":
			return optCall("array_sample", recv), true
		}

	case *types.Map:
		switch e.Name.Lit {
		case "len":
			return fx.call("map_len", recv), true
		case "get":
			return optCall("map_get", recv, arg(0)), true
		case "set":
			fx.call("map_set", recv, arg(0), arg(1))
			return nil, true
		case "contains":
			return fx.call("map_contains", recv, arg(0)), true
		case "remove":
			return optCall("map_remove", recv, arg(0)), true
		}

	case *types.Prim:
		if t.Kind != types.String {
			return nil, false
		}
		switch e.Name.Lit {
		case "len":
			return fx.call("string_len", recv), true
		case "char_len":
			return fx.call("string_char_len", recv), true
		case "char_at":
			return optCall("string_char_at", recv, arg(0)), true
		case "is_empty":
			return fx.call("string_is_empty", recv), true
		case "trim":
			return fx.call("string_trim", recv), true
		case "to_int":
			return optCall("string_to_int", recv), true
		case "to_float":
			return optCall("string_to_float", recv), true
		}

	case *types.Option:
		ptr := fx.b.NewIntToPtr(recv, lltypes.NewPointer(optSlot))
		tagPtr := fx.b.NewGetElementPtr(optSlot, ptr, constant.NewInt(i32, 0), constant.NewInt(i32, 0))
		tag := fx.b.NewLoad(i32, tagPtr)
		switch e.Name.Lit {
		case "is_some":
			return fx.b.NewZExt(fx.b.NewICmp(enum.IPredNE, tag, constant.NewInt(i32, 0)), i64), true
		case "is_none":
			return fx.b.NewZExt(fx.b.NewICmp(enum.IPredEQ, tag, constant.NewInt(i32, 0)), i64), true
		case "unwrap":
			ok := fx.newBlock("unwrap.some")
			bad := fx.newBlock("unwrap.none")
			fx.b.NewCondBr(fx.b.NewICmp(enum.IPredNE, tag, constant.NewInt(i32, 0)), ok, bad)
			fx.b = bad
			fx.call("naml_panic", fx.call("string_from_cstr", fx.e.cstr("unwrap of none")))
			fx.b.NewUnreachable()
			fx.b = ok
			valPtr := fx.b.NewGetElementPtr(optSlot, ptr, constant.NewInt(i32, 0), constant.NewInt(i32, 2))
			return fx.b.NewLoad(i64, valPtr), true
		case "unwrap_or":
			fallback := arg(0)
			valPtr := fx.b.NewGetElementPtr(optSlot, ptr, constant.NewInt(i32, 0), constant.NewInt(i32, 2))
			v := fx.b.NewLoad(i64, valPtr)
			isSome := fx.b.NewICmp(enum.IPredNE, tag, constant.NewInt(i32, 0))
			return fx.b.NewSelect(isSome, v, fallback), true
		}
	}
	return nil, false
}

// lambda emits an anonymous function and wraps it with its captured data
// into a (func_ptr, data_ptr) closure pair. Captured variables are copied
// into a heap data block; the emitted body reads captures from it.
func (fx *fnEmitter) lambda(e *ast.LambdaExpr) llvalue.Value {
	captures := fx.freeVars(e)

	fx.e.nstr++
	name := fmt.Sprintf("naml_lambda_%d", fx.e.nstr)
	params := []*ir.Param{ir.NewParam("data", i64)}
	for _, p := range e.Params {
		params = append(params, ir.NewParam(p.Name.Lit, i64))
	}
	lf := fx.e.m.NewFunc(name, i64, params...)

	sub := newFnEmitter(fx.e, lf, nil, fx.sub)
	sub.b = lf.NewBlock("entry")
	for i, p := range e.Params {
		l := sub.defineLocal(p.Name.Lit, types.IntType, false)
		sub.b.NewStore(lf.Params[i+1], l.slot)
	}
	for i, cap := range captures {
		l := sub.defineLocal(cap.name, cap.typ, false)
		v := sub.call("struct_get_field", lf.Params[0], constant.NewInt(i32, int64(i)))
		sub.b.NewStore(v, l.slot)
	}
	var ret llvalue.Value
	if e.Arrow != nil {
		ret = sub.expr(e.Arrow)
	} else {
		ret = sub.block(e.Body, nil)
	}
	if sub.b.Term == nil {
		if ret == nil {
			ret = constant.NewInt(i64, 0)
		}
		sub.b.NewRet(sub.toWord(ret, e.Arrow))
	}

	// capture block: a struct with one slot per captured variable
	data := llvalue.Value(constant.NewInt(i64, 0))
	if len(captures) > 0 {
		obj := fx.call("struct_new", constant.NewInt(i32, 0), constant.NewInt(i32, int64(len(captures))))
		for i, cap := range captures {
			v := fx.b.NewLoad(i64, cap.local.slot)
			if cap.local.kind != heap.ElemNone {
				fx.emitIncref(v, cap.typ)
			}
			fx.call("struct_set_field", obj, constant.NewInt(i32, int64(i)), v)
		}
		data = obj
	}
	fp := fx.b.NewBitCast(lf, i8ptr)
	return fx.call("closure_new", fp, data)
}

type capture struct {
	name  string
	typ   types.Type
	local *local
}

// freeVars collects the enclosing locals referenced by a lambda body.
func (fx *fnEmitter) freeVars(e *ast.LambdaExpr) []capture {
	bound := map[string]bool{}
	for _, p := range e.Params {
		bound[p.Name.Lit] = true
	}
	var caps []capture
	seen := map[string]bool{}

	var v ast.VisitorFunc
	v = func(n ast.Node, dir ast.VisitDirection) ast.Visitor {
		if dir != ast.VisitEnter {
			return nil
		}
		switch n := n.(type) {
		case *ast.VarStmt:
			bound[n.Name.Lit] = true
		case *ast.IdentExpr:
			if !bound[n.Lit] && !seen[n.Lit] {
				if l := fx.lookup(n.Lit); l != nil {
					seen[n.Lit] = true
					caps = append(caps, capture{name: n.Lit, typ: l.typ, local: l})
				}
			}
		}
		return v
	}
	if e.Body != nil {
		ast.Walk(v, e.Body)
	} else {
		ast.Walk(v, e.Arrow)
	}
	return caps
}

// spawn lowers spawn to a task handle: the body becomes a thunk closure
// dispatched through the scheduler.
func (fx *fnEmitter) spawn(e *ast.SpawnExpr) llvalue.Value {
	var body ast.Expr
	if e.Block != nil {
		body = e.Block
	} else {
		body = e.Call
	}

	lam := &ast.LambdaExpr{FnPos: e.SpawnPos, Arrow: body}
	if blk, ok := body.(*ast.BlockExpr); ok {
		lam.Arrow = nil
		lam.Body = blk
	}
	cl := fx.lambda(lam)
	// split the closure pair for the scheduler ABI
	fp := fx.b.NewIntToPtr(fx.toWord(cl, body), i8ptr)
	return fx.call("task_spawn", fp, constant.NewInt(i64, 0))
}
