package checker

import (
	"github.com/kahflane/naml/lang/ast"
	"github.com/kahflane/naml/lang/token"
	"github.com/kahflane/naml/lang/types"
)

// inferExpr infers the type of an expression against an expected type,
// records it in the annotation table, and returns it. Inference is
// bottom-up; the caller unifies the result with its own expectation.
func (c *Checker) inferExpr(e ast.Expr, expected types.Type) types.Type {
	t := c.inferExprNoAnn(e, expected)
	c.ann.set(e.Span(), t)
	return t
}

func (c *Checker) inferExprNoAnn(e ast.Expr, expected types.Type) types.Type {
	switch e := e.(type) {
	case *ast.LiteralExpr:
		return c.literalType(e, expected)

	case *ast.IdentExpr:
		if b := c.lookup(e.Lit); b != nil {
			return b.Type
		}
		if sig := c.symtab.Func(e.Lit); sig != nil {
			if sig.IsGeneric() {
				c.errorf(InferenceFailed, e.Span(),
					"generic function %s requires a call site to infer its type arguments", e.Lit)
				return types.ErrorType
			}
			return sig.Type
		}
		c.errorf(UndefinedVariable, e.Span(), "undefined variable %s", e.Lit)
		return types.ErrorType

	case *ast.PathExpr:
		return c.inferPathExpr(e, nil)

	case *ast.BinaryExpr:
		return c.inferBinaryExpr(e)

	case *ast.UnaryExpr:
		return c.inferUnaryExpr(e)

	case *ast.CastExpr:
		return c.inferCastExpr(e)

	case *ast.CallExpr:
		return c.inferCallExpr(e, expected)

	case *ast.MethodCallExpr:
		return c.inferMethodCallExpr(e)

	case *ast.IndexExpr:
		return c.inferIndexExpr(e)

	case *ast.FieldExpr:
		return c.inferFieldExpr(e)

	case *ast.ArrayExpr:
		elem := types.Type(types.NewVar())
		if arr, ok := expected.Resolve().(*types.Array); ok {
			elem = arr.Elem
		}
		for _, it := range e.Items {
			got := c.inferExpr(it, elem)
			c.unify(elem, got, it.Span())
		}
		return &types.Array{Elem: elem}

	case *ast.MapExpr:
		key, val := types.Type(types.StringType), types.Type(types.NewVar())
		if m, ok := expected.Resolve().(*types.Map); ok {
			key, val = m.Key, m.Value
		}
		for _, kv := range e.Items {
			kt := c.inferExpr(kv.Key, key)
			c.unify(key, kt, kv.Key.Span())
			vt := c.inferExpr(kv.Value, val)
			c.unify(val, vt, kv.Value.Span())
		}
		return &types.Map{Key: key, Value: val}

	case *ast.StructLiteralExpr:
		return c.inferStructLiteral(e)

	case *ast.IfExpr:
		return c.inferIfExpr(e, expected, true)

	case *ast.BlockExpr:
		return c.inferBlock(e, expected)

	case *ast.LambdaExpr:
		return c.inferLambdaExpr(e, expected)

	case *ast.SpawnExpr:
		return c.inferSpawnExpr(e)

	case *ast.AwaitExpr:
		got := c.inferExpr(e.Value, types.NewVar())
		if task, ok := got.Resolve().(*types.Task); ok {
			return task.Inner
		}
		if got.Resolve() != types.ErrorType {
			c.errorf(InvalidOperation, e.Value.Span(), "await requires a task handle, found %s", got)
		}
		return types.ErrorType

	case *ast.TryExpr:
		// '?' propagates a pending exception; on a non-throwing expression
		// it is a no-op that yields the inner value
		got := c.inferExpr(e.Value, expected)
		if c.exprThrows(e.Value) {
			frame := c.frame()
			if (frame == nil || len(frame.throws) == 0) && !c.inTryBlock {
				c.errorf(InvalidOperation, e.Span(),
					"'?' requires the enclosing function to declare throws")
			}
		}
		return got

	case *ast.TryCatchExpr:
		return c.inferTryCatchExpr(e)

	case *ast.RangeExpr:
		low := c.inferExpr(e.Low, types.IntType)
		c.unify(types.IntType, low, e.Low.Span())
		high := c.inferExpr(e.High, types.IntType)
		c.unify(types.IntType, high, e.High.Span())
		return types.RangeType

	case *ast.GroupExpr:
		return c.inferExpr(e.Inner, expected)

	case *ast.SomeExpr:
		inner := types.Type(types.NewVar())
		if opt, ok := expected.Resolve().(*types.Option); ok {
			inner = opt.Inner
		}
		got := c.inferExpr(e.Value, inner)
		c.unify(inner, got, e.Value.Span())
		return &types.Option{Inner: inner}

	case *ast.BadExpr:
		return types.ErrorType
	}
	c.errorf(InferenceFailed, e.Span(), "cannot infer type of expression")
	return types.ErrorType
}

func (c *Checker) inferBinaryExpr(e *ast.BinaryExpr) types.Type {
	switch e.Op {
	case token.ANDAND, token.OROR:
		lt := c.inferExpr(e.Left, types.BoolType)
		c.unify(types.BoolType, lt, e.Left.Span())
		rt := c.inferExpr(e.Right, types.BoolType)
		c.unify(types.BoolType, rt, e.Right.Span())
		return types.BoolType

	case token.EQEQ, token.NEQ:
		lt := c.inferExpr(e.Left, types.NewVar())
		rt := c.inferExpr(e.Right, lt)
		c.unify(lt, rt, e.Right.Span())
		return types.BoolType

	case token.LT, token.GT, token.LE, token.GE:
		lt := c.inferExpr(e.Left, types.NewVar())
		rt := c.inferExpr(e.Right, lt)
		c.unify(lt, rt, e.Right.Span())
		if !types.IsNumeric(lt) && lt.Resolve() != types.StringType.Resolve() &&
			lt.Resolve() != types.ErrorType {
			c.errorf(InvalidBinaryOp, e.Span(),
				"operator %s requires numeric or string operands, found %s", e.Op, lt)
		}
		return types.BoolType

	case token.PLUS:
		lt := c.inferExpr(e.Left, types.NewVar())
		rt := c.inferExpr(e.Right, lt)
		c.unify(lt, rt, e.Right.Span())
		if !types.IsNumeric(lt) && lt.Resolve() != types.StringType.Resolve() &&
			lt.Resolve() != types.ErrorType {
			// '+' also concatenates strings
			c.errorf(InvalidBinaryOp, e.Span(),
				"operator + requires numeric or string operands, found %s", lt)
		}
		return lt

	case token.MINUS, token.STAR, token.SLASH, token.PERCENT:
		lt := c.inferExpr(e.Left, types.NewVar())
		rt := c.inferExpr(e.Right, lt)
		c.unify(lt, rt, e.Right.Span())
		if !types.IsNumeric(lt) && lt.Resolve() != types.ErrorType {
			c.errorf(InvalidBinaryOp, e.Span(),
				"operator %s requires numeric operands, found %s", e.Op, lt)
		}
		return lt

	case token.AMPERSAND, token.PIPE, token.CARET, token.LTLT, token.GTGT:
		lt := c.inferExpr(e.Left, types.NewVar())
		rt := c.inferExpr(e.Right, lt)
		c.unify(lt, rt, e.Right.Span())
		if !types.IsInteger(lt) && lt.Resolve() != types.ErrorType {
			c.errorf(InvalidBinaryOp, e.Span(),
				"operator %s requires integer operands, found %s", e.Op, lt)
		}
		return lt
	}
	c.errorf(InvalidBinaryOp, e.Span(), "unsupported binary operator %s", e.Op)
	return types.ErrorType
}

func (c *Checker) inferUnaryExpr(e *ast.UnaryExpr) types.Type {
	got := c.inferExpr(e.Right, types.NewVar())
	switch e.Op {
	case token.MINUS:
		if !types.IsNumeric(got) && got.Resolve() != types.ErrorType {
			c.errorf(InvalidOperation, e.Span(), "unary - requires a numeric operand, found %s", got)
		}
		return got
	case token.BANG:
		c.unify(types.BoolType, got, e.Right.Span())
		return types.BoolType
	case token.TILDE:
		if !types.IsInteger(got) && got.Resolve() != types.ErrorType {
			c.errorf(InvalidOperation, e.Span(), "unary ~ requires an integer operand, found %s", got)
		}
		return got
	}
	c.errorf(InvalidOperation, e.Span(), "unsupported unary operator %s", e.Op)
	return types.ErrorType
}

func (c *Checker) inferCastExpr(e *ast.CastExpr) types.Type {
	from := c.inferExpr(e.Value, types.NewVar())
	to := c.resolveTypeExpr(e.Type, nil)

	// casts cover the numeric conversions plus number<->string formatting
	valid := (types.IsNumeric(from) && types.IsNumeric(to)) ||
		(types.IsNumeric(from) && to.Resolve() == types.StringType.Resolve()) ||
		(from.Resolve() == types.BoolType.Resolve() && types.IsInteger(to)) ||
		from.Resolve() == types.ErrorType
	if !valid {
		c.errorf(InvalidOperation, e.Span(), "cannot cast %s to %s", from, to)
	}
	return to
}

func (c *Checker) inferIndexExpr(e *ast.IndexExpr) types.Type {
	recv := c.inferExpr(e.Recv, types.NewVar())
	switch t := recv.Resolve().(type) {
	case *types.Array:
		idx := c.inferExpr(e.Index, types.IntType)
		c.unify(types.IntType, idx, e.Index.Span())
		return t.Elem
	case *types.FixedArray:
		idx := c.inferExpr(e.Index, types.IntType)
		c.unify(types.IntType, idx, e.Index.Span())
		return t.Elem
	case *types.Map:
		idx := c.inferExpr(e.Index, t.Key)
		c.unify(t.Key, idx, e.Index.Span())
		return t.Value
	case *types.Prim:
		if t.Kind == types.String {
			idx := c.inferExpr(e.Index, types.IntType)
			c.unify(types.IntType, idx, e.Index.Span())
			return types.StringType
		}
	}
	if recv.Resolve() != types.ErrorType {
		c.errorf(NotIndexable, e.Recv.Span(), "type %s is not indexable", recv)
	}
	c.inferExpr(e.Index, types.NewVar())
	return types.ErrorType
}

func (c *Checker) inferFieldExpr(e *ast.FieldExpr) types.Type {
	recv := c.inferExpr(e.Recv, types.NewVar())
	name := e.Name.Lit

	switch t := recv.Resolve().(type) {
	case *types.Struct:
		if i := t.FieldIndex(name); i >= 0 {
			return t.Fields[i].Type
		}
		c.errorf(UndefinedField, e.Name.Span(), "struct %s has no field %s", t.Name, name)
		return types.ErrorType
	case *types.Exception:
		if i := t.FieldIndex(name); i >= 0 {
			return t.Fields[i].Type
		}
		c.errorf(UndefinedField, e.Name.Span(), "exception %s has no field %s", t.Name, name)
		return types.ErrorType
	}
	if recv.Resolve() != types.ErrorType {
		c.errorf(UndefinedField, e.Name.Span(), "type %s has no field %s", recv, name)
	}
	return types.ErrorType
}

func (c *Checker) inferStructLiteral(e *ast.StructLiteralExpr) types.Type {
	// exceptions have struct layout and share the literal syntax
	if ex, ok := c.symtab.Type(e.Name.Lit).(*types.Exception); ok {
		return c.inferExceptionLiteral(e, ex)
	}

	def, ok := c.symtab.Type(e.Name.Lit).(*types.Struct)
	if !ok {
		c.errorf(UndefinedType, e.Name.Span(), "undefined struct %s", e.Name.Lit)
		return types.ErrorType
	}

	st := def
	if len(def.TypeParams) > 0 {
		var args []types.Type
		if len(e.TypeArgs) > 0 {
			if len(e.TypeArgs) != len(def.TypeParams) {
				c.errorf(WrongTypeArgCount, e.Span(), "%s takes %d type arguments, found %d",
					def.Name, len(def.TypeParams), len(e.TypeArgs))
				return types.ErrorType
			}
			for _, ta := range e.TypeArgs {
				args = append(args, c.resolveTypeExpr(ta, nil))
			}
		} else {
			for range def.TypeParams {
				args = append(args, types.NewVar())
			}
		}
		st = c.instantiateStruct(def, args)
	}

	seen := make(map[string]bool, len(e.Fields))
	for _, fi := range e.Fields {
		idx := st.FieldIndex(fi.Name.Lit)
		if idx < 0 {
			c.errorf(UndefinedField, fi.Name.Span(), "struct %s has no field %s", st.Name, fi.Name.Lit)
			continue
		}
		if seen[fi.Name.Lit] {
			c.errorf(DuplicateDefinition, fi.Name.Span(), "field %s initialized twice", fi.Name.Lit)
		}
		seen[fi.Name.Lit] = true

		want := st.Fields[idx].Type
		value := ast.Expr(fi.Name) // shorthand Point{x} reads binding x
		if fi.Value != nil {
			value = fi.Value
		}
		got := c.inferExpr(value, want)
		c.unify(want, got, value.Span())
	}
	for _, f := range st.Fields {
		if !seen[f.Name] {
			c.errorf(UndefinedField, e.Span(), "missing field %s in literal of struct %s", f.Name, st.Name)
		}
	}
	return st
}

func (c *Checker) inferExceptionLiteral(e *ast.StructLiteralExpr, ex *types.Exception) types.Type {
	seen := make(map[string]bool, len(e.Fields))
	for _, fi := range e.Fields {
		idx := ex.FieldIndex(fi.Name.Lit)
		if idx < 0 {
			c.errorf(UndefinedField, fi.Name.Span(), "exception %s has no field %s", ex.Name, fi.Name.Lit)
			continue
		}
		seen[fi.Name.Lit] = true
		want := ex.Fields[idx].Type
		value := ast.Expr(fi.Name)
		if fi.Value != nil {
			value = fi.Value
		}
		got := c.inferExpr(value, want)
		c.unify(want, got, value.Span())
	}
	for _, f := range ex.Fields {
		if !seen[f.Name] {
			c.errorf(UndefinedField, e.Span(), "missing field %s in literal of exception %s", f.Name, ex.Name)
		}
	}
	return ex
}

func (c *Checker) inferIfExpr(e *ast.IfExpr, expected types.Type, valueUsed bool) types.Type {
	cond := c.inferExpr(e.Cond, types.BoolType)
	c.unify(types.BoolType, cond, e.Cond.Span())

	if !valueUsed || e.Else == nil {
		// statement position, or no else: all arms are unit
		c.inferBlock(e.Then, types.UnitType)
		for _, ei := range e.ElseIfs {
			ct := c.inferExpr(ei.Cond, types.BoolType)
			c.unify(types.BoolType, ct, ei.Cond.Span())
			c.inferBlock(ei.Then, types.UnitType)
		}
		if e.Else != nil {
			c.inferBlock(e.Else, types.UnitType)
		}
		return types.UnitType
	}

	result := c.inferBlock(e.Then, expected)
	for _, ei := range e.ElseIfs {
		ct := c.inferExpr(ei.Cond, types.BoolType)
		c.unify(types.BoolType, ct, ei.Cond.Span())
		got := c.inferBlock(ei.Then, result)
		c.unify(result, got, ei.Then.Span())
	}
	got := c.inferBlock(e.Else, result)
	c.unify(result, got, e.Else.Span())
	return result
}

func (c *Checker) inferLambdaExpr(e *ast.LambdaExpr, expected types.Type) types.Type {
	ft := &types.Func{Ret: types.NewVar()}
	want, _ := expected.Resolve().(*types.Func)

	for i, p := range e.Params {
		var pt types.Type = types.NewVar()
		if p.Type != nil {
			pt = c.resolveTypeExpr(p.Type, nil)
		} else if want != nil && i < len(want.Params) {
			pt = want.Params[i]
		}
		ft.Params = append(ft.Params, pt)
	}
	if e.Ret != nil {
		ft.Ret = c.resolveTypeExpr(e.Ret, nil)
	} else if want != nil {
		ft.Ret = want.Ret
	}

	c.pushScope()
	for i, p := range e.Params {
		c.define(p.Name.Lit, &Binding{Type: ft.Params[i], Initialized: true})
	}
	frame := &funcFrame{ret: ft.Ret, typeParams: map[string]*typeParamBinding{}}
	c.frames = append(c.frames, frame)

	if e.Arrow != nil {
		got := c.inferExpr(e.Arrow, ft.Ret)
		c.unify(ft.Ret, got, e.Arrow.Span())
	} else {
		got := c.inferBlock(e.Body, ft.Ret)
		if e.Body.Tail != nil {
			c.unify(ft.Ret, got, e.Body.Span())
		} else if !c.blockTerminates(e.Body) {
			// no tail and no return on every path: the lambda yields unit
			c.unify(ft.Ret, types.UnitType, e.Body.Span())
		}
	}

	c.frames = c.frames[:len(c.frames)-1]
	c.popScope()
	return ft
}

func (c *Checker) inferSpawnExpr(e *ast.SpawnExpr) types.Type {
	if e.Block != nil {
		c.pushScope()
		c.inferBlock(e.Block, types.UnitType)
		c.popScope()
		return &types.Task{Inner: types.UnitType}
	}
	got := c.inferExpr(e.Call, types.NewVar())
	return &types.Task{Inner: got}
}

func (c *Checker) inferTryCatchExpr(e *ast.TryCatchExpr) types.Type {
	saved := c.inTryBlock
	c.inTryBlock = true
	c.inferBlock(e.Body, types.UnitType)
	c.inTryBlock = saved

	for _, cl := range e.Catches {
		ex, ok := c.symtab.Type(cl.Name.Lit).(*types.Exception)
		if !ok {
			c.errorf(UndefinedType, cl.Name.Span(), "undefined exception %s", cl.Name.Lit)
			ex = &types.Exception{Name: cl.Name.Lit}
		}
		c.pushScope()
		if cl.Binding != nil {
			c.define(cl.Binding.Lit, &Binding{Type: ex, Initialized: true})
		}
		c.inferBlock(cl.Body, types.UnitType)
		c.popScope()
	}
	return types.UnitType
}

// inferPathExpr types a qualified path: an enum variant reference, or a
// module-qualified symbol.
func (c *Checker) inferPathExpr(e *ast.PathExpr, payloadArgs []ast.Expr) types.Type {
	head := e.Segments[0].Lit
	last := e.Segments[len(e.Segments)-1].Lit

	if en, ok := c.symtab.Type(head).(*types.Enum); ok {
		idx := en.VariantIndex(last)
		if idx < 0 {
			c.errorf(UndefinedField, e.Span(), "enum %s has no variant %s", en.Name, last)
			return types.ErrorType
		}
		v := en.Variants[idx]
		if len(v.Payload) > 0 && payloadArgs == nil {
			// a payload-carrying variant used without a call produces a
			// constructor function
			return &types.Func{Params: v.Payload, Ret: en}
		}
		return en
	}

	// module-qualified function: modules import their public symbols under
	// the plain name, the qualified form stays valid
	if sig := c.symtab.Func(last); sig != nil {
		if !sig.Pub && c.isModuleQualified(head) {
			c.errorf(PrivateSymbol, e.Span(), "%s is private to module %s", last, head)
			return types.ErrorType
		}
		if sig.IsGeneric() {
			c.errorf(InferenceFailed, e.Span(),
				"generic function %s requires a call site to infer its type arguments", last)
			return types.ErrorType
		}
		return sig.Type
	}
	if c.isModuleQualified(head) {
		c.errorf(UnknownModuleSymbol, e.Span(), "module %s has no symbol %s", head, last)
	} else {
		c.errorf(UnknownModule, e.Span(), "unknown module or type %s", head)
	}
	return types.ErrorType
}

func (c *Checker) isModuleQualified(head string) bool {
	return c.loading[head] || c.loaded[head]
}

// exprThrows reports whether evaluating e can set the exception slot.
func (c *Checker) exprThrows(e ast.Expr) bool {
	switch e := ast.Unwrap(e).(type) {
	case *ast.CallExpr:
		if id, ok := ast.Unwrap(e.Fn).(*ast.IdentExpr); ok {
			if sig := c.symtab.Func(id.Lit); sig != nil {
				return len(sig.Type.Throws) > 0
			}
		}
		if t, ok := c.ann.TypeOf(e.Fn.Span()); ok {
			if ft, ok := t.(*types.Func); ok {
				return len(ft.Throws) > 0
			}
		}
	case *ast.MethodCallExpr:
		if recv, ok := c.ann.TypeOf(e.Recv.Span()); ok {
			if m := c.symtab.Method(typeName(recv), e.Name.Lit); m != nil {
				return len(m.Type.Throws) > 0
			}
		}
	}
	return false
}

func typeName(t types.Type) string {
	switch t := t.Resolve().(type) {
	case *types.Struct:
		return t.Name
	case *types.Enum:
		return t.Name
	case *types.Exception:
		return t.Name
	case *types.Interface:
		return t.Name
	}
	return ""
}
