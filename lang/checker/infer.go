package checker

import (
	"github.com/kahflane/naml/lang/ast"
	"github.com/kahflane/naml/lang/token"
	"github.com/kahflane/naml/lang/types"
)

// unify makes want and got equal, reporting a TypeMismatch at sp when it
// cannot.
func (c *Checker) unify(want, got types.Type, sp token.Span) {
	if err := types.Unify(want, got); err != nil {
		c.errorf(TypeMismatch, sp, "%s", err)
	}
}

// resolveTypeExpr converts an AST type annotation to a checker type. tps is
// the set of in-scope type parameter names of the enclosing definition.
func (c *Checker) resolveTypeExpr(t ast.TypeExpr, tps map[string]bool) types.Type {
	switch t := t.(type) {
	case *ast.NamedType:
		return c.resolveNamedType(t, tps)

	case *ast.ArrayType:
		elem := c.resolveTypeExpr(t.Elem, tps)
		if t.Size >= 0 {
			return &types.FixedArray{Elem: elem, Size: t.Size}
		}
		return &types.Array{Elem: elem}

	case *ast.FnType:
		ft := &types.Func{Ret: types.UnitType}
		for _, p := range t.Params {
			ft.Params = append(ft.Params, c.resolveTypeExpr(p, tps))
		}
		if t.Ret != nil {
			ft.Ret = c.resolveTypeExpr(t.Ret, tps)
		}
		return ft

	case *ast.UnitType:
		return types.UnitType
	}
	c.errorf(UndefinedType, t.Span(), "unsupported type annotation")
	return types.ErrorType
}

func (c *Checker) resolveNamedType(t *ast.NamedType, tps map[string]bool) types.Type {
	name := t.Segments[len(t.Segments)-1].Lit

	var args []types.Type
	for _, a := range t.Args {
		args = append(args, c.resolveTypeExpr(a, tps))
	}

	one := func(label string) types.Type {
		if len(args) != 1 {
			c.errorf(WrongTypeArgCount, t.Span(), "%s takes exactly 1 type argument", label)
			return types.ErrorType
		}
		return args[0]
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
		return &types.Array{Elem: one("array")}
	case "option":
		return &types.Option{Inner: one("option")}
	case "map":
		if len(args) != 2 {
			c.errorf(WrongTypeArgCount, t.Span(), "map takes exactly 2 type arguments")
			return types.ErrorType
		}
		return &types.Map{Key: args[0], Value: args[1]}
	case "channel":
		return &types.Channel{Elem: one("channel")}
	case "mutex":
		return &types.Mutex{Inner: one("mutex")}
	case "rwlock":
		return &types.Rwlock{Inner: one("rwlock")}
	case "atomic":
		inner := one("atomic")
		if !types.IsInteger(inner) && types.BoolType.Resolve() != inner.Resolve() {
			c.errorf(InvalidOperation, t.Span(), "atomic requires int, uint or bool, found %s", inner)
		}
		return &types.Atomic{Inner: inner}
	case "task":
		return &types.Task{Inner: one("task")}
	}

	// in-scope type parameter of the enclosing generic definition
	if tps[name] && len(args) == 0 {
		return &types.Generic{Name: name}
	}
	if tp := c.typeParam(name); tp != nil && len(args) == 0 {
		if tp.concrete != nil {
			return tp.concrete
		}
		return &types.Generic{Name: name}
	}

	if def := c.symtab.Type(name); def != nil {
		if len(args) == 0 {
			return def
		}
		switch def := def.(type) {
		case *types.Struct:
			if len(args) != len(def.TypeParams) {
				c.errorf(WrongTypeArgCount, t.Span(), "%s takes %d type arguments, found %d",
					name, len(def.TypeParams), len(args))
				return types.ErrorType
			}
			return c.instantiateStruct(def, args)
		case *types.Enum:
			if len(args) != len(def.TypeParams) {
				c.errorf(WrongTypeArgCount, t.Span(), "%s takes %d type arguments, found %d",
					name, len(def.TypeParams), len(args))
				return types.ErrorType
			}
			return c.instantiateEnum(def, args)
		}
		c.errorf(WrongTypeArgCount, t.Span(), "%s does not take type arguments", name)
		return types.ErrorType
	}

	c.errorf(UndefinedType, t.Span(), "undefined type %s", name)
	return types.ErrorType
}

// inferFn checks one function or method body.
func (c *Checker) inferFn(it *ast.FnItem) {
	sig := &types.Func{Ret: types.UnitType}
	tps := typeParamNames(it.TypeParams)
	for _, p := range it.Params {
		sig.Params = append(sig.Params, c.resolveTypeExpr(p.Type, tps))
	}
	if it.Ret != nil {
		sig.Ret = c.resolveTypeExpr(it.Ret, tps)
	}
	for _, th := range it.Throws {
		sig.Throws = append(sig.Throws, c.resolveTypeExpr(th, tps))
	}
	c.inferFnWith(it, sig, nil)
}

// inferFnWith checks a function body against the provided signature, with
// an optional concrete binding map for its type parameters (used when
// checking monomorphized instances of generic functions).
func (c *Checker) inferFnWith(it *ast.FnItem, sig *types.Func, bindings map[string]types.Type) {
	frame := &funcFrame{
		ret:        sig.Ret,
		throws:     sig.Throws,
		async:      it.Async,
		typeParams: make(map[string]*typeParamBinding, len(it.TypeParams)),
	}
	for _, tp := range it.TypeParams {
		b := &typeParamBinding{}
		for _, bd := range tp.Bounds {
			if in, ok := c.symtab.Type(bd.Lit).(*types.Interface); ok {
				b.bounds = append(b.bounds, in)
			}
		}
		if bindings != nil {
			b.concrete = bindings[tp.Name.Lit]
		}
		frame.typeParams[tp.Name.Lit] = b
	}
	c.frames = append(c.frames, frame)
	c.pushScope()

	if it.Recv != nil {
		recvType := c.resolveTypeExpr(it.Recv.Type, nil)
		c.define(it.Recv.Name.Lit, &Binding{Type: recvType, Initialized: true})
	}
	for i, p := range it.Params {
		c.define(p.Name.Lit, &Binding{Type: sig.Params[i], Initialized: true})
	}

	c.inferBlock(it.Body, types.UnitType)

	if !types.IsUnit(sig.Ret) && !c.blockTerminates(it.Body) {
		c.errorf(MissingReturn, it.Name.Span(),
			"function %s: not all paths return a value of type %s", it.Name.Lit, sig.Ret)
	}

	c.popScope()
	c.frames = c.frames[:len(c.frames)-1]
}

// inferBlock checks a block's statements and returns the type of its tail
// expression (unit when there is none). expected constrains the tail.
func (c *Checker) inferBlock(b *ast.BlockExpr, expected types.Type) types.Type {
	c.pushScope()
	defer c.popScope()

	for i, s := range b.Stmts {
		c.inferStmt(s)
		if s.BlockEnding() && (i < len(b.Stmts)-1 || b.Tail != nil) {
			var at token.Span
			if i < len(b.Stmts)-1 {
				at = b.Stmts[i+1].Span()
			} else {
				at = b.Tail.Span()
			}
			c.errorf(UnreachableCode, at, "unreachable code")
			break
		}
	}
	if b.Tail != nil {
		got := c.inferExpr(b.Tail, expected)
		c.unify(expected, got, b.Tail.Span())
		return got
	}
	return types.UnitType
}

func (c *Checker) inferStmt(s ast.Stmt) {
	switch s := s.(type) {
	case *ast.VarStmt:
		c.inferVarStmt(s)

	case *ast.AssignStmt:
		c.inferAssignStmt(s)

	case *ast.ReturnStmt:
		frame := c.frame()
		want := types.Type(types.UnitType)
		if frame != nil {
			want = frame.ret
		}
		if s.Value == nil {
			if !types.IsUnit(want) {
				c.errorf(TypeMismatch, s.Span(), "expected %s, found ()", want)
			}
			return
		}
		got := c.inferExpr(s.Value, want)
		c.unify(want, got, s.Value.Span())

	case *ast.ThrowStmt:
		got := c.inferExpr(s.Value, types.NewVar())
		if _, ok := got.Resolve().(*types.Exception); !ok && got.Resolve() != types.ErrorType {
			c.errorf(InvalidOperation, s.Value.Span(), "throw requires an exception, found %s", got)
			return
		}
		frame := c.frame()
		if frame == nil || len(frame.throws) == 0 {
			if !c.inTryBlock {
				c.errorf(InvalidOperation, s.Span(), "throw in a function without a throws clause")
			}
		}

	case *ast.BreakStmt:
		if c.loop == 0 {
			c.errorf(BreakOutsideLoop, s.Span(), "break outside of a loop")
		}

	case *ast.ContinueStmt:
		if c.loop == 0 {
			c.errorf(ContinueOutsideLoop, s.Span(), "continue outside of a loop")
		}

	case *ast.WhileStmt:
		got := c.inferExpr(s.Cond, types.BoolType)
		c.unify(types.BoolType, got, s.Cond.Span())
		c.loop++
		c.inferBlock(s.Body, types.UnitType)
		c.loop--

	case *ast.ForStmt:
		elem := c.inferIterable(s.Range)
		c.pushScope()
		c.define(s.Bind.Lit, &Binding{Type: elem, Initialized: true})
		c.loop++
		c.inferBlock(s.Body, types.UnitType)
		c.loop--
		c.popScope()

	case *ast.LoopStmt:
		c.loop++
		c.inferBlock(s.Body, types.UnitType)
		c.loop--

	case *ast.SwitchStmt:
		c.inferSwitchStmt(s)

	case *ast.IfStmt:
		c.inferIfExpr(s.If, types.UnitType, false)

	case *ast.BlockStmt:
		c.inferBlock(s.Block, types.UnitType)

	case *ast.ExprStmt:
		c.inferExpr(s.Value, types.NewVar())

	case *ast.BadStmt:
		// a parse error was already reported
	}
}

func (c *Checker) inferVarStmt(s *ast.VarStmt) {
	if c.definedInCurrentScope(s.Name.Lit) {
		c.errorf(DuplicateDefinition, s.Name.Span(), "%s is already defined in this scope", s.Name.Lit)
	}
	var want types.Type = types.NewVar()
	if s.Type != nil {
		want = c.resolveTypeExpr(s.Type, nil)
	}
	got := c.inferExpr(s.Value, want)
	c.unify(want, got, s.Value.Span())
	c.define(s.Name.Lit, &Binding{Type: want, Mutable: s.Mut && !s.Const, Initialized: true})
}

func (c *Checker) inferAssignStmt(s *ast.AssignStmt) {
	target := c.inferExpr(s.Target, types.NewVar())

	// reassignment of a plain identifier requires a mutable binding
	if id, ok := ast.Unwrap(s.Target).(*ast.IdentExpr); ok {
		if b := c.lookup(id.Lit); b != nil && !b.Mutable {
			c.errorf(ImmutableAssignment, s.Target.Span(),
				"cannot assign to %s: binding is not mutable", id.Lit)
		}
	}

	value := c.inferExpr(s.Value, target)
	c.unify(target, value, s.Value.Span())

	if s.Op != token.EQ {
		// compound assignment requires a numeric or bitwise-capable type
		binop := s.Op.BinopFor()
		if binop == token.PLUS {
			if !types.IsNumeric(target) && target.Resolve() != types.StringType.Resolve() {
				c.errorf(InvalidBinaryOp, s.Span(), "operator %s requires numeric or string operands, found %s", binop, target)
			}
		} else if binop == token.MINUS || binop == token.STAR || binop == token.SLASH || binop == token.PERCENT {
			if !types.IsNumeric(target) {
				c.errorf(InvalidBinaryOp, s.Span(), "operator %s requires numeric operands, found %s", binop, target)
			}
		} else if !types.IsInteger(target) {
			c.errorf(InvalidBinaryOp, s.Span(), "operator %s requires integer operands, found %s", binop, target)
		}
	}
}

// inferIterable returns the element type of a for-in range: a range yields
// int, an array its element type, a map its key type, a string its
// characters as strings.
func (c *Checker) inferIterable(e ast.Expr) types.Type {
	got := c.inferExpr(e, types.NewVar()).Resolve()
	switch t := got.(type) {
	case *types.Range:
		return types.IntType
	case *types.Array:
		return t.Elem
	case *types.FixedArray:
		return t.Elem
	case *types.Map:
		return t.Key
	case *types.Prim:
		if t.Kind == types.String {
			return types.StringType
		}
	}
	if got == types.ErrorType {
		return types.ErrorType
	}
	c.errorf(NotIterable, e.Span(), "type %s is not iterable", got)
	return types.ErrorType
}

func (c *Checker) inferSwitchStmt(s *ast.SwitchStmt) {
	val := c.inferExpr(s.Value, types.NewVar())

	for _, cs := range s.Cases {
		c.pushScope()
		if cs.Pattern != nil {
			c.inferPattern(cs.Pattern, val)
		}
		c.inferBlock(cs.Body, types.UnitType)
		c.popScope()
	}
}

func (c *Checker) inferPattern(p ast.Pattern, val types.Type) {
	switch p := p.(type) {
	case *ast.LiteralPat:
		got := c.literalType(p.Lit, val)
		c.unify(val, got, p.Span())

	case *ast.BindPat:
		// a bare identifier naming a variant of the switched enum matches
		// that variant; otherwise it binds the value
		if en, ok := val.Resolve().(*types.Enum); ok {
			if i := en.VariantIndex(p.Name.Lit); i >= 0 {
				if len(en.Variants[i].Payload) > 0 {
					c.errorf(WrongArgCount, p.Span(), "variant %s has %d fields, pattern binds 0",
						p.Name.Lit, len(en.Variants[i].Payload))
				}
				return
			}
		}
		c.define(p.Name.Lit, &Binding{Type: val, Initialized: true})

	case *ast.VariantPat:
		en, ok := val.Resolve().(*types.Enum)
		if !ok {
			if val.Resolve() != types.ErrorType {
				c.errorf(InvalidOperation, p.Span(), "variant pattern requires an enum, found %s", val)
			}
			return
		}
		vname := p.Segments[len(p.Segments)-1].Lit
		if len(p.Segments) > 1 && p.Segments[0].Lit != en.Name {
			c.errorf(UndefinedType, p.Segments[0].Span(), "pattern names %s, switching on %s", p.Segments[0].Lit, en.Name)
		}
		idx := en.VariantIndex(vname)
		if idx < 0 {
			c.errorf(UndefinedField, p.Span(), "enum %s has no variant %s", en.Name, vname)
			return
		}
		payload := en.Variants[idx].Payload
		if len(p.Binds) != len(payload) {
			c.errorf(WrongArgCount, p.Span(), "variant %s has %d fields, pattern binds %d",
				vname, len(payload), len(p.Binds))
			return
		}
		for i, b := range p.Binds {
			c.define(b.Lit, &Binding{Type: payload[i], Initialized: true})
		}

	case *ast.WildcardPat:
		// matches anything
	}
}

func (c *Checker) literalType(lit *ast.LiteralExpr, expected types.Type) types.Type {
	switch lit.Kind {
	case ast.LitInt:
		// integer literals adapt to an expected uint or float
		switch expected.Resolve() {
		case types.UintType.Resolve():
			return types.UintType
		case types.FloatType.Resolve():
			return types.FloatType
		}
		return types.IntType
	case ast.LitFloat:
		return types.FloatType
	case ast.LitString:
		return types.StringType
	case ast.LitBool:
		return types.BoolType
	case ast.LitNone:
		if opt, ok := expected.Resolve().(*types.Option); ok {
			return opt
		}
		return &types.Option{Inner: types.NewVar()}
	}
	return types.ErrorType
}
