package checker

import (
	"github.com/kahflane/naml/lang/ast"
	"github.com/kahflane/naml/lang/token"
	"github.com/kahflane/naml/lang/types"
)

// builtinSigs are the signatures of the predeclared runtime functions.
// print is handled separately because it accepts any printable type.
var builtinSigs = map[string]*types.Func{
	"wait_all":        {Ret: types.UnitType},
	"sleep":           {Params: []types.Type{types.IntType}, Ret: types.UnitType},
	"worker_count":    {Ret: types.IntType},
	"active_tasks":    {Ret: types.IntType},
	"panic":           {Params: []types.Type{types.StringType}, Ret: types.NeverType},
	"set_timeout":     {Params: []types.Type{&types.Func{Ret: types.UnitType}, types.IntType}, Ret: types.IntType},
	"cancel_timeout":  {Params: []types.Type{types.IntType}, Ret: types.UnitType},
	"set_interval":    {Params: []types.Type{&types.Func{Ret: types.UnitType}, types.IntType}, Ret: types.IntType},
	"cancel_interval": {Params: []types.Type{types.IntType}, Ret: types.UnitType},
	"schedule": {
		Params: []types.Type{types.StringType, &types.Func{Ret: types.UnitType}},
		Ret:    types.IntType,
		Throws: []types.Type{&types.Exception{Name: "ScheduleError"}},
	},
	"cancel_schedule": {Params: []types.Type{types.IntType}, Ret: types.UnitType},
	"next_run":        {Params: []types.Type{types.IntType}, Ret: &types.Option{Inner: types.IntType}},
}

func (c *Checker) inferCallExpr(e *ast.CallExpr, expected types.Type) types.Type {
	// enum variant construction through a qualified path
	if pe, ok := ast.Unwrap(e.Fn).(*ast.PathExpr); ok {
		if en, ok := c.symtab.Type(pe.Segments[0].Lit).(*types.Enum); ok {
			return c.inferVariantCall(en, pe, e)
		}
	}

	if id, ok := ast.Unwrap(e.Fn).(*ast.IdentExpr); ok && c.lookup(id.Lit) == nil {
		// print accepts one argument of any printable type
		if id.Lit == "print" {
			if len(e.Args) != 1 {
				c.errorf(WrongArgCount, e.Span(), "print takes 1 argument, found %d", len(e.Args))
			}
			for _, a := range e.Args {
				c.inferExpr(a, types.NewVar())
			}
			c.ann.set(e.Fn.Span(), &types.Func{Params: []types.Type{types.NewVar()}, Ret: types.UnitType})
			return types.UnitType
		}

		if ft, ok := builtinSigs[id.Lit]; ok {
			c.ann.set(e.Fn.Span(), ft)
			c.checkArgs(ft, e.Args, e.Span())
			return ft.Ret
		}

		if t := c.inferSyncCtor(id.Lit, e); t != nil {
			return t
		}

		if sig := c.symtab.Func(id.Lit); sig != nil {
			if sig.IsGeneric() {
				c.ann.set(e.Fn.Span(), sig.Type)
				return c.inferGenericCall(sig, e, e.Span())
			}
			if len(e.TypeArgs) > 0 {
				c.errorf(WrongTypeArgCount, e.Span(), "%s is not generic", id.Lit)
			}
			c.ann.set(e.Fn.Span(), sig.Type)
			c.checkArgs(sig.Type, e.Args, e.Span())
			return sig.Type.Ret
		}
	}

	// calling an arbitrary expression: lambdas, function-typed bindings
	fnType := c.inferExpr(e.Fn, types.NewVar())
	ft, ok := fnType.Resolve().(*types.Func)
	if !ok {
		if fnType.Resolve() != types.ErrorType {
			c.errorf(NotCallable, e.Fn.Span(), "type %s is not callable", fnType)
		}
		for _, a := range e.Args {
			c.inferExpr(a, types.NewVar())
		}
		return types.ErrorType
	}
	c.checkArgs(ft, e.Args, e.Span())
	return ft.Ret
}

// inferSyncCtor types the constructors of the synchronization objects:
// channel<T>(cap), mutex<T>(initial), rwlock<T>(initial) and
// atomic<T>(initial). It returns nil when name is not one of them.
func (c *Checker) inferSyncCtor(name string, e *ast.CallExpr) types.Type {
	switch name {
	case "channel", "mutex", "rwlock", "atomic":
	default:
		return nil
	}
	if len(e.TypeArgs) != 1 {
		c.errorf(WrongTypeArgCount, e.Span(), "%s takes exactly 1 type argument", name)
		return types.ErrorType
	}
	inner := c.resolveTypeExpr(e.TypeArgs[0], nil)

	var want types.Type = inner
	var result types.Type
	switch name {
	case "channel":
		want = types.IntType // buffer capacity
		result = &types.Channel{Elem: inner}
	case "mutex":
		result = &types.Mutex{Inner: inner}
	case "rwlock":
		result = &types.Rwlock{Inner: inner}
	case "atomic":
		if !types.IsInteger(inner) && inner.Resolve() != types.BoolType.Resolve() {
			c.errorf(InvalidOperation, e.Span(), "atomic requires int, uint or bool, found %s", inner)
		}
		result = &types.Atomic{Inner: inner}
	}
	if len(e.Args) != 1 {
		c.errorf(WrongArgCount, e.Span(), "%s takes 1 argument, found %d", name, len(e.Args))
	}
	for _, a := range e.Args {
		got := c.inferExpr(a, want)
		c.unify(want, got, a.Span())
	}
	return result
}

func (c *Checker) inferVariantCall(en *types.Enum, pe *ast.PathExpr, e *ast.CallExpr) types.Type {
	vname := pe.Segments[len(pe.Segments)-1].Lit
	idx := en.VariantIndex(vname)
	if idx < 0 {
		c.errorf(UndefinedField, pe.Span(), "enum %s has no variant %s", en.Name, vname)
		return types.ErrorType
	}
	v := en.Variants[idx]
	if len(e.Args) != len(v.Payload) {
		c.errorf(WrongArgCount, e.Span(), "variant %s takes %d arguments, found %d",
			vname, len(v.Payload), len(e.Args))
	}
	for i, a := range e.Args {
		if i >= len(v.Payload) {
			c.inferExpr(a, types.NewVar())
			continue
		}
		got := c.inferExpr(a, v.Payload[i])
		c.unify(v.Payload[i], got, a.Span())
	}
	c.ann.set(pe.Span(), &types.Func{Params: v.Payload, Ret: en})
	return en
}

// checkArgs verifies argument count and unifies each argument with its
// parameter type. Variadic functions accept any number of trailing
// arguments of the final parameter's type.
func (c *Checker) checkArgs(ft *types.Func, args []ast.Expr, sp token.Span) {
	if ft.Variadic {
		fixed := len(ft.Params) - 1
		if len(args) < fixed {
			c.errorf(WrongArgCount, sp, "expected at least %d arguments, found %d", fixed, len(args))
		}
		for i, a := range args {
			want := ft.Params[fixed]
			if i < fixed {
				want = ft.Params[i]
			}
			got := c.inferExpr(a, want)
			c.unify(want, got, a.Span())
		}
		return
	}

	if len(args) != len(ft.Params) {
		c.errorf(WrongArgCount, sp, "expected %d arguments, found %d", len(ft.Params), len(args))
	}
	for i, a := range args {
		if i >= len(ft.Params) {
			c.inferExpr(a, types.NewVar())
			continue
		}
		got := c.inferExpr(a, ft.Params[i])
		c.unify(ft.Params[i], got, a.Span())
	}
}

func (c *Checker) inferMethodCallExpr(e *ast.MethodCallExpr) types.Type {
	recv := c.inferExpr(e.Recv, types.NewVar())
	name := e.Name.Lit

	// builtin container methods
	if ft := c.builtinMethodType(recv, name); ft != nil {
		c.checkArgs(ft, e.Args, e.Span())
		return ft.Ret
	}

	switch t := recv.Resolve().(type) {
	case *types.Struct, *types.Enum, *types.Exception:
		tname := typeName(recv)
		m := c.symtab.Method(tname, name)
		if m == nil {
			c.errorf(UndefinedMethod, e.Name.Span(), "type %s has no method %s", tname, name)
			for _, a := range e.Args {
				c.inferExpr(a, types.NewVar())
			}
			return types.ErrorType
		}
		c.checkArgs(m.Type, e.Args, e.Span())
		return m.Type.Ret

	case *types.Interface:
		m := t.Method(name)
		if m == nil {
			c.errorf(UndefinedMethod, e.Name.Span(), "interface %s has no method %s", t.Name, name)
			return types.ErrorType
		}
		ft := &types.Func{Params: m.Params, Ret: m.Ret, Throws: m.Throws}
		c.checkArgs(ft, e.Args, e.Span())
		return m.Ret

	case *types.Generic:
		// method on a generic parameter resolves through its bounds
		m := c.boundMethod(t, name, e.Name.Span())
		if m == nil {
			for _, a := range e.Args {
				c.inferExpr(a, types.NewVar())
			}
			return types.ErrorType
		}
		ft := &types.Func{Params: m.Params, Ret: m.Ret, Throws: m.Throws}
		c.checkArgs(ft, e.Args, e.Span())
		return m.Ret
	}

	if recv.Resolve() != types.ErrorType {
		c.errorf(UndefinedMethod, e.Name.Span(), "type %s has no method %s", recv, name)
	}
	for _, a := range e.Args {
		c.inferExpr(a, types.NewVar())
	}
	return types.ErrorType
}

// builtinMethodType returns the signature of a builtin method on arrays,
// strings, maps, options, channels, locks and atomics, or nil if the
// receiver/name pair is not a builtin.
func (c *Checker) builtinMethodType(recv types.Type, name string) *types.Func {
	fn := func(ret types.Type, params ...types.Type) *types.Func {
		return &types.Func{Params: params, Ret: ret}
	}

	switch t := recv.Resolve().(type) {
	case *types.Array:
		el := t.Elem
		pred := &types.Func{Params: []types.Type{el}, Ret: types.BoolType}
		switch name {
		case "len":
			return fn(types.IntType)
		case "push":
			return fn(types.UnitType, el)
		case "pop":
			return fn(&types.Option{Inner: el})
		case "get":
			return fn(&types.Option{Inner: el}, types.IntType)
		case "set":
			return fn(types.UnitType, types.IntType, el)
		case "first":
			return fn(&types.Option{Inner: el})
		case "last":
			return fn(&types.Option{Inner: el})
		case "contains":
			return fn(types.BoolType, el)
		case "clone":
			return fn(&types.Array{Elem: el})
		case "index_of":
			return fn(&types.Option{Inner: types.IntType}, el)
		case "map":
			u := types.NewVar()
			return fn(&types.Array{Elem: u}, &types.Func{Params: []types.Type{el}, Ret: u})
		case "filter":
			return fn(&types.Array{Elem: el}, pred)
		case "any", "all":
			return fn(types.BoolType, pred)
		case "count":
			return fn(types.IntType, pred)
		case "find":
			return fn(&types.Option{Inner: el}, pred)
		case "find_index":
			return fn(&types.Option{Inner: types.IntType}, pred)
		case "fold":
			u := types.NewVar()
			return fn(u, u, &types.Func{Params: []types.Type{u, el}, Ret: u})
		case "scan":
			u := types.NewVar()
			return fn(&types.Array{Elem: u}, u, &types.Func{Params: []types.Type{u, el}, Ret: u})
		case "sort":
			return fn(types.UnitType)
		case "sort_by":
			return fn(types.UnitType, &types.Func{Params: []types.Type{el, el}, Ret: types.IntType})
		case "sample":
			return fn(&types.Option{Inner: el})
		}

	case *types.Prim:
		if t.Kind != types.String {
			return nil
		}
		switch name {
		case "len":
			return fn(types.IntType)
		case "char_len":
			return fn(types.IntType)
		case "char_at":
			return fn(&types.Option{Inner: types.StringType}, types.IntType)
		case "is_empty":
			return fn(types.BoolType)
		case "trim":
			return fn(types.StringType)
		case "to_int":
			return fn(&types.Option{Inner: types.IntType})
		case "to_float":
			return fn(&types.Option{Inner: types.FloatType})
		case "contains", "starts_with", "ends_with":
			return fn(types.BoolType, types.StringType)
		case "split":
			return fn(&types.Array{Elem: types.StringType}, types.StringType)
		case "index_of":
			return fn(&types.Option{Inner: types.IntType}, types.StringType)
		}

	case *types.Map:
		switch name {
		case "len":
			return fn(types.IntType)
		case "get":
			return fn(&types.Option{Inner: t.Value}, t.Key)
		case "set":
			return fn(types.UnitType, t.Key, t.Value)
		case "contains":
			return fn(types.BoolType, t.Key)
		case "remove":
			return fn(&types.Option{Inner: t.Value}, t.Key)
		case "keys":
			return fn(&types.Array{Elem: t.Key})
		case "values":
			return fn(&types.Array{Elem: t.Value})
		}

	case *types.Option:
		switch name {
		case "is_some":
			return fn(types.BoolType)
		case "is_none":
			return fn(types.BoolType)
		case "unwrap":
			return fn(t.Inner)
		case "unwrap_or":
			return fn(t.Inner, t.Inner)
		}

	case *types.Channel:
		switch name {
		case "send":
			return fn(types.UnitType, t.Elem)
		case "recv":
			return fn(t.Elem)
		case "len":
			return fn(types.IntType)
		}

	case *types.Mutex:
		switch name {
		case "lock":
			return fn(t.Inner)
		case "store":
			return fn(types.UnitType, t.Inner)
		case "with":
			return fn(types.UnitType, &types.Func{Params: []types.Type{t.Inner}, Ret: types.UnitType})
		}

	case *types.Rwlock:
		switch name {
		case "read":
			return fn(t.Inner)
		case "write":
			return fn(types.UnitType, t.Inner)
		}

	case *types.Atomic:
		switch name {
		case "load":
			return fn(t.Inner)
		case "store":
			return fn(types.UnitType, t.Inner)
		case "add":
			if types.IsInteger(t.Inner) {
				return fn(t.Inner, t.Inner)
			}
		case "swap":
			return fn(t.Inner, t.Inner)
		}
	}
	return nil
}
