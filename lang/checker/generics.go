package checker

import (
	"strings"

	"github.com/kahflane/naml/lang/ast"
	"github.com/kahflane/naml/lang/token"
	"github.com/kahflane/naml/lang/types"
)

// substitute replaces Generic type-parameter references by the types in the
// substitution map, recursing through composite types.
func substitute(t types.Type, sub map[string]types.Type) types.Type {
	switch t := t.Resolve().(type) {
	case *types.Generic:
		if r, ok := sub[t.Name]; ok && len(t.Args) == 0 {
			return r
		}
		args := make([]types.Type, len(t.Args))
		for i, a := range t.Args {
			args[i] = substitute(a, sub)
		}
		return &types.Generic{Name: t.Name, Args: args}
	case *types.Array:
		return &types.Array{Elem: substitute(t.Elem, sub)}
	case *types.FixedArray:
		return &types.FixedArray{Elem: substitute(t.Elem, sub), Size: t.Size}
	case *types.Option:
		return &types.Option{Inner: substitute(t.Inner, sub)}
	case *types.Map:
		return &types.Map{Key: substitute(t.Key, sub), Value: substitute(t.Value, sub)}
	case *types.Channel:
		return &types.Channel{Elem: substitute(t.Elem, sub)}
	case *types.Task:
		return &types.Task{Inner: substitute(t.Inner, sub)}
	case *types.Mutex:
		return &types.Mutex{Inner: substitute(t.Inner, sub)}
	case *types.Rwlock:
		return &types.Rwlock{Inner: substitute(t.Inner, sub)}
	case *types.Atomic:
		return &types.Atomic{Inner: substitute(t.Inner, sub)}
	case *types.Func:
		f := &types.Func{Ret: substitute(t.Ret, sub), Variadic: t.Variadic}
		for _, p := range t.Params {
			f.Params = append(f.Params, substitute(p, sub))
		}
		f.Throws = t.Throws
		return f
	}
	return t
}

// instantiateStruct returns a copy of def with its type parameters replaced
// by args in every field type.
func (c *Checker) instantiateStruct(def *types.Struct, args []types.Type) *types.Struct {
	sub := make(map[string]types.Type, len(def.TypeParams))
	for i, tp := range def.TypeParams {
		sub[tp.Name] = args[i]
	}
	st := &types.Struct{
		Name:       def.Name,
		TypeParams: def.TypeParams,
		TypeArgs:   args,
		Implements: def.Implements,
	}
	for _, f := range def.Fields {
		st.Fields = append(st.Fields, types.Field{
			Name: f.Name,
			Type: substitute(f.Type, sub),
			Pub:  f.Pub,
		})
	}
	return st
}

// instantiateEnum returns a copy of def with its type parameters replaced
// by args in every variant payload.
func (c *Checker) instantiateEnum(def *types.Enum, args []types.Type) *types.Enum {
	sub := make(map[string]types.Type, len(def.TypeParams))
	for i, tp := range def.TypeParams {
		sub[tp.Name] = args[i]
	}
	en := &types.Enum{Name: def.Name, TypeParams: def.TypeParams, TypeArgs: args}
	for _, v := range def.Variants {
		nv := types.Variant{Name: v.Name}
		for _, p := range v.Payload {
			nv.Payload = append(nv.Payload, substitute(p, sub))
		}
		en.Variants = append(en.Variants, nv)
	}
	return en
}

// MangleName returns the linker-safe name of one specialization of a
// generic function, e.g. id_int or pair_int_string.
func MangleName(fnName string, args []types.Type) string {
	var sb strings.Builder
	sb.WriteString(fnName)
	for _, a := range args {
		sb.WriteByte('_')
		sb.WriteString(mangleType(a))
	}
	return sb.String()
}

func mangleType(t types.Type) string {
	switch t := t.Resolve().(type) {
	case *types.Array:
		return "arr_" + mangleType(t.Elem)
	case *types.FixedArray:
		return "arr_" + mangleType(t.Elem)
	case *types.Option:
		return "opt_" + mangleType(t.Inner)
	case *types.Map:
		return "map_" + mangleType(t.Key) + "_" + mangleType(t.Value)
	case *types.Struct:
		return t.Name
	case *types.Enum:
		return t.Name
	case *types.Exception:
		return t.Name
	}
	s := t.Resolve().String()
	s = strings.Map(func(r rune) rune {
		switch r {
		case '(', ')', '<', '>', ' ', ',', '[', ']', '?':
			return -1
		}
		return r
	}, s)
	if s == "" {
		s = "unit"
	}
	return s
}

// inferGenericCall instantiates a generic function at a call site: fresh
// unification variables replace the type parameters, arguments unify with
// the instantiated parameter types, bounds are checked against the solved
// bindings, and a monomorphization record is emitted for codegen.
func (c *Checker) inferGenericCall(sig *FuncSig, call *ast.CallExpr, sp token.Span) types.Type {
	sub := make(map[string]types.Type, len(sig.TypeParams))

	if len(call.TypeArgs) > 0 {
		if len(call.TypeArgs) != len(sig.TypeParams) {
			c.errorf(WrongTypeArgCount, sp, "%s takes %d type arguments, found %d",
				sig.Name, len(sig.TypeParams), len(call.TypeArgs))
			return types.ErrorType
		}
		for i, ta := range call.TypeArgs {
			sub[sig.TypeParams[i].Name] = c.resolveTypeExpr(ta, nil)
		}
	} else {
		for _, tp := range sig.TypeParams {
			sub[tp.Name] = types.NewVar()
		}
	}

	inst := substitute(sig.Type, sub).(*types.Func)
	c.checkArgs(inst, call.Args, sp)

	// the solved bindings must be concrete and satisfy the bounds
	concrete := make([]types.Type, 0, len(sig.TypeParams))
	boundsOK := true
	for _, tp := range sig.TypeParams {
		bound := sub[tp.Name].Resolve()
		if v, ok := bound.(*types.Var); ok {
			c.errorf(InferenceFailed, sp,
				"cannot infer type argument %s of %s (?%d unresolved)", tp.Name, sig.Name, v.ID)
			return types.ErrorType
		}
		if !c.checkBounds(tp, bound, sp) {
			boundsOK = false
		}
		concrete = append(concrete, bound)
	}
	if !boundsOK {
		return types.ErrorType
	}

	mangled := MangleName(sig.Name, concrete)
	c.ann.addMono(MonoRecord{FnName: sig.Name, Args: concrete, Mangled: mangled})

	// check the retained generic body against this concrete instantiation
	if sig.Decl != nil && !c.monoChecked[mangled] {
		c.monoChecked[mangled] = true
		bindings := make(map[string]types.Type, len(sig.TypeParams))
		for i, tp := range sig.TypeParams {
			bindings[tp.Name] = concrete[i]
		}
		c.inferFnWith(sig.Decl, inst, bindings)
	}

	return inst.Ret
}

// checkBounds verifies that a concrete binding satisfies a type parameter's
// interface bounds: the type's implements list contains the interface, or
// the type structurally provides every method.
func (c *Checker) checkBounds(tp types.TypeParam, concrete types.Type, sp token.Span) bool {
	ok := true
	for _, bound := range tp.Bounds {
		if c.satisfiesBound(concrete, bound) {
			continue
		}
		c.errorf(BoundNotSatisfied, sp,
			"type %s does not satisfy bound %s of type parameter %s", concrete, bound.Name, tp.Name)
		ok = false
	}
	return ok
}

func (c *Checker) satisfiesBound(t types.Type, bound *types.Interface) bool {
	st, ok := t.Resolve().(*types.Struct)
	if !ok {
		return false
	}
	for _, im := range st.Implements {
		if im == bound.Name {
			return true
		}
	}
	// structural match: every interface method present with a unifiable
	// signature
	for _, im := range bound.Methods {
		m := c.symtab.Method(st.Name, im.Name)
		if m == nil {
			return false
		}
		want := &types.Func{Params: im.Params, Ret: im.Ret, Throws: im.Throws}
		if err := types.Unify(m.Type, want); err != nil {
			return false
		}
	}
	return true
}

// boundMethod resolves a method call on a value of generic-parameter type
// by searching the parameter's interface bounds.
func (c *Checker) boundMethod(g *types.Generic, name string, sp token.Span) *types.Method {
	tp := c.typeParam(g.Name)
	if tp == nil {
		c.errorf(UndefinedType, sp, "unknown type parameter %s", g.Name)
		return nil
	}
	for _, bound := range tp.bounds {
		if m := bound.Method(name); m != nil {
			return m
		}
	}
	c.errorf(NoBoundForMethod, sp,
		"no bound of type parameter %s provides method %s", g.Name, name)
	return nil
}
