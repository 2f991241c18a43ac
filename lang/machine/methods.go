package machine

import (
	"fmt"

	"github.com/kahflane/naml/lang/ast"
	"github.com/kahflane/naml/lang/codegen"
	"github.com/kahflane/naml/lang/types"
	"github.com/kahflane/naml/runtime/heap"
	"github.com/kahflane/naml/runtime/value"
)

func (tk *task) evalMethodCall(e *ast.MethodCallExpr) (value.Word, error) {
	recvT := tk.typeOf(e.Recv)
	recv, err := tk.eval(e.Recv)
	if err != nil {
		return 0, err
	}
	recvFresh := !tk.isBorrow(e.Recv)
	defer func() {
		if recvFresh && tk.heapKind(recvT) != heap.ElemNone {
			tk.th.Registry.DecrefElem(recv, tk.elemKind(recvT))
		}
	}()

	if v, handled, err := tk.builtinMethod(e, recvT, recv); handled {
		return v, err
	}

	// user method: TypeName_methodName with the receiver first
	tname := typeHeadName(recvT)
	inst := tk.th.prog.Funcs[codegen.MethodSymbol(tname, e.Name.Lit)]
	if inst == nil {
		return 0, fmt.Errorf("type %s has no method %s", recvT, e.Name.Lit)
	}
	args, temps, err := tk.evalArgs(e.Args)
	if err != nil {
		tk.releaseTemps(temps)
		return 0, err
	}
	v, err := tk.invoke(inst, append([]value.Word{recv}, args...))
	tk.releaseTemps(temps)
	if err != nil {
		return 0, err
	}
	if tk.slot.IsSet() {
		return 0, errThrown
	}
	return v, nil
}

func typeHeadName(t types.Type) string {
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

// closureOf turns an evaluated closure handle into the runtime
// (function, data) invocation shape.
func (tk *task) closureOf(h value.Word) (heap.ClosureFn, value.Word) {
	return tk.th.Registry.ClosureParts(h)
}

//nolint:gocyclo // one arm per builtin method mirrors the runtime surface
func (tk *task) builtinMethod(e *ast.MethodCallExpr, recvT types.Type, recv value.Word) (value.Word, bool, error) {
	r := tk.th.Registry
	name := e.Name.Lit

	arg := func(i int) (value.Word, error) { return tk.eval(e.Args[i]) }

	switch t := recvT.Resolve().(type) {
	case *types.Array:
		elemKind := tk.heapKind(t.Elem)
		switch name {
		case "len":
			return value.FromInt(r.ArrayLen(recv)), true, nil
		case "push":
			v, err := arg(0)
			if err != nil {
				return 0, true, err
			}
			if elemKind != heap.ElemNone && tk.isBorrow(e.Args[0]) {
				r.Incref(v)
			}
			r.ArrayPush(recv, v)
			return 0, true, nil
		case "pop":
			return tk.fromOption(r.ArrayPop(recv)), true, nil
		case "get":
			i, err := arg(0)
			if err != nil {
				return 0, true, err
			}
			if v, ok := r.ArrayGetChecked(recv, i.Int()); ok {
				if elemKind != heap.ElemNone {
					r.Incref(v)
				}
				return tk.makeOption(v, true), true, nil
			}
			return tk.makeOption(0, false), true, nil
		case "set":
			i, err := arg(0)
			if err != nil {
				return 0, true, err
			}
			v, err := arg(1)
			if err != nil {
				return 0, true, err
			}
			if elemKind != heap.ElemNone && tk.isBorrow(e.Args[1]) {
				r.Incref(v)
			}
			old := r.ArrayGet(recv, i.Int())
			r.ArraySet(recv, i.Int(), v)
			if elemKind != heap.ElemNone && old != value.Null && old != v {
				r.DecrefElem(old, tk.elemKind(t.Elem))
			}
			return 0, true, nil
		case "first":
			return tk.fromOption(r.ArrayFirst(recv)), true, nil
		case "last":
			return tk.fromOption(r.ArrayLast(recv)), true, nil
		case "contains":
			v, err := arg(0)
			if err != nil {
				return 0, true, err
			}
			var eq func(a, b value.Word) bool
			if t.Elem.Resolve() == types.StringType.Resolve() {
				eq = r.StringEq
			}
			return value.FromBool(r.ArrayContains(recv, v, eq)), true, nil
		case "index_of":
			v, err := arg(0)
			if err != nil {
				return 0, true, err
			}
			var eq func(a, b value.Word) bool
			if t.Elem.Resolve() == types.StringType.Resolve() {
				eq = r.StringEq
			}
			return tk.fromOption(r.ArrayIndexOf(recv, v, eq)), true, nil
		case "clone":
			return r.ArrayClone(recv, elemKind), true, nil
		case "map", "filter", "any", "all", "count", "find", "find_index", "sort_by":
			cl, err := arg(0)
			if err != nil {
				return 0, true, err
			}
			fn, data := tk.closureOf(cl)
			defer tk.dropIfFresh(e.Args[0], cl)
			switch name {
			case "map":
				return r.ArrayMap(recv, fn, data), true, nil
			case "filter":
				out := r.ArrayFilter(recv, fn, data)
				if elemKind != heap.ElemNone {
					n := r.ArrayLen(out)
					for i := int64(0); i < n; i++ {
						r.Incref(r.ArrayGet(out, i))
					}
				}
				return out, true, nil
			case "any":
				return value.FromBool(r.ArrayAny(recv, fn, data)), true, nil
			case "all":
				return value.FromBool(r.ArrayAll(recv, fn, data)), true, nil
			case "count":
				return value.FromInt(r.ArrayCount(recv, fn, data)), true, nil
			case "find":
				return tk.fromOption(r.ArrayFind(recv, fn, data)), true, nil
			case "find_index":
				return tk.fromOption(r.ArrayFindIndex(recv, fn, data)), true, nil
			default:
				r.ArraySortBy(recv, fn, data)
				return 0, true, nil
			}
		case "fold", "scan":
			init, err := arg(0)
			if err != nil {
				return 0, true, err
			}
			cl, err := arg(1)
			if err != nil {
				return 0, true, err
			}
			fn, data := tk.closureOf(cl)
			defer tk.dropIfFresh(e.Args[1], cl)
			if name == "fold" {
				return r.ArrayFold(recv, init, fn, data), true, nil
			}
			return r.ArrayScan(recv, init, fn, data), true, nil
		case "sort":
			r.ArraySort(recv)
			return 0, true, nil
		case "sample":
			return tk.fromOption(r.ArraySample(recv, sampleIndex)), true, nil
		}

	case *types.Map:
		valKind := tk.heapKind(t.Value)
		keyArg := func() (value.Word, bool, error) {
			k, err := arg(0)
			if err != nil {
				return 0, false, err
			}
			return k, tk.isBorrow(e.Args[0]), nil
		}
		switch name {
		case "len":
			return value.FromInt(r.MapLen(recv)), true, nil
		case "get":
			k, borrowed, err := keyArg()
			if err != nil {
				return 0, true, err
			}
			opt := r.MapGet(recv, k)
			if opt.IsSome() && valKind != heap.ElemNone {
				r.Incref(opt.Value)
			}
			if !borrowed {
				r.DecrefElem(k, heap.ElemString)
			}
			return tk.fromOption(opt), true, nil
		case "set":
			k, borrowed, err := keyArg()
			if err != nil {
				return 0, true, err
			}
			v, err := arg(1)
			if err != nil {
				return 0, true, err
			}
			if valKind != heap.ElemNone && tk.isBorrow(e.Args[1]) {
				r.Incref(v)
			}
			r.MapSet(recv, k, v)
			if !borrowed {
				r.DecrefElem(k, heap.ElemString)
			}
			return 0, true, nil
		case "contains":
			k, borrowed, err := keyArg()
			if err != nil {
				return 0, true, err
			}
			res := r.MapContains(recv, k)
			if !borrowed {
				r.DecrefElem(k, heap.ElemString)
			}
			return value.FromBool(res), true, nil
		case "remove":
			k, borrowed, err := keyArg()
			if err != nil {
				return 0, true, err
			}
			opt := r.MapRemove(recv, k)
			if !borrowed {
				r.DecrefElem(k, heap.ElemString)
			}
			return tk.fromOption(opt), true, nil
		case "keys":
			return r.MapKeys(recv), true, nil
		case "values":
			out := r.MapValues(recv)
			if valKind != heap.ElemNone {
				n := r.ArrayLen(out)
				for i := int64(0); i < n; i++ {
					r.Incref(r.ArrayGet(out, i))
				}
			}
			return out, true, nil
		}

	case *types.Prim:
		if t.Kind != types.String {
			return 0, false, nil
		}
		switch name {
		case "len":
			return value.FromInt(r.StringLen(recv)), true, nil
		case "char_len":
			return value.FromInt(r.StringCharLen(recv)), true, nil
		case "char_at":
			i, err := arg(0)
			if err != nil {
				return 0, true, err
			}
			return tk.fromOption(r.StringCharAt(recv, i.Int())), true, nil
		case "is_empty":
			return value.FromBool(r.StringIsEmpty(recv)), true, nil
		case "trim":
			return r.StringTrim(recv), true, nil
		case "to_int":
			return tk.fromOption(r.StringToInt(recv)), true, nil
		case "to_float":
			return tk.fromOption(r.StringToFloat(recv)), true, nil
		case "contains", "starts_with", "ends_with", "split", "index_of":
			s, err := arg(0)
			if err != nil {
				return 0, true, err
			}
			defer tk.dropIfFreshString(e.Args[0], s)
			switch name {
			case "contains":
				return value.FromBool(r.StringContains(recv, s)), true, nil
			case "starts_with":
				return value.FromBool(r.StringStartsWith(recv, s)), true, nil
			case "ends_with":
				return value.FromBool(r.StringEndsWith(recv, s)), true, nil
			case "split":
				return r.StringSplit(recv, s), true, nil
			default:
				return tk.fromOption(r.StringIndexOf(recv, s)), true, nil
			}
		}

	case *types.Option:
		v, some := tk.optionParts(recv)
		switch name {
		case "is_some":
			return value.FromBool(some), true, nil
		case "is_none":
			return value.FromBool(!some), true, nil
		case "unwrap":
			if !some {
				return 0, true, fmt.Errorf("unwrap of none")
			}
			if k := tk.heapKind(t.Inner); k != heap.ElemNone {
				r.Incref(v)
			}
			return v, true, nil
		case "unwrap_or":
			fb, err := arg(0)
			if err != nil {
				return 0, true, err
			}
			if some {
				if k := tk.heapKind(t.Inner); k != heap.ElemNone {
					r.Incref(v)
				}
				return v, true, nil
			}
			return fb, true, nil
		}

	case *types.Channel:
		switch name {
		case "send":
			v, err := arg(0)
			if err != nil {
				return 0, true, err
			}
			if k := tk.heapKind(t.Elem); k != heap.ElemNone && tk.isBorrow(e.Args[0]) {
				r.Incref(v)
			}
			r.ChannelSend(recv, v)
			return 0, true, nil
		case "recv":
			return r.ChannelRecv(recv), true, nil
		case "len":
			return value.FromInt(r.ChannelLen(recv)), true, nil
		}

	case *types.Mutex:
		switch name {
		case "lock":
			return r.MutexLoad(recv), true, nil
		case "store":
			v, err := arg(0)
			if err != nil {
				return 0, true, err
			}
			if k := tk.heapKind(t.Inner); k != heap.ElemNone && tk.isBorrow(e.Args[0]) {
				r.Incref(v)
			}
			old := r.MutexStore(recv, v)
			if tk.heapKind(t.Inner) != heap.ElemNone && old != value.Null {
				r.DecrefElem(old, tk.elemKind(t.Inner))
			}
			return 0, true, nil
		case "with":
			cl, err := arg(0)
			if err != nil {
				return 0, true, err
			}
			fn, data := tk.closureOf(cl)
			r.MutexWith(recv, func(v value.Word) { fn(data, v) })
			tk.dropIfFresh(e.Args[0], cl)
			return 0, true, nil
		}

	case *types.Rwlock:
		switch name {
		case "read":
			return r.RwlockRead(recv), true, nil
		case "write":
			v, err := arg(0)
			if err != nil {
				return 0, true, err
			}
			if k := tk.heapKind(t.Inner); k != heap.ElemNone && tk.isBorrow(e.Args[0]) {
				r.Incref(v)
			}
			old := r.RwlockWrite(recv, v)
			if tk.heapKind(t.Inner) != heap.ElemNone && old != value.Null {
				r.DecrefElem(old, tk.elemKind(t.Inner))
			}
			return 0, true, nil
		}

	case *types.Atomic:
		switch name {
		case "load":
			return r.AtomicLoad(recv), true, nil
		case "store":
			v, err := arg(0)
			if err != nil {
				return 0, true, err
			}
			r.AtomicStore(recv, v)
			return 0, true, nil
		case "add":
			v, err := arg(0)
			if err != nil {
				return 0, true, err
			}
			return r.AtomicAdd(recv, v), true, nil
		case "swap":
			v, err := arg(0)
			if err != nil {
				return 0, true, err
			}
			return r.AtomicSwap(recv, v), true, nil
		}
	}
	return 0, false, nil
}

func (tk *task) dropIfFresh(e ast.Expr, h value.Word) {
	if !tk.isBorrow(e) {
		tk.th.Registry.DecrefElem(h, heap.ElemStruct)
	}
}

func (tk *task) dropIfFreshString(e ast.Expr, h value.Word) {
	if !tk.isBorrow(e) {
		tk.th.Registry.DecrefElem(h, heap.ElemString)
	}
}
