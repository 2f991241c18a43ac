package machine

import (
	"errors"
	"fmt"

	"github.com/kahflane/naml/lang/ast"
	"github.com/kahflane/naml/lang/token"
	"github.com/kahflane/naml/lang/types"
	"github.com/kahflane/naml/runtime/heap"
	"github.com/kahflane/naml/runtime/value"
)

// eval evaluates an expression to its word. A pending exception surfaces
// as errThrown and unwinds to the nearest catch frame or function
// boundary.
func (tk *task) eval(e ast.Expr) (value.Word, error) {
	switch e := e.(type) {
	case *ast.LiteralExpr:
		return tk.evalLiteral(e)

	case *ast.IdentExpr:
		if c := tk.lookup(e.Lit); c != nil {
			return c.val, nil
		}
		return 0, fmt.Errorf("undefined variable %s", e.Lit)

	case *ast.PathExpr:
		return tk.variantValue(e, nil)

	case *ast.BinaryExpr:
		return tk.evalBinary(e)

	case *ast.UnaryExpr:
		v, err := tk.eval(e.Right)
		if err != nil {
			return 0, err
		}
		switch e.Op {
		case token.MINUS:
			if tk.typeOf(e.Right).Resolve() == types.FloatType.Resolve() {
				return value.FromFloat(-v.Float()), nil
			}
			return value.FromInt(-v.Int()), nil
		case token.BANG:
			return value.FromBool(!v.Bool()), nil
		case token.TILDE:
			return value.FromInt(^v.Int()), nil
		}
		return v, nil

	case *ast.CastExpr:
		return tk.evalCast(e)

	case *ast.CallExpr:
		return tk.evalCall(e)

	case *ast.MethodCallExpr:
		return tk.evalMethodCall(e)

	case *ast.IndexExpr:
		return tk.evalIndex(e)

	case *ast.FieldExpr:
		recv, err := tk.eval(e.Recv)
		if err != nil {
			return 0, err
		}
		if i, ok := tk.fieldIndex(tk.typeOf(e.Recv), e.Name.Lit); ok {
			return tk.th.Registry.StructGetField(recv, i), nil
		}
		return 0, fmt.Errorf("unknown field %s", e.Name.Lit)

	case *ast.ArrayExpr:
		arr := tk.th.Registry.NewArray(int64(len(e.Items)))
		var elemKind heap.ElemKind
		if at, ok := tk.typeOf(e).Resolve().(*types.Array); ok {
			elemKind = tk.heapKind(at.Elem)
		}
		for _, it := range e.Items {
			v, err := tk.eval(it)
			if err != nil {
				return 0, err
			}
			if elemKind != heap.ElemNone && tk.isBorrow(it) {
				tk.th.Registry.Incref(v)
			}
			tk.th.Registry.ArrayPush(arr, v)
		}
		return arr, nil

	case *ast.MapExpr:
		m := tk.th.Registry.NewMap()
		var valKind heap.ElemKind
		if mt, ok := tk.typeOf(e).Resolve().(*types.Map); ok {
			valKind = tk.heapKind(mt.Value)
		}
		for _, kv := range e.Items {
			k, err := tk.eval(kv.Key)
			if err != nil {
				return 0, err
			}
			v, err := tk.eval(kv.Value)
			if err != nil {
				return 0, err
			}
			if valKind != heap.ElemNone && tk.isBorrow(kv.Value) {
				tk.th.Registry.Incref(v)
			}
			tk.th.Registry.MapSet(m, k, v)
			// the map increfed a freshly evaluated key; release the temp
			if !tk.isBorrow(kv.Key) {
				tk.th.Registry.DecrefElem(k, heap.ElemString)
			}
		}
		return m, nil

	case *ast.StructLiteralExpr:
		return tk.evalStructLiteral(e)

	case *ast.IfExpr:
		v, ctl, _, err := tk.evalIf(e, true)
		if err != nil {
			return 0, err
		}
		if ctl == ctrlThrow {
			return 0, errThrown
		}
		return v, nil

	case *ast.BlockExpr:
		ctl, v, err := tk.execBlock(e, false)
		if err != nil {
			return 0, err
		}
		if ctl == ctrlThrow {
			return 0, errThrown
		}
		return v, nil

	case *ast.LambdaExpr:
		return tk.makeLambda(e), nil

	case *ast.SpawnExpr:
		return tk.evalSpawn(e)

	case *ast.AwaitExpr:
		h, err := tk.eval(e.Value)
		if err != nil {
			return 0, err
		}
		// await joins on the handle, blocking the worker
		return tk.th.Registry.ChannelRecv(h), nil

	case *ast.TryExpr:
		// '?' is the call-site slot check, which eval already performs for
		// every call; on a non-throwing expression it yields the value
		return tk.eval(e.Value)

	case *ast.TryCatchExpr:
		ctl, v, err := tk.execTryCatch(e)
		if err != nil {
			return 0, err
		}
		if ctl == ctrlThrow {
			return 0, errThrown
		}
		return v, nil

	case *ast.RangeExpr:
		return tk.eval(e.Low)

	case *ast.GroupExpr:
		return tk.eval(e.Inner)

	case *ast.SomeExpr:
		v, err := tk.eval(e.Value)
		if err != nil {
			return 0, err
		}
		if k := tk.heapKind(tk.typeOf(e.Value)); k != heap.ElemNone && tk.isBorrow(e.Value) {
			tk.th.Registry.Incref(v)
		}
		return tk.makeOption(v, true), nil

	case *ast.BadExpr:
		return 0, fmt.Errorf("cannot execute a program with parse errors")
	}
	return 0, fmt.Errorf("unsupported expression %T", e)
}

func (tk *task) evalLiteral(e *ast.LiteralExpr) (value.Word, error) {
	switch e.Kind {
	case ast.LitInt:
		return value.FromInt(e.Int), nil
	case ast.LitFloat:
		return value.FromFloat(e.Float), nil
	case ast.LitBool:
		return value.FromBool(e.Bool), nil
	case ast.LitString:
		return tk.th.Registry.StringFromGo(e.Str), nil
	case ast.LitNone:
		return tk.makeOption(0, false), nil
	}
	return 0, fmt.Errorf("unsupported literal")
}

// makeOption boxes an option as a two-field tagged struct: field 0 the
// tag word (0 = none, 1 = some), field 1 the value.
func (tk *task) makeOption(v value.Word, some bool) value.Word {
	obj := tk.th.Registry.NewStruct(0, 2)
	if some {
		tk.th.Registry.StructSetField(obj, 0, 1)
		tk.th.Registry.StructSetField(obj, 1, v)
	}
	return obj
}

func (tk *task) optionParts(h value.Word) (value.Word, bool) {
	if tk.th.Registry.StructGetField(h, 0).Bool() {
		return tk.th.Registry.StructGetField(h, 1), true
	}
	return 0, false
}

func (tk *task) fromOption(o value.Option) value.Word {
	if o.IsSome() {
		return tk.makeOption(o.Value, true)
	}
	return tk.makeOption(0, false)
}

func (tk *task) isBorrow(e ast.Expr) bool {
	switch e := ast.Unwrap(e).(type) {
	case *ast.IdentExpr:
		return true
	case *ast.FieldExpr, *ast.IndexExpr:
		return true
	case *ast.AwaitExpr:
		return tk.isBorrow(e.Value)
	}
	return false
}

func (tk *task) evalBinary(e *ast.BinaryExpr) (value.Word, error) {
	// short-circuit logical operators
	switch e.Op {
	case token.ANDAND:
		l, err := tk.eval(e.Left)
		if err != nil || !l.Bool() {
			return value.FromBool(false), err
		}
		r, err := tk.eval(e.Right)
		return value.FromBool(r.Bool()), err
	case token.OROR:
		l, err := tk.eval(e.Left)
		if err != nil || l.Bool() {
			return value.FromBool(l.Bool()), err
		}
		r, err := tk.eval(e.Right)
		return value.FromBool(r.Bool()), err
	}

	l, err := tk.eval(e.Left)
	if err != nil {
		return 0, err
	}
	r, err := tk.eval(e.Right)
	if err != nil {
		return 0, err
	}
	res, err := tk.binop(e.Op, l, r, tk.typeOf(e.Left))
	if err != nil {
		return 0, err
	}

	// release fresh string temporaries consumed by comparison/concat
	lt := tk.typeOf(e.Left)
	if lt.Resolve() == types.StringType.Resolve() {
		if !tk.isBorrow(e.Left) {
			tk.th.Registry.DecrefElem(l, heap.ElemString)
		}
		if !tk.isBorrow(e.Right) {
			tk.th.Registry.DecrefElem(r, heap.ElemString)
		}
	}
	return res, nil
}

func (tk *task) binop(op token.Token, l, r value.Word, t types.Type) (value.Word, error) {
	rt := t.Resolve()
	if rt == types.StringType.Resolve() {
		switch op {
		case token.PLUS:
			return tk.th.Registry.StringConcat(l, r), nil
		case token.EQEQ:
			return value.FromBool(tk.th.Registry.StringEq(l, r)), nil
		case token.NEQ:
			return value.FromBool(!tk.th.Registry.StringEq(l, r)), nil
		case token.LT, token.LE, token.GT, token.GE:
			a, b := tk.th.Registry.StringGo(l), tk.th.Registry.StringGo(r)
			switch op {
			case token.LT:
				return value.FromBool(a < b), nil
			case token.LE:
				return value.FromBool(a <= b), nil
			case token.GT:
				return value.FromBool(a > b), nil
			default:
				return value.FromBool(a >= b), nil
			}
		}
	}

	if rt == types.FloatType.Resolve() {
		a, b := l.Float(), r.Float()
		switch op {
		case token.PLUS:
			return value.FromFloat(a + b), nil
		case token.MINUS:
			return value.FromFloat(a - b), nil
		case token.STAR:
			return value.FromFloat(a * b), nil
		case token.SLASH:
			return value.FromFloat(a / b), nil
		case token.EQEQ:
			return value.FromBool(a == b), nil
		case token.NEQ:
			return value.FromBool(a != b), nil
		case token.LT:
			return value.FromBool(a < b), nil
		case token.LE:
			return value.FromBool(a <= b), nil
		case token.GT:
			return value.FromBool(a > b), nil
		case token.GE:
			return value.FromBool(a >= b), nil
		}
	}

	if rt == types.UintType.Resolve() {
		a, b := l.Uint(), r.Uint()
		switch op {
		case token.SLASH:
			if b == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return value.FromUint(a / b), nil
		case token.PERCENT:
			if b == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return value.FromUint(a % b), nil
		case token.LT:
			return value.FromBool(a < b), nil
		case token.LE:
			return value.FromBool(a <= b), nil
		case token.GT:
			return value.FromBool(a > b), nil
		case token.GE:
			return value.FromBool(a >= b), nil
		case token.GTGT:
			return value.FromUint(a >> (b & 63)), nil
		}
	}

	a, b := l.Int(), r.Int()
	switch op {
	case token.PLUS:
		return value.FromInt(a + b), nil
	case token.MINUS:
		return value.FromInt(a - b), nil
	case token.STAR:
		return value.FromInt(a * b), nil
	case token.SLASH:
		if b == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return value.FromInt(a / b), nil
	case token.PERCENT:
		if b == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return value.FromInt(a % b), nil
	case token.AMPERSAND:
		return value.FromInt(a & b), nil
	case token.PIPE:
		return value.FromInt(a | b), nil
	case token.CARET:
		return value.FromInt(a ^ b), nil
	case token.LTLT:
		return value.FromInt(a << (uint64(b) & 63)), nil
	case token.GTGT:
		return value.FromInt(a >> (uint64(b) & 63)), nil
	case token.EQEQ:
		return value.FromBool(l == r), nil
	case token.NEQ:
		return value.FromBool(l != r), nil
	case token.LT:
		return value.FromBool(a < b), nil
	case token.LE:
		return value.FromBool(a <= b), nil
	case token.GT:
		return value.FromBool(a > b), nil
	case token.GE:
		return value.FromBool(a >= b), nil
	}
	return 0, fmt.Errorf("unsupported operator %s", op)
}

func (tk *task) evalCast(e *ast.CastExpr) (value.Word, error) {
	v, err := tk.eval(e.Value)
	if err != nil {
		return 0, err
	}
	from := tk.typeOf(e.Value).Resolve()
	to := tk.resolveTypeExpr(e.Type).Resolve()

	switch {
	case from == types.FloatType.Resolve() && types.IsInteger(to):
		return value.FromInt(int64(v.Float())), nil
	case types.IsInteger(from) && to == types.FloatType.Resolve():
		return value.FromFloat(float64(v.Int())), nil
	case types.IsNumeric(from) && to == types.StringType.Resolve():
		if from == types.FloatType.Resolve() {
			return tk.th.Registry.StringFromGo(formatFloat(v.Float())), nil
		}
		return tk.th.Registry.StringFromGo(fmt.Sprintf("%d", v.Int())), nil
	}
	return v, nil
}

func (tk *task) evalIndex(e *ast.IndexExpr) (value.Word, error) {
	recv, err := tk.eval(e.Recv)
	if err != nil {
		return 0, err
	}
	idx, err := tk.eval(e.Index)
	if err != nil {
		return 0, err
	}

	switch tk.typeOf(e.Recv).Resolve().(type) {
	case *types.Map:
		v := tk.th.Registry.MapGetOrZero(recv, idx)
		if !tk.isBorrow(e.Index) {
			tk.th.Registry.DecrefElem(idx, heap.ElemString)
		}
		return v, nil
	case *types.Prim: // string indexing yields the byte as a string
		b := tk.th.Registry.StringBytes(recv)
		i := idx.Int()
		if i < 0 || i >= int64(len(b)) {
			return tk.th.Registry.StringFromGo(""), nil
		}
		return tk.th.Registry.NewString(b[i : i+1]), nil
	}

	if e.Bang.IsValid() {
		v, ok := tk.th.Registry.ArrayGetChecked(recv, idx.Int())
		if !ok {
			return 0, fmt.Errorf("index out of bounds: %d", idx.Int())
		}
		return v, nil
	}
	// out-of-bounds yields 0
	return tk.th.Registry.ArrayGet(recv, idx.Int()), nil
}

func (tk *task) evalStructLiteral(e *ast.StructLiteralExpr) (value.Word, error) {
	l := tk.th.prog.Layouts[e.Name.Lit]
	if l == nil {
		return 0, fmt.Errorf("unknown struct %s", e.Name.Lit)
	}
	obj := tk.th.Registry.NewStruct(l.TypeID, len(l.Fields))
	for _, fi := range e.Fields {
		i := l.FieldIndex(fi.Name.Lit)
		if i < 0 {
			continue
		}
		val := ast.Expr(fi.Name)
		if fi.Value != nil {
			val = fi.Value
		}
		v, err := tk.eval(val)
		if err != nil {
			return 0, err
		}
		if l.Fields[i].Class != heap.ElemNone && tk.isBorrow(val) {
			tk.th.Registry.Incref(v)
		}
		tk.th.Registry.StructSetField(obj, i, v)
	}
	return obj, nil
}

// evalIf runs an if chain; valued selects expression position (the value
// of the taken arm's tail) versus statement position.
func (tk *task) evalIf(e *ast.IfExpr, valued bool) (value.Word, ctrl, value.Word, error) {
	cond, err := tk.eval(e.Cond)
	if err != nil {
		if errors.Is(err, errThrown) {
			return 0, ctrlThrow, 0, nil
		}
		return 0, ctrlNone, 0, err
	}
	if cond.Bool() {
		ctl, v, err := tk.execBlock(e.Then, false)
		if ctl == ctrlNone && !valued {
			v = 0
		}
		if ctl == ctrlNone {
			return v, ctrlNone, 0, err
		}
		return 0, ctl, v, err
	}
	for _, ei := range e.ElseIfs {
		c, err := tk.eval(ei.Cond)
		if err != nil {
			if errors.Is(err, errThrown) {
				return 0, ctrlThrow, 0, nil
			}
			return 0, ctrlNone, 0, err
		}
		if c.Bool() {
			ctl, v, err := tk.execBlock(ei.Then, false)
			if ctl == ctrlNone {
				return v, ctrlNone, 0, err
			}
			return 0, ctl, v, err
		}
	}
	if e.Else != nil {
		ctl, v, err := tk.execBlock(e.Else, false)
		if ctl == ctrlNone {
			return v, ctrlNone, 0, err
		}
		return 0, ctl, v, err
	}
	return 0, ctrlNone, 0, nil
}

// execTryCatch runs a try block and dispatches a pending exception to the
// catch arm whose declared type matches the slot's tag.
func (tk *task) execTryCatch(e *ast.TryCatchExpr) (ctrl, value.Word, error) {
	ctl, v, err := tk.execBlock(e.Body, false)
	if err != nil {
		if !errors.Is(err, errThrown) {
			return ctrlNone, 0, err
		}
		ctl = ctrlThrow
	}
	if ctl != ctrlThrow {
		return ctl, v, nil
	}

	for _, cl := range e.Catches {
		var tag uint32
		if l := tk.th.prog.Layouts[cl.Name.Lit]; l != nil {
			tag = l.TypeID
		}
		obj, ok := tk.slot.Take(tag)
		if !ok {
			continue
		}
		tk.pushScope()
		if cl.Binding != nil {
			ex := tk.th.prog.Symtab.Type(cl.Name.Lit)
			tk.define(cl.Binding.Lit, &cell{val: obj, typ: ex, hp: true, kind: heap.ElemNone})
		} else {
			tk.th.Registry.DecrefElem(obj, heap.ElemStruct)
		}
		cctl, cv, cerr := tk.execBlockInScope(cl.Body)
		tk.popScope(nil)
		return cctl, cv, cerr
	}
	// no arm matched: keep propagating
	return ctrlThrow, 0, nil
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%g", f)
}
