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

// ctrl is the control-flow signal of statement execution.
type ctrl int

const (
	ctrlNone ctrl = iota
	ctrlReturn
	ctrlBreak
	ctrlContinue
	ctrlThrow
)

// errThrown signals that the current task's exception slot is set; it
// unwinds evaluation to the nearest catch frame or function boundary.
var errThrown = errors.New("naml exception pending")

// execBlock runs a block. The returned word is the return value when ctl
// is ctrlReturn, or the tail expression value when ctl is ctrlNone.
func (tk *task) execBlock(b *ast.BlockExpr, _ bool) (ctrl, value.Word, error) {
	tk.pushScope()
	defer tk.popScope(nil)

	for _, s := range b.Stmts {
		ctl, v, err := tk.exec(s)
		if err != nil {
			return ctrlNone, 0, err
		}
		if ctl != ctrlNone {
			if ctl == ctrlReturn {
				// a returned local borrow transfers to the caller; the
				// decref skip is handled in exec's return case by incref
				_ = v
			}
			return ctl, v, nil
		}
	}
	if b.Tail != nil {
		v, err := tk.eval(b.Tail)
		if err != nil {
			if errors.Is(err, errThrown) {
				return ctrlThrow, 0, nil
			}
			return ctrlNone, 0, err
		}
		// a tail borrow escapes the scope: incref before popScope releases
		if tk.isBorrow(b.Tail) {
			t := tk.typeOf(b.Tail)
			if k := tk.heapKind(t); k != heap.ElemNone {
				tk.th.Registry.Incref(v)
			}
		}
		return ctrlNone, v, nil
	}
	return ctrlNone, 0, nil
}

func (tk *task) exec(s ast.Stmt) (ctrl, value.Word, error) {
	switch s := s.(type) {
	case *ast.VarStmt:
		v, err := tk.eval(s.Value)
		if err != nil {
			if errors.Is(err, errThrown) {
				return ctrlThrow, 0, nil
			}
			return ctrlNone, 0, err
		}
		t := tk.typeOf(s.Value)
		if s.Type != nil {
			t = tk.resolveTypeExpr(s.Type)
		}
		hp := tk.heapKind(t) != heap.ElemNone
		if hp && tk.isBorrow(s.Value) {
			tk.th.Registry.Incref(v)
		}
		tk.define(s.Name.Lit, &cell{
			val: v, typ: t, hp: hp, kind: tk.elemKind(t),
			mutable: s.Mut && !s.Const,
		})
		return ctrlNone, 0, nil

	case *ast.AssignStmt:
		return tk.execAssign(s)

	case *ast.ReturnStmt:
		if s.Value == nil {
			return ctrlReturn, 0, nil
		}
		v, err := tk.eval(s.Value)
		if err != nil {
			if errors.Is(err, errThrown) {
				return ctrlThrow, 0, nil
			}
			return ctrlNone, 0, err
		}
		// a returned borrow transfers its reference out of the function:
		// incref now, every scope decref on unwind keeps the balance
		if tk.isBorrow(s.Value) {
			if k := tk.heapKind(tk.typeOf(s.Value)); k != heap.ElemNone {
				tk.th.Registry.Incref(v)
			}
		}
		return ctrlReturn, v, nil

	case *ast.ThrowStmt:
		v, err := tk.eval(s.Value)
		if err != nil {
			if errors.Is(err, errThrown) {
				return ctrlThrow, 0, nil
			}
			return ctrlNone, 0, err
		}
		tag := uint32(0)
		if ex, ok := tk.typeOf(s.Value).Resolve().(*types.Exception); ok {
			if l := tk.th.prog.Layouts[ex.Name]; l != nil {
				tag = l.TypeID
			}
		}
		tk.slot.Set(v, tag)
		return ctrlThrow, 0, nil

	case *ast.BreakStmt:
		return ctrlBreak, 0, nil

	case *ast.ContinueStmt:
		return ctrlContinue, 0, nil

	case *ast.WhileStmt:
		for {
			c, err := tk.eval(s.Cond)
			if err != nil {
				if errors.Is(err, errThrown) {
					return ctrlThrow, 0, nil
				}
				return ctrlNone, 0, err
			}
			if !c.Bool() {
				return ctrlNone, 0, nil
			}
			ctl, v, err := tk.execBlock(s.Body, false)
			if err != nil {
				return ctrlNone, 0, err
			}
			switch ctl {
			case ctrlBreak:
				return ctrlNone, 0, nil
			case ctrlReturn, ctrlThrow:
				return ctl, v, nil
			}
		}

	case *ast.ForStmt:
		return tk.execFor(s)

	case *ast.LoopStmt:
		for {
			ctl, v, err := tk.execBlock(s.Body, false)
			if err != nil {
				return ctrlNone, 0, err
			}
			switch ctl {
			case ctrlBreak:
				return ctrlNone, 0, nil
			case ctrlReturn, ctrlThrow:
				return ctl, v, nil
			}
		}

	case *ast.SwitchStmt:
		return tk.execSwitch(s)

	case *ast.IfStmt:
		_, ctl, v, err := tk.evalIf(s.If, false)
		return ctl, v, err

	case *ast.BlockStmt:
		ctl, v, err := tk.execBlock(s.Block, false)
		if ctl == ctrlNone {
			v = 0
		}
		return ctl, v, err

	case *ast.ExprStmt:
		// try/catch in statement position keeps return/break control flow
		if tc, ok := s.Value.(*ast.TryCatchExpr); ok {
			return tk.execTryCatch(tc)
		}
		v, err := tk.eval(s.Value)
		if err != nil {
			if errors.Is(err, errThrown) {
				return ctrlThrow, 0, nil
			}
			return ctrlNone, 0, err
		}
		// a discarded fresh heap value releases its reference
		t := tk.typeOf(s.Value)
		if tk.heapKind(t) != heap.ElemNone && !tk.isBorrow(s.Value) {
			tk.th.Registry.DecrefElem(v, tk.elemKind(t))
		}
		return ctrlNone, 0, nil

	case *ast.BadStmt:
		return ctrlNone, 0, fmt.Errorf("cannot execute a program with parse errors")
	}
	return ctrlNone, 0, fmt.Errorf("unsupported statement %T", s)
}

func (tk *task) execAssign(s *ast.AssignStmt) (ctrl, value.Word, error) {
	v, err := tk.eval(s.Value)
	if err != nil {
		if errors.Is(err, errThrown) {
			return ctrlThrow, 0, nil
		}
		return ctrlNone, 0, err
	}

	if s.Op != token.EQ {
		cur, err := tk.eval(s.Target)
		if err != nil {
			return ctrlNone, 0, err
		}
		v, err = tk.binop(s.Op.BinopFor(), cur, v, tk.typeOf(s.Target))
		if err != nil {
			return ctrlNone, 0, err
		}
	}

	switch target := ast.Unwrap(s.Target).(type) {
	case *ast.IdentExpr:
		c := tk.lookup(target.Lit)
		if c == nil {
			return ctrlNone, 0, fmt.Errorf("assignment to undefined variable %s", target.Lit)
		}
		if c.hp && s.Op == token.EQ {
			// incref the new value when borrowed, decref the old one after
			if tk.isBorrow(s.Value) {
				tk.th.Registry.Incref(v)
			}
			old := c.val
			c.val = v
			tk.th.Registry.DecrefElem(old, c.kind)
			return ctrlNone, 0, nil
		}
		c.val = v
		return ctrlNone, 0, nil

	case *ast.IndexExpr:
		recv, err := tk.eval(target.Recv)
		if err != nil {
			return ctrlNone, 0, err
		}
		idx, err := tk.eval(target.Index)
		if err != nil {
			return ctrlNone, 0, err
		}
		vt := tk.typeOf(s.Value)
		switch tk.typeOf(target.Recv).Resolve().(type) {
		case *types.Map:
			if k := tk.heapKind(vt); k != heap.ElemNone && tk.isBorrow(s.Value) {
				tk.th.Registry.Incref(v)
			}
			tk.th.Registry.MapSet(recv, idx, v)
			// the map holds its own key reference; release a fresh key temp
			if !tk.isBorrow(target.Index) {
				tk.th.Registry.DecrefElem(idx, heap.ElemString)
			}
		default:
			if k := tk.heapKind(vt); k != heap.ElemNone && tk.isBorrow(s.Value) {
				tk.th.Registry.Incref(v)
			}
			tk.th.Registry.ArraySet(recv, idx.Int(), v)
		}
		return ctrlNone, 0, nil

	case *ast.FieldExpr:
		recv, err := tk.eval(target.Recv)
		if err != nil {
			return ctrlNone, 0, err
		}
		if i, ok := tk.fieldIndex(tk.typeOf(target.Recv), target.Name.Lit); ok {
			vt := tk.typeOf(s.Value)
			if k := tk.heapKind(vt); k != heap.ElemNone && tk.isBorrow(s.Value) {
				tk.th.Registry.Incref(v)
			}
			old := tk.th.Registry.StructGetField(recv, i)
			tk.th.Registry.StructSetField(recv, i, v)
			if tk.heapKind(vt) != heap.ElemNone && old != value.Null && old != v {
				tk.th.Registry.DecrefElem(old, tk.elemKind(vt))
			}
		}
		return ctrlNone, 0, nil
	}
	return ctrlNone, 0, fmt.Errorf("unsupported assignment target")
}

func (tk *task) fieldIndex(t types.Type, name string) (int, bool) {
	switch t := t.Resolve().(type) {
	case *types.Struct:
		if i := t.FieldIndex(name); i >= 0 {
			return i, true
		}
	case *types.Exception:
		if i := t.FieldIndex(name); i >= 0 {
			return i, true
		}
	}
	return 0, false
}

func (tk *task) execFor(s *ast.ForStmt) (ctrl, value.Word, error) {
	iter, err := tk.forItems(s.Range)
	if err != nil {
		if errors.Is(err, errThrown) {
			return ctrlThrow, 0, nil
		}
		return ctrlNone, 0, err
	}

	for _, item := range iter {
		tk.pushScope()
		tk.define(s.Bind.Lit, &cell{val: item, typ: types.IntType, kind: heap.ElemNone, mutable: false})
		ctl, v, err := tk.execBlockInScope(s.Body)
		tk.popScope(nil)
		if err != nil {
			return ctrlNone, 0, err
		}
		switch ctl {
		case ctrlBreak:
			return ctrlNone, 0, nil
		case ctrlReturn, ctrlThrow:
			return ctl, v, nil
		}
	}
	return ctrlNone, 0, nil
}

// execBlockInScope runs a block's statements without opening a fresh
// scope; for-in opens the scope itself to host the loop binding.
func (tk *task) execBlockInScope(b *ast.BlockExpr) (ctrl, value.Word, error) {
	for _, s := range b.Stmts {
		ctl, v, err := tk.exec(s)
		if err != nil {
			return ctrlNone, 0, err
		}
		if ctl != ctrlNone {
			return ctl, v, nil
		}
	}
	return ctrlNone, 0, nil
}

// forItems materializes the items of a for-in range.
func (tk *task) forItems(e ast.Expr) ([]value.Word, error) {
	switch tk.typeOf(e).Resolve().(type) {
	case *types.Range:
		rng := ast.Unwrap(e).(*ast.RangeExpr)
		low, err := tk.eval(rng.Low)
		if err != nil {
			return nil, err
		}
		high, err := tk.eval(rng.High)
		if err != nil {
			return nil, err
		}
		hi := high.Int()
		if rng.Inclusive {
			hi++
		}
		var items []value.Word
		for i := low.Int(); i < hi; i++ {
			items = append(items, value.FromInt(i))
		}
		return items, nil

	case *types.Array:
		arr, err := tk.eval(e)
		if err != nil {
			return nil, err
		}
		n := tk.th.Registry.ArrayLen(arr)
		items := make([]value.Word, 0, n)
		for i := int64(0); i < n; i++ {
			items = append(items, tk.th.Registry.ArrayGet(arr, i))
		}
		return items, nil

	case *types.Map:
		m, err := tk.eval(e)
		if err != nil {
			return nil, err
		}
		keys := tk.th.Registry.MapKeys(m)
		n := tk.th.Registry.ArrayLen(keys)
		items := make([]value.Word, 0, n)
		for i := int64(0); i < n; i++ {
			items = append(items, tk.th.Registry.ArrayGet(keys, i))
		}
		// the key array was fresh with increfed keys; the loop only
		// borrows them
		tk.th.Registry.DecrefElem(keys, heap.ElemString)
		return items, nil
	}
	return nil, fmt.Errorf("type is not iterable")
}

func (tk *task) execSwitch(s *ast.SwitchStmt) (ctrl, value.Word, error) {
	v, err := tk.eval(s.Value)
	if err != nil {
		if errors.Is(err, errThrown) {
			return ctrlThrow, 0, nil
		}
		return ctrlNone, 0, err
	}
	vt := tk.typeOf(s.Value)

	for _, cs := range s.Cases {
		match, binds, err := tk.matchPattern(cs.Pattern, v, vt, cs.Default)
		if err != nil {
			return ctrlNone, 0, err
		}
		if !match {
			continue
		}
		tk.pushScope()
		for name, bv := range binds {
			tk.define(name, &cell{val: bv, typ: types.IntType, kind: heap.ElemNone})
		}
		ctl, rv, err := tk.execBlockInScope(cs.Body)
		tk.popScope(nil)
		if ctl == ctrlNone {
			rv = 0
		}
		return ctl, rv, err
	}
	return ctrlNone, 0, nil
}

// matchPattern tests one case pattern against the switched value,
// returning the bindings it introduces.
func (tk *task) matchPattern(p ast.Pattern, v value.Word, vt types.Type, isDefault bool) (bool, map[string]value.Word, error) {
	if isDefault || p == nil {
		return true, nil, nil
	}
	switch p := p.(type) {
	case *ast.WildcardPat:
		return true, nil, nil

	case *ast.BindPat:
		// a bare identifier naming a variant of the switched enum matches
		// by tag instead of binding
		if en, ok := vt.Resolve().(*types.Enum); ok {
			if i := en.VariantIndex(p.Name.Lit); i >= 0 {
				tag := tk.th.Registry.StructGetField(v, 0)
				return tag.Int() == int64(i), nil, nil
			}
		}
		return true, map[string]value.Word{p.Name.Lit: v}, nil

	case *ast.LiteralPat:
		lv, err := tk.evalLiteral(p.Lit)
		if err != nil {
			return false, nil, err
		}
		if vt.Resolve() == types.StringType.Resolve() {
			return tk.th.Registry.StringEq(v, lv), nil, nil
		}
		return v == lv, nil, nil

	case *ast.VariantPat:
		en, ok := vt.Resolve().(*types.Enum)
		if !ok {
			return false, nil, nil
		}
		want := en.VariantIndex(p.Segments[len(p.Segments)-1].Lit)
		tag := tk.th.Registry.StructGetField(v, 0)
		if tag.Int() != int64(want) {
			return false, nil, nil
		}
		binds := make(map[string]value.Word, len(p.Binds))
		for i, b := range p.Binds {
			binds[b.Lit] = tk.th.Registry.StructGetField(v, i+1)
		}
		return true, binds, nil
	}
	return false, nil, nil
}
