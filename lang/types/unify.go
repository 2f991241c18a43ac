package types

import (
	"fmt"
)

// UnifyError reports a failure to make two types equal.
type UnifyError struct {
	Expected, Found string
	Msg             string // non-empty for errors that are not plain mismatches
}

func (e *UnifyError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("expected %s, found %s", e.Expected, e.Found)
}

func mismatch(a, b Type) error {
	return &UnifyError{Expected: a.String(), Found: b.String()}
}

// Unify determines whether a and b can be made equal by binding type
// variables, binding them as a side effect when they can. The algorithm:
//
//  1. Resolve type variables to their bound types.
//  2. Identical types succeed.
//  3. A type variable binds to the other side, after the occurs check.
//  4. Composite types unify component-wise.
//  5. Anything else is a mismatch.
//
// The occurs check prevents infinite types like ?0 = [?0]. Unification is
// symmetric up to which variable of a var/var pair gets bound.
func Unify(a, b Type) error {
	a = a.Resolve()
	b = b.Resolve()

	// error and never unify with anything
	if a == ErrorType || b == ErrorType || a == NeverType || b == NeverType {
		return nil
	}

	if av, ok := a.(*Var); ok {
		if bv, ok := b.(*Var); ok && av.ID == bv.ID {
			return nil
		}
		if b.ContainsVar(av.ID) {
			return &UnifyError{Msg: fmt.Sprintf("infinite type: ?%d = %s", av.ID, b)}
		}
		av.Bind(b)
		return nil
	}
	if bv, ok := b.(*Var); ok {
		if a.ContainsVar(bv.ID) {
			return &UnifyError{Msg: fmt.Sprintf("infinite type: ?%d = %s", bv.ID, a)}
		}
		bv.Bind(a)
		return nil
	}

	switch a := a.(type) {
	case *Prim:
		if b, ok := b.(*Prim); ok && a.Kind == b.Kind {
			return nil
		}

	case *Array:
		if b, ok := b.(*Array); ok {
			return Unify(a.Elem, b.Elem)
		}

	case *FixedArray:
		if b, ok := b.(*FixedArray); ok {
			if a.Size != b.Size {
				return mismatch(a, b)
			}
			return Unify(a.Elem, b.Elem)
		}

	case *Option:
		if b, ok := b.(*Option); ok {
			return Unify(a.Inner, b.Inner)
		}

	case *Map:
		if b, ok := b.(*Map); ok {
			if err := Unify(a.Key, b.Key); err != nil {
				return err
			}
			return Unify(a.Value, b.Value)
		}

	case *Channel:
		if b, ok := b.(*Channel); ok {
			return Unify(a.Elem, b.Elem)
		}

	case *Task:
		if b, ok := b.(*Task); ok {
			return Unify(a.Inner, b.Inner)
		}

	case *Range:
		if _, ok := b.(*Range); ok {
			return nil
		}

	case *Mutex:
		if b, ok := b.(*Mutex); ok {
			return Unify(a.Inner, b.Inner)
		}

	case *Rwlock:
		if b, ok := b.(*Rwlock); ok {
			return Unify(a.Inner, b.Inner)
		}

	case *Atomic:
		if b, ok := b.(*Atomic); ok {
			return Unify(a.Inner, b.Inner)
		}

	case *Struct:
		if b, ok := b.(*Struct); ok && a.Name == b.Name {
			return unifyAll(a.TypeArgs, b.TypeArgs, a, b)
		}
		if b, ok := b.(*Generic); ok {
			return Unify(b, a)
		}

	case *Enum:
		if b, ok := b.(*Enum); ok && a.Name == b.Name {
			return unifyAll(a.TypeArgs, b.TypeArgs, a, b)
		}
		if b, ok := b.(*Generic); ok {
			return Unify(b, a)
		}

	case *Interface:
		if b, ok := b.(*Interface); ok && a.Name == b.Name {
			return nil
		}

	case *Exception:
		if b, ok := b.(*Exception); ok && a.Name == b.Name {
			return nil
		}

	case *Func:
		if b, ok := b.(*Func); ok {
			if len(a.Params) != len(b.Params) {
				return &UnifyError{
					Expected: fmt.Sprintf("fn with %d params", len(a.Params)),
					Found:    fmt.Sprintf("fn with %d params", len(b.Params)),
				}
			}
			if a.Variadic != b.Variadic {
				return mismatch(a, b)
			}
			for i := range a.Params {
				if err := Unify(a.Params[i], b.Params[i]); err != nil {
					return err
				}
			}
			if err := Unify(a.Ret, b.Ret); err != nil {
				return err
			}
			// throws compatibility is by presence, not by exact set
			if (len(a.Throws) == 0) != (len(b.Throws) == 0) {
				return mismatch(a, b)
			}
			return nil
		}

	case *Generic:
		switch b := b.(type) {
		case *Generic:
			if a.Name == b.Name {
				return unifyAll(a.Args, b.Args, a, b)
			}
		case *Struct:
			// a generic head with no pending args unifies with the resolved
			// user type of the same name
			if a.Name == b.Name && len(a.Args) == 0 {
				return nil
			}
			if a.Name == b.Name {
				return unifyAll(a.Args, b.TypeArgs, a, b)
			}
		case *Enum:
			if a.Name == b.Name && len(a.Args) == 0 {
				return nil
			}
			if a.Name == b.Name {
				return unifyAll(a.Args, b.TypeArgs, a, b)
			}
		}
	}

	return mismatch(a, b)
}

func unifyAll(as, bs []Type, a, b Type) error {
	if len(as) != len(bs) {
		return mismatch(a, b)
	}
	for i := range as {
		if err := Unify(as[i], bs[i]); err != nil {
			return err
		}
	}
	return nil
}
