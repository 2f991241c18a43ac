package heap

import (
	"sort"

	"github.com/kahflane/naml/runtime/value"
)

// Array is a refcounted growable array of 64-bit slots. Each slot is a
// primitive word or a handle to a heap object; the element shape is a
// static property of the array's declared type known only to codegen, which
// selects the matching decref variant.
type Array struct {
	header
	length int64
	data   []value.Word // len(data) is the capacity
}

const arrayMinCap = 4

func (a *Array) children(elem ElemKind, fn func(value.Word, ElemKind)) {
	if elem == ElemNone {
		return
	}
	for i := int64(0); i < a.length; i++ {
		fn(a.data[i], elem)
	}
}

// NewArray allocates an array with room for at least cap elements.
func (r *Registry) NewArray(capacity int64) value.Word {
	if capacity < arrayMinCap {
		capacity = arrayMinCap
	}
	a := &Array{data: make([]value.Word, capacity)}
	a.tag = TagArray
	return r.alloc(a)
}

// ArrayFrom allocates an array holding the provided elements. Element
// handles are adopted, not increfed: the array takes ownership of the
// caller's fresh references.
func (r *Registry) ArrayFrom(elems []value.Word) value.Word {
	h := r.NewArray(int64(len(elems)))
	a := mustResolve[*Array](r, h, TagArray)
	copy(a.data, elems)
	a.length = int64(len(elems))
	return h
}

func (r *Registry) array(h value.Word) *Array {
	return mustResolve[*Array](r, h, TagArray)
}

// ArrayLen returns the number of elements.
func (r *Registry) ArrayLen(h value.Word) int64 { return r.array(h).length }

// ArrayCap returns the slot capacity.
func (r *Registry) ArrayCap(h value.Word) int64 { return int64(len(r.array(h).data)) }

// ArrayPush appends an element, doubling the capacity on overflow.
func (r *Registry) ArrayPush(h value.Word, v value.Word) {
	a := r.array(h)
	if a.length == int64(len(a.data)) {
		grown := make([]value.Word, len(a.data)*2)
		copy(grown, a.data)
		a.data = grown
	}
	a.data[a.length] = v
	a.length++
}

// ArrayPop removes and returns the last element; the capacity does not
// shrink. The caller receives the popped reference.
func (r *Registry) ArrayPop(h value.Word) value.Option {
	a := r.array(h)
	if a.length == 0 {
		return value.None()
	}
	a.length--
	v := a.data[a.length]
	a.data[a.length] = 0
	return value.Some(v)
}

// ArrayGet returns the element at index i, or 0 when out of range.
func (r *Registry) ArrayGet(h value.Word, i int64) value.Word {
	a := r.array(h)
	if i < 0 || i >= a.length {
		return 0
	}
	return a.data[i]
}

// ArrayGetChecked returns the element at index i; ok is false when out of
// range (the '!' form panics at the call site).
func (r *Registry) ArrayGetChecked(h value.Word, i int64) (value.Word, bool) {
	a := r.array(h)
	if i < 0 || i >= a.length {
		return 0, false
	}
	return a.data[i], true
}

// ArraySet stores v at index i; out-of-range stores are dropped.
func (r *Registry) ArraySet(h value.Word, i int64, v value.Word) {
	a := r.array(h)
	if i < 0 || i >= a.length {
		return
	}
	a.data[i] = v
}

// ArrayFirst returns the first element, or none when empty.
func (r *Registry) ArrayFirst(h value.Word) value.Option {
	a := r.array(h)
	if a.length == 0 {
		return value.None()
	}
	return value.Some(a.data[0])
}

// ArrayLast returns the last element, or none when empty.
func (r *Registry) ArrayLast(h value.Word) value.Option {
	a := r.array(h)
	if a.length == 0 {
		return value.None()
	}
	return value.Some(a.data[a.length-1])
}

// ArrayContains reports whether v occurs in the array, comparing words (or
// string contents when eq is provided).
func (r *Registry) ArrayContains(h value.Word, v value.Word, eq func(a, b value.Word) bool) bool {
	a := r.array(h)
	for i := int64(0); i < a.length; i++ {
		if eq != nil {
			if eq(a.data[i], v) {
				return true
			}
		} else if a.data[i] == v {
			return true
		}
	}
	return false
}

// ArrayIndexOf returns the index of the first occurrence of v, or none.
func (r *Registry) ArrayIndexOf(h value.Word, v value.Word, eq func(a, b value.Word) bool) value.Option {
	a := r.array(h)
	for i := int64(0); i < a.length; i++ {
		match := a.data[i] == v
		if eq != nil {
			match = eq(a.data[i], v)
		}
		if match {
			return value.Some(value.FromInt(i))
		}
	}
	return value.None()
}

// ArrayClone allocates a shallow copy, increfing each element of the
// provided heap kind.
func (r *Registry) ArrayClone(h value.Word, elem ElemKind) value.Word {
	a := r.array(h)
	out := r.NewArray(a.length)
	oa := r.array(out)
	copy(oa.data, a.data[:a.length])
	oa.length = a.length
	if elem != ElemNone {
		for i := int64(0); i < oa.length; i++ {
			r.Incref(oa.data[i])
		}
	}
	return out
}

// Closure invocation: a closure is (function, captured data handle); the
// function receives the data handle as its first argument.
type ClosureFn func(data value.Word, args ...value.Word) value.Word

// ArrayMap applies the closure to every element, producing a fresh array.
func (r *Registry) ArrayMap(h value.Word, fn ClosureFn, data value.Word) value.Word {
	a := r.array(h)
	out := r.NewArray(a.length)
	for i := int64(0); i < a.length; i++ {
		r.ArrayPush(out, fn(data, a.data[i]))
	}
	return out
}

// ArrayFilter keeps the elements for which the predicate closure returns
// true.
func (r *Registry) ArrayFilter(h value.Word, fn ClosureFn, data value.Word) value.Word {
	a := r.array(h)
	out := r.NewArray(arrayMinCap)
	for i := int64(0); i < a.length; i++ {
		if fn(data, a.data[i]).Bool() {
			r.ArrayPush(out, a.data[i])
		}
	}
	return out
}

// ArrayAny reports whether the predicate holds for any element.
func (r *Registry) ArrayAny(h value.Word, fn ClosureFn, data value.Word) bool {
	a := r.array(h)
	for i := int64(0); i < a.length; i++ {
		if fn(data, a.data[i]).Bool() {
			return true
		}
	}
	return false
}

// ArrayAll reports whether the predicate holds for every element.
func (r *Registry) ArrayAll(h value.Word, fn ClosureFn, data value.Word) bool {
	a := r.array(h)
	for i := int64(0); i < a.length; i++ {
		if !fn(data, a.data[i]).Bool() {
			return false
		}
	}
	return true
}

// ArrayCount returns the number of elements satisfying the predicate.
func (r *Registry) ArrayCount(h value.Word, fn ClosureFn, data value.Word) int64 {
	a := r.array(h)
	var n int64
	for i := int64(0); i < a.length; i++ {
		if fn(data, a.data[i]).Bool() {
			n++
		}
	}
	return n
}

// ArrayFold reduces the array left to right starting from init.
func (r *Registry) ArrayFold(h value.Word, init value.Word, fn ClosureFn, data value.Word) value.Word {
	a := r.array(h)
	acc := init
	for i := int64(0); i < a.length; i++ {
		acc = fn(data, acc, a.data[i])
	}
	return acc
}

// ArrayScan is ArrayFold keeping every intermediate accumulator in a fresh
// array.
func (r *Registry) ArrayScan(h value.Word, init value.Word, fn ClosureFn, data value.Word) value.Word {
	a := r.array(h)
	out := r.NewArray(a.length)
	acc := init
	for i := int64(0); i < a.length; i++ {
		acc = fn(data, acc, a.data[i])
		r.ArrayPush(out, acc)
	}
	return out
}

// ArrayFind returns the first element satisfying the predicate, or none.
func (r *Registry) ArrayFind(h value.Word, fn ClosureFn, data value.Word) value.Option {
	a := r.array(h)
	for i := int64(0); i < a.length; i++ {
		if fn(data, a.data[i]).Bool() {
			return value.Some(a.data[i])
		}
	}
	return value.None()
}

// ArrayFindIndex returns the index of the first element satisfying the
// predicate, or none.
func (r *Registry) ArrayFindIndex(h value.Word, fn ClosureFn, data value.Word) value.Option {
	a := r.array(h)
	for i := int64(0); i < a.length; i++ {
		if fn(data, a.data[i]).Bool() {
			return value.Some(value.FromInt(i))
		}
	}
	return value.None()
}

// ArraySort sorts the elements as signed integers in place.
func (r *Registry) ArraySort(h value.Word) {
	a := r.array(h)
	s := a.data[:a.length]
	sort.Slice(s, func(i, j int) bool { return s[i].Int() < s[j].Int() })
}

// ArraySortBy sorts in place using a three-way comparison closure.
func (r *Registry) ArraySortBy(h value.Word, fn ClosureFn, data value.Word) {
	a := r.array(h)
	s := a.data[:a.length]
	sort.SliceStable(s, func(i, j int) bool {
		return fn(data, s[i], s[j]).Int() < 0
	})
}

// ArraySample returns a pseudo-randomly chosen element, or none when
// empty.
func (r *Registry) ArraySample(h value.Word, rnd func(n int64) int64) value.Option {
	a := r.array(h)
	if a.length == 0 {
		return value.None()
	}
	return value.Some(a.data[rnd(a.length)])
}
