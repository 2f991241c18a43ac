package heap

import (
	"github.com/kahflane/naml/runtime/value"
)

// Struct is a refcounted record: a type id, and one 64-bit slot per field
// in declaration order. Field heap kinds are copied at allocation from the
// per-type table registered by codegen; the decref walk reads that copy.
type Struct struct {
	header
	typeID uint32
	kinds  []FieldKind // field heap kinds, from the registered type table
	fields []value.Word
}

func (s *Struct) children(_ ElemKind, fn func(value.Word, ElemKind)) {
	// struct walks are driven by the field kinds of the type, captured at
	// allocation from the table codegen registered
	for i, k := range s.kinds {
		if k.Heap && i < len(s.fields) {
			fn(s.fields[i], k.Elem)
		}
	}
}

// NewStruct allocates a struct with the given type id and zeroed fields.
func (r *Registry) NewStruct(typeID uint32, fieldCount int) value.Word {
	s := &Struct{
		typeID: typeID,
		kinds:  r.structFields(typeID),
		fields: make([]value.Word, fieldCount),
	}
	s.tag = TagStruct
	return r.alloc(s)
}

func (r *Registry) structObj(h value.Word) *Struct {
	return mustResolve[*Struct](r, h, TagStruct)
}

// StructTypeID returns the type id of a struct handle.
func (r *Registry) StructTypeID(h value.Word) uint32 { return r.structObj(h).typeID }

// StructFieldCount returns the number of fields.
func (r *Registry) StructFieldCount(h value.Word) int { return len(r.structObj(h).fields) }

// StructGetField loads the field at the declaration index.
func (r *Registry) StructGetField(h value.Word, i int) value.Word {
	return r.structObj(h).fields[i]
}

// StructSetField stores the field at the declaration index.
func (r *Registry) StructSetField(h value.Word, i int, v value.Word) {
	r.structObj(h).fields[i] = v
}

// Closure is a refcounted pair of a function and its captured data block
// (itself a struct handle, or null for captureless closures).
type Closure struct {
	header
	fn   ClosureFn
	data value.Word
}

func (c *Closure) children(elem ElemKind, fn func(value.Word, ElemKind)) {
	if c.data != value.Null {
		fn(c.data, ElemStruct)
	}
}

// NewClosure allocates a closure from a function and its captured data
// handle, adopting the data reference.
func (r *Registry) NewClosure(fn ClosureFn, data value.Word) value.Word {
	c := &Closure{fn: fn, data: data}
	c.tag = TagClosure
	return r.alloc(c)
}

// ClosureParts returns the function and captured data of a closure handle.
func (r *Registry) ClosureParts(h value.Word) (ClosureFn, value.Word) {
	c := mustResolve[*Closure](r, h, TagClosure)
	return c.fn, c.data
}

// ClosureCall invokes a closure handle with the provided arguments.
func (r *Registry) ClosureCall(h value.Word, args ...value.Word) value.Word {
	c := mustResolve[*Closure](r, h, TagClosure)
	return c.fn(c.data, args...)
}
