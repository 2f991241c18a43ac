package codegen

import (
	"sort"

	"github.com/kahflane/naml/lang/types"
	"github.com/kahflane/naml/runtime/heap"
)

// FieldLayout is one field of a struct layout: its name, its heap class
// (which decref family releases it; ElemNone for primitive fields) and,
// for container fields, the element kind selecting the decref variant.
type FieldLayout struct {
	Name  string
	Class heap.ElemKind // the field value's own heap class
	Elem  heap.ElemKind // element kind of a container field's children
}

// StructLayout is the layout of one struct or exception type: a unique
// type id and the fields in declaration order. The field classes drive the
// per-struct generated decref walk.
type StructLayout struct {
	TypeID    uint32
	Name      string
	Fields    []FieldLayout
	Exception bool
}

// HasHeapFields reports whether any field owns a heap reference; structs
// without heap fields use the generic free instead of a generated walk.
func (l *StructLayout) HasHeapFields() bool {
	for _, f := range l.Fields {
		if f.Class != heap.ElemNone {
			return true
		}
	}
	return false
}

// FieldIndex returns the declaration index of a field name, or -1.
func (l *StructLayout) FieldIndex(name string) int {
	for i, f := range l.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// buildLayouts assigns type ids and field kind tables for every struct and
// exception in the symbol table. Ids are assigned in name order so a given
// program always gets the same ids.
func (p *Program) buildLayouts() {
	var names []string
	defs := make(map[string]types.Type)
	for name, def := range p.Symtab.AllTypes() {
		switch def.(type) {
		case *types.Struct, *types.Exception:
			names = append(names, name)
			defs[name] = def
		}
	}
	sort.Strings(names)

	addField := func(l *StructLayout, name string, t types.Type) {
		l.Fields = append(l.Fields, FieldLayout{
			Name:  name,
			Class: HeapKindOf(t),
			Elem:  ElemKindOf(t),
		})
	}

	for i, name := range names {
		l := &StructLayout{TypeID: uint32(i + 1), Name: name}
		switch def := defs[name].(type) {
		case *types.Struct:
			for _, f := range def.Fields {
				addField(l, f.Name, f.Type)
			}
		case *types.Exception:
			l.Exception = true
			for _, f := range def.Fields {
				addField(l, f.Name, f.Type)
			}
		}
		p.Layouts[name] = l
	}
}

// RegisterRuntimeTypes pushes the heap-bearing layouts into a heap
// registry so struct teardown walks can release fields.
func (p *Program) RegisterRuntimeTypes(r *heap.Registry) {
	for _, l := range p.Layouts {
		if !l.HasHeapFields() {
			continue
		}
		kinds := make([]heap.FieldKind, len(l.Fields))
		for i, f := range l.Fields {
			kinds[i] = heap.FieldKind{Heap: f.Class != heap.ElemNone, Elem: f.Elem}
		}
		r.RegisterStructType(l.TypeID, kinds)
	}
}

// HeapKindOf classifies a value of the type by its own heap object class:
// the decref family that releases it. ElemNone means the value is not a
// heap reference.
func HeapKindOf(t types.Type) heap.ElemKind {
	switch t := t.Resolve().(type) {
	case *types.Prim:
		if t.Kind == types.String || t.Kind == types.Bytes {
			return heap.ElemString
		}
		return heap.ElemNone
	case *types.Array, *types.FixedArray:
		return heap.ElemArray
	case *types.Map:
		return heap.ElemMap
	case *types.Struct, *types.Exception:
		return heap.ElemStruct
	case *types.Enum:
		return heap.ElemStruct // enums share struct layout at run time
	case *types.Func:
		return heap.ElemClosure
	case *types.Mutex, *types.Rwlock, *types.Atomic, *types.Channel, *types.Task:
		return heap.ElemStruct
	case *types.Option:
		return HeapKindOf(t.Inner)
	}
	return heap.ElemNone
}

// ElemKindOf returns the element-kind argument passed when releasing a
// value of the type: the heap class of the children a container of this
// type owns. Non-container types take no element kind.
func ElemKindOf(t types.Type) heap.ElemKind {
	switch t := t.Resolve().(type) {
	case *types.Array:
		return HeapKindOf(t.Elem)
	case *types.FixedArray:
		return HeapKindOf(t.Elem)
	case *types.Map:
		return HeapKindOf(t.Value)
	case *types.Mutex:
		return HeapKindOf(t.Inner)
	case *types.Rwlock:
		return HeapKindOf(t.Inner)
	case *types.Channel:
		return HeapKindOf(t.Elem)
	}
	return heap.ElemNone
}

// IsHeapType reports whether values of the type are refcounted heap
// references.
func IsHeapType(t types.Type) bool {
	switch t := t.Resolve().(type) {
	case *types.Prim:
		return t.Kind == types.String || t.Kind == types.Bytes
	case *types.Array, *types.FixedArray, *types.Map, *types.Struct,
		*types.Exception, *types.Enum, *types.Func, *types.Mutex,
		*types.Rwlock, *types.Atomic, *types.Channel:
		return true
	case *types.Option:
		return IsHeapType(t.Inner)
	}
	return false
}
