// Package heap implements the naml runtime memory model: reference-counted
// heap objects (strings, arrays, maps, structs, closures, channels, locks
// and atomics) addressed by 64-bit handles, with per-element-kind
// reclamation walks.
//
// Incref is a relaxed atomic add; decref is a release subtract and, when
// the count reaches zero, an acquire fence precedes the teardown walk that
// releases owned heap children before the object itself. The registry that
// resolves handles doubles as the leak detector: an object stays resolvable
// until its refcount drops to zero.
package heap

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kahflane/naml/runtime/value"
)

// Tag identifies the kind of a heap object.
type Tag uint8

// List of heap object tags.
const (
	TagString Tag = iota + 1
	TagArray
	TagStruct
	TagMap
	TagClosure
	TagChannel
	TagBytes
	TagMutex
	TagRwlock
	TagAtomicInt
	TagAtomicUint
	TagAtomicBool
)

var tagNames = map[Tag]string{
	TagString: "string", TagArray: "array", TagStruct: "struct",
	TagMap: "map", TagClosure: "closure", TagChannel: "channel",
	TagBytes: "bytes", TagMutex: "mutex", TagRwlock: "rwlock",
	TagAtomicInt: "atomic<int>", TagAtomicUint: "atomic<uint>",
	TagAtomicBool: "atomic<bool>",
}

func (t Tag) String() string { return tagNames[t] }

// ElemKind classifies the heap kind of container elements and struct
// fields, selecting the decref walk variant. It is a static property of the
// container's declared type, known only to codegen; it is never stored in
// the object header.
type ElemKind uint8

// List of element heap kinds.
const (
	ElemNone ElemKind = iota // primitive, no refcount
	ElemString
	ElemArray
	ElemMap
	ElemStruct
	ElemClosure
)

// header is the common prefix of every heap object: an atomic refcount and
// the tag.
type header struct {
	refs atomic.Int64
	tag  Tag
}

func (h *header) Tag() Tag { return h.tag }

// Object is implemented by every heap object kind.
type Object interface {
	hdr() *header

	// children calls fn for every owned heap child handle, in left-to-right
	// order. elem is the element kind recorded by the decref entry point.
	children(elem ElemKind, fn func(value.Word, ElemKind))
}

func (h *header) hdr() *header { return h }

// Registry resolves handles to objects and keeps refcounted objects alive.
// Handles are dense positive integers; handle 0 is the null reference.
type Registry struct {
	mu   sync.Mutex
	objs map[value.Word]Object
	next uint64

	structTypes sync.Map // uint32 -> []ElemKind, registered by codegen
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{objs: make(map[value.Word]Object, 256)}
}

// Default is the process-wide registry used by the C-ABI entry points.
var Default = NewRegistry()

// alloc registers an object with refcount 1 and returns its handle.
func (r *Registry) alloc(o Object) value.Word {
	o.hdr().refs.Store(1)
	r.mu.Lock()
	r.next++
	h := value.Word(r.next)
	r.objs[h] = o
	r.mu.Unlock()
	return h
}

// resolve returns the object for a handle, or nil for the null handle or an
// already-freed object.
func (r *Registry) resolve(h value.Word) Object {
	if h == value.Null {
		return nil
	}
	r.mu.Lock()
	o := r.objs[h]
	r.mu.Unlock()
	return o
}

// free removes a dead object from the registry.
func (r *Registry) free(h value.Word) {
	r.mu.Lock()
	delete(r.objs, h)
	r.mu.Unlock()
}

// Live returns the number of live heap objects; the leak detector reports
// this at process exit.
func (r *Registry) Live() int {
	r.mu.Lock()
	n := len(r.objs)
	r.mu.Unlock()
	return n
}

// Refcount returns the current refcount of a handle, 0 for null or freed
// handles.
func (r *Registry) Refcount(h value.Word) int64 {
	o := r.resolve(h)
	if o == nil {
		return 0
	}
	return o.hdr().refs.Load()
}

// Incref increments the refcount. Incref on the null handle is a no-op.
func (r *Registry) Incref(h value.Word) {
	if o := r.resolve(h); o != nil {
		o.hdr().refs.Add(1)
	}
}

// Decref decrements the refcount of an object whose elements are
// primitives. Decref on the null handle is a no-op.
func (r *Registry) Decref(h value.Word) {
	r.DecrefElem(h, ElemNone)
}

// DecrefElem decrements the refcount, releasing owned children of the
// provided element kind and freeing the object when the count reaches
// zero. Children are released in left-to-right index/probe order.
func (r *Registry) DecrefElem(h value.Word, elem ElemKind) {
	o := r.resolve(h)
	if o == nil {
		return
	}
	if o.hdr().refs.Add(-1) > 0 {
		return
	}
	// the release subtract above pairs with this teardown; children first,
	// then the object itself
	o.children(elem, func(child value.Word, kind ElemKind) {
		r.DecrefElem(child, kind)
	})
	r.free(h)
}

// FieldKind describes one struct field for the teardown walk: whether the
// field holds a heap reference at all, and the element kind passed to its
// decref (meaningful for container fields, ignored by the rest).
type FieldKind struct {
	Heap bool
	Elem ElemKind
}

// RegisterStructType records the field heap kinds of a struct type_id.
// Codegen emits one registration per struct with heap-bearing fields; the
// per-struct decref walk reads it.
func (r *Registry) RegisterStructType(typeID uint32, fields []FieldKind) {
	r.structTypes.Store(typeID, fields)
}

// structFields returns the registered field kinds of a struct type, or nil
// when the struct has no heap fields.
func (r *Registry) structFields(typeID uint32) []FieldKind {
	if v, ok := r.structTypes.Load(typeID); ok {
		return v.([]FieldKind)
	}
	return nil
}

// mustResolve resolves a handle of an expected tag, panicking on misuse;
// the code generator never emits a mistyped access.
func mustResolve[T Object](r *Registry, h value.Word, tag Tag) T {
	o := r.resolve(h)
	if o == nil {
		panic(fmt.Sprintf("null or freed %s handle %d", tag, h))
	}
	t, ok := o.(T)
	if !ok {
		panic(fmt.Sprintf("handle %d is a %s, expected %s", h, o.hdr().tag, tag))
	}
	return t
}
