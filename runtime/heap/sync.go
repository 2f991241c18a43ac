package heap

import (
	"sync"
	"sync/atomic"

	"github.com/kahflane/naml/runtime/value"
)

// Channel is a refcounted typed channel; send blocks when the buffer is
// full (capacity 0 means rendezvous), recv blocks when empty.
type Channel struct {
	header
	ch chan value.Word
}

func (c *Channel) children(elem ElemKind, fn func(value.Word, ElemKind)) {
	if elem == ElemNone {
		return
	}
	// drain undelivered elements so their references are released
	for {
		select {
		case v := <-c.ch:
			fn(v, elem)
		default:
			return
		}
	}
}

// NewChannel allocates a channel with the provided buffer capacity.
func (r *Registry) NewChannel(capacity int64) value.Word {
	c := &Channel{ch: make(chan value.Word, capacity)}
	c.tag = TagChannel
	return r.alloc(c)
}

// ChannelSend blocks until the value is accepted.
func (r *Registry) ChannelSend(h value.Word, v value.Word) {
	mustResolve[*Channel](r, h, TagChannel).ch <- v
}

// ChannelRecv blocks until a value is available.
func (r *Registry) ChannelRecv(h value.Word) value.Word {
	return <-mustResolve[*Channel](r, h, TagChannel).ch
}

// ChannelLen returns the number of buffered values.
func (r *Registry) ChannelLen(h value.Word) int64 {
	return int64(len(mustResolve[*Channel](r, h, TagChannel).ch))
}

// Mutex is a refcounted mutual-exclusion cell holding one value.
type Mutex struct {
	header
	mu sync.Mutex
	v  value.Word
}

func (m *Mutex) children(elem ElemKind, fn func(value.Word, ElemKind)) {
	if elem != ElemNone {
		fn(m.v, elem)
	}
}

// NewMutex allocates a mutex cell holding v.
func (r *Registry) NewMutex(v value.Word) value.Word {
	m := &Mutex{v: v}
	m.tag = TagMutex
	return r.alloc(m)
}

// MutexLoad returns the current value under the lock.
func (r *Registry) MutexLoad(h value.Word) value.Word {
	m := mustResolve[*Mutex](r, h, TagMutex)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v
}

// MutexStore replaces the value under the lock, returning the previous
// value so the caller can release its reference.
func (r *Registry) MutexStore(h value.Word, v value.Word) value.Word {
	m := mustResolve[*Mutex](r, h, TagMutex)
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.v
	m.v = v
	return prev
}

// MutexWith runs fn with the cell's value while holding the lock.
func (r *Registry) MutexWith(h value.Word, fn func(value.Word)) {
	m := mustResolve[*Mutex](r, h, TagMutex)
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.v)
}

// Rwlock is a refcounted readers-writer cell holding one value.
type Rwlock struct {
	header
	mu sync.RWMutex
	v  value.Word
}

func (l *Rwlock) children(elem ElemKind, fn func(value.Word, ElemKind)) {
	if elem != ElemNone {
		fn(l.v, elem)
	}
}

// NewRwlock allocates a readers-writer cell holding v.
func (r *Registry) NewRwlock(v value.Word) value.Word {
	l := &Rwlock{v: v}
	l.tag = TagRwlock
	return r.alloc(l)
}

// RwlockRead returns the current value under the read lock.
func (r *Registry) RwlockRead(h value.Word) value.Word {
	l := mustResolve[*Rwlock](r, h, TagRwlock)
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.v
}

// RwlockWrite replaces the value under the write lock, returning the
// previous value.
func (r *Registry) RwlockWrite(h value.Word, v value.Word) value.Word {
	l := mustResolve[*Rwlock](r, h, TagRwlock)
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.v
	l.v = v
	return prev
}

// Atomic is a refcounted lock-free primitive cell. All operations use
// sequentially consistent ordering.
type Atomic struct {
	header
	v atomic.Int64
}

func (a *Atomic) children(ElemKind, func(value.Word, ElemKind)) {}

// NewAtomic allocates an atomic cell of the provided tag (TagAtomicInt,
// TagAtomicUint or TagAtomicBool) holding v.
func (r *Registry) NewAtomic(tag Tag, v value.Word) value.Word {
	a := &Atomic{}
	a.tag = tag
	a.v.Store(int64(v))
	return r.alloc(a)
}

func (r *Registry) atomicObj(h value.Word) *Atomic {
	o := r.resolve(h)
	if a, ok := o.(*Atomic); ok {
		return a
	}
	panic("handle is not an atomic cell")
}

// AtomicLoad returns the current value.
func (r *Registry) AtomicLoad(h value.Word) value.Word {
	return value.Word(r.atomicObj(h).v.Load())
}

// AtomicStore replaces the value.
func (r *Registry) AtomicStore(h value.Word, v value.Word) {
	r.atomicObj(h).v.Store(int64(v))
}

// AtomicAdd adds delta and returns the new value.
func (r *Registry) AtomicAdd(h value.Word, delta value.Word) value.Word {
	return value.Word(r.atomicObj(h).v.Add(int64(delta)))
}

// AtomicSwap replaces the value and returns the previous one.
func (r *Registry) AtomicSwap(h value.Word, v value.Word) value.Word {
	return value.Word(r.atomicObj(h).v.Swap(int64(v)))
}
