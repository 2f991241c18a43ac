package heap

import (
	"github.com/kahflane/naml/runtime/value"
)

// Map is a refcounted open-addressed hash table. Keys are string handles
// hashed with FNV-1a over their bytes; collisions probe linearly; the table
// grows at a 0.75 load factor by doubling its capacity. Values share the
// array slot convention: primitive words or heap handles, with the value
// heap kind known only to codegen.
type Map struct {
	header
	length  int64
	entries []mapEntry
}

type mapEntry struct {
	key      value.Word // string handle, owned by the map
	value    value.Word
	occupied bool
}

const mapMinCap = 8

func (m *Map) children(elem ElemKind, fn func(value.Word, ElemKind)) {
	for i := range m.entries {
		if !m.entries[i].occupied {
			continue
		}
		fn(m.entries[i].key, ElemString)
		if elem != ElemNone {
			fn(m.entries[i].value, elem)
		}
	}
}

// NewMap allocates an empty map.
func (r *Registry) NewMap() value.Word {
	m := &Map{entries: make([]mapEntry, mapMinCap)}
	m.tag = TagMap
	return r.alloc(m)
}

func (r *Registry) mapObj(h value.Word) *Map {
	return mustResolve[*Map](r, h, TagMap)
}

// fnv1a hashes key bytes with the 64-bit FNV-1a function.
func fnv1a(b []byte) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for _, c := range b {
		h ^= uint64(c)
		h *= prime64
	}
	return h
}

// probe returns the slot index of the key if present, otherwise the first
// free slot of its probe sequence.
func (r *Registry) probe(m *Map, key []byte) int {
	mask := uint64(len(m.entries) - 1)
	i := fnv1a(key) & mask
	for {
		e := &m.entries[i]
		if !e.occupied {
			return int(i)
		}
		if string(r.StringBytes(e.key)) == string(key) {
			return int(i)
		}
		i = (i + 1) & mask
	}
}

// MapLen returns the number of entries.
func (r *Registry) MapLen(h value.Word) int64 { return r.mapObj(h).length }

// MapCap returns the table capacity.
func (r *Registry) MapCap(h value.Word) int64 { return int64(len(r.mapObj(h).entries)) }

// MapSet inserts or updates a key. A fresh insertion increfs the key
// handle, because the map now holds its own reference; an update of an
// existing key does not touch the stored key's refcount.
func (r *Registry) MapSet(h value.Word, key, v value.Word) {
	m := r.mapObj(h)

	// grow before insert so length stays under capacity * 0.75
	if float64(m.length+1) > float64(len(m.entries))*0.75 {
		r.grow(m)
	}

	kb := r.StringBytes(key)
	i := r.probe(m, kb)
	e := &m.entries[i]
	if e.occupied {
		e.value = v
		return
	}
	r.Incref(key)
	*e = mapEntry{key: key, value: v, occupied: true}
	m.length++
}

// grow doubles the table and rehashes every occupied entry into it. The
// entries are moved, not reinserted: the map keeps holding the same logical
// key references, so no refcount is touched.
func (r *Registry) grow(m *Map) {
	old := m.entries
	m.entries = make([]mapEntry, len(old)*2)
	for i := range old {
		if !old[i].occupied {
			continue
		}
		mask := uint64(len(m.entries) - 1)
		j := fnv1a(r.StringBytes(old[i].key)) & mask
		for m.entries[j].occupied {
			j = (j + 1) & mask
		}
		m.entries[j] = old[i]
	}
}

// MapGet returns the value stored under key, or none.
func (r *Registry) MapGet(h value.Word, key value.Word) value.Option {
	m := r.mapObj(h)
	e := &m.entries[r.probe(m, r.StringBytes(key))]
	if !e.occupied {
		return value.None()
	}
	return value.Some(e.value)
}

// MapGetOrZero returns the value stored under key, or 0 when absent (the
// indexing form m[k]).
func (r *Registry) MapGetOrZero(h value.Word, key value.Word) value.Word {
	if opt := r.MapGet(h, key); opt.IsSome() {
		return opt.Value
	}
	return 0
}

// MapContains reports whether key is present.
func (r *Registry) MapContains(h value.Word, key value.Word) bool {
	m := r.mapObj(h)
	return m.entries[r.probe(m, r.StringBytes(key))].occupied
}

// MapRemove deletes a key, returning its value. The removed key's
// reference moves to nobody: the caller's decref of the returned option
// does not cover it, so the map releases it here. The probe chain is
// repaired by reinserting the entries that follow the hole.
func (r *Registry) MapRemove(h value.Word, key value.Word) value.Option {
	m := r.mapObj(h)
	i := r.probe(m, r.StringBytes(key))
	e := &m.entries[i]
	if !e.occupied {
		return value.None()
	}
	removed := e.value
	r.DecrefElem(e.key, ElemString)
	*e = mapEntry{}
	m.length--

	// rehash the rest of the cluster so linear probing stays coherent
	mask := uint64(len(m.entries) - 1)
	j := (uint64(i) + 1) & mask
	for m.entries[j].occupied {
		moved := m.entries[j]
		m.entries[j] = mapEntry{}
		k := fnv1a(r.StringBytes(moved.key)) & mask
		for m.entries[k].occupied {
			k = (k + 1) & mask
		}
		m.entries[k] = moved
		j = (j + 1) & mask
	}
	return value.Some(removed)
}

// MapKeys returns a fresh array of the keys, increfing each: the array
// holds new references.
func (r *Registry) MapKeys(h value.Word) value.Word {
	m := r.mapObj(h)
	out := r.NewArray(m.length)
	for i := range m.entries {
		if m.entries[i].occupied {
			r.Incref(m.entries[i].key)
			r.ArrayPush(out, m.entries[i].key)
		}
	}
	return out
}

// MapValues returns a fresh array of the values in probe order. Values of
// heap kind must be increfed by the caller, which knows their kind.
func (r *Registry) MapValues(h value.Word) value.Word {
	m := r.mapObj(h)
	out := r.NewArray(m.length)
	for i := range m.entries {
		if m.entries[i].occupied {
			r.ArrayPush(out, m.entries[i].value)
		}
	}
	return out
}
