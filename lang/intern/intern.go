// Package intern implements the string interner shared by all compilation
// stages. Identifiers and short strings are mapped to dense uint32 symbols
// that are cheap to copy and compare; the interner is append-only and its
// symbols remain valid for its whole lifetime.
package intern

import "github.com/dolthub/swiss"

// Sym is an opaque handle to an interned string. The zero value is the empty
// string.
type Sym uint32

// Interner maps strings to stable Sym keys. The zero value is not usable,
// call New. An Interner is not safe for concurrent use; compilation is
// single-threaded and the runtime never touches the interner.
type Interner struct {
	syms *swiss.Map[string, Sym]
	strs []string
}

// New returns an empty interner with the empty string pre-interned as Sym 0.
func New() *Interner {
	in := &Interner{syms: swiss.NewMap[string, Sym](64)}
	in.strs = append(in.strs, "")
	in.syms.Put("", 0)
	return in
}

// Intern returns the symbol for s, interning it on first use.
func (in *Interner) Intern(s string) Sym {
	if sym, ok := in.syms.Get(s); ok {
		return sym
	}
	sym := Sym(len(in.strs))
	in.strs = append(in.strs, s)
	in.syms.Put(s, sym)
	return sym
}

// Get returns the symbol for s without interning, and false if s has never
// been interned.
func (in *Interner) Get(s string) (Sym, bool) {
	sym, ok := in.syms.Get(s)
	return sym, ok
}

// Lookup returns the string for a symbol. It panics if sym was not produced
// by this interner.
func (in *Interner) Lookup(sym Sym) string {
	return in.strs[sym]
}

// Len returns the number of interned strings, including the pre-interned
// empty string.
func (in *Interner) Len() int { return len(in.strs) }
