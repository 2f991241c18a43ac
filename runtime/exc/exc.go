// Package exc implements the exception runtime: a per-task exception slot
// driving the sentinel-return propagation protocol, and the shadow call
// stack attached to exceptions at throw time.
package exc

import (
	"fmt"
	"io"

	"github.com/kahflane/naml/runtime/value"
)

// Sentinel is the word returned by a function that has set the exception
// slot; every call site of a throws function checks the slot after the
// call and propagates by returning the sentinel in turn.
const Sentinel value.Word = ^value.Word(0)

// Slot is one task's exception state: the pending exception object and its
// type tag. The zero Slot is clear.
type Slot struct {
	obj value.Word
	tag uint32
	set bool
}

// Set records a pending exception with its type tag.
func (s *Slot) Set(obj value.Word, tag uint32) {
	s.obj = obj
	s.tag = tag
	s.set = true
}

// IsSet reports whether an exception is pending.
func (s *Slot) IsSet() bool { return s.set }

// Tag returns the pending exception's type tag.
func (s *Slot) Tag() uint32 { return s.tag }

// Object returns the pending exception object handle.
func (s *Slot) Object() value.Word { return s.obj }

// Clear resets the slot, returning the exception object it held. A catch
// handler whose declared type matches the tag clears the slot and receives
// the object.
func (s *Slot) Clear() value.Word {
	obj := s.obj
	*s = Slot{}
	return obj
}

// Take clears and returns the slot only when the pending tag matches;
// otherwise it leaves the slot set so the exception keeps propagating.
func (s *Slot) Take(tag uint32) (value.Word, bool) {
	if !s.set || s.tag != tag {
		return value.Null, false
	}
	return s.Clear(), true
}

// RenderTrace writes a captured stack trace, innermost frame first.
func RenderTrace(w io.Writer, frames []Frame) {
	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		fmt.Fprintf(w, "  at %s (%s:%d)\n", f.Function, f.File, f.Line)
	}
}
