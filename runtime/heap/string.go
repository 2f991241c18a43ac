package heap

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kahflane/naml/runtime/value"
)

// String is a refcounted immutable byte string (UTF-8, not
// null-terminated).
type String struct {
	header
	bytes []byte
}

func (s *String) children(ElemKind, func(value.Word, ElemKind)) {}

// NewString allocates a string copying the provided bytes.
func (r *Registry) NewString(b []byte) value.Word {
	s := &String{bytes: append([]byte(nil), b...)}
	s.tag = TagString
	return r.alloc(s)
}

// StringFromGo allocates a string from a Go string, the handle equivalent
// of wrapping a C string.
func (r *Registry) StringFromGo(s string) value.Word {
	return r.NewString([]byte(s))
}

// StringBytes returns the raw bytes of a string handle.
func (r *Registry) StringBytes(h value.Word) []byte {
	return mustResolve[*String](r, h, TagString).bytes
}

// StringGo returns the Go string of a string handle.
func (r *Registry) StringGo(h value.Word) string {
	return string(r.StringBytes(h))
}

// StringLen returns the byte length.
func (r *Registry) StringLen(h value.Word) int64 {
	return int64(len(r.StringBytes(h)))
}

// StringCharLen returns the number of Unicode code points.
func (r *Registry) StringCharLen(h value.Word) int64 {
	return int64(utf8.RuneCount(r.StringBytes(h)))
}

// StringConcat allocates the concatenation of a and b.
func (r *Registry) StringConcat(a, b value.Word) value.Word {
	ab := r.StringBytes(a)
	bb := r.StringBytes(b)
	out := make([]byte, 0, len(ab)+len(bb))
	out = append(out, ab...)
	out = append(out, bb...)
	s := &String{bytes: out}
	s.tag = TagString
	return r.alloc(s)
}

// StringEq compares two strings, length first then bytes.
func (r *Registry) StringEq(a, b value.Word) bool {
	ab := r.StringBytes(a)
	bb := r.StringBytes(b)
	if len(ab) != len(bb) {
		return false
	}
	return string(ab) == string(bb)
}

// StringIsEmpty reports whether the string is empty.
func (r *Registry) StringIsEmpty(h value.Word) bool {
	return len(r.StringBytes(h)) == 0
}

// StringTrim allocates a copy with leading and trailing whitespace
// removed.
func (r *Registry) StringTrim(h value.Word) value.Word {
	return r.StringFromGo(strings.TrimSpace(r.StringGo(h)))
}

// StringCharAt returns the code point at a character index as a new
// one-character string, or none when out of range.
func (r *Registry) StringCharAt(h value.Word, idx int64) value.Option {
	if idx < 0 {
		return value.None()
	}
	i := int64(0)
	for _, rn := range r.StringGo(h) {
		if i == idx {
			return value.Some(r.StringFromGo(string(rn)))
		}
		i++
	}
	return value.None()
}

// StringToInt parses the string as a decimal integer.
func (r *Registry) StringToInt(h value.Word) value.Option {
	v, err := strconv.ParseInt(strings.TrimSpace(r.StringGo(h)), 10, 64)
	if err != nil {
		return value.None()
	}
	return value.Some(value.FromInt(v))
}

// StringToFloat parses the string as a float.
func (r *Registry) StringToFloat(h value.Word) value.Option {
	v, err := strconv.ParseFloat(strings.TrimSpace(r.StringGo(h)), 64)
	if err != nil {
		return value.None()
	}
	return value.Some(value.FromFloat(v))
}

// StringContains reports whether sub occurs in s.
func (r *Registry) StringContains(s, sub value.Word) bool {
	return strings.Contains(r.StringGo(s), r.StringGo(sub))
}

// StringStartsWith reports whether s begins with prefix.
func (r *Registry) StringStartsWith(s, prefix value.Word) bool {
	return strings.HasPrefix(r.StringGo(s), r.StringGo(prefix))
}

// StringEndsWith reports whether s ends with suffix.
func (r *Registry) StringEndsWith(s, suffix value.Word) bool {
	return strings.HasSuffix(r.StringGo(s), r.StringGo(suffix))
}

// StringSplit splits s around sep, producing a fresh array of fresh
// strings.
func (r *Registry) StringSplit(s, sep value.Word) value.Word {
	parts := strings.Split(r.StringGo(s), r.StringGo(sep))
	arr := r.NewArray(int64(len(parts)))
	for _, p := range parts {
		r.ArrayPush(arr, r.StringFromGo(p))
	}
	return arr
}

// StringIndexOf returns the byte index of the first occurrence of sub, or
// none.
func (r *Registry) StringIndexOf(s, sub value.Word) value.Option {
	i := strings.Index(r.StringGo(s), r.StringGo(sub))
	if i < 0 {
		return value.None()
	}
	return value.Some(value.FromInt(int64(i)))
}

// Bytes is a refcounted mutable byte buffer.
type Bytes struct {
	header
	data []byte
}

func (b *Bytes) children(ElemKind, func(value.Word, ElemKind)) {}

// NewBytes allocates a byte buffer copying the provided bytes.
func (r *Registry) NewBytes(b []byte) value.Word {
	o := &Bytes{data: append([]byte(nil), b...)}
	o.tag = TagBytes
	return r.alloc(o)
}

// BytesData returns the raw bytes of a bytes handle.
func (r *Registry) BytesData(h value.Word) []byte {
	return mustResolve[*Bytes](r, h, TagBytes).data
}
