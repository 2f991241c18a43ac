package heap

import (
	"fmt"
	"io"
	"strconv"

	"github.com/kahflane/naml/runtime/value"
)

// SymbolNames lists the C-ABI entry points of the heap runtime, grouped the
// way the AOT object file declares them. JIT-style in-process execution
// binds them through the Registry methods instead; AOT links against the
// runtime library exporting these exact names.
var SymbolNames = []string{
	"string_new", "string_from_cstr", "string_len", "string_concat",
	"string_eq", "string_incref", "string_decref", "string_to_int",
	"string_to_float", "string_char_at", "string_char_len",
	"string_is_empty", "string_trim",

	"array_new", "array_from", "array_len", "array_get", "array_set",
	"array_push", "array_pop", "array_contains", "array_clone",
	"array_incref", "array_decref", "array_decref_strings",
	"array_decref_arrays", "array_decref_maps", "array_decref_structs",
	"array_print", "array_print_strings", "array_map", "array_filter",
	"array_find", "array_find_index", "array_fold", "array_scan",
	"array_sort", "array_sort_by", "array_sample", "array_any",
	"array_all", "array_count",

	"map_new", "map_set", "map_get", "map_contains", "map_len",
	"map_remove", "map_incref", "map_decref", "map_decref_strings",
	"map_decref_arrays", "map_decref_maps", "map_decref_structs",
	"map_print", "map_print_string_values",

	"struct_new", "struct_get_field", "struct_set_field", "struct_incref",
	"struct_decref", "struct_free",

	"print_int", "print_float", "print_bool", "print_str", "print_newline",
	"option_print_int", "option_print_str",
}

// decref entry points by element kind, used by codegen to pick the variant
// matching a container's element heap kind.
var arrayDecrefByElem = map[ElemKind]string{
	ElemNone:    "array_decref",
	ElemString:  "array_decref_strings",
	ElemArray:   "array_decref_arrays",
	ElemMap:     "array_decref_maps",
	ElemStruct:  "array_decref_structs",
	ElemClosure: "array_decref_structs",
}

var mapDecrefByElem = map[ElemKind]string{
	ElemNone:    "map_decref",
	ElemString:  "map_decref_strings",
	ElemArray:   "map_decref_arrays",
	ElemMap:     "map_decref_maps",
	ElemStruct:  "map_decref_structs",
	ElemClosure: "map_decref_structs",
}

// ArrayDecrefSymbol returns the array decref entry point for an element
// kind.
func ArrayDecrefSymbol(elem ElemKind) string { return arrayDecrefByElem[elem] }

// MapDecrefSymbol returns the map decref entry point for a value element
// kind.
func MapDecrefSymbol(elem ElemKind) string { return mapDecrefByElem[elem] }

// StructDecrefSymbol returns the per-struct generated decref entry point
// for a heap-bearing struct type.
func StructDecrefSymbol(structName string) string {
	return "struct_decref_" + structName
}

// Print helpers. They write the canonical formatting of each value class;
// the writer is the task's stdout.

// PrintInt writes a signed integer.
func PrintInt(w io.Writer, v int64) { fmt.Fprintf(w, "%d\n", v) }

// PrintFloat writes a float using the shortest representation that
// round-trips.
func PrintFloat(w io.Writer, v float64) {
	fmt.Fprintf(w, "%s\n", strconv.FormatFloat(v, 'g', -1, 64))
}

// PrintBool writes true or false.
func PrintBool(w io.Writer, v bool) { fmt.Fprintf(w, "%t\n", v) }

// PrintStr writes the bytes of a string handle.
func (r *Registry) PrintStr(w io.Writer, h value.Word) {
	fmt.Fprintf(w, "%s\n", r.StringGo(h))
}

// PrintArray writes an array of primitive words.
func (r *Registry) PrintArray(w io.Writer, h value.Word) {
	a := r.array(h)
	fmt.Fprint(w, "[")
	for i := int64(0); i < a.length; i++ {
		if i > 0 {
			fmt.Fprint(w, ", ")
		}
		fmt.Fprintf(w, "%d", a.data[i].Int())
	}
	fmt.Fprintln(w, "]")
}

// PrintArrayStrings writes an array of string handles.
func (r *Registry) PrintArrayStrings(w io.Writer, h value.Word) {
	a := r.array(h)
	fmt.Fprint(w, "[")
	for i := int64(0); i < a.length; i++ {
		if i > 0 {
			fmt.Fprint(w, ", ")
		}
		fmt.Fprintf(w, "%q", r.StringGo(a.data[i]))
	}
	fmt.Fprintln(w, "]")
}

// PrintOptionInt writes some(n) or none.
func PrintOptionInt(w io.Writer, o value.Option) {
	if o.IsSome() {
		fmt.Fprintf(w, "some(%d)\n", o.Value.Int())
		return
	}
	fmt.Fprintln(w, "none")
}

// PrintOptionStr writes some("s") or none.
func (r *Registry) PrintOptionStr(w io.Writer, o value.Option) {
	if o.IsSome() {
		fmt.Fprintf(w, "some(%q)\n", r.StringGo(o.Value))
		return
	}
	fmt.Fprintln(w, "none")
}
