package intern_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kahflane/naml/lang/intern"
)

func TestInternStableKeys(t *testing.T) {
	in := intern.New()
	a := in.Intern("foo")
	b := in.Intern("bar")
	require.NotEqual(t, a, b)
	require.Equal(t, a, in.Intern("foo"))
	require.Equal(t, "foo", in.Lookup(a))
	require.Equal(t, "bar", in.Lookup(b))
}

func TestEmptyStringIsSymZero(t *testing.T) {
	in := intern.New()
	require.Equal(t, intern.Sym(0), in.Intern(""))
	require.Equal(t, "", in.Lookup(0))
	require.Equal(t, 1, in.Len())
}

func TestGetDoesNotIntern(t *testing.T) {
	in := intern.New()
	_, ok := in.Get("missing")
	require.False(t, ok)
	require.Equal(t, 1, in.Len())

	sym := in.Intern("present")
	got, ok := in.Get("present")
	require.True(t, ok)
	require.Equal(t, sym, got)
}

func TestAppendOnlyDenseKeys(t *testing.T) {
	in := intern.New()
	for i, s := range []string{"a", "b", "c"} {
		require.Equal(t, intern.Sym(i+1), in.Intern(s))
	}
	require.Equal(t, 4, in.Len())
}
