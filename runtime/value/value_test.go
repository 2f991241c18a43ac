package value_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kahflane/naml/runtime/value"
)

func TestIntRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 42, math.MaxInt64, math.MinInt64} {
		require.Equal(t, v, value.FromInt(v).Int())
	}
}

func TestUintRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, math.MaxUint64} {
		require.Equal(t, v, value.FromUint(v).Uint())
	}
}

func TestBool(t *testing.T) {
	require.Equal(t, value.Word(1), value.FromBool(true))
	require.Equal(t, value.Word(0), value.FromBool(false))
	require.True(t, value.FromBool(true).Bool())
	require.False(t, value.FromBool(false).Bool())
}

func TestFloatBitPreserved(t *testing.T) {
	for _, v := range []float64{0, 1.5, -3.25, math.Pi, math.Inf(1), math.SmallestNonzeroFloat64} {
		require.Equal(t, v, value.FromFloat(v).Float())
	}
	// NaN round-trips by bit pattern
	nan := value.FromFloat(math.NaN())
	require.True(t, math.IsNaN(nan.Float()))
}

func TestOptionDistinguishesNoneFromSomeZero(t *testing.T) {
	none := value.None()
	some0 := value.Some(0)
	require.False(t, none.IsSome())
	require.True(t, some0.IsSome())
	require.Equal(t, value.Word(0), some0.Value)
}
