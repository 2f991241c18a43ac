package exc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlotSetTakeClear(t *testing.T) {
	var s Slot
	require.False(t, s.IsSet())

	s.Set(42, 3)
	require.True(t, s.IsSet())
	require.EqualValues(t, 3, s.Tag())
	require.EqualValues(t, 42, s.Object())

	// a mismatched tag leaves the slot set so the exception propagates
	_, ok := s.Take(9)
	require.False(t, ok)
	require.True(t, s.IsSet())

	obj, ok := s.Take(3)
	require.True(t, ok)
	require.EqualValues(t, 42, obj)
	require.False(t, s.IsSet())
}

func TestShadowStackPushPop(t *testing.T) {
	var ss ShadowStack
	ss.Push("main", "main.naml", 1)
	ss.Push("fib", "main.naml", 4)
	require.Equal(t, 2, ss.Depth())

	frames := ss.Capture()
	require.Len(t, frames, 2)
	require.Equal(t, "fib", frames[1].Function)

	ss.Pop()
	require.Equal(t, 1, ss.Depth())
}

func TestShadowStackSaturates(t *testing.T) {
	var ss ShadowStack
	for i := 0; i < MaxFrames+50; i++ {
		ss.Push("deep", "x.naml", uint32(i))
	}
	require.Equal(t, MaxFrames, ss.Depth())

	ss.Reset()
	require.Equal(t, 0, ss.Depth())
	ss.Pop() // pop at zero saturates, no underflow
	require.Equal(t, 0, ss.Depth())
}

func TestRenderTraceInnermostFirst(t *testing.T) {
	var ss ShadowStack
	ss.Push("main", "main.naml", 1)
	ss.Push("inner", "main.naml", 9)

	var sb strings.Builder
	RenderTrace(&sb, ss.Capture())
	out := sb.String()
	require.Less(t, strings.Index(out, "inner"), strings.Index(out, "main.naml:1"))
	require.Contains(t, out, "at inner (main.naml:9)")
}
