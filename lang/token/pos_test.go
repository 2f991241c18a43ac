package token

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpanMerge(t *testing.T) {
	a := MakeSpan(5, 10)
	b := MakeSpan(8, 20)
	m := a.Merge(b)
	require.Equal(t, Pos(5), m.Start)
	require.Equal(t, Pos(20), m.End)

	// merging with an unknown span keeps the known one
	require.Equal(t, a, a.Merge(Span{}))
	require.Equal(t, a, Span{}.Merge(a))
}

func TestSpanStartNotAfterEnd(t *testing.T) {
	require.True(t, MakeSpan(3, 3).IsValid())
	require.True(t, MakeSpan(3, 7).IsValid())
	require.False(t, MakeSpan(7, 3).IsValid())
}

func TestFilePositions(t *testing.T) {
	fs := NewFileSet()
	src := "ab\ncde\nf"
	f := fs.AddFile("t.naml", -1, len(src))
	// the scanner records line starts as it reads
	f.AddLine(3)
	f.AddLine(7)

	pos := f.Position(f.Pos(0))
	require.Equal(t, 1, pos.Line)
	require.Equal(t, 1, pos.Column)

	pos = f.Position(f.Pos(4))
	require.Equal(t, 2, pos.Line)
	require.Equal(t, 2, pos.Column)

	pos = f.Position(f.Pos(7))
	require.Equal(t, 3, pos.Line)
	require.Equal(t, 1, pos.Column)
	require.Equal(t, "t.naml:3:1", pos.String())
}

func TestFileSetResolvesOwningFile(t *testing.T) {
	fs := NewFileSet()
	f1 := fs.AddFile("a.naml", -1, 10)
	f2 := fs.AddFile("b.naml", -1, 10)

	require.Equal(t, f1, fs.File(f1.Pos(5)))
	require.Equal(t, f2, fs.File(f2.Pos(5)))
	require.Equal(t, "b.naml", fs.Position(f2.Pos(0)).Filename)
}
