package token

import (
	"fmt"
	gotoken "go/token"
	"sort"
	"sync"
)

// Pos is a byte offset in the source of a file, relative to the file's base
// offset in its FileSet. A value of 0 means "unknown".
type Pos int

// IsValid returns true if the position is known.
func (p Pos) IsValid() bool { return p > 0 }

// A Span locates a contiguous range of bytes in a single file of a FileSet.
// Start and End are offsets into the fileset, End is exclusive.
type Span struct {
	Start Pos
	End   Pos
}

// MakeSpan creates a Span from the start and end positions.
func MakeSpan(start, end Pos) Span { return Span{Start: start, End: end} }

// Merge returns the smallest span covering both s and o, ignoring unknown
// spans.
func (s Span) Merge(o Span) Span {
	if !s.Start.IsValid() {
		return o
	}
	if !o.Start.IsValid() {
		return s
	}
	if o.Start < s.Start {
		s.Start = o.Start
	}
	if o.End > s.End {
		s.End = o.End
	}
	return s
}

// IsValid returns true if the span's positions are known and ordered.
func (s Span) IsValid() bool { return s.Start.IsValid() && s.End >= s.Start }

// Position is a decoded position: filename, 1-based line and column, and
// the byte offset in the file. It aliases go/token.Position so the
// go/scanner error machinery is reusable as-is.
type Position = gotoken.Position

// A File is a handle for a source file registered in a FileSet. Line
// information is recorded lazily by the scanner via AddLine and used to
// translate offsets into line/column positions.
type File struct {
	set  *FileSet
	name string
	base int
	size int

	mu    sync.Mutex
	lines []int // offsets of the first byte of each line, lines[0] == 0
}

// Name returns the file name as registered.
func (f *File) Name() string { return f.name }

// Base returns the base offset of the file in its FileSet.
func (f *File) Base() int { return f.base }

// Size returns the size of the file in bytes.
func (f *File) Size() int { return f.size }

// Pos returns the Pos value for the given file offset.
func (f *File) Pos(offset int) Pos { return Pos(f.base + offset) }

// Offset returns the file offset for the given Pos value.
func (f *File) Offset(p Pos) int { return int(p) - f.base }

// AddLine records the offset of the first byte of a new line. Offsets must
// be added in increasing order; out-of-order offsets are ignored.
func (f *File) AddLine(offset int) {
	f.mu.Lock()
	if i := len(f.lines); (i == 0 || f.lines[i-1] < offset) && offset <= f.size {
		f.lines = append(f.lines, offset)
	}
	f.mu.Unlock()
}

// Position returns the Position for the provided Pos in this file.
func (f *File) Position(p Pos) Position {
	offset := f.Offset(p)
	pos := Position{Filename: f.name, Offset: offset}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.lines) == 0 || f.lines[0] != 0 {
		// line table always logically starts at offset 0
		f.lines = append([]int{0}, f.lines...)
	}
	i := sort.SearchInts(f.lines, offset+1) - 1
	pos.Line = i + 1
	pos.Column = offset - f.lines[i] + 1
	return pos
}

// SpanPosition returns the start and end Positions of a span in this file.
func (f *File) SpanPosition(s Span) (start, end Position) {
	return f.Position(s.Start), f.Position(s.End)
}

// A FileSet holds the files of a single compilation. Each file is assigned a
// contiguous range of Pos values so that a Pos identifies both the file and
// the offset.
type FileSet struct {
	mu    sync.Mutex
	base  int
	files []*File
}

// NewFileSet creates a new, empty file set.
func NewFileSet() *FileSet {
	return &FileSet{base: 1} // 0 == unknown Pos
}

// AddFile registers a file of the given size under name and returns its
// handle. If base < 0, the next available base is used.
func (fs *FileSet) AddFile(name string, base, size int) *File {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if base < 0 {
		base = fs.base
	}
	if base < fs.base {
		panic(fmt.Sprintf("invalid base %d (minimum %d)", base, fs.base))
	}
	f := &File{set: fs, name: name, base: base, size: size}
	fs.base = base + size + 1 // +1 so EOF has a distinct position
	fs.files = append(fs.files, f)
	return f
}

// File returns the file containing the provided position, or nil if no such
// file exists in the set.
func (fs *FileSet) File(p Pos) *File {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, f := range fs.files {
		if int(p) >= f.base && int(p) <= f.base+f.size {
			return f
		}
	}
	return nil
}

// Position translates a Pos into a Position, resolving the owning file.
func (fs *FileSet) Position(p Pos) Position {
	if f := fs.File(p); f != nil {
		return f.Position(p)
	}
	return Position{}
}

// PosMode controls how node positions are rendered by printers.
type PosMode int

// List of position printing modes.
const (
	// PosNone does not print any position information.
	PosNone PosMode = iota
	// PosOffsets prints byte offsets.
	PosOffsets
	// PosLines prints line:column positions.
	PosLines
)
