package maincmd

import (
	"context"

	"github.com/mna/mainer"

	"github.com/kahflane/naml/lang/ast"
	"github.com/kahflane/naml/lang/parser"
	"github.com/kahflane/naml/lang/scanner"
	"github.com/kahflane/naml/lang/token"
)

func (c *Cmd) Parse(ctx context.Context, stdio mainer.Stdio, args []string) error {
	mode := token.PosNone
	if c.Pos {
		mode = token.PosOffsets
	}
	return printError(stdio, ParseFiles(ctx, stdio, mode, args...))
}

// ParseFiles parses the files and prints the resulting ASTs; parse errors
// go to stderr and a partial AST is still printed.
func ParseFiles(ctx context.Context, stdio mainer.Stdio, pos token.PosMode, files ...string) error {
	res, err := parser.ParseFiles(ctx, files...)
	if err != nil {
		scanner.PrintError(stdio.Stderr, err)
	}

	p := ast.Printer{Output: stdio.Stdout, Pos: pos}
	for _, f := range res.Files {
		file := res.FileSet.File(f.Span().Start)
		if perr := p.Print(f, file); perr != nil {
			return perr
		}
	}
	return err
}
