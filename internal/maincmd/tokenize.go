package maincmd

import (
	"context"
	"fmt"

	"github.com/mna/mainer"

	"github.com/kahflane/naml/lang/scanner"
)

func (c *Cmd) Tokenize(ctx context.Context, stdio mainer.Stdio, args []string) error {
	return printError(stdio, TokenizeFiles(ctx, stdio, args...))
}

// TokenizeFiles scans the files and prints one token per line with its
// span offsets.
func TokenizeFiles(ctx context.Context, stdio mainer.Stdio, files ...string) error {
	fs, byFile, err := scanner.ScanFiles(ctx, files...)
	if err != nil {
		scanner.PrintError(stdio.Stderr, err)
		return err
	}
	for i, toks := range byFile {
		if len(files) > 1 {
			fmt.Fprintf(stdio.Stdout, "== %s\n", files[i])
		}
		for _, tv := range toks {
			pos := fs.Position(tv.Value.Pos)
			fmt.Fprintf(stdio.Stdout, "%d:%d\t%s\t%s\n",
				pos.Line, pos.Column, tv.Token, tv.Token.Literal(tv.Value))
		}
	}
	return nil
}
