package maincmd

import (
	"context"
	"fmt"

	"github.com/mna/mainer"

	"github.com/kahflane/naml/lang/checker"
	"github.com/kahflane/naml/lang/parser"
	"github.com/kahflane/naml/lang/scanner"
)

func (c *Cmd) Check(ctx context.Context, stdio mainer.Stdio, args []string) error {
	_, _, _, err := CheckFiles(ctx, stdio, args...)
	return err
}

// CheckFiles parses and type-checks the files, printing any errors.
// Compilation fails fast: parse errors abort type-checking.
func CheckFiles(ctx context.Context, stdio mainer.Stdio, files ...string) (*parser.Result, *checker.Annotations, *checker.SymbolTable, error) {
	res, err := parser.ParseFiles(ctx, files...)
	if err != nil {
		scanner.PrintError(stdio.Stderr, err)
		return nil, nil, nil, err
	}

	ann, symtab, err := checker.Check(ctx, res)
	if err != nil {
		if errs, ok := err.(checker.Errors); ok {
			for _, e := range errs {
				pos := res.FileSet.Position(e.Span.Start)
				fmt.Fprintf(stdio.Stderr, "%s: %s\n", pos, e)
			}
		} else {
			fmt.Fprintln(stdio.Stderr, err)
		}
		return nil, nil, nil, err
	}
	return res, ann, symtab, nil
}
