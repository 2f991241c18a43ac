package maincmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mna/mainer"

	"github.com/kahflane/naml/lang/codegen"
)

func (c *Cmd) Build(ctx context.Context, stdio mainer.Stdio, args []string) error {
	res, ann, symtab, err := CheckFiles(ctx, stdio, args...)
	if err != nil {
		return err
	}

	prog, err := codegen.Compile(ctx, res, ann, symtab, codegen.Options{Release: c.Release})
	if err != nil {
		return printError(stdio, err)
	}
	mod, err := codegen.Emit(prog)
	if err != nil {
		return printError(stdio, err)
	}

	out := c.Output
	if out == "" {
		out = strings.TrimSuffix(args[0], ".naml") + ".ll"
	}
	if err := os.WriteFile(out, []byte(mod.String()), 0o644); err != nil {
		return printError(stdio, err)
	}
	fmt.Fprintf(stdio.Stdout, "wrote %s; link the assembled object against the naml runtime library\n", out)
	return nil
}
