package maincmd

import (
	"context"
	"fmt"

	"github.com/mna/mainer"

	"github.com/kahflane/naml/lang/codegen"
	"github.com/kahflane/naml/lang/machine"
	"github.com/kahflane/naml/runtime/heap"
)

func (c *Cmd) Run(ctx context.Context, stdio mainer.Stdio, args []string) error {
	res, ann, symtab, err := CheckFiles(ctx, stdio, args...)
	if err != nil {
		return err
	}

	prog, err := codegen.Compile(ctx, res, ann, symtab, codegen.Options{Release: c.Release})
	if err != nil {
		return printError(stdio, err)
	}

	th := &machine.Thread{
		Name:     args[0],
		Stdout:   stdio.Stdout,
		Stderr:   stdio.Stderr,
		Stdin:    stdio.Stdin,
		Registry: heap.NewRegistry(),
	}
	code, err := th.RunProgram(ctx, prog)
	if err != nil {
		return printError(stdio, err)
	}
	if code != 0 {
		return fmt.Errorf("exit status %d", code)
	}
	return nil
}
