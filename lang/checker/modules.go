package checker

import (
	"context"
	"os"
	"path/filepath"

	"github.com/kahflane/naml/lang/ast"
	"github.com/kahflane/naml/lang/parser"
)

// loadModule handles a use item: it parses and collects the referenced
// module file, making its public symbols visible. The module file is
// resolved relative to the importing file's directory, one path segment per
// directory with the final segment being the file name. Cycles are broken
// by the currently-loading set.
func (c *Checker) loadModule(ctx context.Context, from *ast.SourceFile, it *ast.UseItem) {
	if len(it.Segments) == 0 {
		return
	}
	modName := it.Segments[0].Lit

	if c.loading[modName] {
		// already being loaded higher up the import chain
		return
	}
	if c.loaded[modName] {
		return
	}

	dir := c.baseDir
	if from.Name != "" {
		dir = filepath.Dir(from.Name)
	}
	parts := make([]string, len(it.Segments))
	for i, s := range it.Segments {
		parts[i] = s.Lit
	}
	path := filepath.Join(append([]string{dir}, parts...)...) + ".naml"
	src, err := os.ReadFile(path)
	if err != nil {
		// the last segment may be a symbol inside the module file rather
		// than a file itself
		if len(parts) > 1 {
			path = filepath.Join(append([]string{dir}, parts[:len(parts)-1]...)...) + ".naml"
			src, err = os.ReadFile(path)
		}
		if err != nil {
			c.errorf(ModuleFileError, it.Span(), "cannot load module %s: %s", modName, err)
			return
		}
	}

	c.loading[modName] = true
	defer func() {
		delete(c.loading, modName)
		c.loaded[modName] = true
	}()

	sf, perr := parser.ParseSource(ctx, c.res, path, src)
	if perr != nil {
		c.errorf(ModuleFileError, it.Span(), "module %s has parse errors: %s", modName, perr)
		return
	}
	// collect now so the importer sees the symbols; the module's bodies are
	// inferred by the caller's second pass, which covers appended files
	c.collectFile(ctx, sf)
}
