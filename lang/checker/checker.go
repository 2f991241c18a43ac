// Package checker implements the type checker: a two-pass walk over the AST
// that fills a symbol table (collection) and infers a type for every
// expression (inference), producing a span-keyed annotation table and the
// monomorphization records consumed by codegen.
package checker

import (
	"context"
	"path/filepath"

	"github.com/dolthub/swiss"
	"github.com/kahflane/naml/lang/ast"
	"github.com/kahflane/naml/lang/parser"
	"github.com/kahflane/naml/lang/token"
	"github.com/kahflane/naml/lang/types"
)

// MonoRecord requests one specialization of a generic function:
// the generic's name, the concrete type-argument tuple, and the mangled
// name of the specialization. Structurally identical records from distinct
// call sites or module loads are deduplicated by mangled name.
type MonoRecord struct {
	FnName  string
	Args    []types.Type
	Mangled string
}

// Annotations is the side table produced by checking: a span-to-type map
// covering every expression, plus the monomorphization records.
type Annotations struct {
	spans *swiss.Map[token.Span, types.Type]
	Monos []MonoRecord

	monoSeen *swiss.Map[string, struct{}]
}

// NewAnnotations returns an empty annotation table.
func NewAnnotations() *Annotations {
	return &Annotations{
		spans:    swiss.NewMap[token.Span, types.Type](1024),
		monoSeen: swiss.NewMap[string, struct{}](16),
	}
}

// TypeOf returns the resolved type recorded for the expression span, and
// false if the span has no recorded type.
func (a *Annotations) TypeOf(sp token.Span) (types.Type, bool) {
	t, ok := a.spans.Get(sp)
	if !ok {
		return nil, false
	}
	return t.Resolve(), true
}

func (a *Annotations) set(sp token.Span, t types.Type) {
	a.spans.Put(sp, t)
}

// Len returns the number of annotated spans.
func (a *Annotations) Len() int { return a.spans.Count() }

func (a *Annotations) addMono(rec MonoRecord) {
	if _, ok := a.monoSeen.Get(rec.Mangled); ok {
		return
	}
	a.monoSeen.Put(rec.Mangled, struct{}{})
	a.Monos = append(a.Monos, rec)
}

// Checker holds the state of one type-checking run.
type Checker struct {
	res     *parser.Result
	symtab  *SymbolTable
	ann     *Annotations
	errs    Errors
	scopes  []scope
	frames  []*funcFrame
	loop        int  // current loop nesting depth
	inTryBlock  bool // inside a try block, throws are locally handled
	loading     map[string]bool // modules being loaded, breaks use cycles
	loaded      map[string]bool
	monoChecked map[string]bool // generic bodies checked, by mangled name
	baseDir     string
}

// Check type-checks all files of a parse result. It returns the annotation
// table and symbol table; the error, if non-nil, is an Errors list. The
// annotation table is valid only when the error is nil.
func Check(ctx context.Context, res *parser.Result) (*Annotations, *SymbolTable, error) {
	c := &Checker{
		res:     res,
		symtab:  NewSymbolTable(),
		ann:     NewAnnotations(),
		loading:     make(map[string]bool),
		loaded:      make(map[string]bool),
		monoChecked: make(map[string]bool),
	}
	if len(res.Files) > 0 {
		c.baseDir = filepath.Dir(res.Files[0].Name)
	}
	// the files given to Check count as loaded modules, so a module that
	// uses one of them back does not load it a second time
	for _, f := range res.Files {
		base := filepath.Base(f.Name)
		c.loaded[base[:len(base)-len(filepath.Ext(base))]] = true
	}

	// pass 1: collect all item definitions
	for _, f := range res.Files {
		c.collectFile(ctx, f)
	}
	// pass 2: infer function bodies
	for _, f := range res.Files {
		c.inferFile(f)
	}

	c.errs.Sort()
	return c.ann, c.symtab, c.errs.Err()
}

// pushScope enters a new lexical scope.
func (c *Checker) pushScope() { c.scopes = append(c.scopes, make(scope, 8)) }

// popScope leaves the innermost scope.
func (c *Checker) popScope() { c.scopes = c.scopes[:len(c.scopes)-1] }

// define binds name in the innermost scope.
func (c *Checker) define(name string, b *Binding) {
	c.scopes[len(c.scopes)-1][name] = b
}

// lookup walks the scope stack outward, then falls back to globals.
func (c *Checker) lookup(name string) *Binding {
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if b, ok := c.scopes[i][name]; ok {
			return b
		}
	}
	return c.symtab.Global(name)
}

// definedInCurrentScope reports whether name is already bound in the
// innermost scope.
func (c *Checker) definedInCurrentScope(name string) bool {
	_, ok := c.scopes[len(c.scopes)-1][name]
	return ok
}

func (c *Checker) frame() *funcFrame {
	if len(c.frames) == 0 {
		return nil
	}
	return c.frames[len(c.frames)-1]
}

// typeParam returns the in-scope type parameter binding for name, walking
// enclosing function frames.
func (c *Checker) typeParam(name string) *typeParamBinding {
	for i := len(c.frames) - 1; i >= 0; i-- {
		if tp, ok := c.frames[i].typeParams[name]; ok {
			return tp
		}
	}
	return nil
}

// collectFile fills the symbol table from one file's items.
func (c *Checker) collectFile(ctx context.Context, f *ast.SourceFile) {
	for _, it := range f.Items {
		switch it := it.(type) {
		case *ast.StructItem:
			c.collectStruct(it)
		case *ast.EnumItem:
			c.collectEnum(it)
		case *ast.InterfaceItem:
			c.collectInterface(it)
		case *ast.ExceptionItem:
			c.collectException(it)
		case *ast.UseItem:
			c.loadModule(ctx, f, it)
		}
	}
	// second sweep so function signatures can mention any type of the file
	for _, it := range f.Items {
		switch it := it.(type) {
		case *ast.FnItem:
			c.collectFn(it)
		case *ast.ExternFnItem:
			c.collectExternFn(it)
		case *ast.GlobalVarItem:
			c.collectGlobal(it)
		}
	}
	// verify implements clauses once all methods are known
	for _, it := range f.Items {
		if st, ok := it.(*ast.StructItem); ok {
			c.checkImplements(st)
		}
	}
}

func (c *Checker) collectStruct(it *ast.StructItem) {
	name := it.Name.Lit
	if c.symtab.Type(name) != nil {
		c.errorf(DuplicateDefinition, it.Name.Span(), "type %s is already defined", name)
		return
	}
	st := &types.Struct{Name: name}
	for _, tp := range it.TypeParams {
		st.TypeParams = append(st.TypeParams, types.TypeParam{Name: tp.Name.Lit})
	}
	for _, im := range it.Implements {
		st.Implements = append(st.Implements, im.Lit)
	}
	// define before resolving fields so self-referential fields resolve
	c.symtab.DefineType(name, st)
	for _, f := range it.Fields {
		st.Fields = append(st.Fields, types.Field{
			Name: f.Name.Lit,
			Type: c.resolveTypeExpr(f.Type, typeParamNames(it.TypeParams)),
			Pub:  f.Pub,
		})
	}
}

func (c *Checker) collectEnum(it *ast.EnumItem) {
	name := it.Name.Lit
	if c.symtab.Type(name) != nil {
		c.errorf(DuplicateDefinition, it.Name.Span(), "type %s is already defined", name)
		return
	}
	en := &types.Enum{Name: name}
	for _, tp := range it.TypeParams {
		en.TypeParams = append(en.TypeParams, types.TypeParam{Name: tp.Name.Lit})
	}
	c.symtab.DefineType(name, en)
	for _, v := range it.Variants {
		vt := types.Variant{Name: v.Name.Lit}
		for _, pt := range v.Payload {
			vt.Payload = append(vt.Payload, c.resolveTypeExpr(pt, typeParamNames(it.TypeParams)))
		}
		en.Variants = append(en.Variants, vt)
	}
}

func (c *Checker) collectInterface(it *ast.InterfaceItem) {
	name := it.Name.Lit
	if c.symtab.Type(name) != nil {
		c.errorf(DuplicateDefinition, it.Name.Span(), "type %s is already defined", name)
		return
	}
	in := &types.Interface{Name: name}
	for _, tp := range it.TypeParams {
		in.TypeParams = append(in.TypeParams, types.TypeParam{Name: tp.Name.Lit})
	}
	tps := typeParamNames(it.TypeParams)
	for _, m := range it.Methods {
		mt := types.Method{Name: m.Name.Lit, Ret: types.UnitType}
		for _, p := range m.Params {
			mt.Params = append(mt.Params, c.resolveTypeExpr(p.Type, tps))
		}
		if m.Ret != nil {
			mt.Ret = c.resolveTypeExpr(m.Ret, tps)
		}
		for _, th := range m.Throws {
			mt.Throws = append(mt.Throws, c.resolveTypeExpr(th, tps))
		}
		in.Methods = append(in.Methods, mt)
	}
	c.symtab.DefineType(name, in)
}

func (c *Checker) collectException(it *ast.ExceptionItem) {
	name := it.Name.Lit
	if c.symtab.Type(name) != nil {
		c.errorf(DuplicateDefinition, it.Name.Span(), "type %s is already defined", name)
		return
	}
	ex := &types.Exception{Name: name}
	for _, f := range it.Fields {
		ex.Fields = append(ex.Fields, types.Field{
			Name: f.Name.Lit,
			Type: c.resolveTypeExpr(f.Type, nil),
			Pub:  f.Pub,
		})
	}
	c.symtab.DefineType(name, ex)
}

func (c *Checker) collectFn(it *ast.FnItem) {
	tps := typeParamNames(it.TypeParams)

	ft := &types.Func{Ret: types.UnitType}
	for _, p := range it.Params {
		ft.Params = append(ft.Params, c.resolveTypeExpr(p.Type, tps))
		if p.Variadic {
			ft.Variadic = true
		}
	}
	if it.Ret != nil {
		ft.Ret = c.resolveTypeExpr(it.Ret, tps)
	}
	for _, th := range it.Throws {
		ft.Throws = append(ft.Throws, c.resolveTypeExpr(th, tps))
	}

	if it.Recv != nil {
		recvType := c.resolveTypeExpr(it.Recv.Type, tps)
		recvName := typeHeadName(it.Recv.Type)
		if c.symtab.Method(recvName, it.Name.Lit) != nil {
			c.errorf(DuplicateDefinition, it.Name.Span(), "method %s.%s is already defined", recvName, it.Name.Lit)
			return
		}
		c.symtab.DefineMethod(&MethodSig{
			RecvName: recvName,
			RecvType: recvType,
			Name:     it.Name.Lit,
			Type:     ft,
			Pub:      it.Pub,
			Decl:     it,
		})
		return
	}

	if c.symtab.Func(it.Name.Lit) != nil {
		c.errorf(DuplicateDefinition, it.Name.Span(), "function %s is already defined", it.Name.Lit)
		return
	}
	sig := &FuncSig{
		Name:  it.Name.Lit,
		Type:  ft,
		Async: it.Async,
		Pub:   it.Pub,
		Decl:  it,
	}
	for _, tp := range it.TypeParams {
		p := types.TypeParam{Name: tp.Name.Lit}
		for _, b := range tp.Bounds {
			if in, ok := c.symtab.Type(b.Lit).(*types.Interface); ok {
				p.Bounds = append(p.Bounds, in)
			} else {
				c.errorf(UndefinedType, b.Span(), "bound %s is not an interface", b.Lit)
			}
		}
		sig.TypeParams = append(sig.TypeParams, p)
	}
	c.symtab.DefineFunc(sig)
}

func (c *Checker) collectExternFn(it *ast.ExternFnItem) {
	if c.symtab.Func(it.Name.Lit) != nil {
		c.errorf(DuplicateDefinition, it.Name.Span(), "function %s is already defined", it.Name.Lit)
		return
	}
	ft := &types.Func{Ret: types.UnitType}
	for _, p := range it.Params {
		ft.Params = append(ft.Params, c.resolveTypeExpr(p.Type, nil))
		if p.Variadic {
			ft.Variadic = true
		}
	}
	if it.Ret != nil {
		ft.Ret = c.resolveTypeExpr(it.Ret, nil)
	}
	c.symtab.DefineFunc(&FuncSig{
		Name:     it.Name.Lit,
		Type:     ft,
		Pub:      it.Pub,
		Extern:   true,
		LinkName: it.LinkName,
	})
}

func (c *Checker) collectGlobal(it *ast.GlobalVarItem) {
	name := it.Decl.Name.Lit
	if c.symtab.Global(name) != nil {
		c.errorf(DuplicateDefinition, it.Decl.Name.Span(), "global %s is already defined", name)
		return
	}
	var t types.Type = types.NewVar()
	if it.Decl.Type != nil {
		t = c.resolveTypeExpr(it.Decl.Type, nil)
	}
	c.symtab.DefineGlobal(name, &Binding{Type: t, Mutable: it.Decl.Mut, Initialized: true})
}

// checkImplements verifies that a struct declaring implements I provides
// every method of I with a unifiable signature.
func (c *Checker) checkImplements(it *ast.StructItem) {
	for _, imName := range it.Implements {
		in, ok := c.symtab.Type(imName.Lit).(*types.Interface)
		if !ok {
			c.errorf(UndefinedType, imName.Span(), "implements target %s is not an interface", imName.Lit)
			continue
		}
		for _, im := range in.Methods {
			m := c.symtab.Method(it.Name.Lit, im.Name)
			if m == nil {
				c.errorf(MissingInterfaceMethod, it.Name.Span(),
					"struct %s does not implement method %s of interface %s",
					it.Name.Lit, im.Name, in.Name)
				continue
			}
			want := &types.Func{Params: im.Params, Ret: im.Ret, Throws: im.Throws}
			if err := types.Unify(m.Type, want); err != nil {
				c.errorf(MissingInterfaceMethod, m.Decl.Name.Span(),
					"method %s.%s does not match interface %s: %s",
					it.Name.Lit, im.Name, in.Name, err)
			}
		}
	}
}

// inferFile runs the inference pass over one file's function bodies.
func (c *Checker) inferFile(f *ast.SourceFile) {
	for _, it := range f.Items {
		switch it := it.(type) {
		case *ast.FnItem:
			if it.Recv == nil && len(it.TypeParams) > 0 {
				// generic functions are checked at their use sites, against
				// the concrete types of each monomorphization
				continue
			}
			c.inferFn(it)
		case *ast.GlobalVarItem:
			c.inferGlobal(it)
		}
	}
}

func (c *Checker) inferGlobal(it *ast.GlobalVarItem) {
	b := c.symtab.Global(it.Decl.Name.Lit)
	if b == nil {
		return
	}
	c.pushScope()
	got := c.inferExpr(it.Decl.Value, b.Type)
	c.popScope()
	c.unify(b.Type, got, it.Decl.Value.Span())
}

func typeParamNames(tps []*ast.TypeParam) map[string]bool {
	if len(tps) == 0 {
		return nil
	}
	m := make(map[string]bool, len(tps))
	for _, tp := range tps {
		m[tp.Name.Lit] = true
	}
	return m
}

// typeHeadName returns the head identifier of a type annotation, used to
// key method tables by receiver type name.
func typeHeadName(t ast.TypeExpr) string {
	if nt, ok := t.(*ast.NamedType); ok {
		return nt.Segments[len(nt.Segments)-1].Lit
	}
	return ""
}
