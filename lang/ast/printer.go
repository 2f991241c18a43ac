package ast

import (
	"fmt"
	"io"
	"strings"

	"github.com/kahflane/naml/lang/token"
)

// Printer pretty-prints AST nodes as an indented tree, one node per line.
type Printer struct {
	// Output is the io.Writer to print to.
	Output io.Writer

	// Pos indicates the position printing mode.
	Pos token.PosMode
}

// Print pretty-prints the AST node n from the specified file. The file
// argument is only required for printing positions, if p.Pos ==
// token.PosNone it does not have to be provided.
func (p *Printer) Print(n Node, file *token.File) error {
	if file == nil && p.Pos != token.PosNone {
		return fmt.Errorf("file must be provided to print positions")
	}
	pp := &printer{w: p.Output, pos: p.Pos, file: file}
	Walk(pp, n)
	return pp.err
}

type printer struct {
	w     io.Writer
	pos   token.PosMode
	file  *token.File
	depth int
	err   error
}

func (p *printer) Visit(n Node, dir VisitDirection) Visitor {
	if dir == VisitExit {
		p.depth--
		return nil
	}
	if p.err != nil {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(strings.Repeat("  ", p.depth))
	sb.WriteString(describe(n))
	switch p.pos {
	case token.PosOffsets:
		sp := n.Span()
		fmt.Fprintf(&sb, " [%d,%d)", sp.Start, sp.End)
	case token.PosLines:
		start, end := p.file.SpanPosition(n.Span())
		fmt.Fprintf(&sb, " [%d:%d,%d:%d)", start.Line, start.Column, end.Line, end.Column)
	}
	sb.WriteByte('\n')

	if _, err := io.WriteString(p.w, sb.String()); err != nil {
		p.err = err
		return nil
	}
	p.depth++
	return p
}

func describe(n Node) string {
	switch n := n.(type) {
	case *SourceFile:
		return fmt.Sprintf("file %s {%d items}", n.Name, len(n.Items))
	case *LiteralExpr:
		return "literal " + n.Raw
	case *IdentExpr:
		return "ident " + n.Lit
	case *PathExpr:
		return fmt.Sprintf("path {%d segments}", len(n.Segments))
	case *BinaryExpr:
		return fmt.Sprintf("binary %#v", n.Op)
	case *UnaryExpr:
		return fmt.Sprintf("unary %#v", n.Op)
	case *CastExpr:
		return "cast"
	case *CallExpr:
		return fmt.Sprintf("call {%d args}", len(n.Args))
	case *MethodCallExpr:
		return fmt.Sprintf("method call .%s {%d args}", n.Name.Lit, len(n.Args))
	case *IndexExpr:
		if n.Bang.IsValid() {
			return "index!"
		}
		return "index"
	case *FieldExpr:
		return "field ." + n.Name.Lit
	case *ArrayExpr:
		return fmt.Sprintf("array {%d items}", len(n.Items))
	case *MapExpr:
		return fmt.Sprintf("map {%d items}", len(n.Items))
	case *StructLiteralExpr:
		return fmt.Sprintf("struct literal %s {%d fields}", n.Name.Lit, len(n.Fields))
	case *IfExpr:
		return "if"
	case *BlockExpr:
		return fmt.Sprintf("block {%d stmts}", len(n.Stmts))
	case *LambdaExpr:
		return fmt.Sprintf("lambda {%d params}", len(n.Params))
	case *SpawnExpr:
		return "spawn"
	case *AwaitExpr:
		return "await"
	case *TryExpr:
		return "try"
	case *RangeExpr:
		return fmt.Sprintf("range %s", n.Op)
	case *GroupExpr:
		return "group"
	case *SomeExpr:
		return "some"
	case *TryCatchExpr:
		return fmt.Sprintf("try {%d catches}", len(n.Catches))
	case *BadExpr:
		return "bad expr"

	case *VarStmt:
		kw := "var"
		if n.Const {
			kw = "const"
		} else if n.Mut {
			kw = "var mut"
		}
		return kw + " " + n.Name.Lit
	case *AssignStmt:
		return fmt.Sprintf("assign %#v", n.Op)
	case *ReturnStmt:
		return "return"
	case *ThrowStmt:
		return "throw"
	case *BreakStmt:
		return "break"
	case *ContinueStmt:
		return "continue"
	case *WhileStmt:
		return "while"
	case *ForStmt:
		return "for " + n.Bind.Lit
	case *LoopStmt:
		return "loop"
	case *SwitchStmt:
		return fmt.Sprintf("switch {%d cases}", len(n.Cases))
	case *IfStmt:
		return "if stmt"
	case *BlockStmt:
		return "block stmt"
	case *ExprStmt:
		return "expr stmt"
	case *BadStmt:
		return "bad stmt"

	case *FnItem:
		var sb strings.Builder
		sb.WriteString("fn ")
		if n.Recv != nil {
			sb.WriteString("(recv) ")
		}
		sb.WriteString(n.Name.Lit)
		if n.Async {
			sb.WriteString(" async")
		}
		if len(n.Throws) > 0 {
			sb.WriteString(" throws")
		}
		return sb.String()
	case *StructItem:
		return fmt.Sprintf("struct %s {%d fields}", n.Name.Lit, len(n.Fields))
	case *EnumItem:
		return fmt.Sprintf("enum %s {%d variants}", n.Name.Lit, len(n.Variants))
	case *InterfaceItem:
		return fmt.Sprintf("interface %s {%d methods}", n.Name.Lit, len(n.Methods))
	case *ExceptionItem:
		return fmt.Sprintf("exception %s {%d fields}", n.Name.Lit, len(n.Fields))
	case *ExternFnItem:
		return fmt.Sprintf("extern fn %s = %q", n.Name.Lit, n.LinkName)
	case *GlobalVarItem:
		return "global " + n.Decl.Name.Lit
	case *UseItem:
		segs := make([]string, len(n.Segments))
		for i, s := range n.Segments {
			segs[i] = s.Lit
		}
		return "use " + strings.Join(segs, "::")
	case *BadItem:
		return "bad item"

	case *NamedType:
		segs := make([]string, len(n.Segments))
		for i, s := range n.Segments {
			segs[i] = s.Lit
		}
		return "type " + strings.Join(segs, "::")
	case *ArrayType:
		if n.Size >= 0 {
			return fmt.Sprintf("type array[%d]", n.Size)
		}
		return "type array"
	case *FnType:
		return "type fn"
	case *UnitType:
		return "type unit"

	case *LiteralPat:
		return "pattern literal " + n.Lit.Raw
	case *BindPat:
		return "pattern bind " + n.Name.Lit
	case *VariantPat:
		return fmt.Sprintf("pattern variant {%d binds}", len(n.Binds))
	case *WildcardPat:
		return "pattern _"
	}
	return fmt.Sprintf("%T", n)
}
