package ast

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/xplshn/traitc/pkg/token"
)

// Sexpr renders a node as a compact S-expression. Types are omitted.
func Sexpr(n *Node) string {
	var sb strings.Builder
	writeSexpr(&sb, n)
	return sb.String()
}

func writeSexpr(sb *strings.Builder, n *Node) {
	if n == nil {
		sb.WriteString("_")
		return
	}
	list := func(head string, parts ...*Node) {
		sb.WriteString("(" + head)
		for _, p := range parts {
			sb.WriteString(" ")
			writeSexpr(sb, p)
		}
		sb.WriteString(")")
	}

	switch d := n.Data.(type) {
	case PrototypeNode:
		sb.WriteString("(proto " + d.Name + " (")
		for i, p := range d.Params {
			if i > 0 {
				sb.WriteString(" ")
			}
			if p.Type == nil {
				sb.WriteString(p.Name)
			} else {
				sb.WriteString("(" + p.Name + " " + p.Type.String() + ")")
			}
		}
		sb.WriteString(")")
		if d.ReturnType.Kind != KindVoid {
			sb.WriteString(" " + d.ReturnType.String())
		}
		sb.WriteString(")")
	case FuncDefNode:
		list("func", d.Proto, d.Body)
	case StructDeclNode:
		sb.WriteString("(struct " + d.Name)
		for _, f := range d.Fields {
			sb.WriteString(" (" + f.Name + " " + f.Type.String() + ")")
		}
		sb.WriteString(")")
	case ImplDeclNode:
		head := "impl " + d.Struct
		if d.Trait != "" {
			head = "impl " + d.Trait + " for " + d.Struct
		}
		list(head, d.Methods...)
	case TraitDeclNode:
		list("trait "+d.Name, d.Methods...)
	case BlockNode:
		list("block", d.Stmts...)
	case IfNode:
		if d.Else != nil {
			list("if", d.Cond, d.Then, d.Else)
		} else {
			list("if", d.Cond, d.Then)
		}
	case WhileNode:
		list("while", d.Cond, d.Body)
	case ForNode:
		list("for", d.Init, d.Cond, d.Step, d.Body)
	case ReturnNode:
		if d.Expr == nil {
			sb.WriteString("(return)")
		} else {
			list("return", d.Expr)
		}
	case VarDeclNode:
		sb.WriteString("(var " + d.Name)
		if d.Declared != nil {
			sb.WriteString(" " + d.Declared.String())
		}
		if d.Init != nil {
			sb.WriteString(" ")
			writeSexpr(sb, d.Init)
		}
		sb.WriteString(")")
	case ExprStmtNode:
		list("expr", d.Expr)
	case DeclStmtNode:
		list("decl", d.Decl)
	case VariableNode:
		sb.WriteString(d.Name)
	case LiteralNode:
		if d.Kind == token.StringLit {
			sb.WriteString(strconv.Quote(d.Value))
		} else {
			sb.WriteString(d.Value)
		}
	case CallNode:
		list("call", append([]*Node{d.Callee}, d.Args...)...)
	case AttributeRefNode:
		sb.WriteString("(. ")
		writeSexpr(sb, d.Object)
		sb.WriteString(" " + d.Field + ")")
	case BinaryNode:
		list(d.Op.String(), d.Lhs, d.Rhs)
	case UnaryNode:
		list(d.Op.String(), d.Operand)
	case StructLiteralNode:
		sb.WriteString("(lit " + d.Name)
		for _, f := range d.Fields {
			sb.WriteString(" (" + f.Name + " ")
			writeSexpr(sb, f.Value)
			sb.WriteString(")")
		}
		sb.WriteString(")")
	case AssignmentNode:
		list(d.Op.String(), d.Target, d.Value)
	case GroupingNode:
		list("group", d.Expr)
	case CastNode:
		sb.WriteString("(as ")
		writeSexpr(sb, d.Expr)
		sb.WriteString(" " + TypeFromToken(d.Target).String() + ")")
	case ExprListNode:
		list("list", d.Exprs...)
	default:
		fmt.Fprintf(sb, "<%T>", n.Data)
	}
}

var dumpConfig = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
	MaxDepth:                12,
}

// Dump writes the S-expression of each declaration followed by a spew dump
// of its node graph, resolved types included. Parent links show up as
// already-shown references.
func Dump(w io.Writer, decls []*Node) {
	for _, d := range decls {
		fmt.Fprintf(w, "%s\n", Sexpr(d))
		dumpConfig.Fdump(w, d)
	}
}
