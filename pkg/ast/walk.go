package ast

// Children returns the direct child nodes of n in source order.
func Children(n *Node) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	add := func(ns ...*Node) {
		for _, c := range ns {
			if c != nil {
				out = append(out, c)
			}
		}
	}
	switch d := n.Data.(type) {
	case FuncDefNode:
		add(d.Proto, d.Body)
	case ImplDeclNode:
		add(d.Methods...)
	case TraitDeclNode:
		add(d.Methods...)
	case BlockNode:
		add(d.Stmts...)
	case IfNode:
		add(d.Cond, d.Then, d.Else)
	case WhileNode:
		add(d.Cond, d.Body)
	case ForNode:
		add(d.Init, d.Cond, d.Step, d.Body)
	case ReturnNode:
		add(d.Expr)
	case VarDeclNode:
		add(d.Init)
	case ExprStmtNode:
		add(d.Expr)
	case DeclStmtNode:
		add(d.Decl)
	case CallNode:
		add(d.Callee)
		add(d.Args...)
	case AttributeRefNode:
		add(d.Object)
	case BinaryNode:
		add(d.Lhs, d.Rhs)
	case UnaryNode:
		add(d.Operand)
	case StructLiteralNode:
		for _, f := range d.Fields {
			add(f.Value)
		}
	case AssignmentNode:
		add(d.Target, d.Value)
	case GroupingNode:
		add(d.Expr)
	case CastNode:
		add(d.Expr)
	case ExprListNode:
		add(d.Exprs...)
	}
	return out
}

// Walk calls fn for n and every node below it, parents first. Returning false
// from fn skips the children of that node.
func Walk(n *Node, fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range Children(n) {
		Walk(c, fn)
	}
}
