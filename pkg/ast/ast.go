// Package ast defines the types used to represent the Abstract Syntax Tree (AST)
package ast

import (
	"github.com/xplshn/traitc/pkg/token"
)

// NodeType defines the kind of a node in the AST
type NodeType int

// Node types enum
const (
	// Declarations
	Prototype NodeType = iota
	FuncDef
	StructDecl
	ImplDecl
	TraitDecl

	// Statements
	Block
	If
	While
	For
	Return
	VarDecl
	ExprStmt
	DeclStmt

	// Expressions
	Variable
	Literal
	Call
	AttributeRef
	Binary
	Unary
	StructLiteral
	Assignment
	Grouping
	Cast
	ExprList
)

// Node represents a node in the Abstract Syntax Tree
type Node struct {
	Type   NodeType
	Tok    token.Token
	Parent *Node
	Data   interface{}
	Typ    *Datatype // Placeholder from the parser, resolved by the type checker
}

func (n *Node) IsDecl() bool { return n.Type <= TraitDecl }
func (n *Node) IsStmt() bool { return n.Type >= Block && n.Type <= DeclStmt }
func (n *Node) IsExpr() bool { return n.Type >= Variable }

// Param is a prototype parameter. Type is nil only for a bare `self`.
type Param struct {
	Name string
	Tok  token.Token
	Type *Datatype
}

// Field is a struct field declaration; its position fixes the physical layout.
type Field struct {
	Name string
	Tok  token.Token
	Type *Datatype
}

// FieldInit is one `name: value` entry of a struct literal.
type FieldInit struct {
	Name  string
	Tok   token.Token
	Value *Node
}

// --- Node Data Structs ---
type PrototypeNode struct {
	Name       string
	Params     []Param
	ReturnType *Datatype
}
type FuncDefNode struct{ Proto, Body *Node }
type StructDeclNode struct{ Name string; Fields []Field }
type ImplDeclNode struct {
	Struct   string
	Trait    string
	TraitTok token.Token
	Methods  []*Node
}
type TraitDeclNode struct{ Name string; Methods []*Node }

type BlockNode struct{ Stmts []*Node }
type IfNode struct{ Cond, Then, Else *Node }
type WhileNode struct{ Cond, Body *Node }
type ForNode struct{ Init, Cond, Step, Body *Node }
type ReturnNode struct{ Expr *Node }
type VarDeclNode struct {
	Name     string
	Declared *Datatype
	Init     *Node
}
type ExprStmtNode struct{ Expr *Node }
type DeclStmtNode struct{ Decl *Node }

type VariableNode struct{ Name string; StructHint string }
type LiteralNode struct{ Kind token.Type; Value string }
type CallNode struct{ Callee *Node; Args []*Node }
type AttributeRefNode struct {
	Object     *Node
	Field      string
	ObjectType *Datatype
}
type BinaryNode struct{ Op token.Type; Lhs, Rhs *Node }
type UnaryNode struct{ Op token.Type; Operand *Node }
type StructLiteralNode struct{ Name string; Fields []FieldInit }
type AssignmentNode struct{ Target *Node; Op token.Type; Value *Node }
type GroupingNode struct{ Expr *Node }
type CastNode struct {
	Expr   *Node
	Target token.Token
	From   *Datatype
	To     *Datatype
}
type ExprListNode struct{ Exprs []*Node }

// --- Node Constructors ---

func newNode(tok token.Token, nodeType NodeType, data interface{}, children ...*Node) *Node {
	node := &Node{Type: nodeType, Tok: tok, Data: data}
	if nodeType >= Variable {
		node.Typ = TypeUnresolved
	}
	for _, child := range children {
		if child != nil {
			child.Parent = node
		}
	}
	return node
}

func adopt(parent *Node, children []*Node) {
	for _, c := range children {
		if c != nil {
			c.Parent = parent
		}
	}
}

func NewPrototype(tok token.Token, name string, params []Param, ret *Datatype) *Node {
	if ret == nil {
		ret = TypeVoid
	}
	return newNode(tok, Prototype, PrototypeNode{Name: name, Params: params, ReturnType: ret})
}
func NewFuncDef(tok token.Token, proto, body *Node) *Node {
	return newNode(tok, FuncDef, FuncDefNode{Proto: proto, Body: body}, proto, body)
}
func NewStructDecl(tok token.Token, name string, fields []Field) *Node {
	return newNode(tok, StructDecl, StructDeclNode{Name: name, Fields: fields})
}
func NewImplDecl(tok token.Token, structName, traitName string, traitTok token.Token, methods []*Node) *Node {
	node := newNode(tok, ImplDecl, ImplDeclNode{Struct: structName, Trait: traitName, TraitTok: traitTok, Methods: methods})
	adopt(node, methods)
	return node
}
func NewTraitDecl(tok token.Token, name string, methods []*Node) *Node {
	node := newNode(tok, TraitDecl, TraitDeclNode{Name: name, Methods: methods})
	adopt(node, methods)
	return node
}

func NewBlock(tok token.Token, stmts []*Node) *Node {
	node := newNode(tok, Block, BlockNode{Stmts: stmts})
	adopt(node, stmts)
	return node
}
func NewIf(tok token.Token, cond, then, els *Node) *Node {
	return newNode(tok, If, IfNode{Cond: cond, Then: then, Else: els}, cond, then, els)
}
func NewWhile(tok token.Token, cond, body *Node) *Node {
	return newNode(tok, While, WhileNode{Cond: cond, Body: body}, cond, body)
}
func NewFor(tok token.Token, init, cond, step, body *Node) *Node {
	return newNode(tok, For, ForNode{Init: init, Cond: cond, Step: step, Body: body}, init, cond, step, body)
}
func NewReturn(tok token.Token, expr *Node) *Node {
	return newNode(tok, Return, ReturnNode{Expr: expr}, expr)
}
func NewVarDecl(tok token.Token, name string, declared *Datatype, init *Node) *Node {
	return newNode(tok, VarDecl, VarDeclNode{Name: name, Declared: declared, Init: init}, init)
}
func NewExprStmt(tok token.Token, expr *Node) *Node {
	return newNode(tok, ExprStmt, ExprStmtNode{Expr: expr}, expr)
}
func NewDeclStmt(tok token.Token, decl *Node) *Node {
	return newNode(tok, DeclStmt, DeclStmtNode{Decl: decl}, decl)
}

func NewVariable(tok token.Token, name string) *Node {
	return newNode(tok, Variable, VariableNode{Name: name})
}
func NewLiteral(tok token.Token) *Node {
	return newNode(tok, Literal, LiteralNode{Kind: tok.Type, Value: tok.Value})
}
func NewCall(tok token.Token, callee *Node, args []*Node) *Node {
	node := newNode(tok, Call, CallNode{Callee: callee, Args: args}, callee)
	adopt(node, args)
	return node
}
func NewAttributeRef(tok token.Token, object *Node, field string) *Node {
	return newNode(tok, AttributeRef, AttributeRefNode{Object: object, Field: field, ObjectType: TypeUnresolved}, object)
}
func NewBinary(tok token.Token, op token.Type, lhs, rhs *Node) *Node {
	return newNode(tok, Binary, BinaryNode{Op: op, Lhs: lhs, Rhs: rhs}, lhs, rhs)
}
func NewUnary(tok token.Token, op token.Type, operand *Node) *Node {
	return newNode(tok, Unary, UnaryNode{Op: op, Operand: operand}, operand)
}
func NewStructLiteral(tok token.Token, name string, fields []FieldInit) *Node {
	node := newNode(tok, StructLiteral, StructLiteralNode{Name: name, Fields: fields})
	for _, f := range fields {
		if f.Value != nil {
			f.Value.Parent = node
		}
	}
	return node
}
func NewAssignment(tok token.Token, target *Node, op token.Type, value *Node) *Node {
	return newNode(tok, Assignment, AssignmentNode{Target: target, Op: op, Value: value}, target, value)
}
func NewGrouping(tok token.Token, expr *Node) *Node {
	return newNode(tok, Grouping, GroupingNode{Expr: expr}, expr)
}
func NewCast(tok token.Token, expr *Node, target token.Token) *Node {
	return newNode(tok, Cast, CastNode{Expr: expr, Target: target, From: TypeUnresolved, To: TypeUnresolved}, expr)
}
func NewExprList(tok token.Token, exprs []*Node) *Node {
	node := newNode(tok, ExprList, ExprListNode{Exprs: exprs})
	adopt(node, exprs)
	return node
}

// Unparen strips any Grouping wrappers.
func Unparen(n *Node) *Node {
	for n != nil && n.Type == Grouping {
		n = n.Data.(GroupingNode).Expr
	}
	return n
}

// PrototypeOf returns the prototype data of a FuncDef or Prototype node.
func PrototypeOf(n *Node) PrototypeNode {
	if fd, ok := n.Data.(FuncDefNode); ok {
		return fd.Proto.Data.(PrototypeNode)
	}
	return n.Data.(PrototypeNode)
}
