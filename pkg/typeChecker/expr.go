package typeChecker

import (
	"strconv"
	"strings"

	"github.com/xplshn/traitc/pkg/ast"
	"github.com/xplshn/traitc/pkg/runtime"
	"github.com/xplshn/traitc/pkg/token"
)

// checkExpr resolves the type of an expression and stores it on the node.
func (tc *TypeChecker) checkExpr(node *ast.Node) *ast.Datatype {
	if node == nil {
		return ast.TypeUnresolved
	}
	t := tc.exprType(node)
	node.Typ = t
	return t
}

// checkExprExpect is checkExpr with an expected type. Untyped numeric
// constants adopt the expected type if it is of the same family.
func (tc *TypeChecker) checkExprExpect(node *ast.Node, want *ast.Datatype) *ast.Datatype {
	if want != nil && (want.IsInteger() && isConst(node, false) || want.IsFloat() && isConst(node, true)) {
		tc.adaptConst(node, want, false)
		return want
	}
	return tc.checkExpr(node)
}

// isConst reports an integer (or float) literal, optionally grouped or under
// unary operators.
func isConst(node *ast.Node, float bool) bool {
	switch d := node.Data.(type) {
	case ast.LiteralNode:
		if float {
			return d.Kind == token.FloatLit
		}
		return d.Kind == token.IntLit || d.Kind == token.HexLit || d.Kind == token.OctLit
	case ast.GroupingNode:
		return isConst(d.Expr, float)
	case ast.UnaryNode:
		if d.Op == token.Minus || d.Op == token.Plus || (!float && d.Op == token.Complement) {
			return isConst(d.Operand, float)
		}
	}
	return false
}

func (tc *TypeChecker) adaptConst(node *ast.Node, want *ast.Datatype, neg bool) {
	node.Typ = want
	switch d := node.Data.(type) {
	case ast.GroupingNode:
		tc.adaptConst(d.Expr, want, neg)
	case ast.UnaryNode:
		if d.Op == token.Minus && want.IsUnsigned() {
			tc.errorf(node.Tok, "Unary '-' requires a signed integer or float operand, got %s", want)
		}
		tc.adaptConst(d.Operand, want, neg != (d.Op == token.Minus))
	case ast.LiteralNode:
		if want.IsInteger() && !fitsInteger(d.Value, want, neg) {
			tc.errorf(node.Tok, "Constant %s overflows %s", d.Value, want)
		}
	}
}

func fitsInteger(value string, t *ast.Datatype, neg bool) bool {
	v, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return false
	}
	w := uint(t.Width())
	if t.IsUnsigned() {
		return w == 64 || v <= 1<<w-1
	}
	limit := uint64(1)<<(w-1) - 1
	if neg {
		limit++
	}
	return v <= limit
}

func (tc *TypeChecker) exprType(node *ast.Node) *ast.Datatype {
	switch d := node.Data.(type) {
	case ast.LiteralNode:
		return literalType(d.Kind)
	case ast.VariableNode:
		return tc.checkVariable(node, d)
	case ast.CallNode:
		return tc.checkFuncCall(node, d)
	case ast.AttributeRefNode:
		return tc.checkMemberAccess(node, d)
	case ast.BinaryNode:
		return tc.checkBinary(node, d)
	case ast.UnaryNode:
		return tc.checkUnary(node, d)
	case ast.StructLiteralNode:
		return tc.checkStructLiteral(node, d)
	case ast.AssignmentNode:
		return tc.checkAssignment(node, d)
	case ast.GroupingNode:
		return tc.checkExpr(d.Expr)
	case ast.CastNode:
		return tc.checkCast(node, d)
	case ast.ExprListNode:
		t := ast.TypeUnresolved
		for _, e := range d.Exprs {
			t = tc.checkExpr(e)
		}
		return t
	}
	tc.errorf(node.Tok, "Expected an expression")
	return ast.TypeUnresolved
}

func literalType(kind token.Type) *ast.Datatype {
	switch kind {
	case token.IntLit, token.HexLit, token.OctLit:
		return ast.TypeInt64
	case token.FloatLit:
		return ast.TypeFloat64
	case token.StringLit:
		return ast.TypeString
	case token.True, token.False:
		return ast.TypeBool
	}
	return ast.TypeUnresolved
}

func (tc *TypeChecker) checkVariable(node *ast.Node, d ast.VariableNode) *ast.Datatype {
	if t, ok := tc.st.Variables.Lookup(d.Name); ok {
		if tc.isCaptured(d.Name) {
			tc.errorf(node.Tok, "Cannot use '%s' from an enclosing function", d.Name)
			return ast.TypeUnresolved
		}
		if t.IsObject() {
			d.StructHint = t.Name
			node.Data = d
		}
		return t
	}
	if fn, ok := tc.st.Functions.Lookup(d.Name); ok {
		return tc.funcType(protoNode(fn), "")
	}
	if t, ok := runtime.Lookup(d.Name); ok {
		return t
	}
	tc.errorf(node.Tok, "Undefined variable '%s'", d.Name)
	return ast.TypeUnresolved
}

func (tc *TypeChecker) checkFuncCall(node *ast.Node, d ast.CallNode) *ast.Datatype {
	ct := tc.checkExpr(d.Callee)
	checkArgs := func() {
		for _, a := range d.Args {
			tc.checkExpr(a)
		}
	}
	if ct.IsUnresolved() {
		checkArgs()
		return ast.TypeUnresolved
	}
	if ct.Kind != ast.KindFunction {
		tc.errorf(d.Callee.Tok, "Cannot call a value of type %s", ct)
		checkArgs()
		return ast.TypeUnresolved
	}
	if len(d.Args) != len(ct.Params) {
		tc.errorf(d.Callee.Tok, "Function '%s' expects %d arguments, got %d", displayName(ct), len(ct.Params), len(d.Args))
		checkArgs()
		return ast.TypeUnresolved
	}
	for i, a := range d.Args {
		want := ct.Params[i]
		got := tc.checkExprExpect(a, want)
		if got.Equal(want) {
			continue
		}
		if !got.IsUnresolved() && !want.IsUnresolved() {
			tc.errorf(a.Tok, "Argument %d of '%s' must be %s, got %s", i+1, displayName(ct), want, got)
		}
		return ast.TypeUnresolved
	}
	return ct.Return
}

// traitDefault finds a default method body inherited from a trait that
// structName implements.
func (tc *TypeChecker) traitDefault(structName, method string) (*ast.Node, string) {
	impls, _ := tc.st.Impls.Lookup(structName)
	for _, impl := range impls {
		trait := impl.Data.(ast.ImplDeclNode).Trait
		if trait == "" {
			continue
		}
		if m := tc.st.FindTraitMethod(trait, method); m != nil && m.Type == ast.FuncDef {
			return m, trait
		}
	}
	return nil, ""
}

func (tc *TypeChecker) checkMemberAccess(node *ast.Node, d ast.AttributeRefNode) *ast.Datatype {
	ot := tc.checkExpr(d.Object)
	d.ObjectType = ot
	node.Data = d
	if ot.IsUnresolved() {
		return ast.TypeUnresolved
	}
	if !ot.IsObject() {
		tc.errorf(node.Tok, "Cannot access attribute '%s' on a value of type %s", d.Field, ot)
		return ast.TypeUnresolved
	}
	decl, ok := tc.st.Structs.Lookup(ot.Name)
	if !ok {
		tc.errorf(node.Tok, "Unknown struct '%s'", ot.Name)
		return ast.TypeUnresolved
	}
	for _, f := range decl.Data.(ast.StructDeclNode).Fields {
		if f.Name == d.Field {
			return f.Type
		}
	}
	if m, _ := tc.st.FindMethod(ot.Name, d.Field); m != nil {
		return tc.funcType(protoNode(m), ot.Name)
	}
	if m, trait := tc.traitDefault(ot.Name, d.Field); m != nil {
		return tc.funcType(protoNode(m), trait)
	}
	tc.errorf(node.Tok, "Struct '%s' has no field or method named '%s'", ot.Name, d.Field)
	return ast.TypeUnresolved
}

func (tc *TypeChecker) checkBinary(node *ast.Node, d ast.BinaryNode) *ast.Datatype {
	var lt, rt *ast.Datatype
	if isConst(d.Lhs, false) || isConst(d.Lhs, true) {
		rt = tc.checkExpr(d.Rhs)
		lt = tc.checkExprExpect(d.Lhs, rt)
	} else {
		lt = tc.checkExpr(d.Lhs)
		rt = tc.checkExprExpect(d.Rhs, lt)
	}
	return tc.binaryResult(node.Tok, d.Op, lt, rt)
}

// binaryResult applies the operand rules of op and returns the result type.
func (tc *TypeChecker) binaryResult(tok token.Token, op token.Type, lt, rt *ast.Datatype) *ast.Datatype {
	if lt.IsUnresolved() || rt.IsUnresolved() {
		return ast.TypeUnresolved
	}
	if !lt.Equal(rt) {
		tc.errorf(tok, "Operand types mismatch for '%s': %s and %s", op, lt, rt)
		return ast.TypeUnresolved
	}
	var ok bool
	result := lt
	switch op {
	case token.Plus, token.Minus, token.Star, token.Slash:
		ok = lt.IsNumeric()
	case token.Rem, token.Shl, token.Shr:
		ok = lt.IsInteger()
	case token.And, token.Or, token.Xor:
		ok = lt.IsInteger() || lt.IsBool()
	case token.EqEq, token.Neq, token.Lt, token.Lte, token.Gt, token.Gte:
		ok, result = lt.IsNumeric() || lt.IsBool(), ast.TypeBool
	case token.KwAnd, token.KwOr:
		ok, result = lt.IsBool(), ast.TypeBool
	}
	if !ok {
		tc.errorf(tok, "Operator '%s' cannot be applied to operands of type %s", op, lt)
		return ast.TypeUnresolved
	}
	return result
}

func (tc *TypeChecker) checkUnary(node *ast.Node, d ast.UnaryNode) *ast.Datatype {
	t := tc.checkExpr(d.Operand)
	if t.IsUnresolved() {
		return t
	}
	switch d.Op {
	case token.Not:
		if !t.IsBool() {
			tc.errorf(node.Tok, "Operator '!' requires a bool operand, got %s", t)
			return ast.TypeUnresolved
		}
	case token.Minus, token.Plus:
		if !t.IsSigned() && !t.IsFloat() {
			tc.errorf(node.Tok, "Unary '%s' requires a signed integer or float operand, got %s", d.Op, t)
			return ast.TypeUnresolved
		}
	case token.Complement:
		if !t.IsInteger() && !t.IsBool() {
			tc.errorf(node.Tok, "Operator '~' requires an integer or bool operand, got %s", t)
			return ast.TypeUnresolved
		}
	}
	return t
}

func (tc *TypeChecker) checkStructLiteral(node *ast.Node, d ast.StructLiteralNode) *ast.Datatype {
	decl, ok := tc.st.Structs.Lookup(d.Name)
	if !ok {
		tc.errorf(node.Tok, "Unknown struct '%s' in struct literal", d.Name)
		for _, f := range d.Fields {
			tc.checkExpr(f.Value)
		}
		return ast.TypeUnresolved
	}
	sd := decl.Data.(ast.StructDeclNode)
	fieldTypes := make(map[string]*ast.Datatype, len(sd.Fields))
	for _, f := range sd.Fields {
		fieldTypes[f.Name] = f.Type
	}

	bad := false
	given := make(map[string]bool)
	for _, f := range d.Fields {
		want, known := fieldTypes[f.Name]
		switch {
		case !known:
			tc.errorf(f.Tok, "Struct '%s' has no field named '%s'", d.Name, f.Name)
			tc.checkExpr(f.Value)
			bad = true
			continue
		case given[f.Name]:
			tc.errorf(f.Tok, "Field '%s' is initialized more than once", f.Name)
			tc.checkExpr(f.Value)
			bad = true
			continue
		}
		given[f.Name] = true
		got := tc.checkExprExpect(f.Value, want)
		if got.Equal(want) {
			continue
		}
		if !got.IsUnresolved() && !want.IsUnresolved() {
			tc.errorf(f.Tok, "Field '%s' of '%s' expects %s, got %s", f.Name, d.Name, want, got)
		}
		bad = true
	}

	var missing []string
	for _, f := range sd.Fields {
		if !given[f.Name] {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) > 0 {
		tc.errorf(node.Tok, "Missing fields in struct literal '%s': %s", d.Name, strings.Join(missing, ", "))
		bad = true
	}
	if bad {
		return ast.TypeUnresolved
	}
	return ast.Object(d.Name)
}

func (tc *TypeChecker) checkAssignment(node *ast.Node, d ast.AssignmentNode) *ast.Datatype {
	lt := tc.checkExpr(d.Target)
	if lt.Kind == ast.KindFunction {
		tc.errorf(ast.Unparen(d.Target).Tok, "Cannot assign to function '%s'", displayName(lt))
		tc.checkExpr(d.Value)
		return ast.TypeUnresolved
	}
	rt := tc.checkExprExpect(d.Value, lt)
	if lt.IsUnresolved() || rt.IsUnresolved() {
		return ast.TypeUnresolved
	}
	if d.Op != token.Eq {
		if tc.binaryResult(node.Tok, d.Op.BinaryOf(), lt, rt).IsUnresolved() {
			return ast.TypeUnresolved
		}
		return lt
	}
	if !lt.Equal(rt) {
		tc.errorf(node.Tok, "Cannot assign %s to a target of type %s", rt, lt)
		return ast.TypeUnresolved
	}
	return lt
}

func castable(from, to *ast.Datatype) bool {
	scalar := func(t *ast.Datatype) bool { return t.IsNumeric() || t.IsBool() }
	return (scalar(from) && scalar(to)) || from.Equal(to)
}

func (tc *TypeChecker) checkCast(node *ast.Node, d ast.CastNode) *ast.Datatype {
	from := tc.checkExpr(d.Expr)
	to := ast.TypeFromToken(d.Target)
	if to.IsObject() {
		if _, ok := tc.st.Structs.Lookup(to.Name); !ok {
			tc.errorf(d.Target, "Unknown struct '%s' in cast", to.Name)
			to = ast.TypeUnresolved
		}
	}
	d.From, d.To = from, to
	node.Data = d
	if from.IsUnresolved() || to.IsUnresolved() {
		return ast.TypeUnresolved
	}
	if from.Kind == ast.KindFunction || from.Kind == ast.KindVoid || !castable(from, to) {
		tc.errorf(node.Tok, "Cannot cast %s to %s", from, to)
		return ast.TypeUnresolved
	}
	return to
}
