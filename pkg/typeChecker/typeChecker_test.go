package typeChecker

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xplshn/traitc/pkg/ast"
	"github.com/xplshn/traitc/pkg/config"
	"github.com/xplshn/traitc/pkg/lexer"
	"github.com/xplshn/traitc/pkg/parser"
	"github.com/xplshn/traitc/pkg/util"
)

func checkWith(t *testing.T, cfg *config.Config, src string) ([]*ast.Node, *util.Reporter) {
	t.Helper()
	rep := util.NewReporter(cfg)
	toks := lexer.Tokenize([]rune(src), 0, rep)
	decls, hasErrors := parser.NewParser(toks, cfg, rep).Parse()
	require.False(t, hasErrors, "parsing failed: %v", rep.Messages())
	NewTypeChecker(cfg, rep).Check(decls)
	return decls, rep
}

func check(t *testing.T, src string) ([]*ast.Node, *util.Reporter) {
	t.Helper()
	return checkWith(t, config.NewConfig(), src)
}

func mustCheck(t *testing.T, src string) []*ast.Node {
	t.Helper()
	decls, rep := check(t, src)
	require.False(t, rep.HasErrors(), "unexpected errors: %v", rep.Messages())
	return decls
}

func warnings(rep *util.Reporter) []string {
	var out []string
	for _, d := range rep.Diagnostics() {
		if d.Level == util.LevelWarning {
			out = append(out, d.Msg)
		}
	}
	return out
}

// find returns the first node of the given type below decls.
func find(decls []*ast.Node, nt ast.NodeType) *ast.Node {
	var found *ast.Node
	for _, d := range decls {
		ast.Walk(d, func(n *ast.Node) bool {
			if found == nil && n.Type == nt {
				found = n
			}
			return found == nil
		})
	}
	return found
}

func exprTypes(decls []*ast.Node) []string {
	var out []string
	for _, d := range decls {
		ast.Walk(d, func(n *ast.Node) bool {
			if n.IsExpr() {
				out = append(out, fmt.Sprintf("%d:%d %s", n.Tok.Line, n.Tok.Column, n.Typ))
			}
			return true
		})
	}
	return out
}

const pointSource = `
struct Point { x: int32, y: int32 }

impl Point {
	func sum(self) -> int32 { return self.x + self.y; }
}

func main() -> int32 {
	var p = Point { x: 1, y: 2 };
	return p.sum();
}
`

func TestPointMethodCall(t *testing.T) {
	decls := mustCheck(t, pointSource)

	call := find(decls, ast.Call)
	require.NotNil(t, call)
	assert.Equal(t, "int32", call.Typ.String())

	callee := call.Data.(ast.CallNode).Callee
	assert.Equal(t, "func Point.sum() -> int32", callee.Typ.String())
	assert.Equal(t, "object{Point}", callee.Data.(ast.AttributeRefNode).ObjectType.String())

	lit := find(decls, ast.StructLiteral)
	assert.Equal(t, "object{Point}", lit.Typ.String())
	for _, f := range lit.Data.(ast.StructLiteralNode).Fields {
		assert.Equal(t, "int32", f.Value.Typ.String(), "field %s", f.Name)
	}
	assert.Equal(t, "object{Point}", find(decls, ast.VarDecl).Typ.String())
}

func TestCheckIsDeterministic(t *testing.T) {
	first := exprTypes(mustCheck(t, pointSource))
	second := exprTypes(mustCheck(t, pointSource))
	require.NotEmpty(t, first)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("types differ between runs (-first +second):\n%s", diff)
	}
	for _, s := range first {
		assert.NotContains(t, s, "unresolved")
	}
}

func TestCallArity(t *testing.T) {
	decls, rep := check(t, `
func add(a, b: int32) -> int32 { return a + b; }
func main() { var r = add(1); }
`)
	assert.Equal(t, []string{"Function 'add' expects 2 arguments, got 1"}, rep.Messages())
	assert.True(t, find(decls, ast.Call).Typ.IsUnresolved())
}

func TestCallArgumentMismatch(t *testing.T) {
	decls, rep := check(t, `
func add(a, b: int32) -> int32 { return a + b; }
func main() { var r = add(true, 2); }
`)
	assert.Equal(t, []string{"Argument 1 of 'add' must be int32, got bool"}, rep.Messages())
	assert.True(t, find(decls, ast.Call).Typ.IsUnresolved())
	assert.True(t, find(decls, ast.VarDecl).Typ.IsUnresolved())
}

func TestStructLiteralCompleteness(t *testing.T) {
	const decl = "struct P { x: int32, y: int32, z: bool }\n"
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"missing", "var p = P { y: 1 };", []string{"Missing fields in struct literal 'P': x, z"}},
		{"unknown", "var p = P { x: 1, y: 2, z: true, w: 3 };", []string{"Struct 'P' has no field named 'w'"}},
		{"duplicate", "var p = P { x: 1, x: 2, y: 3, z: false };", []string{"Field 'x' is initialized more than once"}},
		{"mismatch", "var p = P { x: 1, y: 2, z: 3 };", []string{"Field 'z' of 'P' expects bool, got int64"}},
		{"undeclared", "var q = Q { a: 1 };", []string{"Unknown struct 'Q' in struct literal"}},
		{"complete", "var p = P { z: true, y: 2, x: 1 };", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decls, rep := check(t, decl+"func f() { "+tt.body+" }")
			assert.Equal(t, tt.want, rep.Messages())
			lit := find(decls, ast.StructLiteral)
			assert.Equal(t, tt.want != nil, lit.Typ.IsUnresolved())
		})
	}
}

func TestVarDeclAnnotationMismatchStrict(t *testing.T) {
	decls, rep := check(t, "func f() { var a = 5; var x: int32 = a; }")
	assert.Equal(t, []string{"Variable 'x' declared as int32 but initialized with int64"}, rep.Messages())

	var last *ast.Node
	ast.Walk(decls[0], func(n *ast.Node) bool {
		if n.Type == ast.VarDecl {
			last = n
		}
		return true
	})
	assert.Equal(t, "int32", last.Typ.String())
}

func TestVarDeclAnnotationMismatchPermissive(t *testing.T) {
	cfg := config.NewConfig()
	cfg.SetFeature(config.FeatStrictVarInit, false)

	_, rep := checkWith(t, cfg, "func f() { var a = 5; var x: int32 = a; var b: bool = a; }")
	assert.Empty(t, rep.Messages())

	_, rep = checkWith(t, cfg, "struct P { x: int32 }\nfunc f() { var q = true; var p: P = q; }")
	assert.Equal(t, []string{"Variable 'p' declared as object{P} but initialized with bool"}, rep.Messages())
}

func TestConstantsAdoptContext(t *testing.T) {
	_, rep := check(t, `
func f() {
	var a: int8 = -128;
	var b: uint8 = 255;
	var c: float32 = 1.5;
	var d: int16 = (7);
	var e: int8 = 300;
	var g: uint16 = -1;
}
`)
	assert.Equal(t, []string{
		"Constant 300 overflows int8",
		"Unary '-' requires a signed integer or float operand, got uint16",
	}, rep.Messages())
}

func TestIntrinsics(t *testing.T) {
	mustCheck(t, `
func main() {
	printi32(5);
	printstr("hi");
	println();
	var n = scani64();
	printi64(n);
}
`)
	_, rep := check(t, "func main() { printi32(true); }")
	assert.Equal(t, []string{"Argument 1 of 'printi32' must be int32, got bool"}, rep.Messages())

	_, rep = check(t, "func main() { nope(); }")
	assert.Equal(t, []string{"Undefined variable 'nope'"}, rep.Messages())
}

const shapeTrait = `
struct Point { x: int32 }
trait Shape {
	func area(self) -> int32;
	func name(self) -> int32 { return 1; }
}
`

func TestTraitConformance(t *testing.T) {
	_, rep := check(t, shapeTrait+"impl Shape for Point { func extra(self) { } }")
	assert.Equal(t, []string{
		"Method 'extra' is not declared by trait 'Shape'",
		"'Point' does not implement trait 'Shape': missing area",
	}, rep.Messages())

	_, rep = check(t, shapeTrait+"impl Shape for Point { func area(self) -> int64 { return 1; } }")
	assert.Equal(t, []string{
		"Method 'area' of 'Point' does not match trait 'Shape': expected func Shape.area() -> int32, got func Point.area() -> int64",
	}, rep.Messages())

	_, rep = check(t, "struct Point { x: int32 }\nimpl Round for Point { }")
	assert.Equal(t, []string{"Unknown trait 'Round'"}, rep.Messages())
}

func TestTraitDefaultMethod(t *testing.T) {
	decls := mustCheck(t, shapeTrait+`
impl Shape for Point { func area(self) -> int32 { return self.x; } }
func f(p: Point) -> int32 { return p.name() + p.area(); }
`)
	var callees []string
	for _, d := range decls {
		ast.Walk(d, func(n *ast.Node) bool {
			if n.Type == ast.Call {
				callees = append(callees, n.Data.(ast.CallNode).Callee.Typ.String())
			}
			return true
		})
	}
	assert.Equal(t, []string{"func Shape.name() -> int32", "func Point.area() -> int32"}, callees)
}

func TestDuplicateMethodsAcrossImpls(t *testing.T) {
	_, rep := check(t, `
struct P { x: int32 }
impl P { func get(self) -> int32 { return self.x; } }
impl P { func get(self) -> int32 { return 0; } }
`)
	assert.Equal(t, []string{"Method 'get' is defined more than once for 'P'"}, rep.Messages())
}

func TestSelfRules(t *testing.T) {
	_, rep := check(t, "func f(self) { }")
	assert.Equal(t, []string{"'self' parameter is only allowed in impl and trait methods"}, rep.Messages())

	// Methods see self even when the parameter is omitted.
	mustCheck(t, "struct P { x: int32 }\nimpl P { func get() -> int32 { return self.x; } }")

	cfg := config.NewConfig()
	cfg.SetFeature(config.FeatImplicitSelf, false)
	_, rep = checkWith(t, cfg, "struct P { x: int32 }\nimpl P { func get() -> int32 { return self.x; } }")
	assert.Equal(t, []string{"Undefined variable 'self'"}, rep.Messages())
}

func TestReturnChecks(t *testing.T) {
	_, rep := check(t, `
func f() -> int32 { return; }
func g() { return 1; }
func h() -> bool { return 1; }
func k() -> int16 { return 7; }
`)
	assert.Equal(t, []string{
		"Missing return value in function 'f' returning int32",
		"Function 'g' does not return a value",
		"Cannot return int64 from function 'h' returning bool",
	}, rep.Messages())
}

func TestConditionsMustBeBool(t *testing.T) {
	_, rep := check(t, `
func f() {
	var x = 1;
	if x { x = 2; }
	while x { x = 3; }
	for ; x; { x = 4; }
	if x > 0 { x = 5; }
}
`)
	assert.Equal(t, []string{
		"Condition of 'if' must be of type bool, got int64",
		"Condition of 'while' must be of type bool, got int64",
		"Condition of 'for' must be of type bool, got int64",
	}, rep.Messages())
}

func TestVariableScoping(t *testing.T) {
	cfg := config.NewConfig()
	cfg.SetWarning(config.WarnShadow, true)

	_, rep := checkWith(t, cfg, "func f() { var x = 1; { var x = 2; x = 3; } }")
	assert.Empty(t, rep.Messages())
	assert.Equal(t, []string{"Declaration of 'x' shadows an outer variable"}, warnings(rep))

	_, rep = check(t, "func f() { var x = 1; var x = 2; }")
	assert.Equal(t, []string{"Redefinition of variable 'x' in the same scope"}, rep.Messages())

	_, rep = check(t, "func f() { { var y = 1; } y = 2; }")
	assert.Equal(t, []string{"Undefined variable 'y'"}, rep.Messages())
}

func TestNoCaptureFromEnclosingFunction(t *testing.T) {
	_, rep := check(t, "func outer() { var x = 1; func inner() -> int64 { return x; } }")
	assert.Equal(t, []string{"Cannot use 'x' from an enclosing function"}, rep.Messages())
}

func TestNestedDeclarationsAreScoped(t *testing.T) {
	_, rep := check(t, `
func f() { struct L { a: int32 } var l = L { a: 1 }; }
func g() { var m = L { a: 1 }; }
`)
	assert.Equal(t, []string{"Unknown struct 'L' in struct literal"}, rep.Messages())
}

func TestNestedFunctionInsideMethod(t *testing.T) {
	decls := mustCheck(t, `
struct P { x: int32 }
impl P {
	func a(self) -> int32 {
		func h() -> int32 { return 1; }
		return self.x + h();
	}
}
`)
	var nested *ast.Node
	ast.Walk(decls[1], func(n *ast.Node) bool {
		if n.Type == ast.Prototype && n.Data.(ast.PrototypeNode).Name == "h" {
			nested = n
		}
		return true
	})
	require.NotNil(t, nested)
	assert.Empty(t, nested.Typ.Owner)

	_, rep := check(t, `
struct P { x: int32 }
impl P { func a(self) -> int32 { func h() -> int32 { return self.x; } return h(); } }
`)
	assert.Equal(t, []string{"Cannot use 'self' from an enclosing function"}, rep.Messages())
}

func TestOperatorRules(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`var s = "a" + "b";`, "Operator '+' cannot be applied to operands of type string"},
		{"var m = 1.5 % 2.0;", "Operator '%' cannot be applied to operands of type float64"},
		{"var a: int32 = 1; var b: int64 = 2; var c = a + b;", "Operand types mismatch for '+': int32 and int64"},
		{"var a = 1; var b = a and true;", "Operand types mismatch for 'and': int64 and bool"},
		{"var b = true; var c = !1;", "Operator '!' requires a bool operand, got int64"},
		{"var u: uint8 = 1; var n = -u;", "Unary '-' requires a signed integer or float operand, got uint8"},
		{"var f = 1.5; var g = f << 1.0;", "Operator '<<' cannot be applied to operands of type float64"},
		{`var e = "a" == "b";`, "Operator '==' cannot be applied to operands of type string"},
		{"struct Q { v: int32 } var q = Q { v: 1 }; var e = q != q;", "Operator '!=' cannot be applied to operands of type object{Q}"},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			_, rep := check(t, "func f() { "+tt.body+" }")
			assert.Equal(t, []string{tt.want}, rep.Messages())
		})
	}
}

func TestComparisonsYieldBool(t *testing.T) {
	decls := mustCheck(t, "func f() -> bool { var a: uint16 = 3; return a < 4 && 1 != a; }")
	ret := find(decls, ast.Return)
	assert.Equal(t, "bool", ret.Data.(ast.ReturnNode).Expr.Typ.String())
}

func TestAttributeErrors(t *testing.T) {
	_, rep := check(t, "struct P { x: int32 }\nfunc f(p: P) -> int32 { return p.z; }")
	assert.Equal(t, []string{"Struct 'P' has no field or method named 'z'"}, rep.Messages())

	_, rep = check(t, "func f() { var n = 1; var m = n.x; }")
	assert.Equal(t, []string{"Cannot access attribute 'x' on a value of type int64"}, rep.Messages())
}

func TestCasts(t *testing.T) {
	decls := mustCheck(t, "func f() { var b = 5 as bool; var w = b as uint64; var d = w as float32; }")
	cast := find(decls, ast.Cast).Data.(ast.CastNode)
	assert.Equal(t, "int64", cast.From.String())
	assert.Equal(t, "bool", cast.To.String())

	_, rep := check(t, "struct P { x: int32 }\nfunc f(p: P) { var i = p as int32; }")
	assert.Equal(t, []string{"Cannot cast object{P} to int32"}, rep.Messages())

	_, rep = check(t, `func f() { var n = "12" as int32; }`)
	assert.Equal(t, []string{"Cannot cast string to int32"}, rep.Messages())

	mustCheck(t, `func f() { var s = "x" as string; }`)
}

func TestAssignments(t *testing.T) {
	mustCheck(t, "func f() { var x: int32 = 1; x += 2; x <<= 1; x = x * 3; }")

	_, rep := check(t, "func f() { var x: int32 = 1; x = true; }")
	assert.Equal(t, []string{"Cannot assign bool to a target of type int32"}, rep.Messages())

	_, rep = check(t, "func g() { }\nfunc f() { g = 1; }")
	assert.Equal(t, []string{"Cannot assign to function 'g'"}, rep.Messages())
}

func TestWarnings(t *testing.T) {
	_, rep := check(t, "func f() { var x = 1; x + 1; }\nfunc g() { }")
	assert.Empty(t, rep.Messages())
	assert.Equal(t, []string{"Expression result is unused", "Function 'g' has an empty body"}, warnings(rep))

	cfg := config.NewConfig()
	cfg.ApplyFlag("-Wno-all")
	_, rep = checkWith(t, cfg, "func f() { var x = 1; x + 1; }\nfunc g() { }")
	assert.Empty(t, warnings(rep))
}

func TestFunctionRedeclaration(t *testing.T) {
	mustCheck(t, "func f(a: int32) -> int32;\nfunc f(a: int32) -> int32 { return a; }")

	_, rep := check(t, "func f(a: int32) -> int32;\nfunc f(a: int64) -> int32 { return 1; }")
	assert.Equal(t, []string{"Conflicting declarations of function 'f': func f(int32) -> int32 and func f(int64) -> int32"}, rep.Messages())

	_, rep = check(t, "func f() { }\nfunc f() { }")
	assert.Contains(t, rep.Messages(), "Redefinition of function 'f'")
}
