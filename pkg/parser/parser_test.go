package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xplshn/traitc/pkg/ast"
	"github.com/xplshn/traitc/pkg/config"
	"github.com/xplshn/traitc/pkg/lexer"
	"github.com/xplshn/traitc/pkg/util"
)

func parseWith(t *testing.T, cfg *config.Config, src string) ([]*ast.Node, bool, *util.Reporter) {
	t.Helper()
	rep := util.NewReporter(cfg)
	toks := lexer.Tokenize([]rune(src), 0, rep)
	require.False(t, rep.HasErrors(), "lexing failed: %v", rep.Messages())
	decls, hasErrors := NewParser(toks, cfg, rep).Parse()
	return decls, hasErrors, rep
}

func parse(t *testing.T, src string) ([]*ast.Node, bool, *util.Reporter) {
	return parseWith(t, config.NewConfig(), src)
}

func mustParse(t *testing.T, src string) []*ast.Node {
	t.Helper()
	decls, hasErrors, rep := parse(t, src)
	require.False(t, hasErrors, "unexpected errors: %v", rep.Messages())
	return decls
}

// bodyStmts returns the statements of the function declared first in src.
func bodyStmts(t *testing.T, decls []*ast.Node) []*ast.Node {
	t.Helper()
	require.NotEmpty(t, decls)
	fd, ok := decls[0].Data.(ast.FuncDefNode)
	require.True(t, ok, "first declaration is %T", decls[0].Data)
	return fd.Body.Data.(ast.BlockNode).Stmts
}

// firstExpr parses `func f() { <stmt> }` and returns the only statement's expression.
func firstExpr(t *testing.T, stmt string) *ast.Node {
	t.Helper()
	stmts := bodyStmts(t, mustParse(t, "func f() { "+stmt+" }"))
	require.Len(t, stmts, 1)
	return stmts[0].Data.(ast.ExprStmtNode).Expr
}

const pointProgram = `
struct Point { x: int32, y: int32 }

trait Shape {
	func area(self) -> int32;
	func twice(self) -> int32 { return 2; }
}

impl Point {
	func sum(self) -> int32 { return self.x + self.y; }
}

impl Shape for Point {
	func area(self) -> int32 { return self.x * self.y; }
}

func extern_add(a, b: int32) -> int32;

func main() -> int32 {
	var p = Point{x: 3, y: 4};
	return p.sum();
}
`

func TestParseDeclarationCount(t *testing.T) {
	decls := mustParse(t, pointProgram)
	require.Len(t, decls, 6)

	kinds := make([]ast.NodeType, len(decls))
	for i, d := range decls {
		kinds[i] = d.Type
	}
	assert.Equal(t, []ast.NodeType{ast.StructDecl, ast.TraitDecl, ast.ImplDecl, ast.ImplDecl, ast.Prototype, ast.FuncDef}, kinds)

	trait := decls[1].Data.(ast.TraitDeclNode)
	require.Len(t, trait.Methods, 2)
	assert.Equal(t, ast.Prototype, trait.Methods[0].Type)
	assert.Equal(t, ast.FuncDef, trait.Methods[1].Type)

	impl := decls[3].Data.(ast.ImplDeclNode)
	assert.Equal(t, "Point", impl.Struct)
	assert.Equal(t, "Shape", impl.Trait)
}

func TestPrototypeParams(t *testing.T) {
	decls := mustParse(t, "func add(a, b: int32, c: int64) -> int32;")
	require.Len(t, decls, 1)
	assert.Equal(t, "(proto add ((a int32) (b int32) (c int64)) int32)", ast.Sexpr(decls[0]))

	decls = mustParse(t, "impl P { func get(self, k: uint8) -> bool { return true; } }")
	assert.Equal(t, "(impl P (func (proto get (self (k uint8)) bool) (block (return true))))", ast.Sexpr(decls[0]))
}

func TestInvalidAssignmentTargets(t *testing.T) {
	for _, src := range []string{"5 = x;", "f() = x;", "(a + b) = 1;", "Point{x: 1} = p;"} {
		t.Run(src, func(t *testing.T) {
			decls, hasErrors, rep := parse(t, "func f() { "+src+" }")
			assert.True(t, hasErrors)
			assert.Contains(t, strings.Join(rep.Messages(), "\n"), "Invalid target for assignment")
			assert.Empty(t, bodyStmts(t, decls), "no statement should survive an invalid target")
		})
	}
}

func TestValidAssignmentTargets(t *testing.T) {
	assert.Equal(t, "(= a (= b c))", ast.Sexpr(firstExpr(t, "a = b = c;")))
	assert.Equal(t, "(+= (. (. p q) x) 1)", ast.Sexpr(firstExpr(t, "p.q.x += 1;")))
	assert.Equal(t, "(= (group a) 2)", ast.Sexpr(firstExpr(t, "(a) = 2;")))
}

func TestStructLiteralRestrictedInConditions(t *testing.T) {
	stmts := bodyStmts(t, mustParse(t, "func f() { if ok { x; } }"))
	require.Len(t, stmts, 1)
	cond := stmts[0].Data.(ast.IfNode).Cond
	assert.Equal(t, ast.Variable, cond.Type)

	decls, hasErrors, _ := parse(t, "func f() { if Point{x:1,y:2}.x > 0 { } }")
	assert.True(t, hasErrors, "the brace after Point must open the body, not a literal")
	stmts = bodyStmts(t, decls)
	require.NotEmpty(t, stmts)
	ifNode := stmts[0].Data.(ast.IfNode)
	assert.Equal(t, ast.Variable, ifNode.Cond.Type)
	assert.Equal(t, "Point", ifNode.Cond.Data.(ast.VariableNode).Name)
}

func TestStructLiteralAllowedOutsideConditions(t *testing.T) {
	stmts := bodyStmts(t, mustParse(t, "func f() { var p = Point{x:1,y:2}; }"))
	require.Len(t, stmts, 1)
	init := stmts[0].Data.(ast.VarDeclNode).Init
	assert.Equal(t, ast.StructLiteral, init.Type)
	assert.Equal(t, "(lit Point (x 1) (y 2))", ast.Sexpr(init))

	stmts = bodyStmts(t, mustParse(t, "func f() { if (Point{x:1,y:2}.x > 0) { } for g(Point{x:1}) { } }"))
	require.Len(t, stmts, 2)
	assert.Equal(t, "(group (> (. (lit Point (x 1) (y 2)) x) 0))", ast.Sexpr(stmts[0].Data.(ast.IfNode).Cond))
	assert.Equal(t, "(call g (lit Point (x 1)))", ast.Sexpr(stmts[1].Data.(ast.ForNode).Cond))
}

func TestForHeaderShapes(t *testing.T) {
	cases := map[string]string{
		"for { }":                           "(for _ _ _ (block))",
		"for i < 10 { }":                    "(for _ (< i 10) _ (block))",
		"for var i = 0; i < 10; i += 1 { }": "(for (var i 0) (< i 10) (+= i 1) (block))",
		"for ;; { }":                        "(for _ _ _ (block))",
		"for i = 0; i < n; i = i + 1, j = j - 1 { }": "(for (= i 0) (< i n) (list (= i (+ i 1)) (= j (- j 1))) (block))",
		"for var p = P{x:1}; p.x < 3; p.x += 1 { }": "(for (var p (lit P (x 1))) (< (. p x) 3) (+= (. p x) 1) (block))",
	}
	for src, want := range cases {
		t.Run(src, func(t *testing.T) {
			stmts := bodyStmts(t, mustParse(t, "func f() { "+src+" }"))
			require.Len(t, stmts, 1)
			assert.Equal(t, want, ast.Sexpr(stmts[0]))
		})
	}
}

func TestForExpressionInitStaysRestricted(t *testing.T) {
	_, hasErrors, _ := parse(t, "func f() { for p = P{x:1}; p.x < 3; p.x += 1 { } }")
	assert.True(t, hasErrors, "a struct literal in an expression initializer needs parentheses")

	stmts := bodyStmts(t, mustParse(t, "func f() { for p = (P{x:1}); p.x < 3; p.x += 1 { } }"))
	require.Len(t, stmts, 1)
	assert.Equal(t, "(= p (group (lit P (x 1))))", ast.Sexpr(stmts[0].Data.(ast.ForNode).Init))
}

func TestPrecedenceAndAssociativity(t *testing.T) {
	cases := map[string]string{
		"a + b * c == d and e or f;": "(or (and (== (+ a (* b c)) d) e) f)",
		"a - b - c;":                 "(- (- a b) c)",
		"a && b || !c;":              "(or (and a b) (! c))",
		"a | b ^ c & d;":             "(| a (^ b (& c d)))",
		"a << 1 + 2 < b;":            "(< (<< a (+ 1 2)) b)",
		"x as int8 + 1;":             "(+ (as x int8) 1)",
		"-p.get(1, 2).v;":            "(- (. (call (. p get) 1 2) v))",
		"a = 1, b = 2;":              "(list (= a 1) (= b 2))",
	}
	for src, want := range cases {
		t.Run(src, func(t *testing.T) {
			assert.Equal(t, want, ast.Sexpr(firstExpr(t, src)))
		})
	}
}

func TestComparisonTiersDefaultToBool(t *testing.T) {
	expr := firstExpr(t, "a + 1 < b and c;")
	assert.Same(t, ast.TypeBool, expr.Typ)
	lhs := expr.Data.(ast.BinaryNode).Lhs
	assert.Same(t, ast.TypeBool, lhs.Typ)
	sum := lhs.Data.(ast.BinaryNode).Lhs
	assert.True(t, sum.Typ.IsUnresolved())
}

func TestElseIfChain(t *testing.T) {
	stmts := bodyStmts(t, mustParse(t, "func f() { if a { } else if b { } else { return; } }"))
	require.Len(t, stmts, 1)
	assert.Equal(t, "(if a (block) (if b (block) (block (return))))", ast.Sexpr(stmts[0]))
}

func TestErrorRecoveryReportsMultipleErrors(t *testing.T) {
	decls, hasErrors, rep := parse(t, `
func a() {
	x = ;
	var ;
	return 1
}
var stray = 1;
func b() { }
`)
	assert.True(t, hasErrors)
	assert.GreaterOrEqual(t, rep.ErrorCount(), 3)

	var names []string
	for _, d := range decls {
		names = append(names, ast.PrototypeOf(d).Name)
	}
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestVarDeclNeedsTypeOrInit(t *testing.T) {
	_, hasErrors, rep := parse(t, "func f() { var x; }")
	assert.True(t, hasErrors)
	assert.Equal(t, []string{"A variable declaration requires either a type or an initializer"}, rep.Messages())
}

func TestImplMethodNeedsBody(t *testing.T) {
	_, hasErrors, rep := parse(t, "impl P { func f(self); }")
	assert.True(t, hasErrors)
	assert.Equal(t, []string{"Method 'f' in an impl block needs a body"}, rep.Messages())
}

func TestWhileFeatureSwitch(t *testing.T) {
	stmts := bodyStmts(t, mustParse(t, "func f() { while a < b { a += 1; } }"))
	assert.Equal(t, "(while (< a b) (block (expr (+= a 1))))", ast.Sexpr(stmts[0]))

	cfg := config.NewConfig()
	cfg.SetFeature(config.FeatWhileLoops, false)
	_, hasErrors, rep := parseWith(t, cfg, "func f() { while a { } }")
	assert.True(t, hasErrors)
	assert.Contains(t, rep.Messages()[0], "-Fno-while-loops")
}

func TestExtraSemicolonWarning(t *testing.T) {
	_, hasErrors, rep := parse(t, "struct P { x: int32 };")
	assert.False(t, hasErrors)
	diags := rep.Diagnostics()
	require.Len(t, diags, 1)
	assert.Equal(t, util.LevelWarning, diags[0].Level)
	assert.Equal(t, config.WarnExtra, diags[0].Warning)
}

func TestDuplicateFieldsAndParams(t *testing.T) {
	_, hasErrors, rep := parse(t, "struct P { x: int32, x: bool } func f(a: int8, a: int8) { }")
	assert.True(t, hasErrors)
	assert.Equal(t, []string{
		"Duplicate field 'x' in struct 'P'",
		"Duplicate parameter 'a' in function 'f'",
	}, rep.Messages())
}

func TestNestedDeclarationStatement(t *testing.T) {
	stmts := bodyStmts(t, mustParse(t, "func f() { struct L { v: bool } func g() -> bool { return true; } }"))
	require.Len(t, stmts, 2)
	assert.Equal(t, ast.DeclStmt, stmts[0].Type)
	assert.Equal(t, "(decl (struct L (v bool)))", ast.Sexpr(stmts[0]))
	assert.Equal(t, ast.DeclStmt, stmts[1].Type)
}

func TestParentLinks(t *testing.T) {
	expr := firstExpr(t, "a + b;")
	bin := expr.Data.(ast.BinaryNode)
	assert.Same(t, expr, bin.Lhs.Parent)
	assert.Same(t, expr, bin.Rhs.Parent)
}
