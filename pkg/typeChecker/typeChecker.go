package typeChecker

import (
	"fmt"
	"strings"

	"github.com/xplshn/traitc/pkg/ast"
	"github.com/xplshn/traitc/pkg/config"
	"github.com/xplshn/traitc/pkg/symtab"
	"github.com/xplshn/traitc/pkg/token"
	"github.com/xplshn/traitc/pkg/util"
)

type funcCtx struct {
	name string
	ret  *ast.Datatype
	// depth of the parameter scope; variables bound below it belong to an
	// enclosing function.
	depth int
}

type TypeChecker struct {
	st         *symtab.Table[*ast.Datatype]
	scopes     symtab.ScopeStack
	cfg        *config.Config
	rep        *util.Reporter
	funcs      []funcCtx
	protoTypes map[*ast.Node]*ast.Datatype
	hasErrors  bool
}

func NewTypeChecker(cfg *config.Config, rep *util.Reporter) *TypeChecker {
	return &TypeChecker{
		st:         symtab.New[*ast.Datatype](),
		cfg:        cfg,
		rep:        rep,
		protoTypes: make(map[*ast.Node]*ast.Datatype),
	}
}

// Check annotates decls in place, in declaration order, and reports whether
// any semantic error was found.
func (tc *TypeChecker) Check(decls []*ast.Node) bool {
	for _, d := range decls {
		tc.checkDecl(d)
	}
	return tc.hasErrors
}

func (tc *TypeChecker) errorf(tok token.Token, format string, args ...interface{}) {
	tc.hasErrors = true
	tc.rep.Error(tok, format, args...)
}

func (tc *TypeChecker) warnf(wt config.Warning, tok token.Token, format string, args ...interface{}) {
	tc.rep.Warn(wt, tok, format, args...)
}

func (tc *TypeChecker) feature(ft config.Feature) bool {
	return tc.cfg == nil || tc.cfg.IsFeatureEnabled(ft)
}

// resolveType checks that a struct type named in a declaration exists.
func (tc *TypeChecker) resolveType(t *ast.Datatype, tok token.Token, what string) *ast.Datatype {
	if t.IsObject() {
		if _, ok := tc.st.Structs.Lookup(t.Name); !ok {
			tc.errorf(tok, "Unknown type '%s' for %s", t.Name, what)
			return ast.TypeUnresolved
		}
	}
	return t
}

func protoNode(decl *ast.Node) *ast.Node {
	if fd, ok := decl.Data.(ast.FuncDefNode); ok {
		return fd.Proto
	}
	return decl
}

// funcType builds the function datatype of a prototype. Bare `self` is not
// part of the parameter list.
func (tc *TypeChecker) funcType(proto *ast.Node, owner string) *ast.Datatype {
	if t, ok := tc.protoTypes[proto]; ok {
		return t
	}
	d := proto.Data.(ast.PrototypeNode)
	var params []*ast.Datatype
	for _, p := range d.Params {
		if p.Type == nil {
			continue
		}
		params = append(params, tc.resolveType(p.Type, p.Tok, fmt.Sprintf("parameter '%s'", p.Name)))
	}
	ret := tc.resolveType(d.ReturnType, proto.Tok, fmt.Sprintf("the result of '%s'", d.Name))
	t := ast.Function(d.Name, owner, ret, params)
	tc.protoTypes[proto] = t
	proto.Typ = t
	return t
}

func hasUnresolved(t *ast.Datatype) bool {
	if t.IsUnresolved() {
		return true
	}
	if t.Kind == ast.KindFunction {
		if hasUnresolved(t.Return) {
			return true
		}
		for _, p := range t.Params {
			if hasUnresolved(p) {
				return true
			}
		}
	}
	return false
}

func displayName(t *ast.Datatype) string {
	if t.Owner != "" {
		return t.Owner + "." + t.Name
	}
	return t.Name
}

// Declarations

func (tc *TypeChecker) checkDecl(node *ast.Node) {
	switch node.Type {
	case ast.StructDecl:
		tc.checkStructDecl(node)
	case ast.Prototype:
		tc.declareFunc(node)
	case ast.FuncDef:
		tc.checkFuncDef(node)
	case ast.ImplDecl:
		tc.checkImplDecl(node)
	case ast.TraitDecl:
		tc.checkTraitDecl(node)
	default:
		tc.errorf(node.Tok, "Expected a declaration")
	}
}

func (tc *TypeChecker) checkStructDecl(node *ast.Node) {
	d := node.Data.(ast.StructDeclNode)
	if _, ok := tc.st.Structs.Lookup(d.Name); ok && !tc.st.Structs.IsOuter(d.Name) {
		tc.errorf(node.Tok, "Redefinition of struct '%s'", d.Name)
		return
	}
	for _, f := range d.Fields {
		if f.Type.IsObject() && f.Type.Name == d.Name {
			tc.errorf(f.Tok, "Struct '%s' cannot contain itself (field '%s')", d.Name, f.Name)
			continue
		}
		tc.resolveType(f.Type, f.Tok, fmt.Sprintf("field '%s' of struct '%s'", f.Name, d.Name))
	}
	tc.st.Structs.Set(d.Name, node)
}

// declareFunc registers a Prototype or FuncDef under its mangled name.
func (tc *TypeChecker) declareFunc(decl *ast.Node) *ast.Datatype {
	proto := protoNode(decl)
	d := proto.Data.(ast.PrototypeNode)
	scope := tc.scopes.Current()

	for _, p := range d.Params {
		if p.Name != "self" {
			continue
		}
		if p.Type != nil {
			tc.errorf(p.Tok, "'self' is implicit and cannot be given a type")
		} else if scope.Kind == symtab.ScopeGlobal {
			tc.errorf(p.Tok, "'self' parameter is only allowed in impl and trait methods")
		}
	}

	t := tc.funcType(proto, scope.Owner())
	name := scope.Mangle(d.Name)
	if prev, ok := tc.st.Functions.Lookup(name); ok && !tc.st.Functions.IsOuter(name) {
		prevType := tc.funcType(protoNode(prev), scope.Owner())
		switch {
		case prev.Type == ast.FuncDef && decl.Type == ast.FuncDef:
			tc.errorf(proto.Tok, "Redefinition of function '%s'", name)
		case !hasUnresolved(t) && !hasUnresolved(prevType) && !t.Equal(prevType):
			tc.errorf(proto.Tok, "Conflicting declarations of function '%s': %s and %s", name, prevType, t)
		}
		if prev.Type == ast.FuncDef {
			return t
		}
	}
	tc.st.Functions.Set(name, decl)
	return t
}

func selfDeclared(d ast.PrototypeNode) bool {
	for _, p := range d.Params {
		if p.Name == "self" && p.Type == nil {
			return true
		}
	}
	return false
}

func (tc *TypeChecker) checkFuncDef(node *ast.Node) {
	fd := node.Data.(ast.FuncDefNode)
	t := tc.declareFunc(node)
	d := fd.Proto.Data.(ast.PrototypeNode)

	tc.st.Enter()
	defer tc.st.Leave()
	tc.funcs = append(tc.funcs, funcCtx{name: displayName(t), ret: t.Return, depth: tc.st.Depth()})
	defer func() { tc.funcs = tc.funcs[:len(tc.funcs)-1] }()

	if s := tc.scopes.Current().SelfStruct(); s != "" && (selfDeclared(d) || tc.feature(config.FeatImplicitSelf)) {
		tc.st.Variables.Set("self", ast.Object(s))
	}
	i := 0
	for _, p := range d.Params {
		if p.Type == nil {
			continue
		}
		tc.st.Variables.Set(p.Name, t.Params[i])
		i++
	}

	if len(fd.Body.Data.(ast.BlockNode).Stmts) == 0 {
		tc.warnf(config.WarnEmptyBody, fd.Proto.Tok, "Function '%s' has an empty body", displayName(t))
	}
	tc.checkStmt(fd.Body)
}

func nameTok(m *ast.Node) token.Token { return protoNode(m).Tok }

func (tc *TypeChecker) checkImplDecl(node *ast.Node) {
	d := node.Data.(ast.ImplDeclNode)
	if _, ok := tc.st.Structs.Lookup(d.Struct); !ok {
		tc.errorf(node.Tok, "Unknown struct '%s' in impl", d.Struct)
	}
	traitKnown := false
	if d.Trait != "" {
		if _, traitKnown = tc.st.Traits.Lookup(d.Trait); !traitKnown {
			tc.errorf(d.TraitTok, "Unknown trait '%s'", d.Trait)
		}
	}

	seen := make(map[string]bool)
	dup := make(map[*ast.Node]bool)
	for _, m := range d.Methods {
		name := symtab.MethodName(m)
		if prev, _ := tc.st.FindMethod(d.Struct, name); seen[name] || prev != nil {
			tc.errorf(nameTok(m), "Method '%s' is defined more than once for '%s'", name, d.Struct)
			dup[m] = true
		}
		seen[name] = true
	}
	tc.st.AddImpl(d.Struct, node)

	tc.scopes.Push(symtab.ImplScope(d.Struct, d.Trait))
	for _, m := range d.Methods {
		switch {
		case dup[m]:
		case m.Type == ast.FuncDef:
			tc.checkFuncDef(m)
		default:
			tc.declareFunc(m)
		}
	}
	tc.scopes.Pop()

	if traitKnown {
		tc.checkConformance(node, d)
	}
}

// checkConformance verifies an `impl Trait for Struct` against the trait.
func (tc *TypeChecker) checkConformance(node *ast.Node, d ast.ImplDeclNode) {
	provided := make(map[string]*ast.Node)
	for _, m := range d.Methods {
		provided[symtab.MethodName(m)] = m
	}

	var missing []string
	traits, _ := tc.st.Traits.Lookup(d.Trait)
	for _, tr := range traits {
		for _, tm := range tr.Data.(ast.TraitDeclNode).Methods {
			name := symtab.MethodName(tm)
			m, ok := provided[name]
			if !ok {
				if tm.Type == ast.Prototype {
					missing = append(missing, name)
				}
				continue
			}
			want := tc.funcType(protoNode(tm), d.Trait)
			got := tc.funcType(protoNode(m), d.Struct)
			if !hasUnresolved(want) && !hasUnresolved(got) && !want.Equal(got) {
				tc.errorf(nameTok(m), "Method '%s' of '%s' does not match trait '%s': expected %s, got %s",
					name, d.Struct, d.Trait, want, got)
			}
		}
	}

	for _, m := range d.Methods {
		if name := symtab.MethodName(m); tc.st.FindTraitMethod(d.Trait, name) == nil {
			tc.errorf(nameTok(m), "Method '%s' is not declared by trait '%s'", name, d.Trait)
		}
	}
	if len(missing) > 0 {
		tc.errorf(d.TraitTok, "'%s' does not implement trait '%s': missing %s", d.Struct, d.Trait, strings.Join(missing, ", "))
	}
}

func (tc *TypeChecker) checkTraitDecl(node *ast.Node) {
	d := node.Data.(ast.TraitDeclNode)
	if _, ok := tc.st.Traits.Lookup(d.Name); ok && !tc.st.Traits.IsOuter(d.Name) {
		tc.errorf(node.Tok, "Redefinition of trait '%s'", d.Name)
		return
	}
	seen := make(map[string]bool)
	var methods []*ast.Node
	for _, m := range d.Methods {
		name := symtab.MethodName(m)
		if seen[name] {
			tc.errorf(nameTok(m), "Method '%s' is declared more than once in trait '%s'", name, d.Name)
			continue
		}
		seen[name] = true
		methods = append(methods, m)
	}
	tc.st.AddTrait(d.Name, node)

	tc.scopes.Push(symtab.TraitScope(d.Name))
	for _, m := range methods {
		if m.Type == ast.FuncDef {
			tc.checkFuncDef(m)
		} else {
			tc.declareFunc(m)
		}
	}
	tc.scopes.Pop()
}

// Statements

func (tc *TypeChecker) checkStmt(node *ast.Node) {
	switch d := node.Data.(type) {
	case ast.BlockNode:
		tc.st.Enter()
		for _, s := range d.Stmts {
			tc.checkStmt(s)
		}
		tc.st.Leave()
	case ast.IfNode:
		tc.checkCondition(d.Cond, "if")
		tc.checkStmt(d.Then)
		if d.Else != nil {
			tc.checkStmt(d.Else)
		}
	case ast.WhileNode:
		tc.checkCondition(d.Cond, "while")
		tc.checkStmt(d.Body)
	case ast.ForNode:
		tc.st.Enter()
		if d.Init != nil {
			if d.Init.Type == ast.VarDecl {
				tc.checkVarDecl(d.Init)
			} else {
				tc.checkExpr(d.Init)
			}
		}
		if d.Cond != nil {
			tc.checkCondition(d.Cond, "for")
		}
		if d.Step != nil {
			tc.checkExpr(d.Step)
		}
		tc.checkStmt(d.Body)
		tc.st.Leave()
	case ast.ReturnNode:
		tc.checkReturn(node, d)
	case ast.VarDeclNode:
		tc.checkVarDecl(node)
	case ast.ExprStmtNode:
		tc.checkExpr(d.Expr)
		switch e := ast.Unparen(d.Expr); e.Type {
		case ast.Assignment, ast.Call, ast.ExprList:
		default:
			tc.warnf(config.WarnUnusedResult, e.Tok, "Expression result is unused")
		}
	case ast.DeclStmtNode:
		// local declarations are never methods of the enclosing impl
		tc.scopes.Push(symtab.Scope{Kind: symtab.ScopeGlobal})
		tc.checkDecl(d.Decl)
		tc.scopes.Pop()
	default:
		tc.errorf(node.Tok, "Expected a statement")
	}
}

func (tc *TypeChecker) checkCondition(cond *ast.Node, keyword string) {
	t := tc.checkExpr(cond)
	if !t.IsUnresolved() && !t.IsBool() {
		tc.errorf(cond.Tok, "Condition of '%s' must be of type bool, got %s", keyword, t)
	}
}

func (tc *TypeChecker) checkReturn(node *ast.Node, d ast.ReturnNode) {
	if len(tc.funcs) == 0 {
		tc.errorf(node.Tok, "'return' outside of a function")
		if d.Expr != nil {
			tc.checkExpr(d.Expr)
		}
		return
	}
	fn := tc.funcs[len(tc.funcs)-1]
	if d.Expr == nil {
		if fn.ret.Kind != ast.KindVoid && !fn.ret.IsUnresolved() {
			tc.errorf(node.Tok, "Missing return value in function '%s' returning %s", fn.name, fn.ret)
		}
		return
	}
	t := tc.checkExprExpect(d.Expr, fn.ret)
	switch {
	case fn.ret.Kind == ast.KindVoid:
		tc.errorf(node.Tok, "Function '%s' does not return a value", fn.name)
	case t.IsUnresolved() || fn.ret.IsUnresolved():
	case !t.Equal(fn.ret):
		tc.errorf(node.Tok, "Cannot return %s from function '%s' returning %s", t, fn.name, fn.ret)
	}
}

// convertible reports whether the permissive var-init mode can convert from
// one type to the other like an explicit cast would.
func convertible(from, to *ast.Datatype) bool {
	scalar := func(t *ast.Datatype) bool { return t.IsNumeric() || t.IsBool() }
	return scalar(from) && scalar(to)
}

func (tc *TypeChecker) checkVarDecl(node *ast.Node) {
	d := node.Data.(ast.VarDeclNode)

	var declared, initType *ast.Datatype
	if d.Declared != nil {
		declared = tc.resolveType(d.Declared, node.Tok, fmt.Sprintf("variable '%s'", d.Name))
	}
	if d.Init != nil {
		initType = tc.checkExprExpect(d.Init, declared)
		switch initType.Kind {
		case ast.KindVoid:
			tc.errorf(d.Init.Tok, "Variable '%s' initialized with an expression of type void", d.Name)
			initType = ast.TypeUnresolved
		case ast.KindFunction:
			tc.errorf(d.Init.Tok, "Cannot store function '%s' in variable '%s'", displayName(initType), d.Name)
			initType = ast.TypeUnresolved
		}
	}

	typ := declared
	if declared == nil {
		typ = initType
	} else if initType != nil && !initType.IsUnresolved() && !declared.IsUnresolved() && !declared.Equal(initType) {
		if tc.feature(config.FeatStrictVarInit) || !convertible(initType, declared) {
			tc.errorf(node.Tok, "Variable '%s' declared as %s but initialized with %s", d.Name, declared, initType)
		}
	}

	if _, exists := tc.st.Variables.Lookup(d.Name); exists {
		if !tc.st.Variables.IsOuter(d.Name) {
			tc.errorf(node.Tok, "Redefinition of variable '%s' in the same scope", d.Name)
		} else if !tc.isCaptured(d.Name) {
			tc.warnf(config.WarnShadow, node.Tok, "Declaration of '%s' shadows an outer variable", d.Name)
		}
	}
	tc.st.Variables.Set(d.Name, typ)
	node.Typ = typ
}

// isCaptured reports a variable that belongs to a function enclosing the
// one being checked.
func (tc *TypeChecker) isCaptured(name string) bool {
	if len(tc.funcs) == 0 {
		return false
	}
	depth, ok := tc.st.Variables.DepthOf(name)
	return ok && depth < tc.funcs[len(tc.funcs)-1].depth
}
