package codegen

import (
	"fmt"
	"slices"

	"github.com/xplshn/traitc/pkg/ast"
	"github.com/xplshn/traitc/pkg/config"
	"github.com/xplshn/traitc/pkg/ir"
	"github.com/xplshn/traitc/pkg/runtime"
	"github.com/xplshn/traitc/pkg/symtab"
)

// location is where a variable lives. For scalars addr is a stack slot, for
// objects it is the address of the struct itself.
type location struct {
	addr ir.Value
	typ  *ast.Datatype
}

// branchValue is what the last expression statement of a block produced.
type branchValue struct {
	val ir.Value
	typ ir.Type
}

type Context struct {
	prog         *ir.Program
	cfg          *config.Config
	st           *symtab.Table[location]
	scopes       symtab.ScopeStack
	tempCount    int
	labelCount   int
	allocCount   int
	currentFunc  *ir.Func
	currentBlock *ir.BasicBlock
	sret         ir.Value
	blockValue   *branchValue
	enclosing    []string

	funcNames   map[*ast.Node]string
	layouts     map[*ast.Node]*ir.StructLayout
	symbols     map[string]bool
	structNames map[string]bool
	protos      []pendingProto
}

// pendingProto is a body-less declaration that becomes an extern unless a
// definition shows up later.
type pendingProto struct {
	node   *ast.Node
	method bool
}

func NewContext(cfg *config.Config) *Context {
	wordSize := 8
	if cfg != nil && cfg.WordSize > 0 {
		wordSize = cfg.WordSize
	}
	return &Context{
		prog:        ir.NewProgram(wordSize),
		cfg:         cfg,
		st:          symtab.New[location](),
		funcNames:   make(map[*ast.Node]string),
		layouts:     make(map[*ast.Node]*ir.StructLayout),
		symbols:     make(map[string]bool),
		structNames: make(map[string]bool),
	}
}

// GenerateIR lowers type-checked declarations. The input must be free of
// semantic errors; anything unexpected is an internal error and panics.
func (ctx *Context) GenerateIR(decls []*ast.Node) *ir.Program {
	for _, d := range decls {
		ctx.codegenDecl(d)
	}
	ctx.declareExterns()
	return ctx.prog
}

func internalf(node *ast.Node, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if node != nil {
		msg = fmt.Sprintf("%d:%d: %s", node.Tok.Line, node.Tok.Column, msg)
	}
	panic("internal: " + msg)
}

func unique(used map[string]bool, name string) string {
	candidate := name
	for i := 1; used[candidate]; i++ {
		candidate = fmt.Sprintf("%s.%d", name, i)
	}
	used[candidate] = true
	return candidate
}

func (ctx *Context) newTemp() *ir.Temporary {
	t := &ir.Temporary{ID: ctx.tempCount}
	ctx.tempCount++
	return t
}

func (ctx *Context) newNamedTemp(name string) *ir.Temporary {
	t := ctx.newTemp()
	t.Name = name
	return t
}

// newLabels returns one label per prefix, all sharing a fresh suffix.
func (ctx *Context) newLabels(prefixes ...string) []*ir.Label {
	n := ctx.labelCount
	ctx.labelCount++
	labels := make([]*ir.Label, len(prefixes))
	for i, p := range prefixes {
		labels[i] = &ir.Label{Name: fmt.Sprintf("%s.%d", p, n)}
	}
	return labels
}

func (ctx *Context) startBlock(label *ir.Label) {
	block := &ir.BasicBlock{Label: label}
	ctx.currentFunc.Blocks = append(ctx.currentFunc.Blocks, block)
	ctx.currentBlock = block
}

func (ctx *Context) addInstr(instr *ir.Instruction) {
	if ctx.currentBlock == nil {
		ctx.startBlock(ctx.newLabels("dead")[0])
	}
	ctx.currentBlock.Instructions = append(ctx.currentBlock.Instructions, instr)
}

func (ctx *Context) jmp(target *ir.Label) {
	ctx.addInstr(&ir.Instruction{Op: ir.OpJmp, Args: []ir.Value{target}})
	ctx.currentBlock = nil
}

func (ctx *Context) jnz(cond ir.Value, ifTrue, ifFalse *ir.Label) {
	ctx.addInstr(&ir.Instruction{Op: ir.OpJnz, Args: []ir.Value{cond, ifTrue, ifFalse}})
	ctx.currentBlock = nil
}

func (ctx *Context) ret(v ir.Value) {
	instr := &ir.Instruction{Op: ir.OpRet}
	if v != nil {
		instr.Args = []ir.Value{v}
	}
	ctx.addInstr(instr)
	ctx.currentBlock = nil
}

// allocSlot reserves stack memory in the entry block, ahead of any other
// instruction, so that loops do not grow the frame.
func (ctx *Context) allocSlot(size int64, align int64, elem ir.Type, layout string) ir.Value {
	res := ctx.newTemp()
	instr := &ir.Instruction{
		Op: ir.OpAlloc, Typ: ir.TypePtr, OperandType: elem, Result: res,
		Args: []ir.Value{&ir.Const{Value: size}}, Align: int(align), Struct: layout,
	}
	entry := ctx.currentFunc.Blocks[0]
	entry.Instructions = slices.Insert(entry.Instructions, ctx.allocCount, instr)
	ctx.allocCount++
	return res
}

func (ctx *Context) allocScalar(t *ast.Datatype) ir.Value {
	mt := ir.MemType(t)
	size := ir.SizeOfType(mt, ctx.prog.WordSize)
	return ctx.allocSlot(size, size, mt, "")
}

func (ctx *Context) allocStruct(name string) ir.Value {
	l := ctx.layoutOf(name)
	return ctx.allocSlot(ctx.prog.SizeOf(l), ctx.prog.AlignOf(l), ir.TypeNone, l.Name)
}

func (ctx *Context) genLoad(t *ast.Datatype, addr ir.Value) ir.Value {
	res := ctx.newTemp()
	ctx.addInstr(&ir.Instruction{Op: ir.OpLoad, Typ: ir.RegType(t), OperandType: ir.MemType(t), Result: res, Args: []ir.Value{addr}})
	return res
}

func (ctx *Context) genStore(t *ast.Datatype, val, addr ir.Value) {
	ctx.addInstr(&ir.Instruction{Op: ir.OpStore, Typ: ir.StoreType(ir.MemType(t)), Args: []ir.Value{val, addr}})
}

func zeroValue(t *ast.Datatype) ir.Value {
	if t.IsFloat() {
		return &ir.FloatConst{Value: 0, Typ: ir.RegType(t)}
	}
	return &ir.Const{Value: 0}
}

// Structs

func (ctx *Context) structDecl(name string) (*ast.Node, ast.StructDeclNode) {
	decl, ok := ctx.st.Structs.Lookup(name)
	if !ok {
		internalf(nil, "struct '%s' is not declared", name)
	}
	return decl, decl.Data.(ast.StructDeclNode)
}

func (ctx *Context) layoutOf(name string) *ir.StructLayout {
	decl, _ := ctx.structDecl(name)
	return ctx.layouts[decl]
}

func (ctx *Context) codegenStructDecl(node *ast.Node) {
	d := node.Data.(ast.StructDeclNode)
	l := &ir.StructLayout{Name: unique(ctx.structNames, d.Name)}
	for _, f := range d.Fields {
		if f.Type.IsObject() {
			l.Fields = append(l.Fields, ir.Field{Name: f.Name, Struct: ctx.layoutOf(f.Type.Name).Name})
		} else {
			l.Fields = append(l.Fields, ir.Field{Name: f.Name, Type: ir.MemType(f.Type)})
		}
	}
	ctx.layouts[node] = l
	ctx.prog.Structs = append(ctx.prog.Structs, l)
	ctx.st.Structs.Set(d.Name, node)
}

// fieldAddr computes the address of a named field of the struct at base.
func (ctx *Context) fieldAddr(base ir.Value, structName, field string) (ir.Value, *ast.Datatype) {
	decl, sd := ctx.structDecl(structName)
	l := ctx.layouts[decl]
	idx := l.FieldIndex(field)
	if idx < 0 {
		internalf(decl, "struct '%s' has no field '%s'", structName, field)
	}
	res := ctx.newTemp()
	ctx.addInstr(&ir.Instruction{
		Op: ir.OpFieldPtr, Typ: ir.TypePtr, Result: res,
		Args: []ir.Value{base, &ir.Const{Value: int64(idx)}}, Struct: l.Name,
	})
	return res, sd.Fields[idx].Type
}

// copyObject copies a struct field by field, recursing into embedded structs.
func (ctx *Context) copyObject(dst, src ir.Value, structName string) {
	_, sd := ctx.structDecl(structName)
	for _, f := range sd.Fields {
		to, ft := ctx.fieldAddr(dst, structName, f.Name)
		from, _ := ctx.fieldAddr(src, structName, f.Name)
		if ft.IsObject() {
			ctx.copyObject(to, from, ft.Name)
			continue
		}
		ctx.genStore(ft, ctx.genLoad(ft, from), to)
	}
}

func (ctx *Context) zeroObject(dst ir.Value, structName string) {
	_, sd := ctx.structDecl(structName)
	for _, f := range sd.Fields {
		addr, ft := ctx.fieldAddr(dst, structName, f.Name)
		if ft.IsObject() {
			ctx.zeroObject(addr, ft.Name)
			continue
		}
		ctx.genStore(ft, zeroValue(ft), addr)
	}
}

// Declarations

func (ctx *Context) codegenDecl(node *ast.Node) {
	switch node.Type {
	case ast.StructDecl:
		ctx.codegenStructDecl(node)
	case ast.Prototype:
		ctx.declareFunc(node)
		ctx.protos = append(ctx.protos, pendingProto{node, ctx.scopes.Current().Kind == symtab.ScopeImpl})
	case ast.FuncDef:
		ctx.codegenFuncDef(node)
	case ast.ImplDecl:
		d := node.Data.(ast.ImplDeclNode)
		ctx.st.AddImpl(d.Struct, node)
		ctx.scopes.Push(symtab.ImplScope(d.Struct, d.Trait))
		// methods may call siblings defined later in the impl
		for _, m := range d.Methods {
			ctx.declareFunc(m)
		}
		for _, m := range d.Methods {
			ctx.codegenDecl(m)
		}
		ctx.scopes.Pop()
	case ast.TraitDecl:
		d := node.Data.(ast.TraitDeclNode)
		ctx.st.AddTrait(d.Name, node)
		ctx.scopes.Push(symtab.TraitScope(d.Name))
		for _, m := range d.Methods {
			if m.Type == ast.FuncDef {
				ctx.declareFunc(m)
			}
		}
		for _, m := range d.Methods {
			if m.Type == ast.FuncDef {
				ctx.codegenFuncDef(m)
			}
		}
		ctx.scopes.Pop()
	default:
		internalf(node, "unexpected declaration node %d", node.Type)
	}
}

func protoNode(decl *ast.Node) *ast.Node {
	if fd, ok := decl.Data.(ast.FuncDefNode); ok {
		return fd.Proto
	}
	return decl
}

// declareFunc binds a Prototype or FuncDef under its mangled source name and
// returns its IR symbol. A definition reuses the symbol of an earlier
// prototype in the same scope.
func (ctx *Context) declareFunc(decl *ast.Node) string {
	d := protoNode(decl).Data.(ast.PrototypeNode)
	mangled := ctx.scopes.Current().Mangle(d.Name)
	if prev, ok := ctx.st.Functions.Lookup(mangled); ok && !ctx.st.Functions.IsOuter(mangled) {
		name := ctx.funcNames[prev]
		ctx.funcNames[decl] = name
		if prev.Type != ast.FuncDef {
			ctx.st.Functions.Set(mangled, decl)
		}
		return name
	}
	name := mangled
	if n := len(ctx.enclosing); n > 0 {
		name = ctx.enclosing[n-1] + "." + mangled
	}
	name = unique(ctx.symbols, name)
	ctx.funcNames[decl] = name
	ctx.st.Functions.Set(mangled, decl)
	return name
}

// funcState is the per-function part of the context, saved around nested
// function definitions.
type funcState struct {
	tempCount, labelCount, allocCount int
	fn                                *ir.Func
	block                             *ir.BasicBlock
	sret                              ir.Value
	blockValue                        *branchValue
}

func (ctx *Context) saveFunc() funcState {
	return funcState{ctx.tempCount, ctx.labelCount, ctx.allocCount, ctx.currentFunc, ctx.currentBlock, ctx.sret, ctx.blockValue}
}

func (ctx *Context) restoreFunc(s funcState) {
	ctx.tempCount, ctx.labelCount, ctx.allocCount = s.tempCount, s.labelCount, s.allocCount
	ctx.currentFunc, ctx.currentBlock, ctx.sret, ctx.blockValue = s.fn, s.block, s.sret, s.blockValue
}

func (ctx *Context) feature(ft config.Feature) bool {
	return ctx.cfg == nil || ctx.cfg.IsFeatureEnabled(ft)
}

func selfDeclared(d ast.PrototypeNode) bool {
	for _, p := range d.Params {
		if p.Name == "self" && p.Type == nil {
			return true
		}
	}
	return false
}

func (ctx *Context) codegenFuncDef(node *ast.Node) {
	fd := node.Data.(ast.FuncDefNode)
	name := ctx.declareFunc(node)
	d := fd.Proto.Data.(ast.PrototypeNode)
	ft := fd.Proto.Typ
	if ft == nil || ft.Kind != ast.KindFunction {
		internalf(fd.Proto, "function '%s' was not type checked", d.Name)
	}
	scope := ctx.scopes.Current()

	defer ctx.restoreFunc(ctx.saveFunc())
	ctx.tempCount, ctx.labelCount, ctx.allocCount = 0, 0, 0
	ctx.sret, ctx.blockValue = nil, nil

	fn := &ir.Func{
		Name:     name,
		Method:   scope.Kind != symtab.ScopeGlobal,
		Exported: scope.Kind == symtab.ScopeGlobal && len(ctx.enclosing) == 0,
		Node:     node,
	}
	isMain := fn.Exported && name == "main"
	switch ret := ft.Return; {
	case ret.IsObject():
		fn.RetStruct = ctx.layoutOf(ret.Name).Name
	case ret.Kind == ast.KindVoid && isMain:
		fn.ReturnType = ir.TypeW
	default:
		fn.ReturnType = ir.RegType(ret)
	}
	ctx.prog.Funcs = append(ctx.prog.Funcs, fn)
	ctx.currentFunc = fn
	ctx.startBlock(&ir.Label{Name: "start"})

	ctx.enclosing = append(ctx.enclosing, name)
	defer func() { ctx.enclosing = ctx.enclosing[:len(ctx.enclosing)-1] }()
	ctx.st.Enter()
	defer ctx.st.Leave()

	if fn.Method {
		self := ctx.newNamedTemp("self")
		fn.Params = append(fn.Params, &ir.Param{Name: "self", Typ: ir.TypePtr, Val: self})
		if s := scope.SelfStruct(); s != "" && (selfDeclared(d) || ctx.feature(config.FeatImplicitSelf)) {
			ctx.st.Variables.Set("self", location{addr: self, typ: ast.Object(s)})
		}
	}
	if fn.RetStruct != "" {
		ret := ctx.newNamedTemp("ret")
		fn.Params = append(fn.Params, &ir.Param{Name: "ret", Typ: ir.TypePtr, Val: ret})
		ctx.sret = ret
	}

	i := 0
	for _, p := range d.Params {
		if p.Type == nil {
			continue
		}
		pt := ft.Params[i]
		i++
		val := ctx.newNamedTemp(p.Name)
		fn.Params = append(fn.Params, &ir.Param{Name: p.Name, Typ: ir.RegType(pt), Val: val})
		var slot ir.Value
		if pt.IsObject() {
			slot = ctx.allocStruct(pt.Name)
			ctx.copyObject(slot, val, pt.Name)
		} else {
			slot = ctx.allocScalar(pt)
			ctx.genStore(pt, val, slot)
		}
		ctx.st.Variables.Set(p.Name, location{addr: slot, typ: pt})
	}

	if !ctx.codegenStmt(fd.Body) {
		if fn.ReturnType == ir.TypeNone {
			ctx.ret(nil)
		} else if isMain {
			ctx.ret(&ir.Const{Value: 0})
		} else {
			ctx.ret(zeroValue(ft.Return))
		}
	}
}

// declareExterns records every called intrinsic and every prototype that was
// never given a body.
func (ctx *Context) declareExterns() {
	for _, p := range ctx.protos {
		name := ctx.funcNames[p.node]
		if ctx.prog.FindFunc(name) != nil || ctx.prog.FindExtern(name) != nil {
			continue
		}
		ft := p.node.Typ
		ext := &ir.Extern{Name: name}
		if p.method {
			ext.Params = append(ext.Params, ir.TypePtr)
		}
		for _, pt := range ft.Params {
			ext.Params = append(ext.Params, ir.RegType(pt))
		}
		if !ft.Return.IsObject() {
			ext.ReturnType = ir.RegType(ft.Return)
		}
		ctx.prog.Externs = append(ctx.prog.Externs, ext)
	}
}

func (ctx *Context) useIntrinsic(name string) {
	if ctx.prog.FindExtern(name) != nil {
		return
	}
	t, ok := runtime.Lookup(name)
	if !ok {
		internalf(nil, "unknown function '%s'", name)
	}
	ext := &ir.Extern{Name: name, ReturnType: ir.RegType(t.Return)}
	for _, pt := range t.Params {
		ext.Params = append(ext.Params, ir.RegType(pt))
	}
	ctx.prog.Externs = append(ctx.prog.Externs, ext)
}

// Statements

// codegenStmt lowers one statement and reports whether it ended the current
// block with a terminator.
func (ctx *Context) codegenStmt(node *ast.Node) bool {
	ctx.blockValue = nil
	switch d := node.Data.(type) {
	case ast.BlockNode:
		ctx.st.Enter()
		defer ctx.st.Leave()
		for _, s := range d.Stmts {
			if ctx.codegenStmt(s) {
				return true
			}
		}
		return false
	case ast.IfNode:
		return ctx.codegenIf(d)
	case ast.WhileNode:
		ctx.codegenLoop(nil, d.Cond, nil, d.Body)
	case ast.ForNode:
		ctx.st.Enter()
		ctx.codegenLoop(d.Init, d.Cond, d.Step, d.Body)
		ctx.st.Leave()
	case ast.ReturnNode:
		return ctx.codegenReturn(d)
	case ast.VarDeclNode:
		ctx.codegenVarDecl(node, d)
	case ast.ExprStmtNode:
		v := ctx.codegenExpr(d.Expr)
		if t, ok := valueType(d.Expr.Typ); ok && v != nil {
			ctx.blockValue = &branchValue{val: v, typ: t}
		}
	case ast.DeclStmtNode:
		ctx.scopes.Push(symtab.Scope{Kind: symtab.ScopeGlobal})
		ctx.codegenDecl(d.Decl)
		ctx.scopes.Pop()
	default:
		internalf(node, "unexpected statement node %d", node.Type)
	}
	return false
}

// valueType is the IR type of a value that a branch can hand to a join.
func valueType(t *ast.Datatype) (ir.Type, bool) {
	if t == nil {
		return ir.TypeNone, false
	}
	switch t.Kind {
	case ast.KindUnresolved, ast.KindFunction, ast.KindVoid:
		return ir.TypeNone, false
	}
	return ir.RegType(t), true
}

func (ctx *Context) codegenIf(d ast.IfNode) bool {
	labels := ctx.newLabels("then", "else", "continue")
	thenL, elseL, endL := labels[0], labels[1], labels[2]
	falseL := endL
	if d.Else != nil {
		falseL = elseL
	}
	ctx.codegenCond(d.Cond, thenL, falseL)

	ctx.startBlock(thenL)
	thenTerm := ctx.codegenStmt(d.Then)
	thenVal, thenEnd := ctx.blockValue, ctx.currentBlock
	if !thenTerm {
		ctx.jmp(endL)
	}

	elseTerm := false
	var elseVal *branchValue
	var elseEnd *ir.BasicBlock
	if d.Else != nil {
		ctx.startBlock(elseL)
		elseTerm = ctx.codegenStmt(d.Else)
		elseVal, elseEnd = ctx.blockValue, ctx.currentBlock
		if !elseTerm {
			ctx.jmp(endL)
		}
	}

	ctx.blockValue = nil
	if thenTerm && elseTerm {
		return true
	}
	ctx.startBlock(endL)
	if d.Else == nil || thenTerm || elseTerm || thenVal == nil || elseVal == nil || thenVal.typ != elseVal.typ {
		return false
	}
	res := ctx.newTemp()
	ctx.addInstr(&ir.Instruction{
		Op: ir.OpPhi, Typ: thenVal.typ, Result: res,
		Args: []ir.Value{thenEnd.Label, thenVal.val, elseEnd.Label, elseVal.val},
	})
	ctx.blockValue = &branchValue{val: res, typ: thenVal.typ}
	return false
}

// codegenLoop lowers `for` and `while`. A missing condition leaves the cond
// block as a plain jump into the loop.
func (ctx *Context) codegenLoop(init, cond, step, body *ast.Node) {
	if init != nil {
		if init.Type == ast.VarDecl {
			ctx.codegenVarDecl(init, init.Data.(ast.VarDeclNode))
		} else {
			ctx.codegenExpr(init)
		}
	}
	labels := ctx.newLabels("cond", "loop", "continue")
	condL, loopL, endL := labels[0], labels[1], labels[2]

	ctx.jmp(condL)
	ctx.startBlock(condL)
	if cond == nil {
		ctx.jmp(loopL)
	} else {
		ctx.codegenCond(cond, loopL, endL)
	}

	ctx.startBlock(loopL)
	if !ctx.codegenStmt(body) {
		if step != nil {
			ctx.codegenExpr(step)
		}
		ctx.jmp(condL)
	}
	ctx.startBlock(endL)
	ctx.blockValue = nil
}

func (ctx *Context) codegenReturn(d ast.ReturnNode) bool {
	switch {
	case d.Expr != nil && ctx.sret != nil:
		ctx.codegenObjectInto(ctx.sret, d.Expr)
		ctx.ret(nil)
	case d.Expr != nil:
		ctx.ret(ctx.codegenExpr(d.Expr))
	case ctx.currentFunc.ReturnType != ir.TypeNone:
		ctx.ret(&ir.Const{Value: 0})
	default:
		ctx.ret(nil)
	}
	return true
}

func (ctx *Context) codegenVarDecl(node *ast.Node, d ast.VarDeclNode) {
	t := node.Typ
	if t == nil || t.IsUnresolved() {
		internalf(node, "variable '%s' has no type", d.Name)
	}
	var slot ir.Value
	if t.IsObject() {
		slot = ctx.allocStruct(t.Name)
		if d.Init != nil {
			ctx.codegenObjectInto(slot, d.Init)
		} else {
			ctx.zeroObject(slot, t.Name)
		}
	} else {
		slot = ctx.allocScalar(t)
		val := zeroValue(t)
		if d.Init != nil {
			val = ctx.convert(ctx.codegenExpr(d.Init), d.Init.Typ, t)
		}
		ctx.genStore(t, val, slot)
	}
	ctx.st.Variables.Set(d.Name, location{addr: slot, typ: t})
}
