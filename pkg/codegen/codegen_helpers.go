package codegen

import (
	"strconv"

	"github.com/xplshn/traitc/pkg/ast"
	"github.com/xplshn/traitc/pkg/ir"
	"github.com/xplshn/traitc/pkg/runtime"
	"github.com/xplshn/traitc/pkg/token"
)

// codegenExpr lowers an expression to a value. Expressions of object type
// yield the address of the struct.
func (ctx *Context) codegenExpr(node *ast.Node) ir.Value {
	switch d := node.Data.(type) {
	case ast.GroupingNode:
		return ctx.codegenExpr(d.Expr)
	case ast.LiteralNode:
		return ctx.codegenLiteral(node, d)
	case ast.VariableNode:
		return ctx.codegenVariable(node, d)
	case ast.AttributeRefNode:
		base := ctx.codegenExpr(d.Object)
		addr, ft := ctx.fieldAddr(base, d.ObjectType.Name, d.Field)
		if ft.IsObject() {
			return addr
		}
		return ctx.genLoad(ft, addr)
	case ast.CallNode:
		return ctx.codegenFuncCall(node, nil)
	case ast.BinaryNode:
		if d.Op == token.KwAnd || d.Op == token.KwOr {
			return ctx.codegenLogical(node)
		}
		l := ctx.codegenExpr(d.Lhs)
		r := ctx.codegenExpr(d.Rhs)
		return ctx.codegenBinaryOp(d.Op, d.Lhs.Typ, l, r)
	case ast.UnaryNode:
		return ctx.codegenUnary(node, d)
	case ast.StructLiteralNode:
		slot := ctx.allocStruct(d.Name)
		ctx.codegenObjectInto(slot, node)
		return slot
	case ast.AssignmentNode:
		return ctx.codegenAssign(d)
	case ast.CastNode:
		return ctx.convert(ctx.codegenExpr(d.Expr), d.From, d.To)
	case ast.ExprListNode:
		var last ir.Value
		for _, e := range d.Exprs {
			last = ctx.codegenExpr(e)
		}
		return last
	}
	internalf(node, "unexpected expression node %d", node.Type)
	return nil
}

// normalizeConst wraps v to the range of t.
func normalizeConst(v int64, t *ast.Datatype) int64 {
	switch t.Kind {
	case ast.KindInt8:
		return int64(int8(v))
	case ast.KindUint8, ast.KindBool:
		return int64(uint8(v))
	case ast.KindInt16:
		return int64(int16(v))
	case ast.KindUint16:
		return int64(uint16(v))
	case ast.KindInt32:
		return int64(int32(v))
	case ast.KindUint32:
		return int64(uint32(v))
	}
	return v
}

func (ctx *Context) codegenLiteral(node *ast.Node, d ast.LiteralNode) ir.Value {
	switch d.Kind {
	case token.IntLit, token.HexLit, token.OctLit:
		v, err := strconv.ParseUint(d.Value, 10, 64)
		if err != nil {
			internalf(node, "bad integer literal '%s'", d.Value)
		}
		return &ir.Const{Value: normalizeConst(int64(v), node.Typ)}
	case token.FloatLit:
		f, err := strconv.ParseFloat(d.Value, 64)
		if err != nil {
			internalf(node, "bad float literal '%s'", d.Value)
		}
		return &ir.FloatConst{Value: f, Typ: ir.RegType(node.Typ)}
	case token.StringLit:
		return ctx.prog.AddString(d.Value)
	case token.True:
		return &ir.Const{Value: 1}
	case token.False:
		return &ir.Const{Value: 0}
	}
	internalf(node, "unexpected literal '%s'", d.Value)
	return nil
}

func (ctx *Context) codegenVariable(node *ast.Node, d ast.VariableNode) ir.Value {
	if loc, ok := ctx.st.Variables.Lookup(d.Name); ok {
		if loc.typ.IsObject() {
			return loc.addr
		}
		return ctx.genLoad(loc.typ, loc.addr)
	}
	return &ir.Global{Name: ctx.funcName(node, d.Name)}
}

// funcName resolves a directly called name to its IR symbol.
func (ctx *Context) funcName(node *ast.Node, name string) string {
	if decl, ok := ctx.st.Functions.Lookup(name); ok {
		return ctx.funcNames[decl]
	}
	if _, ok := runtime.Lookup(name); ok {
		ctx.useIntrinsic(name)
		return name
	}
	internalf(node, "undefined function '%s'", name)
	return ""
}

// methodName resolves `obj.method` on a value of struct structName. Impl
// methods win over trait defaults.
func (ctx *Context) methodName(node *ast.Node, structName, method string) string {
	if m, _ := ctx.st.FindMethod(structName, method); m != nil {
		return ctx.funcNames[m]
	}
	impls, _ := ctx.st.Impls.Lookup(structName)
	for _, impl := range impls {
		trait := impl.Data.(ast.ImplDeclNode).Trait
		if trait == "" {
			continue
		}
		if m := ctx.st.FindTraitMethod(trait, method); m != nil && m.Type == ast.FuncDef {
			return ctx.funcNames[m]
		}
	}
	internalf(node, "struct '%s' has no method '%s'", structName, method)
	return ""
}

// codegenLvalue returns the address an assignment writes through.
func (ctx *Context) codegenLvalue(node *ast.Node) ir.Value {
	node = ast.Unparen(node)
	switch d := node.Data.(type) {
	case ast.VariableNode:
		loc, ok := ctx.st.Variables.Lookup(d.Name)
		if !ok {
			internalf(node, "assignment to undefined variable '%s'", d.Name)
		}
		return loc.addr
	case ast.AttributeRefNode:
		addr, _ := ctx.fieldAddr(ctx.codegenExpr(d.Object), d.ObjectType.Name, d.Field)
		return addr
	}
	internalf(node, "expression is not assignable")
	return nil
}

func (ctx *Context) codegenAssign(d ast.AssignmentNode) ir.Value {
	t := d.Target.Typ
	addr := ctx.codegenLvalue(d.Target)
	if t.IsObject() {
		ctx.codegenObjectInto(addr, d.Value)
		return addr
	}
	var v ir.Value
	if d.Op == token.Eq {
		v = ctx.codegenExpr(d.Value)
	} else {
		cur := ctx.genLoad(t, addr)
		v = ctx.codegenBinaryOp(d.Op.BinaryOf(), t, cur, ctx.codegenExpr(d.Value))
	}
	ctx.genStore(t, v, addr)
	return v
}

// codegenObjectInto writes a struct-valued expression into dst. Literals
// become one store per field; calls write through the result pointer; any
// other value is copied field by field.
func (ctx *Context) codegenObjectInto(dst ir.Value, node *ast.Node) {
	node = ast.Unparen(node)
	switch d := node.Data.(type) {
	case ast.StructLiteralNode:
		// Every field is evaluated in source order before dst is written, so
		// a literal may read the fields it replaces.
		staged := make(map[string]ir.Value, len(d.Fields))
		for _, f := range d.Fields {
			if t := f.Value.Typ; t.IsObject() {
				slot := ctx.allocStruct(t.Name)
				ctx.codegenObjectInto(slot, f.Value)
				staged[f.Name] = slot
				continue
			}
			staged[f.Name] = ctx.codegenExpr(f.Value)
		}
		_, sd := ctx.structDecl(d.Name)
		for _, f := range sd.Fields {
			val, ok := staged[f.Name]
			if !ok {
				internalf(node, "struct literal '%s' has no value for field '%s'", d.Name, f.Name)
			}
			addr, ft := ctx.fieldAddr(dst, d.Name, f.Name)
			if ft.IsObject() {
				ctx.copyObject(addr, val, ft.Name)
				continue
			}
			ctx.genStore(ft, val, addr)
		}
	case ast.CallNode:
		ctx.codegenFuncCall(node, dst)
	default:
		ctx.copyObject(dst, ctx.codegenExpr(node), node.Typ.Name)
	}
}

// codegenFuncCall lowers a call. Method calls pass the object address first;
// a struct result is written to dst, or to a fresh slot when dst is nil.
func (ctx *Context) codegenFuncCall(node *ast.Node, dst ir.Value) ir.Value {
	d := node.Data.(ast.CallNode)
	ft := d.Callee.Typ
	if ft == nil || ft.Kind != ast.KindFunction {
		internalf(node, "call of a value that is not a function")
	}

	var name string
	var args []ir.Value
	var types []ir.Type
	switch c := ast.Unparen(d.Callee).Data.(type) {
	case ast.AttributeRefNode:
		name = ctx.methodName(node, c.ObjectType.Name, c.Field)
		args = append(args, ctx.codegenExpr(c.Object))
		types = append(types, ir.TypePtr)
	case ast.VariableNode:
		name = ctx.funcName(node, c.Name)
	default:
		internalf(node, "unsupported callee")
	}

	ret := ft.Return
	if ret.IsObject() {
		if dst == nil {
			dst = ctx.allocStruct(ret.Name)
		}
		args = append(args, dst)
		types = append(types, ir.TypePtr)
	}
	for i, a := range d.Args {
		args = append(args, ctx.codegenExpr(a))
		types = append(types, ir.RegType(ft.Params[i]))
	}

	instr := &ir.Instruction{Op: ir.OpCall, Args: append([]ir.Value{&ir.Global{Name: name}}, args...), ArgTypes: types}
	switch {
	case ret.IsObject():
		ctx.addInstr(instr)
		return dst
	case ret.Kind == ast.KindVoid:
		ctx.addInstr(instr)
		return nil
	}
	res := ctx.newTemp()
	instr.Result, instr.Typ = res, ir.RegType(ret)
	ctx.addInstr(instr)
	return res
}

// Operators

func getBinaryOpAndType(op token.Type, t *ast.Datatype) (ir.Op, bool) {
	if t.IsFloat() {
		switch op {
		case token.Plus:
			return ir.OpAddF, false
		case token.Minus:
			return ir.OpSubF, false
		case token.Star:
			return ir.OpMulF, false
		case token.Slash:
			return ir.OpDivF, false
		case token.Rem:
			return ir.OpRemF, false
		case token.EqEq:
			return ir.OpCEqF, true
		case token.Neq:
			return ir.OpCNeF, true
		case token.Lt:
			return ir.OpCLtF, true
		case token.Lte:
			return ir.OpCLeF, true
		case token.Gt:
			return ir.OpCGtF, true
		case token.Gte:
			return ir.OpCGeF, true
		}
		return -1, false
	}

	signed := t.IsSigned()
	pick := func(s, u ir.Op) ir.Op {
		if signed {
			return s
		}
		return u
	}
	switch op {
	case token.Plus:
		return ir.OpAdd, false
	case token.Minus:
		return ir.OpSub, false
	case token.Star:
		return ir.OpMul, false
	case token.Slash:
		return pick(ir.OpDiv, ir.OpUDiv), false
	case token.Rem:
		return pick(ir.OpRem, ir.OpURem), false
	case token.And:
		return ir.OpAnd, false
	case token.Or:
		return ir.OpOr, false
	case token.Xor:
		return ir.OpXor, false
	case token.Shl:
		return ir.OpShl, false
	case token.Shr:
		return pick(ir.OpSar, ir.OpShr), false
	case token.EqEq:
		return ir.OpCEq, true
	case token.Neq:
		return ir.OpCNe, true
	case token.Lt:
		return pick(ir.OpCLt, ir.OpCULt), true
	case token.Lte:
		return pick(ir.OpCLe, ir.OpCULe), true
	case token.Gt:
		return pick(ir.OpCGt, ir.OpCUGt), true
	case token.Gte:
		return pick(ir.OpCGe, ir.OpCUGe), true
	}
	return -1, false
}

// codegenBinaryOp applies op to operands of static type t.
func (ctx *Context) codegenBinaryOp(op token.Type, t *ast.Datatype, l, r ir.Value) ir.Value {
	irOp, isCmp := getBinaryOpAndType(op, t)
	if irOp < 0 {
		internalf(nil, "no lowering for operator '%s' on %s", op, t)
	}
	rt := ir.RegType(t)
	res := ctx.newTemp()
	instr := &ir.Instruction{Op: irOp, Typ: rt, Result: res, Args: []ir.Value{l, r}}
	if isCmp {
		instr.Typ, instr.OperandType = ir.TypeW, rt
	}
	ctx.addInstr(instr)
	if isCmp {
		return res
	}
	return ctx.normalize(res, t)
}

func (ctx *Context) convOp(op ir.Op, to, from ir.Type, v ir.Value) ir.Value {
	res := ctx.newTemp()
	ctx.addInstr(&ir.Instruction{Op: op, Typ: to, OperandType: from, Result: res, Args: []ir.Value{v}})
	return res
}

// normalize re-extends a sub-word integer held in a word after an operation
// that may have carried bits past its width.
func (ctx *Context) normalize(v ir.Value, t *ast.Datatype) ir.Value {
	switch t.Kind {
	case ast.KindInt8:
		return ctx.convOp(ir.OpExtSB, ir.TypeW, ir.TypeW, v)
	case ast.KindUint8:
		return ctx.convOp(ir.OpExtUB, ir.TypeW, ir.TypeW, v)
	case ast.KindInt16:
		return ctx.convOp(ir.OpExtSH, ir.TypeW, ir.TypeW, v)
	case ast.KindUint16:
		return ctx.convOp(ir.OpExtUH, ir.TypeW, ir.TypeW, v)
	}
	return v
}

func intLiteral(node *ast.Node) (int64, bool) {
	d, ok := ast.Unparen(node).Data.(ast.LiteralNode)
	if !ok || (d.Kind != token.IntLit && d.Kind != token.HexLit && d.Kind != token.OctLit) {
		return 0, false
	}
	v, err := strconv.ParseUint(d.Value, 10, 64)
	return int64(v), err == nil
}

func (ctx *Context) codegenUnary(node *ast.Node, d ast.UnaryNode) ir.Value {
	t := node.Typ
	switch d.Op {
	case token.Plus:
		return ctx.codegenExpr(d.Operand)
	case token.Minus:
		if v, ok := intLiteral(d.Operand); ok {
			return &ir.Const{Value: normalizeConst(-v, t)}
		}
		v := ctx.codegenExpr(d.Operand)
		if t.IsFloat() {
			res := ctx.newTemp()
			ctx.addInstr(&ir.Instruction{Op: ir.OpNegF, Typ: ir.RegType(t), Result: res, Args: []ir.Value{v}})
			return res
		}
		return ctx.codegenBinaryOp(token.Minus, t, &ir.Const{Value: 0}, v)
	case token.Not:
		return ctx.codegenBinaryOp(token.Xor, t, ctx.codegenExpr(d.Operand), &ir.Const{Value: 1})
	case token.Complement:
		mask := int64(-1)
		if t.IsBool() {
			mask = 1
		}
		return ctx.codegenBinaryOp(token.Xor, t, ctx.codegenExpr(d.Operand), &ir.Const{Value: mask})
	}
	internalf(node, "no lowering for unary '%s'", d.Op)
	return nil
}

// codegenCond branches on a boolean expression, short-circuiting `and`,
// `or` and `!` without materializing their values.
func (ctx *Context) codegenCond(node *ast.Node, trueL, falseL *ir.Label) {
	node = ast.Unparen(node)
	switch d := node.Data.(type) {
	case ast.BinaryNode:
		if d.Op == token.KwAnd || d.Op == token.KwOr {
			rhsL := ctx.newLabels("rhs")[0]
			if d.Op == token.KwAnd {
				ctx.codegenCond(d.Lhs, rhsL, falseL)
			} else {
				ctx.codegenCond(d.Lhs, trueL, rhsL)
			}
			ctx.startBlock(rhsL)
			ctx.codegenCond(d.Rhs, trueL, falseL)
			return
		}
	case ast.UnaryNode:
		if d.Op == token.Not {
			ctx.codegenCond(d.Operand, falseL, trueL)
			return
		}
	}
	ctx.jnz(ctx.codegenExpr(node), trueL, falseL)
}

// codegenLogical materializes `and`/`or` as a 0/1 word through a phi.
func (ctx *Context) codegenLogical(node *ast.Node) ir.Value {
	labels := ctx.newLabels("true", "false", "join")
	trueL, falseL, endL := labels[0], labels[1], labels[2]
	ctx.codegenCond(node, trueL, falseL)
	ctx.startBlock(trueL)
	ctx.jmp(endL)
	ctx.startBlock(falseL)
	ctx.jmp(endL)
	ctx.startBlock(endL)
	res := ctx.newTemp()
	ctx.addInstr(&ir.Instruction{
		Op: ir.OpPhi, Typ: ir.TypeW, Result: res,
		Args: []ir.Value{trueL, &ir.Const{Value: 1}, falseL, &ir.Const{Value: 0}},
	})
	return res
}

// Casts

// convert lowers an explicit cast, or the implicit conversion of a
// permissive `var` initializer.
func (ctx *Context) convert(v ir.Value, from, to *ast.Datatype) ir.Value {
	if from.Equal(to) {
		return v
	}
	if to.IsBool() {
		if from.IsFloat() {
			res := ctx.newTemp()
			ctx.addInstr(&ir.Instruction{Op: ir.OpCNeF, Typ: ir.TypeW, OperandType: ir.RegType(from), Result: res,
				Args: []ir.Value{v, &ir.FloatConst{Value: 0, Typ: ir.RegType(from)}}})
			return res
		}
		res := ctx.newTemp()
		ctx.addInstr(&ir.Instruction{Op: ir.OpCNe, Typ: ir.TypeW, OperandType: ir.RegType(from), Result: res,
			Args: []ir.Value{v, &ir.Const{Value: 0}}})
		return res
	}
	if from.IsBool() {
		from = ast.TypeUint8
	}
	switch {
	case from.IsInteger() && to.IsInteger():
		return ctx.convertInt(v, from, to)
	case from.IsInteger() && to.IsFloat():
		op := ir.OpUIToF
		if from.IsSigned() {
			op = ir.OpSIToF
		}
		return ctx.convOp(op, ir.RegType(to), ir.RegType(from), v)
	case from.IsFloat() && to.IsInteger():
		op := ir.OpFToUI
		if to.IsSigned() {
			op = ir.OpFToSI
		}
		return ctx.normalize(ctx.convOp(op, ir.RegType(to), ir.RegType(from), v), to)
	case from.IsFloat() && to.IsFloat():
		if from.Width() > to.Width() {
			return ctx.convOp(ir.OpTruncF, ir.TypeS, ir.TypeD, v)
		}
		return ctx.convOp(ir.OpExtF, ir.TypeD, ir.TypeS, v)
	}
	internalf(nil, "no conversion from %s to %s", from, to)
	return nil
}

// convertInt truncates to a narrower destination and otherwise extends by
// the signedness of the source.
func (ctx *Context) convertInt(v ir.Value, from, to *ast.Datatype) ir.Value {
	fw, tw := from.Width(), to.Width()
	if tw == 64 {
		if fw == 64 {
			return v
		}
		op := ir.OpExtUW
		if from.IsSigned() {
			op = ir.OpExtSW
		}
		return ctx.convOp(op, ir.TypeL, ir.TypeW, v)
	}
	if fw == 64 {
		v = ctx.convOp(ir.OpTrunc, ir.TypeW, ir.TypeL, v)
	}
	if fw < tw && from.IsUnsigned() == to.IsUnsigned() {
		return v
	}
	return ctx.normalize(v, to)
}
