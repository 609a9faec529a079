package codegen

import (
	"bytes"
	"fmt"
	"sort"

	llvm "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/xplshn/traitc/pkg/config"
	"github.com/xplshn/traitc/pkg/ir"
	"tlog.app/go/errors"
)

// llvmBackend renders the IR as textual LLVM IR. Every pointer is an i8*;
// typed accesses bitcast just before the load or store.
type llvmBackend struct {
	prog    *ir.Program
	module  *llvm.Module
	structs map[string]types.Type
	funcs   map[string]*llvm.Func
	strs    map[string]constant.Constant

	// per function
	currentFn *ir.Func
	blocks    map[string]*llvm.Block
	vals      map[int]value.Value
}

func NewLLVMBackend() Backend { return &llvmBackend{} }

type llvmError struct{ msg string }

func (b *llvmBackend) failf(format string, args ...interface{}) {
	panic(llvmError{fmt.Sprintf(format, args...)})
}

func (b *llvmBackend) Generate(prog *ir.Program, cfg *config.Config) (buf *bytes.Buffer, err error) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(llvmError)
			if !ok {
				panic(r)
			}
			fn := "<module>"
			if b.currentFn != nil {
				fn = b.currentFn.Name
			}
			buf, err = nil, errors.New("llvm: %s: %s", fn, e.msg)
		}
	}()

	b.prog = prog
	b.module = llvm.NewModule()
	b.structs = make(map[string]types.Type)
	b.funcs = make(map[string]*llvm.Func)
	b.strs = make(map[string]constant.Constant)
	b.currentFn = nil

	for _, l := range prog.Structs {
		fields := make([]types.Type, len(l.Fields))
		for i, f := range l.Fields {
			if f.Struct != "" {
				fields[i] = b.structs[f.Struct]
			} else {
				fields[i] = b.memType(f.Type)
			}
		}
		b.structs[l.Name] = b.module.NewTypeDef(l.Name, types.NewStruct(fields...))
	}

	labels := make([]string, 0, len(prog.Strings))
	byLabel := make(map[string]string, len(prog.Strings))
	for s, label := range prog.Strings {
		labels = append(labels, label)
		byLabel[label] = s
	}
	sort.Strings(labels)
	for _, label := range labels {
		g := b.module.NewGlobalDef(label, constant.NewCharArrayFromString(byLabel[label]+"\x00"))
		g.Immutable = true
		g.Linkage = enum.LinkagePrivate
		b.strs[label] = constant.NewBitCast(g, types.I8Ptr)
	}

	for _, e := range prog.Externs {
		params := make([]*llvm.Param, len(e.Params))
		for i, p := range e.Params {
			params[i] = llvm.NewParam("", b.regType(p))
		}
		b.funcs[e.Name] = b.module.NewFunc(e.Name, b.retType(e.ReturnType), params...)
	}
	for _, fn := range prog.Funcs {
		params := make([]*llvm.Param, len(fn.Params))
		for i, p := range fn.Params {
			params[i] = llvm.NewParam(p.Name, b.regType(p.Typ))
		}
		f := b.module.NewFunc(fn.Name, b.retType(fn.ReturnType), params...)
		if !fn.Exported {
			f.Linkage = enum.LinkageInternal
		}
		b.funcs[fn.Name] = f
	}
	for _, fn := range prog.Funcs {
		b.genFunc(fn)
	}

	var out bytes.Buffer
	if _, err := b.module.WriteTo(&out); err != nil {
		return nil, errors.Wrap(err, "write llvm module")
	}
	return &out, nil
}

func (b *llvmBackend) regType(t ir.Type) types.Type {
	switch t {
	case ir.TypeW:
		return types.I32
	case ir.TypeL:
		return types.I64
	case ir.TypeS:
		return types.Float
	case ir.TypeD:
		return types.Double
	case ir.TypePtr:
		return types.I8Ptr
	}
	b.failf("no register type for %s", t)
	return nil
}

func (b *llvmBackend) retType(t ir.Type) types.Type {
	if t == ir.TypeNone {
		return types.Void
	}
	return b.regType(t)
}

func (b *llvmBackend) memType(t ir.Type) types.Type {
	switch t {
	case ir.TypeB, ir.TypeSB, ir.TypeUB:
		return types.I8
	case ir.TypeH, ir.TypeSH, ir.TypeUH:
		return types.I16
	}
	return b.regType(t)
}

func (b *llvmBackend) genFunc(fn *ir.Func) {
	b.currentFn = fn
	f := b.funcs[fn.Name]
	b.blocks = make(map[string]*llvm.Block, len(fn.Blocks))
	b.vals = make(map[int]value.Value)
	for i, p := range fn.Params {
		b.vals[p.Val.(*ir.Temporary).ID] = f.Params[i]
	}
	for _, blk := range fn.Blocks {
		b.blocks[blk.Label.Name] = f.NewBlock(blk.Label.Name)
	}
	for _, blk := range fn.Blocks {
		cur := b.blocks[blk.Label.Name]
		for _, instr := range blk.Instructions {
			b.genInstr(cur, instr)
		}
	}
}

// value materializes an operand with the register type t.
func (b *llvmBackend) value(v ir.Value, t ir.Type) value.Value {
	switch v := v.(type) {
	case *ir.Const:
		switch t {
		case ir.TypePtr:
			if v.Value != 0 {
				b.failf("non-zero pointer constant %d", v.Value)
			}
			return constant.NewNull(types.I8Ptr)
		case ir.TypeS:
			return constant.NewFloat(types.Float, float64(v.Value))
		case ir.TypeD:
			return constant.NewFloat(types.Double, float64(v.Value))
		case ir.TypeL:
			return constant.NewInt(types.I64, v.Value)
		}
		return constant.NewInt(types.I32, int64(int32(v.Value)))
	case *ir.FloatConst:
		if v.Typ == ir.TypeS {
			return constant.NewFloat(types.Float, float64(float32(v.Value)))
		}
		return constant.NewFloat(types.Double, v.Value)
	case *ir.Global:
		if s, ok := b.strs[v.Name]; ok {
			return s
		}
		if f, ok := b.funcs[v.Name]; ok {
			return f
		}
		b.failf("unknown global $%s", v.Name)
	case *ir.Temporary:
		if x, ok := b.vals[v.ID]; ok {
			return x
		}
		b.failf("use of undefined temporary %s", v)
	}
	b.failf("unexpected operand %v", v)
	return nil
}

func (b *llvmBackend) block(v ir.Value) *llvm.Block {
	l, ok := v.(*ir.Label)
	if !ok {
		b.failf("expected a label, got %v", v)
	}
	blk, ok := b.blocks[l.Name]
	if !ok {
		b.failf("jump to unknown block @%s", l.Name)
	}
	return blk
}

func (b *llvmBackend) define(instr *ir.Instruction, v value.Value) {
	if instr.Result != nil {
		b.vals[instr.Result.(*ir.Temporary).ID] = v
	}
}

var llvmIntPreds = map[ir.Op]enum.IPred{
	ir.OpCEq: enum.IPredEQ, ir.OpCNe: enum.IPredNE,
	ir.OpCLt: enum.IPredSLT, ir.OpCLe: enum.IPredSLE, ir.OpCGt: enum.IPredSGT, ir.OpCGe: enum.IPredSGE,
	ir.OpCULt: enum.IPredULT, ir.OpCULe: enum.IPredULE, ir.OpCUGt: enum.IPredUGT, ir.OpCUGe: enum.IPredUGE,
}

var llvmFloatPreds = map[ir.Op]enum.FPred{
	ir.OpCEqF: enum.FPredOEQ, ir.OpCNeF: enum.FPredUNE,
	ir.OpCLtF: enum.FPredOLT, ir.OpCLeF: enum.FPredOLE, ir.OpCGtF: enum.FPredOGT, ir.OpCGeF: enum.FPredOGE,
}

func (b *llvmBackend) genInstr(cur *llvm.Block, instr *ir.Instruction) {
	arg := func(i int, t ir.Type) value.Value { return b.value(instr.Args[i], t) }

	switch op := instr.Op; {
	case op == ir.OpAlloc:
		var elem types.Type
		if instr.Struct != "" {
			elem = b.structs[instr.Struct]
		} else {
			elem = b.memType(instr.OperandType)
		}
		slot := cur.NewAlloca(elem)
		slot.Align = llvm.Align(instr.Align)
		b.define(instr, cur.NewBitCast(slot, types.I8Ptr))

	case op == ir.OpLoad:
		mt := b.memType(instr.OperandType)
		ptr := cur.NewBitCast(arg(0, ir.TypePtr), types.NewPointer(mt))
		var v value.Value = cur.NewLoad(mt, ptr)
		switch instr.OperandType {
		case ir.TypeSB, ir.TypeSH:
			v = cur.NewSExt(v, types.I32)
		case ir.TypeB, ir.TypeUB, ir.TypeH, ir.TypeUH:
			v = cur.NewZExt(v, types.I32)
		}
		b.define(instr, v)

	case op == ir.OpStore:
		mt := b.memType(instr.Typ)
		var v value.Value
		switch instr.Typ {
		case ir.TypeB, ir.TypeH:
			v = cur.NewTrunc(arg(0, ir.TypeW), mt)
		default:
			v = arg(0, instr.Typ)
		}
		cur.NewStore(v, cur.NewBitCast(arg(1, ir.TypePtr), types.NewPointer(mt)))

	case op == ir.OpFieldPtr:
		l := b.prog.Layout(instr.Struct)
		if l == nil {
			b.failf("fieldptr into unknown struct '%s'", instr.Struct)
		}
		off := b.prog.FieldOffset(l, int(instr.Args[1].(*ir.Const).Value))
		b.define(instr, cur.NewGetElementPtr(types.I8, arg(0, ir.TypePtr), constant.NewInt(types.I64, off)))

	case op >= ir.OpAdd && op <= ir.OpSar:
		b.define(instr, b.intBinary(cur, instr))

	case op >= ir.OpAddF && op <= ir.OpRemF:
		x, y := arg(0, instr.Typ), arg(1, instr.Typ)
		var v value.Value
		switch op {
		case ir.OpAddF:
			v = cur.NewFAdd(x, y)
		case ir.OpSubF:
			v = cur.NewFSub(x, y)
		case ir.OpMulF:
			v = cur.NewFMul(x, y)
		case ir.OpDivF:
			v = cur.NewFDiv(x, y)
		default:
			v = cur.NewFRem(x, y)
		}
		b.define(instr, v)

	case op == ir.OpNegF:
		b.define(instr, cur.NewFNeg(arg(0, instr.Typ)))

	case op.IsCompare():
		x, y := arg(0, instr.OperandType), arg(1, instr.OperandType)
		var c value.Value
		if pred, ok := llvmFloatPreds[op]; ok {
			c = cur.NewFCmp(pred, x, y)
		} else {
			c = cur.NewICmp(llvmIntPreds[op], x, y)
		}
		b.define(instr, cur.NewZExt(c, types.I32))

	case op >= ir.OpExtSB && op <= ir.OpExtF:
		b.define(instr, b.convert(cur, instr))

	case op == ir.OpJmp:
		cur.NewBr(b.block(instr.Args[0]))

	case op == ir.OpJnz:
		c := cur.NewICmp(enum.IPredNE, arg(0, ir.TypeW), constant.NewInt(types.I32, 0))
		cur.NewCondBr(c, b.block(instr.Args[1]), b.block(instr.Args[2]))

	case op == ir.OpRet:
		if len(instr.Args) == 0 {
			cur.NewRet(nil)
		} else {
			cur.NewRet(arg(0, b.currentFn.ReturnType))
		}

	case op == ir.OpCall:
		name := instr.Args[0].(*ir.Global).Name
		callee, ok := b.funcs[name]
		if !ok {
			b.failf("call to unknown function $%s", name)
		}
		args := make([]value.Value, len(instr.Args)-1)
		for i := range args {
			args[i] = arg(i+1, instr.ArgTypes[i])
		}
		b.define(instr, cur.NewCall(callee, args...))

	case op == ir.OpPhi:
		incs := make([]*llvm.Incoming, 0, len(instr.Args)/2)
		for i := 0; i+1 < len(instr.Args); i += 2 {
			incs = append(incs, llvm.NewIncoming(arg(i+1, instr.Typ), b.block(instr.Args[i])))
		}
		b.define(instr, cur.NewPhi(incs...))

	default:
		b.failf("unsupported instruction %s", op)
	}
}

// intBinary masks shift counts to the operand width, matching the
// interpreter and the native targets.
func (b *llvmBackend) intBinary(cur *llvm.Block, instr *ir.Instruction) value.Value {
	x, y := b.value(instr.Args[0], instr.Typ), b.value(instr.Args[1], instr.Typ)
	switch instr.Op {
	case ir.OpAdd:
		return cur.NewAdd(x, y)
	case ir.OpSub:
		return cur.NewSub(x, y)
	case ir.OpMul:
		return cur.NewMul(x, y)
	case ir.OpDiv:
		return cur.NewSDiv(x, y)
	case ir.OpUDiv:
		return cur.NewUDiv(x, y)
	case ir.OpRem:
		return cur.NewSRem(x, y)
	case ir.OpURem:
		return cur.NewURem(x, y)
	case ir.OpAnd:
		return cur.NewAnd(x, y)
	case ir.OpOr:
		return cur.NewOr(x, y)
	case ir.OpXor:
		return cur.NewXor(x, y)
	}

	width := int64(31)
	if instr.Typ == ir.TypeL {
		width = 63
	}
	count := cur.NewAnd(y, b.value(&ir.Const{Value: width}, instr.Typ))
	switch instr.Op {
	case ir.OpShl:
		return cur.NewShl(x, count)
	case ir.OpShr:
		return cur.NewLShr(x, count)
	}
	return cur.NewAShr(x, count)
}

func (b *llvmBackend) convert(cur *llvm.Block, instr *ir.Instruction) value.Value {
	to := b.regType(instr.Typ)
	x := b.value(instr.Args[0], instr.OperandType)
	switch instr.Op {
	case ir.OpExtSB:
		return cur.NewSExt(cur.NewTrunc(x, types.I8), to)
	case ir.OpExtUB:
		return cur.NewZExt(cur.NewTrunc(x, types.I8), to)
	case ir.OpExtSH:
		return cur.NewSExt(cur.NewTrunc(x, types.I16), to)
	case ir.OpExtUH:
		return cur.NewZExt(cur.NewTrunc(x, types.I16), to)
	case ir.OpExtSW:
		return cur.NewSExt(x, to)
	case ir.OpExtUW:
		return cur.NewZExt(x, to)
	case ir.OpTrunc:
		return cur.NewTrunc(x, to)
	case ir.OpSIToF:
		return cur.NewSIToFP(x, to)
	case ir.OpUIToF:
		return cur.NewUIToFP(x, to)
	case ir.OpFToSI:
		return cur.NewFPToSI(x, to)
	case ir.OpFToUI:
		return cur.NewFPToUI(x, to)
	case ir.OpTruncF:
		return cur.NewFPTrunc(x, to)
	}
	return cur.NewFPExt(x, to)
}
