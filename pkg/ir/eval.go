package ir

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"tlog.app/go/errors"
)

// Interpreter executes lowered functions directly. Every value is held as a
// 64-bit pattern; words keep their upper half clear and floats are stored as
// their IEEE bits. Memory is one flat little-endian byte slice holding the
// string data followed by the stack.
type Interpreter struct {
	prog    *Program
	funcs   map[string]*Func
	blocks  map[*Func]map[string]int
	strAddr map[string]uint64
	mem     []byte
	sp      uint64

	Out io.Writer
	In  *bufio.Reader
	// OnInstr, when set, observes every produced value.
	OnInstr  func(in *Instruction, v uint64)
	MaxSteps int
	steps    int
}

type trap struct{ err error }

func (in *Interpreter) trapf(format string, args ...interface{}) {
	panic(trap{errors.New(format, args...)})
}

const nullGuard = 16

func NewInterpreter(prog *Program) *Interpreter {
	in := &Interpreter{
		prog:     prog,
		funcs:    make(map[string]*Func, len(prog.Funcs)),
		blocks:   make(map[*Func]map[string]int),
		strAddr:  make(map[string]uint64, len(prog.Strings)),
		mem:      make([]byte, nullGuard, 1<<16),
		sp:       nullGuard,
		Out:      io.Discard,
		In:       bufio.NewReader(strings.NewReader("")),
		MaxSteps: 1 << 24,
	}
	for _, fn := range prog.Funcs {
		in.funcs[fn.Name] = fn
	}

	strs := make([]string, 0, len(prog.Strings))
	for s := range prog.Strings {
		strs = append(strs, s)
	}
	sort.Strings(strs)
	for _, s := range strs {
		in.strAddr[prog.Strings[s]] = uint64(len(in.mem))
		in.mem = append(in.mem, s...)
		in.mem = append(in.mem, 0)
	}
	in.sp = uint64(alignUp(int64(len(in.mem)), 16))
	in.ensure(in.sp)
	return in
}

func (in *Interpreter) SetInput(r io.Reader) { in.In = bufio.NewReader(r) }

// Call runs the named function with raw argument patterns and returns the raw
// result. Traps such as division by zero come back as errors.
func (in *Interpreter) Call(name string, args ...uint64) (result uint64, err error) {
	fn, ok := in.funcs[name]
	if !ok {
		return 0, errors.New("no function named '%s'", name)
	}
	if len(args) != len(fn.Params) {
		return 0, errors.New("function '%s' takes %d arguments, got %d", name, len(fn.Params), len(args))
	}
	defer func() {
		if r := recover(); r != nil {
			t, ok := r.(trap)
			if !ok {
				panic(r)
			}
			err = errors.Wrap(t.err, "run %s", name)
		}
	}()
	in.steps = 0
	return in.call(fn, args), nil
}

// EncodeInt and EncodeFloat build argument patterns; IntValue and FloatValue
// decode results.
func EncodeInt(t Type, v int64) uint64 { return fit(t, uint64(v)) }

func EncodeFloat(t Type, f float64) uint64 { return putF(t, f) }

func IntValue(t Type, bits uint64) int64 {
	if t == TypeW {
		return int64(int32(bits))
	}
	return int64(bits)
}

func FloatValue(t Type, bits uint64) float64 { return getF(t, bits) }

func fit(t Type, v uint64) uint64 {
	if t == TypeW || t == TypeS {
		return uint64(uint32(v))
	}
	return v
}

func getF(t Type, bits uint64) float64 {
	if t == TypeS {
		return float64(math.Float32frombits(uint32(bits)))
	}
	return math.Float64frombits(bits)
}

func putF(t Type, f float64) uint64 {
	if t == TypeS {
		return uint64(math.Float32bits(float32(f)))
	}
	return math.Float64bits(f)
}

func (in *Interpreter) blockIndex(fn *Func) map[string]int {
	if idx, ok := in.blocks[fn]; ok {
		return idx
	}
	idx := make(map[string]int, len(fn.Blocks))
	for i, b := range fn.Blocks {
		idx[b.Label.Name] = i
	}
	in.blocks[fn] = idx
	return idx
}

type frame map[int]uint64

func (in *Interpreter) call(fn *Func, args []uint64) uint64 {
	if len(fn.Blocks) == 0 {
		in.trapf("function '%s' has no body", fn.Name)
	}
	fr := make(frame)
	for i, p := range fn.Params {
		fr[p.Val.(*Temporary).ID] = fit(p.Typ, args[i])
	}
	savedSP := in.sp
	defer func() { in.sp = savedSP }()

	idx := in.blockIndex(fn)
	cur, prev := 0, ""
	for {
		b := fn.Blocks[cur]
		next, done, ret := in.runBlock(fn, fr, b, prev)
		if done {
			return ret
		}
		target, ok := idx[next]
		if !ok {
			in.trapf("jump to unknown block @%s in '%s'", next, fn.Name)
		}
		prev, cur = b.Label.Name, target
	}
}

// runBlock executes b up to its terminator and returns the next label, or
// done with the return value.
func (in *Interpreter) runBlock(fn *Func, fr frame, b *BasicBlock, prev string) (next string, done bool, ret uint64) {
	for _, ins := range b.Instructions {
		in.steps++
		if in.MaxSteps > 0 && in.steps > in.MaxSteps {
			in.trapf("step limit of %d exceeded", in.MaxSteps)
		}
		switch ins.Op {
		case OpJmp:
			return ins.Args[0].(*Label).Name, false, 0
		case OpJnz:
			if in.val(fr, ins.Args[0]) != 0 {
				return ins.Args[1].(*Label).Name, false, 0
			}
			return ins.Args[2].(*Label).Name, false, 0
		case OpRet:
			if len(ins.Args) > 0 {
				return "", true, fit(fn.ReturnType, in.val(fr, ins.Args[0]))
			}
			return "", true, 0
		case OpPhi:
			found := false
			for i := 0; i+1 < len(ins.Args); i += 2 {
				if ins.Args[i].(*Label).Name == prev {
					in.define(fr, ins, in.val(fr, ins.Args[i+1]))
					found = true
					break
				}
			}
			if !found {
				in.trapf("phi in @%s has no entry for predecessor @%s", b.Label.Name, prev)
			}
		default:
			v := in.exec(fr, ins)
			if ins.Result != nil {
				in.define(fr, ins, v)
			}
		}
	}
	in.trapf("block @%s of '%s' has no terminator", b.Label.Name, fn.Name)
	return "", true, 0
}

func (in *Interpreter) define(fr frame, ins *Instruction, v uint64) {
	v = fit(ins.Typ, v)
	fr[ins.Result.(*Temporary).ID] = v
	if in.OnInstr != nil {
		in.OnInstr(ins, v)
	}
}

func (in *Interpreter) val(fr frame, v Value) uint64 {
	switch v := v.(type) {
	case *Const:
		return uint64(v.Value)
	case *FloatConst:
		return putF(v.Typ, v.Value)
	case *Temporary:
		x, ok := fr[v.ID]
		if !ok {
			in.trapf("use of undefined temporary %s", v)
		}
		return x
	case *Global:
		if addr, ok := in.strAddr[v.Name]; ok {
			return addr
		}
		in.trapf("global %s has no address", v)
	}
	in.trapf("cannot evaluate value %v", v)
	return 0
}

func (in *Interpreter) exec(fr frame, ins *Instruction) uint64 {
	arg := func(i int) uint64 { return in.val(fr, ins.Args[i]) }
	switch op := ins.Op; {
	case op == OpAlloc:
		return in.alloc(uint64(ins.Args[0].(*Const).Value), uint64(ins.Align))
	case op == OpLoad:
		return in.load(ins.OperandType, arg(0))
	case op == OpStore:
		in.store(ins.Typ, arg(1), arg(0))
		return 0
	case op == OpFieldPtr:
		l := in.prog.mustLayout(ins.Struct)
		return arg(0) + uint64(in.prog.FieldOffset(l, int(ins.Args[1].(*Const).Value)))
	case op >= OpAdd && op <= OpSar:
		return in.intBinary(op, ins.Typ, arg(0), arg(1))
	case op >= OpAddF && op <= OpRemF:
		return floatBinary(op, ins.Typ, arg(0), arg(1))
	case op == OpNegF:
		return putF(ins.Typ, -getF(ins.Typ, arg(0)))
	case op.IsCompare():
		if compare(op, ins.OperandType, arg(0), arg(1)) {
			return 1
		}
		return 0
	case op == OpCall:
		return in.callInstr(fr, ins)
	}
	return convert(ins.Op, ins.OperandType, ins.Typ, arg(0))
}

func (in *Interpreter) intBinary(op Op, t Type, x, y uint64) uint64 {
	ux, uy := fit(t, x), fit(t, y)
	sx, sy := IntValue(t, x), IntValue(t, y)
	shift := y & 63
	if t == TypeW {
		shift = y & 31
	}
	var r uint64
	switch op {
	case OpAdd:
		r = x + y
	case OpSub:
		r = x - y
	case OpMul:
		r = x * y
	case OpDiv, OpRem, OpUDiv, OpURem:
		if uy == 0 {
			in.trapf("integer division by zero")
		}
		switch op {
		case OpDiv:
			r = uint64(sx / sy)
		case OpRem:
			r = uint64(sx % sy)
		case OpUDiv:
			r = ux / uy
		default:
			r = ux % uy
		}
	case OpAnd:
		r = x & y
	case OpOr:
		r = x | y
	case OpXor:
		r = x ^ y
	case OpShl:
		r = x << shift
	case OpShr:
		r = ux >> shift
	case OpSar:
		r = uint64(sx >> shift)
	}
	return fit(t, r)
}

func floatBinary(op Op, t Type, x, y uint64) uint64 {
	a, b := getF(t, x), getF(t, y)
	var r float64
	switch op {
	case OpAddF:
		r = a + b
	case OpSubF:
		r = a - b
	case OpMulF:
		r = a * b
	case OpDivF:
		r = a / b
	case OpRemF:
		r = math.Mod(a, b)
	}
	return putF(t, r)
}

func compare(op Op, t Type, x, y uint64) bool {
	if t.IsFloat() {
		a, b := getF(t, x), getF(t, y)
		switch op {
		case OpCEqF:
			return a == b
		case OpCNeF:
			return a != b
		case OpCLtF:
			return a < b
		case OpCLeF:
			return a <= b
		case OpCGtF:
			return a > b
		default:
			return a >= b
		}
	}
	ux, uy := fit(t, x), fit(t, y)
	sx, sy := IntValue(t, x), IntValue(t, y)
	switch op {
	case OpCEq:
		return ux == uy
	case OpCNe:
		return ux != uy
	case OpCLt:
		return sx < sy
	case OpCLe:
		return sx <= sy
	case OpCGt:
		return sx > sy
	case OpCGe:
		return sx >= sy
	case OpCULt:
		return ux < uy
	case OpCULe:
		return ux <= uy
	case OpCUGt:
		return ux > uy
	default:
		return ux >= uy
	}
}

func convert(op Op, from, to Type, x uint64) uint64 {
	switch op {
	case OpExtSB:
		return fit(to, uint64(int64(int8(x))))
	case OpExtUB:
		return uint64(uint8(x))
	case OpExtSH:
		return fit(to, uint64(int64(int16(x))))
	case OpExtUH:
		return uint64(uint16(x))
	case OpExtSW:
		return uint64(int64(int32(x)))
	case OpExtUW, OpTrunc:
		return uint64(uint32(x))
	case OpSIToF:
		return putF(to, float64(IntValue(from, x)))
	case OpUIToF:
		return putF(to, float64(fit(from, x)))
	case OpFToSI:
		if to == TypeW {
			return fit(to, uint64(int32(getF(from, x))))
		}
		return uint64(int64(getF(from, x)))
	case OpFToUI:
		if to == TypeW {
			return uint64(uint32(getF(from, x)))
		}
		return uint64(getF(from, x))
	case OpTruncF:
		return putF(TypeS, getF(TypeD, x))
	case OpExtF:
		return putF(TypeD, getF(TypeS, x))
	}
	panic(trap{errors.New("unsupported instruction %s", op)})
}

// Memory

func (in *Interpreter) ensure(n uint64) {
	if uint64(len(in.mem)) < n {
		in.mem = append(in.mem, make([]byte, n-uint64(len(in.mem)))...)
	}
}

func (in *Interpreter) alloc(size, align uint64) uint64 {
	if align < 1 {
		align = 1
	}
	addr := (in.sp + align - 1) / align * align
	in.sp = addr + size
	in.ensure(in.sp)
	clear(in.mem[addr:in.sp])
	return addr
}

func (in *Interpreter) span(addr, size uint64) []byte {
	if addr < nullGuard || addr+size > uint64(len(in.mem)) {
		in.trapf("invalid memory access at %#x", addr)
	}
	return in.mem[addr : addr+size]
}

func (in *Interpreter) load(t Type, addr uint64) uint64 {
	size := uint64(SizeOfType(t, in.prog.WordSize))
	b := in.span(addr, size)
	switch t {
	case TypeSB:
		return uint64(uint32(int32(int8(b[0]))))
	case TypeB, TypeUB:
		return uint64(b[0])
	case TypeSH:
		return uint64(uint32(int32(int16(binary.LittleEndian.Uint16(b)))))
	case TypeH, TypeUH:
		return uint64(binary.LittleEndian.Uint16(b))
	}
	if size == 4 {
		return uint64(binary.LittleEndian.Uint32(b))
	}
	return binary.LittleEndian.Uint64(b)
}

func (in *Interpreter) store(t Type, addr, v uint64) {
	size := uint64(SizeOfType(t, in.prog.WordSize))
	b := in.span(addr, size)
	switch size {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
}

func (in *Interpreter) cstring(addr uint64) string {
	end := addr
	for {
		if in.span(end, 1)[0] == 0 {
			return string(in.mem[addr:end])
		}
		end++
	}
}

// Calls

func (in *Interpreter) callInstr(fr frame, ins *Instruction) uint64 {
	name := ins.Args[0].(*Global).Name
	args := make([]uint64, len(ins.Args)-1)
	for i, a := range ins.Args[1:] {
		args[i] = fit(ins.ArgTypes[i], in.val(fr, a))
	}
	if fn, ok := in.funcs[name]; ok {
		return in.call(fn, args)
	}
	return in.intrinsic(name, args)
}

// intrinsic mirrors the C runtime linked into compiled programs.
func (in *Interpreter) intrinsic(name string, args []uint64) uint64 {
	switch {
	case name == "println":
		fmt.Fprintln(in.Out)
		return 0
	case name == "printstr":
		io.WriteString(in.Out, in.cstring(args[0]))
		return 0
	case name == "printbool":
		if args[0]&0xff != 0 {
			io.WriteString(in.Out, "true")
		} else {
			io.WriteString(in.Out, "false")
		}
		return 0
	case strings.HasPrefix(name, "print") && len(args) == 1:
		v := args[0]
		switch name[len("print"):] {
		case "i8":
			fmt.Fprint(in.Out, int8(v))
		case "i16":
			fmt.Fprint(in.Out, int16(v))
		case "i32":
			fmt.Fprint(in.Out, int32(v))
		case "i64":
			fmt.Fprint(in.Out, int64(v))
		case "u8":
			fmt.Fprint(in.Out, uint8(v))
		case "u16":
			fmt.Fprint(in.Out, uint16(v))
		case "u32":
			fmt.Fprint(in.Out, uint32(v))
		case "u64":
			fmt.Fprint(in.Out, v)
		case "f32":
			fmt.Fprintf(in.Out, "%.6g", getF(TypeS, v))
		case "f64":
			fmt.Fprintf(in.Out, "%.6g", getF(TypeD, v))
		default:
			in.trapf("call to unknown function $%s", name)
		}
		return 0
	case strings.HasPrefix(name, "scan") && len(args) == 0:
		return in.scan(name[len("scan"):])
	}
	in.trapf("call to unknown function $%s", name)
	return 0
}

func (in *Interpreter) scan(suffix string) uint64 {
	switch suffix {
	case "f32", "f64":
		var f float64
		fmt.Fscan(in.In, &f)
		if suffix == "f32" {
			return putF(TypeS, f)
		}
		return putF(TypeD, f)
	case "bool":
		var s string
		fmt.Fscan(in.In, &s)
		if strings.HasPrefix(s, "t") || strings.HasPrefix(s, "1") {
			return 1
		}
		return 0
	case "u8", "u16", "u32", "u64":
		var u uint64
		fmt.Fscan(in.In, &u)
		switch suffix {
		case "u8":
			return uint64(uint8(u))
		case "u16":
			return uint64(uint16(u))
		case "u32":
			return uint64(uint32(u))
		}
		return u
	}
	var i int64
	fmt.Fscan(in.In, &i)
	switch suffix {
	case "i8":
		return uint64(uint32(int32(int8(i))))
	case "i16":
		return uint64(uint32(int32(int16(i))))
	case "i32":
		return uint64(uint32(int32(i)))
	}
	return uint64(i)
}
