package codegen

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/xplshn/traitc/pkg/config"
	"github.com/xplshn/traitc/pkg/ir"
	"tlog.app/go/errors"
)

type qbeBackend struct {
	out       *strings.Builder
	prog      *ir.Program
	currentFn *ir.Func
	err       error
}

func NewQBEBackend() Backend { return &qbeBackend{} }

// GenerateIR renders prog as QBE intermediate language.
func (b *qbeBackend) GenerateIR(prog *ir.Program, cfg *config.Config) (string, error) {
	var sb strings.Builder
	b.out, b.prog, b.err = &sb, prog, nil
	b.gen()
	if b.err != nil {
		return "", b.err
	}
	return sb.String(), nil
}

func (b *qbeBackend) gen() {
	for _, l := range b.prog.Structs {
		fields := make([]string, len(l.Fields))
		for i, f := range l.Fields {
			if f.Struct != "" {
				fields[i] = ":" + f.Struct
			} else {
				fields[i] = b.formatType(ir.StoreType(f.Type))
			}
		}
		fmt.Fprintf(b.out, "type :%s = { %s }\n", l.Name, strings.Join(fields, ", "))
	}

	if len(b.prog.Strings) > 0 {
		labels := make([]string, 0, len(b.prog.Strings))
		byLabel := make(map[string]string, len(b.prog.Strings))
		for s, label := range b.prog.Strings {
			labels = append(labels, label)
			byLabel[label] = s
		}
		sort.Strings(labels)
		b.out.WriteString("\n")
		for _, label := range labels {
			fmt.Fprintf(b.out, "data $%s = { %s }\n", label, qbeString(byLabel[label]))
		}
	}

	for _, fn := range b.prog.Funcs {
		b.genFunc(fn)
	}
}

// qbeString spells s as data items: printable runs are quoted, every other
// byte is emitted by value, and a terminating zero is appended.
func qbeString(s string) string {
	var items []string
	var run strings.Builder
	flush := func() {
		if run.Len() > 0 {
			items = append(items, `b "`+run.String()+`"`)
			run.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x20 && c < 0x7f && c != '"' && c != '\\' {
			run.WriteByte(c)
			continue
		}
		flush()
		items = append(items, "b "+strconv.Itoa(int(c)))
	}
	flush()
	return strings.Join(append(items, "b 0"), ", ")
}

func (b *qbeBackend) genFunc(fn *ir.Func) {
	b.currentFn = fn
	linkage := ""
	if fn.Exported {
		linkage = "export "
	}
	retTypeStr := ""
	if fn.ReturnType != ir.TypeNone {
		retTypeStr = " " + b.formatType(fn.ReturnType)
	}
	params := make([]string, len(fn.Params))
	for i, p := range fn.Params {
		params[i] = b.formatType(p.Typ) + " " + b.formatValue(p.Val)
	}
	fmt.Fprintf(b.out, "\n%sfunction%s $%s(%s) {\n", linkage, retTypeStr, fn.Name, strings.Join(params, ", "))
	for _, block := range fn.Blocks {
		fmt.Fprintf(b.out, "@%s\n", block.Label.Name)
		for _, instr := range block.Instructions {
			b.genInstr(instr)
		}
	}
	b.out.WriteString("}\n")
}

func (b *qbeBackend) genInstr(instr *ir.Instruction) {
	b.out.WriteString("\t")
	if instr.Result != nil {
		fmt.Fprintf(b.out, "%s =%s ", b.formatValue(instr.Result), b.formatType(instr.Typ))
	}

	switch instr.Op {
	case ir.OpFieldPtr:
		l := b.prog.Layout(instr.Struct)
		if l == nil {
			b.fail("fieldptr into unknown struct '%s'", instr.Struct)
			return
		}
		off := b.prog.FieldOffset(l, int(instr.Args[1].(*ir.Const).Value))
		fmt.Fprintf(b.out, "add %s, %d\n", b.formatValue(instr.Args[0]), off)
		return
	case ir.OpCall:
		args := make([]string, len(instr.Args)-1)
		for i, a := range instr.Args[1:] {
			args[i] = b.formatType(instr.ArgTypes[i]) + " " + b.formatValue(a)
		}
		fmt.Fprintf(b.out, "call %s(%s)\n", b.formatValue(instr.Args[0]), strings.Join(args, ", "))
		return
	case ir.OpPhi:
		pairs := make([]string, 0, len(instr.Args)/2)
		for i := 0; i+1 < len(instr.Args); i += 2 {
			pairs = append(pairs, b.formatValue(instr.Args[i])+" "+b.formatValue(instr.Args[i+1]))
		}
		fmt.Fprintf(b.out, "phi %s\n", strings.Join(pairs, ", "))
		return
	}

	args := make([]string, len(instr.Args))
	for i, a := range instr.Args {
		args[i] = b.formatValue(a)
	}
	op := b.formatOp(instr)
	if len(args) == 0 {
		b.out.WriteString(op + "\n")
		return
	}
	fmt.Fprintf(b.out, "%s %s\n", op, strings.Join(args, ", "))
}

func (b *qbeBackend) fail(format string, args ...interface{}) {
	if b.err == nil {
		b.err = errors.New("qbe: %s: "+format, append([]interface{}{b.currentFn.Name}, args...)...)
	}
}

func (b *qbeBackend) formatValue(v ir.Value) string {
	switch val := v.(type) {
	case *ir.Const:
		return strconv.FormatInt(val.Value, 10)
	case *ir.FloatConst:
		return b.formatType(val.Typ) + "_" + strconv.FormatFloat(val.Value, 'g', -1, 64)
	case *ir.Global:
		return "$" + val.Name
	case *ir.Temporary:
		return val.String()
	case *ir.Label:
		return "@" + val.Name
	}
	b.fail("unexpected value %v", v)
	return ""
}

func (b *qbeBackend) formatType(t ir.Type) string {
	switch t {
	case ir.TypeB, ir.TypeSB, ir.TypeUB:
		return "b"
	case ir.TypeH, ir.TypeSH, ir.TypeUH:
		return "h"
	case ir.TypeW:
		return "w"
	case ir.TypeL:
		return "l"
	case ir.TypeS:
		return "s"
	case ir.TypeD:
		return "d"
	case ir.TypePtr:
		if b.prog.WordSize == 4 {
			return "w"
		}
		return "l"
	}
	return ""
}

var qbeCompare = map[ir.Op]string{
	ir.OpCEq: "ceq", ir.OpCNe: "cne",
	ir.OpCLt: "cslt", ir.OpCLe: "csle", ir.OpCGt: "csgt", ir.OpCGe: "csge",
	ir.OpCULt: "cult", ir.OpCULe: "cule", ir.OpCUGt: "cugt", ir.OpCUGe: "cuge",
	ir.OpCEqF: "ceq", ir.OpCNeF: "cne",
	ir.OpCLtF: "clt", ir.OpCLeF: "cle", ir.OpCGtF: "cgt", ir.OpCGeF: "cge",
}

var qbeArith = map[ir.Op]string{
	ir.OpAdd: "add", ir.OpSub: "sub", ir.OpMul: "mul", ir.OpDiv: "div", ir.OpUDiv: "udiv",
	ir.OpRem: "rem", ir.OpURem: "urem", ir.OpAnd: "and", ir.OpOr: "or", ir.OpXor: "xor",
	ir.OpShl: "shl", ir.OpShr: "shr", ir.OpSar: "sar",
	ir.OpAddF: "add", ir.OpSubF: "sub", ir.OpMulF: "mul", ir.OpDivF: "div", ir.OpNegF: "neg",
	ir.OpExtSB: "extsb", ir.OpExtUB: "extub", ir.OpExtSH: "extsh", ir.OpExtUH: "extuh",
	ir.OpExtSW: "extsw", ir.OpExtUW: "extuw", ir.OpTrunc: "copy",
	ir.OpTruncF: "truncd", ir.OpExtF: "exts",
	ir.OpJmp: "jmp", ir.OpJnz: "jnz", ir.OpRet: "ret",
}

func (b *qbeBackend) formatOp(instr *ir.Instruction) string {
	if name, ok := qbeCompare[instr.Op]; ok {
		return name + b.formatType(instr.OperandType)
	}
	if name, ok := qbeArith[instr.Op]; ok {
		return name
	}

	from := b.formatType(instr.OperandType)
	switch instr.Op {
	case ir.OpAlloc:
		switch {
		case instr.Align <= 4:
			return "alloc4"
		case instr.Align <= 8:
			return "alloc8"
		}
		return "alloc16"
	case ir.OpLoad:
		switch instr.OperandType {
		case ir.TypeSB:
			return "loadsb"
		case ir.TypeUB, ir.TypeB:
			return "loadub"
		case ir.TypeSH:
			return "loadsh"
		case ir.TypeUH, ir.TypeH:
			return "loaduh"
		}
		return "load" + from
	case ir.OpStore:
		return "store" + b.formatType(instr.Typ)
	case ir.OpSIToF:
		return "s" + from + "tof"
	case ir.OpUIToF:
		return "u" + from + "tof"
	case ir.OpFToSI:
		return from + "tosi"
	case ir.OpFToUI:
		return from + "toui"
	}
	b.fail("no QBE instruction for %s", instr.Op)
	return instr.Op.String()
}
