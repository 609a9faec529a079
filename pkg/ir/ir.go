package ir

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/xplshn/traitc/pkg/ast"
)

type Op int

const (
	OpAlloc Op = iota
	OpLoad
	OpStore
	OpFieldPtr
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpUDiv
	OpRem
	OpURem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpSar
	OpAddF
	OpSubF
	OpMulF
	OpDivF
	OpRemF
	OpNegF
	OpCEq
	OpCNe
	OpCLt
	OpCLe
	OpCGt
	OpCGe
	OpCULt
	OpCULe
	OpCUGt
	OpCUGe
	OpCEqF
	OpCNeF
	OpCLtF
	OpCLeF
	OpCGtF
	OpCGeF
	OpExtSB
	OpExtUB
	OpExtSH
	OpExtUH
	OpExtSW
	OpExtUW
	OpTrunc
	OpSIToF
	OpUIToF
	OpFToSI
	OpFToUI
	OpTruncF
	OpExtF
	OpJmp
	OpJnz
	OpRet
	OpCall
	OpPhi
)

var opNames = [...]string{
	OpAlloc: "alloc", OpLoad: "load", OpStore: "store", OpFieldPtr: "fieldptr",
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpUDiv: "udiv", OpRem: "rem", OpURem: "urem",
	OpAnd: "and", OpOr: "or", OpXor: "xor", OpShl: "shl", OpShr: "shr", OpSar: "sar",
	OpAddF: "addf", OpSubF: "subf", OpMulF: "mulf", OpDivF: "divf", OpRemF: "remf", OpNegF: "negf",
	OpCEq: "ceq", OpCNe: "cne", OpCLt: "clt", OpCLe: "cle", OpCGt: "cgt", OpCGe: "cge",
	OpCULt: "cult", OpCULe: "cule", OpCUGt: "cugt", OpCUGe: "cuge",
	OpCEqF: "ceqf", OpCNeF: "cnef", OpCLtF: "cltf", OpCLeF: "clef", OpCGtF: "cgtf", OpCGeF: "cgef",
	OpExtSB: "extsb", OpExtUB: "extub", OpExtSH: "extsh", OpExtUH: "extuh", OpExtSW: "extsw", OpExtUW: "extuw",
	OpTrunc: "trunc", OpSIToF: "sitof", OpUIToF: "uitof", OpFToSI: "ftosi", OpFToUI: "ftoui",
	OpTruncF: "truncf", OpExtF: "extf",
	OpJmp: "jmp", OpJnz: "jnz", OpRet: "ret", OpCall: "call", OpPhi: "phi",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// IsTerminator reports the ops that end a basic block.
func (o Op) IsTerminator() bool { return o == OpJmp || o == OpJnz || o == OpRet }

// IsCompare reports the ops that produce a 0/1 word from two operands.
func (o Op) IsCompare() bool { return o >= OpCEq && o <= OpCGeF }

type Type int

const (
	TypeNone Type = iota
	TypeB         // byte (8-bit, ambiguous signedness)
	TypeH         // half-word (16-bit, ambiguous signedness)
	TypeW         // word (32-bit)
	TypeL         // long (64-bit)
	TypeS         // single float (32-bit)
	TypeD         // double float (64-bit)
	TypePtr
	TypeSB // signed byte (8-bit)
	TypeUB // unsigned byte (8-bit)
	TypeSH // signed half-word (16-bit)
	TypeUH // unsigned half-word (16-bit)
)

var typeNames = [...]string{
	TypeNone: "none", TypeB: "b", TypeH: "h", TypeW: "w", TypeL: "l", TypeS: "s", TypeD: "d",
	TypePtr: "ptr", TypeSB: "sb", TypeUB: "ub", TypeSH: "sh", TypeUH: "uh",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "?"
}

func (t Type) IsFloat() bool { return t == TypeS || t == TypeD }

type Value interface {
	isValue()
	String() string
}

type Const struct{ Value int64 }
type FloatConst struct {
	Value float64
	Typ   Type
}
type Global struct{ Name string }
type Temporary struct {
	Name string
	ID   int
}
type Label struct{ Name string }

func (c *Const) isValue()      {}
func (f *FloatConst) isValue() {}
func (g *Global) isValue()     {}
func (t *Temporary) isValue()  {}
func (l *Label) isValue()      {}

func (c *Const) String() string      { return fmt.Sprintf("%d", c.Value) }
func (f *FloatConst) String() string { return fmt.Sprintf("%s_%g", f.Typ, f.Value) }
func (g *Global) String() string     { return "$" + g.Name }
func (t *Temporary) String() string {
	if t.Name != "" {
		return fmt.Sprintf("%%%s.%d", t.Name, t.ID)
	}
	return fmt.Sprintf("%%t%d", t.ID)
}
func (l *Label) String() string { return "@" + l.Name }

type Func struct {
	Name       string
	Params     []*Param
	ReturnType Type
	// RetStruct names the layout of a struct result. Such functions take the
	// result address as a hidden first parameter and return nothing.
	RetStruct string
	Method    bool
	Exported  bool
	Blocks    []*BasicBlock
	Node      *ast.Node
}

type Param struct {
	Name string
	Typ  Type
	Val  Value
}

type BasicBlock struct {
	Label        *Label
	Instructions []*Instruction
}

// Instruction is one IR operation. Typ is the result type; for loads
// OperandType is the memory type, for stores Typ is. Struct names the layout
// that alloc and fieldptr address.
type Instruction struct {
	Op          Op
	Typ         Type
	OperandType Type
	Result      Value
	Args        []Value
	ArgTypes    []Type
	Align       int
	Struct      string
}

// Extern is a function called by the program but defined outside it.
type Extern struct {
	Name       string
	Params     []Type
	ReturnType Type
}

type Program struct {
	Structs  []*StructLayout
	Strings  map[string]string
	Funcs    []*Func
	Externs  []*Extern
	WordSize int
}

func NewProgram(wordSize int) *Program {
	return &Program{Strings: make(map[string]string), WordSize: wordSize}
}

// AddString interns a string literal and returns its global label.
func (p *Program) AddString(s string) *Global {
	if label, ok := p.Strings[s]; ok {
		return &Global{Name: label}
	}
	label := fmt.Sprintf("str_%016x", xxhash.Sum64String(s))
	p.Strings[s] = label
	return &Global{Name: label}
}

func (p *Program) IsStringLabel(name string) (string, bool) {
	for s, label := range p.Strings {
		if label == name {
			return s, true
		}
	}
	return "", false
}

func (p *Program) FindFunc(name string) *Func {
	for _, f := range p.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func (p *Program) FindExtern(name string) *Extern {
	for _, e := range p.Externs {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// RegType maps a datatype to the type of a temporary holding it. Sub-word
// integers and bools live in words.
func RegType(t *ast.Datatype) Type {
	switch t.Kind {
	case ast.KindInt8, ast.KindInt16, ast.KindInt32, ast.KindUint8, ast.KindUint16, ast.KindUint32, ast.KindBool:
		return TypeW
	case ast.KindInt64, ast.KindUint64:
		return TypeL
	case ast.KindFloat32:
		return TypeS
	case ast.KindFloat64:
		return TypeD
	case ast.KindString, ast.KindObject:
		return TypePtr
	case ast.KindVoid:
		return TypeNone
	}
	panic(fmt.Sprintf("internal: no IR type for %s", t))
}

// MemType maps a datatype to its in-memory representation, which selects
// the extending load that reads it.
func MemType(t *ast.Datatype) Type {
	switch t.Kind {
	case ast.KindInt8:
		return TypeSB
	case ast.KindUint8, ast.KindBool:
		return TypeUB
	case ast.KindInt16:
		return TypeSH
	case ast.KindUint16:
		return TypeUH
	}
	return RegType(t)
}

// StoreType drops the signedness from a memory type.
func StoreType(t Type) Type {
	switch t {
	case TypeSB, TypeUB:
		return TypeB
	case TypeSH, TypeUH:
		return TypeH
	}
	return t
}

func SizeOfType(t Type, wordSize int) int64 {
	switch t {
	case TypeB, TypeSB, TypeUB:
		return 1
	case TypeH, TypeSH, TypeUH:
		return 2
	case TypeW, TypeS:
		return 4
	case TypeL, TypeD:
		return 8
	case TypePtr:
		return int64(wordSize)
	}
	return int64(wordSize)
}
