package ir

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout(t *testing.T) {
	p := NewProgram(8)
	inner := &StructLayout{Name: "Inner", Fields: []Field{{Name: "a", Type: TypeSB}, {Name: "b", Type: TypeL}}}
	outer := &StructLayout{Name: "Outer", Fields: []Field{
		{Name: "flag", Type: TypeUB},
		{Name: "inner", Struct: "Inner"},
		{Name: "c", Type: TypeUH},
	}}
	p.Structs = append(p.Structs, inner, outer)

	assert.Equal(t, int64(16), p.SizeOf(inner))
	assert.Equal(t, int64(8), p.AlignOf(inner))
	assert.Equal(t, int64(8), p.FieldOffset(inner, 1))

	assert.Equal(t, int64(32), p.SizeOf(outer))
	assert.Equal(t, int64(8), p.FieldOffset(outer, 1))
	assert.Equal(t, int64(24), p.FieldOffset(outer, 2))
	assert.Equal(t, 2, outer.FieldIndex("c"))
	assert.Equal(t, -1, outer.FieldIndex("nope"))

	small := &StructLayout{Name: "Small", Fields: []Field{{Name: "x", Type: TypeB}, {Name: "y", Type: TypeH}, {Name: "z", Type: TypeB}}}
	p.Structs = append(p.Structs, small)
	assert.Equal(t, int64(6), p.SizeOf(small))
	assert.Equal(t, int64(2), p.FieldOffset(small, 1))
}

func TestLayoutWordSize(t *testing.T) {
	l := &StructLayout{Name: "P", Fields: []Field{{Name: "p", Type: TypePtr}, {Name: "w", Type: TypeW}}}
	p64, p32 := NewProgram(8), NewProgram(4)
	p64.Structs = []*StructLayout{l}
	p32.Structs = []*StructLayout{l}
	assert.Equal(t, int64(16), p64.SizeOf(l))
	assert.Equal(t, int64(8), p32.SizeOf(l))
}

func TestTypeMapping(t *testing.T) {
	assert.Equal(t, TypeB, StoreType(TypeSB))
	assert.Equal(t, TypeH, StoreType(TypeUH))
	assert.Equal(t, TypeL, StoreType(TypeL))
	assert.Equal(t, int64(1), SizeOfType(TypeUB, 8))
	assert.Equal(t, int64(4), SizeOfType(TypePtr, 4))
	assert.True(t, OpCGeF.IsCompare())
	assert.False(t, OpPhi.IsCompare())
	assert.True(t, OpRet.IsTerminator())
	assert.Equal(t, "op(999)", Op(999).String())
}

func TestAddStringInterns(t *testing.T) {
	p := NewProgram(8)
	a := p.AddString("hello")
	b := p.AddString("hello")
	c := p.AddString("other")
	assert.Equal(t, a.Name, b.Name)
	assert.NotEqual(t, a.Name, c.Name)
	assert.True(t, strings.HasPrefix(a.Name, "str_"))
	s, ok := p.IsStringLabel(c.Name)
	assert.True(t, ok)
	assert.Equal(t, "other", s)
}

// builder assembles a single function by hand.
type builder struct {
	fn   *Func
	cur  *BasicBlock
	next int
}

func newBuilder(name string, ret Type) *builder {
	b := &builder{fn: &Func{Name: name, ReturnType: ret, Exported: true}}
	b.block("start")
	return b
}

func (b *builder) block(name string) *Label {
	l := &Label{Name: name}
	b.cur = &BasicBlock{Label: l}
	b.fn.Blocks = append(b.fn.Blocks, b.cur)
	return l
}

func (b *builder) param(name string, t Type) *Temporary {
	v := &Temporary{Name: name, ID: b.next}
	b.next++
	b.fn.Params = append(b.fn.Params, &Param{Name: name, Typ: t, Val: v})
	return v
}

func (b *builder) emit(in *Instruction) *Temporary {
	if in.Typ != TypeNone && in.Op != OpStore {
		v := &Temporary{ID: b.next}
		b.next++
		in.Result = v
	}
	b.cur.Instructions = append(b.cur.Instructions, in)
	t, _ := in.Result.(*Temporary)
	return t
}

func c(v int64) *Const { return &Const{Value: v} }

// absdiff(a, b) = a > b ? a - b : b - a, with the join done by a phi.
func absdiff() *Func {
	b := newBuilder("absdiff", TypeW)
	x, y := b.param("a", TypeW), b.param("b", TypeW)
	gt := b.emit(&Instruction{Op: OpCGt, Typ: TypeW, OperandType: TypeW, Args: []Value{x, y}})
	b.emit(&Instruction{Op: OpJnz, Args: []Value{gt, &Label{Name: "pos"}, &Label{Name: "neg"}}})
	pos := b.block("pos")
	d1 := b.emit(&Instruction{Op: OpSub, Typ: TypeW, Args: []Value{x, y}})
	b.emit(&Instruction{Op: OpJmp, Args: []Value{&Label{Name: "join"}}})
	neg := b.block("neg")
	d2 := b.emit(&Instruction{Op: OpSub, Typ: TypeW, Args: []Value{y, x}})
	b.emit(&Instruction{Op: OpJmp, Args: []Value{&Label{Name: "join"}}})
	b.block("join")
	r := b.emit(&Instruction{Op: OpPhi, Typ: TypeW, Args: []Value{pos, d1, neg, d2}})
	b.emit(&Instruction{Op: OpRet, Args: []Value{r}})
	return b.fn
}

func TestInterpreterPhi(t *testing.T) {
	p := NewProgram(8)
	p.Funcs = append(p.Funcs, absdiff())
	in := NewInterpreter(p)

	got, err := in.Call("absdiff", EncodeInt(TypeW, 3), EncodeInt(TypeW, 10))
	require.NoError(t, err)
	assert.Equal(t, int64(7), IntValue(TypeW, got))

	got, err = in.Call("absdiff", EncodeInt(TypeW, -4), EncodeInt(TypeW, -10))
	require.NoError(t, err)
	assert.Equal(t, int64(6), IntValue(TypeW, got))
}

func TestInterpreterMemory(t *testing.T) {
	b := newBuilder("mem", TypeW)
	slot := b.emit(&Instruction{Op: OpAlloc, Typ: TypePtr, Args: []Value{c(4)}, Align: 4})
	b.emit(&Instruction{Op: OpStore, Typ: TypeB, Args: []Value{c(0xf0), slot}})
	sb := b.emit(&Instruction{Op: OpLoad, Typ: TypeW, OperandType: TypeSB, Args: []Value{slot}})
	ub := b.emit(&Instruction{Op: OpLoad, Typ: TypeW, OperandType: TypeUB, Args: []Value{slot}})
	sum := b.emit(&Instruction{Op: OpAdd, Typ: TypeW, Args: []Value{sb, ub}})
	b.emit(&Instruction{Op: OpRet, Args: []Value{sum}})

	p := NewProgram(8)
	p.Funcs = append(p.Funcs, b.fn)
	got, err := NewInterpreter(p).Call("mem")
	require.NoError(t, err)
	// -16 + 240
	assert.Equal(t, int64(224), IntValue(TypeW, got))
}

func TestInterpreterFloats(t *testing.T) {
	b := newBuilder("half", TypeD)
	x := b.param("x", TypeD)
	h := b.emit(&Instruction{Op: OpDivF, Typ: TypeD, Args: []Value{x, &FloatConst{Value: 2, Typ: TypeD}}})
	s := b.emit(&Instruction{Op: OpTruncF, Typ: TypeS, OperandType: TypeD, Args: []Value{h}})
	d := b.emit(&Instruction{Op: OpExtF, Typ: TypeD, OperandType: TypeS, Args: []Value{s}})
	b.emit(&Instruction{Op: OpRet, Args: []Value{d}})

	p := NewProgram(8)
	p.Funcs = append(p.Funcs, b.fn)
	got, err := NewInterpreter(p).Call("half", EncodeFloat(TypeD, 5))
	require.NoError(t, err)
	assert.Equal(t, 2.5, FloatValue(TypeD, got))
}

func TestInterpreterIntrinsics(t *testing.T) {
	p := NewProgram(8)
	msg := p.AddString("n=")
	b := newBuilder("main", TypeW)
	b.emit(&Instruction{Op: OpCall, Args: []Value{&Global{Name: "printstr"}, msg}, ArgTypes: []Type{TypePtr}})
	n := b.emit(&Instruction{Op: OpCall, Typ: TypeL, Args: []Value{&Global{Name: "scani64"}}})
	b.emit(&Instruction{Op: OpCall, Args: []Value{&Global{Name: "printi64"}, n}, ArgTypes: []Type{TypeL}})
	b.emit(&Instruction{Op: OpCall, Args: []Value{&Global{Name: "println"}}})
	b.emit(&Instruction{Op: OpRet, Args: []Value{c(0)}})
	p.Funcs = append(p.Funcs, b.fn)

	in := NewInterpreter(p)
	in.SetInput(strings.NewReader("-42\n"))
	var out bytes.Buffer
	in.Out = &out
	_, err := in.Call("main")
	require.NoError(t, err)
	assert.Equal(t, "n=-42\n", out.String())
}

func TestInterpreterTraps(t *testing.T) {
	loop := newBuilder("spin", TypeNone)
	loop.emit(&Instruction{Op: OpJmp, Args: []Value{&Label{Name: "start"}}})

	bad := newBuilder("bad", TypeW)
	bad.emit(&Instruction{Op: OpLoad, Typ: TypeW, OperandType: TypeW, Args: []Value{c(0)}})
	bad.emit(&Instruction{Op: OpRet, Args: []Value{c(0)}})

	p := NewProgram(8)
	p.Funcs = append(p.Funcs, loop.fn, bad.fn)
	in := NewInterpreter(p)
	in.MaxSteps = 1000

	_, err := in.Call("spin")
	assert.ErrorContains(t, err, "step limit")
	_, err = in.Call("bad")
	assert.ErrorContains(t, err, "invalid memory access")
	_, err = in.Call("nope")
	assert.ErrorContains(t, err, "no function named 'nope'")
	_, err = in.Call("bad", 1)
	assert.ErrorContains(t, err, "takes 0 arguments")
}

func TestDump(t *testing.T) {
	p := NewProgram(8)
	p.Structs = append(p.Structs, &StructLayout{Name: "P", Fields: []Field{{Name: "x", Type: TypeW}}})
	p.Externs = append(p.Externs, &Extern{Name: "ext", Params: []Type{TypeW, TypePtr}, ReturnType: TypeL})
	p.Funcs = append(p.Funcs, absdiff())

	var buf bytes.Buffer
	Dump(&buf, p)
	want := `struct P { x w }
extern $ext(w, ptr) l

func $absdiff(%a.0 w, %b.1 w) w {
@start
	%t2 =w cgt.w %a.0, %b.1
	jnz %t2, @pos, @neg
@pos
	%t3 =w sub %a.0, %b.1
	jmp @join
@neg
	%t4 =w sub %b.1, %a.0
	jmp @join
@join
	%t5 =w phi @pos %t3, @neg %t4
	ret %t5
}
`
	assert.Equal(t, want, buf.String())
}
