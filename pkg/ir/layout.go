package ir

import "fmt"

// StructLayout is the positional record type of a struct; field order is
// declaration order.
type StructLayout struct {
	Name   string
	Fields []Field
}

// Field is one member of a layout. Struct is set, and Type is TypeNone,
// for a field that embeds another struct.
type Field struct {
	Name   string
	Type   Type
	Struct string
}

func (l *StructLayout) FieldIndex(name string) int {
	for i, f := range l.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

func (p *Program) Layout(name string) *StructLayout {
	for _, l := range p.Structs {
		if l.Name == name {
			return l
		}
	}
	return nil
}

func (p *Program) mustLayout(name string) *StructLayout {
	l := p.Layout(name)
	if l == nil {
		panic(fmt.Sprintf("internal: no layout for struct '%s'", name))
	}
	return l
}

func (p *Program) fieldSize(f Field) (size, align int64) {
	if f.Struct != "" {
		l := p.mustLayout(f.Struct)
		return p.SizeOf(l), p.AlignOf(l)
	}
	size = SizeOfType(f.Type, p.WordSize)
	return size, size
}

func (p *Program) AlignOf(l *StructLayout) int64 {
	align := int64(1)
	for _, f := range l.Fields {
		if _, a := p.fieldSize(f); a > align {
			align = a
		}
	}
	return align
}

// SizeOf returns the size of a layout with C alignment rules, including
// tail padding.
func (p *Program) SizeOf(l *StructLayout) int64 {
	var off int64
	for _, f := range l.Fields {
		size, align := p.fieldSize(f)
		off = alignUp(off, align) + size
	}
	return alignUp(off, p.AlignOf(l))
}

func (p *Program) FieldOffset(l *StructLayout, index int) int64 {
	var off int64
	for i, f := range l.Fields {
		size, align := p.fieldSize(f)
		off = alignUp(off, align)
		if i == index {
			return off
		}
		off += size
	}
	panic(fmt.Sprintf("internal: field %d out of range for struct '%s'", index, l.Name))
}

func alignUp(n, a int64) int64 {
	if a <= 1 {
		return n
	}
	return (n + a - 1) / a * a
}
