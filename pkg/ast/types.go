package ast

import (
	"strings"

	"github.com/xplshn/traitc/pkg/token"
)

// Kind defines the kind of a Datatype
type Kind int

const (
	KindUnresolved Kind = iota
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindFloat32
	KindFloat64
	KindBool
	KindString
	KindObject
	KindFunction
	// KindVoid is the return type of a prototype that declares none.
	KindVoid
)

// Datatype is the static type of a declaration or expression.
// Name holds the struct name for objects and the function name for functions.
type Datatype struct {
	Kind   Kind
	Name   string
	Owner  string
	Return *Datatype
	Params []*Datatype
}

// Pre-defined types
var (
	TypeUnresolved = &Datatype{Kind: KindUnresolved}
	TypeInt8       = &Datatype{Kind: KindInt8}
	TypeInt16      = &Datatype{Kind: KindInt16}
	TypeInt32      = &Datatype{Kind: KindInt32}
	TypeInt64      = &Datatype{Kind: KindInt64}
	TypeUint8      = &Datatype{Kind: KindUint8}
	TypeUint16     = &Datatype{Kind: KindUint16}
	TypeUint32     = &Datatype{Kind: KindUint32}
	TypeUint64     = &Datatype{Kind: KindUint64}
	TypeFloat32    = &Datatype{Kind: KindFloat32}
	TypeFloat64    = &Datatype{Kind: KindFloat64}
	TypeBool       = &Datatype{Kind: KindBool}
	TypeString     = &Datatype{Kind: KindString}
	TypeVoid       = &Datatype{Kind: KindVoid}
)

var kindNames = map[Kind]string{
	KindUnresolved: "unresolved",
	KindInt8:       "int8", KindInt16: "int16", KindInt32: "int32", KindInt64: "int64",
	KindUint8: "uint8", KindUint16: "uint16", KindUint32: "uint32", KindUint64: "uint64",
	KindFloat32: "float32", KindFloat64: "float64",
	KindBool: "bool", KindString: "string", KindVoid: "void",
}

func Object(name string) *Datatype { return &Datatype{Kind: KindObject, Name: name} }

func Function(name, owner string, ret *Datatype, params []*Datatype) *Datatype {
	return &Datatype{Kind: KindFunction, Name: name, Owner: owner, Return: ret, Params: params}
}

// TypeFromToken maps a type-name token to its Datatype. Identifiers name structs.
func TypeFromToken(tok token.Token) *Datatype {
	switch tok.Type {
	case token.Int8: return TypeInt8
	case token.Int16: return TypeInt16
	case token.Int32: return TypeInt32
	case token.Int64: return TypeInt64
	case token.Uint8: return TypeUint8
	case token.Uint16: return TypeUint16
	case token.Uint32: return TypeUint32
	case token.Uint64: return TypeUint64
	case token.Float32: return TypeFloat32
	case token.Float64: return TypeFloat64
	case token.Bool: return TypeBool
	case token.StringKeyword: return TypeString
	case token.Ident: return Object(tok.Value)
	}
	return TypeUnresolved
}

func (t *Datatype) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case KindObject:
		return "object{" + t.Name + "}"
	case KindFunction:
		var sb strings.Builder
		sb.WriteString("func ")
		if t.Owner != "" {
			sb.WriteString(t.Owner + ".")
		}
		sb.WriteString(t.Name + "(")
		for i, p := range t.Params {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(p.String())
		}
		sb.WriteString(")")
		if t.Return != nil && t.Return.Kind != KindVoid {
			sb.WriteString(" -> " + t.Return.String())
		}
		return sb.String()
	}
	return kindNames[t.Kind]
}

// Equal reports structural equality. Two unresolved types are never equal.
func (t *Datatype) Equal(o *Datatype) bool {
	if t == nil || o == nil || t.Kind != o.Kind || t.Kind == KindUnresolved {
		return false
	}
	switch t.Kind {
	case KindObject:
		return t.Name == o.Name
	case KindFunction:
		if len(t.Params) != len(o.Params) || !t.Return.Equal(o.Return) {
			return false
		}
		for i := range t.Params {
			if !t.Params[i].Equal(o.Params[i]) {
				return false
			}
		}
	}
	return true
}

func (t *Datatype) IsUnresolved() bool { return t == nil || t.Kind == KindUnresolved }

func (t *Datatype) IsSigned() bool {
	return t != nil && t.Kind >= KindInt8 && t.Kind <= KindInt64
}

func (t *Datatype) IsUnsigned() bool {
	return t != nil && t.Kind >= KindUint8 && t.Kind <= KindUint64
}

func (t *Datatype) IsInteger() bool { return t.IsSigned() || t.IsUnsigned() }

func (t *Datatype) IsFloat() bool {
	return t != nil && (t.Kind == KindFloat32 || t.Kind == KindFloat64)
}

func (t *Datatype) IsNumeric() bool { return t.IsInteger() || t.IsFloat() }

func (t *Datatype) IsBool() bool { return t != nil && t.Kind == KindBool }

func (t *Datatype) IsObject() bool { return t != nil && t.Kind == KindObject }

// Width returns the bit width of a scalar type; the rank order 8 < 16 < 32 < 64
// is shared by integers and floats. Bools are 8 bits wide in memory.
func (t *Datatype) Width() int {
	switch t.Kind {
	case KindInt8, KindUint8, KindBool: return 8
	case KindInt16, KindUint16: return 16
	case KindInt32, KindUint32, KindFloat32: return 32
	case KindInt64, KindUint64, KindFloat64, KindString: return 64
	}
	return 0
}
