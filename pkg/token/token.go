package token

type Type int

const (
	EOF Type = iota
	Ident
	IntLit
	HexLit
	OctLit
	FloatLit
	StringLit
	Var
	Struct
	Impl
	Trait
	Func
	KwOr
	KwAnd
	If
	Else
	For
	While
	Return
	As
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	Bool
	StringKeyword
	Null
	True
	False
	LParen
	RParen
	LBrace
	RBrace
	LBracket
	RBracket
	Semi
	Colon
	Comma
	Dot
	Dollar
	Hash
	Arrow
	LeftArrow
	Eq
	PlusEq
	MinusEq
	StarEq
	SlashEq
	RemEq
	AndEq
	OrEq
	XorEq
	ShlEq
	ShrEq
	Plus
	Minus
	Star
	Slash
	Rem
	And
	Or
	Xor
	Shl
	Shr
	EqEq
	Neq
	Lt
	Gt
	Gte
	Lte
	AndAnd
	OrOr
	Not
	Complement
)

var KeywordMap = map[string]Type{
	"var":     Var,
	"struct":  Struct,
	"impl":    Impl,
	"trait":   Trait,
	"func":    Func,
	"or":      KwOr,
	"and":     KwAnd,
	"if":      If,
	"else":    Else,
	"for":     For,
	"while":   While,
	"return":  Return,
	"as":      As,
	"int8":    Int8,
	"int16":   Int16,
	"int32":   Int32,
	"int64":   Int64,
	"uint8":   Uint8,
	"uint16":  Uint16,
	"uint32":  Uint32,
	"uint64":  Uint64,
	"float32": Float32,
	"float64": Float64,
	"bool":    Bool,
	"string":  StringKeyword,
	"null":    Null,
	"true":    True,
	"false":   False,
}

var punctStrings = map[Type]string{
	EOF: "end of file", Ident: "identifier", IntLit: "integer literal", HexLit: "hex literal",
	OctLit: "octal literal", FloatLit: "float literal", StringLit: "string literal",
	LParen: "(", RParen: ")", LBrace: "{", RBrace: "}", LBracket: "[", RBracket: "]",
	Semi: ";", Colon: ":", Comma: ",", Dot: ".", Dollar: "$", Hash: "#", Arrow: "->", LeftArrow: "<-",
	Eq: "=", PlusEq: "+=", MinusEq: "-=", StarEq: "*=", SlashEq: "/=", RemEq: "%=",
	AndEq: "&=", OrEq: "|=", XorEq: "^=", ShlEq: "<<=", ShrEq: ">>=",
	Plus: "+", Minus: "-", Star: "*", Slash: "/", Rem: "%", And: "&", Or: "|", Xor: "^",
	Shl: "<<", Shr: ">>", EqEq: "==", Neq: "!=", Lt: "<", Gt: ">", Gte: ">=", Lte: "<=",
	AndAnd: "&&", OrOr: "||", Not: "!", Complement: "~",
}

// Reverse mapping from Type to its source spelling
var TypeStrings = make(map[Type]string)

func init() {
	for str, typ := range KeywordMap {
		TypeStrings[typ] = str
	}
	for typ, str := range punctStrings {
		TypeStrings[typ] = str
	}
}

func (t Type) String() string {
	if s, ok := TypeStrings[t]; ok {
		return s
	}
	return "unknown"
}

// IsTypeName reports whether t can start a type annotation.
// Identifiers are included because struct names are types.
func (t Type) IsTypeName() bool {
	return (t >= Int8 && t <= StringKeyword) || t == Ident
}

func (t Type) IsAssignOp() bool { return t >= Eq && t <= ShrEq }

func (t Type) IsLiteral() bool {
	return (t >= IntLit && t <= StringLit) || t == True || t == False
}

// BinaryOf maps a compound assignment operator to the binary operator it applies.
func (t Type) BinaryOf() Type {
	switch t {
	case PlusEq: return Plus
	case MinusEq: return Minus
	case StarEq: return Star
	case SlashEq: return Slash
	case RemEq: return Rem
	case AndEq: return And
	case OrEq: return Or
	case XorEq: return Xor
	case ShlEq: return Shl
	case ShrEq: return Shr
	}
	return EOF
}

type Token struct {
	Type      Type
	Value     string
	FileIndex int
	Line      int
	Column    int
	Len       int
}
