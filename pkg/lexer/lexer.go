package lexer

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/xplshn/traitc/pkg/token"
	"github.com/xplshn/traitc/pkg/util"
)

// Lexer scans one source file. Positions are 1-based.
type Lexer struct {
	source    []rune
	fileIndex int
	pos       int
	line      int
	column    int

	// start of the token being scanned
	startPos, startLine, startCol int

	rep *util.Reporter
}

func NewLexer(source []rune, fileIndex int, rep *util.Reporter) *Lexer {
	return &Lexer{source: source, fileIndex: fileIndex, line: 1, column: 1, rep: rep}
}

// Tokenize scans the whole source. The result always ends with an EOF token.
func Tokenize(source []rune, fileIndex int, rep *util.Reporter) []token.Token {
	l := NewLexer(source, fileIndex, rep)
	var toks []token.Token
	for {
		tok := l.Next()
		toks = append(toks, tok)
		if tok.Type == token.EOF {
			return toks
		}
	}
}

var punctuation = map[rune]token.Type{
	'(': token.LParen, ')': token.RParen,
	'{': token.LBrace, '}': token.RBrace,
	'[': token.LBracket, ']': token.RBracket,
	';': token.Semi, ',': token.Comma, ':': token.Colon, '.': token.Dot,
	'$': token.Dollar, '#': token.Hash, '~': token.Complement,
}

// assignable maps an operator to itself and to its form followed by '='.
var assignable = map[rune][2]token.Type{
	'!': {token.Not, token.Neq},
	'^': {token.Xor, token.XorEq},
	'%': {token.Rem, token.RemEq},
	'+': {token.Plus, token.PlusEq},
	'*': {token.Star, token.StarEq},
	'/': {token.Slash, token.SlashEq},
	'=': {token.Eq, token.EqEq},
	'-': {token.Minus, token.MinusEq},
	'&': {token.And, token.AndEq},
	'|': {token.Or, token.OrEq},
	'<': {token.Lt, token.Lte},
	'>': {token.Gt, token.Gte},
}

// Next returns the next token, reporting and skipping characters it cannot use.
func (l *Lexer) Next() token.Token {
	for {
		l.skipWhitespaceAndComments()
		l.mark()
		if l.isAtEnd() {
			return l.emit(token.EOF, "")
		}

		ch := l.peek()
		switch {
		case unicode.IsLetter(ch) || ch == '_':
			return l.identifierOrKeyword()
		case unicode.IsDigit(ch):
			return l.numberLiteral()
		}

		l.advance()
		if typ, ok := punctuation[ch]; ok {
			return l.emit(typ, "")
		}
		if tok, ok := l.operator(ch); ok {
			return tok
		}
		if ch == '"' {
			return l.stringLiteral()
		}
		l.rep.Error(l.emit(token.EOF, ""), "Unexpected character: '%c'", ch)
	}
}

func (l *Lexer) operator(ch rune) (token.Token, bool) {
	forms, ok := assignable[ch]
	if !ok {
		return token.Token{}, false
	}
	switch {
	case ch == '-' && l.match('>'):
		return l.emit(token.Arrow, ""), true
	case ch == '<' && l.match('-'):
		return l.emit(token.LeftArrow, ""), true
	case ch == '&' && l.match('&'):
		return l.emit(token.AndAnd, ""), true
	case ch == '|' && l.match('|'):
		return l.emit(token.OrOr, ""), true
	case ch == '<' && l.match('<'):
		forms = [2]token.Type{token.Shl, token.ShlEq}
	case ch == '>' && l.match('>'):
		forms = [2]token.Type{token.Shr, token.ShrEq}
	}
	if l.match('=') {
		return l.emit(forms[1], ""), true
	}
	return l.emit(forms[0], ""), true
}

func (l *Lexer) peek() rune {
	if l.isAtEnd() {
		return 0
	}
	return l.source[l.pos]
}

func (l *Lexer) peekNext() rune {
	if l.pos+1 >= len(l.source) {
		return 0
	}
	return l.source[l.pos+1]
}

func (l *Lexer) advance() rune {
	if l.isAtEnd() {
		return 0
	}
	ch := l.source[l.pos]
	l.pos++
	if ch == '\n' {
		l.line, l.column = l.line+1, 1
	} else {
		l.column++
	}
	return ch
}

func (l *Lexer) match(expected rune) bool {
	if l.peek() != expected || l.isAtEnd() {
		return false
	}
	l.advance()
	return true
}

func (l *Lexer) isAtEnd() bool { return l.pos >= len(l.source) }

func (l *Lexer) mark() { l.startPos, l.startLine, l.startCol = l.pos, l.line, l.column }

func (l *Lexer) lexeme() string { return string(l.source[l.startPos:l.pos]) }

func (l *Lexer) emit(typ token.Type, value string) token.Token {
	return token.Token{
		Type: typ, Value: value, FileIndex: l.fileIndex,
		Line: l.startLine, Column: l.startCol, Len: l.pos - l.startPos,
	}
}

func (l *Lexer) skipWhitespaceAndComments() {
	for !l.isAtEnd() {
		switch ch := l.peek(); {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			l.advance()
		case ch == '/' && l.peekNext() == '/':
			for !l.isAtEnd() && l.peek() != '\n' {
				l.advance()
			}
		case ch == '/' && l.peekNext() == '*':
			l.blockComment()
		default:
			return
		}
	}
}

func (l *Lexer) blockComment() {
	l.mark()
	l.advance()
	l.advance()
	for !l.isAtEnd() {
		if l.advance() == '*' && l.peek() == '/' {
			l.advance()
			return
		}
	}
	l.rep.Error(l.emit(token.EOF, ""), "Unterminated block comment")
}

func (l *Lexer) identifierOrKeyword() token.Token {
	for ch := l.peek(); unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'; ch = l.peek() {
		l.advance()
	}
	word := l.lexeme()
	if typ, ok := token.KeywordMap[word]; ok {
		return l.emit(typ, word)
	}
	return l.emit(token.Ident, word)
}

func (l *Lexer) digits(ok func(rune) bool) {
	for ok(l.peek()) {
		l.advance()
	}
}

func isHexDigit(r rune) bool {
	return unicode.IsDigit(r) || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

func isOctDigit(r rune) bool { return r >= '0' && r <= '7' }

// numberLiteral scans decimal, 0x hex and 0o octal integers, and floats with
// an optional fraction and exponent.
func (l *Lexer) numberLiteral() token.Token {
	if l.peek() == '0' {
		switch l.peekNext() {
		case 'x', 'X':
			l.advance()
			l.advance()
			l.digits(isHexDigit)
			return l.integer(token.HexLit, 16, 2)
		case 'o', 'O':
			l.advance()
			l.advance()
			l.digits(isOctDigit)
			return l.integer(token.OctLit, 8, 2)
		}
	}

	l.digits(unicode.IsDigit)
	isFloat := false
	if l.peek() == '.' && unicode.IsDigit(l.peekNext()) {
		isFloat = true
		l.advance()
		l.digits(unicode.IsDigit)
	}
	if l.peek() == 'e' || l.peek() == 'E' {
		isFloat = true
		l.advance()
		if l.peek() == '+' || l.peek() == '-' {
			l.advance()
		}
		if !unicode.IsDigit(l.peek()) {
			l.rep.Error(l.emit(token.FloatLit, ""), "Malformed floating-point literal: exponent has no digits")
		}
		l.digits(unicode.IsDigit)
	}
	if isFloat {
		return l.emit(token.FloatLit, l.lexeme())
	}
	return l.integer(token.IntLit, 10, 0)
}

// integer validates the literal just scanned and normalizes its value to decimal.
func (l *Lexer) integer(typ token.Type, base, prefix int) token.Token {
	text := l.lexeme()
	tok := l.emit(typ, text)
	val, err := strconv.ParseUint(text[prefix:], base, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			l.rep.Error(tok, "Integer constant overflow: %s", text)
		} else {
			l.rep.Error(tok, "Invalid number literal: %s", text)
		}
		tok.Value = "0"
		return tok
	}
	tok.Value = strconv.FormatUint(val, 10)
	return tok
}

var escapes = map[rune]rune{
	'n': '\n', 't': '\t', 'r': '\r', '0': 0, '\\': '\\', '"': '"', '\'': '\'',
}

func (l *Lexer) stringLiteral() token.Token {
	var sb strings.Builder
	for !l.isAtEnd() && l.peek() != '\n' {
		c := l.advance()
		switch c {
		case '"':
			return l.emit(token.StringLit, sb.String())
		case '\\':
			sb.WriteRune(l.escape())
		default:
			sb.WriteRune(c)
		}
	}
	tok := l.emit(token.StringLit, sb.String())
	l.rep.Error(tok, "Unterminated string literal")
	return tok
}

func (l *Lexer) escape() rune {
	if l.isAtEnd() {
		l.rep.Error(l.emit(token.StringLit, ""), "Unterminated escape sequence")
		return 0
	}
	c := l.advance()
	if val, ok := escapes[c]; ok {
		return val
	}
	l.rep.Error(l.emit(token.StringLit, ""), "Unrecognized escape sequence '\\%c'", c)
	return c
}
