package parser

import (
	"github.com/xplshn/traitc/pkg/ast"
	"github.com/xplshn/traitc/pkg/token"
)

// Expression Parsing
//
// One function per tier, loosest binding first:
// assignment, logicalOr, logicalAnd, inclusiveOr, exclusiveOr, bitwiseAnd,
// equality, relational, shift, additive, multiplicative, unary, primary, atom.

func isLValue(node *ast.Node) bool {
	node = ast.Unparen(node)
	if node == nil {
		return false
	}
	switch node.Type {
	case ast.Variable, ast.AttributeRef:
		return true
	default:
		return false
	}
}

// exprList parses a comma expression. A single member is returned as is.
func (p *Parser) exprList() *ast.Node {
	tok := p.current
	first := p.assignment()
	if !p.check(token.Comma) {
		return first
	}
	exprs := []*ast.Node{first}
	for p.match(token.Comma) {
		exprs = append(exprs, p.assignment())
	}
	return ast.NewExprList(tok, exprs)
}

func (p *Parser) assignment() *ast.Node {
	left := p.logicalOr()
	if !p.current.Type.IsAssignOp() {
		return left
	}
	opTok := p.current
	if !isLValue(left) {
		p.errorAt(opTok, "Invalid target for assignment: only variables and attribute references can be assigned")
	}
	p.advance()
	right := p.assignment()
	return ast.NewAssignment(opTok, left, opTok.Type, right)
}

// binaryTier parses a left-associative chain of next separated by ops.
// boolResult marks tiers whose result is always bool.
func (p *Parser) binaryTier(next func() *ast.Node, boolResult bool, ops ...token.Type) *ast.Node {
	left := next()
	for p.match(ops...) {
		opTok := p.previous
		op := opTok.Type
		switch op {
		case token.AndAnd:
			op = token.KwAnd
		case token.OrOr:
			op = token.KwOr
		}
		right := next()
		left = ast.NewBinary(opTok, op, left, right)
		if boolResult {
			left.Typ = ast.TypeBool
		}
	}
	return left
}

func (p *Parser) logicalOr() *ast.Node {
	return p.binaryTier(p.logicalAnd, true, token.KwOr, token.OrOr)
}

func (p *Parser) logicalAnd() *ast.Node {
	return p.binaryTier(p.inclusiveOr, true, token.KwAnd, token.AndAnd)
}

func (p *Parser) inclusiveOr() *ast.Node {
	return p.binaryTier(p.exclusiveOr, false, token.Or)
}

func (p *Parser) exclusiveOr() *ast.Node {
	return p.binaryTier(p.bitwiseAnd, false, token.Xor)
}

func (p *Parser) bitwiseAnd() *ast.Node {
	return p.binaryTier(p.equality, false, token.And)
}

func (p *Parser) equality() *ast.Node {
	return p.binaryTier(p.relational, true, token.EqEq, token.Neq)
}

func (p *Parser) relational() *ast.Node {
	return p.binaryTier(p.shift, true, token.Lt, token.Lte, token.Gt, token.Gte)
}

func (p *Parser) shift() *ast.Node {
	return p.binaryTier(p.additive, false, token.Shl, token.Shr)
}

func (p *Parser) additive() *ast.Node {
	return p.binaryTier(p.multiplicative, false, token.Plus, token.Minus)
}

func (p *Parser) multiplicative() *ast.Node {
	return p.binaryTier(p.unary, false, token.Star, token.Slash, token.Rem)
}

func (p *Parser) unary() *ast.Node {
	if p.match(token.Not, token.Minus, token.Plus, token.Complement) {
		opTok := p.previous
		operand := p.unary()
		return ast.NewUnary(opTok, opTok.Type, operand)
	}
	return p.primary()
}

// primary -> atom ( "." IDENT | "(" args ")" | "as" TYPE )*
func (p *Parser) primary() *ast.Node {
	expr := p.atom()
	for {
		tok := p.current
		switch {
		case p.match(token.Dot):
			field := p.expect(token.Ident, "Expected an identifier after '.'")
			expr = ast.NewAttributeRef(field, expr, field.Value)
		case p.match(token.LParen):
			expr = ast.NewCall(tok, expr, p.arguments())
		case p.match(token.As):
			if !p.current.Type.IsTypeName() {
				p.errorAtCurrent("Expected a type name after 'as', got '%s'", describe(p.current))
			}
			p.advance()
			expr = ast.NewCast(tok, expr, p.previous)
		default:
			return expr
		}
	}
}

func (p *Parser) arguments() []*ast.Node {
	p.pushRestriction(noRestriction)
	defer p.popRestriction()
	var args []*ast.Node
	for !p.check(token.RParen) && !p.check(token.EOF) {
		args = append(args, p.assignment())
		if !p.match(token.Comma) && !p.check(token.RParen) {
			p.errorAtCurrent("Expected ',' or ')' after function argument")
		}
	}
	p.expect(token.RParen, "Expected ')' after function arguments")
	return args
}

func (p *Parser) atom() *ast.Node {
	tok := p.current
	switch {
	case p.current.Type.IsLiteral():
		p.advance()
		return ast.NewLiteral(tok)
	case p.match(token.LParen):
		p.pushRestriction(noRestriction)
		inner := p.exprList()
		p.popRestriction()
		p.expect(token.RParen, "Expected ')' at the end of parenthesized expression")
		return ast.NewGrouping(tok, inner)
	case p.check(token.Ident):
		if p.peek().Type == token.LBrace && !p.restricted(noStructLiteral) {
			p.advance()
			return p.structLiteral(tok)
		}
		p.advance()
		return ast.NewVariable(tok, tok.Value)
	case p.check(token.Null):
		p.errorAtCurrent("'null' is reserved and has no value in this language")
	}
	p.errorAtCurrent("Expected an expression, got '%s'", describe(p.current))
	return nil
}

// structLiteral -> IDENT "{" (IDENT ":" assignment ("," IDENT ":" assignment)* ","?)? "}"
func (p *Parser) structLiteral(nameTok token.Token) *ast.Node {
	p.expect(token.LBrace, "Expected '{' after struct name in struct literal")
	p.pushRestriction(noRestriction)
	defer p.popRestriction()

	var fields []ast.FieldInit
	for !p.check(token.RBrace) && !p.check(token.EOF) {
		fieldTok := p.expect(token.Ident, "Expected field name in struct literal")
		p.expect(token.Colon, "Expected ':' after field name in struct literal")
		value := p.assignment()
		fields = append(fields, ast.FieldInit{Name: fieldTok.Value, Tok: fieldTok, Value: value})
		if !p.match(token.Comma) && !p.check(token.RBrace) {
			p.errorAtCurrent("Expected ',' or '}' after field value")
		}
	}
	p.expect(token.RBrace, "Expected '}' at the end of struct literal")
	return ast.NewStructLiteral(nameTok, nameTok.Value, fields)
}
