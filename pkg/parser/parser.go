package parser

import (
	"fmt"

	"github.com/xplshn/traitc/pkg/ast"
	"github.com/xplshn/traitc/pkg/config"
	"github.com/xplshn/traitc/pkg/token"
	"github.com/xplshn/traitc/pkg/util"
)

type restriction int

const (
	noRestriction restriction = iota
	noStructLiteral
)

// bailout unwinds the parser to the nearest statement or declaration loop,
// which then resynchronizes.
type bailout struct{}

// Parser holds the state for the parsing process
type Parser struct {
	tokens       []token.Token
	pos          int
	current      token.Token
	previous     token.Token
	cfg          *config.Config
	rep          *util.Reporter
	restrictions []restriction
	hasErrors    bool
}

// NewParser creates and initializes a new Parser from a token stream.
// The stream must end with an EOF token.
func NewParser(tokens []token.Token, cfg *config.Config, rep *util.Reporter) *Parser {
	if len(tokens) == 0 || tokens[len(tokens)-1].Type != token.EOF {
		tokens = append(tokens, token.Token{Type: token.EOF})
	}
	p := &Parser{tokens: tokens, pos: 0, cfg: cfg, rep: rep}
	p.current = p.tokens[0]
	return p
}

// Parse returns the top-level declarations and whether any syntax error was
// reported. It never stops at the first error.
func (p *Parser) Parse() ([]*ast.Node, bool) {
	var decls []*ast.Node
	for !p.check(token.EOF) {
		if p.match(token.Semi) {
			p.rep.Warn(config.WarnExtra, p.previous, "Unnecessary ';' at top level")
			continue
		}
		if decl := p.topLevel(); decl != nil {
			decls = append(decls, decl)
		}
	}
	return decls, p.hasErrors
}

func (p *Parser) topLevel() (decl *ast.Node) {
	depth := len(p.restrictions)
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(bailout); !ok {
				panic(r)
			}
			p.restrictions = p.restrictions[:depth]
			p.synchronize()
			if p.check(token.RBrace) {
				p.advance()
			}
			decl = nil
		}
	}()

	if !isDeclStart(p.current.Type) {
		p.errorAtCurrent("Expected a top-level declaration (struct, impl, trait or func), got '%s'", describe(p.current))
	}
	return p.declaration()
}

// Parser helpers
func (p *Parser) advance() {
	if p.pos < len(p.tokens)-1 {
		p.previous = p.current
		p.pos++
		p.current = p.tokens[p.pos]
	} else {
		p.previous = p.current
	}
}

func (p *Parser) peek() token.Token {
	if p.pos+1 < len(p.tokens) {
		return p.tokens[p.pos+1]
	}
	return p.tokens[len(p.tokens)-1]
}

func (p *Parser) check(tokType token.Type) bool {
	return p.current.Type == tokType
}

func (p *Parser) match(tokTypes ...token.Type) bool {
	for _, t := range tokTypes {
		if p.check(t) {
			p.advance()
			return true
		}
	}
	return false
}

func (p *Parser) expect(tokType token.Type, message string) token.Token {
	if p.check(tokType) {
		p.advance()
		return p.previous
	}
	p.errorAtCurrent("%s", message)
	return token.Token{}
}

func (p *Parser) errorAtCurrent(format string, args ...interface{}) {
	p.errorAt(p.current, format, args...)
}

func (p *Parser) errorAt(tok token.Token, format string, args ...interface{}) {
	p.report(tok, format, args...)
	panic(bailout{})
}

// report records a syntax error without unwinding.
func (p *Parser) report(tok token.Token, format string, args ...interface{}) {
	p.hasErrors = true
	p.rep.Error(tok, format, args...)
}

// synchronize skips tokens until just after a ';', or until a '}' or a
// declaration keyword, whichever comes first.
func (p *Parser) synchronize() {
	for !p.check(token.EOF) {
		switch p.current.Type {
		case token.Semi:
			p.advance()
			return
		case token.RBrace, token.Struct, token.Impl, token.Trait, token.Func:
			return
		}
		p.advance()
	}
}

func (p *Parser) pushRestriction(r restriction) { p.restrictions = append(p.restrictions, r) }

func (p *Parser) popRestriction() { p.restrictions = p.restrictions[:len(p.restrictions)-1] }

func (p *Parser) restricted(r restriction) bool {
	return len(p.restrictions) > 0 && p.restrictions[len(p.restrictions)-1] == r
}

func isDeclStart(t token.Type) bool {
	return t == token.Struct || t == token.Impl || t == token.Trait || t == token.Func
}

// atForeignDecl reports a declaration keyword that cannot appear in an impl
// or trait body, which means the body was never closed.
func atForeignDecl(t token.Type) bool {
	return t == token.Struct || t == token.Impl || t == token.Trait
}

func describe(tok token.Token) string {
	if tok.Value != "" {
		return tok.Value
	}
	return tok.Type.String()
}

// Declarations

func (p *Parser) declaration() *ast.Node {
	switch {
	case p.match(token.Struct):
		return p.structDecl()
	case p.match(token.Impl):
		return p.implDecl()
	case p.match(token.Trait):
		return p.traitDecl()
	case p.match(token.Func):
		return p.funcDef()
	}
	p.errorAtCurrent("Expected a declaration")
	return nil
}

func (p *Parser) parseType(what string) *ast.Datatype {
	if !p.current.Type.IsTypeName() {
		p.errorAtCurrent("Expected a type name for %s, got '%s'", what, describe(p.current))
	}
	p.advance()
	return ast.TypeFromToken(p.previous)
}

// structDecl -> "struct" IDENT "{" (IDENT ":" TYPE ("," IDENT ":" TYPE)* ","?)? "}"
func (p *Parser) structDecl() *ast.Node {
	structTok := p.previous
	nameTok := p.expect(token.Ident, "Expected identifier after 'struct' keyword")
	p.expect(token.LBrace, "Expected '{' after struct name")

	var fields []ast.Field
	seen := make(map[string]bool)
	for !p.check(token.RBrace) && !p.check(token.EOF) {
		fieldTok := p.expect(token.Ident, "Expected field name inside struct declaration")
		p.expect(token.Colon, "Expected ':' after field name in struct declaration")
		typ := p.parseType(fmt.Sprintf("field '%s'", fieldTok.Value))
		if seen[fieldTok.Value] {
			p.report(fieldTok, "Duplicate field '%s' in struct '%s'", fieldTok.Value, nameTok.Value)
		}
		seen[fieldTok.Value] = true
		fields = append(fields, ast.Field{Name: fieldTok.Value, Tok: fieldTok, Type: typ})
		if !p.match(token.Comma) && !p.check(token.RBrace) {
			p.errorAtCurrent("Expected ',' or '}' after field declaration")
		}
	}
	p.expect(token.RBrace, "Expected '}' after struct fields")
	p.trailingSemi()
	return ast.NewStructDecl(structTok, nameTok.Value, fields)
}

// implDecl -> "impl" IDENT ("for" IDENT)? "{" funcDef* "}"
func (p *Parser) implDecl() *ast.Node {
	implTok := p.previous
	nameTok := p.expect(token.Ident, "Expected struct or trait name after 'impl' keyword")
	structName, traitName := nameTok.Value, ""
	var traitTok token.Token
	if p.match(token.For) {
		traitName, traitTok = nameTok.Value, nameTok
		structName = p.expect(token.Ident, "Expected struct name for which the trait is being implemented").Value
	}
	p.expect(token.LBrace, "Expected '{' after 'impl' head")

	var methods []*ast.Node
	for !p.check(token.RBrace) && !p.check(token.EOF) && !atForeignDecl(p.current.Type) {
		if m := p.member("impl", func(m *ast.Node) {
			if m.Type != ast.FuncDef {
				p.report(m.Tok, "Method '%s' in an impl block needs a body", ast.PrototypeOf(m).Name)
			}
		}); m != nil {
			methods = append(methods, m)
		}
	}
	p.expect(token.RBrace, "Expected '}' after impl body")
	p.trailingSemi()
	return ast.NewImplDecl(implTok, structName, traitName, traitTok, methods)
}

// traitDecl -> "trait" IDENT "{" (prototype ";"? | funcDef)* "}"
func (p *Parser) traitDecl() *ast.Node {
	traitTok := p.previous
	nameTok := p.expect(token.Ident, "Expected trait name after 'trait' keyword")
	p.expect(token.LBrace, "Expected '{' after trait name")

	var methods []*ast.Node
	for !p.check(token.RBrace) && !p.check(token.EOF) && !atForeignDecl(p.current.Type) {
		if m := p.member("trait", nil); m != nil {
			methods = append(methods, m)
		}
	}
	p.expect(token.RBrace, "Expected '}' after trait body")
	p.trailingSemi()
	return ast.NewTraitDecl(traitTok, nameTok.Value, methods)
}

// member parses one method of an impl or trait body, recovering locally.
func (p *Parser) member(where string, validate func(*ast.Node)) (m *ast.Node) {
	depth := len(p.restrictions)
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(bailout); !ok {
				panic(r)
			}
			p.restrictions = p.restrictions[:depth]
			p.synchronize()
			m = nil
		}
	}()
	p.expect(token.Func, fmt.Sprintf("Expected a function inside %s declaration", where))
	m = p.funcDef()
	if validate != nil {
		validate(m)
	}
	return m
}

func (p *Parser) trailingSemi() {
	if p.match(token.Semi) {
		p.rep.Warn(config.WarnExtra, p.previous, "Unnecessary ';' after declaration")
	}
}

// funcDef -> prototype (block | ";")?
func (p *Parser) funcDef() *ast.Node {
	funcTok := p.previous
	proto := p.prototype(funcTok)
	if !p.check(token.LBrace) {
		p.match(token.Semi)
		return proto
	}
	body := p.block()
	return ast.NewFuncDef(funcTok, proto, body)
}

// prototype -> IDENT "(" params? ")" ("->" TYPE)?
// params    -> param ("," param)*, param -> "self" | IDENT ("," IDENT)* ":" TYPE
func (p *Parser) prototype(funcTok token.Token) *ast.Node {
	nameTok := p.expect(token.Ident, "Expected function name after 'func' keyword")
	p.expect(token.LParen, "Expected '(' after function name")

	var params []ast.Param
	seen := make(map[string]bool)
	addParam := func(prm ast.Param) {
		if seen[prm.Name] {
			p.report(prm.Tok, "Duplicate parameter '%s' in function '%s'", prm.Name, nameTok.Value)
		}
		seen[prm.Name] = true
		params = append(params, prm)
	}

	for !p.check(token.RParen) && !p.check(token.EOF) {
		first := p.expect(token.Ident, "Expected parameter name")
		if first.Value == "self" && !p.check(token.Colon) {
			if len(params) > 0 {
				p.report(first, "'self' must be the first parameter")
			}
			addParam(ast.Param{Name: "self", Tok: first})
		} else {
			names := []token.Token{first}
			for p.check(token.Comma) && p.peek().Type == token.Ident {
				p.advance()
				p.advance()
				names = append(names, p.previous)
				if p.check(token.Colon) {
					break
				}
			}
			p.expect(token.Colon, "Expected ':' after parameter names to separate type")
			typ := p.parseType(fmt.Sprintf("parameter '%s'", names[len(names)-1].Value))
			for _, n := range names {
				addParam(ast.Param{Name: n.Value, Tok: n, Type: typ})
			}
		}
		if !p.match(token.Comma) && !p.check(token.RParen) {
			p.errorAtCurrent("Expected ',' or ')' after parameter")
		}
	}
	p.expect(token.RParen, "Expected ')' after parameters")

	var ret *ast.Datatype
	if p.match(token.Arrow) {
		ret = p.parseType("the return value")
	}
	return ast.NewPrototype(nameTok, nameTok.Value, params, ret)
}

// Statements

func (p *Parser) block() *ast.Node {
	tok := p.expect(token.LBrace, "Expected '{' to start a block")
	var stmts []*ast.Node
	for !p.check(token.RBrace) && !p.check(token.EOF) {
		if stmt := p.statement(); stmt != nil {
			stmts = append(stmts, stmt)
		}
	}
	p.expect(token.RBrace, "Expected '}' after block")
	return ast.NewBlock(tok, stmts)
}

func (p *Parser) statement() (stmt *ast.Node) {
	depth := len(p.restrictions)
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(bailout); !ok {
				panic(r)
			}
			p.restrictions = p.restrictions[:depth]
			p.synchronize()
			stmt = nil
		}
	}()

	tok := p.current
	switch {
	case p.match(token.If):
		return p.ifStmt(tok)
	case p.match(token.For):
		return p.forStmt(tok)
	case p.match(token.While):
		return p.whileStmt(tok)
	case p.match(token.Return):
		var expr *ast.Node
		if !p.check(token.Semi) {
			expr = p.exprList()
		}
		p.expect(token.Semi, "Expected ';' after return statement")
		return ast.NewReturn(tok, expr)
	case p.match(token.Var):
		decl := p.varDecl(tok)
		p.expect(token.Semi, "Expected ';' after variable declaration")
		return decl
	case isDeclStart(p.current.Type):
		return ast.NewDeclStmt(tok, p.declaration())
	case p.check(token.LBrace):
		return p.block()
	case p.match(token.Semi):
		return nil
	}
	expr := p.exprList()
	p.expect(token.Semi, "Expected ';' after expression statement")
	return ast.NewExprStmt(tok, expr)
}

// varDecl -> "var" IDENT (":" TYPE)? ("=" assignment)?
func (p *Parser) varDecl(tok token.Token) *ast.Node {
	nameTok := p.expect(token.Ident, "Expected variable name after 'var' keyword")
	var declared *ast.Datatype
	if p.match(token.Colon) {
		declared = p.parseType(fmt.Sprintf("variable '%s'", nameTok.Value))
	}
	var init *ast.Node
	if p.match(token.Eq) {
		init = p.assignment()
	}
	if declared == nil && init == nil {
		p.errorAt(nameTok, "A variable declaration requires either a type or an initializer")
	}
	return ast.NewVarDecl(nameTok, nameTok.Value, declared, init)
}

func (p *Parser) condition() *ast.Node {
	p.pushRestriction(noStructLiteral)
	cond := p.exprList()
	p.popRestriction()
	return cond
}

func (p *Parser) ifStmt(tok token.Token) *ast.Node {
	cond := p.condition()
	then := p.block()
	var els *ast.Node
	if p.match(token.Else) {
		if p.check(token.If) {
			elseTok := p.current
			p.advance()
			els = p.ifStmt(elseTok)
		} else {
			els = p.block()
		}
	}
	return ast.NewIf(tok, cond, then, els)
}

func (p *Parser) whileStmt(tok token.Token) *ast.Node {
	if p.cfg != nil && !p.cfg.IsFeatureEnabled(config.FeatWhileLoops) {
		p.report(tok, "'while' loops are disabled by the current feature set (-Fno-while-loops)")
	}
	cond := p.condition()
	body := p.block()
	return ast.NewWhile(tok, cond, body)
}

// forStmt accepts three header shapes:
//
//	for { }
//	for cond { }
//	for init; cond; step { }
func (p *Parser) forStmt(tok token.Token) *ast.Node {
	if p.check(token.LBrace) {
		return ast.NewFor(tok, nil, nil, nil, p.block())
	}

	p.pushRestriction(noStructLiteral)
	var first *ast.Node
	if p.check(token.Var) {
		// only a three-clause header starts with var, so a brace in its
		// initializer cannot open the body
		varTok := p.current
		p.advance()
		p.pushRestriction(noRestriction)
		first = p.varDecl(varTok)
		p.popRestriction()
	} else if !p.check(token.Semi) {
		first = p.exprList()
	}

	if !p.match(token.Semi) {
		p.popRestriction()
		if first == nil || first.Type == ast.VarDecl {
			p.errorAtCurrent("Expected ';' after for-loop initializer")
		}
		return ast.NewFor(tok, nil, first, nil, p.block())
	}

	var cond, step *ast.Node
	if !p.check(token.Semi) {
		cond = p.exprList()
	}
	p.expect(token.Semi, "Expected ';' after for-loop condition")
	if !p.check(token.LBrace) {
		step = p.exprList()
	}
	p.popRestriction()
	return ast.NewFor(tok, first, cond, step, p.block())
}
