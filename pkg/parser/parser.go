// Package parser turns source text into the syntax tree consumed by the
// bytecode compiler.
//
// Grammar:
//
//	program := expr* EOF           (a stray ";;" at top level is skipped)
//	body    := expr* ";;"
//	func    := "func" IDENT "(" [IDENT {"," IDENT}] ")" ":" body
//	if      := "if" expr ":" body ["else" ":" body]
//	return  := "return" expr
//	expr    := equality
//
// Binary operators bind, loosest first: == != ; + - ; * / . A call is an
// identifier immediately followed by "(".
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/ebc/pkg/ast"
)

// Error is a single parse error with its source position.
type Error struct {
	Pos ast.Position
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}

// ErrorList collects every error found while parsing a source text.
type ErrorList []*Error

func (l ErrorList) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	msgs := make([]string, len(l))
	for i, e := range l {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d parse errors:\n  %s", len(l), strings.Join(msgs, "\n  "))
}

// maxErrors stops parsing after this many errors; later errors are almost
// always cascades of the first ones.
const maxErrors = 10

// Parser is a recursive-descent parser with precedence climbing for binary
// operators.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
	errors    ErrorList
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	// Read two tokens to fill curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses a whole program. The returned block is the top-level body.
func Parse(input string) (*ast.Block, error) {
	p := NewParser(input)
	prog := p.ParseProgram()
	if len(p.errors) > 0 {
		return nil, p.errors
	}
	return prog, nil
}

// Errors returns accumulated parse errors.
func (p *Parser) Errors() ErrorList {
	return p.errors
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// expect advances if the current token matches, otherwise records an error.
func (p *Parser) expect(t TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	p.errorf("expected %s, got %s", t, describe(p.curToken))
	return false
}

// errorf records a parse error at the current token.
func (p *Parser) errorf(format string, args ...interface{}) {
	p.errors = append(p.errors, &Error{Pos: p.curToken.Pos, Msg: fmt.Sprintf(format, args...)})
}

func (p *Parser) tooManyErrors() bool {
	return len(p.errors) >= maxErrors
}

func describe(tok Token) string {
	switch tok.Type {
	case TokenEOF:
		return "end of input"
	case TokenError:
		return tok.Literal
	case TokenInteger, TokenIdentifier:
		return fmt.Sprintf("%s %q", tok.Type, tok.Literal)
	}
	return fmt.Sprintf("%q", tok.Literal)
}

// ---------------------------------------------------------------------------
// Bodies
// ---------------------------------------------------------------------------

// ParseProgram parses expressions until EOF.
func (p *Parser) ParseProgram() *ast.Block {
	block := &ast.Block{SpanVal: ast.Span{Start: p.curToken.Pos}}
	for !p.curTokenIs(TokenEOF) && !p.tooManyErrors() {
		if p.curTokenIs(TokenTerminator) {
			p.nextToken()
			continue
		}
		if e := p.parseExprOrSkip(); e != nil {
			block.Exprs = append(block.Exprs, e)
		}
	}
	block.SpanVal.End = p.curToken.Pos
	return block
}

// parseBody parses expressions up to and including the closing ";;".
func (p *Parser) parseBody() *ast.Block {
	block := &ast.Block{SpanVal: ast.Span{Start: p.curToken.Pos}}
	for !p.curTokenIs(TokenTerminator) {
		if p.curTokenIs(TokenEOF) {
			p.errorf("unterminated body: expected ;; before end of input")
			break
		}
		if p.tooManyErrors() {
			break
		}
		if e := p.parseExprOrSkip(); e != nil {
			block.Exprs = append(block.Exprs, e)
		}
	}
	block.SpanVal.End = p.curToken.Pos
	if p.curTokenIs(TokenTerminator) {
		p.nextToken()
	}
	return block
}

// parseExprOrSkip parses one expression. On failure it consumes at least one
// token so the enclosing loop always makes progress.
func (p *Parser) parseExprOrSkip() ast.Expr {
	before := p.curToken
	e := p.parseExpr()
	if e == nil && p.curToken == before && !p.curTokenIs(TokenEOF) && !p.curTokenIs(TokenTerminator) {
		p.nextToken()
	}
	return e
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (p *Parser) parseExpr() ast.Expr {
	return p.parseBinary(1)
}

// parseBinary implements precedence climbing. All operators are left
// associative.
func (p *Parser) parseBinary(minPrec int) ast.Expr {
	left := p.parseUnary()
	if left == nil {
		return nil
	}
	for {
		prec := precedence(p.curToken.Type)
		if prec == 0 || prec < minPrec {
			return left
		}
		op := binaryOps[p.curToken.Type]
		p.nextToken()
		right := p.parseBinary(prec + 1)
		if right == nil {
			return nil
		}
		left = &ast.BinaryExpr{
			SpanVal: ast.Span{Start: left.Span().Start, End: right.Span().End},
			Op:      op,
			Left:    left,
			Right:   right,
		}
	}
}

// parseUnary handles a leading minus. A minus directly before an integer is
// folded into the literal so the full int64 range is expressible; any other
// operand becomes `0 - operand`.
func (p *Parser) parseUnary() ast.Expr {
	if !p.curTokenIs(TokenMinus) {
		return p.parsePostfix()
	}
	start := p.curToken.Pos
	p.nextToken()
	if p.curTokenIs(TokenInteger) {
		tok := p.curToken
		p.nextToken()
		v, err := strconv.ParseInt("-"+tok.Literal, 10, 64)
		if err != nil {
			p.errors = append(p.errors, &Error{Pos: tok.Pos, Msg: fmt.Sprintf("integer literal -%s out of range", tok.Literal)})
			return nil
		}
		return &ast.IntLiteral{SpanVal: ast.Span{Start: start, End: endOf(tok)}, Value: v}
	}
	operand := p.parseUnary()
	if operand == nil {
		return nil
	}
	return &ast.BinaryExpr{
		SpanVal: ast.Span{Start: start, End: operand.Span().End},
		Op:      ast.OpSub,
		Left:    &ast.IntLiteral{SpanVal: ast.Span{Start: start, End: start}},
		Right:   operand,
	}
}

func (p *Parser) parsePostfix() ast.Expr {
	base := p.parsePrimary()
	if base == nil {
		return nil
	}
	for p.curTokenIs(TokenLParen) {
		if _, ok := base.(*ast.Identifier); !ok {
			p.errorf("only a function name can be called")
			return nil
		}
		base = p.parseCall(base)
		if base == nil {
			return nil
		}
	}
	return base
}

func (p *Parser) parseCall(callee ast.Expr) ast.Expr {
	p.nextToken() // consume (
	call := &ast.CallExpr{Callee: callee}
	if !p.curTokenIs(TokenRParen) {
		for {
			arg := p.parseExpr()
			if arg == nil {
				return nil
			}
			call.Args = append(call.Args, arg)
			if p.curTokenIs(TokenComma) {
				p.nextToken()
				continue
			}
			break
		}
	}
	end := endOf(p.curToken)
	if !p.expect(TokenRParen) {
		return nil
	}
	call.SpanVal = ast.Span{Start: callee.Span().Start, End: end}
	return call
}

func (p *Parser) parsePrimary() ast.Expr {
	tok := p.curToken
	switch tok.Type {
	case TokenInteger:
		p.nextToken()
		v, err := strconv.ParseInt(tok.Literal, 10, 64)
		if err != nil {
			p.errors = append(p.errors, &Error{Pos: tok.Pos, Msg: fmt.Sprintf("integer literal %s out of range", tok.Literal)})
			return nil
		}
		return &ast.IntLiteral{SpanVal: ast.Span{Start: tok.Pos, End: endOf(tok)}, Value: v}

	case TokenIdentifier:
		p.nextToken()
		return &ast.Identifier{SpanVal: ast.Span{Start: tok.Pos, End: endOf(tok)}, Name: tok.Literal}

	case TokenLParen:
		p.nextToken()
		inner := p.parseExpr()
		if inner == nil {
			return nil
		}
		if !p.expect(TokenRParen) {
			return nil
		}
		return inner

	case TokenFunc:
		return p.parseFunc()

	case TokenIf:
		return p.parseIf()

	case TokenReturn:
		p.nextToken()
		value := p.parseExpr()
		if value == nil {
			return nil
		}
		return &ast.ReturnExpr{SpanVal: ast.Span{Start: tok.Pos, End: value.Span().End}, Value: value}

	case TokenError:
		p.errorf("%s", tok.Literal)
		p.nextToken()
		return nil

	default:
		p.errorf("unexpected %s", describe(tok))
		return nil
	}
}

func (p *Parser) parseFunc() ast.Expr {
	start := p.curToken.Pos
	p.nextToken() // consume func

	if !p.curTokenIs(TokenIdentifier) {
		p.errorf("expected function name, got %s", describe(p.curToken))
		return nil
	}
	fn := &ast.FuncLiteral{Name: p.curToken.Literal}
	p.nextToken()

	if !p.expect(TokenLParen) {
		return nil
	}
	seen := make(map[string]bool)
	if !p.curTokenIs(TokenRParen) {
		for {
			if !p.curTokenIs(TokenIdentifier) {
				p.errorf("expected parameter name, got %s", describe(p.curToken))
				return nil
			}
			name := p.curToken.Literal
			if seen[name] {
				p.errorf("duplicate parameter %q in function %s", name, fn.Name)
			}
			seen[name] = true
			fn.Params = append(fn.Params, name)
			p.nextToken()
			if p.curTokenIs(TokenComma) {
				p.nextToken()
				continue
			}
			break
		}
	}
	if !p.expect(TokenRParen) || !p.expect(TokenColon) {
		return nil
	}
	fn.Body = p.parseBody()
	fn.SpanVal = ast.Span{Start: start, End: fn.Body.SpanVal.End}
	return fn
}

func (p *Parser) parseIf() ast.Expr {
	start := p.curToken.Pos
	p.nextToken() // consume if

	cond := p.parseExpr()
	if cond == nil {
		return nil
	}
	if !p.expect(TokenColon) {
		return nil
	}
	n := &ast.IfExpr{Cond: cond, Then: p.parseBody()}
	n.SpanVal = ast.Span{Start: start, End: n.Then.SpanVal.End}

	if p.curTokenIs(TokenElse) {
		p.nextToken()
		if !p.expect(TokenColon) {
			return nil
		}
		n.Else = p.parseBody()
		n.SpanVal.End = n.Else.SpanVal.End
	}
	return n
}

// endOf returns the position just past a token.
func endOf(tok Token) ast.Position {
	return ast.Position{
		Offset: tok.Pos.Offset + len(tok.Literal),
		Line:   tok.Pos.Line,
		Column: tok.Pos.Column + len(tok.Literal),
	}
}
