// Package ast defines the syntax tree consumed by the bytecode compiler.
//
// Trees are built once by the parser (or by hand in tests and embedding
// hosts) and are never mutated afterwards. Nodes carry no back-references;
// spans are advisory and only feed debug line tables and diagnostics.
package ast

import (
	"fmt"
	"strings"
)

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	node() // marker method
}

// Expr is the interface for expression nodes. Every construct of the
// language is an expression; statements are expressions whose value is
// discarded.
type Expr interface {
	Node
	expr() // marker method
}

// BinaryOp identifies a binary operator.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpEq
	OpNe
)

var binaryOpNames = [...]string{
	OpAdd: "+",
	OpSub: "-",
	OpMul: "*",
	OpDiv: "/",
	OpEq:  "==",
	OpNe:  "!=",
}

func (op BinaryOp) String() string {
	if int(op) >= 0 && int(op) < len(binaryOpNames) {
		return binaryOpNames[op]
	}
	return fmt.Sprintf("BinaryOp(%d)", int(op))
}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// IntLiteral represents an integer literal.
type IntLiteral struct {
	SpanVal Span
	Value   int64
}

func (n *IntLiteral) Span() Span { return n.SpanVal }
func (n *IntLiteral) node()      {}
func (n *IntLiteral) expr()      {}

// Identifier names a parameter or a function.
type Identifier struct {
	SpanVal Span
	Name    string
}

func (n *Identifier) Span() Span { return n.SpanVal }
func (n *Identifier) node()      {}
func (n *Identifier) expr()      {}

// FuncLiteral defines a named function. The definition itself produces no
// value; it makes Name visible to its siblings and to its own body.
type FuncLiteral struct {
	SpanVal Span
	Name    string
	Params  []string
	Body    *Block
}

func (n *FuncLiteral) Span() Span { return n.SpanVal }
func (n *FuncLiteral) node()      {}
func (n *FuncLiteral) expr()      {}

// BinaryExpr represents `Left Op Right`. Left is evaluated before Right.
type BinaryExpr struct {
	SpanVal Span
	Op      BinaryOp
	Left    Expr
	Right   Expr
}

func (n *BinaryExpr) Span() Span { return n.SpanVal }
func (n *BinaryExpr) node()      {}
func (n *BinaryExpr) expr()      {}

// CallExpr represents `Callee(Args...)`. The grammar only produces bare
// identifiers as callees.
type CallExpr struct {
	SpanVal Span
	Callee  Expr
	Args    []Expr
}

func (n *CallExpr) Span() Span { return n.SpanVal }
func (n *CallExpr) node()      {}
func (n *CallExpr) expr()      {}

// IfExpr represents a conditional. Else is nil when absent.
type IfExpr struct {
	SpanVal Span
	Cond    Expr
	Then    *Block
	Else    *Block
}

func (n *IfExpr) Span() Span { return n.SpanVal }
func (n *IfExpr) node()      {}
func (n *IfExpr) expr()      {}

// Block is an ordered sequence of expressions.
type Block struct {
	SpanVal Span
	Exprs   []Expr
}

func (n *Block) Span() Span { return n.SpanVal }
func (n *Block) node()      {}
func (n *Block) expr()      {}

// ReturnExpr leaves the enclosing function with Value.
type ReturnExpr struct {
	SpanVal Span
	Value   Expr
}

func (n *ReturnExpr) Span() Span { return n.SpanVal }
func (n *ReturnExpr) node()      {}
func (n *ReturnExpr) expr()      {}

// ---------------------------------------------------------------------------
// Construction helpers
// ---------------------------------------------------------------------------

// Int returns an integer literal without position information.
func Int(v int64) *IntLiteral { return &IntLiteral{Value: v} }

// Ident returns an identifier without position information.
func Ident(name string) *Identifier { return &Identifier{Name: name} }

// Binary returns a binary expression without position information.
func Binary(op BinaryOp, left, right Expr) *BinaryExpr {
	return &BinaryExpr{Op: op, Left: left, Right: right}
}

// Call returns a call of the named function.
func Call(name string, args ...Expr) *CallExpr {
	return &CallExpr{Callee: Ident(name), Args: args}
}

// Body returns a block of the given expressions.
func Body(exprs ...Expr) *Block { return &Block{Exprs: exprs} }

// Func returns a function literal.
func Func(name string, params []string, body ...Expr) *FuncLiteral {
	return &FuncLiteral{Name: name, Params: params, Body: Body(body...)}
}

// If returns a conditional. Pass a nil els for a then-only conditional.
func If(cond Expr, then, els *Block) *IfExpr {
	return &IfExpr{Cond: cond, Then: then, Else: els}
}

// Return returns a return expression.
func Return(v Expr) *ReturnExpr { return &ReturnExpr{Value: v} }

// ---------------------------------------------------------------------------
// Printing
// ---------------------------------------------------------------------------

// String renders an expression in source-like syntax for diagnostics.
// Binary expressions are fully parenthesized.
func String(e Expr) string {
	var b strings.Builder
	write(&b, e)
	return b.String()
}

func write(b *strings.Builder, e Expr) {
	switch n := e.(type) {
	case *IntLiteral:
		fmt.Fprintf(b, "%d", n.Value)
	case *Identifier:
		b.WriteString(n.Name)
	case *BinaryExpr:
		b.WriteByte('(')
		write(b, n.Left)
		fmt.Fprintf(b, " %s ", n.Op)
		write(b, n.Right)
		b.WriteByte(')')
	case *CallExpr:
		write(b, n.Callee)
		b.WriteByte('(')
		for i, a := range n.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			write(b, a)
		}
		b.WriteByte(')')
	case *FuncLiteral:
		fmt.Fprintf(b, "func %s(%s): ", n.Name, strings.Join(n.Params, ", "))
		writeBody(b, n.Body)
	case *IfExpr:
		b.WriteString("if ")
		write(b, n.Cond)
		b.WriteString(": ")
		writeBody(b, n.Then)
		if n.Else != nil {
			b.WriteString(" else: ")
			writeBody(b, n.Else)
		}
	case *ReturnExpr:
		b.WriteString("return ")
		write(b, n.Value)
	case *Block:
		for i, x := range n.Exprs {
			if i > 0 {
				b.WriteByte(' ')
			}
			write(b, x)
		}
	case nil:
		b.WriteString("<nil>")
	default:
		fmt.Fprintf(b, "<%T>", e)
	}
}

func writeBody(b *strings.Builder, body *Block) {
	if body != nil {
		for _, x := range body.Exprs {
			write(b, x)
			b.WriteByte(' ')
		}
	}
	b.WriteString(";;")
}
