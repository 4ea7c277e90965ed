package bytecode

import (
	"fmt"

	"github.com/chazu/ebc/pkg/ast"
)

// Compiler converts a syntax tree into a Function.
//
// Every expression in a body except the last is compiled in discard mode:
// its value, if any, is popped. A body therefore leaves at most one value
// on the operand stack.
type Compiler struct {
	fn *Function

	// Source tracking for debug info
	currentLine   uint32
	currentColumn uint16
}

// binaryOpcodes maps AST operators to their instructions.
var binaryOpcodes = map[ast.BinaryOp]Opcode{
	ast.OpAdd: OpAdd,
	ast.OpSub: OpSub,
	ast.OpMul: OpMul,
	ast.OpDiv: OpDiv,
	ast.OpEq:  OpEq,
	ast.OpNe:  OpNe,
}

// Compile compiles a top-level program into an unnamed Function.
func Compile(body *ast.Block) (*Function, error) {
	fn := NewFunction("", nil)
	if err := CompileInto(fn, body); err != nil {
		return nil, err
	}
	return fn, nil
}

// CompileFunction compiles a function literal into its own Function.
func CompileFunction(lit *ast.FuncLiteral) (*Function, error) {
	if lit == nil {
		return nil, fmt.Errorf("compile: nil function literal")
	}
	fn := NewFunction(lit.Name, append([]string(nil), lit.Params...))
	if err := CompileInto(fn, lit.Body); err != nil {
		return nil, err
	}
	return fn, nil
}

// CompileInto appends the code for body to fn, registering nested function
// literals as children of fn. The body's last value, if it produces one, is
// left on the stack.
func CompileInto(fn *Function, body *ast.Block) error {
	if fn == nil {
		return fmt.Errorf("compile: nil function")
	}
	c := &Compiler{fn: fn}
	if body == nil {
		return nil
	}
	_, err := c.compileBody(body.Exprs, true)
	return err
}

// compileBody compiles a sequence. When keep is true the last expression's
// value stays on the stack; every other value is popped. It reports whether
// a value was left.
func (c *Compiler) compileBody(exprs []ast.Expr, keep bool) (bool, error) {
	left := false
	for i, e := range exprs {
		last := i == len(exprs)-1
		if err := c.compileExpr(e); err != nil {
			return false, err
		}
		if Produces(e) {
			if last && keep {
				left = true
			} else {
				c.fn.Emit(OpPop)
			}
		}
	}
	return left, nil
}

// compileExpr emits code that leaves exactly Produces(e) values.
func (c *Compiler) compileExpr(e ast.Expr) error {
	if e == nil {
		return c.errorf(ast.Position{}, "nil expression")
	}
	c.mark(e.Span())

	switch n := e.(type) {
	case *ast.IntLiteral:
		c.fn.EmitInt(n.Value)
		return nil

	case *ast.Identifier:
		_, err := c.fn.EmitLoad(n.Name)
		return err

	case *ast.BinaryExpr:
		op, ok := binaryOpcodes[n.Op]
		if !ok {
			return c.errorf(n.Span().Start, "unknown operator %s", n.Op)
		}
		if err := c.compileValue(n.Left, "left operand of "+n.Op.String()); err != nil {
			return err
		}
		if err := c.compileValue(n.Right, "right operand of "+n.Op.String()); err != nil {
			return err
		}
		c.mark(n.Span())
		c.fn.Emit(op)
		return nil

	case *ast.FuncLiteral:
		child, err := CompileFunction(n)
		if err != nil {
			return err
		}
		c.fn.Children = append(c.fn.Children, child)
		return nil

	case *ast.CallExpr:
		return c.compileCall(n)

	case *ast.IfExpr:
		return c.compileIf(n)

	case *ast.ReturnExpr:
		if err := c.compileValue(n.Value, "return value"); err != nil {
			return err
		}
		c.fn.Emit(OpReturn)
		return nil

	case *ast.Block:
		_, err := c.compileBody(n.Exprs, true)
		return err

	default:
		return c.errorf(e.Span().Start, "unsupported node %T", e)
	}
}

// compileValue compiles an expression that must leave a value.
func (c *Compiler) compileValue(e ast.Expr, what string) error {
	if e != nil && !Produces(e) {
		return c.errorf(e.Span().Start, "%s produces no value", what)
	}
	return c.compileExpr(e)
}

func (c *Compiler) compileCall(n *ast.CallExpr) error {
	callee, ok := n.Callee.(*ast.Identifier)
	if !ok {
		return c.errorf(n.Span().Start, "callee must be a function name, got %T", n.Callee)
	}
	for i, arg := range n.Args {
		if err := c.compileValue(arg, fmt.Sprintf("argument %d of %s", i+1, callee.Name)); err != nil {
			return err
		}
	}
	c.mark(n.Span())
	if _, err := c.fn.EmitLoad(callee.Name); err != nil {
		return err
	}
	_, err := c.fn.EmitCall(len(n.Args))
	return err
}

// compileIf emits
//
//	cond; JUMP_FALSE end; then; end:
//
// or, with an else body,
//
//	cond; JUMP_FALSE else; then; JUMP end; else: else-body; end:
//
// Branches keep their value only when the whole conditional produces one. A
// body that returns leaves the frame and never reaches end.
func (c *Compiler) compileIf(n *ast.IfExpr) error {
	if err := c.compileValue(n.Cond, "condition"); err != nil {
		return err
	}
	if n.Then == nil {
		return c.errorf(n.Span().Start, "conditional without a body")
	}
	keep := Produces(n)

	elseJump := c.fn.EmitJump(OpJumpFalse)
	if _, err := c.compileBody(n.Then.Exprs, keep); err != nil {
		return err
	}

	if n.Else == nil {
		return c.fn.PatchJump(elseJump)
	}

	endJump := c.fn.EmitJump(OpJump)
	if err := c.fn.PatchJump(elseJump); err != nil {
		return err
	}
	if _, err := c.compileBody(n.Else.Exprs, keep); err != nil {
		return err
	}
	return c.fn.PatchJump(endJump)
}

func (c *Compiler) errorf(pos ast.Position, format string, args ...any) error {
	return &CompileError{Function: c.fn.DisplayName(), Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// mark records a source location for the next instruction when the span
// carries one and it differs from the last recorded location.
func (c *Compiler) mark(span ast.Span) {
	if span.Start.Line <= 0 {
		return
	}
	line, col := uint32(span.Start.Line), uint16(span.Start.Column)
	if line == c.currentLine && col == c.currentColumn {
		return
	}
	c.currentLine, c.currentColumn = line, col
	c.fn.AddSourceLocation(uint32(c.fn.CurrentOffset()), line, col)
}

// Produces reports whether compiling e leaves a value on the operand stack.
//
// Literals, identifiers, binary expressions and calls always do. Function
// literals and returns never do. A block produces what its last expression
// produces. A conditional produces a value when it has an else body, each
// body either produces a value or diverges, and at least one body produces.
func Produces(e ast.Expr) bool {
	switch n := e.(type) {
	case *ast.IntLiteral, *ast.Identifier, *ast.BinaryExpr, *ast.CallExpr:
		return true
	case *ast.Block:
		return n != nil && len(n.Exprs) > 0 && Produces(n.Exprs[len(n.Exprs)-1])
	case *ast.IfExpr:
		if n.Else == nil {
			return false
		}
		then, els := Produces(n.Then), Produces(n.Else)
		return (then || els) &&
			(then || Diverges(n.Then)) &&
			(els || Diverges(n.Else))
	default:
		return false
	}
}

// Diverges reports whether control never continues past e: e is a return,
// a block ending in one, or a conditional whose bodies all diverge.
func Diverges(e ast.Expr) bool {
	switch n := e.(type) {
	case *ast.ReturnExpr:
		return true
	case *ast.Block:
		return n != nil && len(n.Exprs) > 0 && Diverges(n.Exprs[len(n.Exprs)-1])
	case *ast.IfExpr:
		return n.Else != nil && Diverges(n.Then) && Diverges(n.Else)
	default:
		return false
	}
}
