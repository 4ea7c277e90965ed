package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/ebc/compile"
	"github.com/chazu/ebc/pkg/ast"
	"github.com/chazu/ebc/pkg/bytecode"
	"github.com/chazu/ebc/pkg/parser"
)

// diagnostic is a positioned problem found while checking source text.
// Line and Column are 1-based; zero means the position is unknown.
type diagnostic struct {
	Stage   compile.Stage
	Line    int
	Column  int
	Message string
}

// diagnose parses and compiles source and reports every problem found.
// It returns the compiled program when there are none.
func diagnose(p *compile.Pipeline, source string) (*bytecode.Function, []diagnostic) {
	fn, err := p.Check(source)
	if err == nil {
		return fn, nil
	}
	return nil, toDiagnostics(err)
}

func toDiagnostics(err error) []diagnostic {
	stage := compile.StageOf(err)

	var list parser.ErrorList
	if errors.As(err, &list) {
		out := make([]diagnostic, len(list))
		for i, e := range list {
			out[i] = diagnostic{Stage: stage, Line: e.Pos.Line, Column: e.Pos.Column, Message: e.Msg}
		}
		return out
	}

	var ce *bytecode.CompileError
	if errors.As(err, &ce) {
		return []diagnostic{{Stage: stage, Line: ce.Pos.Line, Column: ce.Pos.Column, Message: ce.Msg}}
	}

	var pe *compile.Error
	if errors.As(err, &pe) {
		err = pe.Err
	}
	return []diagnostic{{Stage: stage, Message: err.Error()}}
}

// signature describes a function literal found in source text.
type signature struct {
	Name   string
	Params []string
	Span   ast.Span
	Depth  int
}

func (s signature) String() string {
	return fmt.Sprintf("func %s(%s)", s.Name, strings.Join(s.Params, ", "))
}

// outline lists every function literal in prog, outermost first.
func outline(prog *ast.Block) []signature {
	var sigs []signature
	var walk func(e ast.Expr, depth int)
	walkBlock := func(b *ast.Block, depth int) {
		if b == nil {
			return
		}
		for _, e := range b.Exprs {
			walk(e, depth)
		}
	}
	walk = func(e ast.Expr, depth int) {
		switch n := e.(type) {
		case *ast.FuncLiteral:
			sigs = append(sigs, signature{Name: n.Name, Params: n.Params, Span: n.Span(), Depth: depth})
			walkBlock(n.Body, depth+1)
		case *ast.IfExpr:
			walk(n.Cond, depth)
			walkBlock(n.Then, depth)
			walkBlock(n.Else, depth)
		case *ast.BinaryExpr:
			walk(n.Left, depth)
			walk(n.Right, depth)
		case *ast.CallExpr:
			for _, a := range n.Args {
				walk(a, depth)
			}
		case *ast.ReturnExpr:
			walk(n.Value, depth)
		case *ast.Block:
			walkBlock(n, depth)
		}
	}
	walkBlock(prog, 0)
	return sigs
}
