package ast

import "testing"

func TestString(t *testing.T) {
	tests := []struct {
		name string
		expr Expr
		want string
	}{
		{"int", Int(-4), "-4"},
		{"ident", Ident("x"), "x"},
		{"binary", Binary(OpMul, Ident("x"), Binary(OpSub, Ident("x"), Int(1))), "(x * (x - 1))"},
		{"call", Call("f", Int(1), Ident("y")), "f(1, y)"},
		{"zero arg call", Call("k"), "k()"},
		{"func", Func("f", []string{"a", "b"}, Ident("a")), "func f(a, b): a ;;"},
		{"if", If(Ident("c"), Body(Int(1)), nil), "if c: 1 ;;"},
		{"if else", If(Ident("c"), Body(Int(1)), Body(Int(2))), "if c: 1 ;; else: 2 ;;"},
		{"empty body", If(Ident("c"), Body(), nil), "if c: ;;"},
		{"return", Return(Int(3)), "return 3"},
		{"block", Body(Int(1), Int(2)), "1 2"},
		{"nil", nil, "<nil>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := String(tt.expr); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBinaryOpString(t *testing.T) {
	ops := map[BinaryOp]string{OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpEq: "==", OpNe: "!="}
	for op, want := range ops {
		if got := op.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(op), got, want)
		}
	}
	if got := BinaryOp(42).String(); got != "BinaryOp(42)" {
		t.Errorf("unknown op String() = %q", got)
	}
}

func TestSpans(t *testing.T) {
	span := Span{Start: Position{Offset: 3, Line: 2, Column: 1}, End: Position{Offset: 5, Line: 2, Column: 3}}
	nodes := []Node{
		&IntLiteral{SpanVal: span},
		&Identifier{SpanVal: span},
		&FuncLiteral{SpanVal: span},
		&BinaryExpr{SpanVal: span},
		&CallExpr{SpanVal: span},
		&IfExpr{SpanVal: span},
		&Block{SpanVal: span},
		&ReturnExpr{SpanVal: span},
	}
	for _, n := range nodes {
		if n.Span() != span {
			t.Errorf("%T.Span() = %v, want %v", n, n.Span(), span)
		}
	}
	if got := span.Start.String(); got != "2:1" {
		t.Errorf("Position.String() = %q, want 2:1", got)
	}
}
