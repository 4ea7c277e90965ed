package bytecode

import (
	"errors"
	"testing"
)

func TestValueKinds(t *testing.T) {
	fn := NewFunction("f", []string{"a"})
	tests := []struct {
		v     Value
		kind  Kind
		str   string
		goStr string
	}{
		{Nil, KindNil, "nil", "Nil"},
		{Value{}, KindNil, "nil", "Nil"},
		{Int(-3), KindInt, "-3", "Int(-3)"},
		{Bool(true), KindBool, "true", "Bool(true)"},
		{String("hi"), KindString, `"hi"`, `String("hi")`},
		{FuncValue(fn, nil), KindFunc, "<func f/1>", "Func(<func f/1>)"},
	}
	for _, tt := range tests {
		if tt.v.Kind() != tt.kind {
			t.Errorf("Kind() = %s, want %s", tt.v.Kind(), tt.kind)
		}
		if got := tt.v.String(); got != tt.str {
			t.Errorf("String() = %q, want %q", got, tt.str)
		}
		if got := tt.v.GoString(); got != tt.goStr {
			t.Errorf("GoString() = %q, want %q", got, tt.goStr)
		}
	}
}

func TestValueAccessors(t *testing.T) {
	if n, ok := Int(9).AsInt(); !ok || n != 9 {
		t.Errorf("AsInt = %d, %v", n, ok)
	}
	if _, ok := Bool(true).AsInt(); ok {
		t.Error("Bool should not be an Int")
	}
	if b, ok := Bool(false).AsBool(); !ok || b {
		t.Errorf("AsBool = %v, %v", b, ok)
	}
	if _, ok := Int(0).AsBool(); ok {
		t.Error("Int(0) must not coerce to Bool")
	}
	if s, ok := String("x").AsString(); !ok || s != "x" {
		t.Errorf("AsString = %q, %v", s, ok)
	}
	fn := NewFunction("f", nil)
	env := NewEnv(fn, nil, nil)
	v := FuncValue(fn, env)
	if got, ok := v.AsFunc(); !ok || got != fn {
		t.Error("AsFunc did not return the function")
	}
	if v.Env() != env {
		t.Error("Env() did not return the binding env")
	}
	if !Nil.IsNil() || Int(0).IsNil() {
		t.Error("IsNil misreports")
	}
}

func TestEqual(t *testing.T) {
	f := NewFunction("f", nil)
	g := NewFunction("g", nil)
	env := NewEnv(f, nil, nil)

	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"ints equal", Int(1), Int(1), true},
		{"ints differ", Int(1), Int(2), false},
		{"bools", Bool(true), Bool(true), true},
		{"bools differ", Bool(true), Bool(false), false},
		{"strings", String("a"), String("a"), true},
		{"nils", Nil, Nil, true},
		{"same func", FuncValue(f, env), FuncValue(f, env), true},
		{"different func", FuncValue(f, env), FuncValue(g, env), false},
		{"same func other env", FuncValue(f, env), FuncValue(f, nil), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Equal(tt.a, tt.b)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Equal(%#v, %#v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestEqualCrossKindIsError(t *testing.T) {
	pairs := [][2]Value{
		{Int(1), Bool(true)},
		{Int(0), Nil},
		{String("1"), Int(1)},
		{FuncValue(NewFunction("f", nil), nil), Int(1)},
	}
	for _, p := range pairs {
		if _, err := Equal(p[0], p[1]); !errors.Is(err, ErrTypeMismatch) {
			t.Errorf("Equal(%#v, %#v) err = %v, want type mismatch", p[0], p[1], err)
		}
	}
}
