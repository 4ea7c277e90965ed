package bytecode

import (
	"fmt"
	"strconv"
)

// Kind identifies the dynamic type of a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindInt
	KindBool
	KindString
	KindFunc
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "Nil"
	case KindInt:
		return "Int"
	case KindBool:
		return "Bool"
	case KindString:
		return "String"
	case KindFunc:
		return "Func"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Value is a runtime value. The zero Value is Nil.
//
// Values are small and copied freely; a Func value shares its *Function and
// the *Env it was bound in.
type Value struct {
	kind Kind
	num  int64 // Int payload; 1/0 for Bool
	str  string
	fn   *Function
	env  *Env
}

// Nil is the absent value.
var Nil = Value{}

// Int returns an integer value.
func Int(v int64) Value { return Value{kind: KindInt, num: v} }

// Bool returns a boolean value.
func Bool(b bool) Value {
	if b {
		return Value{kind: KindBool, num: 1}
	}
	return Value{kind: KindBool}
}

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// FuncValue returns a function value bound in env. env may be nil for a
// function with no enclosing scope.
func FuncValue(fn *Function, env *Env) Value {
	return Value{kind: KindFunc, fn: fn, env: env}
}

// Kind returns the dynamic type of v.
func (v Value) Kind() Kind { return v.kind }

// IsNil reports whether v is Nil.
func (v Value) IsNil() bool { return v.kind == KindNil }

// AsInt returns the integer payload.
func (v Value) AsInt() (int64, bool) { return v.num, v.kind == KindInt }

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) { return v.num != 0, v.kind == KindBool }

// AsString returns the string payload.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsFunc returns the function payload.
func (v Value) AsFunc() (*Function, bool) { return v.fn, v.kind == KindFunc }

// Env returns the environment a Func value was bound in.
func (v Value) Env() *Env { return v.env }

// String renders v for listings and REPL output.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	case KindBool:
		return strconv.FormatBool(v.num != 0)
	case KindString:
		return strconv.Quote(v.str)
	case KindFunc:
		return fmt.Sprintf("<func %s/%d>", v.fn.DisplayName(), v.fn.Arity())
	default:
		return "nil"
	}
}

// GoString renders v with its kind, e.g. Int(42).
func (v Value) GoString() string {
	if v.kind == KindNil {
		return "Nil"
	}
	return fmt.Sprintf("%s(%s)", v.kind, v.String())
}

// Equal compares two values of the same kind. Comparing values of different
// kinds is an error. Func values are equal when they reference the same
// Function bound in the same Env.
func Equal(a, b Value) (bool, error) {
	if a.kind != b.kind {
		return false, fmt.Errorf("%w: cannot compare %s with %s", ErrTypeMismatch, a.kind, b.kind)
	}
	switch a.kind {
	case KindNil:
		return true, nil
	case KindInt, KindBool:
		return a.num == b.num, nil
	case KindString:
		return a.str == b.str, nil
	case KindFunc:
		return a.fn == b.fn && a.env == b.env, nil
	}
	return false, fmt.Errorf("%w: unknown kind %s", ErrTypeMismatch, a.kind)
}
