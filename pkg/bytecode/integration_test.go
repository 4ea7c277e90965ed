// Package bytecode integration tests
//
// These tests verify the full pipeline from source text through the parser,
// the compiler and the VM.
package bytecode_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/ebc/pkg/bytecode"
	"github.com/chazu/ebc/pkg/parser"
)

func evalSource(t *testing.T, src string) ([]bytecode.Value, error) {
	t.Helper()
	prog, err := parser.Parse(src)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	fn, err := bytecode.Compile(prog)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	return bytecode.NewVM(bytecode.Options{}).Run(context.Background(), fn)
}

func render(stack []bytecode.Value) string {
	parts := make([]string, len(stack))
	for i, v := range stack {
		parts[i] = v.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func TestIntegrationPrograms(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"literal", "42", "[42]"},
		{"subtraction", "10 - 3", "[7]"},
		{"multiplication", "6 * 7", "[42]"},
		{"equality", "4 == 4", "[true]"},
		{"inequality", "4 != 4", "[false]"},
		{"precedence", "2 + 3 * 4", "[14]"},
		{"left associative", "10 - 4 - 3", "[3]"},
		{"parentheses", "(2 + 3) * 4", "[20]"},
		{"negative literal", "-5 + 2", "[-3]"},
		{"sequence keeps last", "1 2 3", "[3]"},
		{
			"factorial",
			"func f(x): if x == 1: return 1;; x * f(x - 1) ;; f(10) ;;",
			"[3628800]",
		},
		{"zero parameter call", "func k(): 7 ;; k()", "[7]"},
		{"then-only skipped", "if 1 == 2: 99 ;; 5", "[5]"},
		{"then-only taken", "if 1 == 1: 99 ;;", "[]"},
		{"else", "if 1 == 2: 10 ;; else: 20 ;;", "[20]"},
		{"nested else chain", `
func sign(n):
  if n == 0: 0 ;;
  else: if n * n == n: 1 ;; else: 2 ;; ;;
;;
sign(0) + sign(1) * 10 + sign(5) * 100
`, "[210]"},
		{"fibonacci", `
// naive recursion
func fib(n):
  if n == 0: return 0 ;;
  if n == 1: return 1 ;;
  fib(n - 1) + fib(n - 2)
;;
fib(15)
`, "[610]"},
		{"nested helper", `
func outer(x):
  func inner(y): y * 2 ;;
  inner(x) + 1
;;
outer(20)
`, "[41]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stack, err := evalSource(t, tt.src)
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}
			if got := render(stack); got != tt.want {
				t.Errorf("stack = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIntegrationFaults(t *testing.T) {
	tests := []struct {
		name string
		src  string
		kind error
	}{
		{"frame isolation", "func outer(x): func inner(): x ;; inner() ;; outer(1)", bytecode.ErrUndefinedSymbol},
		{"arity", "func f(a, b): a ;; f(1)", bytecode.ErrArity},
		{"division by zero", "1 / (2 - 2)", bytecode.ErrDivisionByZero},
		{"bool arithmetic", "(1 == 1) + 1", bytecode.ErrTypeMismatch},
		{"int condition", "if 1: 2 ;;", bytecode.ErrNotBoolean},
		{"call an int", "func f(x): x() ;; f(3)", bytecode.ErrNotCallable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := evalSource(t, tt.src)
			if !errors.Is(err, tt.kind) {
				t.Errorf("err = %v, want %v", err, tt.kind)
			}
		})
	}
}

func TestIntegrationTracebackLines(t *testing.T) {
	src := "func f(x):\n  x / 0\n;;\nf(1)\n"
	_, err := evalSource(t, src)
	re, ok := bytecode.AsRuntimeError(err)
	if !ok {
		t.Fatalf("err = %v, want runtime error", err)
	}
	if len(re.Traceback) != 2 {
		t.Fatalf("Traceback = %v", re.Traceback)
	}
	if re.Traceback[0].Line != 2 {
		t.Errorf("fault line = %d, want 2", re.Traceback[0].Line)
	}
	if re.Traceback[1].Line != 4 {
		t.Errorf("caller line = %d, want 4", re.Traceback[1].Line)
	}
	if !strings.Contains(re.FormatTraceback(), "f at") {
		t.Errorf("FormatTraceback() = %q", re.FormatTraceback())
	}
}

func TestIntegrationImageRoundTrip(t *testing.T) {
	prog, err := parser.Parse("func f(x): if x == 1: return 1;; x * f(x - 1) ;; f(6)")
	if err != nil {
		t.Fatal(err)
	}
	fn, err := bytecode.Compile(prog)
	if err != nil {
		t.Fatal(err)
	}
	data, err := bytecode.Marshal(fn)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := bytecode.Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	stack, err := bytecode.NewVM(bytecode.Options{}).Run(context.Background(), loaded)
	if err != nil {
		t.Fatal(err)
	}
	if got := render(stack); got != "[720]" {
		t.Errorf("stack = %s, want [720]", got)
	}
}

func TestIntegrationCompileErrorPosition(t *testing.T) {
	prog, err := parser.Parse("func g(): 1 ;;\nfunc h(y):\n  y + return 2\n;;")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	_, err = bytecode.Compile(prog)
	var ce *bytecode.CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *CompileError", err)
	}
	if ce.Function != "h" {
		t.Errorf("Function = %q, want h", ce.Function)
	}
	if ce.Pos.Line != 3 || ce.Pos.Column != 7 {
		t.Errorf("Pos = %s, want 3:7", ce.Pos)
	}
}
