package parser

import (
	"testing"
)

// FuzzParse ensures the lexer and parser never panic or loop on arbitrary
// input.
func FuzzParse(f *testing.F) {
	seeds := []string{
		`42`, `x`, `1 + 2 * 3`, `(1 + 2) * 3`, `-5`, `-x`,
		`f()`, `f(1, 2)`, `return 1`,
		`func f(x): if x == 1: return 1;; x * f(x - 1) ;; f(10) ;;`,
		`if a != b: 1 ;; else: 2 ;;`,
		`// comment`, `;;`, `func`, `if`, `f(`, `((((`, `@#$`,
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, src string) {
		prog, err := Parse(src)
		if err == nil && prog == nil {
			t.Fatal("nil program without error")
		}
	})
}
