package bytecode

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/ebc/pkg/ast"
)

// Runtime fault kinds. A *RuntimeError unwraps to exactly one of these, so
// callers test the kind with errors.Is.
var (
	ErrTypeMismatch       = errors.New("type mismatch")
	ErrUndefinedSymbol    = errors.New("undefined symbol")
	ErrArity              = errors.New("arity mismatch")
	ErrStackUnderflow     = errors.New("stack underflow")
	ErrNotBoolean         = errors.New("condition is not a boolean")
	ErrNotCallable        = errors.New("value is not callable")
	ErrDivisionByZero     = errors.New("division by zero")
	ErrStackOverflow      = errors.New("frame stack overflow")
	ErrBudgetExceeded     = errors.New("instruction budget exceeded")
	ErrCancelled          = errors.New("execution cancelled")
	ErrInvalidInstruction = errors.New("invalid instruction")
)

// CompileError reports a construct the compiler rejects. Pos is the start
// of the offending expression, or the zero Position for hand-built trees
// without spans.
type CompileError struct {
	Function string
	Pos      ast.Position
	Msg      string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s: %s", e.Function, e.Msg)
}

// TraceEntry describes one active frame at the time of a fault.
type TraceEntry struct {
	Function string
	PC       int
	Line     uint32
	Column   uint16
}

func (t TraceEntry) String() string {
	if t.Line > 0 {
		return fmt.Sprintf("%s at %04X (line %d:%d)", t.Function, t.PC, t.Line, t.Column)
	}
	return fmt.Sprintf("%s at %04X", t.Function, t.PC)
}

// RuntimeError is returned by VM.Run when execution faults. No instruction
// runs after the fault.
type RuntimeError struct {
	Kind     error  // one of the Err* sentinels
	Op       Opcode // instruction that faulted
	Function string // name of the faulting function
	PC       int    // offset of the faulting instruction
	Depth    int    // frame depth at the fault (1 = entry frame)
	Msg      string

	// Traceback lists the active frames, innermost first.
	Traceback []TraceEntry
}

func (e *RuntimeError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s", e.Function, e.Kind)
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	fmt.Fprintf(&sb, " (%s at %04X, depth %d)", e.Op, e.PC, e.Depth)
	return sb.String()
}

func (e *RuntimeError) Unwrap() error {
	return e.Kind
}

// FormatTraceback renders the traceback one frame per line.
func (e *RuntimeError) FormatTraceback() string {
	var sb strings.Builder
	for i, t := range e.Traceback {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("  ")
		sb.WriteString(t.String())
	}
	return sb.String()
}

// AsRuntimeError extracts a *RuntimeError from err.
func AsRuntimeError(err error) (*RuntimeError, bool) {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// KindName returns a stable short name for the fault kind of err, or ""
// when err is not a runtime fault. Used by the RPC layer and the
// conformance suite.
func KindName(err error) string {
	for name, kind := range kindNames {
		if errors.Is(err, kind) {
			return name
		}
	}
	return ""
}

var kindNames = map[string]error{
	"type_mismatch":       ErrTypeMismatch,
	"undefined_symbol":    ErrUndefinedSymbol,
	"arity":               ErrArity,
	"stack_underflow":     ErrStackUnderflow,
	"not_boolean":         ErrNotBoolean,
	"not_callable":        ErrNotCallable,
	"division_by_zero":    ErrDivisionByZero,
	"stack_overflow":      ErrStackOverflow,
	"budget_exceeded":     ErrBudgetExceeded,
	"cancelled":           ErrCancelled,
	"invalid_instruction": ErrInvalidInstruction,
}

// KindByName is the inverse of KindName.
func KindByName(name string) (error, bool) {
	kind, ok := kindNames[name]
	return kind, ok
}
