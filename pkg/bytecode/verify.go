package bytecode

import "fmt"

// VerifyError reports malformed bytecode found by Verify.
type VerifyError struct {
	Function string
	Offset   int
	Msg      string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify %s at %04X: %s", e.Function, e.Offset, e.Msg)
}

// Verify checks that fn and every nested function are well formed: each
// opcode is known, operands fit inside the code, name indices are valid and
// jumps land on an instruction boundary or the end of the code.
//
// Code produced by the compiler always verifies. Verify exists for images
// loaded from outside the process.
func Verify(fn *Function) error {
	if fn == nil {
		return &VerifyError{Function: "<nil>", Msg: "nil function"}
	}
	return fn.Walk(func(f *Function, _ int) error {
		for i, c := range f.Children {
			if c == nil {
				return &VerifyError{Function: f.DisplayName(), Msg: fmt.Sprintf("child %d is nil", i)}
			}
		}
		return verifyCode(f)
	})
}

func verifyCode(f *Function) error {
	fail := func(offset int, format string, args ...any) error {
		return &VerifyError{Function: f.DisplayName(), Offset: offset, Msg: fmt.Sprintf(format, args...)}
	}

	starts := make(map[int]bool)
	var jumps []int

	for pc := 0; pc < len(f.Code); {
		op := Opcode(f.Code[pc])
		if !op.IsValid() {
			return fail(pc, "unknown opcode 0x%02X", byte(op))
		}
		n := op.InstructionLen()
		if pc+n > len(f.Code) {
			return fail(pc, "%s operand runs past end of code", op)
		}
		starts[pc] = true

		switch {
		case op == OpLoad:
			if idx := int(readUint16(f.Code, pc+1)); idx >= len(f.Names) {
				return fail(pc, "name index %d out of range (%d names)", idx, len(f.Names))
			}
		case op.IsJump():
			jumps = append(jumps, pc)
		}
		pc += n
	}

	for _, pc := range jumps {
		target := jumpTarget(f.Code, pc)
		if target != len(f.Code) && !starts[target] {
			return fail(pc, "jump target %04X is not an instruction boundary", target)
		}
	}

	for _, l := range f.Lines {
		if int(l.Offset) > len(f.Code) {
			return fail(int(l.Offset), "line entry beyond end of code")
		}
	}
	return nil
}
