package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of fn and all nested
// functions.
func (f *Function) Disassemble() string {
	var sb strings.Builder
	_ = f.Walk(func(fn *Function, depth int) error {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fn.disassembleOne(&sb, depth)
		return nil
	})
	return sb.String()
}

func (f *Function) disassembleOne(sb *strings.Builder, depth int) {
	// Header
	fmt.Fprintf(sb, "; === %s ===\n", f.DisplayName())
	if depth > 0 {
		fmt.Fprintf(sb, "; Nesting depth: %d\n", depth)
	}

	// Parameters
	if len(f.Params) > 0 {
		fmt.Fprintf(sb, "; Parameters (%d): %s\n", len(f.Params), strings.Join(f.Params, ", "))
	}

	// Children
	if len(f.Children) > 0 {
		names := make([]string, len(f.Children))
		for i, c := range f.Children {
			names[i] = fmt.Sprintf("%s/%d", c.Name, c.Arity())
		}
		fmt.Fprintf(sb, "; Children: %s\n", strings.Join(names, ", "))
	}

	// Names
	if len(f.Names) > 0 {
		sb.WriteString("; Names:\n")
		for i, s := range f.Names {
			fmt.Fprintf(sb, ";   [%3d] %s\n", i, s)
		}
	}

	// Code section
	sb.WriteString("; Code:\n")
	offset := 0
	for offset < len(f.Code) {
		line, instrLen := f.DisassembleInstruction(offset)

		// Add source location if available
		if srcLine, srcCol := f.SourceLocation(offset); srcLine > 0 {
			fmt.Fprintf(sb, "%04X  %-30s ; line %d:%d\n", offset, line, srcLine, srcCol)
		} else {
			fmt.Fprintf(sb, "%04X  %s\n", offset, line)
		}

		if instrLen <= 0 {
			break
		}
		offset += instrLen
	}
}

// DisassembleInstruction disassembles a single instruction at the given
// offset. Returns the formatted string and the instruction length.
func (f *Function) DisassembleInstruction(offset int) (string, int) {
	if offset >= len(f.Code) {
		return "<end of code>", 0
	}

	op := Opcode(f.Code[offset])
	if !op.IsValid() {
		return fmt.Sprintf("<invalid 0x%02X>", byte(op)), 1
	}
	n := op.InstructionLen()
	if offset+n > len(f.Code) {
		return fmt.Sprintf("%s <truncated>", op), len(f.Code) - offset
	}

	switch op {
	case OpPushInt:
		return fmt.Sprintf("PUSH_INT %d", readInt64(f.Code, offset+1)), n

	case OpLoad:
		idx := readUint16(f.Code, offset+1)
		name := "?"
		if int(idx) < len(f.Names) {
			name = f.Names[idx]
		}
		return fmt.Sprintf("LOAD %d ; %s", idx, name), n

	case OpJump, OpJumpFalse:
		delta := readInt16(f.Code, offset+1)
		return fmt.Sprintf("%s %+d (-> %04X)", op, delta, jumpTarget(f.Code, offset)), n

	case OpCall:
		return fmt.Sprintf("CALL argc=%d", f.Code[offset+1]), n

	default:
		return op.String(), n
	}
}
