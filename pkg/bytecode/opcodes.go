package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpPop Opcode = 0x01 // Discard top of stack

	// ========================================================================
	// Literals (0x10-0x1F)
	// ========================================================================

	OpPushInt Opcode = 0x10 // Push integer: OpPushInt <value:i64>

	// ========================================================================
	// Symbols (0x20-0x2F)
	// ========================================================================

	OpLoad Opcode = 0x20 // Resolve name in the current env: OpLoad <name:u16>

	// ========================================================================
	// Arithmetic (0x50-0x5F)
	// ========================================================================

	OpAdd Opcode = 0x50 // Pop two, push sum
	OpSub Opcode = 0x51 // Pop two, push difference (a - b where b is TOS)
	OpMul Opcode = 0x52 // Pop two, push product
	OpDiv Opcode = 0x53 // Pop two, push quotient (truncated toward zero)

	// ========================================================================
	// Comparison (0x60-0x6F)
	// ========================================================================

	OpEq Opcode = 0x60 // Pop two, push Bool(a == b)
	OpNe Opcode = 0x61 // Pop two, push Bool(a != b)

	// ========================================================================
	// Control flow (0x80-0x8F)
	// ========================================================================

	OpJump      Opcode = 0x80 // Unconditional jump: OpJump <offset:i16>
	OpJumpFalse Opcode = 0x82 // Pop, jump if Bool(false): OpJumpFalse <offset:i16>

	// ========================================================================
	// Calls (0x90-0x9F)
	// ========================================================================

	OpCall Opcode = 0x90 // Pop callee then argc args, enter callee: OpCall <argc:u8>

	// ========================================================================
	// Return (0xF0-0xFF)
	// ========================================================================

	OpReturn Opcode = 0xF0 // Pop value, leave the current frame with it
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // How many values popped from stack (-1 = variable)
	StackPush  int    // How many values pushed to stack
	OperandLen int    // Number of operand bytes following the opcode
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpPop: {"POP", 1, 0, 0},

	OpPushInt: {"PUSH_INT", 0, 1, 8},

	OpLoad: {"LOAD", 0, 1, 2},

	OpAdd: {"ADD", 2, 1, 0},
	OpSub: {"SUB", 2, 1, 0},
	OpMul: {"MUL", 2, 1, 0},
	OpDiv: {"DIV", 2, 1, 0},

	OpEq: {"EQ", 2, 1, 0},
	OpNe: {"NE", 2, 1, 0},

	OpJump:      {"JUMP", 0, 0, 2},
	OpJumpFalse: {"JUMP_FALSE", 1, 0, 2},

	OpCall: {"CALL", -1, 1, 1}, // Pops callee + argc args

	OpReturn: {"RETURN", 1, 0, 0},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// IsValid reports whether op is a defined opcode.
func (op Opcode) IsValid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsJump returns true if this opcode is a jump instruction.
func (op Opcode) IsJump() bool {
	return op == OpJump || op == OpJumpFalse
}

// IsBinary returns true for the arithmetic and comparison opcodes.
func (op Opcode) IsBinary() bool {
	return (op >= OpAdd && op <= OpDiv) || op == OpEq || op == OpNe
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
