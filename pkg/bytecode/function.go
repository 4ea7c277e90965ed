package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"
)

// LineEntry maps a bytecode offset to a source location for debugging.
type LineEntry struct {
	Offset uint32 `cbor:"1,keyasint"` // Offset in code section
	Line   uint32 `cbor:"2,keyasint"` // Source line number (1-based)
	Column uint16 `cbor:"3,keyasint"` // Source column number (1-based)
}

// Function is the compiled form of one function body (or of the top-level
// program, whose Name is empty).
//
// A Function is built by the compiler and never modified after Compile
// returns. Every activation shares the same *Function; nested functions
// are reachable only through Children.
type Function struct {
	Name     string      `cbor:"1,keyasint"`
	Params   []string    `cbor:"2,keyasint,omitempty"`
	Code     []byte      `cbor:"3,keyasint"`
	Names    []string    `cbor:"4,keyasint,omitempty"` // symbol pool referenced by OpLoad
	Children []*Function `cbor:"5,keyasint,omitempty"`
	Lines    []LineEntry `cbor:"6,keyasint,omitempty"`
}

// NewFunction creates an empty function unit.
func NewFunction(name string, params []string) *Function {
	return &Function{
		Name:   name,
		Params: params,
		Code:   make([]byte, 0, 64),
	}
}

// Arity returns the number of declared parameters.
func (f *Function) Arity() int {
	return len(f.Params)
}

// DisplayName returns the function name, or "<main>" for the top-level unit.
func (f *Function) DisplayName() string {
	if f.Name == "" {
		return "<main>"
	}
	return f.Name
}

// Child returns the nested function bound to name. When several children
// share a name the last definition wins.
func (f *Function) Child(name string) *Function {
	for i := len(f.Children) - 1; i >= 0; i-- {
		if f.Children[i].Name == name {
			return f.Children[i]
		}
	}
	return nil
}

// Walk calls visit for f and every nested function, depth first. Walk stops
// at the first error.
func (f *Function) Walk(visit func(fn *Function, depth int) error) error {
	return f.walk(visit, 0)
}

func (f *Function) walk(visit func(fn *Function, depth int) error, depth int) error {
	if err := visit(f, depth); err != nil {
		return err
	}
	for _, child := range f.Children {
		if err := child.walk(visit, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// AddName adds a symbol to the name pool and returns its index.
// If the name already exists, returns the existing index.
func (f *Function) AddName(name string) (uint16, error) {
	for i, s := range f.Names {
		if s == name {
			return uint16(i), nil
		}
	}
	if len(f.Names) > math.MaxUint16 {
		return 0, fmt.Errorf("function %s: more than %d distinct names", f.DisplayName(), math.MaxUint16+1)
	}
	idx := uint16(len(f.Names))
	f.Names = append(f.Names, name)
	return idx, nil
}

// Emit appends a single-byte opcode to the code section.
func (f *Function) Emit(op Opcode) int {
	offset := len(f.Code)
	f.Code = append(f.Code, byte(op))
	return offset
}

// EmitWithOperand appends an opcode with operand bytes.
func (f *Function) EmitWithOperand(op Opcode, operands ...byte) int {
	offset := len(f.Code)
	f.Code = append(f.Code, byte(op))
	f.Code = append(f.Code, operands...)
	return offset
}

// EmitInt emits an OpPushInt instruction for v.
func (f *Function) EmitInt(v int64) int {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	return f.EmitWithOperand(OpPushInt, buf[:]...)
}

// EmitLoad emits an OpLoad instruction for name.
func (f *Function) EmitLoad(name string) (int, error) {
	idx, err := f.AddName(name)
	if err != nil {
		return 0, err
	}
	return f.EmitWithOperand(OpLoad, byte(idx>>8), byte(idx)), nil
}

// EmitCall emits an OpCall instruction for argc arguments.
func (f *Function) EmitCall(argc int) (int, error) {
	if argc < 0 || argc > math.MaxUint8 {
		return 0, fmt.Errorf("function %s: call with %d arguments (max %d)", f.DisplayName(), argc, math.MaxUint8)
	}
	return f.EmitWithOperand(OpCall, byte(argc)), nil
}

// EmitJump emits a jump instruction with a placeholder offset.
// Returns the offset of the placeholder for later patching.
func (f *Function) EmitJump(op Opcode) int {
	offset := len(f.Code)
	f.Code = append(f.Code, byte(op), 0xFF, 0xFF) // Placeholder
	return offset + 1                              // Return offset of the placeholder bytes
}

// PatchJump patches a jump instruction's offset to jump to the current position.
func (f *Function) PatchJump(placeholderOffset int) error {
	return f.PatchJumpTo(placeholderOffset, len(f.Code))
}

// PatchJumpTo patches a jump to go to a specific offset. The offset is
// relative to the first byte after the jump instruction.
func (f *Function) PatchJumpTo(placeholderOffset int, target int) error {
	jumpFrom := placeholderOffset + 2 // After the 2-byte offset
	delta := target - jumpFrom
	if delta < math.MinInt16 || delta > math.MaxInt16 {
		return fmt.Errorf("function %s: jump distance %d out of range", f.DisplayName(), delta)
	}
	f.Code[placeholderOffset] = byte(delta >> 8)
	f.Code[placeholderOffset+1] = byte(delta)
	return nil
}

// CurrentOffset returns the current offset in the code section.
func (f *Function) CurrentOffset() int {
	return len(f.Code)
}

// AddSourceLocation adds a debug source location mapping.
func (f *Function) AddSourceLocation(offset uint32, line uint32, column uint16) {
	f.Lines = append(f.Lines, LineEntry{Offset: offset, Line: line, Column: column})
}

// SourceLocation returns the source location for a bytecode offset.
// Returns line 0, column 0 if no mapping exists.
func (f *Function) SourceLocation(offset int) (line uint32, column uint16) {
	// Find the nearest mapping at or before the offset
	for i := len(f.Lines) - 1; i >= 0; i-- {
		if int(f.Lines[i].Offset) <= offset {
			return f.Lines[i].Line, f.Lines[i].Column
		}
	}
	return 0, 0
}

// readInt64 decodes a big-endian int64 operand.
func readInt64(code []byte, offset int) int64 {
	return int64(binary.BigEndian.Uint64(code[offset:]))
}

// readUint16 decodes a big-endian uint16 operand.
func readUint16(code []byte, offset int) uint16 {
	return uint16(code[offset])<<8 | uint16(code[offset+1])
}

// readInt16 decodes a big-endian int16 operand.
func readInt16(code []byte, offset int) int16 {
	return int16(readUint16(code, offset))
}

// jumpTarget returns the absolute target of the jump whose opcode is at pc.
func jumpTarget(code []byte, pc int) int {
	return pc + 3 + int(readInt16(code, pc+1))
}
