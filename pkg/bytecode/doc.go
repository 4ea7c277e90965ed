// Package bytecode compiles the expression language to a compact bytecode and
// executes it on a stack-based virtual machine.
//
// The bytecode format is designed for:
//   - Compact representation (1-9 bytes per instruction)
//   - Fast decoding (single-byte opcodes, fixed-width big-endian operands)
//   - Easy serialization (canonical CBOR images, see Marshal)
//
// # Architecture Overview
//
// The bytecode system consists of several components:
//
//   - Opcodes: thirteen stack instructions covering integer literals, symbol
//     lookup, arithmetic, comparison, jumps, calls and returns
//
//   - Function: a compiled unit holding code, a symbol pool, parameter names,
//     nested functions and a debug line table. Functions are immutable once
//     compiled and shared by every activation.
//
//   - Compiler: converts an ast.Block to a Function tree. Conditionals are
//     compiled with forward jumps that are backpatched once the target is
//     known.
//
//   - VM: executes a Function with an operand stack and an explicit frame
//     stack. Calls push frames instead of recursing in Go, so recursion depth
//     is bounded only by Options.MaxFrames.
//
// # Scoping
//
// Each call creates an Env binding the callee's parameters and its nested
// functions. A name resolves to a parameter of the current call, a function
// nested in the current function, or a function nested in any lexically
// enclosing function. Parameters of other calls are never visible: nested
// functions do not capture variables.
//
// # Stack Discipline
//
// Every expression in a body except the last has its value discarded, so a
// body leaves at most one value. A call always leaves exactly one value:
// the returned value, the body's last value, or Nil.
//
// # Faults
//
// Runtime faults stop execution immediately and are reported as
// *RuntimeError values that match the Err* kinds with errors.Is.
package bytecode
