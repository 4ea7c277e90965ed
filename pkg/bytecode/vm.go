package bytecode

import (
	"context"
	"fmt"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("ebc.vm")

const (
	// DefaultMaxFrames bounds the frame stack when Options.MaxFrames is zero.
	DefaultMaxFrames = 10000

	// DefaultCheckInterval is how many instructions run between context
	// checks when Options.CheckInterval is zero.
	DefaultCheckInterval = 1024
)

// Options bound and instrument a VM.
type Options struct {
	MaxFrames     int   // frame depth limit (0 = DefaultMaxFrames)
	MaxSteps      int64 // instruction budget (0 = unlimited)
	CheckInterval int   // instructions between ctx checks (0 = DefaultCheckInterval)
	Trace         bool  // log every instruction at debug level
}

// Stats describes the most recent Run.
type Stats struct {
	Steps    int64 // instructions executed
	Calls    int64 // frames entered by OpCall
	MaxDepth int   // deepest frame stack observed
}

// Frame is one activation on the frame stack.
type Frame struct {
	fn  *Function
	pc  int // offset of the next instruction
	env *Env
	bp  int // operand stack height when the frame was entered
}

// Function returns the function the frame executes.
func (f *Frame) Function() *Function { return f.fn }

// PC returns the frame's program counter.
func (f *Frame) PC() int { return f.pc }

// VM executes Functions on an operand stack and an explicit frame stack.
// Calls never recurse on the Go stack.
//
// A VM is not safe for concurrent use. It may be reused for several Runs;
// each Run starts from empty stacks.
type VM struct {
	stack  []Value
	frames []*Frame
	opts   Options
	stats  Stats
}

// NewVM creates a new VM instance.
func NewVM(opts Options) *VM {
	if opts.MaxFrames <= 0 {
		opts.MaxFrames = DefaultMaxFrames
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}
	return &VM{
		stack:  make([]Value, 0, 256),
		frames: make([]*Frame, 0, 64),
		opts:   opts,
	}
}

// Options returns the VM's effective options.
func (vm *VM) Options() Options { return vm.opts }

// Stack returns a copy of the operand stack, bottom first. After a fault it
// reflects the stack as it was when the fault occurred.
func (vm *VM) Stack() []Value {
	return append([]Value(nil), vm.stack...)
}

// Depth returns the current frame depth.
func (vm *VM) Depth() int { return len(vm.frames) }

// Stats returns counters for the most recent Run.
func (vm *VM) Stats() Stats { return vm.stats }

// Run executes fn as the entry function with args bound to its parameters.
// It returns the residual operand stack once the frame stack empties.
func (vm *VM) Run(ctx context.Context, fn *Function, args ...Value) ([]Value, error) {
	if fn == nil {
		return nil, fmt.Errorf("run: nil function")
	}
	if len(args) != fn.Arity() {
		return nil, &RuntimeError{
			Kind:     ErrArity,
			Function: fn.DisplayName(),
			Msg:      fmt.Sprintf("entry function takes %d arguments, got %d", fn.Arity(), len(args)),
		}
	}

	vm.stack = vm.stack[:0]
	vm.frames = vm.frames[:0]
	vm.stats = Stats{}

	env := NewEnv(fn, append([]Value(nil), args...), nil)
	vm.pushFrame(&Frame{fn: fn, env: env})

	if err := vm.run(ctx); err != nil {
		return vm.Stack(), err
	}
	return vm.Stack(), nil
}

// run is the main execution loop.
func (vm *VM) run(ctx context.Context) error {
	done := ctx.Done()
	sinceCheck := vm.opts.CheckInterval // check before the first instruction

	for len(vm.frames) > 0 {
		f := vm.frames[len(vm.frames)-1]
		code := f.fn.Code

		if f.pc >= len(code) {
			vm.fallOff(f)
			continue
		}

		op := Opcode(code[f.pc])

		if done != nil {
			sinceCheck++
			if sinceCheck >= vm.opts.CheckInterval {
				sinceCheck = 0
				select {
				case <-done:
					return vm.fault(f, op, ErrCancelled, "%v", ctx.Err())
				default:
				}
			}
		}
		if vm.opts.MaxSteps > 0 && vm.stats.Steps >= vm.opts.MaxSteps {
			return vm.fault(f, op, ErrBudgetExceeded, "limit %d", vm.opts.MaxSteps)
		}
		vm.stats.Steps++

		info, ok := opcodeInfoTable[op]
		if !ok {
			return vm.fault(f, op, ErrInvalidInstruction, "unknown opcode 0x%02X", byte(op))
		}
		if f.pc+1+info.OperandLen > len(code) {
			return vm.fault(f, op, ErrInvalidInstruction, "truncated operand")
		}

		if vm.opts.Trace {
			log.Debugf("%s [%04X] %-10s depth=%d sp=%d", f.fn.DisplayName(), f.pc, info.Name, len(vm.frames), len(vm.stack))
		}

		switch op {
		case OpPop:
			if _, err := vm.pop(f, op); err != nil {
				return err
			}
			f.pc++

		case OpPushInt:
			vm.push(Int(readInt64(code, f.pc+1)))
			f.pc += 9

		case OpLoad:
			idx := int(readUint16(code, f.pc+1))
			if idx >= len(f.fn.Names) {
				return vm.fault(f, op, ErrInvalidInstruction, "name index %d out of range", idx)
			}
			name := f.fn.Names[idx]
			v, ok := f.env.Lookup(name)
			if !ok {
				return vm.fault(f, op, ErrUndefinedSymbol, "%s", name)
			}
			vm.push(v)
			f.pc += 3

		case OpAdd, OpSub, OpMul, OpDiv, OpEq, OpNe:
			if err := vm.binary(f, op); err != nil {
				return err
			}
			f.pc++

		case OpJump:
			target := jumpTarget(code, f.pc)
			if target < 0 || target > len(code) {
				return vm.fault(f, op, ErrInvalidInstruction, "jump target %d outside code", target)
			}
			f.pc = target

		case OpJumpFalse:
			target := jumpTarget(code, f.pc)
			if target < 0 || target > len(code) {
				return vm.fault(f, op, ErrInvalidInstruction, "jump target %d outside code", target)
			}
			cond, err := vm.pop(f, op)
			if err != nil {
				return err
			}
			b, ok := cond.AsBool()
			if !ok {
				return vm.fault(f, op, ErrNotBoolean, "got %s", cond.GoString())
			}
			if b {
				f.pc += 3
			} else {
				f.pc = target
			}

		case OpCall:
			if err := vm.call(f, op, int(code[f.pc+1])); err != nil {
				return err
			}

		case OpReturn:
			v, err := vm.pop(f, op)
			if err != nil {
				return err
			}
			vm.popFrame(f, v)
		}
	}
	return nil
}

// call pops the callee and argc arguments and enters the callee.
func (vm *VM) call(f *Frame, op Opcode, argc int) error {
	callee, err := vm.pop(f, op)
	if err != nil {
		return err
	}
	fn, ok := callee.AsFunc()
	if !ok {
		return vm.fault(f, op, ErrNotCallable, "got %s", callee.GoString())
	}
	if argc != fn.Arity() {
		return vm.fault(f, op, ErrArity, "%s takes %d arguments, got %d", fn.DisplayName(), fn.Arity(), argc)
	}
	if len(vm.stack)-f.bp < argc {
		return vm.fault(f, op, ErrStackUnderflow, "call to %s needs %d arguments", fn.DisplayName(), argc)
	}
	if len(vm.frames) >= vm.opts.MaxFrames {
		return vm.fault(f, op, ErrStackOverflow, "depth limit %d", vm.opts.MaxFrames)
	}

	base := len(vm.stack) - argc
	args := make([]Value, argc)
	copy(args, vm.stack[base:])
	vm.stack = vm.stack[:base]

	f.pc += 2
	vm.stats.Calls++
	vm.pushFrame(&Frame{
		fn:  fn,
		env: NewEnv(fn, args, callee.Env()),
		bp:  base,
	})
	return nil
}

// binary pops right then left and pushes the result of op.
func (vm *VM) binary(f *Frame, op Opcode) error {
	right, err := vm.pop(f, op)
	if err != nil {
		return err
	}
	left, err := vm.pop(f, op)
	if err != nil {
		return err
	}

	if op == OpEq || op == OpNe {
		eq, err := Equal(left, right)
		if err != nil {
			return vm.fault(f, op, ErrTypeMismatch, "cannot compare %s with %s", left.Kind(), right.Kind())
		}
		vm.push(Bool(eq == (op == OpEq)))
		return nil
	}

	a, okA := left.AsInt()
	b, okB := right.AsInt()
	if !okA || !okB {
		return vm.fault(f, op, ErrTypeMismatch, "%s needs Int operands, got %s and %s", op, left.Kind(), right.Kind())
	}

	// int64 arithmetic wraps on overflow.
	switch op {
	case OpAdd:
		vm.push(Int(a + b))
	case OpSub:
		vm.push(Int(a - b))
	case OpMul:
		vm.push(Int(a * b))
	case OpDiv:
		if b == 0 {
			return vm.fault(f, op, ErrDivisionByZero, "%d / 0", a)
		}
		if b == -1 {
			vm.push(Int(-a)) // MinInt64 / -1 wraps instead of trapping
		} else {
			vm.push(Int(a / b))
		}
	}
	return nil
}

// fallOff leaves a frame whose pc ran past the end of its code. A called
// function yields its last value, or Nil when its body left none. The entry
// frame keeps whatever it left.
func (vm *VM) fallOff(f *Frame) {
	if len(vm.frames) == 1 {
		vm.frames = vm.frames[:0]
		return
	}
	result := Nil
	if len(vm.stack) > f.bp {
		result = vm.stack[len(vm.stack)-1]
	}
	vm.popFrame(f, result)
}

// popFrame removes the top frame, truncates the operand stack to its base
// and pushes result.
func (vm *VM) popFrame(f *Frame, result Value) {
	vm.stack = append(vm.stack[:f.bp], result)
	vm.frames[len(vm.frames)-1] = nil
	vm.frames = vm.frames[:len(vm.frames)-1]
}

func (vm *VM) pushFrame(f *Frame) {
	vm.frames = append(vm.frames, f)
	if len(vm.frames) > vm.stats.MaxDepth {
		vm.stats.MaxDepth = len(vm.frames)
	}
}

func (vm *VM) push(v Value) {
	vm.stack = append(vm.stack, v)
}

// pop removes the top value of the current frame's region of the stack.
func (vm *VM) pop(f *Frame, op Opcode) (Value, error) {
	if len(vm.stack) <= f.bp {
		return Nil, vm.fault(f, op, ErrStackUnderflow, "")
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v, nil
}

// fault builds the RuntimeError for a failure of op in frame f.
func (vm *VM) fault(f *Frame, op Opcode, kind error, format string, args ...any) *RuntimeError {
	err := &RuntimeError{
		Kind:     kind,
		Op:       op,
		Function: f.fn.DisplayName(),
		PC:       f.pc,
		Depth:    len(vm.frames),
		Msg:      fmt.Sprintf(format, args...),
	}
	for i := len(vm.frames) - 1; i >= 0; i-- {
		fr := vm.frames[i]
		pc := fr.pc
		if fr != f && pc >= 2 {
			pc -= 2 // caller frames have already stepped past their CALL
		}
		line, col := fr.fn.SourceLocation(pc)
		err.Traceback = append(err.Traceback, TraceEntry{
			Function: fr.fn.DisplayName(),
			PC:       pc,
			Line:     line,
			Column:   col,
		})
	}
	log.Debugf("fault: %s", err)
	return err
}
