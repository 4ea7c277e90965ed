package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chazu/ebc/compile"
	"github.com/chazu/ebc/pkg/bytecode"
)

// repl holds interactive session state.
type repl struct {
	p     *compile.Pipeline
	out   io.Writer
	last  *bytecode.Function
	stats bool
}

// runREPL reads programs separated by blank lines and prints each
// program's residual stack.
func runREPL(ctx context.Context, p *compile.Pipeline, in io.Reader, out io.Writer) {
	fmt.Fprintln(out, "ebc REPL (type 'exit' to quit, ':help' for commands)")
	fmt.Fprintln(out, "Enter a program, then an empty line to run it.")
	fmt.Fprintln(out)

	r := &repl{p: p, out: out}
	scanner := bufio.NewScanner(in)
	lineBuffer := strings.Builder{}

	for {
		if lineBuffer.Len() == 0 {
			fmt.Fprint(out, ">> ")
		} else {
			fmt.Fprint(out, ".. ")
		}

		if !scanner.Scan() {
			break
		}
		line := scanner.Text()

		if lineBuffer.Len() == 0 && (line == "exit" || line == "quit") {
			break
		}
		if lineBuffer.Len() == 0 && strings.HasPrefix(line, ":") {
			r.command(line)
			continue
		}

		if strings.TrimSpace(line) == "" {
			input := strings.TrimSpace(lineBuffer.String())
			lineBuffer.Reset()
			if input != "" {
				r.eval(ctx, input)
			}
			continue
		}

		if lineBuffer.Len() > 0 {
			lineBuffer.WriteString("\n")
		}
		lineBuffer.WriteString(line)
	}

	// Run whatever was typed before end of input.
	if input := strings.TrimSpace(lineBuffer.String()); input != "" {
		r.eval(ctx, input)
	}
	fmt.Fprintln(out)
}

func (r *repl) command(cmd string) {
	switch cmd {
	case ":help", ":h", ":?":
		fmt.Fprintln(r.out, "REPL Commands:")
		fmt.Fprintln(r.out, "  :help, :h, :?     Show this help")
		fmt.Fprintln(r.out, "  :disasm           Disassemble the last program")
		fmt.Fprintln(r.out, "  :stats            Toggle execution statistics")
		fmt.Fprintln(r.out, "  exit, quit        Leave the REPL")
	case ":disasm":
		if r.last == nil {
			fmt.Fprintln(r.out, "No program compiled yet")
			return
		}
		fmt.Fprint(r.out, r.last.Disassemble())
	case ":stats":
		r.stats = !r.stats
		fmt.Fprintf(r.out, "Statistics %s\n", onOff(r.stats))
	default:
		fmt.Fprintf(r.out, "Unknown command: %s (try :help)\n", cmd)
	}
}

func (r *repl) eval(ctx context.Context, source string) {
	fn, _, err := r.p.Compile(ctx, source)
	if err != nil {
		fmt.Fprintf(r.out, "Error: %v\n", err)
		return
	}
	r.last = fn

	res, err := r.p.Execute(ctx, fn)
	printStack(r.out, res.Stack)
	if err != nil {
		fmt.Fprintf(r.out, "Error: %v\n", err)
		if rerr, ok := bytecode.AsRuntimeError(err); ok && len(rerr.Traceback) > 0 {
			fmt.Fprintln(r.out, rerr.FormatTraceback())
		}
	}
	if r.stats {
		fmt.Fprintf(r.out, "steps=%d calls=%d max_depth=%d\n", res.Stats.Steps, res.Stats.Calls, res.Stats.MaxDepth)
	}
}

// printStack writes the stack bottom to top, one value per line.
func printStack(out io.Writer, stack []bytecode.Value) {
	for _, v := range stack {
		fmt.Fprintln(out, v.String())
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
