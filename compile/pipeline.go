// Package compile ties the frontend, compiler, cache and VM together. Every
// host (CLI, RPC services, language server) evaluates programs through a
// Pipeline.
package compile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/ebc/pkg/bytecode"
	"github.com/chazu/ebc/pkg/parser"
	"github.com/chazu/ebc/store"
)

var log = commonlog.GetLogger("ebc.compile")

// Stage names the pipeline step that produced an error.
type Stage string

const (
	StageParse   Stage = "parse"
	StageCompile Stage = "compile"
	StageRun     Stage = "run"
)

// Error wraps a failure with the stage it happened in.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StageOf returns the stage of a pipeline error, or "" for other errors.
func StageOf(err error) Stage {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}

// Result describes one program execution.
type Result struct {
	RunID    uuid.UUID
	Function *bytecode.Function
	Stack    []bytecode.Value
	Stats    bytecode.Stats
	Cached   bool
	Elapsed  time.Duration
}

// Pipeline compiles and runs source text with fixed VM limits. A Pipeline is
// safe for concurrent use; each run gets its own VM.
type Pipeline struct {
	opts  bytecode.Options
	cache *store.Cache
}

// New creates a Pipeline. cache may be nil to disable caching.
func New(opts bytecode.Options, cache *store.Cache) *Pipeline {
	return &Pipeline{opts: opts, cache: cache}
}

// Options returns the VM options used for every run.
func (p *Pipeline) Options() bytecode.Options { return p.opts }

// Cache returns the compile cache, or nil.
func (p *Pipeline) Cache() *store.Cache { return p.cache }

// Check parses and compiles source without running it or touching the cache.
func (p *Pipeline) Check(source string) (*bytecode.Function, error) {
	prog, err := parser.Parse(source)
	if err != nil {
		return nil, &Error{Stage: StageParse, Err: err}
	}
	fn, err := bytecode.Compile(prog)
	if err != nil {
		return nil, &Error{Stage: StageCompile, Err: err}
	}
	return fn, nil
}

// Compile returns the compiled program for source, consulting the cache
// first. The boolean reports a cache hit. Cache failures are logged and
// otherwise ignored.
func (p *Pipeline) Compile(ctx context.Context, source string) (*bytecode.Function, bool, error) {
	if p.cache != nil {
		fn, ok, err := p.cache.Get(ctx, source)
		if err != nil {
			log.Warningf("cache lookup: %s", err)
		} else if ok {
			return fn, true, nil
		}
	}

	fn, err := p.Check(source)
	if err != nil {
		return nil, false, err
	}

	if p.cache != nil {
		if err := p.cache.Put(ctx, source, fn); err != nil {
			log.Warningf("cache store: %s", err)
		}
	}
	return fn, false, nil
}

// Run compiles and executes source. When execution starts, the returned
// Result is non-nil even if the run faulted; its Stack holds the operand
// stack at the fault.
func (p *Pipeline) Run(ctx context.Context, source string, args ...bytecode.Value) (*Result, error) {
	fn, cached, err := p.Compile(ctx, source)
	if err != nil {
		return nil, err
	}
	res, err := p.Execute(ctx, fn, args...)
	res.Cached = cached
	return res, err
}

// Execute runs an already compiled program.
func (p *Pipeline) Execute(ctx context.Context, fn *bytecode.Function, args ...bytecode.Value) (*Result, error) {
	res := &Result{RunID: uuid.New(), Function: fn}
	vm := bytecode.NewVM(p.opts)

	start := time.Now()
	stack, err := vm.Run(ctx, fn, args...)
	res.Elapsed = time.Since(start)
	res.Stack = stack
	res.Stats = vm.Stats()

	if err != nil {
		log.Debugf("run %s failed after %d steps: %s", res.RunID, res.Stats.Steps, err)
		return res, &Error{Stage: StageRun, Err: err}
	}
	log.Debugf("run %s: %d steps, %d calls, depth %d", res.RunID, res.Stats.Steps, res.Stats.Calls, res.Stats.MaxDepth)
	return res, nil
}
