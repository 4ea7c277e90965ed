package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/chazu/ebc/compile"
	"github.com/chazu/ebc/pkg/bytecode"
)

// Service and procedure names shared by the Connect and gRPC transports.
const (
	EvalServiceName = "ebc.v1.EvalService"

	EvaluateProcedure = "/ebc.v1.EvalService/Evaluate"
	CheckProcedure    = "/ebc.v1.EvalService/Check"
	ResultProcedure   = "/ebc.v1.EvalService/Result"
)

var (
	errSourceRequired = errors.New("source is required")
	errRunIDRequired  = errors.New("run id is required")
	errRunNotFound    = errors.New("run not found")
	errWorkerStopped  = errors.New("worker stopped")
)

// EvalService evaluates and checks programs. Requests carry the source text
// (or a run ID for Result) in a StringValue; replies are Structs.
//
// An Evaluate reply has the fields
//
//	ok        bool
//	stack     list of rendered values, bottom first
//	run_id    string
//	steps, calls, max_depth  numbers
//	cached    bool
//	error, stage, kind, traceback   on failure
//
// Program failures are reported in the reply, not as RPC errors.
type EvalService struct {
	worker  *Worker
	runs    *RunStore
	timeout time.Duration
}

// NewEvalService creates an EvalService. A zero timeout leaves runs bounded
// only by the pipeline's VM options.
func NewEvalService(worker *Worker, runs *RunStore, timeout time.Duration) *EvalService {
	return &EvalService{worker: worker, runs: runs, timeout: timeout}
}

type evalOutcome struct {
	res *compile.Result
	err error
}

// Evaluate compiles and runs a program.
func (s *EvalService) Evaluate(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	source := req.GetValue()
	if strings.TrimSpace(source) == "" {
		return nil, errSourceRequired
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	v, err := s.worker.Do(ctx, func(p *compile.Pipeline) any {
		res, runErr := p.Run(ctx, source)
		return evalOutcome{res: res, err: runErr}
	})
	if err != nil {
		return nil, err
	}
	out := v.(evalOutcome)

	reply, err := evalReply(out.res, out.err)
	if err != nil {
		return nil, err
	}
	if out.res != nil {
		s.runs.Record(out.res.RunID.String(), source, reply)
	}
	return reply, nil
}

// Check parses and compiles a program without running it. The reply has
// ok, diagnostics (line, column, stage, message) and functions.
func (s *EvalService) Check(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	source := req.GetValue()
	if strings.TrimSpace(source) == "" {
		return nil, errSourceRequired
	}

	v, err := s.worker.Do(ctx, func(p *compile.Pipeline) any {
		fn, diags := diagnose(p, source)
		return checkReply(fn, diags)
	})
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(v.(map[string]any))
}

// Result returns the reply of an earlier Evaluate call by run ID.
func (s *EvalService) Result(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	id := strings.TrimSpace(req.GetValue())
	if id == "" {
		return nil, errRunIDRequired
	}
	reply, ok := s.runs.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errRunNotFound, id)
	}
	return reply, nil
}

// Handler returns the Connect handler for the service and the path prefix
// to mount it on.
func (s *EvalService) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(EvaluateProcedure, connect.NewUnaryHandler(EvaluateProcedure, connectUnary(s.Evaluate), opts...))
	mux.Handle(CheckProcedure, connect.NewUnaryHandler(CheckProcedure, connectUnary(s.Check), opts...))
	mux.Handle(ResultProcedure, connect.NewUnaryHandler(ResultProcedure, connectUnary(s.Result), opts...))
	return "/" + EvalServiceName + "/", mux
}

type unaryFunc func(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)

func connectUnary(fn unaryFunc) func(context.Context, *connect.Request[wrapperspb.StringValue]) (*connect.Response[structpb.Struct], error) {
	return func(ctx context.Context, req *connect.Request[wrapperspb.StringValue]) (*connect.Response[structpb.Struct], error) {
		reply, err := fn(ctx, req.Msg)
		if err != nil {
			return nil, connect.NewError(connectCode(err), err)
		}
		return connect.NewResponse(reply), nil
	}
}

func connectCode(err error) connect.Code {
	switch {
	case errors.Is(err, errSourceRequired), errors.Is(err, errRunIDRequired):
		return connect.CodeInvalidArgument
	case errors.Is(err, errRunNotFound):
		return connect.CodeNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return connect.CodeDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return connect.CodeCanceled
	case errors.Is(err, errWorkerStopped):
		return connect.CodeUnavailable
	}
	return connect.CodeInternal
}

// evalReply renders a pipeline outcome. res is nil when the program failed
// before running.
func evalReply(res *compile.Result, runErr error) (*structpb.Struct, error) {
	fields := map[string]any{
		"ok":    runErr == nil,
		"stack": []any{},
	}

	if res != nil {
		stack := make([]any, len(res.Stack))
		for i, v := range res.Stack {
			stack[i] = v.String()
		}
		fields["stack"] = stack
		fields["run_id"] = res.RunID.String()
		fields["steps"] = res.Stats.Steps
		fields["calls"] = res.Stats.Calls
		fields["max_depth"] = res.Stats.MaxDepth
		fields["cached"] = res.Cached
	}

	if runErr != nil {
		fields["error"] = runErr.Error()
		fields["stage"] = string(compile.StageOf(runErr))
		if kind := bytecode.KindName(runErr); kind != "" {
			fields["kind"] = kind
		}
		if re, ok := bytecode.AsRuntimeError(runErr); ok {
			trace := make([]any, len(re.Traceback))
			for i, t := range re.Traceback {
				trace[i] = t.String()
			}
			fields["traceback"] = trace
		}
	}
	return structpb.NewStruct(fields)
}

func checkReply(fn *bytecode.Function, diags []diagnostic) map[string]any {
	out := make([]any, len(diags))
	for i, d := range diags {
		out[i] = map[string]any{
			"stage":   string(d.Stage),
			"line":    d.Line,
			"column":  d.Column,
			"message": d.Message,
		}
	}

	var funcs []any
	if fn != nil {
		fn.Walk(func(f *bytecode.Function, depth int) error {
			if depth > 0 {
				funcs = append(funcs, fmt.Sprintf("%s/%d", f.DisplayName(), f.Arity()))
			}
			return nil
		})
	}
	if funcs == nil {
		funcs = []any{}
	}

	return map[string]any{
		"ok":          len(diags) == 0,
		"diagnostics": out,
		"functions":   funcs,
	}
}
