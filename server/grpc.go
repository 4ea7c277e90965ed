package server

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// EvalServer is the gRPC server API of the eval service.
type EvalServer interface {
	Evaluate(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Check(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Result(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

// grpcEvalServer maps service errors to gRPC status codes.
type grpcEvalServer struct {
	svc *EvalService
}

func (g grpcEvalServer) Evaluate(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	reply, err := g.svc.Evaluate(ctx, req)
	return reply, grpcStatus(err)
}

func (g grpcEvalServer) Check(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	reply, err := g.svc.Check(ctx, req)
	return reply, grpcStatus(err)
}

func (g grpcEvalServer) Result(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	reply, err := g.svc.Result(ctx, req)
	return reply, grpcStatus(err)
}

func grpcStatus(err error) error {
	if err == nil {
		return nil
	}
	var code codes.Code
	switch {
	case errors.Is(err, errSourceRequired), errors.Is(err, errRunIDRequired):
		code = codes.InvalidArgument
	case errors.Is(err, errRunNotFound):
		code = codes.NotFound
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, errWorkerStopped):
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// RegisterGRPC registers svc on a gRPC server.
func RegisterGRPC(s grpc.ServiceRegistrar, svc *EvalService) {
	s.RegisterService(&evalServiceDesc, grpcEvalServer{svc: svc})
}

var evalServiceDesc = grpc.ServiceDesc{
	ServiceName: EvalServiceName,
	HandlerType: (*EvalServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Evaluate", Handler: unaryHandler(EvaluateProcedure, EvalServer.Evaluate)},
		{MethodName: "Check", Handler: unaryHandler(CheckProcedure, EvalServer.Check)},
		{MethodName: "Result", Handler: unaryHandler(ResultProcedure, EvalServer.Result)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ebc/v1/eval.proto",
}

func unaryHandler(
	fullMethod string,
	call func(EvalServer, context.Context, *wrapperspb.StringValue) (*structpb.Struct, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(wrapperspb.StringValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(EvalServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(EvalServer), ctx, req.(*wrapperspb.StringValue))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// EvalClient calls the eval service over a gRPC connection.
type EvalClient struct {
	cc grpc.ClientConnInterface
}

// NewEvalClient creates a client on cc.
func NewEvalClient(cc grpc.ClientConnInterface) *EvalClient {
	return &EvalClient{cc: cc}
}

// Evaluate runs source on the server.
func (c *EvalClient) Evaluate(ctx context.Context, source string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, EvaluateProcedure, source, opts)
}

// Check compiles source on the server without running it.
func (c *EvalClient) Check(ctx context.Context, source string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, CheckProcedure, source, opts)
}

// Result fetches an earlier Evaluate reply by run ID.
func (c *EvalClient) Result(ctx context.Context, runID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ResultProcedure, runID, opts)
}

func (c *EvalClient) invoke(ctx context.Context, method, arg string, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, wrapperspb.String(arg), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
