package server

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// newBufconnClient serves the eval service on an in-memory listener.
func newBufconnClient(t *testing.T) *EvalClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	RegisterGRPC(gs, newTestEvalService(t))
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewEvalClient(conn)
}

func TestGRPC_Evaluate(t *testing.T) {
	client := newBufconnClient(t)

	reply, err := client.Evaluate(bg(), "func f(x): if x == 1: return 1;; x * f(x - 1) ;; f(5) ;;")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if got := stackOf(t, reply); len(got) != 1 || got[0] != "120" {
		t.Errorf("stack = %v, want [120]", got)
	}

	again, err := client.Result(bg(), reply.Fields["run_id"].GetStringValue())
	if err != nil {
		t.Fatalf("Result failed: %v", err)
	}
	if got := stackOf(t, again); got[0] != "120" {
		t.Errorf("Result stack = %v", got)
	}
}

func TestGRPC_Check(t *testing.T) {
	client := newBufconnClient(t)

	reply, err := client.Check(bg(), "f(")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if reply.Fields["ok"].GetBoolValue() {
		t.Error("Check of malformed source reported ok")
	}
}

func TestGRPC_StatusCodes(t *testing.T) {
	client := newBufconnClient(t)

	_, err := client.Evaluate(bg(), "")
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("empty source code = %v, want InvalidArgument", status.Code(err))
	}
	_, err = client.Result(bg(), "no-such-run")
	if status.Code(err) != codes.NotFound {
		t.Errorf("unknown run code = %v, want NotFound", status.Code(err))
	}
}
