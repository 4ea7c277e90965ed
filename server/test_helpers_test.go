package server

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chazu/ebc/compile"
	"github.com/chazu/ebc/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
// ---------------------------------------------------------------------------

// testOptions bound every test run so a broken program cannot hang the suite.
var testOptions = bytecode.Options{MaxSteps: 1_000_000, MaxFrames: 1000}

// newTestEvalService creates an EvalService with its own worker. The worker
// is stopped when the test ends.
func newTestEvalService(t *testing.T) *EvalService {
	t.Helper()
	w := NewWorker(compile.New(testOptions, nil))
	t.Cleanup(w.Stop)
	return NewEvalService(w, NewRunStore(), 5*time.Second)
}

// newTestServer starts a Server behind an httptest server.
func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(compile.New(testOptions, nil))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Stop()
	})
	return s, ts
}

// newTestLSP creates an LspServer without a client connection.
func newTestLSP(t *testing.T) *LspServer {
	t.Helper()
	s := NewLSP(compile.New(testOptions, nil))
	t.Cleanup(s.worker.Stop)
	return s
}

func bg() context.Context {
	return context.Background()
}
