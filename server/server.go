// Package server exposes the compile pipeline over Connect (HTTP), gRPC and
// the Language Server Protocol.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/tliron/commonlog"
	"google.golang.org/grpc"

	"github.com/chazu/ebc/compile"
)

var log = commonlog.GetLogger("ebc.server")

// Server serves the eval service over Connect and, optionally, gRPC.
type Server struct {
	worker *Worker
	runs   *RunStore
	eval   *EvalService
	mux    *http.ServeMux

	httpServer  *http.Server
	grpcServer  *grpc.Server
	stopSweeper func()
}

// Option configures a Server.
type Option func(*serverConfig)

type serverConfig struct {
	evalTimeout   time.Duration
	sweepInterval time.Duration
	runTTL        time.Duration
}

// WithEvalTimeout bounds the wall-clock time of each Evaluate call.
func WithEvalTimeout(d time.Duration) Option {
	return func(c *serverConfig) { c.evalTimeout = d }
}

// WithRunTTL sets how long unused run results are kept, and how often
// expired ones are swept.
func WithRunTTL(ttl, interval time.Duration) Option {
	return func(c *serverConfig) {
		c.runTTL = ttl
		c.sweepInterval = interval
	}
}

// New creates a Server evaluating programs with p.
func New(p *compile.Pipeline, opts ...Option) *Server {
	cfg := &serverConfig{
		evalTimeout:   30 * time.Second,
		sweepInterval: 5 * time.Minute,
		runTTL:        30 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	worker := NewWorker(p)
	runs := NewRunStore()

	s := &Server{
		worker: worker,
		runs:   runs,
		eval:   NewEvalService(worker, runs, cfg.evalTimeout),
		mux:    http.NewServeMux(),
	}

	path, handler := s.eval.Handler()
	s.mux.Handle(path, handler)
	s.httpServer = &http.Server{Handler: s.mux}
	s.grpcServer = grpc.NewServer()
	RegisterGRPC(s.grpcServer, s.eval)

	s.stopSweeper = runs.StartSweeper(cfg.sweepInterval, cfg.runTTL)
	return s
}

// Handler returns the HTTP handler serving the Connect endpoints.
func (s *Server) Handler() http.Handler { return s.mux }

// EvalService returns the service shared by all transports.
func (s *Server) EvalService() *EvalService { return s.eval }

// ListenAndServe serves Connect on addr and, when grpcAddr is not empty,
// gRPC on grpcAddr. It blocks until Stop is called or a listener fails.
func (s *Server) ListenAndServe(addr, grpcAddr string) error {
	errc := make(chan error, 2)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Noticef("Connect listening on http://%s%s", lis.Addr(), EvaluateProcedure)
	go func() { errc <- s.httpServer.Serve(lis) }()

	if grpcAddr != "" {
		glis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			s.httpServer.Close()
			return err
		}
		log.Noticef("gRPC listening on %s", glis.Addr())
		go func() { errc <- s.grpcServer.Serve(glis) }()
	}

	err = <-errc
	if errors.Is(err, http.ErrServerClosed) || errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Stop shuts down the listeners and the worker.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	s.httpServer.Shutdown(ctx)
	cancel()
	s.grpcServer.GracefulStop()
	s.stopSweeper()
	s.worker.Stop()
}
