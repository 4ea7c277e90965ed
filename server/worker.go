package server

import (
	"context"
	"fmt"

	"github.com/chazu/ebc/compile"
)

// workRequest represents a unit of work to be executed on the worker goroutine.
type workRequest struct {
	fn   func(*compile.Pipeline) any
	done chan workResult
}

// workResult holds the return value from a pipeline operation.
type workResult struct {
	value any
	err   error
}

// Worker serializes all program runs through a single goroutine, so a
// server never executes more than one VM at a time no matter how many
// RPC handlers are active.
type Worker struct {
	pipeline *compile.Pipeline
	requests chan workRequest
	quit     chan struct{}
}

// NewWorker creates a Worker and starts the processing goroutine.
func NewWorker(p *compile.Pipeline) *Worker {
	w := &Worker{
		pipeline: p,
		requests: make(chan workRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes requests sequentially on a dedicated goroutine.
func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs a function on the pipeline, recovering from panics.
func (w *Worker) execute(fn func(*compile.Pipeline) any) workResult {
	var result workResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("worker panic: %v", r)
				result.err = fmt.Errorf("%v", r)
			}
		}()
		result.value = fn(w.pipeline)
	}()
	return result
}

// Do submits a function for execution on the worker goroutine and blocks
// until it completes or ctx is done. Returns the result and any error
// (including panics).
func (w *Worker) Do(ctx context.Context, fn func(*compile.Pipeline) any) (any, error) {
	req := workRequest{
		fn:   fn,
		done: make(chan workResult, 1),
	}
	select {
	case w.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.quit:
		return nil, errWorkerStopped
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-ctx.Done():
		// done is buffered, so the worker still completes fn without blocking.
		return nil, ctx.Err()
	case <-w.quit:
		return nil, errWorkerStopped
	}
}

// Stop shuts down the worker goroutine.
func (w *Worker) Stop() {
	close(w.quit)
}

// Pipeline returns the underlying pipeline.
func (w *Worker) Pipeline() *compile.Pipeline {
	return w.pipeline
}
