// Package conformance runs YAML-described programs through the compile
// pipeline and checks their residual stacks and faults.
package conformance

import (
	"context"
	"fmt"
	"strings"

	"github.com/chazu/ebc/compile"
	"github.com/chazu/ebc/pkg/bytecode"
)

// TestResult represents the outcome of running a single test
type TestResult struct {
	Test       LoadedTest
	Passed     bool
	Skipped    bool
	SkipReason string
	Error      error
}

// Runner executes conformance tests
type Runner struct {
	base bytecode.Options
}

// NewRunner creates a runner whose VM options are opts, overridden per
// suite by its limits.
func NewRunner(opts bytecode.Options) *Runner {
	return &Runner{base: opts}
}

func (r *Runner) options(l Limits) bytecode.Options {
	opts := r.base
	if l.MaxFrames > 0 {
		opts.MaxFrames = l.MaxFrames
	}
	if l.MaxSteps > 0 {
		opts.MaxSteps = l.MaxSteps
	}
	return opts
}

// Run executes a single test case
func (r *Runner) Run(ctx context.Context, test LoadedTest) TestResult {
	if skipped, reason := test.Test.IsSkipped(); skipped {
		return TestResult{Test: test, Skipped: true, SkipReason: reason}
	}
	if strings.TrimSpace(test.Test.Source) == "" {
		return TestResult{Test: test, Skipped: true, SkipReason: "no source"}
	}

	p := compile.New(r.options(test.Suite.Limits), nil)
	res, err := p.Run(ctx, test.Test.Source)

	var stack []bytecode.Value
	if res != nil {
		stack = res.Stack
	}
	checkErr := checkExpectation(test.Test.Expect, stack, err)
	return TestResult{Test: test, Passed: checkErr == nil, Error: checkErr}
}

// RunAll executes all loaded tests
func (r *Runner) RunAll(ctx context.Context, tests []LoadedTest) []TestResult {
	results := make([]TestResult, len(tests))
	for i, test := range tests {
		results[i] = r.Run(ctx, test)
	}
	return results
}

// SummaryStats computes statistics from test results
type SummaryStats struct {
	Total   int
	Passed  int
	Failed  int
	Skipped int
}

// ComputeStats generates statistics from test results
func ComputeStats(results []TestResult) SummaryStats {
	stats := SummaryStats{Total: len(results)}
	for _, r := range results {
		if r.Skipped {
			stats.Skipped++
		} else if r.Passed {
			stats.Passed++
		} else {
			stats.Failed++
		}
	}
	return stats
}

// FormatStats returns a human-readable summary
func FormatStats(stats SummaryStats) string {
	return fmt.Sprintf("%d passed, %d failed, %d skipped (%d total)",
		stats.Passed, stats.Failed, stats.Skipped, stats.Total)
}

// checkExpectation checks the outcome of a run against expect.
func checkExpectation(expect Expectation, stack []bytecode.Value, err error) error {
	if expect.Error == "" && expect.Stage == "" && expect.Stack == nil {
		return fmt.Errorf("no expectation specified")
	}

	if expect.Error != "" {
		if _, ok := bytecode.KindByName(expect.Error); !ok {
			return fmt.Errorf("unknown error kind: %s", expect.Error)
		}
		if err == nil {
			return fmt.Errorf("expected error %s, got stack %s", expect.Error, render(stack))
		}
		if got := bytecode.KindName(err); got != expect.Error {
			return fmt.Errorf("expected error %s, got %v", expect.Error, err)
		}
	}

	if expect.Stage != "" {
		if err == nil {
			return fmt.Errorf("expected %s error, got stack %s", expect.Stage, render(stack))
		}
		if got := compile.StageOf(err); string(got) != expect.Stage {
			return fmt.Errorf("expected %s error, got %v", expect.Stage, err)
		}
	}

	if expect.Error == "" && expect.Stage == "" && err != nil {
		return fmt.Errorf("unexpected error: %v", err)
	}

	if expect.Stack != nil {
		want := *expect.Stack
		if len(want) != len(stack) {
			return fmt.Errorf("expected stack of %d values, got %s", len(want), render(stack))
		}
		for i, w := range want {
			ok, convErr := matchValue(w, stack[i])
			if convErr != nil {
				return convErr
			}
			if !ok {
				return fmt.Errorf("stack[%d]: expected %v, got %s (full stack %s)", i, w, stack[i].GoString(), render(stack))
			}
		}
	}
	return nil
}

// matchValue compares a YAML-decoded expectation with a VM value.
func matchValue(want interface{}, got bytecode.Value) (bool, error) {
	switch w := want.(type) {
	case nil:
		return got.IsNil(), nil
	case int:
		n, ok := got.AsInt()
		return ok && n == int64(w), nil
	case int64:
		n, ok := got.AsInt()
		return ok && n == w, nil
	case uint64:
		n, ok := got.AsInt()
		return ok && n >= 0 && uint64(n) == w, nil
	case bool:
		b, ok := got.AsBool()
		return ok && b == w, nil
	case string:
		return got.String() == w, nil
	default:
		return false, fmt.Errorf("unsupported expected value %v (%T)", want, want)
	}
}

func render(stack []bytecode.Value) string {
	parts := make([]string, len(stack))
	for i, v := range stack {
		parts[i] = v.GoString()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
