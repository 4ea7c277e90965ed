// ebc CLI - compiles and runs ebc programs, serves them over RPC and LSP
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/ebc/compile"
	"github.com/chazu/ebc/manifest"
	"github.com/chazu/ebc/pkg/bytecode"
	"github.com/chazu/ebc/server"
	"github.com/chazu/ebc/store"
)

// ImageExt is the file extension of compiled images.
const ImageExt = ".ebcx"

var log = commonlog.GetLogger("ebc.cli")

type options struct {
	expr        string
	disasm      bool
	trace       bool
	output      string
	maxFrames   int
	maxSteps    int64
	cachePath   string
	noCache     bool
	serve       bool
	addr        string
	grpcAddr    string
	lsp         bool
	interactive bool
	verbose     bool
	stats       bool
}

func main() {
	var o options
	flag.StringVar(&o.expr, "e", "", "Evaluate a program given on the command line")
	flag.BoolVar(&o.disasm, "disasm", false, "Print the disassembly instead of running")
	flag.BoolVar(&o.trace, "trace", false, "Log every executed instruction")
	flag.StringVar(&o.output, "o", "", "Write the compiled image to this path instead of running")
	flag.IntVar(&o.maxFrames, "max-frames", 0, "Frame depth limit (0 = ebc.toml or default)")
	flag.Int64Var(&o.maxSteps, "max-steps", 0, "Instruction budget (0 = ebc.toml or unlimited)")
	flag.StringVar(&o.cachePath, "cache", "", "Compile cache database path")
	flag.BoolVar(&o.noCache, "no-cache", false, "Disable the compile cache")
	flag.BoolVar(&o.serve, "serve", false, "Start the evaluation server (Connect HTTP/JSON, optional gRPC)")
	flag.StringVar(&o.addr, "addr", "", "Server address (used with -serve)")
	flag.StringVar(&o.grpcAddr, "grpc", "", "gRPC address (used with -serve)")
	flag.BoolVar(&o.lsp, "lsp", false, "Start the language server on stdio")
	flag.BoolVar(&o.interactive, "i", false, "Start interactive REPL")
	flag.BoolVar(&o.verbose, "v", false, "Verbose output")
	flag.BoolVar(&o.stats, "stats", false, "Print execution statistics after running")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ebc [options] [file]\n\n")
		fmt.Fprintf(os.Stderr, "Compiles and runs an ebc program and prints its residual stack.\n")
		fmt.Fprintf(os.Stderr, "Files ending in %s are run as compiled images.\n\n", ImageExt)
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  ebc fact.eb                 # Run a program\n")
		fmt.Fprintf(os.Stderr, "  ebc -e '1 + 2 * 3'          # Evaluate an expression\n")
		fmt.Fprintf(os.Stderr, "  ebc -disasm fact.eb         # Show bytecode\n")
		fmt.Fprintf(os.Stderr, "  ebc -o fact%s fact.eb     # Compile to an image\n", ImageExt)
		fmt.Fprintf(os.Stderr, "  ebc -i                      # Start REPL\n")
		fmt.Fprintf(os.Stderr, "\nServers:\n")
		fmt.Fprintf(os.Stderr, "  ebc -serve -addr :8420 -grpc :8421\n")
		fmt.Fprintf(os.Stderr, "  ebc -lsp\n")
	}
	flag.Parse()

	m, err := loadManifest(&o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", manifest.FileName, err)
		os.Exit(1)
	}

	verbosity := m.Log.Verbosity
	if o.verbose && verbosity < 1 {
		verbosity = 1
	}
	if o.trace {
		verbosity = 2
	}
	if o.lsp {
		// stdout carries the protocol
		verbosity = -4
	}
	commonlog.Configure(verbosity, nil)

	cache := openCache(m, &o)
	if cache != nil {
		defer cache.Close()
	}
	p := compile.New(m.VMOptions(), cache)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(dispatch(ctx, p, m, &o))
}

// dispatch runs the selected mode and returns the process exit code.
func dispatch(ctx context.Context, p *compile.Pipeline, m *manifest.Manifest, o *options) int {
	switch {
	case o.lsp:
		if err := server.NewLSP(p).Run(); err != nil {
			fmt.Fprintf(os.Stderr, "LSP error: %v\n", err)
			return 1
		}
		return 0

	case o.serve:
		return serve(ctx, p, m, o)

	case o.interactive:
		runREPL(ctx, p, os.Stdin, os.Stdout)
		return 0
	}

	name, source, image, err := input(m, o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if name == "" {
		runREPL(ctx, p, os.Stdin, os.Stdout)
		return 0
	}

	var fn *bytecode.Function
	cached := false
	if image != nil {
		fn = image
	} else {
		fn, cached, err = p.Compile(ctx, source)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
			return 1
		}
	}
	if o.verbose {
		fmt.Fprintf(os.Stderr, "Compiled %s (%d bytes of code, cached=%v)\n", name, codeSize(fn), cached)
	}

	if o.output != "" {
		if err := writeImage(o.output, fn); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if o.verbose {
			fmt.Fprintf(os.Stderr, "Wrote %s\n", o.output)
		}
		return 0
	}
	if o.disasm {
		fmt.Print(fn.Disassemble())
		return 0
	}

	res, err := p.Execute(ctx, fn)
	if res != nil {
		printStack(os.Stdout, res.Stack)
		if o.stats {
			fmt.Fprintf(os.Stderr, "steps=%d calls=%d max_depth=%d elapsed=%s\n",
				res.Stats.Steps, res.Stats.Calls, res.Stats.MaxDepth, res.Elapsed)
		}
	}
	if err != nil {
		reportError(name, err)
		return 1
	}
	return 0
}

func serve(ctx context.Context, p *compile.Pipeline, m *manifest.Manifest, o *options) int {
	addr, grpcAddr := m.Server.Addr, m.Server.GRPCAddr
	if o.addr != "" {
		addr = o.addr
	}
	if o.grpcAddr != "" {
		grpcAddr = o.grpcAddr
	}

	srv := server.New(p)
	go func() {
		<-ctx.Done()
		srv.Stop()
	}()

	log.Noticef("serving on %s", addr)
	if grpcAddr != "" {
		log.Noticef("gRPC on %s", grpcAddr)
	}
	if err := srv.ListenAndServe(addr, grpcAddr); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		return 1
	}
	return 0
}

// loadManifest finds ebc.toml above the working directory, or uses the
// defaults, and applies flag overrides.
func loadManifest(o *options) (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default()
		if m.Dir, err = os.Getwd(); err != nil {
			return nil, err
		}
	}

	if o.maxFrames > 0 {
		m.VM.MaxFrames = o.maxFrames
	}
	if o.maxSteps > 0 {
		m.VM.MaxSteps = o.maxSteps
	}
	if o.trace {
		m.VM.Trace = true
	}
	if o.cachePath != "" {
		m.Cache.Path = o.cachePath
	}
	if o.noCache {
		m.Cache.Enabled = false
	}
	return m, nil
}

// openCache opens the compile cache. A cache that cannot be opened is
// reported and skipped.
func openCache(m *manifest.Manifest, o *options) *store.Cache {
	if !m.Cache.Enabled || o.output != "" {
		return nil
	}
	path := m.CachePath()
	if path == "" {
		var err error
		if path, err = store.DefaultPath(); err != nil {
			log.Warningf("compile cache disabled: %s", err)
			return nil
		}
	}
	cache, err := store.Open(path)
	if err != nil {
		log.Warningf("compile cache disabled: %s", err)
		return nil
	}
	log.Debugf("compile cache at %s", cache.Path())
	return cache
}

// input selects the program to run: -e, a file argument, or the manifest
// entry. An empty name means there is nothing to run.
func input(m *manifest.Manifest, o *options) (name, source string, image *bytecode.Function, err error) {
	if o.expr != "" {
		return "-e", o.expr, nil, nil
	}

	var path string
	switch args := flag.Args(); {
	case len(args) > 1:
		return "", "", nil, fmt.Errorf("expected at most one file, got %d", len(args))
	case len(args) == 1:
		path = args[0]
	case m.Dir != "" && m.Project.Entry != "":
		path = m.EntryPath()
		if _, statErr := os.Stat(path); statErr != nil {
			// No entry file: fall back to the REPL.
			return "", "", nil, nil
		}
	default:
		return "", "", nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ImageExt) {
		fn, err := bytecode.Unmarshal(data)
		if err != nil {
			return "", "", nil, fmt.Errorf("%s: %w", path, err)
		}
		return path, "", fn, nil
	}
	return path, string(data), nil, nil
}

func writeImage(path string, fn *bytecode.Function) error {
	data, err := bytecode.Marshal(fn)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func codeSize(fn *bytecode.Function) int {
	n := 0
	_ = fn.Walk(func(f *bytecode.Function, _ int) error {
		n += len(f.Code)
		return nil
	})
	return n
}

func reportError(name string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
	if rerr, ok := bytecode.AsRuntimeError(err); ok && len(rerr.Traceback) > 0 {
		fmt.Fprintln(os.Stderr, rerr.FormatTraceback())
	}
	if errors.Is(err, bytecode.ErrCancelled) {
		fmt.Fprintln(os.Stderr, "interrupted")
	}
}
