package main

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/ebc/compile"
	"github.com/chazu/ebc/manifest"
	"github.com/chazu/ebc/pkg/bytecode"
)

const factSource = `func factorial(n):
  if n == 1: return 1 ;;
  n * factorial(n - 1)
;;
factorial(5)
`

func testPipeline() *compile.Pipeline {
	return compile.New(bytecode.Options{MaxFrames: 100, MaxSteps: 100000}, nil)
}

func TestREPL(t *testing.T) {
	in := strings.NewReader(factSource + "\n1 + 2\n\n:stats\n1 / 0\n\nexit\n")
	var out bytes.Buffer
	runREPL(context.Background(), testPipeline(), in, &out)

	got := out.String()
	for _, want := range []string{"120\n", "3\n", "Statistics on", "division by zero", "steps="} {
		if !strings.Contains(got, want) {
			t.Errorf("REPL output missing %q:\n%s", want, got)
		}
	}
}

func TestREPLRunsTrailingInput(t *testing.T) {
	var out bytes.Buffer
	runREPL(context.Background(), testPipeline(), strings.NewReader("6 * 7"), &out)
	if !strings.Contains(out.String(), "42\n") {
		t.Errorf("output = %q, want 42", out.String())
	}
}

func TestREPLCommands(t *testing.T) {
	in := strings.NewReader(":disasm\n2 + 2\n\n:disasm\n:bogus\n:help\n")
	var out bytes.Buffer
	runREPL(context.Background(), testPipeline(), in, &out)

	got := out.String()
	for _, want := range []string{"No program compiled yet", "ADD", "Unknown command: :bogus", "REPL Commands:"} {
		if !strings.Contains(got, want) {
			t.Errorf("REPL output missing %q:\n%s", want, got)
		}
	}
}

func TestREPLCompileError(t *testing.T) {
	var out bytes.Buffer
	runREPL(context.Background(), testPipeline(), strings.NewReader("1 +\n\n"), &out)
	if !strings.Contains(out.String(), "Error: parse error") {
		t.Errorf("output = %q, want a parse error", out.String())
	}
}

func TestWriteImageRoundTrip(t *testing.T) {
	p := testPipeline()
	fn, _, err := p.Compile(context.Background(), factSource)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "fact"+ImageExt)
	if err := writeImage(path, fn); err != nil {
		t.Fatal(err)
	}

	o := &options{}
	m := manifest.Default()
	flag.CommandLine = flag.NewFlagSet("ebc", flag.ContinueOnError)
	if err := flag.CommandLine.Parse([]string{path}); err != nil {
		t.Fatal(err)
	}
	name, source, image, err := input(m, o)
	if err != nil {
		t.Fatal(err)
	}
	if name != path || source != "" || image == nil {
		t.Fatalf("input = %q, %q, %v", name, source, image)
	}

	res, err := p.Execute(context.Background(), image)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := res.Stack[0].AsInt(); len(res.Stack) != 1 || n != 120 {
		t.Errorf("stack = %v, want [120]", res.Stack)
	}
}

func TestInputPrefersExpression(t *testing.T) {
	name, source, image, err := input(manifest.Default(), &options{expr: "1 + 1"})
	if err != nil {
		t.Fatal(err)
	}
	if name != "-e" || source != "1 + 1" || image != nil {
		t.Errorf("input = %q, %q, %v", name, source, image)
	}
}

func TestInputMissingEntryFallsBack(t *testing.T) {
	m := manifest.Default()
	m.Dir = t.TempDir()
	flag.CommandLine = flag.NewFlagSet("ebc", flag.ContinueOnError)
	name, _, _, err := input(m, &options{})
	if err != nil || name != "" {
		t.Errorf("input = %q, %v; want empty name", name, err)
	}
}

func TestInputManifestEntry(t *testing.T) {
	m := manifest.Default()
	m.Dir = t.TempDir()
	if err := os.WriteFile(filepath.Join(m.Dir, "main.eb"), []byte("5"), 0o644); err != nil {
		t.Fatal(err)
	}
	flag.CommandLine = flag.NewFlagSet("ebc", flag.ContinueOnError)
	name, source, _, err := input(m, &options{})
	if err != nil {
		t.Fatal(err)
	}
	if name != m.EntryPath() || source != "5" {
		t.Errorf("input = %q, %q", name, source)
	}
}

func TestLoadManifestOverrides(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, manifest.FileName), []byte("[vm]\nmax_frames = 20\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	m, err := loadManifest(&options{maxSteps: 50, noCache: true, trace: true})
	if err != nil {
		t.Fatal(err)
	}
	if m.VM.MaxFrames != 20 {
		t.Errorf("MaxFrames = %d, want 20 from %s", m.VM.MaxFrames, manifest.FileName)
	}
	if m.VM.MaxSteps != 50 || !m.VM.Trace || m.Cache.Enabled {
		t.Errorf("flag overrides not applied: %+v %+v", m.VM, m.Cache)
	}
	if openCache(m, &options{}) != nil {
		t.Error("disabled cache should not open")
	}
}

func TestOpenCacheMemory(t *testing.T) {
	m := manifest.Default()
	m.Cache.Path = ":memory:"
	cache := openCache(m, &options{})
	if cache == nil {
		t.Fatal("in-memory cache should open")
	}
	defer cache.Close()

	if cache := openCache(m, &options{output: "x.ebcx"}); cache != nil {
		t.Error("writing an image should not use the cache")
	}
}
