package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/chazu/ebc/pkg/bytecode"
	"github.com/chazu/ebc/pkg/parser"
)

func openTemp(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache", "images.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func compileSource(t *testing.T, src string) *bytecode.Function {
	t.Helper()
	prog, err := parser.Parse(src)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	fn, err := bytecode.Compile(prog)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return fn
}

func TestKey(t *testing.T) {
	if Key("1 + 2") != Key("1 + 2") {
		t.Error("Key is not deterministic")
	}
	if Key("1 + 2") == Key("1 +  2") {
		t.Error("different sources share a key")
	}
	if len(Key("")) != 64 {
		t.Errorf("len(Key) = %d, want 64", len(Key("")))
	}
}

func TestCacheMissThenHit(t *testing.T) {
	ctx := context.Background()
	c := openTemp(t)
	src := "func f(x): if x == 1: return 1;; x * f(x - 1) ;; f(5) ;;"

	if _, ok, err := c.Get(ctx, src); err != nil || ok {
		t.Fatalf("Get on empty cache = ok %v, err %v", ok, err)
	}

	fn := compileSource(t, src)
	if err := c.Put(ctx, src, fn); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, ok, err := c.Get(ctx, src)
	if err != nil || !ok {
		t.Fatalf("Get after Put = ok %v, err %v", ok, err)
	}
	want, _ := bytecode.Hash(fn)
	have, _ := bytecode.Hash(got)
	if want != have {
		t.Error("cached image differs from the stored function")
	}

	stack, err := bytecode.NewVM(bytecode.Options{}).Run(ctx, got)
	if err != nil {
		t.Fatalf("Run cached function: %v", err)
	}
	if len(stack) != 1 || stack[0] != bytecode.Int(120) {
		t.Errorf("stack = %v, want [120]", stack)
	}

	s, err := c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if s.Entries != 1 || s.Hits != 1 || s.Misses != 1 || s.Bytes == 0 {
		t.Errorf("Stats = %+v", s)
	}
}

func TestCachePutReplaces(t *testing.T) {
	ctx := context.Background()
	c := openTemp(t)

	if err := c.Put(ctx, "1", compileSource(t, "1")); err != nil {
		t.Fatal(err)
	}
	if err := c.Put(ctx, "1", compileSource(t, "1")); err != nil {
		t.Fatal(err)
	}
	s, _ := c.Stats(ctx)
	if s.Entries != 1 {
		t.Errorf("Entries = %d, want 1", s.Entries)
	}
}

func TestCacheDropsCorruptImage(t *testing.T) {
	ctx := context.Background()
	c := openTemp(t)

	_, err := c.db.Exec("INSERT INTO images (key, version, image, created_at, used_at) VALUES (?, ?, ?, 0, 0)",
		Key("bad"), bytecode.BytecodeVersion, []byte{0xFF, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, err := c.Get(ctx, "bad"); err != nil || ok {
		t.Fatalf("Get corrupt = ok %v, err %v", ok, err)
	}
	if s, _ := c.Stats(ctx); s.Entries != 0 {
		t.Errorf("corrupt entry not removed, Entries = %d", s.Entries)
	}
}

func TestCacheDropsStaleVersion(t *testing.T) {
	ctx := context.Background()
	c := openTemp(t)

	if err := c.Put(ctx, "2", compileSource(t, "2")); err != nil {
		t.Fatal(err)
	}
	if _, err := c.db.Exec("UPDATE images SET version = 0"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "2"); ok {
		t.Error("stale version served as a hit")
	}
}

func TestCachePrune(t *testing.T) {
	ctx := context.Background()
	c := openTemp(t)

	for _, src := range []string{"1", "2", "3"} {
		if err := c.Put(ctx, src, compileSource(t, src)); err != nil {
			t.Fatal(err)
		}
	}
	old := time.Now().Add(-48 * time.Hour).UnixNano()
	if _, err := c.db.Exec("UPDATE images SET used_at = ? WHERE key != ?", old, Key("3")); err != nil {
		t.Fatal(err)
	}

	n, err := c.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Prune removed %d, want 2", n)
	}
	if _, ok, _ := c.Get(ctx, "3"); !ok {
		t.Error("recent entry was pruned")
	}
}

func TestCacheReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "images.db")

	c, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Put(ctx, "7", compileSource(t, "7")); err != nil {
		t.Fatal(err)
	}
	c.Close()

	c, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, ok, err := c.Get(ctx, "7"); err != nil || !ok {
		t.Errorf("Get after reopen = ok %v, err %v", ok, err)
	}
}

func TestCacheClosed(t *testing.T) {
	c := openTemp(t)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if _, _, err := c.Get(context.Background(), "1"); !errors.Is(err, ErrClosed) {
		t.Errorf("Get after Close = %v, want ErrClosed", err)
	}
}
