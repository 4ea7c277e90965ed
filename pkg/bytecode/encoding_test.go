package bytecode

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/chazu/ebc/pkg/ast"
	"github.com/fxamacker/cbor/v2"
)

func TestMarshalRoundTrip(t *testing.T) {
	fn := compileExprs(t, factorialProgram(10)...)
	fn.AddSourceLocation(0, 1, 1)

	data, err := Marshal(fn)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	loaded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	again, err := Marshal(loaded)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, again) {
		t.Error("re-encoding a decoded image changed its bytes")
	}
	if len(loaded.Children) != 1 || loaded.Children[0].Name != "f" {
		t.Errorf("children lost: %v", loaded.Children)
	}
	if line, _ := loaded.SourceLocation(0); line != 1 {
		t.Errorf("line table lost, got line %d", line)
	}
}

// nestedChain builds a root with depth functions nested one inside the next.
func nestedChain(depth int) *Function {
	root := NewFunction("", nil)
	parent := root
	for i := 0; i < depth; i++ {
		child := NewFunction(fmt.Sprintf("f%d", i), nil)
		child.EmitInt(int64(i))
		child.AddSourceLocation(0, uint32(i+1), 1)
		parent.Children = append(parent.Children, child)
		parent = child
	}
	return root
}

func TestMarshalDeepNesting(t *testing.T) {
	for _, depth := range []int{10, 16, 40, MaxImageDepth} {
		t.Run(fmt.Sprint(depth), func(t *testing.T) {
			fn := nestedChain(depth)
			if got := Depth(fn); got != depth {
				t.Fatalf("Depth = %d, want %d", got, depth)
			}
			data, err := Marshal(fn)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			loaded, err := Unmarshal(data)
			if err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if got := Depth(loaded); got != depth {
				t.Errorf("decoded depth = %d, want %d", got, depth)
			}
		})
	}
}

func TestMarshalRejectsTooDeep(t *testing.T) {
	_, err := Marshal(nestedChain(MaxImageDepth + 1))
	if err == nil || !strings.Contains(err.Error(), "exceeds image limit") {
		t.Errorf("err = %v, want nesting depth error", err)
	}
	if _, err := Hash(nestedChain(MaxImageDepth + 1)); err == nil {
		t.Error("Hash should fail for an image Marshal rejects")
	}
}

func TestMarshalDeterministic(t *testing.T) {
	a, err := Hash(compileExprs(t, factorialProgram(3)...))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Hash(compileExprs(t, factorialProgram(3)...))
	if err != nil {
		t.Fatal(err)
	}
	c, err := Hash(compileExprs(t, factorialProgram(4)...))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("equal functions hash differently")
	}
	if a == c {
		t.Error("different functions hash equally")
	}
}

func TestUnmarshalRejectsBadImages(t *testing.T) {
	encode := func(img Image) []byte {
		data, err := cborEncMode.Marshal(&img)
		if err != nil {
			t.Fatal(err)
		}
		return data
	}
	good := compileExprs(t, ast.Int(1))

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"garbage", []byte{0xFF, 0x00}, "unmarshal image"},
		{"bad magic", encode(Image{Magic: "NOPE", Version: BytecodeVersion, Root: good}), "magic"},
		{"bad version", encode(Image{Magic: ImageMagic, Version: 99, Root: good}), "version"},
		{"no root", encode(Image{Magic: ImageMagic, Version: BytecodeVersion}), "no root"},
		{"bad code", encode(Image{Magic: ImageMagic, Version: BytecodeVersion, Root: chunkWithCode(0xEE)}), "unknown opcode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.data)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestImageUsesIntegerKeys(t *testing.T) {
	data, err := Marshal(compileExprs(t, ast.Int(1)))
	if err != nil {
		t.Fatal(err)
	}
	var raw map[uint64]cbor.RawMessage
	if err := cbor.Unmarshal(data, &raw); err != nil {
		t.Fatalf("image is not an integer-keyed map: %v", err)
	}
	for _, k := range []uint64{1, 2, 3} {
		if _, ok := raw[k]; !ok {
			t.Errorf("key %d missing", k)
		}
	}
}

func TestVerify(t *testing.T) {
	withNames := func(f *Function, names ...string) *Function {
		f.Names = names
		return f
	}
	tests := []struct {
		name string
		fn   *Function
		ok   bool
	}{
		{"empty", chunkWithCode(), true},
		{"compiled", compileExprs(t, factorialProgram(5)...), true},
		{"unknown opcode", chunkWithCode(0xEE), false},
		{"truncated", chunkWithCode(byte(OpPushInt), 1, 2), false},
		{"name out of range", chunkWithCode(byte(OpLoad), 0, 1), false},
		{"name in range", withNames(chunkWithCode(byte(OpLoad), 0, 0), "x"), true},
		{"jump to end", chunkWithCode(byte(OpJump), 0, 0), true},
		{"jump mid-instruction", chunkWithCode(byte(OpJump), 0, 1, byte(OpPushInt), 0, 0, 0, 0, 0, 0, 0, 0), false},
		{"jump before start", chunkWithCode(byte(OpJump), 0xFF, 0x00), false},
		{"jump past end", chunkWithCode(byte(OpJump), 0, 5), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(tt.fn)
			if tt.ok && err != nil {
				t.Errorf("Verify failed: %v", err)
			}
			if !tt.ok {
				var ve *VerifyError
				if !errors.As(err, &ve) {
					t.Errorf("err = %v, want *VerifyError", err)
				}
			}
		})
	}
}

func TestVerifyChecksChildren(t *testing.T) {
	root := compileExprs(t, ast.Int(1))
	root.Children = append(root.Children, chunkWithCode(0xEE))
	if err := Verify(root); err == nil {
		t.Error("Verify should reject a malformed child")
	}
	root.Children = []*Function{nil}
	if err := Verify(root); err == nil {
		t.Error("Verify should reject a nil child")
	}
}
