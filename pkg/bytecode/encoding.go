package bytecode

import (
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const (
	// ImageMagic identifies a serialized Function tree.
	ImageMagic = "EBC1"

	// BytecodeVersion is the current image format version.
	BytecodeVersion uint16 = 1

	// MaxImageDepth is the deepest function nesting an image may hold; the
	// root function is at depth 0.
	MaxImageDepth = 256
)

// Image is the serialized form of a compiled program.
type Image struct {
	Magic   string    `cbor:"1,keyasint"`
	Version uint16    `cbor:"2,keyasint"`
	Root    *Function `cbor:"3,keyasint"`
}

// cborEncMode uses canonical mode so equal Functions encode to equal bytes.
var cborEncMode cbor.EncMode

// cborDecMode admits every image Marshal can produce. Each function level
// nests a map inside its parent's Children array, and line entries add one
// more level below that.
var cborDecMode cbor.DecMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em

	dm, err := cbor.DecOptions{MaxNestedLevels: 2*MaxImageDepth + 8}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR dec mode: %v", err))
	}
	cborDecMode = dm
}

// Marshal serializes fn and its nested functions to CBOR bytes.
func Marshal(fn *Function) ([]byte, error) {
	if fn == nil {
		return nil, fmt.Errorf("bytecode: marshal nil function")
	}
	if depth := Depth(fn); depth > MaxImageDepth {
		return nil, fmt.Errorf("bytecode: function nesting depth %d exceeds image limit %d", depth, MaxImageDepth)
	}
	return cborEncMode.Marshal(&Image{Magic: ImageMagic, Version: BytecodeVersion, Root: fn})
}

// Unmarshal deserializes and verifies a Function tree from CBOR bytes.
func Unmarshal(data []byte) (*Function, error) {
	var img Image
	if err := cborDecMode.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal image: %w", err)
	}
	if img.Magic != ImageMagic {
		return nil, fmt.Errorf("bytecode: bad image magic %q", img.Magic)
	}
	if img.Version != BytecodeVersion {
		return nil, fmt.Errorf("bytecode: unsupported image version %d (want %d)", img.Version, BytecodeVersion)
	}
	if img.Root == nil {
		return nil, fmt.Errorf("bytecode: image has no root function")
	}
	if err := Verify(img.Root); err != nil {
		return nil, err
	}
	return img.Root, nil
}

// Depth returns the deepest nesting level in fn's tree; a function with no
// children has depth 0.
func Depth(fn *Function) int {
	deepest := 0
	_ = fn.Walk(func(_ *Function, depth int) error {
		deepest = max(deepest, depth)
		return nil
	})
	return deepest
}

// Hash returns the SHA-256 of fn's canonical encoding.
func Hash(fn *Function) ([32]byte, error) {
	data, err := Marshal(fn)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}
