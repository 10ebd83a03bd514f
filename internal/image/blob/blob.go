// Package blob implements the "blob" backend: a raw byte
// file loaded at a fixed image-local offset with no symbols, imports, or
// relocations of its own. This is the backend used for main images that
// carry no recognizable format (e.g. firmware dumps, shellcode, or in the
// test suite's synthetic fixtures).
package blob

import (
	"fmt"
	"os"

	"github.com/wrenfold/ldspace/internal/arch"
	"github.com/wrenfold/ldspace/internal/image"
)

func init() {
	image.Register("blob", Parse)
}

// Options recognized under Options.Raw for the blob backend:
//   - "offset" (uint64): the image-local offset the file's first byte is
//     placed at. Defaults to 0.
//   - "arch" (string): the architecture name (per arch.Named) this blob
//     should report. Defaults to arch.Unknown, which never satisfies
//     another image's filesystem dependency search but is perfectly
//     loadable as a main image or a force-loaded library.
func rawOffset(opts image.Options) uint64 {
	if v, ok := opts.Raw["offset"]; ok {
		if u, ok := v.(uint64); ok {
			return u
		}
		if i, ok := v.(int); ok && i >= 0 {
			return uint64(i)
		}
	}
	return 0
}

func rawArch(opts image.Options) arch.Arch {
	if v, ok := opts.Raw["arch"]; ok {
		if name, ok := v.(string); ok {
			if a, found := arch.Named(name); found {
				return a
			}
		}
	}
	return arch.Unknown
}

// Parse implements image.ParseFunc for the "blob" backend.
func Parse(path string, opts image.Options) (*image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("blob: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("blob: %s is empty", path)
	}

	offset := rawOffset(opts)
	a := rawArch(opts)

	img, err := image.New(path, a, image.KindBlob, offset, offset+uint64(len(data))-1)
	if err != nil {
		return nil, err
	}
	if err := img.LocalMemory.WriteAt(offset, data); err != nil {
		return nil, fmt.Errorf("blob: %s: %w", path, err)
	}
	// A blob declares no dependencies and provides no soname.
	return img, nil
}
