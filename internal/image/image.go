// Package image defines the uniform surface every backend exposes:
// declared dependencies, provided soname, exports,
// imports, relocations, per-image memory, offset bounds, and architecture.
package image

import (
	"errors"
	"fmt"

	"github.com/wrenfold/ldspace/internal/arch"
)

// ErrUnresolvedSymbol is returned by a Relocation's Apply when its symbol
// could not be found in any loaded image's exports. It is
// recovered-by-warn: the relocation engine logs it and continues, leaving
// the slot zero, rather than failing construction.
var ErrUnresolvedSymbol = errors.New("image: unresolved symbol")

// Kind tags which family of backend produced an Image. The relocation
// engine (internal/reloc) dispatches on Kind rather than on a Go type
// switch, favoring a tagged variant over a port of the original
// isinstance-based dispatch.
type Kind int

const (
	KindELF Kind = iota
	KindPE
	KindBlob
	KindExtractor
	KindExternalTool
)

func (k Kind) String() string {
	switch k {
	case KindELF:
		return "elf"
	case KindPE:
		return "pe"
	case KindBlob:
		return "blob"
	case KindExtractor:
		return "extractor"
	case KindExternalTool:
		return "externaltool"
	default:
		return "unknown"
	}
}

// Symbol records a name and size at a given image-local offset.
type Symbol struct {
	Name string
	Size uint64
}

// RelocKind identifies what a Relocation's Apply must compute; concrete
// values are format/architecture-specific and owned by the backend package
// that defines them.
type RelocKind int

// Relocation is one entry in an image's relocation table: a record
// describing a slot that must be patched to an absolute address once
// symbol resolution completes. Relocations never hold a pointer back to
// their owning image — Apply instead
// receives the owner's index into the load-order slice it is handed.
type Relocation struct {
	Symbol     string // symbol name this reloc references, "" if purely addend/base-relative
	SlotOffset uint64 // image-local offset of the slot to patch
	Kind       RelocKind
	Addend     int64
	Weak       bool // weak symbols resolve silently to zero when unresolved

	// Apply performs the write into the owning image's memory. ownerIndex
	// is this relocation's image's position in all. Apply is
	// supplied by the backend that produced the relocation and is free to
	// search all's exports itself (via FindExport) for any symbol beyond
	// the ones resolved purely locally.
	Apply func(ownerIndex int, all []*Image) error
}

// FindExport searches every image's Exports for name, in load order, and
// returns the first match's absolute address.
func FindExport(all []*Image, name string) (addr uint64, ok bool) {
	for _, img := range all {
		if off, exists := img.Exports[name]; exists {
			return img.RebaseAddr + off, true
		}
	}
	return 0, false
}

// LocalMemory is an image's own byte store, keyed by image-local offset,
// not yet rebased. Backends populate it from segment/section data and
// expose it as the Reader memmap.Map backers wrap.
type LocalMemory struct {
	// data holds every byte from MinOffset to MaxOffset inclusive, so
	// off-MinOffset indexes directly into it. Segments with gaps between
	// them (e.g. due to alignment) are zero-filled.
	data      []byte
	minOffset uint64
}

// NewLocalMemory allocates a LocalMemory spanning [minOffset, maxOffset].
func NewLocalMemory(minOffset, maxOffset uint64) *LocalMemory {
	size := maxOffset - minOffset + 1
	return &LocalMemory{data: make([]byte, size), minOffset: minOffset}
}

// WriteAt copies b into the local memory starting at image-local offset off.
func (m *LocalMemory) WriteAt(off uint64, b []byte) error {
	start := off - m.minOffset
	if start+uint64(len(b)) > uint64(len(m.data)) {
		return fmt.Errorf("image: write at %#x (len %d) exceeds local memory bounds", off, len(b))
	}
	copy(m.data[start:], b)
	return nil
}

// ReadAt returns n bytes starting at image-local offset off.
func (m *LocalMemory) ReadAt(off uint64, n uint64) ([]byte, error) {
	start := off - m.minOffset
	if start+n > uint64(len(m.data)) {
		return nil, fmt.Errorf("image: read at %#x (len %d) exceeds local memory bounds", off, n)
	}
	return m.data[start : start+n], nil
}

// ReadByteAt implements memmap.Reader. Unlike ReadAt and WriteAt, off is
// relative to MinOffset (the backer's base in the memory map), not an
// image-local offset.
func (m *LocalMemory) ReadByteAt(off uint64) (byte, error) {
	if off >= uint64(len(m.data)) {
		return 0, fmt.Errorf("image: offset %#x out of range", off)
	}
	return m.data[off], nil
}

// Size implements memmap.Reader: LocalMemory is addressed by offset from
// MinOffset, so its Size for the memory map is MaxOffset-MinOffset+1
// (the map places the backer at MinOffset's absolute position).
func (m *LocalMemory) Size() uint64 { return uint64(len(m.data)) }

// Image is one parsed binary and its derived structures.
type Image struct {
	Path string
	Arch arch.Arch
	Kind Kind

	// Provides is the soname this image supplies, or "" for the main
	// executable or a blob that does not advertise one.
	Provides string

	// Deps is the ordered sequence of dependency names as declared by this
	// image (e.g. "libc.so.6").
	Deps []string

	LocalMemory *LocalMemory
	MinOffset   uint64
	MaxOffset   uint64

	// Exports maps symbol name to image-local address.
	Exports map[string]uint64
	// Imports maps symbol name to the image-local address of the slot that
	// must be patched (a PLT/GOT-style import table entry).
	Imports map[string]uint64

	Relocations []Relocation

	// SymbolsByOffset maps image-local address to the symbol defined there.
	SymbolsByOffset map[uint64]Symbol

	// RebaseAddr is the absolute base assigned by the loader orchestrator;
	// unset (zero valid flag below) until the image is added to the map.
	RebaseAddr    uint64
	rebaseAssigned bool

	// TLSModuleID is assigned during relocation: 0-based load order.
	TLSModuleID int

	// Extra carries backend-specific data the relocation engine never reads
	// (e.g. the pe backend's PreferredBase). A
	// backend that can do better than nearest-symbol-below for
	// FunctionContaining stores a FunctionBoundaryFinder here.
	Extra any
}

// FunctionBoundaryFinder is an optional capability an Image's Extra may
// implement to improve on nearest-symbol-below for best-effort
// "containing function" queries. off is image-local.
type FunctionBoundaryFinder interface {
	FunctionContaining(off uint64) (name string, ok bool)
}

// New constructs an Image with its maps initialized and performs the
// min/max offset invariant check.
func New(path string, a arch.Arch, kind Kind, minOffset, maxOffset uint64) (*Image, error) {
	if minOffset > maxOffset {
		return nil, fmt.Errorf("image %s: min_offset %#x > max_offset %#x", path, minOffset, maxOffset)
	}
	return &Image{
		Path:            path,
		Arch:            a,
		Kind:            kind,
		MinOffset:       minOffset,
		MaxOffset:       maxOffset,
		LocalMemory:     NewLocalMemory(minOffset, maxOffset),
		Exports:         make(map[string]uint64),
		Imports:         make(map[string]uint64),
		SymbolsByOffset: make(map[uint64]Symbol),
	}, nil
}

// SetRebaseAddr records the absolute base the loader chose for this image.
// It is written exactly once, by the orchestrator.
func (img *Image) SetRebaseAddr(addr uint64) {
	img.RebaseAddr = addr
	img.rebaseAssigned = true
}

// RebaseAssigned reports whether SetRebaseAddr has been called.
func (img *Image) RebaseAssigned() bool { return img.rebaseAssigned }

// Size is the number of bytes this image occupies in the address space.
func (img *Image) Size() uint64 { return img.MaxOffset - img.MinOffset + 1 }

// AbsMin and AbsMax are the absolute addresses this image occupies once
// rebased: [AbsMin, AbsMax].
func (img *Image) AbsMin() uint64 { return img.RebaseAddr + img.MinOffset }
func (img *Image) AbsMax() uint64 { return img.RebaseAddr + img.MaxOffset }

// WriteWord writes a little/big-endian (per img.Arch) word-sized (4 or 8
// byte) absolute value into the image's local memory at image-local
// offset off. Backends use this from Relocation.Apply.
func (img *Image) WriteWord(off uint64, val uint64) error {
	width := img.Arch.Bits / 8
	if width != 4 && width != 8 {
		width = 8
	}
	buf := make([]byte, width)
	bo := img.Arch.ByteOrder()
	if width == 8 {
		bo.PutUint64(buf, val)
	} else {
		bo.PutUint32(buf, uint32(val))
	}
	return img.LocalMemory.WriteAt(off, buf)
}

// Options are the per-image options the loader orchestrator treats as
// universally meaningful; any other keys are backend
// specific and looked up by the backend itself.
type Options struct {
	Backend        string
	CustomBaseAddr *uint64
	Raw            map[string]any
}

// ParseFunc parses a file at path into an Image. Parsers are pure: same
// path and options produce the same Image.
type ParseFunc func(path string, opts Options) (*Image, error)
