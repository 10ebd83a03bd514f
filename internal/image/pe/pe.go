// Package pe implements the "pe" backend: it parses a
// Windows PE/COFF image via github.com/saferwall/pe and produces a
// generic image.Image. PE images are self-relocating in this loader's
// model (the relocation engine takes no action for image.KindPE) —
// the backend's job is limited to bounds, dependency
// names, and the export/import tables.
package pe

import (
	"fmt"

	sfpe "github.com/saferwall/pe"

	"github.com/wrenfold/ldspace/internal/arch"
	"github.com/wrenfold/ldspace/internal/image"
)

func init() {
	image.Register("pe", Parse)
}

// ArchOf sniffs a candidate PE file's architecture without building a
// full Image, backing the resolver's compatibility check.
func ArchOf(path string) (arch.Arch, error) {
	f, err := sfpe.New(path, &sfpe.Options{Fast: true})
	if err != nil {
		return arch.Arch{}, fmt.Errorf("pe: open %s: %w", path, err)
	}
	defer f.Close()
	if err := f.Parse(); err != nil {
		return arch.Arch{}, fmt.Errorf("pe: parse %s: %w", path, err)
	}
	return archFor(f)
}

func archFor(f *sfpe.File) (arch.Arch, error) {
	switch f.NtHeader.FileHeader.Machine {
	case sfpe.ImageFileMachineAMD64:
		return arch.AMD64Linux, nil
	case sfpe.ImageFileMachineI386:
		return arch.I386Linux, nil
	default:
		return arch.Arch{}, fmt.Errorf("pe: unsupported machine %#x", f.NtHeader.FileHeader.Machine)
	}
}

func imageBase(f *sfpe.File) uint64 {
	if oh64, ok := f.NtHeader.OptionalHeader.(sfpe.ImageOptionalHeader64); ok {
		return oh64.ImageBase
	}
	if oh32, ok := f.NtHeader.OptionalHeader.(sfpe.ImageOptionalHeader32); ok {
		return uint64(oh32.ImageBase)
	}
	return 0
}

func sizeOfImage(f *sfpe.File) uint64 {
	if oh64, ok := f.NtHeader.OptionalHeader.(sfpe.ImageOptionalHeader64); ok {
		return uint64(oh64.SizeOfImage)
	}
	if oh32, ok := f.NtHeader.OptionalHeader.(sfpe.ImageOptionalHeader32); ok {
		return uint64(oh32.SizeOfImage)
	}
	return 0
}

// Parse implements image.ParseFunc for the "pe" backend.
//
// saferwall/pe exposes everything in file-relative-virtual-address (RVA)
// terms, which this backend treats directly as the image-local offset
// space: min_offset is always 0, max_offset is SizeOfImage-1, matching
// how Windows maps a PE's sections contiguously from its preferred base.
func Parse(path string, opts image.Options) (*image.Image, error) {
	f, err := sfpe.New(path, &sfpe.Options{})
	if err != nil {
		return nil, fmt.Errorf("pe: open %s: %w", path, err)
	}
	defer f.Close()

	if err := f.Parse(); err != nil {
		return nil, fmt.Errorf("pe: parse %s: %w", path, err)
	}

	a, err := archFor(f)
	if err != nil {
		return nil, err
	}

	size := sizeOfImage(f)
	if size == 0 {
		return nil, fmt.Errorf("pe: %s reports zero SizeOfImage", path)
	}

	img, err := image.New(path, a, image.KindPE, 0, size-1)
	if err != nil {
		return nil, err
	}

	for _, sec := range f.Sections {
		data, err := f.GetData(sec.Header.VirtualAddress, sec.Header.SizeOfRawData)
		if err != nil || len(data) == 0 {
			continue
		}
		if err := img.LocalMemory.WriteAt(uint64(sec.Header.VirtualAddress), data); err != nil {
			return nil, fmt.Errorf("pe: %s: %w", path, err)
		}
	}

	for _, imp := range f.Imports {
		img.Deps = append(img.Deps, imp.Name)
		for _, fn := range imp.Functions {
			if fn.Name == "" {
				continue
			}
			// PE thunk slots already carry the resolved absolute address
			// once Windows' own loader (or this engine's self-relocating
			// no-op path) has run; record the slot so GotSlot queries work.
			img.Imports[fn.Name] = fn.ThunkRVA
		}
	}

	if f.Export != nil {
		for _, exp := range f.Export.Functions {
			if exp.Name == "" {
				continue
			}
			img.Exports[exp.Name] = uint64(exp.RVA)
			img.SymbolsByOffset[uint64(exp.RVA)] = image.Symbol{Name: exp.Name}
		}
	}

	img.Provides = basename(path)

	// RebaseAddr for a PE image is the loader's chosen address, but PE
	// images are self-relocating: the relocation engine never patches one,
	// so its own preferred ImageBase is only informational. Stash it in
	// Extra rather than discard it, in case a caller wants to compare the
	// assigned rebase against the image's own preference.
	if base := imageBase(f); base != 0 {
		img.Extra = PreferredBase(base)
	}

	return img, nil
}

// PreferredBase is the ImageBase a PE file requests of its own loader,
// stored in Image.Extra for backends/callers that want to compare it
// against the address this loader actually assigned.
type PreferredBase uint64

func basename(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}
