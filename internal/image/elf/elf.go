// Package elf implements the "elf" backend: it parses an ELF file via the standard library's
// debug/elf and produces a generic image.Image, including a structured
// relocation table the relocation engine applies in load order.
//
// The parse target is multi-architecture and execution is never
// performed — only address-space composition and relocation concerns.
package elf

import (
	stdelf "debug/elf"
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/wrenfold/ldspace/internal/arch"
	"github.com/wrenfold/ldspace/internal/image"
)

func init() {
	image.Register("elf", Parse)
}

// archFor maps a debug/elf machine + class to our arch.Arch descriptor.
func archFor(f *stdelf.File) (arch.Arch, error) {
	switch f.Machine {
	case stdelf.EM_X86_64:
		return arch.AMD64Linux, nil
	case stdelf.EM_AARCH64:
		return arch.ARM64Linux, nil
	case stdelf.EM_386:
		return arch.I386Linux, nil
	default:
		return arch.Arch{}, fmt.Errorf("elf: unsupported machine %v", f.Machine)
	}
}

// ArchOf sniffs a candidate file's architecture without building a full
// Image; it backs the resolver's architecture-compatibility check
// for the "elf" backend.
func ArchOf(path string) (arch.Arch, error) {
	f, err := stdelf.Open(path)
	if err != nil {
		return arch.Arch{}, err
	}
	defer f.Close()
	return archFor(f)
}

// stripSymbolVersion removes a GNU symbol-versioning suffix
// ("@@VERSION" or "@VERSION") so version-qualified and plain lookups of
// the same symbol agree.
func stripSymbolVersion(name string) string {
	if idx := strings.Index(name, "@@"); idx != -1 {
		return name[:idx]
	}
	if idx := strings.Index(name, "@"); idx != -1 {
		return name[:idx]
	}
	return name
}

// Parse implements image.ParseFunc for the "elf" backend.
func Parse(path string, opts image.Options) (*image.Image, error) {
	f, err := stdelf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("elf: open %s: %w", path, err)
	}
	defer f.Close()

	a, err := archFor(f)
	if err != nil {
		return nil, err
	}

	minOff, maxOff, ok := loadBounds(f)
	if !ok {
		return nil, fmt.Errorf("elf: %s has no PT_LOAD segments", path)
	}

	img, err := image.New(path, a, image.KindELF, minOff, maxOff)
	if err != nil {
		return nil, err
	}

	fileData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("elf: read %s: %w", path, err)
	}

	for _, prog := range f.Progs {
		if prog.Type != stdelf.PT_LOAD {
			continue
		}
		if prog.Filesz > 0 && prog.Off+prog.Filesz <= uint64(len(fileData)) {
			if err := img.LocalMemory.WriteAt(prog.Vaddr, fileData[prog.Off:prog.Off+prog.Filesz]); err != nil {
				return nil, fmt.Errorf("elf: %s: %w", path, err)
			}
		}
		// .bss (Memsz > Filesz) is left zero-filled; LocalMemory starts zeroed.
	}

	img.Deps = neededLibs(f)
	img.Provides = soname(f)

	collectSymbols(f, img)
	relocs, err := collectRelocations(f, a, img)
	if err != nil {
		return nil, fmt.Errorf("elf: %s: %w", path, err)
	}
	img.Relocations = relocs

	if a.Name == arch.ARM64Linux.Name {
		img.Extra = &funcBoundaryFinder{img: img}
	}

	return img, nil
}

func loadBounds(f *stdelf.File) (min, max uint64, ok bool) {
	min = ^uint64(0)
	for _, prog := range f.Progs {
		if prog.Type != stdelf.PT_LOAD {
			continue
		}
		ok = true
		if prog.Vaddr < min {
			min = prog.Vaddr
		}
		if end := prog.Vaddr + prog.Memsz; end > 0 && end-1 > max {
			max = end - 1
		}
	}
	if !ok {
		return 0, 0, false
	}
	return min, max, true
}

func neededLibs(f *stdelf.File) []string {
	libs, err := f.ImportedLibraries()
	if err != nil {
		return nil
	}
	return libs
}

func soname(f *stdelf.File) string {
	dynTags, err := f.DynString(stdelf.DT_SONAME)
	if err != nil || len(dynTags) == 0 {
		return ""
	}
	return dynTags[0]
}

func collectSymbols(f *stdelf.File, img *image.Image) {
	add := func(syms []stdelf.Symbol) {
		for _, s := range syms {
			if s.Name == "" {
				continue
			}
			name := stripSymbolVersion(s.Name)
			if s.Value == 0 {
				// Undefined: this is an import, not an export. The slot
				// address (GOT/PLT entry) is filled in by collectRelocations
				// once PLT addresses are known, so only record the name here.
				if _, exists := img.Imports[name]; !exists {
					img.Imports[name] = 0
				}
				continue
			}
			img.Exports[name] = s.Value
			img.SymbolsByOffset[s.Value] = image.Symbol{Name: name, Size: s.Size}
		}
	}

	if syms, err := f.DynamicSymbols(); err == nil {
		add(syms)
	}
	if syms, err := f.Symbols(); err == nil {
		add(syms)
	}
}

// symbolByIndex adapts debug/elf's DynamicSymbols (which omits the
// STN_UNDEF entry at index 0) back to ELF symbol-table index space.
func symbolByIndex(f *stdelf.File) (map[int]stdelf.Symbol, error) {
	syms, err := f.DynamicSymbols()
	if err != nil {
		return nil, err
	}
	out := make(map[int]stdelf.Symbol, len(syms)+1)
	for i, s := range syms {
		out[i+1] = s
	}
	return out, nil
}

func collectRelocations(f *stdelf.File, a arch.Arch, img *image.Image) ([]image.Relocation, error) {
	byIdx, err := symbolByIndex(f)
	if err != nil {
		byIdx = nil
	}

	var out []image.Relocation
	for _, sec := range f.Sections {
		var entrySize int
		switch sec.Type {
		case stdelf.SHT_RELA:
			entrySize = 24
		case stdelf.SHT_REL:
			entrySize = 16
		default:
			continue
		}

		data, err := sec.Data()
		if err != nil {
			continue
		}

		for off := 0; off+entrySize <= len(data); off += entrySize {
			rOffset := binary.LittleEndian.Uint64(data[off:])
			rInfo := binary.LittleEndian.Uint64(data[off+8:])
			var addend int64
			if entrySize == 24 {
				addend = int64(binary.LittleEndian.Uint64(data[off+16:]))
			}

			relType := uint32(rInfo & 0xFFFFFFFF)
			symIdx := int(rInfo >> 32)

			sym, haveSym := byIdx[symIdx]
			symName := ""
			if haveSym {
				symName = stripSymbolVersion(sym.Name)
			}

			kind := classify(a, relType)
			if kind == kindUnknown {
				continue
			}

			// A GOT/PLT-style relocation against an undefined symbol is the
			// image's import slot for that symbol.
			if haveSym && sym.Value == 0 && symName != "" &&
				(kind == kindGlobDat || kind == kindJumpSlot || kind == kindAbs) {
				img.Imports[symName] = rOffset
			}

			weak := haveSym && sym.Info>>4 == uint8(stdelf.STB_WEAK)
			r := image.Relocation{
				Symbol:     symbolForReloc(kind, sym, haveSym, symName),
				SlotOffset: rOffset,
				Kind:       kind,
				Addend:     addend,
				Weak:       weak,
				Apply:      applyFunc(kind, rOffset, addend, symName, sym, haveSym, weak),
			}
			out = append(out, r)
		}
	}
	return out, nil
}

// symbolForReloc decides which symbol name (if any) the relocation engine
// must resolve globally: relocations against a locally-defined symbol
// (sym.Value != 0) resolve entirely within this image and need no global
// lookup.
func symbolForReloc(kind image.RelocKind, sym stdelf.Symbol, haveSym bool, name string) string {
	if kind == kindRelative {
		return ""
	}
	if haveSym && sym.Value != 0 {
		return "" // resolved locally by applyFunc via sym.Value directly
	}
	return name
}
