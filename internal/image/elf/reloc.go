package elf

import (
	stdelf "debug/elf"
	"fmt"

	"github.com/wrenfold/ldspace/internal/arch"
	"github.com/wrenfold/ldspace/internal/image"
)

// Relocation kinds the elf backend understands, normalized across
// architectures so the relocation engine (internal/reloc) never needs to
// know about per-architecture numeric reloc types.
const (
	kindUnknown image.RelocKind = iota
	kindRelative
	kindGlobDat
	kindJumpSlot
	kindAbs
	kindCopy
)

// Raw per-architecture relocation type numbers, from the ELF ABI
// supplements for each machine (x86-64 psABI, AAPCS64, i386 psABI).
const (
	rX8664Relative = 8
	rX8664GlobDat  = 6
	rX8664JumpSlot = 7
	rX8664_64      = 1
	rX8664Copy     = 5

	rAArch64Relative = 1027
	rAArch64GlobDat  = 1025
	rAArch64JumpSlot = 1026
	rAArch64Abs64    = 257
	rAArch64Copy     = 1024

	rI386Relative = 8
	rI386GlobDat  = 6
	rI386JumpSlot = 7
	rI386_32      = 1
	rI386Copy     = 5
)

func classify(a arch.Arch, relType uint32) image.RelocKind {
	switch a.Name {
	case arch.AMD64Linux.Name:
		switch relType {
		case rX8664Relative:
			return kindRelative
		case rX8664GlobDat:
			return kindGlobDat
		case rX8664JumpSlot:
			return kindJumpSlot
		case rX8664_64:
			return kindAbs
		case rX8664Copy:
			return kindCopy
		}
	case arch.ARM64Linux.Name:
		switch relType {
		case rAArch64Relative:
			return kindRelative
		case rAArch64GlobDat:
			return kindGlobDat
		case rAArch64JumpSlot:
			return kindJumpSlot
		case rAArch64Abs64:
			return kindAbs
		case rAArch64Copy:
			return kindCopy
		}
	case arch.I386Linux.Name:
		switch relType {
		case rI386Relative:
			return kindRelative
		case rI386GlobDat:
			return kindGlobDat
		case rI386JumpSlot:
			return kindJumpSlot
		case rI386_32:
			return kindAbs
		case rI386Copy:
			return kindCopy
		}
	}
	return kindUnknown
}

// applyFunc builds the Apply closure for one relocation entry. sym/haveSym
// capture whatever debug/elf told us about the referenced symbol table
// entry at parse time; localValue/localAddr short-circuit the global
// export search for symbols already defined within this same image.
func applyFunc(kind image.RelocKind, rOffset uint64, addend int64, symName string, sym stdelf.Symbol, haveSym bool, weak bool) func(ownerIndex int, all []*image.Image) error {
	localValue := haveSym && sym.Value != 0
	localAddr := sym.Value
	localSize := sym.Size

	unresolved := func() error {
		if weak {
			return nil // weak symbols resolve silently to zero
		}
		return fmt.Errorf("%w: %s", image.ErrUnresolvedSymbol, symName)
	}

	return func(ownerIndex int, all []*image.Image) error {
		owner := all[ownerIndex]

		switch kind {
		case kindRelative:
			return owner.WriteWord(rOffset, owner.RebaseAddr+uint64(addend))

		case kindGlobDat, kindJumpSlot:
			if localValue {
				return owner.WriteWord(rOffset, owner.RebaseAddr+localAddr)
			}
			if symName == "" {
				return nil
			}
			if resolved, ok := image.FindExport(all, symName); ok {
				return owner.WriteWord(rOffset, resolved)
			}
			return unresolved()

		case kindAbs:
			if localValue {
				return owner.WriteWord(rOffset, owner.RebaseAddr+localAddr+uint64(addend))
			}
			if symName == "" {
				// No symbol at all: pure base+addend reference.
				return owner.WriteWord(rOffset, owner.RebaseAddr+uint64(addend))
			}
			if resolved, ok := image.FindExport(all, symName); ok {
				return owner.WriteWord(rOffset, resolved+uint64(addend))
			}
			return unresolved()

		case kindCopy:
			if symName == "" {
				return nil
			}
			for _, src := range all {
				off, exists := src.Exports[symName]
				if !exists || src == owner {
					continue
				}
				data, err := src.LocalMemory.ReadAt(off, localSize)
				if err != nil {
					return nil
				}
				return owner.LocalMemory.WriteAt(rOffset, data)
			}
			return nil
		}
		return nil
	}
}
