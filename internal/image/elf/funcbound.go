package elf

import (
	"golang.org/x/arch/arm64/arm64asm"

	"github.com/wrenfold/ldspace/internal/image"
)

// funcBoundaryFinder implements image.FunctionBoundaryFinder for ARM64
// images: when no exact-start symbol exists at an
// address, scan backward from it for a recognizable
// "stp fp, lr, [sp, #-N]!" prologue, bounded by the previous known
// symbol or the segment start, disassembling candidate instructions with
// golang.org/x/arch/arm64/arm64asm.
type funcBoundaryFinder struct {
	img *image.Image
}

const maxPrologueScanBytes = 0x400

// isFramePrologue reports whether inst is an STP of x29 and x30 (the
// fp/lr pair), as in the standard AAPCS64 function-entry sequence
// "stp x29, x30, [sp, #-N]!". The addressing mode and base register are
// not checked.
func isFramePrologue(inst arm64asm.Inst) bool {
	if inst.Op != arm64asm.STP {
		return false
	}
	args := inst.Args
	reg0, ok0 := args[0].(arm64asm.Reg)
	reg1, ok1 := args[1].(arm64asm.Reg)
	if !ok0 || !ok1 {
		return false
	}
	return reg0 == arm64asm.X29 && reg1 == arm64asm.X30
}

// FunctionContaining implements image.FunctionBoundaryFinder.
func (f *funcBoundaryFinder) FunctionContaining(off uint64) (string, bool) {
	img := f.img

	lowerBound := img.MinOffset
	for symOff := range img.SymbolsByOffset {
		if symOff <= off && symOff > lowerBound {
			lowerBound = symOff
		}
	}
	if off > maxPrologueScanBytes && off-maxPrologueScanBytes > lowerBound {
		lowerBound = off - maxPrologueScanBytes
	}

	for scan := off; scan >= lowerBound && scan+4 <= img.MaxOffset+1; scan -= 4 {
		code, err := img.LocalMemory.ReadAt(scan, 4)
		if err != nil {
			break
		}
		inst, err := arm64asm.Decode(code)
		if err == nil && isFramePrologue(inst) {
			if sym, ok := img.SymbolsByOffset[scan]; ok {
				return sym.Name, true
			}
			return "", true // found a boundary, but it carries no symbol name
		}
		if scan == 0 {
			break
		}
	}
	return "", false
}
