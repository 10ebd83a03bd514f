package elf

import (
	"testing"

	"github.com/wrenfold/ldspace/internal/arch"
	"github.com/wrenfold/ldspace/internal/image"
)

func TestFunctionContainingFindsPrologue(t *testing.T) {
	img, err := image.New("test.so", arch.ARM64Linux, image.KindELF, 0, 0xff)
	if err != nil {
		t.Fatalf("image.New: %v", err)
	}

	// "stp x29, x30, [sp, #-16]!" — the standard AAPCS64 function-entry
	// instruction, little-endian encoding.
	prologue := []byte{0xfd, 0x7b, 0xbf, 0xa9}
	const funcOff = 0x40
	if err := img.LocalMemory.WriteAt(funcOff, prologue); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	img.SymbolsByOffset[funcOff] = image.Symbol{Name: "do_work", Size: 0x20}

	finder := &funcBoundaryFinder{img: img}

	name, ok := finder.FunctionContaining(funcOff + 8)
	if !ok {
		t.Fatal("expected to find containing function")
	}
	if name != "do_work" {
		t.Errorf("FunctionContaining = %q, want %q", name, "do_work")
	}
}

func TestFunctionContainingNoPrologue(t *testing.T) {
	img, err := image.New("test.so", arch.ARM64Linux, image.KindELF, 0, 0xff)
	if err != nil {
		t.Fatalf("image.New: %v", err)
	}
	finder := &funcBoundaryFinder{img: img}
	if _, ok := finder.FunctionContaining(0x80); ok {
		t.Error("expected no boundary found in all-zero memory")
	}
}
