package reloc

import (
	"errors"
	"testing"

	"github.com/wrenfold/ldspace/internal/arch"
	"github.com/wrenfold/ldspace/internal/image"
)

func newImg(t *testing.T, kind image.Kind, base uint64) *image.Image {
	t.Helper()
	img, err := image.New("test", arch.AMD64Linux, kind, 0, 0xff)
	if err != nil {
		t.Fatalf("image.New: %v", err)
	}
	img.SetRebaseAddr(base)
	return img
}

func TestApplyPENoOp(t *testing.T) {
	img := newImg(t, image.KindPE, 0)
	img.Relocations = []image.Relocation{{
		Apply: func(ownerIndex int, all []*image.Image) error {
			t.Fatal("PE relocations must never be applied")
			return nil
		},
	}}
	Apply([]*image.Image{img}, nil, nil)
}

func TestApplyImportSlotsSelfExportShadowsExternal(t *testing.T) {
	owner := newImg(t, image.KindExtractor, 0x1000)
	owner.Exports["helper"] = 0x10
	owner.Imports["helper"] = 0x20

	other := newImg(t, image.KindExtractor, 0x2000)
	other.Exports["helper"] = 0x99

	Apply([]*image.Image{owner, other}, nil, nil)

	val, err := owner.LocalMemory.ReadAt(0x20, 8)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	got := arch.AMD64Linux.ByteOrder().Uint64(val)
	want := owner.RebaseAddr + 0x10
	if got != want {
		t.Errorf("import slot = %#x, want %#x (self-export should shadow external)", got, want)
	}
}

func TestApplyImportSlotsExternalFallback(t *testing.T) {
	owner := newImg(t, image.KindExternalTool, 0x1000)
	owner.Imports["missing"] = 0x20

	lib := newImg(t, image.KindExternalTool, 0x2000)
	lib.Exports["missing"] = 0x30

	Apply([]*image.Image{owner, lib}, nil, nil)

	val, err := owner.LocalMemory.ReadAt(0x20, 8)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	got := arch.AMD64Linux.ByteOrder().Uint64(val)
	want := lib.RebaseAddr + 0x30
	if got != want {
		t.Errorf("import slot = %#x, want %#x", got, want)
	}
}

func TestApplyImportSlotsUnresolvedLeavesZero(t *testing.T) {
	owner := newImg(t, image.KindExtractor, 0x1000)
	owner.Imports["ghost"] = 0x20

	Apply([]*image.Image{owner}, nil, nil)

	val, err := owner.LocalMemory.ReadAt(0x20, 8)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	for _, b := range val {
		if b != 0 {
			t.Fatalf("expected slot to remain zero, got %v", val)
		}
	}
}

func TestApplyImportSlotsScriptFallback(t *testing.T) {
	owner := newImg(t, image.KindExtractor, 0x1000)
	owner.Imports["ghost"] = 0x20

	called := false
	fallback := func(name string) (uint64, bool) {
		called = true
		if name == "ghost" {
			return 0xdeadbeef, true
		}
		return 0, false
	}

	Apply([]*image.Image{owner}, nil, fallback)

	if !called {
		t.Fatal("expected script fallback to be consulted")
	}
	val, err := owner.LocalMemory.ReadAt(0x20, 8)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	got := arch.AMD64Linux.ByteOrder().Uint64(val)
	if got != 0xdeadbeef {
		t.Errorf("import slot = %#x, want 0xdeadbeef", got)
	}
}

func TestApplyRelocationsUnresolvedWarnsAndContinues(t *testing.T) {
	owner := newImg(t, image.KindELF, 0)
	owner.Relocations = []image.Relocation{{
		Symbol: "ghost",
		Apply: func(ownerIndex int, all []*image.Image) error {
			return errors.New("wrapped: " + image.ErrUnresolvedSymbol.Error())
		},
	}}
	// Apply must not panic or abort the loop even though the wrapped error
	// string (not errors.Is-compatible here) falls through to the generic
	// "relocation failed" warning path.
	Apply([]*image.Image{owner}, nil, nil)
}

func TestApplyRelocationsScriptFallback(t *testing.T) {
	owner := newImg(t, image.KindELF, 0x1000)
	owner.Relocations = []image.Relocation{{
		Symbol:     "ghost",
		SlotOffset: 0x10,
		Apply: func(ownerIndex int, all []*image.Image) error {
			return errUnresolvedWrap("ghost")
		},
	}}

	fallback := func(name string) (uint64, bool) {
		if name == "ghost" {
			return 0x42, true
		}
		return 0, false
	}

	Apply([]*image.Image{owner}, nil, fallback)

	val, err := owner.LocalMemory.ReadAt(0x10, 8)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	got := arch.AMD64Linux.ByteOrder().Uint64(val)
	if got != 0x42 {
		t.Errorf("slot = %#x, want 0x42", got)
	}
}

func errUnresolvedWrap(name string) error {
	return &wrappedUnresolved{name: name}
}

type wrappedUnresolved struct{ name string }

func (e *wrappedUnresolved) Error() string { return "unresolved: " + e.name }
func (e *wrappedUnresolved) Unwrap() error { return image.ErrUnresolvedSymbol }
