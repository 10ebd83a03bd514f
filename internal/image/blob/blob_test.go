package blob

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wrenfold/ldspace/internal/arch"
	"github.com/wrenfold/ldspace/internal/image"
)

func writeTempBlob(t *testing.T, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fixture.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseDefaultOffset(t *testing.T) {
	data := make([]byte, 0x1000)
	for i := range data {
		data[i] = byte(i)
	}
	path := writeTempBlob(t, data)

	img, err := Parse(path, image.Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if img.MinOffset != 0 || img.MaxOffset != 0xFFF {
		t.Errorf("bounds = [%#x, %#x], want [0, 0xfff]", img.MinOffset, img.MaxOffset)
	}
	if img.Arch.Name != arch.Unknown.Name {
		t.Errorf("Arch = %v, want Unknown", img.Arch)
	}
	b, err := img.LocalMemory.ReadByteAt(0x500)
	if err != nil {
		t.Fatalf("ReadByteAt: %v", err)
	}
	if b != byte(0x500&0xff) {
		t.Errorf("byte at 0x500 = %#x, want %#x", b, byte(0x500&0xff))
	}
}

func TestParseWithOffsetAndArch(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	path := writeTempBlob(t, data)

	img, err := Parse(path, image.Options{Raw: map[string]any{
		"offset": uint64(0x2000),
		"arch":   "amd64",
	}})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if img.MinOffset != 0x2000 || img.MaxOffset != 0x2003 {
		t.Errorf("bounds = [%#x, %#x], want [0x2000, 0x2003]", img.MinOffset, img.MaxOffset)
	}
	if img.Arch.Name != arch.AMD64Linux.Name {
		t.Errorf("Arch = %v, want AMD64Linux", img.Arch)
	}
}

func TestParseEmptyFails(t *testing.T) {
	path := writeTempBlob(t, nil)
	if _, err := Parse(path, image.Options{}); err == nil {
		t.Error("Parse of an empty file should fail")
	}
}
