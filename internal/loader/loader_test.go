package loader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/wrenfold/ldspace/internal/arch"
	"github.com/wrenfold/ldspace/internal/image"

	_ "github.com/wrenfold/ldspace/internal/image/blob"
)

func fakeArchOf(path string) (arch.Arch, error) {
	return arch.AMD64Linux, nil
}

// Scenario 1: a single blob main image with no dependencies loads at
// offset 0 and exposes no exports or requested names.
func TestLoadSingleBlob(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "firmware.bin")
	if err := os.WriteFile(path, []byte{0xde, 0xad, 0xbe, 0xef}, 0o644); err != nil {
		t.Fatal(err)
	}

	opts := DefaultOptions()
	opts.MainOpts = image.Options{Backend: "blob"}

	ld, err := Load(path, arch.Unknown, opts)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(ld.AllImages()) != 1 {
		t.Fatalf("got %d images, want 1", len(ld.AllImages()))
	}
	if ld.MainImage().RebaseAddr != 0 {
		t.Errorf("main image rebase addr = %#x, want 0", ld.MainImage().RebaseAddr)
	}
	if len(ld.RequestedNames()) != 0 {
		t.Errorf("expected no requested names, got %v", ld.RequestedNames())
	}
}

// Scenario 2: main depends on one library; the dependency is resolved via
// custom_ld_path, rebased above main, and main's import slot is patched to
// the library's absolute exported address.
func TestLoadMainWithOneLibrary(t *testing.T) {
	dir := t.TempDir()

	mainPath := filepath.Join(dir, "prog")
	if err := writeFakeFixture(mainPath, fakeSpec{
		Deps:    []string{"libhelper.so"},
		Size:    0x100,
		Imports: map[string]uint64{"helper_fn": 0x10},
	}); err != nil {
		t.Fatal(err)
	}

	libPath := filepath.Join(dir, "libhelper.so")
	if err := writeFakeFixture(libPath, fakeSpec{
		Provides: "libhelper.so",
		Size:     0x100,
		Exports:  map[string]uint64{"helper_fn": 0x20},
	}); err != nil {
		t.Fatal(err)
	}

	opts := DefaultOptions()
	opts.MainOpts = image.Options{Backend: "fake"}
	opts.LibOpts = map[string]image.Options{"libhelper.so": {Backend: "fake"}}
	opts.CustomLDPath = []string{dir}
	opts.ArchOf = fakeArchOf

	ld, err := Load(mainPath, arch.AMD64Linux, opts)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(ld.AllImages()) != 2 {
		t.Fatalf("got %d images, want 2", len(ld.AllImages()))
	}

	lib, ok := ld.SharedImages()["libhelper.so"]
	if !ok {
		t.Fatal("libhelper.so not registered as a shared image")
	}
	if lib.RebaseAddr == 0 {
		t.Errorf("library rebase addr should be above main, got 0")
	}

	main := ld.MainImage()
	slotOff := main.Imports["helper_fn"]
	slotVal, err := main.LocalMemory.ReadAt(slotOff, 8)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	wantAddr := lib.RebaseAddr + 0x20
	gotAddr := arch.AMD64Linux.ByteOrder().Uint64(slotVal)
	if gotAddr != wantAddr {
		t.Errorf("import slot = %#x, want %#x", gotAddr, wantAddr)
	}

	slot, ok := ld.GotSlot("helper_fn")
	if !ok || slot != main.RebaseAddr+slotOff {
		t.Errorf("GotSlot(helper_fn) = (%#x, %v), want (%#x, true)", slot, ok, main.RebaseAddr+slotOff)
	}
}

// Scenario 3: ignore_import_version_numbers lets a dependency on
// "libversioned.so.6" resolve against a file actually named
// "libversioned.so.3" on disk.
func TestLoadVersionFuzzing(t *testing.T) {
	dir := t.TempDir()

	mainPath := filepath.Join(dir, "prog")
	if err := writeFakeFixture(mainPath, fakeSpec{
		Deps: []string{"libversioned.so.6"},
		Size: 0x10,
	}); err != nil {
		t.Fatal(err)
	}

	libPath := filepath.Join(dir, "libversioned.so.3")
	if err := writeFakeFixture(libPath, fakeSpec{
		Provides: "libversioned.so.3",
		Size:     0x10,
	}); err != nil {
		t.Fatal(err)
	}

	opts := DefaultOptions()
	opts.MainOpts = image.Options{Backend: "fake"}
	opts.LibOpts = map[string]image.Options{"libversioned.so.3": {Backend: "fake"}}
	opts.CustomLDPath = []string{dir}
	opts.ArchOf = fakeArchOf
	opts.IgnoreImportVersionNumbers = true

	ld, err := Load(mainPath, arch.AMD64Linux, opts)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(ld.AllImages()) != 2 {
		t.Fatalf("got %d images, want 2 (fuzzy match should have resolved the dependency)", len(ld.AllImages()))
	}
}

// Scenario 4: except_missing_libs=true turns an unresolvable dependency
// into a fatal construction error.
func TestLoadMissingDependencyFatal(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "prog")
	if err := writeFakeFixture(mainPath, fakeSpec{
		Deps: []string{"libghost.so"},
		Size: 0x10,
	}); err != nil {
		t.Fatal(err)
	}

	opts := DefaultOptions()
	opts.MainOpts = image.Options{Backend: "fake"}
	opts.CustomLDPath = []string{dir}
	opts.ArchOf = fakeArchOf
	opts.ExceptMissingLibs = true

	_, err := Load(mainPath, arch.AMD64Linux, opts)
	if !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("Load error = %v, want ErrMissingDependency", err)
	}
}

// Scenario 5: except_missing_libs=false drops an unresolvable dependency
// silently and construction succeeds with only the main image loaded.
func TestLoadMissingDependencySilent(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "prog")
	if err := writeFakeFixture(mainPath, fakeSpec{
		Deps: []string{"libghost.so"},
		Size: 0x10,
	}); err != nil {
		t.Fatal(err)
	}

	opts := DefaultOptions()
	opts.MainOpts = image.Options{Backend: "fake"}
	opts.CustomLDPath = []string{dir}
	opts.ArchOf = fakeArchOf
	opts.ExceptMissingLibs = false

	ld, err := Load(mainPath, arch.AMD64Linux, opts)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(ld.AllImages()) != 1 {
		t.Fatalf("got %d images, want 1", len(ld.AllImages()))
	}
	names := ld.RequestedNames()
	if len(names) != 1 || names[0] != "libghost.so" {
		t.Errorf("RequestedNames = %v, want [libghost.so]", names)
	}
}

// Scenario 6: force_load_libs pulls in a library main never declared a
// dependency on, ahead of main's own declared dependencies in load order.
func TestLoadForceLoadLibs(t *testing.T) {
	dir := t.TempDir()

	mainPath := filepath.Join(dir, "prog")
	if err := writeFakeFixture(mainPath, fakeSpec{
		Deps: []string{"libneeded.so"},
		Size: 0x10,
	}); err != nil {
		t.Fatal(err)
	}
	if err := writeFakeFixture(filepath.Join(dir, "libneeded.so"), fakeSpec{
		Provides: "libneeded.so",
		Size:     0x10,
	}); err != nil {
		t.Fatal(err)
	}
	if err := writeFakeFixture(filepath.Join(dir, "libforced.so"), fakeSpec{
		Provides: "libforced.so",
		Size:     0x10,
	}); err != nil {
		t.Fatal(err)
	}

	opts := DefaultOptions()
	opts.MainOpts = image.Options{Backend: "fake"}
	opts.LibOpts = map[string]image.Options{
		"libneeded.so": {Backend: "fake"},
		"libforced.so": {Backend: "fake"},
	}
	opts.CustomLDPath = []string{dir}
	opts.ArchOf = fakeArchOf
	opts.ForceLoadLibs = []string{"libforced.so"}

	ld, err := Load(mainPath, arch.AMD64Linux, opts)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(ld.AllImages()) != 3 {
		t.Fatalf("got %d images, want 3", len(ld.AllImages()))
	}
	// Load order: main, then force_load_libs, then main's own deps.
	if ld.AllImages()[1].Provides != "libforced.so" {
		t.Errorf("load order[1] = %q, want libforced.so", ld.AllImages()[1].Provides)
	}
	if ld.AllImages()[2].Provides != "libneeded.so" {
		t.Errorf("load order[2] = %q, want libneeded.so", ld.AllImages()[2].Provides)
	}
}
