// Package loader implements the top-level orchestrator:
// it parses the main image, recursively resolves and parses its
// dependencies breadth-first, assigns collision-free rebase addresses,
// and drives the relocation engine once every image has been loaded.
package loader

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/wrenfold/ldspace/internal/arch"
	"github.com/wrenfold/ldspace/internal/image"
	"github.com/wrenfold/ldspace/internal/log"
	"github.com/wrenfold/ldspace/internal/memmap"
	"github.com/wrenfold/ldspace/internal/reloc"
	"github.com/wrenfold/ldspace/internal/resolver"
	"github.com/wrenfold/ldspace/internal/script"
)

// defaultRebaseGranularity is the alignment between successive rebased
// images absent an explicit override: 2^24.
const defaultRebaseGranularity = 1 << 24

// Options mirrors the loader's recognized configuration keys one-to-one.
type Options struct {
	AutoLoadLibs               bool
	ForceLoadLibs              []string
	SkipLibs                   []string
	MainOpts                   image.Options
	LibOpts                    map[string]image.Options // keyed by library basename
	CustomLDPath               []string
	IgnoreImportVersionNumbers bool
	RebaseGranularity          uint64
	ExceptMissingLibs          bool

	// ArchOf sniffs a candidate dependency file's architecture for the
	// resolver's compatibility check. Callers wire in
	// whichever concrete backend's sniffer applies (e.g. elf.ArchOf);
	// loader itself stays backend-agnostic. Nil accepts every candidate.
	ArchOf resolver.ArchOf

	// Script, if non-nil, is consulted as a last-resort unresolved-symbol
	// fallback by the relocation engine, after normal
	// export-index lookup has already missed.
	Script *script.Resolver

	Logger *log.Logger
}

// DefaultOptions returns the spec-mandated defaults.
func DefaultOptions() Options {
	return Options{
		AutoLoadLibs:               true,
		IgnoreImportVersionNumbers: true,
		RebaseGranularity:          defaultRebaseGranularity,
		ExceptMissingLibs:          true,
	}
}

// Loader holds every image loaded for one session. It is immutable after Load returns except for read-only query
// methods; no image outlives the loader.
type Loader struct {
	// SessionID identifies this load for log correlation. It is purely an
	// ambient concern: it plays no role in any invariant or load decision.
	SessionID uuid.UUID

	opts Options
	log  *log.Logger

	mainImage    *image.Image
	allImages    []*image.Image
	sharedImages map[string]*image.Image // provides soname -> image

	requestedNames map[string]struct{}
	unsatisfied    []string
	satisfied      *resolver.Satisfied

	mm *memmap.Map
}

// Load runs the full sequence: load main, drain the
// dependency queue breadth-first, then relocate. On any construction-
// fatal error the returned Loader is nil; partially-loaded state is
// never observable.
func Load(mainPath string, want arch.Arch, opts Options) (*Loader, error) {
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	if opts.RebaseGranularity == 0 {
		opts.RebaseGranularity = defaultRebaseGranularity
	}

	ld := &Loader{
		SessionID:      uuid.New(),
		opts:           opts,
		log:            opts.Logger.WithComponent("loader"),
		sharedImages:   make(map[string]*image.Image),
		requestedNames: make(map[string]struct{}),
		satisfied:      resolver.NewSatisfied(opts.IgnoreImportVersionNumbers, opts.SkipLibs),
		mm:             &memmap.Map{},
	}

	// force_load_libs seeds unsatisfied before main's own declared
	// dependencies.
	ld.unsatisfied = append(ld.unsatisfied, opts.ForceLoadLibs...)
	for _, name := range opts.ForceLoadLibs {
		ld.requestedNames[name] = struct{}{}
	}

	if err := ld.loadMain(mainPath); err != nil {
		return nil, err
	}

	res := resolver.New(opts.CustomLDPath, mainDir(mainPath), want, opts.IgnoreImportVersionNumbers, opts.ArchOf, ld.log)

	if err := ld.drainQueue(res); err != nil {
		return nil, err
	}

	var fallback reloc.ScriptFallback
	if opts.Script != nil {
		fallback = func(name string) (uint64, bool) {
			addr, ok, err := opts.Script.Resolve(name)
			if err != nil {
				ld.log.Warn("script fallback failed", log.Sym(name))
				return 0, false
			}
			return addr, ok
		}
	}
	reloc.Apply(ld.allImages, ld.log, fallback)

	return ld, nil
}

func mainDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func (ld *Loader) loadMain(path string) error {
	parse, ok := image.Lookup(backendOrDefault(ld.opts.MainOpts.Backend))
	if !ok {
		return fmt.Errorf("%w: unknown backend %q", ErrParse, ld.opts.MainOpts.Backend)
	}

	img, err := parse(path, ld.opts.MainOpts)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrParse, path, err)
	}

	ld.mainImage = img

	base := uint64(0)
	if ld.opts.MainOpts.CustomBaseAddr != nil {
		base = *ld.opts.MainOpts.CustomBaseAddr
	}
	if err := ld.addImage(img, &base); err != nil {
		return err
	}

	return nil
}

func backendOrDefault(tag string) string {
	if tag == "" {
		return "elf"
	}
	return tag
}

// drainQueue pops the head name, applies
// dedup, resolve, parse, add. FIFO order yields deterministic breadth-
// first load order.
func (ld *Loader) drainQueue(res *resolver.Resolver) error {
	for len(ld.unsatisfied) > 0 {
		name := ld.unsatisfied[0]
		ld.unsatisfied = ld.unsatisfied[1:]

		if ld.satisfied.Has(name) {
			continue
		}

		path, err := res.Resolve(name)
		if err != nil {
			if ld.opts.ExceptMissingLibs {
				return fmt.Errorf("%w: %s", ErrMissingDependency, name)
			}
			ld.log.Debug("dropping unresolved dependency", log.Path(name))
			continue
		}

		libOpts := ld.opts.LibOpts[basenameOf(path)]
		if libOpts.Backend == "" {
			libOpts.Backend = "elf"
		}
		parse, ok := image.Lookup(libOpts.Backend)
		if !ok {
			return fmt.Errorf("%w: unknown backend %q for %s", ErrParse, libOpts.Backend, path)
		}

		img, err := parse(path, libOpts)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrParse, path, err)
		}

		if err := ld.addImage(img, nil); err != nil {
			return err
		}
	}
	return nil
}

// addImage registers a newly parsed image: soname registration, rebase,
// memmap insertion, and (if auto-loading) queuing its own deps.
func (ld *Loader) addImage(img *image.Image, forcedBase *uint64) error {
	if ld.opts.AutoLoadLibs {
		ld.unsatisfied = append(ld.unsatisfied, img.Deps...)
	}
	for _, d := range img.Deps {
		ld.requestedNames[d] = struct{}{}
	}

	if img.Provides != "" {
		ld.satisfied.Add(img.Provides)
		ld.sharedImages[img.Provides] = img
	}

	ld.allImages = append(ld.allImages, img)

	var base uint64
	if forcedBase != nil {
		base = *forcedBase
	} else {
		base = ld.safeRebase()
	}

	// The memory map is indexed by absolute address; a backer's base is the
	// rebase address plus the image's own min_offset, since local_memory is
	// itself indexed from min_offset.
	if err := ld.mm.AddBacker(base+img.MinOffset, img.LocalMemory); err != nil {
		return fmt.Errorf("%w: %s at %s", ErrOverlap, img.Path, log.Hex(base))
	}
	img.SetRebaseAddr(base)

	return nil
}

// safeRebase computes the next
// granularity-aligned address strictly above the current maximum
// occupied address.
func (ld *Loader) safeRebase() uint64 {
	g := ld.opts.RebaseGranularity
	_, currentMax, ok := ld.mm.Bounds()
	if !ok {
		return 0
	}
	// Always advances by at least one granularity step, even when
	// currentMax is already aligned, trading a little address space for a
	// simple invariant.
	return currentMax + (g - currentMax%g)
}

func basenameOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

// MainImage returns the top-level image Load was given.
func (ld *Loader) MainImage() *image.Image { return ld.mainImage }

// AllImages returns every loaded image, in load order.
func (ld *Loader) AllImages() []*image.Image { return ld.allImages }

// RequestedNames returns every dependency name ever requested, for
// diagnostics.
func (ld *Loader) RequestedNames() []string {
	out := make([]string, 0, len(ld.requestedNames))
	for n := range ld.requestedNames {
		out = append(out, n)
	}
	return out
}

// SharedImages returns the provides-soname -> image table.
func (ld *Loader) SharedImages() map[string]*image.Image { return ld.sharedImages }

// MinAddr and MaxAddr return the absolute bounds across every loaded
// image.
func (ld *Loader) MinAddr() uint64 {
	min, _, ok := ld.mm.Bounds()
	if !ok {
		return 0
	}
	return min
}

func (ld *Loader) MaxAddr() uint64 {
	_, max, ok := ld.mm.Bounds()
	if !ok {
		return 0
	}
	return max - 1
}

// AddrToImage returns the image owning addr, if any.
func (ld *Loader) AddrToImage(addr uint64) (*image.Image, bool) {
	for _, img := range ld.allImages {
		if addr >= img.AbsMin() && addr <= img.AbsMax() {
			return img, true
		}
	}
	return nil, false
}

// SymbolAt returns the exact-start symbol name at addr, if any.
func (ld *Loader) SymbolAt(addr uint64) (string, bool) {
	img, ok := ld.AddrToImage(addr)
	if !ok {
		return "", false
	}
	sym, ok := img.SymbolsByOffset[addr-img.RebaseAddr]
	if !ok {
		return "", false
	}
	return sym.Name, true
}

// FunctionContaining is a best-effort containing-function lookup:
// an exact symbol start wins; failing that, a backend
// offering a FunctionBoundaryFinder via Image.Extra is consulted;
// failing that, the nearest symbol at or below addr within the same
// image is used.
func (ld *Loader) FunctionContaining(addr uint64) (string, bool) {
	img, ok := ld.AddrToImage(addr)
	if !ok {
		return "", false
	}
	off := addr - img.RebaseAddr

	if sym, ok := img.SymbolsByOffset[off]; ok {
		return sym.Name, true
	}

	if finder, ok := img.Extra.(image.FunctionBoundaryFinder); ok {
		if name, ok := finder.FunctionContaining(off); ok {
			return name, true
		}
	}

	var bestOff uint64
	var bestName string
	found := false
	for symOff, sym := range img.SymbolsByOffset {
		if symOff <= off && (!found || symOff > bestOff) {
			bestOff, bestName, found = symOff, sym.Name, true
		}
	}
	return bestName, found
}

// ModuleAt returns the basename of the image owning addr, if any.
func (ld *Loader) ModuleAt(addr uint64) (string, bool) {
	img, ok := ld.AddrToImage(addr)
	if !ok {
		return "", false
	}
	return basenameOf(img.Path), true
}

// GotSlot returns the absolute address of the main image's import slot
// for name, if any.
func (ld *Loader) GotSlot(name string) (uint64, bool) {
	if ld.mainImage == nil {
		return 0, false
	}
	off, ok := ld.mainImage.Imports[name]
	if !ok {
		return 0, false
	}
	return ld.mainImage.RebaseAddr + off, true
}
