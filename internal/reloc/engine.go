// Package reloc implements the relocation engine: once
// every image has been parsed and rebased, it assigns TLS module ids and
// dispatches each image's relocations against the global export index.
package reloc

import (
	"errors"

	"github.com/wrenfold/ldspace/internal/image"
	"github.com/wrenfold/ldspace/internal/log"
)

// ScriptFallback is consulted when normal export-index lookup fails to
// resolve a symbol: an operator-supplied hook of last
// resort, tried only after the backend's own resolution has already
// missed. A nil ScriptFallback (or a fallback returning ok=false) leaves
// the backend-defined warn-and-zero default unchanged.
type ScriptFallback func(name string) (addr uint64, ok bool)

// Apply assigns tls_module_id in load order and patches every image's
// relocations. It never fails construction: unresolved
// symbols and per-relocation write errors are logged as warnings and
// skipped. fallback may be nil.
func Apply(all []*image.Image, logger *log.Logger, fallback ScriptFallback) {
	if logger == nil {
		logger = log.NewNop()
	}

	for i, img := range all {
		img.TLSModuleID = i
	}

	for i, img := range all {
		switch img.Kind {
		case image.KindPE:
			// Self-relocating: no action.
		case image.KindExternalTool, image.KindExtractor:
			applyImportSlots(img, all, logger, fallback)
		default:
			applyRelocations(i, img, all, logger, fallback)
		}
	}
}

func applyRelocations(ownerIndex int, owner *image.Image, all []*image.Image, logger *log.Logger, fallback ScriptFallback) {
	for _, r := range owner.Relocations {
		err := r.Apply(ownerIndex, all)
		if err == nil {
			continue
		}
		if errors.Is(err, image.ErrUnresolvedSymbol) {
			if fallback != nil && r.Symbol != "" {
				if addr, ok := fallback(r.Symbol); ok {
					if werr := owner.WriteWord(r.SlotOffset, addr); werr == nil {
						continue
					}
				}
			}
			logger.Warn("unresolved symbol", log.Sym(r.Symbol), log.Path(owner.Path))
			continue
		}
		logger.Warn("relocation failed", log.Sym(r.Symbol), log.Path(owner.Path))
	}
}

// applyImportSlots resolves each of owner's declared imports against the
// global export index and writes the absolute address into the
// corresponding slot. Backends parsed by the extractor or
// external-tool family expose a flat import list rather than typed
// relocation entries, so resolution happens here instead of through a
// per-entry Apply closure. A symbol owner itself exports shadows an
// identically named external export.
func applyImportSlots(owner *image.Image, all []*image.Image, logger *log.Logger, fallback ScriptFallback) {
	for name, slotOffset := range owner.Imports {
		resolved, ok := owner.Exports[name]
		if ok {
			resolved += owner.RebaseAddr
		} else {
			resolved, ok = image.FindExport(all, name)
		}
		if !ok && fallback != nil {
			resolved, ok = fallback(name)
		}
		if !ok {
			logger.Warn("unresolved symbol", log.Sym(name), log.Path(owner.Path))
			continue
		}
		if err := owner.WriteWord(slotOffset, resolved); err != nil {
			logger.Warn("relocation failed", log.Sym(name), log.Path(owner.Path))
		}
	}
}
