package loader

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/wrenfold/ldspace/internal/arch"
	"github.com/wrenfold/ldspace/internal/image"
)

// fakeSpec is a JSON-serializable description of a synthetic image, used
// by the "fake" backend so loader tests can exercise the full orchestrator
// sequence (dependency discovery, rebasing, relocation) without needing a
// byte-accurate binary format on disk.
type fakeSpec struct {
	Provides string            `json:"provides,omitempty"`
	Deps     []string          `json:"deps,omitempty"`
	Size     uint64            `json:"size"`
	Exports  map[string]uint64 `json:"exports,omitempty"`
	Imports  map[string]uint64 `json:"imports,omitempty"`
}

func init() {
	image.Register("fake", parseFake)
}

func writeFakeFixture(path string, spec fakeSpec) error {
	data, err := json.Marshal(spec)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// parseFake implements image.ParseFunc for the "fake" test backend. Images
// it produces are tagged image.KindExtractor so the relocation engine
// resolves their declared Imports against the global export index via the
// flat import-slot path (internal/reloc's applyImportSlots) rather than a
// structured per-architecture relocation table.
func parseFake(path string, opts image.Options) (*image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fake: read %s: %w", path, err)
	}
	var spec fakeSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("fake: parse %s: %w", path, err)
	}
	if spec.Size == 0 {
		spec.Size = 1
	}

	img, err := image.New(path, arch.AMD64Linux, image.KindExtractor, 0, spec.Size-1)
	if err != nil {
		return nil, err
	}
	img.Provides = spec.Provides
	img.Deps = spec.Deps
	for name, off := range spec.Exports {
		img.Exports[name] = off
	}
	for name, off := range spec.Imports {
		img.Imports[name] = off
	}
	return img, nil
}
