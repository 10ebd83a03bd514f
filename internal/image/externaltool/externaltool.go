// Package externaltool implements the "externaltool" backend: it shells
// out to radare2 to recover sections, symbols, and imports for a binary,
// rather than parsing the file format in Go. Its imports resolve through
// the relocation engine's flat import-slot path instead of a structured
// relocation table, and a self-exported symbol always shadows an
// identically named external one.
package externaltool

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/wrenfold/ldspace/internal/arch"
	"github.com/wrenfold/ldspace/internal/image"
)

func init() {
	image.Register("externaltool", Parse)
}

type r2Section struct {
	Name  string `json:"name"`
	VAddr uint64 `json:"vaddr"`
	VSize uint64 `json:"vsize"`
	PAddr uint64 `json:"paddr"`
	Size  uint64 `json:"size"`
}

type r2Symbol struct {
	Name       string `json:"name"`
	VAddr      uint64 `json:"vaddr"`
	Size       uint64 `json:"size"`
	IsImported bool   `json:"is_imported"`
}

type r2Import struct {
	Name string `json:"name"`
	Plt  uint64 `json:"plt"`
}

type r2Info struct {
	Bin struct {
		Arch string `json:"arch"`
		Bits int    `json:"bits"`
	} `json:"bin"`
}

func run(path, cmd string, out any) error {
	data, err := exec.Command("r2", "-q", "-c", cmd, path).Output()
	if err != nil {
		return fmt.Errorf("r2 %s: %w", cmd, err)
	}
	return json.Unmarshal(data, out)
}

func archFromR2(name string, bits int) arch.Arch {
	switch {
	case name == "x86" && bits == 64:
		return arch.AMD64Linux
	case name == "x86" && bits == 32:
		return arch.I386Linux
	case name == "arm" && bits == 64:
		return arch.ARM64Linux
	default:
		return arch.Unknown
	}
}

// ArchOf sniffs a candidate file's architecture via `r2 -c ij`, backing
// the resolver's compatibility check.
func ArchOf(path string) (arch.Arch, error) {
	var info r2Info
	if err := run(path, "ij", &info); err != nil {
		return arch.Arch{}, err
	}
	a := archFromR2(info.Bin.Arch, info.Bin.Bits)
	if a.Name == arch.Unknown.Name {
		return arch.Arch{}, fmt.Errorf("externaltool: unrecognized arch %q/%d", info.Bin.Arch, info.Bin.Bits)
	}
	return a, nil
}

// Parse implements image.ParseFunc for the "externaltool" backend.
func Parse(path string, opts image.Options) (*image.Image, error) {
	var info r2Info
	if err := run(path, "ij", &info); err != nil {
		return nil, fmt.Errorf("externaltool: %s: %w", path, err)
	}
	a := archFromR2(info.Bin.Arch, info.Bin.Bits)

	var sections []r2Section
	if err := run(path, "iSj", &sections); err != nil {
		return nil, fmt.Errorf("externaltool: %s: %w", path, err)
	}
	minOff, maxOff, ok := sectionBounds(sections)
	if !ok {
		return nil, fmt.Errorf("externaltool: %s has no sections", path)
	}

	img, err := image.New(path, a, image.KindExternalTool, minOff, maxOff)
	if err != nil {
		return nil, err
	}

	var symbols []r2Symbol
	if err := run(path, "isj", &symbols); err == nil {
		for _, s := range symbols {
			if s.Name == "" || s.IsImported {
				continue
			}
			img.Exports[s.Name] = s.VAddr
			img.SymbolsByOffset[s.VAddr] = image.Symbol{Name: s.Name, Size: s.Size}
		}
	}

	var imports []r2Import
	if err := run(path, "iij", &imports); err == nil {
		for _, imp := range imports {
			if imp.Name == "" {
				continue
			}
			// The PLT stub address r2 reports is this image's import slot:
			// the relocation engine's flat import-slot path
			// patches it once the symbol is resolved globally.
			img.Imports[imp.Name] = imp.Plt
		}
	}

	img.Deps = collectDeps(path)
	img.Provides = basename(path)

	return img, nil
}

func sectionBounds(sections []r2Section) (min, max uint64, ok bool) {
	min = ^uint64(0)
	for _, s := range sections {
		if s.VSize == 0 {
			continue
		}
		ok = true
		if s.VAddr < min {
			min = s.VAddr
		}
		if end := s.VAddr + s.VSize; end > 0 && end-1 > max {
			max = end - 1
		}
	}
	if !ok {
		return 0, 0, false
	}
	return min, max, true
}

// collectDeps runs `r2 -c "ilq"`, which lists one linked library name per
// line, to recover this image's declared dependencies.
func collectDeps(path string) []string {
	data, err := exec.Command("r2", "-q", "-c", "ilq", path).Output()
	if err != nil {
		return nil
	}
	return parseLinkedLibs(data)
}

// parseLinkedLibs extracts one library name per non-blank line of `ilq`
// output. Split out from collectDeps so the parsing logic is testable
// without invoking r2.
func parseLinkedLibs(data []byte) []string {
	var deps []string
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		if name := strings.TrimSpace(scanner.Text()); name != "" {
			deps = append(deps, name)
		}
	}
	return deps
}

func basename(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
