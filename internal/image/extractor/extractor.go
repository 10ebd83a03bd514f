// Package extractor implements the "extractor" backend: a
// coarse, format-agnostic fallback that shells out to the host's `nm` and
// `objdump` to recover a flat symbol/import list and dependency names for
// a binary this loader has no structured parser for, rather than
// modeling its segment layout precisely. Its exports and imports come
// from a separately-run analysis tool's output instead of from parsing
// the file format directly, so the relocation engine dispatches
// extractor images through the same flat import-slot resolution path as
// the externaltool backend rather than a per-architecture relocation
// table.
package extractor

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/wrenfold/ldspace/internal/arch"
	"github.com/wrenfold/ldspace/internal/image"
)

func init() {
	image.Register("extractor", Parse)
}

// Parse implements image.ParseFunc for the "extractor" backend. Options
// recognized under Options.Raw: "arch" (string, per arch.Named) — the
// extractor cannot reliably sniff architecture itself, so the caller must
// supply it; defaults to arch.Unknown.
func Parse(path string, opts image.Options) (*image.Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("extractor: stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("extractor: %s is empty", path)
	}

	a := rawArch(opts)

	img, err := image.New(path, a, image.KindExtractor, 0, uint64(info.Size())-1)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("extractor: read %s: %w", path, err)
	}
	if err := img.LocalMemory.WriteAt(0, data); err != nil {
		return nil, fmt.Errorf("extractor: %s: %w", path, err)
	}

	if err := collectSymbols(path, img); err != nil {
		return nil, fmt.Errorf("extractor: nm %s: %w", path, err)
	}
	img.Deps = collectDeps(path)

	return img, nil
}

func rawArch(opts image.Options) arch.Arch {
	if v, ok := opts.Raw["arch"]; ok {
		if name, ok := v.(string); ok {
			if a, found := arch.Named(name); found {
				return a
			}
		}
	}
	return arch.Unknown
}

// collectSymbols runs `nm -D` and splits its output into the image's
// Exports (a defined address) and Imports (an undefined reference,
// recorded with a zero slot offset since nm gives no relocation slot
// address — only a structured backend can fill that in precisely).
func collectSymbols(path string, img *image.Image) error {
	out, err := exec.Command("nm", "-D", "--defined-only", path).Output()
	if err == nil {
		scanSymLines(out, func(addr uint64, name string) {
			img.Exports[name] = addr
			img.SymbolsByOffset[addr] = image.Symbol{Name: name}
		})
	}

	out, err = exec.Command("nm", "-D", "-u", path).Output()
	if err == nil {
		scanner := bufio.NewScanner(strings.NewReader(string(out)))
		for scanner.Scan() {
			// Each line is "U name" (type letter, then symbol name).
			fields := strings.Fields(scanner.Text())
			if len(fields) == 0 {
				continue
			}
			name := fields[len(fields)-1]
			if _, exists := img.Imports[name]; !exists {
				img.Imports[name] = 0
			}
		}
	}
	return nil
}

func scanSymLines(out []byte, add func(addr uint64, name string)) {
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		addr, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil {
			continue
		}
		name := strings.Join(fields[2:], " ")
		add(addr, name)
	}
}

// collectDeps runs `objdump -p` and pulls out each NEEDED entry.
func collectDeps(path string) []string {
	out, err := exec.Command("objdump", "-p", path).Output()
	if err != nil {
		return nil
	}
	return parseNeededLines(out)
}

// parseNeededLines extracts each "NEEDED <soname>" entry from objdump -p
// output. Split out from collectDeps so the parsing logic is testable
// without invoking objdump.
func parseNeededLines(out []byte) []string {
	var deps []string
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 && fields[0] == "NEEDED" {
			deps = append(deps, fields[1])
		}
	}
	return deps
}
