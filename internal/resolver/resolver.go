// Package resolver implements the dependency search algorithm:
// path search with version-number fuzzing, architecture
// compatibility checks, and de-duplication via a satisfied-name set.
package resolver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wrenfold/ldspace/internal/arch"
	"github.com/wrenfold/ldspace/internal/log"
)

// ErrNotFound is returned when no directory in the search list yields a
// match for a dependency name.
var ErrNotFound = errors.New("resolver: dependency not found")

// ErrArchMismatch is returned when an explicit path is given but the file
// is not compatible with the requested architecture.
var ErrArchMismatch = errors.New("resolver: architecture mismatch")

// ArchOf identifies the architecture of the file at path. Backends that
// can cheaply sniff a file's architecture without a full parse should be
// registered here; the resolver only needs enough information to compare
// against the main image's architecture.
type ArchOf func(path string) (arch.Arch, error)

// Resolver searches the filesystem for dependency names declared by
// loaded images.
type Resolver struct {
	// CustomLDPath is the highest-priority set of search roots.
	CustomLDPath []string
	// MainDir is the directory containing the main binary.
	MainDir string
	// Want is the architecture every candidate must match.
	Want arch.Arch
	// Fuzzy enables version-number-insensitive matching.
	Fuzzy bool
	// ArchOf detects a candidate file's architecture.
	ArchOf ArchOf

	log *log.Logger
}

// New builds a Resolver. logger may be nil, in which case resolution
// failures are not logged.
func New(customLDPath []string, mainDir string, want arch.Arch, fuzzy bool, archOf ArchOf, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Resolver{
		CustomLDPath: customLDPath,
		MainDir:      mainDir,
		Want:         want,
		Fuzzy:        fuzzy,
		ArchOf:       archOf,
		log:          logger,
	}
}

// StripVersion implements the fuzzy-stripping rule:
// iteratively remove any trailing character in the set {'.', '0'..'9'}.
// It is a pure, idempotent function, centralized here for reuse across
// the resolver's matching paths.
func StripVersion(name string) string {
	i := len(name)
	for i > 0 {
		c := name[i-1]
		if c == '.' || (c >= '0' && c <= '9') {
			i--
			continue
		}
		break
	}
	return name[:i]
}

// searchDirs builds the search list in priority order:
// custom_ld_path, then ".", then the main binary's directory,
// then the architecture's default library paths.
func (r *Resolver) searchDirs() []string {
	dirs := make([]string, 0, len(r.CustomLDPath)+2+len(r.Want.LibraryPaths()))
	dirs = append(dirs, r.CustomLDPath...)
	dirs = append(dirs, ".", r.MainDir)
	dirs = append(dirs, r.Want.LibraryPaths()...)
	return dirs
}

func (r *Resolver) compatible(path string) bool {
	if r.ArchOf == nil {
		return true
	}
	got, err := r.ArchOf(path)
	if err != nil {
		return false
	}
	return got.Equal(r.Want)
}

// Resolve locates the file providing dependency name.
func (r *Resolver) Resolve(name string) (string, error) {
	if strings.ContainsRune(name, filepath.Separator) {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		if !r.compatible(name) {
			return "", fmt.Errorf("%w: %s", ErrArchMismatch, name)
		}
		return name, nil
	}

	strippedWant := StripVersion(name)

	for _, dir := range r.searchDirs() {
		direct := filepath.Join(dir, name)
		if fileExists(direct) && r.compatible(direct) {
			return filepath.Clean(direct), nil
		}

		if !r.Fuzzy {
			continue
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if StripVersion(e.Name()) != strippedWant {
				continue
			}
			candidate := filepath.Join(dir, e.Name())
			if r.compatible(candidate) {
				return filepath.Clean(candidate), nil
			}
		}
	}

	r.log.Debug("dependency not found", log.Path(name))
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Satisfied tracks the set of dependency names (and, when fuzzy matching
// is enabled, their version-stripped aliases) that have already been
// provided, so cyclic dependencies among shared libraries terminate.
type Satisfied struct {
	fuzzy bool
	names map[string]struct{}
}

// NewSatisfied builds a Satisfied set, seeded with seed names (e.g.
// a caller-supplied skip_libs list).
func NewSatisfied(fuzzy bool, seed []string) *Satisfied {
	s := &Satisfied{fuzzy: fuzzy, names: make(map[string]struct{})}
	for _, n := range seed {
		s.Add(n)
	}
	return s
}

// Add records name (and its fuzzy alias, if enabled) as satisfied.
func (s *Satisfied) Add(name string) {
	s.names[name] = struct{}{}
	if s.fuzzy {
		s.names[StripVersion(name)] = struct{}{}
	}
}

// Has reports whether name is already satisfied: checked against the
// basename exactly, and (when fuzzy matching is enabled) against the
// version-stripped form too.
func (s *Satisfied) Has(name string) bool {
	base := filepath.Base(name)
	if _, ok := s.names[base]; ok {
		return true
	}
	if s.fuzzy {
		if _, ok := s.names[StripVersion(base)]; ok {
			return true
		}
	}
	return false
}

// Names returns every name currently recorded as satisfied, for
// diagnostics.
func (s *Satisfied) Names() []string {
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	return out
}
