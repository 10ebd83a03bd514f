// Package config loads loader settings from a YAML file. It covers the
// loader's scalar and list configuration keys plus the main image's
// backend tag; per-image option bags (main_opts, lib_opts) are not read
// from the file.
// Loading layers defaults -> YAML file -> CLI flags: a scalar flag
// overrides the file, which overrides the default, while list flags are
// appended after the file's entries. cmd/ldspace applies the flag layer
// itself after calling Load.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of a loader configuration file. Field names
// mirror the matching loader.Options fields; MainOpts and LibOpts have
// no counterpart, and Backend sets only the main image's backend. Zero
// values mean "use the default".
type File struct {
	AutoLoadLibs                *bool    `yaml:"auto_load_libs"`
	ForceLoadLibs               []string `yaml:"force_load_libs"`
	SkipLibs                    []string `yaml:"skip_libs"`
	CustomLDPath                []string `yaml:"custom_ld_path"`
	IgnoreImportVersionNumbers  *bool    `yaml:"ignore_import_version_numbers"`
	RebaseGranularity           uint64   `yaml:"rebase_granularity"`
	ExceptMissingLibs           *bool    `yaml:"except_missing_libs"`
	Backend                     string   `yaml:"backend"`
}

// Load reads and parses a YAML configuration file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &f, nil
}

// boolOr returns the pointed-to value, or def if p is nil.
func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// AutoLoadLibsOr returns the configured value, or def if unset.
func (f *File) AutoLoadLibsOr(def bool) bool { return boolOr(f.AutoLoadLibs, def) }

// IgnoreImportVersionNumbersOr returns the configured value, or def if
// unset.
func (f *File) IgnoreImportVersionNumbersOr(def bool) bool {
	return boolOr(f.IgnoreImportVersionNumbers, def)
}

// ExceptMissingLibsOr returns the configured value, or def if unset.
func (f *File) ExceptMissingLibsOr(def bool) bool { return boolOr(f.ExceptMissingLibs, def) }
