package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wrenfold/ldspace/internal/arch"
	"github.com/wrenfold/ldspace/internal/config"
	"github.com/wrenfold/ldspace/internal/image/blob"
	"github.com/wrenfold/ldspace/internal/image/elf"
	"github.com/wrenfold/ldspace/internal/image/externaltool"
	"github.com/wrenfold/ldspace/internal/image/extractor"
	"github.com/wrenfold/ldspace/internal/image/pe"
	"github.com/wrenfold/ldspace/internal/loader"
	"github.com/wrenfold/ldspace/internal/log"
	"github.com/wrenfold/ldspace/internal/resolver"
	"github.com/wrenfold/ldspace/internal/script"
	"github.com/wrenfold/ldspace/internal/ui/colorize"
	"github.com/wrenfold/ldspace/internal/ui/inspector"
)

// archOfByBackend maps a backend tag to the cheap architecture sniffer the
// resolver uses to check candidate dependency files. Backends absent from
// this map (blob, extractor) carry no architecture information of their
// own, so the resolver skips the compatibility check for them entirely.
var archOfByBackend = map[string]resolver.ArchOf{
	"elf":          elf.ArchOf,
	"pe":           pe.ArchOf,
	"externaltool": externaltool.ArchOf,
}

// register every backend by import side effect.
var _ = blob.Parse
var _ = elf.Parse
var _ = pe.Parse
var _ = extractor.Parse
var _ = externaltool.Parse

var (
	verbose                bool
	configPath             string
	ldPath                 []string
	forceLoad              []string
	skip                   []string
	noAutoLoad             bool
	noFuzzyVersions        bool
	allowMissing           bool
	granularity            uint64
	wantArchName           string
	queryAddr              string
	querySymbol            string
	scriptPath             string
	backendName            string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ldspace",
		Short: "Static binary loader and address-space composer",
		Long: `ldspace parses a main executable, recursively resolves and loads its
shared-library dependencies, assigns collision-free addresses, and applies
relocations so cross-module references point at the correct final
addresses — without executing any of the loaded code.`,
	}

	loadCmd := &cobra.Command{
		Use:   "load <main-binary>",
		Short: "Load a binary and its dependencies, print the load order",
		Args:  cobra.ExactArgs(1),
		RunE:  runLoad,
	}
	loadCmd.Flags().StringVar(&configPath, "config", "", "YAML configuration file")
	loadCmd.Flags().StringSliceVar(&ldPath, "ld-path", nil, "additional library search directories")
	loadCmd.Flags().StringSliceVar(&forceLoad, "force-load", nil, "library names to load unconditionally")
	loadCmd.Flags().StringSliceVar(&skip, "skip", nil, "dependency names to never resolve")
	loadCmd.Flags().BoolVar(&noAutoLoad, "no-auto-load", false, "disable automatic dependency discovery")
	loadCmd.Flags().BoolVar(&noFuzzyVersions, "no-fuzzy-versions", false, "require exact library filename match")
	loadCmd.Flags().BoolVar(&allowMissing, "allow-missing", false, "drop unresolved dependencies instead of failing")
	loadCmd.Flags().Uint64Var(&granularity, "granularity", 0, "rebase alignment in bytes (default 16MiB)")
	loadCmd.Flags().StringVar(&wantArchName, "arch", "amd64", "target architecture: amd64, arm64, i386")
	loadCmd.Flags().StringVar(&backendName, "backend", "", "main image backend: elf, pe, blob, extractor, externaltool (default elf)")
	loadCmd.Flags().StringVar(&scriptPath, "script", "", "JavaScript file exposing a resolve(name) fallback for unresolved symbols")
	loadCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose debug logging")
	rootCmd.AddCommand(loadCmd)

	queryCmd := &cobra.Command{
		Use:   "query <main-binary>",
		Short: "Load a binary and answer a single address/symbol query",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuery,
	}
	queryCmd.Flags().StringVar(&configPath, "config", "", "YAML configuration file")
	queryCmd.Flags().StringSliceVar(&ldPath, "ld-path", nil, "additional library search directories")
	queryCmd.Flags().StringVar(&wantArchName, "arch", "amd64", "target architecture: amd64, arm64, i386")
	queryCmd.Flags().StringVar(&queryAddr, "addr", "", "absolute address to resolve, e.g. 0x401000")
	queryCmd.Flags().StringVar(&querySymbol, "symbol", "", "symbol name to resolve a GOT slot for")
	queryCmd.Flags().StringVar(&backendName, "backend", "", "main image backend: elf, pe, blob, extractor, externaltool (default elf)")
	queryCmd.Flags().StringVar(&scriptPath, "script", "", "JavaScript file exposing a resolve(name) fallback for unresolved symbols")
	rootCmd.AddCommand(queryCmd)

	inspectCmd := &cobra.Command{
		Use:   "inspect <main-binary>",
		Short: "Launch an interactive TUI over the loaded address space",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}
	inspectCmd.Flags().StringVar(&configPath, "config", "", "YAML configuration file")
	inspectCmd.Flags().StringSliceVar(&ldPath, "ld-path", nil, "additional library search directories")
	inspectCmd.Flags().StringVar(&wantArchName, "arch", "amd64", "target architecture: amd64, arm64, i386")
	inspectCmd.Flags().StringVar(&backendName, "backend", "", "main image backend: elf, pe, blob, extractor, externaltool (default elf)")
	inspectCmd.Flags().StringVar(&scriptPath, "script", "", "JavaScript file exposing a resolve(name) fallback for unresolved symbols")
	rootCmd.AddCommand(inspectCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func wantArch() arch.Arch {
	a, ok := arch.Named(wantArchName)
	if !ok {
		return arch.AMD64Linux
	}
	return a
}

func buildOptions() (loader.Options, error) {
	opts := loader.DefaultOptions()

	configBackend := ""
	if configPath != "" {
		file, err := config.Load(configPath)
		if err != nil {
			return opts, fmt.Errorf("load config: %w", err)
		}
		opts.AutoLoadLibs = file.AutoLoadLibsOr(opts.AutoLoadLibs)
		opts.IgnoreImportVersionNumbers = file.IgnoreImportVersionNumbersOr(opts.IgnoreImportVersionNumbers)
		opts.ExceptMissingLibs = file.ExceptMissingLibsOr(opts.ExceptMissingLibs)
		if file.RebaseGranularity != 0 {
			opts.RebaseGranularity = file.RebaseGranularity
		}
		opts.ForceLoadLibs = append(opts.ForceLoadLibs, file.ForceLoadLibs...)
		opts.SkipLibs = append(opts.SkipLibs, file.SkipLibs...)
		opts.CustomLDPath = append(opts.CustomLDPath, file.CustomLDPath...)
		configBackend = file.Backend
	}

	// Scalar CLI flags take precedence over the config file; list flags
	// are appended after the file's entries.
	opts.CustomLDPath = append(opts.CustomLDPath, ldPath...)
	opts.ForceLoadLibs = append(opts.ForceLoadLibs, forceLoad...)
	opts.SkipLibs = append(opts.SkipLibs, skip...)
	if noAutoLoad {
		opts.AutoLoadLibs = false
	}
	if noFuzzyVersions {
		opts.IgnoreImportVersionNumbers = false
	}
	if allowMissing {
		opts.ExceptMissingLibs = false
	}
	if granularity != 0 {
		opts.RebaseGranularity = granularity
	}

	backend := backendName
	if backend == "" {
		backend = configBackend
	}
	if backend == "" {
		backend = "elf"
	}
	opts.MainOpts.Backend = backend
	opts.ArchOf = archOfByBackend[backend]

	if scriptPath != "" {
		source, err := os.ReadFile(scriptPath)
		if err != nil {
			return opts, fmt.Errorf("read script: %w", err)
		}
		resolver, err := script.Load(string(source))
		if err != nil {
			return opts, fmt.Errorf("load script: %w", err)
		}
		opts.Script = resolver
	}

	logger := log.New(verbose)
	opts.Logger = logger
	return opts, nil
}

func runLoad(cmd *cobra.Command, args []string) error {
	binaryPath := args[0]
	opts, err := buildOptions()
	if err != nil {
		return err
	}

	ld, err := loader.Load(binaryPath, wantArch(), opts)
	if err != nil {
		return fmt.Errorf("%s %v", colorize.Error("load failed:"), err)
	}

	fmt.Printf("%s ldspace load ─ %s\n", colorize.Header("▶"), filepath.Base(binaryPath))
	fmt.Printf("  session %s\n\n", ld.SessionID)
	for _, img := range ld.AllImages() {
		name := img.Provides
		if name == "" {
			name = filepath.Base(img.Path)
		}
		fmt.Printf("  %s  base=%s  size=%s  tls=%d  %s\n",
			colorize.Module(name),
			colorize.Address(img.RebaseAddr),
			strconv.FormatUint(img.Size(), 16),
			img.TLSModuleID,
			img.Kind)
	}

	if requested := ld.RequestedNames(); len(requested) > 0 {
		fmt.Printf("\nrequested: %s\n", strings.Join(requested, ", "))
	}
	return nil
}

func parseAddr(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, 64)
}

func runQuery(cmd *cobra.Command, args []string) error {
	binaryPath := args[0]
	opts, err := buildOptions()
	if err != nil {
		return err
	}

	ld, err := loader.Load(binaryPath, wantArch(), opts)
	if err != nil {
		return fmt.Errorf("load failed: %w", err)
	}

	if querySymbol != "" {
		slot, ok := ld.GotSlot(querySymbol)
		if !ok {
			fmt.Printf("%s: no import slot for %q\n", colorize.Warn("not found"), querySymbol)
			return nil
		}
		fmt.Printf("%s  %s\n", colorize.Symbol(querySymbol), colorize.Address(slot))
		return nil
	}

	if queryAddr == "" {
		return fmt.Errorf("one of --addr or --symbol is required")
	}
	addr, err := parseAddr(queryAddr)
	if err != nil {
		return fmt.Errorf("bad --addr value %q: %w", queryAddr, err)
	}

	if module, ok := ld.ModuleAt(addr); ok {
		fmt.Printf("module:   %s\n", colorize.Module(module))
	} else {
		fmt.Println(colorize.Warn("address is not mapped by any loaded image"))
		return nil
	}
	if sym, ok := ld.SymbolAt(addr); ok {
		fmt.Printf("symbol:   %s\n", colorize.Symbol(sym))
	}
	if fn, ok := ld.FunctionContaining(addr); ok && fn != "" {
		fmt.Printf("function: %s\n", colorize.Symbol(fn))
	}
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	binaryPath := args[0]
	opts, err := buildOptions()
	if err != nil {
		return err
	}

	ld, err := loader.Load(binaryPath, wantArch(), opts)
	if err != nil {
		return fmt.Errorf("load failed: %w", err)
	}

	return inspector.Run(ld)
}
