package loader

import "errors"

// Sentinel errors describing why Load failed. Callers distinguish
// failure modes with errors.Is; wrapped detail (a path, a symbol name) is
// attached with fmt.Errorf("%w: ...", ...) at the point of failure.
var (
	// ErrParse means a backend could not interpret a file.
	ErrParse = errors.New("loader: parse error")
	// ErrArchMismatch means a candidate dependency's architecture differs
	// from the main image's.
	ErrArchMismatch = errors.New("loader: architecture mismatch")
	// ErrNotFound means a dependency could not be located on any search path.
	ErrNotFound = errors.New("loader: dependency not found")
	// ErrMissingDependency surfaces ErrNotFound when ExceptMissingLibs is
	// true.
	ErrMissingDependency = errors.New("loader: missing dependency")
	// ErrOverlap means a would-be backer intersects an existing one.
	ErrOverlap = errors.New("loader: overlapping image")
	// ErrUnresolvedSymbol means a relocation referenced a symbol no loaded
	// image exports. This is recovered-by-warn for the
	// normal case; it is never returned from Load itself, only logged.
	ErrUnresolvedSymbol = errors.New("loader: unresolved symbol")
)
