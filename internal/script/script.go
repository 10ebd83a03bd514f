// Package script implements the unresolved-symbol scripting hook:
// an operator can supply a small JavaScript snippet
// evaluated via goja as a last resort when the relocation engine's
// normal export lookup misses. The snippet must define a `resolve`
// function taking a symbol name and returning a hex address string (or
// null/undefined to decline).
package script

import (
	"fmt"

	"github.com/dop251/goja"
)

// Resolver wraps a loaded script's resolve function.
type Resolver struct {
	vm *goja.Runtime
	fn goja.Callable
}

// Load compiles source and binds its top-level resolve(name) function.
func Load(source string) (*Resolver, error) {
	vm := goja.New()
	if _, err := vm.RunString(source); err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}

	fn, ok := goja.AssertFunction(vm.Get("resolve"))
	if !ok {
		return nil, fmt.Errorf("script: no top-level resolve(name) function defined")
	}

	return &Resolver{vm: vm, fn: fn}, nil
}

// Resolve calls the script's resolve(name) function. ok is false when the
// script returns null/undefined, meaning it declines to handle name.
func (r *Resolver) Resolve(name string) (addr uint64, ok bool, err error) {
	result, err := r.fn(goja.Undefined(), r.vm.ToValue(name))
	if err != nil {
		return 0, false, fmt.Errorf("script: resolve(%q): %w", name, err)
	}
	if goja.IsUndefined(result) || goja.IsNull(result) {
		return 0, false, nil
	}

	s := result.String()
	var hex string
	if _, err := fmt.Sscanf(s, "0x%s", &hex); err == nil {
		var parsed uint64
		if _, err := fmt.Sscanf(hex, "%x", &parsed); err == nil {
			return parsed, true, nil
		}
	}
	var parsed uint64
	if _, err := fmt.Sscanf(s, "%x", &parsed); err == nil {
		return parsed, true, nil
	}
	return 0, false, fmt.Errorf("script: resolve(%q) returned unparsable value %q", name, s)
}
