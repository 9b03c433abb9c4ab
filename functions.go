package thermabridge

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownFunction is returned by Functions.Call for a name with no handler.
var ErrUnknownFunction = errors.New("thermabridge: unknown function")

// Function handles one SH_EXEC_FUN request. A nil result is sent back as Null.
type Function func(args List, kwargs Mapping) (Value, error)

// FallbackFunction receives calls for names without a registered Function.
type FallbackFunction func(name string, args List, kwargs Mapping) (Value, error)

// Functions is the registry of host functions a peer can call by name.
//
// Functions is safe for concurrent use.
type Functions struct {
	mu       sync.RWMutex
	funcs    map[string]Function
	fallback FallbackFunction
}

// NewFunctions returns an empty registry.
func NewFunctions() *Functions {
	return &Functions{funcs: make(map[string]Function)}
}

// Register binds name to fn, replacing any previous binding.
func (f *Functions) Register(name string, fn Function) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.funcs[name] = fn
}

// SetDefault sets the handler for names that are not registered.
func (f *Functions) SetDefault(fn FallbackFunction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = fn
}

// Names returns the registered names in sorted order.
func (f *Functions) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.funcs))
	for name := range f.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call runs the function bound to name.
func (f *Functions) Call(name string, args List, kwargs Mapping) (Value, error) {
	f.mu.RLock()
	fn, ok := f.funcs[name]
	fallback := f.fallback
	f.mu.RUnlock()

	switch {
	case ok:
		return fn(args, kwargs)
	case fallback != nil:
		return fallback(name, args, kwargs)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
}
