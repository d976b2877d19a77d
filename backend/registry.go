package backend

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gogpu/gpuchan"
)

// Factory opens a device.
type Factory func() (Device, error)

var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)
	// Priority order for Default (first that opens wins).
	backendPriority = []string{BackendNative, BackendSim}
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it is replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the sorted names of the registered backends.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Open opens a device with the named backend.
func Open(name string) (Device, error) {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotAvailable, name)
	}
	dev, err := factory()
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", name, err)
	}
	return dev, nil
}

// Default opens the best available backend by priority, falling back to
// any registered one. Backends that fail to open are skipped.
func Default() (Device, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	tried := make(map[string]bool, len(backends))
	for _, name := range backendPriority {
		factory, ok := backends[name]
		if !ok {
			continue
		}
		tried[name] = true
		dev, err := factory()
		if err == nil {
			return dev, nil
		}
		gpuchan.Logger().Info("backend: skipping unavailable backend", "backend", name, "error", err)
	}

	for name, factory := range backends {
		if tried[name] {
			continue
		}
		if dev, err := factory(); err == nil {
			return dev, nil
		}
	}
	return nil, ErrBackendNotAvailable
}
