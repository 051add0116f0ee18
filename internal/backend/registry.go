package backend

import (
	"fmt"
	"sort"
	"sync"
)

// Backend names.
const (
	NameSandbox    = "sandbox"
	NameSubprocess = "subprocess"
	NameAuto       = "auto"
)

// autoOrder is the preference order used to resolve NameAuto.
var autoOrder = []string{NameSandbox, NameSubprocess}

// BackendInfo pairs a backend name with its capabilities.
type BackendInfo struct {
	Name         string       `json:"name"`
	Capabilities Capabilities `json:"capabilities"`
}

// Registry holds registered backends and resolves one by name.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Backend),
	}
}

// Register adds a backend to the registry under the given name.
func (r *Registry) Register(name string, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = b
}

// Resolve returns the backend registered under name. An empty name or
// "auto" picks the first registered backend in preference order.
func (r *Registry) Resolve(name string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" || name == NameAuto {
		for _, n := range autoOrder {
			if b, ok := r.backends[n]; ok {
				return b, nil
			}
		}
		return nil, fmt.Errorf("no backend registered for %q", NameAuto)
	}

	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("backend %q is not registered", name)
	}
	return b, nil
}

// NewInterpreter resolves name and starts an interpreter on it.
func (r *Registry) NewInterpreter(name string, cfg Config) (Interpreter, error) {
	b, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	interp, err := b.NewInterpreter(cfg)
	if err != nil {
		return nil, fmt.Errorf("start %s interpreter: %w", b.Capabilities().Name, err)
	}
	return interp, nil
}

// List returns information about all registered backends, sorted by name
// for a stable API response.
func (r *Registry) List() []BackendInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]BackendInfo, 0, len(r.backends))
	for name, b := range r.backends {
		infos = append(infos, BackendInfo{
			Name:         name,
			Capabilities: b.Capabilities(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
