package orchestrator

import "sync"

// Process-wide named instances, so hot-reload or re-entrant construction
// returns the same orchestrator instead of racing two tick loops.
var (
	registryMu sync.Mutex
	registry   = make(map[string]*Orchestrator)
)

// GetOrCreate returns the orchestrator registered under name, creating it
// with deps on first use. Later calls ignore deps.
func GetOrCreate(name string, deps Deps) *Orchestrator {
	registryMu.Lock()
	defer registryMu.Unlock()

	if o, ok := registry[name]; ok {
		return o
	}
	o := New(name, deps)
	registry[name] = o
	return o
}

// Remove drops a named instance from the registry, used by tests
func Remove(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, name)
}
