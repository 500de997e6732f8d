package graph

import "sync"

// Registry deduplicates nodes by configuration: one shared instance per
// distinct config value, created lazily. Guarded by a mutex so wiring
// code may run from multiple goroutines even though evaluation itself
// is single-threaded.
type Registry struct {
	mu    sync.Mutex
	nodes map[any]Node
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[any]Node)}
}

// GetOrCreate returns the node registered under key, building and
// registering it on first use. Keys must be comparable value types that
// capture the full configuration (type, parent identity, parameters).
func (r *Registry) GetOrCreate(key any, build func() Node) Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[key]; ok {
		return n
	}
	n := build()
	r.nodes[key] = n
	return n
}

// Len returns the number of registered nodes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes)
}
