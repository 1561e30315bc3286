package core

import "sync"

// ── Registry ──────────────────────────────────────────────────────────────────

// DefaultRegistry is a thread-safe implementation of Registry.
type DefaultRegistry struct {
	mu       sync.RWMutex
	backends map[BackendKind]Backend
}

// NewRegistry returns an empty DefaultRegistry.
func NewRegistry() *DefaultRegistry {
	return &DefaultRegistry{backends: make(map[BackendKind]Backend)}
}

func (r *DefaultRegistry) RegisterBackend(kind BackendKind, b Backend) {
	r.mu.Lock()
	r.backends[kind] = b
	r.mu.Unlock()
}

func (r *DefaultRegistry) BackendFor(kind BackendKind) (Backend, bool) {
	r.mu.RLock()
	b, ok := r.backends[kind]
	r.mu.RUnlock()
	return b, ok
}
