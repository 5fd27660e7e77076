package core

import (
	"sort"
	"sync"
)

// ── Registry ──────────────────────────────────────────────────────────────────

// DefaultRegistry is a thread-safe implementation of Registry.
type DefaultRegistry struct {
	mu      sync.RWMutex
	engines map[Format]EngineFactory
}

// NewRegistry returns an empty DefaultRegistry.
func NewRegistry() *DefaultRegistry {
	return &DefaultRegistry{engines: make(map[Format]EngineFactory)}
}

func (r *DefaultRegistry) RegisterEngine(f Format, e EngineFactory) {
	r.mu.Lock()
	r.engines[f] = e
	r.mu.Unlock()
}

func (r *DefaultRegistry) EngineFor(f Format) (EngineFactory, bool) {
	r.mu.RLock()
	e, ok := r.engines[f]
	r.mu.RUnlock()
	return e, ok
}

// Formats returns the registered formats in lexical order.
func (r *DefaultRegistry) Formats() []Format {
	r.mu.RLock()
	out := make([]Format, 0, len(r.engines))
	for f := range r.engines {
		out = append(out, f)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
