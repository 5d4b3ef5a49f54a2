package adapters

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/chainsafe/senate-indexer/pkg/governance"
)

// ErrNoAdapter is returned when no adapter is registered for a source type.
var ErrNoAdapter = errors.New("no adapter registered")

// Registry maps source types to their adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[governance.SourceType]SourceAdapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[governance.SourceType]SourceAdapter)}
}

// Register binds adapter to t, replacing any previous binding.
func (r *Registry) Register(t governance.SourceType, adapter SourceAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[t] = adapter
}

// Lookup returns the adapter bound to t.
func (r *Registry) Lookup(t governance.SourceType) (SourceAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[t]
	if !ok {
		return nil, fmt.Errorf("%w for source type %q", ErrNoAdapter, t)
	}
	return adapter, nil
}

// For returns the adapter of entity, verifying that the adapter accepts its decoder.
func (r *Registry) For(entity *governance.Entity) (SourceAdapter, error) {
	adapter, err := r.Lookup(entity.Type)
	if err != nil {
		return nil, err
	}
	if checker, ok := adapter.(EntityChecker); ok {
		if err := checker.Check(entity); err != nil {
			return nil, fmt.Errorf("%w for entity %s: %w", ErrNoAdapter, entity.ID, err)
		}
	}
	return adapter, nil
}

// Types returns the registered source types in lexical order.
func (r *Registry) Types() []governance.SourceType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]governance.SourceType, 0, len(r.adapters))
	for t := range r.adapters {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
