package providers

import (
	"fmt"
	"sync"

	"github.com/vasudvy/billfrog/internal/models"
)

// Registry resolves provider names to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.Provider]Adapter
}

// NewRegistry creates a registry preloaded with the given adapters
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// DefaultRegistry builds a registry with all supported adapters
func DefaultRegistry(cfg Config) *Registry {
	return NewRegistry(
		NewOpenAIAdapter(cfg),
		NewAnthropicAdapter(cfg),
		NewGoogleAdapter(cfg),
	)
}

// Register adds or replaces an adapter
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter for the given provider name
func (r *Registry) Get(provider models.Provider) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
	return a, nil
}
