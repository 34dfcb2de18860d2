// Package provider constructs and holds the upstream adapters.
package provider

import (
	"fmt"

	"github.com/switchyard-ai/switchyard/internal/domain"
)

// Registry holds the configured provider adapters. It is populated once
// at startup and read-only afterwards, so it is safe for concurrent use
// without locking.
type Registry struct {
	providers map[string]domain.Provider
	order     []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]domain.Provider)}
}

// Register adds an adapter under its name.
func (r *Registry) Register(p domain.Provider) error {
	id := p.Name()
	if _, exists := r.providers[id]; exists {
		return fmt.Errorf("provider already registered: %s", id)
	}
	r.providers[id] = p
	r.order = append(r.order, id)
	return nil
}

// Get returns the adapter with the given id.
func (r *Registry) Get(id string) (domain.Provider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// IDs returns the registered provider ids in registration order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	return len(r.providers)
}
