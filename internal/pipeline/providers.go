package pipeline

import (
	"sync/atomic"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ProviderSet is an immutable bundle of model providers. Scoring calls
// read the set through an atomic pointer, so a background refresh swaps
// the whole set at once; a call observes either the old or the new set,
// never a partially updated one.
type ProviderSet struct {
	Models domain.ModelProvider

	// Graph is nil when the deployment has no graph model.
	Graph domain.GraphProvider
}

// Registry holds the current provider set behind an atomic pointer.
type Registry struct {
	current atomic.Pointer[ProviderSet]
}

// NewRegistry creates a registry holding the initial provider set.
func NewRegistry(set *ProviderSet) *Registry {
	r := &Registry{}
	r.current.Store(set)
	return r
}

// Current returns the active provider set.
func (r *Registry) Current() *ProviderSet {
	return r.current.Load()
}

// Swap atomically replaces the provider set.
func (r *Registry) Swap(set *ProviderSet) {
	r.current.Store(set)
}
