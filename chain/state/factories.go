package state

import (
	"github.com/evmsim/evmsim/chain/state/cache"
)

/*
ProviderFactory builds ForkedStateProviders that share one backend and one base cache. Each provider gets a fresh
overlay, so hypothetical writes made by one instance are invisible to the others while every instance observes the
same remote-backed base state for the shared anchor.
*/
type ProviderFactory struct {
	backend StateBackend
	cache   cache.StateCache
	height  uint64
}

// NewProviderFactory creates a factory producing providers pinned to the given height, sharing the given cache and
// backend.
func NewProviderFactory(backend StateBackend, stateCache cache.StateCache, height uint64) *ProviderFactory {
	return &ProviderFactory{
		backend: backend,
		cache:   stateCache,
		height:  height,
	}
}

// New creates a provider with a fresh overlay over the shared base cache.
func (f *ProviderFactory) New() *ForkedStateProvider {
	return NewForkedStateProvider(f.backend, f.cache, f.height)
}
