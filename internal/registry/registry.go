// Package registry holds the immutable-after-init market universe. All
// registrations happen during bootstrap, before the graph is built; after
// that the registry is read-shared by the graph, feeds, and ops handlers.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// Registry maps (exchange, symbol) to a validated market descriptor.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*domain.Market
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{markets: make(map[string]*domain.Market)}
}

// Register validates and stores a market descriptor. Duplicate registrations
// and invalid descriptors are rejected; both are fatal at startup.
func (r *Registry) Register(m *domain.Market) error {
	if err := m.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := m.ID()
	if _, ok := r.markets[id]; ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateMarket, id)
	}
	r.markets[id] = m
	return nil
}

// Lookup returns the descriptor for (exchange, symbol).
func (r *Registry) Lookup(exchange, symbol string) (*domain.Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.markets[exchange+":"+symbol]
	if !ok {
		return nil, fmt.Errorf("%w: market %s:%s", domain.ErrNotFound, exchange, symbol)
	}
	return m, nil
}

// All returns every registered descriptor, sorted by market id so callers
// iterate in a stable order.
func (r *Registry) All() []*domain.Market {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of registered markets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}
