// Package vol provides the per-symbol volatility table consumed by the
// evaluator, and an estimator that refreshes it from live mid prices.
package vol

import (
	"sync"
	"time"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// Cache is a read-mostly table of per-symbol sigma estimates. Sigma is an
// opaque risk scalar; absent or expired entries fall back to the configured
// default.
type Cache struct {
	mu           sync.RWMutex
	entries      map[string]domain.VolatilityEntry
	defaultSigma float64
	maxAge       time.Duration
}

// NewCache creates a cache with the given fallback sigma. maxAge zero
// disables expiry.
func NewCache(defaultSigma float64, maxAge time.Duration) *Cache {
	return &Cache{
		entries:      make(map[string]domain.VolatilityEntry),
		defaultSigma: defaultSigma,
		maxAge:       maxAge,
	}
}

// Sigma returns the symbol's estimate, or the default when the symbol is
// absent or its entry has expired.
func (c *Cache) Sigma(symbol string) float64 {
	c.mu.RLock()
	e, ok := c.entries[symbol]
	c.mu.RUnlock()

	if !ok {
		return c.defaultSigma
	}
	if c.maxAge > 0 && time.Since(e.UpdatedAt) > c.maxAge {
		return c.defaultSigma
	}
	return e.Sigma
}

// Set stores or replaces a symbol's estimate.
func (c *Cache) Set(e domain.VolatilityEntry) {
	c.mu.Lock()
	c.entries[e.Symbol] = e
	c.mu.Unlock()
}

// Entries returns a copy of the current table for the ops API.
func (c *Cache) Entries() []domain.VolatilityEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.VolatilityEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out
}

var _ domain.SigmaSource = (*Cache)(nil)
