// Package domain defines the core types shared across the scanner:
// assets, market descriptors, order-book state, graph edges, cycles,
// evaluation records, and the interfaces implemented by the cache, store,
// and bus layers.
package domain

import "strings"

// Asset identifies a currency by its canonical upper-case symbol, e.g. "BTC".
// Two assets are equal iff their identifiers are equal.
type Asset string

// NewAsset normalizes a raw identifier into canonical form.
func NewAsset(s string) Asset {
	return Asset(strings.ToUpper(strings.TrimSpace(s)))
}

// String returns the asset identifier.
func (a Asset) String() string { return string(a) }
