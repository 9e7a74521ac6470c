package domain

import "strings"

// Cycle is a closed directed walk through the market graph: each edge's
// target asset is the next edge's source, and the last edge returns to the
// first edge's source. Cycles are canonicalized by the enumerator so that
// equivalent rotations share one Key.
type Cycle struct {
	Edges []Edge

	// Key is the canonical edge-id sequence, assigned at enumeration time.
	Key string
}

// Start returns the asset the cycle is rooted at.
func (c Cycle) Start() Asset {
	if len(c.Edges) == 0 {
		return ""
	}
	return c.Edges[0].From
}

// Len returns the number of legs.
func (c Cycle) Len() int { return len(c.Edges) }

// Assets returns the asset sequence visited by the cycle, ending back at the
// start asset. For a triangle it has four entries.
func (c Cycle) Assets() []Asset {
	if len(c.Edges) == 0 {
		return nil
	}
	out := make([]Asset, 0, len(c.Edges)+1)
	out = append(out, c.Edges[0].From)
	for _, e := range c.Edges {
		out = append(out, e.To)
	}
	return out
}

// String renders the asset path, e.g. "USDC->BTC->ETH->USDC".
func (c Cycle) String() string {
	assets := c.Assets()
	parts := make([]string, len(assets))
	for i, a := range assets {
		parts[i] = string(a)
	}
	return strings.Join(parts, "->")
}

// CanonicalKey joins the edge ids of the given sequence into a cycle key.
func CanonicalKey(edges []Edge) string {
	ids := make([]string, len(edges))
	for i, e := range edges {
		ids[i] = e.ID()
	}
	return strings.Join(ids, "|")
}
