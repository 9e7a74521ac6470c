package graph

import (
	"fmt"
	"sort"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// CycleConfig controls cycle enumeration.
type CycleConfig struct {
	MinLen               int
	MaxLen               int
	StartAssets          []domain.Asset
	AllowRevisitAssets   bool
	AllowSameMarketTwice bool
	AllowCrossExchange   bool
}

func (c CycleConfig) validate() error {
	switch {
	case c.MinLen < 2:
		return fmt.Errorf("graph: min cycle length must be >= 2, got %d", c.MinLen)
	case c.MaxLen < c.MinLen:
		return fmt.Errorf("graph: max cycle length %d below min %d", c.MaxLen, c.MinLen)
	case len(c.StartAssets) == 0:
		return fmt.Errorf("graph: start assets must not be empty")
	}
	return nil
}

// frame is one level of the explicit DFS stack: the outgoing edges of the
// current asset and the next index to try.
type frame struct {
	out []domain.Edge
	idx int
}

// EnumerateCycles finds every simple directed cycle rooted at a start asset
// with length in [MinLen, MaxLen], subject to the revisit, same-market, and
// cross-exchange rules. Cycles are canonicalized by rotation and
// deduplicated on the canonical edge-id key. The search is iterative; depth
// is bounded by MaxLen so the stack stays small regardless of graph size.
func EnumerateCycles(g *Graph, cfg CycleConfig) ([]domain.Cycle, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	startSet := make(map[domain.Asset]bool, len(cfg.StartAssets))
	for _, a := range cfg.StartAssets {
		startSet[a] = true
	}

	seen := make(map[string]bool)
	var cycles []domain.Cycle

	roots := append([]domain.Asset(nil), cfg.StartAssets...)
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	for _, root := range roots {
		if _, ok := g.out[root]; !ok {
			continue
		}

		stack := []frame{{out: g.Neighbors(root)}}
		var pathEdges []domain.Edge
		visits := map[domain.Asset]int{root: 1}
		marketsUsed := make(map[string]int)

		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			if f.idx >= len(f.out) {
				// Backtrack.
				stack = stack[:len(stack)-1]
				if n := len(pathEdges); n > 0 {
					last := pathEdges[n-1]
					pathEdges = pathEdges[:n-1]
					visits[last.To]--
					marketsUsed[last.Market.ID()]--
				}
				continue
			}

			e := f.out[f.idx]
			f.idx++
			depth := len(pathEdges)

			if !cfg.AllowCrossExchange && depth > 0 && e.Market.Exchange != pathEdges[0].Market.Exchange {
				continue
			}
			if !cfg.AllowSameMarketTwice && marketsUsed[e.Market.ID()] > 0 {
				continue
			}

			if e.To == root {
				if depth+1 >= cfg.MinLen {
					cyc := canonicalize(append(append([]domain.Edge(nil), pathEdges...), e), startSet)
					if !seen[cyc.Key] {
						seen[cyc.Key] = true
						cycles = append(cycles, cyc)
					}
				}
				continue
			}

			// A non-root step at depth MaxLen-1 can never close the cycle in
			// time, so only returning edges are considered there.
			if depth+1 >= cfg.MaxLen {
				continue
			}
			if !cfg.AllowRevisitAssets && visits[e.To] > 0 {
				continue
			}

			pathEdges = append(pathEdges, e)
			visits[e.To]++
			marketsUsed[e.Market.ID()]++
			stack = append(stack, frame{out: g.Neighbors(e.To)})
		}
	}

	return cycles, nil
}

// canonicalize rotates the cycle to start at the smallest start asset it
// visits, breaking ties between rotations by the smallest edge-id sequence,
// so equivalent rotations found from different roots collapse to one key.
func canonicalize(edges []domain.Edge, startSet map[domain.Asset]bool) domain.Cycle {
	var best domain.Asset
	for _, e := range edges {
		if !startSet[e.From] {
			continue
		}
		if best == "" || e.From < best {
			best = e.From
		}
	}
	if best == "" {
		// No start asset on the cycle; keep the found rotation.
		return domain.Cycle{Edges: edges, Key: domain.CanonicalKey(edges)}
	}

	var bestEdges []domain.Edge
	var bestKey string
	for i, e := range edges {
		if e.From != best {
			continue
		}
		rot := append(append([]domain.Edge(nil), edges[i:]...), edges[:i]...)
		key := domain.CanonicalKey(rot)
		if bestKey == "" || key < bestKey {
			bestKey = key
			bestEdges = rot
		}
	}
	return domain.Cycle{Edges: bestEdges, Key: bestKey}
}
