// Package graph builds the directed currency multigraph from the market
// registry and enumerates the arbitrage cycles the scanner evaluates.
package graph

import (
	"sort"

	"github.com/alanyoungcy/arbscan/internal/domain"
	"github.com/alanyoungcy/arbscan/internal/registry"
)

// Graph is a directed multigraph over assets. Every market contributes two
// edges: BUY quote->base (lifting asks) and SELL base->quote (hitting bids).
// The same (from, to) pair on different exchanges yields parallel edges.
type Graph struct {
	out      map[domain.Asset][]domain.Edge
	vertices []domain.Asset
	edges    []domain.Edge
}

// Build derives the graph from the registered market universe.
func Build(reg *registry.Registry) *Graph {
	g := &Graph{out: make(map[domain.Asset][]domain.Edge)}

	for _, m := range reg.All() {
		buy := domain.Edge{Side: domain.Buy, Market: m, From: m.Quote, To: m.Base}
		sell := domain.Edge{Side: domain.Sell, Market: m, From: m.Base, To: m.Quote}
		g.addEdge(buy)
		g.addEdge(sell)
	}

	g.vertices = make([]domain.Asset, 0, len(g.out))
	for a := range g.out {
		g.vertices = append(g.vertices, a)
	}
	sort.Slice(g.vertices, func(i, j int) bool { return g.vertices[i] < g.vertices[j] })
	return g
}

func (g *Graph) addEdge(e domain.Edge) {
	g.out[e.From] = append(g.out[e.From], e)
	if _, ok := g.out[e.To]; !ok {
		g.out[e.To] = nil
	}
	g.edges = append(g.edges, e)
}

// Neighbors returns the outgoing edges of an asset.
func (g *Graph) Neighbors(a domain.Asset) []domain.Edge {
	return g.out[a]
}

// Vertices returns all assets in lexicographic order.
func (g *Graph) Vertices() []domain.Asset {
	return g.vertices
}

// Edges returns all directed edges.
func (g *Graph) Edges() []domain.Edge {
	return g.edges
}
