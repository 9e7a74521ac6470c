package graph

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbscan/internal/domain"
	"github.com/alanyoungcy/arbscan/internal/registry"
)

func mkMarket(t *testing.T, exchange, base, quote string) *domain.Market {
	t.Helper()
	return &domain.Market{
		Exchange:    exchange,
		Symbol:      base + "/" + quote,
		Base:        domain.Asset(base),
		Quote:       domain.Asset(quote),
		TakerFee:    decimal.NewFromFloat(0.001),
		MinNotional: decimal.NewFromInt(5),
		PriceTick:   decimal.NewFromFloat(0.01),
		QtyTick:     decimal.NewFromFloat(0.00001),
	}
}

func triangleRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for _, m := range []*domain.Market{
		mkMarket(t, "binance", "BTC", "USDC"),
		mkMarket(t, "binance", "ETH", "USDC"),
		mkMarket(t, "binance", "BTC", "ETH"),
	} {
		if err := reg.Register(m); err != nil {
			t.Fatalf("Register %s: %v", m.ID(), err)
		}
	}
	return reg
}

// Every market must contribute exactly one BUY edge quote->base and one
// SELL edge base->quote, both referencing the same descriptor.
func TestBuildEdgeBijection(t *testing.T) {
	reg := triangleRegistry(t)
	g := Build(reg)

	if got := len(g.Edges()); got != 6 {
		t.Fatalf("edge count = %d, want 6", got)
	}

	for _, m := range reg.All() {
		var buys, sells int
		for _, e := range g.Edges() {
			if e.Market != m {
				continue
			}
			switch e.Side {
			case domain.Buy:
				buys++
				if e.From != m.Quote || e.To != m.Base {
					t.Errorf("%s BUY edge %s->%s, want %s->%s", m.ID(), e.From, e.To, m.Quote, m.Base)
				}
			case domain.Sell:
				sells++
				if e.From != m.Base || e.To != m.Quote {
					t.Errorf("%s SELL edge %s->%s, want %s->%s", m.ID(), e.From, e.To, m.Base, m.Quote)
				}
			}
		}
		if buys != 1 || sells != 1 {
			t.Errorf("%s: %d BUY / %d SELL edges, want 1/1", m.ID(), buys, sells)
		}
	}
}

func TestParallelEdgesAcrossExchanges(t *testing.T) {
	reg := triangleRegistry(t)
	if err := reg.Register(mkMarket(t, "bybit", "BTC", "USDC")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	g := Build(reg)

	var usdcToBTC int
	for _, e := range g.Neighbors("USDC") {
		if e.To == "BTC" {
			usdcToBTC++
		}
	}
	if usdcToBTC != 2 {
		t.Errorf("USDC->BTC parallel edges = %d, want 2", usdcToBTC)
	}
}

func defaultCfg() CycleConfig {
	return CycleConfig{
		MinLen:             3,
		MaxLen:             3,
		StartAssets:        []domain.Asset{"USDC"},
		AllowCrossExchange: true,
	}
}

func TestEnumerateTriangles(t *testing.T) {
	g := Build(triangleRegistry(t))
	cycles, err := EnumerateCycles(g, defaultCfg())
	if err != nil {
		t.Fatalf("EnumerateCycles: %v", err)
	}

	// Two directed triangles through USDC, BTC, ETH.
	if len(cycles) != 2 {
		for _, c := range cycles {
			t.Logf("cycle: %s", c)
		}
		t.Fatalf("cycle count = %d, want 2", len(cycles))
	}

	paths := map[string]bool{}
	for _, c := range cycles {
		paths[c.String()] = true
	}
	for _, want := range []string{"USDC->BTC->ETH->USDC", "USDC->ETH->BTC->USDC"} {
		if !paths[want] {
			t.Errorf("missing cycle %s (have %v)", want, paths)
		}
	}
}

// Every enumerated cycle must be a closed walk within the length bounds,
// satisfy the configured rules, and have a unique canonical key.
func TestCycleWellFormednessAndUniqueness(t *testing.T) {
	reg := triangleRegistry(t)
	for _, m := range []*domain.Market{
		mkMarket(t, "binance", "SOL", "USDC"),
		mkMarket(t, "binance", "SOL", "ETH"),
		mkMarket(t, "bybit", "BTC", "USDC"),
		mkMarket(t, "bybit", "ETH", "USDC"),
	} {
		if err := reg.Register(m); err != nil {
			t.Fatalf("Register %s: %v", m.ID(), err)
		}
	}
	g := Build(reg)

	cfg := CycleConfig{
		MinLen:             2,
		MaxLen:             4,
		StartAssets:        []domain.Asset{"USDC", "USDT"},
		AllowCrossExchange: true,
	}
	cycles, err := EnumerateCycles(g, cfg)
	if err != nil {
		t.Fatalf("EnumerateCycles: %v", err)
	}
	if len(cycles) == 0 {
		t.Fatal("no cycles enumerated")
	}

	keys := make(map[string]bool)
	for _, c := range cycles {
		if c.Len() < cfg.MinLen || c.Len() > cfg.MaxLen {
			t.Errorf("cycle %s length %d outside [%d,%d]", c, c.Len(), cfg.MinLen, cfg.MaxLen)
		}
		for i, e := range c.Edges {
			next := c.Edges[(i+1)%len(c.Edges)]
			if e.To != next.From {
				t.Errorf("cycle %s: edge %d target %s != next source %s", c, i, e.To, next.From)
			}
		}
		// No repeated intermediate asset.
		seenAssets := map[domain.Asset]int{}
		for _, e := range c.Edges {
			seenAssets[e.From]++
		}
		for a, n := range seenAssets {
			if n > 1 {
				t.Errorf("cycle %s revisits %s", c, a)
			}
		}
		// No market used twice.
		seenMkts := map[string]int{}
		for _, e := range c.Edges {
			seenMkts[e.Market.ID()]++
		}
		for id, n := range seenMkts {
			if n > 1 {
				t.Errorf("cycle %s uses market %s twice", c, id)
			}
		}
		if keys[c.Key] {
			t.Errorf("duplicate canonical key %s", c.Key)
		}
		keys[c.Key] = true
		if c.Start() != "USDC" {
			t.Errorf("cycle %s canonical start = %s, want USDC", c, c.Start())
		}
	}
}

func TestSingleExchangePinning(t *testing.T) {
	reg := triangleRegistry(t)
	for _, m := range []*domain.Market{
		mkMarket(t, "bybit", "BTC", "USDC"),
		mkMarket(t, "bybit", "ETH", "USDC"),
		mkMarket(t, "bybit", "BTC", "ETH"),
	} {
		if err := reg.Register(m); err != nil {
			t.Fatalf("Register %s: %v", m.ID(), err)
		}
	}
	g := Build(reg)

	cfg := defaultCfg()
	cfg.AllowCrossExchange = false
	cycles, err := EnumerateCycles(g, cfg)
	if err != nil {
		t.Fatalf("EnumerateCycles: %v", err)
	}

	// Two triangles per exchange.
	if len(cycles) != 4 {
		t.Errorf("cycle count = %d, want 4", len(cycles))
	}
	for _, c := range cycles {
		pinned := c.Edges[0].Market.Exchange
		for _, e := range c.Edges {
			if e.Market.Exchange != pinned {
				t.Errorf("cycle %s mixes exchanges %s and %s", c, pinned, e.Market.Exchange)
			}
		}
	}
}

func TestTwoLegCrossExchangeCycles(t *testing.T) {
	reg := registry.New()
	for _, m := range []*domain.Market{
		mkMarket(t, "binance", "BTC", "USDC"),
		mkMarket(t, "bybit", "BTC", "USDC"),
	} {
		if err := reg.Register(m); err != nil {
			t.Fatalf("Register %s: %v", m.ID(), err)
		}
	}
	g := Build(reg)

	cfg := CycleConfig{
		MinLen:             2,
		MaxLen:             2,
		StartAssets:        []domain.Asset{"USDC"},
		AllowCrossExchange: true,
	}
	cycles, err := EnumerateCycles(g, cfg)
	if err != nil {
		t.Fatalf("EnumerateCycles: %v", err)
	}

	// Buy on one venue, sell on the other, both directions.
	if len(cycles) != 2 {
		for _, c := range cycles {
			t.Logf("cycle: %s key=%s", c, c.Key)
		}
		t.Fatalf("cycle count = %d, want 2", len(cycles))
	}
	for _, c := range cycles {
		if c.Edges[0].Market.Exchange == c.Edges[1].Market.Exchange {
			t.Errorf("cycle %s does not cross exchanges", c.Key)
		}
	}
}

func TestEnumerateRejectsInvalidConfig(t *testing.T) {
	g := Build(triangleRegistry(t))
	tests := []struct {
		name string
		cfg  CycleConfig
	}{
		{"min too small", CycleConfig{MinLen: 1, MaxLen: 3, StartAssets: []domain.Asset{"USDC"}}},
		{"max below min", CycleConfig{MinLen: 3, MaxLen: 2, StartAssets: []domain.Asset{"USDC"}}},
		{"no start assets", CycleConfig{MinLen: 2, MaxLen: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EnumerateCycles(g, tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCanonicalKeyStableAcrossRoots(t *testing.T) {
	g := Build(triangleRegistry(t))

	// Rooting at both USDC and ETH must not duplicate the shared triangle;
	// canonical rotation starts at the smallest start asset present.
	cfg := CycleConfig{
		MinLen:             3,
		MaxLen:             3,
		StartAssets:        []domain.Asset{"ETH", "USDC"},
		AllowCrossExchange: true,
	}
	cycles, err := EnumerateCycles(g, cfg)
	if err != nil {
		t.Fatalf("EnumerateCycles: %v", err)
	}
	if len(cycles) != 2 {
		t.Fatalf("cycle count = %d, want 2", len(cycles))
	}
	for _, c := range cycles {
		if c.Start() != "ETH" {
			t.Errorf("canonical start = %s, want ETH (smallest start asset)", c.Start())
		}
		if !strings.HasPrefix(c.Key, "binance:") {
			t.Errorf("unexpected key format %s", c.Key)
		}
	}
}

func BenchmarkEnumerateCycles(b *testing.B) {
	reg := registry.New()
	bases := []string{"BTC", "ETH", "SOL", "AVAX", "LINK", "DOT"}
	for _, ex := range []string{"binance", "bybit"} {
		for _, base := range bases {
			_ = reg.Register(&domain.Market{
				Exchange: ex, Symbol: base + "/USDC", Base: domain.Asset(base), Quote: "USDC",
				TakerFee: decimal.NewFromFloat(0.001), PriceTick: decimal.NewFromFloat(0.01), QtyTick: decimal.NewFromFloat(0.001),
			})
		}
		for i := 0; i < len(bases); i++ {
			for j := i + 1; j < len(bases); j++ {
				_ = reg.Register(&domain.Market{
					Exchange: ex, Symbol: bases[i] + "/" + bases[j], Base: domain.Asset(bases[i]), Quote: domain.Asset(bases[j]),
					TakerFee: decimal.NewFromFloat(0.001), PriceTick: decimal.NewFromFloat(0.01), QtyTick: decimal.NewFromFloat(0.001),
				})
			}
		}
	}
	g := Build(reg)
	cfg := CycleConfig{
		MinLen:             2,
		MaxLen:             4,
		StartAssets:        []domain.Asset{"USDC"},
		AllowCrossExchange: true,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := EnumerateCycles(g, cfg); err != nil {
			b.Fatal(err)
		}
	}
}
