package eval

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

type fakeBooks struct {
	snaps   map[string]*domain.BookSnapshot
	flagged map[string]bool
}

func newFakeBooks() *fakeBooks {
	return &fakeBooks{snaps: make(map[string]*domain.BookSnapshot), flagged: make(map[string]bool)}
}

func (f *fakeBooks) set(exchange, symbol string, bids, asks []domain.PriceLevel, age time.Duration) {
	f.snaps[exchange+":"+symbol] = &domain.BookSnapshot{
		Exchange:  exchange,
		Symbol:    symbol,
		Bids:      bids,
		Asks:      asks,
		Sequence:  1,
		UpdatedAt: time.Now().Add(-age),
	}
}

func (f *fakeBooks) Read(exchange, symbol string) (*domain.BookSnapshot, error) {
	s, ok := f.snaps[exchange+":"+symbol]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s, nil
}

func (f *fakeBooks) FlagCrossed(exchange, symbol string) {
	f.flagged[exchange+":"+symbol] = true
}

type fakeSigma map[string]float64

func (f fakeSigma) Sigma(symbol string) float64 { return f[symbol] }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func lvl(price, qty string) domain.PriceLevel {
	return domain.PriceLevel{Price: dec(price), Qty: dec(qty)}
}

func market(exchange, base, quote, fee string) *domain.Market {
	return &domain.Market{
		Exchange:    exchange,
		Symbol:      base + "/" + quote,
		Base:        domain.Asset(base),
		Quote:       domain.Asset(quote),
		TakerFee:    dec(fee),
		MinNotional: dec("5"),
		PriceTick:   dec("0.01"),
		QtyTick:     dec("0.00000001"),
	}
}

// triangle builds the USDC->BTC->ETH->USDC cycle over one exchange:
// buy BTC/USDC, sell BTC/ETH, sell ETH/USDC.
func triangle(fee string) domain.Cycle {
	btcUSDC := market("binance", "BTC", "USDC", fee)
	ethUSDC := market("binance", "ETH", "USDC", fee)
	btcETH := market("binance", "BTC", "ETH", fee)
	btcETH.MinNotional = dec("0.01") // quoted in ETH
	edges := []domain.Edge{
		{Side: domain.Buy, Market: btcUSDC, From: "USDC", To: "BTC"},
		{Side: domain.Sell, Market: btcETH, From: "BTC", To: "ETH"},
		{Side: domain.Sell, Market: ethUSDC, From: "ETH", To: "USDC"},
	}
	return domain.Cycle{Edges: edges, Key: domain.CanonicalKey(edges)}
}

func riskCfg() RiskConfig {
	return RiskConfig{
		MinProfitMargin:     dec("0.001"),
		VolRiskMultiplier:   dec("0"),
		SlippageCoefficient: dec("0"),
		StalenessBound:      time.Second,
		MinLegFillRatio:     dec("0.5"),
		AllowPartialFills:   true,
	}
}

func TestFlatBookRejectedBelowThreshold(t *testing.T) {
	books := newFakeBooks()
	books.set("binance", "BTC/USDC", []domain.PriceLevel{lvl("49990", "1")}, []domain.PriceLevel{lvl("50000", "1")}, 0)
	books.set("binance", "ETH/USDC", []domain.PriceLevel{lvl("2999", "10")}, []domain.PriceLevel{lvl("3000", "10")}, 0)
	books.set("binance", "BTC/ETH", []domain.PriceLevel{lvl("16.66", "1")}, []domain.PriceLevel{lvl("16.67", "1")}, 0)

	ev := New(books, fakeSigma{}, riskCfg())
	rec, err := ev.Evaluate(triangle("0.001"), dec("1000"))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if rec.Qualified() {
		t.Error("flat book must not qualify")
	}
	if rec.Reason != domain.RejectThreshold {
		t.Errorf("reason = %s, want %s", rec.Reason, domain.RejectThreshold)
	}
	if rec.RiskAdjReturn.Sub(dec("1")).GreaterThanOrEqual(dec("0.001")) {
		t.Errorf("risk adjusted return %s unexpectedly above margin", rec.RiskAdjReturn)
	}
}

func TestTriangularProfit(t *testing.T) {
	setBooks := func(btcEthBid string) *fakeBooks {
		books := newFakeBooks()
		books.set("binance", "BTC/USDC", []domain.PriceLevel{lvl("49990", "1")}, []domain.PriceLevel{lvl("50000", "1")}, 0)
		books.set("binance", "ETH/USDC", []domain.PriceLevel{lvl("3000", "10")}, []domain.PriceLevel{lvl("3001", "10")}, 0)
		books.set("binance", "BTC/ETH", []domain.PriceLevel{lvl(btcEthBid, "1")}, []domain.PriceLevel{lvl("17.2", "1")}, 0)
		return books
	}
	cycle := triangle("0")

	t.Run("gross below one rejected", func(t *testing.T) {
		ev := New(setBooks("16.5"), fakeSigma{}, riskCfg())
		rec, err := ev.Evaluate(cycle, dec("1000"))
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if !rec.GrossReturn.Equal(dec("0.99")) {
			t.Errorf("gross return = %s, want 0.99", rec.GrossReturn)
		}
		if rec.Reason != domain.RejectThreshold {
			t.Errorf("reason = %s, want %s", rec.Reason, domain.RejectThreshold)
		}
	})

	t.Run("dislocated bid qualifies", func(t *testing.T) {
		ev := New(setBooks("17.0"), fakeSigma{}, riskCfg())
		rec, err := ev.Evaluate(cycle, dec("1000"))
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if !rec.GrossReturn.Equal(dec("1.02")) {
			t.Errorf("gross return = %s, want 1.02", rec.GrossReturn)
		}
		if !rec.OutputQty.Equal(dec("1020")) {
			t.Errorf("output = %s, want 1020", rec.OutputQty)
		}
		if !rec.Qualified() {
			t.Errorf("expected qualified, got reason %s", rec.Reason)
		}
	})
}

func TestDepthLimitedWalkUsesVWAP(t *testing.T) {
	books := newFakeBooks()
	books.set("binance", "BTC/USDC",
		[]domain.PriceLevel{lvl("49000", "1")},
		[]domain.PriceLevel{lvl("50000", "0.01"), lvl("50100", "1")}, 0)

	m := market("binance", "BTC", "USDC", "0")
	edges := []domain.Edge{{Side: domain.Buy, Market: m, From: "USDC", To: "BTC"}}
	cycle := domain.Cycle{Edges: edges, Key: domain.CanonicalKey(edges)}

	ev := New(books, fakeSigma{}, riskCfg())
	rec, err := ev.Evaluate(cycle, dec("1000"))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	// 500 USDC fills the top level for 0.01 BTC; the remaining 500 buys
	// floor(500/50100) at the second level. Both levels together fill the
	// input completely.
	if !rec.WorstLegFill.Equal(dec("1")) {
		t.Errorf("worst leg fill = %s, want 1", rec.WorstLegFill)
	}
	wantQty := dec("0.01").Add(dec("500").Div(dec("50100")).Div(dec("0.00000001")).Floor().Mul(dec("0.00000001")))
	if !rec.Legs[0].Out.Equal(wantQty) {
		t.Errorf("leg out = %s, want %s", rec.Legs[0].Out, wantQty)
	}

	vwap := rec.Legs[0].VWAP
	if !vwap.GreaterThan(dec("50000")) || !vwap.LessThan(dec("50100")) {
		t.Errorf("VWAP = %s, want strictly between the two levels", vwap)
	}
	wantVWAP := dec("1000").Div(wantQty)
	if !vwap.Sub(wantVWAP).Abs().LessThan(dec("0.000001")) {
		t.Errorf("VWAP = %s, want %s", vwap, wantVWAP)
	}
}

func TestStaleSnapshotRejected(t *testing.T) {
	books := newFakeBooks()
	books.set("binance", "BTC/USDC", []domain.PriceLevel{lvl("49990", "1")}, []domain.PriceLevel{lvl("50000", "1")}, 5*time.Second)
	books.set("binance", "ETH/USDC", []domain.PriceLevel{lvl("2999", "10")}, []domain.PriceLevel{lvl("3000", "10")}, 0)
	books.set("binance", "BTC/ETH", []domain.PriceLevel{lvl("16.66", "1")}, []domain.PriceLevel{lvl("16.67", "1")}, 0)

	ev := New(books, fakeSigma{}, riskCfg())
	rec, err := ev.Evaluate(triangle("0.001"), dec("1000"))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if rec.Reason != domain.RejectStaleness {
		t.Errorf("reason = %s, want %s", rec.Reason, domain.RejectStaleness)
	}
}

func TestMissingSnapshotRejected(t *testing.T) {
	books := newFakeBooks()
	ev := New(books, fakeSigma{}, riskCfg())
	rec, err := ev.Evaluate(triangle("0"), dec("1000"))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if rec.Reason != domain.RejectStaleness {
		t.Errorf("reason = %s, want %s", rec.Reason, domain.RejectStaleness)
	}
}

func TestCrossedSnapshotFlaggedAndRejected(t *testing.T) {
	books := newFakeBooks()
	books.set("binance", "BTC/USDC", []domain.PriceLevel{lvl("50100", "1")}, []domain.PriceLevel{lvl("50000", "1")}, 0)

	m := market("binance", "BTC", "USDC", "0")
	edges := []domain.Edge{{Side: domain.Buy, Market: m, From: "USDC", To: "BTC"}}
	cycle := domain.Cycle{Edges: edges, Key: domain.CanonicalKey(edges)}

	ev := New(books, fakeSigma{}, riskCfg())
	rec, err := ev.Evaluate(cycle, dec("1000"))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if rec.Reason != domain.RejectStaleness {
		t.Errorf("reason = %s, want %s", rec.Reason, domain.RejectStaleness)
	}
	if !books.flagged["binance:BTC/USDC"] {
		t.Error("crossed book was not flagged back to the source")
	}
}

func TestMinNotionalRejection(t *testing.T) {
	books := newFakeBooks()
	books.set("binance", "BTC/USDC", []domain.PriceLevel{lvl("49990", "1")}, []domain.PriceLevel{lvl("50000", "1")}, 0)

	m := market("binance", "BTC", "USDC", "0")
	edges := []domain.Edge{{Side: domain.Buy, Market: m, From: "USDC", To: "BTC"}}
	cycle := domain.Cycle{Edges: edges, Key: domain.CanonicalKey(edges)}

	ev := New(books, fakeSigma{}, riskCfg())
	rec, err := ev.Evaluate(cycle, dec("2")) // below the 5 quote minimum
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if rec.Reason != domain.RejectNotional {
		t.Errorf("reason = %s, want %s", rec.Reason, domain.RejectNotional)
	}
	if rec.LimitedBy != domain.LimitMinNotional {
		t.Errorf("limited by = %s, want %s", rec.LimitedBy, domain.LimitMinNotional)
	}
}

func TestLowFillRatioRejection(t *testing.T) {
	books := newFakeBooks()
	// Only 100 USDC of depth against a 1000 USDC input.
	books.set("binance", "BTC/USDC", []domain.PriceLevel{lvl("49990", "1")}, []domain.PriceLevel{lvl("50000", "0.002")}, 0)

	m := market("binance", "BTC", "USDC", "0")
	edges := []domain.Edge{{Side: domain.Buy, Market: m, From: "USDC", To: "BTC"}}
	cycle := domain.Cycle{Edges: edges, Key: domain.CanonicalKey(edges)}

	ev := New(books, fakeSigma{}, riskCfg())
	rec, err := ev.Evaluate(cycle, dec("1000"))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if rec.Reason != domain.RejectFill {
		t.Errorf("reason = %s, want %s", rec.Reason, domain.RejectFill)
	}
	if !rec.WorstLegFill.Equal(dec("0.1")) {
		t.Errorf("worst leg fill = %s, want 0.1", rec.WorstLegFill)
	}
	if rec.LimitedBy != domain.LimitDepth {
		t.Errorf("limited by = %s, want %s", rec.LimitedBy, domain.LimitDepth)
	}
}

// Raising the taker fee or any involved sigma must never raise the
// risk-adjusted return.
func TestRiskAdjustedReturnMonotonicity(t *testing.T) {
	books := newFakeBooks()
	books.set("binance", "BTC/USDC", []domain.PriceLevel{lvl("49990", "1")}, []domain.PriceLevel{lvl("50000", "1")}, 0)
	books.set("binance", "ETH/USDC", []domain.PriceLevel{lvl("3000", "10")}, []domain.PriceLevel{lvl("3001", "10")}, 0)
	books.set("binance", "BTC/ETH", []domain.PriceLevel{lvl("17.0", "1")}, []domain.PriceLevel{lvl("17.2", "1")}, 0)

	t.Run("fee", func(t *testing.T) {
		prev := dec("2") // above any attainable return
		for _, fee := range []string{"0", "0.0005", "0.001", "0.005", "0.01"} {
			ev := New(books, fakeSigma{}, riskCfg())
			rec, err := ev.Evaluate(triangle(fee), dec("1000"))
			if err != nil {
				t.Fatalf("Evaluate fee=%s: %v", fee, err)
			}
			if rec.RiskAdjReturn.GreaterThan(prev) {
				t.Errorf("fee %s raised risk adjusted return to %s (prev %s)", fee, rec.RiskAdjReturn, prev)
			}
			prev = rec.RiskAdjReturn
		}
	})

	t.Run("sigma", func(t *testing.T) {
		cfg := riskCfg()
		cfg.VolRiskMultiplier = dec("0.5")
		prev := dec("2")
		for _, sigma := range []float64{0, 0.001, 0.01, 0.05} {
			ev := New(books, fakeSigma{"BTC/ETH": sigma}, cfg)
			rec, err := ev.Evaluate(triangle("0"), dec("1000"))
			if err != nil {
				t.Fatalf("Evaluate sigma=%v: %v", sigma, err)
			}
			if rec.RiskAdjReturn.GreaterThan(prev) {
				t.Errorf("sigma %v raised risk adjusted return to %s (prev %s)", sigma, rec.RiskAdjReturn, prev)
			}
			prev = rec.RiskAdjReturn
		}
	})
}

// Simulated output can never exceed the liquidity available at the walked
// levels.
func TestDepthBounding(t *testing.T) {
	books := newFakeBooks()
	asks := []domain.PriceLevel{lvl("50000", "0.01"), lvl("50100", "0.02"), lvl("50200", "0.05")}
	books.set("binance", "BTC/USDC", []domain.PriceLevel{lvl("49990", "1")}, asks, 0)

	m := market("binance", "BTC", "USDC", "0")
	edges := []domain.Edge{{Side: domain.Buy, Market: m, From: "USDC", To: "BTC"}}
	cycle := domain.Cycle{Edges: edges, Key: domain.CanonicalKey(edges)}

	available := dec("0.08")
	for _, notional := range []string{"100", "1000", "4000", "100000"} {
		ev := New(books, fakeSigma{}, riskCfg())
		rec, err := ev.Evaluate(cycle, dec(notional))
		if err != nil {
			t.Fatalf("Evaluate %s: %v", notional, err)
		}
		if len(rec.Legs) == 0 {
			continue // rejected before recording the leg
		}
		if rec.Legs[0].Out.GreaterThan(available) {
			t.Errorf("notional %s: output %s exceeds available depth %s", notional, rec.Legs[0].Out, available)
		}
	}
}

// With zero fees and penalties and top-of-book execution, all three return
// figures coincide.
func TestFeeIdentityAtTopOfBook(t *testing.T) {
	books := newFakeBooks()
	books.set("binance", "BTC/USDC", []domain.PriceLevel{lvl("49990", "5")}, []domain.PriceLevel{lvl("50000", "5")}, 0)
	books.set("binance", "ETH/USDC", []domain.PriceLevel{lvl("3000", "100")}, []domain.PriceLevel{lvl("3001", "100")}, 0)
	books.set("binance", "BTC/ETH", []domain.PriceLevel{lvl("17.0", "5")}, []domain.PriceLevel{lvl("17.2", "5")}, 0)

	cfg := riskCfg()
	cfg.VolRiskMultiplier = dec("0")
	cfg.SlippageCoefficient = dec("0")

	ev := New(books, fakeSigma{}, cfg)
	rec, err := ev.Evaluate(triangle("0"), dec("1000"))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if !rec.GrossReturn.Equal(rec.FeeAdjReturn) {
		t.Errorf("gross %s != fee adjusted %s", rec.GrossReturn, rec.FeeAdjReturn)
	}
	if !rec.FeeAdjReturn.Equal(rec.RiskAdjReturn) {
		t.Errorf("fee adjusted %s != risk adjusted %s", rec.FeeAdjReturn, rec.RiskAdjReturn)
	}
}

func TestEmptyCycleIsAnError(t *testing.T) {
	ev := New(newFakeBooks(), fakeSigma{}, riskCfg())
	if _, err := ev.Evaluate(domain.Cycle{}, dec("1000")); err == nil {
		t.Error("expected error for empty cycle")
	}
}
