package binance

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

func TestAPISymbolToDomainMarket(t *testing.T) {
	raw := `{
		"symbol": "BTCUSDC",
		"status": "TRADING",
		"baseAsset": "BTC",
		"quoteAsset": "USDC",
		"filters": [
			{"filterType": "PRICE_FILTER", "tickSize": "0.01000000"},
			{"filterType": "LOT_SIZE", "stepSize": "0.00001000"},
			{"filterType": "NOTIONAL", "minNotional": "5.00000000"}
		]
	}`
	var s APISymbol
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatal(err)
	}

	m, err := s.ToDomainMarket(decimal.RequireFromString("0.001"))
	if err != nil {
		t.Fatalf("ToDomainMarket: %v", err)
	}

	if m.Symbol != "BTC/USDC" || m.Native != "BTCUSDC" || m.Exchange != "binance" {
		t.Errorf("identity = %s/%s/%s", m.Exchange, m.Symbol, m.Native)
	}
	if !m.PriceTick.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("price tick = %s", m.PriceTick)
	}
	if !m.QtyTick.Equal(decimal.RequireFromString("0.00001")) {
		t.Errorf("qty tick = %s", m.QtyTick)
	}
	if !m.MinNotional.Equal(decimal.RequireFromString("5")) {
		t.Errorf("min notional = %s", m.MinNotional)
	}
}

func TestDepthUpdateToDomainDelta(t *testing.T) {
	raw := `{
		"e": "depthUpdate",
		"E": 1700000000123,
		"s": "BTCUSDC",
		"U": 157,
		"u": 160,
		"b": [["50000.00", "0.5"], ["49999.00", "0"]],
		"a": [["50001.00", "1.2"]]
	}`
	var u DepthUpdate
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		t.Fatal(err)
	}

	delta, err := u.ToDomainDelta("BTC/USDC")
	if err != nil {
		t.Fatalf("ToDomainDelta: %v", err)
	}

	if delta.FirstSeq != 157 || delta.LastSeq != 160 {
		t.Errorf("seq bounds = %d..%d, want 157..160", delta.FirstSeq, delta.LastSeq)
	}
	if delta.Exchange != "binance" || delta.Symbol != "BTC/USDC" {
		t.Errorf("identity = %s:%s", delta.Exchange, delta.Symbol)
	}
	if len(delta.Changes) != 3 {
		t.Fatalf("changes = %d, want 3", len(delta.Changes))
	}
	if delta.Changes[1].Side != domain.BidSide || !delta.Changes[1].Qty.IsZero() {
		t.Errorf("second change = %+v, want zero-qty bid removal", delta.Changes[1])
	}
	if delta.Changes[2].Side != domain.AskSide {
		t.Errorf("third change side = %s, want ask", delta.Changes[2].Side)
	}
}

func TestStreamName(t *testing.T) {
	if got := StreamName("BTCUSDC"); got != "btcusdc@depth@100ms" {
		t.Errorf("StreamName = %q", got)
	}
}
