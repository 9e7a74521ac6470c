package bybit

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// APIInstrument is one entry of the instruments-info result list.
type APIInstrument struct {
	Symbol        string `json:"symbol"`
	BaseCoin      string `json:"baseCoin"`
	QuoteCoin     string `json:"quoteCoin"`
	Status        string `json:"status"`
	LotSizeFilter struct {
		BasePrecision string `json:"basePrecision"`
		MinOrderQty   string `json:"minOrderQty"`
		MinOrderAmt   string `json:"minOrderAmt"`
	} `json:"lotSizeFilter"`
	PriceFilter struct {
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
}

type instrumentsResult struct {
	Category string          `json:"category"`
	List     []APIInstrument `json:"list"`
}

// orderbookResult is the /v5/market/orderbook result payload.
type orderbookResult struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
	Ts     int64      `json:"ts"`
	Update uint64     `json:"u"`
}

// OrderbookMessage is a public orderbook stream event. Type is "snapshot"
// or "delta"; UpdateID 1 marks a service-restart snapshot.
type OrderbookMessage struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	Ts    int64  `json:"ts"`
	Data  struct {
		Symbol   string     `json:"s"`
		Bids     [][]string `json:"b"`
		Asks     [][]string `json:"a"`
		UpdateID uint64     `json:"u"`
		Seq      uint64     `json:"seq"`
	} `json:"data"`
}

// wsCommand is the stream subscription envelope.
type wsCommand struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

// ToDomainMarket converts an instrument into a market descriptor. The taker
// fee comes from configuration.
func (s *APIInstrument) ToDomainMarket(takerFee decimal.Decimal) (*domain.Market, error) {
	priceTick, err := decimal.NewFromString(s.PriceFilter.TickSize)
	if err != nil {
		return nil, fmt.Errorf("bybit: %s: bad tickSize %q: %w", s.Symbol, s.PriceFilter.TickSize, err)
	}
	qtyTick, err := decimal.NewFromString(s.LotSizeFilter.BasePrecision)
	if err != nil {
		return nil, fmt.Errorf("bybit: %s: bad basePrecision %q: %w", s.Symbol, s.LotSizeFilter.BasePrecision, err)
	}
	minNotional := decimal.Zero
	if s.LotSizeFilter.MinOrderAmt != "" {
		minNotional, err = decimal.NewFromString(s.LotSizeFilter.MinOrderAmt)
		if err != nil {
			return nil, fmt.Errorf("bybit: %s: bad minOrderAmt %q: %w", s.Symbol, s.LotSizeFilter.MinOrderAmt, err)
		}
	}

	m := &domain.Market{
		Exchange:    "bybit",
		Symbol:      s.BaseCoin + "/" + s.QuoteCoin,
		Native:      s.Symbol,
		Base:        domain.NewAsset(s.BaseCoin),
		Quote:       domain.NewAsset(s.QuoteCoin),
		TakerFee:    takerFee,
		MinNotional: minNotional,
		PriceTick:   priceTick,
		QtyTick:     qtyTick,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ToDomainSnapshot converts a stream snapshot message into a book snapshot
// keyed by the canonical symbol.
func (msg *OrderbookMessage) ToDomainSnapshot(canonicalSymbol string) (*domain.BookSnapshot, error) {
	bids, err := parseLevels(msg.Data.Bids)
	if err != nil {
		return nil, fmt.Errorf("bybit: %s bids: %w", msg.Data.Symbol, err)
	}
	asks, err := parseLevels(msg.Data.Asks)
	if err != nil {
		return nil, fmt.Errorf("bybit: %s asks: %w", msg.Data.Symbol, err)
	}
	return &domain.BookSnapshot{
		Exchange:  "bybit",
		Symbol:    canonicalSymbol,
		Bids:      bids,
		Asks:      asks,
		Sequence:  msg.Data.UpdateID,
		UpdatedAt: time.UnixMilli(msg.Ts),
	}, nil
}

// ToDomainDelta converts a stream delta message into a book delta. Update
// ids increment by one per delta, so both bounds carry the same value.
func (msg *OrderbookMessage) ToDomainDelta(canonicalSymbol string) (*domain.BookDelta, error) {
	changes := make([]domain.LevelChange, 0, len(msg.Data.Bids)+len(msg.Data.Asks))

	for _, raw := range msg.Data.Bids {
		c, err := parseLevelChange(domain.BidSide, raw)
		if err != nil {
			return nil, fmt.Errorf("bybit: %s: %w", msg.Data.Symbol, err)
		}
		changes = append(changes, c)
	}
	for _, raw := range msg.Data.Asks {
		c, err := parseLevelChange(domain.AskSide, raw)
		if err != nil {
			return nil, fmt.Errorf("bybit: %s: %w", msg.Data.Symbol, err)
		}
		changes = append(changes, c)
	}

	return &domain.BookDelta{
		Exchange: "bybit",
		Symbol:   canonicalSymbol,
		FirstSeq: msg.Data.UpdateID,
		LastSeq:  msg.Data.UpdateID,
		Ts:       time.UnixMilli(msg.Ts),
		Changes:  changes,
	}, nil
}

func parseLevelChange(side domain.BookSide, raw []string) (domain.LevelChange, error) {
	if len(raw) < 2 {
		return domain.LevelChange{}, fmt.Errorf("level entry has %d fields", len(raw))
	}
	price, err := decimal.NewFromString(raw[0])
	if err != nil {
		return domain.LevelChange{}, fmt.Errorf("bad price %q: %w", raw[0], err)
	}
	qty, err := decimal.NewFromString(raw[1])
	if err != nil {
		return domain.LevelChange{}, fmt.Errorf("bad qty %q: %w", raw[1], err)
	}
	return domain.LevelChange{Side: side, Price: price, Qty: qty}, nil
}

func parseLevels(raw [][]string) ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, 0, len(raw))
	for _, entry := range raw {
		if len(entry) < 2 {
			return nil, fmt.Errorf("level entry has %d fields", len(entry))
		}
		price, err := decimal.NewFromString(entry[0])
		if err != nil {
			return nil, fmt.Errorf("bad price %q: %w", entry[0], err)
		}
		qty, err := decimal.NewFromString(entry[1])
		if err != nil {
			return nil, fmt.Errorf("bad qty %q: %w", entry[1], err)
		}
		out = append(out, domain.PriceLevel{Price: price, Qty: qty})
	}
	return out, nil
}

// TopicName returns the orderbook stream topic for a native symbol at the
// given depth.
func TopicName(native string, depth int) string {
	return fmt.Sprintf("orderbook.%d.%s", depth, native)
}
