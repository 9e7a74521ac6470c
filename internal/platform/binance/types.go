package binance

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// APISymbol is one entry of the /api/v3/exchangeInfo response.
type APISymbol struct {
	Symbol     string      `json:"symbol"`
	Status     string      `json:"status"`
	BaseAsset  string      `json:"baseAsset"`
	QuoteAsset string      `json:"quoteAsset"`
	Filters    []apiFilter `json:"filters"`
}

// apiFilter is the union of the exchange filter fields we consume.
type apiFilter struct {
	FilterType  string `json:"filterType"`
	TickSize    string `json:"tickSize"`
	StepSize    string `json:"stepSize"`
	MinNotional string `json:"minNotional"`
}

type exchangeInfoResponse struct {
	Symbols []APISymbol `json:"symbols"`
}

// depthResponse is the /api/v3/depth response. Levels are ["price","qty"]
// string pairs.
type depthResponse struct {
	LastUpdateID uint64     `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// DepthUpdate is a diff-depth stream event. FirstUpdateID..FinalUpdateID
// bound the update ids covered; qty "0" removes the level.
type DepthUpdate struct {
	Event         string     `json:"e"`
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateID uint64     `json:"U"`
	FinalUpdateID uint64     `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

// wsCommand is the stream subscription envelope.
type wsCommand struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// ToDomainMarket converts an exchangeInfo symbol into a market descriptor.
// The taker fee comes from configuration; exchangeInfo does not carry fees.
func (s *APISymbol) ToDomainMarket(takerFee decimal.Decimal) (*domain.Market, error) {
	m := &domain.Market{
		Exchange: "binance",
		Symbol:   s.BaseAsset + "/" + s.QuoteAsset,
		Native:   s.Symbol,
		Base:     domain.NewAsset(s.BaseAsset),
		Quote:    domain.NewAsset(s.QuoteAsset),
		TakerFee: takerFee,
	}

	for _, f := range s.Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			v, err := decimal.NewFromString(f.TickSize)
			if err != nil {
				return nil, fmt.Errorf("binance: %s: bad tickSize %q: %w", s.Symbol, f.TickSize, err)
			}
			m.PriceTick = v
		case "LOT_SIZE":
			v, err := decimal.NewFromString(f.StepSize)
			if err != nil {
				return nil, fmt.Errorf("binance: %s: bad stepSize %q: %w", s.Symbol, f.StepSize, err)
			}
			m.QtyTick = v
		case "NOTIONAL", "MIN_NOTIONAL":
			v, err := decimal.NewFromString(f.MinNotional)
			if err != nil {
				return nil, fmt.Errorf("binance: %s: bad minNotional %q: %w", s.Symbol, f.MinNotional, err)
			}
			m.MinNotional = v
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ToDomainDelta converts a diff-depth event into a book delta keyed by the
// canonical symbol.
func (u *DepthUpdate) ToDomainDelta(canonicalSymbol string) (*domain.BookDelta, error) {
	changes := make([]domain.LevelChange, 0, len(u.Bids)+len(u.Asks))

	for _, raw := range u.Bids {
		c, err := parseLevelChange(domain.BidSide, raw)
		if err != nil {
			return nil, fmt.Errorf("binance: %s: %w", u.Symbol, err)
		}
		changes = append(changes, c)
	}
	for _, raw := range u.Asks {
		c, err := parseLevelChange(domain.AskSide, raw)
		if err != nil {
			return nil, fmt.Errorf("binance: %s: %w", u.Symbol, err)
		}
		changes = append(changes, c)
	}

	return &domain.BookDelta{
		Exchange: "binance",
		Symbol:   canonicalSymbol,
		FirstSeq: u.FirstUpdateID,
		LastSeq:  u.FinalUpdateID,
		Ts:       time.UnixMilli(u.EventTime),
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

// StreamName returns the diff-depth stream name for a native symbol.
func StreamName(native string) string {
	return strings.ToLower(native) + "@depth@100ms"
}
