package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Market describes one spot trading pair on one exchange. Descriptors are
// immutable once registered; fees and minimums are authoritative values
// taken from exchange metadata.
type Market struct {
	Exchange string // exchange identifier, lower-case (e.g. "binance")
	Symbol   string // canonical pair symbol "BASE/QUOTE" (e.g. "BTC/USDC")
	Native   string // exchange-native symbol (e.g. "BTCUSDC")

	Base  Asset
	Quote Asset

	// TakerFee is the fraction of the received asset charged when an order
	// crosses the book. Must lie in [0, 1).
	TakerFee decimal.Decimal

	// MinNotional is the minimum traded notional per order, in quote units.
	MinNotional decimal.Decimal

	// PriceTick and QtyTick are the price and quantity increments. Executable
	// quantities are floored to QtyTick.
	PriceTick decimal.Decimal
	QtyTick   decimal.Decimal
}

// ID returns the unique market key "exchange:symbol".
func (m *Market) ID() string {
	return m.Exchange + ":" + m.Symbol
}

// Validate checks the descriptor invariants: distinct base and quote,
// fee in [0, 1), positive ticks, non-negative minimum notional.
func (m *Market) Validate() error {
	switch {
	case m.Exchange == "":
		return fmt.Errorf("%w: empty exchange", ErrInvalidMarket)
	case m.Symbol == "":
		return fmt.Errorf("%w: empty symbol", ErrInvalidMarket)
	case m.Base == "" || m.Quote == "":
		return fmt.Errorf("%w: %s: empty base or quote asset", ErrInvalidMarket, m.Symbol)
	case m.Base == m.Quote:
		return fmt.Errorf("%w: %s: base equals quote", ErrInvalidMarket, m.Symbol)
	case m.TakerFee.IsNegative() || m.TakerFee.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return fmt.Errorf("%w: %s: taker fee %s outside [0,1)", ErrInvalidMarket, m.Symbol, m.TakerFee)
	case !m.PriceTick.IsPositive():
		return fmt.Errorf("%w: %s: price tick must be > 0", ErrInvalidMarket, m.Symbol)
	case !m.QtyTick.IsPositive():
		return fmt.Errorf("%w: %s: qty tick must be > 0", ErrInvalidMarket, m.Symbol)
	case m.MinNotional.IsNegative():
		return fmt.Errorf("%w: %s: min notional must be >= 0", ErrInvalidMarket, m.Symbol)
	}
	return nil
}
