package domain

// Side is the direction of a graph edge relative to its market.
type Side string

const (
	// Buy consumes the quote asset and produces the base asset by lifting asks.
	Buy Side = "BUY"
	// Sell consumes the base asset and produces the quote asset by hitting bids.
	Sell Side = "SELL"
)

// Edge is one directed edge of the market graph. Every market contributes
// exactly two edges: Buy quote->base and Sell base->quote, both referencing
// the same descriptor.
type Edge struct {
	Side   Side
	Market *Market
	From   Asset
	To     Asset
}

// ID returns the canonical edge identifier "exchange:symbol:side".
func (e Edge) ID() string {
	return e.Market.Exchange + ":" + e.Market.Symbol + ":" + string(e.Side)
}
