package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookSide identifies one side of an order book.
type BookSide string

const (
	BidSide BookSide = "bid"
	AskSide BookSide = "ask"
)

// PriceLevel is a single (price, quantity) entry of depth.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Qty   decimal.Decimal `json:"qty"`
}

// Notional returns price * qty.
func (l PriceLevel) Notional() decimal.Decimal {
	return l.Price.Mul(l.Qty)
}

// BookSnapshot is a consistent point-in-time view of one market's depth.
// Bids are sorted descending by price, asks ascending. Snapshots published
// by the book cache are immutable; readers must not modify the level slices.
type BookSnapshot struct {
	Exchange  string       `json:"exchange"`
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Sequence  uint64       `json:"sequence"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// BestBid returns the highest bid, if any.
func (s *BookSnapshot) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the lowest ask, if any.
func (s *BookSnapshot) BestAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// Crossed reports whether the top of book is crossed (best bid >= best ask).
// A book with an empty side is not crossed.
func (s *BookSnapshot) Crossed() bool {
	bid, okB := s.BestBid()
	ask, okA := s.BestAsk()
	if !okB || !okA {
		return false
	}
	return bid.Price.GreaterThanOrEqual(ask.Price)
}

// MidPrice returns (best_bid+best_ask)/2, or zero when either side is empty.
func (s *BookSnapshot) MidPrice() decimal.Decimal {
	bid, okB := s.BestBid()
	ask, okA := s.BestAsk()
	if !okB || !okA {
		return decimal.Zero
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2))
}

// LevelChange is one per-level upsert inside a delta. Qty zero removes the
// level at Price.
type LevelChange struct {
	Side  BookSide
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// BookDelta is an incremental order-book update. FirstSeq and LastSeq bound
// the update ids covered by this message; feeds that assign a single id per
// message set both to the same value. A delta applies cleanly when its span
// overlaps or directly extends the current sequence (FirstSeq <= current+1
// and LastSeq > current). A FirstSeq beyond current+1 indicates a gap; a
// LastSeq at or before current a replay.
type BookDelta struct {
	Exchange string
	Symbol   string
	FirstSeq uint64
	LastSeq  uint64
	Ts       time.Time
	Changes  []LevelChange
}

// BookSource serves consistent order-book snapshots to evaluators. Read
// returns ErrNotFound when no snapshot exists, ErrStale when the entry is
// marked stale, and ErrQuarantined when the symbol has been quarantined.
// FlagCrossed reports a crossed book observed by a reader in a snapshot
// served as fresh.
type BookSource interface {
	Read(exchange, symbol string) (*BookSnapshot, error)
	FlagCrossed(exchange, symbol string)
}
