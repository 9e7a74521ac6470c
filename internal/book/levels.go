package book

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// normalizeLevels sorts and validates snapshot depth: bids descending, asks
// ascending, zero-quantity levels dropped, negative quantities rejected.
func normalizeLevels(bids, asks []domain.PriceLevel) ([]domain.PriceLevel, []domain.PriceLevel, error) {
	b, err := cleanSide(bids)
	if err != nil {
		return nil, nil, fmt.Errorf("book: bids: %w", err)
	}
	a, err := cleanSide(asks)
	if err != nil {
		return nil, nil, fmt.Errorf("book: asks: %w", err)
	}
	sort.Slice(b, func(i, j int) bool { return b[i].Price.GreaterThan(b[j].Price) })
	sort.Slice(a, func(i, j int) bool { return a[i].Price.LessThan(a[j].Price) })
	return b, a, nil
}

func cleanSide(levels []domain.PriceLevel) ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, l := range levels {
		if l.Qty.IsNegative() {
			return nil, fmt.Errorf("negative quantity %s at price %s", l.Qty, l.Price)
		}
		if l.Qty.IsZero() || !l.Price.IsPositive() {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// applyChanges produces new bid/ask slices with the delta's per-level
// upserts applied. The input slices are never mutated; the caller publishes
// the returned slices atomically. Qty zero removes the level.
func applyChanges(bids, asks []domain.PriceLevel, changes []domain.LevelChange) ([]domain.PriceLevel, []domain.PriceLevel, error) {
	newBids := bids
	newAsks := asks
	bidsCopied := false
	asksCopied := false

	for _, ch := range changes {
		if ch.Qty.IsNegative() {
			return nil, nil, fmt.Errorf("book: negative quantity %s at price %s", ch.Qty, ch.Price)
		}
		switch ch.Side {
		case domain.BidSide:
			if !bidsCopied {
				newBids = copyLevels(newBids)
				bidsCopied = true
			}
			newBids = upsert(newBids, ch.Price, ch.Qty, true)
		case domain.AskSide:
			if !asksCopied {
				newAsks = copyLevels(newAsks)
				asksCopied = true
			}
			newAsks = upsert(newAsks, ch.Price, ch.Qty, false)
		default:
			return nil, nil, fmt.Errorf("book: unknown side %q", ch.Side)
		}
	}
	return newBids, newAsks, nil
}

func copyLevels(levels []domain.PriceLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, len(levels))
	copy(out, levels)
	return out
}

// upsert inserts, replaces, or removes the level at price, keeping the slice
// sorted (descending for bids, ascending for asks).
func upsert(levels []domain.PriceLevel, price, qty decimal.Decimal, descending bool) []domain.PriceLevel {
	idx := sort.Search(len(levels), func(i int) bool {
		if descending {
			return levels[i].Price.LessThanOrEqual(price)
		}
		return levels[i].Price.GreaterThanOrEqual(price)
	})

	found := idx < len(levels) && levels[idx].Price.Equal(price)

	switch {
	case qty.IsZero():
		if found {
			levels = append(levels[:idx], levels[idx+1:]...)
		}
	case found:
		levels[idx].Qty = qty
	default:
		levels = append(levels, domain.PriceLevel{})
		copy(levels[idx+1:], levels[idx:])
		levels[idx] = domain.PriceLevel{Price: price, Qty: qty}
	}
	return levels
}

// crossed reports whether best bid >= best ask. Sides must be sorted.
func crossed(bids, asks []domain.PriceLevel) bool {
	if len(bids) == 0 || len(asks) == 0 {
		return false
	}
	return bids[0].Price.GreaterThanOrEqual(asks[0].Price)
}
