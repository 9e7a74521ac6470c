// Package eval simulates cycle execution against live order-book depth and
// scores the result with fee, slippage, and volatility adjustments.
package eval

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbscan/internal/domain"
	"github.com/alanyoungcy/arbscan/internal/metrics"
)

var one = decimal.NewFromInt(1)

// RiskConfig carries the thresholds and penalty coefficients applied to
// every evaluation.
type RiskConfig struct {
	MinProfitMargin     decimal.Decimal
	VolRiskMultiplier   decimal.Decimal
	SlippageCoefficient decimal.Decimal
	StalenessBound      time.Duration
	MinLegFillRatio     decimal.Decimal

	// AllowPartialFills keeps depth-limited legs alive with their partial
	// output as long as the fill ratio clears MinLegFillRatio. When false
	// any depth-limited leg rejects the cycle.
	AllowPartialFills bool
}

// Evaluator walks each leg of a cycle through the relevant book side,
// charging the taker fee per leg, and applies the risk adjustments. It is
// stateless apart from its collaborators and safe for concurrent use.
type Evaluator struct {
	books  domain.BookSource
	sigmas domain.SigmaSource
	cfg    RiskConfig
}

// New creates an evaluator over the given book and volatility sources.
func New(books domain.BookSource, sigmas domain.SigmaSource, cfg RiskConfig) *Evaluator {
	return &Evaluator{books: books, sigmas: sigmas, cfg: cfg}
}

// legWalk is the raw outcome of walking one book side.
type legWalk struct {
	out           decimal.Decimal // received amount before fee
	consumed      decimal.Decimal // input amount consumed
	quoteNotional decimal.Decimal // traded notional in quote units
	topNotional   decimal.Decimal // best-level notional at walk time
	exhausted     bool
}

// Evaluate simulates the cycle for the given input quantity in the cycle's
// start asset. Rejections are expressed through the record's Reason field;
// the error path is reserved for programming mistakes such as an empty cycle.
func (ev *Evaluator) Evaluate(cycle domain.Cycle, inputQty decimal.Decimal) (domain.Evaluation, error) {
	if len(cycle.Edges) == 0 {
		return domain.Evaluation{}, errors.New("eval: empty cycle")
	}

	rec := domain.Evaluation{
		Cycle:        cycle,
		InputAsset:   cycle.Start(),
		InputQty:     inputQty,
		WorstLegFill: one,
		LimitedBy:    domain.LimitNone,
		Legs:         make([]domain.LegResult, 0, len(cycle.Edges)),
		EvaluatedAt:  time.Now(),
	}

	amount := inputQty
	depthScore := decimal.Zero
	maxSigma := 0.0
	feeProduct := one

	for _, edge := range cycle.Edges {
		m := edge.Market
		snap, err := ev.books.Read(m.Exchange, m.Symbol)
		if err != nil {
			rec.Reason = domain.RejectStaleness
			metrics.Evaluations.WithLabelValues(string(rec.Reason)).Inc()
			return rec, nil
		}
		if time.Since(snap.UpdatedAt) > ev.cfg.StalenessBound {
			rec.Reason = domain.RejectStaleness
			metrics.Evaluations.WithLabelValues(string(rec.Reason)).Inc()
			return rec, nil
		}
		if snap.Crossed() {
			ev.books.FlagCrossed(m.Exchange, m.Symbol)
			rec.Reason = domain.RejectStaleness
			metrics.Evaluations.WithLabelValues(string(rec.Reason)).Inc()
			return rec, nil
		}

		var walk legWalk
		switch edge.Side {
		case domain.Buy:
			walk = walkBuy(snap.Asks, amount, m.QtyTick)
		case domain.Sell:
			walk = walkSell(snap.Bids, amount, m.QtyTick)
		}

		fillRatio := one
		if walk.exhausted {
			rec.LimitedBy = domain.LimitDepth
			if amount.IsPositive() {
				fillRatio = walk.consumed.Div(amount)
			} else {
				fillRatio = decimal.Zero
			}
			if fillRatio.LessThan(ev.cfg.MinLegFillRatio) || !ev.cfg.AllowPartialFills {
				rec.WorstLegFill = fillRatio
				rec.Reason = domain.RejectFill
				metrics.Evaluations.WithLabelValues(string(rec.Reason)).Inc()
				return rec, nil
			}
		}
		if fillRatio.LessThan(rec.WorstLegFill) {
			rec.WorstLegFill = fillRatio
		}

		netOut := walk.out.Mul(one.Sub(m.TakerFee))
		vwap := decimal.Zero
		switch edge.Side {
		case domain.Buy:
			if walk.out.IsPositive() {
				vwap = walk.quoteNotional.Div(walk.out)
			}
		case domain.Sell:
			if walk.consumed.IsPositive() {
				vwap = walk.quoteNotional.Div(walk.consumed)
			}
		}
		rec.Legs = append(rec.Legs, domain.LegResult{
			Edge:          edge,
			In:            amount,
			Out:           netOut,
			VWAP:          vwap,
			FillRatio:     fillRatio,
			QuoteNotional: walk.quoteNotional,
			TopNotional:   walk.topNotional,
		})

		if walk.quoteNotional.LessThan(m.MinNotional) {
			rec.LimitedBy = domain.LimitMinNotional
			rec.Reason = domain.RejectNotional
			metrics.Evaluations.WithLabelValues(string(rec.Reason)).Inc()
			return rec, nil
		}
		if walk.topNotional.IsPositive() {
			depthScore = depthScore.Add(walk.quoteNotional.Div(walk.topNotional))
		}
		if s := ev.sigmas.Sigma(m.Symbol); s > maxSigma {
			maxSigma = s
		}
		feeProduct = feeProduct.Mul(one.Sub(m.TakerFee))
		amount = netOut
	}

	rec.OutputQty = amount
	rec.FeeAdjReturn = amount.Div(inputQty)
	if feeProduct.IsPositive() {
		rec.GrossReturn = rec.FeeAdjReturn.Div(feeProduct)
	} else {
		rec.GrossReturn = rec.FeeAdjReturn
	}

	slipPenalty := ev.cfg.SlippageCoefficient.Mul(depthScore)
	volPenalty := ev.cfg.VolRiskMultiplier.Mul(decimal.NewFromFloat(maxSigma))
	rec.RiskAdjReturn = rec.FeeAdjReturn.Sub(slipPenalty).Sub(volPenalty)

	if rec.RiskAdjReturn.Sub(one).LessThan(ev.cfg.MinProfitMargin) {
		rec.Reason = domain.RejectThreshold
		metrics.Evaluations.WithLabelValues(string(rec.Reason)).Inc()
		return rec, nil
	}

	metrics.Evaluations.WithLabelValues("qualified").Inc()
	return rec, nil
}

// walkBuy spends quote against the asks in ascending price and returns the
// base amount received. Partial level consumption floors the executable
// quantity to the market's qty tick; the remaining quote dust is treated as
// spent.
func walkBuy(asks []domain.PriceLevel, quoteIn decimal.Decimal, qtyTick decimal.Decimal) legWalk {
	w := legWalk{out: decimal.Zero, consumed: decimal.Zero, quoteNotional: decimal.Zero, topNotional: decimal.Zero}
	if len(asks) > 0 {
		w.topNotional = asks[0].Notional()
	}

	r := quoteIn
	for _, lvl := range asks {
		if !r.IsPositive() {
			break
		}
		cost := lvl.Notional()
		if r.GreaterThanOrEqual(cost) {
			w.out = w.out.Add(lvl.Qty)
			r = r.Sub(cost)
			continue
		}
		qty := floorTick(r.Div(lvl.Price), qtyTick)
		w.out = w.out.Add(qty)
		r = decimal.Zero
	}

	w.consumed = quoteIn.Sub(r)
	w.quoteNotional = w.consumed
	w.exhausted = r.IsPositive()
	return w
}

// walkSell spends base against the bids in descending price and returns the
// quote amount received.
func walkSell(bids []domain.PriceLevel, baseIn decimal.Decimal, qtyTick decimal.Decimal) legWalk {
	w := legWalk{out: decimal.Zero, consumed: decimal.Zero, quoteNotional: decimal.Zero, topNotional: decimal.Zero}
	if len(bids) > 0 {
		w.topNotional = bids[0].Notional()
	}

	r := baseIn
	for _, lvl := range bids {
		if !r.IsPositive() {
			break
		}
		if r.GreaterThanOrEqual(lvl.Qty) {
			w.out = w.out.Add(lvl.Notional())
			r = r.Sub(lvl.Qty)
			continue
		}
		qty := floorTick(r, qtyTick)
		w.out = w.out.Add(lvl.Price.Mul(qty))
		r = decimal.Zero
	}

	w.consumed = baseIn.Sub(r)
	w.quoteNotional = w.out
	w.exhausted = r.IsPositive()
	return w
}

// floorTick floors q toward zero to a multiple of tick.
func floorTick(q, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return q
	}
	return q.Div(tick).Floor().Mul(tick)
}
