package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RejectReason classifies why an evaluation did not qualify. The empty value
// means the evaluation qualified.
type RejectReason string

const (
	RejectNone      RejectReason = ""
	RejectThreshold RejectReason = "rejected_threshold"
	RejectNotional  RejectReason = "rejected_notional"
	RejectStaleness RejectReason = "rejected_staleness"
	RejectFill      RejectReason = "rejected_fill"
)

// LimitedBy names the binding constraint observed during simulation.
type LimitedBy string

const (
	LimitNone        LimitedBy = "none"
	LimitDepth       LimitedBy = "depth"
	LimitMinNotional LimitedBy = "min_notional"
)

// LegResult records the depth-walk simulation of a single cycle leg.
// In and Out are denominated in the leg's from/to assets; Out is net of the
// taker fee. QuoteNotional is the traded notional in quote units and
// TopNotional the best-level notional at walk time, both feeding the
// slippage penalty.
type LegResult struct {
	Edge          Edge
	In            decimal.Decimal
	Out           decimal.Decimal
	VWAP          decimal.Decimal
	FillRatio     decimal.Decimal
	QuoteNotional decimal.Decimal
	TopNotional   decimal.Decimal
}

// Evaluation is the outcome of simulating one cycle against live depth.
// Records are produced per scan and discarded; only qualifying ones are
// emitted downstream as Opportunities.
type Evaluation struct {
	Cycle      Cycle
	InputAsset Asset
	InputQty   decimal.Decimal
	OutputQty  decimal.Decimal

	GrossReturn   decimal.Decimal
	FeeAdjReturn  decimal.Decimal
	RiskAdjReturn decimal.Decimal

	WorstLegFill decimal.Decimal
	LimitedBy    LimitedBy
	Reason       RejectReason

	Legs        []LegResult
	EvaluatedAt time.Time
}

// Qualified reports whether the evaluation cleared every threshold.
func (e *Evaluation) Qualified() bool { return e.Reason == RejectNone }

// OpportunityLeg is one leg of an emitted opportunity, reduced to its
// routing triple.
type OpportunityLeg struct {
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
	Side     Side   `json:"side"`
}

// Opportunity is a qualified evaluation in its outbound form.
type Opportunity struct {
	ID            string           `json:"id"`
	Path          string           `json:"path"` // asset walk, e.g. "USDC->BTC->ETH->USDC"
	Legs          []OpportunityLeg `json:"legs"`
	InputAsset    Asset            `json:"input_asset"`
	InputQty      decimal.Decimal  `json:"input_qty"`
	OutputQty     decimal.Decimal  `json:"output_qty"`
	GrossReturn   decimal.Decimal  `json:"gross_return"`
	FeeAdjReturn  decimal.Decimal  `json:"fee_adjusted_return"`
	RiskAdjReturn decimal.Decimal  `json:"risk_adjusted_return"`
	WorstLegFill  decimal.Decimal  `json:"worst_leg_fill_ratio"`
	LimitedBy     LimitedBy        `json:"limited_by"`
	DetectedAt    time.Time        `json:"detected_at"`
}

// Margin returns risk_adjusted_return - 1, the realizable profit fraction.
func (o *Opportunity) Margin() decimal.Decimal {
	return o.RiskAdjReturn.Sub(decimal.NewFromInt(1))
}

// OpportunitySink receives qualifying evaluations from the scanner in
// profit-descending order. Emit must not block the caller; implementations
// queue internally and shed the lowest-profit pending records on overflow.
type OpportunitySink interface {
	Emit(batch []Evaluation)
}
