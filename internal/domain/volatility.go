package domain

import "time"

// VolatilityEntry is a per-symbol volatility estimate supplied by an
// out-of-band producer. Sigma is treated as an opaque risk scalar by the
// evaluator; the bundled estimator produces the per-sample standard
// deviation of log returns normalized by the mean sample spacing.
type VolatilityEntry struct {
	Symbol        string
	Sigma         float64
	WindowSamples int
	UpdatedAt     time.Time
}

// SigmaSource serves per-symbol volatility estimates, falling back to a
// configured default for symbols that are absent or expired.
type SigmaSource interface {
	Sigma(symbol string) float64
}
