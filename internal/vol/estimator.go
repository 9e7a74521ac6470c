package vol

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/arbscan/internal/book"
	"github.com/alanyoungcy/arbscan/internal/domain"
)

// sample is one observed mid price.
type sample struct {
	mid float64
	ts  time.Time
}

// window is a fixed-size ring of samples per symbol.
type window struct {
	samples []sample
	next    int
	full    bool
}

func (w *window) push(s sample) {
	w.samples[w.next] = s
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.full = true
	}
}

// ordered returns the samples oldest-first.
func (w *window) ordered() []sample {
	if !w.full {
		return w.samples[:w.next]
	}
	out := make([]sample, 0, len(w.samples))
	out = append(out, w.samples[w.next:]...)
	out = append(out, w.samples[:w.next]...)
	return out
}

// Estimator samples mid prices from the book cache and recomputes sigma as
// the standard deviation of log returns normalized by the mean sample
// spacing. It runs as its own task, independent of the scan cadence.
type Estimator struct {
	books   *book.Cache
	cache   *Cache
	markets []*domain.Market

	sampleInterval  time.Duration
	refreshInterval time.Duration
	windowSize      int

	windows map[string]*window
	logger  *slog.Logger
}

// EstimatorConfig bundles the estimator's cadence parameters.
type EstimatorConfig struct {
	SampleInterval  time.Duration
	RefreshInterval time.Duration
	WindowSamples   int
}

// NewEstimator creates an estimator over the given markets.
func NewEstimator(books *book.Cache, cache *Cache, markets []*domain.Market, cfg EstimatorConfig, logger *slog.Logger) *Estimator {
	if cfg.WindowSamples < 2 {
		cfg.WindowSamples = 60
	}
	return &Estimator{
		books:           books,
		cache:           cache,
		markets:         markets,
		sampleInterval:  cfg.SampleInterval,
		refreshInterval: cfg.RefreshInterval,
		windowSize:      cfg.WindowSamples,
		windows:         make(map[string]*window),
		logger:          logger.With(slog.String("component", "vol_estimator")),
	}
}

// Run samples until the context is cancelled.
func (e *Estimator) Run(ctx context.Context) error {
	sampleTick := time.NewTicker(e.sampleInterval)
	defer sampleTick.Stop()
	refreshTick := time.NewTicker(e.refreshInterval)
	defer refreshTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sampleTick.C:
			e.sampleAll()
		case <-refreshTick.C:
			e.refreshAll()
		}
	}
}

func (e *Estimator) sampleAll() {
	now := time.Now()
	for _, m := range e.markets {
		snap, err := e.books.Read(m.Exchange, m.Symbol)
		if err != nil {
			continue // stale or missing books contribute no samples
		}
		mid := snap.MidPrice()
		if !mid.IsPositive() {
			continue
		}
		midF, _ := mid.Float64()

		w := e.windows[m.Symbol]
		if w == nil {
			w = &window{samples: make([]sample, e.windowSize)}
			e.windows[m.Symbol] = w
		}
		w.push(sample{mid: midF, ts: now})
	}
}

func (e *Estimator) refreshAll() {
	for symbol, w := range e.windows {
		sigma, n, ok := computeSigma(w.ordered())
		if !ok {
			continue
		}
		e.cache.Set(domain.VolatilityEntry{
			Symbol:        symbol,
			Sigma:         sigma,
			WindowSamples: n,
			UpdatedAt:     time.Now(),
		})
		e.logger.Debug("sigma refreshed",
			slog.String("symbol", symbol),
			slog.Float64("sigma", sigma),
			slog.Int("samples", n),
		)
	}
}

// computeSigma returns stddev(log returns) / sqrt(mean dt seconds) over the
// given samples, oldest first. At least three samples are required.
func computeSigma(samples []sample) (float64, int, bool) {
	if len(samples) < 3 {
		return 0, 0, false
	}

	returns := make([]float64, 0, len(samples)-1)
	var dtSum float64
	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1], samples[i]
		if prev.mid <= 0 || cur.mid <= 0 {
			continue
		}
		returns = append(returns, math.Log(cur.mid/prev.mid))
		dtSum += cur.ts.Sub(prev.ts).Seconds()
	}
	if len(returns) < 2 || dtSum <= 0 {
		return 0, 0, false
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)

	meanDt := dtSum / float64(len(returns))
	sigma := math.Sqrt(variance) / math.Sqrt(meanDt)
	return sigma, len(samples), true
}
