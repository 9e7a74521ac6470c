// Package scan drives the periodic re-evaluation of the enumerated cycle
// set against live depth and forwards qualifying results downstream.
package scan

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbscan/internal/domain"
	"github.com/alanyoungcy/arbscan/internal/eval"
	"github.com/alanyoungcy/arbscan/internal/metrics"
)

// Config bundles the scanner's cadence and sizing parameters.
type Config struct {
	TickInterval       time.Duration
	MaxConcurrentPaths int
	InputNotional      decimal.Decimal

	// NotionalOverrides maps a start asset to its input notional, taking
	// precedence over InputNotional for cycles rooted at that asset.
	NotionalOverrides map[domain.Asset]decimal.Decimal
}

// notionalFor resolves the input size for a cycle's start asset.
func (c *Config) notionalFor(start domain.Asset) decimal.Decimal {
	if n, ok := c.NotionalOverrides[start]; ok {
		return n
	}
	return c.InputNotional
}

// Stats is a point-in-time snapshot of scanner progress counters.
type Stats struct {
	Ticks        uint64    `json:"ticks"`
	SkippedTicks uint64    `json:"skipped_ticks"`
	Cycles       int       `json:"cycles"`
	LastScan     LastScan  `json:"last_scan"`
	StartedAt    time.Time `json:"started_at"`
}

// LastScan summarizes the most recently completed tick.
type LastScan struct {
	Evaluated  int           `json:"evaluated"`
	Qualified  int           `json:"qualified"`
	Rejected   int           `json:"rejected"`
	Duration   time.Duration `json:"duration_ms"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Scanner evaluates every cached cycle on each tick, bounded by the
// configured concurrency, and hands qualifying records to the sink sorted
// by descending risk-adjusted return. A tick that fires while the previous
// scan is still running is skipped rather than queued.
type Scanner struct {
	cycles    []domain.Cycle
	evaluator *eval.Evaluator
	sink      domain.OpportunitySink
	cfg       Config
	logger    *slog.Logger

	inFlight  atomic.Bool
	ticks     atomic.Uint64
	skipped   atomic.Uint64
	startedAt time.Time

	mu   sync.Mutex
	last LastScan
}

// New creates a scanner over a fixed cycle set.
func New(cycles []domain.Cycle, evaluator *eval.Evaluator, sink domain.OpportunitySink, cfg Config, logger *slog.Logger) *Scanner {
	if cfg.MaxConcurrentPaths < 1 {
		cfg.MaxConcurrentPaths = 1
	}
	return &Scanner{
		cycles:    cycles,
		evaluator: evaluator,
		sink:      sink,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "scanner")),
	}
}

// Run ticks until the context is cancelled. The tick in flight when
// cancellation arrives is allowed to finish.
func (s *Scanner) Run(ctx context.Context) error {
	s.startedAt = time.Now()
	s.logger.Info("scanner started",
		slog.Int("cycles", len(s.cycles)),
		slog.Duration("tick_interval", s.cfg.TickInterval),
		slog.Int("max_concurrent", s.cfg.MaxConcurrentPaths),
	)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !s.inFlight.CompareAndSwap(false, true) {
				s.skipped.Add(1)
				metrics.ScanTicks.WithLabelValues("skipped").Inc()
				continue
			}
			s.ticks.Add(1)
			metrics.ScanTicks.WithLabelValues("run").Inc()
			s.scanOnce(ctx)
			s.inFlight.Store(false)
		}
	}
}

// ScanOnce runs a single synchronous scan. Serving callers use it for
// on-demand re-evaluation outside the ticker cadence.
func (s *Scanner) ScanOnce(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer s.inFlight.Store(false)
	s.ticks.Add(1)
	metrics.ScanTicks.WithLabelValues("run").Inc()
	s.scanOnce(ctx)
}

func (s *Scanner) scanOnce(ctx context.Context) {
	started := time.Now()

	results := make([]domain.Evaluation, len(s.cycles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrentPaths)

	for i, cycle := range s.cycles {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			rec, err := s.evaluator.Evaluate(cycle, s.cfg.notionalFor(cycle.Start()))
			if err != nil {
				s.logger.Error("evaluation failed",
					slog.String("cycle", cycle.Key),
					slog.Any("error", err),
				)
				return nil
			}
			results[i] = rec
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; rejections are data

	var qualified []domain.Evaluation
	rejected := 0
	for i := range results {
		if len(results[i].Legs) == 0 && results[i].Reason == domain.RejectNone {
			continue // cancelled before evaluation
		}
		if results[i].Qualified() {
			qualified = append(qualified, results[i])
		} else {
			rejected++
		}
	}

	sort.SliceStable(qualified, func(i, j int) bool {
		return qualified[i].RiskAdjReturn.GreaterThan(qualified[j].RiskAdjReturn)
	})

	if len(qualified) > 0 {
		s.sink.Emit(qualified)
		metrics.OpportunitiesEmitted.Add(float64(len(qualified)))
	}

	dur := time.Since(started)
	metrics.ScanDuration.Observe(dur.Seconds())

	s.mu.Lock()
	s.last = LastScan{
		Evaluated:  len(s.cycles),
		Qualified:  len(qualified),
		Rejected:   rejected,
		Duration:   dur,
		FinishedAt: time.Now(),
	}
	s.mu.Unlock()

	if len(qualified) > 0 {
		s.logger.Info("scan tick",
			slog.Int("qualified", len(qualified)),
			slog.Int("rejected", rejected),
			slog.String("best_return", qualified[0].RiskAdjReturn.String()),
			slog.Duration("took", dur),
		)
	} else {
		s.logger.Debug("scan tick",
			slog.Int("rejected", rejected),
			slog.Duration("took", dur),
		)
	}
}

// Stats returns the current counters.
func (s *Scanner) Stats() Stats {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	return Stats{
		Ticks:        s.ticks.Load(),
		SkippedTicks: s.skipped.Load(),
		Cycles:       len(s.cycles),
		LastScan:     last,
		StartedAt:    s.startedAt,
	}
}
