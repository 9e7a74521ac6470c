// Package feed runs the per-exchange ingress tasks: REST snapshot seeding,
// WebSocket delta streaming into the book cache, and resynchronization when
// the cache detects a gap.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbscan/internal/book"
	"github.com/alanyoungcy/arbscan/internal/domain"
	"github.com/alanyoungcy/arbscan/internal/platform/binance"
)

// seedTimeout bounds one REST snapshot fetch.
const seedTimeout = 10 * time.Second

// BinanceFeed owns the Binance ingress: it seeds full snapshots over REST,
// applies diff-depth deltas from the stream, and re-seeds on demand. It is
// the single writer for its symbols in the book cache.
type BinanceFeed struct {
	ws    *binance.WSClient
	rest  *binance.RestClient
	books *book.Cache

	markets  []*domain.Market
	byNative map[string]*domain.Market
	depth    int
	logger   *slog.Logger
}

// NewBinanceFeed creates a feed over the given Binance markets.
func NewBinanceFeed(ws *binance.WSClient, rest *binance.RestClient, books *book.Cache, markets []*domain.Market, depth int, logger *slog.Logger) *BinanceFeed {
	byNative := make(map[string]*domain.Market, len(markets))
	for _, m := range markets {
		byNative[m.Native] = m
	}
	return &BinanceFeed{
		ws:       ws,
		rest:     rest,
		books:    books,
		markets:  markets,
		byNative: byNative,
		depth:    depth,
		logger:   logger.With(slog.String("component", "feed"), slog.String("exchange", "binance")),
	}
}

// Exchange returns the exchange identifier this feed writes for.
func (f *BinanceFeed) Exchange() string { return "binance" }

// Run connects, subscribes, seeds snapshots, and blocks until the context
// is cancelled. Reconnects are handled inside the WS client; this task
// reacts to them by marking books stale and re-seeding.
func (f *BinanceFeed) Run(ctx context.Context) error {
	f.ws.OnDepthUpdate(f.handleDepthUpdate)
	f.ws.OnConnState(func(up bool) {
		if !up {
			f.books.MarkAllStale("binance", "ws_disconnect")
			return
		}
		seedCtx, cancel := context.WithTimeout(context.Background(), seedTimeout*time.Duration(len(f.markets)))
		defer cancel()
		f.seedAll(seedCtx)
	})

	if err := f.ws.Connect(ctx); err != nil {
		return fmt.Errorf("feed: binance: %w", err)
	}

	natives := make([]string, 0, len(f.markets))
	for _, m := range f.markets {
		natives = append(natives, m.Native)
	}
	if err := f.ws.Subscribe(ctx, natives); err != nil {
		return fmt.Errorf("feed: binance: %w", err)
	}

	// Seed after subscribing so the snapshot sequence lands inside the
	// delta stream.
	f.seedAll(ctx)
	f.logger.Info("feed started", slog.Int("markets", len(f.markets)))

	<-ctx.Done()
	_ = f.ws.Close()
	f.logger.Info("feed stopped")
	return ctx.Err()
}

// Resync re-fetches and applies a full snapshot for one symbol.
func (f *BinanceFeed) Resync(ctx context.Context, symbol string) error {
	for _, m := range f.markets {
		if m.Symbol == symbol {
			return f.seed(ctx, m)
		}
	}
	return fmt.Errorf("feed: binance: resync %s: %w", symbol, domain.ErrNotFound)
}

func (f *BinanceFeed) seedAll(ctx context.Context) {
	for _, m := range f.markets {
		if err := f.seed(ctx, m); err != nil {
			f.logger.Warn("snapshot seed failed",
				slog.String("symbol", m.Symbol),
				slog.Any("error", err),
			)
		}
	}
}

func (f *BinanceFeed) seed(ctx context.Context, m *domain.Market) error {
	ctx, cancel := context.WithTimeout(ctx, seedTimeout)
	defer cancel()

	snap, err := f.rest.Depth(ctx, m, f.depth)
	if err != nil {
		return err
	}
	if err := f.books.ApplySnapshot(snap); err != nil {
		return err
	}
	f.logger.Debug("snapshot seeded",
		slog.String("symbol", m.Symbol),
		slog.Uint64("sequence", snap.Sequence),
	)
	return nil
}

func (f *BinanceFeed) handleDepthUpdate(u *binance.DepthUpdate) {
	m, ok := f.byNative[u.Symbol]
	if !ok {
		return
	}

	delta, err := u.ToDomainDelta(m.Symbol)
	if err != nil {
		f.logger.Warn("malformed depth update",
			slog.String("symbol", m.Symbol),
			slog.Any("error", err),
		)
		return
	}

	err = f.books.ApplyDelta(delta)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrSequenceGap):
		// The cache marked the entry stale and requested a resync.
	case errors.Is(err, domain.ErrStale), errors.Is(err, domain.ErrQuarantined):
		// Deltas against a stale or quarantined entry are dropped until a
		// fresh snapshot arrives.
	case errors.Is(err, domain.ErrCrossedBook):
		f.logger.Warn("crossed book from stream", slog.String("symbol", m.Symbol))
	default:
		f.logger.Warn("delta apply failed",
			slog.String("symbol", m.Symbol),
			slog.Any("error", err),
		)
	}
}
