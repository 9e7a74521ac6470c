package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/arbscan/internal/book"
	"github.com/alanyoungcy/arbscan/internal/domain"
	"github.com/alanyoungcy/arbscan/internal/platform/bybit"
)

// BybitFeed owns the Bybit ingress. The v5 spot stream sends an explicit
// snapshot message per topic on subscribe, followed by deltas, so REST
// seeding is only needed for resynchronization.
type BybitFeed struct {
	ws    *bybit.WSClient
	rest  *bybit.RestClient
	books *book.Cache

	markets  []*domain.Market
	byNative map[string]*domain.Market
	depth    int
	logger   *slog.Logger
}

// NewBybitFeed creates a feed over the given Bybit markets.
func NewBybitFeed(ws *bybit.WSClient, rest *bybit.RestClient, books *book.Cache, markets []*domain.Market, depth int, logger *slog.Logger) *BybitFeed {
	byNative := make(map[string]*domain.Market, len(markets))
	for _, m := range markets {
		byNative[m.Native] = m
	}
	return &BybitFeed{
		ws:       ws,
		rest:     rest,
		books:    books,
		markets:  markets,
		byNative: byNative,
		depth:    depth,
		logger:   logger.With(slog.String("component", "feed"), slog.String("exchange", "bybit")),
	}
}

// Exchange returns the exchange identifier this feed writes for.
func (f *BybitFeed) Exchange() string { return "bybit" }

// Run connects, subscribes, and blocks until the context is cancelled. The
// stream re-sends full snapshots after every reconnect, so the disconnect
// handler only has to mark the books stale.
func (f *BybitFeed) Run(ctx context.Context) error {
	f.ws.OnOrderbook(f.handleOrderbook)
	f.ws.OnConnState(func(up bool) {
		if !up {
			f.books.MarkAllStale("bybit", "ws_disconnect")
		}
	})

	if err := f.ws.Connect(ctx); err != nil {
		return fmt.Errorf("feed: bybit: %w", err)
	}

	natives := make([]string, 0, len(f.markets))
	for _, m := range f.markets {
		natives = append(natives, m.Native)
	}
	if err := f.ws.Subscribe(ctx, natives, f.depth); err != nil {
		return fmt.Errorf("feed: bybit: %w", err)
	}
	f.logger.Info("feed started", slog.Int("markets", len(f.markets)))

	<-ctx.Done()
	_ = f.ws.Close()
	f.logger.Info("feed stopped")
	return ctx.Err()
}

// Resync re-fetches and applies a full REST snapshot for one symbol. The
// REST orderbook shares the stream's update-id sequence, so subsequent
// deltas line up against the seeded state.
func (f *BybitFeed) Resync(ctx context.Context, symbol string) error {
	for _, m := range f.markets {
		if m.Symbol != symbol {
			continue
		}
		ctx, cancel := context.WithTimeout(ctx, seedTimeout)
		defer cancel()

		snap, err := f.rest.Depth(ctx, m, f.depth)
		if err != nil {
			return err
		}
		return f.books.ApplySnapshot(snap)
	}
	return fmt.Errorf("feed: bybit: resync %s: %w", symbol, domain.ErrNotFound)
}

func (f *BybitFeed) handleOrderbook(msg *bybit.OrderbookMessage) {
	m, ok := f.byNative[msg.Data.Symbol]
	if !ok {
		return
	}

	switch msg.Type {
	case "snapshot":
		snap, err := msg.ToDomainSnapshot(m.Symbol)
		if err != nil {
			f.logger.Warn("malformed snapshot",
				slog.String("symbol", m.Symbol),
				slog.Any("error", err),
			)
			return
		}
		if err := f.books.ApplySnapshot(snap); err != nil && !errors.Is(err, domain.ErrCrossedBook) {
			f.logger.Warn("snapshot apply failed",
				slog.String("symbol", m.Symbol),
				slog.Any("error", err),
			)
		}
	case "delta":
		delta, err := msg.ToDomainDelta(m.Symbol)
		if err != nil {
			f.logger.Warn("malformed delta",
				slog.String("symbol", m.Symbol),
				slog.Any("error", err),
			)
			return
		}
		err = f.books.ApplyDelta(delta)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrSequenceGap):
			// Stale + resync already requested by the cache.
		case errors.Is(err, domain.ErrStale), errors.Is(err, domain.ErrQuarantined), errors.Is(err, domain.ErrNotFound):
			// Dropped until a fresh snapshot lands.
		case errors.Is(err, domain.ErrCrossedBook):
			f.logger.Warn("crossed book from stream", slog.String("symbol", m.Symbol))
		default:
			f.logger.Warn("delta apply failed",
				slog.String("symbol", m.Symbol),
				slog.Any("error", err),
			)
		}
	}
}
