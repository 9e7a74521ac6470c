// Package book implements the in-process order-book cache. Each (exchange,
// symbol) entry is owned by exactly one feed goroutine, which prepares a new
// immutable level array per update and publishes it through an atomic
// pointer. Readers take a bounded top-N copy and never block the writer.
package book

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/arbscan/internal/domain"
	"github.com/alanyoungcy/arbscan/internal/metrics"
)

// state is one published generation of a symbol's book. It is immutable
// after publication; the writer builds a fresh state for every update.
type state struct {
	bids        []domain.PriceLevel // sorted descending by price
	asks        []domain.PriceLevel // sorted ascending by price
	seq         uint64
	updatedAt   time.Time
	stale       bool
	quarantined bool
	reason      string
}

// entry holds the published state for one (exchange, symbol). resyncPending
// dedupes resync requests until a fresh snapshot arrives; only the owning
// writer touches it.
type entry struct {
	exchange string
	symbol   string
	cur      atomic.Pointer[state]

	resyncPending atomic.Bool
}

// Cache is the concurrent order-book store. Single writer per symbol, many
// readers.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry

	depth   int
	resyncs chan domain.ResyncRequest
	events  chan domain.BookEvent
	logger  *slog.Logger
}

// NewCache creates a cache serving top-depth levels per side. Resync
// requests and lifecycle events are delivered on the returned cache's
// channels; both are bounded and shed when full so the ingress path never
// blocks on a slow consumer.
func NewCache(depth int, logger *slog.Logger) *Cache {
	if depth <= 0 {
		depth = 25
	}
	return &Cache{
		entries: make(map[string]*entry),
		depth:   depth,
		resyncs: make(chan domain.ResyncRequest, 256),
		events:  make(chan domain.BookEvent, 256),
		logger:  logger.With(slog.String("component", "book_cache")),
	}
}

// Resyncs returns the channel carrying snapshot re-requests for the feeds.
func (c *Cache) Resyncs() <-chan domain.ResyncRequest { return c.resyncs }

// Events returns the channel carrying stale/recovered/quarantine events.
func (c *Cache) Events() <-chan domain.BookEvent { return c.events }

func (c *Cache) entryFor(exchange, symbol string, create bool) *entry {
	key := exchange + ":" + symbol

	c.mu.RLock()
	e := c.entries[key]
	c.mu.RUnlock()
	if e != nil || !create {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e = c.entries[key]; e == nil {
		e = &entry{exchange: exchange, symbol: symbol}
		c.entries[key] = e
	}
	return e
}

// ApplySnapshot replaces a symbol's state with a full snapshot. A snapshot
// clears stale and any pending resync; it never clears quarantine. Crossed
// snapshots from the exchange mark the entry stale and request a resync.
func (c *Cache) ApplySnapshot(snap *domain.BookSnapshot) error {
	e := c.entryFor(snap.Exchange, snap.Symbol, true)

	if cur := e.cur.Load(); cur != nil && cur.quarantined {
		return fmt.Errorf("book: %s:%s: %w", snap.Exchange, snap.Symbol, domain.ErrQuarantined)
	}

	bids, asks, err := normalizeLevels(snap.Bids, snap.Asks)
	if err != nil {
		c.quarantine(e, snap.Sequence, err.Error())
		return err
	}

	next := &state{
		bids:      bids,
		asks:      asks,
		seq:       snap.Sequence,
		updatedAt: snap.UpdatedAt,
	}

	if crossed(bids, asks) {
		next.stale = true
		next.reason = "crossed snapshot"
		e.cur.Store(next)
		// This snapshot answered the outstanding request; clear the flag so
		// the fresh request below is not deduped away.
		e.resyncPending.Store(false)
		metrics.BookCrossed.WithLabelValues(snap.Exchange).Inc()
		c.requestResync(e, "crossed snapshot")
		return fmt.Errorf("book: %s:%s: %w", snap.Exchange, snap.Symbol, domain.ErrCrossedBook)
	}

	wasStale := false
	if cur := e.cur.Load(); cur != nil && cur.stale {
		wasStale = true
	}
	e.cur.Store(next)
	e.resyncPending.Store(false)
	metrics.BookUpdates.WithLabelValues(snap.Exchange, "snapshot").Inc()
	if wasStale {
		c.emit(domain.BookEvent{
			Type:     domain.BookEventRecovered,
			Exchange: snap.Exchange,
			Symbol:   snap.Symbol,
			Sequence: snap.Sequence,
			At:       snap.UpdatedAt,
		})
	}
	return nil
}

// ApplyDelta applies an incremental update. A delta's span must overlap or
// directly extend the current sequence: FirstSeq at most the current
// sequence + 1, LastSeq beyond it. Replays (LastSeq at or before the
// current sequence) are dropped silently; gaps (FirstSeq past the current
// sequence + 1) mark the entry stale and request a resync.
func (c *Cache) ApplyDelta(delta *domain.BookDelta) error {
	e := c.entryFor(delta.Exchange, delta.Symbol, false)
	if e == nil {
		// No snapshot yet; the feed must seed one first.
		return fmt.Errorf("book: %s:%s: %w", delta.Exchange, delta.Symbol, domain.ErrNotFound)
	}

	cur := e.cur.Load()
	if cur == nil {
		return fmt.Errorf("book: %s:%s: %w", delta.Exchange, delta.Symbol, domain.ErrNotFound)
	}
	if cur.quarantined {
		return fmt.Errorf("book: %s:%s: %w", delta.Exchange, delta.Symbol, domain.ErrQuarantined)
	}
	if cur.stale {
		// Deltas on a stale entry are discarded until the resync snapshot
		// lands. Re-request in case the earlier request was shed on a full
		// queue; the pending flag makes this a no-op otherwise.
		c.requestResync(e, cur.reason)
		return fmt.Errorf("book: %s:%s: %w", delta.Exchange, delta.Symbol, domain.ErrStale)
	}

	if delta.LastSeq <= cur.seq {
		return nil
	}
	if delta.FirstSeq > cur.seq+1 {
		c.markStale(e, fmt.Sprintf("sequence gap: have %d, got %d", cur.seq, delta.FirstSeq), delta.FirstSeq)
		metrics.SequenceGaps.WithLabelValues(delta.Exchange).Inc()
		return fmt.Errorf("book: %s:%s: %w: have %d, got %d",
			delta.Exchange, delta.Symbol, domain.ErrSequenceGap, cur.seq, delta.FirstSeq)
	}

	bids, asks, err := applyChanges(cur.bids, cur.asks, delta.Changes)
	if err != nil {
		c.quarantine(e, delta.LastSeq, err.Error())
		return err
	}

	next := &state{
		bids:      bids,
		asks:      asks,
		seq:       delta.LastSeq,
		updatedAt: delta.Ts,
	}

	if crossed(bids, asks) {
		next.stale = true
		next.reason = "crossed after delta"
		e.cur.Store(next)
		metrics.BookCrossed.WithLabelValues(delta.Exchange).Inc()
		c.requestResync(e, "crossed after delta")
		return fmt.Errorf("book: %s:%s: %w", delta.Exchange, delta.Symbol, domain.ErrCrossedBook)
	}

	e.cur.Store(next)
	metrics.BookUpdates.WithLabelValues(delta.Exchange, "delta").Inc()
	return nil
}

// Read returns an immutable top-N view of the symbol's book. Stale and
// quarantined entries are not served.
func (c *Cache) Read(exchange, symbol string) (*domain.BookSnapshot, error) {
	e := c.entryFor(exchange, symbol, false)
	if e == nil {
		return nil, fmt.Errorf("book: %s:%s: %w", exchange, symbol, domain.ErrNotFound)
	}
	cur := e.cur.Load()
	if cur == nil {
		return nil, fmt.Errorf("book: %s:%s: %w", exchange, symbol, domain.ErrNotFound)
	}
	if cur.quarantined {
		return nil, fmt.Errorf("book: %s:%s: %w", exchange, symbol, domain.ErrQuarantined)
	}
	if cur.stale {
		return nil, fmt.Errorf("book: %s:%s: %w", exchange, symbol, domain.ErrStale)
	}

	return &domain.BookSnapshot{
		Exchange:  exchange,
		Symbol:    symbol,
		Bids:      topN(cur.bids, c.depth),
		Asks:      topN(cur.asks, c.depth),
		Sequence:  cur.seq,
		UpdatedAt: cur.updatedAt,
	}, nil
}

// Age returns the time since the symbol's last update.
func (c *Cache) Age(exchange, symbol string) (time.Duration, error) {
	e := c.entryFor(exchange, symbol, false)
	if e == nil {
		return 0, fmt.Errorf("book: %s:%s: %w", exchange, symbol, domain.ErrNotFound)
	}
	cur := e.cur.Load()
	if cur == nil {
		return 0, fmt.Errorf("book: %s:%s: %w", exchange, symbol, domain.ErrNotFound)
	}
	return time.Since(cur.updatedAt), nil
}

// MarkStale transitions a symbol to stale (feed loss, heartbeat timeout) and
// requests a resync. No-op for unknown or quarantined symbols.
func (c *Cache) MarkStale(exchange, symbol, reason string) {
	e := c.entryFor(exchange, symbol, false)
	if e == nil {
		return
	}
	cur := e.cur.Load()
	if cur == nil || cur.quarantined || cur.stale {
		return
	}
	c.markStale(e, reason, cur.seq)
}

// MarkAllStale marks every symbol belonging to an exchange stale. Called by
// a feed when its connection drops.
func (c *Cache) MarkAllStale(exchange, reason string) {
	c.mu.RLock()
	entries := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		if e.exchange == exchange {
			entries = append(entries, e)
		}
	}
	c.mu.RUnlock()

	for _, e := range entries {
		cur := e.cur.Load()
		if cur == nil || cur.quarantined || cur.stale {
			continue
		}
		c.markStale(e, reason, cur.seq)
	}
}

// FlagCrossed is called by a reader that observed a crossed top-of-book in a
// snapshot served as fresh. Post-apply validation should make this
// unreachable, so it indicates a cache bug: the symbol is quarantined and a
// structured event raised. Scanning continues for other symbols.
func (c *Cache) FlagCrossed(exchange, symbol string) {
	e := c.entryFor(exchange, symbol, false)
	if e == nil {
		return
	}
	var seq uint64
	if cur := e.cur.Load(); cur != nil {
		seq = cur.seq
	}
	c.quarantine(e, seq, "crossed book served as fresh")
}

// Symbols returns (exchange, symbol, age, stale) tuples for the ops API.
func (c *Cache) Symbols() []SymbolInfo {
	c.mu.RLock()
	entries := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	out := make([]SymbolInfo, 0, len(entries))
	for _, e := range entries {
		cur := e.cur.Load()
		if cur == nil {
			continue
		}
		out = append(out, SymbolInfo{
			Exchange:    e.exchange,
			Symbol:      e.symbol,
			Sequence:    cur.seq,
			UpdatedAt:   cur.updatedAt,
			Stale:       cur.stale,
			Quarantined: cur.quarantined,
			Reason:      cur.reason,
		})
	}
	return out
}

// SymbolInfo is a freshness summary of one cache entry.
type SymbolInfo struct {
	Exchange    string    `json:"exchange"`
	Symbol      string    `json:"symbol"`
	Sequence    uint64    `json:"sequence"`
	UpdatedAt   time.Time `json:"updated_at"`
	Stale       bool      `json:"stale"`
	Quarantined bool      `json:"quarantined"`
	Reason      string    `json:"reason,omitempty"`
}

func (c *Cache) markStale(e *entry, reason string, seq uint64) {
	cur := e.cur.Load()
	next := &state{stale: true, reason: reason, seq: seq}
	if cur != nil {
		next.bids = cur.bids
		next.asks = cur.asks
		next.updatedAt = cur.updatedAt
	}
	e.cur.Store(next)
	metrics.StaleSymbols.WithLabelValues(e.exchange).Inc()
	c.emit(domain.BookEvent{
		Type:     domain.BookEventStale,
		Exchange: e.exchange,
		Symbol:   e.symbol,
		Reason:   reason,
		Sequence: seq,
		At:       time.Now().UTC(),
	})
	c.requestResync(e, reason)
}

func (c *Cache) quarantine(e *entry, seq uint64, reason string) {
	e.cur.Store(&state{stale: true, quarantined: true, reason: reason, seq: seq})
	metrics.QuarantinedSymbols.WithLabelValues(e.exchange).Inc()
	c.logger.Error("symbol quarantined",
		slog.String("exchange", e.exchange),
		slog.String("symbol", e.symbol),
		slog.String("reason", reason),
		slog.Uint64("sequence", seq),
	)
	c.emit(domain.BookEvent{
		Type:     domain.BookEventQuarantined,
		Exchange: e.exchange,
		Symbol:   e.symbol,
		Reason:   reason,
		Sequence: seq,
		At:       time.Now().UTC(),
	})
}

func (c *Cache) requestResync(e *entry, reason string) {
	if !e.resyncPending.CompareAndSwap(false, true) {
		return
	}
	req := domain.ResyncRequest{Exchange: e.exchange, Symbol: e.symbol, Reason: reason}
	select {
	case c.resyncs <- req:
	default:
		// Queue full: clear the flag so a later trigger can retry.
		e.resyncPending.Store(false)
		c.logger.Warn("resync queue full, dropping request",
			slog.String("exchange", e.exchange),
			slog.String("symbol", e.symbol),
		)
	}
}

func (c *Cache) emit(ev domain.BookEvent) {
	select {
	case c.events <- ev:
	default:
	}
}

func topN(levels []domain.PriceLevel, n int) []domain.PriceLevel {
	if len(levels) > n {
		levels = levels[:n]
	}
	out := make([]domain.PriceLevel, len(levels))
	copy(out, levels)
	return out
}

var _ domain.BookSource = (*Cache)(nil)
