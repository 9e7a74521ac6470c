package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// resyncTimeout bounds one resync round trip.
const resyncTimeout = 15 * time.Second

// Retry pacing for failed resyncs. The cache dedupes repeat requests while
// one is outstanding, so the router owns the retry schedule.
const (
	resyncRetryDelay = 2 * time.Second
	resyncRetryMax   = 30 * time.Second
)

// Feed is one exchange ingress task. Each feed is the single writer for its
// symbols in the book cache.
type Feed interface {
	Exchange() string
	Run(ctx context.Context) error
	Resync(ctx context.Context, symbol string) error
}

// retryState is one failed resync awaiting its next attempt.
type retryState struct {
	req     domain.ResyncRequest
	attempt int
	due     time.Time
}

// Router delivers the book cache's resynchronization requests to the feed
// that owns the affected symbol. Failed resyncs are retried with capped
// exponential backoff until one succeeds; a stale symbol must never be left
// waiting on a trigger that cannot come.
type Router struct {
	feeds    map[string]Feed
	requests <-chan domain.ResyncRequest
	logger   *slog.Logger

	// retries is keyed by exchange:symbol and only touched from Run.
	retries    map[string]retryState
	retryDelay time.Duration
	retryMax   time.Duration
}

// NewRouter creates a router over the given feeds, consuming from requests.
func NewRouter(feeds []Feed, requests <-chan domain.ResyncRequest, logger *slog.Logger) *Router {
	byExchange := make(map[string]Feed, len(feeds))
	for _, f := range feeds {
		byExchange[f.Exchange()] = f
	}
	return &Router{
		feeds:      byExchange,
		requests:   requests,
		logger:     logger.With(slog.String("component", "resync_router")),
		retries:    make(map[string]retryState),
		retryDelay: resyncRetryDelay,
		retryMax:   resyncRetryMax,
	}
}

// Run dispatches resync requests until the context is cancelled. The cache
// keeps an entry stale until a snapshot lands, so no opportunity can be
// built on a symbol whose resync is still failing.
func (r *Router) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		wait := time.Hour
		if d, ok := r.nextDue(); ok {
			wait = d
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-r.requests:
			r.dispatch(ctx, req, 0)
		case <-timer.C:
			r.dispatchDue(ctx)
		}
	}
}

// nextDue returns the wait until the earliest scheduled retry.
func (r *Router) nextDue() (time.Duration, bool) {
	var earliest time.Time
	for _, rt := range r.retries {
		if earliest.IsZero() || rt.due.Before(earliest) {
			earliest = rt.due
		}
	}
	if earliest.IsZero() {
		return 0, false
	}
	d := time.Until(earliest)
	if d < 0 {
		d = 0
	}
	return d, true
}

// dispatchDue re-attempts every retry whose backoff has elapsed.
func (r *Router) dispatchDue(ctx context.Context) {
	now := time.Now()
	for key, rt := range r.retries {
		if rt.due.After(now) {
			continue
		}
		delete(r.retries, key)
		r.dispatch(ctx, rt.req, rt.attempt)
	}
}

// dispatch routes one request to the owning feed, scheduling a retry on
// failure.
func (r *Router) dispatch(ctx context.Context, req domain.ResyncRequest, attempt int) {
	f, ok := r.feeds[req.Exchange]
	if !ok {
		r.logger.Warn("resync for unknown exchange",
			slog.String("exchange", req.Exchange),
			slog.String("symbol", req.Symbol),
		)
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, resyncTimeout)
	err := f.Resync(reqCtx, req.Symbol)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		delay := r.backoff(attempt)
		r.retries[req.Exchange+":"+req.Symbol] = retryState{
			req:     req,
			attempt: attempt + 1,
			due:     time.Now().Add(delay),
		}
		r.logger.Warn("resync failed, will retry",
			slog.String("exchange", req.Exchange),
			slog.String("symbol", req.Symbol),
			slog.String("reason", req.Reason),
			slog.Int("attempt", attempt+1),
			slog.Duration("retry_in", delay),
			slog.Any("error", err),
		)
		return
	}
	r.logger.Info("resynced",
		slog.String("exchange", req.Exchange),
		slog.String("symbol", req.Symbol),
		slog.String("reason", req.Reason),
	)
}

// backoff doubles the base delay per prior attempt, capped at retryMax.
func (r *Router) backoff(attempt int) time.Duration {
	d := r.retryDelay
	for i := 0; i < attempt && d < r.retryMax; i++ {
		d *= 2
	}
	if d > r.retryMax {
		d = r.retryMax
	}
	return d
}
