package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbscan/internal/book"
	"github.com/alanyoungcy/arbscan/internal/config"
	"github.com/alanyoungcy/arbscan/internal/crypto"
	"github.com/alanyoungcy/arbscan/internal/domain"
	"github.com/alanyoungcy/arbscan/internal/eval"
	"github.com/alanyoungcy/arbscan/internal/feed"
	"github.com/alanyoungcy/arbscan/internal/graph"
	"github.com/alanyoungcy/arbscan/internal/platform/binance"
	"github.com/alanyoungcy/arbscan/internal/platform/bybit"
	"github.com/alanyoungcy/arbscan/internal/registry"
	"github.com/alanyoungcy/arbscan/internal/scan"
	"github.com/alanyoungcy/arbscan/internal/server"
	"github.com/alanyoungcy/arbscan/internal/server/handler"
	"github.com/alanyoungcy/arbscan/internal/server/ws"
	"github.com/alanyoungcy/arbscan/internal/service"
	"github.com/alanyoungcy/arbscan/internal/vol"
)

// runtime holds the live scan pipeline built by buildScanRuntime.
type runtime struct {
	registry  *registry.Registry
	books     *book.Cache
	vols      *vol.Cache
	estimator *vol.Estimator
	scanner   *scan.Scanner
	sink      *service.OpportunityService
	feeds     []feed.Feed
	router    *feed.Router
}

// ScanMode runs the live pipeline: feeds, book cache, volatility estimator,
// scanner, and the opportunity sink. The ops API is served when enabled.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode")

	rt, err := a.buildScanRuntime(ctx, deps)
	if err != nil {
		return err
	}
	return a.runScan(ctx, deps, rt, a.cfg.Server.Enabled)
}

// RecordMode is ScanMode plus Postgres persistence: the market universe is
// upserted at startup and every emitted opportunity is inserted.
func (a *App) RecordMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting record mode")

	rt, err := a.buildScanRuntime(ctx, deps)
	if err != nil {
		return err
	}

	if err := a.persistMarkets(ctx, deps, rt); err != nil {
		return err
	}
	return a.runScan(ctx, deps, rt, a.cfg.Server.Enabled)
}

// ServeMode hosts the ops API over recorded history without live scanning.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	hub := a.startHub(ctx, g, deps)
	srv := a.buildServer(deps, nil, nil, nil, hub)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// FullMode is RecordMode with the ops API and WebSocket bridge always on.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	rt, err := a.buildScanRuntime(ctx, deps)
	if err != nil {
		return err
	}

	if err := a.persistMarkets(ctx, deps, rt); err != nil {
		return err
	}
	return a.runScan(ctx, deps, rt, true)
}

// runScan starts every pipeline goroutine under one errgroup and blocks
// until the first failure or context cancellation.
func (a *App) runScan(ctx context.Context, deps *Dependencies, rt *runtime, serveAPI bool) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, f := range rt.feeds {
		g.Go(func() error {
			err := f.Run(ctx)
			if err != nil && ctx.Err() == nil && deps.Notifier != nil {
				deps.Notifier.FeedDown(context.WithoutCancel(ctx), f.Exchange(), err)
			}
			return err
		})
	}

	g.Go(func() error { return rt.router.Run(ctx) })
	g.Go(func() error { return a.pumpBookEvents(ctx, deps, rt) })
	g.Go(func() error { return rt.estimator.Run(ctx) })
	g.Go(func() error { return rt.sink.Run(ctx) })
	g.Go(func() error { return rt.scanner.Run(ctx) })

	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(ctx) })
	}

	if serveAPI {
		hub := a.startHub(ctx, g, deps)
		srv := a.buildServer(deps, rt.scanner, rt, rt.sink, hub)
		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// pumpBookEvents drains the cache's event channel: quarantines alert the
// operator, everything else is logged.
func (a *App) pumpBookEvents(ctx context.Context, deps *Dependencies, rt *runtime) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-rt.books.Events():
			switch ev.Type {
			case domain.BookEventQuarantined:
				a.logger.ErrorContext(ctx, "symbol quarantined",
					slog.String("exchange", ev.Exchange),
					slog.String("symbol", ev.Symbol),
					slog.String("reason", ev.Reason),
					slog.Uint64("sequence", ev.Sequence),
				)
				if deps.Notifier != nil {
					deps.Notifier.Quarantine(ctx, ev)
				}
			case domain.BookEventStale:
				a.logger.WarnContext(ctx, "book stale",
					slog.String("exchange", ev.Exchange),
					slog.String("symbol", ev.Symbol),
					slog.String("reason", ev.Reason),
				)
			case domain.BookEventRecovered:
				a.logger.InfoContext(ctx, "book recovered",
					slog.String("exchange", ev.Exchange),
					slog.String("symbol", ev.Symbol),
				)
			}
		}
	}
}

// persistMarkets upserts the bootstrapped market universe.
func (a *App) persistMarkets(ctx context.Context, deps *Dependencies, rt *runtime) error {
	if deps.MarketStore == nil {
		return nil
	}
	all := rt.registry.All()
	markets := make([]domain.Market, len(all))
	for i, m := range all {
		markets[i] = *m
	}
	if err := deps.MarketStore.UpsertBatch(ctx, markets); err != nil {
		return fmt.Errorf("app: persist markets: %w", err)
	}
	total, err := deps.MarketStore.Count(ctx)
	if err != nil {
		return fmt.Errorf("app: count markets: %w", err)
	}
	a.logger.InfoContext(ctx, "market universe persisted",
		slog.Int("markets", len(markets)),
		slog.Int64("stored_total", total),
	)
	return nil
}

// startHub starts the WebSocket bridge when a bus is wired. Without Redis
// there is nothing to bridge and /ws stays unregistered.
func (a *App) startHub(ctx context.Context, g *errgroup.Group, deps *Dependencies) *ws.Hub {
	if deps.Bus == nil {
		return nil
	}
	hub := ws.NewHub(deps.Bus, ws.Config{
		Channels: []string{a.cfg.Emit.Channel},
		Mode:     a.cfg.Mode,
	}, a.logger)
	g.Go(func() error { return hub.Run(ctx) })
	return hub
}

// buildServer assembles the ops API. scanner, rt, and sink may be nil in
// serve mode.
func (a *App) buildServer(deps *Dependencies, scanner *scan.Scanner, rt *runtime, sink *service.OpportunityService, hub *ws.Hub) *server.Server {
	logger := a.logger

	books := book.NewCache(a.cfg.Execution.OrderbookDepthLevels, logger)
	reg := registry.New()
	if rt != nil {
		books = rt.books
		reg = rt.registry
	}

	var recent handler.RecentSource
	if sink != nil {
		recent = sink
	}

	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(deps.HealthChecks, logger),
		Status:        handler.NewStatusHandler(scanner, books, a.cfg.Mode, time.Now().UTC(), logger),
		Markets:       handler.NewMarketHandler(reg, deps.MarketStore, logger),
		Books:         handler.NewBookHandler(books, logger),
		Opportunities: handler.NewOpportunityHandler(recent, deps.OpportunityStore, logger),
	}

	return server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.ApiKey,
	}, handlers, hub, logger)
}

// buildScanRuntime bootstraps the market universe, enumerates cycles, and
// assembles the book cache, volatility estimator, evaluator, sink, scanner,
// and exchange feeds.
func (a *App) buildScanRuntime(ctx context.Context, deps *Dependencies) (*runtime, error) {
	reg := registry.New()

	byExchange, err := a.bootstrapMarkets(ctx, reg)
	if err != nil {
		return nil, err
	}

	cycles, err := a.enumerateCycles(reg)
	if err != nil {
		return nil, err
	}

	books := book.NewCache(a.cfg.Execution.OrderbookDepthLevels, a.logger)

	vols := vol.NewCache(a.cfg.Volatility.DefaultSigma, a.cfg.Volatility.MaxAge.Duration)
	estimator := vol.NewEstimator(books, vols, reg.All(), vol.EstimatorConfig{
		SampleInterval:  a.cfg.Volatility.SampleInterval.Duration,
		RefreshInterval: a.cfg.Volatility.RefreshInterval.Duration,
		WindowSamples:   a.cfg.Volatility.WindowSamples,
	}, a.logger)

	evaluator := eval.New(books, vols, eval.RiskConfig{
		MinProfitMargin:     mustDec(a.cfg.RiskModel.MinProfitMargin),
		VolRiskMultiplier:   mustDec(a.cfg.RiskModel.VolRiskMultiplier),
		SlippageCoefficient: mustDec(a.cfg.RiskModel.SlippageCoefficient),
		StalenessBound:      a.cfg.RiskModel.StalenessBound.Duration,
		MinLegFillRatio:     mustDec(a.cfg.RiskModel.MinLegFillRatio),
		AllowPartialFills:   a.cfg.RiskModel.AllowPartialFills,
	})

	var archiver service.Archiver
	if deps.Archiver != nil {
		archiver = deps.Archiver
	}
	var alerter service.Alerter
	if deps.Notifier != nil {
		alerter = deps.Notifier
	}
	sink := service.New(deps.Bus, deps.OpportunityStore, archiver, alerter, service.Config{
		QueueSize: a.cfg.Emit.QueueSize,
		RingSize:  a.cfg.Emit.RingSize,
		Channel:   a.cfg.Emit.Channel,
		Stream:    a.cfg.Emit.Stream,
	}, a.logger)

	overrides := make(map[domain.Asset]decimal.Decimal, len(a.cfg.Execution.NotionalOverrides))
	for asset, raw := range a.cfg.Execution.NotionalOverrides {
		overrides[domain.Asset(asset)] = mustDec(raw)
	}
	scanner := scan.New(cycles, evaluator, sink, scan.Config{
		TickInterval:       a.cfg.Execution.TickInterval.Duration,
		MaxConcurrentPaths: a.cfg.Execution.MaxConcurrentPaths,
		InputNotional:      mustDec(a.cfg.Execution.InputNotional),
		NotionalOverrides:  overrides,
	}, a.logger)

	feeds, err := a.buildFeeds(books, byExchange)
	if err != nil {
		return nil, err
	}
	router := feed.NewRouter(feeds, books.Resyncs(), a.logger)

	return &runtime{
		registry:  reg,
		books:     books,
		vols:      vols,
		estimator: estimator,
		scanner:   scanner,
		sink:      sink,
		feeds:     feeds,
		router:    router,
	}, nil
}

// bootstrapMarkets registers static [[markets]] entries and REST-discovered
// descriptors for every enabled exchange, returning markets per exchange.
func (a *App) bootstrapMarkets(ctx context.Context, reg *registry.Registry) (map[string][]*domain.Market, error) {
	byExchange := make(map[string][]*domain.Market)

	for i := range a.cfg.Markets {
		m, err := staticMarket(&a.cfg.Markets[i], a.cfg.Exchanges)
		if err != nil {
			return nil, fmt.Errorf("app: markets[%d]: %w", i, err)
		}
		if err := reg.Register(m); err != nil {
			return nil, fmt.Errorf("app: markets[%d]: %w", i, err)
		}
		byExchange[m.Exchange] = append(byExchange[m.Exchange], m)
	}

	for name, ex := range a.cfg.Exchanges {
		if !ex.Enabled || len(ex.Symbols) == 0 {
			continue
		}

		auth, err := exchangeAuth(ex)
		if err != nil {
			return nil, fmt.Errorf("app: exchange %s: %w", name, err)
		}
		takerFee := mustDec(ex.TakerFee)

		var (
			markets []*domain.Market
			fees    map[string]decimal.Decimal
			feesErr error
		)
		switch name {
		case "binance":
			rest := binance.NewRestClient(ex.RestURL, auth)
			markets, err = rest.ExchangeInfo(ctx, ex.Symbols, takerFee)
			if err == nil && auth != nil {
				fees, feesErr = rest.TradeFees(ctx)
			}
		case "bybit":
			rest := bybit.NewRestClient(ex.RestURL, auth)
			markets, err = rest.InstrumentsInfo(ctx, ex.Symbols, takerFee)
			if err == nil && auth != nil {
				fees, feesErr = rest.FeeRates(ctx)
			}
		default:
			return nil, fmt.Errorf("app: unsupported exchange %q", name)
		}
		if err != nil {
			return nil, fmt.Errorf("app: discover %s markets: %w", name, err)
		}

		// Account fee tiers beat the configured default when credentials
		// are present; the config fee stands if the signed call fails.
		if feesErr != nil {
			a.logger.WarnContext(ctx, "fee refresh failed, using configured taker fee",
				slog.String("exchange", name),
				slog.Any("error", feesErr),
			)
		}
		for _, m := range markets {
			if fee, ok := fees[m.Native]; ok {
				m.TakerFee = fee
			}
		}

		for _, m := range markets {
			if err := reg.Register(m); err != nil {
				return nil, fmt.Errorf("app: register %s %s: %w", name, m.Symbol, err)
			}
			byExchange[m.Exchange] = append(byExchange[m.Exchange], m)
		}
		a.logger.InfoContext(ctx, "markets discovered",
			slog.String("exchange", name),
			slog.Int("markets", len(markets)),
		)
	}

	if reg.Len() == 0 {
		return nil, fmt.Errorf("app: no markets configured")
	}
	return byExchange, nil
}

// enumerateCycles builds the market graph and enumerates the cycle set
// once. An empty result is a configuration error, not a quiet no-op.
func (a *App) enumerateCycles(reg *registry.Registry) ([]domain.Cycle, error) {
	starts := make([]domain.Asset, len(a.cfg.Paths.StartAssets))
	for i, s := range a.cfg.Paths.StartAssets {
		starts[i] = domain.Asset(s)
	}

	g := graph.Build(reg)
	cycles, err := graph.EnumerateCycles(g, graph.CycleConfig{
		MinLen:               a.cfg.Paths.MinLength,
		MaxLen:               a.cfg.Paths.MaxLength,
		StartAssets:          starts,
		AllowRevisitAssets:   a.cfg.Paths.AllowRevisitAssets,
		AllowSameMarketTwice: a.cfg.Paths.AllowSameMarketTwice,
		AllowCrossExchange:   a.cfg.Paths.AllowCrossExchange,
	})
	if err != nil {
		return nil, fmt.Errorf("app: enumerate cycles: %w", err)
	}
	if len(cycles) == 0 {
		return nil, fmt.Errorf("app: no cycles found; check markets and start assets")
	}

	a.logger.Info("cycles enumerated",
		slog.Int("markets", reg.Len()),
		slog.Int("cycles", len(cycles)),
	)
	return cycles, nil
}

// buildFeeds creates one ingress feed per exchange that has markets.
func (a *App) buildFeeds(books *book.Cache, byExchange map[string][]*domain.Market) ([]feed.Feed, error) {
	depth := a.cfg.Execution.OrderbookDepthLevels

	var feeds []feed.Feed
	for name, markets := range byExchange {
		ex, ok := a.cfg.Exchanges[name]
		if !ok {
			return nil, fmt.Errorf("app: markets reference unconfigured exchange %q", name)
		}

		auth, err := exchangeAuth(ex)
		if err != nil {
			return nil, fmt.Errorf("app: exchange %s: %w", name, err)
		}

		switch name {
		case "binance":
			wsClient := binance.NewWSClient(ex.WsURL)
			rest := binance.NewRestClient(ex.RestURL, auth)
			feeds = append(feeds, feed.NewBinanceFeed(wsClient, rest, books, markets, depth, a.logger))
		case "bybit":
			wsClient := bybit.NewWSClient(ex.WsURL)
			rest := bybit.NewRestClient(ex.RestURL, auth)
			feeds = append(feeds, feed.NewBybitFeed(wsClient, rest, books, markets, depth, a.logger))
		default:
			return nil, fmt.Errorf("app: unsupported exchange %q", name)
		}
	}
	if len(feeds) == 0 {
		return nil, fmt.Errorf("app: no exchange feeds configured")
	}
	return feeds, nil
}

// exchangeAuth resolves optional REST credentials. Public market-data
// endpoints work without them.
func exchangeAuth(ex config.ExchangeConfig) (*crypto.HMACAuth, error) {
	if ex.ApiKey == "" {
		return nil, nil
	}
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:           ex.ApiSecret,
		EncryptedSecretPath: ex.EncryptedSecretPath,
		SecretPassword:      ex.SecretPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("load secret: %w", err)
	}
	return &crypto.HMACAuth{Key: ex.ApiKey, Secret: secret}, nil
}

// staticMarket builds a descriptor from a [[markets]] entry. The taker fee
// falls back to the owning exchange's fee when unset.
func staticMarket(mc *config.MarketConfig, exchanges map[string]config.ExchangeConfig) (*domain.Market, error) {
	fee := mc.TakerFee
	if fee == "" {
		if ex, ok := exchanges[mc.Exchange]; ok {
			fee = ex.TakerFee
		}
	}
	if fee == "" {
		fee = "0"
	}

	m := &domain.Market{
		Exchange:    mc.Exchange,
		Symbol:      mc.Base + "/" + mc.Quote,
		Native:      mc.Symbol,
		Base:        domain.Asset(mc.Base),
		Quote:       domain.Asset(mc.Quote),
		TakerFee:    mustDec(fee),
		MinNotional: decOr(mc.MinNotional, "0"),
		PriceTick:   decOr(mc.PriceTick, "0.00000001"),
		QtyTick:     decOr(mc.QtyTick, "0.00000001"),
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// mustDec parses a decimal the config validator has already accepted.
func mustDec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// decOr parses s, falling back to def when s is empty.
func decOr(s, def string) decimal.Decimal {
	if s == "" {
		s = def
	}
	return decimal.RequireFromString(s)
}
