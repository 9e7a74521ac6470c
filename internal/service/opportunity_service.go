// Package service hosts the opportunity pipeline between the scanner and the
// outbound surfaces: Redis fan-out, Postgres history, the S3 archive, chat
// alerts, and the in-memory ring served by the ops API.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbscan/internal/domain"
	"github.com/alanyoungcy/arbscan/internal/metrics"
)

// Archiver buffers opportunities for batch upload. Satisfied by
// s3blob.Archiver.
type Archiver interface {
	Add(opp domain.Opportunity)
}

// Alerter delivers opportunity alerts to chat channels. Satisfied by
// notify.Notifier.
type Alerter interface {
	Opportunity(ctx context.Context, opp domain.Opportunity)
}

// Config sizes the sink queue and names the Redis destinations.
type Config struct {
	QueueSize int
	RingSize  int
	Channel   string
	Stream    string
}

// OpportunityService receives qualified evaluations from the scanner and
// dispatches them to every configured outbound surface. Emit never blocks
// the scan loop: records queue internally and the lowest-profit pending
// entries are shed when the queue is full.
//
// Bus, store, archiver, and alerter are all optional; a nil dependency
// simply disables that surface.
type OpportunityService struct {
	bus      domain.SignalBus
	store    domain.OpportunityStore
	archiver Archiver
	alerter  Alerter
	cfg      Config
	logger   *slog.Logger

	mu      sync.Mutex
	pending []domain.Opportunity

	ring     []domain.Opportunity
	ringNext int
	ringFull bool

	wake chan struct{}
}

// New creates the service. Pass nil for any surface that is not configured.
func New(bus domain.SignalBus, store domain.OpportunityStore, archiver Archiver, alerter Alerter, cfg Config, logger *slog.Logger) *OpportunityService {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 256
	}
	if cfg.RingSize < 1 {
		cfg.RingSize = 128
	}
	return &OpportunityService{
		bus:      bus,
		store:    store,
		archiver: archiver,
		alerter:  alerter,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "opportunity_service")),
		pending:  make([]domain.Opportunity, 0, cfg.QueueSize),
		ring:     make([]domain.Opportunity, cfg.RingSize),
		wake:     make(chan struct{}, 1),
	}
}

// Emit implements domain.OpportunitySink. The batch arrives
// profit-descending; each evaluation is converted to its outbound form and
// queued. When the queue is full the lowest-profit pending record is shed
// so a new, more profitable record always finds room.
func (s *OpportunityService) Emit(batch []domain.Evaluation) {
	if len(batch) == 0 {
		return
	}
	now := time.Now().UTC()

	s.mu.Lock()
	for i := range batch {
		opp := toOpportunity(&batch[i], now)
		if len(s.pending) >= s.cfg.QueueSize {
			worst := s.lowestPendingLocked()
			if s.pending[worst].RiskAdjReturn.GreaterThanOrEqual(opp.RiskAdjReturn) {
				metrics.SinkDropped.Inc()
				continue
			}
			s.pending = append(s.pending[:worst], s.pending[worst+1:]...)
			metrics.SinkDropped.Inc()
		}
		s.pending = append(s.pending, opp)
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// lowestPendingLocked returns the index of the lowest-profit pending record.
// Caller holds s.mu.
func (s *OpportunityService) lowestPendingLocked() int {
	worst := 0
	for i := 1; i < len(s.pending); i++ {
		if s.pending[i].RiskAdjReturn.LessThan(s.pending[worst].RiskAdjReturn) {
			worst = i
		}
	}
	return worst
}

// Run drains the queue until the context is cancelled. One final drain runs
// on shutdown so records accepted before cancellation are still dispatched.
func (s *OpportunityService) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.drain(drainCtx)
			cancel()
			return ctx.Err()
		case <-s.wake:
			s.drain(ctx)
		}
	}
}

// drain takes the pending batch, persists it in one round trip, and
// dispatches every record to the remaining surfaces.
func (s *OpportunityService) drain(ctx context.Context) {
	s.mu.Lock()
	batch := s.pending
	s.pending = make([]domain.Opportunity, 0, s.cfg.QueueSize)
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	if s.store != nil {
		if err := s.store.InsertBatch(ctx, batch); err != nil {
			s.logger.ErrorContext(ctx, "opportunity batch insert failed",
				slog.Int("records", len(batch)),
				slog.Any("error", err),
			)
		}
	}

	for i := range batch {
		s.dispatch(ctx, batch[i])
	}
}

// dispatch fans one opportunity out to the per-record surfaces; the store
// write happens per batch in drain. Surface failures are logged and do not
// block the remaining surfaces.
func (s *OpportunityService) dispatch(ctx context.Context, opp domain.Opportunity) {
	s.logger.InfoContext(ctx, "opportunity",
		slog.String("id", opp.ID),
		slog.String("path", opp.Path),
		slog.String("input", opp.InputQty.String()+" "+string(opp.InputAsset)),
		slog.String("gross_return", opp.GrossReturn.StringFixed(6)),
		slog.String("fee_adjusted_return", opp.FeeAdjReturn.StringFixed(6)),
		slog.String("risk_adjusted_return", opp.RiskAdjReturn.StringFixed(6)),
		slog.String("limited_by", string(opp.LimitedBy)),
	)

	s.mu.Lock()
	s.ring[s.ringNext] = opp
	s.ringNext = (s.ringNext + 1) % len(s.ring)
	if s.ringNext == 0 {
		s.ringFull = true
	}
	s.mu.Unlock()

	if s.bus != nil {
		payload, err := json.Marshal(&opp)
		if err != nil {
			s.logger.ErrorContext(ctx, "opportunity marshal failed", slog.Any("error", err))
		} else {
			if err := s.bus.Publish(ctx, s.cfg.Channel, payload); err != nil {
				s.logger.ErrorContext(ctx, "bus publish failed", slog.Any("error", err))
			}
			if s.cfg.Stream != "" {
				if err := s.bus.StreamAppend(ctx, s.cfg.Stream, payload); err != nil {
					s.logger.ErrorContext(ctx, "stream append failed", slog.Any("error", err))
				}
			}
		}
	}

	if s.archiver != nil {
		s.archiver.Add(opp)
	}

	if s.alerter != nil {
		s.alerter.Opportunity(ctx, opp)
	}
}

// Recent returns up to limit of the most recently dispatched opportunities,
// newest first.
func (s *OpportunityService) Recent(limit int) []domain.Opportunity {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.ringNext
	if s.ringFull {
		size = len(s.ring)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]domain.Opportunity, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (s.ringNext - i + len(s.ring)) % len(s.ring)
		out = append(out, s.ring[idx])
	}
	return out
}

// toOpportunity converts a qualified evaluation into its outbound form.
func toOpportunity(ev *domain.Evaluation, now time.Time) domain.Opportunity {
	legs := make([]domain.OpportunityLeg, len(ev.Legs))
	for i, leg := range ev.Legs {
		legs[i] = domain.OpportunityLeg{
			Exchange: leg.Edge.Market.Exchange,
			Symbol:   leg.Edge.Market.Symbol,
			Side:     leg.Edge.Side,
		}
	}
	detectedAt := ev.EvaluatedAt
	if detectedAt.IsZero() {
		detectedAt = now
	}
	return domain.Opportunity{
		ID:            uuid.Must(uuid.NewRandom()).String(),
		Path:          ev.Cycle.String(),
		Legs:          legs,
		InputAsset:    ev.InputAsset,
		InputQty:      ev.InputQty,
		OutputQty:     ev.OutputQty,
		GrossReturn:   ev.GrossReturn,
		FeeAdjReturn:  ev.FeeAdjReturn,
		RiskAdjReturn: ev.RiskAdjReturn,
		WorstLegFill:  ev.WorstLegFill,
		LimitedBy:     ev.LimitedBy,
		DetectedAt:    detectedAt,
	}
}

// Compile-time interface check.
var _ domain.OpportunitySink = (*OpportunityService)(nil)
