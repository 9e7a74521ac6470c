package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

type captureSender struct {
	mu     sync.Mutex
	name   string
	titles []string
	err    error
}

func (s *captureSender) Send(ctx context.Context, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.titles = append(s.titles, title)
	return nil
}

func (s *captureSender) Name() string { return s.name }

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.titles)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func opp(riskAdj string) domain.Opportunity {
	return domain.Opportunity{
		ID:            "test",
		Path:          "USDC->BTC->USDC",
		InputAsset:    "USDC",
		InputQty:      dec("1000"),
		OutputQty:     dec("1000").Mul(dec(riskAdj)),
		RiskAdjReturn: dec(riskAdj),
		DetectedAt:    time.Now(),
	}
}

func TestOpportunityMarginGate(t *testing.T) {
	tests := []struct {
		name      string
		minMargin string
		riskAdj   string
		wantSent  bool
	}{
		{"above threshold", "0.002", "1.005", true},
		{"exactly threshold", "0.002", "1.002", true},
		{"below threshold", "0.002", "1.001", false},
		{"zero threshold sends all", "0", "1.000001", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &captureSender{name: "capture"}
			n := NewNotifier([]Sender{sender}, nil, dec(tt.minMargin), discardLogger())

			n.Opportunity(context.Background(), opp(tt.riskAdj))

			if got := sender.count() == 1; got != tt.wantSent {
				t.Errorf("sent = %v, want %v", got, tt.wantSent)
			}
		})
	}
}

func TestEventFilter(t *testing.T) {
	sender := &captureSender{name: "capture"}
	n := NewNotifier([]Sender{sender}, []string{EventQuarantine}, decimal.Zero, discardLogger())

	ctx := context.Background()
	n.Opportunity(ctx, opp("1.5"))
	n.FeedDown(ctx, "binance", errors.New("gone"))
	if sender.count() != 0 {
		t.Fatalf("filtered events delivered: %d", sender.count())
	}

	n.Quarantine(ctx, domain.BookEvent{
		Type: domain.BookEventQuarantined, Exchange: "binance", Symbol: "BTC/USDC",
		Reason: "crossed book served as fresh", Sequence: 42,
	})
	if sender.count() != 1 {
		t.Fatalf("quarantine not delivered, sent = %d", sender.count())
	}
}

func TestSenderFailureDoesNotBlockOthers(t *testing.T) {
	failing := &captureSender{name: "failing", err: errors.New("unreachable")}
	working := &captureSender{name: "working"}
	n := NewNotifier([]Sender{failing, working}, nil, decimal.Zero, discardLogger())

	n.FeedDown(context.Background(), "bybit", errors.New("read loop exited"))

	if working.count() != 1 {
		t.Errorf("working sender got %d messages, want 1", working.count())
	}
}

func TestQuarantineBypassesMarginGate(t *testing.T) {
	sender := &captureSender{name: "capture"}
	n := NewNotifier([]Sender{sender}, nil, dec("0.5"), discardLogger())

	n.Quarantine(context.Background(), domain.BookEvent{
		Type: domain.BookEventQuarantined, Exchange: "binance", Symbol: "ETH/USDC",
	})

	if sender.count() != 1 {
		t.Errorf("quarantine gated by margin, sent = %d", sender.count())
	}
}
