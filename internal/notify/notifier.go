// Package notify delivers operator alerts (detected opportunities, symbol
// quarantines, feed loss) to one or more channels such as Telegram and
// Discord. Alerts are filtered by event type and, for opportunities, by a
// minimum profit margin so chat channels are not flooded by marginal hits.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// Event types recognized by the notifier filter.
const (
	EventOpportunity = "opportunity"
	EventQuarantine  = "quarantine"
	EventFeedDown    = "feed_down"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches alerts to one or more Senders, filtered by event
// type. Delivery failures are logged, never propagated to the scan path.
type Notifier struct {
	senders   []Sender
	events    map[string]bool // allowed event types; empty allows all
	minMargin decimal.Decimal // opportunity alert threshold
	logger    *slog.Logger
}

// NewNotifier creates a Notifier that delivers to the given senders. Only
// events whose type appears in the events slice are forwarded; an empty
// slice allows all. minMargin gates opportunity alerts on
// risk_adjusted_return - 1.
func NewNotifier(senders []Sender, events []string, minMargin decimal.Decimal, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders:   senders,
		events:    allowed,
		minMargin: minMargin,
		logger:    logger.With(slog.String("component", "notifier")),
	}
}

// Opportunity alerts on a qualified opportunity whose margin clears the
// configured alert threshold.
func (n *Notifier) Opportunity(ctx context.Context, opp domain.Opportunity) {
	if opp.Margin().LessThan(n.minMargin) {
		return
	}

	title := fmt.Sprintf("Arb opportunity %s", opp.Path)
	var b strings.Builder
	fmt.Fprintf(&b, "input: %s %s\n", opp.InputQty, opp.InputAsset)
	fmt.Fprintf(&b, "output: %s %s\n", opp.OutputQty.StringFixed(8), opp.InputAsset)
	fmt.Fprintf(&b, "risk-adjusted return: %s (margin %s%%)\n",
		opp.RiskAdjReturn.StringFixed(6),
		opp.Margin().Mul(decimal.NewFromInt(100)).StringFixed(4),
	)
	for _, leg := range opp.Legs {
		fmt.Fprintf(&b, "%s %s %s\n", leg.Side, leg.Symbol, leg.Exchange)
	}

	n.notify(ctx, EventOpportunity, title, b.String())
}

// Quarantine alerts on a symbol quarantined after an invariant violation.
// These indicate a bug and bypass the margin gate.
func (n *Notifier) Quarantine(ctx context.Context, ev domain.BookEvent) {
	title := fmt.Sprintf("Symbol quarantined: %s %s", ev.Exchange, ev.Symbol)
	message := fmt.Sprintf("reason: %s\nsequence: %d\nscanning continues for other symbols", ev.Reason, ev.Sequence)
	n.notify(ctx, EventQuarantine, title, message)
}

// FeedDown alerts when an exchange ingress terminates with an error.
func (n *Notifier) FeedDown(ctx context.Context, exchange string, err error) {
	title := fmt.Sprintf("Feed down: %s", exchange)
	n.notify(ctx, EventFeedDown, title, err.Error())
}

// notify applies the event filter and dispatches to all senders. Errors
// from individual senders are logged; a single sender failure does not
// prevent delivery to the remaining senders.
func (n *Notifier) notify(ctx context.Context, event, title, message string) {
	if len(n.senders) == 0 {
		return
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return
	}

	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
}
