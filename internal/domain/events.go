package domain

import "time"

// BookEventType classifies book-cache lifecycle events surfaced to the host.
type BookEventType string

const (
	// BookEventStale marks a recoverable transition to stale (sequence gap,
	// crossed data from the exchange, feed loss).
	BookEventStale BookEventType = "stale"
	// BookEventRecovered marks a symbol cleared by a fresh snapshot.
	BookEventRecovered BookEventType = "recovered"
	// BookEventQuarantined marks a permanent stale transition caused by an
	// internal invariant violation. Scanning continues for other symbols.
	BookEventQuarantined BookEventType = "quarantined"
)

// BookEvent is a structured cache event. Quarantine events indicate a bug
// and are raised to the host; stale/recovered events are informational.
type BookEvent struct {
	Type     BookEventType `json:"type"`
	Exchange string        `json:"exchange"`
	Symbol   string        `json:"symbol"`
	Reason   string        `json:"reason"`
	Sequence uint64        `json:"sequence"`
	At       time.Time     `json:"at"`
}

// ResyncRequest instructs the feed that owns (Exchange, Symbol) to re-send
// a full snapshot. Requests are deduplicated per symbol until a snapshot
// arrives.
type ResyncRequest struct {
	Exchange string
	Symbol   string
	Reason   string
}
