package domain

import "context"

// SignalBus provides pub/sub fan-out and durable stream appends. The scanner
// publishes qualified opportunities for live subscribers (websocket bridge)
// and appends them to a stream for audit replay.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
