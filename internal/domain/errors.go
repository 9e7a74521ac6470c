package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicateMarket = errors.New("duplicate market")
	ErrInvalidMarket   = errors.New("invalid market descriptor")
	ErrStale           = errors.New("orderbook stale")
	ErrQuarantined     = errors.New("symbol quarantined")
	ErrSequenceGap     = errors.New("sequence gap")
	ErrSequenceReplay  = errors.New("sequence replay")
	ErrCrossedBook     = errors.New("crossed book")
	ErrWSDisconnect    = errors.New("websocket disconnected")
)
