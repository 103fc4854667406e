package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrUnparsable     = errors.New("payload is not transaction-shaped")
	ErrStalePrice     = errors.New("price sample is stale")
	ErrCircuitOpen    = errors.New("aggregator circuit open")
	ErrQuoteExpired   = errors.New("warmed quote expired")
	ErrBalanceDrift   = errors.New("balance drifted past quote snapshot")
	ErrSellInProgress = errors.New("sell already in progress for mint")
	ErrRateLimited    = errors.New("rate limited")
	ErrWSDisconnect   = errors.New("websocket disconnected")
	ErrNoOpenPosition = errors.New("no open position for mint")
	ErrLockHeld       = errors.New("lock already held")
)
