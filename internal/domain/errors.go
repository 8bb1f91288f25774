package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrInvalidConfig    = errors.New("invalid strategy configuration")
	ErrPriceUnavailable = errors.New("price unavailable")
	ErrRateLimited      = errors.New("rate limited")
	ErrLockHeld         = errors.New("lock already held")
	ErrDuplicateOrder   = errors.New("duplicate order request")
	ErrWSDisconnect     = errors.New("websocket disconnected")
)
