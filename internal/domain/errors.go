package domain

import "errors"

var (
	// ErrInvalidQuote marks unusable market data (zero/negative price); the
	// market is skipped for the cycle, never fatal.
	ErrInvalidQuote = errors.New("invalid quote")
	// ErrSubmission marks a failed order submission (network, signing,
	// rejection); counted toward the consecutive-error streak.
	ErrSubmission = errors.New("order submission failed")
	// ErrCircuitOpen means the consecutive-error threshold was reached; the
	// loop halts and the process must be restarted after operator review.
	ErrCircuitOpen = errors.New("circuit open: consecutive error limit reached")

	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrSigningFailed = errors.New("signing failed")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrLockHeld      = errors.New("lock already held")
	ErrCacheMiss     = errors.New("cache miss")
)
