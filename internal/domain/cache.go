package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// MarketCache holds the tracked market snapshots between discovery rounds.
// Entries carry a TTL so a stalled refresher cannot serve hour-old quotes.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	SetBatch(ctx context.Context, markets []Market) error
	Get(ctx context.Context, id string) (Market, error)
	GetByToken(ctx context.Context, tokenID string) (Market, error)
	// UpdatePrice patches one side's price in place, e.g. from the live feed.
	UpdatePrice(ctx context.Context, tokenID string, price decimal.Decimal, ts time.Time) error
	List(ctx context.Context) ([]Market, error)
	Invalidate(ctx context.Context, id string) error
}

// RateLimiter provides distributed rate limiting for gateway calls.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking. The trade loop holds a runner
// lock so two processes can never trade the same bankroll concurrently.
type LockManager interface {
	// Acquire takes the lock for at most ttl; the returned unlock releases
	// it early and is idempotent.
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	// Hold takes the lock and keeps extending it until release is called,
	// for holders that outlive any sensible ttl.
	Hold(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}
