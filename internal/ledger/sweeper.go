package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/quantfold/polyarb/internal/domain"
	"github.com/quantfold/polyarb/internal/platform/polymarket"
)

// Resolver reports whether a market has resolved and which side won. The
// Gamma client satisfies it.
type Resolver interface {
	GetMarketResolution(ctx context.Context, marketID string) (polymarket.MarketResolution, error)
}

// Sweeper settles positions whose markets have resolved. It polls the open
// set on a fixed cadence; every resolved position is finalized through
// SettleResolved and drops out of the set.
type Sweeper struct {
	ledger   *Ledger
	resolver Resolver
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper polling at the given interval.
func NewSweeper(l *Ledger, resolver Resolver, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &Sweeper{
		ledger:   l,
		resolver: resolver,
		interval: interval,
		logger:   logger.With(slog.String("component", "sweeper")),
	}
}

// Run polls until the context is cancelled. Call in a goroutine.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "settlement sweeper started",
		slog.Duration("interval", s.interval),
	)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.ErrorContext(ctx, "settlement sweep failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Sweep runs one pass over the open positions. A failed resolution lookup
// skips its position until the next pass; only listing the open set fails
// the sweep itself.
func (s *Sweeper) Sweep(ctx context.Context) error {
	positions, err := s.ledger.OpenPositions(ctx)
	if err != nil {
		return err
	}
	for _, pos := range positions {
		// Pending legs still belong to the executor's reconcile pass.
		if pos.Status == domain.PositionStatusPending {
			continue
		}
		res, err := s.resolver.GetMarketResolution(ctx, pos.MarketID)
		if err != nil {
			s.logger.DebugContext(ctx, "resolution fetch failed",
				slog.String("market_id", pos.MarketID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !res.Resolved {
			continue
		}
		if err := s.ledger.SettleResolved(ctx, pos.ID, res.YesWon); err != nil {
			s.logger.ErrorContext(ctx, "settle on resolution failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}
