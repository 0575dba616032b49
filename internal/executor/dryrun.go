package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/quantfold/polyarb/internal/domain"
)

// DryRunGateway simulates the venue: every submission is acknowledged with a
// synthetic handle and reports an immediate full fill at its limit price.
// The whole pipeline runs end to end with no order leaving the process.
type DryRunGateway struct {
	mu     sync.Mutex
	orders map[string]domain.OrderRequest
	logger *slog.Logger
}

// NewDryRunGateway creates a dry-run gateway.
func NewDryRunGateway(logger *slog.Logger) *DryRunGateway {
	return &DryRunGateway{
		orders: make(map[string]domain.OrderRequest),
		logger: logger.With(slog.String("component", "dryrun_gateway")),
	}
}

// Submit logs the would-be order and returns a synthetic handle.
func (g *DryRunGateway) Submit(ctx context.Context, req domain.OrderRequest) (domain.OrderHandle, error) {
	hash := "dryrun-" + uuid.New().String()

	g.mu.Lock()
	g.orders[hash] = req
	g.mu.Unlock()

	g.logger.InfoContext(ctx, "dry run: order submitted",
		slog.String("market_id", req.MarketID),
		slog.String("token_id", req.TokenID),
		slog.String("side", string(req.Side)),
		slog.String("qty", req.Qty.String()),
		slog.String("limit_price", req.LimitPrice.String()),
	)
	return domain.OrderHandle{Hash: hash}, nil
}

// PollFill reports a complete fill at the limit price for any order this
// gateway has seen.
func (g *DryRunGateway) PollFill(_ context.Context, handle domain.OrderHandle) (domain.Fill, error) {
	g.mu.Lock()
	req, ok := g.orders[handle.Hash]
	g.mu.Unlock()

	if !ok {
		return domain.Fill{}, fmt.Errorf("dry run: unknown order %q: %w", handle.Hash, domain.ErrNotFound)
	}
	return domain.Fill{
		FilledQty: req.Qty,
		AvgPrice:  req.LimitPrice,
		Status:    domain.OrderStatusFilled,
	}, nil
}
