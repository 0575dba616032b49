// Package executor turns detected opportunities into paired YES/NO orders,
// applies the pre-trade guards, and shepherds fills into the ledger. Both
// legs of a pair are submitted concurrently; their fills are independent.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/quantfold/polyarb/internal/domain"
	"github.com/quantfold/polyarb/internal/ledger"
)

// Gateway is the venue adapter the executor submits through. Submit places
// one limit order and returns a handle for fill polling; PollFill reports
// progress for a previously submitted order. Implementations: the live CLOB
// client and the dry-run simulator.
type Gateway interface {
	Submit(ctx context.Context, req domain.OrderRequest) (domain.OrderHandle, error)
	PollFill(ctx context.Context, handle domain.OrderHandle) (domain.Fill, error)
}

// Config holds the execution guard limits and fill-poll cadence.
type Config struct {
	BankrollUSD      decimal.Decimal // hard cap on total committed capital
	MaxOpenPositions int
	FillPollInterval time.Duration
	FillPollTimeout  time.Duration // per-leg polling window after submission
}

// Executor submits opportunities through a Gateway and records everything in
// the ledger. One Executor serves one bankroll.
type Executor struct {
	cfg      Config
	gateway  Gateway
	ledger   *ledger.Ledger
	cooldown *Cooldown
	logger   *slog.Logger
}

// New creates an Executor.
func New(cfg Config, gw Gateway, led *ledger.Ledger, cooldown *Cooldown, logger *slog.Logger) *Executor {
	return &Executor{
		cfg:      cfg,
		gateway:  gw,
		ledger:   led,
		cooldown: cooldown,
		logger:   logger.With(slog.String("component", "executor")),
	}
}

// Execute opens a position for the opportunity and submits both legs
// concurrently. A nil position with a nil error means a pre-trade guard
// declined the opportunity, which is a normal outcome.
//
// When one leg's submission fails the other leg is not cancelled: its fills
// are recorded as they arrive and the position is flagged imbalanced for the
// operator. The returned error carries domain.ErrSubmission in that case,
// alongside the partially executed position.
func (e *Executor) Execute(ctx context.Context, opp domain.Opportunity) (*domain.Position, error) {
	reason, err := e.preTrade(ctx, opp)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		e.logger.InfoContext(ctx, "opportunity declined",
			slog.String("market_id", opp.MarketID),
			slog.String("reason", reason),
		)
		return nil, nil
	}

	pos, err := e.ledger.OpenPosition(ctx, opp)
	if err != nil {
		return nil, fmt.Errorf("executor: open position: %w", err)
	}

	legs := []domain.OrderRequest{
		{MarketID: opp.MarketID, TokenID: opp.YesTokenID, Side: domain.SideYes, Qty: opp.QtyYes, LimitPrice: opp.YesPrice},
		{MarketID: opp.MarketID, TokenID: opp.NoTokenID, Side: domain.SideNo, Qty: opp.QtyNo, LimitPrice: opp.NoPrice},
	}

	g := new(errgroup.Group)
	for _, req := range legs {
		g.Go(func() error {
			return e.runLeg(ctx, pos.ID, req)
		})
	}
	submitErr := g.Wait()

	if submitErr != nil {
		if mErr := e.ledger.MarkImbalanced(ctx, pos.ID); mErr != nil {
			e.logger.WarnContext(ctx, "executor: mark imbalanced failed",
				slog.String("position_id", pos.ID),
				slog.String("error", mErr.Error()),
			)
		}
	}

	e.finalize(ctx, pos.ID)

	final, err := e.ledger.Get(ctx, pos.ID)
	if err != nil {
		return nil, fmt.Errorf("executor: reload position: %w", err)
	}
	return &final, submitErr
}

// preTrade applies the execution guards in order. A non-empty reason means
// the opportunity is declined; an error means a guard itself could not run.
// The cooldown is entered last so declined markets are not locked out.
func (e *Executor) preTrade(ctx context.Context, opp domain.Opportunity) (string, error) {
	has, err := e.ledger.HasOpenPosition(ctx, opp.MarketID)
	if err != nil {
		return "", fmt.Errorf("executor: open-position guard: %w", err)
	}
	if has {
		return "market already has a live position", nil
	}

	open, err := e.ledger.OpenPositions(ctx)
	if err != nil {
		return "", fmt.Errorf("executor: position-count guard: %w", err)
	}
	if len(open) >= e.cfg.MaxOpenPositions {
		return "max open positions reached", nil
	}

	exposure, err := e.ledger.OpenExposure(ctx)
	if err != nil {
		return "", fmt.Errorf("executor: exposure guard: %w", err)
	}
	if exposure.Add(opp.TotalSpend()).GreaterThan(e.cfg.BankrollUSD) {
		return "insufficient bankroll headroom", nil
	}

	if !e.cooldown.Enter(opp.MarketID) {
		return "market in cooldown", nil
	}
	return "", nil
}

// runLeg submits one leg and polls its fills. A submission failure records
// the leg as rejected and returns an error carrying domain.ErrSubmission;
// poll failures are logged only, since a pending leg is picked up by the
// next reconcile pass.
//
// Submission and its ledger record run on an uncancellable context: an order
// that leaves the process must land in the ledger even mid-shutdown. Only
// the fill polling honors cancellation.
func (e *Executor) runLeg(ctx context.Context, posID string, req domain.OrderRequest) error {
	submitCtx := context.WithoutCancel(ctx)

	handle, err := e.gateway.Submit(submitCtx, req)
	if err != nil {
		if !errors.Is(err, domain.ErrSubmission) {
			err = fmt.Errorf("%w: %v", domain.ErrSubmission, err)
		}
		if recErr := e.ledger.RecordFill(submitCtx, posID, req.Side, domain.Fill{Status: domain.OrderStatusRejected}); recErr != nil {
			e.logger.ErrorContext(ctx, "executor: record rejection failed",
				slog.String("position_id", posID),
				slog.String("side", string(req.Side)),
				slog.String("error", recErr.Error()),
			)
		}
		return fmt.Errorf("executor: submit %s leg: %w", req.Side, err)
	}

	if err := e.ledger.RecordSubmission(submitCtx, posID, req.Side, handle); err != nil {
		// The venue order is live but untracked; loud failure, operator must
		// reconcile by hand.
		e.logger.ErrorContext(ctx, "executor: record submission failed for live order",
			slog.String("position_id", posID),
			slog.String("side", string(req.Side)),
			slog.String("hash", handle.Hash),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("executor: record %s submission: %w", req.Side, err)
	}

	e.pollFills(ctx, posID, req.Side, handle)
	return nil
}

// pollFills tracks a submitted leg until it reaches a terminal status or the
// poll window closes. A leg still unfilled when the window closes simply
// stays pending; Reconcile re-polls it next cycle.
func (e *Executor) pollFills(ctx context.Context, posID string, side domain.Side, handle domain.OrderHandle) {
	deadline := time.Now().Add(e.cfg.FillPollTimeout)
	ticker := time.NewTicker(e.cfg.FillPollInterval)
	defer ticker.Stop()

	lastQty := decimal.Zero
	lastStatus := domain.OrderStatusPending
	for {
		fill, err := e.gateway.PollFill(ctx, handle)
		switch {
		case err != nil:
			e.logger.WarnContext(ctx, "executor: fill poll failed",
				slog.String("position_id", posID),
				slog.String("side", string(side)),
				slog.String("error", err.Error()),
			)
		case fill.Status != lastStatus || !fill.FilledQty.Equal(lastQty):
			if recErr := e.ledger.RecordFill(ctx, posID, side, fill); recErr != nil {
				e.logger.ErrorContext(ctx, "executor: record fill failed",
					slog.String("position_id", posID),
					slog.String("side", string(side)),
					slog.String("error", recErr.Error()),
				)
			} else {
				lastQty = fill.FilledQty
				lastStatus = fill.Status
			}
		}
		if lastStatus.Terminal() {
			return
		}
		if time.Now().After(deadline) {
			e.logger.InfoContext(ctx, "executor: fill poll window closed, leg stays pending",
				slog.String("position_id", posID),
				slog.String("side", string(side)),
				slog.String("filled_qty", lastQty.String()),
			)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// finalize computes the realized outcome once both legs are terminal. With a
// leg still pending the arithmetic waits for a later reconcile pass.
func (e *Executor) finalize(ctx context.Context, posID string) {
	pos, err := e.ledger.Get(ctx, posID)
	if err != nil {
		e.logger.WarnContext(ctx, "executor: finalize reload failed",
			slog.String("position_id", posID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !pos.YesOrder.Status.Terminal() || !pos.NoOrder.Status.Terminal() {
		return
	}
	if _, err := e.ledger.ComputeRealizedProfit(ctx, posID); err != nil {
		e.logger.WarnContext(ctx, "executor: realized profit computation failed",
			slog.String("position_id", posID),
			slog.String("error", err.Error()),
		)
	}
}

// Reconcile re-polls every order left pending by previous cycles, records
// new fills, and finalizes positions whose legs have both reached a terminal
// state. It returns the number of orders still pending afterwards.
func (e *Executor) Reconcile(ctx context.Context) (int, error) {
	e.cooldown.Sweep()

	orders, err := e.ledger.ListPendingOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("executor: reconcile: %w", err)
	}
	if len(orders) == 0 {
		return 0, nil
	}

	stillPending := 0
	settled := make(map[string]struct{})
	for _, o := range orders {
		fill, err := e.gateway.PollFill(ctx, domain.OrderHandle{Hash: o.Hash})
		if err != nil {
			e.logger.WarnContext(ctx, "executor: reconcile poll failed",
				slog.String("order_id", o.ID),
				slog.String("hash", o.Hash),
				slog.String("error", err.Error()),
			)
			stillPending++
			continue
		}
		if fill.Status != o.Status || !fill.FilledQty.Equal(o.FilledQty) {
			if err := e.ledger.RecordFill(ctx, o.PositionID, o.Side, fill); err != nil {
				e.logger.ErrorContext(ctx, "executor: reconcile record fill failed",
					slog.String("order_id", o.ID),
					slog.String("error", err.Error()),
				)
				stillPending++
				continue
			}
		}
		if fill.Status.Terminal() {
			settled[o.PositionID] = struct{}{}
		} else {
			stillPending++
		}
	}

	for posID := range settled {
		e.finalize(ctx, posID)
	}

	if stillPending > 0 {
		e.logger.DebugContext(ctx, "executor: orders still pending after reconcile",
			slog.Int("count", stillPending),
		)
	}
	return stillPending, nil
}
