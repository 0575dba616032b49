// Package ledger owns the durable record of every arbitrage position: the
// two legs, their submissions and fills, and the realized outcome. All money
// math here runs on decimals; the payout of a position is the matched pair
// count, never more.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantfold/polyarb/internal/domain"
)

// Config carries the cost parameters frozen into each position at open time,
// so a later fee or gas change never rewrites history.
type Config struct {
	GasCostPerOrder decimal.Decimal
	FeeRate         decimal.Decimal
}

// Ledger records positions and computes their realized outcomes.
type Ledger struct {
	cfg       Config
	positions domain.PositionStore
	audit     domain.AuditStore
	logger    *slog.Logger
}

// New creates a Ledger backed by the given stores.
func New(cfg Config, positions domain.PositionStore, audit domain.AuditStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		cfg:       cfg,
		positions: positions,
		audit:     audit,
		logger:    logger,
	}
}

// OpenPosition persists a new pending position for the opportunity, with one
// pending order per leg. GasCost is the total for both orders.
func (l *Ledger) OpenPosition(ctx context.Context, opp domain.Opportunity) (domain.Position, error) {
	now := time.Now().UTC()
	posID := uuid.Must(uuid.NewRandom()).String()

	pos := domain.Position{
		ID:       posID,
		MarketID: opp.MarketID,
		Question: opp.Question,
		YesOrder: newLegOrder(posID, opp.MarketID, opp.YesTokenID, domain.SideYes, opp.QtyYes, opp.YesPrice, now),
		NoOrder:  newLegOrder(posID, opp.MarketID, opp.NoTokenID, domain.SideNo, opp.QtyNo, opp.NoPrice, now),
		PairCost: opp.PairCost,
		GasCost:  l.cfg.GasCostPerOrder.Mul(decimal.New(2, 0)),
		FeeRate:  l.cfg.FeeRate,
		Status:   domain.PositionStatusPending,

		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := l.positions.Create(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("ledger: create position: %w", err)
	}

	if auditErr := l.audit.Log(ctx, "position_opened", map[string]any{
		"position_id":     pos.ID,
		"market":          pos.MarketID,
		"pair_cost":       pos.PairCost.String(),
		"qty":             opp.QtyYes.String(),
		"expected_profit": opp.ExpectedProfit.String(),
	}); auditErr != nil {
		l.logger.WarnContext(ctx, "ledger: audit log failed",
			slog.String("position_id", pos.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	l.logger.InfoContext(ctx, "ledger: position opened",
		slog.String("position_id", pos.ID),
		slog.String("market", pos.MarketID),
		slog.String("pair_cost", pos.PairCost.String()),
	)
	return pos, nil
}

func newLegOrder(posID, marketID, tokenID string, side domain.Side, qty, limit decimal.Decimal, now time.Time) domain.Order {
	return domain.Order{
		ID:           uuid.Must(uuid.NewRandom()).String(),
		PositionID:   posID,
		MarketID:     marketID,
		TokenID:      tokenID,
		Side:         side,
		RequestedQty: qty,
		LimitPrice:   limit,
		Status:       domain.OrderStatusPending,
		UpdatedAt:    now,
	}
}

// Get returns the position with the given ID.
func (l *Ledger) Get(ctx context.Context, posID string) (domain.Position, error) {
	pos, err := l.positions.GetByID(ctx, posID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("ledger: get position %q: %w", posID, err)
	}
	return pos, nil
}

// RecordSubmission stamps a leg with the venue's order hash and the
// submission time.
func (l *Ledger) RecordSubmission(ctx context.Context, posID string, side domain.Side, handle domain.OrderHandle) error {
	pos, err := l.positions.GetByID(ctx, posID)
	if err != nil {
		return fmt.Errorf("ledger: get position %q: %w", posID, err)
	}

	now := time.Now().UTC()
	leg := pos.Leg(side)
	leg.Hash = handle.Hash
	leg.SubmittedAt = &now
	leg.UpdatedAt = now

	if err := l.positions.UpdateOrder(ctx, *leg); err != nil {
		return fmt.Errorf("ledger: record submission for %q/%s: %w", posID, side, err)
	}
	return nil
}

// RecordFill updates a leg with the latest fill information from the venue.
// Fills are recorded per leg and independently; a partially filled or still
// pending leg is a normal intermediate state.
func (l *Ledger) RecordFill(ctx context.Context, posID string, side domain.Side, fill domain.Fill) error {
	pos, err := l.positions.GetByID(ctx, posID)
	if err != nil {
		return fmt.Errorf("ledger: get position %q: %w", posID, err)
	}

	leg := pos.Leg(side)
	leg.FilledQty = fill.FilledQty
	if fill.AvgPrice.IsPositive() {
		leg.AvgFillPrice = fill.AvgPrice
	}
	leg.Status = fill.Status
	leg.UpdatedAt = time.Now().UTC()

	if err := l.positions.UpdateOrder(ctx, *leg); err != nil {
		return fmt.Errorf("ledger: record fill for %q/%s: %w", posID, side, err)
	}

	l.logger.DebugContext(ctx, "ledger: fill recorded",
		slog.String("position_id", posID),
		slog.String("side", string(side)),
		slog.String("filled_qty", fill.FilledQty.String()),
		slog.String("status", string(fill.Status)),
	)
	return nil
}

// ComputeRealizedProfit settles the arithmetic for a position from its
// recorded fills and persists the outcome. The payout counts only matched
// pairs: min(filled_yes, filled_no). Unpaired excess on either side is
// persisted as ImbalanceQty and surfaced as a warning, never dropped.
//
// The position moves to open when its legs are balanced, imbalanced when
// excess remains or a leg was rejected.
func (l *Ledger) ComputeRealizedProfit(ctx context.Context, posID string) (decimal.Decimal, error) {
	pos, err := l.positions.GetByID(ctx, posID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: get position %q: %w", posID, err)
	}

	profit, imbalance := realizedOutcome(pos)

	status := domain.PositionStatusOpen
	if imbalance.IsPositive() || pos.YesOrder.Status == domain.OrderStatusRejected || pos.NoOrder.Status == domain.OrderStatusRejected {
		status = domain.PositionStatusImbalanced
	}

	if err := l.positions.SetOutcome(ctx, posID, imbalance, profit, status, nil); err != nil {
		return decimal.Zero, fmt.Errorf("ledger: set outcome for %q: %w", posID, err)
	}

	if imbalance.IsPositive() {
		l.logger.WarnContext(ctx, "ledger: unpaired fill quantity",
			slog.String("position_id", posID),
			slog.String("imbalance_qty", imbalance.String()),
			slog.String("filled_yes", pos.YesOrder.FilledQty.String()),
			slog.String("filled_no", pos.NoOrder.FilledQty.String()),
		)
	}

	if auditErr := l.audit.Log(ctx, "position_reconciled", map[string]any{
		"position_id":     posID,
		"status":          string(status),
		"realized_profit": profit.String(),
		"imbalance_qty":   imbalance.String(),
	}); auditErr != nil {
		l.logger.WarnContext(ctx, "ledger: audit log failed",
			slog.String("position_id", posID),
			slog.String("error", auditErr.Error()),
		)
	}

	l.logger.InfoContext(ctx, "ledger: realized outcome",
		slog.String("position_id", posID),
		slog.String("status", string(status)),
		slog.String("realized_profit", profit.String()),
		slog.String("imbalance_qty", imbalance.String()),
	)
	return profit, nil
}

// realizedOutcome computes (profit, imbalance) for a position from filled
// quantities only:
//
//	payout    = min(filled_yes, filled_no)         // matched pairs pay $1
//	profit    = payout - cost_yes - cost_no - gas - fee_rate*payout
//	imbalance = |filled_yes - filled_no|
//
// Costs use the average fill price when the venue reported one, otherwise
// the limit price.
func realizedOutcome(pos domain.Position) (profit, imbalance decimal.Decimal) {
	payout := pos.MatchedQty()
	cost := pos.YesOrder.FilledCost().Add(pos.NoOrder.FilledCost())
	fee := pos.FeeRate.Mul(payout)
	profit = payout.Sub(cost).Sub(pos.GasCost).Sub(fee)
	imbalance = pos.UnpairedQty()
	return profit, imbalance
}

// MarkImbalanced flags a position whose legs diverged, typically after one
// submission failed while the other went through. No automatic unwind is
// attempted; the flag is for the operator.
func (l *Ledger) MarkImbalanced(ctx context.Context, posID string) error {
	if err := l.positions.UpdateStatus(ctx, posID, domain.PositionStatusImbalanced); err != nil {
		return fmt.Errorf("ledger: mark imbalanced %q: %w", posID, err)
	}

	if auditErr := l.audit.Log(ctx, "position_imbalanced", map[string]any{
		"position_id": posID,
	}); auditErr != nil {
		l.logger.WarnContext(ctx, "ledger: audit log failed",
			slog.String("position_id", posID),
			slog.String("error", auditErr.Error()),
		)
	}

	l.logger.WarnContext(ctx, "ledger: position imbalanced",
		slog.String("position_id", posID),
	)
	return nil
}

// MarkSettled records that the market resolved and the position's payout has
// been redeemed.
func (l *Ledger) MarkSettled(ctx context.Context, posID string) error {
	pos, err := l.positions.GetByID(ctx, posID)
	if err != nil {
		return fmt.Errorf("ledger: get position %q: %w", posID, err)
	}

	now := time.Now().UTC()
	if err := l.positions.SetOutcome(ctx, posID, pos.ImbalanceQty, pos.RealizedProfit, domain.PositionStatusSettled, &now); err != nil {
		return fmt.Errorf("ledger: mark settled %q: %w", posID, err)
	}

	l.logger.InfoContext(ctx, "ledger: position settled",
		slog.String("position_id", posID),
		slog.String("realized_profit", pos.RealizedProfit.String()),
	)
	return nil
}

// SettleResolved finalizes a position once its market resolved. The matched
// payout was already valued at reconcile time; unpaired excess redeems at $1
// per share when its side won and expires worthless otherwise. Redemption
// carries no venue fee.
func (l *Ledger) SettleResolved(ctx context.Context, posID string, yesWon bool) error {
	pos, err := l.positions.GetByID(ctx, posID)
	if err != nil {
		return fmt.Errorf("ledger: get position %q: %w", posID, err)
	}

	profit := pos.RealizedProfit
	redeemed := decimal.Zero
	if pos.ImbalanceQty.IsPositive() {
		excessOnYes := pos.YesOrder.FilledQty.GreaterThan(pos.NoOrder.FilledQty)
		if excessOnYes == yesWon {
			redeemed = pos.ImbalanceQty
			profit = profit.Add(redeemed)
		}
	}

	now := time.Now().UTC()
	if err := l.positions.SetOutcome(ctx, posID, pos.ImbalanceQty, profit, domain.PositionStatusSettled, &now); err != nil {
		return fmt.Errorf("ledger: settle %q: %w", posID, err)
	}

	if auditErr := l.audit.Log(ctx, "position_settled", map[string]any{
		"position_id":     posID,
		"yes_won":         yesWon,
		"redeemed_excess": redeemed.String(),
		"realized_profit": profit.String(),
	}); auditErr != nil {
		l.logger.WarnContext(ctx, "ledger: audit log failed",
			slog.String("position_id", posID),
			slog.String("error", auditErr.Error()),
		)
	}

	l.logger.InfoContext(ctx, "ledger: position settled on resolution",
		slog.String("position_id", posID),
		slog.Bool("yes_won", yesWon),
		slog.String("redeemed_excess", redeemed.String()),
		slog.String("realized_profit", profit.String()),
	)
	return nil
}

// OpenPositions returns every position that has not settled yet.
func (l *Ledger) OpenPositions(ctx context.Context) ([]domain.Position, error) {
	positions, err := l.positions.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: list open positions: %w", err)
	}
	return positions, nil
}

// ListPendingOrders returns all orders still awaiting fills, across
// positions, for the reconcile pass.
func (l *Ledger) ListPendingOrders(ctx context.Context) ([]domain.Order, error) {
	orders, err := l.positions.ListPendingOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: list pending orders: %w", err)
	}
	return orders, nil
}

// OpenExposure returns the total capital committed to positions that have
// not settled, used to cap new spending against the bankroll.
func (l *Ledger) OpenExposure(ctx context.Context) (decimal.Decimal, error) {
	spend, err := l.positions.OpenSpend(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: open exposure: %w", err)
	}
	return spend, nil
}

// HasOpenPosition reports whether the market already has a live position, so
// the executor never doubles up on one market.
func (l *Ledger) HasOpenPosition(ctx context.Context, marketID string) (bool, error) {
	ok, err := l.positions.HasOpenForMarket(ctx, marketID)
	if err != nil {
		return false, fmt.Errorf("ledger: has open for %q: %w", marketID, err)
	}
	return ok, nil
}
