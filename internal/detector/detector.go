// Package detector evaluates binary prediction markets for pair mispricing:
// when a market's YES and NO asks sum below $1, buying equal quantities of
// both locks in the gap at settlement regardless of outcome.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfold/polyarb/internal/domain"
)

// Config holds the thresholds the detector gates on. All monetary values and
// fractions are decimals so gate comparisons are exact.
type Config struct {
	TargetCombinedCost decimal.Decimal // evaluate only when pair cost is strictly below this
	MinProfitMargin    decimal.Decimal // reject plans whose expected profit is below this
	MinLiquidity       decimal.Decimal
	MaxSpendFraction   decimal.Decimal // of bankroll, per opportunity
	BalanceTolerance   decimal.Decimal // min/max leg-quantity ratio must be >= 1 - tolerance
	GasCostPerOrder    decimal.Decimal
	FeeRate            decimal.Decimal // per share of settlement payout
	MinOrderSpend      decimal.Decimal // venue minimum per leg
	ExpirySafetyMargin time.Duration   // skip markets resolving within this window
}

// Detector applies the gate sequence to market snapshots. It holds no mutable
// state: Evaluate is a pure function of the market, the bankroll, and the
// configured thresholds.
type Detector struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Detector with the given thresholds.
func New(cfg Config, logger *slog.Logger) *Detector {
	return &Detector{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "detector")),
	}
}

// Evaluate inspects one market and returns a sized Opportunity when every
// gate passes. A nil Opportunity with a nil error means no edge, the normal
// outcome for almost every market. A non-nil error wraps
// domain.ErrInvalidQuote and means the quote itself is unusable; callers
// should skip the market this cycle without counting it as a failure of
// their own.
func (d *Detector) Evaluate(ctx context.Context, m domain.Market, bankroll decimal.Decimal) (*domain.Opportunity, error) {
	now := time.Now()

	if m.Status != domain.MarketStatusActive {
		d.logger.DebugContext(ctx, "market not active",
			slog.String("market_id", m.ID),
			slog.String("status", string(m.Status)),
		)
		return nil, nil
	}
	if m.ExpiresWithin(now, d.cfg.ExpirySafetyMargin) {
		d.logger.DebugContext(ctx, "market inside expiry safety margin",
			slog.String("market_id", m.ID),
		)
		return nil, nil
	}

	if err := validQuote(m); err != nil {
		return nil, err
	}

	if m.Liquidity.LessThan(d.cfg.MinLiquidity) {
		d.logger.DebugContext(ctx, "liquidity below minimum",
			slog.String("market_id", m.ID),
			slog.String("liquidity", m.Liquidity.String()),
			slog.String("min_liquidity", d.cfg.MinLiquidity.String()),
		)
		return nil, nil
	}

	pairCost := m.PairCost()
	if pairCost.GreaterThanOrEqual(d.cfg.TargetCombinedCost) {
		d.logger.DebugContext(ctx, "pair cost above target",
			slog.String("market_id", m.ID),
			slog.String("pair_cost", pairCost.String()),
			slog.String("target", d.cfg.TargetCombinedCost.String()),
		)
		return nil, nil
	}

	plan := sizeBalanced(bankroll, d.cfg.MaxSpendFraction, m.YesPrice, m.NoPrice)
	if !plan.Qty.IsPositive() {
		d.logger.DebugContext(ctx, "bankroll too small to size a pair",
			slog.String("market_id", m.ID),
			slog.String("bankroll", bankroll.String()),
		)
		return nil, nil
	}
	if !plan.withinTolerance(d.cfg.BalanceTolerance) {
		d.logger.DebugContext(ctx, "leg quantities outside balance tolerance",
			slog.String("market_id", m.ID),
			slog.String("ratio", plan.BalanceRatio().String()),
		)
		return nil, nil
	}
	if plan.SpendYes.LessThan(d.cfg.MinOrderSpend) || plan.SpendNo.LessThan(d.cfg.MinOrderSpend) {
		d.logger.DebugContext(ctx, "leg spend below venue minimum",
			slog.String("market_id", m.ID),
			slog.String("spend_yes", plan.SpendYes.String()),
			slog.String("spend_no", plan.SpendNo.String()),
		)
		return nil, nil
	}

	profit := expectedProfit(plan, d.cfg.GasCostPerOrder, d.cfg.FeeRate)
	if profit.LessThan(d.cfg.MinProfitMargin) {
		d.logger.DebugContext(ctx, "expected profit below minimum margin",
			slog.String("market_id", m.ID),
			slog.String("expected_profit", profit.String()),
			slog.String("min_margin", d.cfg.MinProfitMargin.String()),
		)
		return nil, nil
	}

	opp := &domain.Opportunity{
		MarketID:       m.ID,
		Question:       m.Question,
		YesTokenID:     m.YesTokenID,
		NoTokenID:      m.NoTokenID,
		YesPrice:       m.YesPrice,
		NoPrice:        m.NoPrice,
		PairCost:       pairCost,
		QtyYes:         plan.Qty,
		QtyNo:          plan.Qty,
		SpendYes:       plan.SpendYes,
		SpendNo:        plan.SpendNo,
		ExpectedProfit: profit,
		DetectedAt:     now,
	}
	d.logger.InfoContext(ctx, "opportunity detected",
		slog.String("market_id", m.ID),
		slog.String("pair_cost", pairCost.String()),
		slog.String("qty", plan.Qty.String()),
		slog.String("expected_profit", profit.String()),
	)
	return opp, nil
}

// validQuote rejects quotes that cannot belong to a tradable binary market:
// each side must price strictly inside (0, 1).
func validQuote(m domain.Market) error {
	one := decimal.New(1, 0)
	if !m.YesPrice.IsPositive() || m.YesPrice.GreaterThanOrEqual(one) {
		return fmt.Errorf("detector: market %s: yes price %s out of range: %w",
			m.ID, m.YesPrice, domain.ErrInvalidQuote)
	}
	if !m.NoPrice.IsPositive() || m.NoPrice.GreaterThanOrEqual(one) {
		return fmt.Errorf("detector: market %s: no price %s out of range: %w",
			m.ID, m.NoPrice, domain.ErrInvalidQuote)
	}
	return nil
}
