// Package controller drives the scan-execute loop and owns the
// error-recovery state machine: clean cycles poll at a fixed interval,
// failing cycles back off exponentially, and a long enough failure streak
// opens the circuit and halts the process.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfold/polyarb/internal/detector"
	"github.com/quantfold/polyarb/internal/domain"
	"github.com/quantfold/polyarb/internal/executor"
)

// MarketSource supplies the market snapshot each cycle scans. Implementations
// serve from a local cache; a snapshot call must not fan out to the venue.
type MarketSource interface {
	Snapshot(ctx context.Context) ([]domain.Market, error)
}

// Config holds the loop cadence and circuit-breaker limits.
type Config struct {
	BankrollUSD          decimal.Decimal
	PollInterval         time.Duration
	MaxBackoff           time.Duration
	MaxConsecutiveErrors int
}

// Controller runs scan-execute cycles. Exactly one Controller loop runs per
// bankroll; cycles never overlap.
type Controller struct {
	cfg      Config
	markets  MarketSource
	detector *detector.Detector
	executor *executor.Executor
	logger   *slog.Logger
}

// New creates a Controller.
func New(cfg Config, markets MarketSource, det *detector.Detector, exec *executor.Executor, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:      cfg,
		markets:  markets,
		detector: det,
		executor: exec,
		logger:   logger.With(slog.String("component", "controller")),
	}
}

// RunCycle performs one full cycle against the given state and returns the
// cycle's result plus the next state. A cycle is: reconcile pending fills,
// snapshot markets, evaluate each, execute what passes. Infrastructure and
// submission errors fail the cycle; an invalid quote only skips its market.
func (c *Controller) RunCycle(ctx context.Context, state domain.ControllerState) (domain.CycleResult, domain.ControllerState) {
	var res domain.CycleResult

	if _, err := c.executor.Reconcile(ctx); err != nil {
		c.logger.ErrorContext(ctx, "reconcile failed",
			slog.String("error", err.Error()),
		)
		res.Errors++
	}

	markets, err := c.markets.Snapshot(ctx)
	if err != nil {
		c.logger.ErrorContext(ctx, "market snapshot failed",
			slog.String("error", err.Error()),
		)
		res.Errors++
	}

	for _, m := range markets {
		if ctx.Err() != nil {
			break
		}

		opp, err := c.detector.Evaluate(ctx, m, c.cfg.BankrollUSD)
		if err != nil {
			// Bad quotes are a property of the market, not of this loop;
			// skip without feeding the circuit breaker.
			if errors.Is(err, domain.ErrInvalidQuote) {
				c.logger.WarnContext(ctx, "skipping market with invalid quote",
					slog.String("market_id", m.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			c.logger.ErrorContext(ctx, "evaluate failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			res.Errors++
			continue
		}
		if opp == nil {
			continue
		}
		res.OpportunitiesFound++

		pos, err := c.executor.Execute(ctx, *opp)
		if err != nil {
			c.logger.ErrorContext(ctx, "execution failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			res.Errors++
			continue
		}
		if pos != nil {
			res.Executed++
		}
	}

	now := time.Now()
	if res.Errors > 0 {
		state = state.RecordFailure(now, c.cfg.MaxConsecutiveErrors)
	} else {
		state = state.RecordSuccess(now)
	}
	return res, state
}

// Run drives cycles until the context is cancelled or the circuit opens.
// After a clean cycle it sleeps the poll interval; after a failed cycle it
// sleeps the backoff delay. When the failure streak reaches the configured
// maximum it returns domain.ErrCircuitOpen; the caller is expected to exit
// loudly. Cancellation is honored between cycles, never mid-submission.
func (c *Controller) Run(ctx context.Context) error {
	state := domain.NewControllerState()

	c.logger.InfoContext(ctx, "controller started",
		slog.Duration("poll_interval", c.cfg.PollInterval),
		slog.Int("max_consecutive_errors", c.cfg.MaxConsecutiveErrors),
	)
	defer c.logger.InfoContext(ctx, "controller stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var res domain.CycleResult
		res, state = c.RunCycle(ctx, state)

		c.logger.InfoContext(ctx, "cycle complete",
			slog.Int("opportunities", res.OpportunitiesFound),
			slog.Int("executed", res.Executed),
			slog.Int("errors", res.Errors),
			slog.String("phase", string(state.Phase)),
			slog.Int("consecutive_errors", state.ConsecutiveErrors),
		)

		if state.Stopped() {
			c.logger.ErrorContext(ctx, "circuit open, halting",
				slog.Int("consecutive_errors", state.ConsecutiveErrors),
			)
			return domain.ErrCircuitOpen
		}

		delay := c.cfg.PollInterval
		if state.Phase == domain.PhaseBackoff {
			delay = state.BackoffDelay(c.cfg.PollInterval, c.cfg.MaxBackoff)
			c.logger.WarnContext(ctx, "cycle failed, backing off",
				slog.Duration("delay", delay),
				slog.Int("consecutive_errors", state.ConsecutiveErrors),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
