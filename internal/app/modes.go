package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfold/polyarb/internal/controller"
	"github.com/quantfold/polyarb/internal/crypto"
	"github.com/quantfold/polyarb/internal/detector"
	"github.com/quantfold/polyarb/internal/domain"
	"github.com/quantfold/polyarb/internal/executor"
	"github.com/quantfold/polyarb/internal/feed"
	"github.com/quantfold/polyarb/internal/ledger"
	"github.com/quantfold/polyarb/internal/platform/polymarket"
)

// TradeMode runs the scan-execute loop with its supporting workers: the
// settlement sweeper and the optional websocket price feed. The runner lock
// guarantees one trading instance per bankroll; its heartbeat keeps the
// lock alive for as long as the loop runs.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	release, err := deps.Locks.Hold(ctx, "runner", a.cfg.Redis.RunnerLockTTL.Duration)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("trade mode: another instance is trading this bankroll: %w", err)
		}
		return fmt.Errorf("trade mode: runner lock: %w", err)
	}
	defer release()

	gamma := polymarket.NewGammaClient(a.cfg.Polymarket.GammaHost)

	clobCfg := polymarket.ClobConfig{
		BaseURL:       a.cfg.Polymarket.ClobHost,
		SignatureType: a.cfg.Polymarket.SignatureType,
	}
	var (
		clob    *polymarket.ClobClient
		gateway executor.Gateway
	)
	if a.cfg.Trading.DryRun {
		// Public price endpoints only; no wallet or API credentials needed.
		clob = polymarket.NewClobClient(clobCfg, nil, nil, nil, a.logger)
		gateway = executor.NewDryRunGateway(a.logger)
		a.logger.InfoContext(ctx, "dry run enabled, orders are simulated")
	} else {
		privateKey, err := crypto.LoadKey(crypto.KeySource{
			RawPrivateKey:    a.cfg.Wallet.PrivateKey,
			EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      a.cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return fmt.Errorf("trade mode: wallet key: %w", err)
		}
		signer, err := crypto.NewSigner(privateKey, a.cfg.Polymarket.ChainID, a.cfg.Polymarket.ExchangeAddress)
		if err != nil {
			return fmt.Errorf("trade mode: signer: %w", err)
		}

		var creds *crypto.APICredentials
		if a.cfg.Polymarket.ApiKey != "" {
			creds = &crypto.APICredentials{
				Key:        a.cfg.Polymarket.ApiKey,
				Secret:     a.cfg.Polymarket.ApiSecret,
				Passphrase: a.cfg.Polymarket.ApiPassphrase,
			}
		}
		clob = polymarket.NewClobClient(clobCfg, signer, creds, deps.RateLimiter, a.logger)
		if err := clob.EnsureCredentials(ctx); err != nil {
			return fmt.Errorf("trade mode: clob credentials: %w", err)
		}
		gateway = clob
	}

	supplier := polymarket.NewSupplier(polymarket.SupplierConfig{
		DiscoveryInterval: a.cfg.Markets.DiscoveryInterval.Duration,
		RefreshInterval:   a.cfg.Markets.RefreshInterval.Duration,
		Keywords:          a.cfg.Markets.Keywords,
		EventLimit:        a.cfg.Markets.EventLimit,
		MaxTracked:        a.cfg.Markets.MaxTracked,
	}, gamma, clob, deps.MarketCache, a.logger)

	led := ledger.New(ledger.Config{
		GasCostPerOrder: a.cfg.Trading.GasCostPerOrder,
		FeeRate:         a.cfg.Trading.FeeRate,
	}, deps.Positions, deps.Audit, a.logger)

	det := detector.New(detector.Config{
		TargetCombinedCost: a.cfg.Trading.TargetCombinedCost,
		MinProfitMargin:    a.cfg.Trading.MinProfitMargin,
		MinLiquidity:       a.cfg.Trading.MinLiquidity,
		MaxSpendFraction:   a.cfg.Trading.MaxSpendFraction,
		BalanceTolerance:   a.cfg.Trading.BalanceTolerance,
		GasCostPerOrder:    a.cfg.Trading.GasCostPerOrder,
		FeeRate:            a.cfg.Trading.FeeRate,
		MinOrderSpend:      a.cfg.Trading.MinOrderSpend,
		ExpirySafetyMargin: a.cfg.Trading.ExpirySafetyMargin.Duration,
	}, a.logger)

	exec := executor.New(executor.Config{
		BankrollUSD:      a.cfg.Trading.BankrollUSD,
		MaxOpenPositions: a.cfg.Trading.MaxOpenPositions,
		FillPollInterval: a.cfg.Trading.FillPollInterval.Duration,
		FillPollTimeout:  a.cfg.Trading.FillPollTimeout.Duration,
	}, gateway, led, executor.NewCooldown(a.cfg.Trading.MarketCooldown.Duration), a.logger)

	ctrl := controller.New(controller.Config{
		BankrollUSD:          a.cfg.Trading.BankrollUSD,
		PollInterval:         a.cfg.Trading.PollInterval.Duration,
		MaxBackoff:           a.cfg.Trading.MaxBackoff.Duration,
		MaxConsecutiveErrors: a.cfg.Trading.MaxConsecutiveErrors,
	}, supplier, det, exec, a.logger)

	sweeper := ledger.NewSweeper(led, gamma, a.cfg.Trading.SettleInterval.Duration, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(ctx) })
	g.Go(func() error { return sweeper.Run(ctx) })
	if a.cfg.Feed.Enabled {
		pf := feed.NewPriceFeed(feed.PriceFeedConfig{
			WSURL:            a.cfg.Polymarket.WsHost,
			ReconnectDelay:   a.cfg.Feed.ReconnectDelay.Duration,
			ResubscribeEvery: a.cfg.Feed.ResubscribeEvery.Duration,
		}, supplier, supplier, a.logger)
		g.Go(func() error { return pf.Run(ctx) })
	}

	return g.Wait()
}

// ArchiveMode exports settled positions and aged audit entries older than
// the retention window to the blob store, deletes what was exported, and
// exits. A scheduler owns the cadence; the archive lock keeps concurrent
// runs from racing on the monthly objects.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	release, err := deps.Locks.Hold(ctx, "archive", a.cfg.Redis.RunnerLockTTL.Duration)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("archive mode: another archival run is in progress: %w", err)
		}
		return fmt.Errorf("archive mode: archive lock: %w", err)
	}
	defer release()

	cutoff := time.Now().UTC().Add(-a.cfg.S3.Retention.Duration)
	a.logger.InfoContext(ctx, "archiving ledger data",
		slog.Time("cutoff", cutoff),
		slog.String("bucket", a.cfg.S3.Bucket),
	)

	archived, err := deps.Archiver.ArchivePositions(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive mode: positions: %w", err)
	}
	var deleted int64
	if archived > 0 {
		deleted, err = deps.Positions.DeleteSettledBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("archive mode: delete settled positions: %w", err)
		}
		if deleted != archived {
			a.logger.WarnContext(ctx, "archived and deleted position counts differ",
				slog.Int64("archived", archived),
				slog.Int64("deleted", deleted),
			)
		}
	}
	a.logger.InfoContext(ctx, "positions archived",
		slog.Int64("archived", archived),
		slog.Int64("deleted", deleted),
	)

	auditArchived, err := deps.Archiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive mode: audit: %w", err)
	}
	var auditDeleted int64
	if auditArchived > 0 {
		auditDeleted, err = deps.Audit.DeleteBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("archive mode: delete audit entries: %w", err)
		}
	}
	a.logger.InfoContext(ctx, "audit log archived",
		slog.Int64("archived", auditArchived),
		slog.Int64("deleted", auditDeleted),
	)

	return nil
}
