package app

import (
	"context"
	"fmt"
	"strings"

	s3blob "github.com/quantfold/polyarb/internal/blob/s3"
	"github.com/quantfold/polyarb/internal/cache/redis"
	"github.com/quantfold/polyarb/internal/config"
	"github.com/quantfold/polyarb/internal/domain"
	"github.com/quantfold/polyarb/internal/store/postgres"
)

// Dependencies bundles the infrastructure the modes run on.
type Dependencies struct {
	Positions domain.PositionStore
	Audit     domain.AuditStore

	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	Locks       domain.LockManager

	// Archiver is wired only in archive mode.
	Archiver domain.Archiver
}

// Wire constructs the concrete stores, caches, and clients the configured
// mode needs and returns a cleanup that closes them in reverse order.
// Postgres and Redis back both modes; the blob store is dialed only for
// archival.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	pg, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pg.Close)

	if cfg.Postgres.RunMigrations {
		if err := pg.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	deps := &Dependencies{
		Positions: postgres.NewPositionStore(pg.Pool()),
		Audit:     postgres.NewAuditStore(pg.Pool()),
	}

	rc, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = rc.Close() })

	deps.MarketCache = redis.NewMarketCache(rc, cfg.Redis.MarketTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(rc)
	deps.Locks = redis.NewLockManager(rc)

	if strings.ToLower(cfg.Mode) == "archive" {
		s3c, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3c.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3 health: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3c), s3blob.NewReader(s3c), deps.Positions, deps.Audit)
	}

	return deps, cleanup, nil
}
