package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/quantfold/polyarb/internal/domain"
)

// MarketCache implements domain.MarketCache on Redis. Entries carry a TTL so
// a market whose quotes stop refreshing drops out of snapshots instead of
// going stale.
//
// Key schema:
//
//	market:{id}            - hash with field "data" containing JSON
//	market:token:{tokenID} - string value of the market ID
//	markets:index          - set of cached market IDs, pruned on List
type MarketCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ domain.MarketCache = (*MarketCache)(nil)

// NewMarketCache creates a MarketCache with the given entry TTL.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	return &MarketCache{rdb: c.Underlying(), ttl: ttl}
}

const marketIndexKey = "markets:index"

func marketKey(id string) string       { return "market:" + id }
func marketTokenKey(tok string) string { return "market:token:" + tok }

// Set stores one market with its token index entries.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	pipe := mc.rdb.TxPipeline()
	if err := mc.queueSet(ctx, pipe, market); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %s: %w", market.ID, err)
	}
	return nil
}

// SetBatch stores a discovery or refresh result in one round trip.
func (mc *MarketCache) SetBatch(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}

	pipe := mc.rdb.TxPipeline()
	for _, m := range markets {
		if err := mc.queueSet(ctx, pipe, m); err != nil {
			return err
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set %d markets: %w", len(markets), err)
	}
	return nil
}

func (mc *MarketCache) queueSet(ctx context.Context, pipe redis.Pipeliner, market domain.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", market.ID, err)
	}

	key := marketKey(market.ID)
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, mc.ttl)
	for _, tokenID := range []string{market.YesTokenID, market.NoTokenID} {
		if tokenID == "" {
			continue
		}
		pipe.Set(ctx, marketTokenKey(tokenID), market.ID, mc.ttl)
	}
	pipe.SAdd(ctx, marketIndexKey, market.ID)
	return nil
}

// Get retrieves a market by ID. Expired or absent entries return
// domain.ErrCacheMiss.
func (mc *MarketCache) Get(ctx context.Context, id string) (domain.Market, error) {
	data, err := mc.rdb.HGet(ctx, marketKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrCacheMiss
		}
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", id, err)
	}
	return decodeMarket(data, id)
}

func decodeMarket(data []byte, id string) (domain.Market, error) {
	var m domain.Market
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %s: %w", id, err)
	}
	return m, nil
}

// GetByToken looks up a market by either outcome token ID.
func (mc *MarketCache) GetByToken(ctx context.Context, tokenID string) (domain.Market, error) {
	marketID, err := mc.rdb.Get(ctx, marketTokenKey(tokenID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrCacheMiss
		}
		return domain.Market{}, fmt.Errorf("redis: get market by token %s: %w", tokenID, err)
	}
	return mc.Get(ctx, marketID)
}

// UpdatePrice patches one side's price in place and refreshes the entry TTL.
func (mc *MarketCache) UpdatePrice(ctx context.Context, tokenID string, price decimal.Decimal, ts time.Time) error {
	market, err := mc.GetByToken(ctx, tokenID)
	if err != nil {
		return err
	}

	switch tokenID {
	case market.YesTokenID:
		market.YesPrice = price
	case market.NoTokenID:
		market.NoPrice = price
	default:
		return domain.ErrCacheMiss
	}
	market.FetchedAt = ts

	return mc.Set(ctx, market)
}

// List returns every live cached market. Index members whose entries have
// expired are pruned as they are discovered.
func (mc *MarketCache) List(ctx context.Context) ([]domain.Market, error) {
	ids, err := mc.rdb.SMembers(ctx, marketIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list market index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := mc.rdb.Pipeline()
	gets := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		gets[i] = pipe.HGet(ctx, marketKey(id), "data")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: list markets: %w", err)
	}

	var markets []domain.Market
	var expired []any
	for i, cmd := range gets {
		data, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			expired = append(expired, ids[i])
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis: list market %s: %w", ids[i], err)
		}
		m, err := decodeMarket(data, ids[i])
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}

	if len(expired) > 0 {
		if err := mc.rdb.SRem(ctx, marketIndexKey, expired...).Err(); err != nil {
			return nil, fmt.Errorf("redis: prune market index: %w", err)
		}
	}
	return markets, nil
}

// Invalidate removes a market and its token index entries.
func (mc *MarketCache) Invalidate(ctx context.Context, id string) error {
	market, err := mc.Get(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrCacheMiss) {
		return fmt.Errorf("redis: invalidate market %s: %w", id, err)
	}

	pipe := mc.rdb.TxPipeline()
	pipe.Del(ctx, marketKey(id))
	pipe.SRem(ctx, marketIndexKey, id)
	if err == nil {
		for _, tokenID := range []string{market.YesTokenID, market.NoTokenID} {
			if tokenID == "" {
				continue
			}
			pipe.Del(ctx, marketTokenKey(tokenID))
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", id, err)
	}
	return nil
}
