package polymarket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/polyarb/internal/domain"
)

// memCache is an in-memory MarketCache for supplier tests.
type memCache struct {
	mu      sync.Mutex
	markets map[string]domain.Market
}

func newMemCache() *memCache {
	return &memCache{markets: make(map[string]domain.Market)}
}

func (c *memCache) Set(_ context.Context, m domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markets[m.ID] = m
	return nil
}

func (c *memCache) SetBatch(ctx context.Context, markets []domain.Market) error {
	for _, m := range markets {
		if err := c.Set(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (c *memCache) Get(_ context.Context, id string) (domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrCacheMiss
	}
	return m, nil
}

func (c *memCache) GetByToken(_ context.Context, tokenID string) (domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.markets {
		if m.YesTokenID == tokenID || m.NoTokenID == tokenID {
			return m, nil
		}
	}
	return domain.Market{}, domain.ErrCacheMiss
}

func (c *memCache) UpdatePrice(_ context.Context, tokenID string, price decimal.Decimal, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, m := range c.markets {
		switch tokenID {
		case m.YesTokenID:
			m.YesPrice = price
		case m.NoTokenID:
			m.NoPrice = price
		default:
			continue
		}
		m.FetchedAt = ts
		c.markets[id] = m
		return nil
	}
	return domain.ErrCacheMiss
}

func (c *memCache) List(_ context.Context) ([]domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Market, 0, len(c.markets))
	for _, m := range c.markets {
		out = append(out, m)
	}
	return out, nil
}

func (c *memCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.markets, id)
	return nil
}

// supplierFixture wires a Supplier against fake Gamma and CLOB servers.
type supplierFixture struct {
	supplier   *Supplier
	cache      *memCache
	gammaCalls *int
	clobCalls  *int
	prices     map[string]string // mutable CLOB price book
}

func newSupplierFixture(t *testing.T, cfg SupplierConfig) *supplierFixture {
	t.Helper()

	gammaCalls, clobCalls := new(int), new(int)
	prices := map[string]string{
		"tok-yes":  "0.52",
		"tok-no":   "0.45",
		"tok-eyes": "0.60",
		"tok-enos": "0.35",
		"tok-wyes": "0.50",
		"tok-wnos": "0.49",
	}

	gammaSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*gammaCalls++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{
				"id": "ev-btc", "title": "Bitcoin above $100k?", "active": true, "closed": false,
				"markets": [
					{"id": "mkt-btc", "question": "Will bitcoin close above $100k?", "active": true, "closed": false,
					 "outcomes": "[\"Yes\", \"No\"]", "outcomePrices": "[\"0.99\", \"0.99\"]",
					 "clobTokenIds": "[\"tok-yes\", \"tok-no\"]", "liquidity": "1500", "enableOrderBook": true},
					{"id": "mkt-multi", "question": "Which bitcoin ETF wins?", "active": true, "closed": false,
					 "outcomes": "[\"A\", \"B\", \"C\"]", "outcomePrices": "[\"0.3\", \"0.3\", \"0.4\"]",
					 "clobTokenIds": "[\"t1\", \"t2\", \"t3\"]", "liquidity": "900", "enableOrderBook": true},
					{"id": "mkt-closed", "question": "Old bitcoin market", "active": true, "closed": true,
					 "outcomes": "[\"Yes\", \"No\"]", "outcomePrices": "[\"1\", \"0\"]",
					 "clobTokenIds": "[\"tok-cyess\", \"tok-cnos\"]", "liquidity": "100", "enableOrderBook": true}
				]
			},
			{
				"id": "ev-eth", "title": "Ethereum flips bitcoin?", "active": true, "closed": false,
				"markets": [
					{"id": "mkt-eth", "question": "Will ethereum flip bitcoin this year?", "active": true, "closed": false,
					 "outcomes": "[\"Yes\", \"No\"]", "outcomePrices": "[\"0.60\", \"0.35\"]",
					 "clobTokenIds": "[\"tok-eyes\", \"tok-enos\"]", "liquidity": "800", "enableOrderBook": true}
				]
			},
			{
				"id": "ev-weather", "title": "Rain in Seattle tomorrow?", "active": true, "closed": false,
				"markets": [
					{"id": "mkt-weather", "question": "Will it rain in Seattle tomorrow?", "active": true, "closed": false,
					 "outcomes": "[\"Yes\", \"No\"]", "outcomePrices": "[\"0.50\", \"0.49\"]",
					 "clobTokenIds": "[\"tok-wyes\", \"tok-wnos\"]", "liquidity": "300", "enableOrderBook": true}
				]
			}
		]`))
	}))
	t.Cleanup(gammaSrv.Close)

	var mu sync.Mutex
	clobSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		*clobCalls++

		var params []bookParams
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		out := make(map[string]map[string]string)
		for _, p := range params {
			if price, ok := prices[p.TokenID]; ok {
				out[p.TokenID] = map[string]string{"BUY": price}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(out))
	}))
	t.Cleanup(clobSrv.Close)

	cache := newMemCache()
	gamma := NewGammaClient(gammaSrv.URL)
	clob := NewClobClient(ClobConfig{BaseURL: clobSrv.URL}, nil, nil, nil, discard())
	sup := NewSupplier(cfg, gamma, clob, cache, discard())

	return &supplierFixture{
		supplier:   sup,
		cache:      cache,
		gammaCalls: gammaCalls,
		clobCalls:  clobCalls,
		prices:     prices,
	}
}

func supplierConfig() SupplierConfig {
	return SupplierConfig{
		DiscoveryInterval: time.Hour,
		RefreshInterval:   time.Hour,
		Keywords:          []string{"bitcoin"},
		EventLimit:        50,
		MaxTracked:        10,
	}
}

func TestSupplierDiscovery(t *testing.T) {
	fx := newSupplierFixture(t, supplierConfig())
	ctx := context.Background()

	markets, err := fx.supplier.Snapshot(ctx)
	require.NoError(t, err)

	// Keyword "bitcoin" matches the BTC event (title+question) and the ETH
	// event (question mentions bitcoin); the weather market is filtered, the
	// multi-outcome and closed markets are rejected.
	require.Len(t, markets, 2)
	byID := make(map[string]domain.Market, len(markets))
	for _, m := range markets {
		byID[m.ID] = m
	}
	require.Contains(t, byID, "mkt-btc")
	require.Contains(t, byID, "mkt-eth")

	// Prices come from the CLOB book, not Gamma's last-trade marks.
	btc := byID["mkt-btc"]
	assert.True(t, btc.YesPrice.Equal(decimal.RequireFromString("0.52")), "yes price %s", btc.YesPrice)
	assert.True(t, btc.NoPrice.Equal(decimal.RequireFromString("0.45")))

	assert.Equal(t, 1, *fx.gammaCalls)
	assert.Equal(t, 1, *fx.clobCalls)

	assert.Equal(t, []string{"tok-enos", "tok-eyes", "tok-no", "tok-yes"}, fx.supplier.TrackedTokenIDs())
}

func TestSupplierCadence(t *testing.T) {
	fx := newSupplierFixture(t, supplierConfig())
	ctx := context.Background()

	_, err := fx.supplier.Snapshot(ctx)
	require.NoError(t, err)

	// Within both intervals: served from cache, no venue traffic.
	_, err = fx.supplier.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, *fx.gammaCalls)
	assert.Equal(t, 1, *fx.clobCalls)
}

func TestSupplierPriceRefresh(t *testing.T) {
	cfg := supplierConfig()
	cfg.RefreshInterval = 0 // refresh on every snapshot
	fx := newSupplierFixture(t, cfg)
	ctx := context.Background()

	_, err := fx.supplier.Snapshot(ctx)
	require.NoError(t, err)

	fx.prices["tok-yes"] = "0.48"

	markets, err := fx.supplier.Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, *fx.gammaCalls, "refresh must not re-run discovery")
	assert.Equal(t, 2, *fx.clobCalls)

	for _, m := range markets {
		if m.ID == "mkt-btc" {
			assert.True(t, m.YesPrice.Equal(decimal.RequireFromString("0.48")), "yes price %s", m.YesPrice)
		}
	}
}

func TestSupplierDropsOneSidedBooks(t *testing.T) {
	fx := newSupplierFixture(t, supplierConfig())
	delete(fx.prices, "tok-eyes") // ETH market loses its YES book

	markets, err := fx.supplier.Snapshot(context.Background())
	require.NoError(t, err)

	require.Len(t, markets, 1)
	assert.Equal(t, "mkt-btc", markets[0].ID)
}

func TestSupplierUpdatePrice(t *testing.T) {
	fx := newSupplierFixture(t, supplierConfig())
	ctx := context.Background()

	_, err := fx.supplier.Snapshot(ctx)
	require.NoError(t, err)

	ts := time.Now()
	newPrice := decimal.RequireFromString("0.50")
	require.NoError(t, fx.supplier.UpdatePrice(ctx, "tok-yes", newPrice, ts))

	// Served snapshot (cache hit, no venue traffic) reflects the push.
	markets, err := fx.supplier.Snapshot(ctx)
	require.NoError(t, err)
	for _, m := range markets {
		if m.ID == "mkt-btc" {
			assert.True(t, m.YesPrice.Equal(newPrice))
		}
	}
	assert.Equal(t, 1, *fx.clobCalls)

	// Unknown tokens are ignored without error.
	require.NoError(t, fx.supplier.UpdatePrice(ctx, "tok-unknown", newPrice, ts))
}

func TestSupplierNoKeywordsTracksEverything(t *testing.T) {
	cfg := supplierConfig()
	cfg.Keywords = nil
	fx := newSupplierFixture(t, cfg)

	markets, err := fx.supplier.Snapshot(context.Background())
	require.NoError(t, err)
	// BTC, ETH, and weather all qualify once the filter is off.
	assert.Len(t, markets, 3)
}

func TestSupplierMaxTracked(t *testing.T) {
	cfg := supplierConfig()
	cfg.Keywords = nil
	cfg.MaxTracked = 1
	fx := newSupplierFixture(t, cfg)

	markets, err := fx.supplier.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, markets, 1)
}
