package polymarket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfold/polyarb/internal/domain"
)

// SupplierConfig controls discovery and refresh cadence.
type SupplierConfig struct {
	DiscoveryInterval time.Duration
	RefreshInterval   time.Duration
	Keywords          []string
	EventLimit        int
	MaxTracked        int
}

// tokenRef locates one side of a tracked market by its outcome token.
type tokenRef struct {
	marketID string
	side     domain.Side
}

// Supplier keeps a set of tracked binary markets fresh on two cadences:
// discovery re-selects markets from Gamma every DiscoveryInterval, and a
// price pass re-reads executable asks from the CLOB every RefreshInterval.
// Snapshots are served from the market cache, so entries that outlive their
// TTL drop out instead of going stale. The live feed may push prices in
// between passes through UpdatePrice.
type Supplier struct {
	cfg    SupplierConfig
	gamma  *GammaClient
	clob   *ClobClient
	cache  domain.MarketCache
	logger *slog.Logger

	mu            sync.RWMutex
	tracked       map[string]domain.Market
	tokenIndex    map[string]tokenRef
	lastDiscovery time.Time
	lastRefresh   time.Time
}

// NewSupplier creates a market supplier over the Gamma and CLOB clients.
func NewSupplier(cfg SupplierConfig, gamma *GammaClient, clob *ClobClient, cache domain.MarketCache, logger *slog.Logger) *Supplier {
	return &Supplier{
		cfg:        cfg,
		gamma:      gamma,
		clob:       clob,
		cache:      cache,
		logger:     logger.With(slog.String("component", "supplier")),
		tracked:    make(map[string]domain.Market),
		tokenIndex: make(map[string]tokenRef),
	}
}

// Snapshot runs whichever cadence is due, then returns the cached markets.
// The first call always runs a discovery.
func (s *Supplier) Snapshot(ctx context.Context) ([]domain.Market, error) {
	now := time.Now()
	s.mu.RLock()
	needDiscovery := s.lastDiscovery.IsZero() || now.Sub(s.lastDiscovery) >= s.cfg.DiscoveryInterval
	needRefresh := now.Sub(s.lastRefresh) >= s.cfg.RefreshInterval
	s.mu.RUnlock()

	if needDiscovery {
		if err := s.discover(ctx); err != nil {
			return nil, err
		}
	} else if needRefresh {
		if err := s.refreshPrices(ctx); err != nil {
			return nil, err
		}
	}

	markets, err := s.cache.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("polymarket/supplier: list cached markets: %w", err)
	}
	return markets, nil
}

// TrackedTokenIDs returns the outcome token IDs of every tracked market,
// sorted, for feed subscriptions.
func (s *Supplier) TrackedTokenIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.tokenIndex))
	for id := range s.tokenIndex {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UpdatePrice patches one side's price from the live feed and writes it
// through to the cache. Updates for untracked tokens are dropped.
func (s *Supplier) UpdatePrice(ctx context.Context, tokenID string, price decimal.Decimal, ts time.Time) error {
	s.mu.Lock()
	ref, ok := s.tokenIndex[tokenID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	m := s.tracked[ref.marketID]
	if ref.side == domain.SideYes {
		m.YesPrice = price
	} else {
		m.NoPrice = price
	}
	m.FetchedAt = ts
	s.tracked[ref.marketID] = m
	s.mu.Unlock()

	// A cache miss means the entry expired between passes; the next refresh
	// re-seeds it, so the push is dropped rather than surfaced.
	if err := s.cache.UpdatePrice(ctx, tokenID, price, ts); err != nil && !errors.Is(err, domain.ErrCacheMiss) {
		return fmt.Errorf("polymarket/supplier: cache price update: %w", err)
	}
	return nil
}

// discover re-selects tracked markets from Gamma, prices them from the CLOB,
// and replaces the tracked set.
func (s *Supplier) discover(ctx context.Context) error {
	events, err := s.gamma.ListActiveEvents(ctx, s.cfg.EventLimit)
	if err != nil {
		return fmt.Errorf("polymarket/supplier: discover: %w", err)
	}

	selected := make([]domain.Market, 0, s.cfg.MaxTracked)
	seen := make(map[string]struct{})
	for _, ev := range events {
		if s.cfg.MaxTracked > 0 && len(selected) >= s.cfg.MaxTracked {
			break
		}
		for i := range ev.Markets {
			if s.cfg.MaxTracked > 0 && len(selected) >= s.cfg.MaxTracked {
				break
			}
			am := &ev.Markets[i]
			if am.Closed || !bool(am.Active) || !am.EnableOrderBook || !am.Binary() {
				continue
			}
			if !s.matchesKeywords(ev.Title, am.Question) {
				continue
			}
			if _, dup := seen[am.ID]; dup {
				continue
			}
			dm, err := am.ToDomainMarket()
			if err != nil {
				s.logger.DebugContext(ctx, "skipping malformed market",
					slog.String("market_id", am.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			seen[am.ID] = struct{}{}
			selected = append(selected, dm)
		}
	}

	// Gamma's outcome prices are last-trade marks; replace them with
	// executable asks before anything downstream sees the snapshot.
	priced, err := s.applyClobPrices(ctx, selected)
	if err != nil {
		return err
	}

	tracked := make(map[string]domain.Market, len(priced))
	index := make(map[string]tokenRef, 2*len(priced))
	for _, m := range priced {
		tracked[m.ID] = m
		index[m.YesTokenID] = tokenRef{marketID: m.ID, side: domain.SideYes}
		index[m.NoTokenID] = tokenRef{marketID: m.ID, side: domain.SideNo}
	}

	if err := s.cache.SetBatch(ctx, priced); err != nil {
		return fmt.Errorf("polymarket/supplier: cache markets: %w", err)
	}

	now := time.Now()
	s.mu.Lock()
	s.tracked = tracked
	s.tokenIndex = index
	s.lastDiscovery = now
	s.lastRefresh = now
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "market discovery complete",
		slog.Int("events", len(events)),
		slog.Int("candidates", len(selected)),
		slog.Int("tracked", len(priced)),
	)

	return nil
}

// refreshPrices re-reads executable asks for the tracked set.
func (s *Supplier) refreshPrices(ctx context.Context) error {
	s.mu.RLock()
	markets := make([]domain.Market, 0, len(s.tracked))
	for _, m := range s.tracked {
		markets = append(markets, m)
	}
	s.mu.RUnlock()

	if len(markets) == 0 {
		return nil
	}

	priced, err := s.applyClobPrices(ctx, markets)
	if err != nil {
		return err
	}

	if err := s.cache.SetBatch(ctx, priced); err != nil {
		return fmt.Errorf("polymarket/supplier: cache markets: %w", err)
	}

	now := time.Now()
	s.mu.Lock()
	for _, m := range priced {
		s.tracked[m.ID] = m
	}
	s.lastRefresh = now
	s.mu.Unlock()

	return nil
}

// applyClobPrices overwrites each market's prices with CLOB best asks.
// Markets with no book on either side are dropped.
func (s *Supplier) applyClobPrices(ctx context.Context, markets []domain.Market) ([]domain.Market, error) {
	tokenIDs := make([]string, 0, 2*len(markets))
	for _, m := range markets {
		tokenIDs = append(tokenIDs, m.YesTokenID, m.NoTokenID)
	}

	prices, err := s.clob.GetPrices(ctx, tokenIDs)
	if err != nil {
		return nil, fmt.Errorf("polymarket/supplier: refresh prices: %w", err)
	}

	now := time.Now()
	priced := make([]domain.Market, 0, len(markets))
	for _, m := range markets {
		yes, okYes := prices[m.YesTokenID]
		no, okNo := prices[m.NoTokenID]
		if !okYes || !okNo {
			s.logger.DebugContext(ctx, "dropping market without a two-sided book",
				slog.String("market_id", m.ID),
			)
			continue
		}
		m.YesPrice = yes
		m.NoPrice = no
		m.FetchedAt = now
		priced = append(priced, m)
	}

	return priced, nil
}

// matchesKeywords reports whether the event title or market question contains
// any configured keyword. No keywords means everything matches.
func (s *Supplier) matchesKeywords(title, question string) bool {
	if len(s.cfg.Keywords) == 0 {
		return true
	}
	haystack := strings.ToLower(title + " " + question)
	for _, kw := range s.cfg.Keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
