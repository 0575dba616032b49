package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfold/polyarb/internal/domain"
)

// gammaTimeout bounds every Gamma request. Discovery is not latency
// sensitive, so a generous ceiling beats spurious failures.
const gammaTimeout = 30 * time.Second

// GammaClient is the REST client for the Polymarket Gamma API, which provides
// market discovery and metadata. All endpoints are unauthenticated.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient returns a client rooted at baseURL, typically
// "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: gammaTimeout},
	}
}

// ListActiveEvents returns up to limit events that are active and not closed,
// newest first. Each event carries its nested markets.
func (g *GammaClient) ListActiveEvents(ctx context.Context, limit int) ([]APIEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("order", "id")
	params.Set("ascending", "false")

	body, err := g.doGet(ctx, "/events?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: list events: %w", err)
	}

	var events []APIEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode events: %w", err)
	}

	return events, nil
}

// GetMarket returns a single market by its Gamma ID.
func (g *GammaClient) GetMarket(ctx context.Context, id string) (APIMarket, error) {
	body, err := g.doGet(ctx, "/markets/"+url.PathEscape(id))
	if err != nil {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: get market %s: %w", id, err)
	}

	var market APIMarket
	if err := json.Unmarshal(body, &market); err != nil {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}

	return market, nil
}

// MarketResolution is the settlement state of a market.
type MarketResolution struct {
	// Resolved is true once the venue reports the market closed.
	Resolved bool
	// YesWon is true when the YES outcome settled at $1. Only meaningful
	// when Resolved.
	YesWon bool
}

// GetMarketResolution reports whether a market has resolved and which side
// won. A resolved market pins the winning outcome price to exactly 1.
func (g *GammaClient) GetMarketResolution(ctx context.Context, marketID string) (MarketResolution, error) {
	market, err := g.GetMarket(ctx, marketID)
	if err != nil {
		return MarketResolution{}, err
	}

	res := MarketResolution{Resolved: market.Closed}
	if !res.Resolved {
		return res, nil
	}

	outcomes, err := parseStringArray(market.Outcomes)
	if err != nil || len(outcomes) != 2 {
		return res, nil
	}
	prices, err := parseStringArray(market.OutcomePrices)
	if err != nil || len(prices) != 2 {
		return res, nil
	}

	res.YesWon = parseDecimal(prices[yesIndex(outcomes)]).Equal(decimal.New(1, 0))

	return res, nil
}

// doGet fetches path and returns the response body, mapping error statuses
// through checkHTTPStatus.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, checkHTTPStatus(resp.StatusCode, body)
}

// checkHTTPStatus maps non-2xx status codes to domain sentinels.
func checkHTTPStatus(statusCode int, body []byte) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, body)
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, body)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, body)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, body)
	}
}
