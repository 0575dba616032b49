package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfold/polyarb/internal/crypto"
	"github.com/quantfold/polyarb/internal/domain"
)

const (
	zeroAddress = "0x0000000000000000000000000000000000000000"

	// Buy-side legs only: the pair is opened by buying both outcome tokens.
	sideBuy = 0

	// Client-side order throttle, under the venue's published burst limit.
	orderRateKey    = "clob:orders"
	orderRateLimit  = 8
	orderRateWindow = time.Second
)

// ClobConfig carries the CLOB endpoint and order signing parameters.
type ClobConfig struct {
	BaseURL       string
	SignatureType int
}

// ClobClient is the REST client for the Polymarket CLOB. It implements the
// executor's gateway contract: Submit places a signed GTC buy order and
// PollFill reads its fill state back.
type ClobClient struct {
	cfg        ClobConfig
	httpClient *http.Client
	signer     *crypto.Signer
	creds      *crypto.APICredentials
	limiter    domain.RateLimiter
	logger     *slog.Logger
}

// NewClobClient creates a CLOB client. creds may be nil when the credentials
// should be derived from the wallet key (EnsureCredentials). limiter may be
// nil to disable client-side order throttling.
func NewClobClient(cfg ClobConfig, signer *crypto.Signer, creds *crypto.APICredentials, limiter domain.RateLimiter, logger *slog.Logger) *ClobClient {
	return &ClobClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:  signer,
		creds:   creds,
		limiter: limiter,
		logger:  logger.With(slog.String("component", "clob")),
	}
}

// EnsureCredentials makes sure the client holds L2 API credentials, deriving
// them from the wallet key when none were configured. Call once before
// trading starts; the client does not guard credential writes afterward.
func (c *ClobClient) EnsureCredentials(ctx context.Context) error {
	if c.creds != nil {
		return nil
	}
	return c.DeriveAPIKey(ctx)
}

// DeriveAPIKey performs the L1 auth flow: it signs a ClobAuth EIP-712
// message and exchanges it for the HMAC credential triple.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	const nonce = int64(0)

	sig, err := c.signer.SignAuthMessage(timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", c.signer.Address().Hex())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return fmt.Errorf("polymarket/clob: derive api key: %w", err)
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(body, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	c.creds = &crypto.APICredentials{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}
	c.logger.InfoContext(ctx, "derived CLOB API credentials", slog.String("credentials", c.creds.String()))

	return nil
}

// Submit signs and places one GTC buy order for req and returns the venue
// order hash. Venue rejections come back wrapped in the submission sentinel.
func (c *ClobClient) Submit(ctx context.Context, req domain.OrderRequest) (domain.OrderHandle, error) {
	if c.creds == nil {
		return domain.OrderHandle{}, fmt.Errorf("polymarket/clob: no API credentials (call EnsureCredentials first)")
	}

	if c.limiter != nil {
		allowed, err := c.limiter.Allow(ctx, orderRateKey, orderRateLimit, orderRateWindow)
		if err != nil {
			return domain.OrderHandle{}, fmt.Errorf("polymarket/clob: rate limiter: %w", err)
		}
		if !allowed {
			return domain.OrderHandle{}, fmt.Errorf("polymarket/clob: order throttled: %w", domain.ErrRateLimited)
		}
	}

	salt, err := crypto.NewOrderSalt()
	if err != nil {
		return domain.OrderHandle{}, fmt.Errorf("polymarket/clob: %w", err)
	}

	addr := c.signer.Address().Hex()
	payload := crypto.OrderPayload{
		Salt:          salt,
		Maker:         addr,
		Signer:        addr,
		Taker:         zeroAddress,
		TokenID:       req.TokenID,
		MakerAmount:   scaledAmount(req.Qty.Mul(req.LimitPrice)),
		TakerAmount:   scaledAmount(req.Qty),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideBuy,
		SignatureType: c.cfg.SignatureType,
	}

	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return domain.OrderHandle{}, fmt.Errorf("polymarket/clob: %w: %v", domain.ErrSigningFailed, err)
	}

	body := postOrderRequest{
		Order: signedOrder{
			Salt:          payload.Salt,
			Maker:         payload.Maker,
			Signer:        payload.Signer,
			Taker:         payload.Taker,
			TokenID:       payload.TokenID,
			MakerAmount:   payload.MakerAmount,
			TakerAmount:   payload.TakerAmount,
			Expiration:    payload.Expiration,
			Nonce:         payload.Nonce,
			FeeRateBps:    payload.FeeRateBps,
			Side:          "BUY",
			SignatureType: payload.SignatureType,
			Signature:     sig,
		},
		Owner:     c.creds.Key,
		OrderType: "GTC",
	}

	respBody, err := c.doAuthenticated(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.OrderHandle{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var result postOrderResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return domain.OrderHandle{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	if !result.Success {
		return domain.OrderHandle{}, fmt.Errorf("polymarket/clob: %w: %s", domain.ErrSubmission, result.ErrorMsg)
	}

	c.logger.InfoContext(ctx, "order placed",
		slog.String("order_id", result.OrderID),
		slog.String("token_id", req.TokenID),
		slog.String("side", string(req.Side)),
		slog.String("qty", req.Qty.String()),
		slog.String("limit_price", req.LimitPrice.String()),
	)

	return domain.OrderHandle{Hash: result.OrderID}, nil
}

// PollFill reads the current fill state of a submitted order.
func (c *ClobClient) PollFill(ctx context.Context, handle domain.OrderHandle) (domain.Fill, error) {
	respBody, err := c.doAuthenticated(ctx, http.MethodGet, "/data/order/"+handle.Hash, nil)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("polymarket/clob: get order %s: %w", handle.Hash, err)
	}

	var order apiOpenOrder
	if err := json.Unmarshal(respBody, &order); err != nil {
		return domain.Fill{}, fmt.Errorf("polymarket/clob: decode order: %w", err)
	}

	return order.toDomainFill(), nil
}

// GetPrices returns the current executable buy price (best ask) for each
// token ID. Tokens the venue has no book for are absent from the result.
func (c *ClobClient) GetPrices(ctx context.Context, tokenIDs []string) (map[string]decimal.Decimal, error) {
	if len(tokenIDs) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	params := make([]bookParams, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		params = append(params, bookParams{TokenID: id, Side: "BUY"})
	}

	respBody, err := c.doPublic(ctx, http.MethodPost, "/prices", params)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: get prices: %w", err)
	}

	var raw map[string]map[string]string
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("polymarket/clob: decode prices: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(raw))
	for tokenID, sides := range raw {
		if p := parseDecimal(sides["BUY"]); p.IsPositive() {
			prices[tokenID] = p
		}
	}

	return prices, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doAuthenticated sends a request with HMAC L2 headers and returns the body.
func (c *ClobClient) doAuthenticated(ctx context.Context, method, path string, body any) ([]byte, error) {
	return c.do(ctx, method, path, body, true)
}

// doPublic sends an unauthenticated request and returns the body.
func (c *ClobClient) doPublic(ctx context.Context, method, path string, body any) ([]byte, error) {
	return c.do(ctx, method, path, body, false)
}

func (c *ClobClient) do(ctx context.Context, method, path string, body any, authed bool) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// The HMAC preimage covers method, path, and the exact body bytes sent.
	if authed && c.creds != nil {
		for k, v := range c.creds.L2Headers(c.signer.Address().Hex(), method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return respBody, checkHTTPStatus(resp.StatusCode, respBody)
}

// scaledAmount converts a decimal quantity or spend to the venue's 1e6
// fixed-point integer encoding, truncating sub-unit residue.
func scaledAmount(d decimal.Decimal) string {
	return d.Shift(6).Truncate(0).String()
}
