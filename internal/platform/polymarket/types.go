package polymarket

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfold/polyarb/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexString unmarshals from a JSON string or number, keeping the raw digits
// as text. Gamma sends liquidity/volume as either depending on the endpoint.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIEvent is an event as returned by the Gamma API. An event groups one or
// more related markets under a shared title.
type APIEvent struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Slug      string      `json:"slug"`
	Active    flexBool    `json:"active"`
	Closed    bool        `json:"closed"`
	EndDate   string      `json:"endDate"`
	Liquidity flexString  `json:"liquidity"`
	Markets   []APIMarket `json:"markets"`
}

// APIMarket is a market as returned by the Gamma API. The Outcomes,
// OutcomePrices, and ClobTokenIDs fields arrive as JSON-encoded arrays inside
// strings, e.g. "[\"Yes\", \"No\"]".
type APIMarket struct {
	ID              string     `json:"id"`
	Question        string     `json:"question"`
	Slug            string     `json:"slug"`
	ConditionID     string     `json:"conditionId"`
	Active          flexBool   `json:"active"`
	Closed          bool       `json:"closed"`
	Outcomes        string     `json:"outcomes"`
	OutcomePrices   string     `json:"outcomePrices"`
	ClobTokenIDs    string     `json:"clobTokenIds"`
	Liquidity       flexString `json:"liquidity"`
	Volume          flexString `json:"volume"`
	EndDate         string     `json:"endDate"`
	EnableOrderBook bool       `json:"enableOrderBook"`
}

// Binary reports whether the market has exactly two outcomes with order-book
// token IDs, i.e. whether it is tradable as a YES/NO pair.
func (m *APIMarket) Binary() bool {
	outcomes, err := parseStringArray(m.Outcomes)
	if err != nil || len(outcomes) != 2 {
		return false
	}
	tokens, err := parseStringArray(m.ClobTokenIDs)
	return err == nil && len(tokens) == 2 && tokens[0] != "" && tokens[1] != ""
}

// ToDomainMarket converts a Gamma market into a domain snapshot. The Gamma
// outcome prices are last-trade marks; the supplier overwrites them with
// executable asks from the CLOB before the snapshot reaches the detector.
func (m *APIMarket) ToDomainMarket() (domain.Market, error) {
	outcomes, err := parseStringArray(m.Outcomes)
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket: market %s: parse outcomes: %w", m.ID, err)
	}
	tokens, err := parseStringArray(m.ClobTokenIDs)
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket: market %s: parse token ids: %w", m.ID, err)
	}
	if len(outcomes) != 2 || len(tokens) != 2 {
		return domain.Market{}, fmt.Errorf("polymarket: market %s: not a binary market (%d outcomes, %d tokens)", m.ID, len(outcomes), len(tokens))
	}

	yesIdx := yesIndex(outcomes)
	noIdx := 1 - yesIdx

	dm := domain.Market{
		ID:          m.ID,
		Question:    m.Question,
		Slug:        m.Slug,
		ConditionID: m.ConditionID,
		YesTokenID:  tokens[yesIdx],
		NoTokenID:   tokens[noIdx],
		Liquidity:   parseDecimal(string(m.Liquidity)),
		FetchedAt:   time.Now(),
	}

	if prices, err := parseStringArray(m.OutcomePrices); err == nil && len(prices) == 2 {
		dm.YesPrice = parseDecimal(prices[yesIdx])
		dm.NoPrice = parseDecimal(prices[noIdx])
	}

	if m.Closed {
		dm.Status = domain.MarketStatusClosed
	} else if bool(m.Active) {
		dm.Status = domain.MarketStatusActive
	} else {
		dm.Status = domain.MarketStatusClosed
	}

	if m.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDate); err == nil {
			dm.EndTime = &t
		}
	}

	return dm, nil
}

// yesIndex locates the YES outcome; the venue usually lists it first.
func yesIndex(outcomes []string) int {
	if len(outcomes) == 2 && strings.EqualFold(outcomes[1], "yes") {
		return 1
	}
	return 0
}

// parseStringArray decodes Gamma's JSON-array-inside-a-string encoding.
func parseStringArray(encoded string) ([]string, error) {
	if encoded == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(encoded), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// parseDecimal converts venue number text to a decimal, zero on garbage.
func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// signedOrder is the order object inside a POST /order request: the twelve
// signed fields plus the EIP-712 signature.
type signedOrder struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"` // "BUY" or "SELL"
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// postOrderRequest is the full POST /order body. Owner is the L2 API key.
type postOrderRequest struct {
	Order     signedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType string      `json:"orderType"` // "GTC", "GTD", "FOK", "FAK"
}

// postOrderResponse is the CLOB's reply to an order placement.
type postOrderResponse struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg"`
	OrderID     string `json:"orderID"`
	Status      string `json:"status"`
	ShouldRetry bool   `json:"shouldRetry"`
}

// apiOpenOrder is an order as returned by GET /data/order/{hash}.
type apiOpenOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"` // "live", "matched", "delayed", "unmatched", "cancelled"
	Market       string `json:"market"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
	CreatedAt    string `json:"created_at"`
}

// toDomainFill maps CLOB order state onto the gateway fill contract. The
// venue reports no per-fill average, so the limit price stands in once any
// quantity has matched.
func (o *apiOpenOrder) toDomainFill() domain.Fill {
	fill := domain.Fill{
		FilledQty: parseDecimal(o.SizeMatched),
	}
	if fill.FilledQty.IsPositive() {
		fill.AvgPrice = parseDecimal(o.Price)
	}

	original := parseDecimal(o.OriginalSize)
	switch o.Status {
	case "matched":
		fill.Status = domain.OrderStatusFilled
	case "cancelled", "unmatched":
		fill.Status = domain.OrderStatusRejected
	default: // "live", "delayed"
		if fill.FilledQty.IsPositive() && original.IsPositive() && fill.FilledQty.GreaterThanOrEqual(original) {
			fill.Status = domain.OrderStatusFilled
		} else if fill.FilledQty.IsPositive() {
			fill.Status = domain.OrderStatusPartiallyFilled
		} else {
			fill.Status = domain.OrderStatusPending
		}
	}
	return fill
}

// bookParams selects one side of one order book in a POST /prices query.
type bookParams struct {
	TokenID string `json:"token_id"`
	Side    string `json:"side"`
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// wsSubscription is the initial frame sent on the market channel.
type wsSubscription struct {
	Type     string   `json:"type"` // "market"
	AssetIDs []string `json:"assets_ids"`
}

// WSPriceLevel is a single bid/ask level in WebSocket book data.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookEvent is a full order book snapshot delivered on the market channel.
type BookEvent struct {
	EventType string         `json:"event_type"`
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// BestAsk returns the lowest ask with size, and whether one exists.
func (b *BookEvent) BestAsk() (decimal.Decimal, bool) {
	best := decimal.Zero
	found := false
	for _, lvl := range b.Asks {
		price := parseDecimal(lvl.Price)
		size := parseDecimal(lvl.Size)
		if !price.IsPositive() || !size.IsPositive() {
			continue
		}
		if !found || price.LessThan(best) {
			best = price
			found = true
		}
	}
	return best, found
}

// Time parses the event timestamp (Unix millis as text), now on garbage.
func (b *BookEvent) Time() time.Time {
	return parseWSTimestamp(b.Timestamp)
}

// TradeEvent is a last-trade-price tick on the market channel.
type TradeEvent struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Timestamp string `json:"timestamp"`
}

func parseWSTimestamp(s string) time.Time {
	var ms int64
	if _, err := fmt.Sscanf(s, "%d", &ms); err != nil || ms <= 0 {
		return time.Now()
	}
	// The channel stamps in milliseconds; tolerate seconds from older frames.
	if ms > 1e12 {
		return time.UnixMilli(ms)
	}
	return time.Unix(ms, 0)
}
