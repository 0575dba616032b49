// Package feed streams live CLOB market data into the market snapshot.
//
// The feed is an accelerator, not the source of truth: the supplier's REST
// refresh keeps quotes correct on its own cadence, and the feed narrows the
// window between a book change and the next evaluation. Losing the stream
// degrades latency, never correctness.
package feed

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfold/polyarb/internal/platform/polymarket"
)

// priceApplyTimeout bounds the cache write for one book update.
const priceApplyTimeout = 5 * time.Second

// PriceSink receives best-ask updates from the live stream.
type PriceSink interface {
	UpdatePrice(ctx context.Context, tokenID string, price decimal.Decimal, ts time.Time) error
}

// TokenSource reports the outcome tokens the feed should subscribe to.
type TokenSource interface {
	TrackedTokenIDs() []string
}

// PriceFeedConfig controls stream endpoints and cadences.
type PriceFeedConfig struct {
	WSURL string

	// ReconnectDelay is the pause before redialing a dropped stream.
	ReconnectDelay time.Duration

	// ResubscribeEvery is how often the feed compares the tracked token set
	// against the live subscription and rebuilds it on a mismatch.
	ResubscribeEvery time.Duration
}

// PriceFeed subscribes to book snapshots for every tracked token and pushes
// best asks into the sink. Each connection lives in one runConnection call;
// on disconnect the feed dials a fresh client, so subscription state never
// leaks across wires.
type PriceFeed struct {
	cfg    PriceFeedConfig
	tokens TokenSource
	sink   PriceSink
	logger *slog.Logger
}

// NewPriceFeed creates a feed over the given token source and sink.
func NewPriceFeed(cfg PriceFeedConfig, tokens TokenSource, sink PriceSink, logger *slog.Logger) *PriceFeed {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.ResubscribeEvery <= 0 {
		cfg.ResubscribeEvery = 30 * time.Second
	}
	return &PriceFeed{
		cfg:    cfg,
		tokens: tokens,
		sink:   sink,
		logger: logger.With(slog.String("component", "price_feed")),
	}
}

// Run streams until ctx is cancelled, reconnecting with a fixed delay on
// disconnect. A deliberate resubscribe (the tracked set changed) reconnects
// immediately.
func (f *PriceFeed) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		tokens := f.tokens.TrackedTokenIDs()
		slices.Sort(tokens)
		if len(tokens) == 0 {
			// Discovery has not landed yet; check again shortly.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(f.cfg.ReconnectDelay):
			}
			continue
		}

		err := f.runConnection(ctx, tokens)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			continue
		}

		f.logger.Warn("market data stream disconnected, reconnecting",
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.cfg.ReconnectDelay):
		}
	}
}

// runConnection owns one WebSocket connection from dial to teardown. It
// returns nil when the subscription must be rebuilt and the transport error
// otherwise.
func (f *PriceFeed) runConnection(ctx context.Context, tokens []string) error {
	client := polymarket.NewWSClient(f.cfg.WSURL)
	defer client.Close()

	client.OnBook(f.handleBook)

	if err := client.Connect(ctx); err != nil {
		return err
	}
	if err := client.Subscribe(tokens); err != nil {
		return err
	}
	f.logger.InfoContext(ctx, "market data stream subscribed",
		slog.Int("assets", len(tokens)),
	)

	ticker := time.NewTicker(f.cfg.ResubscribeEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-client.Done():
			return client.Err()
		case <-ticker.C:
			current := f.tokens.TrackedTokenIDs()
			slices.Sort(current)
			if !slices.Equal(current, tokens) {
				f.logger.InfoContext(ctx, "tracked set changed, resubscribing",
					slog.Int("assets", len(current)),
				)
				return nil
			}
		}
	}
}

// handleBook applies one book snapshot to the sink. Books without an ask are
// skipped; the REST refresh will retire the market if that persists.
func (f *PriceFeed) handleBook(ev polymarket.BookEvent) {
	ask, ok := ev.BestAsk()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), priceApplyTimeout)
	defer cancel()

	if err := f.sink.UpdatePrice(ctx, ev.AssetID, ask, ev.Time()); err != nil {
		f.logger.Warn("price update dropped",
			slog.String("token_id", ev.AssetID),
			slog.String("error", err.Error()),
		)
	}
}
