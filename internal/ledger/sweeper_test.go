package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/polyarb/internal/domain"
	"github.com/quantfold/polyarb/internal/platform/polymarket"
)

type stubResolver struct {
	mu    sync.Mutex
	res   map[string]polymarket.MarketResolution
	errs  map[string]error
	calls map[string]int
}

func newStubResolver() *stubResolver {
	return &stubResolver{
		res:   make(map[string]polymarket.MarketResolution),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (r *stubResolver) setResolved(marketID string, yesWon bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.res[marketID] = polymarket.MarketResolution{Resolved: true, YesWon: yesWon}
}

func (r *stubResolver) setErr(marketID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[marketID] = err
}

func (r *stubResolver) callCount(marketID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[marketID]
}

func (r *stubResolver) GetMarketResolution(_ context.Context, marketID string) (polymarket.MarketResolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[marketID]++
	if err := r.errs[marketID]; err != nil {
		return polymarket.MarketResolution{}, err
	}
	return r.res[marketID], nil
}

func makeOpportunityFor(marketID string) domain.Opportunity {
	opp := makeOpportunity()
	opp.MarketID = marketID
	return opp
}

// openReconciled opens a position, fills both legs, and runs the reconcile
// arithmetic so the position is in the sweeper's working set.
func openReconciled(t *testing.T, l *Ledger, opp domain.Opportunity, yesQty, noQty string) domain.Position {
	t.Helper()
	ctx := context.Background()

	pos, err := l.OpenPosition(ctx, opp)
	require.NoError(t, err)
	require.NoError(t, l.RecordFill(ctx, pos.ID, domain.SideYes, domain.Fill{
		FilledQty: dec(yesQty), AvgPrice: dec("0.40"), Status: domain.OrderStatusFilled,
	}))
	require.NoError(t, l.RecordFill(ctx, pos.ID, domain.SideNo, domain.Fill{
		FilledQty: dec(noQty), AvgPrice: dec("0.45"), Status: domain.OrderStatusFilled,
	}))
	_, err = l.ComputeRealizedProfit(ctx, pos.ID)
	require.NoError(t, err)
	return pos
}

func newTestSweeper(l *Ledger, resolver Resolver) *Sweeper {
	return NewSweeper(l, resolver, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSweepSettlesBalancedPosition(t *testing.T) {
	l, store, audit := newTestLedger()
	resolver := newStubResolver()
	s := newTestSweeper(l, resolver)
	ctx := context.Background()

	pos := openReconciled(t, l, makeOpportunityFor("mkt-res"), "100", "100")
	resolver.setResolved("mkt-res", true)

	require.NoError(t, s.Sweep(ctx))

	stored, err := store.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusSettled, stored.Status)
	require.NotNil(t, stored.SettledAt)
	assert.True(t, stored.RealizedProfit.Equal(dec("12.98")),
		"balanced settlement keeps the reconciled profit, got %s", stored.RealizedProfit)
	assert.Contains(t, audit.Events(), "position_settled")
}

func TestSweepRedeemsExcessOnWinningSide(t *testing.T) {
	l, store, _ := newTestLedger()
	resolver := newStubResolver()
	s := newTestSweeper(l, resolver)
	ctx := context.Background()

	// 50 YES vs 80 NO leaves 30 unpaired NO shares and -7.02 reconciled.
	pos := openReconciled(t, l, makeOpportunityFor("mkt-no-won"), "50", "80")
	resolver.setResolved("mkt-no-won", false)

	require.NoError(t, s.Sweep(ctx))

	stored, err := store.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusSettled, stored.Status)
	assert.True(t, stored.ImbalanceQty.Equal(dec("30")))
	assert.True(t, stored.RealizedProfit.Equal(dec("22.98")),
		"30 winning NO shares redeem at $1 on top of -7.02, got %s", stored.RealizedProfit)
}

func TestSweepExcessOnLosingSideExpiresWorthless(t *testing.T) {
	l, store, _ := newTestLedger()
	resolver := newStubResolver()
	s := newTestSweeper(l, resolver)
	ctx := context.Background()

	pos := openReconciled(t, l, makeOpportunityFor("mkt-yes-won"), "50", "80")
	resolver.setResolved("mkt-yes-won", true)

	require.NoError(t, s.Sweep(ctx))

	stored, err := store.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusSettled, stored.Status)
	assert.True(t, stored.RealizedProfit.Equal(dec("-7.02")),
		"losing excess adds nothing, got %s", stored.RealizedProfit)
}

func TestSweepSkipsPendingAndUnresolved(t *testing.T) {
	l, store, _ := newTestLedger()
	resolver := newStubResolver()
	s := newTestSweeper(l, resolver)
	ctx := context.Background()

	pending, err := l.OpenPosition(ctx, makeOpportunityFor("mkt-pending"))
	require.NoError(t, err)
	open := openReconciled(t, l, makeOpportunityFor("mkt-open"), "100", "100")
	// mkt-open stays unresolved in the stub.

	require.NoError(t, s.Sweep(ctx))

	assert.Zero(t, resolver.callCount("mkt-pending"), "pending positions are not polled")
	assert.Equal(t, 1, resolver.callCount("mkt-open"))

	stored, err := store.GetByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusPending, stored.Status)

	stored, err = store.GetByID(ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, stored.Status)
}

func TestSweepToleratesResolverErrors(t *testing.T) {
	l, store, _ := newTestLedger()
	resolver := newStubResolver()
	s := newTestSweeper(l, resolver)
	ctx := context.Background()

	flaky := openReconciled(t, l, makeOpportunityFor("mkt-flaky"), "100", "100")
	good := openReconciled(t, l, makeOpportunityFor("mkt-good"), "100", "100")
	resolver.setErr("mkt-flaky", errors.New("gamma 502"))
	resolver.setResolved("mkt-good", true)

	require.NoError(t, s.Sweep(ctx), "one bad lookup must not fail the pass")

	stored, err := store.GetByID(ctx, flaky.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, stored.Status)

	stored, err = store.GetByID(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusSettled, stored.Status)
}

func TestSweeperRunSettlesOnTick(t *testing.T) {
	l, store, _ := newTestLedger()
	resolver := newStubResolver()
	s := NewSweeper(l, resolver, 10*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	pos := openReconciled(t, l, makeOpportunityFor("mkt-tick"), "100", "100")
	resolver.setResolved("mkt-tick", true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		stored, err := store.GetByID(context.Background(), pos.ID)
		return err == nil && stored.Status == domain.PositionStatusSettled
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}
}
