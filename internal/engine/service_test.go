package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/token-engine/internal/curve"
	"github.com/rovshanmuradov/token-engine/internal/events"
	"github.com/rovshanmuradov/token-engine/internal/fees"
	"github.com/rovshanmuradov/token-engine/internal/fixedpoint"
	"github.com/rovshanmuradov/token-engine/internal/graduation"
	"github.com/rovshanmuradov/token-engine/internal/ledger"
	"github.com/rovshanmuradov/token-engine/internal/market"
)

type serviceOptions struct {
	gateway   SettlementGateway
	threshold fixedpoint.Value
	lockWait  time.Duration
	bus       *events.Bus
}

func newTestService(t *testing.T, opts serviceOptions) *Service {
	t.Helper()
	logger := zaptest.NewLogger(t)

	if opts.gateway == nil {
		opts.gateway = ApproveAll()
	}
	if opts.threshold.IsZero() {
		opts.threshold = fixedpoint.New(1_000_000_000)
	}
	if opts.lockWait <= 0 {
		opts.lockWait = time.Second
	}

	shares := fees.Shares{
		Buyback:        fixedpoint.MustFromString("0.3"),
		Treasury:       fixedpoint.MustFromString("0.4"),
		CreatorRewards: fixedpoint.MustFromString("0.3"),
	}
	feeEngine, err := fees.NewEngine(shares, fees.NewMemoryMetricStore(), nil, nil, logger)
	require.NoError(t, err)

	coordinator := graduation.NewCoordinator(graduation.Config{
		Threshold:            opts.threshold,
		SeedSupplyFraction:   fixedpoint.MustFromString("0.2"),
		SeedProceedsFraction: fixedpoint.MustFromString("0.8"),
		PoolFeeRate:          fixedpoint.MustFromString("0.005"),
	}, nil, logger)

	svc, err := NewService(Config{
		CurveParams: curve.Params{
			BasePrice: fixedpoint.MustFromString("0.0001"),
			Scale:     fixedpoint.New(1_000_000_000),
			FeeRate:   fixedpoint.MustFromString("0.01"),
		},
		LockWait: opts.lockWait,
	}, Deps{
		Ledger:  ledger.New(nil, logger),
		Fees:    feeEngine,
		Grad:    coordinator,
		Gateway: opts.gateway,
		Bus:     opts.bus,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func TestIssueToken_OnePerCreator(t *testing.T) {
	svc := newTestService(t, serviceOptions{})
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, "creator-1", "ONE", "mint-1")
	require.NoError(t, err)
	assert.NotEmpty(t, token.ID)
	assert.True(t, token.Active)
	assert.False(t, token.Graduated)

	_, err = svc.IssueToken(ctx, "creator-1", "TWO", "mint-2")
	assert.ErrorIs(t, err, market.ErrTokenExists)
}

func TestExecuteTrade_CurveBuy(t *testing.T) {
	svc := newTestService(t, serviceOptions{})
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, "creator-1", "ONE", "mint-1")
	require.NoError(t, err)

	trade, err := svc.ExecuteTrade(ctx, TradeRequest{
		TokenID:       token.ID,
		AccountID:     "acct-1",
		Direction:     market.Buy,
		AmountIn:      fixedpoint.New(1000),
		MinAmountOut:  fixedpoint.New(9_000_000),
		SettlementRef: "settle-1",
	})
	require.NoError(t, err)

	assert.True(t, trade.OutputAmount.GreaterThan(fixedpoint.New(9_700_000)))
	assert.True(t, trade.OutputAmount.LessThan(fixedpoint.New(9_900_000)))
	assert.True(t, trade.Fee.Equal(fixedpoint.New(10)))
	assert.True(t, trade.SupplyAfter.Equal(trade.OutputAmount))

	state, err := svc.GetMarketState(ctx, token.ID)
	require.NoError(t, err)
	assert.True(t, state.Supply.Equal(trade.SupplyAfter))
	assert.False(t, state.Graduated)
	assert.True(t, state.Volume24h.Equal(fixedpoint.New(1000)))
}

func TestExecuteTrade_UnknownToken(t *testing.T) {
	svc := newTestService(t, serviceOptions{})

	_, err := svc.ExecuteTrade(context.Background(), TradeRequest{
		TokenID:   "no-such-token",
		AccountID: "acct-1",
		Direction: market.Buy,
		AmountIn:  fixedpoint.New(10),
	})
	assert.ErrorIs(t, err, market.ErrTokenNotFound)
}

func TestExecuteTrade_SettlementUnverifiedAbortsEverything(t *testing.T) {
	rejecting := SettlementGatewayFunc(func(context.Context, string, string) error {
		return assert.AnError
	})
	svc := newTestService(t, serviceOptions{gateway: rejecting})
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, "creator-1", "ONE", "mint-1")
	require.NoError(t, err)

	_, err = svc.ExecuteTrade(ctx, TradeRequest{
		TokenID:       token.ID,
		AccountID:     "acct-1",
		Direction:     market.Buy,
		AmountIn:      fixedpoint.New(1000),
		SettlementRef: "settle-bad",
	})
	assert.ErrorIs(t, err, market.ErrSettlementUnverified)

	// Nothing committed: no ledger entry, supply untouched.
	state, err := svc.GetMarketState(ctx, token.ID)
	require.NoError(t, err)
	assert.True(t, state.Supply.IsZero())
	assert.True(t, state.Volume24h.IsZero())
}

func TestExecuteTrade_ConcurrentBuysAreSerialized(t *testing.T) {
	svc := newTestService(t, serviceOptions{lockWait: 10 * time.Second})
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, "creator-1", "ONE", "mint-1")
	require.NoError(t, err)

	const trades = 50
	var wg sync.WaitGroup
	errs := make(chan error, trades)
	for i := 0; i < trades; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ExecuteTrade(ctx, TradeRequest{
				TokenID:       token.ID,
				AccountID:     "acct-1",
				Direction:     market.Buy,
				AmountIn:      fixedpoint.New(10),
				SettlementRef: "settle",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	history := tradeHistory(t, svc, token.ID)
	require.Len(t, history, trades)

	// Each entry observed a strictly larger supply than the one before it:
	// no interleaving, no duplicated snapshots.
	for i := 1; i < len(history); i++ {
		assert.True(t, history[i].SupplyAfter.GreaterThan(history[i-1].SupplyAfter),
			"entry %d supply %s not above predecessor %s",
			i, history[i].SupplyAfter, history[i-1].SupplyAfter)
	}

	state, err := svc.GetMarketState(ctx, token.ID)
	require.NoError(t, err)
	assert.True(t, state.Supply.Equal(history[len(history)-1].SupplyAfter))
}

func TestExecuteTrade_BusyUnderContention(t *testing.T) {
	entered := make(chan struct{})
	blocked := make(chan struct{})
	slowGateway := SettlementGatewayFunc(func(context.Context, string, string) error {
		close(entered)
		<-blocked
		return nil
	})
	svc := newTestService(t, serviceOptions{gateway: slowGateway, lockWait: 50 * time.Millisecond})
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, "creator-1", "ONE", "mint-1")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := svc.ExecuteTrade(ctx, TradeRequest{
			TokenID:      token.ID,
			AccountID:    "acct-1",
			Direction:    market.Buy,
			AmountIn:     fixedpoint.New(100),
			MinAmountOut: fixedpoint.Zero(),
		})
		done <- err
	}()

	<-entered // first trade now holds the token lock inside the gateway call
	_, err = svc.ExecuteTrade(ctx, TradeRequest{
		TokenID:   token.ID,
		AccountID: "acct-2",
		Direction: market.Buy,
		AmountIn:  fixedpoint.New(100),
	})
	assert.ErrorIs(t, err, market.ErrBusy)

	close(blocked)
	require.NoError(t, <-done)
}

func TestReadsWaitForInFlightTrade(t *testing.T) {
	entered := make(chan struct{})
	blocked := make(chan struct{})
	slowGateway := SettlementGatewayFunc(func(context.Context, string, string) error {
		close(entered)
		<-blocked
		return nil
	})
	svc := newTestService(t, serviceOptions{gateway: slowGateway, lockWait: 50 * time.Millisecond})
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, "creator-1", "ONE", "mint-1")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := svc.ExecuteTrade(ctx, TradeRequest{
			TokenID:       token.ID,
			AccountID:     "acct-1",
			Direction:     market.Buy,
			AmountIn:      fixedpoint.New(1000),
			SettlementRef: "settle-1",
		})
		done <- err
	}()

	// While the trade holds the token lock, readers wait behind it rather
	// than reporting state the ledger has not recorded yet.
	<-entered
	_, err = svc.GetMarketState(ctx, token.ID)
	assert.ErrorIs(t, err, market.ErrBusy)
	_, err = svc.QuoteBuy(ctx, token.ID, fixedpoint.New(10))
	assert.ErrorIs(t, err, market.ErrBusy)

	close(blocked)
	require.NoError(t, <-done)

	// Once the trade commits, the read model shows both the new supply and
	// the matching ledger volume.
	state, err := svc.GetMarketState(ctx, token.ID)
	require.NoError(t, err)
	assert.True(t, state.Supply.IsPositive())
	assert.True(t, state.Volume24h.Equal(fixedpoint.New(1000)))
}

func TestFeeAndRewardEventsPublished(t *testing.T) {
	bus := events.NewBus(zaptest.NewLogger(t), 16)
	t.Cleanup(func() { _ = bus.Shutdown(context.Background()) })
	svc := newTestService(t, serviceOptions{bus: bus})
	ctx := context.Background()

	feeCh := make(chan events.Event, 1)
	bus.SubscribeFunc(events.FeesAllocated, func(_ context.Context, e events.Event) error {
		feeCh <- e
		return nil
	})
	rewardCh := make(chan events.Event, 1)
	bus.SubscribeFunc(events.RewardsDistributed, func(_ context.Context, e events.Event) error {
		rewardCh <- e
		return nil
	})

	token, err := svc.IssueToken(ctx, "creator-1", "ONE", "mint-1")
	require.NoError(t, err)
	trade, err := svc.ExecuteTrade(ctx, TradeRequest{
		TokenID:       token.ID,
		AccountID:     "acct-1",
		Direction:     market.Buy,
		AmountIn:      fixedpoint.New(1000),
		SettlementRef: "settle-1",
	})
	require.NoError(t, err)

	select {
	case e := <-feeCh:
		alloc, ok := e.(events.FeesAllocatedEvent)
		require.True(t, ok)
		assert.Equal(t, market.FeeSourceCurveTrade, alloc.Source)
		assert.True(t, alloc.Amount.Equal(trade.Fee))
		sum, err := alloc.Buyback.Add(alloc.Treasury)
		require.NoError(t, err)
		sum, err = sum.Add(alloc.Rewards)
		require.NoError(t, err)
		assert.True(t, sum.Equal(trade.Fee), "split %s leaks from fee %s", sum, trade.Fee)
	case <-time.After(2 * time.Second):
		t.Fatal("no fee allocation event")
	}

	payouts, err := svc.DistributeCreatorRewards([]string{"creator-1"})
	require.NoError(t, err)
	require.Len(t, payouts, 1)

	select {
	case e := <-rewardCh:
		dist, ok := e.(events.RewardsDistributedEvent)
		require.True(t, ok)
		assert.Equal(t, 1, dist.Recipients)
		assert.True(t, dist.Pool.Equal(payouts["creator-1"]))
	case <-time.After(2 * time.Second):
		t.Fatal("no rewards distribution event")
	}
}

func TestGraduation_TriggeredByTrade(t *testing.T) {
	svc := newTestService(t, serviceOptions{threshold: fixedpoint.New(500)})
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, "creator-1", "ONE", "mint-1")
	require.NoError(t, err)

	// One large buy pushes the market cap past the threshold.
	_, err = svc.ExecuteTrade(ctx, TradeRequest{
		TokenID:   token.ID,
		AccountID: "acct-1",
		Direction: market.Buy,
		AmountIn:  fixedpoint.New(1000),
	})
	require.NoError(t, err)

	state, err := svc.GetMarketState(ctx, token.ID)
	require.NoError(t, err)
	assert.True(t, state.Graduated)
	assert.True(t, state.ReserveToken.IsPositive())
	assert.True(t, state.ReserveBase.IsPositive())

	// Post-graduation trades route to the pool and leave supply untouched.
	before := state.Supply
	trade, err := svc.ExecuteTrade(ctx, TradeRequest{
		TokenID:   token.ID,
		AccountID: "acct-2",
		Direction: market.Buy,
		AmountIn:  fixedpoint.New(50),
	})
	require.NoError(t, err)
	assert.True(t, trade.SupplyAfter.Equal(before))

	after, err := svc.GetMarketState(ctx, token.ID)
	require.NoError(t, err)
	assert.True(t, after.Supply.Equal(before))
	assert.True(t, after.ReserveBase.GreaterThan(state.ReserveBase))
}

func TestQuote_RoutesByLifecyclePhase(t *testing.T) {
	svc := newTestService(t, serviceOptions{threshold: fixedpoint.New(500)})
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, "creator-1", "ONE", "mint-1")
	require.NoError(t, err)

	curveQuote, err := svc.QuoteBuy(ctx, token.ID, fixedpoint.New(1000))
	require.NoError(t, err)
	assert.True(t, curveQuote.AmountOut.GreaterThan(fixedpoint.New(9_000_000)))

	// Quotes have no side effects.
	state, err := svc.GetMarketState(ctx, token.ID)
	require.NoError(t, err)
	assert.True(t, state.Supply.IsZero())

	_, err = svc.ExecuteTrade(ctx, TradeRequest{
		TokenID:   token.ID,
		AccountID: "acct-1",
		Direction: market.Buy,
		AmountIn:  fixedpoint.New(1000),
	})
	require.NoError(t, err)

	poolQuote, err := svc.QuoteSell(ctx, token.ID, fixedpoint.New(1000))
	require.NoError(t, err)
	assert.True(t, poolQuote.AmountOut.IsPositive())
	assert.True(t, poolQuote.Price.IsPositive())
}

func TestManageLiquidity(t *testing.T) {
	svc := newTestService(t, serviceOptions{threshold: fixedpoint.New(500)})
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, "creator-1", "ONE", "mint-1")
	require.NoError(t, err)

	// Liquidity operations need a graduated token.
	_, err = svc.AddLiquidity(ctx, token.ID, "lp-1", fixedpoint.New(100), fixedpoint.New(10))
	assert.ErrorIs(t, err, market.ErrEmptyPool)

	_, err = svc.ExecuteTrade(ctx, TradeRequest{
		TokenID:   token.ID,
		AccountID: "acct-1",
		Direction: market.Buy,
		AmountIn:  fixedpoint.New(1000),
	})
	require.NoError(t, err)

	added, err := svc.AddLiquidity(ctx, token.ID, "lp-1", fixedpoint.New(10_000), fixedpoint.New(4))
	require.NoError(t, err)
	assert.True(t, added.LPTokens.IsPositive())

	removed, err := svc.RemoveLiquidity(ctx, token.ID, "lp-1", added.LPTokens)
	require.NoError(t, err)
	assert.True(t, removed.TokenOut.IsPositive())
	assert.True(t, removed.BaseOut.IsPositive())
	assert.True(t, removed.ReserveToken.LessThan(added.ReserveToken))

	_, err = svc.RemoveLiquidity(ctx, token.ID, "lp-1", fixedpoint.New(1))
	assert.ErrorIs(t, err, market.ErrInsufficientLpBalance)
}

func tradeHistory(t *testing.T, svc *Service, tokenID string) []market.Trade {
	t.Helper()
	return svc.ledger.Trades(tokenID)
}
