// Package engine orchestrates the trading operations across the bonding
// curve, the constant-product pools, the trade ledger and the fee pipeline.
// All mutations of one token's market run inside that token's exclusive lock;
// work that can safely happen after the commit (fee accounting, persistence,
// notifications) runs outside it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/token-engine/internal/amm"
	"github.com/rovshanmuradov/token-engine/internal/curve"
	"github.com/rovshanmuradov/token-engine/internal/events"
	"github.com/rovshanmuradov/token-engine/internal/fees"
	"github.com/rovshanmuradov/token-engine/internal/fixedpoint"
	"github.com/rovshanmuradov/token-engine/internal/graduation"
	"github.com/rovshanmuradov/token-engine/internal/ledger"
	"github.com/rovshanmuradov/token-engine/internal/market"
	"github.com/rovshanmuradov/token-engine/internal/metrics"
	"github.com/rovshanmuradov/token-engine/internal/storage"
)

// Config carries the engine's operational parameters. Market math constants
// live in curve.Params and the graduation coordinator's own config.
type Config struct {
	CurveParams       curve.Params
	LockWait          time.Duration
	RetryMaxTries     uint
	RetryInitialDelay time.Duration
}

// TradeRequest is one execute_trade invocation.
type TradeRequest struct {
	TokenID       string
	AccountID     string
	Direction     market.Direction
	AmountIn      fixedpoint.Value
	MinAmountOut  fixedpoint.Value
	SettlementRef string
}

// LiquidityResult reports the pool state after a liquidity change.
type LiquidityResult struct {
	ReserveToken fixedpoint.Value
	ReserveBase  fixedpoint.Value
	LPTokens     fixedpoint.Value // minted on add, returned amounts on remove
	TokenOut     fixedpoint.Value // remove only
	BaseOut      fixedpoint.Value // remove only
}

// tokenMarket bundles a token with its venues. pool stays nil until
// graduation.
type tokenMarket struct {
	token *market.Token
	curve *curve.Market
	pool  *amm.Pool
}

// Service is the trading engine. One instance serves all tokens.
type Service struct {
	mu       sync.RWMutex
	markets  map[string]*tokenMarket
	creators map[string]string // creator id -> token id

	cfg       Config
	locks     *lockTable
	ledger    *ledger.Ledger
	fees      *fees.Engine
	grad      *graduation.Coordinator
	gateway   SettlementGateway
	store     storage.Storage // optional
	bus       *events.Bus     // optional
	collector *metrics.Collector
	retry     *retrier
	now       func() time.Time
	logger    *zap.Logger
}

// Deps are the engine's collaborators. Store, Bus and Collector may be nil.
type Deps struct {
	Ledger    *ledger.Ledger
	Fees      *fees.Engine
	Grad      *graduation.Coordinator
	Gateway   SettlementGateway
	Store     storage.Storage
	Bus       *events.Bus
	Collector *metrics.Collector
}

// NewService creates the engine.
func NewService(cfg Config, deps Deps, logger *zap.Logger) (*Service, error) {
	if deps.Ledger == nil || deps.Fees == nil || deps.Grad == nil || deps.Gateway == nil {
		return nil, fmt.Errorf("ledger, fees, graduation and gateway are required")
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 500 * time.Millisecond
	}
	if cfg.RetryMaxTries == 0 {
		cfg.RetryMaxTries = 5
	}
	if cfg.RetryInitialDelay <= 0 {
		cfg.RetryInitialDelay = 200 * time.Millisecond
	}
	return &Service{
		markets:   make(map[string]*tokenMarket),
		creators:  make(map[string]string),
		cfg:       cfg,
		locks:     newLockTable(cfg.LockWait),
		ledger:    deps.Ledger,
		fees:      deps.Fees,
		grad:      deps.Grad,
		gateway:   deps.Gateway,
		store:     deps.Store,
		bus:       deps.Bus,
		collector: deps.Collector,
		retry:     newRetrier(cfg.RetryMaxTries, cfg.RetryInitialDelay, logger),
		now:       time.Now,
		logger:    logger.Named("engine"),
	}, nil
}

// Close stops background retries. Markets stay readable.
func (s *Service) Close() {
	s.retry.Close()
}

// IssueToken creates a token and its bonding-curve market. Each creator may
// issue exactly one token.
func (s *Service) IssueToken(ctx context.Context, creatorID, symbol, mintReference string) (market.Token, error) {
	if creatorID == "" || symbol == "" {
		return market.Token{}, fmt.Errorf("creator_id and symbol are required: %w", market.ErrInvalidAmount)
	}

	token := market.Token{
		ID:            uuid.New().String(),
		CreatorID:     creatorID,
		Symbol:        symbol,
		MintReference: mintReference,
		Supply:        fixedpoint.Zero(),
		MarketCap:     fixedpoint.Zero(),
		Active:        true,
		CreatedAt:     s.now(),
	}

	s.mu.Lock()
	if existing, ok := s.creators[creatorID]; ok {
		s.mu.Unlock()
		return market.Token{}, fmt.Errorf("creator %s already owns token %s: %w",
			creatorID, existing, market.ErrTokenExists)
	}
	s.markets[token.ID] = &tokenMarket{
		token: &token,
		curve: curve.NewMarket(s.cfg.CurveParams, s.logger),
	}
	s.creators[creatorID] = token.ID
	s.mu.Unlock()

	s.logger.Info("Token issued",
		zap.String("token_id", token.ID),
		zap.String("creator_id", creatorID),
		zap.String("symbol", symbol))

	s.publish(events.TokenIssuedEvent{
		BaseEvent: events.BaseEvent{EventType: events.TokenIssued, EventTime: token.CreatedAt},
		TokenID:   token.ID,
		CreatorID: creatorID,
	})
	s.persistNewToken(token)

	return token, nil
}

func (s *Service) marketFor(tokenID string) (*tokenMarket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tm, ok := s.markets[tokenID]
	if !ok {
		return nil, fmt.Errorf("token %s: %w", tokenID, market.ErrTokenNotFound)
	}
	return tm, nil
}

// QuoteBuy projects a buy without side effects: base units in, tokens out.
func (s *Service) QuoteBuy(ctx context.Context, tokenID string, amountIn fixedpoint.Value) (market.Quote, error) {
	return s.quote(ctx, tokenID, market.Buy, amountIn)
}

// QuoteSell projects a sell without side effects: tokens in, base units out.
func (s *Service) QuoteSell(ctx context.Context, tokenID string, amountIn fixedpoint.Value) (market.Quote, error) {
	return s.quote(ctx, tokenID, market.Sell, amountIn)
}

func (s *Service) quote(ctx context.Context, tokenID string, direction market.Direction, amountIn fixedpoint.Value) (market.Quote, error) {
	tm, err := s.marketFor(tokenID)
	if err != nil {
		return market.Quote{}, err
	}
	// Quotes wait for any in-flight trade on the token, so they never report
	// venue state ahead of the newest ledger entry.
	release, err := s.locks.acquire(ctx, tokenID)
	if err != nil {
		return market.Quote{}, err
	}
	defer release()
	if pool := s.poolFor(tm); pool != nil {
		return pool.Quote(direction, amountIn)
	}
	return tm.curve.Quote(direction, amountIn)
}

// poolFor returns the token's pool, or nil while it still trades on the
// curve. The registry lock covers the pool pointer, which is written once at
// graduation.
func (s *Service) poolFor(tm *tokenMarket) *amm.Pool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tm.pool
}

// ExecuteTrade runs the full trade pipeline: settlement gate, venue routing,
// ledger append and the graduation check, all inside the token's exclusive
// lock. Fee allocation and persistence happen after release; their failures
// are retried in the background and never un-commit the trade.
func (s *Service) ExecuteTrade(ctx context.Context, req TradeRequest) (market.Trade, error) {
	if !req.Direction.Valid() {
		return market.Trade{}, fmt.Errorf("direction %q: %w", req.Direction, market.ErrInvalidAmount)
	}
	if !req.AmountIn.IsPositive() {
		return market.Trade{}, fmt.Errorf("amount_in %s: %w", req.AmountIn, market.ErrInvalidAmount)
	}

	tm, err := s.marketFor(req.TokenID)
	if err != nil {
		return market.Trade{}, err
	}

	release, err := s.locks.acquire(ctx, req.TokenID)
	if err != nil {
		if errors.Is(err, market.ErrBusy) {
			s.collector.RecordContention()
		}
		return market.Trade{}, err
	}
	defer release()

	// Settlement is verified inside the lock so the external leg and the
	// local commit decide together: an unverified settlement aborts before
	// any state changes.
	if err := s.gateway.VerifySettlement(ctx, req.AccountID, req.SettlementRef); err != nil {
		return market.Trade{}, fmt.Errorf("settlement %s: %w (%v)",
			req.SettlementRef, market.ErrSettlementUnverified, err)
	}

	trade, venue, err := s.routeTrade(tm, req)
	if err != nil {
		return market.Trade{}, err
	}

	// Append before releasing the lock; readers can never observe reserves
	// newer than the newest ledger entry.
	if err := s.ledger.Append(trade); err != nil {
		return market.Trade{}, err
	}

	s.mu.Lock()
	mc, err := s.ledger.MarketCap(req.TokenID, tm.token.Supply)
	if err != nil {
		s.mu.Unlock()
		return market.Trade{}, err
	}
	tm.token.MarketCap = mc
	s.mu.Unlock()

	if venue == "curve" {
		s.maybeGraduate(tm, mc)
	}

	s.mu.RLock()
	tokenSnapshot := *tm.token
	s.mu.RUnlock()

	release()

	s.afterCommit(trade, venue, tokenSnapshot)
	return trade, nil
}

// routeTrade executes against the curve or the pool, depending on the
// token's lifecycle phase, and builds the trade record. Caller holds the
// token lock.
func (s *Service) routeTrade(tm *tokenMarket, req TradeRequest) (market.Trade, string, error) {
	id := uuid.New().String()
	ts := s.now()

	if pool := s.poolFor(tm); pool != nil {
		res, err := pool.Swap(req.Direction, req.AmountIn, req.MinAmountOut)
		if err != nil {
			return market.Trade{}, "", err
		}
		price, err := poolTradePrice(req.Direction, req.AmountIn, res.AmountOut)
		if err != nil {
			return market.Trade{}, "", err
		}
		s.mu.RLock()
		supply := tm.token.Supply
		s.mu.RUnlock()
		return market.Trade{
			ID:            id,
			TokenID:       req.TokenID,
			AccountID:     req.AccountID,
			Direction:     req.Direction,
			InputAmount:   req.AmountIn,
			OutputAmount:  res.AmountOut,
			Price:         price,
			Fee:           res.FeePaid,
			SettlementRef: req.SettlementRef,
			SupplyAfter:   supply, // pool swaps do not mint or burn
			Timestamp:     ts,
		}, "pool", nil
	}

	res, err := tm.curve.Execute(req.Direction, req.AmountIn, req.MinAmountOut)
	if err != nil {
		return market.Trade{}, "", err
	}
	s.mu.Lock()
	tm.token.Supply = res.SupplyAfter
	s.mu.Unlock()
	return market.Trade{
		ID:            id,
		TokenID:       req.TokenID,
		AccountID:     req.AccountID,
		Direction:     req.Direction,
		InputAmount:   req.AmountIn,
		OutputAmount:  res.AmountOut,
		Price:         res.Price,
		Fee:           res.Fee,
		SettlementRef: req.SettlementRef,
		SupplyAfter:   res.SupplyAfter,
		Timestamp:     ts,
	}, "curve", nil
}

func poolTradePrice(direction market.Direction, amountIn, amountOut fixedpoint.Value) (fixedpoint.Value, error) {
	if direction == market.Buy {
		return amountIn.Div(amountOut, fixedpoint.RoundDown)
	}
	return amountOut.Div(amountIn, fixedpoint.RoundDown)
}

// maybeGraduate runs the threshold check inside the trade's critical
// section. A failed transition is retried in the background; the trade that
// triggered it stands either way.
func (s *Service) maybeGraduate(tm *tokenMarket, marketCap fixedpoint.Value) {
	result, err := s.checkGraduation(tm, marketCap)
	if err != nil {
		s.logger.Error("Graduation failed, scheduling retry",
			zap.String("token_id", tm.token.ID), zap.Error(err))
		s.retry.Go("graduate_"+tm.token.ID, func(ctx context.Context) error {
			release, err := s.locks.acquire(ctx, tm.token.ID)
			if err != nil {
				return err
			}
			defer release()
			s.mu.RLock()
			supply := tm.token.Supply
			s.mu.RUnlock()
			mc, err := s.ledger.MarketCap(tm.token.ID, supply)
			if err != nil {
				return err
			}
			res, err := s.checkGraduation(tm, mc)
			if err != nil {
				return err
			}
			if res != nil {
				s.installPool(tm, res, mc)
			}
			return nil
		})
		return
	}
	if result != nil {
		s.installPool(tm, result, marketCap)
	}
}

// checkGraduation runs the coordinator under the registry lock, which guards
// the token's lifecycle fields. A repeat check on a graduated token is a
// benign no-op.
func (s *Service) checkGraduation(tm *tokenMarket, marketCap fixedpoint.Value) (*graduation.Result, error) {
	s.mu.Lock()
	result, err := s.grad.CheckAndGraduate(tm.token, tm.curve, marketCap, s.now())
	s.mu.Unlock()
	if errors.Is(err, market.ErrAlreadyGraduated) {
		return nil, nil
	}
	return result, err
}

// installPool publishes the seeded pool as the token's trading venue.
func (s *Service) installPool(tm *tokenMarket, result *graduation.Result, marketCap fixedpoint.Value) {
	s.mu.Lock()
	tm.pool = result.Pool
	s.mu.Unlock()

	_, base := result.Pool.Reserves()
	s.collector.SetPoolLiquidity(tm.token.ID, base.Float64())

	s.publish(events.TokenGraduatedEvent{
		BaseEvent: events.BaseEvent{EventType: events.TokenGraduated, EventTime: s.now()},
		TokenID:   tm.token.ID,
		MarketCap: marketCap,
		SeedToken: result.SeedToken,
		SeedBase:  result.SeedBase,
	})
	s.persistGraduation(*tm.token, result)
}

// afterCommit runs the post-trade side work outside the token lock.
func (s *Service) afterCommit(trade market.Trade, venue string, token market.Token) {
	baseSide := trade.InputAmount
	if trade.Direction == market.Sell {
		baseSide = trade.OutputAmount
	}
	s.collector.RecordTrade(string(trade.Direction), venue, baseSide.Float64())

	source := market.FeeSourceCurveTrade
	if venue == "pool" {
		source = market.FeeSourcePoolTrade
	}
	if trade.Fee.IsPositive() {
		if err := s.allocateFee(trade, source); err != nil {
			s.logger.Error("Fee processing failed, scheduling retry",
				zap.String("trade_id", trade.ID), zap.Error(err))
			s.retry.Go("process_fee_"+trade.ID, func(context.Context) error {
				return s.allocateFee(trade, source)
			})
		}
	}
	if err := s.fees.RecordTradeVolume(baseSide); err != nil {
		s.retry.Go("record_volume_"+trade.ID, func(context.Context) error {
			return s.fees.RecordTradeVolume(baseSide)
		})
	}

	s.publish(events.TradeExecutedEvent{
		BaseEvent: events.BaseEvent{EventType: events.TradeExecuted, EventTime: trade.Timestamp},
		Trade:     trade,
	})
	s.persistTrade(trade, token)
}

// allocateFee runs the three-way fee split and announces the allocation.
func (s *Service) allocateFee(trade market.Trade, source market.FeeSource) error {
	alloc, err := s.fees.ProcessFee(trade.Fee, source)
	if err != nil {
		return err
	}
	s.publish(events.FeesAllocatedEvent{
		BaseEvent: events.BaseEvent{EventType: events.FeesAllocated, EventTime: trade.Timestamp},
		Source:    source,
		Amount:    trade.Fee,
		Buyback:   alloc.Buyback,
		Treasury:  alloc.Treasury,
		Rewards:   alloc.CreatorRewards,
	})
	return nil
}

// DistributeCreatorRewards drains the queued reward pool and pays it out
// across the ranked creators. A nil map with nil error means the pool was
// empty and there was nothing to distribute.
func (s *Service) DistributeCreatorRewards(rankedCreatorIDs []string) (map[string]fixedpoint.Value, error) {
	pool := s.fees.DrainRewardPool()
	if !pool.IsPositive() {
		return nil, nil
	}
	payouts, err := s.fees.DistributeCreatorRewards(pool, rankedCreatorIDs)
	if err != nil {
		// On an empty ranking the fee engine has already re-queued the pool.
		return nil, err
	}
	s.publish(events.RewardsDistributedEvent{
		BaseEvent:  events.BaseEvent{EventType: events.RewardsDistributed, EventTime: s.now()},
		Pool:       pool,
		Recipients: len(rankedCreatorIDs),
	})
	return payouts, nil
}

// AddLiquidity deposits both assets into a graduated token's pool.
func (s *Service) AddLiquidity(ctx context.Context, tokenID, provider string, tokenAmount, baseAmount fixedpoint.Value) (LiquidityResult, error) {
	tm, err := s.marketFor(tokenID)
	if err != nil {
		return LiquidityResult{}, err
	}
	release, err := s.locks.acquire(ctx, tokenID)
	if err != nil {
		if errors.Is(err, market.ErrBusy) {
			s.collector.RecordContention()
		}
		return LiquidityResult{}, err
	}
	defer release()

	pool := s.poolFor(tm)
	if pool == nil {
		return LiquidityResult{}, fmt.Errorf("token %s has not graduated: %w", tokenID, market.ErrEmptyPool)
	}
	minted, err := pool.AddLiquidity(provider, tokenAmount, baseAmount)
	if err != nil {
		return LiquidityResult{}, err
	}
	return s.liquidityChanged(tm, pool, provider, LiquidityResult{LPTokens: minted}), nil
}

// RemoveLiquidity burns LP tokens and withdraws the proportional reserves.
func (s *Service) RemoveLiquidity(ctx context.Context, tokenID, provider string, lpTokens fixedpoint.Value) (LiquidityResult, error) {
	tm, err := s.marketFor(tokenID)
	if err != nil {
		return LiquidityResult{}, err
	}
	release, err := s.locks.acquire(ctx, tokenID)
	if err != nil {
		if errors.Is(err, market.ErrBusy) {
			s.collector.RecordContention()
		}
		return LiquidityResult{}, err
	}
	defer release()

	pool := s.poolFor(tm)
	if pool == nil {
		return LiquidityResult{}, fmt.Errorf("token %s has not graduated: %w", tokenID, market.ErrEmptyPool)
	}
	tokenOut, baseOut, err := pool.RemoveLiquidity(provider, lpTokens)
	if err != nil {
		return LiquidityResult{}, err
	}
	return s.liquidityChanged(tm, pool, provider, LiquidityResult{
		LPTokens: lpTokens,
		TokenOut: tokenOut,
		BaseOut:  baseOut,
	}), nil
}

func (s *Service) liquidityChanged(tm *tokenMarket, pool *amm.Pool, provider string, result LiquidityResult) LiquidityResult {
	result.ReserveToken, result.ReserveBase = pool.Reserves()
	s.collector.SetPoolLiquidity(tm.token.ID, result.ReserveBase.Float64())

	s.publish(events.LiquidityChangedEvent{
		BaseEvent:    events.BaseEvent{EventType: events.LiquidityChanged, EventTime: s.now()},
		TokenID:      tm.token.ID,
		Provider:     provider,
		ReserveToken: result.ReserveToken,
		ReserveBase:  result.ReserveBase,
	})
	s.persistPool(tm.token.ID, pool)
	return result
}

// GetMarketState returns the read model for one token: price, reserves or
// curve state, graduation flag and 24h volume. The snapshot is taken inside
// the token's lock, so it reflects exactly the state as of the newest ledger
// entry for the token.
func (s *Service) GetMarketState(ctx context.Context, tokenID string) (market.MarketState, error) {
	tm, err := s.marketFor(tokenID)
	if err != nil {
		return market.MarketState{}, err
	}

	release, err := s.locks.acquire(ctx, tokenID)
	if err != nil {
		return market.MarketState{}, err
	}
	defer release()

	state := market.MarketState{TokenID: tokenID}

	if pool := s.poolFor(tm); pool != nil {
		state.Graduated = true
		state.ReserveToken, state.ReserveBase = pool.Reserves()
		if state.Price, err = pool.Price(); err != nil {
			return market.MarketState{}, err
		}
	} else {
		if state.Price, err = tm.curve.Price(); err != nil {
			return market.MarketState{}, err
		}
	}

	s.mu.RLock()
	state.Supply = tm.token.Supply
	state.MarketCap = tm.token.MarketCap
	s.mu.RUnlock()

	if state.Volume24h, err = s.ledger.Volume(tokenID, 24*time.Hour); err != nil {
		return market.MarketState{}, err
	}
	return state, nil
}

func (s *Service) publish(event events.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(event); err != nil {
		s.logger.Warn("Event publish failed",
			zap.String("event_type", string(event.Type())), zap.Error(err))
	}
}
