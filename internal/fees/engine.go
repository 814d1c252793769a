// Package fees converts each platform fee payment into buyback, treasury and
// creator-reward flows and maintains the daily platform metrics.
package fees

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/token-engine/internal/fixedpoint"
	"github.com/rovshanmuradov/token-engine/internal/market"
	"github.com/rovshanmuradov/token-engine/internal/metrics"
)

// Shares are the configured split fractions. They must sum to exactly 1.
type Shares struct {
	Buyback        fixedpoint.Value
	Treasury       fixedpoint.Value
	CreatorRewards fixedpoint.Value
}

// Validate checks the shares sum to one.
func (s Shares) Validate() error {
	sum, err := s.Buyback.Add(s.Treasury)
	if err != nil {
		return err
	}
	if sum, err = sum.Add(s.CreatorRewards); err != nil {
		return err
	}
	if !sum.Equal(fixedpoint.New(1)) {
		return fmt.Errorf("fee shares sum to %s, want 1", sum)
	}
	return nil
}

// Allocation is the exact three-way split of one fee payment.
// Buyback + Treasury + CreatorRewards always equals the input amount.
type Allocation struct {
	Buyback        fixedpoint.Value
	Treasury       fixedpoint.Value
	CreatorRewards fixedpoint.Value
}

// BuybackSink receives the base amount earmarked for buyback-and-burn. The
// actual swap and burn run in an external execution service; burn outcomes
// come back through Engine.ReconcileBurn.
type BuybackSink interface {
	QueueBuyback(amount fixedpoint.Value, source market.FeeSource) error
}

// Engine splits fees and owns the treasury accrual and the creator-reward
// queue.
type Engine struct {
	mu         sync.Mutex
	shares     Shares
	store      MetricStore
	buyback    BuybackSink
	treasury   fixedpoint.Value // accrued, not yet swept
	rewardPool fixedpoint.Value // queued for the next distribution cycle
	collector  *metrics.Collector
	now        func() time.Time
	logger     *zap.Logger
}

// NewEngine creates a fee engine. buyback may be nil (amounts still accrue in
// the allocation result); collector may be nil.
func NewEngine(shares Shares, store MetricStore, buyback BuybackSink, collector *metrics.Collector, logger *zap.Logger) (*Engine, error) {
	if err := shares.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		shares:    shares,
		store:     store,
		buyback:   buyback,
		collector: collector,
		now:       time.Now,
		logger:    logger.Named("fee_engine"),
	}, nil
}

// ProcessFee splits amount by the configured shares. Buyback and creator
// shares round down; the residual lands in treasury, so the three parts sum
// to amount exactly. The day's metric bucket is updated in the same call.
func (e *Engine) ProcessFee(amount fixedpoint.Value, source market.FeeSource) (Allocation, error) {
	if !amount.IsPositive() {
		return Allocation{}, fmt.Errorf("fee amount %s: %w", amount, market.ErrInvalidAmount)
	}
	switch source {
	case market.FeeSourceCurveTrade, market.FeeSourcePoolTrade, market.FeeSourceSale:
	default:
		return Allocation{}, fmt.Errorf("unknown fee source %q: %w", source, market.ErrInvalidAmount)
	}

	buyback, err := amount.Mul(e.shares.Buyback, fixedpoint.RoundDown)
	if err != nil {
		return Allocation{}, err
	}
	creator, err := amount.Mul(e.shares.CreatorRewards, fixedpoint.RoundDown)
	if err != nil {
		return Allocation{}, err
	}
	treasury, err := amount.Sub(buyback)
	if err != nil {
		return Allocation{}, err
	}
	if treasury, err = treasury.Sub(creator); err != nil {
		return Allocation{}, err
	}

	e.mu.Lock()
	if e.treasury, err = e.treasury.Add(treasury); err != nil {
		e.mu.Unlock()
		return Allocation{}, err
	}
	if e.rewardPool, err = e.rewardPool.Add(creator); err != nil {
		e.mu.Unlock()
		return Allocation{}, err
	}
	e.mu.Unlock()

	if e.buyback != nil && buyback.IsPositive() {
		if err := e.buyback.QueueBuyback(buyback, source); err != nil {
			// The split stands; the sink is reconciled asynchronously.
			e.logger.Error("Buyback sink rejected amount",
				zap.String("amount", buyback.String()), zap.Error(err))
		}
	}

	if err := e.store.IncrementDaily(MetricDate(e.now()), MetricDelta{FeesCollected: amount}); err != nil {
		return Allocation{}, err
	}
	e.collector.RecordFee(amount.Float64())

	e.logger.Debug("Fee allocated",
		zap.String("source", string(source)),
		zap.String("amount", amount.String()),
		zap.String("buyback", buyback.String()),
		zap.String("treasury", treasury.String()),
		zap.String("creator_rewards", creator.String()))

	return Allocation{Buyback: buyback, Treasury: treasury, CreatorRewards: creator}, nil
}

// RecordTradeVolume bumps the day's cumulative trading volume.
func (e *Engine) RecordTradeVolume(amount fixedpoint.Value) error {
	if !amount.IsPositive() {
		return nil
	}
	return e.store.IncrementDaily(MetricDate(e.now()), MetricDelta{TradingVolume: amount})
}

// ReconcileBurn records a burn confirmed by the external execution service.
func (e *Engine) ReconcileBurn(tokens fixedpoint.Value) error {
	if !tokens.IsPositive() {
		return fmt.Errorf("burn amount %s: %w", tokens, market.ErrInvalidAmount)
	}
	e.collector.RecordBurn(tokens.Float64())
	return e.store.IncrementDaily(MetricDate(e.now()), MetricDelta{TokensBurned: tokens})
}

// DistributeCreatorRewards splits poolAmount evenly across the ranked
// creators, remainder to the top-ranked one. With an empty ranking the pool
// is deferred to the next cycle (returned to the queue) and
// ErrNoEligibleRecipients is reported.
func (e *Engine) DistributeCreatorRewards(poolAmount fixedpoint.Value, rankedCreatorIDs []string) (map[string]fixedpoint.Value, error) {
	if !poolAmount.IsPositive() {
		return nil, fmt.Errorf("pool amount %s: %w", poolAmount, market.ErrInvalidAmount)
	}
	if len(rankedCreatorIDs) == 0 {
		e.mu.Lock()
		pool, err := e.rewardPool.Add(poolAmount)
		if err == nil {
			e.rewardPool = pool
		}
		e.mu.Unlock()
		if err != nil {
			return nil, err
		}
		e.logger.Warn("No eligible creators, deferring reward pool",
			zap.String("amount", poolAmount.String()))
		return nil, market.ErrNoEligibleRecipients
	}

	n := fixedpoint.New(int64(len(rankedCreatorIDs)))
	each, err := poolAmount.Div(n, fixedpoint.RoundDown)
	if err != nil {
		return nil, err
	}
	paid, err := each.Mul(n, fixedpoint.RoundDown)
	if err != nil {
		return nil, err
	}
	remainder, err := poolAmount.Sub(paid)
	if err != nil {
		return nil, err
	}

	payouts := make(map[string]fixedpoint.Value, len(rankedCreatorIDs))
	for i, id := range rankedCreatorIDs {
		share := each
		if i == 0 {
			if share, err = each.Add(remainder); err != nil {
				return nil, err
			}
		}
		payouts[id] = share
	}

	if err := e.store.IncrementDaily(MetricDate(e.now()), MetricDelta{CreatorRewards: poolAmount}); err != nil {
		return nil, err
	}
	e.collector.RecordRewards(poolAmount.Float64())

	e.logger.Info("Creator rewards distributed",
		zap.Int("recipients", len(rankedCreatorIDs)),
		zap.String("pool", poolAmount.String()))

	return payouts, nil
}

// DrainRewardPool empties the queued creator-reward pool and returns what was
// in it, for use as the next distribution's pool amount.
func (e *Engine) DrainRewardPool() fixedpoint.Value {
	e.mu.Lock()
	defer e.mu.Unlock()
	pool := e.rewardPool
	e.rewardPool = fixedpoint.Zero()
	return pool
}

// TreasuryBalance returns the accrued treasury amount.
func (e *Engine) TreasuryBalance() fixedpoint.Value {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.treasury
}

// PendingRewards returns the queued creator-reward pool.
func (e *Engine) PendingRewards() fixedpoint.Value {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rewardPool
}
