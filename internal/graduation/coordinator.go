// Package graduation owns the single state transition a token can make:
// BondingCurve -> Graduated. The transition freezes the curve and seeds a
// constant-product pool from the curve's final state. There is no reverse
// transition.
package graduation

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/token-engine/internal/amm"
	"github.com/rovshanmuradov/token-engine/internal/curve"
	"github.com/rovshanmuradov/token-engine/internal/fixedpoint"
	"github.com/rovshanmuradov/token-engine/internal/market"
	"github.com/rovshanmuradov/token-engine/internal/metrics"
)

// PlatformProvider is the LP account holding graduation-seeded liquidity.
const PlatformProvider = "platform"

// Config sets the graduation threshold and how the pool is seeded from the
// curve's final state. All values are product configuration.
type Config struct {
	Threshold            fixedpoint.Value // market cap that triggers graduation
	SeedSupplyFraction   fixedpoint.Value // fraction of final supply seeded as token reserve
	SeedProceedsFraction fixedpoint.Value // fraction of curve proceeds seeded as base reserve
	PoolFeeRate          fixedpoint.Value
}

// Result describes a completed transition.
type Result struct {
	Pool      *amm.Pool
	SeedToken fixedpoint.Value
	SeedBase  fixedpoint.Value
	LPMinted  fixedpoint.Value
}

// Coordinator performs threshold checks and the atomic transition. Callers
// must hold the token's per-token lock for the whole call, so the check can
// never race with a trade on the same token.
type Coordinator struct {
	cfg       Config
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config, collector *metrics.Collector, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		collector: collector,
		logger:    logger.Named("graduation"),
	}
}

// Threshold returns the configured market-cap threshold.
func (c *Coordinator) Threshold() fixedpoint.Value { return c.cfg.Threshold }

// CheckAndGraduate graduates the token if its market cap has reached the
// threshold. Returns (nil, nil) when the threshold is not met. Calling it on
// an already graduated token returns ErrAlreadyGraduated; the engine's own
// post-trade invocation treats that as a benign no-op, so the transition
// happens exactly once.
func (c *Coordinator) CheckAndGraduate(token *market.Token, m *curve.Market, marketCap fixedpoint.Value, now time.Time) (*Result, error) {
	if token.Graduated {
		return nil, market.ErrAlreadyGraduated
	}
	if marketCap.LessThan(c.cfg.Threshold) {
		return nil, nil
	}

	seedToken, err := m.Supply().Mul(c.cfg.SeedSupplyFraction, fixedpoint.RoundDown)
	if err != nil {
		return nil, err
	}
	seedBase, err := m.Proceeds().Mul(c.cfg.SeedProceedsFraction, fixedpoint.RoundDown)
	if err != nil {
		return nil, err
	}
	if !seedToken.IsPositive() || !seedBase.IsPositive() {
		return nil, fmt.Errorf("cannot seed pool from curve state (supply=%s proceeds=%s): %w",
			m.Supply(), m.Proceeds(), market.ErrEmptyPool)
	}

	// Point of no return: freeze first so no further curve trade can slip in
	// behind the seeding math. The caller holds the token lock, making the
	// whole block atomic with respect to other trades.
	m.Freeze()

	pool := amm.NewPool(token.ID, c.cfg.PoolFeeRate, c.logger)
	minted, err := pool.AddLiquidity(PlatformProvider, seedToken, seedBase)
	if err != nil {
		return nil, fmt.Errorf("failed to seed pool: %w", err)
	}

	graduatedAt := now
	token.Graduated = true
	token.GraduationDate = &graduatedAt

	c.collector.RecordGraduation()
	c.logger.Info("Token graduated",
		zap.String("token_id", token.ID),
		zap.String("market_cap", marketCap.String()),
		zap.String("seed_token", seedToken.String()),
		zap.String("seed_base", seedBase.String()),
		zap.String("lp_minted", minted.String()))

	return &Result{Pool: pool, SeedToken: seedToken, SeedBase: seedBase, LPMinted: minted}, nil
}
