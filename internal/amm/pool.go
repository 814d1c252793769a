// Package amm implements the post-graduation constant-product (x*y=k) pool.
// The full input amount enters the reserves, so the fee portion strictly
// increases k on every swap; the fee is reported to the caller for
// allocation, actual movement of fee funds is an external concern.
package amm

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/token-engine/internal/fixedpoint"
	"github.com/rovshanmuradov/token-engine/internal/market"
)

// Pool holds the two reserves backing a graduated token's market plus the LP
// accounting. Mutations are serialized by the engine's per-token lock; the
// internal mutex keeps direct reads consistent.
type Pool struct {
	mu           sync.RWMutex
	tokenID      string
	reserveToken fixedpoint.Value
	reserveBase  fixedpoint.Value
	feeRate      fixedpoint.Value
	totalLP      fixedpoint.Value
	lpBalances   map[string]fixedpoint.Value
	logger       *zap.Logger
}

// NewPool creates an empty pool for tokenID. Reserves arrive through
// AddLiquidity (the graduation coordinator seeds the first position).
func NewPool(tokenID string, feeRate fixedpoint.Value, logger *zap.Logger) *Pool {
	return &Pool{
		tokenID:    tokenID,
		feeRate:    feeRate,
		lpBalances: make(map[string]fixedpoint.Value),
		logger:     logger.Named("amm_pool").With(zap.String("token_id", tokenID)),
	}
}

// TokenID returns the owning token.
func (p *Pool) TokenID() string { return p.tokenID }

// Reserves returns the current (token, base) reserves.
func (p *Pool) Reserves() (fixedpoint.Value, fixedpoint.Value) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.reserveToken, p.reserveBase
}

// TotalLP returns the outstanding LP token supply.
func (p *Pool) TotalLP() fixedpoint.Value {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalLP
}

// LPBalance returns provider's LP token balance.
func (p *Pool) LPBalance(provider string) fixedpoint.Value {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lpBalances[provider]
}

// Price returns the spot price in base units per token.
func (p *Pool) Price() (fixedpoint.Value, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.reserveToken.IsZero() {
		return fixedpoint.Value{}, market.ErrEmptyPool
	}
	return p.reserveBase.Div(p.reserveToken, fixedpoint.RoundDown)
}

// Quote projects a swap without touching the reserves.
func (p *Pool) Quote(direction market.Direction, amountIn fixedpoint.Value) (market.Quote, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	amountOut, _, err := p.compute(direction, amountIn)
	if err != nil {
		return market.Quote{}, err
	}
	price, err := quotePrice(direction, amountIn, amountOut)
	if err != nil {
		return market.Quote{}, err
	}
	return market.Quote{AmountIn: amountIn, AmountOut: amountOut, Price: price}, nil
}

// quotePrice is the execution price in base per token.
func quotePrice(direction market.Direction, amountIn, amountOut fixedpoint.Value) (fixedpoint.Value, error) {
	if direction == market.Buy {
		return amountIn.Div(amountOut, fixedpoint.RoundDown)
	}
	return amountOut.Div(amountIn, fixedpoint.RoundDown)
}

// Swap trades against the reserves. Buy swaps base for tokens, Sell swaps
// tokens for base. amount_out = reserve_out * net / (reserve_in + net) with
// net = amount_in * (1 - fee_rate).
func (p *Pool) Swap(direction market.Direction, amountIn, minAmountOut fixedpoint.Value) (market.SwapResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	amountOut, fee, err := p.compute(direction, amountIn)
	if err != nil {
		return market.SwapResult{}, err
	}
	if amountOut.LessThan(minAmountOut) {
		return market.SwapResult{}, fmt.Errorf("amount_out %s below bound %s: %w",
			amountOut, minAmountOut, market.ErrSlippageExceeded)
	}

	// Commit: the whole input (fee included) enters the reserves. Both sides
	// are staged in locals and assigned together so a failed leg leaves the
	// reserves untouched.
	var newReserveToken, newReserveBase fixedpoint.Value
	if direction == market.Buy {
		if newReserveBase, err = p.reserveBase.Add(amountIn); err != nil {
			return market.SwapResult{}, err
		}
		if newReserveToken, err = p.reserveToken.Sub(amountOut); err != nil {
			return market.SwapResult{}, err
		}
	} else {
		if newReserveToken, err = p.reserveToken.Add(amountIn); err != nil {
			return market.SwapResult{}, err
		}
		if newReserveBase, err = p.reserveBase.Sub(amountOut); err != nil {
			return market.SwapResult{}, err
		}
	}
	p.reserveToken, p.reserveBase = newReserveToken, newReserveBase

	p.logger.Debug("Swap executed",
		zap.String("direction", string(direction)),
		zap.String("amount_in", amountIn.String()),
		zap.String("amount_out", amountOut.String()),
		zap.String("fee", fee.String()),
		zap.String("reserve_token", p.reserveToken.String()),
		zap.String("reserve_base", p.reserveBase.String()))

	return market.SwapResult{AmountOut: amountOut, FeePaid: fee}, nil
}

// compute derives (amount_out, fee) for a swap. Callers hold at least the
// read lock.
func (p *Pool) compute(direction market.Direction, amountIn fixedpoint.Value) (fixedpoint.Value, fixedpoint.Value, error) {
	var zero fixedpoint.Value
	if !direction.Valid() {
		return zero, zero, fmt.Errorf("direction %q: %w", direction, market.ErrInvalidAmount)
	}
	if !amountIn.IsPositive() {
		return zero, zero, fmt.Errorf("amount_in %s: %w", amountIn, market.ErrInvalidAmount)
	}
	if p.reserveToken.IsZero() || p.reserveBase.IsZero() {
		return zero, zero, fmt.Errorf("reserves token=%s base=%s: %w",
			p.reserveToken, p.reserveBase, market.ErrEmptyPool)
	}

	reserveIn, reserveOut := p.reserveBase, p.reserveToken
	if direction == market.Sell {
		reserveIn, reserveOut = p.reserveToken, p.reserveBase
	}

	fee, err := amountIn.Mul(p.feeRate, fixedpoint.RoundUp)
	if err != nil {
		return zero, zero, err
	}
	net, err := amountIn.Sub(fee)
	if err != nil {
		return zero, zero, err
	}
	if !net.IsPositive() {
		return zero, zero, fmt.Errorf("amount_in %s consumed by fee: %w", amountIn, market.ErrInvalidAmount)
	}

	// The commit adds the full amountIn to the reserves, so the whole input
	// must fit in range, not just the net portion.
	if _, err := reserveIn.Add(amountIn); err != nil {
		return zero, zero, err
	}
	newReserveIn, err := reserveIn.Add(net)
	if err != nil {
		return zero, zero, err
	}
	num, err := reserveOut.Mul(net, fixedpoint.RoundDown)
	if err != nil {
		return zero, zero, err
	}
	amountOut, err := num.Div(newReserveIn, fixedpoint.RoundDown)
	if err != nil {
		return zero, zero, err
	}
	if !amountOut.IsPositive() {
		return zero, zero, fmt.Errorf("amount_in %s too small: %w", amountIn, market.ErrInvalidAmount)
	}
	return amountOut, fee, nil
}

// AddLiquidity deposits both assets and mints LP tokens. The first provider
// receives sqrt(token*base); later providers are minted in proportion to the
// smaller of the two contribution ratios, so imbalanced deposits donate the
// excess to the pool instead of extracting value.
func (p *Pool) AddLiquidity(provider string, tokenAmount, baseAmount fixedpoint.Value) (fixedpoint.Value, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !tokenAmount.IsPositive() || !baseAmount.IsPositive() {
		return fixedpoint.Value{}, fmt.Errorf("token=%s base=%s: %w",
			tokenAmount, baseAmount, market.ErrInvalidAmount)
	}

	var minted fixedpoint.Value
	if p.totalLP.IsZero() {
		prod, err := tokenAmount.Mul(baseAmount, fixedpoint.RoundDown)
		if err != nil {
			return fixedpoint.Value{}, err
		}
		if minted, err = prod.Sqrt(); err != nil {
			return fixedpoint.Value{}, err
		}
	} else {
		ratioToken, err := tokenAmount.Div(p.reserveToken, fixedpoint.RoundDown)
		if err != nil {
			return fixedpoint.Value{}, err
		}
		ratioBase, err := baseAmount.Div(p.reserveBase, fixedpoint.RoundDown)
		if err != nil {
			return fixedpoint.Value{}, err
		}
		ratio := ratioToken
		if ratioBase.LessThan(ratio) {
			ratio = ratioBase
		}
		if minted, err = p.totalLP.Mul(ratio, fixedpoint.RoundDown); err != nil {
			return fixedpoint.Value{}, err
		}
	}
	if !minted.IsPositive() {
		return fixedpoint.Value{}, fmt.Errorf("deposit too small to mint lp tokens: %w", market.ErrInvalidAmount)
	}

	// Stage all four balances before touching pool state.
	newReserveToken, err := p.reserveToken.Add(tokenAmount)
	if err != nil {
		return fixedpoint.Value{}, err
	}
	newReserveBase, err := p.reserveBase.Add(baseAmount)
	if err != nil {
		return fixedpoint.Value{}, err
	}
	newTotalLP, err := p.totalLP.Add(minted)
	if err != nil {
		return fixedpoint.Value{}, err
	}
	newBalance, err := p.lpBalances[provider].Add(minted)
	if err != nil {
		return fixedpoint.Value{}, err
	}
	p.reserveToken, p.reserveBase = newReserveToken, newReserveBase
	p.totalLP = newTotalLP
	p.lpBalances[provider] = newBalance

	p.logger.Info("Liquidity added",
		zap.String("provider", provider),
		zap.String("token_amount", tokenAmount.String()),
		zap.String("base_amount", baseAmount.String()),
		zap.String("lp_minted", minted.String()))

	return minted, nil
}

// RemoveLiquidity burns lpTokens and returns the proportional share of both
// reserves, rounded down.
func (p *Pool) RemoveLiquidity(provider string, lpTokens fixedpoint.Value) (fixedpoint.Value, fixedpoint.Value, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !lpTokens.IsPositive() {
		return fixedpoint.Value{}, fixedpoint.Value{}, fmt.Errorf("lp_tokens %s: %w", lpTokens, market.ErrInvalidAmount)
	}
	balance := p.lpBalances[provider]
	if balance.LessThan(lpTokens) {
		return fixedpoint.Value{}, fixedpoint.Value{}, fmt.Errorf("balance %s < requested %s: %w",
			balance, lpTokens, market.ErrInsufficientLpBalance)
	}

	share, err := lpTokens.Div(p.totalLP, fixedpoint.RoundDown)
	if err != nil {
		return fixedpoint.Value{}, fixedpoint.Value{}, err
	}
	tokenOut, err := p.reserveToken.Mul(share, fixedpoint.RoundDown)
	if err != nil {
		return fixedpoint.Value{}, fixedpoint.Value{}, err
	}
	baseOut, err := p.reserveBase.Mul(share, fixedpoint.RoundDown)
	if err != nil {
		return fixedpoint.Value{}, fixedpoint.Value{}, err
	}

	// Stage all four balances before touching pool state.
	newReserveToken, err := p.reserveToken.Sub(tokenOut)
	if err != nil {
		return fixedpoint.Value{}, fixedpoint.Value{}, err
	}
	newReserveBase, err := p.reserveBase.Sub(baseOut)
	if err != nil {
		return fixedpoint.Value{}, fixedpoint.Value{}, err
	}
	newTotalLP, err := p.totalLP.Sub(lpTokens)
	if err != nil {
		return fixedpoint.Value{}, fixedpoint.Value{}, err
	}
	newBalance, err := balance.Sub(lpTokens)
	if err != nil {
		return fixedpoint.Value{}, fixedpoint.Value{}, err
	}
	p.reserveToken, p.reserveBase = newReserveToken, newReserveBase
	p.totalLP = newTotalLP
	p.lpBalances[provider] = newBalance

	p.logger.Info("Liquidity removed",
		zap.String("provider", provider),
		zap.String("lp_burned", lpTokens.String()),
		zap.String("token_out", tokenOut.String()),
		zap.String("base_out", baseOut.String()))

	return tokenOut, baseOut, nil
}
