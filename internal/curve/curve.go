// Package curve implements the pre-graduation bonding-curve market. Price is
// a strictly increasing quadratic of circulating supply:
//
//	price(s) = base_price * (1 + s/scale)^2
//
// Trades execute against the area under the curve, so a buy pays the exact
// cost of moving supply from S to S+D and a sell of D tokens receives the
// same area back. The constants are configuration, not invariants.
package curve

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/token-engine/internal/fixedpoint"
	"github.com/rovshanmuradov/token-engine/internal/market"
)

// Params configures one bonding-curve market.
type Params struct {
	BasePrice fixedpoint.Value // spot price at zero supply
	Scale     fixedpoint.Value // supply normalization constant
	FeeRate   fixedpoint.Value // platform fee fraction, e.g. 0.01
}

// ExecResult is what a committed curve trade produced.
type ExecResult struct {
	AmountOut   fixedpoint.Value
	Fee         fixedpoint.Value
	Price       fixedpoint.Value // base units per token
	SupplyAfter fixedpoint.Value
}

// Market is a per-token bonding-curve market. Mutations are additionally
// serialized by the engine's per-token lock; the internal mutex keeps plain
// reads consistent against that.
type Market struct {
	mu       sync.RWMutex
	params   Params
	supply   fixedpoint.Value
	proceeds fixedpoint.Value // base units held by the curve
	frozen   bool
	logger   *zap.Logger
}

// NewMarket creates a curve market with zero supply.
func NewMarket(params Params, logger *zap.Logger) *Market {
	return &Market{
		params: params,
		logger: logger.Named("bonding_curve"),
	}
}

// Supply returns current circulating supply.
func (m *Market) Supply() fixedpoint.Value {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.supply
}

// Proceeds returns the cumulative base units held by the curve.
func (m *Market) Proceeds() fixedpoint.Value {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.proceeds
}

// Frozen reports whether the curve has been closed by graduation.
func (m *Market) Frozen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frozen
}

// Freeze permanently closes the curve. Further Execute calls fail with
// ErrAlreadyGraduated. There is no unfreeze.
func (m *Market) Freeze() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frozen = true
	m.logger.Info("Bonding curve frozen")
}

// Price returns the spot price at current supply.
func (m *Market) Price() (fixedpoint.Value, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.priceAt(m.supply)
}

func (m *Market) priceAt(supply fixedpoint.Value) (fixedpoint.Value, error) {
	factor, err := m.growthFactor(supply)
	if err != nil {
		return fixedpoint.Value{}, err
	}
	sq, err := factor.Pow(2, fixedpoint.RoundDown)
	if err != nil {
		return fixedpoint.Value{}, err
	}
	return m.params.BasePrice.Mul(sq, fixedpoint.RoundDown)
}

// growthFactor is (1 + supply/scale).
func (m *Market) growthFactor(supply fixedpoint.Value) (fixedpoint.Value, error) {
	ratio, err := supply.Div(m.params.Scale, fixedpoint.RoundDown)
	if err != nil {
		return fixedpoint.Value{}, err
	}
	return fixedpoint.New(1).Add(ratio)
}

// cost is the cumulative cost of supply s from zero:
// F(s) = base_price * scale / 3 * (1 + s/scale)^3.
func (m *Market) cost(supply fixedpoint.Value) (fixedpoint.Value, error) {
	factor, err := m.growthFactor(supply)
	if err != nil {
		return fixedpoint.Value{}, err
	}
	cube, err := factor.Pow(3, fixedpoint.RoundDown)
	if err != nil {
		return fixedpoint.Value{}, err
	}
	v, err := m.params.BasePrice.Mul(m.params.Scale, fixedpoint.RoundDown)
	if err != nil {
		return fixedpoint.Value{}, err
	}
	v, err = v.Mul(cube, fixedpoint.RoundDown)
	if err != nil {
		return fixedpoint.Value{}, err
	}
	return v.Div(fixedpoint.New(3), fixedpoint.RoundDown)
}

// Quote projects a trade without side effects. For buys amountIn is base
// units and the quote is tokens out; for sells amountIn is tokens and the
// quote is base units out, net of the platform fee.
func (m *Market) Quote(direction market.Direction, amountIn fixedpoint.Value) (market.Quote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, err := m.compute(direction, amountIn)
	if err != nil {
		return market.Quote{}, err
	}
	return market.Quote{AmountIn: amountIn, AmountOut: res.AmountOut, Price: res.Price}, nil
}

// Execute commits a trade. The caller's slippage bound is the minimum
// acceptable output on either side (tokens for buys, base for sells);
// violations fail with ErrSlippageExceeded and nothing is committed.
func (m *Market) Execute(direction market.Direction, amountIn, minOut fixedpoint.Value) (ExecResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frozen {
		return ExecResult{}, market.ErrAlreadyGraduated
	}
	res, err := m.compute(direction, amountIn)
	if err != nil {
		return ExecResult{}, err
	}
	if res.AmountOut.LessThan(minOut) {
		return ExecResult{}, fmt.Errorf("quoted %s below bound %s: %w",
			res.AmountOut, minOut, market.ErrSlippageExceeded)
	}

	// Stage the new balances first; supply and proceeds are assigned together
	// only once both legs are known good, so a failed trade commits nothing.
	var newProceeds fixedpoint.Value
	switch direction {
	case market.Buy:
		newProceeds, err = m.proceeds.Add(res.netBase)
	case market.Sell:
		newProceeds, err = m.proceeds.Sub(res.grossBase)
	}
	if err != nil {
		return ExecResult{}, err
	}
	m.supply = res.SupplyAfter
	m.proceeds = newProceeds

	m.logger.Debug("Curve trade executed",
		zap.String("direction", string(direction)),
		zap.String("amount_in", amountIn.String()),
		zap.String("amount_out", res.AmountOut.String()),
		zap.String("price", res.Price.String()),
		zap.String("supply", m.supply.String()))

	return res.ExecResult, nil
}

type computation struct {
	ExecResult
	netBase   fixedpoint.Value // buy: base added to curve proceeds
	grossBase fixedpoint.Value // sell: base removed from curve proceeds
}

func (m *Market) compute(direction market.Direction, amountIn fixedpoint.Value) (computation, error) {
	if !direction.Valid() {
		return computation{}, fmt.Errorf("direction %q: %w", direction, market.ErrInvalidAmount)
	}
	if !amountIn.IsPositive() {
		return computation{}, fmt.Errorf("amount_in %s: %w", amountIn, market.ErrInvalidAmount)
	}
	if direction == market.Buy {
		return m.computeBuy(amountIn)
	}
	return m.computeSell(amountIn)
}

// computeBuy solves F(S') = F(S) + net for S', where net is the base amount
// after fee. The cubic inverts to a single deterministic cube root.
func (m *Market) computeBuy(amountIn fixedpoint.Value) (computation, error) {
	fee, err := amountIn.Mul(m.params.FeeRate, fixedpoint.RoundUp)
	if err != nil {
		return computation{}, err
	}
	net, err := amountIn.Sub(fee)
	if err != nil {
		return computation{}, err
	}
	if !net.IsPositive() {
		return computation{}, fmt.Errorf("amount_in %s consumed by fee: %w", amountIn, market.ErrInvalidAmount)
	}

	factor, err := m.growthFactor(m.supply)
	if err != nil {
		return computation{}, err
	}
	cube, err := factor.Pow(3, fixedpoint.RoundDown)
	if err != nil {
		return computation{}, err
	}
	// u = (1 + S/scale)^3 + 3*net/(base_price*scale)
	denom, err := m.params.BasePrice.Mul(m.params.Scale, fixedpoint.RoundDown)
	if err != nil {
		return computation{}, err
	}
	term, err := net.Mul(fixedpoint.New(3), fixedpoint.RoundDown)
	if err != nil {
		return computation{}, err
	}
	if term, err = term.Div(denom, fixedpoint.RoundDown); err != nil {
		return computation{}, err
	}
	u, err := cube.Add(term)
	if err != nil {
		return computation{}, err
	}
	newFactor, err := u.Cbrt()
	if err != nil {
		return computation{}, err
	}
	shift, err := newFactor.Sub(fixedpoint.New(1))
	if err != nil {
		return computation{}, err
	}
	newSupply, err := m.params.Scale.Mul(shift, fixedpoint.RoundDown)
	if err != nil {
		return computation{}, err
	}
	tokensOut, err := newSupply.Sub(m.supply)
	if err != nil {
		return computation{}, err
	}
	if !tokensOut.IsPositive() {
		return computation{}, fmt.Errorf("amount_in %s too small for one token unit: %w", amountIn, market.ErrInvalidAmount)
	}
	price, err := amountIn.Div(tokensOut, fixedpoint.RoundDown)
	if err != nil {
		return computation{}, err
	}
	return computation{
		ExecResult: ExecResult{
			AmountOut:   tokensOut,
			Fee:         fee,
			Price:       price,
			SupplyAfter: newSupply,
		},
		netBase: net,
	}, nil
}

// computeSell pays out F(S) - F(S-D) for D tokens in, net of the fee taken
// from the payout.
func (m *Market) computeSell(amountIn fixedpoint.Value) (computation, error) {
	if amountIn.GreaterThan(m.supply) {
		return computation{}, fmt.Errorf("sell %s exceeds circulating supply %s: %w",
			amountIn, m.supply, market.ErrInsufficientSupply)
	}
	newSupply, err := m.supply.Sub(amountIn)
	if err != nil {
		return computation{}, err
	}
	before, err := m.cost(m.supply)
	if err != nil {
		return computation{}, err
	}
	after, err := m.cost(newSupply)
	if err != nil {
		return computation{}, err
	}
	gross, err := before.Sub(after)
	if err != nil {
		return computation{}, err
	}
	// Rounding drift must never pay out more base than the curve holds.
	if gross.GreaterThan(m.proceeds) {
		gross = m.proceeds
	}
	fee, err := gross.Mul(m.params.FeeRate, fixedpoint.RoundUp)
	if err != nil {
		return computation{}, err
	}
	baseOut, err := gross.Sub(fee)
	if err != nil {
		return computation{}, err
	}
	if !baseOut.IsPositive() {
		return computation{}, fmt.Errorf("sell %s yields no base units: %w", amountIn, market.ErrInvalidAmount)
	}
	// Execution price in base per token.
	price, err := baseOut.Div(amountIn, fixedpoint.RoundDown)
	if err != nil {
		return computation{}, err
	}
	return computation{
		ExecResult: ExecResult{
			AmountOut:   baseOut,
			Fee:         fee,
			Price:       price,
			SupplyAfter: newSupply,
		},
		grossBase: gross,
	}, nil
}
