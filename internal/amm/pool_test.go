package amm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/token-engine/internal/fixedpoint"
	"github.com/rovshanmuradov/token-engine/internal/market"
)

func seededPool(t *testing.T, tokenReserve, baseReserve int64) *Pool {
	t.Helper()
	p := NewPool("tok-1", fixedpoint.FromBps(50), zaptest.NewLogger(t))
	_, err := p.AddLiquidity("platform", fixedpoint.New(tokenReserve), fixedpoint.New(baseReserve))
	require.NoError(t, err)
	return p
}

func k(t *testing.T, p *Pool) fixedpoint.Value {
	t.Helper()
	rt, rb := p.Reserves()
	prod, err := rt.Mul(rb, fixedpoint.RoundDown)
	require.NoError(t, err)
	return prod
}

func TestSwapFormula(t *testing.T) {
	// The documented scenario: 1,000,000 / 10 reserves, 0.5% fee,
	// 10,000 base in. net = 9,950, out = 1e6*9950/(10+9950).
	p := seededPool(t, 1_000_000, 10)

	res, err := p.Swap(market.Buy, fixedpoint.New(10_000), fixedpoint.Zero())
	require.NoError(t, err)

	assert.Equal(t, "50", res.FeePaid.String())
	assert.True(t, res.AmountOut.GreaterThan(fixedpoint.New(998_995)))
	assert.True(t, res.AmountOut.LessThan(fixedpoint.New(998_996)))

	rt, rb := p.Reserves()
	assert.Equal(t, "10010", rb.String())
	wantToken, err := fixedpoint.New(1_000_000).Sub(res.AmountOut)
	require.NoError(t, err)
	assert.True(t, rt.Equal(wantToken))
}

func TestSwapPreservesProduct(t *testing.T) {
	p := seededPool(t, 1_000_000, 1_000)

	swaps := []struct {
		dir market.Direction
		in  int64
	}{
		{market.Buy, 100},
		{market.Sell, 50_000},
		{market.Buy, 7},
		{market.Sell, 123},
		{market.Buy, 999},
	}
	for _, s := range swaps {
		before := k(t, p)
		_, err := p.Swap(s.dir, fixedpoint.New(s.in), fixedpoint.Zero())
		require.NoError(t, err)
		after := k(t, p)
		assert.False(t, after.LessThan(before),
			"k must not decrease: %s -> %s", before, after)
	}
}

func TestSwapSlippage(t *testing.T) {
	p := seededPool(t, 1_000_000, 1_000)

	// Quote once, then demand more than the same input can deliver.
	res, err := p.Swap(market.Buy, fixedpoint.New(10), fixedpoint.Zero())
	require.NoError(t, err)

	demand, err := res.AmountOut.Add(fixedpoint.New(1_000))
	require.NoError(t, err)
	_, err = p.Swap(market.Buy, fixedpoint.New(10), demand)
	assert.ErrorIs(t, err, market.ErrSlippageExceeded)
}

func TestSwapEmptyPool(t *testing.T) {
	p := NewPool("tok-1", fixedpoint.FromBps(50), zaptest.NewLogger(t))
	_, err := p.Swap(market.Buy, fixedpoint.New(10), fixedpoint.Zero())
	assert.ErrorIs(t, err, market.ErrEmptyPool)
}

func TestSwapInvalidAmount(t *testing.T) {
	p := seededPool(t, 1_000, 1_000)
	_, err := p.Swap(market.Buy, fixedpoint.Zero(), fixedpoint.Zero())
	assert.ErrorIs(t, err, market.ErrInvalidAmount)
}

// nearCapacityPool seeds reserves close to the representable range so a
// large swap or deposit fails mid-arithmetic rather than at validation.
func nearCapacityPool(t *testing.T) *Pool {
	t.Helper()
	p := NewPool("tok-1", fixedpoint.FromBps(50), zaptest.NewLogger(t))
	_, err := p.AddLiquidity("platform",
		fixedpoint.MustFromString("1.00000001"),
		fixedpoint.MustFromString("996010000000000000"))
	require.NoError(t, err)
	return p
}

func TestFailedSwapLeavesPoolUntouched(t *testing.T) {
	p := nearCapacityPool(t)
	beforeToken, beforeBase := p.Reserves()
	beforeLP := p.TotalLP()

	// The full input pushes the base reserve past the representable range
	// even though the net-of-fee amount alone would fit.
	_, err := p.Swap(market.Buy, fixedpoint.MustFromString("4000000000000000"), fixedpoint.Zero())
	require.ErrorIs(t, err, fixedpoint.ErrOverflow)

	afterToken, afterBase := p.Reserves()
	assert.True(t, afterToken.Equal(beforeToken), "token reserve %s want %s", afterToken, beforeToken)
	assert.True(t, afterBase.Equal(beforeBase), "base reserve %s want %s", afterBase, beforeBase)
	assert.True(t, p.TotalLP().Equal(beforeLP))
}

func TestFailedDepositLeavesPoolUntouched(t *testing.T) {
	p := nearCapacityPool(t)
	beforeToken, beforeBase := p.Reserves()
	beforeLP := p.TotalLP()

	_, err := p.AddLiquidity("bob",
		fixedpoint.MustFromString("0.1"),
		fixedpoint.MustFromString("50000000000000000"))
	require.ErrorIs(t, err, fixedpoint.ErrOverflow)

	afterToken, afterBase := p.Reserves()
	assert.True(t, afterToken.Equal(beforeToken))
	assert.True(t, afterBase.Equal(beforeBase))
	assert.True(t, p.TotalLP().Equal(beforeLP))
	assert.True(t, p.LPBalance("bob").IsZero())
}

func TestFirstLiquidityProvider(t *testing.T) {
	p := NewPool("tok-1", fixedpoint.FromBps(50), zaptest.NewLogger(t))

	minted, err := p.AddLiquidity("alice", fixedpoint.New(400), fixedpoint.New(100))
	require.NoError(t, err)
	// sqrt(400*100) = 200
	assert.True(t, minted.Equal(fixedpoint.New(200)))
	assert.True(t, p.TotalLP().Equal(fixedpoint.New(200)))
	assert.True(t, p.LPBalance("alice").Equal(fixedpoint.New(200)))
}

func TestImbalancedDeposit(t *testing.T) {
	p := seededPool(t, 1_000, 1_000)
	total := p.TotalLP()

	// Token side matches 10% of reserves, base side only 5%: the smaller
	// ratio governs the mint.
	minted, err := p.AddLiquidity("bob", fixedpoint.New(100), fixedpoint.New(50))
	require.NoError(t, err)

	wantRatio := fixedpoint.MustFromString("0.05")
	want, err := total.Mul(wantRatio, fixedpoint.RoundDown)
	require.NoError(t, err)
	assert.True(t, minted.Equal(want), "minted %s want %s", minted, want)
}

func TestRemoveLiquidity(t *testing.T) {
	p := NewPool("tok-1", fixedpoint.FromBps(50), zaptest.NewLogger(t))
	minted, err := p.AddLiquidity("alice", fixedpoint.New(1_000), fixedpoint.New(250))
	require.NoError(t, err)

	half, err := minted.Div(fixedpoint.New(2), fixedpoint.RoundDown)
	require.NoError(t, err)
	tokenOut, baseOut, err := p.RemoveLiquidity("alice", half)
	require.NoError(t, err)

	assert.True(t, tokenOut.Equal(fixedpoint.New(500)))
	assert.True(t, baseOut.Equal(fixedpoint.New(125)))

	rt, rb := p.Reserves()
	assert.True(t, rt.Equal(fixedpoint.New(500)))
	assert.True(t, rb.Equal(fixedpoint.New(125)))
}

func TestRemoveLiquidityInsufficientBalance(t *testing.T) {
	p := seededPool(t, 1_000, 1_000)

	_, _, err := p.RemoveLiquidity("stranger", fixedpoint.New(1))
	assert.ErrorIs(t, err, market.ErrInsufficientLpBalance)

	over, err2 := p.TotalLP().Add(fixedpoint.New(1))
	require.NoError(t, err2)
	_, _, err = p.RemoveLiquidity("platform", over)
	assert.ErrorIs(t, err, market.ErrInsufficientLpBalance)
}
