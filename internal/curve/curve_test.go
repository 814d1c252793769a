package curve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/token-engine/internal/fixedpoint"
	"github.com/rovshanmuradov/token-engine/internal/market"
)

func testParams() Params {
	return Params{
		BasePrice: fixedpoint.MustFromString("0.0001"),
		Scale:     fixedpoint.New(1_000_000_000),
		FeeRate:   fixedpoint.MustFromString("0.01"),
	}
}

func newTestMarket(t *testing.T) *Market {
	return NewMarket(testParams(), zaptest.NewLogger(t))
}

func TestQuoteBuyDeterministic(t *testing.T) {
	m := newTestMarket(t)

	q1, err := m.Quote(market.Buy, fixedpoint.New(1000))
	require.NoError(t, err)
	q2, err := m.Quote(market.Buy, fixedpoint.New(1000))
	require.NoError(t, err)

	assert.True(t, q1.AmountOut.Equal(q2.AmountOut), "quote must be deterministic")
	assert.True(t, q1.AmountOut.IsPositive())
	assert.True(t, q1.Price.IsPositive())

	// At base_price 0.0001 and scale 1e9, 990 net base buys just under
	// 9.81M tokens (cube-root inversion of the cumulative cost).
	assert.True(t, q1.AmountOut.GreaterThan(fixedpoint.New(9_700_000)))
	assert.True(t, q1.AmountOut.LessThan(fixedpoint.New(9_900_000)))
}

func TestExecuteSlippageBound(t *testing.T) {
	m := newTestMarket(t)
	amountIn := fixedpoint.New(1000)

	q, err := m.Quote(market.Buy, amountIn)
	require.NoError(t, err)

	oneUnit := fixedpoint.FromUnits(1)

	// One raw unit above the quote must be rejected, nothing committed.
	above, err := q.AmountOut.Add(oneUnit)
	require.NoError(t, err)
	_, err = m.Execute(market.Buy, amountIn, above)
	assert.ErrorIs(t, err, market.ErrSlippageExceeded)
	assert.True(t, m.Supply().IsZero())

	// One raw unit below must pass.
	below, err := q.AmountOut.Sub(oneUnit)
	require.NoError(t, err)
	res, err := m.Execute(market.Buy, amountIn, below)
	require.NoError(t, err)
	assert.True(t, res.AmountOut.Equal(q.AmountOut))
	assert.True(t, m.Supply().Equal(res.SupplyAfter))
}

func TestBuyMovesPriceUp(t *testing.T) {
	m := newTestMarket(t)

	p0, err := m.Price()
	require.NoError(t, err)
	assert.Equal(t, "0.0001", p0.String())

	_, err = m.Execute(market.Buy, fixedpoint.New(1000), fixedpoint.Zero())
	require.NoError(t, err)

	p1, err := m.Price()
	require.NoError(t, err)
	assert.True(t, p1.GreaterThan(p0), "buys must increase the spot price")
}

func TestRoundTripRestoresSupply(t *testing.T) {
	m := newTestMarket(t)
	amountIn := fixedpoint.New(1000)

	buy, err := m.Execute(market.Buy, amountIn, fixedpoint.Zero())
	require.NoError(t, err)

	sell, err := m.Execute(market.Sell, buy.AmountOut, fixedpoint.Zero())
	require.NoError(t, err)

	// Supply returns exactly to its pre-buy value.
	assert.True(t, m.Supply().IsZero())

	// The round trip loses value only to fees (plus sub-unit rounding).
	assert.True(t, sell.AmountOut.LessThan(amountIn))
	feeCeiling, err := buy.Fee.Add(sell.Fee)
	require.NoError(t, err)
	lost, err := amountIn.Sub(sell.AmountOut)
	require.NoError(t, err)
	slack, err := feeCeiling.Add(fixedpoint.MustFromString("0.001"))
	require.NoError(t, err)
	assert.True(t, lost.LessThan(slack),
		"lost %s should not exceed fees %s plus rounding", lost, feeCeiling)
}

func TestFailedBuyLeavesCurveUntouched(t *testing.T) {
	m := newTestMarket(t)
	chunk := fixedpoint.MustFromString("300000000000000000")
	for i := 0; i < 3; i++ {
		_, err := m.Execute(market.Buy, chunk, fixedpoint.Zero())
		require.NoError(t, err)
	}
	supply := m.Supply()
	proceeds := m.Proceeds()

	// A fourth chunk computes a valid supply move, but crediting its net
	// base would push the proceeds past the representable range. Neither
	// balance may change.
	_, err := m.Execute(market.Buy, chunk, fixedpoint.Zero())
	require.ErrorIs(t, err, fixedpoint.ErrOverflow)
	assert.True(t, m.Supply().Equal(supply), "supply %s want %s", m.Supply(), supply)
	assert.True(t, m.Proceeds().Equal(proceeds), "proceeds %s want %s", m.Proceeds(), proceeds)
}

func TestSellExceedingSupply(t *testing.T) {
	m := newTestMarket(t)

	_, err := m.Execute(market.Buy, fixedpoint.New(1000), fixedpoint.Zero())
	require.NoError(t, err)

	over, err := m.Supply().Add(fixedpoint.New(1))
	require.NoError(t, err)
	_, err = m.Execute(market.Sell, over, fixedpoint.Zero())
	assert.ErrorIs(t, err, market.ErrInsufficientSupply)
}

func TestInvalidAmounts(t *testing.T) {
	m := newTestMarket(t)

	_, err := m.Quote(market.Buy, fixedpoint.Zero())
	assert.ErrorIs(t, err, market.ErrInvalidAmount)

	_, err = m.Quote(market.Sell, fixedpoint.MustFromString("-5"))
	assert.ErrorIs(t, err, market.ErrInvalidAmount)

	_, err = m.Quote(market.Direction("hold"), fixedpoint.New(10))
	assert.ErrorIs(t, err, market.ErrInvalidAmount)
}

func TestFrozenCurveRejectsTrades(t *testing.T) {
	m := newTestMarket(t)
	m.Freeze()

	_, err := m.Execute(market.Buy, fixedpoint.New(100), fixedpoint.Zero())
	assert.ErrorIs(t, err, market.ErrAlreadyGraduated)
	assert.True(t, m.Frozen())
}

func TestProceedsTracking(t *testing.T) {
	m := newTestMarket(t)

	buy, err := m.Execute(market.Buy, fixedpoint.New(1000), fixedpoint.Zero())
	require.NoError(t, err)

	// Curve holds the net-of-fee base.
	net, err := fixedpoint.New(1000).Sub(buy.Fee)
	require.NoError(t, err)
	assert.True(t, m.Proceeds().Equal(net))

	_, err = m.Execute(market.Sell, buy.AmountOut, fixedpoint.Zero())
	require.NoError(t, err)
	assert.False(t, m.Proceeds().IsNegative())
}
