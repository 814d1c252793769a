// Package market holds the domain types shared by the curve, pool, ledger and
// fee components, plus the engine's error taxonomy.
package market

import (
	"time"

	"github.com/rovshanmuradov/token-engine/internal/fixedpoint"
)

// Direction is the side of a trade.
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == Buy || d == Sell
}

// FeeSource is a closed set of origins a platform fee can come from. Routing
// on this tag replaces routing on runtime type names; the fee engine matches
// it exhaustively.
type FeeSource string

const (
	FeeSourceCurveTrade FeeSource = "curve_trade"
	FeeSourcePoolTrade  FeeSource = "pool_trade"
	FeeSourceSale       FeeSource = "sale"
)

// Token is a creator-issued asset. The engine owns its lifecycle state:
// supply, market cap and the monotonic graduated flag (false -> true, never
// back).
type Token struct {
	ID             string
	CreatorID      string
	Symbol         string
	MintReference  string // external mint id, opaque to the engine
	Supply         fixedpoint.Value
	MarketCap      fixedpoint.Value
	Graduated      bool
	GraduationDate *time.Time
	Active         bool
	CreatedAt      time.Time
}

// Trade is an immutable record of one executed swap against a token.
// output amount and execution price are always positive, and price equals
// input/output at execution time.
type Trade struct {
	ID            string
	TokenID       string
	AccountID     string
	Direction     Direction
	InputAmount   fixedpoint.Value
	OutputAmount  fixedpoint.Value
	Price         fixedpoint.Value
	Fee           fixedpoint.Value
	SettlementRef string
	// Supply after the trade was applied; lets a replay recompute the same
	// price from the same reserve snapshot.
	SupplyAfter fixedpoint.Value
	Timestamp   time.Time
}

// SwapResult is the outcome of a pool swap.
type SwapResult struct {
	AmountOut fixedpoint.Value
	FeePaid   fixedpoint.Value
}

// Quote is a side-effect-free price projection.
type Quote struct {
	AmountIn  fixedpoint.Value
	AmountOut fixedpoint.Value
	Price     fixedpoint.Value
}

// MarketState is the read model returned by get_market_state.
type MarketState struct {
	TokenID      string
	Price        fixedpoint.Value
	Supply       fixedpoint.Value
	MarketCap    fixedpoint.Value
	Graduated    bool
	ReserveToken fixedpoint.Value // zero until graduation
	ReserveBase  fixedpoint.Value // zero until graduation
	Volume24h    fixedpoint.Value
}
