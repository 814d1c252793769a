// Package ledger keeps the append-only history of executed trades and the
// read models derived from it (volume, price history, market cap). Entries
// are never mutated or removed.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/token-engine/internal/fixedpoint"
	"github.com/rovshanmuradov/token-engine/internal/market"
)

// PricePoint is one sample of a token's price history.
type PricePoint struct {
	Timestamp time.Time
	Price     fixedpoint.Value
}

// Ledger is the in-memory append-only trade log. Appends happen inside the
// engine's per-token critical section, so a reader can never observe reserve
// state newer than the newest entry for that token. Readers take the shared
// lock and always see a consistent prefix.
type Ledger struct {
	mu      sync.RWMutex
	trades  map[string][]market.Trade
	caps    map[string]fixedpoint.Value // market-cap cache, invalidated on append
	journal *Journal                    // optional durable audit trail
	logger  *zap.Logger
}

// New creates an empty ledger. journal may be nil.
func New(journal *Journal, logger *zap.Logger) *Ledger {
	return &Ledger{
		trades:  make(map[string][]market.Trade),
		caps:    make(map[string]fixedpoint.Value),
		journal: journal,
		logger:  logger.Named("trade_ledger"),
	}
}

// Append validates and persists one trade. The execution price must be
// reproducible from the trade's own amounts (input/output for buys,
// output/input for sells, both in base per token); a mismatch means the
// record was built from a stale quote and is rejected.
func (l *Ledger) Append(trade market.Trade) error {
	if !trade.OutputAmount.IsPositive() {
		return fmt.Errorf("output_amount %s: %w", trade.OutputAmount, market.ErrInvalidAmount)
	}
	if !trade.Price.IsPositive() {
		return fmt.Errorf("price %s: %w", trade.Price, market.ErrInvalidAmount)
	}
	want, err := recomputePrice(trade)
	if err != nil {
		return err
	}
	if !want.Equal(trade.Price) {
		return fmt.Errorf("price %s does not reproduce from amounts (want %s): %w",
			trade.Price, want, market.ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.trades[trade.TokenID] = append(l.trades[trade.TokenID], trade)
	delete(l.caps, trade.TokenID)

	if l.journal != nil {
		if err := l.journal.Record(trade); err != nil {
			// The in-memory append stands; the journal is an audit trail,
			// not the commit point.
			l.logger.Error("Failed to journal trade",
				zap.String("trade_id", trade.ID), zap.Error(err))
		}
	}
	return nil
}

func recomputePrice(trade market.Trade) (fixedpoint.Value, error) {
	switch trade.Direction {
	case market.Buy:
		return trade.InputAmount.Div(trade.OutputAmount, fixedpoint.RoundDown)
	case market.Sell:
		return trade.OutputAmount.Div(trade.InputAmount, fixedpoint.RoundDown)
	default:
		return fixedpoint.Value{}, fmt.Errorf("direction %q: %w", trade.Direction, market.ErrInvalidAmount)
	}
}

// Count returns the number of trades recorded for a token.
func (l *Ledger) Count(tokenID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.trades[tokenID])
}

// Trades returns a copy of the token's full trade history in append order.
func (l *Ledger) Trades(tokenID string) []market.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]market.Trade, len(l.trades[tokenID]))
	copy(out, l.trades[tokenID])
	return out
}

// LastTrade returns the most recent trade for a token, if any.
func (l *Ledger) LastTrade(tokenID string) (market.Trade, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ts := l.trades[tokenID]
	if len(ts) == 0 {
		return market.Trade{}, false
	}
	return ts[len(ts)-1], true
}

// Volume sums the base-asset side of all trades within the window: input for
// buys, output for sells.
func (l *Ledger) Volume(tokenID string, window time.Duration) (fixedpoint.Value, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	total := fixedpoint.Zero()
	var err error
	for _, tr := range l.trades[tokenID] {
		if tr.Timestamp.Before(cutoff) {
			continue
		}
		base := tr.InputAmount
		if tr.Direction == market.Sell {
			base = tr.OutputAmount
		}
		if total, err = total.Add(base); err != nil {
			return fixedpoint.Value{}, err
		}
	}
	return total, nil
}

// PriceHistory returns (timestamp, price) samples within the window, oldest
// first.
func (l *Ledger) PriceHistory(tokenID string, window time.Duration) []PricePoint {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	var points []PricePoint
	for _, tr := range l.trades[tokenID] {
		if tr.Timestamp.Before(cutoff) {
			continue
		}
		points = append(points, PricePoint{Timestamp: tr.Timestamp, Price: tr.Price})
	}
	return points
}

// MarketCap derives last trade price * supply. The result is cached until the
// next append for the token; with no trades the cap is zero.
func (l *Ledger) MarketCap(tokenID string, supply fixedpoint.Value) (fixedpoint.Value, error) {
	l.mu.RLock()
	if mc, ok := l.caps[tokenID]; ok {
		l.mu.RUnlock()
		return mc, nil
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if mc, ok := l.caps[tokenID]; ok {
		return mc, nil
	}
	ts := l.trades[tokenID]
	if len(ts) == 0 {
		return fixedpoint.Zero(), nil
	}
	mc, err := ts[len(ts)-1].Price.Mul(supply, fixedpoint.RoundDown)
	if err != nil {
		return fixedpoint.Value{}, err
	}
	l.caps[tokenID] = mc
	return mc, nil
}
