package fees

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/token-engine/internal/fixedpoint"
	"github.com/rovshanmuradov/token-engine/internal/market"
)

// BuybackQueue is the in-process BuybackSink. Queued amounts accumulate until
// the external execution service drains a batch, swaps base for tokens and
// reports the burn back through Engine.ReconcileBurn.
type BuybackQueue struct {
	mu      sync.Mutex
	pending fixedpoint.Value
	logger  *zap.Logger
}

// NewBuybackQueue creates an empty queue.
func NewBuybackQueue(logger *zap.Logger) *BuybackQueue {
	return &BuybackQueue{logger: logger.Named("buyback_queue")}
}

// QueueBuyback adds amount to the pending balance.
func (q *BuybackQueue) QueueBuyback(amount fixedpoint.Value, source market.FeeSource) error {
	if !amount.IsPositive() {
		return fmt.Errorf("buyback amount %s: %w", amount, market.ErrInvalidAmount)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	pending, err := q.pending.Add(amount)
	if err != nil {
		return err
	}
	q.pending = pending
	q.logger.Debug("Buyback queued",
		zap.String("amount", amount.String()),
		zap.String("source", string(source)),
		zap.String("pending", pending.String()))
	return nil
}

// Drain empties the queue and returns the batch to execute.
func (q *BuybackQueue) Drain() fixedpoint.Value {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := q.pending
	q.pending = fixedpoint.Zero()
	return batch
}

// Pending returns the queued balance.
func (q *BuybackQueue) Pending() fixedpoint.Value {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}
