package events

import (
	"time"

	"github.com/rovshanmuradov/token-engine/internal/fixedpoint"
	"github.com/rovshanmuradov/token-engine/internal/market"
)

// EventType represents the type of event.
type EventType string

const (
	TradeExecuted      EventType = "trade.executed"
	TokenIssued        EventType = "token.issued"
	TokenGraduated     EventType = "token.graduated"
	LiquidityChanged   EventType = "liquidity.changed"
	FeesAllocated      EventType = "fees.allocated"
	RewardsDistributed EventType = "rewards.distributed"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

// Type returns the event type.
func (e BaseEvent) Type() EventType { return e.EventType }

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time { return e.EventTime }

// TradeExecutedEvent is emitted after a trade commits.
type TradeExecutedEvent struct {
	BaseEvent
	Trade market.Trade
}

// TokenIssuedEvent is emitted when a creator issues a token.
type TokenIssuedEvent struct {
	BaseEvent
	TokenID   string
	CreatorID string
}

// TokenGraduatedEvent is emitted on the curve-to-pool transition.
type TokenGraduatedEvent struct {
	BaseEvent
	TokenID   string
	MarketCap fixedpoint.Value
	SeedToken fixedpoint.Value
	SeedBase  fixedpoint.Value
}

// LiquidityChangedEvent is emitted after add/remove liquidity.
type LiquidityChangedEvent struct {
	BaseEvent
	TokenID      string
	Provider     string
	ReserveToken fixedpoint.Value
	ReserveBase  fixedpoint.Value
}

// FeesAllocatedEvent is emitted after a fee split.
type FeesAllocatedEvent struct {
	BaseEvent
	Source   market.FeeSource
	Amount   fixedpoint.Value
	Buyback  fixedpoint.Value
	Treasury fixedpoint.Value
	Rewards  fixedpoint.Value
}

// RewardsDistributedEvent is emitted after a creator-reward cycle.
type RewardsDistributedEvent struct {
	BaseEvent
	Pool       fixedpoint.Value
	Recipients int
}
