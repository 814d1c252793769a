// Package models defines the gorm records for the four durable types the
// engine persists: tokens, trades, liquidity pools and daily platform
// metrics. Monetary columns are decimal(30,8) to match the fixed-point scale.
package models

import "time"

// BaseModel replaces gorm.Model for tighter control over timestamps.
type BaseModel struct {
	ID        uint       `gorm:"primarykey"`
	CreatedAt time.Time  `gorm:"default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time  `gorm:"default:CURRENT_TIMESTAMP"`
	DeletedAt *time.Time `gorm:"index"`
}

// Token is a creator-issued asset. One per creator; never deleted, only
// marked inactive.
type Token struct {
	BaseModel
	TokenID        string     `gorm:"unique;not null;type:varchar(64)"`
	CreatorID      string     `gorm:"unique;not null;type:varchar(64)"`
	Symbol         string     `gorm:"not null;type:varchar(16)"`
	MintReference  string     `gorm:"type:varchar(128)"`
	Supply         string     `gorm:"type:decimal(30,8);not null"`
	MarketCap      string     `gorm:"type:decimal(30,8);not null"`
	Graduated      bool       `gorm:"not null;default:false"`
	GraduationDate *time.Time `gorm:"index"`
	Active         bool       `gorm:"not null;default:true"`
}

// Trade is an immutable record of one executed swap. Rows are only ever
// inserted.
type Trade struct {
	BaseModel
	TradeID       string    `gorm:"unique;not null;type:varchar(64)"`
	TokenID       string    `gorm:"index;not null;type:varchar(64)"`
	AccountID     string    `gorm:"index;not null;type:varchar(64)"`
	Direction     string    `gorm:"not null;type:varchar(8)"`
	InputAmount   string    `gorm:"type:decimal(30,8);not null"`
	OutputAmount  string    `gorm:"type:decimal(30,8);not null"`
	Price         string    `gorm:"type:decimal(30,8);not null"`
	Fee           string    `gorm:"type:decimal(30,8);not null"`
	SettlementRef string    `gorm:"type:varchar(128)"`
	SupplyAfter   string    `gorm:"type:decimal(30,8);not null"`
	ExecutedAt    time.Time `gorm:"index;not null"`
}

// LiquidityPool holds a graduated token's reserves. One row per token for
// its lifetime.
type LiquidityPool struct {
	BaseModel
	TokenID      string `gorm:"unique;not null;type:varchar(64)"`
	ReserveToken string `gorm:"type:decimal(30,8);not null"`
	ReserveBase  string `gorm:"type:decimal(30,8);not null"`
	TotalLP      string `gorm:"type:decimal(30,8);not null"`
}

// PlatformMetric is one daily aggregate bucket; counters only grow within a
// day.
type PlatformMetric struct {
	BaseModel
	Date           string `gorm:"unique;not null;type:varchar(10)"` // YYYY-MM-DD
	FeesCollected  string `gorm:"type:decimal(30,8);not null;default:0"`
	TokensBurned   string `gorm:"type:decimal(30,8);not null;default:0"`
	TradingVolume  string `gorm:"type:decimal(30,8);not null;default:0"`
	CreatorRewards string `gorm:"type:decimal(30,8);not null;default:0"`
}
