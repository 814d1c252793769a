// Package storage defines the persistence interface for the engine's four
// durable record types. The engine works unchanged with or without a
// configured backend.
package storage

import (
	"context"

	"github.com/rovshanmuradov/token-engine/internal/storage/models"
)

// Storage is the persistence contract.
type Storage interface {
	// Tokens
	SaveToken(ctx context.Context, token *models.Token) error
	UpdateToken(ctx context.Context, token *models.Token) error
	GetToken(ctx context.Context, tokenID string) (*models.Token, error)

	// Trades (insert-only)
	SaveTrade(ctx context.Context, trade *models.Trade) error
	ListTrades(ctx context.Context, tokenID string, limit, offset int) ([]*models.Trade, error)

	// Pools
	SavePool(ctx context.Context, pool *models.LiquidityPool) error
	UpdatePool(ctx context.Context, pool *models.LiquidityPool) error
	GetPool(ctx context.Context, tokenID string) (*models.LiquidityPool, error)

	// Daily platform metrics; the increment must be atomic.
	IncrementMetric(ctx context.Context, date string, column string, delta string) error
	GetMetric(ctx context.Context, date string) (*models.PlatformMetric, error)

	RunMigrations() error
}
