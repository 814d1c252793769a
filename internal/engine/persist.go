package engine

import (
	"context"

	"github.com/rovshanmuradov/token-engine/internal/amm"
	"github.com/rovshanmuradov/token-engine/internal/graduation"
	"github.com/rovshanmuradov/token-engine/internal/market"
	"github.com/rovshanmuradov/token-engine/internal/storage/models"
)

// Persistence is write-behind: the in-memory markets are authoritative and
// storage failures are retried in the background without blocking trading.

func tokenModel(token market.Token) *models.Token {
	return &models.Token{
		TokenID:        token.ID,
		CreatorID:      token.CreatorID,
		Symbol:         token.Symbol,
		MintReference:  token.MintReference,
		Supply:         token.Supply.String(),
		MarketCap:      token.MarketCap.String(),
		Graduated:      token.Graduated,
		GraduationDate: token.GraduationDate,
		Active:         token.Active,
	}
}

func tradeModel(trade market.Trade) *models.Trade {
	return &models.Trade{
		TradeID:       trade.ID,
		TokenID:       trade.TokenID,
		AccountID:     trade.AccountID,
		Direction:     string(trade.Direction),
		InputAmount:   trade.InputAmount.String(),
		OutputAmount:  trade.OutputAmount.String(),
		Price:         trade.Price.String(),
		Fee:           trade.Fee.String(),
		SettlementRef: trade.SettlementRef,
		SupplyAfter:   trade.SupplyAfter.String(),
		ExecutedAt:    trade.Timestamp,
	}
}

func poolModel(tokenID string, pool *amm.Pool) *models.LiquidityPool {
	reserveToken, reserveBase := pool.Reserves()
	return &models.LiquidityPool{
		TokenID:      tokenID,
		ReserveToken: reserveToken.String(),
		ReserveBase:  reserveBase.String(),
		TotalLP:      pool.TotalLP().String(),
	}
}

func (s *Service) persistNewToken(token market.Token) {
	if s.store == nil {
		return
	}
	record := tokenModel(token)
	s.retry.Go("save_token_"+token.ID, func(ctx context.Context) error {
		return s.store.SaveToken(ctx, record)
	})
}

func (s *Service) persistTrade(trade market.Trade, token market.Token) {
	if s.store == nil {
		return
	}
	tradeRecord := tradeModel(trade)
	tokenRecord := tokenModel(token)
	s.retry.Go("save_trade_"+trade.ID, func(ctx context.Context) error {
		if err := s.store.SaveTrade(ctx, tradeRecord); err != nil {
			return err
		}
		return s.store.UpdateToken(ctx, tokenRecord)
	})
}

func (s *Service) persistGraduation(token market.Token, result *graduation.Result) {
	if s.store == nil {
		return
	}
	tokenRecord := tokenModel(token)
	poolRecord := poolModel(token.ID, result.Pool)
	s.retry.Go("save_graduation_"+token.ID, func(ctx context.Context) error {
		if err := s.store.UpdateToken(ctx, tokenRecord); err != nil {
			return err
		}
		return s.store.SavePool(ctx, poolRecord)
	})
}

func (s *Service) persistPool(tokenID string, pool *amm.Pool) {
	if s.store == nil {
		return
	}
	record := poolModel(tokenID, pool)
	s.retry.Go("update_pool_"+tokenID, func(ctx context.Context) error {
		return s.store.UpdatePool(ctx, record)
	})
}
