// Package postgres is the gorm-backed Storage implementation.
package postgres

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/rovshanmuradov/token-engine/internal/storage"
	"github.com/rovshanmuradov/token-engine/internal/storage/models"
)

// gormLogger bridges gorm's logger.Interface onto zap.
type gormLogger struct {
	zapLogger *zap.Logger
	logLevel  logger.LogLevel
}

func newGormLogger(zapLogger *zap.Logger) logger.Interface {
	return &gormLogger{zapLogger: zapLogger, logLevel: logger.Warn}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		l.zapLogger.Sugar().Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.zapLogger.Sugar().Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		l.zapLogger.Sugar().Errorf(msg, data...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}
	if err != nil {
		l.zapLogger.Error("trace", append(fields, zap.Error(err))...)
		return
	}
	if l.logLevel >= logger.Info {
		l.zapLogger.Info("trace", fields...)
	}
}

type postgresStorage struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStorage connects to postgres and returns a Storage.
func NewStorage(dsn string, zapLogger *zap.Logger) (storage.Storage, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: newGormLogger(zapLogger.Named("gorm")),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &postgresStorage{db: db, logger: zapLogger}, nil
}

func (p *postgresStorage) RunMigrations() error {
	var lockObtained bool
	if err := p.db.Raw("SELECT pg_try_advisory_lock(102)").Scan(&lockObtained).Error; err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !lockObtained {
		return fmt.Errorf("another migration is in progress")
	}
	defer p.db.Exec("SELECT pg_advisory_unlock(102)")

	if err := p.db.AutoMigrate(
		&models.Token{},
		&models.Trade{},
		&models.LiquidityPool{},
		&models.PlatformMetric{},
	); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (p *postgresStorage) SaveToken(ctx context.Context, token *models.Token) error {
	return p.db.WithContext(ctx).Create(token).Error
}

func (p *postgresStorage) UpdateToken(ctx context.Context, token *models.Token) error {
	return p.db.WithContext(ctx).Model(&models.Token{}).
		Where("token_id = ?", token.TokenID).
		Updates(map[string]interface{}{
			"supply":          token.Supply,
			"market_cap":      token.MarketCap,
			"graduated":       token.Graduated,
			"graduation_date": token.GraduationDate,
			"active":          token.Active,
		}).Error
}

func (p *postgresStorage) GetToken(ctx context.Context, tokenID string) (*models.Token, error) {
	var token models.Token
	if err := p.db.WithContext(ctx).Where("token_id = ?", tokenID).First(&token).Error; err != nil {
		return nil, err
	}
	return &token, nil
}

func (p *postgresStorage) SaveTrade(ctx context.Context, trade *models.Trade) error {
	return p.db.WithContext(ctx).Create(trade).Error
}

func (p *postgresStorage) ListTrades(ctx context.Context, tokenID string, limit, offset int) ([]*models.Trade, error) {
	var trades []*models.Trade
	err := p.db.WithContext(ctx).
		Where("token_id = ?", tokenID).
		Order("executed_at asc").
		Limit(limit).
		Offset(offset).
		Find(&trades).Error
	return trades, err
}

func (p *postgresStorage) SavePool(ctx context.Context, pool *models.LiquidityPool) error {
	return p.db.WithContext(ctx).Create(pool).Error
}

func (p *postgresStorage) UpdatePool(ctx context.Context, pool *models.LiquidityPool) error {
	return p.db.WithContext(ctx).Model(&models.LiquidityPool{}).
		Where("token_id = ?", pool.TokenID).
		Updates(map[string]interface{}{
			"reserve_token": pool.ReserveToken,
			"reserve_base":  pool.ReserveBase,
			"total_lp":      pool.TotalLP,
		}).Error
}

func (p *postgresStorage) GetPool(ctx context.Context, tokenID string) (*models.LiquidityPool, error) {
	var pool models.LiquidityPool
	if err := p.db.WithContext(ctx).Where("token_id = ?", tokenID).First(&pool).Error; err != nil {
		return nil, err
	}
	return &pool, nil
}

// IncrementMetric upserts the daily bucket and adds delta to one counter
// column in a single statement, so concurrent fee events never lose updates.
func (p *postgresStorage) IncrementMetric(ctx context.Context, date string, column string, delta string) error {
	row := &models.PlatformMetric{
		Date:           date,
		FeesCollected:  "0",
		TokensBurned:   "0",
		TradingVolume:  "0",
		CreatorRewards: "0",
	}
	switch column {
	case "fees_collected":
		row.FeesCollected = delta
	case "tokens_burned":
		row.TokensBurned = delta
	case "trading_volume":
		row.TradingVolume = delta
	case "creator_rewards":
		row.CreatorRewards = delta
	default:
		return fmt.Errorf("unknown metric column %q", column)
	}
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			column: gorm.Expr(fmt.Sprintf("platform_metrics.%s + ?", column), delta),
		}),
	}).Create(row).Error
}

func (p *postgresStorage) GetMetric(ctx context.Context, date string) (*models.PlatformMetric, error) {
	var metric models.PlatformMetric
	if err := p.db.WithContext(ctx).Where("date = ?", date).First(&metric).Error; err != nil {
		return nil, err
	}
	return &metric, nil
}
