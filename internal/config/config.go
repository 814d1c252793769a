// Package config loads the engine configuration. Curve, graduation and
// fee-split constants are product configuration, not code.
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"

	"github.com/rovshanmuradov/token-engine/internal/fixedpoint"
)

type Config struct {
	// Bonding curve
	BasePrice  string `mapstructure:"base_price"`
	CurveScale string `mapstructure:"curve_scale"`
	CurveFee   int64  `mapstructure:"curve_fee_bps"`

	// AMM pool
	PoolFee int64 `mapstructure:"pool_fee_bps"`

	// Graduation
	GraduationThreshold  string `mapstructure:"graduation_threshold"`
	SeedSupplyFraction   string `mapstructure:"seed_supply_fraction"`
	SeedProceedsFraction string `mapstructure:"seed_proceeds_fraction"`

	// Fee allocation (must sum to 10000)
	BuybackShare  int64 `mapstructure:"buyback_share_bps"`
	TreasuryShare int64 `mapstructure:"treasury_share_bps"`
	CreatorShare  int64 `mapstructure:"creator_share_bps"`

	// Concurrency
	LockWaitMs      int `mapstructure:"lock_wait_ms"`
	EventBufferSize int `mapstructure:"event_buffer_size"`

	// Retry queue for post-trade failures
	RetryMaxAttempts  int `mapstructure:"retry_max_attempts"`
	RetryInitialDelay int `mapstructure:"retry_initial_delay_ms"`

	// Persistence / observability
	JournalDir   string `mapstructure:"journal_dir"`
	PostgresURL  string `mapstructure:"postgres_url"`
	DebugLogging bool   `mapstructure:"debug_logging"`
	LogFile      string `mapstructure:"log_file"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
}

const (
	DefaultBasePrice            = "0.0001"
	DefaultCurveScale           = "1000000000"
	DefaultCurveFeeBps          = 100
	DefaultPoolFeeBps           = 50
	DefaultGraduationThreshold  = "69000"
	DefaultSeedSupplyFraction   = "0.2"
	DefaultSeedProceedsFraction = "0.8"
	DefaultLockWaitMs           = 500
	DefaultEventBufferSize      = 256
	DefaultRetryMaxAttempts     = 5
	DefaultRetryInitialDelayMs  = 200
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"base_price":             DefaultBasePrice,
		"curve_scale":            DefaultCurveScale,
		"curve_fee_bps":          DefaultCurveFeeBps,
		"pool_fee_bps":           DefaultPoolFeeBps,
		"graduation_threshold":   DefaultGraduationThreshold,
		"seed_supply_fraction":   DefaultSeedSupplyFraction,
		"seed_proceeds_fraction": DefaultSeedProceedsFraction,
		"buyback_share_bps":      3000,
		"treasury_share_bps":     4000,
		"creator_share_bps":      3000,
		"lock_wait_ms":           DefaultLockWaitMs,
		"event_buffer_size":      DefaultEventBufferSize,
		"retry_max_attempts":     DefaultRetryMaxAttempts,
		"retry_initial_delay_ms": DefaultRetryInitialDelayMs,
		"journal_dir":            "data/journal",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	loadEnvironmentVariables(v, &cfg)

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	for name, field := range map[string]string{
		"base_price":             cfg.BasePrice,
		"curve_scale":            cfg.CurveScale,
		"graduation_threshold":   cfg.GraduationThreshold,
		"seed_supply_fraction":   cfg.SeedSupplyFraction,
		"seed_proceeds_fraction": cfg.SeedProceedsFraction,
	} {
		val, err := fixedpoint.FromString(field)
		if err != nil {
			return errors.New("invalid " + name)
		}
		if !val.IsPositive() {
			return errors.New(name + " must be positive")
		}
	}
	if cfg.CurveFee < 0 || cfg.CurveFee >= 10000 {
		return errors.New("curve_fee_bps out of range")
	}
	if cfg.PoolFee < 0 || cfg.PoolFee >= 10000 {
		return errors.New("pool_fee_bps out of range")
	}
	if cfg.BuybackShare+cfg.TreasuryShare+cfg.CreatorShare != 10000 {
		return errors.New("fee shares must sum to 10000 bps")
	}
	if cfg.LockWaitMs <= 0 {
		return errors.New("invalid lock_wait_ms")
	}
	if cfg.EventBufferSize <= 0 {
		return errors.New("invalid event_buffer_size")
	}
	if cfg.RetryMaxAttempts < 0 {
		return errors.New("invalid retry_max_attempts")
	}
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) {
	v.AutomaticEnv()
	v.SetEnvPrefix("TOKEN_ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if dsn := v.GetString("POSTGRES_URL"); dsn != "" {
		cfg.PostgresURL = dsn
	}
}
