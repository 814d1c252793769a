package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, "journal_dir: /tmp/journal\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultBasePrice, cfg.BasePrice)
	assert.Equal(t, DefaultCurveScale, cfg.CurveScale)
	assert.Equal(t, int64(DefaultCurveFeeBps), cfg.CurveFee)
	assert.Equal(t, int64(DefaultPoolFeeBps), cfg.PoolFee)
	assert.Equal(t, DefaultGraduationThreshold, cfg.GraduationThreshold)
	assert.Equal(t, int64(3000), cfg.BuybackShare)
	assert.Equal(t, int64(4000), cfg.TreasuryShare)
	assert.Equal(t, int64(3000), cfg.CreatorShare)
	assert.Equal(t, DefaultLockWaitMs, cfg.LockWaitMs)
	assert.Equal(t, "/tmp/journal", cfg.JournalDir)
}

func TestLoadConfig_SharesMustSum(t *testing.T) {
	path := writeConfig(t, "buyback_share_bps: 5000\ntreasury_share_bps: 4000\ncreator_share_bps: 3000\n")

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fee shares")
}

func TestLoadConfig_InvalidCurveParams(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero base price", "base_price: \"0\"\n"},
		{"negative scale", "curve_scale: \"-1\"\n"},
		{"garbage threshold", "graduation_threshold: \"not-a-number\"\n"},
		{"fee over 100 percent", "curve_fee_bps: 10000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_EnvOverridesPostgresURL(t *testing.T) {
	t.Setenv("TOKEN_ENGINE_POSTGRES_URL", "postgres://env-host/engine")

	cfg, err := LoadConfig(writeConfig(t, "postgres_url: postgres://file-host/engine\n"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://env-host/engine", cfg.PostgresURL)
}
