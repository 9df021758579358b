package config_test

import (
	"testing"

	"github.com/atlas-desktop/settlement-arbitrage/internal/config"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigsValidate(t *testing.T) {
	assert.NoError(t, config.DefaultStrategyConfig().Validate())
	assert.NoError(t, config.DefaultRiskConfig().Validate())
	assert.NoError(t, config.DefaultEngineConfig().Validate())
}

func TestStrategyConfigRejectsNonPositiveThresholds(t *testing.T) {
	cfg := config.DefaultStrategyConfig()
	cfg.Threshold1 = decimal.Zero
	assert.Error(t, cfg.Validate(), "expected an error for a zero threshold1")
}

func TestStrategyConfigRequiresThreshold2AboveThreshold1(t *testing.T) {
	cfg := config.DefaultStrategyConfig()
	cfg.Threshold1 = decimal.NewFromFloat(0.02)
	cfg.Threshold2 = decimal.NewFromFloat(0.02)
	assert.Error(t, cfg.Validate(), "expected an error when threshold2 does not exceed threshold1")
}

func TestStrategyConfigRequiresAlertBelowThreshold1(t *testing.T) {
	cfg := config.DefaultStrategyConfig()
	cfg.AlertThreshold = cfg.Threshold1
	assert.Error(t, cfg.Validate(), "expected an error when alertThreshold is not below threshold1")
}

func TestRiskConfigRejectsDrawdownOutOfRange(t *testing.T) {
	cfg := config.DefaultRiskConfig()
	cfg.MaxDrawdown = decimal.NewFromFloat(1.5)
	assert.Error(t, cfg.Validate(), "expected an error for a drawdown above 1.0")
}

func TestRiskConfigRejectsNonPositiveMaxTotalPosition(t *testing.T) {
	cfg := config.DefaultRiskConfig()
	cfg.MaxTotalPosition = 0
	assert.Error(t, cfg.Validate(), "expected an error for a non-positive maxTotalPosition")
}

func TestLoadWithoutConfigFileFallsBackToDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Strategy.Symbols, "expected default symbols to be populated")
	assert.True(t, cfg.Strategy.Threshold1.Equal(decimal.NewFromFloat(0.01)), "threshold1 = %s, want default 0.01", cfg.Strategy.Threshold1)
}

func TestLoadWithNonexistentExplicitPathErrors(t *testing.T) {
	// Load("") is the "no config file requested" path and falls back to
	// defaults; an explicit path that does not exist on disk is an error,
	// since the caller asked for a specific file.
	_, err := config.Load("/nonexistent/path/settlearb.yaml")
	assert.Error(t, err, "expected an error for a nonexistent explicit config path")
}
