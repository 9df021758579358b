// Package config loads and validates the engine's runtime configuration.
// Values are sourced from a YAML file (if present) and overridden by
// SETTLEARB_-prefixed environment variables, via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// StrategyConfig controls signal generation (spec §4.3).
type StrategyConfig struct {
	Symbols               []string
	WatchStart            string
	WatchEnd              string
	Threshold1            decimal.Decimal
	Threshold2            decimal.Decimal
	AlertThreshold        decimal.Decimal
	PositionSize1         int64
	PositionSize2         int64
	MaxPositionPerSymbol  int64
	NotifyOnEntry         bool
	NotifyOnExit          bool
	NotifyOnAlert         bool
	NotifyDailyReport     bool
}

// Validate enforces the threshold ordering spec §4.3 requires.
func (c StrategyConfig) Validate() error {
	if c.Threshold1.LessThanOrEqual(decimal.Zero) || c.Threshold2.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("config: thresholds must be positive")
	}
	if c.Threshold2.LessThanOrEqual(c.Threshold1) {
		return fmt.Errorf("config: threshold2 must exceed threshold1")
	}
	if c.AlertThreshold.GreaterThanOrEqual(c.Threshold1) {
		return fmt.Errorf("config: alertThreshold must be below threshold1")
	}
	return nil
}

// DefaultStrategyConfig mirrors the original strategy's factory defaults.
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		Symbols:              []string{"IM0", "IC0"},
		WatchStart:           "14:30",
		WatchEnd:             "15:00",
		Threshold1:           decimal.NewFromFloat(0.01),
		Threshold2:           decimal.NewFromFloat(0.02),
		AlertThreshold:       decimal.NewFromFloat(0.008),
		PositionSize1:        1,
		PositionSize2:        1,
		MaxPositionPerSymbol: 2,
		NotifyOnEntry:        true,
		NotifyOnExit:         true,
		NotifyOnAlert:        true,
		NotifyDailyReport:    false,
	}
}

// RiskConfig controls risk limits and force-close behavior (spec §4.5).
type RiskConfig struct {
	MaxDailyLoss      decimal.Decimal
	MaxDrawdown       decimal.Decimal
	ForceCloseOnLimit bool
	MaxTotalPosition  int64
}

// Validate enforces RiskConfig sanity.
func (c RiskConfig) Validate() error {
	if c.MaxDailyLoss.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("config: maxDailyLoss must be positive")
	}
	if c.MaxDrawdown.LessThanOrEqual(decimal.Zero) || c.MaxDrawdown.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("config: maxDrawdown must be in (0, 1]")
	}
	if c.MaxTotalPosition <= 0 {
		return fmt.Errorf("config: maxTotalPosition must be positive")
	}
	return nil
}

// DefaultRiskConfig mirrors the original strategy's factory defaults.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxDailyLoss:      decimal.NewFromFloat(10000.0),
		MaxDrawdown:       decimal.NewFromFloat(0.05),
		ForceCloseOnLimit: true,
		MaxTotalPosition:  4,
	}
}

// BacktestConfig controls the day-level replay engine (spec §4.7).
type BacktestConfig struct {
	InitialCapital      decimal.Decimal
	UseDefaultCommission bool
	SlippagePoints      decimal.Decimal
	UseMinuteData       bool
}

// DefaultBacktestConfig mirrors the original strategy's factory defaults.
func DefaultBacktestConfig() BacktestConfig {
	return BacktestConfig{
		InitialCapital:       decimal.NewFromFloat(500000.0),
		UseDefaultCommission: true,
		SlippagePoints:       decimal.Zero,
		UseMinuteData:        true,
	}
}

// EngineConfig is the top-level composition-root configuration.
type EngineConfig struct {
	DataDir        string
	LogLevel       string
	MetricsAddr    string
	ShutdownTimeout time.Duration
	Strategy       StrategyConfig
	Risk           RiskConfig
	Backtest       BacktestConfig
}

// DefaultEngineConfig returns the baseline configuration used when no
// file or environment overrides are present.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DataDir:         "./data",
		LogLevel:        "info",
		MetricsAddr:     ":9090",
		ShutdownTimeout: 10 * time.Second,
		Strategy:        DefaultStrategyConfig(),
		Risk:            DefaultRiskConfig(),
		Backtest:        DefaultBacktestConfig(),
	}
}

// Validate validates every embedded sub-config.
func (c EngineConfig) Validate() error {
	if err := c.Strategy.Validate(); err != nil {
		return err
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	return nil
}

// Load reads configuration from path (when path is non-empty; a path that
// cannot be read is an error) layered over the defaults, with
// SETTLEARB_-prefixed environment variables taking final precedence.
func Load(path string) (EngineConfig, error) {
	def := DefaultEngineConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SETTLEARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("dataDir", def.DataDir)
	v.SetDefault("logLevel", def.LogLevel)
	v.SetDefault("metricsAddr", def.MetricsAddr)
	v.SetDefault("shutdownTimeout", def.ShutdownTimeout.String())
	v.SetDefault("strategy.symbols", def.Strategy.Symbols)
	v.SetDefault("strategy.watchStart", def.Strategy.WatchStart)
	v.SetDefault("strategy.watchEnd", def.Strategy.WatchEnd)
	v.SetDefault("strategy.threshold1", def.Strategy.Threshold1.String())
	v.SetDefault("strategy.threshold2", def.Strategy.Threshold2.String())
	v.SetDefault("strategy.alertThreshold", def.Strategy.AlertThreshold.String())
	v.SetDefault("strategy.positionSize1", def.Strategy.PositionSize1)
	v.SetDefault("strategy.positionSize2", def.Strategy.PositionSize2)
	v.SetDefault("strategy.maxPositionPerSymbol", def.Strategy.MaxPositionPerSymbol)
	v.SetDefault("strategy.notifyOnEntry", def.Strategy.NotifyOnEntry)
	v.SetDefault("strategy.notifyOnExit", def.Strategy.NotifyOnExit)
	v.SetDefault("strategy.notifyOnAlert", def.Strategy.NotifyOnAlert)
	v.SetDefault("strategy.notifyDailyReport", def.Strategy.NotifyDailyReport)
	v.SetDefault("risk.maxDailyLoss", def.Risk.MaxDailyLoss.String())
	v.SetDefault("risk.maxDrawdown", def.Risk.MaxDrawdown.String())
	v.SetDefault("risk.forceCloseOnLimit", def.Risk.ForceCloseOnLimit)
	v.SetDefault("risk.maxTotalPosition", def.Risk.MaxTotalPosition)
	v.SetDefault("backtest.initialCapital", def.Backtest.InitialCapital.String())
	v.SetDefault("backtest.useDefaultCommission", def.Backtest.UseDefaultCommission)
	v.SetDefault("backtest.slippagePoints", def.Backtest.SlippagePoints.String())
	v.SetDefault("backtest.useMinuteData", def.Backtest.UseMinuteData)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return EngineConfig{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	shutdownTimeout, err := time.ParseDuration(v.GetString("shutdownTimeout"))
	if err != nil {
		return EngineConfig{}, fmt.Errorf("config: shutdownTimeout: %w", err)
	}

	decimalOf := func(key string) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(v.GetString(key))
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("config: %s: %w", key, err)
		}
		return d, nil
	}

	t1, err := decimalOf("strategy.threshold1")
	if err != nil {
		return EngineConfig{}, err
	}
	t2, err := decimalOf("strategy.threshold2")
	if err != nil {
		return EngineConfig{}, err
	}
	alertT, err := decimalOf("strategy.alertThreshold")
	if err != nil {
		return EngineConfig{}, err
	}
	maxDailyLoss, err := decimalOf("risk.maxDailyLoss")
	if err != nil {
		return EngineConfig{}, err
	}
	maxDrawdown, err := decimalOf("risk.maxDrawdown")
	if err != nil {
		return EngineConfig{}, err
	}
	initialCapital, err := decimalOf("backtest.initialCapital")
	if err != nil {
		return EngineConfig{}, err
	}
	slippagePoints, err := decimalOf("backtest.slippagePoints")
	if err != nil {
		return EngineConfig{}, err
	}

	cfg := EngineConfig{
		DataDir:         v.GetString("dataDir"),
		LogLevel:        v.GetString("logLevel"),
		MetricsAddr:     v.GetString("metricsAddr"),
		ShutdownTimeout: shutdownTimeout,
		Strategy: StrategyConfig{
			Symbols:              v.GetStringSlice("strategy.symbols"),
			WatchStart:           v.GetString("strategy.watchStart"),
			WatchEnd:             v.GetString("strategy.watchEnd"),
			Threshold1:           t1,
			Threshold2:           t2,
			AlertThreshold:       alertT,
			PositionSize1:        v.GetInt64("strategy.positionSize1"),
			PositionSize2:        v.GetInt64("strategy.positionSize2"),
			MaxPositionPerSymbol: v.GetInt64("strategy.maxPositionPerSymbol"),
			NotifyOnEntry:        v.GetBool("strategy.notifyOnEntry"),
			NotifyOnExit:         v.GetBool("strategy.notifyOnExit"),
			NotifyOnAlert:        v.GetBool("strategy.notifyOnAlert"),
			NotifyDailyReport:    v.GetBool("strategy.notifyDailyReport"),
		},
		Risk: RiskConfig{
			MaxDailyLoss:      maxDailyLoss,
			MaxDrawdown:       maxDrawdown,
			ForceCloseOnLimit: v.GetBool("risk.forceCloseOnLimit"),
			MaxTotalPosition:  v.GetInt64("risk.maxTotalPosition"),
		},
		Backtest: BacktestConfig{
			InitialCapital:       initialCapital,
			UseDefaultCommission: v.GetBool("backtest.useDefaultCommission"),
			SlippagePoints:       slippagePoints,
			UseMinuteData:        v.GetBool("backtest.useMinuteData"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}
