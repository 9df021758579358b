package backtest_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/settlement-arbitrage/internal/backtest"
	"github.com/atlas-desktop/settlement-arbitrage/internal/config"
	"github.com/atlas-desktop/settlement-arbitrage/pkg/marketdata"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeProvider serves a fixed daily-bar series and nothing else; every
// other method is a stub the backtest engine does not exercise unless
// UseMinuteData is set.
type fakeProvider struct {
	daily []marketdata.Bar
}

func (f fakeProvider) GetMinuteBars(ctx context.Context, symbol string, period, count int, startDate string) ([]marketdata.Bar, error) {
	return nil, nil
}
func (f fakeProvider) GetRealtimeQuote(ctx context.Context, symbol string) (marketdata.Quote, bool, error) {
	return marketdata.Quote{}, false, nil
}
func (f fakeProvider) GetSettlementPrice(ctx context.Context, symbol, date string) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}
func (f fakeProvider) IsTradingTime(now time.Time) bool { return true }
func (f fakeProvider) IsWatchPeriod(now time.Time) bool { return true }
func (f fakeProvider) IsTradingDay(ctx context.Context, day time.Time) (bool, error) {
	return true, nil
}
func (f fakeProvider) GetKline(ctx context.Context, symbol string, timeframe marketdata.Timeframe, limit int, beforeTime time.Time) ([]marketdata.Bar, error) {
	return f.daily, nil
}

func dailyBar(day int, close float64) marketdata.Bar {
	ts := time.Date(2026, 1, day, 0, 0, 0, 0, time.UTC)
	return marketdata.Bar{Timestamp: ts, Open: decimal.NewFromFloat(close), High: decimal.NewFromFloat(close), Low: decimal.NewFromFloat(close), Close: decimal.NewFromFloat(close)}
}

func testStrategyConfig() config.StrategyConfig {
	cfg := config.DefaultStrategyConfig()
	cfg.Symbols = []string{"IC2601"}
	return cfg
}

func TestRunEntersOnThreshold1DropAndClosesAtNextOpen(t *testing.T) {
	provider := fakeProvider{daily: []marketdata.Bar{
		dailyBar(2, 5000),
		dailyBar(5, 4950), // -1.0% drop from prior close, crosses threshold1
		dailyBar(6, 4980), // next day's open closes the pending entry
	}}
	engine := backtest.New(zap.NewNop(), provider, nil)
	btCfg := config.BacktestConfig{InitialCapital: decimal.NewFromInt(500000), UseMinuteData: false}

	report, err := engine.Run(context.Background(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), testStrategyConfig(), btCfg)
	require.NoError(t, err)
	require.Equal(t, 1, report.TotalTrades, "trades: %+v", report.Trades)

	trade := report.Trades[0]
	assert.Equal(t, 1, trade.Level)
	assert.True(t, trade.ExitPrice.Equal(decimal.NewFromInt(4980)), "exit price = %s, want the next day's open (4980)", trade.ExitPrice)
	wantGross := decimal.NewFromInt(4980).Sub(decimal.NewFromInt(4950)).Mul(decimal.NewFromInt(testStrategyConfig().PositionSize1)).Mul(decimal.NewFromInt(200))
	assert.True(t, trade.GrossPnL.Equal(wantGross), "grossPnL = %s, want %s", trade.GrossPnL, wantGross)
	assert.True(t, trade.NetPnL.Equal(trade.GrossPnL.Sub(trade.Fee)), "netPnL must equal grossPnL - fee")
}

func TestRunUpgradesToLevel2OnSameBar(t *testing.T) {
	provider := fakeProvider{daily: []marketdata.Bar{
		dailyBar(2, 5000),
		dailyBar(5, 4900), // -2.0% drop, crosses both threshold1 and threshold2 same bar
		dailyBar(6, 4950),
	}}
	engine := backtest.New(zap.NewNop(), provider, nil)
	btCfg := config.BacktestConfig{InitialCapital: decimal.NewFromInt(500000), UseMinuteData: false}
	cfg := testStrategyConfig()

	report, err := engine.Run(context.Background(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), cfg, btCfg)
	require.NoError(t, err)
	require.Equal(t, 1, report.TotalTrades)
	trade := report.Trades[0]
	assert.Equal(t, 2, trade.Level, "same-bar upgrade")
	assert.Equal(t, cfg.PositionSize1+cfg.PositionSize2, trade.Quantity)
}

func TestRunLiquidatesPendingEntryAtEndOfRange(t *testing.T) {
	provider := fakeProvider{daily: []marketdata.Bar{
		dailyBar(2, 5000),
		dailyBar(5, 4900), // entry, never followed by a closing day
	}}
	engine := backtest.New(zap.NewNop(), provider, nil)
	btCfg := config.BacktestConfig{InitialCapital: decimal.NewFromInt(500000), UseMinuteData: false}

	report, err := engine.Run(context.Background(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), testStrategyConfig(), btCfg)
	require.NoError(t, err)
	require.Equal(t, 1, report.TotalTrades, "expected the pending entry to liquidate at the last close")
	assert.True(t, report.Trades[0].ExitPrice.Equal(decimal.NewFromInt(4900)), "exit price = %s, want the last bar's close (4900)", report.Trades[0].ExitPrice)
}

func TestRunSkipsSymbolWithInsufficientData(t *testing.T) {
	provider := fakeProvider{daily: []marketdata.Bar{dailyBar(2, 5000)}}
	engine := backtest.New(zap.NewNop(), provider, nil)
	btCfg := config.BacktestConfig{InitialCapital: decimal.NewFromInt(500000)}

	report, err := engine.Run(context.Background(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), testStrategyConfig(), btCfg)
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalTrades, "expected no trades with a single daily bar")
}
