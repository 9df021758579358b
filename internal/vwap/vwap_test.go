package vwap_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/settlement-arbitrage/internal/data"
	"github.com/atlas-desktop/settlement-arbitrage/internal/vwap"
	"github.com/atlas-desktop/settlement-arbitrage/pkg/marketdata"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// zeroPriceProvider stubs marketdata.Provider, reporting a settlement
// price of zero as available so GetSettlementPrice's zero-value fallback
// can be exercised.
type zeroPriceProvider struct{}

func (zeroPriceProvider) GetMinuteBars(ctx context.Context, symbol string, period, count int, startDate string) ([]marketdata.Bar, error) {
	return nil, nil
}
func (zeroPriceProvider) GetRealtimeQuote(ctx context.Context, symbol string) (marketdata.Quote, bool, error) {
	return marketdata.Quote{}, false, nil
}
func (zeroPriceProvider) GetSettlementPrice(ctx context.Context, symbol, date string) (decimal.Decimal, bool, error) {
	return decimal.Zero, true, nil
}
func (zeroPriceProvider) IsTradingTime(now time.Time) bool { return true }
func (zeroPriceProvider) IsWatchPeriod(now time.Time) bool { return true }
func (zeroPriceProvider) IsTradingDay(ctx context.Context, day time.Time) (bool, error) {
	return true, nil
}
func (zeroPriceProvider) GetKline(ctx context.Context, symbol string, timeframe marketdata.Timeframe, limit int, beforeTime time.Time) ([]marketdata.Bar, error) {
	return nil, nil
}

func bar(hour, minute int, close, volume float64) data.MinuteBar {
	ts := time.Date(2026, 1, 5, hour, minute, 0, 0, time.UTC)
	return data.MinuteBar{
		Timestamp: ts,
		Open:      decimal.NewFromFloat(close),
		High:      decimal.NewFromFloat(close),
		Low:       decimal.NewFromFloat(close),
		Close:     decimal.NewFromFloat(close),
		Volume:    decimal.NewFromFloat(volume),
	}
}

func TestCalculateVWAPWeightsByVolume(t *testing.T) {
	c := vwap.NewCalculator(zap.NewNop(), nil, nil)
	bars := []data.MinuteBar{
		bar(14, 0, 100, 10),
		bar(14, 30, 110, 30),
		bar(13, 59, 500, 1000), // outside window, must be ignored
	}
	got, ok := c.CalculateVWAP(bars, 0, 0)
	require.True(t, ok)
	want := decimal.NewFromFloat(100).Mul(decimal.NewFromInt(10)).Add(decimal.NewFromFloat(110).Mul(decimal.NewFromInt(30))).Div(decimal.NewFromInt(40)).Round(2)
	assert.True(t, got.Equal(want), "VWAP = %s, want %s", got, want)
}

func TestCalculateVWAPZeroVolumeFallsBackToMean(t *testing.T) {
	c := vwap.NewCalculator(zap.NewNop(), nil, nil)
	bars := []data.MinuteBar{bar(14, 0, 100, 0), bar(14, 5, 200, 0)}
	got, ok := c.CalculateVWAP(bars, 0, 0)
	require.True(t, ok)
	assert.True(t, got.Equal(decimal.NewFromInt(150)), "VWAP = %s, want 150", got)
}

func TestCalculateVWAPNoBarsInWindow(t *testing.T) {
	c := vwap.NewCalculator(zap.NewNop(), nil, nil)
	bars := []data.MinuteBar{bar(9, 30, 100, 10)}
	_, ok := c.CalculateVWAP(bars, 0, 0)
	assert.False(t, ok, "expected ok=false when no bar falls in the window")
}

func TestUpdateRealtimeAccumulates(t *testing.T) {
	c := vwap.NewCalculator(zap.NewNop(), nil, nil)
	c.UpdateRealtime("IC2601", decimal.NewFromInt(100), decimal.NewFromInt(10))
	got := c.UpdateRealtime("IC2601", decimal.NewFromInt(200), decimal.NewFromInt(30))
	want := decimal.NewFromInt(100).Mul(decimal.NewFromInt(10)).Add(decimal.NewFromInt(200).Mul(decimal.NewFromInt(30))).Div(decimal.NewFromInt(40)).Round(2)
	assert.True(t, got.Equal(want), "running VWAP = %s, want %s", got, want)

	snap, ok := c.GetRealtimeVWAP("IC2601")
	require.True(t, ok)
	assert.True(t, snap.Equal(want), "GetRealtimeVWAP = %s, want %s", snap, want)
}

func TestResetRealtimeClearsSymbol(t *testing.T) {
	c := vwap.NewCalculator(zap.NewNop(), nil, nil)
	c.UpdateRealtime("IC2601", decimal.NewFromInt(100), decimal.NewFromInt(10))
	c.ResetRealtime("IC2601")
	_, ok := c.GetRealtimeVWAP("IC2601")
	assert.False(t, ok, "expected state to be cleared")
}

func TestGetSettlementPriceMemoizes(t *testing.T) {
	c := vwap.NewCalculator(zap.NewNop(), nil, nil)
	bars := []data.MinuteBar{bar(14, 30, 100, 10)}

	price, ok, err := c.GetSettlementPrice(context.Background(), "IC2601", "2026-01-05", bars)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromInt(100)), "price = %s, want 100", price)

	cached, ok, err := c.GetSettlementPrice(context.Background(), "IC2601", "2026-01-05", nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, cached.Equal(price), "expected memoized price %s, got %s", price, cached)
}

func TestGetSettlementPriceTreatsZeroProviderPriceAsMiss(t *testing.T) {
	c := vwap.NewCalculator(zap.NewNop(), zeroPriceProvider{}, nil)
	bars := []data.MinuteBar{bar(14, 30, 100, 10)}

	price, ok, err := c.GetSettlementPrice(context.Background(), "IC2601", "2026-01-05", bars)
	require.NoError(t, err)
	require.True(t, ok, "expected fallback to the VWAP computation")
	assert.True(t, price.Equal(decimal.NewFromInt(100)), "price = %s, want VWAP fallback of 100", price)
}

func TestClearCacheResetsRealtimeAccumulators(t *testing.T) {
	c := vwap.NewCalculator(zap.NewNop(), nil, nil)
	c.UpdateRealtime("IC2601", decimal.NewFromInt(100), decimal.NewFromInt(10))

	bars := []data.MinuteBar{bar(14, 30, 100, 10)}
	_, _, err := c.GetSettlementPrice(context.Background(), "IC2601", "2026-01-05", bars)
	require.NoError(t, err)

	c.ClearCache()

	_, ok := c.GetRealtimeVWAP("IC2601")
	assert.False(t, ok, "expected ClearCache to reset real-time state, not just the settlement cache")
}

func TestCalculatePriceVsSettlementZeroSettlement(t *testing.T) {
	res := vwap.CalculatePriceVsSettlement(decimal.NewFromInt(100), decimal.Zero)
	assert.True(t, res.Deviation.Equal(decimal.NewFromInt(100)), "deviation = %s, want 100", res.Deviation)
	assert.True(t, res.DeviationPct.IsZero(), "deviationPct = %s, want 0 to avoid divide-by-zero", res.DeviationPct)
}
