package data_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/atlas-desktop/settlement-arbitrage/internal/data"
	"github.com/atlas-desktop/settlement-arbitrage/pkg/marketdata"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeMinuteProvider serves a fixed, possibly growing, minute-bar series
// from GetMinuteBars and stubs out every other Provider method.
type fakeMinuteProvider struct {
	mu   sync.Mutex
	bars []marketdata.Bar
}

func (f *fakeMinuteProvider) setBars(bars []marketdata.Bar) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bars = bars
}

func (f *fakeMinuteProvider) GetMinuteBars(ctx context.Context, symbol string, period, count int, startDate string) ([]marketdata.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]marketdata.Bar, len(f.bars))
	copy(out, f.bars)
	return out, nil
}
func (f *fakeMinuteProvider) GetRealtimeQuote(ctx context.Context, symbol string) (marketdata.Quote, bool, error) {
	return marketdata.Quote{}, false, nil
}
func (f *fakeMinuteProvider) GetSettlementPrice(ctx context.Context, symbol, date string) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}
func (f *fakeMinuteProvider) IsTradingTime(now time.Time) bool { return true }
func (f *fakeMinuteProvider) IsWatchPeriod(now time.Time) bool { return true }
func (f *fakeMinuteProvider) IsTradingDay(ctx context.Context, day time.Time) (bool, error) {
	return true, nil
}
func (f *fakeMinuteProvider) GetKline(ctx context.Context, symbol string, timeframe marketdata.Timeframe, limit int, beforeTime time.Time) ([]marketdata.Bar, error) {
	return nil, nil
}

func minuteBar(symbol string, minute int, close float64) marketdata.Bar {
	ts := time.Date(2026, 1, 5, 9, 30+minute, 0, 0, time.UTC)
	return marketdata.Bar{Symbol: symbol, Timestamp: ts, Close: decimal.NewFromFloat(close)}
}

func TestStartPollingFetchesImmediatelyAndFiresCallbacks(t *testing.T) {
	provider := &fakeMinuteProvider{bars: []marketdata.Bar{minuteBar("IC2601", 0, 5000), minuteBar("IC2601", 1, 5010)}}
	store, err := data.NewStore(t.TempDir())
	require.NoError(t, err)
	h := data.NewMinuteDataHandler(zap.NewNop(), provider, store, nil)
	h.Subscribe("IC2601")

	var mu sync.Mutex
	var seen []data.MinuteBar
	h.OnBar(func(b data.MinuteBar) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, b)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.StartPolling(ctx, time.Hour) // long interval: only the immediate fetch should fire
	defer h.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)

	cached := h.GetCachedBars("IC2601")
	assert.Len(t, cached, 2)
}

func TestGetLatestPriceReportsNoneBeforeAnyBars(t *testing.T) {
	provider := &fakeMinuteProvider{}
	store, err := data.NewStore(t.TempDir())
	require.NoError(t, err)
	h := data.NewMinuteDataHandler(zap.NewNop(), provider, store, nil)

	_, ok := h.GetLatestPrice("IC2601")
	assert.False(t, ok, "expected no cached price before any bars arrive")
}

func TestOnBarCallbackPanicDoesNotStopOtherCallbacks(t *testing.T) {
	provider := &fakeMinuteProvider{bars: []marketdata.Bar{minuteBar("IC2601", 0, 5000)}}
	store, err := data.NewStore(t.TempDir())
	require.NoError(t, err)
	h := data.NewMinuteDataHandler(zap.NewNop(), provider, store, nil)
	h.Subscribe("IC2601")

	var called atomicBool
	h.OnBar(func(b data.MinuteBar) { panic("boom") })
	h.OnBar(func(b data.MinuteBar) { called.set(true) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.StartPolling(ctx, time.Hour)
	defer h.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for !called.get() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.True(t, called.get(), "expected the second callback to still run after the first panicked")
}

type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (a *atomicBool) set(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.v = v
}

func (a *atomicBool) get() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.v
}

func TestSubscribeWarmLoadsTodaysPersistedSnapshot(t *testing.T) {
	store, err := data.NewStore(t.TempDir())
	require.NoError(t, err)

	today := time.Now().Format("2006-01-02")
	seeded := []data.MinuteBar{
		{Symbol: "IC2601", Timestamp: time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC), Close: decimal.NewFromInt(5000)},
		{Symbol: "IC2601", Timestamp: time.Date(2026, 1, 5, 9, 31, 0, 0, time.UTC), Close: decimal.NewFromInt(5010)},
	}
	require.NoError(t, store.SaveDay("IC", today, seeded))

	provider := &fakeMinuteProvider{}
	h := data.NewMinuteDataHandler(zap.NewNop(), provider, store, nil)

	h.Subscribe("IC2601")

	cached := h.GetCachedBars("IC2601")
	require.Len(t, cached, 2, "expected warm-load to seed the cache from the persisted snapshot")
	assert.True(t, cached[1].Close.Equal(decimal.NewFromInt(5010)))

	latest, ok := h.GetLatestPrice("IC2601")
	require.True(t, ok)
	assert.True(t, latest.Timestamp.Equal(seeded[1].Timestamp), "expected the latest price to be the last warm-loaded bar")
}

func TestSaveAllAndCleanupPersistsSubscribedSymbolCache(t *testing.T) {
	provider := &fakeMinuteProvider{bars: []marketdata.Bar{minuteBar("IC2601", 0, 5000)}}
	store, err := data.NewStore(t.TempDir())
	require.NoError(t, err)
	h := data.NewMinuteDataHandler(zap.NewNop(), provider, store, nil)
	h.Subscribe("IC2601")

	ctx, cancel := context.WithCancel(context.Background())
	h.StartPolling(ctx, time.Hour)

	deadline := time.Now().Add(2 * time.Second)
	for len(h.GetCachedBars("IC2601")) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	h.Stop()

	now := time.Date(2026, 1, 5, 16, 0, 0, 0, time.UTC)
	require.NoError(t, h.SaveAllAndCleanup(now, "2026-01-05"))

	loaded, err := store.LoadDay("IC", "2026-01-05")
	require.NoError(t, err)
	assert.NotEmpty(t, loaded, "expected the persisted snapshot to contain the cached bar")
}
