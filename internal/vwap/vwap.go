// Package vwap computes volume-weighted average prices for settlement
// estimation, both in batch over a bar window and incrementally in real
// time, and memoizes per-symbol/date settlement prices.
package vwap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/settlement-arbitrage/internal/data"
	"github.com/atlas-desktop/settlement-arbitrage/internal/metrics"
	"github.com/atlas-desktop/settlement-arbitrage/pkg/marketdata"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var defaultWindowStart = 14 * time.Hour
var defaultWindowEnd = 15 * time.Hour

type realtimeState struct {
	cumulativePV decimal.Decimal
	cumulativeV  decimal.Decimal
	barCount     int64
}

// Calculator computes VWAP over historical windows and accumulates a
// real-time running VWAP per symbol, memoizing settlement-price lookups.
type Calculator struct {
	logger   *zap.Logger
	provider marketdata.Provider
	metrics  *metrics.Metrics

	mu       sync.Mutex
	realtime map[string]*realtimeState

	settlementMu    sync.Mutex
	settlementCache map[string]decimal.Decimal
}

// NewCalculator constructs a Calculator. provider and metrics may both be
// used for settlement-price lookups and observability respectively;
// metrics may be nil.
func NewCalculator(logger *zap.Logger, provider marketdata.Provider, m *metrics.Metrics) *Calculator {
	return &Calculator{
		logger:          logger.Named("vwap"),
		provider:        provider,
		metrics:         m,
		realtime:        make(map[string]*realtimeState),
		settlementCache: make(map[string]decimal.Decimal),
	}
}

// CalculateVWAP computes the volume-weighted average close over bars
// whose time-of-day falls within [windowStart, windowEnd) (defaulting to
// 14:00-15:00). Falls back to a simple mean of closes when total volume
// is zero. Returns ok == false when no bar falls in the window.
func (c *Calculator) CalculateVWAP(bars []data.MinuteBar, windowStart, windowEnd time.Duration) (decimal.Decimal, bool) {
	if windowStart == 0 && windowEnd == 0 {
		windowStart, windowEnd = defaultWindowStart, defaultWindowEnd
	}

	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.VWAPCalcDuration.Observe(time.Since(start).Seconds())
		}
	}()

	var cumulativePV, cumulativeV, sumClose decimal.Decimal
	count := 0
	for _, bar := range bars {
		tod := timeOfDay(bar.Timestamp)
		if tod < windowStart || tod >= windowEnd {
			continue
		}
		cumulativePV = cumulativePV.Add(bar.Close.Mul(bar.Volume))
		cumulativeV = cumulativeV.Add(bar.Volume)
		sumClose = sumClose.Add(bar.Close)
		count++
	}
	if count == 0 {
		return decimal.Zero, false
	}
	if cumulativeV.IsZero() {
		return sumClose.Div(decimal.NewFromInt(int64(count))).Round(2), true
	}
	return cumulativePV.Div(cumulativeV).Round(2), true
}

// CalculateVWAPTypical is CalculateVWAP using the typical price
// (high+low+close)/3 in place of close.
func (c *Calculator) CalculateVWAPTypical(bars []data.MinuteBar, windowStart, windowEnd time.Duration) (decimal.Decimal, bool) {
	if windowStart == 0 && windowEnd == 0 {
		windowStart, windowEnd = defaultWindowStart, defaultWindowEnd
	}

	three := decimal.NewFromInt(3)
	var cumulativePV, cumulativeV, sumTypical decimal.Decimal
	count := 0
	for _, bar := range bars {
		tod := timeOfDay(bar.Timestamp)
		if tod < windowStart || tod >= windowEnd {
			continue
		}
		typical := bar.High.Add(bar.Low).Add(bar.Close).Div(three)
		cumulativePV = cumulativePV.Add(typical.Mul(bar.Volume))
		cumulativeV = cumulativeV.Add(bar.Volume)
		sumTypical = sumTypical.Add(typical)
		count++
	}
	if count == 0 {
		return decimal.Zero, false
	}
	if cumulativeV.IsZero() {
		return sumTypical.Div(decimal.NewFromInt(int64(count))).Round(2), true
	}
	return cumulativePV.Div(cumulativeV).Round(2), true
}

func timeOfDay(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
}

// ResetRealtime clears the incremental running VWAP for symbol, or for
// every symbol when symbol is empty.
func (c *Calculator) ResetRealtime(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if symbol == "" {
		c.realtime = make(map[string]*realtimeState)
		return
	}
	delete(c.realtime, symbol)
}

// UpdateRealtime folds one more observed (price, volume) tick into the
// running VWAP for symbol and returns the updated value, rounded to 2
// decimal places.
func (c *Calculator) UpdateRealtime(symbol string, price, volume decimal.Decimal) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.realtime[symbol]
	if !ok {
		st = &realtimeState{}
		c.realtime[symbol] = st
	}
	st.cumulativePV = st.cumulativePV.Add(price.Mul(volume))
	st.cumulativeV = st.cumulativeV.Add(volume)
	st.barCount++

	if st.cumulativeV.IsZero() {
		return st.cumulativePV.Div(decimal.NewFromInt(st.barCount)).Round(2)
	}
	return st.cumulativePV.Div(st.cumulativeV).Round(2)
}

// GetRealtimeVWAP returns the current running VWAP for symbol without
// mutating state.
func (c *Calculator) GetRealtimeVWAP(symbol string) (decimal.Decimal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.realtime[symbol]
	if !ok {
		return decimal.Zero, false
	}
	if st.cumulativeV.IsZero() {
		if st.barCount == 0 {
			return decimal.Zero, false
		}
		return st.cumulativePV.Div(decimal.NewFromInt(st.barCount)).Round(2), true
	}
	return st.cumulativePV.Div(st.cumulativeV).Round(2), true
}

// RealtimeStats is a snapshot of the running accumulators for a symbol.
type RealtimeStats struct {
	CumulativePV decimal.Decimal
	CumulativeV  decimal.Decimal
	BarCount     int64
}

// GetRealtimeStats returns the raw accumulators backing the running VWAP
// for symbol.
func (c *Calculator) GetRealtimeStats(symbol string) (RealtimeStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.realtime[symbol]
	if !ok {
		return RealtimeStats{}, false
	}
	return RealtimeStats{CumulativePV: st.cumulativePV, CumulativeV: st.cumulativeV, BarCount: st.barCount}, true
}

// GetSettlementPrice returns the settlement price for symbol on date,
// trying the provider's official figure first and falling back to the
// last-hour VWAP of dayBars. Results are memoized by (symbol, date).
func (c *Calculator) GetSettlementPrice(ctx context.Context, symbol, date string, dayBars []data.MinuteBar) (decimal.Decimal, bool, error) {
	cacheKey := symbol + "|" + date
	c.settlementMu.Lock()
	if cached, ok := c.settlementCache[cacheKey]; ok {
		c.settlementMu.Unlock()
		return cached, true, nil
	}
	c.settlementMu.Unlock()

	if c.provider != nil {
		price, ok, err := c.provider.GetSettlementPrice(ctx, symbol, date)
		if err != nil {
			return decimal.Zero, false, fmt.Errorf("vwap: provider settlement price: %w", err)
		}
		if ok && price.GreaterThan(decimal.Zero) {
			c.settlementMu.Lock()
			c.settlementCache[cacheKey] = price
			c.settlementMu.Unlock()
			return price, true, nil
		}
	}

	price, ok := c.CalculateVWAP(dayBars, 0, 0)
	if !ok {
		return decimal.Zero, false, nil
	}
	c.settlementMu.Lock()
	c.settlementCache[cacheKey] = price
	c.settlementMu.Unlock()
	return price, true, nil
}

// ClearCache empties the memoized settlement-price cache and resets every
// symbol's real-time accumulator.
func (c *Calculator) ClearCache() {
	c.settlementMu.Lock()
	c.settlementCache = make(map[string]decimal.Decimal)
	c.settlementMu.Unlock()

	c.mu.Lock()
	c.realtime = make(map[string]*realtimeState)
	c.mu.Unlock()
}

// PriceVsSettlement is the deviation of a current price from the
// settlement price, both in absolute points and as a fraction.
type PriceVsSettlement struct {
	Deviation    decimal.Decimal
	DeviationPct decimal.Decimal
}

// CalculatePriceVsSettlement computes the zero-safe deviation of current
// from settlement.
func CalculatePriceVsSettlement(current, settlement decimal.Decimal) PriceVsSettlement {
	deviation := current.Sub(settlement).Round(2)
	if settlement.IsZero() {
		return PriceVsSettlement{Deviation: deviation, DeviationPct: decimal.Zero}
	}
	pct := deviation.Div(settlement).Round(6)
	return PriceVsSettlement{Deviation: deviation, DeviationPct: pct}
}
