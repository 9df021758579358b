package data

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atlas-desktop/settlement-arbitrage/internal/metrics"
	"github.com/atlas-desktop/settlement-arbitrage/pkg/marketdata"
	"github.com/atlas-desktop/settlement-arbitrage/pkg/product"
	"go.uber.org/zap"
)

const defaultPollInterval = 60 * time.Second
const defaultMaxAge = 30 * 24 * time.Hour
const defaultHistoryLookback = 10

// MinuteDataHandler subscribes symbols, cooperatively polls a provider for
// fresh minute bars, caches them in memory, fires registered callbacks for
// each newly observed bar, and persists each trading day's bars to a Store.
type MinuteDataHandler struct {
	logger   *zap.Logger
	provider marketdata.Provider
	store    *Store
	metrics  *metrics.Metrics
	clock    func() time.Time

	mu            sync.RWMutex
	subscriptions map[string]bool
	cache         map[string][]MinuteBar
	lastBarTime   map[string]time.Time

	callbacksMu sync.RWMutex
	callbacks   []func(MinuteBar)

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewMinuteDataHandler constructs a handler backed by provider and store.
// metrics may be nil.
func NewMinuteDataHandler(logger *zap.Logger, provider marketdata.Provider, store *Store, m *metrics.Metrics) *MinuteDataHandler {
	return &MinuteDataHandler{
		logger:        logger.Named("data"),
		provider:      provider,
		store:         store,
		metrics:       m,
		clock:         time.Now,
		subscriptions: make(map[string]bool),
		cache:         make(map[string][]MinuteBar),
		lastBarTime:   make(map[string]time.Time),
	}
}

// Subscribe adds symbol to the polled set and warm-loads today's
// persisted snapshot, if one exists, seeding the in-memory cache and the
// new-bar watermark so a restart does not look like a fresh trading day.
func (h *MinuteDataHandler) Subscribe(symbol string) {
	h.mu.Lock()
	h.subscriptions[symbol] = true
	h.mu.Unlock()

	date := h.clock().Format("2006-01-02")
	bars, err := h.store.LoadDay(product.CodeOf(symbol), date)
	if err != nil {
		h.logger.Warn("warm-load snapshot failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	if len(bars) == 0 {
		return
	}

	h.mu.Lock()
	h.cache[symbol] = bars
	h.lastBarTime[symbol] = bars[len(bars)-1].Timestamp
	h.mu.Unlock()
	h.logger.Info("warm-loaded snapshot", zap.String("symbol", symbol), zap.Int("bars", len(bars)))
}

// Unsubscribe removes symbol from the polled set.
func (h *MinuteDataHandler) Unsubscribe(symbol string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscriptions, symbol)
}

// OnBar registers a callback invoked for every newly observed bar. Panics
// inside fn are recovered and logged so one bad callback cannot take down
// the polling loop.
func (h *MinuteDataHandler) OnBar(fn func(MinuteBar)) {
	h.callbacksMu.Lock()
	defer h.callbacksMu.Unlock()
	h.callbacks = append(h.callbacks, fn)
}

// IsRunning reports whether the polling loop is active.
func (h *MinuteDataHandler) IsRunning() bool {
	return h.running.Load()
}

// StartPolling begins the background polling loop at interval (defaulting
// to one minute when interval <= 0). Idempotent: a second call while
// already running is a no-op.
func (h *MinuteDataHandler) StartPolling(ctx context.Context, interval time.Duration) {
	if h.running.Load() {
		return
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}

	loopCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.running.Store(true)

	h.wg.Add(1)
	go h.pollingLoop(loopCtx, interval)
	h.logger.Info("polling started", zap.Duration("interval", interval))
}

// Stop halts the polling loop and waits for it to exit.
func (h *MinuteDataHandler) Stop() {
	if !h.running.Load() {
		return
	}
	h.running.Store(false)
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
	h.logger.Info("polling stopped")
}

func (h *MinuteDataHandler) pollingLoop(ctx context.Context, interval time.Duration) {
	defer h.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.fetchAndProcess(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.fetchAndProcess(ctx)
		}
	}
}

func (h *MinuteDataHandler) fetchAndProcess(ctx context.Context) {
	h.mu.RLock()
	symbols := make([]string, 0, len(h.subscriptions))
	for s := range h.subscriptions {
		symbols = append(symbols, s)
	}
	h.mu.RUnlock()

	for _, symbol := range symbols {
		bars, err := h.provider.GetMinuteBars(ctx, symbol, 1, defaultHistoryLookback, "")
		if err != nil {
			h.logger.Warn("fetch minute bars failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		fresh := h.extractNewBars(symbol, toMinuteBars(bars))
		if len(fresh) == 0 {
			continue
		}
		h.updateCache(symbol, fresh)
		for _, bar := range fresh {
			if h.metrics != nil {
				h.metrics.BarsProcessed.WithLabelValues(symbol).Inc()
			}
			h.fireCallbacks(bar)
		}
	}
}

func toMinuteBars(bars []marketdata.Bar) []MinuteBar {
	out := make([]MinuteBar, len(bars))
	for i, b := range bars {
		out[i] = MinuteBar{
			Symbol:    b.Symbol,
			Timestamp: b.Timestamp,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
			Amount:    b.Amount,
		}
	}
	return out
}

// extractNewBars filters bars to those strictly after the last observed
// timestamp for symbol, and advances that watermark.
func (h *MinuteDataHandler) extractNewBars(symbol string, bars []MinuteBar) []MinuteBar {
	h.mu.Lock()
	defer h.mu.Unlock()

	last := h.lastBarTime[symbol]
	var fresh []MinuteBar
	for _, bar := range bars {
		if bar.Timestamp.After(last) {
			fresh = append(fresh, bar)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Timestamp.Before(fresh[j].Timestamp) })
	h.lastBarTime[symbol] = fresh[len(fresh)-1].Timestamp
	return fresh
}

func (h *MinuteDataHandler) fireCallbacks(bar MinuteBar) {
	h.callbacksMu.RLock()
	callbacks := make([]func(MinuteBar), len(h.callbacks))
	copy(callbacks, h.callbacks)
	h.callbacksMu.RUnlock()

	for _, fn := range callbacks {
		h.safeInvoke(fn, bar)
	}
}

func (h *MinuteDataHandler) safeInvoke(fn func(MinuteBar), bar MinuteBar) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("bar callback panicked", zap.Any("recover", r), zap.String("symbol", bar.Symbol))
		}
	}()
	fn(bar)
}

// updateCache appends fresh bars to the in-memory cache for symbol,
// keeping it sorted and deduplicated by timestamp.
func (h *MinuteDataHandler) updateCache(symbol string, fresh []MinuteBar) {
	h.mu.Lock()
	defer h.mu.Unlock()

	merged := append(h.cache[symbol], fresh...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp.Before(merged[j].Timestamp) })

	deduped := merged[:0]
	var prev time.Time
	for i, bar := range merged {
		if i > 0 && bar.Timestamp.Equal(prev) {
			deduped[len(deduped)-1] = bar
			continue
		}
		deduped = append(deduped, bar)
		prev = bar.Timestamp
	}
	h.cache[symbol] = deduped
}

// GetCachedBars returns a copy of the in-memory bar cache for symbol.
func (h *MinuteDataHandler) GetCachedBars(symbol string) []MinuteBar {
	h.mu.RLock()
	defer h.mu.RUnlock()
	bars := h.cache[symbol]
	out := make([]MinuteBar, len(bars))
	copy(out, bars)
	return out
}

// GetLatestPrice returns the most recent cached bar for symbol.
func (h *MinuteDataHandler) GetLatestPrice(symbol string) (MinuteBar, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	bars := h.cache[symbol]
	if len(bars) == 0 {
		return MinuteBar{}, false
	}
	return bars[len(bars)-1], true
}

// GetPriceAtTime returns the cached bar whose timestamp is the closest
// one not after t, or ok == false if none qualifies.
func (h *MinuteDataHandler) GetPriceAtTime(symbol string, t time.Time) (MinuteBar, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	bars := h.cache[symbol]

	var best MinuteBar
	found := false
	for _, bar := range bars {
		if bar.Timestamp.After(t) {
			break
		}
		best = bar
		found = true
	}
	return best, found
}

// FetchHistoricalBars fetches count historical minute bars for symbol
// starting at startDate directly from the provider, bypassing the cache.
func (h *MinuteDataHandler) FetchHistoricalBars(ctx context.Context, symbol string, count int, startDate string) ([]MinuteBar, error) {
	bars, err := h.provider.GetMinuteBars(ctx, symbol, 1, count, startDate)
	if err != nil {
		return nil, fmt.Errorf("data: fetch historical bars: %w", err)
	}
	return toMinuteBars(bars), nil
}

// SaveAllAndCleanup persists the current cache for every cached symbol
// (including ones unsubscribed since their bars were cached) to the Store under date (YYYY-MM-DD) and deletes snapshots older than
// the standard retention window.
func (h *MinuteDataHandler) SaveAllAndCleanup(now time.Time, date string) error {
	h.mu.RLock()
	snapshot := make(map[string][]MinuteBar, len(h.cache))
	for symbol, bars := range h.cache {
		copied := make([]MinuteBar, len(bars))
		copy(copied, bars)
		snapshot[symbol] = copied
	}
	h.mu.RUnlock()

	for symbol, bars := range snapshot {
		if len(bars) == 0 {
			continue
		}
		code := product.CodeOf(symbol)
		if err := h.store.SaveDay(code, date, bars); err != nil {
			h.logger.Error("save day snapshot failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
	}
	return h.store.CleanupOlderThan(now, defaultMaxAge)
}
